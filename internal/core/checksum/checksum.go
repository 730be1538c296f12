package checksum

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/Ning0612/pkgsync/internal/domain"
)

// Options configures the hasher
type Options struct {
	// BufferSize: size of buffer for streaming reads
	// Default: 32KB
	BufferSize int
}

// DefaultOptions returns the recommended default options
func DefaultOptions() Options {
	return Options{
		BufferSize: 32 * 1024, // 32KB
	}
}

// Hasher computes the MD5 fingerprint that remote stores report for
// their objects, so local content can be compared without downloading.
type Hasher struct {
	opts Options
}

// NewHasher creates a new hasher with the given options
func NewHasher(opts Options) *Hasher {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultOptions().BufferSize
	}
	return &Hasher{opts: opts}
}

// NewDefaultHasher creates a hasher with default options
func NewDefaultHasher() *Hasher {
	return NewHasher(DefaultOptions())
}

// Hash streams reader through MD5 and returns the raw digest
func (h *Hasher) Hash(ctx context.Context, reader io.Reader) ([]byte, error) {
	digest := md5.New()
	buffer := make([]byte, h.opts.BufferSize)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		n, err := reader.Read(buffer)
		if n > 0 {
			// hash.Hash.Write never returns an error
			digest.Write(buffer[:n])
		}

		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read error: %w", err)
		}
	}

	return digest.Sum(nil), nil
}

// HashFile returns the MD5 digest of the file at path.
// A missing file yields an error matching fs.ErrNotExist; every other
// failure is wrapped in domain.ErrLocalIO.
func (h *Hasher) HashFile(ctx context.Context, path string) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: open %s: %w", domain.ErrLocalIO, path, err)
	}
	defer file.Close()

	sum, err := h.Hash(ctx, file)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: hash %s: %w", domain.ErrLocalIO, path, err)
	}
	return sum, nil
}

// Equal compares two digests byte by byte.
// A missing digest on either side is never equal to anything.
func Equal(a, b []byte) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	return bytes.Equal(a, b)
}

// Hex renders a digest for logging
func Hex(digest []byte) string {
	return hex.EncodeToString(digest)
}

// ParseHex decodes a hex MD5 as reported by S3 ETags and Drive md5Checksum.
// Anything that is not exactly 16 bytes of hex returns nil.
func ParseHex(s string) []byte {
	if len(s) != md5.Size*2 {
		return nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}
