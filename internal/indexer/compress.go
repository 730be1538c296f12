package indexer

import (
	"fmt"
	"io"
	"os"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"

	"github.com/Ning0612/pkgsync/internal/domain"
)

// compressor wraps w in a compressing writer
type compressor struct {
	ext       string
	newWriter func(w io.Writer) (io.WriteCloser, error)
}

// APT clients pick whichever of these they support
var packagesCompressors = []compressor{
	{".gz", func(w io.Writer) (io.WriteCloser, error) {
		return gzip.NewWriterLevel(w, gzip.BestCompression)
	}},
	{".xz", func(w io.Writer) (io.WriteCloser, error) {
		return xz.NewWriter(w)
	}},
	{".bz2", func(w io.Writer) (io.WriteCloser, error) {
		return bzip2.NewWriter(w, &bzip2.WriterConfig{Level: bzip2.BestCompression})
	}},
}

// compressFile writes src+c.ext next to src
func compressFile(src string, c compressor) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", domain.ErrLocalIO, src, err)
	}
	defer in.Close()

	dst := src + c.ext
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("%w: create %s: %w", domain.ErrLocalIO, dst, err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w: close %s: %w", domain.ErrLocalIO, dst, cerr)
		}
	}()

	w, err := c.newWriter(out)
	if err != nil {
		return fmt.Errorf("%w: %s writer: %w", domain.ErrLocalIO, c.ext, err)
	}
	if _, err := io.Copy(w, in); err != nil {
		w.Close()
		return fmt.Errorf("%w: compress %s: %w", domain.ErrLocalIO, dst, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("%w: compress %s: %w", domain.ErrLocalIO, dst, err)
	}
	return nil
}
