package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/Ning0612/pkgsync/internal/core/checksum"
	"github.com/Ning0612/pkgsync/internal/domain"
)

const (
	// SnapshotDir holds snapshot copies, keyed by object key then snapshot ID
	SnapshotDir = ".snapshots"

	tempSuffix = ".pkgsync.tmp"
)

// Store is a directory on disk used as an object container
type Store struct {
	root   string
	hasher *checksum.Hasher
	now    func() time.Time
}

// New creates a store rooted at root, creating the directory if needed
func New(root string) (*Store, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %s: %w", domain.ErrRemoteIO, root, err)
	}

	if err := os.MkdirAll(absRoot, 0755); err != nil {
		return nil, wrap("create container", absRoot, err)
	}

	return &Store{
		root:   absRoot,
		hasher: checksum.NewDefaultHasher(),
		now:    time.Now,
	}, nil
}

// Name returns the container directory name
func (s *Store) Name() string {
	return filepath.Base(s.root)
}

// Root returns the container directory
func (s *Store) Root() string {
	return s.root
}

// resolvePath safely resolves a key to an absolute path within root.
// Returns an error if the key attempts to escape the root directory.
func (s *Store) resolvePath(key string) (string, error) {
	if key == "" || key == "." {
		return "", fmt.Errorf("%w: empty object key", domain.ErrPermissionDenied)
	}

	rel := filepath.Clean(filepath.FromSlash(key))
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: absolute object key %q", domain.ErrPermissionDenied, key)
	}

	fullPath := filepath.Join(s.root, rel)

	// filepath.Rel handles root="/data/repo" vs fullPath="/data/repo2"
	r, err := filepath.Rel(s.root, fullPath)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: object key %q escapes container", domain.ErrPermissionDenied, key)
	}

	return fullPath, nil
}

// ListObjects walks the container and returns every file whose key has prefix
func (s *Store) ListObjects(ctx context.Context, prefix string) ([]domain.RemoteObject, error) {
	var objects []domain.RemoteObject

	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)

		if d.IsDir() {
			if key == SnapshotDir {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || strings.HasSuffix(key, tempSuffix) {
			return nil
		}
		if !strings.HasPrefix(key, prefix) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		sum, err := s.hasher.HashFile(ctx, p)
		if err != nil {
			return err
		}

		objects = append(objects, domain.RemoteObject{
			Key:        key,
			ContentMD5: sum,
			Size:       info.Size(),
		})
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, wrap("list", prefix, err)
	}

	return objects, nil
}

// Download copies the object to localPath
func (s *Store) Download(ctx context.Context, key, localPath string) error {
	src, err := s.resolvePath(key)
	if err != nil {
		return wrap("download", key, err)
	}
	if err := copyFile(ctx, src, localPath); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return wrap("download", key, err)
	}
	return nil
}

// Upload copies localPath into the container, replacing any existing object
func (s *Store) Upload(ctx context.Context, localPath, key string) error {
	dst, err := s.resolvePath(key)
	if err != nil {
		return wrap("upload", key, err)
	}
	if err := copyFile(ctx, localPath, dst); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return wrap("upload", key, err)
	}
	return nil
}

// Delete removes the object and every snapshot taken of it
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fullPath, err := s.resolvePath(key)
	if err != nil {
		return wrap("delete", key, err)
	}
	if err := os.Remove(fullPath); err != nil {
		return wrap("delete", key, err)
	}

	snapshots := filepath.Join(s.root, SnapshotDir, filepath.FromSlash(key))
	if err := os.RemoveAll(snapshots); err != nil {
		return wrap("delete snapshots", key, err)
	}

	s.pruneEmptyDirs(filepath.Dir(fullPath))
	return nil
}

// Snapshot copies the object to .snapshots/<key>/<id>
func (s *Store) Snapshot(ctx context.Context, key string) (domain.Snapshot, error) {
	src, err := s.resolvePath(key)
	if err != nil {
		return domain.Snapshot{}, wrap("snapshot", key, err)
	}

	created := s.now().UTC()
	id := created.Format("20060102T150405.000000000Z")
	dst := filepath.Join(s.root, SnapshotDir, filepath.FromSlash(path.Clean(key)), id)

	if err := copyFile(ctx, src, dst); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.Snapshot{}, ctxErr
		}
		return domain.Snapshot{}, wrap("snapshot", key, err)
	}

	return domain.Snapshot{Key: key, ID: id, CreatedAt: created}, nil
}

// Snapshots returns the IDs of every snapshot of key, oldest first
func (s *Store) Snapshots(key string) ([]string, error) {
	dir := filepath.Join(s.root, SnapshotDir, filepath.FromSlash(key))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, wrap("list snapshots", key, err)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

// Close releases any resources (no-op for the local store)
func (s *Store) Close() error {
	return nil
}

// pruneEmptyDirs removes empty parents of a deleted object up to the root
func (s *Store) pruneEmptyDirs(dir string) {
	for dir != s.root && strings.HasPrefix(dir, s.root) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// copyFile writes src to dst through a temp file and an atomic rename
func copyFile(ctx context.Context, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	tempPath := dst + tempSuffix
	out, err := os.Create(tempPath)
	if err != nil {
		return err
	}

	_, copyErr := io.Copy(out, &ctxReader{ctx: ctx, r: in})
	closeErr := out.Close()

	if copyErr != nil {
		os.Remove(tempPath)
		return copyErr
	}
	if closeErr != nil {
		os.Remove(tempPath)
		return closeErr
	}

	if err := os.Rename(tempPath, dst); err != nil {
		os.Remove(tempPath)
		return err
	}
	return nil
}

// ctxReader aborts a copy once the context is done
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// wrap converts OS errors to domain errors, keeping the cause in the chain
func wrap(op, key string, err error) error {
	switch {
	case errors.Is(err, domain.ErrPermissionDenied):
		return fmt.Errorf("%w: %s %s: %w", domain.ErrRemoteIO, op, key, err)
	case os.IsNotExist(err):
		return fmt.Errorf("%w: %s %s: %w: %w", domain.ErrRemoteIO, op, key, domain.ErrNotFound, err)
	case os.IsPermission(err):
		return fmt.Errorf("%w: %s %s: %w: %w", domain.ErrRemoteIO, op, key, domain.ErrPermissionDenied, err)
	case os.IsExist(err):
		return fmt.Errorf("%w: %s %s: %w: %w", domain.ErrRemoteIO, op, key, domain.ErrAlreadyExists, err)
	}
	return fmt.Errorf("%w: %s %s: %w", domain.ErrRemoteIO, op, key, err)
}
