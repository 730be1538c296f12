package diff

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Ning0612/pkgsync/internal/core/checksum"
	"github.com/Ning0612/pkgsync/internal/domain"
	"github.com/Ning0612/pkgsync/internal/logger"
)

// TempSuffix marks partial downloads; such files are never synced
const TempSuffix = ".pkgsync.tmp"

// minioPartSuffix is what minio-go's FGetObject stages downloads under
const minioPartSuffix = ".part.minio"

// Listing is one remote listing, indexed by path relative to the remote root.
// It is built once per sync call and discarded with it.
type Listing struct {
	objects map[string]domain.RemoteObject
}

// NewListing indexes objects by their key relative to remoteRoot.
// Keys outside remoteRoot are dropped. A key that does not map onto exactly
// one local path ("a//b", "a/../b", "/a") fails the whole listing.
func NewListing(objects []domain.RemoteObject, remoteRoot string) (*Listing, error) {
	prefix := ""
	if remoteRoot != "" {
		prefix = strings.TrimSuffix(remoteRoot, "/") + "/"
	}

	l := &Listing{objects: make(map[string]domain.RemoteObject, len(objects))}
	for _, obj := range objects {
		if !strings.HasPrefix(obj.Key, prefix) {
			continue
		}
		rel := strings.TrimPrefix(obj.Key, prefix)
		if rel == "" || strings.HasSuffix(rel, "/") {
			continue // directory placeholder
		}
		if !IsCanonical(rel) {
			return nil, fmt.Errorf("%w: object key %q is not a canonical relative path", domain.ErrRemoteIO, obj.Key)
		}
		l.objects[rel] = obj
	}
	return l, nil
}

// IsCanonical reports whether rel is a clean, slash separated path that
// stays below its root
func IsCanonical(rel string) bool {
	if rel == "" || rel == "." || strings.HasPrefix(rel, "/") {
		return false
	}
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return false
	}
	return path.Clean(rel) == rel
}

// Lookup returns the remote object for a relative path
func (l *Listing) Lookup(rel string) (domain.RemoteObject, bool) {
	obj, ok := l.objects[rel]
	return obj, ok
}

// Len returns the number of objects in the listing
func (l *Listing) Len() int {
	return len(l.objects)
}

// Paths returns all relative paths in sorted order
func (l *Listing) Paths() []string {
	paths := make([]string, 0, len(l.objects))
	for p := range l.objects {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Classifier decides the SyncState of a relative path
type Classifier struct {
	hasher     *checksum.Hasher
	localRoot  string
	remoteRoot string
	log        logger.Logger
}

// NewClassifier creates a classifier for one local root / remote root pair
func NewClassifier(hasher *checksum.Hasher, localRoot, remoteRoot string, log logger.Logger) *Classifier {
	if log == nil {
		log = &logger.NullLogger{}
	}
	return &Classifier{
		hasher:     hasher,
		localRoot:  localRoot,
		remoteRoot: remoteRoot,
		log:        log,
	}
}

// Classify compares the local file and the listed remote object at rel.
// A path missing from both sides cannot happen: rel always comes from
// the union of both enumerations.
func (c *Classifier) Classify(ctx context.Context, rel string, listing *Listing) (domain.SyncState, error) {
	localPath := filepath.Join(c.localRoot, filepath.FromSlash(rel))
	remotePath := joinKey(c.remoteRoot, rel)

	remote, ok := listing.Lookup(rel)
	if !ok {
		c.log.Debug("local file is not available remotely",
			"local_path", localPath,
			"unavailable_remote_path", remotePath,
		)
		return domain.NotInRemote, nil
	}

	localMD5, err := c.hasher.HashFile(ctx, localPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.log.Debug("remote file is not available locally",
				"remote_path", remotePath,
				"unavailable_local_path", localPath,
			)
			return domain.NotInLocal, nil
		}
		return domain.InSync, err
	}

	if !checksum.Equal(localMD5, remote.ContentMD5) {
		c.log.Debug("file differs locally and remotely",
			"remote_path", remotePath,
			"local_path", localPath,
			"remote_md5sum", checksum.Hex(remote.ContentMD5),
			"local_md5sum", checksum.Hex(localMD5),
		)
		return domain.Different, nil
	}

	c.log.Debug("file is in sync",
		"remote_path", remotePath,
		"local_path", localPath,
		"md5sum", checksum.Hex(localMD5),
	)
	return domain.InSync, nil
}

// ScanLocal returns every regular file under workingPath as a slash
// separated path relative to localRoot. A missing workingPath is empty.
func ScanLocal(ctx context.Context, localRoot, workingPath string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(workingPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == workingPath && errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipDir
			}
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if !d.Type().IsRegular() || isPartial(p) {
			return nil
		}

		rel, err := filepath.Rel(localRoot, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: scan %s: %w", domain.ErrLocalIO, workingPath, err)
	}

	return files, nil
}

// isPartial reports whether p is an interrupted download
func isPartial(p string) bool {
	return strings.HasSuffix(p, TempSuffix) || strings.HasSuffix(p, minioPartSuffix)
}

// AllRelativePaths returns the sorted union of local and remote paths
func AllRelativePaths(local []string, listing *Listing) []string {
	seen := make(map[string]struct{}, len(local)+listing.Len())
	for _, p := range local {
		seen[p] = struct{}{}
	}
	for _, p := range listing.Paths() {
		seen[p] = struct{}{}
	}

	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func joinKey(root, rel string) string {
	if root == "" {
		return rel
	}
	return strings.TrimSuffix(root, "/") + "/" + rel
}

