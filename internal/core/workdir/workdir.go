// Package workdir scopes sync operations to one logical target
// (e.g. "apt/dists/nightly") under a fixed root, on either side of a sync.
package workdir

import (
	"path"
	"path/filepath"
	"strings"
)

// Dir is a root plus a replaceable sub-path.
// The root never changes after construction.
type Dir struct {
	root    string
	subPath string
	join    func(elem ...string) string
}

// NewLocal creates a working directory on the local filesystem
func NewLocal(root string) *Dir {
	return &Dir{
		root: filepath.Clean(root),
		join: func(elem ...string) string {
			for i := range elem {
				elem[i] = filepath.FromSlash(elem[i])
			}
			return filepath.Join(elem...)
		},
	}
}

// NewRemote creates a working directory inside an object store.
// Keys are slash separated and never start with a slash; an empty root
// is the container root.
func NewRemote(root string) *Dir {
	return &Dir{
		root: normalizeKey(root),
		join: func(elem ...string) string {
			return normalizeKey(path.Join(elem...))
		},
	}
}

// SetSubPath sets or overwrites the sub-path
func (d *Dir) SetSubPath(p string) {
	d.subPath = p
}

// Root returns the fixed root
func (d *Dir) Root() string {
	return d.root
}

// SubPath returns the current sub-path
func (d *Dir) SubPath() string {
	return d.subPath
}

// Path returns root joined with the sub-path
func (d *Dir) Path() string {
	if d.subPath == "" {
		return d.root
	}
	return d.join(d.root, d.subPath)
}

// Resolve joins a path relative to the root
func (d *Dir) Resolve(rel string) string {
	return d.join(d.root, rel)
}

func normalizeKey(key string) string {
	key = strings.TrimPrefix(path.Clean("/"+key), "/")
	return key
}
