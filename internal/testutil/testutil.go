package testutil

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

// TempDir creates a temporary directory for testing
// It returns the directory path and a cleanup function
func TempDir(t *testing.T) (string, func()) {
	t.Helper()

	dir, err := os.MkdirTemp("", "pkgsync-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	cleanup := func() {
		os.RemoveAll(dir)
	}

	return dir, cleanup
}

// CreateTestFile creates a test file with the given content,
// creating parent directories of name as needed
func CreateTestFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()

	path := filepath.Join(dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create parent dir: %v", err)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	return path
}

// WriteTree creates every file of tree (slash path -> content) under dir
func WriteTree(t *testing.T, dir string, tree map[string]string) {
	t.Helper()

	for name, content := range tree {
		CreateTestFile(t, dir, name, []byte(content))
	}
}

// ReadTree returns every regular file under dir as slash path -> content.
// A missing dir reads as an empty tree.
func ReadTree(t *testing.T, dir string) map[string]string {
	t.Helper()

	tree := make(map[string]string)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == dir {
				return filepath.SkipDir
			}
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		tree[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	if err != nil {
		t.Fatalf("failed to read tree %s: %v", dir, err)
	}
	return tree
}

// SortedKeys returns the keys of tree in order, for stable failure messages
func SortedKeys(tree map[string]string) []string {
	keys := make([]string, 0, len(tree))
	for k := range tree {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AssertTree fails the test if dir does not hold exactly want
func AssertTree(t *testing.T, dir string, want map[string]string) {
	t.Helper()

	got := ReadTree(t, dir)
	if len(got) != len(want) {
		t.Fatalf("tree %s: got files %v, want %v", dir, SortedKeys(got), SortedKeys(want))
	}
	for name, content := range want {
		actual, ok := got[name]
		if !ok {
			t.Fatalf("tree %s: missing %s (have %v)", dir, name, SortedKeys(got))
		}
		if actual != content {
			t.Errorf("tree %s: %s = %q, want %q", dir, name, actual, content)
		}
	}
}
