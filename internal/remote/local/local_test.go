package local

import (
	"context"
	"crypto/md5"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/Ning0612/pkgsync/internal/domain"
	"github.com/Ning0612/pkgsync/internal/testutil"
)

func newTestStore(t *testing.T, tree map[string]string) *Store {
	t.Helper()

	root := filepath.Join(t.TempDir(), "indexed")
	testutil.WriteTree(t, root, tree)

	s, err := New(root)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s
}

func keys(objects []domain.RemoteObject) []string {
	out := make([]string, 0, len(objects))
	for _, o := range objects {
		out = append(out, o.Key)
	}
	sort.Strings(out)
	return out
}

func TestNew_CreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "a", "container")

	s, err := New(root)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if s.Name() != "container" {
		t.Errorf("Name() = %q, want container", s.Name())
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		t.Errorf("expected root directory to be created: %v", err)
	}
}

func TestListObjects(t *testing.T) {
	s := newTestStore(t, map[string]string{
		"stable/apt/Release":      "release",
		"stable/apt/pool/a.deb":   "deb",
		"nightly/apt/Release":     "nightly",
		".snapshots/stable/x/123": "old",
	})

	objects, err := s.ListObjects(context.Background(), "stable/")
	if err != nil {
		t.Fatalf("ListObjects failed: %v", err)
	}

	got := keys(objects)
	want := []string{"stable/apt/Release", "stable/apt/pool/a.deb"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("ListObjects = %v, want %v", got, want)
	}

	sum := md5.Sum([]byte("release"))
	for _, o := range objects {
		if o.Key == "stable/apt/Release" {
			if string(o.ContentMD5) != string(sum[:]) {
				t.Error("unexpected MD5 for Release")
			}
			if o.Size != int64(len("release")) {
				t.Errorf("Size = %d, want %d", o.Size, len("release"))
			}
		}
	}
}

func TestListObjects_SkipsSnapshots(t *testing.T) {
	s := newTestStore(t, map[string]string{
		"Release":                 "r",
		".snapshots/Release/1234": "r",
	})

	objects, err := s.ListObjects(context.Background(), "")
	if err != nil {
		t.Fatalf("ListObjects failed: %v", err)
	}
	if got := keys(objects); len(got) != 1 || got[0] != "Release" {
		t.Errorf("ListObjects = %v, want [Release]", got)
	}
}

func TestDownloadUpload(t *testing.T) {
	s := newTestStore(t, map[string]string{"pool/a.deb": "package"})
	localDir := t.TempDir()
	ctx := context.Background()

	dst := filepath.Join(localDir, "nested", "a.deb")
	if err := s.Download(ctx, "pool/a.deb", dst); err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	data, err := os.ReadFile(dst)
	if err != nil || string(data) != "package" {
		t.Fatalf("downloaded content = %q, %v", data, err)
	}

	src := testutil.CreateTestFile(t, localDir, "b.deb", []byte("new"))
	if err := s.Upload(ctx, src, "pool/b.deb"); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if err := s.Upload(ctx, src, "pool/a.deb"); err != nil {
		t.Fatalf("overwriting Upload failed: %v", err)
	}

	testutil.AssertTree(t, s.Root(), map[string]string{
		"pool/a.deb": "new",
		"pool/b.deb": "new",
	})
}

func TestDownload_Missing(t *testing.T) {
	s := newTestStore(t, nil)

	err := s.Download(context.Background(), "absent", filepath.Join(t.TempDir(), "x"))
	if !errors.Is(err, domain.ErrRemoteIO) {
		t.Errorf("expected ErrRemoteIO, got %v", err)
	}
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSnapshotAndDelete(t *testing.T) {
	s := newTestStore(t, map[string]string{"dists/stable/Release": "v1"})
	ctx := context.Background()

	tick := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}

	first, err := s.Snapshot(ctx, "dists/stable/Release")
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if _, err := s.Snapshot(ctx, "dists/stable/Release"); err != nil {
		t.Fatalf("second Snapshot failed: %v", err)
	}
	if first.Key != "dists/stable/Release" || first.ID == "" {
		t.Errorf("unexpected snapshot %+v", first)
	}

	ids, err := s.Snapshots("dists/stable/Release")
	if err != nil {
		t.Fatalf("Snapshots failed: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 snapshots, got %v", ids)
	}

	// Snapshots are not part of the listing
	objects, err := s.ListObjects(ctx, "")
	if err != nil {
		t.Fatalf("ListObjects failed: %v", err)
	}
	if len(objects) != 1 {
		t.Errorf("snapshots leaked into listing: %v", keys(objects))
	}

	if err := s.Delete(ctx, "dists/stable/Release"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	ids, err = s.Snapshots("dists/stable/Release")
	if err != nil {
		t.Fatalf("Snapshots failed: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("Delete left snapshots behind: %v", ids)
	}
	if _, err := os.Stat(filepath.Join(s.Root(), "dists")); !os.IsNotExist(err) {
		t.Error("expected empty parent directories to be pruned")
	}
}

func TestResolvePath_Escape(t *testing.T) {
	s := newTestStore(t, nil)

	for _, key := range []string{"../outside", "a/../../outside", "", "/etc/passwd"} {
		_, err := s.resolvePath(key)
		if key == "/etc/passwd" && filepath.Separator == '\\' {
			continue
		}
		if !errors.Is(err, domain.ErrPermissionDenied) {
			t.Errorf("resolvePath(%q): expected ErrPermissionDenied, got %v", key, err)
		}
	}
}

func TestContextCanceled(t *testing.T) {
	s := newTestStore(t, map[string]string{"a": "a"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.ListObjects(ctx, ""); !errors.Is(err, context.Canceled) {
		t.Errorf("ListObjects: expected context.Canceled, got %v", err)
	}
	if err := s.Delete(ctx, "a"); !errors.Is(err, context.Canceled) {
		t.Errorf("Delete: expected context.Canceled, got %v", err)
	}
}
