package indexer

import (
	"io"
	"os"
	"strings"
	"testing"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"

	"github.com/Ning0612/pkgsync/internal/testutil"
)

func TestCompressFile_RoundTrip(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	content := strings.Repeat("Package: syslog-ng-core\nVersion: 4.8.0\n\n", 50)
	src := testutil.CreateTestFile(t, dir, "Packages", []byte(content))

	readers := map[string]func(r io.Reader) (io.Reader, error){
		".gz": func(r io.Reader) (io.Reader, error) { return gzip.NewReader(r) },
		".xz": func(r io.Reader) (io.Reader, error) { return xz.NewReader(r) },
		".bz2": func(r io.Reader) (io.Reader, error) {
			return bzip2.NewReader(r, nil)
		},
	}

	for _, c := range packagesCompressors {
		t.Run(c.ext, func(t *testing.T) {
			if err := compressFile(src, c); err != nil {
				t.Fatalf("compressFile() error = %v", err)
			}

			f, err := os.Open(src + c.ext)
			if err != nil {
				t.Fatalf("open compressed file: %v", err)
			}
			defer f.Close()

			newReader, ok := readers[c.ext]
			if !ok {
				t.Fatalf("no reader for %s", c.ext)
			}
			r, err := newReader(f)
			if err != nil {
				t.Fatalf("new reader: %v", err)
			}
			got, err := io.ReadAll(r)
			if err != nil {
				t.Fatalf("decompress: %v", err)
			}
			if string(got) != content {
				t.Errorf("decompressed content differs: got %d bytes, want %d", len(got), len(content))
			}
		})
	}
}

func TestCompressFile_MissingSource(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	if err := compressFile(dir+"/missing", packagesCompressors[0]); err == nil {
		t.Error("compressFile() expected error for missing source")
	}
}
