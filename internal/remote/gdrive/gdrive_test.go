package gdrive

import (
	"strings"
	"sync"
	"testing"
)

// TestNormalizeRoot tests path normalization
func TestNormalizeRoot(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", ""},  // Empty/root becomes empty
		{"/", ""}, // Root becomes empty
		{"pkgsync", "/pkgsync"},
		{"/pkgsync/indexed", "/pkgsync/indexed"},
		{"/pkgsync/", "/pkgsync"},
		{"  /pkgsync  ", "/pkgsync"},
	}

	for _, tt := range tests {
		got := normalizeRoot(tt.input)
		if got != tt.expected {
			t.Errorf("normalizeRoot(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestName(t *testing.T) {
	if got := (&Store{root: "/pkgsync/indexed"}).Name(); got != "indexed" {
		t.Errorf("Name() = %q, want indexed", got)
	}
	if got := (&Store{root: ""}).Name(); got != "drive" {
		t.Errorf("Name() for drive root = %q", got)
	}
}

// TestEscapeQueryString tests query string escaping for injection prevention
func TestEscapeQueryString(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"normal", "normal"},
		{"file'name", "file\\'name"},
		{"file''name", "file\\'\\'name"},
		{"back\\slash", "back\\\\slash"},
		{"no'special\"chars", "no\\'special\"chars"}, // Only single quotes escaped
	}

	for _, tt := range tests {
		got := escapeQueryString(tt.input)
		if got != tt.expected {
			t.Errorf("escapeQueryString(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

// TestSecurity_QueryInjection tests protection against query injection
func TestSecurity_QueryInjection(t *testing.T) {
	maliciousNames := []string{
		"file' or '1'='1",
		"'; DROP TABLE files; --",
		"file' AND trashed=false AND '1'='1",
	}

	for _, name := range maliciousNames {
		escaped := escapeQueryString(name)

		unescaped := strings.ReplaceAll(escaped, "\\'", "")
		if strings.Contains(unescaped, "'") {
			t.Errorf("Unescaped single quote found in %q", escaped)
		}
	}
}

// TestJoinPath tests key to Drive path mapping
func TestJoinPath(t *testing.T) {
	s := &Store{root: "/test-root"}

	tests := []struct {
		key         string
		expectError bool
		expected    string
	}{
		{"Release", false, "/test-root/Release"},
		{"apt/dists/stable/Release", false, "/test-root/apt/dists/stable/Release"},
		{"/Release", true, ""}, // Absolute paths rejected
		{"", false, "/test-root"},
	}

	for _, tt := range tests {
		got, err := s.joinPath(tt.key)
		if tt.expectError && err == nil {
			t.Errorf("joinPath(%q) expected error, got none", tt.key)
		}
		if !tt.expectError && err != nil {
			t.Errorf("joinPath(%q) unexpected error: %v", tt.key, err)
		}
		if !tt.expectError && got != tt.expected {
			t.Errorf("joinPath(%q) = %q, want %q", tt.key, got, tt.expected)
		}
	}

	bare := &Store{root: ""}
	if got, _ := bare.joinPath("apt/Release"); got != "/apt/Release" {
		t.Errorf("joinPath at drive root = %q", got)
	}
}

// TestSecurity_PathTraversal tests protection against path traversal attacks
func TestSecurity_PathTraversal(t *testing.T) {
	s := &Store{root: "/safe-root"}

	maliciousPaths := []string{
		"../../../etc/passwd",
		"folder/../../outside",
		"./../../escape",
		"..",
	}

	for _, p := range maliciousPaths {
		result, err := s.joinPath(p)
		if err != nil {
			continue
		}
		if !strings.HasPrefix(result, s.root+"/") {
			t.Errorf("Path traversal: %q resulted in %q (outside root %q)", p, result, s.root)
		}
	}
}

func TestIDCache(t *testing.T) {
	cache := newIDCache()

	if _, ok := cache.get("/test"); ok {
		t.Error("expected cache miss for empty cache")
	}

	cache.set("/test", "id-123")
	if id, ok := cache.get("/test"); !ok || id != "id-123" {
		t.Errorf("get = %q, %v", id, ok)
	}

	cache.set("/test", "id-456")
	if id, _ := cache.get("/test"); id != "id-456" {
		t.Error("cache overwrite failed")
	}

	cache.delete("/test")
	if _, ok := cache.get("/test"); ok {
		t.Error("expected cache miss after delete")
	}
}

// TestSecurity_CacheConcurrency tests cache thread safety
func TestSecurity_CacheConcurrency(t *testing.T) {
	cache := newIDCache()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			path := strings.Repeat("x", idx%10)
			cache.set(path, "id")
			cache.get(path)
			if idx%2 == 0 {
				cache.delete(path)
			}
		}(i)
	}

	wg.Wait()
}

func BenchmarkEscapeQueryString(b *testing.B) {
	testStr := "file'with'many'quotes'in'it"
	for i := 0; i < b.N; i++ {
		_ = escapeQueryString(testStr)
	}
}
