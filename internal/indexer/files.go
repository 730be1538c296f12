package indexer

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/Ning0612/pkgsync/internal/domain"
	"github.com/Ning0612/pkgsync/internal/logger"
)

const (
	// NightlyPackagesToKeep is how many nightly builds stay published per platform
	NightlyPackagesToKeep = 10

	// DefaultCorePackage names the package whose file name carries the build timestamp
	DefaultCorePackage = "syslog-ng-core"
)

// nightly builds are versioned like 4.8.0+20260301T0200_amd64.deb
var timestampPattern = regexp.MustCompile(`\+([^_]+)_`)

// moveWithoutOverwrite renames src to dst, creating dst's parent.
// An existing dst is an error; published packages are never replaced.
func moveWithoutOverwrite(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("%w: mkdir %s: %w", domain.ErrLocalIO, filepath.Dir(dst), err)
	}
	if _, err := os.Lstat(dst); err == nil {
		return fmt.Errorf("%w: %s", domain.ErrAlreadyExists, dst)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: stat %s: %w", domain.ErrLocalIO, dst, err)
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("%w: move %s: %w", domain.ErrLocalIO, src, err)
	}
	return nil
}

// listFiles returns the regular files under root relative to it, sorted.
// A missing root has no files.
func listFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root && errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipDir
			}
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: walk %s: %w", domain.ErrLocalIO, root, err)
	}
	sort.Strings(files)
	return files, nil
}

// findDirs returns every directory under root whose base name is one of names
func findDirs(root string, names ...string) ([]string, error) {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}

	var dirs []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root && errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() && p != root && want[d.Name()] {
			dirs = append(dirs, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: walk %s: %w", domain.ErrLocalIO, root, err)
	}
	sort.Strings(dirs)
	return dirs, nil
}

// nightlyPruner deletes all but the newest nightly builds of each platform
type nightlyPruner struct {
	ext         string
	corePackage string
	keep        int
	log         logger.Logger
}

// prune works on the platform directories directly under indexedDir
func (p nightlyPruner) prune(indexedDir string) error {
	entries, err := os.ReadDir(indexedDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("%w: read %s: %w", domain.ErrLocalIO, indexedDir, err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if err := p.prunePlatform(filepath.Join(indexedDir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

func (p nightlyPruner) prunePlatform(platformDir string) error {
	files, err := listFiles(platformDir)
	if err != nil {
		return err
	}

	seen := make(map[string]bool)
	var timestamps []string
	for _, rel := range files {
		name := filepath.Base(rel)
		if !strings.HasPrefix(name, p.corePackage) || !strings.HasSuffix(name, p.ext) {
			continue
		}
		m := timestampPattern.FindStringSubmatch(name)
		if m == nil || seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		timestamps = append(timestamps, m[1])
	}
	if len(timestamps) <= p.keep {
		return nil
	}
	sort.Strings(timestamps)

	for _, ts := range timestamps[:len(timestamps)-p.keep] {
		for _, rel := range files {
			name := filepath.Base(rel)
			if !strings.Contains(name, ts) || !strings.HasSuffix(name, p.ext) {
				continue
			}
			full := filepath.Join(platformDir, rel)
			p.log.Info("Removing old nightly package.", "path", full)
			if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("%w: remove %s: %w", domain.ErrLocalIO, full, err)
			}
		}
	}
	return nil
}
