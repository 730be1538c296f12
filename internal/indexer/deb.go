package indexer

import (
	"context"
	"fmt"
	"path"
	"path/filepath"

	"github.com/Ning0612/pkgsync/internal/domain"
	"github.com/Ning0612/pkgsync/internal/logger"
)

const debBinaryDir = "binary-amd64"

// DebOptions configures DebSteps
type DebOptions struct {
	Suite domain.Suite

	// AptConfPath is the apt-ftparchive config used for the Release file
	AptConfPath string

	Key    GPGKey
	Runner CommandRunner
	Logger logger.Logger

	// CorePackage overrides DefaultCorePackage for nightly pruning
	CorePackage string
}

// DebSteps publishes an APT repository under apt/dists/<suite>
type DebSteps struct {
	opts DebOptions
	log  logger.Logger
}

// NewDebSteps creates the APT flavour of the pipeline
func NewDebSteps(opts DebOptions) *DebSteps {
	if opts.Runner == nil {
		opts.Runner = ExecRunner{Log: opts.Logger}
	}
	if opts.Logger == nil {
		opts.Logger = logger.Get()
	}
	if opts.CorePackage == "" {
		opts.CorePackage = DefaultCorePackage
	}
	return &DebSteps{opts: opts, log: opts.Logger.With("flavour", "deb", "suite", string(opts.Suite))}
}

// IndexedSubDir returns apt/dists/<suite>
func (s *DebSteps) IndexedSubDir() string {
	return path.Join("apt", "dists", string(s.opts.Suite))
}

// PrepareIndexedDir moves incoming <platform>/<file> to
// <platform>/binary-amd64/<file>; nightly also prunes old builds
func (s *DebSteps) PrepareIndexedDir(ctx context.Context, incomingDir, indexedDir string) error {
	files, err := listFiles(incomingDir)
	if err != nil {
		return err
	}

	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		platform := filepath.Dir(rel)
		src := filepath.Join(incomingDir, rel)
		dst := filepath.Join(indexedDir, platform, debBinaryDir, filepath.Base(rel))

		s.log.Info("Moving file.", "src_path", src, "dst_path", dst)
		if err := moveWithoutOverwrite(src, dst); err != nil {
			return err
		}
	}

	if s.opts.Suite == domain.SuiteNightly {
		return nightlyPruner{ext: ".deb", corePackage: s.opts.CorePackage, keep: NightlyPackagesToKeep, log: s.log}.prune(indexedDir)
	}
	return nil
}

// IndexPackages writes Packages (plus compressed copies) for every binary
// dir and the suite's Release file
func (s *DebSteps) IndexPackages(ctx context.Context, indexedDir string) error {
	// APT wants Filename fields to start with dists/, so run from apt/
	aptDir := filepath.Dir(filepath.Dir(indexedDir))

	pkgDirs, err := findDirs(indexedDir, debBinaryDir)
	if err != nil {
		return err
	}

	for _, pkgDir := range pkgDirs {
		rel, err := filepath.Rel(aptDir, pkgDir)
		if err != nil {
			return fmt.Errorf("%w: %w", domain.ErrLocalIO, err)
		}

		packagesPath := filepath.Join(pkgDir, "Packages")
		s.log.Info("Creating Packages file.", "packages_file_path", packagesPath)
		cmd := Command{Name: "apt-ftparchive", Args: []string{"packages", filepath.ToSlash(rel)}, Dir: aptDir}
		if err := runToFile(ctx, s.opts.Runner, cmd, packagesPath); err != nil {
			return err
		}

		for _, c := range packagesCompressors {
			if err := compressFile(packagesPath, c); err != nil {
				return err
			}
		}
	}

	releasePath := filepath.Join(indexedDir, "Release")
	s.log.Info("Creating Release file.", "release_file_path", releasePath)
	cmd := Command{
		Name: "apt-ftparchive",
		Args: []string{"release", "."},
		Dir:  indexedDir,
		Env:  []string{"APT_CONFIG=" + s.opts.AptConfPath},
	}
	return runToFile(ctx, s.opts.Runner, cmd, releasePath)
}

// SignPackages writes Release.gpg and InRelease with a throwaway keyring
func (s *DebSteps) SignPackages(ctx context.Context, indexedDir string) error {
	home, err := newGPGHome(ctx, s.opts.Runner, s.opts.Key, s.log)
	if err != nil {
		return err
	}
	defer home.cleanup()

	release := filepath.Join(indexedDir, "Release")
	if err := home.detachSign(ctx, release, filepath.Join(indexedDir, "Release.gpg")); err != nil {
		return err
	}
	return home.clearSign(ctx, release, filepath.Join(indexedDir, "InRelease"))
}
