package indexer

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/Ning0612/pkgsync/internal/domain"
	"github.com/Ning0612/pkgsync/internal/logger"
)

const (
	rpmArchAMD64 = "x86_64"
	rpmArchARM64 = "aarch64"

	// arm64 builds arrive in <platform>-arm64 incoming dirs
	arm64PlatformSuffix = "-arm64"

	// DefaultRPMKeyName is used when the config names no key
	DefaultRPMKeyName = "syslog-ng@lists.balabit.hu"
)

// RPMOptions configures RPMSteps
type RPMOptions struct {
	Suite  domain.Suite
	Key    GPGKey
	Runner CommandRunner
	Logger logger.Logger

	// CorePackage overrides DefaultCorePackage for nightly pruning
	CorePackage string
}

// RPMSteps publishes YUM repositories under yum/<suite>
type RPMSteps struct {
	opts RPMOptions
	log  logger.Logger
}

// NewRPMSteps creates the YUM flavour of the pipeline
func NewRPMSteps(opts RPMOptions) *RPMSteps {
	if opts.Runner == nil {
		opts.Runner = ExecRunner{Log: opts.Logger}
	}
	if opts.Logger == nil {
		opts.Logger = logger.Get()
	}
	if opts.CorePackage == "" {
		opts.CorePackage = DefaultCorePackage
	}
	if opts.Key.Name == "" {
		opts.Key.Name = DefaultRPMKeyName
	}
	return &RPMSteps{opts: opts, log: opts.Logger.With("flavour", "rpm", "suite", string(opts.Suite))}
}

// IndexedSubDir returns yum/<suite>
func (s *RPMSteps) IndexedSubDir() string {
	return path.Join("yum", string(s.opts.Suite))
}

// rpmDestination maps an incoming <platform>[-arm64]/<file>.rpm to
// <platform>/<arch>/<file>.rpm
func rpmDestination(rel string) string {
	platform := filepath.Dir(rel)
	arch := rpmArchAMD64
	if strings.HasSuffix(platform, "arm64") {
		arch = rpmArchARM64
	}
	platform = strings.TrimSuffix(platform, arm64PlatformSuffix)
	return filepath.Join(platform, arch, filepath.Base(rel))
}

// PrepareIndexedDir moves new RPMs into place and signs each of them;
// nightly also prunes old builds
func (s *RPMSteps) PrepareIndexedDir(ctx context.Context, incomingDir, indexedDir string) error {
	files, err := listFiles(incomingDir)
	if err != nil {
		return err
	}

	var moved []string
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !strings.HasSuffix(rel, ".rpm") {
			continue
		}
		src := filepath.Join(incomingDir, rel)
		dst := filepath.Join(indexedDir, rpmDestination(rel))

		s.log.Info("Moving file.", "src_path", src, "dst_path", dst)
		if err := moveWithoutOverwrite(src, dst); err != nil {
			return err
		}
		moved = append(moved, dst)
	}

	if len(moved) > 0 {
		if err := s.signRPMs(ctx, moved); err != nil {
			return err
		}
	}

	if s.opts.Suite == domain.SuiteNightly {
		return nightlyPruner{ext: ".rpm", corePackage: s.opts.CorePackage, keep: NightlyPackagesToKeep, log: s.log}.prune(indexedDir)
	}
	return nil
}

func (s *RPMSteps) signRPMs(ctx context.Context, files []string) error {
	home, err := newGPGHome(ctx, s.opts.Runner, s.opts.Key, s.log)
	if err != nil {
		return err
	}
	defer home.cleanup()

	extra := "--pinentry-mode loopback --homedir " + home.dir
	passFile, err := home.passphraseFile()
	if err != nil {
		return err
	}
	if passFile != "" {
		extra += " --batch --passphrase-file " + passFile
	}

	defines := []string{
		"--define=_signature gpg",
		"--define=_gpg_name " + s.opts.Key.Name,
		"--define=_gpg_path " + home.dir,
		"--define=_gpg_sign_cmd_extra_args " + extra,
	}

	for _, file := range files {
		s.log.Info("Signing RPM file.", "path", file)
		args := append(append([]string{}, defines...), "--addsign", file)
		if err := s.opts.Runner.Run(ctx, Command{Name: "rpmsign", Args: args}); err != nil {
			return fmt.Errorf("sign %s: %w", file, err)
		}
	}
	return nil
}

// IndexPackages runs createrepo_c in every arch directory
func (s *RPMSteps) IndexPackages(ctx context.Context, indexedDir string) error {
	dirs, err := findDirs(indexedDir, rpmArchAMD64, rpmArchARM64)
	if err != nil {
		return err
	}
	for _, dir := range dirs {
		s.log.Info("Creating YUM repo.", "path", dir)
		if err := s.opts.Runner.Run(ctx, Command{Name: "createrepo_c", Args: []string{dir}}); err != nil {
			return err
		}
	}
	return nil
}

// SignPackages is a no-op: every RPM is signed as it is moved and
// yum verifies packages, not repodata
func (s *RPMSteps) SignPackages(ctx context.Context, indexedDir string) error {
	return ctx.Err()
}
