// Package indexer publishes package repositories: it pulls the incoming and
// indexed storages, moves new packages into the repository tree, rebuilds
// and signs the index, then pushes both storages back.
package indexer

import (
	"context"
	"fmt"
	"path"

	"github.com/Ning0612/pkgsync/internal/cdn"
	"github.com/Ning0612/pkgsync/internal/core/workdir"
	"github.com/Ning0612/pkgsync/internal/domain"
	"github.com/Ning0612/pkgsync/internal/logger"
	"github.com/Ning0612/pkgsync/internal/synchronizer"
)

// Syncer is the part of a synchronizer the pipeline drives
type Syncer interface {
	SetSubPath(p string)
	LocalDir() *workdir.Dir
	SyncFromRemote(ctx context.Context) (synchronizer.Result, error)
	SyncToRemote(ctx context.Context) (synchronizer.Result, error)
	CreateSnapshotOfRemote(ctx context.Context) ([]domain.Snapshot, error)
}

// Steps are the flavour specific parts of the pipeline
type Steps interface {
	// IndexedSubDir is the repository tree inside the indexed storage
	IndexedSubDir() string

	// PrepareIndexedDir moves new packages from incomingDir into indexedDir
	PrepareIndexedDir(ctx context.Context, incomingDir, indexedDir string) error

	// IndexPackages regenerates the repository metadata
	IndexPackages(ctx context.Context, indexedDir string) error

	// SignPackages signs the repository metadata
	SignPackages(ctx context.Context, indexedDir string) error
}

// Config wires an Indexer
type Config struct {
	Incoming Syncer
	Indexed  Syncer
	Steps    Steps
	CDN      cdn.CDN

	// Suite and RunID select the incoming sub-path (<suite>/<run-id>)
	Suite domain.Suite
	RunID string

	Logger logger.Logger
}

// Indexer runs one publish of one suite
type Indexer struct {
	incoming       Syncer
	indexed        Syncer
	steps          Steps
	cdn            cdn.CDN
	incomingSubDir string
	indexedSubDir  string
	log            logger.Logger
}

// New validates cfg and creates an Indexer
func New(cfg Config) (*Indexer, error) {
	if cfg.Incoming == nil || cfg.Indexed == nil {
		return nil, fmt.Errorf("indexer requires both incoming and indexed synchronizers")
	}
	if cfg.Steps == nil {
		return nil, fmt.Errorf("indexer requires steps")
	}
	if !cfg.Suite.IsValid() {
		return nil, fmt.Errorf("%w: suite %q", domain.ErrConfigInvalid, cfg.Suite)
	}
	if cfg.RunID == "" {
		return nil, fmt.Errorf("%w: run id cannot be empty", domain.ErrConfigInvalid)
	}
	if cfg.CDN == nil {
		cfg.CDN = cdn.Noop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Get()
	}

	incomingSubDir := path.Join(string(cfg.Suite), cfg.RunID)
	indexedSubDir := cfg.Steps.IndexedSubDir()

	return &Indexer{
		incoming:       cfg.Incoming,
		indexed:        cfg.Indexed,
		steps:          cfg.Steps,
		cdn:            cfg.CDN,
		incomingSubDir: incomingSubDir,
		indexedSubDir:  indexedSubDir,
		log:            cfg.Logger.With("incoming_sub_dir", incomingSubDir, "indexed_sub_dir", indexedSubDir),
	}, nil
}

// Index runs the whole pipeline. The first failing phase aborts it; a
// failure before the push leaves both remotes untouched.
func (ix *Indexer) Index(ctx context.Context) error {
	ix.incoming.SetSubPath(ix.incomingSubDir)
	ix.indexed.SetSubPath(ix.indexedSubDir)

	incomingDir := ix.incoming.LocalDir().Path()
	indexedDir := ix.indexed.LocalDir().Path()

	phases := []struct {
		name string
		run  func(ctx context.Context) error
	}{
		{"sync incoming from remote", func(ctx context.Context) error {
			_, err := ix.incoming.SyncFromRemote(ctx)
			return err
		}},
		{"sync indexed from remote", func(ctx context.Context) error {
			_, err := ix.indexed.SyncFromRemote(ctx)
			return err
		}},
		{"prepare indexed dir", func(ctx context.Context) error {
			return ix.steps.PrepareIndexedDir(ctx, incomingDir, indexedDir)
		}},
		{"index packages", func(ctx context.Context) error {
			return ix.steps.IndexPackages(ctx, indexedDir)
		}},
		{"sign packages", func(ctx context.Context) error {
			return ix.steps.SignPackages(ctx, indexedDir)
		}},
		{"snapshot indexed remote", func(ctx context.Context) error {
			_, err := ix.indexed.CreateSnapshotOfRemote(ctx)
			return err
		}},
		{"sync indexed to remote", func(ctx context.Context) error {
			_, err := ix.indexed.SyncToRemote(ctx)
			return err
		}},
		// Moved packages are gone locally, so this deletes them remotely
		{"sync incoming to remote", func(ctx context.Context) error {
			_, err := ix.incoming.SyncToRemote(ctx)
			return err
		}},
		{"refresh cdn cache", func(ctx context.Context) error {
			return ix.cdn.RefreshCache(ctx, ix.indexedSubDir)
		}},
	}

	ix.log.Info("Indexing packages.")
	for _, phase := range phases {
		if err := ctx.Err(); err != nil {
			return err
		}
		ix.log.Debug("Starting phase.", "phase", phase.name)
		if err := phase.run(ctx); err != nil {
			ix.log.Error("Indexing failed.", "phase", phase.name, "error", err)
			return fmt.Errorf("%s: %w", phase.name, err)
		}
	}
	ix.log.Info("Successfully indexed packages.")

	return nil
}
