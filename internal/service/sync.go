// Package service wires configuration, remote stores, locks and the run
// history into the operations the CLI exposes
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Ning0612/pkgsync/internal/config"
	"github.com/Ning0612/pkgsync/internal/core/workdir"
	"github.com/Ning0612/pkgsync/internal/domain"
	"github.com/Ning0612/pkgsync/internal/lock"
	"github.com/Ning0612/pkgsync/internal/logger"
	"github.com/Ning0612/pkgsync/internal/progress"
	"github.com/Ning0612/pkgsync/internal/remote"
	"github.com/Ning0612/pkgsync/internal/state"
	"github.com/Ning0612/pkgsync/internal/synchronizer"
)

// SyncService orchestrates synchronizer runs
type SyncService struct {
	config   *config.Config
	state    *state.Manager
	stores   map[string]remote.Store
	reporter progress.Reporter
	log      logger.Logger
}

// NewSyncService opens the history database and creates a new sync service
func NewSyncService(cfg *config.Config) (*SyncService, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	stateMgr, err := state.NewManager(cfg.StateDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create state manager: %w", err)
	}

	return &SyncService{
		config: cfg,
		state:  stateMgr,
		stores: make(map[string]remote.Store),
		log:    logger.With("component", "service"),
	}, nil
}

// SetProgressReporter sets the progress reporter for sync operations
func (s *SyncService) SetProgressReporter(reporter progress.Reporter) {
	s.reporter = reporter
}

// getReporter returns the current progress reporter or a null reporter
func (s *SyncService) getReporter() progress.Reporter {
	if s.reporter != nil {
		return s.reporter
	}
	return progress.NullReporter{}
}

// Synchronizer creates the synchronizer of one section for one suite.
// Every operation on it holds the target's lock and lands in the history.
func (s *SyncService) Synchronizer(ctx context.Context, section domain.Section, suite domain.Suite) (*TrackedSynchronizer, error) {
	if !section.IsValid() {
		return nil, fmt.Errorf("%w: unknown section %q", domain.ErrConfigInvalid, section)
	}
	if !suite.IsValid() {
		return nil, fmt.Errorf("%w: unknown suite %q", domain.ErrConfigInvalid, suite)
	}

	vendor := domain.Vendor(s.config.Vendor)
	store, err := s.getStore(ctx, vendor, section, suite)
	if err != nil {
		return nil, err
	}

	syncer := synchronizer.New(store, synchronizer.Options{
		WorkRoot: s.config.WorkDir,
		Vendor:   vendor,
		Logger:   s.log.With("section", string(section), "suite", string(suite)),
		Reporter: s.getReporter(),
	})

	return &TrackedSynchronizer{
		sync:    syncer,
		section: section,
		svc:     s,
	}, nil
}

// getStore returns or creates the store of a section for a suite
func (s *SyncService) getStore(ctx context.Context, vendor domain.Vendor, section domain.Section, suite domain.Suite) (remote.Store, error) {
	key := string(section) + "/" + string(suite)
	if store, ok := s.stores[key]; ok {
		return store, nil
	}

	opts, err := s.config.StorageOptions(section, suite)
	if err != nil {
		return nil, err
	}

	store, err := remote.New(ctx, vendor, remote.Options(opts))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s storage for %s: %w", vendor, section, err)
	}
	s.stores[key] = store
	return store, nil
}

// Pull mirrors the remote sub-path into the local cache
func (s *SyncService) Pull(ctx context.Context, section domain.Section, suite domain.Suite, subPath string) (synchronizer.Result, error) {
	ts, err := s.Synchronizer(ctx, section, suite)
	if err != nil {
		return synchronizer.Result{}, err
	}
	ts.SetSubPath(subPath)
	return ts.SyncFromRemote(ctx)
}

// Push mirrors the local cache into the remote sub-path
func (s *SyncService) Push(ctx context.Context, section domain.Section, suite domain.Suite, subPath string) (synchronizer.Result, error) {
	ts, err := s.Synchronizer(ctx, section, suite)
	if err != nil {
		return synchronizer.Result{}, err
	}
	ts.SetSubPath(subPath)
	return ts.SyncToRemote(ctx)
}

// Snapshot snapshots every object under the remote sub-path
func (s *SyncService) Snapshot(ctx context.Context, section domain.Section, suite domain.Suite, subPath string) ([]domain.Snapshot, error) {
	ts, err := s.Synchronizer(ctx, section, suite)
	if err != nil {
		return nil, err
	}
	ts.SetSubPath(subPath)
	return ts.CreateSnapshotOfRemote(ctx)
}

// History returns the latest executions, newest first. An empty target
// returns every target.
func (s *SyncService) History(target string, limit int) ([]state.ExecutionRecord, error) {
	return s.state.GetHistory(target, limit)
}

// Snapshots returns the snapshot catalogue of a target, newest first
func (s *SyncService) Snapshots(target string, limit int) ([]state.SnapshotRecord, error) {
	return s.state.ListSnapshots(target, limit)
}

// CleanupHistory deletes executions and snapshot records older than age
func (s *SyncService) CleanupHistory(age time.Duration) (int64, error) {
	return s.state.CleanupOldRecords(time.Now().Add(-age))
}

// track runs fn under target's lock and saves its outcome to the history.
// A failure to save the history is logged, never returned.
func (s *SyncService) track(ctx context.Context, target string, op domain.Operation, fn func(ctx context.Context, rec *state.ExecutionRecord) error) error {
	fileLock, err := lock.NewFileLock(s.config.LockDir, target)
	if err != nil {
		return fmt.Errorf("failed to create file lock: %w", err)
	}

	log := s.log.With("target", target, "operation", string(op))
	log.Debug("Acquiring lock.", "lock_path", fileLock.Path())
	if err := fileLock.Acquire(op); err != nil {
		log.Error("Failed to acquire sync lock.", "error", err)
		return err
	}
	defer func() {
		if err := fileLock.Release(); err != nil {
			log.Error("Failed to release sync lock.", "error", err)
		}
	}()

	rec := state.ExecutionRecord{
		Target:    target,
		Operation: op,
		StartTime: time.Now(),
		Status:    state.StatusSuccess,
	}

	runErr := fn(ctx, &rec)

	rec.EndTime = time.Now()
	if runErr != nil {
		rec.Status = state.StatusFailed
		rec.Error = runErr.Error()
	}
	if _, err := s.state.SaveExecution(rec); err != nil {
		log.Warn("Failed to save execution record.", "error", err)
	}

	return runErr
}

// Close releases all stores and the history database
func (s *SyncService) Close() error {
	var errs []error
	for _, store := range s.stores {
		if err := store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.stores = make(map[string]remote.Store)

	if err := s.state.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

var _ io.Closer = (*SyncService)(nil)

// TrackedSynchronizer is a synchronizer whose operations are locked per
// target and recorded in the history
type TrackedSynchronizer struct {
	sync    *synchronizer.Synchronizer
	section domain.Section
	svc     *SyncService
}

// SetSubPath points both working directories at p
func (t *TrackedSynchronizer) SetSubPath(p string) {
	t.sync.SetSubPath(p)
}

// LocalDir returns the local working directory
func (t *TrackedSynchronizer) LocalDir() *workdir.Dir {
	return t.sync.LocalDir()
}

// Target identifies the current working directory in locks and history
func (t *TrackedSynchronizer) Target() string {
	return lock.Target(t.section, t.sync.Store().Name(), t.sync.RemoteDir().SubPath())
}

// SyncFromRemote runs synchronizer.SyncFromRemote under the target lock
func (t *TrackedSynchronizer) SyncFromRemote(ctx context.Context) (synchronizer.Result, error) {
	var result synchronizer.Result
	err := t.svc.track(ctx, t.Target(), domain.OperationPull, func(ctx context.Context, rec *state.ExecutionRecord) error {
		var err error
		result, err = t.sync.SyncFromRemote(ctx)
		recordStats(rec, result)
		return err
	})
	return result, err
}

// SyncToRemote runs synchronizer.SyncToRemote under the target lock
func (t *TrackedSynchronizer) SyncToRemote(ctx context.Context) (synchronizer.Result, error) {
	var result synchronizer.Result
	err := t.svc.track(ctx, t.Target(), domain.OperationPush, func(ctx context.Context, rec *state.ExecutionRecord) error {
		var err error
		result, err = t.sync.SyncToRemote(ctx)
		recordStats(rec, result)
		return err
	})
	return result, err
}

// CreateSnapshotOfRemote runs synchronizer.CreateSnapshotOfRemote under the
// target lock and catalogues the snapshots taken, even on partial failure
func (t *TrackedSynchronizer) CreateSnapshotOfRemote(ctx context.Context) ([]domain.Snapshot, error) {
	var snapshots []domain.Snapshot
	target := t.Target()
	err := t.svc.track(ctx, target, domain.OperationSnapshot, func(ctx context.Context, rec *state.ExecutionRecord) error {
		var err error
		snapshots, err = t.sync.CreateSnapshotOfRemote(ctx)
		if len(snapshots) > 0 {
			if serr := t.svc.state.SaveSnapshots(target, snapshots); serr != nil {
				t.svc.log.Warn("Failed to save snapshot records.", "target", target, "error", serr)
			}
		}
		return err
	})
	return snapshots, err
}

func recordStats(rec *state.ExecutionRecord, result synchronizer.Result) {
	rec.Skipped = result.Stats.Skipped
	rec.Downloaded = result.Stats.Downloaded
	rec.Uploaded = result.Stats.Uploaded
	rec.DeletedLocal = result.Stats.DeletedLocal
	rec.DeletedRemote = result.Stats.DeletedRemote
}
