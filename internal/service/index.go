package service

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"time"

	"github.com/Ning0612/pkgsync/internal/cdn"
	"github.com/Ning0612/pkgsync/internal/domain"
	"github.com/Ning0612/pkgsync/internal/indexer"
	"github.com/Ning0612/pkgsync/internal/scheduler"
	"github.com/Ning0612/pkgsync/internal/state"
)

// Flavour selects the repository format an index run publishes
type Flavour string

const (
	FlavourDeb Flavour = "deb"
	FlavourRPM Flavour = "rpm"
)

// IsValid checks if the flavour is supported
func (f Flavour) IsValid() bool {
	return f == FlavourDeb || f == FlavourRPM
}

// IndexRequest describes one publish
type IndexRequest struct {
	Flavour Flavour
	Suite   domain.Suite
	RunID   string

	// Runner overrides the external tool runner; nil runs the real tools
	Runner indexer.CommandRunner
}

// target names the run in locks and history
func (r IndexRequest) target() string {
	return path.Join(string(domain.OperationIndex), string(r.Flavour), string(r.Suite), r.RunID)
}

// Index publishes the packages CI uploaded for req.RunID
func (s *SyncService) Index(ctx context.Context, req IndexRequest) error {
	if !req.Flavour.IsValid() {
		return fmt.Errorf("%w: unknown flavour %q", domain.ErrConfigInvalid, req.Flavour)
	}

	ix, err := s.newIndexer(ctx, req)
	if err != nil {
		return err
	}

	return s.track(ctx, req.target(), domain.OperationIndex, func(ctx context.Context, rec *state.ExecutionRecord) error {
		return ix.Index(ctx)
	})
}

// IndexEvery repeats Index every interval until ctx is done. A failed run
// is logged and retried on the next tick.
func (s *SyncService) IndexEvery(ctx context.Context, req IndexRequest, interval time.Duration) error {
	sched, err := scheduler.NewIntervalScheduler(scheduler.Config{
		Interval:       interval,
		RunImmediately: true,
	}, scheduler.RunnerFunc(func(ctx context.Context) error {
		return s.Index(ctx, req)
	}))
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	sched.Wait()

	status := sched.Status()
	s.log.Info("Periodic indexing finished.",
		"total_runs", status.TotalRuns,
		"successful_runs", status.SuccessfulRuns,
		"failed_runs", status.FailedRuns,
	)
	return nil
}

func (s *SyncService) newIndexer(ctx context.Context, req IndexRequest) (*indexer.Indexer, error) {
	incoming, err := s.Synchronizer(ctx, domain.SectionIncoming, req.Suite)
	if err != nil {
		return nil, err
	}
	indexed, err := s.Synchronizer(ctx, domain.SectionIndexed, req.Suite)
	if err != nil {
		return nil, err
	}

	cdnOpts, err := s.config.CDNOptions(req.Suite)
	if err != nil {
		return nil, err
	}
	cache, err := cdn.New(s.config.CDN.Vendor, cdnOpts)
	if err != nil {
		return nil, err
	}

	log := s.log.With("flavour", string(req.Flavour), "suite", string(req.Suite), "run_id", req.RunID)
	key := indexer.GPGKey{
		Path:       s.config.GPG.KeyPath,
		Passphrase: s.config.GPG.Passphrase,
		Name:       s.config.GPG.KeyName,
	}

	var steps indexer.Steps
	switch req.Flavour {
	case FlavourDeb:
		steps = indexer.NewDebSteps(indexer.DebOptions{
			Suite:       req.Suite,
			AptConfPath: filepath.Join(s.config.Deb.AptConfDir, string(req.Suite)+".conf"),
			Key:         key,
			Runner:      req.Runner,
			Logger:      log,
		})
	case FlavourRPM:
		steps = indexer.NewRPMSteps(indexer.RPMOptions{
			Suite:  req.Suite,
			Key:    key,
			Runner: req.Runner,
			Logger: log,
		})
	}

	return indexer.New(indexer.Config{
		Incoming: incoming,
		Indexed:  indexed,
		Steps:    steps,
		CDN:      cache,
		Suite:    req.Suite,
		RunID:    req.RunID,
		Logger:   log,
	})
}
