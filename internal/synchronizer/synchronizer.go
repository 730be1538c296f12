// Package synchronizer mirrors one working directory between a remote object
// store and a local cache directory, in either direction.
package synchronizer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Ning0612/pkgsync/internal/core/checksum"
	"github.com/Ning0612/pkgsync/internal/core/diff"
	"github.com/Ning0612/pkgsync/internal/core/planner"
	"github.com/Ning0612/pkgsync/internal/core/workdir"
	"github.com/Ning0612/pkgsync/internal/domain"
	"github.com/Ning0612/pkgsync/internal/logger"
	"github.com/Ning0612/pkgsync/internal/progress"
	"github.com/Ning0612/pkgsync/internal/remote"
)

// Options configures a Synchronizer
type Options struct {
	// WorkRoot is the parent of every local cache directory.
	// Default: os.TempDir()
	WorkRoot string

	// Vendor names the cache directory (<vendor>_synchronizer)
	Vendor domain.Vendor

	Hasher   *checksum.Hasher
	Logger   logger.Logger
	Reporter progress.Reporter
}

// Result describes what one sync call did
type Result struct {
	Stats planner.Stats
}

// Synchronizer binds one remote container to one local cache directory.
// It is not safe for concurrent use; lock.FileLock serializes runs across
// processes.
type Synchronizer struct {
	store    remote.Store
	local    *workdir.Dir
	remote   *workdir.Dir
	hasher   *checksum.Hasher
	log      logger.Logger
	reporter progress.Reporter
}

// New creates a synchronizer whose local root is
// <WorkRoot>/<vendor>_synchronizer/<container> and whose remote root is
// the container root
func New(store remote.Store, opts Options) *Synchronizer {
	if opts.WorkRoot == "" {
		opts.WorkRoot = os.TempDir()
	}
	if opts.Vendor == "" {
		opts.Vendor = "remote"
	}
	if opts.Hasher == nil {
		opts.Hasher = checksum.NewDefaultHasher()
	}
	if opts.Logger == nil {
		opts.Logger = logger.Get()
	}
	if opts.Reporter == nil {
		opts.Reporter = progress.NullReporter{}
	}

	localRoot := filepath.Join(opts.WorkRoot, fmt.Sprintf("%s_synchronizer", opts.Vendor), store.Name())

	return &Synchronizer{
		store:    store,
		local:    workdir.NewLocal(localRoot),
		remote:   workdir.NewRemote(""),
		hasher:   opts.Hasher,
		log:      opts.Logger.With("container", store.Name()),
		reporter: opts.Reporter,
	}
}

// SetSubPath points both working directories at the same sub-path
func (s *Synchronizer) SetSubPath(p string) {
	s.local.SetSubPath(p)
	s.remote.SetSubPath(p)
}

// LocalDir returns the local working directory
func (s *Synchronizer) LocalDir() *workdir.Dir {
	return s.local
}

// RemoteDir returns the remote working directory
func (s *Synchronizer) RemoteDir() *workdir.Dir {
	return s.remote
}

// Store returns the underlying remote store
func (s *Synchronizer) Store() remote.Store {
	return s.store
}

// SyncFromRemote makes the local working directory mirror the remote one.
// Local files missing remotely are deleted.
func (s *Synchronizer) SyncFromRemote(ctx context.Context) (Result, error) {
	log := s.workLogger()
	log.Info("Syncing content from remote.")

	result, err := s.sync(ctx, planner.FromRemote, log)
	if err != nil {
		return result, err
	}

	log.Info("Successfully synced remote content.", statsArgs(result.Stats)...)
	return result, nil
}

// SyncToRemote makes the remote working directory mirror the local one.
// Remote objects missing locally are deleted together with their snapshots.
func (s *Synchronizer) SyncToRemote(ctx context.Context) (Result, error) {
	log := s.workLogger()
	log.Info("Syncing content to remote.")

	result, err := s.sync(ctx, planner.ToRemote, log)
	if err != nil {
		return result, err
	}

	log.Info("Successfully synced local content.", statsArgs(result.Stats)...)
	return result, nil
}

// CreateSnapshotOfRemote snapshots every object under the remote working
// directory, in key order. The first failure aborts the run.
func (s *Synchronizer) CreateSnapshotOfRemote(ctx context.Context) ([]domain.Snapshot, error) {
	log := s.workLogger()
	log.Info("Creating snapshot of the remote container.")

	objects, err := s.store.ListObjects(ctx, s.listPrefix())
	if err != nil {
		return nil, err
	}

	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })

	snapshots := make([]domain.Snapshot, 0, len(objects))
	for _, obj := range objects {
		if err := ctx.Err(); err != nil {
			return snapshots, err
		}

		snap, err := s.store.Snapshot(ctx, obj.Key)
		if err != nil {
			log.Error("Failed to create snapshot.", "remote_path", obj.Key, "error", err)
			return snapshots, err
		}
		log.Debug("Created snapshot.", "remote_path", obj.Key, "snapshot_id", snap.ID)
		snapshots = append(snapshots, snap)
	}

	log.Info("Successfully created snapshot of the remote container.", "objects", len(snapshots))
	return snapshots, nil
}

func (s *Synchronizer) workLogger() logger.Logger {
	return s.log.With(
		"remote_workdir", s.remote.Path(),
		"local_workdir", s.local.Path(),
	)
}

// listPrefix returns the listing prefix for the remote working directory.
// The trailing slash keeps "stable" from matching "stable-old".
func (s *Synchronizer) listPrefix() string {
	p := s.remote.Path()
	if p == "" {
		return ""
	}
	return p + "/"
}

// sync enumerates both sides, classifies each path and applies the action
// the direction requires, one path at a time in sorted order
func (s *Synchronizer) sync(ctx context.Context, direction planner.Direction, log logger.Logger) (Result, error) {
	var result Result

	objects, err := s.store.ListObjects(ctx, s.listPrefix())
	if err != nil {
		return result, err
	}
	listing, err := diff.NewListing(objects, s.remote.Root())
	if err != nil {
		return result, err
	}

	localFiles, err := diff.ScanLocal(ctx, s.local.Root(), s.local.Path())
	if err != nil {
		return result, err
	}

	paths := diff.AllRelativePaths(localFiles, listing)
	classifier := diff.NewClassifier(s.hasher, s.local.Root(), s.remote.Root(), log)

	s.reporter.SetTotal(len(paths))

	for _, rel := range paths {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		state, err := classifier.Classify(ctx, rel, listing)
		if err != nil {
			return result, err
		}

		action, err := planner.ActionFor(direction, rel, state)
		if err != nil {
			return result, err
		}

		s.reporter.Start(rel, action.Type)
		if err := s.apply(ctx, action, log); err != nil {
			s.reporter.Error(err)
			return result, err
		}
		s.reporter.Complete()

		result.Stats.Record(action.Type)
	}

	return result, nil
}

// resolveLocal maps rel into the local cache, refusing anything that would
// land outside its root
func (s *Synchronizer) resolveLocal(rel string) (string, error) {
	if !diff.IsCanonical(rel) {
		return "", fmt.Errorf("%w: %w: path %q is not canonical", domain.ErrLocalIO, domain.ErrPermissionDenied, rel)
	}

	localPath := s.local.Resolve(rel)
	r, err := filepath.Rel(s.local.Root(), localPath)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %w: path %q escapes %s", domain.ErrLocalIO, domain.ErrPermissionDenied, rel, s.local.Root())
	}
	return localPath, nil
}

func (s *Synchronizer) apply(ctx context.Context, action planner.Action, log logger.Logger) error {
	if action.Type == domain.ActionSkip {
		return nil
	}

	localPath, err := s.resolveLocal(action.Path)
	if err != nil {
		return err
	}
	remotePath := s.remote.Resolve(action.Path)

	switch action.Type {
	case domain.ActionSkip:
		return nil

	case domain.ActionDownload:
		log.Info("Downloading file.", "remote_path", remotePath, "local_path", localPath, "reason", action.Reason)
		return s.store.Download(ctx, remotePath, localPath)

	case domain.ActionUpload:
		log.Info("Uploading file.", "local_path", localPath, "remote_path", remotePath, "reason", action.Reason)
		return s.store.Upload(ctx, localPath, remotePath)

	case domain.ActionDeleteLocal:
		log.Info("Deleting local file.", "local_path", localPath)
		if err := os.Remove(localPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: delete %s: %w", domain.ErrLocalIO, localPath, err)
		}
		return nil

	case domain.ActionDeleteRemote:
		log.Info("Deleting remote file.", "remote_path", remotePath)
		return s.store.Delete(ctx, remotePath)
	}

	return fmt.Errorf("%w: no handler for action %q", domain.ErrUnexpectedSyncState, action.Type)
}

func statsArgs(st planner.Stats) []any {
	return []any{
		"skipped", st.Skipped,
		"downloaded", st.Downloaded,
		"uploaded", st.Uploaded,
		"deleted_local", st.DeletedLocal,
		"deleted_remote", st.DeletedRemote,
	}
}
