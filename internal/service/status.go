package service

import (
	"fmt"

	"github.com/Ning0612/pkgsync/internal/domain"
	"github.com/Ning0612/pkgsync/internal/lock"
	"github.com/Ning0612/pkgsync/internal/state"
)

// statusOperations are reported by Status, in this order
var statusOperations = []domain.Operation{
	domain.OperationPull,
	domain.OperationPush,
	domain.OperationSnapshot,
	domain.OperationIndex,
}

// TargetStatus is the lock holder and the newest run of each operation
// recorded for one target
type TargetStatus struct {
	Target string

	// Holder is nil when no live process holds the target
	Holder *lock.LockInfo

	// LastRuns holds one record per operation that ever ran on the target
	LastRuns []state.ExecutionRecord
}

// Status reports who holds target and how its last runs went
func (s *SyncService) Status(target string) (*TargetStatus, error) {
	l, err := lock.NewFileLock(s.config.LockDir, target)
	if err != nil {
		return nil, err
	}

	status := &TargetStatus{Target: target}
	if l.IsLocked() {
		// The holder may release between the two reads
		if holder, err := l.GetHolder(); err == nil {
			status.Holder = holder
		}
	}

	for _, op := range statusOperations {
		rec, err := s.state.GetLastExecution(target, op)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			status.LastRuns = append(status.LastRuns, *rec)
		}
	}

	return status, nil
}

// Unlock removes the lock file of target. A lock held by a live process is
// only removed with force; stale or unreadable lock files always are.
// The returned holder is the process whose lock was removed, if any.
func (s *SyncService) Unlock(target string, force bool) (*lock.LockInfo, error) {
	l, err := lock.NewFileLock(s.config.LockDir, target)
	if err != nil {
		return nil, err
	}

	if !l.IsLocked() {
		return nil, l.ForceRelease()
	}

	holder, err := l.GetHolder()
	if err != nil {
		// Went stale or was released since IsLocked
		return nil, l.ForceRelease()
	}
	if !force {
		return holder, &lock.LockError{
			Target: target,
			Holder: holder,
			Reason: "lock is held by a live process, use --force to remove it anyway",
		}
	}

	s.log.Warn("Forcibly removing lock.",
		"target", target,
		"pid", holder.PID,
		"hostname", holder.Hostname,
		"operation", string(holder.Operation),
	)
	if err := l.ForceRelease(); err != nil {
		return holder, fmt.Errorf("failed to remove lock for %s: %w", target, err)
	}
	return holder, nil
}
