package planner

import (
	"fmt"

	"github.com/Ning0612/pkgsync/internal/domain"
)

// Direction is the authoritative side of a sync run
type Direction int

const (
	// FromRemote makes local mirror remote
	FromRemote Direction = iota
	// ToRemote makes remote mirror local
	ToRemote
)

// String returns the direction name used in logs
func (d Direction) String() string {
	switch d {
	case FromRemote:
		return "from_remote"
	case ToRemote:
		return "to_remote"
	default:
		return "unknown"
	}
}

// Action is the planned step for one relative path
type Action struct {
	Type   domain.ActionType
	Path   string
	State  domain.SyncState
	Reason string
}

// ActionFor maps a SyncState to the action the direction requires.
//
//	state          from_remote    to_remote
//	in_sync        skip           skip
//	different      download       upload
//	not_in_remote  delete-local   upload
//	not_in_local   download       delete-remote
func ActionFor(direction Direction, rel string, state domain.SyncState) (Action, error) {
	action := Action{Path: rel, State: state}

	switch state {
	case domain.InSync:
		action.Type = domain.ActionSkip
		action.Reason = "content identical"
		return action, nil
	case domain.Different, domain.NotInRemote, domain.NotInLocal:
	default:
		return action, fmt.Errorf("%w: %d for %s", domain.ErrUnexpectedSyncState, int(state), rel)
	}

	switch direction {
	case FromRemote:
		switch state {
		case domain.Different:
			action.Type, action.Reason = domain.ActionDownload, "content differs"
		case domain.NotInLocal:
			action.Type, action.Reason = domain.ActionDownload, "missing locally"
		case domain.NotInRemote:
			action.Type, action.Reason = domain.ActionDeleteLocal, "removed remotely"
		}
	case ToRemote:
		switch state {
		case domain.Different:
			action.Type, action.Reason = domain.ActionUpload, "content differs"
		case domain.NotInRemote:
			action.Type, action.Reason = domain.ActionUpload, "missing remotely"
		case domain.NotInLocal:
			action.Type, action.Reason = domain.ActionDeleteRemote, "removed locally"
		}
	default:
		return action, fmt.Errorf("unknown sync direction: %d", int(direction))
	}

	return action, nil
}

// Stats counts the actions carried out by one sync run
type Stats struct {
	Skipped       int
	Downloaded    int
	Uploaded      int
	DeletedLocal  int
	DeletedRemote int
}

// Record adds one completed action to the counters
func (s *Stats) Record(t domain.ActionType) {
	switch t {
	case domain.ActionSkip:
		s.Skipped++
	case domain.ActionDownload:
		s.Downloaded++
	case domain.ActionUpload:
		s.Uploaded++
	case domain.ActionDeleteLocal:
		s.DeletedLocal++
	case domain.ActionDeleteRemote:
		s.DeletedRemote++
	}
}

// Changed returns the number of non-skip actions
func (s Stats) Changed() int {
	return s.Downloaded + s.Uploaded + s.DeletedLocal + s.DeletedRemote
}

// Total returns the number of recorded actions
func (s Stats) Total() int {
	return s.Skipped + s.Changed()
}
