package domain

// SyncState classifies one relative path against its local and remote copies
type SyncState int

const (
	// InSync means present on both sides with equal content hashes
	InSync SyncState = iota
	// Different means present on both sides with different content hashes
	Different
	// NotInRemote means present locally only
	NotInRemote
	// NotInLocal means present remotely only
	NotInLocal
)

// String returns the state name used in logs
func (s SyncState) String() string {
	switch s {
	case InSync:
		return "in_sync"
	case Different:
		return "different"
	case NotInRemote:
		return "not_in_remote"
	case NotInLocal:
		return "not_in_local"
	default:
		return "unknown"
	}
}

// IsValid checks if the state is one of the four known values
func (s SyncState) IsValid() bool {
	switch s {
	case InSync, Different, NotInRemote, NotInLocal:
		return true
	}
	return false
}

// ActionType is what the synchronizer does for one path
type ActionType string

const (
	ActionSkip         ActionType = "skip"
	ActionDownload     ActionType = "download"
	ActionUpload       ActionType = "upload"
	ActionDeleteLocal  ActionType = "delete-local"
	ActionDeleteRemote ActionType = "delete-remote"
)

// Operation names the synchronizer entry points, as recorded in history
type Operation string

const (
	OperationPull     Operation = "pull"
	OperationPush     Operation = "push"
	OperationSnapshot Operation = "snapshot"
	OperationIndex    Operation = "index"
)
