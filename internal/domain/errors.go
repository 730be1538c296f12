package domain

import "errors"

// Storage errors
var (
	// ErrRemoteIO wraps every failure reported by a remote object store
	// (listing, download, upload, delete, snapshot)
	ErrRemoteIO = errors.New("remote storage error")

	// ErrLocalIO wraps local filesystem failures during a sync
	ErrLocalIO = errors.New("local storage error")

	// ErrNotFound indicates the requested object does not exist
	ErrNotFound = errors.New("resource not found")

	// ErrPermissionDenied indicates insufficient permissions
	ErrPermissionDenied = errors.New("permission denied")

	// ErrAlreadyExists indicates the destination is already taken
	ErrAlreadyExists = errors.New("resource already exists")
)

// Sync errors
var (
	// ErrUnexpectedSyncState is returned when classification yields a state
	// outside the four known ones. The path is never silently skipped.
	ErrUnexpectedSyncState = errors.New("unexpected sync state")

	// ErrSyncInProgress indicates another process is syncing the same target
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrCommandFailed indicates an external packaging tool exited with an error
	ErrCommandFailed = errors.New("external command failed")
)

// Config errors
var (
	// ErrConfigNotFound indicates config file not found
	ErrConfigNotFound = errors.New("config file not found")

	// ErrConfigInvalid indicates config file is malformed
	ErrConfigInvalid = errors.New("invalid config")

	// ErrUnknownVendor indicates a storage or CDN vendor keyword nobody implements
	ErrUnknownVendor = errors.New("unknown vendor")

	// ErrSuiteNotConfigured indicates neither the suite block nor "all" exists
	ErrSuiteNotConfigured = errors.New("suite not configured")
)
