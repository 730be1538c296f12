package domain

import "time"

// RemoteObject is one entry of a remote listing
type RemoteObject struct {
	// Key is the full object key relative to the store root
	// (e.g. "apt/dists/stable/Release")
	Key string

	// ContentMD5 is the vendor-reported MD5 digest of the object content.
	// Nil when the vendor could not provide one; such objects never
	// classify as in sync.
	ContentMD5 []byte

	// Size in bytes
	Size int64
}

// Snapshot describes a point-in-time, read-only copy of a remote object
type Snapshot struct {
	// Key of the live object the snapshot was taken from
	Key string

	// ID is the vendor's handle for the snapshot (Azure snapshot timestamp,
	// copy key for S3/MinIO, revision ID for Drive)
	ID string

	// CreatedAt is when the snapshot was requested
	CreatedAt time.Time
}
