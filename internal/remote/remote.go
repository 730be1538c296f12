package remote

import (
	"context"
	"fmt"
	"strconv"

	"github.com/Ning0612/pkgsync/internal/domain"
	"github.com/Ning0612/pkgsync/internal/remote/azure"
	"github.com/Ning0612/pkgsync/internal/remote/gdrive"
	"github.com/Ning0612/pkgsync/internal/remote/local"
	"github.com/Ning0612/pkgsync/internal/remote/minio"
	"github.com/Ning0612/pkgsync/internal/remote/s3"
)

// Store is a flat, key-addressed object store (a "container").
// Keys are slash separated and relative to the store root.
// Every failure is wrapped with domain.ErrRemoteIO; domain.ErrNotFound and
// domain.ErrPermissionDenied are added when the vendor reports them.
type Store interface {
	// Name identifies the container in logs and in the local cache path
	Name() string

	// ListObjects returns every object whose key starts with prefix,
	// each carrying the vendor-reported MD5 of its content
	ListObjects(ctx context.Context, prefix string) ([]domain.RemoteObject, error)

	// Download writes the object content to localPath,
	// creating parent directories as needed
	Download(ctx context.Context, key, localPath string) error

	// Upload writes the file at localPath to key, overwriting any existing object
	Upload(ctx context.Context, localPath, key string) error

	// Delete removes the object together with all of its snapshots
	Delete(ctx context.Context, key string) error

	// Snapshot takes a point-in-time read-only copy of the object
	Snapshot(ctx context.Context, key string) (domain.Snapshot, error)

	// Close releases any resources held by the store
	Close() error
}

// Options is the flat key/value block a store is configured from
type Options map[string]string

// Get returns the value for key, or def when unset
func (o Options) Get(key, def string) string {
	if v, ok := o[key]; ok && v != "" {
		return v
	}
	return def
}

// Require returns the value for key or a configuration error
func (o Options) Require(vendor domain.Vendor, key string) (string, error) {
	v := o.Get(key, "")
	if v == "" {
		return "", fmt.Errorf("%w: %s storage requires %q", domain.ErrConfigInvalid, vendor, key)
	}
	return v, nil
}

// Bool parses a boolean option, returning def when unset
func (o Options) Bool(key string, def bool) (bool, error) {
	v := o.Get(key, "")
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: option %q: %w", domain.ErrConfigInvalid, key, err)
	}
	return b, nil
}

// New creates the store for vendor from its options block
func New(ctx context.Context, vendor domain.Vendor, opts Options) (Store, error) {
	switch vendor {
	case domain.VendorAzure:
		return newAzure(opts)
	case domain.VendorS3:
		return newS3(ctx, opts)
	case domain.VendorMinio:
		return newMinio(opts)
	case domain.VendorGDrive:
		return newGDrive(ctx, opts)
	case domain.VendorLocal:
		path, err := opts.Require(vendor, "path")
		if err != nil {
			return nil, err
		}
		return local.New(path)
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownVendor, vendor)
	}
}

func newAzure(opts Options) (Store, error) {
	conn, err := opts.Require(domain.VendorAzure, "connection-string")
	if err != nil {
		return nil, err
	}
	name, err := opts.Require(domain.VendorAzure, "storage-name")
	if err != nil {
		return nil, err
	}
	return azure.New(azure.Config{
		ConnectionString: conn,
		Container:        name,
	})
}

func newS3(ctx context.Context, opts Options) (Store, error) {
	bucket, err := opts.Require(domain.VendorS3, "bucket")
	if err != nil {
		return nil, err
	}
	return s3.New(ctx, s3.Config{
		Bucket:         bucket,
		Prefix:         opts.Get("prefix", ""),
		Region:         opts.Get("region", ""),
		Endpoint:       opts.Get("endpoint", ""),
		AccessKey:      opts.Get("access-key", ""),
		SecretKey:      opts.Get("secret-key", ""),
		SnapshotPrefix: opts.Get("snapshot-prefix", s3.DefaultSnapshotPrefix),
	})
}

func newMinio(opts Options) (Store, error) {
	endpoint, err := opts.Require(domain.VendorMinio, "endpoint")
	if err != nil {
		return nil, err
	}
	bucket, err := opts.Require(domain.VendorMinio, "bucket")
	if err != nil {
		return nil, err
	}
	secure, err := opts.Bool("secure", true)
	if err != nil {
		return nil, err
	}
	return minio.New(minio.Config{
		Endpoint:       endpoint,
		Bucket:         bucket,
		AccessKey:      opts.Get("access-key", ""),
		SecretKey:      opts.Get("secret-key", ""),
		Secure:         secure,
		SnapshotPrefix: opts.Get("snapshot-prefix", minio.DefaultSnapshotPrefix),
	})
}

func newGDrive(ctx context.Context, opts Options) (Store, error) {
	clientID, err := opts.Require(domain.VendorGDrive, "client-id")
	if err != nil {
		return nil, err
	}
	clientSecret, err := opts.Require(domain.VendorGDrive, "client-secret")
	if err != nil {
		return nil, err
	}
	tokenPath, err := opts.Require(domain.VendorGDrive, "token-path")
	if err != nil {
		return nil, err
	}

	auth := gdrive.NewAuthenticator(clientID, clientSecret, tokenPath)
	client, err := auth.GetClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrRemoteIO, err)
	}
	return gdrive.New(ctx, client, opts.Get("root", "/"))
}
