package azure

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/Ning0612/pkgsync/internal/core/checksum"
	"github.com/Ning0612/pkgsync/internal/domain"
)

// Config holds the storage account connection and container name
type Config struct {
	ConnectionString string
	Container        string
}

// Store implements an object container on an Azure Blob Storage container
type Store struct {
	client    *container.Client
	hasher    *checksum.Hasher
	container string
}

// New creates an Azure Blob store. No request is made until first use.
func New(cfg Config) (*Store, error) {
	client, err := container.NewClientFromConnectionString(cfg.ConnectionString, cfg.Container, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create container client %s: %w", domain.ErrRemoteIO, cfg.Container, err)
	}

	return &Store{
		client:    client,
		hasher:    checksum.NewDefaultHasher(),
		container: cfg.Container,
	}, nil
}

// Name returns the container name
func (s *Store) Name() string {
	return s.container
}

// ListObjects pages through the flat blob listing under prefix.
// Snapshots are not included in a default listing.
func (s *Store) ListObjects(ctx context.Context, prefix string) ([]domain.RemoteObject, error) {
	var objects []domain.RemoteObject

	pager := s.client.NewListBlobsFlatPager(&container.ListBlobsFlatOptions{
		Prefix: to.Ptr(prefix),
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, wrap("list", prefix, err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			obj := domain.RemoteObject{Key: *item.Name}
			if item.Properties != nil {
				obj.ContentMD5 = item.Properties.ContentMD5
				if item.Properties.ContentLength != nil {
					obj.Size = *item.Properties.ContentLength
				}
			}
			objects = append(objects, obj)
		}
	}
	return objects, nil
}

// Download streams the blob into localPath via a temp file
func (s *Store) Download(ctx context.Context, key, localPath string) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return fmt.Errorf("%w: create %s: %w", domain.ErrLocalIO, filepath.Dir(localPath), err)
	}

	tempPath := localPath + ".pkgsync.tmp"
	f, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("%w: create %s: %w", domain.ErrLocalIO, tempPath, err)
	}

	_, dlErr := s.client.NewBlobClient(key).DownloadFile(ctx, f, nil)
	closeErr := f.Close()

	if dlErr != nil {
		os.Remove(tempPath)
		return wrap("download", key, dlErr)
	}
	if closeErr != nil {
		os.Remove(tempPath)
		return fmt.Errorf("%w: write %s: %w", domain.ErrLocalIO, localPath, closeErr)
	}
	if err := os.Rename(tempPath, localPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("%w: rename %s: %w", domain.ErrLocalIO, localPath, err)
	}
	return nil
}

// Upload overwrites the blob at key and records the content MD5 in its
// properties, which block uploads do not do on their own
func (s *Store) Upload(ctx context.Context, localPath, key string) error {
	sum, err := s.hasher.HashFile(ctx, localPath)
	if err != nil {
		return err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", domain.ErrLocalIO, localPath, err)
	}
	defer f.Close()

	_, err = s.client.NewBlockBlobClient(key).UploadFile(ctx, f, &blockblob.UploadFileOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentMD5: sum},
	})
	if err != nil {
		return wrap("upload", key, err)
	}
	return nil
}

// Delete removes the blob and all of its snapshots
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.NewBlobClient(key).Delete(ctx, &blob.DeleteOptions{
		DeleteSnapshots: to.Ptr(blob.DeleteSnapshotsOptionTypeInclude),
	})
	if err != nil {
		return wrap("delete", key, err)
	}
	return nil
}

// Snapshot creates a native read-only blob snapshot
func (s *Store) Snapshot(ctx context.Context, key string) (domain.Snapshot, error) {
	resp, err := s.client.NewBlobClient(key).CreateSnapshot(ctx, nil)
	if err != nil {
		return domain.Snapshot{}, wrap("snapshot", key, err)
	}

	created := time.Now().UTC()
	if resp.Date != nil {
		created = resp.Date.UTC()
	}

	snap := domain.Snapshot{Key: key, CreatedAt: created}
	if resp.Snapshot != nil {
		snap.ID = *resp.Snapshot
	}
	return snap, nil
}

// Close releases any resources (the pipeline transport is shared)
func (s *Store) Close() error {
	return nil
}

// wrap converts storage errors to domain errors, keeping the cause in the chain
func wrap(op, key string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	switch {
	case bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound, bloberror.ResourceNotFound):
		return fmt.Errorf("%w: %s %s: %w: %w", domain.ErrRemoteIO, op, key, domain.ErrNotFound, err)
	case bloberror.HasCode(err,
		bloberror.AuthorizationFailure,
		bloberror.AuthenticationFailed,
		bloberror.AuthorizationPermissionMismatch,
		bloberror.InsufficientAccountPermissions):
		return fmt.Errorf("%w: %s %s: %w: %w", domain.ErrRemoteIO, op, key, domain.ErrPermissionDenied, err)
	}

	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && strings.HasPrefix(respErr.ErrorCode, "Authorization") {
		return fmt.Errorf("%w: %s %s: %w: %w", domain.ErrRemoteIO, op, key, domain.ErrPermissionDenied, err)
	}

	return fmt.Errorf("%w: %s %s: %w", domain.ErrRemoteIO, op, key, err)
}
