package minio

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/Ning0612/pkgsync/internal/core/checksum"
	"github.com/Ning0612/pkgsync/internal/domain"
)

const (
	// DefaultSnapshotPrefix is where snapshot copies live inside the bucket
	DefaultSnapshotPrefix = ".snapshots"

	// MD5MetadataKey carries the content MD5 for multipart uploads
	MD5MetadataKey = "pkgsync-md5"

	snapshotTimeFormat = "20060102T150405.000000000Z"
)

// Config holds the MinIO endpoint, bucket and credentials
type Config struct {
	Endpoint       string
	Bucket         string
	AccessKey      string
	SecretKey      string
	Secure         bool
	SnapshotPrefix string
}

// Store implements an object container on a MinIO bucket
type Store struct {
	client         *minio.Client
	hasher         *checksum.Hasher
	bucket         string
	snapshotPrefix string
}

// New creates a MinIO store
func New(cfg Config) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create minio client: %w", domain.ErrRemoteIO, err)
	}

	snapshotPrefix := strings.Trim(cfg.SnapshotPrefix, "/")
	if snapshotPrefix == "" {
		snapshotPrefix = DefaultSnapshotPrefix
	}

	return &Store{
		client:         client,
		hasher:         checksum.NewDefaultHasher(),
		bucket:         cfg.Bucket,
		snapshotPrefix: snapshotPrefix,
	}, nil
}

// Name returns the bucket name
func (s *Store) Name() string {
	return s.bucket
}

func (s *Store) isSnapshotKey(key string) bool {
	return key == s.snapshotPrefix || strings.HasPrefix(key, s.snapshotPrefix+"/")
}

// ListObjects lists every object under prefix recursively
func (s *Store) ListObjects(ctx context.Context, prefix string) ([]domain.RemoteObject, error) {
	var objects []domain.RemoteObject

	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, wrap("list", prefix, obj.Err)
		}
		if strings.HasSuffix(obj.Key, "/") || s.isSnapshotKey(obj.Key) {
			continue
		}

		sum := checksum.ParseHex(strings.Trim(obj.ETag, "\""))
		if sum == nil {
			info, err := s.client.StatObject(ctx, s.bucket, obj.Key, minio.StatObjectOptions{})
			if err != nil {
				return nil, wrap("stat", obj.Key, err)
			}
			sum = checksum.ParseHex(userMetadata(info.UserMetadata, MD5MetadataKey))
		}

		objects = append(objects, domain.RemoteObject{
			Key:        obj.Key,
			ContentMD5: sum,
			Size:       obj.Size,
		})
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return objects, nil
}

// Download fetches the object into localPath.
// FGetObject stages through a part file and creates parent directories.
func (s *Store) Download(ctx context.Context, key, localPath string) error {
	if err := s.client.FGetObject(ctx, s.bucket, key, localPath, minio.GetObjectOptions{}); err != nil {
		return wrap("download", key, err)
	}
	return nil
}

// Upload puts localPath at key, recording its MD5 as user metadata
func (s *Store) Upload(ctx context.Context, localPath, key string) error {
	sum, err := s.hasher.HashFile(ctx, localPath)
	if err != nil {
		return err
	}

	_, err = s.client.FPutObject(ctx, s.bucket, key, localPath, minio.PutObjectOptions{
		UserMetadata: map[string]string{MD5MetadataKey: checksum.Hex(sum)},
	})
	if err != nil {
		return wrap("upload", key, err)
	}
	return nil
}

// Delete removes the object and every copy under <snapshot-prefix>/<key>/
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return wrap("delete", key, err)
	}

	snapshots := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    path.Join(s.snapshotPrefix, key) + "/",
		Recursive: true,
	})
	var firstErr error
	for rerr := range s.client.RemoveObjects(ctx, s.bucket, snapshots, minio.RemoveObjectsOptions{}) {
		if firstErr == nil {
			firstErr = wrap("delete snapshot", rerr.ObjectName, rerr.Err)
		}
	}
	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

// Snapshot server-side copies the object to <snapshot-prefix>/<key>/<timestamp>
func (s *Store) Snapshot(ctx context.Context, key string) (domain.Snapshot, error) {
	created := time.Now().UTC()
	id := path.Join(s.snapshotPrefix, key, created.Format(snapshotTimeFormat))

	_, err := s.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: s.bucket, Object: id},
		minio.CopySrcOptions{Bucket: s.bucket, Object: key},
	)
	if err != nil {
		return domain.Snapshot{}, wrap("snapshot", key, err)
	}

	return domain.Snapshot{Key: key, ID: id, CreatedAt: created}, nil
}

// Close releases any resources (no-op for the MinIO client)
func (s *Store) Close() error {
	return nil
}

// userMetadata looks up a user metadata value regardless of key casing
func userMetadata(meta map[string]string, key string) string {
	for k, v := range meta {
		k = strings.TrimPrefix(strings.ToLower(k), "x-amz-meta-")
		if k == key {
			return v
		}
	}
	return ""
}

// wrap converts MinIO errors to domain errors, keeping the cause in the chain
func wrap(op, key string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		return fmt.Errorf("%w: %s %s: %w: %w", domain.ErrRemoteIO, op, key, domain.ErrNotFound, err)
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return fmt.Errorf("%w: %s %s: %w: %w", domain.ErrRemoteIO, op, key, domain.ErrPermissionDenied, err)
	}

	return fmt.Errorf("%w: %s %s: %w", domain.ErrRemoteIO, op, key, err)
}
