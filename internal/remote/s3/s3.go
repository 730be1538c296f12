package s3

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/Ning0612/pkgsync/internal/core/checksum"
	"github.com/Ning0612/pkgsync/internal/domain"
)

const (
	// DefaultSnapshotPrefix is where snapshot copies live inside the bucket
	DefaultSnapshotPrefix = ".snapshots"

	// MD5MetadataKey carries the content MD5 for objects whose ETag is not one
	// (multipart uploads). S3 lower-cases user metadata keys.
	MD5MetadataKey = "pkgsync-md5"

	snapshotTimeFormat = "20060102T150405.000000000Z"
)

// Config holds the bucket coordinates and credentials
type Config struct {
	Bucket         string
	Prefix         string
	Region         string
	Endpoint       string
	AccessKey      string
	SecretKey      string
	SnapshotPrefix string
}

// Store implements an object container on top of an S3 bucket (or prefix)
type Store struct {
	client         *s3.Client
	uploader       *manager.Uploader
	downloader     *manager.Downloader
	hasher         *checksum.Hasher
	bucket         string
	prefix         string
	snapshotPrefix string
}

// New creates an S3 store. Without explicit keys the default AWS credential
// chain is used. A non-empty endpoint selects path-style addressing for
// S3-compatible services.
func New(ctx context.Context, cfg Config) (*Store, error) {
	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: load AWS config: %w", domain.ErrRemoteIO, err)
	}

	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, clientOpts...)

	snapshotPrefix := strings.Trim(cfg.SnapshotPrefix, "/")
	if snapshotPrefix == "" {
		snapshotPrefix = DefaultSnapshotPrefix
	}

	return &Store{
		client:         client,
		uploader:       manager.NewUploader(client),
		downloader:     manager.NewDownloader(client),
		hasher:         checksum.NewDefaultHasher(),
		bucket:         cfg.Bucket,
		prefix:         strings.Trim(cfg.Prefix, "/"),
		snapshotPrefix: snapshotPrefix,
	}, nil
}

// Name returns the bucket name
func (s *Store) Name() string {
	return s.bucket
}

// fullKey maps a store key to its bucket key
func (s *Store) fullKey(key string) string {
	return keyJoin(s.prefix, key)
}

// relKey maps a bucket key back to a store key
func (s *Store) relKey(full string) string {
	if s.prefix == "" {
		return full
	}
	return strings.TrimPrefix(strings.TrimPrefix(full, s.prefix), "/")
}

// isSnapshotKey reports whether a store key is a snapshot copy
func (s *Store) isSnapshotKey(key string) bool {
	return key == s.snapshotPrefix || strings.HasPrefix(key, s.snapshotPrefix+"/")
}

// ListObjects pages through ListObjectsV2 under prefix
func (s *Store) ListObjects(ctx context.Context, prefix string) ([]domain.RemoteObject, error) {
	listPrefix := prefix
	if s.prefix != "" {
		listPrefix = s.prefix + "/" + prefix
	}

	var objects []domain.RemoteObject
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(listPrefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, wrap("list", prefix, err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil || strings.HasSuffix(*obj.Key, "/") {
				continue
			}
			key := s.relKey(*obj.Key)
			if s.isSnapshotKey(key) {
				continue
			}

			sum := md5FromETag(aws.ToString(obj.ETag))
			if sum == nil {
				sum, err = s.metadataMD5(ctx, *obj.Key)
				if err != nil {
					return nil, wrap("head", key, err)
				}
			}

			objects = append(objects, domain.RemoteObject{
				Key:        key,
				ContentMD5: sum,
				Size:       aws.ToInt64(obj.Size),
			})
		}
	}
	return objects, nil
}

// metadataMD5 reads the MD5 stored as user metadata on upload.
// Objects written by other tools have none and come back nil.
func (s *Store) metadataMD5(ctx context.Context, fullKey string) ([]byte, error) {
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(fullKey),
	})
	if err != nil {
		return nil, err
	}
	return checksum.ParseHex(head.Metadata[MD5MetadataKey]), nil
}

// Download fetches the object into localPath via a temp file
func (s *Store) Download(ctx context.Context, key, localPath string) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return fmt.Errorf("%w: create %s: %w", domain.ErrLocalIO, filepath.Dir(localPath), err)
	}

	tempPath := localPath + ".pkgsync.tmp"
	f, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("%w: create %s: %w", domain.ErrLocalIO, tempPath, err)
	}

	_, dlErr := s.downloader.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
	})
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

// Upload puts localPath at key, recording its MD5 as user metadata
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

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(s.fullKey(key)),
		Body:     f,
		Metadata: map[string]string{MD5MetadataKey: checksum.Hex(sum)},
	})
	if err != nil {
		return wrap("upload", key, err)
	}
	return nil
}

// Delete removes the object and every copy under <snapshot-prefix>/<key>/
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	if err != nil {
		return wrap("delete", key, err)
	}

	snapshotKeys, err := s.snapshotKeys(ctx, key)
	if err != nil {
		return wrap("list snapshots", key, err)
	}

	// DeleteObjects accepts at most 1000 keys per request
	for start := 0; start < len(snapshotKeys); start += 1000 {
		end := min(start+1000, len(snapshotKeys))
		ids := make([]s3types.ObjectIdentifier, 0, end-start)
		for _, k := range snapshotKeys[start:end] {
			ids = append(ids, s3types.ObjectIdentifier{Key: aws.String(k)})
		}

		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &s3types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return wrap("delete snapshots", key, err)
		}
		if len(out.Errors) > 0 {
			e := out.Errors[0]
			return fmt.Errorf("%w: delete snapshot %s: %s: %s",
				domain.ErrRemoteIO, aws.ToString(e.Key), aws.ToString(e.Code), aws.ToString(e.Message))
		}
	}
	return nil
}

// snapshotKeys lists the bucket keys of every snapshot of key
func (s *Store) snapshotKeys(ctx context.Context, key string) ([]string, error) {
	var out []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.fullKey(keyJoin(s.snapshotPrefix, key)) + "/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			if obj.Key != nil {
				out = append(out, *obj.Key)
			}
		}
	}
	return out, nil
}

// Snapshot server-side copies the object to <snapshot-prefix>/<key>/<timestamp>
func (s *Store) Snapshot(ctx context.Context, key string) (domain.Snapshot, error) {
	created := time.Now().UTC()
	id := keyJoin(s.snapshotPrefix, key, created.Format(snapshotTimeFormat))

	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		CopySource: aws.String(copySource(s.bucket, s.fullKey(key))),
		Key:        aws.String(s.fullKey(id)),
	})
	if err != nil {
		return domain.Snapshot{}, wrap("snapshot", key, err)
	}

	return domain.Snapshot{Key: key, ID: id, CreatedAt: created}, nil
}

// Close releases any resources (the SDK client holds none that need closing)
func (s *Store) Close() error {
	return nil
}

func keyJoin(parts ...string) string {
	var out []string
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return ""
	}
	return path.Clean(strings.Join(out, "/"))
}

// copySource builds the URL-encoded x-amz-copy-source value. S3 decodes
// it form-style, so the "+" in nightly package names must be escaped too;
// url.PathEscape leaves it alone.
func copySource(bucket, key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = strings.ReplaceAll(url.PathEscape(seg), "+", "%2B")
	}
	return bucket + "/" + strings.Join(segments, "/")
}

// md5FromETag returns the digest for single-part ETags and nil for
// multipart ones ("<hex>-<parts>")
func md5FromETag(etag string) []byte {
	return checksum.ParseHex(strings.Trim(etag, "\""))
}

// wrap converts SDK errors to domain errors, keeping the cause in the chain
func wrap(op, key string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var nsk *s3types.NoSuchKey
	var nf *s3types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return fmt.Errorf("%w: %s %s: %w: %w", domain.ErrRemoteIO, op, key, domain.ErrNotFound, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return fmt.Errorf("%w: %s %s: %w: %w", domain.ErrRemoteIO, op, key, domain.ErrNotFound, err)
		case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return fmt.Errorf("%w: %s %s: %w: %w", domain.ErrRemoteIO, op, key, domain.ErrPermissionDenied, err)
		}
	}

	return fmt.Errorf("%w: %s %s: %w", domain.ErrRemoteIO, op, key, err)
}
