package gdrive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/Ning0612/pkgsync/internal/core/checksum"
	"github.com/Ning0612/pkgsync/internal/domain"
)

const (
	// MimeTypeFolder is the MIME type for Google Drive folders
	MimeTypeFolder = "application/vnd.google-apps.folder"
	// PageSize is the number of files to fetch per request
	PageSize = 100
)

// Store implements an object container on a Google Drive folder tree.
// Object keys map to folder paths below root.
type Store struct {
	service *drive.Service
	root    string   // Root folder path in Drive (e.g., "/pkgsync/indexed")
	rootID  string   // Cached root folder ID
	cache   *idCache // Cache for path -> ID mapping
}

// idCache caches path to ID lookups with thread-safe access
type idCache struct {
	mu    sync.RWMutex
	paths map[string]string
}

func newIDCache() *idCache {
	return &idCache{
		paths: make(map[string]string),
	}
}

func (c *idCache) get(path string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.paths[path]
	return id, ok
}

func (c *idCache) set(path, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paths[path] = id
}

func (c *idCache) delete(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.paths, path)
}

// New creates a Drive store, creating the root folder if it does not exist
func New(ctx context.Context, client *http.Client, root string) (*Store, error) {
	service, err := drive.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("%w: create Drive service: %w", domain.ErrRemoteIO, err)
	}

	s := &Store{
		service: service,
		root:    normalizeRoot(root),
		cache:   newIDCache(),
	}

	rootID, err := s.getOrCreateFolderID(ctx, s.root)
	if err != nil {
		return nil, wrap("resolve root", s.root, err)
	}
	s.rootID = rootID
	s.cache.set(s.root, rootID)

	return s, nil
}

// normalizeRoot normalizes the root path
func normalizeRoot(root string) string {
	root = strings.TrimSpace(root)
	if root == "" || root == "/" {
		return ""
	}
	// Ensure leading slash, no trailing slash
	if !strings.HasPrefix(root, "/") {
		root = "/" + root
	}
	return strings.TrimSuffix(root, "/")
}

// Name returns the root folder name
func (s *Store) Name() string {
	if s.root == "" {
		return "drive"
	}
	return path.Base(s.root)
}

// ListObjects walks the folder tree below the deepest folder named by
// prefix and returns every file whose key starts with prefix
func (s *Store) ListObjects(ctx context.Context, prefix string) ([]domain.RemoteObject, error) {
	base := ""
	if i := strings.LastIndex(prefix, "/"); i >= 0 {
		base = prefix[:i]
	}

	fullBase, err := s.joinPath(base)
	if err != nil {
		return nil, wrap("list", prefix, err)
	}
	folderID, err := s.getFileID(ctx, fullBase)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, wrap("list", prefix, err)
	}

	var objects []domain.RemoteObject
	if err := s.walk(ctx, folderID, base, func(obj domain.RemoteObject) {
		if strings.HasPrefix(obj.Key, prefix) {
			objects = append(objects, obj)
		}
	}); err != nil {
		return nil, wrap("list", prefix, err)
	}
	return objects, nil
}

// walk lists folderID page by page and descends into subfolders
func (s *Store) walk(ctx context.Context, folderID, relDir string, visit func(domain.RemoteObject)) error {
	pageToken := ""
	for {
		query := fmt.Sprintf("'%s' in parents and trashed = false", folderID)
		call := s.service.Files.List().
			Q(query).
			PageSize(PageSize).
			Fields("nextPageToken, files(id, name, mimeType, size, md5Checksum)")
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		fileList, err := call.Context(ctx).Do()
		if err != nil {
			return err
		}

		for _, f := range fileList.Files {
			key := f.Name
			if relDir != "" {
				key = relDir + "/" + f.Name
			}

			if f.MimeType == MimeTypeFolder {
				if fullPath, err := s.joinPath(key); err == nil {
					s.cache.set(fullPath, f.Id)
				}
				if err := s.walk(ctx, f.Id, key, visit); err != nil {
					return err
				}
				continue
			}

			// Google Docs have no md5Checksum; they never classify as in sync
			visit(domain.RemoteObject{
				Key:        key,
				ContentMD5: checksum.ParseHex(f.Md5Checksum),
				Size:       f.Size,
			})
		}

		pageToken = fileList.NextPageToken
		if pageToken == "" {
			return nil
		}
	}
}

// Download fetches the file content into localPath via a temp file
func (s *Store) Download(ctx context.Context, key, localPath string) error {
	fullPath, err := s.joinPath(key)
	if err != nil {
		return wrap("download", key, err)
	}
	fileID, err := s.getFileID(ctx, fullPath)
	if err != nil {
		return wrap("download", key, err)
	}

	resp, err := s.service.Files.Get(fileID).Context(ctx).Download()
	if err != nil {
		return wrap("download", key, err)
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return fmt.Errorf("%w: create %s: %w", domain.ErrLocalIO, filepath.Dir(localPath), err)
	}

	tempPath := localPath + ".pkgsync.tmp"
	f, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("%w: create %s: %w", domain.ErrLocalIO, tempPath, err)
	}

	_, copyErr := io.Copy(f, resp.Body)
	closeErr := f.Close()

	if copyErr != nil {
		os.Remove(tempPath)
		return wrap("download", key, copyErr)
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

// Upload creates or overwrites the file at key
func (s *Store) Upload(ctx context.Context, localPath, key string) error {
	fullPath, err := s.joinPath(key)
	if err != nil {
		return wrap("upload", key, err)
	}

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", domain.ErrLocalIO, localPath, err)
	}
	defer f.Close()

	dirPath := path.Dir(fullPath)
	fileName := path.Base(fullPath)

	existingID, err := s.getFileID(ctx, fullPath)
	if err == nil {
		_, err = s.service.Files.Update(existingID, &drive.File{Name: fileName}).
			Context(ctx).
			Media(f).
			Do()
		if err != nil {
			return wrap("upload", key, err)
		}
		return nil
	}

	// Only create a new file when the lookup said "not found"
	if !errors.Is(err, domain.ErrNotFound) {
		return wrap("upload", key, err)
	}

	parentID, err := s.getOrCreateFolderID(ctx, dirPath)
	if err != nil {
		return wrap("upload", key, err)
	}

	created, err := s.service.Files.Create(&drive.File{
		Name:    fileName,
		Parents: []string{parentID},
	}).
		Fields("id").
		Context(ctx).
		Media(f).
		Do()
	if err != nil {
		return wrap("upload", key, err)
	}
	s.cache.set(fullPath, created.Id)
	return nil
}

// Delete permanently deletes the file. Drive drops every revision with it,
// including the ones pinned by Snapshot.
func (s *Store) Delete(ctx context.Context, key string) error {
	fullPath, err := s.joinPath(key)
	if err != nil {
		return wrap("delete", key, err)
	}
	fileID, err := s.getFileID(ctx, fullPath)
	if err != nil {
		return wrap("delete", key, err)
	}

	if err := s.service.Files.Delete(fileID).Context(ctx).Do(); err != nil {
		return wrap("delete", key, err)
	}

	s.cache.delete(fullPath)
	return nil
}

// Snapshot pins the current head revision so Drive never prunes it
func (s *Store) Snapshot(ctx context.Context, key string) (domain.Snapshot, error) {
	fullPath, err := s.joinPath(key)
	if err != nil {
		return domain.Snapshot{}, wrap("snapshot", key, err)
	}
	fileID, err := s.getFileID(ctx, fullPath)
	if err != nil {
		return domain.Snapshot{}, wrap("snapshot", key, err)
	}

	file, err := s.service.Files.Get(fileID).
		Fields("id, headRevisionId").
		Context(ctx).Do()
	if err != nil {
		return domain.Snapshot{}, wrap("snapshot", key, err)
	}
	if file.HeadRevisionId == "" {
		return domain.Snapshot{}, fmt.Errorf("%w: snapshot %s: file has no binary revisions", domain.ErrRemoteIO, key)
	}

	rev, err := s.service.Revisions.Update(fileID, file.HeadRevisionId, &drive.Revision{KeepForever: true}).
		Fields("id, keepForever").
		Context(ctx).Do()
	if err != nil {
		return domain.Snapshot{}, wrap("snapshot", key, err)
	}

	return domain.Snapshot{Key: key, ID: rev.Id, CreatedAt: time.Now().UTC()}, nil
}

// Close releases any resources
func (s *Store) Close() error {
	return nil
}

// joinPath joins a key with root and validates against path traversal
func (s *Store) joinPath(key string) (string, error) {
	if key == "" || key == "." {
		return s.root, nil
	}

	cleanPath := path.Clean(key)

	if path.IsAbs(cleanPath) {
		return "", domain.ErrPermissionDenied
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, "../") {
		return "", domain.ErrPermissionDenied
	}

	return s.root + "/" + cleanPath, nil
}

// escapeQueryString escapes special characters in Drive query strings
func escapeQueryString(s string) string {
	// Escape backslash first, then single quote
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "'", "\\'")
	return s
}

// getFileID returns the ID of a file or folder at the given path
func (s *Store) getFileID(ctx context.Context, fullPath string) (string, error) {
	if id, ok := s.cache.get(fullPath); ok {
		return id, nil
	}

	// Empty path means root of Drive
	if fullPath == "" {
		return "root", nil
	}

	parts := strings.Split(strings.TrimPrefix(fullPath, "/"), "/")
	currentID := "root"

	for i, part := range parts {
		if part == "" {
			continue
		}

		partialPath := "/" + strings.Join(parts[:i+1], "/")
		if id, ok := s.cache.get(partialPath); ok {
			currentID = id
			continue
		}

		query := fmt.Sprintf("name = '%s' and '%s' in parents and trashed = false", escapeQueryString(part), currentID)
		fileList, err := s.service.Files.List().
			Q(query).
			PageSize(1).
			Fields("files(id, mimeType)").
			Context(ctx).Do()
		if err != nil {
			return "", err
		}

		if len(fileList.Files) == 0 {
			return "", domain.ErrNotFound
		}

		currentID = fileList.Files[0].Id
		s.cache.set(partialPath, currentID)
	}

	return currentID, nil
}

// getOrCreateFolderID returns the ID of a folder, creating it if necessary
func (s *Store) getOrCreateFolderID(ctx context.Context, fullPath string) (string, error) {
	if fullPath == "" {
		return "root", nil
	}

	if id, ok := s.cache.get(fullPath); ok {
		return id, nil
	}

	parts := strings.Split(strings.TrimPrefix(fullPath, "/"), "/")
	currentID := "root"

	for i, part := range parts {
		if part == "" {
			continue
		}

		partialPath := "/" + strings.Join(parts[:i+1], "/")
		if id, ok := s.cache.get(partialPath); ok {
			currentID = id
			continue
		}

		query := fmt.Sprintf("name = '%s' and '%s' in parents and mimeType = '%s' and trashed = false",
			escapeQueryString(part), currentID, MimeTypeFolder)
		fileList, err := s.service.Files.List().
			Q(query).
			PageSize(1).
			Fields("files(id)").
			Context(ctx).Do()
		if err != nil {
			return "", err
		}

		if len(fileList.Files) > 0 {
			currentID = fileList.Files[0].Id
		} else {
			created, err := s.service.Files.Create(&drive.File{
				Name:     part,
				MimeType: MimeTypeFolder,
				Parents:  []string{currentID},
			}).
				Fields("id").
				Context(ctx).Do()
			if err != nil {
				return "", err
			}
			currentID = created.Id
		}

		s.cache.set(partialPath, currentID)
	}

	return currentID, nil
}

// mapError converts Google API errors to domain errors
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusNotFound:
			return domain.ErrNotFound
		case http.StatusForbidden, http.StatusUnauthorized:
			return domain.ErrPermissionDenied
		case http.StatusConflict:
			return domain.ErrAlreadyExists
		}
	}

	// Fallback to string matching for non-googleapi errors
	if strings.Contains(err.Error(), "notFound") {
		return domain.ErrNotFound
	}

	return nil
}

// wrap adds domain.ErrRemoteIO and the mapped kind, keeping the cause
func wrap(op, key string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if kind := mapError(err); kind != nil && !errors.Is(err, kind) {
		return fmt.Errorf("%w: %s %s: %w: %w", domain.ErrRemoteIO, op, key, kind, err)
	}
	return fmt.Errorf("%w: %s %s: %w", domain.ErrRemoteIO, op, key, err)
}
