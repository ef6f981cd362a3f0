package storage

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// LocalStorage implements Storage interface for local filesystem
type LocalStorage struct {
	config   StorageConfig
	logger   *zap.Logger
	basePath string
}

// NewLocalStorage creates a new local storage instance. The bucket is used as
// the base directory.
func NewLocalStorage(config StorageConfig, logger *zap.Logger) (*LocalStorage, error) {
	basePath := config.Bucket
	if config.Directory != "" {
		basePath = filepath.Join(basePath, config.Directory)
	}

	absBase, err := filepath.Abs(basePath)
	if err != nil {
		return nil, NewStorageError("init", basePath, StorageBackendLocal, err)
	}
	if err := os.MkdirAll(absBase, 0755); err != nil {
		return nil, NewStorageError("init", absBase, StorageBackendLocal, err)
	}

	logger.Info("Local storage initialized", zap.String("base_path", absBase))

	return &LocalStorage{
		config:   config,
		logger:   logger,
		basePath: absBase,
	}, nil
}

// resolve maps a key to a path under the base directory
func (l *LocalStorage) resolve(key string) (string, error) {
	full := filepath.Join(l.basePath, filepath.FromSlash(key))
	if full != l.basePath && !strings.HasPrefix(full, l.basePath+string(os.PathSeparator)) {
		return "", fmt.Errorf("key escapes storage root: %s", key)
	}
	return full, nil
}

// DownloadObject copies a stored file to localPath
func (l *LocalStorage) DownloadObject(ctx context.Context, key, localPath string) error {
	sourcePath, err := l.resolve(key)
	if err != nil {
		return NewStorageError("download_object", key, StorageBackendLocal, err)
	}

	if err := copyFile(sourcePath, localPath); err != nil {
		return NewStorageError("download_object", key, StorageBackendLocal, err)
	}

	l.logger.Debug("Copied local object",
		zap.String("source", sourcePath),
		zap.String("destination", localPath))

	return nil
}

// UploadObject copies a local file into the storage directory
func (l *LocalStorage) UploadObject(ctx context.Context, localPath, key string) error {
	destPath, err := l.resolve(key)
	if err != nil {
		return NewStorageError("upload_object", key, StorageBackendLocal, err)
	}

	// write to a sibling temp file first so readers never see a partial object
	tmpPath := destPath + ".partial"
	if err := copyFile(localPath, tmpPath); err != nil {
		os.Remove(tmpPath)
		return NewStorageError("upload_object", key, StorageBackendLocal, err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return NewStorageError("upload_object", key, StorageBackendLocal, err)
	}

	l.logger.Debug("Stored local object",
		zap.String("source", localPath),
		zap.String("destination", destPath))

	return nil
}

// ReplaceObject replaces an existing file
func (l *LocalStorage) ReplaceObject(ctx context.Context, key, localPath string) error {
	return l.UploadObject(ctx, localPath, key)
}

// DeleteObject removes a stored file
func (l *LocalStorage) DeleteObject(ctx context.Context, key string) error {
	fullPath, err := l.resolve(key)
	if err != nil {
		return NewStorageError("delete_object", key, StorageBackendLocal, err)
	}
	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return NewStorageError("delete_object", key, StorageBackendLocal, err)
	}
	return nil
}

// GetObjectMetadata gets metadata for a single object
func (l *LocalStorage) GetObjectMetadata(ctx context.Context, key string) (*Object, error) {
	fullPath, err := l.resolve(key)
	if err != nil {
		return nil, NewStorageError("get_object_metadata", key, StorageBackendLocal, err)
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		return nil, NewStorageError("get_object_metadata", key, StorageBackendLocal, err)
	}

	return &Object{
		Key:         key,
		Size:        info.Size(),
		Modified:    info.ModTime(),
		ContentType: mime.TypeByExtension(filepath.Ext(fullPath)),
		Metadata: map[string]string{
			"mode": info.Mode().String(),
		},
	}, nil
}

// URL returns the public URL of key, or a file:// URL when no public base
// URL is configured
func (l *LocalStorage) URL(key string) string {
	if l.config.PublicBaseURL != "" {
		return l.config.PublicBaseURL + "/" + key
	}
	return "file://" + filepath.ToSlash(filepath.Join(l.basePath, filepath.FromSlash(key)))
}

// Close closes any resources used by the storage implementation
func (l *LocalStorage) Close() error {
	l.logger.Debug("Closing local storage")
	return nil
}

// copyFile copies src to dst, creating dst's directory
func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		destFile.Close()
		return err
	}
	return destFile.Close()
}
