package storage

import (
	"context"
	"fmt"
	"time"
)

// Storage defines the interface for object store operations. Keys are
// slash-separated object keys relative to the configured directory.
type Storage interface {
	// UploadObject uploads a local file under key
	UploadObject(ctx context.Context, localPath, key string) error

	// ReplaceObject overwrites whatever is stored under key
	ReplaceObject(ctx context.Context, key, localPath string) error

	// DownloadObject downloads an object to a local path
	DownloadObject(ctx context.Context, key, localPath string) error

	// DeleteObject removes an object; deleting a missing object is not an error
	DeleteObject(ctx context.Context, key string) error

	// GetObjectMetadata gets metadata for a single object
	GetObjectMetadata(ctx context.Context, key string) (*Object, error)

	// URL returns the URL clients and providers use to fetch key
	URL(key string) string

	// Close closes any resources used by the storage implementation
	Close() error
}

// Object represents a storage object
type Object struct {
	Key         string            `json:"key"`
	Size        int64             `json:"size"`
	Modified    time.Time         `json:"modified"`
	ETag        string            `json:"etag,omitempty"`
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// StorageConfig represents configuration for storage backends
type StorageConfig struct {
	Backend   StorageBackend `json:"backend"`
	Bucket    string         `json:"bucket"`
	Directory string         `json:"directory"`

	// PublicBaseURL is prefixed to keys when building URLs. When empty the
	// backend derives a URL on its own.
	PublicBaseURL string `json:"public_base_url,omitempty"`

	// AWS SDK specific settings
	AWSRegion   string `json:"aws_region,omitempty"`
	AWSProfile  string `json:"aws_profile,omitempty"`
	AWSEndpoint string `json:"aws_endpoint,omitempty"`

	Timeout time.Duration `json:"timeout"`
}

// StorageBackend represents the type of storage backend
type StorageBackend string

const (
	StorageBackendAWS   StorageBackend = "aws"
	StorageBackendLocal StorageBackend = "local"
)

// String returns the string representation of StorageBackend
func (s StorageBackend) String() string {
	return string(s)
}

// StorageError represents a storage operation error
type StorageError struct {
	Operation string
	Path      string
	Backend   StorageBackend
	Err       error
}

// Error implements the error interface
func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error [%s] during %s operation on %s: %v",
		e.Backend, e.Operation, e.Path, e.Err)
}

// Unwrap returns the underlying error
func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a new storage error
func NewStorageError(operation, path string, backend StorageBackend, err error) *StorageError {
	return &StorageError{
		Operation: operation,
		Path:      path,
		Backend:   backend,
		Err:       err,
	}
}

// joinKey prefixes key with the configured directory
func joinKey(directory, key string) string {
	if directory == "" {
		return key
	}
	return directory + "/" + key
}
