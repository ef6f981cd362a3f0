package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"scenecraft/pkg/config"
)

func newTestLocalStorage(t *testing.T, publicURL string) *LocalStorage {
	t.Helper()
	s, err := NewLocalStorage(StorageConfig{
		Backend:       StorageBackendLocal,
		Bucket:        t.TempDir(),
		Directory:     "media",
		PublicBaseURL: publicURL,
	}, zap.NewNop())
	require.NoError(t, err)
	return s
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

func TestLocalStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestLocalStorage(t, "")

	src := writeTemp(t, "clip.mp4", "first")
	require.NoError(t, s.UploadObject(ctx, src, "projects/p1/scenes/1/clip.mp4"))

	obj, err := s.GetObjectMetadata(ctx, "projects/p1/scenes/1/clip.mp4")
	require.NoError(t, err)
	assert.Equal(t, int64(5), obj.Size)
	assert.Equal(t, "projects/p1/scenes/1/clip.mp4", obj.Key)

	dst := filepath.Join(t.TempDir(), "out", "clip.mp4")
	require.NoError(t, s.DownloadObject(ctx, "projects/p1/scenes/1/clip.mp4", dst))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))
}

func TestLocalStorageReplaceOverwrites(t *testing.T) {
	ctx := context.Background()
	s := newTestLocalStorage(t, "")

	require.NoError(t, s.UploadObject(ctx, writeTemp(t, "a.mp4", "version-one"), "final/final.mp4"))
	require.NoError(t, s.ReplaceObject(ctx, "final/final.mp4", writeTemp(t, "b.mp4", "v2")))

	obj, err := s.GetObjectMetadata(ctx, "final/final.mp4")
	require.NoError(t, err)
	assert.Equal(t, int64(2), obj.Size)
}

func TestLocalStorageDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestLocalStorage(t, "")

	require.NoError(t, s.UploadObject(ctx, writeTemp(t, "a.png", "png"), "assets/a.png"))
	require.NoError(t, s.DeleteObject(ctx, "assets/a.png"))
	require.NoError(t, s.DeleteObject(ctx, "assets/a.png"), "deleting a missing object is not an error")

	_, err := s.GetObjectMetadata(ctx, "assets/a.png")
	var storageErr *StorageError
	require.True(t, errors.As(err, &storageErr))
	assert.Equal(t, StorageBackendLocal, storageErr.Backend)
}

func TestLocalStorageRejectsEscapingKeys(t *testing.T) {
	s := newTestLocalStorage(t, "")
	err := s.UploadObject(context.Background(), writeTemp(t, "x", "x"), "../../etc/passwd")
	assert.Error(t, err)
}

func TestLocalStorageURL(t *testing.T) {
	s := newTestLocalStorage(t, "https://cdn.example.com/media")
	assert.Equal(t, "https://cdn.example.com/media/projects/p1/final/final.mp4", s.URL("projects/p1/final/final.mp4"))

	s = newTestLocalStorage(t, "")
	assert.Contains(t, s.URL("a/b.png"), "file://")
	assert.Contains(t, s.URL("a/b.png"), "/media/a/b.png")
}

func TestFactoryRejectsUnknownBackend(t *testing.T) {
	_, err := NewStorageFactory(zap.NewNop()).CreateStorage(StorageConfig{Backend: "rclone"})
	assert.Error(t, err)
}

func TestNewStorageFromSettings(t *testing.T) {
	s, err := NewStorage(config.StorageSettings{
		Backend:       "Local",
		Bucket:        t.TempDir(),
		Directory:     "/media/",
		PublicBaseURL: "https://cdn.example.com/",
	}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/a.png", s.URL("a.png"))
}
