package generation

import (
	"context"

	"github.com/stretchr/testify/mock"

	"scenecraft/internal/models"
	"scenecraft/internal/providers"
	"scenecraft/pkg/ffmpeg"
	"scenecraft/pkg/storage"
)

// MockStorage is a mock implementation of storage.Storage
type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) UploadObject(ctx context.Context, localPath, key string) error {
	args := m.Called(ctx, localPath, key)
	return args.Error(0)
}

func (m *MockStorage) ReplaceObject(ctx context.Context, key, localPath string) error {
	args := m.Called(ctx, key, localPath)
	return args.Error(0)
}

func (m *MockStorage) DownloadObject(ctx context.Context, key, localPath string) error {
	args := m.Called(ctx, key, localPath)
	return args.Error(0)
}

func (m *MockStorage) DeleteObject(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockStorage) GetObjectMetadata(ctx context.Context, key string) (*storage.Object, error) {
	args := m.Called(ctx, key)
	if obj := args.Get(0); obj != nil {
		return obj.(*storage.Object), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStorage) URL(key string) string {
	return "https://cdn.example.com/" + key
}

func (m *MockStorage) Close() error {
	return nil
}

// MockVideoProvider is a mock implementation of providers.VideoProvider
type MockVideoProvider struct {
	mock.Mock
}

func (m *MockVideoProvider) Submit(ctx context.Context, req providers.VideoRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockVideoProvider) Status(ctx context.Context, jobID string) (*providers.VideoStatus, error) {
	args := m.Called(ctx, jobID)
	if s := args.Get(0); s != nil {
		return s.(*providers.VideoStatus), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockImageProvider is a mock implementation of providers.ImageProvider
type MockImageProvider struct {
	mock.Mock
}

func (m *MockImageProvider) GenerateImage(ctx context.Context, req providers.ImageRequest) (*providers.Media, error) {
	args := m.Called(ctx, req)
	if media := args.Get(0); media != nil {
		return media.(*providers.Media), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockMusicProvider is a mock implementation of providers.MusicProvider
type MockMusicProvider struct {
	mock.Mock
}

func (m *MockMusicProvider) GenerateMusic(ctx context.Context, req providers.MusicRequest) (*providers.Media, error) {
	args := m.Called(ctx, req)
	if media := args.Get(0); media != nil {
		return media.(*providers.Media), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockMediaTool is a mock implementation of MediaTool
type MockMediaTool struct {
	mock.Mock
}

func (m *MockMediaTool) Probe(ctx context.Context, filePath string) (*ffmpeg.ClipMetadata, error) {
	args := m.Called(ctx, filePath)
	if meta := args.Get(0); meta != nil {
		return meta.(*ffmpeg.ClipMetadata), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockMediaTool) ExtractFirstFrame(ctx context.Context, videoPath, imagePath string) error {
	args := m.Called(ctx, videoPath, imagePath)
	return args.Error(0)
}

func (m *MockMediaTool) ExtractLastFrame(ctx context.Context, videoPath, imagePath string) error {
	args := m.Called(ctx, videoPath, imagePath)
	return args.Error(0)
}

// MockRepository is a mock implementation of the asset and music repositories
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) ListAssets(ctx context.Context, projectID string) ([]models.Asset, error) {
	args := m.Called(ctx, projectID)
	return args.Get(0).([]models.Asset), args.Error(1)
}

func (m *MockRepository) CreateAsset(ctx context.Context, asset *models.Asset, maxAssets int) error {
	args := m.Called(ctx, asset, maxAssets)
	return args.Error(0)
}

func (m *MockRepository) SetMusic(ctx context.Context, projectID, musicRef string) error {
	args := m.Called(ctx, projectID, musicRef)
	return args.Error(0)
}
