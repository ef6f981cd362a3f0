package storage

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"scenecraft/pkg/config"
)

// StorageFactory creates storage instances based on configuration
type StorageFactory interface {
	CreateStorage(config StorageConfig) (Storage, error)
}

// DefaultStorageFactory implements StorageFactory interface
type DefaultStorageFactory struct {
	logger *zap.Logger
}

// NewStorageFactory creates a new storage factory
func NewStorageFactory(logger *zap.Logger) *DefaultStorageFactory {
	return &DefaultStorageFactory{
		logger: logger,
	}
}

// CreateStorage creates a storage instance based on the configuration
func (f *DefaultStorageFactory) CreateStorage(config StorageConfig) (Storage, error) {
	switch config.Backend {
	case StorageBackendAWS:
		s, err := NewAWSStorage(config, f.logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case StorageBackendLocal:
		s, err := NewLocalStorage(config, f.logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", config.Backend)
	}
}

// NewStorage creates the backend named by the application storage settings
func NewStorage(settings config.StorageSettings, logger *zap.Logger) (Storage, error) {
	return NewStorageFactory(logger).CreateStorage(ConfigFromSettings(settings))
}

// ConfigFromSettings maps application storage settings to a backend config
func ConfigFromSettings(settings config.StorageSettings) StorageConfig {
	return StorageConfig{
		Backend:       StorageBackend(strings.ToLower(settings.Backend)),
		Bucket:        settings.Bucket,
		Directory:     strings.Trim(settings.Directory, "/"),
		PublicBaseURL: strings.TrimRight(settings.PublicBaseURL, "/"),
		AWSRegion:     settings.Region,
		AWSProfile:    settings.Profile,
		AWSEndpoint:   settings.Endpoint,
	}
}
