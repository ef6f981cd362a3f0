package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

// AWSStorage implements Storage interface using AWS SDK
type AWSStorage struct {
	client *s3.Client
	config StorageConfig
	logger *zap.Logger
}

// NewAWSStorage creates a new AWS storage instance
func NewAWSStorage(storageConfig StorageConfig, logger *zap.Logger) (*AWSStorage, error) {
	if storageConfig.Timeout == 0 {
		storageConfig.Timeout = 5 * time.Minute
	}
	if storageConfig.Bucket == "" {
		return nil, NewStorageError("aws_config", "", StorageBackendAWS, fmt.Errorf("bucket is required"))
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(storageConfig.AWSRegion),
	}

	if storageConfig.AWSProfile != "" {
		opts = append(opts, config.WithSharedConfigProfile(storageConfig.AWSProfile))
	}

	awsConfig, err := config.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, NewStorageError("aws_config", "", StorageBackendAWS, err)
	}

	// Override endpoint if specified (for S3-compatible services like R2)
	s3Options := []func(*s3.Options){}
	if storageConfig.AWSEndpoint != "" {
		s3Options = append(s3Options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(storageConfig.AWSEndpoint)
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsConfig, s3Options...)

	logger.Info("AWS storage initialized",
		zap.String("bucket", storageConfig.Bucket),
		zap.String("region", storageConfig.AWSRegion),
		zap.String("profile", storageConfig.AWSProfile),
		zap.String("endpoint", storageConfig.AWSEndpoint))

	return &AWSStorage{
		client: client,
		config: storageConfig,
		logger: logger,
	}, nil
}

// DownloadObject downloads an object from S3 to local path
func (a *AWSStorage) DownloadObject(ctx context.Context, key, localPath string) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return NewStorageError("download_object", localPath, StorageBackendAWS, err)
	}

	fullKey := joinKey(a.config.Directory, key)

	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	a.logger.Debug("Downloading S3 object",
		zap.String("bucket", a.config.Bucket),
		zap.String("key", fullKey),
		zap.String("local", localPath))

	output, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.config.Bucket),
		Key:    aws.String(fullKey),
	})
	if err != nil {
		return NewStorageError("download_object", key, StorageBackendAWS, err)
	}
	defer output.Body.Close()

	file, err := os.Create(localPath)
	if err != nil {
		return NewStorageError("download_object", localPath, StorageBackendAWS, err)
	}
	defer file.Close()

	if _, err := io.Copy(file, output.Body); err != nil {
		return NewStorageError("download_object", key, StorageBackendAWS, err)
	}

	a.logger.Debug("Downloaded S3 object",
		zap.String("key", fullKey),
		zap.String("local", localPath))

	return nil
}

// UploadObject uploads a local file to S3
func (a *AWSStorage) UploadObject(ctx context.Context, localPath, key string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return NewStorageError("upload_object", localPath, StorageBackendAWS, err)
	}
	defer file.Close()

	fullKey := joinKey(a.config.Directory, key)

	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	input := &s3.PutObjectInput{
		Bucket: aws.String(a.config.Bucket),
		Key:    aws.String(fullKey),
		Body:   file,
	}
	if contentType := mime.TypeByExtension(filepath.Ext(localPath)); contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	a.logger.Debug("Uploading to S3",
		zap.String("local", localPath),
		zap.String("bucket", a.config.Bucket),
		zap.String("key", fullKey))

	if _, err := a.client.PutObject(ctx, input); err != nil {
		return NewStorageError("upload_object", key, StorageBackendAWS, err)
	}

	a.logger.Info("Uploaded to S3",
		zap.String("bucket", a.config.Bucket),
		zap.String("key", fullKey))

	return nil
}

// ReplaceObject replaces an existing object with a new one
func (a *AWSStorage) ReplaceObject(ctx context.Context, key, localPath string) error {
	// PutObject overwrites by default
	return a.UploadObject(ctx, localPath, key)
}

// DeleteObject deletes an object from S3
func (a *AWSStorage) DeleteObject(ctx context.Context, key string) error {
	fullKey := joinKey(a.config.Directory, key)

	_, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.config.Bucket),
		Key:    aws.String(fullKey),
	})
	if err != nil {
		var notFound *types.NoSuchKey
		if errors.As(err, &notFound) {
			return nil
		}
		return NewStorageError("delete_object", key, StorageBackendAWS, err)
	}

	a.logger.Debug("Deleted S3 object", zap.String("key", fullKey))
	return nil
}

// GetObjectMetadata gets metadata for a single object
func (a *AWSStorage) GetObjectMetadata(ctx context.Context, key string) (*Object, error) {
	fullKey := joinKey(a.config.Directory, key)

	output, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.config.Bucket),
		Key:    aws.String(fullKey),
	})
	if err != nil {
		return nil, NewStorageError("get_object_metadata", key, StorageBackendAWS, err)
	}

	obj := &Object{Key: key}
	if output.ContentLength != nil {
		obj.Size = *output.ContentLength
	}
	if output.LastModified != nil {
		obj.Modified = *output.LastModified
	}
	if output.ETag != nil {
		obj.ETag = strings.Trim(*output.ETag, `"`)
	}
	if output.ContentType != nil {
		obj.ContentType = *output.ContentType
	}
	if len(output.Metadata) > 0 {
		obj.Metadata = make(map[string]string, len(output.Metadata))
		for k, v := range output.Metadata {
			obj.Metadata[k] = v
		}
	}

	return obj, nil
}

// URL returns the public URL of key
func (a *AWSStorage) URL(key string) string {
	fullKey := joinKey(a.config.Directory, key)

	switch {
	case a.config.PublicBaseURL != "":
		return a.config.PublicBaseURL + "/" + fullKey
	case a.config.AWSEndpoint != "":
		return strings.TrimRight(a.config.AWSEndpoint, "/") + "/" + a.config.Bucket + "/" + fullKey
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", a.config.Bucket, a.config.AWSRegion, fullKey)
	}
}

// Close closes any resources used by the storage implementation
func (a *AWSStorage) Close() error {
	a.logger.Debug("Closing AWS storage")
	return nil
}
