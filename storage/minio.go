package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"songmill/config"
	"songmill/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var minioClient *minio.Client

// InitMinio initializes the MinIO client and makes sure the bucket exists.
func InitMinio(cfg *config.Config) error {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return fmt.Errorf("failed to create MinIO client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{Region: cfg.MinioRegion}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
		logger.Info("created bucket", logger.String("bucket", cfg.MinioBucket))
	}

	minioClient = client
	logger.Info("MinIO client initialized", logger.String("endpoint", cfg.MinioEndpoint), logger.String("bucket", cfg.MinioBucket))
	return nil
}

// GetMinioClient returns the MinIO client instance.
func GetMinioClient() *minio.Client {
	return minioClient
}

// ObjectStore wraps the subset of MinIO operations the ingestion pipeline
// needs, bound to one bucket.
type ObjectStore struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

// NewObjectStore builds an ObjectStore over an initialized client.
func NewObjectStore(client *minio.Client, bucket, publicURL string) *ObjectStore {
	return &ObjectStore{client: client, bucket: bucket, publicURL: strings.TrimRight(publicURL, "/")}
}

// PublicURL returns the externally reachable URL for an object.
func (s *ObjectStore) PublicURL(objectName string) string {
	return s.publicURL + "/" + strings.TrimLeft(objectName, "/")
}

// UploadFile uploads a local file under objectName.
func (s *ObjectStore) UploadFile(ctx context.Context, objectName, filePath, contentType string) error {
	_, err := s.client.FPutObject(ctx, s.bucket, objectName, filePath, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", objectName, err)
	}
	return nil
}

// UploadReader uploads a stream under objectName. Size may be -1 when unknown.
func (s *ObjectStore) UploadReader(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, objectName, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", objectName, err)
	}
	return nil
}

// RemoveObject deletes a single object. Missing objects are not an error.
func (s *ObjectStore) RemoveObject(ctx context.Context, objectName string) error {
	return s.client.RemoveObject(ctx, s.bucket, objectName, minio.RemoveObjectOptions{})
}

// RemovePrefix deletes every object under the given prefix. Used by
// ingestion compensation to drop partially hosted HLS output.
func (s *ObjectStore) RemovePrefix(ctx context.Context, prefix string) error {
	objectCh := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})

	var firstErr error
	for object := range objectCh {
		if object.Err != nil {
			if firstErr == nil {
				firstErr = object.Err
			}
			continue
		}
		if err := s.client.RemoveObject(ctx, s.bucket, object.Key, minio.RemoveObjectOptions{}); err != nil {
			logger.Warn("failed to remove object during cleanup",
				logger.String("object", object.Key), logger.ErrorField(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// ObjectNameForURL maps a public URL produced by PublicURL back to its
// object name. Returns false for URLs outside this store.
func (s *ObjectStore) ObjectNameForURL(u string) (string, bool) {
	prefix := s.publicURL + "/"
	if !strings.HasPrefix(u, prefix) {
		return "", false
	}
	return strings.TrimPrefix(u, prefix), true
}
