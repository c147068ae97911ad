package service

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/Prosperrrr/jexi/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioBackend stores uploads and artifacts in an object-storage bucket.
// Keys map directly onto object names, keeping the same area namespacing as
// the local backend.
type MinioBackend struct {
	client *minio.Client
	bucket string
}

func NewMinioBackend(cfg *config.MinioConfig) (*MinioBackend, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &MinioBackend{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist
func (m *MinioBackend) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}

	if !exists {
		err = m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return nil
}

func (m *MinioBackend) Save(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("%w: put %s: %v", ErrStorage, key, err)
	}
	return nil
}

func (m *MinioBackend) Open(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, fmt.Errorf("%w: get %s: %v", ErrStorage, key, err)
	}
	// GetObject is lazy; Stat forces the first request so missing objects
	// surface here instead of on first read.
	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" {
			return nil, 0, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, 0, fmt.Errorf("%w: stat %s: %v", ErrStorage, key, err)
	}
	return obj, info.Size, nil
}

func (m *MinioBackend) Delete(ctx context.Context, key string) error {
	err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("%w: delete %s: %v", ErrStorage, key, err)
	}
	return nil
}

func (m *MinioBackend) DeletePrefix(ctx context.Context, prefix string) error {
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	objects := m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})
	for obj := range objects {
		if obj.Err != nil {
			return fmt.Errorf("%w: list %s: %v", ErrStorage, prefix, obj.Err)
		}
		if err := m.client.RemoveObject(ctx, m.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("%w: delete %s: %v", ErrStorage, obj.Key, err)
		}
	}
	return nil
}

func (m *MinioBackend) Stats(ctx context.Context) (StorageStats, error) {
	var stats StorageStats
	for _, area := range []string{AreaUploads, AreaProcessed} {
		objects := m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{
			Prefix:    area + "/",
			Recursive: true,
		})
		for obj := range objects {
			if obj.Err != nil {
				return stats, fmt.Errorf("%w: list %s: %v", ErrStorage, area, obj.Err)
			}
			switch area {
			case AreaUploads:
				stats.UploadFiles++
				stats.UploadBytes += obj.Size
			case AreaProcessed:
				stats.ProcessedFiles++
				stats.ProcessedBytes += obj.Size
			}
		}
	}
	stats.TotalBytes = stats.UploadBytes + stats.ProcessedBytes
	return stats, nil
}
