package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Prosperrrr/jexi/config"
)

// Storage areas. Keys are namespaced "<area>/<id>/..." so concurrent jobs
// never contend on the same path.
const (
	AreaUploads   = "uploads"
	AreaProcessed = "processed"
)

// StorageStats aggregates file counts and sizes per storage area.
type StorageStats struct {
	UploadFiles    int   `json:"upload_files"`
	UploadBytes    int64 `json:"upload_bytes"`
	ProcessedFiles int   `json:"processed_files"`
	ProcessedBytes int64 `json:"processed_bytes"`
	TotalBytes     int64 `json:"total_bytes"`
}

// Backend abstracts where uploaded files and pipeline artifacts live, so the
// local disk layout and an object store are interchangeable.
type Backend interface {
	Save(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, int64, error)
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
	Stats(ctx context.Context) (StorageStats, error)
}

// SaveBytes persists a byte slice, retrying once on failure before the
// error is surfaced.
func SaveBytes(ctx context.Context, b Backend, key string, data []byte, contentType string) error {
	err := b.Save(ctx, key, bytes.NewReader(data), int64(len(data)), contentType)
	if err == nil {
		return nil
	}
	if err2 := b.Save(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err2 == nil {
		return nil
	}
	return fmt.Errorf("%w: save %s: %v", ErrStorage, key, err)
}

// LocalBackend stores files on the local filesystem, mapping the uploads and
// processed areas onto their configured directories.
type LocalBackend struct {
	uploadsDir   string
	processedDir string
}

// NewLocalBackend creates the area directories if needed.
func NewLocalBackend(cfg *config.StorageConfig) (*LocalBackend, error) {
	for _, dir := range []string{cfg.UploadsDir, cfg.ProcessedDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create dir %s: %v", ErrStorage, dir, err)
		}
	}
	return &LocalBackend{
		uploadsDir:   cfg.UploadsDir,
		processedDir: cfg.ProcessedDir,
	}, nil
}

// resolve maps a namespaced key onto a filesystem path, refusing anything
// that would escape the area directory.
func (l *LocalBackend) resolve(key string) (string, error) {
	area, rest, ok := strings.Cut(key, "/")
	if !ok || rest == "" {
		return "", fmt.Errorf("%w: malformed key %q", ErrStorage, key)
	}
	var base string
	switch area {
	case AreaUploads:
		base = l.uploadsDir
	case AreaProcessed:
		base = l.processedDir
	default:
		return "", fmt.Errorf("%w: unknown storage area %q", ErrStorage, area)
	}
	clean := filepath.Clean(rest)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: key escapes area: %q", ErrStorage, key)
	}
	return filepath.Join(base, clean), nil
}

func (l *LocalBackend) Save(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	path, err := l.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: mkdir for %s: %v", ErrStorage, key, err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrStorage, key, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("%w: write %s: %v", ErrStorage, key, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: close %s: %v", ErrStorage, key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: rename %s: %v", ErrStorage, key, err)
	}
	return nil
}

func (l *LocalBackend) Open(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	path, err := l.resolve(key)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, 0, fmt.Errorf("%w: open %s: %v", ErrStorage, key, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("%w: stat %s: %v", ErrStorage, key, err)
	}
	return f, info.Size(), nil
}

func (l *LocalBackend) Delete(ctx context.Context, key string) error {
	path, err := l.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: delete %s: %v", ErrStorage, key, err)
	}
	return nil
}

func (l *LocalBackend) DeletePrefix(ctx context.Context, prefix string) error {
	path, err := l.resolve(prefix)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("%w: delete prefix %s: %v", ErrStorage, prefix, err)
	}
	return nil
}

func (l *LocalBackend) Stats(ctx context.Context) (StorageStats, error) {
	var stats StorageStats
	var err error

	stats.UploadFiles, stats.UploadBytes, err = dirUsage(l.uploadsDir)
	if err != nil {
		return stats, err
	}
	stats.ProcessedFiles, stats.ProcessedBytes, err = dirUsage(l.processedDir)
	if err != nil {
		return stats, err
	}
	stats.TotalBytes = stats.UploadBytes + stats.ProcessedBytes
	return stats, nil
}

func dirUsage(dir string) (files int, size int64, err error) {
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			if os.IsNotExist(walkErr) {
				return nil
			}
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}
		files++
		size += info.Size()
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("%w: walk %s: %v", ErrStorage, dir, err)
	}
	return files, size, nil
}
