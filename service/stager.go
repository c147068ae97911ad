package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/Prosperrrr/jexi/model"
	"github.com/Prosperrrr/jexi/pkg/logger"
	"github.com/google/uuid"
)

// allowedExtensions is the upload allow-list.
var allowedExtensions = map[string]bool{
	".mp3":  true,
	".wav":  true,
	".ogg":  true,
	".flac": true,
	".m4a":  true,
}

// Stager accepts a file, persists it, runs the classifier and holds the
// pending classification until the user confirms a content type.
type Stager struct {
	registry   *Registry
	backend    Backend
	classifier Classifier
}

func NewStager(registry *Registry, backend Backend, classifier Classifier) *Stager {
	return &Stager{
		registry:   registry,
		backend:    backend,
		classifier: classifier,
	}
}

// Stage persists the upload under a fresh file id, classifies it
// synchronously and stores the record awaiting confirmation. Classification
// is assumed fast next to pipeline processing; the context makes it
// cancellable in case that assumption breaks.
func (s *Stager) Stage(ctx context.Context, r io.Reader, filename string) (*model.UploadRecord, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedExtensions[ext] {
		return nil, fmt.Errorf("%w: unsupported file type %q", ErrInvalidAudio, ext)
	}

	audio, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read upload: %v", ErrStorage, err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrInvalidAudio)
	}

	fileID := uuid.New().String()
	storageKey := fmt.Sprintf("%s/%s/%s", AreaUploads, fileID, filepath.Base(filename))

	if err := SaveBytes(ctx, s.backend, storageKey, audio, contentTypeForExt(ext)); err != nil {
		return nil, err
	}

	classification, err := s.classifier.Classify(ctx, audio, filename)
	if err != nil {
		// The stored file is useless without a record; best effort removal.
		if delErr := s.backend.DeletePrefix(ctx, AreaUploads+"/"+fileID); delErr != nil {
			logger.Warn(ctx, "failed to remove rejected upload", "file_id", fileID, "error", delErr)
		}
		if errors.Is(err, ErrInvalidAudio) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: classification: %v", ErrInvalidAudio, err)
	}

	rec := &model.UploadRecord{
		FileID:           fileID,
		OriginalFilename: filepath.Base(filename),
		StoragePath:      storageKey,
		DetectedType:     classification.DetectedType,
		Confidence:       classification.Confidence,
		TopPredictions:   classification.TopPredictions,
		State:            model.UploadAwaitingConfirmation,
		CreatedAt:        time.Now(),
	}
	s.registry.SaveUpload(rec)

	logger.Info(ctx, "upload staged",
		"file_id", fileID,
		"filename", rec.OriginalFilename,
		"detected_type", rec.DetectedType,
		"confidence", rec.Confidence,
	)
	return rec, nil
}

// Confirm transitions the record to confirmed. The declared content type is
// authoritative even when it contradicts the classifier. A second
// confirmation fails with ErrNotFound instead of spawning another job.
func (s *Stager) Confirm(fileID string, declared model.ContentType) (*model.UploadRecord, error) {
	if !declared.Valid() {
		return nil, fmt.Errorf("%w: content type %q", ErrInvalidAudio, declared)
	}

	return s.registry.ConfirmUpload(fileID)
}

func contentTypeForExt(ext string) string {
	switch ext {
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".ogg":
		return "audio/ogg"
	case ".flac":
		return "audio/flac"
	case ".m4a":
		return "audio/mp4"
	default:
		return "application/octet-stream"
	}
}
