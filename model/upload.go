package model

import (
	"time"
)

// ContentType is the category an uploaded file was routed to.
type ContentType string

const (
	ContentTypeMusic   ContentType = "music"
	ContentTypeSpeech  ContentType = "speech"
	ContentTypeUnknown ContentType = "unknown"
)

// Valid reports whether the content type is one a pipeline exists for.
func (t ContentType) Valid() bool {
	return t == ContentTypeMusic || t == ContentTypeSpeech
}

// UploadState is the lifecycle state of a staged upload.
type UploadState string

const (
	UploadAwaitingConfirmation UploadState = "awaiting_confirmation"
	UploadConfirmed            UploadState = "confirmed"
	UploadExpired              UploadState = "expired"
)

// Prediction is one classifier guess with its confidence (0-100).
type Prediction struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// UploadRecord tracks a single uploaded file from staging through
// confirmation. It is created on upload, mutated only by confirmation or
// expiry, and removed by the cleanup sweep.
type UploadRecord struct {
	FileID           string       `json:"file_id"`
	OriginalFilename string       `json:"original_filename"`
	StoragePath      string       `json:"storage_path"`
	DetectedType     ContentType  `json:"detected_type"`
	Confidence       float64      `json:"confidence"`
	TopPredictions   []Prediction `json:"top_predictions"`
	State            UploadState  `json:"state"`
	CreatedAt        time.Time    `json:"created_at"`
}

// ExpiredAt reports whether the record has outlived the staging TTL at
// the given instant.
func (r *UploadRecord) ExpiredAt(now time.Time, ttl time.Duration) bool {
	return now.Sub(r.CreatedAt) > ttl
}
