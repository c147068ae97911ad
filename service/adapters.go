package service

import (
	"context"

	"github.com/Prosperrrr/jexi/model"
)

// External model adapters. Each capability gets one narrow interface so a
// concrete provider can be swapped without touching the orchestration core.
// Every call may be slow and may fail; callers pass a context and treat
// errors as AdapterFailure at the stage boundary.

// Classification is the classifier verdict for one uploaded file.
type Classification struct {
	DetectedType   model.ContentType
	Confidence     float64
	TopPredictions []model.Prediction
}

// Classifier decides whether an audio file is music or speech.
type Classifier interface {
	Classify(ctx context.Context, audio []byte, filename string) (*Classification, error)
}

// StemSeparator splits a mixed track into isolated instrument stems.
type StemSeparator interface {
	Separate(ctx context.Context, audio []byte) (map[string][]byte, error)
}

// Transcriber converts audio into a structured transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (*model.Transcript, error)
}

// NoiseReducer removes background noise from a full file or a live chunk.
type NoiseReducer interface {
	Denoise(ctx context.Context, audio []byte) ([]byte, error)
}

// AudioFeatures is the analyzer output for a music track.
type AudioFeatures struct {
	Key        string
	BPM        int
	Duration   string
	SampleRate int
}

// FeatureAnalyzer extracts key, BPM and duration from a track.
type FeatureAnalyzer interface {
	Analyze(ctx context.Context, audio []byte) (*AudioFeatures, error)
}

// Enhancer normalizes audio loudness. It runs against a copy of the source,
// so it can overlap with transcription.
type Enhancer interface {
	Enhance(ctx context.Context, audio []byte) ([]byte, error)
}

// Adapters bundles every capability the pipelines need.
type Adapters struct {
	Classifier    Classifier
	StemSeparator StemSeparator
	Transcriber   Transcriber
	NoiseReducer  NoiseReducer
	Analyzer      FeatureAnalyzer
	Enhancer      Enhancer
}
