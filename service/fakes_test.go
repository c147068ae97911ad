package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/Prosperrrr/jexi/model"
)

// Shared test doubles for the adapter interfaces and the storage backend.

type fakeClassifier struct {
	result *Classification
	err    error
}

func (f *fakeClassifier) Classify(ctx context.Context, audio []byte, filename string) (*Classification, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &Classification{
		DetectedType: model.ContentTypeMusic,
		Confidence:   91.5,
		TopPredictions: []model.Prediction{
			{Label: "music", Confidence: 91.5},
			{Label: "speech", Confidence: 8.5},
		},
	}, nil
}

type fakeSeparator struct {
	stems map[string][]byte
	err   error
}

func (f *fakeSeparator) Separate(ctx context.Context, audio []byte) (map[string][]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.stems != nil {
		return f.stems, nil
	}
	out := make(map[string][]byte, len(model.StemNames))
	for _, name := range model.StemNames {
		out[name] = []byte(name + "-data")
	}
	return out, nil
}

type fakeTranscriber struct {
	transcript *model.Transcript
	err        error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audio []byte) (*model.Transcript, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.transcript != nil {
		return f.transcript.Clone(), nil
	}
	return &model.Transcript{
		Segments: []model.Segment{
			{Start: 0, End: 2.5, Text: "hello there"},
			{Start: 2.5, End: 4, Text: "general listener"},
		},
		WordCount: 4,
	}, nil
}

type fakeNoiseReducer struct {
	err error
}

func (f *fakeNoiseReducer) Denoise(ctx context.Context, audio []byte) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return append([]byte("clean:"), audio...), nil
}

type fakeAnalyzer struct {
	features *AudioFeatures
	err      error
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, audio []byte) (*AudioFeatures, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.features != nil {
		return f.features, nil
	}
	return &AudioFeatures{Key: "C major", BPM: 120, Duration: "3:42", SampleRate: 44100}, nil
}

type fakeEnhancer struct {
	err error
}

func (f *fakeEnhancer) Enhance(ctx context.Context, audio []byte) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return append([]byte("loud:"), audio...), nil
}

// workingAdapters returns an adapter set where every capability succeeds.
func workingAdapters() Adapters {
	return Adapters{
		Classifier:    &fakeClassifier{},
		StemSeparator: &fakeSeparator{},
		Transcriber:   &fakeTranscriber{},
		NoiseReducer:  &fakeNoiseReducer{},
		Analyzer:      &fakeAnalyzer{},
		Enhancer:      &fakeEnhancer{},
	}
}

// memBackend is an in-memory storage backend keyed by full storage key.
type memBackend struct {
	mu        sync.Mutex
	files     map[string][]byte
	saveErrs  map[string]int // key -> remaining forced Save failures
	deleteErr error
}

func newMemBackend() *memBackend {
	return &memBackend{
		files:    make(map[string][]byte),
		saveErrs: make(map[string]int),
	}
}

func (m *memBackend) failSaves(key string, times int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveErrs[key] = times
}

func (m *memBackend) Save(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	m.mu.Lock()
	if n := m.saveErrs[key]; n > 0 {
		m.saveErrs[key] = n - 1
		m.mu.Unlock()
		return errors.New("simulated save failure")
	}
	m.mu.Unlock()

	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.files[key] = data
	m.mu.Unlock()
	return nil
}

func (m *memBackend) Open(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	m.mu.Lock()
	data, ok := m.files[key]
	m.mu.Unlock()
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

func (m *memBackend) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.files, key)
	return nil
}

func (m *memBackend) DeletePrefix(ctx context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	for key := range m.files {
		if strings.HasPrefix(key, prefix) {
			delete(m.files, key)
		}
	}
	return nil
}

func (m *memBackend) Stats(ctx context.Context) (StorageStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stats StorageStats
	for key, data := range m.files {
		switch {
		case strings.HasPrefix(key, AreaUploads+"/"):
			stats.UploadFiles++
			stats.UploadBytes += int64(len(data))
		case strings.HasPrefix(key, AreaProcessed+"/"):
			stats.ProcessedFiles++
			stats.ProcessedBytes += int64(len(data))
		}
	}
	stats.TotalBytes = stats.UploadBytes + stats.ProcessedBytes
	return stats, nil
}

func (m *memBackend) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[key]
	return ok
}

func (m *memBackend) keysWithPrefix(prefix string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for key := range m.files {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys
}
