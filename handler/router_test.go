package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Prosperrrr/jexi/middleware"
	"github.com/Prosperrrr/jexi/model"
	"github.com/Prosperrrr/jexi/service"
)

// Shared fixture: a full API router over in-memory storage and stub
// adapters, mirroring the route layout of main.go.

type stubAdapters struct {
	classifyErr   error
	transcribeErr error
	denoiseErr    error
}

func (s *stubAdapters) Classify(ctx context.Context, audio []byte, filename string) (*service.Classification, error) {
	if s.classifyErr != nil {
		return nil, s.classifyErr
	}
	return &service.Classification{
		DetectedType: model.ContentTypeSpeech,
		Confidence:   88.0,
		TopPredictions: []model.Prediction{
			{Label: "speech", Confidence: 88.0},
			{Label: "music", Confidence: 12.0},
		},
	}, nil
}

func (s *stubAdapters) Separate(ctx context.Context, audio []byte) (map[string][]byte, error) {
	stems := make(map[string][]byte, len(model.StemNames))
	for _, name := range model.StemNames {
		stems[name] = []byte(name)
	}
	return stems, nil
}

func (s *stubAdapters) Transcribe(ctx context.Context, audio []byte) (*model.Transcript, error) {
	if s.transcribeErr != nil {
		return nil, s.transcribeErr
	}
	return &model.Transcript{
		Segments: []model.Segment{
			{Start: 0, End: 2.5, Text: "First line"},
			{Start: 2.5, End: 4, Text: "Second line"},
		},
		WordCount: 4,
	}, nil
}

func (s *stubAdapters) Denoise(ctx context.Context, audio []byte) ([]byte, error) {
	if s.denoiseErr != nil {
		return nil, s.denoiseErr
	}
	return append([]byte("clean:"), audio...), nil
}

func (s *stubAdapters) Analyze(ctx context.Context, audio []byte) (*service.AudioFeatures, error) {
	return &service.AudioFeatures{Key: "D minor", BPM: 110, Duration: "2:30", SampleRate: 44100}, nil
}

func (s *stubAdapters) Enhance(ctx context.Context, audio []byte) ([]byte, error) {
	return append([]byte("loud:"), audio...), nil
}

// memBackend is an in-memory service.Backend for handler tests.
type memBackend struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newMemBackend() *memBackend {
	return &memBackend{files: make(map[string][]byte)}
}

func (m *memBackend) Save(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
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
		return nil, 0, service.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

func (m *memBackend) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, key)
	return nil
}

func (m *memBackend) DeletePrefix(ctx context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.files {
		if strings.HasPrefix(key, prefix) {
			delete(m.files, key)
		}
	}
	return nil
}

func (m *memBackend) Stats(ctx context.Context) (service.StorageStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stats service.StorageStats
	for key, data := range m.files {
		if strings.HasPrefix(key, service.AreaUploads+"/") {
			stats.UploadFiles++
			stats.UploadBytes += int64(len(data))
		} else {
			stats.ProcessedFiles++
			stats.ProcessedBytes += int64(len(data))
		}
	}
	stats.TotalBytes = stats.UploadBytes + stats.ProcessedBytes
	return stats, nil
}

type apiFixture struct {
	router   *gin.Engine
	registry *service.Registry
	backend  *memBackend
	manager  *service.Manager
}

func newAPIFixture(t *testing.T, stubs *stubAdapters) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry := service.NewRegistry(time.Hour)
	backend := newMemBackend()
	adapters := service.Adapters{
		Classifier:    stubs,
		StemSeparator: stubs,
		Transcriber:   stubs,
		NoiseReducer:  stubs,
		Analyzer:      stubs,
		Enhancer:      stubs,
	}

	stager := service.NewStager(registry, backend, stubs)
	manager := service.NewManager(registry, backend, adapters, 2)
	manager.Start()
	t.Cleanup(manager.Stop)

	limiter := middleware.NewSlidingWindow(100, time.Minute)

	uploadHandler := NewUploadHandler(stager)
	processHandler := NewProcessHandler(stager, manager, registry)
	downloadHandler := NewDownloadHandler(registry, backend)
	statsHandler := NewStatsHandler(registry, backend, limiter)

	router := gin.New()
	router.Use(middleware.RequestID())
	api := router.Group("/api")
	{
		api.POST("/upload", middleware.RateLimit(limiter), uploadHandler.Upload)
		api.POST("/process/:file_id", processHandler.Confirm)
		api.GET("/process/:content_type/:job_id/status", processHandler.Status)
		api.GET("/process/:content_type/:job_id", processHandler.Result)
		api.GET("/download/transcript/:job_id/:format", downloadHandler.Transcript)
		api.GET("/download/:job_id/:filename", downloadHandler.Artifact)
		api.GET("/storage/stats", statsHandler.Storage)
	}

	return &apiFixture{
		router:   router,
		registry: registry,
		backend:  backend,
		manager:  manager,
	}
}

// uploadFile posts a multipart upload and returns the decoded response.
func (f *apiFixture) uploadFile(t *testing.T, filename string, payload []byte) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile failed: %v", err)
	}
	fw.Write(payload)
	mw.Close()

	req := httptest.NewRequest("POST", "/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	return w.Code, decodeJSON(t, w)
}

func (f *apiFixture) confirm(t *testing.T, fileID string, contentType string) (int, map[string]any) {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"content_type": contentType})
	req := httptest.NewRequest("POST", "/api/process/"+fileID, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w.Code, decodeJSON(t, w)
}

func (f *apiFixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

// waitCompleted polls the status endpoint until the job is done.
func (f *apiFixture) waitCompleted(t *testing.T, contentType, jobID string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job := f.registry.GetJob(jobID)
		if job != nil && job.Status.Terminal() {
			if job.Status != model.JobCompleted {
				t.Fatalf("Job %s failed: %s", jobID, job.Error)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Job %s never completed", jobID)
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if len(w.Body.Bytes()) == 0 {
		return out
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("Response is not JSON: %v (%s)", err, w.Body.String())
	}
	return out
}
