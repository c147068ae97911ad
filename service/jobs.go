package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Prosperrrr/jexi/model"
	"github.com/Prosperrrr/jexi/pkg/logger"
	"github.com/google/uuid"
)

// ErrQueueFull is returned when the job queue cannot accept another job
// without blocking the caller.
var ErrQueueFull = errors.New("job queue full")

// Manager turns confirmed uploads into tracked background jobs. A bounded
// worker pool executes them; submission never blocks on pipeline work and
// status reads see snapshots of the last committed update.
type Manager struct {
	registry *Registry
	backend  Backend
	adapters Adapters

	queue   chan string
	workers int
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewManager(registry *Registry, backend Backend, adapters Adapters, workers int) *Manager {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		registry: registry,
		backend:  backend,
		adapters: adapters,
		queue:    make(chan string, 256),
		workers:  workers,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the worker pool.
func (m *Manager) Start() {
	for i := 0; i < m.workers; i++ {
		m.wg.Add(1)
		go m.worker(i)
	}
	logger.Info(m.ctx, "job workers started", "workers", m.workers)
}

// Stop cancels in-flight adapter calls and waits for the workers to drain.
func (m *Manager) Stop() {
	m.cancel()
	m.wg.Wait()
}

// Submit creates a queued job for a confirmed upload and returns
// immediately. Exactly one worker will execute it.
func (m *Manager) Submit(rec *model.UploadRecord, contentType model.ContentType) (*model.Job, error) {
	job := &model.Job{
		JobID:       uuid.New().String(),
		FileID:      rec.FileID,
		Filename:    rec.OriginalFilename,
		SourceKey:   rec.StoragePath,
		ContentType: contentType,
		Status:      model.JobQueued,
		Artifacts:   map[string]string{},
		CreatedAt:   time.Now(),
	}
	m.registry.SaveJob(job)

	select {
	case m.queue <- job.JobID:
	default:
		m.registry.DeleteJob(job.JobID)
		return nil, ErrQueueFull
	}

	return job.Clone(), nil
}

// GetStatus returns the last committed status and progress for a job.
func (m *Manager) GetStatus(jobID string) (model.JobStatus, int, error) {
	job := m.registry.GetJob(jobID)
	if job == nil {
		return "", 0, fmt.Errorf("%w: job %s", ErrNotFound, jobID)
	}
	return job.Status, job.Progress, nil
}

// GetResult returns the full job once it completed. A failed job surfaces
// its stored reason; anything still running is ErrNotReady.
func (m *Manager) GetResult(jobID string) (*model.Job, error) {
	job := m.registry.GetJob(jobID)
	if job == nil {
		return nil, fmt.Errorf("%w: job %s", ErrNotFound, jobID)
	}
	switch job.Status {
	case model.JobCompleted:
		return job, nil
	case model.JobFailed:
		return job, fmt.Errorf("%w: %s", ErrAdapterFailure, job.Error)
	default:
		return nil, fmt.Errorf("%w: job %s is %s", ErrNotReady, jobID, job.Status)
	}
}

func (m *Manager) worker(id int) {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case jobID := <-m.queue:
			m.execute(jobID)
		}
	}
}

// execute owns one job end to end. Adapter failures are converted into a
// failed job state here; nothing may escape and take the pool down.
func (m *Manager) execute(jobID string) {
	ctx := context.WithValue(m.ctx, logger.JobIDKey, jobID)

	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "pipeline panic recovered", "panic", r)
			m.fail(ctx, jobID, fmt.Sprintf("internal error: %v", r))
		}
	}()

	job := m.registry.GetJob(jobID)
	if job == nil {
		logger.Warn(ctx, "queued job vanished before execution")
		return
	}

	if err := m.registry.TransitionJob(jobID, model.JobProcessing); err != nil {
		logger.Error(ctx, "cannot start job", "error", err)
		return
	}
	logger.Info(ctx, "job started", "content_type", job.ContentType, "file_id", job.FileID)

	audio, err := m.readSource(ctx, job.SourceKey)
	if err != nil {
		m.fail(ctx, jobID, fmt.Sprintf("stage load: %v", err))
		return
	}

	switch job.ContentType {
	case model.ContentTypeMusic:
		err = m.runMusic(ctx, jobID, audio)
	case model.ContentTypeSpeech:
		err = m.runSpeech(ctx, jobID, audio)
	default:
		err = fmt.Errorf("no pipeline for content type %q", job.ContentType)
	}

	if err != nil {
		m.fail(ctx, jobID, err.Error())
		return
	}

	// Completion and the progress pin commit together, then the snapshot
	// is persisted so metadata.json records the completed state.
	if err := m.registry.CompleteJob(jobID); err != nil {
		logger.Error(ctx, "cannot complete job", "error", err)
		return
	}
	m.writeMetadata(ctx, jobID)
	logger.Info(ctx, "job completed")
}

func (m *Manager) fail(ctx context.Context, jobID, reason string) {
	if err := m.registry.UpdateJob(jobID, func(j *model.Job) {
		j.Error = reason
	}); err != nil {
		logger.Error(ctx, "cannot record job error", "error", err)
		return
	}
	if err := m.registry.TransitionJob(jobID, model.JobFailed); err != nil {
		logger.Error(ctx, "cannot fail job", "error", err)
	}
	m.writeMetadata(ctx, jobID)
	logger.Warn(ctx, "job failed", "reason", reason)
}

func (m *Manager) readSource(ctx context.Context, key string) ([]byte, error) {
	rc, _, err := m.backend.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	audio, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrStorage, key, err)
	}
	return audio, nil
}

// writeMetadata persists the job snapshot next to its artifacts so results
// survive a restart of the in-memory registry.
func (m *Manager) writeMetadata(ctx context.Context, jobID string) {
	job := m.registry.GetJob(jobID)
	if job == nil {
		return
	}
	data, err := marshalJobMetadata(job)
	if err != nil {
		logger.Warn(ctx, "cannot marshal job metadata", "error", err)
		return
	}
	key := fmt.Sprintf("%s/%s/metadata.json", AreaProcessed, jobID)
	if err := SaveBytes(ctx, m.backend, key, data, "application/json"); err != nil {
		logger.Warn(ctx, "cannot persist job metadata", "error", err)
	}
}

func marshalJobMetadata(job *model.Job) ([]byte, error) {
	return json.MarshalIndent(job, "", "  ")
}
