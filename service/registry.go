package service

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Prosperrrr/jexi/model"
)

// Registry is the in-memory store for upload records and jobs. It is the
// only process-wide shared mutable state besides the rate limiter, so every
// read-modify-write goes through its lock. Readers always get copies; a
// job's fields are mutated exclusively through UpdateJob by the worker that
// owns it.
type Registry struct {
	mu         sync.RWMutex
	uploads    map[string]*model.UploadRecord
	jobs       map[string]*model.Job
	stagingTTL time.Duration
	now        func() time.Time
}

var (
	globalRegistry *Registry
	registryOnce   sync.Once
)

// InitRegistry initializes the global registry.
func InitRegistry(stagingTTL time.Duration) {
	registryOnce.Do(func() {
		globalRegistry = NewRegistry(stagingTTL)
		slog.Info("registry initialized", "staging_ttl", stagingTTL)
	})
}

// GetRegistry returns the global registry.
func GetRegistry() *Registry {
	if globalRegistry == nil {
		globalRegistry = NewRegistry(time.Hour)
	}
	return globalRegistry
}

// NewRegistry creates an empty registry. Used directly by tests.
func NewRegistry(stagingTTL time.Duration) *Registry {
	return &Registry{
		uploads:    make(map[string]*model.UploadRecord),
		jobs:       make(map[string]*model.Job),
		stagingTTL: stagingTTL,
		now:        time.Now,
	}
}

// ---- upload records ----

func (r *Registry) SaveUpload(rec *model.UploadRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rec
	r.uploads[rec.FileID] = &cp
}

// GetUpload returns a copy of the record, flipping it to expired first when
// the staging TTL has passed. Returns nil for unknown ids.
func (r *Registry) GetUpload(fileID string) *model.UploadRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.uploads[fileID]
	if !ok {
		return nil
	}
	r.expireLocked(rec)
	cp := *rec
	return &cp
}

// ConfirmUpload applies the one legal confirmation transition,
// awaiting_confirmation to confirmed. Anything else, including a second
// confirmation of the same file, fails with ErrNotFound so a double submit
// can never spawn a second job.
func (r *Registry) ConfirmUpload(fileID string) (*model.UploadRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.uploads[fileID]
	if !ok {
		return nil, fmt.Errorf("%w: upload %s", ErrNotFound, fileID)
	}
	r.expireLocked(rec)
	if rec.State != model.UploadAwaitingConfirmation {
		return nil, fmt.Errorf("%w: upload %s is %s", ErrNotFound, fileID, rec.State)
	}

	rec.State = model.UploadConfirmed
	cp := *rec
	return &cp, nil
}

// ReleaseUpload rolls a confirmed record back to awaiting confirmation.
// Used when job submission fails after the confirmation already committed,
// so the client's retry finds a confirmable record instead of a stranded
// one.
func (r *Registry) ReleaseUpload(fileID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.uploads[fileID]
	if !ok {
		return
	}
	if rec.State == model.UploadConfirmed {
		rec.State = model.UploadAwaitingConfirmation
	}
}

func (r *Registry) DeleteUpload(fileID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.uploads, fileID)
}

// UploadsSnapshot returns copies of every upload record, with lazy expiry
// applied. Used by the cleanup sweep.
func (r *Registry) UploadsSnapshot() []*model.UploadRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*model.UploadRecord, 0, len(r.uploads))
	for _, rec := range r.uploads {
		r.expireLocked(rec)
		cp := *rec
		out = append(out, &cp)
	}
	return out
}

// expireLocked flips an overdue awaiting record to expired. Confirmed
// records never expire here; their lifetime is the job's.
func (r *Registry) expireLocked(rec *model.UploadRecord) {
	if rec.State == model.UploadAwaitingConfirmation && rec.ExpiredAt(r.now(), r.stagingTTL) {
		rec.State = model.UploadExpired
	}
}

// ---- jobs ----

func (r *Registry) SaveJob(job *model.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.JobID] = job.Clone()
}

// GetJob returns a snapshot copy of the job, or nil.
func (r *Registry) GetJob(jobID string) *model.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return nil
	}
	return job.Clone()
}

// UpdateJob applies fn to the stored job under the write lock. Only the
// worker executing a job may call this for that job; everyone else reads
// snapshots. The fn sees the live record, so it must not retain it.
func (r *Registry) UpdateJob(jobID string, fn func(*model.Job)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: job %s", ErrNotFound, jobID)
	}
	fn(job)
	return nil
}

// TransitionJob validates and applies a status change. Invalid edges are
// rejected so a terminal job can never be revived.
func (r *Registry) TransitionJob(jobID string, to model.JobStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: job %s", ErrNotFound, jobID)
	}
	if !model.ValidJobTransition(job.Status, to) {
		return fmt.Errorf("invalid job transition: %s -> %s", job.Status, to)
	}
	job.Status = to
	if to.Terminal() {
		job.CompletedAt = r.now()
	}
	return nil
}

// CompleteJob moves a job to completed and pins progress to 100 under one
// lock, so no reader observes a completed job below 100 or a non-completed
// job at 100.
func (r *Registry) CompleteJob(jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: job %s", ErrNotFound, jobID)
	}
	if !model.ValidJobTransition(job.Status, model.JobCompleted) {
		return fmt.Errorf("invalid job transition: %s -> %s", job.Status, model.JobCompleted)
	}
	job.Status = model.JobCompleted
	job.Progress = 100
	job.CompletedAt = r.now()
	return nil
}

// SetProgress raises the job's progress. Progress is monotone while
// processing; a lower value is ignored, never applied. 100 is reserved
// for CompleteJob, so stage reporting caps at 99.
func (r *Registry) SetProgress(jobID string, progress int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return
	}
	if progress > 99 {
		progress = 99
	}
	if progress > job.Progress {
		job.Progress = progress
	}
}

// AddArtifact records one named output as soon as its stage commits, so
// partial results are inspectable before the job completes.
func (r *Registry) AddArtifact(jobID, name, storageKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return
	}
	if job.Artifacts == nil {
		job.Artifacts = make(map[string]string)
	}
	job.Artifacts[name] = storageKey
}

func (r *Registry) DeleteJob(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, jobID)
}

// JobsSnapshot returns snapshot copies of every job. Used by the cleanup
// sweep and diagnostics.
func (r *Registry) JobsSnapshot() []*model.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*model.Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, job.Clone())
	}
	return out
}

// Counts returns the number of tracked uploads and jobs.
func (r *Registry) Counts() (uploads, jobs int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.uploads), len(r.jobs)
}
