package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Prosperrrr/jexi/model"
)

func agedJob(jobID string, status model.JobStatus, age time.Duration, now time.Time) *model.Job {
	return &model.Job{
		JobID:     jobID,
		Status:    status,
		CreatedAt: now.Add(-age),
	}
}

func TestSweepRemovesExpiredJobs(t *testing.T) {
	registry := NewRegistry(time.Hour)
	backend := newMemBackend()
	now := time.Now()

	registry.SaveJob(agedJob("old-done", model.JobCompleted, 25*time.Hour, now))
	registry.SaveJob(agedJob("old-failed", model.JobFailed, 30*time.Hour, now))
	registry.SaveJob(agedJob("fresh", model.JobCompleted, time.Hour, now))
	for _, jobID := range []string{"old-done", "old-failed", "fresh"} {
		backend.files["processed/"+jobID+"/metadata.json"] = []byte("{}")
	}

	sched := NewCleanupScheduler(registry, backend, 24*time.Hour, time.Hour, time.Minute)
	sched.Sweep(context.Background(), now)

	if registry.GetJob("old-done") != nil {
		t.Error("25h-old completed job should be deleted")
	}
	if registry.GetJob("old-failed") != nil {
		t.Error("30h-old failed job should be deleted")
	}
	if registry.GetJob("fresh") == nil {
		t.Error("1h-old job must survive")
	}
	if backend.has("processed/old-done/metadata.json") {
		t.Error("Files of a deleted job should be gone")
	}
	if !backend.has("processed/fresh/metadata.json") {
		t.Error("Files of a surviving job must remain")
	}
}

func TestSweepNeverDeletesProcessingJobs(t *testing.T) {
	registry := NewRegistry(time.Hour)
	backend := newMemBackend()
	now := time.Now()

	registry.SaveJob(agedJob("stuck", model.JobProcessing, 25*time.Hour, now))
	backend.files["processed/stuck/clean_audio.wav"] = []byte("x")

	sched := NewCleanupScheduler(registry, backend, 24*time.Hour, time.Hour, time.Minute)
	sched.Sweep(context.Background(), now)

	if registry.GetJob("stuck") == nil {
		t.Error("A processing job is never deleted, no matter how old")
	}
	if !backend.has("processed/stuck/clean_audio.wav") {
		t.Error("Files of a processing job must remain")
	}
}

func TestSweepRemovesStaleUploads(t *testing.T) {
	registry := NewRegistry(time.Hour)
	backend := newMemBackend()
	now := time.Now()

	stale := stagedRecord("stale")
	stale.CreatedAt = now.Add(-2 * time.Hour)
	fresh := stagedRecord("fresh")
	fresh.CreatedAt = now.Add(-10 * time.Minute)
	registry.SaveUpload(stale)
	registry.SaveUpload(fresh)
	backend.files["uploads/stale/song.mp3"] = []byte("x")
	backend.files["uploads/fresh/song.mp3"] = []byte("x")

	sched := NewCleanupScheduler(registry, backend, 24*time.Hour, time.Hour, time.Minute)
	sched.Sweep(context.Background(), now)

	if registry.GetUpload("stale") != nil {
		t.Error("Stale upload should be deleted")
	}
	if backend.has("uploads/stale/song.mp3") {
		t.Error("Stale upload file should be gone")
	}
	if registry.GetUpload("fresh") == nil {
		t.Error("Fresh upload must survive")
	}
}

func TestSweepRetainsRecordOnDeleteFailure(t *testing.T) {
	registry := NewRegistry(time.Hour)
	backend := newMemBackend()
	now := time.Now()

	registry.SaveJob(agedJob("old", model.JobCompleted, 25*time.Hour, now))
	backend.files["processed/old/metadata.json"] = []byte("{}")
	backend.deleteErr = errors.New("disk on fire")

	sched := NewCleanupScheduler(registry, backend, 24*time.Hour, time.Hour, time.Minute)
	sched.Sweep(context.Background(), now)

	// Files failed to delete, so the record stays for the next interval.
	if registry.GetJob("old") == nil {
		t.Error("Record must survive a file deletion failure")
	}

	backend.deleteErr = nil
	sched.Sweep(context.Background(), now)
	if registry.GetJob("old") != nil {
		t.Error("Record should be swept once deletion succeeds")
	}
}

func TestSweepOneFailureDoesNotAbortRest(t *testing.T) {
	registry := NewRegistry(time.Hour)
	failing := newMemBackend()
	now := time.Now()

	registry.SaveJob(agedJob("a", model.JobCompleted, 25*time.Hour, now))
	registry.SaveJob(agedJob("b", model.JobCompleted, 25*time.Hour, now))

	// Backend that fails only for job "a".
	backend := &selectiveFailBackend{memBackend: failing, failPrefix: "processed/a"}

	sched := NewCleanupScheduler(registry, backend, 24*time.Hour, time.Hour, time.Minute)
	sched.Sweep(context.Background(), now)

	if registry.GetJob("a") == nil {
		t.Error("Failing record should be retained")
	}
	if registry.GetJob("b") != nil {
		t.Error("Other records should still be swept")
	}
}

// selectiveFailBackend fails DeletePrefix for one prefix only.
type selectiveFailBackend struct {
	*memBackend
	failPrefix string
}

func (s *selectiveFailBackend) DeletePrefix(ctx context.Context, prefix string) error {
	if prefix == s.failPrefix {
		return errors.New("simulated delete failure")
	}
	return s.memBackend.DeletePrefix(ctx, prefix)
}

func TestSchedulerStartStop(t *testing.T) {
	registry := NewRegistry(time.Hour)
	sched := NewCleanupScheduler(registry, newMemBackend(), 24*time.Hour, time.Hour, 10*time.Millisecond)

	sched.Start()
	time.Sleep(30 * time.Millisecond)
	sched.Stop() // must not hang or panic
}
