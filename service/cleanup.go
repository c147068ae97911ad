package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Prosperrrr/jexi/model"
	"github.com/Prosperrrr/jexi/pkg/logger"
)

// CleanupScheduler sweeps jobs and staged uploads past their retention
// horizon on a fixed interval.
//
// Deletion order is files first, then the metadata record. A crash between
// the two leaves a record whose reads surface missing files, which is
// detectable, and the record is swept again on the next interval. The
// reverse order could silently leak files with nothing pointing at them.
//
// A job that is still processing is never deleted, no matter how old.
// Everything else past the horizon goes, including stale queued jobs and
// confirmed uploads; workers read their source fully at start, so removing
// an upload does not disturb a job in flight.
type CleanupScheduler struct {
	registry   *Registry
	backend    Backend
	retention  time.Duration
	stagingTTL time.Duration
	interval   time.Duration

	done chan struct{}
	stop chan struct{}
}

func NewCleanupScheduler(registry *Registry, backend Backend, retention, stagingTTL, interval time.Duration) *CleanupScheduler {
	return &CleanupScheduler{
		registry:   registry,
		backend:    backend,
		retention:  retention,
		stagingTTL: stagingTTL,
		interval:   interval,
		done:       make(chan struct{}),
		stop:       make(chan struct{}),
	}
}

// Start launches the periodic sweep loop.
func (c *CleanupScheduler) Start() {
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-c.stop:
				return
			case <-ticker.C:
				c.Sweep(context.Background(), time.Now())
			}
		}
	}()
	logger.Info(context.Background(), "cleanup scheduler started", "interval", c.interval, "retention", c.retention)
}

// Stop halts the loop and waits for a running sweep to finish.
func (c *CleanupScheduler) Stop() {
	close(c.stop)
	<-c.done
}

// Sweep deletes everything past its horizon at the given instant. One
// record failing never aborts the rest; it is logged and retried on the
// next interval.
func (c *CleanupScheduler) Sweep(ctx context.Context, now time.Time) {
	jobsDeleted := c.sweepJobs(ctx, now)
	uploadsDeleted := c.sweepUploads(ctx, now)
	if jobsDeleted > 0 || uploadsDeleted > 0 {
		logger.Info(ctx, "cleanup sweep done", "jobs_deleted", jobsDeleted, "uploads_deleted", uploadsDeleted)
	}
}

func (c *CleanupScheduler) sweepJobs(ctx context.Context, now time.Time) int {
	deleted := 0
	for _, job := range c.registry.JobsSnapshot() {
		if now.Sub(job.CreatedAt) < c.retention {
			continue
		}
		if job.Status == model.JobProcessing {
			continue
		}

		prefix := fmt.Sprintf("%s/%s", AreaProcessed, job.JobID)
		if err := c.backend.DeletePrefix(ctx, prefix); err != nil {
			logger.Warn(ctx, "cleanup: cannot delete job files", "job_id", job.JobID, "error", err)
			continue
		}
		c.registry.DeleteJob(job.JobID)
		deleted++
		logger.Info(ctx, "cleanup: job removed", "job_id", job.JobID, "status", job.Status, "age", now.Sub(job.CreatedAt))
	}
	return deleted
}

func (c *CleanupScheduler) sweepUploads(ctx context.Context, now time.Time) int {
	deleted := 0
	for _, rec := range c.registry.UploadsSnapshot() {
		if now.Sub(rec.CreatedAt) < c.stagingTTL {
			continue
		}

		prefix := fmt.Sprintf("%s/%s", AreaUploads, rec.FileID)
		if err := c.backend.DeletePrefix(ctx, prefix); err != nil {
			logger.Warn(ctx, "cleanup: cannot delete upload files", "file_id", rec.FileID, "error", err)
			continue
		}
		c.registry.DeleteUpload(rec.FileID)
		deleted++
		logger.Info(ctx, "cleanup: upload removed", "file_id", rec.FileID, "state", rec.State, "age", now.Sub(rec.CreatedAt))
	}
	return deleted
}
