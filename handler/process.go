package handler

import (
	"fmt"
	"net/http"
	"path"

	"github.com/Prosperrrr/jexi/model"
	"github.com/Prosperrrr/jexi/service"
	"github.com/gin-gonic/gin"
)

type ProcessHandler struct {
	stager   *service.Stager
	manager  *service.Manager
	registry *service.Registry
}

func NewProcessHandler(stager *service.Stager, manager *service.Manager, registry *service.Registry) *ProcessHandler {
	return &ProcessHandler{
		stager:   stager,
		manager:  manager,
		registry: registry,
	}
}

type confirmRequest struct {
	ContentType model.ContentType `json:"content_type" binding:"required"`
}

// Confirm turns a staged upload into a background job. The declared content
// type wins over the classifier's verdict. Confirming the same file twice
// gets a 404, never a second job.
func (h *ProcessHandler) Confirm(c *gin.Context) {
	fileID := c.Param("file_id")

	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content_type is required"})
		return
	}

	rec, err := h.stager.Confirm(fileID, req.ContentType)
	if err != nil {
		respondError(c, err)
		return
	}

	job, err := h.manager.Submit(rec, req.ContentType)
	if err != nil {
		// The confirmation already committed; roll it back so a retry
		// does not find the record stranded in confirmed with no job.
		h.registry.ReleaseUpload(fileID)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job_id":       job.JobID,
		"file_id":      job.FileID,
		"content_type": job.ContentType,
		"status":       "processing",
	})
}

// Status reports the last committed status and progress for a job.
func (h *ProcessHandler) Status(c *gin.Context) {
	jobID := c.Param("job_id")
	if !h.routeMatchesJob(c, jobID) {
		return
	}

	status, progress, err := h.manager.GetStatus(jobID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job_id":   jobID,
		"status":   status,
		"progress": progress,
	})
}

// Result returns full metadata and artifact URLs once the job completed.
// A job still running gets 425; a failed job returns its stored reason.
func (h *ProcessHandler) Result(c *gin.Context) {
	jobID := c.Param("job_id")
	if !h.routeMatchesJob(c, jobID) {
		return
	}

	job, err := h.manager.GetResult(jobID)
	if job == nil {
		respondError(c, err)
		return
	}

	if job.Status == model.JobFailed {
		c.JSON(http.StatusOK, gin.H{
			"job_id":       job.JobID,
			"file_id":      job.FileID,
			"content_type": job.ContentType,
			"status":       job.Status,
			"error":        job.Error,
			"artifacts":    artifactURLs(job),
		})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job_id":       job.JobID,
		"file_id":      job.FileID,
		"filename":     job.Filename,
		"content_type": job.ContentType,
		"status":       job.Status,
		"progress":     job.Progress,
		"metadata":     job.Metadata,
		"artifacts":    artifactURLs(job),
		"created_at":   job.CreatedAt,
		"completed_at": job.CompletedAt,
	})
}

// routeMatchesJob rejects requests where the pipeline segment of the path
// does not match the job's content type. Unknown jobs fall through to the
// manager's own lookup.
func (h *ProcessHandler) routeMatchesJob(c *gin.Context, jobID string) bool {
	contentType := model.ContentType(c.Param("content_type"))
	if !contentType.Valid() {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown pipeline"})
		return false
	}
	job := h.registry.GetJob(jobID)
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return false
	}
	if job.ContentType != contentType {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("job %s is not a %s job", jobID, contentType)})
		return false
	}
	return true
}

// artifactURLs maps logical artifact names onto download endpoints.
func artifactURLs(job *model.Job) map[string]string {
	urls := make(map[string]string, len(job.Artifacts))
	for name, key := range job.Artifacts {
		urls[name] = fmt.Sprintf("/api/download/%s/%s", job.JobID, path.Base(key))
	}
	return urls
}
