package handler

import (
	"fmt"
	"net/http"
	"path"

	"github.com/Prosperrrr/jexi/model"
	"github.com/Prosperrrr/jexi/service"
	"github.com/gin-gonic/gin"
)

// DownloadHandler resolves job outputs to retrievable byte streams and
// converts stored transcripts into the requested export format on demand.
type DownloadHandler struct {
	registry *service.Registry
	backend  service.Backend
}

func NewDownloadHandler(registry *service.Registry, backend service.Backend) *DownloadHandler {
	return &DownloadHandler{
		registry: registry,
		backend:  backend,
	}
}

// Artifact streams one named output of a completed job. The filename may be
// the logical artifact name or the stored file's base name.
func (h *DownloadHandler) Artifact(c *gin.Context) {
	jobID := c.Param("job_id")
	filename := c.Param("filename")

	key, err := h.resolveArtifact(jobID, filename)
	if err != nil {
		respondError(c, err)
		return
	}

	rc, size, err := h.backend.Open(c.Request.Context(), key)
	if err != nil {
		respondError(c, err)
		return
	}
	defer rc.Close()

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path.Base(key)))
	c.DataFromReader(http.StatusOK, size, contentTypeForArtifact(key), rc, nil)
}

func (h *DownloadHandler) resolveArtifact(jobID, filename string) (string, error) {
	job := h.registry.GetJob(jobID)
	if job == nil {
		return "", fmt.Errorf("%w: job %s", service.ErrNotFound, jobID)
	}
	if job.Status != model.JobCompleted {
		return "", fmt.Errorf("%w: job %s is %s", service.ErrNotFound, jobID, job.Status)
	}

	if key, ok := job.Artifacts[filename]; ok {
		return key, nil
	}
	for _, key := range job.Artifacts {
		if path.Base(key) == filename {
			return key, nil
		}
	}
	return "", fmt.Errorf("%w: artifact %s", service.ErrNotFound, filename)
}

// Transcript exports the stored structured transcript in the requested
// format. Conversion happens per request; nothing is cached.
func (h *DownloadHandler) Transcript(c *gin.Context) {
	jobID := c.Param("job_id")
	format := c.Param("format")

	job := h.registry.GetJob(jobID)
	if job == nil {
		respondError(c, fmt.Errorf("%w: job %s", service.ErrNotFound, jobID))
		return
	}
	if job.Status != model.JobCompleted {
		respondError(c, fmt.Errorf("%w: job %s is %s", service.ErrNotFound, jobID, job.Status))
		return
	}

	transcript := job.Metadata.Transcript
	if transcript == nil {
		transcript = job.Metadata.Lyrics
	}
	if transcript == nil {
		respondError(c, fmt.Errorf("%w: job %s has no transcript", service.ErrNotFound, jobID))
		return
	}

	switch format {
	case "txt":
		c.Header("Content-Disposition", `attachment; filename="transcript.txt"`)
		c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(transcript.ToPlain()))
	case "json":
		data, err := transcript.ToJSON()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to encode transcript"})
			return
		}
		c.Header("Content-Disposition", `attachment; filename="transcript.json"`)
		c.Data(http.StatusOK, "application/json", data)
	case "srt":
		c.Header("Content-Disposition", `attachment; filename="transcript.srt"`)
		c.Data(http.StatusOK, "application/x-subrip", []byte(transcript.ToSRT()))
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unsupported format %q, want txt, json or srt", format)})
	}
}

func contentTypeForArtifact(key string) string {
	switch path.Ext(key) {
	case ".wav":
		return "audio/wav"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
