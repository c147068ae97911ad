package handler

import (
	"net/http"

	"github.com/Prosperrrr/jexi/service"
	"github.com/gin-gonic/gin"
)

type UploadHandler struct {
	stager *service.Stager
}

func NewUploadHandler(stager *service.Stager) *UploadHandler {
	return &UploadHandler{stager: stager}
}

// Upload handles audio file upload: the file is stored, classified, and
// held awaiting the user's confirmation of the content type.
func (h *UploadHandler) Upload(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided"})
		return
	}
	defer file.Close()

	if header.Filename == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file selected"})
		return
	}

	rec, err := h.stager.Stage(c.Request.Context(), file, header.Filename)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"file_id":         rec.FileID,
		"filename":        rec.OriginalFilename,
		"detected_type":   rec.DetectedType,
		"confidence":      rec.Confidence,
		"top_predictions": rec.TopPredictions,
		"status":          rec.State,
	})
}
