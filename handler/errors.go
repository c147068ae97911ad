package handler

import (
	"errors"
	"net/http"

	"github.com/Prosperrrr/jexi/service"
	"github.com/gin-gonic/gin"
)

// respondError maps the service error taxonomy onto HTTP status codes with
// a structured reason the client can act on.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidAudio):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrNotReady):
		c.JSON(http.StatusTooEarly, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrQueueFull):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Server busy, try again later"})
	case errors.Is(err, service.ErrStorage):
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
