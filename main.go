package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Prosperrrr/jexi/config"
	"github.com/Prosperrrr/jexi/handler"
	"github.com/Prosperrrr/jexi/middleware"
	"github.com/Prosperrrr/jexi/pkg/logger"
	"github.com/Prosperrrr/jexi/service"
	"github.com/gin-gonic/gin"
)

func main() {
	// Load configuration; a missing file falls back to defaults so a bare
	// checkout still starts.
	cfg, err := config.Load("config.yaml")
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Error("failed to load config", "error", err)
			os.Exit(1)
		}
		cfg = config.Default()
	}

	// Initialize logger
	logger.Init(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	slog.Info("configuration loaded", "storage_backend", cfg.Storage.Backend, "workers", cfg.Jobs.Workers)

	// Storage backend
	backend, err := buildBackend(cfg)
	if err != nil {
		slog.Error("failed to initialize storage backend", "error", err)
		os.Exit(1)
	}

	// External model adapters
	inference := service.NewInferenceClient(&cfg.Inference)
	adapters := service.AdaptersFromClient(inference)

	// Registry and services
	service.InitRegistry(cfg.StagingTTL())
	registry := service.GetRegistry()

	stager := service.NewStager(registry, backend, adapters.Classifier)

	manager := service.NewManager(registry, backend, adapters, cfg.Jobs.Workers)
	manager.Start()

	cleanup := service.NewCleanupScheduler(registry, backend, cfg.JobRetention(), cfg.StagingTTL(), cfg.CleanupInterval())
	cleanup.Start()

	sessions := service.NewSessionManager(adapters, cfg.IdleTimeout(), cfg.Realtime.MaxOrderViolations)

	// Upload admission control: 5 per minute per client by default
	uploadLimiter := middleware.NewSlidingWindow(cfg.Limits.UploadsPerWindow, cfg.RateWindow())

	// Handlers
	uploadHandler := handler.NewUploadHandler(stager)
	processHandler := handler.NewProcessHandler(stager, manager, registry)
	downloadHandler := handler.NewDownloadHandler(registry, backend)
	statsHandler := handler.NewStatsHandler(registry, backend, uploadLimiter)
	realtimeHandler := handler.NewRealtimeHandler(sessions)

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(corsMiddleware())
	router.MaxMultipartMemory = int64(cfg.Server.MaxUploadMB) << 20

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "Welcome to Jexi API",
			"version": "1.0.0",
			"status":  "running",
		})
	})
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	api := router.Group("/api")
	{
		api.POST("/upload", middleware.RateLimit(uploadLimiter), uploadHandler.Upload)
		api.POST("/process/:file_id", processHandler.Confirm)
		api.GET("/process/:content_type/:job_id/status", processHandler.Status)
		api.GET("/process/:content_type/:job_id", processHandler.Result)
		api.GET("/download/transcript/:job_id/:format", downloadHandler.Transcript)
		api.GET("/download/:job_id/:filename", downloadHandler.Artifact)
		api.GET("/storage/stats", statsHandler.Storage)
	}

	router.GET("/ws/realtime", realtimeHandler.Serve)

	// Create server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  120 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		slog.Info("server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	sessions.CloseAll()
	cleanup.Stop()
	manager.Stop()

	slog.Info("server exited gracefully")
}

// buildBackend selects the configured storage backend. The minio backend
// also ensures its bucket exists before the server starts taking uploads.
func buildBackend(cfg *config.Config) (service.Backend, error) {
	switch cfg.Storage.Backend {
	case "minio":
		backend, err := service.NewMinioBackend(&cfg.Storage.Minio)
		if err != nil {
			return nil, err
		}
		if err := backend.EnsureBucket(context.Background()); err != nil {
			return nil, err
		}
		return backend, nil
	case "local":
		return service.NewLocalBackend(&cfg.Storage)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// corsMiddleware handles CORS headers for the browser frontend
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Request-ID, Retry-After")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
