package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Limits    LimitsConfig    `yaml:"limits"`
	Jobs      JobsConfig      `yaml:"jobs"`
	Uploads   UploadsConfig   `yaml:"uploads"`
	Cleanup   CleanupConfig   `yaml:"cleanup"`
	Realtime  RealtimeConfig  `yaml:"realtime"`
	Inference InferenceConfig `yaml:"inference"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Port        int `yaml:"port"`
	MaxUploadMB int `yaml:"max_upload_mb"`
}

type StorageConfig struct {
	Backend      string      `yaml:"backend"` // local or minio
	UploadsDir   string      `yaml:"uploads_dir"`
	ProcessedDir string      `yaml:"processed_dir"`
	Minio        MinioConfig `yaml:"minio"`
}

type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type LimitsConfig struct {
	UploadsPerWindow int `yaml:"uploads_per_window"`
	WindowSeconds    int `yaml:"window_seconds"`
}

type JobsConfig struct {
	Workers        int `yaml:"workers"`
	RetentionHours int `yaml:"retention_hours"`
}

type UploadsConfig struct {
	StagingTTLMinutes int `yaml:"staging_ttl_minutes"`
}

type CleanupConfig struct {
	IntervalMinutes int `yaml:"interval_minutes"`
}

type RealtimeConfig struct {
	IdleTimeoutSeconds int `yaml:"idle_timeout_seconds"`
	MaxOrderViolations int `yaml:"max_order_violations"`
}

type InferenceConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIToken       string `yaml:"api_token"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

var GlobalConfig *Config

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	GlobalConfig = &cfg
	return &cfg, nil
}

// Default returns a configuration with all defaults applied, used when no
// config file is present on disk.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	GlobalConfig = &cfg
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.MaxUploadMB == 0 {
		c.Server.MaxUploadMB = 100
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "local"
	}
	if c.Storage.UploadsDir == "" {
		c.Storage.UploadsDir = "uploads"
	}
	if c.Storage.ProcessedDir == "" {
		c.Storage.ProcessedDir = "processed"
	}
	if c.Limits.UploadsPerWindow == 0 {
		c.Limits.UploadsPerWindow = 5
	}
	if c.Limits.WindowSeconds == 0 {
		c.Limits.WindowSeconds = 60
	}
	if c.Jobs.Workers == 0 {
		c.Jobs.Workers = 2
	}
	if c.Jobs.RetentionHours == 0 {
		c.Jobs.RetentionHours = 24
	}
	if c.Uploads.StagingTTLMinutes == 0 {
		c.Uploads.StagingTTLMinutes = 60
	}
	if c.Cleanup.IntervalMinutes == 0 {
		c.Cleanup.IntervalMinutes = 15
	}
	if c.Realtime.IdleTimeoutSeconds == 0 {
		c.Realtime.IdleTimeoutSeconds = 30
	}
	if c.Realtime.MaxOrderViolations == 0 {
		c.Realtime.MaxOrderViolations = 5
	}
	if c.Inference.BaseURL == "" {
		c.Inference.BaseURL = "http://localhost:9000"
	}
	if c.Inference.TimeoutSeconds == 0 {
		c.Inference.TimeoutSeconds = 600
	}
}

// RateWindow returns the sliding window length for upload admission.
func (c *Config) RateWindow() time.Duration {
	return time.Duration(c.Limits.WindowSeconds) * time.Second
}

// StagingTTL returns how long an unconfirmed upload stays confirmable.
func (c *Config) StagingTTL() time.Duration {
	return time.Duration(c.Uploads.StagingTTLMinutes) * time.Minute
}

// JobRetention returns the retention horizon for finished jobs.
func (c *Config) JobRetention() time.Duration {
	return time.Duration(c.Jobs.RetentionHours) * time.Hour
}

// IdleTimeout returns how long a realtime session may stay silent before
// the server closes it.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.Realtime.IdleTimeoutSeconds) * time.Second
}

// CleanupInterval returns how often the cleanup sweep runs.
func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.Cleanup.IntervalMinutes) * time.Minute
}
