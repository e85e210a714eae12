package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the UltraImage server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Storage  StorageConfig
	Image    ImageConfig
	Enhance  EnhanceConfig
	Runner   RunnerConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	Backend         string // "postgres" or "memory"
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type StorageConfig struct {
	UploadDir    string
	ProcessedDir string
}

type ImageConfig struct {
	// MaxPixels is the provider processing ceiling; larger inputs are
	// downsampled before dispatch.
	MaxPixels int
}

type EnhanceConfig struct {
	Provider        string
	Timeout         time.Duration
	DownloadTimeout time.Duration
	Replicate       ReplicateConfig
}

type ReplicateConfig struct {
	BaseURL      string
	APIToken     string
	ModelVersion string
	PollInterval time.Duration
}

type RunnerConfig struct {
	Workers   int
	QueueSize int
}

var validProviders = map[string]bool{
	"replicate": true,
	"mock":      true,
}

var validBackends = map[string]bool{
	"postgres": true,
	"memory":   true,
}

// realESRGANVersion is the Real-ESRGAN model version pinned for upscaling.
const realESRGANVersion = "nightmareai/real-esrgan:42fed1c4974146d4d2414e2be2c5277c7fcf05fcc972b6f777b83f18e0b5ee90"

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("ULTRAIMAGE_PORT", 8080),
			Env:  envString("ULTRAIMAGE_ENV", "development"),
		},
		Database: DatabaseConfig{
			Backend:         envString("STORAGE_BACKEND", "postgres"),
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Storage: StorageConfig{
			UploadDir:    envString("UPLOAD_DIR", "/tmp/uploads"),
			ProcessedDir: envString("PROCESSED_DIR", "/tmp/processed"),
		},
		Image: ImageConfig{
			MaxPixels: envInt("IMAGE_MAX_PIXELS", 4_000_000),
		},
		Enhance: EnhanceConfig{
			Provider:        envString("ENHANCE_PROVIDER", "replicate"),
			Timeout:         envDurationSecs("ENHANCE_TIMEOUT_SECS", 120*time.Second),
			DownloadTimeout: envDurationSecs("RESULT_DOWNLOAD_TIMEOUT_SECS", 30*time.Second),
			Replicate: ReplicateConfig{
				BaseURL:      envString("REPLICATE_BASE_URL", "https://api.replicate.com"),
				APIToken:     os.Getenv("REPLICATE_API_TOKEN"),
				ModelVersion: envString("REPLICATE_MODEL_VERSION", realESRGANVersion),
				PollInterval: envDuration("REPLICATE_POLL_INTERVAL", time.Second),
			},
		},
		Runner: RunnerConfig{
			Workers:   envInt("RUNNER_WORKERS", 4),
			QueueSize: envInt("RUNNER_QUEUE_SIZE", 64),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if !validBackends[c.Database.Backend] {
		return fmt.Errorf("STORAGE_BACKEND must be one of postgres, memory; got %q", c.Database.Backend)
	}
	if c.Database.Backend == "postgres" && c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required when STORAGE_BACKEND is postgres")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Storage.UploadDir == "" || c.Storage.ProcessedDir == "" {
		return fmt.Errorf("UPLOAD_DIR and PROCESSED_DIR must not be empty")
	}

	if c.Image.MaxPixels <= 0 {
		return fmt.Errorf("IMAGE_MAX_PIXELS must be positive, got %d", c.Image.MaxPixels)
	}

	if !validProviders[c.Enhance.Provider] {
		return fmt.Errorf("ENHANCE_PROVIDER must be one of replicate, mock; got %q", c.Enhance.Provider)
	}
	if c.Enhance.Provider == "replicate" {
		if c.Enhance.Replicate.APIToken == "" {
			return fmt.Errorf("REPLICATE_API_TOKEN is required when ENHANCE_PROVIDER is replicate")
		}
		base := c.Enhance.Replicate.BaseURL
		if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
			return fmt.Errorf("REPLICATE_BASE_URL must start with http:// or https://, got %q", base)
		}
	}

	if c.Runner.Workers <= 0 {
		return fmt.Errorf("RUNNER_WORKERS must be positive, got %d", c.Runner.Workers)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
