// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Deployment targets accepted in DEPLOY_TARGET.
const (
	TargetLocal   = "local"
	TargetManaged = "managed"
)

// Config holds all server configuration.
type Config struct {
	// Server
	ListenAddr  string
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string

	// Deployment ("local" or "managed"). Managed hosting has no persistent
	// local disk, so media goes to the blob store.
	DeployTarget string

	// Local media storage
	LocalUploadDir       string
	LocalUploadURLPrefix string

	// S3 media storage
	S3Endpoint      string
	S3Bucket        string
	S3Region        string
	S3AccessKey     string
	S3SecretKey     string
	S3PublicBaseURL string
	S3UsePathStyle  bool

	// Auth
	JWTSecret string

	// Uploads
	MaxUploadSize       int64
	UploadRatePerMinute int
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:           envOr("LISTEN_ADDR", ":8080"),
		MetricsAddr:          envOr("METRICS_ADDR", ":9090"),
		LogLevel:             envOr("LOG_LEVEL", "info"),
		LogFormat:            envOr("LOG_FORMAT", "json"),
		DeployTarget:         strings.ToLower(envOr("DEPLOY_TARGET", TargetLocal)),
		LocalUploadDir:       envOr("LOCAL_UPLOAD_DIR", "uploads"),
		LocalUploadURLPrefix: envOr("LOCAL_UPLOAD_URL_PREFIX", "uploads"),
		S3Endpoint:           envOr("S3_ENDPOINT", ""),
		S3Bucket:             envOr("S3_BUCKET", ""),
		S3Region:             envOr("S3_REGION", "us-east-1"),
		S3AccessKey:          envOr("S3_ACCESS_KEY", ""),
		S3SecretKey:          envOr("S3_SECRET_KEY", ""),
		S3PublicBaseURL:      envOr("S3_PUBLIC_BASE_URL", ""),
		S3UsePathStyle:       envBool("S3_USE_PATH_STYLE", false),
		JWTSecret:            envOr("JWT_SECRET", ""),
		MaxUploadSize:        envInt64("MAX_UPLOAD_SIZE", 50*1024*1024), // 50MB default
		UploadRatePerMinute:  envInt("UPLOAD_RATE_PER_MINUTE", 0),       // 0 = unlimited
	}

	// Hosting platforms announce themselves; honor that even without DEPLOY_TARGET.
	if envBool("VERCEL", false) {
		cfg.DeployTarget = TargetManaged
	}

	switch cfg.DeployTarget {
	case TargetLocal, TargetManaged:
	default:
		return nil, fmt.Errorf("DEPLOY_TARGET must be %q or %q, got %q", TargetLocal, TargetManaged, cfg.DeployTarget)
	}

	if cfg.Managed() && cfg.S3Bucket == "" {
		return nil, fmt.Errorf("S3_BUCKET is required when DEPLOY_TARGET=%s", TargetManaged)
	}
	if cfg.LocalUploadDir == "" {
		return nil, fmt.Errorf("LOCAL_UPLOAD_DIR must not be empty")
	}

	return cfg, nil
}

// Managed reports whether media should go to the remote blob store.
func (c *Config) Managed() bool {
	return c.DeployTarget == TargetManaged
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}
