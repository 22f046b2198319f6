// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/timkendrick/shunt/internal/record"
)

// Tree sources.
const (
	SourceRemote = "remote"
	SourceLocal  = "local"
)

// Config holds all server configuration.
type Config struct {
	// Server
	ListenAddr  string
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string

	// Tree source ("remote" or "local", default: "remote")
	Source        string
	SitesPath     string
	LocalSiteRoot string

	// Remote delta service
	DeltaURL            string
	DeltaToken          string
	DeltaTimeout        time.Duration
	DeltaCallsPerMinute int // 0 = unlimited
	DeltaMaxPages       int
	RefreshTimeout      time.Duration // one multi-page refresh, shared by its callers

	// Freshness window of a synced tree
	CacheTTL time.Duration

	// Record store ("memory", "file", "postgres" or "s3", default: "memory")
	RecordStore string
	RecordDir   string
	DatabaseURL string

	// S3 record storage
	S3Endpoint  string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3Region    string
	S3Prefix    string
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:          envOr("LISTEN_ADDR", ":8080"),
		MetricsAddr:         envOr("METRICS_ADDR", ":9090"),
		LogLevel:            envOr("LOG_LEVEL", "info"),
		LogFormat:           envOr("LOG_FORMAT", "json"),
		Source:              envOr("SOURCE", SourceRemote),
		SitesPath:           envOr("SITES_PATH", "/.dropkick/users/"),
		LocalSiteRoot:       envOr("LOCAL_SITE_ROOT", "/data/sites"),
		DeltaURL:            envOr("DELTA_URL", ""),
		DeltaToken:          envOr("DELTA_TOKEN", ""),
		DeltaTimeout:        envDuration("DELTA_TIMEOUT", 30*time.Second),
		DeltaCallsPerMinute: envInt("DELTA_CALLS_PER_MINUTE", 0),
		DeltaMaxPages:       envInt("DELTA_MAX_PAGES", 1000),
		RefreshTimeout:      envDuration("REFRESH_TIMEOUT", 2*time.Minute),
		CacheTTL:            envDuration("CACHE_TTL", 5*time.Minute),
		RecordStore:         envOr("RECORD_STORE", "memory"),
		RecordDir:           envOr("RECORD_DIR", "/data/records"),
		DatabaseURL:         envOr("DATABASE_URL", ""),
		S3Endpoint:          envOr("S3_ENDPOINT", ""),
		S3Bucket:            envOr("S3_BUCKET", "shunt"),
		S3AccessKey:         envOr("S3_ACCESS_KEY", ""),
		S3SecretKey:         envOr("S3_SECRET_KEY", ""),
		S3Region:            envOr("S3_REGION", "us-east-1"),
		S3Prefix:            envOr("S3_PREFIX", "records/"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks for invalid combinations of settings.
func (c *Config) Validate() error {
	switch c.Source {
	case SourceRemote:
		if c.DeltaURL == "" {
			return fmt.Errorf("DELTA_URL is required when SOURCE=%s", SourceRemote)
		}
	case SourceLocal:
	default:
		return fmt.Errorf("unknown SOURCE %q (want %s or %s)", c.Source, SourceRemote, SourceLocal)
	}

	switch c.RecordStore {
	case "memory", "file", "s3":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when RECORD_STORE=postgres")
		}
	default:
		return fmt.Errorf("unknown RECORD_STORE %q", c.RecordStore)
	}

	if c.CacheTTL <= 0 {
		return fmt.Errorf("CACHE_TTL must be positive")
	}
	if c.DeltaMaxPages <= 0 {
		return fmt.Errorf("DELTA_MAX_PAGES must be positive")
	}
	if c.RefreshTimeout < c.DeltaTimeout {
		return fmt.Errorf("REFRESH_TIMEOUT must be at least DELTA_TIMEOUT (%s)", c.DeltaTimeout)
	}
	if !strings.HasSuffix(c.SitesPath, "/") {
		c.SitesPath += "/"
	}
	return nil
}

// RecordConfig returns the record store settings.
func (c *Config) RecordConfig() record.Config {
	return record.Config{
		Backend:     c.RecordStore,
		Dir:         c.RecordDir,
		DatabaseURL: c.DatabaseURL,
		S3: record.S3Config{
			Endpoint:  c.S3Endpoint,
			Bucket:    c.S3Bucket,
			AccessKey: c.S3AccessKey,
			SecretKey: c.S3SecretKey,
			Region:    c.S3Region,
			Prefix:    c.S3Prefix,
		},
	}
}

// SitePrefix returns the remote path prefix of one app tree.
func (c *Config) SitePrefix(user, app string) string {
	return c.SitesPath + user + "/" + app
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
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

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
