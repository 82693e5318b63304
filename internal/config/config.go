// Package config loads process configuration with the precedence defaults < config file < env,
// the same layering and "env wins" rule the teacher's app config used, retargeted from a
// user-data-directory JSON file to a job-queue-shaped option set with a PostgreSQL connection.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every option recognized by the job queue, defaulted, then overridden by an
// optional JSON or YAML file, then by JOBQUEUE_-prefixed environment variables.
type Config struct {
	DatabaseURL      string
	DatabaseMaxConns int32
	DatabaseMinConns int32
	WorkerID         string

	LeaseDuration          time.Duration
	HeartbeatFraction      float64
	WorkerBatchSize        int
	WorkerMaxInFlight      int
	PollIntervalMin        time.Duration
	PollIntervalMax        time.Duration
	TenantConcurrencyLimit int
	RetryBase              time.Duration
	RetryCap               time.Duration
	ReaperInterval         time.Duration
	ReaperBatch            int
	GracePeriod            time.Duration
	RateLimitPerMinute     float64
	BurstMultiplier        float64
}

// FileConfig is the JSON/YAML structure of an optional config file. Fields mirror Config; omitted
// fields fall through to the running default.
type FileConfig struct {
	DatabaseURL      string `json:"database_url,omitempty" yaml:"database_url,omitempty"`
	DatabaseMaxConns int32  `json:"database_max_conns,omitempty" yaml:"database_max_conns,omitempty"`
	DatabaseMinConns int32  `json:"database_min_conns,omitempty" yaml:"database_min_conns,omitempty"`
	WorkerID         string `json:"worker_id,omitempty" yaml:"worker_id,omitempty"`

	LeaseDurationSeconds   int     `json:"lease_duration_seconds,omitempty" yaml:"lease_duration_seconds,omitempty"`
	HeartbeatFraction      float64 `json:"heartbeat_fraction,omitempty" yaml:"heartbeat_fraction,omitempty"`
	WorkerBatchSize        int     `json:"worker_batch_size,omitempty" yaml:"worker_batch_size,omitempty"`
	WorkerMaxInFlight      int     `json:"worker_max_in_flight,omitempty" yaml:"worker_max_in_flight,omitempty"`
	PollIntervalMinMillis  int     `json:"poll_interval_min_ms,omitempty" yaml:"poll_interval_min_ms,omitempty"`
	PollIntervalMaxMillis  int     `json:"poll_interval_max_ms,omitempty" yaml:"poll_interval_max_ms,omitempty"`
	TenantConcurrencyLimit int     `json:"tenant_concurrency_limit,omitempty" yaml:"tenant_concurrency_limit,omitempty"`
	RetryBaseSeconds       int     `json:"retry_base_seconds,omitempty" yaml:"retry_base_seconds,omitempty"`
	RetryCapSeconds        int     `json:"retry_cap_seconds,omitempty" yaml:"retry_cap_seconds,omitempty"`
	ReaperIntervalSeconds  int     `json:"reaper_interval_seconds,omitempty" yaml:"reaper_interval_seconds,omitempty"`
	ReaperBatch            int     `json:"reaper_batch,omitempty" yaml:"reaper_batch,omitempty"`
	GracePeriodSeconds     int     `json:"grace_period_seconds,omitempty" yaml:"grace_period_seconds,omitempty"`
	RateLimitPerMinute     float64 `json:"rate_limit_per_minute,omitempty" yaml:"rate_limit_per_minute,omitempty"`
	BurstMultiplier        float64 `json:"burst_multiplier,omitempty" yaml:"burst_multiplier,omitempty"`
}

func defaults() Config {
	return Config{
		DatabaseMaxConns:       10,
		DatabaseMinConns:       0,
		WorkerID:               defaultWorkerID(),
		LeaseDuration:          30 * time.Second,
		HeartbeatFraction:      0.5,
		WorkerBatchSize:        10,
		WorkerMaxInFlight:      10,
		PollIntervalMin:        200 * time.Millisecond,
		PollIntervalMax:        5 * time.Second,
		TenantConcurrencyLimit: 10,
		RetryBase:              5 * time.Second,
		RetryCap:               10 * time.Minute,
		ReaperInterval:         30 * time.Second,
		ReaperBatch:            100,
		GracePeriod:            30 * time.Second,
		RateLimitPerMinute:     0, // 0 disables rate limiting
		BurstMultiplier:        2,
	}
}

func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown-host"
	}
	return fmt.Sprintf("%s-%d-%d", host, os.Getpid(), time.Now().UnixNano()%100000)
}

// Load builds a Config from defaults, an optional JSON or YAML file at configPath (ignored if
// unreadable or absent), and JOBQUEUE_-prefixed environment variables, in that precedence order.
func Load(configPath string) *Config {
	cfg := defaults()

	if fc := loadFileConfig(configPath); fc != nil {
		applyFileConfig(&cfg, fc)
	}
	applyEnv(&cfg)

	return &cfg
}

// loadFileConfig reads path as YAML if its extension is .yaml/.yml, JSON otherwise — both are
// accepted since operators moving off the teacher's JSON-only config often already carry YAML
// elsewhere in their deployment tooling.
func loadFileConfig(path string) *FileConfig {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var fc FileConfig
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil
		}
		return &fc
	}
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil
	}
	return &fc
}

func applyFileConfig(cfg *Config, fc *FileConfig) {
	if fc.DatabaseURL != "" {
		cfg.DatabaseURL = fc.DatabaseURL
	}
	if fc.DatabaseMaxConns > 0 {
		cfg.DatabaseMaxConns = fc.DatabaseMaxConns
	}
	if fc.DatabaseMinConns > 0 {
		cfg.DatabaseMinConns = fc.DatabaseMinConns
	}
	if fc.WorkerID != "" {
		cfg.WorkerID = fc.WorkerID
	}
	if fc.LeaseDurationSeconds > 0 {
		cfg.LeaseDuration = time.Duration(fc.LeaseDurationSeconds) * time.Second
	}
	if fc.HeartbeatFraction > 0 {
		cfg.HeartbeatFraction = fc.HeartbeatFraction
	}
	if fc.WorkerBatchSize > 0 {
		cfg.WorkerBatchSize = fc.WorkerBatchSize
	}
	if fc.WorkerMaxInFlight > 0 {
		cfg.WorkerMaxInFlight = fc.WorkerMaxInFlight
	}
	if fc.PollIntervalMinMillis > 0 {
		cfg.PollIntervalMin = time.Duration(fc.PollIntervalMinMillis) * time.Millisecond
	}
	if fc.PollIntervalMaxMillis > 0 {
		cfg.PollIntervalMax = time.Duration(fc.PollIntervalMaxMillis) * time.Millisecond
	}
	if fc.TenantConcurrencyLimit > 0 {
		cfg.TenantConcurrencyLimit = fc.TenantConcurrencyLimit
	}
	if fc.RetryBaseSeconds > 0 {
		cfg.RetryBase = time.Duration(fc.RetryBaseSeconds) * time.Second
	}
	if fc.RetryCapSeconds > 0 {
		cfg.RetryCap = time.Duration(fc.RetryCapSeconds) * time.Second
	}
	if fc.ReaperIntervalSeconds > 0 {
		cfg.ReaperInterval = time.Duration(fc.ReaperIntervalSeconds) * time.Second
	}
	if fc.ReaperBatch > 0 {
		cfg.ReaperBatch = fc.ReaperBatch
	}
	if fc.GracePeriodSeconds > 0 {
		cfg.GracePeriod = time.Duration(fc.GracePeriodSeconds) * time.Second
	}
	if fc.RateLimitPerMinute > 0 {
		cfg.RateLimitPerMinute = fc.RateLimitPerMinute
	}
	if fc.BurstMultiplier > 0 {
		cfg.BurstMultiplier = fc.BurstMultiplier
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("JOBQUEUE_DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := envInt32("JOBQUEUE_DATABASE_MAX_CONNS"); v > 0 {
		cfg.DatabaseMaxConns = v
	}
	if v := envInt32("JOBQUEUE_DATABASE_MIN_CONNS"); v > 0 {
		cfg.DatabaseMinConns = v
	}
	if v := os.Getenv("JOBQUEUE_WORKER_ID"); v != "" {
		cfg.WorkerID = v
	}
	if v := envSeconds("JOBQUEUE_LEASE_DURATION_SECONDS"); v > 0 {
		cfg.LeaseDuration = v
	}
	if v := envFloat("JOBQUEUE_HEARTBEAT_FRACTION"); v > 0 {
		cfg.HeartbeatFraction = v
	}
	if v := envInt("JOBQUEUE_WORKER_BATCH_SIZE"); v > 0 {
		cfg.WorkerBatchSize = v
	}
	if v := envInt("JOBQUEUE_WORKER_MAX_IN_FLIGHT"); v > 0 {
		cfg.WorkerMaxInFlight = v
	}
	if v := envMillis("JOBQUEUE_POLL_INTERVAL_MIN_MS"); v > 0 {
		cfg.PollIntervalMin = v
	}
	if v := envMillis("JOBQUEUE_POLL_INTERVAL_MAX_MS"); v > 0 {
		cfg.PollIntervalMax = v
	}
	if v := envInt("JOBQUEUE_TENANT_CONCURRENCY_LIMIT"); v > 0 {
		cfg.TenantConcurrencyLimit = v
	}
	if v := envSeconds("JOBQUEUE_RETRY_BASE_SECONDS"); v > 0 {
		cfg.RetryBase = v
	}
	if v := envSeconds("JOBQUEUE_RETRY_CAP_SECONDS"); v > 0 {
		cfg.RetryCap = v
	}
	if v := envSeconds("JOBQUEUE_REAPER_INTERVAL_SECONDS"); v > 0 {
		cfg.ReaperInterval = v
	}
	if v := envInt("JOBQUEUE_REAPER_BATCH"); v > 0 {
		cfg.ReaperBatch = v
	}
	if v := envSeconds("JOBQUEUE_GRACE_PERIOD_SECONDS"); v > 0 {
		cfg.GracePeriod = v
	}
	if v := envFloat("JOBQUEUE_RATE_LIMIT_PER_MINUTE"); v > 0 {
		cfg.RateLimitPerMinute = v
	}
	if v := envFloat("JOBQUEUE_BURST_MULTIPLIER"); v > 0 {
		cfg.BurstMultiplier = v
	}
}

func envInt(key string) int {
	var v int
	if _, err := fmt.Sscanf(os.Getenv(key), "%d", &v); err != nil {
		return 0
	}
	return v
}

func envInt32(key string) int32 {
	return int32(envInt(key))
}

func envFloat(key string) float64 {
	var v float64
	if _, err := fmt.Sscanf(os.Getenv(key), "%f", &v); err != nil {
		return 0
	}
	return v
}

func envSeconds(key string) time.Duration {
	return time.Duration(envInt(key)) * time.Second
}

func envMillis(key string) time.Duration {
	return time.Duration(envInt(key)) * time.Millisecond
}

// Burst returns the rate limiter's burst size, derived from RateLimitPerMinute and
// BurstMultiplier per spec.md §5's "burst size = burst" token-bucket formula.
func (c *Config) Burst() int {
	burst := int(c.RateLimitPerMinute / 60 * c.BurstMultiplier)
	if burst < 1 {
		burst = 1
	}
	return burst
}
