package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load("")
	if cfg.LeaseDuration != 30*time.Second {
		t.Fatalf("want default lease duration 30s, got %s", cfg.LeaseDuration)
	}
	if cfg.WorkerBatchSize != 10 {
		t.Fatalf("want default batch size 10, got %d", cfg.WorkerBatchSize)
	}
	if cfg.WorkerID == "" {
		t.Fatal("want a generated worker id")
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{"database_url":"postgres://file","worker_batch_size":25}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg := Load(path)
	if cfg.DatabaseURL != "postgres://file" {
		t.Fatalf("want database_url from file, got %q", cfg.DatabaseURL)
	}
	if cfg.WorkerBatchSize != 25 {
		t.Fatalf("want batch size 25 from file, got %d", cfg.WorkerBatchSize)
	}
	if cfg.TenantConcurrencyLimit != 10 {
		t.Fatalf("unset file fields should keep defaults, got %d", cfg.TenantConcurrencyLimit)
	}
}

func TestLoad_YAMLFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "database_url: postgres://file-yaml\nworker_batch_size: 30\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg := Load(path)
	if cfg.DatabaseURL != "postgres://file-yaml" {
		t.Fatalf("want database_url from yaml file, got %q", cfg.DatabaseURL)
	}
	if cfg.WorkerBatchSize != 30 {
		t.Fatalf("want batch size 30 from yaml file, got %d", cfg.WorkerBatchSize)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{"database_url":"postgres://file"}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("JOBQUEUE_DATABASE_URL", "postgres://env")
	t.Setenv("JOBQUEUE_WORKER_BATCH_SIZE", "7")

	cfg := Load(path)
	if cfg.DatabaseURL != "postgres://env" {
		t.Fatalf("want env to win over file, got %q", cfg.DatabaseURL)
	}
	if cfg.WorkerBatchSize != 7 {
		t.Fatalf("want env batch size 7, got %d", cfg.WorkerBatchSize)
	}
}

func TestLoad_MissingFileIsIgnored(t *testing.T) {
	cfg := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if cfg.WorkerBatchSize != 10 {
		t.Fatalf("want default to survive a missing file, got %d", cfg.WorkerBatchSize)
	}
}

func TestBurst_DerivedFromRateAndMultiplier(t *testing.T) {
	cfg := &Config{RateLimitPerMinute: 120, BurstMultiplier: 2}
	if got := cfg.Burst(); got != 4 {
		t.Fatalf("want burst 4 (120/60*2), got %d", got)
	}
}

func TestBurst_NeverBelowOne(t *testing.T) {
	cfg := &Config{RateLimitPerMinute: 0, BurstMultiplier: 2}
	if got := cfg.Burst(); got != 1 {
		t.Fatalf("want burst floor of 1, got %d", got)
	}
}
