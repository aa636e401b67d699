package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServerPort != "8080" {
		t.Fatalf("ServerPort: want=8080 got=%s", cfg.ServerPort)
	}
	if cfg.SubmitTimeout != 30*time.Second {
		t.Fatalf("SubmitTimeout: want=30s got=%s", cfg.SubmitTimeout)
	}
	if cfg.AllowedOrigins != nil {
		t.Fatalf("AllowedOrigins: want=nil got=%v", cfg.AllowedOrigins)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
server:
  port: "9090"
  allowed_origins: ["https://a.example", "https://b.example"]
log:
  level: debug
session:
  submit_timeout_seconds: 5
evidence:
  bucket: from-file
  use_ssl: true
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServerPort != "9090" {
		t.Fatalf("file value ignored: ServerPort=%s", cfg.ServerPort)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("env should win over file: LogLevel=%s", cfg.LogLevel)
	}
	if cfg.SubmitTimeout != 5*time.Second {
		t.Fatalf("SubmitTimeout: want=5s got=%s", cfg.SubmitTimeout)
	}
	if cfg.EvidenceBucket != "from-file" || !cfg.EvidenceUseSSL {
		t.Fatalf("evidence: bucket=%s ssl=%v", cfg.EvidenceBucket, cfg.EvidenceUseSSL)
	}
	if len(cfg.AllowedOrigins) != 2 {
		t.Fatalf("AllowedOrigins: got %v", cfg.AllowedOrigins)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatalf("want error for missing config file")
	}
}

func TestParseOrigins(t *testing.T) {
	got := parseOrigins(" https://a , ,https://b ")
	if len(got) != 2 || got[0] != "https://a" || got[1] != "https://b" {
		t.Fatalf("parseOrigins: got %v", got)
	}
}
