package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/clarivox/internal/config"
	"github.com/MrWong99/clarivox/internal/store"
	"github.com/MrWong99/clarivox/internal/transcript"
)

const fullYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
providers:
  cleaning:
    name: openai
    api_key: sk-test
    model: gpt-4o-mini
  decision:
    name: anyllm/ollama
    model: llama3.2
    base_url: http://localhost:11434
  fallbacks:
    - name: anyllm/anthropic
      api_key: sk-ant
      model: claude-haiku
cleaning:
  timeout: 2s
  level: light
  temperature: 0.1
session:
  clean_window: 12
  func_window: 4
  business_context: "Northwind Traders, B2B wholesale"
queue:
  backend: postgres
  workers: 8
  max_retries: 5
  max_depth: 1000
store:
  backend: postgres
  dsn: "postgres://localhost/clarivox?sslmode=disable"
`

func TestLoadFromReader_FullConfig(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(fullYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("listen_addr = %q, want %q", cfg.Server.ListenAddr, ":9090")
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("log_level = %q, want %q", cfg.Server.LogLevel, config.LogDebug)
	}
	if cfg.Providers.Cleaning.Name != "openai" || cfg.Providers.Cleaning.Model != "gpt-4o-mini" {
		t.Errorf("cleaning provider = %+v", cfg.Providers.Cleaning)
	}
	if cfg.Providers.Decision.BaseURL != "http://localhost:11434" {
		t.Errorf("decision base_url = %q", cfg.Providers.Decision.BaseURL)
	}
	if len(cfg.Providers.Fallbacks) != 1 || cfg.Providers.Fallbacks[0].Name != "anyllm/anthropic" {
		t.Errorf("fallbacks = %+v", cfg.Providers.Fallbacks)
	}
	if cfg.Cleaning.Timeout != 2*time.Second {
		t.Errorf("cleaning timeout = %s, want 2s", cfg.Cleaning.Timeout)
	}
	if cfg.Cleaning.Level != transcript.LevelLight {
		t.Errorf("cleaning level = %q, want light", cfg.Cleaning.Level)
	}
	if cfg.Session.CleanWindow != 12 || cfg.Session.FuncWindow != 4 {
		t.Errorf("windows = %d/%d, want 12/4", cfg.Session.CleanWindow, cfg.Session.FuncWindow)
	}
	if cfg.Queue.Backend != config.QueuePostgres || cfg.Queue.Workers != 8 {
		t.Errorf("queue = %+v", cfg.Queue)
	}
	if cfg.Store.Backend != store.BackendPostgres {
		t.Errorf("store backend = %q, want postgres", cfg.Store.Backend)
	}
}

func TestLoadFromReader_MinimalConfig(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  cleaning:
    name: mock
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Queue.Backend != "" {
		t.Errorf("queue backend should stay empty (memory default applied downstream), got %q", cfg.Queue.Backend)
	}
	if cfg.Store.Backend != "" {
		t.Errorf("store backend should stay empty, got %q", cfg.Store.Backend)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  cleaning:
    name: mock
frobnicator: true
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("expected error for unknown top-level field, got nil")
	}
}

func TestLoadFromReader_ExpandsSecretsFromEnv(t *testing.T) {
	t.Setenv("CLARIVOX_TEST_KEY", "sk-from-env")
	t.Setenv("CLARIVOX_TEST_DSN", "postgres://env-host/clarivox")

	yaml := `
providers:
  cleaning:
    name: openai
    api_key: ${CLARIVOX_TEST_KEY}
store:
  backend: postgres
  dsn: ${CLARIVOX_TEST_DSN}
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Providers.Cleaning.APIKey != "sk-from-env" {
		t.Errorf("api_key = %q, want value from env", cfg.Providers.Cleaning.APIKey)
	}
	if cfg.Store.DSN != "postgres://env-host/clarivox" {
		t.Errorf("dsn = %q, want value from env", cfg.Store.DSN)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	if _, err := config.Load("/nonexistent/clarivox.yaml"); err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestLoad_FromFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(fullYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("listen_addr = %q, want %q", cfg.Server.ListenAddr, ":9090")
	}
}
