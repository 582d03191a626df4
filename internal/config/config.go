// Package config provides the configuration schema, loader, and model provider
// registry for the Clarivox transcript cleansing service.
package config

import (
	"time"

	"github.com/MrWong99/clarivox/internal/store"
	"github.com/MrWong99/clarivox/internal/transcript"
)

// LogLevel controls log verbosity for the Clarivox server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// QueueBackend selects the job queue implementation.
type QueueBackend string

const (
	// QueueMemory keeps pending jobs in process memory. Jobs are lost on
	// restart.
	QueueMemory QueueBackend = "memory"

	// QueuePostgres persists pending jobs in PostgreSQL so multiple workers
	// and restarts share one durable queue. Requires the postgres store
	// backend because the queue shares its connection pool.
	QueuePostgres QueueBackend = "postgres"
)

// IsValid reports whether q is a recognised queue backend.
func (q QueueBackend) IsValid() bool {
	return q == QueueMemory || q == QueuePostgres
}

// Config is the root configuration structure for Clarivox.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Cleaning  CleaningConfig  `yaml:"cleaning"`
	Session   SessionConfig   `yaml:"session"`
	Queue     QueueConfig     `yaml:"queue"`
	Store     store.Config    `yaml:"store"`
}

// ServerConfig holds network and logging settings for the Clarivox server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// ProvidersConfig declares which model backend serves each pipeline stage.
// Each entry selects a named provider registered in the [Registry]. Cleaning
// and decision may point at different backends (a small fast model for
// cleaning, a larger one for function decisions).
type ProvidersConfig struct {
	Cleaning ProviderEntry `yaml:"cleaning"`
	Decision ProviderEntry `yaml:"decision"`

	// Fallbacks lists additional backends tried in order, behind a circuit
	// breaker, when the primary backend fails. May be empty.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// ProviderEntry is the common configuration block shared by all model
// providers. The Name field is used to look up the constructor in the
// [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation
	// (e.g., "openai", "anyllm/ollama", "mock").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	// ${VAR} references are expanded from the environment at load time.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o-mini").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above.
	Options map[string]any `yaml:"options"`
}

// CleaningConfig tunes the cleaning model call.
type CleaningConfig struct {
	// Timeout is the hard per-call deadline for the cleaning and decision
	// model calls. Zero means the built-in default of 3 seconds.
	Timeout time.Duration `yaml:"timeout"`

	// Level is the default cleaning level for sessions that do not override
	// it: "light" or "full". Empty means full.
	Level transcript.Level `yaml:"level"`

	// Temperature for the cleaning model call. Cleaning should be
	// near-deterministic so values above 0.3 are rejected.
	Temperature float64 `yaml:"temperature"`
}

// SessionConfig holds per-session defaults applied when a session is created
// without explicit overrides.
type SessionConfig struct {
	// CleanWindow is the number of recent cleaned turns fed back into the
	// cleaning prompt. Zero means the built-in default.
	CleanWindow int `yaml:"clean_window"`

	// FuncWindow is the number of recent cleaned turns fed into the function
	// decision prompt. Zero means the built-in default.
	FuncWindow int `yaml:"func_window"`

	// BusinessContext is free text about the call's business domain injected
	// into the cleaning prompt (company names, product terms, jargon).
	BusinessContext string `yaml:"business_context"`

	// Template optionally overrides the default cleaning prompt template.
	// It must reference the same placeholders the default template does.
	Template string `yaml:"template"`
}

// QueueConfig holds the job queue and worker pool settings.
type QueueConfig struct {
	// Backend selects the queue implementation. Empty means memory.
	Backend QueueBackend `yaml:"backend"`

	// Workers is the number of concurrent queue workers. Zero means the
	// built-in default.
	Workers int `yaml:"workers"`

	// MaxRetries is how often a failed job is re-enqueued before being
	// dropped. Zero means the built-in default.
	MaxRetries int `yaml:"max_retries"`

	// MaxDepth is the queue backlog size above which the readiness probe
	// reports not-ready. Zero disables the backlog check.
	MaxDepth int `yaml:"max_depth"`
}
