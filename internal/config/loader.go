package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/MrWong99/clarivox/internal/store"
	"github.com/MrWong99/clarivox/internal/transcript"
	"gopkg.in/yaml.v3"
)

// ValidModelProviders lists known model provider names. Used by [Validate] to
// warn about unrecognised names; anything registered in a [Registry] works
// regardless.
var ValidModelProviders = []string{
	"openai",
	"anyllm/openai",
	"anyllm/anthropic",
	"anyllm/gemini",
	"anyllm/deepseek",
	"anyllm/mistral",
	"anyllm/groq",
	"anyllm/ollama",
	"mock",
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands secret references from
// the environment, and validates the result. Useful in tests where configs
// are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	expandSecrets(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandSecrets resolves ${VAR} references in credential fields so API keys
// and connection strings stay out of the config file itself.
func expandSecrets(cfg *Config) {
	cfg.Providers.Cleaning.APIKey = os.ExpandEnv(cfg.Providers.Cleaning.APIKey)
	cfg.Providers.Decision.APIKey = os.ExpandEnv(cfg.Providers.Decision.APIKey)
	for i := range cfg.Providers.Fallbacks {
		cfg.Providers.Fallbacks[i].APIKey = os.ExpandEnv(cfg.Providers.Fallbacks[i].APIKey)
	}
	cfg.Store.DSN = os.ExpandEnv(cfg.Store.DSN)
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Providers — warn about unknown names, error on missing primaries.
	validateProviderName("providers.cleaning", cfg.Providers.Cleaning.Name)
	validateProviderName("providers.decision", cfg.Providers.Decision.Name)
	for i, fb := range cfg.Providers.Fallbacks {
		prefix := fmt.Sprintf("providers.fallbacks[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		validateProviderName(prefix, fb.Name)
	}
	if cfg.Providers.Cleaning.Name == "" {
		errs = append(errs, errors.New("providers.cleaning.name is required"))
	}
	if cfg.Providers.Decision.Name == "" {
		slog.Warn("providers.decision is not configured; falling back to the cleaning provider for function decisions")
	}

	// Cleaning
	if cfg.Cleaning.Timeout < 0 {
		errs = append(errs, fmt.Errorf("cleaning.timeout %s is negative", cfg.Cleaning.Timeout))
	}
	if lvl := cfg.Cleaning.Level; lvl != "" && lvl != transcript.LevelLight && lvl != transcript.LevelFull {
		errs = append(errs, fmt.Errorf("cleaning.level %q is invalid; valid values: light, full", lvl))
	}
	if cfg.Cleaning.Temperature < 0 || cfg.Cleaning.Temperature > 0.3 {
		errs = append(errs, fmt.Errorf("cleaning.temperature %.2f is out of range [0, 0.3]", cfg.Cleaning.Temperature))
	}

	// Session
	if cfg.Session.CleanWindow < 0 {
		errs = append(errs, fmt.Errorf("session.clean_window %d is negative", cfg.Session.CleanWindow))
	}
	if cfg.Session.FuncWindow < 0 {
		errs = append(errs, fmt.Errorf("session.func_window %d is negative", cfg.Session.FuncWindow))
	}

	// Queue
	if cfg.Queue.Backend != "" && !cfg.Queue.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("queue.backend %q is invalid; valid values: memory, postgres", cfg.Queue.Backend))
	}
	if cfg.Queue.Workers < 0 {
		errs = append(errs, fmt.Errorf("queue.workers %d is negative", cfg.Queue.Workers))
	}
	if cfg.Queue.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("queue.max_retries %d is negative", cfg.Queue.MaxRetries))
	}
	if cfg.Queue.Backend == QueuePostgres && cfg.Store.Backend != store.BackendPostgres {
		errs = append(errs, errors.New("queue.backend postgres requires store.backend postgres (the queue shares the store's connection pool)"))
	}

	// Store
	if cfg.Store.Backend != "" && !cfg.Store.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("store.backend %q is invalid; valid values: memory, postgres", cfg.Store.Backend))
	}
	if cfg.Store.Backend == store.BackendPostgres && cfg.Store.DSN == "" {
		errs = append(errs, errors.New("store.dsn is required when store.backend is postgres"))
	}
	if cfg.Store.Backend == store.BackendMemory || cfg.Store.Backend == "" {
		if cfg.Store.DSN != "" {
			slog.Warn("store.dsn is set but the memory backend ignores it")
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// [ValidModelProviders]. Bare any-llm backend names are normalised before the
// lookup so "ollama" and "anyllm/ollama" are treated alike.
func validateProviderName(field, name string) {
	if name == "" {
		return
	}
	candidate := name
	if !strings.Contains(candidate, "/") && candidate != "openai" && candidate != "mock" {
		candidate = "anyllm/" + candidate
	}
	if slices.Contains(ValidModelProviders, candidate) {
		return
	}
	slog.Warn("unknown model provider name; may be a typo or a custom registration",
		"field", field,
		"name", name,
		"known", ValidModelProviders,
	)
}
