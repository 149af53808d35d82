package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Log       LogConfig
	LLM       LLMConfig
	Session   SessionConfig
	Questions QuestionsConfig
	Telemetry TelemetryConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
	JSON  bool
}

type LLMConfig struct {
	Backend       string
	BaseURL       string
	Model         string
	APIKey        string
	MaxConcurrent int
}

// SessionConfig holds durations as strings so they round-trip through the
// backend; use the accessor methods to read them.
type SessionConfig struct {
	MonitorInterval     string
	InactivityThreshold string
	DurationBuffer      string
	CollaboratorTimeout string
}

type QuestionsConfig struct {
	// BankPath overrides the embedded question bank when set.
	BankPath string
}

type TelemetryConfig struct {
	OTLPEndpoint string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		LLM: LLMConfig{
			Backend:       "none",
			Model:         "mistral-nemo",
			MaxConcurrent: 10,
		},
		Session: SessionConfig{
			MonitorInterval:     "30s",
			InactivityThreshold: "10m",
			DurationBuffer:      "5m",
			CollaboratorTimeout: "20s",
		},
	}
}

// Load reads configuration from the YAML file backend, environment
// variables, and the local secrets file.
//
// The backend is $XDG_CONFIG_HOME/interviewd/config.yaml.
// Environment variables (INTERVIEWD_*) override backend values. Secrets are
// never read from the backend; they come from the environment or, failing
// that, $XDG_DATA_HOME/interviewd/secrets.json.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), fileSecrets{})
}

// secretStore abstracts secret lookup for testing.
type secretStore interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, secrets secretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.LLM.APIKey == "" {
		if key, err := secrets.Get(secretService, "llm_api_key"); err == nil && key != "" {
			cfg.LLM.APIKey = key
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var errs []error
	switch strings.ToLower(c.LLM.Backend) {
	case "ollama", "none", "":
	case "openrouter":
		if c.LLM.APIKey == "" {
			errs = append(errs, errors.New("missing required config: LLM API key for the openrouter backend. "+
				"Set it via environment variable INTERVIEWD_LLM_API_KEY"))
		}
	default:
		errs = append(errs, fmt.Errorf("llm.backend must be one of ollama, openrouter, none; got %q", c.LLM.Backend))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	for key, v := range map[string]string{
		"session.monitor_interval":     c.Session.MonitorInterval,
		"session.inactivity_threshold": c.Session.InactivityThreshold,
		"session.duration_buffer":      c.Session.DurationBuffer,
		"session.collaborator_timeout": c.Session.CollaboratorTimeout,
	} {
		if d, err := time.ParseDuration(v); err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be a positive duration, got %q", key, v))
		}
	}
	return errors.Join(errs...)
}

// SlogLevel maps log.level onto a slog level. Unknown values mean info.
func (c LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c SessionConfig) MonitorIntervalDuration() time.Duration {
	return durationOrZero(c.MonitorInterval)
}

func (c SessionConfig) InactivityThresholdDuration() time.Duration {
	return durationOrZero(c.InactivityThreshold)
}

func (c SessionConfig) DurationBufferDuration() time.Duration {
	return durationOrZero(c.DurationBuffer)
}

func (c SessionConfig) CollaboratorTimeoutDuration() time.Duration {
	return durationOrZero(c.CollaboratorTimeout)
}

// durationOrZero parses a value validate has already checked. Zero lets
// the consumer fall back to its own default.
func durationOrZero(v string) time.Duration {
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}
