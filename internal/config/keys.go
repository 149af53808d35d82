package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "INTERVIEWD_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "INTERVIEWD_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "storage.data_dir", typ: kString, env: "INTERVIEWD_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "INTERVIEWD_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.json", typ: kBool, env: "INTERVIEWD_LOG_JSON",
		apply:   func(cfg *Config, v any) { cfg.Log.JSON = v.(bool) },
		extract: func(cfg Config) any { return cfg.Log.JSON },
	},
	{
		key: "llm.backend", typ: kString, env: "INTERVIEWD_LLM_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.LLM.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Backend },
	},
	{
		key: "llm.base_url", typ: kString, env: "INTERVIEWD_LLM_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.LLM.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.BaseURL },
	},
	{
		key: "llm.model", typ: kString, env: "INTERVIEWD_LLM_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Model },
	},
	{
		key: "llm.api_key", typ: kString, env: "INTERVIEWD_LLM_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.LLM.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.APIKey },
	},
	{
		key: "llm.max_concurrent", typ: kInt, env: "INTERVIEWD_LLM_MAX_CONCURRENT",
		apply:   func(cfg *Config, v any) { cfg.LLM.MaxConcurrent = v.(int) },
		extract: func(cfg Config) any { return cfg.LLM.MaxConcurrent },
	},
	{
		key: "session.monitor_interval", typ: kDuration, env: "INTERVIEWD_SESSION_MONITOR_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Session.MonitorInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Session.MonitorInterval },
	},
	{
		key: "session.inactivity_threshold", typ: kDuration, env: "INTERVIEWD_SESSION_INACTIVITY_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Session.InactivityThreshold = v.(string) },
		extract: func(cfg Config) any { return cfg.Session.InactivityThreshold },
	},
	{
		key: "session.duration_buffer", typ: kDuration, env: "INTERVIEWD_SESSION_DURATION_BUFFER",
		apply:   func(cfg *Config, v any) { cfg.Session.DurationBuffer = v.(string) },
		extract: func(cfg Config) any { return cfg.Session.DurationBuffer },
	},
	{
		key: "session.collaborator_timeout", typ: kDuration, env: "INTERVIEWD_SESSION_COLLABORATOR_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Session.CollaboratorTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Session.CollaboratorTimeout },
	},
	{
		key: "questions.bank_path", typ: kString, env: "INTERVIEWD_QUESTIONS_BANK_PATH",
		apply:   func(cfg *Config, v any) { cfg.Questions.BankPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Questions.BankPath },
	},
	{
		key: "telemetry.otlp_endpoint", typ: kString, env: "INTERVIEWD_TELEMETRY_OTLP_ENDPOINT",
		apply:   func(cfg *Config, v any) { cfg.Telemetry.OTLPEndpoint = v.(string) },
		extract: func(cfg Config) any { return cfg.Telemetry.OTLPEndpoint },
	},
}

// coerce converts a raw backend, env or CLI value to the key's Go type.
// Durations stay strings; validate parses them.
func (t keyType) coerce(raw any) (any, error) {
	switch t {
	case kInt:
		switch v := raw.(type) {
		case int:
			return v, nil
		case float64:
			if v != math.Trunc(v) || v < math.MinInt32 || v > math.MaxInt32 {
				return nil, fmt.Errorf("%v is not an integer", v)
			}
			return int(v), nil
		case string:
			i, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("%q is not an integer", v)
			}
			return i, nil
		}
	case kBool:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("%q is not a bool", v)
			}
			return b, nil
		}
	default:
		if s, ok := raw.(string); ok {
			return s, nil
		}
		return fmt.Sprint(raw), nil
	}
	return nil, fmt.Errorf("unexpected %T value", raw)
}

// applyBackend fails on a value of the wrong type. Bad env values only warn.
func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		raw, ok := b.Lookup(s.key)
		if !ok {
			continue
		}
		v, err := s.typ.coerce(raw)
		if err != nil {
			return fmt.Errorf("config key %s: %w", s.key, err)
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if s.env == "" || raw == "" {
			continue
		}
		v, err := s.typ.coerce(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] ignoring env var %s: %v. Using default value.\n", s.env, err)
			continue
		}
		s.apply(cfg, v)
	}
}
