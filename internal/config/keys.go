package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
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
		key: "server.port", typ: kInt, env: "OFFSYNC_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.rate_limit_rps", typ: kFloat, env: "OFFSYNC_SERVER_RATE_LIMIT_RPS",
		apply:   func(cfg *Config, v any) { cfg.Server.RateLimitRPS = v.(float64) },
		extract: func(cfg Config) any { return cfg.Server.RateLimitRPS },
	},
	{
		key: "server.rate_limit_burst", typ: kInt, env: "OFFSYNC_SERVER_RATE_LIMIT_BURST",
		apply:   func(cfg *Config, v any) { cfg.Server.RateLimitBurst = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.RateLimitBurst },
	},
	{
		key: "storage.data_dir", typ: kString, env: "OFFSYNC_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.default_limit_mb", typ: kInt, env: "OFFSYNC_STORAGE_DEFAULT_LIMIT_MB",
		apply:   func(cfg *Config, v any) { cfg.Storage.DefaultLimitMB = v.(int) },
		extract: func(cfg Config) any { return cfg.Storage.DefaultLimitMB },
	},
	{
		key: "source.dir", typ: kString, env: "OFFSYNC_SOURCE_DIR",
		apply:   func(cfg *Config, v any) { cfg.Source.Dir = v.(string) },
		extract: func(cfg Config) any { return cfg.Source.Dir },
	},
	{
		key: "auth.jwt_secret", typ: kString, env: "OFFSYNC_AUTH_JWT_SECRET",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Auth.JWTSecret = v.(string) },
		extract: func(cfg Config) any { return cfg.Auth.JWTSecret },
	},
	{
		key: "auth.issuer", typ: kString, env: "OFFSYNC_AUTH_ISSUER",
		apply:   func(cfg *Config, v any) { cfg.Auth.Issuer = v.(string) },
		extract: func(cfg Config) any { return cfg.Auth.Issuer },
	},
	{
		key: "auth.token_ttl", typ: kDuration, env: "OFFSYNC_AUTH_TOKEN_TTL",
		apply:   func(cfg *Config, v any) { cfg.Auth.TokenTTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Auth.TokenTTL },
	},
	{
		key: "tasks.workers", typ: kInt, env: "OFFSYNC_TASKS_WORKERS",
		apply:   func(cfg *Config, v any) { cfg.Tasks.Workers = v.(int) },
		extract: func(cfg Config) any { return cfg.Tasks.Workers },
	},
	{
		key: "tasks.queue_size", typ: kInt, env: "OFFSYNC_TASKS_QUEUE_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Tasks.QueueSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Tasks.QueueSize },
	},
	{
		key: "tasks.step_delay", typ: kDuration, env: "OFFSYNC_TASKS_STEP_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Tasks.StepDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Tasks.StepDelay },
	},
	{
		key: "tasks.max_run_duration", typ: kDuration, env: "OFFSYNC_TASKS_MAX_RUN_DURATION",
		apply:   func(cfg *Config, v any) { cfg.Tasks.MaxRunDuration = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Tasks.MaxRunDuration },
	},
	{
		key: "tasks.sweep_interval", typ: kDuration, env: "OFFSYNC_TASKS_SWEEP_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Tasks.SweepInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Tasks.SweepInterval },
	},
	{
		key: "mcp.owner_id", typ: kInt, env: "OFFSYNC_MCP_OWNER_ID",
		apply:   func(cfg *Config, v any) { cfg.MCP.OwnerID = v.(int) },
		extract: func(cfg Config) any { return cfg.MCP.OwnerID },
	},
	{
		key: "log.level", typ: kString, env: "OFFSYNC_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.file", typ: kString, env: "OFFSYNC_LOG_FILE",
		apply:   func(cfg *Config, v any) { cfg.Log.File = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.File },
	},
	{
		key: "log.max_size_mb", typ: kInt, env: "OFFSYNC_LOG_MAX_SIZE_MB",
		apply:   func(cfg *Config, v any) { cfg.Log.MaxSizeMB = v.(int) },
		extract: func(cfg Config) any { return cfg.Log.MaxSizeMB },
	},
}

// parseValue converts raw text to the Go type of t.
func parseValue(t keyType, raw string) (any, error) {
	switch t {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (raw == "" && s.typ != kString) {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
