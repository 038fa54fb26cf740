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
		key: "server.port", typ: kInt, env: "FRONTDESK_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "FRONTDESK_SERVER_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "server.rate_limit_rps", typ: kFloat, env: "FRONTDESK_SERVER_RATE_LIMIT_RPS",
		apply:   func(cfg *Config, v any) { cfg.Server.RateLimitRPS = v.(float64) },
		extract: func(cfg Config) any { return cfg.Server.RateLimitRPS },
	},
	{
		key: "server.rate_limit_burst", typ: kInt, env: "FRONTDESK_SERVER_RATE_LIMIT_BURST",
		apply:   func(cfg *Config, v any) { cfg.Server.RateLimitBurst = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.RateLimitBurst },
	},
	{
		key: "storage.driver", typ: kString, env: "FRONTDESK_STORAGE_DRIVER",
		apply:   func(cfg *Config, v any) { cfg.Storage.Driver = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.Driver },
	},
	{
		key: "storage.data_dir", typ: kString, env: "FRONTDESK_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.postgres_dsn", typ: kString, env: "FRONTDESK_STORAGE_POSTGRES_DSN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Storage.PostgresDSN = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.PostgresDSN },
	},
	{
		key: "storage.query_timeout", typ: kDuration, env: "FRONTDESK_STORAGE_QUERY_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Storage.QueryTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Storage.QueryTimeout },
	},
	{
		key: "escalation.window", typ: kDuration, env: "FRONTDESK_ESCALATION_WINDOW",
		apply:   func(cfg *Config, v any) { cfg.Escalation.Window = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Escalation.Window },
	},
	{
		key: "escalation.sweep_interval", typ: kDuration, env: "FRONTDESK_ESCALATION_SWEEP_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Escalation.SweepInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Escalation.SweepInterval },
	},
	{
		key: "notify.backend", typ: kString, env: "FRONTDESK_NOTIFY_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Notify.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Notify.Backend },
	},
	{
		key: "notify.webhook_url", typ: kString, env: "FRONTDESK_NOTIFY_WEBHOOK_URL",
		apply:   func(cfg *Config, v any) { cfg.Notify.WebhookURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Notify.WebhookURL },
	},
	{
		key: "notify.webhook_token", typ: kString, env: "FRONTDESK_NOTIFY_WEBHOOK_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Notify.WebhookToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Notify.WebhookToken },
	},
	{
		key: "notify.redis_addr", typ: kString, env: "FRONTDESK_NOTIFY_REDIS_ADDR",
		apply:   func(cfg *Config, v any) { cfg.Notify.RedisAddr = v.(string) },
		extract: func(cfg Config) any { return cfg.Notify.RedisAddr },
	},
	{
		key: "notify.redis_password", typ: kString, env: "FRONTDESK_NOTIFY_REDIS_PASSWORD",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Notify.RedisPassword = v.(string) },
		extract: func(cfg Config) any { return cfg.Notify.RedisPassword },
	},
	{
		key: "notify.redis_channel", typ: kString, env: "FRONTDESK_NOTIFY_REDIS_CHANNEL",
		apply:   func(cfg *Config, v any) { cfg.Notify.RedisChannel = v.(string) },
		extract: func(cfg Config) any { return cfg.Notify.RedisChannel },
	},
	{
		key: "notify.timeout", typ: kDuration, env: "FRONTDESK_NOTIFY_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Notify.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Notify.Timeout },
	},
	{
		key: "knowledge.seed_file", typ: kString, env: "FRONTDESK_KNOWLEDGE_SEED_FILE",
		apply:   func(cfg *Config, v any) { cfg.Knowledge.SeedFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Knowledge.SeedFile },
	},
	{
		key: "log.level", typ: kString, env: "FRONTDESK_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

// parseValue converts raw into the type the key's apply func expects.
func (s keySpec) parseValue(raw string) (any, error) {
	switch s.typ {
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
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kDuration:
			v, ok, err := b.GetDuration(s.key)
			if err != nil {
				fmt.Fprintf(os.Stderr, "[WARN] %v. Using default value.\n", err)
				continue
			}
			if ok {
				s.apply(cfg, v)
			}
		default:
			raw, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if !ok || raw == "" {
				continue
			}
			v, err := s.parseValue(raw)
			if err != nil {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, raw, err)
				continue
			}
			s.apply(cfg, v)
		}
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
		v, err := s.parseValue(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
