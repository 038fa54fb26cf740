package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server     ServerConfig
	Storage    StorageConfig
	Escalation EscalationConfig
	Notify     NotifyConfig
	Knowledge  KnowledgeConfig
	Log        LogConfig
}

type ServerConfig struct {
	Port           int
	APIToken       string
	RateLimitRPS   float64
	RateLimitBurst int
}

type StorageConfig struct {
	Driver       string
	DataDir      string
	PostgresDSN  string
	QueryTimeout time.Duration
}

type EscalationConfig struct {
	Window        time.Duration
	SweepInterval time.Duration
}

type NotifyConfig struct {
	Backend       string
	WebhookURL    string
	WebhookToken  string
	RedisAddr     string
	RedisPassword string
	RedisChannel  string
	Timeout       time.Duration
}

type KnowledgeConfig struct {
	SeedFile string
}

type LogConfig struct {
	Level string
}

// Notification backends.
const (
	NotifyLog     = "log"
	NotifyWebhook = "webhook"
	NotifyRedis   = "redis"
)

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:           5000,
			RateLimitRPS:   10,
			RateLimitBurst: 20,
		},
		Storage: StorageConfig{
			Driver:       "sqlite",
			DataDir:      defaultDataDir(),
			QueryTimeout: 5 * time.Second,
		},
		Escalation: EscalationConfig{
			Window:        30 * time.Minute,
			SweepInterval: 5 * time.Minute,
		},
		Notify: NotifyConfig{
			Backend:      NotifyLog,
			RedisAddr:    "localhost:6379",
			RedisChannel: "frontdesk:texts",
			Timeout:      10 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON config file, then applies
// FRONTDESK_* environment variables (a .env file in the working directory is
// loaded first). Secrets are env-only, falling back to the secrets file.
//
// The config file lives at $XDG_CONFIG_HOME/frontdesk/config.yaml and the
// secrets file at $XDG_DATA_HOME/frontdesk/secrets.json.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "[WARN] could not load .env: %v\n", err)
	}
	return loadWith(newPlatformBackend(), newFileSecrets())
}

func loadWith(b ConfigBackend, secrets secretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	applySecrets(&cfg, secrets)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first inconsistent setting.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("missing required config: storage.postgres_dsn. " +
				"Set it via environment variable FRONTDESK_STORAGE_POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("invalid storage.driver %q: want sqlite or postgres", c.Storage.Driver)
	}

	switch c.Notify.Backend {
	case NotifyLog:
	case NotifyWebhook:
		if c.Notify.WebhookURL == "" {
			return fmt.Errorf("missing required config: notify.webhook_url for the webhook notifier")
		}
	case NotifyRedis:
		if c.Notify.RedisAddr == "" {
			return fmt.Errorf("missing required config: notify.redis_addr for the redis notifier")
		}
	default:
		return fmt.Errorf("invalid notify.backend %q: want log, webhook or redis", c.Notify.Backend)
	}

	if c.Escalation.Window <= 0 {
		return fmt.Errorf("escalation.window must be positive, got %s", c.Escalation.Window)
	}
	if c.Escalation.SweepInterval <= 0 {
		return fmt.Errorf("escalation.sweep_interval must be positive, got %s", c.Escalation.SweepInterval)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log.level %q", c.Log.Level)
	}
	return nil
}

func applySecrets(cfg *Config, secrets secretStore) {
	for _, s := range specs {
		if !s.secret {
			continue
		}
		if cur, _ := s.extract(*cfg).(string); cur != "" {
			continue
		}
		if v, err := secrets.Get(s.key); err == nil && v != "" {
			s.apply(cfg, v)
		}
	}
}
