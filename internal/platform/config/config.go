package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is centralized process configuration.
// Keep infra values here and pass typed config into builders.
type Config struct {
	ServiceName string `env:"SERVICE_NAME" envDefault:"scholarship-board"`
	HTTPPort    string `env:"HTTP_PORT" envDefault:"8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// TrustedProxies lists the proxy addresses or CIDRs whose
	// X-Forwarded-For header is believed.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`
	// DevSeed loads demo students and tokens into the in-memory store.
	DevSeed bool `env:"DEV_SEED" envDefault:"true"`

	PostgresDSN     string        `env:"POSTGRES_DSN"`
	PostgresMaxOpen int           `env:"POSTGRES_MAX_OPEN_CONNS" envDefault:"20"`
	PostgresMaxIdle int           `env:"POSTGRES_MAX_IDLE_CONNS" envDefault:"5"`
	PostgresMaxLife time.Duration `env:"POSTGRES_CONN_MAX_LIFETIME" envDefault:"30m"`
	AutoMigrate     bool          `env:"AUTO_MIGRATE" envDefault:"true"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	NATSURL     string `env:"NATS_URL"`
	NATSSubject string `env:"NATS_SUBJECT_PREFIX" envDefault:"scholarship"`

	JWTSecret string `env:"JWT_SECRET"`
	JWTIssuer string `env:"JWT_ISSUER"`

	ApprovalQuorum      int           `env:"APPROVAL_QUORUM" envDefault:"3"`
	PresenceWindow      time.Duration `env:"PRESENCE_WINDOW" envDefault:"45s"`
	PollMaxWait         time.Duration `env:"POLL_MAX_WAIT" envDefault:"30s"`
	PollRecheckInterval time.Duration `env:"POLL_RECHECK_INTERVAL" envDefault:"500ms"`

	OutboxPollInterval time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"2s"`
	OutboxBatchSize    int           `env:"OUTBOX_BATCH_SIZE" envDefault:"100"`
}

func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func (c Config) Validate() error {
	if c.ApprovalQuorum < 1 {
		return fmt.Errorf("APPROVAL_QUORUM must be at least 1, got %d", c.ApprovalQuorum)
	}
	if c.PresenceWindow <= 0 {
		return fmt.Errorf("PRESENCE_WINDOW must be positive, got %s", c.PresenceWindow)
	}
	if c.PollMaxWait < 0 || c.PollRecheckInterval <= 0 {
		return fmt.Errorf("poll timings must be positive, got max wait %s recheck %s", c.PollMaxWait, c.PollRecheckInterval)
	}
	if c.OutboxPollInterval <= 0 || c.OutboxBatchSize <= 0 {
		return fmt.Errorf("outbox relay settings must be positive")
	}
	if strings.TrimSpace(c.PostgresDSN) != "" && strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("JWT_SECRET is required when POSTGRES_DSN is set")
	}
	return nil
}

// SlogLevel maps LOG_LEVEL onto slog levels; unknown values fall back to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
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
