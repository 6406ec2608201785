package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ServiceName != "scholarship-board" {
		t.Fatalf("expected default service name, got %q", cfg.ServiceName)
	}
	if cfg.ApprovalQuorum != 3 {
		t.Fatalf("expected quorum 3, got %d", cfg.ApprovalQuorum)
	}
	if cfg.PresenceWindow != 45*time.Second {
		t.Fatalf("expected 45s presence window, got %s", cfg.PresenceWindow)
	}
	if cfg.PollMaxWait != 30*time.Second || cfg.PollRecheckInterval != 500*time.Millisecond {
		t.Fatalf("unexpected poll defaults: %s %s", cfg.PollMaxWait, cfg.PollRecheckInterval)
	}
	if !cfg.AutoMigrate {
		t.Fatal("expected auto migrate enabled by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APPROVAL_QUORUM", "5")
	t.Setenv("PRESENCE_WINDOW", "1m")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ApprovalQuorum != 5 {
		t.Fatalf("expected quorum 5, got %d", cfg.ApprovalQuorum)
	}
	if cfg.PresenceWindow != time.Minute {
		t.Fatalf("expected 1m window, got %s", cfg.PresenceWindow)
	}
	if cfg.SlogLevel() != slog.LevelDebug {
		t.Fatalf("expected debug level, got %s", cfg.SlogLevel())
	}
}

func TestLoadRejectsInvalidQuorum(t *testing.T) {
	t.Setenv("APPROVAL_QUORUM", "0")
	if _, err := Load(); err == nil {
		t.Fatal("expected quorum validation error")
	}
}

func TestLoadRequiresSecretWithPostgres(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://localhost/board")
	t.Setenv("JWT_SECRET", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected JWT_SECRET requirement")
	}
}

func TestParseEnvError(t *testing.T) {
	t.Setenv("APPROVAL_QUORUM", "three")
	_, err := Load()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}

func TestLoadTrustedProxiesAndDevSeed(t *testing.T) {
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8,127.0.0.1")
	t.Setenv("DEV_SEED", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.TrustedProxies) != 2 || cfg.TrustedProxies[0] != "10.0.0.0/8" || cfg.TrustedProxies[1] != "127.0.0.1" {
		t.Fatalf("expected two trusted proxies, got %v", cfg.TrustedProxies)
	}
	if cfg.DevSeed {
		t.Fatal("expected dev seed disabled")
	}
}
