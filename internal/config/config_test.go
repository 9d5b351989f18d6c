package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.ServerPort == "" {
		t.Fatalf("expected default server port")
	}
	if cfg.PostgresURL == "" {
		t.Fatalf("expected default postgres url")
	}
	if cfg.AccessTokenTTL != 30*time.Minute {
		t.Fatalf("unexpected access ttl: %v", cfg.AccessTokenTTL)
	}
	if cfg.RefreshTokenTTL != 7*24*time.Hour {
		t.Fatalf("unexpected refresh ttl: %v", cfg.RefreshTokenTTL)
	}
	if cfg.StatsMaxAttempts != 3 {
		t.Fatalf("unexpected stats attempts: %d", cfg.StatsMaxAttempts)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", ":9000")
	t.Setenv("POSTGRES_URL", "postgres://example")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("ACCESS_TOKEN_TTL", "5m")
	t.Setenv("STATS_MAX_ATTEMPTS", "7")
	t.Setenv("LOG_FORMAT", "console")

	cfg := Load()
	if cfg.ServerPort != ":9000" {
		t.Fatalf("expected override port")
	}
	if cfg.PostgresURL != "postgres://example" {
		t.Fatalf("expected override postgres")
	}
	if cfg.RedisAddr != "redis:6379" {
		t.Fatalf("expected override redis")
	}
	if cfg.JWTSecret != "secret" {
		t.Fatalf("expected override secret")
	}
	if cfg.AccessTokenTTL != 5*time.Minute {
		t.Fatalf("expected override access ttl, got %v", cfg.AccessTokenTTL)
	}
	if cfg.StatsMaxAttempts != 7 {
		t.Fatalf("expected override attempts")
	}
	if cfg.LogFormat != "console" {
		t.Fatalf("expected override log format")
	}
}

func TestLoadClampsAttempts(t *testing.T) {
	t.Setenv("STATS_MAX_ATTEMPTS", "0")
	if cfg := Load(); cfg.StatsMaxAttempts != 1 {
		t.Fatalf("expected attempts clamped to 1, got %d", cfg.StatsMaxAttempts)
	}
}
