package config

import (
	"strings"
	"testing"
	"time"
)

const validSecret = "test-secret-test-secret-test-secret!"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", validSecret)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.ServerPort != 8080 {
		t.Errorf("ServerPort = %d, want 8080", cfg.ServerPort)
	}
	if cfg.ServerEnv != "production" {
		t.Errorf("ServerEnv = %q, want production", cfg.ServerEnv)
	}
	if cfg.JWTAccessTTL != 15*time.Minute {
		t.Errorf("JWTAccessTTL = %v, want 15m", cfg.JWTAccessTTL)
	}
	if cfg.JWTRefreshTTL != 7*24*time.Hour {
		t.Errorf("JWTRefreshTTL = %v, want 168h", cfg.JWTRefreshTTL)
	}
	if cfg.GatewayHeartbeatInterval != 45*time.Second {
		t.Errorf("GatewayHeartbeatInterval = %v, want 45s", cfg.GatewayHeartbeatInterval)
	}
	if cfg.MaxGuildsPerUser != 100 || cfg.MaxChannelsPerGuild != 500 || cfg.MaxMessageLength != 4000 {
		t.Errorf("entity limits = %d/%d/%d, want 100/500/4000",
			cfg.MaxGuildsPerUser, cfg.MaxChannelsPerGuild, cfg.MaxMessageLength)
	}
	if cfg.IsDevelopment() {
		t.Error("IsDevelopment() = true with default env")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", validSecret)
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("GATEWAY_HEARTBEAT_INTERVAL", "30s")
	t.Setenv("MAX_MESSAGE_LENGTH", "2000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ServerPort != 9090 {
		t.Errorf("ServerPort = %d, want 9090", cfg.ServerPort)
	}
	if cfg.GatewayHeartbeatInterval != 30*time.Second {
		t.Errorf("GatewayHeartbeatInterval = %v, want 30s", cfg.GatewayHeartbeatInterval)
	}
	if cfg.MaxMessageLength != 2000 {
		t.Errorf("MaxMessageLength = %d, want 2000", cfg.MaxMessageLength)
	}
}

func TestLoadMissingSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	if _, err := Load(); err == nil {
		t.Error("Load() without JWT_SECRET error = nil, want error")
	}
}

func TestLoadShortSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "too-short")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() with short JWT_SECRET error = nil, want error")
	}
	if !strings.Contains(err.Error(), "JWT_SECRET") {
		t.Errorf("Load() error = %v, want mention of JWT_SECRET", err)
	}
}

func TestLoadUnparsableValue(t *testing.T) {
	t.Setenv("JWT_SECRET", validSecret)
	t.Setenv("SERVER_PORT", "not-a-number")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() with bad SERVER_PORT error = nil, want error")
	}
	if !strings.Contains(err.Error(), "SERVER_PORT") {
		t.Errorf("Load() error = %v, want mention of SERVER_PORT", err)
	}
}

func TestLoadValidationRanges(t *testing.T) {
	t.Setenv("JWT_SECRET", validSecret)
	t.Setenv("SNOWFLAKE_WORKER_ID", "32")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() with out-of-range worker ID error = nil, want error")
	}
	if !strings.Contains(err.Error(), "SNOWFLAKE_WORKER_ID") {
		t.Errorf("Load() error = %v, want mention of SNOWFLAKE_WORKER_ID", err)
	}
}

func TestLoadReportsAllErrors(t *testing.T) {
	t.Setenv("JWT_SECRET", validSecret)
	t.Setenv("SERVER_PORT", "bogus")
	t.Setenv("DATABASE_MAX_CONNS", "bogus")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() error = nil, want joined parse errors")
	}
	if !strings.Contains(err.Error(), "SERVER_PORT") || !strings.Contains(err.Error(), "DATABASE_MAX_CONNS") {
		t.Errorf("Load() error = %v, want both invalid variables reported", err)
	}
}

func TestDevelopmentServerURL(t *testing.T) {
	t.Setenv("JWT_SECRET", validSecret)
	t.Setenv("SERVER_ENV", "development")
	t.Setenv("SERVER_PORT", "3000")
	t.Setenv("SERVER_URL", "https://chat.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.IsDevelopment() {
		t.Error("IsDevelopment() = false, want true")
	}
	if cfg.ServerURL != "http://localhost:3000" {
		t.Errorf("ServerURL = %q, want local override", cfg.ServerURL)
	}
}
