package config

import (
	"testing"
	"time"
)

func TestLoadServerDefaults(t *testing.T) {
	cfg, err := LoadServer()
	if err != nil {
		t.Fatalf("LoadServer() error = %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.ActionTimeout != 30*time.Second {
		t.Fatalf("ActionTimeout = %v, want 30s", cfg.ActionTimeout)
	}
	if cfg.PendingGCAge != 60*time.Second {
		t.Fatalf("PendingGCAge = %v, want 60s", cfg.PendingGCAge)
	}
	if cfg.HeartbeatInterval != 10*time.Second {
		t.Fatalf("HeartbeatInterval = %v, want 10s", cfg.HeartbeatInterval)
	}
	if cfg.LivenessWindow() != 20*time.Second {
		t.Fatalf("LivenessWindow() = %v, want 20s", cfg.LivenessWindow())
	}
	if !cfg.ValidateFrames {
		t.Fatal("ValidateFrames should default to true")
	}
}

func TestLoadServerWithoutPostgresDSN(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "")

	cfg, err := LoadServer()
	if err != nil {
		t.Fatalf("LoadServer() error = %v", err)
	}
	if cfg.PostgresDSN != "" {
		t.Fatalf("PostgresDSN = %q, want empty", cfg.PostgresDSN)
	}
}

func TestLoadServerParseTypes(t *testing.T) {
	t.Setenv("HEARTBEAT_INTERVAL", "2s")
	t.Setenv("LIVENESS_MULTIPLIER", "3")
	t.Setenv("MAX_MESSAGE_BYTES", "4096")
	t.Setenv("VALIDATE_FRAMES", "false")
	t.Setenv("ALLOWED_ORIGINS", "https://vtt.example,localhost:3000")

	cfg, err := LoadServer()
	if err != nil {
		t.Fatalf("LoadServer() error = %v", err)
	}
	if cfg.LivenessWindow() != 6*time.Second {
		t.Fatalf("LivenessWindow() = %v, want 6s", cfg.LivenessWindow())
	}
	if cfg.MaxMessageBytes != 4096 {
		t.Fatalf("MaxMessageBytes = %d, want 4096", cfg.MaxMessageBytes)
	}
	if cfg.ValidateFrames {
		t.Fatal("ValidateFrames = true, want false")
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "localhost:3000" {
		t.Fatalf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
}

func TestLoadServerRejectsBadDuration(t *testing.T) {
	t.Setenv("ACTION_TIMEOUT", "soon")

	if _, err := LoadServer(); err == nil {
		t.Fatal("LoadServer() expected error, got nil")
	}
}

func TestLoadServerWebhookDefaults(t *testing.T) {
	cfg, err := LoadServer()
	if err != nil {
		t.Fatalf("LoadServer() error = %v", err)
	}
	if cfg.WebhookWorkers != 2 || cfg.WebhookRetryMax != 3 {
		t.Fatalf("webhook workers/retries = %d/%d, want 2/3", cfg.WebhookWorkers, cfg.WebhookRetryMax)
	}
	if cfg.WebhookRetryBase != 500*time.Millisecond {
		t.Fatalf("WebhookRetryBase = %v, want 500ms", cfg.WebhookRetryBase)
	}
}
