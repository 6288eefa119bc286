package config

import "testing"

func TestLoadBotDefaults(t *testing.T) {
	t.Setenv("SESSION_ID", "s1")

	cfg, err := LoadBot()
	if err != nil {
		t.Fatalf("LoadBot() error = %v", err)
	}
	if cfg.WSURL != "ws://localhost:8080/ws" {
		t.Fatalf("WSURL = %q, want ws://localhost:8080/ws", cfg.WSURL)
	}
	if cfg.ParticipantID != "gm" {
		t.Fatalf("ParticipantID = %q, want gm", cfg.ParticipantID)
	}
}

func TestLoadBotRequiresSession(t *testing.T) {
	t.Setenv("SESSION_ID", "")

	if _, err := LoadBot(); err == nil {
		t.Fatal("LoadBot() expected error, got nil")
	}
}

func TestLoadBotOverrides(t *testing.T) {
	t.Setenv("SESSION_ID", "s2")
	t.Setenv("WS_URL", "ws://127.0.0.1:9000/ws")
	t.Setenv("PARTICIPANT_ID", "gm-b")
	t.Setenv("TOKEN", "tok")
	t.Setenv("CAMPAIGN_ID", "camp-1")

	cfg, err := LoadBot()
	if err != nil {
		t.Fatalf("LoadBot() error = %v", err)
	}
	if cfg.WSURL != "ws://127.0.0.1:9000/ws" {
		t.Fatalf("WSURL = %q", cfg.WSURL)
	}
	if cfg.ParticipantID != "gm-b" || cfg.Token != "tok" || cfg.CampaignID != "camp-1" {
		t.Fatalf("unexpected bot config: %+v", cfg)
	}
}
