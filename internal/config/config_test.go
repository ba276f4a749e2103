package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SyncInterval != 5*time.Minute {
		t.Errorf("sync interval = %s, want 5m", cfg.SyncInterval)
	}
	if cfg.PrimaryCalendar != "primary" {
		t.Errorf("primary = %q, want %q", cfg.PrimaryCalendar, "primary")
	}
	if cfg.DefaultStep != "calendar" {
		t.Errorf("default step = %q, want %q", cfg.DefaultStep, "calendar")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("port = %q, want 8080", cfg.Port)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pratiche.yaml")
	data := `
port: "9090"
log_format: json
sync_interval: 2m
google:
  client_id: file-client
  client_secret: file-secret
calendars:
  primary: primary
  deeds: deeds@group.calendar.google.com
`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("PRATICHE_GOOGLE_CLIENT_ID", "env-client")
	t.Setenv("PRATICHE_REMOTE_TIMEOUT", "3s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("port = %q, want 9090", cfg.Port)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("log format = %q, want json", cfg.LogFormat)
	}
	if cfg.SyncInterval != 2*time.Minute {
		t.Errorf("sync interval = %s, want 2m", cfg.SyncInterval)
	}
	if cfg.Google.ClientID != "env-client" {
		t.Errorf("client id = %q, env should win", cfg.Google.ClientID)
	}
	if cfg.Google.ClientSecret != "file-secret" {
		t.Errorf("client secret = %q, want file-secret", cfg.Google.ClientSecret)
	}
	if cfg.RemoteTimeout != 3*time.Second {
		t.Errorf("remote timeout = %s, want 3s", cfg.RemoteTimeout)
	}
	if cfg.Calendars["deeds"] != "deeds@group.calendar.google.com" {
		t.Errorf("calendars = %v", cfg.Calendars)
	}
}

func TestCalendarsEnv(t *testing.T) {
	t.Setenv("PRATICHE_CALENDARS", "primary=primary, team=team@group.calendar.google.com")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	ids := cfg.CalendarIDs()
	if len(ids) != 2 || ids[0] != "primary" {
		t.Errorf("calendar ids = %v, want primary first of 2", ids)
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("port: [unclosed"), 0600)

	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}
