// Package config loads runtime settings from defaults, an optional YAML file
// and PRATICHE_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const envPrefix = "PRATICHE_"

// Google holds the OAuth client registration for the calendar API.
type Google struct {
	ClientID        string `yaml:"client_id"`
	ClientSecret    string `yaml:"client_secret"`
	RedirectURL     string `yaml:"redirect_url"`
	TokenPassphrase string `yaml:"token_passphrase"`
	// APIEndpoint overrides the calendar API base URL; empty uses Google's.
	APIEndpoint string `yaml:"api_endpoint"`
}

type Config struct {
	Port            string            `yaml:"port"`
	LogLevel        string            `yaml:"log_level"`
	LogFormat       string            `yaml:"log_format"`
	LocalDBPath     string            `yaml:"local_db_path"`
	DocumentsDBPath string            `yaml:"documents_db_path"`
	UserID          string            `yaml:"user_id"`
	Google          Google            `yaml:"google"`
	Calendars       map[string]string `yaml:"calendars"`
	PrimaryCalendar string            `yaml:"primary_calendar"`
	DefaultStep     string            `yaml:"default_step"`
	SyncInterval    time.Duration     `yaml:"sync_interval"`
	RemoteTimeout   time.Duration     `yaml:"remote_timeout"`
	ProbeURL        string            `yaml:"probe_url"`
	ProbeInterval   time.Duration     `yaml:"probe_interval"`
}

func Default() Config {
	return Config{
		Port:            "8080",
		LogLevel:        "info",
		LogFormat:       "text",
		LocalDBPath:     "pratiche-local.db",
		DocumentsDBPath: "pratiche.db",
		UserID:          "local",
		Google: Google{
			RedirectURL: "http://localhost:8080/auth/callback",
		},
		Calendars:       map[string]string{"primary": "primary"},
		PrimaryCalendar: "primary",
		DefaultStep:     "calendar",
		SyncInterval:    5 * time.Minute,
		RemoteTimeout:   10 * time.Second,
		ProbeURL:        "https://www.googleapis.com/generate_204",
		ProbeInterval:   30 * time.Second,
	}
}

// Load returns the defaults overlaid with the YAML file at path (skipped when
// path is empty or the file does not exist) and then the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	applyEnv(&cfg)

	if cfg.PrimaryCalendar == "" {
		cfg.PrimaryCalendar = "primary"
	}
	if len(cfg.Calendars) == 0 {
		cfg.Calendars = map[string]string{"primary": cfg.PrimaryCalendar}
	}
	if cfg.SyncInterval <= 0 {
		return cfg, fmt.Errorf("sync_interval must be positive, got %s", cfg.SyncInterval)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("LOG_FORMAT", cfg.LogFormat)
	cfg.LocalDBPath = getEnv("LOCAL_DB_PATH", cfg.LocalDBPath)
	cfg.DocumentsDBPath = getEnv("DOCUMENTS_DB_PATH", cfg.DocumentsDBPath)
	cfg.UserID = getEnv("USER_ID", cfg.UserID)
	cfg.Google.ClientID = getEnv("GOOGLE_CLIENT_ID", cfg.Google.ClientID)
	cfg.Google.ClientSecret = getEnv("GOOGLE_CLIENT_SECRET", cfg.Google.ClientSecret)
	cfg.Google.RedirectURL = getEnv("GOOGLE_REDIRECT_URL", cfg.Google.RedirectURL)
	cfg.Google.TokenPassphrase = getEnv("TOKEN_PASSPHRASE", cfg.Google.TokenPassphrase)
	cfg.Google.APIEndpoint = getEnv("GOOGLE_API_ENDPOINT", cfg.Google.APIEndpoint)
	cfg.PrimaryCalendar = getEnv("PRIMARY_CALENDAR", cfg.PrimaryCalendar)
	cfg.DefaultStep = getEnv("DEFAULT_STEP", cfg.DefaultStep)
	cfg.SyncInterval = getDurationEnv("SYNC_INTERVAL", cfg.SyncInterval)
	cfg.RemoteTimeout = getDurationEnv("REMOTE_TIMEOUT", cfg.RemoteTimeout)
	cfg.ProbeURL = getEnv("PROBE_URL", cfg.ProbeURL)
	cfg.ProbeInterval = getDurationEnv("PROBE_INTERVAL", cfg.ProbeInterval)

	// PRATICHE_CALENDARS=name=id,name=id replaces the whole map.
	if v := getEnv("CALENDARS", ""); v != "" {
		cals := make(map[string]string)
		for _, part := range splitAndTrim(v) {
			name, id, ok := strings.Cut(part, "=")
			if !ok {
				name, id = part, part
			}
			cals[strings.TrimSpace(name)] = strings.TrimSpace(id)
		}
		cfg.Calendars = cals
	}
}

// CalendarIDs returns the configured calendar ids, primary first.
func (c Config) CalendarIDs() []string {
	ids := []string{c.PrimaryCalendar}
	seen := map[string]bool{c.PrimaryCalendar: true}
	for _, id := range c.Calendars {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(envPrefix + key); ok && value != "" {
		return value
	}
	return fallback
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(envPrefix + key); ok && value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func splitAndTrim(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
