package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Workers.Count != 2 {
		t.Fatalf("workers.count = %d, want 2", cfg.Workers.Count)
	}
	if cfg.Cleanup.Interval != 15*time.Minute {
		t.Fatalf("cleanup.interval = %s, want 15m", cfg.Cleanup.Interval)
	}
	if cfg.Storage.ResourceTTL != time.Hour {
		t.Fatalf("resource_ttl = %s, want 1h", cfg.Storage.ResourceTTL)
	}
	if cfg.Server.Version != "1.1.0" {
		t.Fatalf("version = %q", cfg.Server.Version)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := []byte(`
server:
  port: 8080
  public_url: "http://example.test/"
workers:
  count: 3
storage:
  task_ttl: 30m
transcription:
  provider: OpenAI
`)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("AUDIO_RELAY_WORKERS_COUNT", "5")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Fatalf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Workers.Count != 5 {
		t.Fatalf("workers.count = %d, want env override 5", cfg.Workers.Count)
	}
	if cfg.Storage.TaskTTL != 30*time.Minute {
		t.Fatalf("task_ttl = %s, want 30m", cfg.Storage.TaskTTL)
	}
	if cfg.Transcription.Provider != "openai" {
		t.Fatalf("provider = %q, want openai", cfg.Transcription.Provider)
	}
	if cfg.Server.PublicURL != "http://example.test" {
		t.Fatalf("public_url = %q", cfg.Server.PublicURL)
	}
}

func TestLoadEnvOnlyKeys(t *testing.T) {
	t.Setenv("AUDIO_RELAY_TRANSCRIPTION_API_KEY", "env-key")
	t.Setenv("AUDIO_RELAY_SERVER_PUBLIC_URL", "https://relay.example/")
	t.Setenv("AUDIO_RELAY_ACQUIRE_STRATEGIES_FILE", "/etc/relay/strategies.yaml")
	t.Setenv("AUDIO_RELAY_ACQUIRE_YTDLP_BINARY", "/usr/local/bin/yt-dlp")
	t.Setenv("AUDIO_RELAY_GOOGLE_DRIVE_CREDENTIALS_FILE", "/secrets/credentials.json")
	t.Setenv("AUDIO_RELAY_BROWSER_PROXY", "socks5://127.0.0.1:9050")
	t.Setenv("AUDIO_RELAY_TRANSCRIPTION_MODEL", "whisper-large")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	checks := map[string][2]string{
		"transcription.api_key":         {cfg.Transcription.APIKey, "env-key"},
		"server.public_url":             {cfg.Server.PublicURL, "https://relay.example"},
		"acquire.strategies_file":       {cfg.Acquire.StrategiesFile, "/etc/relay/strategies.yaml"},
		"acquire.ytdlp_binary":          {cfg.Acquire.YtDlpBinary, "/usr/local/bin/yt-dlp"},
		"google_drive.credentials_file": {cfg.GoogleDrive.CredentialsFile, "/secrets/credentials.json"},
		"browser.proxy":                 {cfg.Browser.Proxy, "socks5://127.0.0.1:9050"},
		"transcription.model":           {cfg.Transcription.Model, "whisper-large"},
	}
	for key, c := range checks {
		if c[0] != c[1] {
			t.Errorf("%s = %q, want %q", key, c[0], c[1])
		}
	}
}

func TestPathFromEnv(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	if got := PathFromEnv(); got != DefaultPath {
		t.Fatalf("path = %q, want %q", got, DefaultPath)
	}
	t.Setenv("CONFIG_PATH", "/etc/relay/config.yaml")
	if got := PathFromEnv(); got != "/etc/relay/config.yaml" {
		t.Fatalf("path = %q", got)
	}
}
