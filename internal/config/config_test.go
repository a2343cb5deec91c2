package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validJSON = `{
  "console": {
    "data_dir": "/tmp/till-test",
    "theme": "dark"
  },
  "backend": {
    "origin": "https://billing.example.com",
    "timeout": 15
  },
  "poll": {
    "tickets": 5,
    "flags": 30
  },
  "api": {
    "host": "0.0.0.0",
    "port": 8080,
    "api_key": "console-key"
  },
  "connectors": {
    "telegram": {
      "token": "123456:ABC",
      "chat_id": 100
    },
    "slack": {
      "bot_token": "xoxb-test",
      "channel": "#support"
    }
  },
  "webhook": {
    "secret": "whsec"
  }
}`

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	os.WriteFile(path, []byte(validJSON), 0o644)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Console.DataDir != "/tmp/till-test" {
		t.Errorf("console.data_dir = %q", cfg.Console.DataDir)
	}
	if cfg.Console.Theme != "dark" {
		t.Errorf("console.theme = %q", cfg.Console.Theme)
	}
	if cfg.Backend.Origin != "https://billing.example.com" {
		t.Errorf("backend.origin = %q", cfg.Backend.Origin)
	}
	if cfg.Backend.AuthOrigin != cfg.Backend.Origin {
		t.Errorf("auth_origin = %q, want origin default", cfg.Backend.AuthOrigin)
	}
	if cfg.Backend.TimeoutSeconds != 15 {
		t.Errorf("backend.timeout = %d", cfg.Backend.TimeoutSeconds)
	}
	if cfg.Poll.TicketSeconds != 5 {
		t.Errorf("poll.tickets = %d", cfg.Poll.TicketSeconds)
	}
	if cfg.API.Port != 8080 {
		t.Errorf("api.port = %d", cfg.API.Port)
	}
	if cfg.Connectors.Telegram == nil || cfg.Connectors.Telegram.ChatID != 100 {
		t.Errorf("telegram = %+v", cfg.Connectors.Telegram)
	}
	if cfg.Connectors.Slack == nil || cfg.Connectors.Slack.Channel != "#support" {
		t.Errorf("slack = %+v", cfg.Connectors.Slack)
	}
	if cfg.Webhook.Secret != "whsec" {
		t.Errorf("webhook.secret = %q", cfg.Webhook.Secret)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.json")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	os.WriteFile(path, []byte("not json"), 0o644)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	os.WriteFile(path, []byte(`{"console": {"data_dir": "/data"}}`), 0o644)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Backend.Origin != "http://localhost:8000" {
		t.Errorf("backend.origin default = %q", cfg.Backend.Origin)
	}
	if cfg.Backend.TimeoutSeconds != 10 || cfg.Backend.AuthTimeoutSeconds != 5 {
		t.Errorf("timeout defaults = %d/%d", cfg.Backend.TimeoutSeconds, cfg.Backend.AuthTimeoutSeconds)
	}
	if cfg.Poll.TicketSeconds != 10 || cfg.Poll.FlagSeconds != 60 {
		t.Errorf("poll defaults = %+v", cfg.Poll)
	}
	if cfg.Console.Theme != "light" {
		t.Errorf("theme default = %q", cfg.Console.Theme)
	}
}

func TestValidate_MissingDataDir(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "console.data_dir") {
		t.Errorf("expected data_dir error, got %v", err)
	}
}

func TestValidate_BadOrigin(t *testing.T) {
	cfg := &Config{
		Console: ConsoleConfig{DataDir: "/data"},
		Backend: BackendConfig{Origin: "localhost:8000"},
	}
	cfg.applyDefaults()
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "backend.origin") {
		t.Errorf("expected origin error, got %v", err)
	}
}

func TestValidate_TelegramNoToken(t *testing.T) {
	cfg := &Config{
		Console:    ConsoleConfig{DataDir: "/data"},
		Connectors: ConnectorConfig{Telegram: &TelegramConfig{ChatID: 1}},
	}
	cfg.applyDefaults()
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "telegram.token") {
		t.Errorf("expected telegram token error, got %v", err)
	}
}

func TestValidate_SlackNoChannel(t *testing.T) {
	cfg := &Config{
		Console:    ConsoleConfig{DataDir: "/data"},
		Connectors: ConnectorConfig{Slack: &SlackConfig{BotToken: "xoxb"}},
	}
	cfg.applyDefaults()
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "slack.channel") {
		t.Errorf("expected slack channel error, got %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("TILL_DATA_DIR", "/env/data")
	t.Setenv("TILL_BACKEND_ORIGIN", "https://api.example.com")
	t.Setenv("TILL_API_PORT", "9090")
	t.Setenv("TILL_API_KEY", "env-key")
	t.Setenv("TILL_TELEGRAM_TOKEN", "tg-token")
	t.Setenv("TILL_TELEGRAM_CHAT_ID", "42")
	t.Setenv("TILL_SLACK_BOT_TOKEN", "xoxb-env")
	t.Setenv("TILL_SLACK_CHANNEL", "#ops")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}

	if cfg.Console.DataDir != "/env/data" {
		t.Errorf("data_dir = %q", cfg.Console.DataDir)
	}
	if cfg.Backend.Origin != "https://api.example.com" {
		t.Errorf("origin = %q", cfg.Backend.Origin)
	}
	if cfg.Backend.AuthOrigin != "https://api.example.com" {
		t.Errorf("auth_origin = %q", cfg.Backend.AuthOrigin)
	}
	if cfg.API.Port != 9090 || cfg.API.Key != "env-key" {
		t.Errorf("api = %+v", cfg.API)
	}
	if cfg.Connectors.Telegram == nil || cfg.Connectors.Telegram.ChatID != 42 {
		t.Errorf("telegram = %+v", cfg.Connectors.Telegram)
	}
	if cfg.Connectors.Slack == nil || cfg.Connectors.Slack.Channel != "#ops" {
		t.Errorf("slack = %+v", cfg.Connectors.Slack)
	}
}
