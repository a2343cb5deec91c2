package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config is the top-level till configuration.
type Config struct {
	Console    ConsoleConfig   `json:"console"`
	Backend    BackendConfig   `json:"backend"`
	Poll       PollConfig      `json:"poll"`
	API        APIConfig       `json:"api"`
	Connectors ConnectorConfig `json:"connectors"`
	Webhook    WebhookConfig   `json:"webhook"`
}

// ConsoleConfig holds console-level settings.
type ConsoleConfig struct {
	DataDir string `json:"data_dir"`
	Theme   string `json:"theme,omitempty"` // default theme before a stored preference exists
}

// BackendConfig holds settings for the billing backend.
type BackendConfig struct {
	Origin             string `json:"origin"`                 // default http://localhost:8000
	AuthOrigin         string `json:"auth_origin,omitempty"`  // defaults to origin
	TimeoutSeconds     int    `json:"timeout,omitempty"`      // seconds, default 10
	AuthTimeoutSeconds int    `json:"auth_timeout,omitempty"` // seconds, default 5
}

// PollConfig holds background refresh intervals, in seconds.
type PollConfig struct {
	TicketSeconds       int `json:"tickets,omitempty"`       // default 10
	FlagSeconds         int `json:"flags,omitempty"`         // default 60
	SessionCheckSeconds int `json:"session_check,omitempty"` // default 60
	RenewWindowSeconds  int `json:"renew_window,omitempty"`  // default 120
}

// APIConfig holds REST API server settings.
type APIConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	Key  string `json:"api_key"`
}

// ConnectorConfig holds settings for outbound notifiers.
type ConnectorConfig struct {
	Telegram *TelegramConfig `json:"telegram,omitempty"`
	Slack    *SlackConfig    `json:"slack,omitempty"`
}

// TelegramConfig holds Telegram bot settings.
type TelegramConfig struct {
	Token  string `json:"token"`
	ChatID int64  `json:"chat_id"`
}

// SlackConfig holds Slack bot settings.
type SlackConfig struct {
	BotToken string `json:"bot_token"`
	Channel  string `json:"channel"`
}

// WebhookConfig holds inbound webhook settings.
type WebhookConfig struct {
	Secret string `json:"secret,omitempty"` // HMAC signing secret; empty disables the endpoint
}

// Load reads configuration from a JSON file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromEnv builds a config from environment variables with TILL_ prefix.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Console: ConsoleConfig{
			DataDir: getenv("TILL_DATA_DIR", "/data"),
			Theme:   os.Getenv("TILL_THEME"),
		},
		Backend: BackendConfig{
			Origin:     os.Getenv("TILL_BACKEND_ORIGIN"),
			AuthOrigin: os.Getenv("TILL_AUTH_ORIGIN"),
		},
		Poll: PollConfig{
			TicketSeconds: getenvInt("TILL_POLL_TICKETS", 0),
			FlagSeconds:   getenvInt("TILL_POLL_FLAGS", 0),
		},
		API: APIConfig{
			Host: getenv("TILL_API_HOST", "0.0.0.0"),
			Port: getenvInt("TILL_API_PORT", 8080),
			Key:  os.Getenv("TILL_API_KEY"),
		},
		Webhook: WebhookConfig{
			Secret: os.Getenv("TILL_WEBHOOK_SECRET"),
		},
	}

	if token := os.Getenv("TILL_TELEGRAM_TOKEN"); token != "" {
		chatID, err := strconv.ParseInt(getenv("TILL_TELEGRAM_CHAT_ID", "0"), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("config: TILL_TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.Connectors.Telegram = &TelegramConfig{Token: token, ChatID: chatID}
	}
	if token := os.Getenv("TILL_SLACK_BOT_TOKEN"); token != "" {
		cfg.Connectors.Slack = &SlackConfig{
			BotToken: token,
			Channel:  os.Getenv("TILL_SLACK_CHANNEL"),
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Backend.Origin == "" {
		c.Backend.Origin = "http://localhost:8000"
	}
	if c.Backend.AuthOrigin == "" {
		c.Backend.AuthOrigin = c.Backend.Origin
	}
	if c.Backend.TimeoutSeconds == 0 {
		c.Backend.TimeoutSeconds = 10
	}
	if c.Backend.AuthTimeoutSeconds == 0 {
		c.Backend.AuthTimeoutSeconds = 5
	}
	if c.Poll.TicketSeconds == 0 {
		c.Poll.TicketSeconds = 10
	}
	if c.Poll.FlagSeconds == 0 {
		c.Poll.FlagSeconds = 60
	}
	if c.Poll.SessionCheckSeconds == 0 {
		c.Poll.SessionCheckSeconds = 60
	}
	if c.Poll.RenewWindowSeconds == 0 {
		c.Poll.RenewWindowSeconds = 120
	}
	if c.Console.Theme == "" {
		c.Console.Theme = "light"
	}
}

// Validate checks for required fields.
func (c *Config) Validate() error {
	var errs []string

	if c.Console.DataDir == "" {
		errs = append(errs, "console.data_dir is required")
	}
	if !strings.HasPrefix(c.Backend.Origin, "http://") && !strings.HasPrefix(c.Backend.Origin, "https://") {
		errs = append(errs, fmt.Sprintf("backend.origin %q must be an http(s) URL", c.Backend.Origin))
	}
	if c.Poll.TicketSeconds < 0 || c.Poll.FlagSeconds < 0 {
		errs = append(errs, "poll intervals must not be negative")
	}

	if c.Connectors.Telegram != nil {
		if c.Connectors.Telegram.Token == "" {
			errs = append(errs, "connectors.telegram.token is required")
		}
		if c.Connectors.Telegram.ChatID == 0 {
			errs = append(errs, "connectors.telegram.chat_id is required")
		}
	}
	if c.Connectors.Slack != nil {
		if c.Connectors.Slack.BotToken == "" {
			errs = append(errs, "connectors.slack.bot_token is required")
		}
		if c.Connectors.Slack.Channel == "" {
			errs = append(errs, "connectors.slack.channel is required")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
