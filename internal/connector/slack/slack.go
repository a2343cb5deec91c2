// Package slackconn pushes console notifications to a Slack channel.
package slackconn

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/slack-go/slack"

	"github.com/tillhq-io/till/internal/connector"
)

// Config holds Slack notifier configuration.
type Config struct {
	BotToken string // xoxb-... Bot User OAuth Token
	Channel  string // Target channel for notifications
}

// Notifier implements connector.Notifier for Slack.
type Notifier struct {
	api    *slack.Client
	config Config
	logger *slog.Logger
}

// New creates a new Slack notifier.
func New(cfg Config, logger *slog.Logger) (*Notifier, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("slack: bot_token is required")
	}
	if cfg.Channel == "" {
		return nil, fmt.Errorf("slack: channel is required")
	}

	if logger == nil {
		logger = slog.Default()
	}

	api := slack.New(cfg.BotToken)

	authResp, err := api.AuthTest()
	if err != nil {
		return nil, fmt.Errorf("slack: auth test: %w", err)
	}
	logger.Info("slack bot authorized", "user", authResp.User, "team", authResp.Team)

	return &Notifier{api: api, config: cfg, logger: logger}, nil
}

func (n *Notifier) Name() string { return "slack" }

// Notify posts a notification to the configured channel.
func (n *Notifier) Notify(ctx context.Context, note connector.Notification) error {
	_, _, err := n.api.PostMessageContext(ctx, n.config.Channel,
		slack.MsgOptionText(FormatMrkdwn(note), false),
	)
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}

// FormatMrkdwn renders a notification in Slack's mrkdwn format.
func FormatMrkdwn(note connector.Notification) string {
	var b strings.Builder
	if note.Title != "" {
		fmt.Fprintf(&b, "*%s*", note.Title)
	}
	if note.TicketID != 0 {
		fmt.Fprintf(&b, " `#%d`", note.TicketID)
	}
	if note.Body != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(note.Body)
	}
	return b.String()
}
