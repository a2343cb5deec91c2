// Package telegram pushes console notifications to a Telegram chat.
package telegram

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/tillhq-io/till/internal/connector"
)

// Config holds Telegram notifier configuration.
type Config struct {
	Token  string // Bot token from @BotFather
	ChatID int64  // Target chat for notifications
}

// Notifier implements connector.Notifier for Telegram.
type Notifier struct {
	bot    *tgbotapi.BotAPI
	config Config
	logger *slog.Logger
}

// New creates a new Telegram notifier.
func New(cfg Config, logger *slog.Logger) (*Notifier, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram: init bot: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("telegram bot authorized", "username", bot.Self.UserName)

	return &Notifier{bot: bot, config: cfg, logger: logger}, nil
}

func (n *Notifier) Name() string { return "telegram" }

// Notify delivers a notification to the configured chat.
func (n *Notifier) Notify(_ context.Context, note connector.Notification) error {
	text := FormatHTML(note)
	if strings.TrimSpace(text) == "" {
		n.logger.Warn("skipping empty notification", "chat_id", n.config.ChatID)
		return nil
	}

	msg := tgbotapi.NewMessage(n.config.ChatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	_, err := n.bot.Send(msg)
	if err != nil {
		// Fallback to plain text if HTML fails
		n.logger.Warn("HTML send failed, falling back to plain text",
			"chat_id", n.config.ChatID,
			"error", err,
		)
		msg.Text = formatPlain(note)
		msg.ParseMode = ""
		_, err = n.bot.Send(msg)
	}
	return err
}

// FormatHTML renders a notification as Telegram HTML.
func FormatHTML(note connector.Notification) string {
	var b strings.Builder
	if note.Title != "" {
		fmt.Fprintf(&b, "<b>%s</b>", html.EscapeString(note.Title))
	}
	if note.TicketID != 0 {
		fmt.Fprintf(&b, " <code>#%d</code>", note.TicketID)
	}
	if note.Body != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(html.EscapeString(note.Body))
	}
	return b.String()
}

func formatPlain(note connector.Notification) string {
	parts := make([]string, 0, 2)
	title := note.Title
	if note.TicketID != 0 {
		title = fmt.Sprintf("%s #%d", title, note.TicketID)
	}
	if title != "" {
		parts = append(parts, title)
	}
	if note.Body != "" {
		parts = append(parts, note.Body)
	}
	return strings.Join(parts, "\n")
}
