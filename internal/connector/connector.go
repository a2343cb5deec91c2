// Package connector defines the interface for pushing console
// notifications to external channels.
package connector

import (
	"context"
	"log/slog"
)

// Notifier delivers a notification to an external platform (Telegram,
// Slack, etc.).
type Notifier interface {
	// Name returns the notifier type (e.g., "telegram", "slack").
	Name() string
	// Notify delivers a notification.
	Notify(ctx context.Context, n Notification) error
}

// Notification is an event worth announcing to an ops channel: a new
// customer message, a ticket status change, an expired session.
type Notification struct {
	Title    string
	Body     string
	TicketID int64 // 0 when not ticket-related
}

// Broadcast sends a notification through every notifier, logging failures
// instead of aborting. One unreachable channel must not block the rest.
func Broadcast(ctx context.Context, notifiers []Notifier, n Notification, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, nt := range notifiers {
		if err := nt.Notify(ctx, n); err != nil {
			logger.Error("notification failed", "notifier", nt.Name(), "error", err)
		}
	}
}
