package protocol

import "time"

// EventType identifies a console event pushed to UI clients.
type EventType string

const (
	// EventTicketsRefreshed fires after the ticket collection is replaced
	// by a poll or explicit reload.
	EventTicketsRefreshed EventType = "tickets.refreshed"
	// EventTicketUpdated fires when the currently open ticket changes
	// (new message, status transition, or a superseding server copy).
	EventTicketUpdated EventType = "ticket.updated"
	// EventFlagsRefreshed fires after the feature flag cache changes.
	EventFlagsRefreshed EventType = "flags.refreshed"
	// EventSessionExpired fires on hard logout; UI clients must drop local
	// state and route to their login screen.
	EventSessionExpired EventType = "session.expired"
)

// Event is the payload carried on the console's websocket feed.
type Event struct {
	Type         EventType `json:"type"`
	TicketID     int64     `json:"ticket_id,omitempty"`
	MessageCount int       `json:"message_count,omitempty"`
	// ScrollToLatest hints that the open ticket's message sequence grew and
	// the view should scroll to the newest message.
	ScrollToLatest bool      `json:"scroll_to_latest,omitempty"`
	Time           time.Time `json:"time"`
}
