package protocol

import "time"

// TicketStatus represents the lifecycle state of a support ticket.
type TicketStatus string

const (
	TicketOpen       TicketStatus = "open"
	TicketInProgress TicketStatus = "in_progress"
	TicketResolved   TicketStatus = "resolved"
)

// Valid reports whether s is a status the backend accepts.
func (s TicketStatus) Valid() bool {
	switch s {
	case TicketOpen, TicketInProgress, TicketResolved:
		return true
	}
	return false
}

// TicketPriority is the triage priority assigned to a ticket.
type TicketPriority string

const (
	PriorityLow    TicketPriority = "low"
	PriorityMedium TicketPriority = "medium"
	PriorityHigh   TicketPriority = "high"
)

// Ticket is a support conversation between a tenant and the console team.
// Messages are append-only; array order is chronological (server-assigned).
type Ticket struct {
	ID          int64          `json:"id"`
	Subject     string         `json:"subject"`
	Description string         `json:"description"`
	Status      TicketStatus   `json:"status"`
	Priority    TicketPriority `json:"priority"`
	Messages    []Message      `json:"messages"`
	UserDetails UserDetails    `json:"user_details"`
	CompanyName string         `json:"company_name"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Clone returns a deep copy of the ticket. The inbox hands out clones so
// callers can never mutate the collection of record through a shared slice.
func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	c := *t
	c.Messages = make([]Message, len(t.Messages))
	copy(c.Messages, t.Messages)
	return &c
}
