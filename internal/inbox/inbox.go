// Package inbox holds the console's support ticket state: the collection of
// record fetched from the backend, at most one "open" ticket being viewed,
// and the merge rules that keep both consistent under background polling and
// optimistic local updates.
package inbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tillhq-io/till/pkg/protocol"
)

// Backend is the slice of the backend client the inbox needs.
type Backend interface {
	ListTickets(ctx context.Context) ([]protocol.Ticket, error)
	ReplyTicket(ctx context.Context, id int64, message string) (*protocol.Message, error)
	UpdateTicketStatus(ctx context.Context, id int64, status protocol.TicketStatus) error
}

// Inbox is safe for concurrent use. Subscribers are notified outside the
// lock and must not call back into the Inbox synchronously.
type Inbox struct {
	mu      sync.Mutex
	tickets []protocol.Ticket
	open    *protocol.Ticket // clone; nil when no ticket is open
	loaded  bool

	sender     string // user identifier stamped on optimistic replies
	senderName string

	backend Backend
	logger  *slog.Logger

	subMu sync.Mutex
	subs  []func(protocol.Event)
}

// New creates an empty inbox over the given backend.
func New(backend Backend, logger *slog.Logger) *Inbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &Inbox{backend: backend, logger: logger}
}

// SetIdentity sets the sender stamped on optimistic reply messages.
func (i *Inbox) SetIdentity(sender, senderName string) {
	i.mu.Lock()
	i.sender = sender
	i.senderName = senderName
	i.mu.Unlock()
}

// Subscribe registers an event callback.
func (i *Inbox) Subscribe(fn func(protocol.Event)) {
	i.subMu.Lock()
	i.subs = append(i.subs, fn)
	i.subMu.Unlock()
}

// Load performs the initial full fetch. Unlike Poll, errors propagate so the
// caller can surface the loading failure.
func (i *Inbox) Load(ctx context.Context) error {
	return i.refresh(ctx, false)
}

// Loaded reports whether the initial fetch has completed.
func (i *Inbox) Loaded() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.loaded
}

// Poll silently re-fetches the collection. Errors are logged and swallowed
// so a transient poll failure never disturbs an open UI.
func (i *Inbox) Poll(ctx context.Context) {
	if err := i.refresh(ctx, true); err != nil {
		i.logger.Warn("ticket poll failed", "error", err)
	}
}

func (i *Inbox) refresh(ctx context.Context, silent bool) error {
	list, err := i.backend.ListTickets(ctx)
	if err != nil {
		if silent {
			return err
		}
		return fmt.Errorf("inbox: load tickets: %w", err)
	}

	var openEvent *protocol.Event
	i.mu.Lock()
	i.tickets = list
	i.loaded = true
	if i.open != nil {
		if server := findTicket(i.tickets, i.open.ID); server != nil && supersedes(server, i.open) {
			grew := len(server.Messages) > len(i.open.Messages)
			i.open = server.Clone()
			openEvent = &protocol.Event{
				Type:           protocol.EventTicketUpdated,
				TicketID:       server.ID,
				MessageCount:   len(server.Messages),
				ScrollToLatest: grew,
				Time:           time.Now(),
			}
		}
	}
	i.mu.Unlock()

	// The open ticket is replaced only when the server copy strictly
	// supersedes it, so an untouched reference emits no spurious event.
	if openEvent != nil {
		i.publish(*openEvent)
	}
	i.publish(protocol.Event{Type: protocol.EventTicketsRefreshed, Time: time.Now()})
	return nil
}

// supersedes reports whether the server's copy of a ticket should replace
// the locally held one. The rule never goes backwards: a server snapshot
// with fewer messages than the local copy is an older view racing an
// optimistic append and must not revert it.
func supersedes(server, local *protocol.Ticket) bool {
	if len(server.Messages) > len(local.Messages) {
		return true
	}
	if len(server.Messages) == len(local.Messages) && server.Status != local.Status {
		return true
	}
	return false
}

// Tickets returns a snapshot of the collection.
func (i *Inbox) Tickets() []protocol.Ticket {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]protocol.Ticket, len(i.tickets))
	for n := range i.tickets {
		out[n] = *i.tickets[n].Clone()
	}
	return out
}

// Open marks the ticket with the given ID as the one being viewed and
// returns a clone of it.
func (i *Inbox) Open(id int64) (*protocol.Ticket, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	t := findTicket(i.tickets, id)
	if t == nil {
		return nil, fmt.Errorf("inbox: ticket %d not found", id)
	}
	i.open = t.Clone()
	return i.open.Clone(), nil
}

// OpenTicket returns the currently open ticket, if any.
func (i *Inbox) OpenTicket() (*protocol.Ticket, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.open == nil {
		return nil, false
	}
	return i.open.Clone(), true
}

// Close drops the open ticket reference. Reply drafts and scroll position
// are UI state and never lived here.
func (i *Inbox) Close() {
	i.mu.Lock()
	i.open = nil
	i.mu.Unlock()
}

// Reply appends text to the open ticket: the message lands locally first
// (open copy and collection entry both), the backend call follows, and the
// optimistic state is rolled back if the call fails. An open ticket
// transitions open → in_progress locally, mirroring the backend.
func (i *Inbox) Reply(ctx context.Context, text string) (*protocol.Ticket, error) {
	i.mu.Lock()
	if i.open == nil {
		i.mu.Unlock()
		return nil, fmt.Errorf("inbox: no ticket open")
	}

	id := i.open.ID
	prevStatus := i.open.Status
	local := protocol.Message{
		ID:         protocol.LocalMessageID(uuid.NewString()),
		Sender:     i.sender,
		SenderName: i.senderName,
		Message:    text,
		CreatedAt:  time.Now(),
	}

	i.open.Messages = append(i.open.Messages, local)
	if i.open.Status == protocol.TicketOpen {
		i.open.Status = protocol.TicketInProgress
	}
	i.applyToCollection(id, local, i.open.Status)
	count := len(i.open.Messages)
	i.mu.Unlock()

	i.publish(protocol.Event{
		Type:           protocol.EventTicketUpdated,
		TicketID:       id,
		MessageCount:   count,
		ScrollToLatest: true,
		Time:           time.Now(),
	})

	serverMsg, err := i.backend.ReplyTicket(ctx, id, text)
	if err != nil {
		i.rollbackReply(id, local.ID, prevStatus)
		return nil, err
	}

	// When the backend echoes the created message, adopt its identity so
	// the next poll sees equal message counts and leaves the open ticket
	// untouched.
	if serverMsg != nil {
		i.mu.Lock()
		if i.open != nil && i.open.ID == id {
			replaceMessage(i.open.Messages, local.ID, *serverMsg)
		}
		if t := findTicket(i.tickets, id); t != nil {
			replaceMessage(t.Messages, local.ID, *serverMsg)
		}
		i.mu.Unlock()
	}

	t, _ := i.OpenTicket()
	return t, nil
}

// SetStatus updates a ticket's status, optimistically in both the open copy
// and the collection entry, rolling back on backend failure.
func (i *Inbox) SetStatus(ctx context.Context, id int64, status protocol.TicketStatus) error {
	if !status.Valid() {
		return fmt.Errorf("inbox: invalid status %q", status)
	}

	i.mu.Lock()
	var prev protocol.TicketStatus
	found := false
	if t := findTicket(i.tickets, id); t != nil {
		prev = t.Status
		t.Status = status
		found = true
	}
	if i.open != nil && i.open.ID == id {
		prev = i.open.Status
		i.open.Status = status
		found = true
	}
	i.mu.Unlock()

	if !found {
		return fmt.Errorf("inbox: ticket %d not found", id)
	}

	i.publish(protocol.Event{Type: protocol.EventTicketUpdated, TicketID: id, Time: time.Now()})

	if err := i.backend.UpdateTicketStatus(ctx, id, status); err != nil {
		i.mu.Lock()
		if t := findTicket(i.tickets, id); t != nil {
			t.Status = prev
		}
		if i.open != nil && i.open.ID == id {
			i.open.Status = prev
		}
		i.mu.Unlock()
		return err
	}
	return nil
}

// applyToCollection mirrors an optimistic append onto the collection entry.
// Caller holds i.mu.
func (i *Inbox) applyToCollection(id int64, msg protocol.Message, status protocol.TicketStatus) {
	t := findTicket(i.tickets, id)
	if t == nil {
		return
	}
	t.Messages = append(t.Messages, msg)
	t.Status = status
}

func (i *Inbox) rollbackReply(id int64, localID string, prevStatus protocol.TicketStatus) {
	i.mu.Lock()
	if i.open != nil && i.open.ID == id {
		i.open.Messages = removeMessage(i.open.Messages, localID)
		i.open.Status = prevStatus
	}
	if t := findTicket(i.tickets, id); t != nil {
		t.Messages = removeMessage(t.Messages, localID)
		t.Status = prevStatus
	}
	i.mu.Unlock()

	i.publish(protocol.Event{Type: protocol.EventTicketUpdated, TicketID: id, Time: time.Now()})
}

func (i *Inbox) publish(ev protocol.Event) {
	i.subMu.Lock()
	subs := make([]func(protocol.Event), len(i.subs))
	copy(subs, i.subs)
	i.subMu.Unlock()

	for _, fn := range subs {
		fn(ev)
	}
}

func findTicket(tickets []protocol.Ticket, id int64) *protocol.Ticket {
	for n := range tickets {
		if tickets[n].ID == id {
			return &tickets[n]
		}
	}
	return nil
}

func replaceMessage(msgs []protocol.Message, oldID string, replacement protocol.Message) {
	for n := range msgs {
		if msgs[n].ID == oldID {
			msgs[n] = replacement
			return
		}
	}
}

func removeMessage(msgs []protocol.Message, id string) []protocol.Message {
	for n := range msgs {
		if msgs[n].ID == id {
			return append(msgs[:n], msgs[n+1:]...)
		}
	}
	return msgs
}
