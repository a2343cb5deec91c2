package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/tillhq-io/till/internal/envelope"
	"github.com/tillhq-io/till/pkg/protocol"
)

// Responses are unwrapped through the envelope package here, at the
// boundary — callers receive decoded values and never see the wire shape.

// ListTickets fetches the full support ticket collection, nested messages
// included.
func (c *Client) ListTickets(ctx context.Context) ([]protocol.Ticket, error) {
	raw, err := c.do(ctx, http.MethodGet, "/api/tickets/", nil)
	if err != nil {
		return nil, err
	}
	var tickets []protocol.Ticket
	if err := json.Unmarshal(envelope.Extract(raw, "tickets"), &tickets); err != nil {
		return nil, fmt.Errorf("backend: decode tickets: %w", err)
	}
	return tickets, nil
}

// GetTicket fetches a single ticket by ID.
func (c *Client) GetTicket(ctx context.Context, id int64) (*protocol.Ticket, error) {
	raw, err := c.do(ctx, http.MethodGet, "/api/tickets/"+strconv.FormatInt(id, 10)+"/", nil)
	if err != nil {
		return nil, err
	}
	var t protocol.Ticket
	if err := json.Unmarshal(envelope.Unwrap(raw), &t); err != nil {
		return nil, fmt.Errorf("backend: decode ticket: %w", err)
	}
	return &t, nil
}

// ReplyTicket appends a message to a ticket. The returned message is the
// server's copy when the backend echoes it, nil otherwise.
func (c *Client) ReplyTicket(ctx context.Context, id int64, message string) (*protocol.Message, error) {
	body := map[string]string{"message": message}
	raw, err := c.do(ctx, http.MethodPost, "/api/tickets/"+strconv.FormatInt(id, 10)+"/reply/", body)
	if err != nil {
		return nil, err
	}

	data := envelope.Extract(raw, "message")
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil || msg.ID == "" {
		return nil, nil
	}
	return &msg, nil
}

// UpdateTicketStatus changes a ticket's status.
func (c *Client) UpdateTicketStatus(ctx context.Context, id int64, status protocol.TicketStatus) error {
	body := map[string]string{"status": string(status)}
	_, err := c.do(ctx, http.MethodPatch, "/api/tickets/"+strconv.FormatInt(id, 10)+"/status/", body)
	return err
}

// ListPlans fetches the subscription plan catalog.
func (c *Client) ListPlans(ctx context.Context) ([]protocol.Plan, error) {
	raw, err := c.do(ctx, http.MethodGet, "/api/plans/", nil)
	if err != nil {
		return nil, err
	}
	var plans []protocol.Plan
	if err := json.Unmarshal(envelope.Extract(raw, "plans"), &plans); err != nil {
		return nil, fmt.Errorf("backend: decode plans: %w", err)
	}
	return plans, nil
}

// UpdatePlan saves plan changes.
func (c *Client) UpdatePlan(ctx context.Context, plan protocol.Plan) error {
	_, err := c.do(ctx, http.MethodPut, "/api/plans/"+strconv.FormatInt(plan.ID, 10)+"/", plan)
	return err
}

// ListSubscriptions fetches tenant subscriptions.
func (c *Client) ListSubscriptions(ctx context.Context) ([]protocol.Subscription, error) {
	raw, err := c.do(ctx, http.MethodGet, "/api/subscriptions/", nil)
	if err != nil {
		return nil, err
	}
	var subs []protocol.Subscription
	if err := json.Unmarshal(envelope.Extract(raw, "subscriptions"), &subs); err != nil {
		return nil, fmt.Errorf("backend: decode subscriptions: %w", err)
	}
	return subs, nil
}

// ListFeatureFlags fetches the feature flag set.
func (c *Client) ListFeatureFlags(ctx context.Context) ([]protocol.FeatureFlag, error) {
	raw, err := c.do(ctx, http.MethodGet, "/api/feature-flags/", nil)
	if err != nil {
		return nil, err
	}
	var flags []protocol.FeatureFlag
	if err := json.Unmarshal(envelope.Extract(raw, "flags"), &flags); err != nil {
		return nil, fmt.Errorf("backend: decode flags: %w", err)
	}
	return flags, nil
}

// SetFeatureFlag toggles a flag.
func (c *Client) SetFeatureFlag(ctx context.Context, key string, enabled bool) error {
	body := map[string]bool{"enabled": enabled}
	_, err := c.do(ctx, http.MethodPatch, "/api/feature-flags/"+key+"/", body)
	return err
}

// ListPaymentMethods fetches the payment instruments available to the
// current tenant.
func (c *Client) ListPaymentMethods(ctx context.Context) ([]protocol.PaymentMethod, error) {
	raw, err := c.do(ctx, http.MethodGet, "/api/payment-methods/", nil)
	if err != nil {
		return nil, err
	}
	var methods []protocol.PaymentMethod
	if err := json.Unmarshal(envelope.Extract(raw, "payment_methods"), &methods); err != nil {
		return nil, fmt.Errorf("backend: decode payment methods: %w", err)
	}
	return methods, nil
}

// SelectPaymentMethod makes a payment method the tenant's default.
func (c *Client) SelectPaymentMethod(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodPost, "/api/payment-methods/"+id+"/select/", nil)
	return err
}
