package protocol

import "time"

// Plan is a subscription tier offered to tenants. Pricing lives on the
// backend; amounts here are display values only.
type Plan struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	AmountCents int64    `json:"amount_cents"`
	Currency    string   `json:"currency"`
	Interval    string   `json:"interval"` // "month" or "year"
	Features    []string `json:"features,omitempty"`
	Active      bool     `json:"active"`
}

// Subscription ties a tenant company to a plan.
type Subscription struct {
	ID               int64     `json:"id"`
	CompanyName      string    `json:"company_name"`
	PlanID           int64     `json:"plan_id"`
	PlanName         string    `json:"plan_name"`
	Status           string    `json:"status"`
	CurrentPeriodEnd time.Time `json:"current_period_end"`
	CreatedAt        time.Time `json:"created_at"`
}

// PaymentMethod is a payment instrument a tenant can select for billing.
type PaymentMethod struct {
	ID      string `json:"id"`
	Type    string `json:"type"` // "card", "bank_transfer", ...
	Label   string `json:"label"`
	Last4   string `json:"last4,omitempty"`
	Default bool   `json:"default"`
}
