package protocol

import "time"

// FeatureFlag is a backend-owned toggle surfaced in the console.
type FeatureFlag struct {
	Key         string    `json:"key"`
	Description string    `json:"description,omitempty"`
	Enabled     bool      `json:"enabled"`
	UpdatedAt   time.Time `json:"updated_at"`
}
