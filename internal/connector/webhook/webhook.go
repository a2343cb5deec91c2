// Package webhook accepts inbound notifications from the billing backend
// so the console can poll immediately instead of waiting for the next
// scheduled refresh.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// Config holds inbound webhook configuration.
type Config struct {
	// Secret for HMAC-SHA256 signature verification (X-Hub-Signature-256
	// header). If empty, BearerToken is used instead.
	Secret string `json:"secret,omitempty"`
	// BearerToken for Authorization header auth. Used if Secret is empty.
	BearerToken string `json:"bearer_token,omitempty"`
}

// Payload is the expected JSON body for webhook requests.
type Payload struct {
	Event    string `json:"event"`
	TicketID int64  `json:"ticket_id,omitempty"`
}

// Handler serves POST /api/webhook/{source}.
type Handler struct {
	config Config
	poll   func(event string, ticketID int64)
	logger *slog.Logger
}

// New creates a new webhook handler. poll is called after a request
// authenticates; it should kick the relevant refresh.
func New(cfg Config, poll func(event string, ticketID int64), logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{config: cfg, poll: poll, logger: logger}
}

// ServeHTTP handles webhook requests at /api/webhook/{source}.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	source := extractSource(r.URL.Path)
	if source == "" {
		http.Error(w, "missing source in path", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1MB limit
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if !h.authenticate(r, body) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if payload.Event == "" {
		http.Error(w, "event is required", http.StatusBadRequest)
		return
	}

	h.logger.Info("webhook received", "source", source, "event", payload.Event, "ticket_id", payload.TicketID)
	h.poll(payload.Event, payload.TicketID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (h *Handler) authenticate(r *http.Request, body []byte) bool {
	if h.config.Secret != "" {
		sig := r.Header.Get("X-Hub-Signature-256")
		if sig == "" {
			sig = r.Header.Get("X-Signature-256")
		}
		return verifyHMAC(body, h.config.Secret, sig)
	}

	if h.config.BearerToken != "" {
		auth := r.Header.Get("Authorization")
		return auth == "Bearer "+h.config.BearerToken
	}

	// No auth configured: reject everything rather than accept everything.
	return false
}

// verifyHMAC checks an HMAC-SHA256 signature.
// Signature format: "sha256=<hex>"
func verifyHMAC(body []byte, secret, signature string) bool {
	if signature == "" {
		return false
	}

	sig := strings.TrimPrefix(signature, "sha256=")
	expectedMAC, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expectedMAC)
}

// extractSource gets the last path segment from /api/webhook/{source}.
func extractSource(path string) string {
	path = strings.TrimSuffix(path, "/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 {
		return ""
	}
	name := parts[len(parts)-1]
	if name == "webhook" {
		return ""
	}
	return name
}

// ComputeSignature generates an HMAC-SHA256 signature for testing/external use.
func ComputeSignature(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
