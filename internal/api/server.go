// Package api exposes the console over HTTP: a REST surface for tillctl
// and other frontends, a websocket event stream, Prometheus metrics, and
// the inbound webhook.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tillhq-io/till/internal/backend"
	"github.com/tillhq-io/till/internal/logbuf"
	"github.com/tillhq-io/till/pkg/protocol"
)

// LogQuerier abstracts log entry querying to avoid coupling to logbuf directly.
type LogQuerier interface {
	Query(since time.Time, minLevel slog.Level, limit int) []logbuf.Entry
}

// SessionStatus describes the console's backend session.
type SessionStatus struct {
	Authenticated bool                  `json:"authenticated"`
	User          *protocol.UserDetails `json:"user,omitempty"`
}

// ConsoleService is the interface the API server needs from the console.
type ConsoleService interface {
	Login(ctx context.Context, email, password string) (*protocol.UserDetails, error)
	Logout(ctx context.Context) error
	SessionStatus() SessionStatus

	Tickets() []protocol.Ticket
	Ticket(ctx context.Context, id int64) (*protocol.Ticket, error)
	Reply(ctx context.Context, id int64, message string) (*protocol.Ticket, error)
	SetTicketStatus(ctx context.Context, id int64, status protocol.TicketStatus) error

	Plans(ctx context.Context) ([]protocol.Plan, error)
	UpdatePlan(ctx context.Context, plan protocol.Plan) error
	Subscriptions(ctx context.Context) ([]protocol.Subscription, error)

	Flags() []protocol.FeatureFlag
	SetFlag(ctx context.Context, key string, enabled bool) error

	PaymentMethods(ctx context.Context) ([]protocol.PaymentMethod, error)
	SelectPaymentMethod(ctx context.Context, id string) error

	Theme() string
	SetTheme(theme string) error
}

// Config holds API server configuration.
type Config struct {
	Host string
	Port int
	Key  string // API key for Bearer auth
}

// Server is the till REST API server.
type Server struct {
	svc    ConsoleService
	cfg    Config
	logger *slog.Logger
	logs   LogQuerier
	hub    *Hub
	srv    *http.Server
}

// NewServer creates a new API server. logs, hub, and webhook may be nil.
func NewServer(svc ConsoleService, cfg Config, logger *slog.Logger, logs LogQuerier, hub *Hub, webhook http.Handler) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		svc:    svc,
		cfg:    cfg,
		logger: logger,
		logs:   logs,
		hub:    hub,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /api/session/login", s.requireAuth(s.handleLogin))
	mux.HandleFunc("POST /api/session/logout", s.requireAuth(s.handleLogout))
	mux.HandleFunc("GET /api/session", s.requireAuth(s.handleSession))

	mux.HandleFunc("GET /api/tickets", s.requireAuth(s.handleListTickets))
	mux.HandleFunc("GET /api/tickets/{id}", s.requireAuth(s.handleGetTicket))
	mux.HandleFunc("POST /api/tickets/{id}/reply", s.requireAuth(s.handleReply))
	mux.HandleFunc("PATCH /api/tickets/{id}/status", s.requireAuth(s.handleSetStatus))

	mux.HandleFunc("GET /api/plans", s.requireAuth(s.handleListPlans))
	mux.HandleFunc("PUT /api/plans/{id}", s.requireAuth(s.handleUpdatePlan))
	mux.HandleFunc("GET /api/subscriptions", s.requireAuth(s.handleListSubscriptions))

	mux.HandleFunc("GET /api/flags", s.requireAuth(s.handleListFlags))
	mux.HandleFunc("PATCH /api/flags/{key}", s.requireAuth(s.handleSetFlag))

	mux.HandleFunc("GET /api/payment-methods", s.requireAuth(s.handleListPaymentMethods))
	mux.HandleFunc("POST /api/payment-methods/{id}/select", s.requireAuth(s.handleSelectPaymentMethod))

	mux.HandleFunc("GET /api/theme", s.requireAuth(s.handleGetTheme))
	mux.HandleFunc("PUT /api/theme", s.requireAuth(s.handleSetTheme))

	mux.HandleFunc("GET /api/logs", s.requireAuth(s.handleGetLogs))

	if hub != nil {
		mux.HandleFunc("GET /api/events", s.requireAuth(hub.ServeWS))
	}
	if webhook != nil {
		mux.Handle("POST /api/webhook/{source}", webhook)
	}

	s.srv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.corsMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start begins listening. Blocks until context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutCtx)
	}()

	s.logger.Info("api server starting", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// --- Middleware ---

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Key == "" {
			next(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.cfg.Key {
			next(w, r)
			return
		}
		// Browsers cannot set headers on websocket dials, so the event
		// stream may pass the key as a query parameter instead.
		if r.URL.Query().Get("key") == s.cfg.Key {
			next(w, r)
			return
		}
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	}
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.Email == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "email and password are required"})
		return
	}

	user, err := s.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SessionStatus{Authenticated: true, User: user})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Logout(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.SessionStatus())
}

func (s *Server) handleListTickets(w http.ResponseWriter, r *http.Request) {
	tickets := s.svc.Tickets()

	if status := r.URL.Query().Get("status"); status != "" {
		filtered := tickets[:0]
		for _, t := range tickets {
			if string(t.Status) == status {
				filtered = append(filtered, t)
			}
		}
		tickets = filtered
	}
	if tickets == nil {
		tickets = []protocol.Ticket{}
	}
	writeJSON(w, http.StatusOK, tickets)
}

func (s *Server) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid ticket id"})
		return
	}
	t, err := s.svc.Ticket(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type replyRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleReply(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid ticket id"})
		return
	}
	var req replyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message is required"})
		return
	}

	t, err := s.svc.Reply(r.Context(), id, req.Message)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type statusRequest struct {
	Status protocol.TicketStatus `json:"status"`
}

func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid ticket id"})
		return
	}
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if !req.Status.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("invalid status %q", req.Status)})
		return
	}

	if err := s.svc.SetTicketStatus(r.Context(), id, req.Status); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.svc.Plans(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plans)
}

func (s *Server) handleUpdatePlan(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid plan id"})
		return
	}
	var plan protocol.Plan
	if err := json.NewDecoder(r.Body).Decode(&plan); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	plan.ID = id

	if err := s.svc.UpdatePlan(r.Context(), plan); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := s.svc.Subscriptions(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

func (s *Server) handleListFlags(w http.ResponseWriter, _ *http.Request) {
	flags := s.svc.Flags()
	if flags == nil {
		flags = []protocol.FeatureFlag{}
	}
	writeJSON(w, http.StatusOK, flags)
}

type flagRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleSetFlag(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	var req flagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	if err := s.svc.SetFlag(r.Context(), key, req.Enabled); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListPaymentMethods(w http.ResponseWriter, r *http.Request) {
	methods, err := s.svc.PaymentMethods(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, methods)
}

func (s *Server) handleSelectPaymentMethod(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.svc.SelectPaymentMethod(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetTheme(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"theme": s.svc.Theme()})
}

type themeRequest struct {
	Theme string `json:"theme"`
}

func (s *Server) handleSetTheme(w http.ResponseWriter, r *http.Request) {
	var req themeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.Theme != "light" && req.Theme != "dark" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("unknown theme %q", req.Theme)})
		return
	}

	if err := s.svc.SetTheme(req.Theme); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"theme": req.Theme})
}

func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		writeJSON(w, http.StatusOK, []logbuf.Entry{})
		return
	}

	limit := 200
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	minLevel := slog.LevelDebug
	if lvl := r.URL.Query().Get("level"); lvl != "" {
		switch strings.ToLower(lvl) {
		case "info":
			minLevel = slog.LevelInfo
		case "warn":
			minLevel = slog.LevelWarn
		case "error":
			minLevel = slog.LevelError
		}
	}

	var since time.Time
	if q := r.URL.Query().Get("since"); q != "" {
		if ms, err := strconv.ParseInt(q, 10, 64); err == nil {
			since = time.UnixMilli(ms)
		}
	}

	entries := s.logs.Query(since, minLevel, limit)
	if entries == nil {
		entries = []logbuf.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Helpers ---

// writeError maps backend failures onto the console's responses: the
// backend's own status codes pass through, everything else is a 502.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) {
		writeJSON(w, apiErr.Status, map[string]string{"error": apiErr.Error()})
		return
	}
	writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
