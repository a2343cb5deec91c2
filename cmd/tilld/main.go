package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	apiPkg "github.com/tillhq-io/till/internal/api"
	"github.com/tillhq-io/till/internal/backend"
	"github.com/tillhq-io/till/internal/config"
	"github.com/tillhq-io/till/internal/connector"
	slackconn "github.com/tillhq-io/till/internal/connector/slack"
	"github.com/tillhq-io/till/internal/connector/telegram"
	"github.com/tillhq-io/till/internal/connector/webhook"
	"github.com/tillhq-io/till/internal/flags"
	"github.com/tillhq-io/till/internal/inbox"
	"github.com/tillhq-io/till/internal/localstore"
	"github.com/tillhq-io/till/internal/logbuf"
	"github.com/tillhq-io/till/internal/scheduler"
	"github.com/tillhq-io/till/internal/token"
	"github.com/tillhq-io/till/pkg/protocol"
)

func main() {
	configPath := flag.String("config", "", "Path to config JSON file")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	// Set up logging
	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logBuf := logbuf.New(2000)
	jsonHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(logbuf.NewHandler(jsonHandler, logBuf))

	// Load config (file or env)
	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("tilld starting", "backend", cfg.Backend.Origin)

	// 1. Local store (session token, theme preference)
	os.MkdirAll(cfg.Console.DataDir, 0o755)
	dbPath := cfg.Console.DataDir + "/console.db"
	store, err := localstore.Open(dbPath)
	if err != nil {
		logger.Error("failed to open local store", "path", dbPath, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	tokens := token.NewStore(store, logger.With("component", "token"))

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Connectors (outbound notifiers)
	var notifiers []connector.Notifier
	if cfg.Connectors.Telegram != nil {
		tg, err := telegram.New(telegram.Config{
			Token:  cfg.Connectors.Telegram.Token,
			ChatID: cfg.Connectors.Telegram.ChatID,
		}, logger.With("connector", "telegram"))
		if err != nil {
			logger.Error("failed to init telegram notifier", "error", err)
			os.Exit(1)
		}
		notifiers = append(notifiers, tg)
	}
	if cfg.Connectors.Slack != nil {
		sl, err := slackconn.New(slackconn.Config{
			BotToken: cfg.Connectors.Slack.BotToken,
			Channel:  cfg.Connectors.Slack.Channel,
		}, logger.With("connector", "slack"))
		if err != nil {
			logger.Error("failed to init slack notifier", "error", err)
			os.Exit(1)
		}
		notifiers = append(notifiers, sl)
	}

	// 3. Event hub + backend clients
	hub := apiPkg.NewHub(logger.With("component", "hub"))

	auth := backend.NewAuthClient(cfg.Backend.AuthOrigin,
		backend.WithAuthTimeout(time.Duration(cfg.Backend.AuthTimeoutSeconds)*time.Second),
		backend.WithAuthLogger(logger.With("component", "auth")),
	)
	client := backend.NewClient(cfg.Backend.Origin, tokens, auth,
		backend.WithTimeout(time.Duration(cfg.Backend.TimeoutSeconds)*time.Second),
		backend.WithLogger(logger.With("component", "backend")),
		backend.WithSessionExpiredHook(func() {
			ev := protocol.Event{Type: protocol.EventSessionExpired, Time: time.Now()}
			hub.Broadcast(ev)
			connector.Broadcast(context.Background(), notifiers, connector.Notification{
				Title: "Session expired",
				Body:  "The console was signed out; log in again to resume.",
			}, logger)
		}),
	)

	// 4. Domain state: ticket inbox + feature flag cache
	box := inbox.New(client, logger.With("component", "inbox"))
	flagCache := flags.New(client, logger.With("component", "flags"))

	box.Subscribe(func(ev protocol.Event) {
		hub.Broadcast(ev)
		// Only genuinely new customer messages reach the ops channels.
		if ev.Type == protocol.EventTicketUpdated && ev.ScrollToLatest {
			connector.Broadcast(ctx, notifiers, connector.Notification{
				Title:    "Ticket updated",
				TicketID: ev.TicketID,
				Body:     fmt.Sprintf("%d messages", ev.MessageCount),
			}, logger)
		}
	})
	flagCache.Subscribe(hub.Broadcast)

	// 5. Console service + API server
	svc := &consoleService{
		cfg:    cfg,
		auth:   auth,
		client: client,
		tokens: tokens,
		store:  store,
		inbox:  box,
		flags:  flagCache,
		logger: logger.With("component", "console"),
	}

	var hook *webhook.Handler
	if cfg.Webhook.Secret != "" {
		hook = webhook.New(webhook.Config{Secret: cfg.Webhook.Secret}, func(event string, ticketID int64) {
			// Any backend-side change is a reason to poll now instead of
			// waiting out the interval.
			go safeGo(logger, "webhook-poll", func() {
				box.Poll(ctx)
				flagCache.Refresh(ctx)
			})
		}, logger.With("component", "webhook"))
	}

	apiSrv := apiPkg.NewServer(svc, apiPkg.Config{
		Host: cfg.API.Host,
		Port: cfg.API.Port,
		Key:  cfg.API.Key,
	}, logger.With("component", "api"), logBuf, hub, webhookHandler(hook))

	go safeGo(logger, "api-server", func() { apiSrv.Start(ctx) })
	go safeGo(logger, "hub", func() { hub.RunUntil(ctx) })
	logger.Info("api server started", "port", cfg.API.Port)

	// 6. Background jobs
	sched := scheduler.New(logger.With("component", "scheduler"))
	sched.Add("ticket-poll", fmt.Sprintf("@every %ds", cfg.Poll.TicketSeconds), func(ctx context.Context) {
		if tokens.Get() != "" {
			box.Poll(ctx)
		}
	})
	sched.Add("flag-refresh", fmt.Sprintf("@every %ds", cfg.Poll.FlagSeconds), func(ctx context.Context) {
		if tokens.Get() != "" {
			flagCache.Refresh(ctx)
		}
	})
	renewWindow := time.Duration(cfg.Poll.RenewWindowSeconds) * time.Second
	sched.Add("session-renew", fmt.Sprintf("@every %ds", cfg.Poll.SessionCheckSeconds), func(ctx context.Context) {
		if tokens.Get() == "" {
			return
		}
		if tokens.ExpiresWithin(renewWindow) {
			logger.Info("session token near expiry, refreshing")
			client.RefreshSession(ctx)
		}
	})
	go safeGo(logger, "scheduler", func() { sched.Start(ctx) })

	// A persisted token from a previous run warms the caches immediately.
	if tokens.Get() != "" {
		go safeGo(logger, "warm-load", func() {
			if err := box.Load(ctx); err != nil {
				logger.Warn("initial ticket load failed", "error", err)
			}
			if err := flagCache.Load(ctx); err != nil {
				logger.Warn("initial flag load failed", "error", err)
			}
		})
	}

	// 7. Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)
	cancel()
	logger.Info("tilld stopped")
}

// safeGo runs fn with panic recovery.
func safeGo(logger *slog.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("goroutine panicked", "name", name, "panic", fmt.Sprintf("%v", r))
		}
	}()
	fn()
}

// webhookHandler avoids a typed-nil http.Handler when the webhook is
// disabled.
func webhookHandler(h *webhook.Handler) http.Handler {
	if h == nil {
		return nil
	}
	return h
}

// consoleService implements api.ConsoleService by composing the backend
// client, the inbox, the flag cache, and the local store.
type consoleService struct {
	cfg    *config.Config
	auth   *backend.AuthClient
	client *backend.Client
	tokens *token.Store
	store  *localstore.Store
	inbox  *inbox.Inbox
	flags  *flags.Cache
	logger *slog.Logger

	mu   sync.Mutex
	user *protocol.UserDetails
}

func (s *consoleService) Login(ctx context.Context, email, password string) (*protocol.UserDetails, error) {
	result, err := s.auth.Login(ctx, backend.Credentials{Email: email, Password: password})
	if err != nil {
		return nil, err
	}
	s.tokens.Set(result.Token)

	user := result.User
	s.mu.Lock()
	s.user = &user
	s.mu.Unlock()
	s.inbox.SetIdentity(strconv.FormatInt(user.ID, 10), user.Name)

	// Fill the caches right away so the first page render has data.
	if err := s.inbox.Load(ctx); err != nil {
		s.logger.Warn("post-login ticket load failed", "error", err)
	}
	if err := s.flags.Load(ctx); err != nil {
		s.logger.Warn("post-login flag load failed", "error", err)
	}

	return &user, nil
}

func (s *consoleService) Logout(ctx context.Context) error {
	// Server-side invalidation is best effort; local state clears regardless.
	if err := s.auth.Logout(ctx); err != nil {
		s.logger.Warn("backend logout failed", "error", err)
	}
	s.tokens.Remove()
	s.mu.Lock()
	s.user = nil
	s.mu.Unlock()
	return nil
}

func (s *consoleService) SessionStatus() apiPkg.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return apiPkg.SessionStatus{
		Authenticated: s.tokens.Get() != "",
		User:          s.user,
	}
}

func (s *consoleService) Tickets() []protocol.Ticket {
	return s.inbox.Tickets()
}

func (s *consoleService) Ticket(ctx context.Context, id int64) (*protocol.Ticket, error) {
	if t, err := s.inbox.Open(id); err == nil {
		return t, nil
	}
	// Not in the collection yet (e.g. created after the last poll): ask the
	// backend directly, then fold it in via a poll.
	t, err := s.client.GetTicket(ctx, id)
	if err != nil {
		return nil, err
	}
	s.inbox.Poll(ctx)
	return t, nil
}

func (s *consoleService) Reply(ctx context.Context, id int64, message string) (*protocol.Ticket, error) {
	if open, ok := s.inbox.OpenTicket(); !ok || open.ID != id {
		if _, err := s.inbox.Open(id); err != nil {
			return nil, err
		}
	}
	return s.inbox.Reply(ctx, message)
}

func (s *consoleService) SetTicketStatus(ctx context.Context, id int64, status protocol.TicketStatus) error {
	return s.inbox.SetStatus(ctx, id, status)
}

func (s *consoleService) Plans(ctx context.Context) ([]protocol.Plan, error) {
	return s.client.ListPlans(ctx)
}

func (s *consoleService) UpdatePlan(ctx context.Context, plan protocol.Plan) error {
	return s.client.UpdatePlan(ctx, plan)
}

func (s *consoleService) Subscriptions(ctx context.Context) ([]protocol.Subscription, error) {
	return s.client.ListSubscriptions(ctx)
}

func (s *consoleService) Flags() []protocol.FeatureFlag {
	return s.flags.List()
}

func (s *consoleService) SetFlag(ctx context.Context, key string, enabled bool) error {
	return s.flags.Set(ctx, key, enabled)
}

func (s *consoleService) PaymentMethods(ctx context.Context) ([]protocol.PaymentMethod, error) {
	return s.client.ListPaymentMethods(ctx)
}

func (s *consoleService) SelectPaymentMethod(ctx context.Context, id string) error {
	return s.client.SelectPaymentMethod(ctx, id)
}

func (s *consoleService) Theme() string {
	if v, err := s.store.Get(localstore.KeyTheme); err == nil && v != "" {
		return v
	}
	return s.cfg.Console.Theme
}

func (s *consoleService) SetTheme(theme string) error {
	return s.store.Set(localstore.KeyTheme, theme)
}
