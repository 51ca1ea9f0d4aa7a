// Package api exposes the HTTP endpoints of AskForHelp: hub pushes, the
// authentication callback, the Twilio inbound webhook and a health check.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/AskForHelp/internal/flow"
	"github.com/BTreeMap/AskForHelp/internal/models"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8080"

const (
	defaultReadTimeout  = 15 * time.Second
	defaultWriteTimeout = 30 * time.Second
	shutdownTimeout     = 10 * time.Second
	maxBodyBytes        = 1 << 20
)

// Notifier turns hub events into chat messages. *flow.Reconciler implements it.
type Notifier interface {
	OnExternalMessage(ctx context.Context, msg models.ExternalMessage) (flow.Notification, error)
	OnAuthentication(ctx context.Context, chatUserID, hubUserID string) (flow.Notification, error)
}

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Opts holds optional Server settings.
type Opts struct {
	Addr          string
	TwilioWebhook http.HandlerFunc
	Health        Pinger
}

// Option configures a Server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithTwilioWebhook mounts the Twilio inbound webhook at /twilio/webhook.
func WithTwilioWebhook(h http.HandlerFunc) Option {
	return func(o *Opts) { o.TwilioWebhook = h }
}

// WithHealthCheck makes /health report the backend's connectivity.
func WithHealthCheck(p Pinger) Option {
	return func(o *Opts) { o.Health = p }
}

// Server serves the AskForHelp HTTP API.
type Server struct {
	notifier Notifier
	opts     Opts
	srv      *http.Server
}

// NewServer creates a Server delivering hub events through notifier.
func NewServer(notifier Notifier, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	s := &Server{notifier: notifier, opts: cfg}
	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Routes(),
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
	}
	return s
}

// Routes returns the API's handler.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/messages", s.messagesHandler)
	mux.HandleFunc("/authentication", s.authenticationHandler)
	mux.HandleFunc("/health", s.healthHandler)
	if s.opts.TwilioWebhook != nil {
		mux.HandleFunc("/twilio/webhook", s.opts.TwilioWebhook)
	}
	return mux
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", s.opts.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
