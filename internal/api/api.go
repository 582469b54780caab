// Package api provides the HTTP service layer that consumes the
// conversation orchestration library. It exposes call lifecycle endpoints
// for the external telephony/speech collaborators: start a call, feed
// recognized speech segments as turns, and finalize on hangup.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/lokv010/voiceagent-sub000/internal/orchestration"
	"github.com/lokv010/voiceagent-sub000/internal/store"
)

// Opts holds API server configuration options.
type Opts struct {
	Addr          string
	SweepInterval time.Duration
	// TwilioCallback, when set, is mounted at POST /twilio/status to receive
	// call status webhooks from the telephony adapter.
	TwilioCallback http.HandlerFunc
	// BindCall, when set, maps a provider call id onto a newly started
	// session so hangup callbacks can find it.
	BindCall func(callSid, sessionID string)
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr overrides the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithSweepInterval overrides how often expired sessions are swept.
func WithSweepInterval(d time.Duration) Option {
	return func(o *Opts) { o.SweepInterval = d }
}

// WithTwilioCallback mounts a telephony status callback handler.
func WithTwilioCallback(h http.HandlerFunc) Option {
	return func(o *Opts) { o.TwilioCallback = h }
}

// WithCallBinder sets the hook that binds a provider call id to a session.
func WithCallBinder(bind func(callSid, sessionID string)) Option {
	return func(o *Opts) { o.BindCall = bind }
}

// Server wires the orchestrator and the call-record store behind HTTP
// handlers and owns the cooperative session-expiry sweep.
type Server struct {
	orchestrator *orchestration.Orchestrator
	st           store.CallRecordStore
	opts         Opts
	httpServer   *http.Server
	sweepStop    chan struct{}
}

// NewServer creates a server around an orchestrator and a record store.
func NewServer(orchestrator *orchestration.Orchestrator, st store.CallRecordStore, opts ...Option) *Server {
	cfg := Opts{
		Addr:          ":8080",
		SweepInterval: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{
		orchestrator: orchestrator,
		st:           st,
		opts:         cfg,
		sweepStop:    make(chan struct{}),
	}
}

// Routes builds the HTTP mux for the server.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /calls", s.startCallHandler)
	mux.HandleFunc("POST /calls/{id}/turns", s.turnHandler)
	mux.HandleFunc("POST /calls/{id}/interruptions", s.interruptionHandler)
	mux.HandleFunc("POST /calls/{id}/finalize", s.finalizeHandler)
	mux.HandleFunc("GET /calls/{id}", s.callStatusHandler)
	mux.HandleFunc("GET /records", s.recordsHandler)
	mux.HandleFunc("GET /records/{id}", s.recordHandler)
	mux.HandleFunc("GET /metrics", s.metricsHandler)
	mux.HandleFunc("GET /health", s.healthHandler)
	if s.opts.TwilioCallback != nil {
		mux.HandleFunc("POST /twilio/status", s.opts.TwilioCallback)
	}
	return mux
}

// Run starts the expiry sweep and serves HTTP until the context is
// cancelled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    s.opts.Addr,
		Handler: s.Routes(),
	}

	go s.sweepLoop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: API listening", "addr", s.opts.Addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		close(s.sweepStop)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errCh:
		close(s.sweepStop)
		if err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	}
}

// sweepLoop drives the cooperative session-TTL sweep on a timer tick. The
// state manager itself guarantees mid-turn sessions are skipped; this loop
// only provides the cadence.
func (s *Server) sweepLoop() {
	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.sweepStop:
			return
		case <-ticker.C:
			if removed := s.orchestrator.Expire(); removed > 0 {
				slog.Info("Server.sweepLoop: expired sessions swept", "removed", removed)
			}
		}
	}
}
