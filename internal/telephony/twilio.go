// Package telephony adapts Twilio voice status callbacks to the
// orchestration engine's call lifecycle. Call control itself (dialing,
// media) lives with the external telephony collaborator; this package's job
// is hangup-driven finalization: when Twilio reports a terminal call
// status, the mapped session is finalized exactly once.
package telephony

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"

	twilioclient "github.com/twilio/twilio-go/client"

	"github.com/lokv010/voiceagent-sub000/internal/models"
	"github.com/lokv010/voiceagent-sub000/internal/orchestration"
)

// Finalizer is the slice of the orchestrator the adapter needs.
type Finalizer interface {
	FinalizeConversation(ctx context.Context, sessionID string) (*models.FinalOutcomes, error)
}

// terminalStatuses are the Twilio call statuses that mean the call ended.
var terminalStatuses = map[string]bool{
	"completed": true,
	"busy":      true,
	"failed":    true,
	"no-answer": true,
	"canceled":  true,
}

// Opts holds Twilio adapter configuration options.
type Opts struct {
	AuthToken string
	// CallbackURL is the externally visible URL Twilio signs requests
	// against; required for signature validation.
	CallbackURL string
	// SkipValidation disables signature checks; only for tests.
	SkipValidation bool
}

// Option defines a configuration option for the Twilio adapter.
type Option func(*Opts)

// WithAuthToken sets the Twilio auth token used for signature validation.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithCallbackURL sets the externally visible callback URL.
func WithCallbackURL(url string) Option {
	return func(o *Opts) { o.CallbackURL = url }
}

// WithoutValidation disables signature validation (tests only).
func WithoutValidation() Option {
	return func(o *Opts) { o.SkipValidation = true }
}

// Adapter validates Twilio status callbacks and finalizes the mapped
// session when a call reaches a terminal status.
type Adapter struct {
	finalizer Finalizer
	validator twilioclient.RequestValidator
	opts      Opts

	mu       sync.Mutex
	sessions map[string]string // CallSid -> sessionID
}

// NewAdapter creates a Twilio callback adapter. The auth token falls back
// to the TWILIO_AUTH_TOKEN environment variable.
func NewAdapter(finalizer Finalizer, opts ...Option) (*Adapter, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.AuthToken == "" && !cfg.SkipValidation {
		return nil, fmt.Errorf("twilio auth token must be provided")
	}

	return &Adapter{
		finalizer: finalizer,
		validator: twilioclient.NewRequestValidator(cfg.AuthToken),
		opts:      cfg,
		sessions:  make(map[string]string),
	}, nil
}

// RegisterCall maps a Twilio CallSid onto an orchestration session. Called
// by the call-control collaborator when it places or answers a call.
func (a *Adapter) RegisterCall(callSid, sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessions[callSid] = sessionID
	slog.Debug("telephony.RegisterCall: call mapped", "callSid", callSid, "sessionID", sessionID)
}

// StatusCallbackHandler handles POST callbacks from Twilio's status
// webhook. Invalid signatures are rejected; terminal statuses finalize the
// mapped session exactly once.
func (a *Adapter) StatusCallbackHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form payload", http.StatusBadRequest)
		return
	}

	if !a.opts.SkipValidation {
		params := make(map[string]string, len(r.PostForm))
		for key := range r.PostForm {
			params[key] = r.PostForm.Get(key)
		}
		signature := r.Header.Get("X-Twilio-Signature")
		if !a.validator.Validate(a.opts.CallbackURL, params, signature) {
			slog.Warn("telephony.StatusCallbackHandler: invalid signature")
			http.Error(w, "invalid signature", http.StatusForbidden)
			return
		}
	}

	callSid := r.PostForm.Get("CallSid")
	callStatus := r.PostForm.Get("CallStatus")
	slog.Debug("telephony.StatusCallbackHandler: status received",
		"callSid", callSid, "callStatus", callStatus)

	if callSid == "" || !terminalStatuses[callStatus] {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	a.mu.Lock()
	sessionID, ok := a.sessions[callSid]
	delete(a.sessions, callSid)
	a.mu.Unlock()
	if !ok {
		slog.Warn("telephony.StatusCallbackHandler: unmapped call", "callSid", callSid)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if _, err := a.finalizer.FinalizeConversation(r.Context(), sessionID); err != nil {
		// A second terminal callback for a finalized session is normal;
		// everything else is logged but never bounced back to Twilio.
		if !errors.Is(err, orchestration.ErrSessionNotFound) {
			slog.Error("telephony.StatusCallbackHandler: finalize failed",
				"sessionID", sessionID, "callSid", callSid, "error", err)
		}
	} else {
		slog.Info("telephony.StatusCallbackHandler: session finalized on hangup",
			"sessionID", sessionID, "callSid", callSid, "callStatus", callStatus)
	}
	w.WriteHeader(http.StatusNoContent)
}
