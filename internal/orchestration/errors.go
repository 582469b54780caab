// Package orchestration implements the conversation flow orchestration
// engine: the session state machine, the classification-driven transition
// controller, the flow engine registry and dispatch contract, and the
// feedback loop that adapts classification confidence over time.
package orchestration

import "errors"

// Error taxonomy for orchestration operations. Only ErrSessionNotFound is
// surfaced as a hard failure to the calling service; everything else is
// absorbed with degraded-but-continuing behavior because the call must keep
// flowing.
var (
	// ErrSessionNotFound means an operation referenced a session id the
	// state manager has no record of. Fatal for that turn; the caller must
	// end the call gracefully.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidTransition means the transition controller rejected a move.
	// Non-fatal; the orchestrator continues in the current flow.
	ErrInvalidTransition = errors.New("invalid flow transition")

	// ErrInvalidStage means a stage advance was requested along an edge not
	// present in the stage graph. State is left untouched.
	ErrInvalidStage = errors.New("invalid stage advance")

	// ErrNoEngine means the registry has no engine for the requested flow
	// type. The orchestrator responds with a generic degraded utterance.
	ErrNoEngine = errors.New("no engine registered for flow type")

	// ErrEngineFailure means a registered engine returned an error or timed
	// out. Session state is left unchanged.
	ErrEngineFailure = errors.New("flow engine failure")

	// ErrSessionBusy means a session is mid-turn and cannot be evicted or
	// concurrently processed.
	ErrSessionBusy = errors.New("session busy")

	// ErrSessionFinalized means finalization was already performed for the
	// session id.
	ErrSessionFinalized = errors.New("session already finalized")
)
