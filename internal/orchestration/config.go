package orchestration

import "time"

// Config holds the tunable thresholds of the orchestration engine. The
// defaults are empirically chosen starting points, not correctness
// requirements; deployments are expected to tune them.
type Config struct {
	// TransitionConfidence is the minimum classification confidence required
	// before the orchestrator asks the transition controller to switch flows.
	TransitionConfidence float64

	// ReadinessThreshold is the minimum customer readiness level required by
	// readiness-gated flows (e.g. Pitch).
	ReadinessThreshold float64

	// MinDwellTime is the minimum time a session must spend in a flow before
	// a transition out of it is allowed.
	MinDwellTime time.Duration

	// TurnTimeout bounds one engine dispatch; on expiry the engine call is
	// treated as failed and the turn degrades.
	TurnTimeout time.Duration

	// SessionTTL is the inactivity bound after which Expire removes a session.
	SessionTTL time.Duration

	// AdaptationBound caps the total confidence nudge the adaptive learning
	// surface may apply to a classification result.
	AdaptationBound float64

	// RecentHistoryLimit is how many trailing events the context bridge and
	// the classifier receive as recent history.
	RecentHistoryLimit int
}

// DefaultConfig returns the default orchestration thresholds.
func DefaultConfig() Config {
	return Config{
		TransitionConfidence: 0.6,
		ReadinessThreshold:   0.7,
		MinDwellTime:         30 * time.Second,
		TurnTimeout:          10 * time.Second,
		SessionTTL:           60 * time.Minute,
		AdaptationBound:      0.3,
		RecentHistoryLimit:   10,
	}
}

// Option defines a configuration option for orchestration components.
type Option func(*Config)

// WithTransitionConfidence overrides the transition confidence threshold.
func WithTransitionConfidence(v float64) Option {
	return func(c *Config) { c.TransitionConfidence = v }
}

// WithReadinessThreshold overrides the readiness gate threshold.
func WithReadinessThreshold(v float64) Option {
	return func(c *Config) { c.ReadinessThreshold = v }
}

// WithMinDwellTime overrides the minimum dwell time before a flow switch.
func WithMinDwellTime(d time.Duration) Option {
	return func(c *Config) { c.MinDwellTime = d }
}

// WithTurnTimeout overrides the per-turn engine dispatch timeout.
func WithTurnTimeout(d time.Duration) Option {
	return func(c *Config) { c.TurnTimeout = d }
}

// WithSessionTTL overrides the session inactivity bound.
func WithSessionTTL(d time.Duration) Option {
	return func(c *Config) { c.SessionTTL = d }
}

// WithAdaptationBound overrides the adaptive learning nudge cap.
func WithAdaptationBound(v float64) Option {
	return func(c *Config) { c.AdaptationBound = v }
}
