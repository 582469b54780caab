package orchestration

import (
	"sync"

	"github.com/lokv010/voiceagent-sub000/internal/models"
)

// FeedbackCollector aggregates per-flow effectiveness signals for adaptive
// classification tuning. It is the only cross-session shared mutable
// resource in the engine, so every update is additive and applied under one
// mutex; readers get consistent copies, never live references.
type FeedbackCollector struct {
	mu      sync.Mutex
	byFlow  map[models.FlowType]*models.FlowPerformance
	byCall  map[string]map[models.FlowType]*models.FlowPerformance
	samples int64
}

// NewFeedbackCollector creates an empty feedback collector.
func NewFeedbackCollector() *FeedbackCollector {
	return &FeedbackCollector{
		byFlow: make(map[models.FlowType]*models.FlowPerformance),
		byCall: make(map[string]map[models.FlowType]*models.FlowPerformance),
	}
}

// TurnFeedback is one turn's worth of effectiveness signals, keyed by
// session and flow.
type TurnFeedback struct {
	SessionID  string
	Flow       models.FlowType
	Engagement float64
	Momentum   float64
	Confidence float64
	Success    bool
	Classified bool
}

// Record accumulates one turn's feedback. All updates are commutative
// increments so concurrent sessions never lose data.
func (c *FeedbackCollector) Record(fb TurnFeedback) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.samples++
	c.accumulate(c.flowStats(fb.Flow), fb)
	c.accumulate(c.sessionStats(fb.SessionID, fb.Flow), fb)
}

// RecordTransition counts a validated transition into a flow.
func (c *FeedbackCollector) RecordTransition(sessionID string, to models.FlowType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flowStats(to).TransitionsIn++
	c.sessionStats(sessionID, to).TransitionsIn++
}

func (c *FeedbackCollector) accumulate(p *models.FlowPerformance, fb TurnFeedback) {
	p.Turns++
	p.EngagementSum += fb.Engagement
	p.MomentumSum += fb.Momentum
	if fb.Classified {
		p.Classification++
		p.ConfidenceSum += fb.Confidence
	}
	if fb.Success {
		p.Successes++
	} else {
		p.Failures++
	}
}

// flowStats returns the global aggregate for a flow; caller holds the lock.
func (c *FeedbackCollector) flowStats(ft models.FlowType) *models.FlowPerformance {
	p, ok := c.byFlow[ft]
	if !ok {
		p = &models.FlowPerformance{Flow: ft}
		c.byFlow[ft] = p
	}
	return p
}

// sessionStats returns the per-session aggregate; caller holds the lock.
func (c *FeedbackCollector) sessionStats(sessionID string, ft models.FlowType) *models.FlowPerformance {
	flows, ok := c.byCall[sessionID]
	if !ok {
		flows = make(map[models.FlowType]*models.FlowPerformance)
		c.byCall[sessionID] = flows
	}
	p, ok := flows[ft]
	if !ok {
		p = &models.FlowPerformance{Flow: ft}
		flows[ft] = p
	}
	return p
}

// Snapshot returns a copy of the global per-flow aggregates.
func (c *FeedbackCollector) Snapshot() map[models.FlowType]models.FlowPerformance {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[models.FlowType]models.FlowPerformance, len(c.byFlow))
	for ft, p := range c.byFlow {
		out[ft] = *p
	}
	return out
}

// SessionSnapshot returns a copy of one session's per-flow aggregates.
func (c *FeedbackCollector) SessionSnapshot(sessionID string) map[models.FlowType]models.FlowPerformance {
	c.mu.Lock()
	defer c.mu.Unlock()
	flows, ok := c.byCall[sessionID]
	if !ok {
		return nil
	}
	out := make(map[models.FlowType]models.FlowPerformance, len(flows))
	for ft, p := range flows {
		out[ft] = *p
	}
	return out
}

// DropSession removes a session's per-call aggregates after finalization.
// The global per-flow aggregates are kept; they are the learning substrate.
func (c *FeedbackCollector) DropSession(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byCall, sessionID)
}

// Samples returns the total number of recorded turns.
func (c *FeedbackCollector) Samples() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.samples
}
