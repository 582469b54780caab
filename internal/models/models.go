// Package models defines the shared value types for the conversation
// orchestration engine: session state, transitions, classification results,
// events and outcomes. Types here carry no behavior beyond simple accessors;
// all mutation happens in the orchestration package.
package models

import "time"

// ConversationState is the authoritative per-session orchestration state.
// It is owned exclusively by the flow state manager; every other component
// reads a snapshot and requests mutations through the manager.
type ConversationState struct {
	SessionID     string                     `json:"session_id"`
	CallType      string                     `json:"call_type"`
	CurrentFlow   FlowType                   `json:"current_flow"`
	CurrentStage  FlowStage                  `json:"current_stage"`
	Context       map[ContextKey]interface{} `json:"context,omitempty"`
	Engagement    float64                    `json:"engagement"` // normalized [0,1]
	Momentum      float64                    `json:"momentum"`   // normalized [0,1], floor 0.1
	FlowEnteredAt time.Time                  `json:"flow_entered_at"`
	StartedAt     time.Time                  `json:"started_at"`
	LastUpdated   time.Time                  `json:"last_updated"`
	Transitions   int                        `json:"transitions"` // count of completed flow transitions
	FlowGen       int                        `json:"flow_gen"`    // bumped on every flow entry; keys engine initialization
}

// Clone returns a deep copy of the state so callers can hold a snapshot
// without racing the state manager's mutations.
func (s *ConversationState) Clone() *ConversationState {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Context = make(map[ContextKey]interface{}, len(s.Context))
	for k, v := range s.Context {
		cp.Context[k] = v
	}
	return &cp
}

// FlowTransition is an immutable record of one validated flow-to-flow move.
type FlowTransition struct {
	SessionID     string                     `json:"session_id"`
	FromFlow      FlowType                   `json:"from_flow"`
	ToFlow        FlowType                   `json:"to_flow"`
	Trigger       string                     `json:"trigger"`
	Timestamp     time.Time                  `json:"timestamp"`
	ContextBridge map[ContextKey]interface{} `json:"context_bridge,omitempty"`
	Success       bool                       `json:"success"`
}

// FlowCandidate is one scored alternative produced by classification or
// trigger detection.
type FlowCandidate struct {
	Flow       FlowType `json:"flow"`
	Confidence float64  `json:"confidence"`
	Reason     string   `json:"reason,omitempty"`
}

// ClassificationResult is the output of the classification port for one turn.
// Secondary candidates are advisory alternates; their confidence never
// exceeds the primary's.
type ClassificationResult struct {
	PrimaryFlow        FlowType               `json:"primary_flow"`
	SecondaryFlows     []FlowCandidate        `json:"secondary_flows,omitempty"`
	Confidence         float64                `json:"confidence"` // [0,1]
	Reasoning          string                 `json:"reasoning,omitempty"`
	ContextualFactors  map[string]interface{} `json:"contextual_factors,omitempty"`
	RecommendedActions []string               `json:"recommended_actions,omitempty"`
	Fallback           bool                   `json:"fallback,omitempty"` // true when produced by the degraded path
}

// CustomerContext is the caller profile shared by classification and flow
// engines. Created once per caller and reused across calls when the caller
// is recognized; this subsystem updates but never deletes it.
type CustomerContext struct {
	CustomerID          string            `json:"customer_id"`
	Name                string            `json:"name,omitempty"`
	Industry            string            `json:"industry,omitempty"`
	CompanySize         string            `json:"company_size,omitempty"`
	TechnicalBackground string            `json:"technical_background,omitempty"`
	PriorInteractions   []string          `json:"prior_interactions,omitempty"`
	PainPoints          []string          `json:"pain_points,omitempty"`
	Goals               []string          `json:"goals,omitempty"`
	Preferences         map[string]string `json:"preferences,omitempty"`
}

// Event is an immutable, timestamped record on the session event bus.
type Event struct {
	SessionID string                 `json:"session_id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// TurnDiagnostics reports what happened inside one orchestrated turn.
type TurnDiagnostics struct {
	Degraded           bool     `json:"degraded,omitempty"`
	FallbackClassifier bool     `json:"fallback_classifier,omitempty"`
	TransitionRejected string   `json:"transition_rejected,omitempty"` // rejection reason, if any
	Transitioned       bool     `json:"transitioned,omitempty"`
	EngineErrors       []string `json:"engine_errors,omitempty"`
	ClassifiedFlow     FlowType `json:"classified_flow,omitempty"`
	Confidence         float64  `json:"confidence,omitempty"`
}

// TurnResult is what one ProcessCustomerInput call returns to the caller.
type TurnResult struct {
	SessionID   string          `json:"session_id"`
	Utterance   string          `json:"utterance"`
	Flow        FlowType        `json:"flow"`
	Stage       FlowStage       `json:"stage"`
	Diagnostics TurnDiagnostics `json:"diagnostics"`
}

// FlowOutcome is one engine's final report for a session.
type FlowOutcome struct {
	Flow      FlowType               `json:"flow"`
	Completed bool                   `json:"completed"`
	Turns     int                    `json:"turns"`
	Summary   string                 `json:"summary,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// FinalOutcomes is produced exactly once per session at finalization and
// handed to the external persistence collaborator.
type FinalOutcomes struct {
	SessionID   string        `json:"session_id"`
	CallType    string        `json:"call_type"`
	FinalFlow   FlowType      `json:"final_flow"`
	FinalStage  FlowStage     `json:"final_stage"`
	Engagement  float64       `json:"engagement"`
	Momentum    float64       `json:"momentum"`
	Outcomes    []FlowOutcome `json:"outcomes,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	FinalizedAt time.Time     `json:"finalized_at"`
	TotalTurns  int           `json:"total_turns"`
}

// CallRecord bundles everything persisted for one finished call: the final
// outcomes plus the full transition and event history.
type CallRecord struct {
	Outcomes    FinalOutcomes    `json:"outcomes"`
	Transitions []FlowTransition `json:"transitions,omitempty"`
	Events      []Event          `json:"events,omitempty"`
}

// FlowPerformance is an additive per-flow effectiveness aggregate maintained
// by the feedback collector.
type FlowPerformance struct {
	Flow           FlowType `json:"flow"`
	Turns          int64    `json:"turns"`
	TransitionsIn  int64    `json:"transitions_in"`
	Successes      int64    `json:"successes"`
	Failures       int64    `json:"failures"`
	EngagementSum  float64  `json:"engagement_sum"`
	MomentumSum    float64  `json:"momentum_sum"`
	ConfidenceSum  float64  `json:"confidence_sum"`
	Classification int64    `json:"classifications"`
}

// AvgEngagement returns the mean engagement observed for this flow.
func (p FlowPerformance) AvgEngagement() float64 {
	if p.Turns == 0 {
		return 0
	}
	return p.EngagementSum / float64(p.Turns)
}

// SuccessRate returns successes over all recorded attempts.
func (p FlowPerformance) SuccessRate() float64 {
	total := p.Successes + p.Failures
	if total == 0 {
		return 0
	}
	return float64(p.Successes) / float64(total)
}
