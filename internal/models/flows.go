// Package models defines flow and stage type definitions to avoid circular imports.
package models

// FlowType represents a named conversational mode handled by a dedicated flow engine.
type FlowType string

// FlowStage represents a flow-internal lifecycle phase.
type FlowStage string

// ContextKey represents a key in a session's cross-flow context map.
type ContextKey string

// EventType categorizes entries on the session event bus.
type EventType string

// InterruptionType categorizes conversation interruptions reported by the caller side.
type InterruptionType string

// Flow type constants.
const (
	FlowTypeDiscovery    FlowType = "discovery"
	FlowTypePitch        FlowType = "pitch"
	FlowTypeKnowledge    FlowType = "knowledge"
	FlowTypeObjection    FlowType = "objection"
	FlowTypeClosing      FlowType = "closing"
	FlowTypeRelationship FlowType = "relationship"
)

// Flow stage constants.
const (
	StageInitialization FlowStage = "INITIALIZATION"
	StageAssessment     FlowStage = "ASSESSMENT"
	StageExecution      FlowStage = "EXECUTION"
	StageTransition     FlowStage = "TRANSITION"
	StageCompletion     FlowStage = "COMPLETION"
	StageRecovery       FlowStage = "RECOVERY"
)

// Event type constants for the session event bus.
const (
	EventCustomerInput        EventType = "customer_input"
	EventAgentResponse        EventType = "agent_response"
	EventClassificationUpdate EventType = "classification_update"
	EventFlowTransition       EventType = "flow_transition"
	EventInterruption         EventType = "interruption"
	EventSessionFinalized     EventType = "session_finalized"
)

// Interruption type constants.
const (
	InterruptionSilence   InterruptionType = "silence"
	InterruptionCrossTalk InterruptionType = "cross_talk"
	InterruptionHold      InterruptionType = "hold"
	InterruptionTechnical InterruptionType = "technical"
	InterruptionOffTopic  InterruptionType = "off_topic"
)

// Context key constants for session context maps.
const (
	ContextKeyCustomerProfile ContextKey = "customerProfile"
	ContextKeyDiscoveredNeeds ContextKey = "discoveredNeeds"
	ContextKeyPainPoints      ContextKey = "painPoints"
	ContextKeyEngagementLevel ContextKey = "engagementLevel"
	ContextKeyRecentHistory   ContextKey = "recentHistory"
	ContextKeyReadinessLevel  ContextKey = "readinessLevel"
	ContextKeyLastResult      ContextKey = "lastClassification"
	ContextKeyObjectionType   ContextKey = "objectionType"
	ContextKeyBuyingSignals   ContextKey = "buyingSignals"
	ContextKeyRecoverySnap    ContextKey = "recoverySnapshot"
)

// AllFlowTypes lists every flow type in a stable order.
func AllFlowTypes() []FlowType {
	return []FlowType{
		FlowTypeDiscovery,
		FlowTypePitch,
		FlowTypeKnowledge,
		FlowTypeObjection,
		FlowTypeClosing,
		FlowTypeRelationship,
	}
}

// ValidFlowType reports whether ft is one of the closed set of flow types.
func ValidFlowType(ft FlowType) bool {
	switch ft {
	case FlowTypeDiscovery, FlowTypePitch, FlowTypeKnowledge,
		FlowTypeObjection, FlowTypeClosing, FlowTypeRelationship:
		return true
	}
	return false
}

// ValidFlowStage reports whether fs is one of the closed set of flow stages.
func ValidFlowStage(fs FlowStage) bool {
	switch fs {
	case StageInitialization, StageAssessment, StageExecution,
		StageTransition, StageCompletion, StageRecovery:
		return true
	}
	return false
}
