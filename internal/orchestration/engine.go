package orchestration

import (
	"context"

	"github.com/lokv010/voiceagent-sub000/internal/models"
)

// EngineResult is what a flow engine returns for one lifecycle call: the
// utterance to speak plus any context updates and performance signals the
// orchestrator should fold back into the session.
type EngineResult struct {
	Utterance      string
	ContextUpdates map[models.ContextKey]interface{}
	// Engagement and Readiness are optional per-turn signals in [0,1];
	// negative values mean "no opinion this turn".
	Engagement float64
	Readiness  float64
	// StageHint suggests the stage the session should advance to after this
	// turn; empty means stay put. The state manager still validates the edge.
	StageHint models.FlowStage
	// Success marks whether the engine considers this segment effective;
	// feeds the feedback collector.
	Success bool
}

// FlowStatus describes an engine's view of one session.
type FlowStatus struct {
	Flow        models.FlowType
	Initialized bool
	Turns       int
	Finalized   bool
}

// FlowEngine is the contract every specialized conversation handler
// implements. One engine instance may register for several flow types.
//
// InitializeFlow is called once per flow entry (including re-entry after a
// transition away and back); the orchestrator guarantees at most one call
// per entry, but engines must tolerate duplicates.
// FinalizeFlow must release any per-session resources the engine held.
type FlowEngine interface {
	CanHandle(flowType models.FlowType) bool
	InitializeFlow(ctx context.Context, sessionID string, customer *models.CustomerContext, flowContext map[models.ContextKey]interface{}) (*EngineResult, error)
	ExecuteFlowSegment(ctx context.Context, sessionID string, customerInput string, segmentContext map[models.ContextKey]interface{}) (*EngineResult, error)
	HandleInterruption(ctx context.Context, sessionID string, interruptionType models.InterruptionType) (*EngineResult, error)
	FinalizeFlow(ctx context.Context, sessionID string) (*models.FlowOutcome, error)
	GetFlowStatus(sessionID string) FlowStatus
}
