package orchestration

import "github.com/lokv010/voiceagent-sub000/internal/models"

// stageGraph is the directed adjacency graph of legal stage-to-stage moves.
// Completion is reachable only from Execution or Transition and is terminal.
var stageGraph = map[models.FlowStage][]models.FlowStage{
	models.StageInitialization: {models.StageAssessment, models.StageExecution, models.StageRecovery},
	models.StageAssessment:     {models.StageExecution, models.StageTransition, models.StageRecovery},
	models.StageExecution:      {models.StageAssessment, models.StageTransition, models.StageCompletion, models.StageRecovery},
	models.StageTransition:     {models.StageAssessment, models.StageExecution, models.StageCompletion, models.StageRecovery},
	models.StageRecovery:       {models.StageAssessment, models.StageExecution},
	models.StageCompletion:     {},
}

// flowGraph is the directed adjacency graph of legal flow-to-flow
// transitions. Closing may route back to Objection or Knowledge but never
// directly to Relationship small talk.
var flowGraph = map[models.FlowType][]models.FlowType{
	models.FlowTypeDiscovery:    {models.FlowTypePitch, models.FlowTypeKnowledge, models.FlowTypeObjection, models.FlowTypeRelationship},
	models.FlowTypeRelationship: {models.FlowTypeDiscovery, models.FlowTypeKnowledge, models.FlowTypePitch},
	models.FlowTypePitch:        {models.FlowTypeObjection, models.FlowTypeKnowledge, models.FlowTypeClosing, models.FlowTypeDiscovery},
	models.FlowTypeKnowledge:    {models.FlowTypePitch, models.FlowTypeObjection, models.FlowTypeClosing, models.FlowTypeDiscovery},
	models.FlowTypeObjection:    {models.FlowTypePitch, models.FlowTypeKnowledge, models.FlowTypeClosing},
	models.FlowTypeClosing:      {models.FlowTypeObjection, models.FlowTypeKnowledge},
}

// initialFlowByCallType is the static call-type to initial-flow lookup used
// when a session starts. Unknown call types begin in Discovery.
var initialFlowByCallType = map[string]models.FlowType{
	"cold_call":       models.FlowTypeDiscovery,
	"warm_follow_up":  models.FlowTypeRelationship,
	"inbound_inquiry": models.FlowTypeKnowledge,
	"demo_request":    models.FlowTypePitch,
}

// StageAdjacent reports whether moving from one stage to another is a legal
// edge in the stage graph.
func StageAdjacent(from, to models.FlowStage) bool {
	for _, next := range stageGraph[from] {
		if next == to {
			return true
		}
	}
	return false
}

// FlowAdjacent reports whether a direct transition between two flows is a
// legal edge in the flow graph.
func FlowAdjacent(from, to models.FlowType) bool {
	for _, next := range flowGraph[from] {
		if next == to {
			return true
		}
	}
	return false
}

// InitialFlowFor returns the starting flow for a call type.
func InitialFlowFor(callType string) models.FlowType {
	if ft, ok := initialFlowByCallType[callType]; ok {
		return ft
	}
	return models.FlowTypeDiscovery
}

// contextBridgeKeys is the fixed allow-list of context keys deliberately
// carried across a flow transition. Everything else stays behind.
var contextBridgeKeys = []models.ContextKey{
	models.ContextKeyCustomerProfile,
	models.ContextKeyDiscoveredNeeds,
	models.ContextKeyPainPoints,
	models.ContextKeyEngagementLevel,
	models.ContextKeyRecentHistory,
}
