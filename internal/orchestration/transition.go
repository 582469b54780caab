package orchestration

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lokv010/voiceagent-sub000/internal/models"
)

// TransitionController decides whether a flow-to-flow move is structurally
// and contextually legal and executes it atomically against the state
// manager. It owns the static flow adjacency graph and the fast trigger
// heuristics used both as a classification signal and as the resilience
// fallback.
type TransitionController struct {
	states *StateManager
	cfg    Config
}

// NewTransitionController creates a controller bound to a state manager.
func NewTransitionController(states *StateManager, opts ...Option) *TransitionController {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &TransitionController{states: states, cfg: cfg}
}

// triggerPatterns are the classification-independent phrase heuristics per
// candidate flow. They are the single keyword table in the system: the
// trigger pass feeds the model-backed classifier as an input signal and the
// keyword fallback delegates to it outright.
var triggerPatterns = map[models.FlowType][]string{
	models.FlowTypeKnowledge: {"price", "cost", "how much", "how does", "what is", "feature", "integration", "spec", "detail"},
	models.FlowTypeObjection: {"but ", "concern", "expensive", "worried", "worry", "hesitant", "not sure", "too much", "problem with", "risk"},
	models.FlowTypePitch:     {"interested", "sounds good", "tell me more", "go on", "what can you", "benefit"},
	models.FlowTypeClosing:   {"ready", "sign", "contract", "purchase", "deal", "let's do it", "move forward"},
	models.FlowTypeDiscovery: {"we currently", "our setup", "we use", "our team"},
}

// DetectTriggers runs the fast keyword pass over one utterance and returns
// scored transition candidates, best first. Confidence is the fraction of a
// flow's patterns that matched, scaled into [0,1]. Ties prefer the flow
// already active so the conversation does not thrash.
func (tc *TransitionController) DetectTriggers(utterance string, currentFlow models.FlowType) []models.FlowCandidate {
	return detectTriggers(utterance, currentFlow)
}

// detectTriggers is the shared trigger heuristic behind DetectTriggers, the
// fallback classifier and the model prompt's trigger signal.
func detectTriggers(utterance string, currentFlow models.FlowType) []models.FlowCandidate {
	lowered := strings.ToLower(utterance)

	var candidates []models.FlowCandidate
	for _, ft := range models.AllFlowTypes() {
		patterns, ok := triggerPatterns[ft]
		if !ok {
			continue
		}
		matches := 0
		reason := ""
		for _, p := range patterns {
			if strings.Contains(lowered, p) {
				matches++
				if reason == "" {
					reason = "matched phrase: " + p
				}
			}
		}
		if matches == 0 {
			continue
		}
		candidates = append(candidates, models.FlowCandidate{
			Flow:       ft,
			Confidence: float64(matches) / float64(len(patterns)),
			Reason:     reason,
		})
	}

	// Order best-first with the stability bias on exact ties.
	for i := 1; i < len(candidates); i++ {
		for j := i; j > 0; j-- {
			a, b := candidates[j-1], candidates[j]
			if b.Confidence > a.Confidence ||
				(b.Confidence == a.Confidence && b.Flow == currentFlow && a.Flow != currentFlow) {
				candidates[j-1], candidates[j] = b, a
			} else {
				break
			}
		}
	}
	return candidates
}

// IsAppropriate checks whether a transition is allowed right now: the edge
// must exist in the flow graph, the session must have dwelled long enough in
// its current flow, and flow-specific readiness gates must pass. Returns the
// rejection reason when not allowed.
func (tc *TransitionController) IsAppropriate(fromFlow, toFlow models.FlowType, state *models.ConversationState) (bool, string) {
	if fromFlow == toFlow {
		return false, "already in target flow"
	}
	if !FlowAdjacent(fromFlow, toFlow) {
		return false, fmt.Sprintf("no legal edge %s -> %s", fromFlow, toFlow)
	}
	if state != nil {
		if dwell := time.Since(state.FlowEnteredAt); dwell < tc.cfg.MinDwellTime {
			return false, fmt.Sprintf("minimum dwell time not met: %s in %s", dwell.Round(time.Second), fromFlow)
		}
		if reason, ok := tc.readinessGate(toFlow, state); !ok {
			return false, reason
		}
	}
	return true, ""
}

// readinessGate applies flow-specific entry conditions. Pitch and Closing
// require the customer to have warmed up; everything else is ungated.
func (tc *TransitionController) readinessGate(toFlow models.FlowType, state *models.ConversationState) (string, bool) {
	switch toFlow {
	case models.FlowTypePitch:
		// Pitch requires the customer to be at least warming up; half the
		// configured readiness threshold marks that boundary.
		if readiness(state) < tc.cfg.ReadinessThreshold/2 {
			return "customer not warmed up for pitch", false
		}
	case models.FlowTypeClosing:
		if readiness(state) < tc.cfg.ReadinessThreshold {
			return "customer readiness below closing threshold", false
		}
	}
	return "", true
}

// readiness reads the customer readiness level from session context, falling
// back to the engagement signal when no engine has scored readiness yet.
func readiness(state *models.ConversationState) float64 {
	if v, ok := state.Context[models.ContextKeyReadinessLevel]; ok {
		if r, ok := v.(float64); ok {
			return r
		}
	}
	return state.Engagement
}

// Transition validates and executes a flow change atomically from the
// caller's perspective: the state update, context bridge merge and history
// append either all happen or the session is left on its prior flow with no
// record appended.
func (tc *TransitionController) Transition(sessionID string, targetFlow models.FlowType, reason string) (bool, error) {
	state, err := tc.states.Snapshot(sessionID)
	if err != nil {
		return false, err
	}

	ok, rejection := tc.IsAppropriate(state.CurrentFlow, targetFlow, state)
	if !ok {
		slog.Debug("TransitionController.Transition: rejected",
			"sessionID", sessionID, "from", state.CurrentFlow, "to", targetFlow, "rejection", rejection)
		return false, fmt.Errorf("%w: %s", ErrInvalidTransition, rejection)
	}

	bridge := buildContextBridge(state)
	record := models.FlowTransition{
		SessionID:     sessionID,
		FromFlow:      state.CurrentFlow,
		ToFlow:        targetFlow,
		Trigger:       reason,
		Timestamp:     time.Now(),
		ContextBridge: bridge,
		Success:       true,
	}

	if err := tc.states.SetFlow(sessionID, targetFlow, models.StageInitialization); err != nil {
		// The session vanished between snapshot and write; surface failure
		// so the turn is retried against the prior flow. No record appended.
		return false, fmt.Errorf("transition write failed: %w", err)
	}
	if err := tc.states.MergeContext(sessionID, bridge); err != nil {
		return false, fmt.Errorf("transition bridge merge failed: %w", err)
	}
	if err := tc.states.AppendTransition(sessionID, record); err != nil {
		return false, fmt.Errorf("transition history append failed: %w", err)
	}

	slog.Info("TransitionController.Transition: flow transitioned",
		"sessionID", sessionID, "from", record.FromFlow, "to", record.ToFlow, "trigger", reason)
	return true, nil
}

// Rollback reinstates a session's prior flow after a failed first dispatch
// into a freshly entered flow, so a degraded turn leaves no partial switch
// behind. History stays append-only: the forward record is kept and a
// reversal record with Success=false is appended after it.
func (tc *TransitionController) Rollback(sessionID string, prior *models.ConversationState, reason string) error {
	current, err := tc.states.Snapshot(sessionID)
	if err != nil {
		return err
	}
	if err := tc.states.RestoreFlow(sessionID, prior.CurrentFlow, prior.CurrentStage, prior.FlowEnteredAt); err != nil {
		return fmt.Errorf("rollback write failed: %w", err)
	}
	record := models.FlowTransition{
		SessionID: sessionID,
		FromFlow:  current.CurrentFlow,
		ToFlow:    prior.CurrentFlow,
		Trigger:   reason,
		Timestamp: time.Now(),
		Success:   false,
	}
	if err := tc.states.AppendTransition(sessionID, record); err != nil {
		return fmt.Errorf("rollback history append failed: %w", err)
	}

	slog.Warn("TransitionController.Rollback: flow restored",
		"sessionID", sessionID, "restored", prior.CurrentFlow, "failed", current.CurrentFlow, "reason", reason)
	return nil
}

// HandleInterruption snapshots the current flow, stage and bridge context
// into a recovery record and forces the stage to Recovery. Interruptions
// pause a flow; they never replace it.
func (tc *TransitionController) HandleInterruption(sessionID string, interruptionType models.InterruptionType) (bool, error) {
	state, err := tc.states.Snapshot(sessionID)
	if err != nil {
		return false, err
	}

	// Validate the stage edge before touching context so a refused
	// interruption leaves no snapshot behind. Recovery is unreachable only
	// from Completion; a completed flow has nothing left to interrupt.
	alreadyRecovering := state.CurrentStage == models.StageRecovery
	if !alreadyRecovering && !StageAdjacent(state.CurrentStage, models.StageRecovery) {
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidStage, state.CurrentStage, models.StageRecovery)
	}

	snapshot := map[string]interface{}{
		"flow":         state.CurrentFlow,
		"stage":        state.CurrentStage,
		"interruption": interruptionType,
		"at":           time.Now(),
		"context":      buildContextBridge(state),
	}
	if err := tc.states.MergeContext(sessionID, map[models.ContextKey]interface{}{
		models.ContextKeyRecoverySnap: snapshot,
	}); err != nil {
		return false, err
	}

	if !alreadyRecovering {
		if err := tc.states.AdvanceStage(sessionID, models.StageRecovery); err != nil {
			return false, err
		}
	}

	slog.Info("TransitionController.HandleInterruption: stage forced to recovery",
		"sessionID", sessionID, "flow", state.CurrentFlow, "interruption", interruptionType)
	return true, nil
}

// buildContextBridge copies the allow-listed subset of session context that
// is deliberately carried across a transition. The copy has value semantics:
// later mutations of the old flow's context never alter an already-recorded
// bridge.
func buildContextBridge(state *models.ConversationState) map[models.ContextKey]interface{} {
	bridge := make(map[models.ContextKey]interface{})
	for _, key := range contextBridgeKeys {
		if v, ok := state.Context[key]; ok {
			bridge[key] = v
		}
	}
	bridge[models.ContextKeyEngagementLevel] = state.Engagement
	return bridge
}
