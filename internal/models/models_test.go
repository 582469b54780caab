package models

import "testing"

func TestCloneIsDeep(t *testing.T) {
	original := &ConversationState{
		SessionID:   "s1",
		CurrentFlow: FlowTypeDiscovery,
		Context: map[ContextKey]interface{}{
			ContextKeyEngagementLevel: 0.5,
		},
	}

	clone := original.Clone()
	clone.CurrentFlow = FlowTypeClosing
	clone.Context[ContextKeyPainPoints] = []string{"injected"}

	if original.CurrentFlow != FlowTypeDiscovery {
		t.Errorf("clone mutation leaked into original flow: %q", original.CurrentFlow)
	}
	if _, ok := original.Context[ContextKeyPainPoints]; ok {
		t.Error("clone context mutation leaked into original")
	}
}

func TestCloneNil(t *testing.T) {
	var s *ConversationState
	if got := s.Clone(); got != nil {
		t.Errorf("expected nil clone of nil state, got %+v", got)
	}
}

func TestValidFlowType(t *testing.T) {
	for _, ft := range AllFlowTypes() {
		if !ValidFlowType(ft) {
			t.Errorf("expected %q valid", ft)
		}
	}
	if ValidFlowType(FlowType("smalltalk")) {
		t.Error("expected unknown flow type invalid")
	}
	if ValidFlowType("") {
		t.Error("expected empty flow type invalid")
	}
}

func TestValidFlowStage(t *testing.T) {
	for _, fs := range []FlowStage{
		StageInitialization, StageAssessment, StageExecution,
		StageTransition, StageCompletion, StageRecovery,
	} {
		if !ValidFlowStage(fs) {
			t.Errorf("expected %q valid", fs)
		}
	}
	if ValidFlowStage(FlowStage("WARMUP")) {
		t.Error("expected unknown stage invalid")
	}
}

func TestFlowPerformanceAverages(t *testing.T) {
	var empty FlowPerformance
	if empty.AvgEngagement() != 0 || empty.SuccessRate() != 0 {
		t.Error("empty aggregates must report zero, not NaN")
	}

	p := FlowPerformance{Turns: 4, EngagementSum: 2.0, Successes: 3, Failures: 1}
	if p.AvgEngagement() != 0.5 {
		t.Errorf("expected avg engagement 0.5, got %v", p.AvgEngagement())
	}
	if p.SuccessRate() != 0.75 {
		t.Errorf("expected success rate 0.75, got %v", p.SuccessRate())
	}
}
