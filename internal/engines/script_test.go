package engines

import (
	"context"
	"strings"
	"testing"

	"github.com/lokv010/voiceagent-sub000/internal/models"
)

func TestScriptEngineLifecycle(t *testing.T) {
	e := NewDiscoveryEngine()
	ctx := context.Background()

	if !e.CanHandle(models.FlowTypeDiscovery) {
		t.Fatal("discovery engine must handle discovery")
	}
	if e.CanHandle(models.FlowTypePitch) {
		t.Fatal("discovery engine must not handle pitch")
	}

	customer := &models.CustomerContext{Name: "Priya", Industry: "retail"}
	result, err := e.InitializeFlow(ctx, "s1", customer, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Utterance == "" {
		t.Fatal("expected an opening utterance")
	}
	if result.StageHint != models.StageAssessment {
		t.Errorf("expected assessment stage hint, got %q", result.StageHint)
	}

	seg, err := e.ExecuteFlowSegment(ctx, "s1", "our reporting is all manual and slow", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seg.Utterance == "" {
		t.Error("expected a segment utterance")
	}
	if seg.StageHint != models.StageExecution {
		t.Errorf("expected execution stage hint, got %q", seg.StageHint)
	}

	status := e.GetFlowStatus("s1")
	if !status.Initialized || status.Turns != 1 {
		t.Errorf("unexpected status: %+v", status)
	}

	outcome, err := e.FinalizeFlow(ctx, "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Flow != models.FlowTypeDiscovery || !outcome.Completed || outcome.Turns != 1 {
		t.Errorf("unexpected outcome: %+v", outcome)
	}

	// State is released at finalization.
	if status := e.GetFlowStatus("s1"); status.Initialized {
		t.Error("expected session state released after finalize")
	}
}

func TestScriptEngineDuplicateInitialization(t *testing.T) {
	e := NewDiscoveryEngine()
	ctx := context.Background()

	if _, err := e.InitializeFlow(ctx, "s1", nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// A duplicate initialization is tolerated and behaves like a turn.
	result, err := e.InitializeFlow(ctx, "s1", nil, nil)
	if err != nil {
		t.Fatalf("duplicate initialization must not fail: %v", err)
	}
	if result.Utterance == "" {
		t.Error("expected an utterance from the duplicate initialization")
	}
}

func TestScriptEngineSegmentRotation(t *testing.T) {
	e := NewKnowledgeEngine()
	ctx := context.Background()

	if _, err := e.InitializeFlow(ctx, "s1", nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first, _ := e.ExecuteFlowSegment(ctx, "s1", "what about pricing?", nil)
	second, _ := e.ExecuteFlowSegment(ctx, "s1", "and the api?", nil)
	if first.Utterance == second.Utterance {
		t.Error("expected segment templates to rotate between turns")
	}
}

func TestScriptEngineTemplateRendering(t *testing.T) {
	e := NewDiscoveryEngine()
	customer := &models.CustomerContext{Name: "Priya", Industry: "retail"}

	result, err := e.InitializeFlow(context.Background(), "s1", customer, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := "Priya"; !strings.Contains(result.Utterance, want) {
		t.Errorf("expected %q substituted into opening, got %q", want, result.Utterance)
	}

	// Without a profile the placeholders degrade gracefully.
	anon, _ := e.InitializeFlow(context.Background(), "s2", nil, nil)
	if strings.Contains(anon.Utterance, "{name}") {
		t.Errorf("unsubstituted placeholder in %q", anon.Utterance)
	}
}

func TestScriptEngineInterruptionRecovery(t *testing.T) {
	e := NewDiscoveryEngine()

	known, err := e.HandleInterruption(context.Background(), "s1", models.InterruptionSilence)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if known.Utterance == "" {
		t.Error("expected a recovery line")
	}

	// An interruption type without a scripted line gets the generic one.
	generic, err := e.HandleInterruption(context.Background(), "s1", models.InterruptionTechnical)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if generic.Utterance == "" {
		t.Error("expected a generic recovery line")
	}
}

func TestFinalizeUnknownSession(t *testing.T) {
	e := NewPitchEngine()
	outcome, err := e.FinalizeFlow(context.Background(), "never-seen")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Completed || outcome.Turns != 0 {
		t.Errorf("expected an empty outcome, got %+v", outcome)
	}
}

func TestScoreEngagement(t *testing.T) {
	cases := []struct {
		input string
		min   float64
		max   float64
	}{
		{"", -1, -1},
		{"no, not interested, goodbye", 0, 0.3},
		{"yes", 0.4, 0.6},
		{"that sounds great, how would that work for a team like ours?", 0.6, 1},
	}
	for _, tc := range cases {
		got := scoreEngagement(tc.input)
		if got < tc.min || got > tc.max {
			t.Errorf("scoreEngagement(%q) = %v, want in [%v, %v]", tc.input, got, tc.min, tc.max)
		}
	}
}
