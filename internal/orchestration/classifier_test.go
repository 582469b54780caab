package orchestration

import (
	"context"
	"testing"

	"github.com/lokv010/voiceagent-sub000/internal/models"
)

func TestFallbackKeywordRouting(t *testing.T) {
	cases := []struct {
		utterance string
		want      models.FlowType
	}{
		{"what's the price on this?", models.FlowTypeKnowledge},
		{"how much would that cost us?", models.FlowTypeKnowledge},
		{"but I'm concerned about the rollout", models.FlowTypeObjection},
		{"honestly I'm not sure this fits", models.FlowTypeObjection},
		{"that sounds good, tell me more", models.FlowTypePitch},
		{"we're ready to move forward", models.FlowTypeClosing},
	}

	f := NewFallbackClassifier()
	for _, tc := range cases {
		result, err := f.Classify(context.Background(), tc.utterance, models.FlowTypeDiscovery, nil, nil, nil)
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", tc.utterance, err)
		}
		if result.PrimaryFlow != tc.want {
			t.Errorf("%q: expected %q, got %q", tc.utterance, tc.want, result.PrimaryFlow)
		}
		if !result.Fallback {
			t.Errorf("%q: expected fallback flag set", tc.utterance)
		}
	}
}

func TestFallbackNoMatchStaysInCurrentFlow(t *testing.T) {
	f := NewFallbackClassifier()
	result, err := f.Classify(context.Background(), "the weather's been nice", models.FlowTypePitch, nil, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.PrimaryFlow != models.FlowTypePitch {
		t.Errorf("expected current flow %q retained, got %q", models.FlowTypePitch, result.PrimaryFlow)
	}
	if result.Confidence != 0.3 {
		t.Errorf("expected low confidence 0.3, got %v", result.Confidence)
	}
}

func TestFallbackIsDeterministic(t *testing.T) {
	f := NewFallbackClassifier()
	utterance := "but the price seems too much for us"

	first, err := f.Classify(context.Background(), utterance, models.FlowTypeDiscovery, nil, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 20; i++ {
		again, err := f.Classify(context.Background(), utterance, models.FlowTypeDiscovery, nil, nil, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if again.PrimaryFlow != first.PrimaryFlow || again.Confidence != first.Confidence {
			t.Fatalf("classification not deterministic: run %d gave %q/%v, first gave %q/%v",
				i, again.PrimaryFlow, again.Confidence, first.PrimaryFlow, first.Confidence)
		}
	}
}

func TestFallbackMatchConfidenceClearsTransitionThreshold(t *testing.T) {
	f := NewFallbackClassifier()
	result, _ := f.Classify(context.Background(), "what's the price?", models.FlowTypeDiscovery, nil, nil, nil)
	if result.Confidence <= DefaultConfig().TransitionConfidence {
		t.Errorf("expected a clear keyword match above the transition threshold, got %v", result.Confidence)
	}
	if result.Confidence > 0.95 {
		t.Errorf("expected confidence capped at 0.95, got %v", result.Confidence)
	}
}

func TestMonotonicConfidence(t *testing.T) {
	f := NewFallbackClassifier()

	// An utterance that votes for several flows at once.
	result, err := f.Classify(context.Background(),
		"sounds good but I'm worried about the price", models.FlowTypeDiscovery, nil, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, sec := range result.SecondaryFlows {
		if sec.Confidence > result.Confidence {
			t.Errorf("secondary %q confidence %v exceeds primary %v", sec.Flow, sec.Confidence, result.Confidence)
		}
	}
}

func TestAdaptBoundedNudge(t *testing.T) {
	f := NewFallbackClassifier()
	base := &models.ClassificationResult{PrimaryFlow: models.FlowTypePitch, Confidence: 0.5}

	// A wildly successful flow must still be capped at the adaptation bound.
	performance := map[models.FlowType]models.FlowPerformance{
		models.FlowTypePitch: {Flow: models.FlowTypePitch, Successes: 100},
	}
	events := []models.Event{
		{Type: models.EventClassificationUpdate, Payload: map[string]interface{}{"engagement": 0.1}},
		{Type: models.EventClassificationUpdate, Payload: map[string]interface{}{"engagement": 0.9}},
	}

	adjusted := f.Adapt(base, events, performance)
	bound := DefaultConfig().AdaptationBound
	if adjusted.Confidence > base.Confidence+bound {
		t.Errorf("adaptation exceeded bound: %v -> %v", base.Confidence, adjusted.Confidence)
	}
	if adjusted.Confidence <= base.Confidence {
		t.Errorf("expected a positive nudge, got %v -> %v", base.Confidence, adjusted.Confidence)
	}
	// The input result must not be mutated.
	if base.Confidence != 0.5 {
		t.Errorf("Adapt mutated its input: %v", base.Confidence)
	}
}

func TestFallbackAgreesWithTriggerHeuristics(t *testing.T) {
	tc := NewTransitionController(NewStateManager())
	f := NewFallbackClassifier()

	for _, utterance := range []string{
		"what's the price on this?",
		"but I'm worried about the rollout",
		"we're ready to move forward",
	} {
		candidates := tc.DetectTriggers(utterance, models.FlowTypeDiscovery)
		if len(candidates) == 0 {
			t.Fatalf("%q: expected trigger candidates", utterance)
		}
		result, err := f.Classify(context.Background(), utterance, models.FlowTypeDiscovery, nil, nil, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.PrimaryFlow != candidates[0].Flow {
			t.Errorf("%q: fallback primary %q disagrees with trigger heuristics %q",
				utterance, result.PrimaryFlow, candidates[0].Flow)
		}
	}
}

func TestAdaptHonorsConfiguredBound(t *testing.T) {
	f := NewFallbackClassifier(WithAdaptationBound(0.05))
	base := &models.ClassificationResult{PrimaryFlow: models.FlowTypePitch, Confidence: 0.5}

	// The raw nudge would be far larger; the configured bound must cap it.
	performance := map[models.FlowType]models.FlowPerformance{
		models.FlowTypePitch: {Flow: models.FlowTypePitch, Successes: 100},
	}
	adjusted := f.Adapt(base, nil, performance)
	if adjusted.Confidence <= base.Confidence {
		t.Errorf("expected a positive nudge, got %v -> %v", base.Confidence, adjusted.Confidence)
	}
	if adjusted.Confidence > base.Confidence+0.05+1e-9 {
		t.Errorf("configured bound ignored: %v -> %v", base.Confidence, adjusted.Confidence)
	}
}

func TestAdaptPreservesMonotonicity(t *testing.T) {
	f := NewFallbackClassifier()
	base := &models.ClassificationResult{
		PrimaryFlow: models.FlowTypePitch,
		Confidence:  0.7,
		SecondaryFlows: []models.FlowCandidate{
			{Flow: models.FlowTypeKnowledge, Confidence: 0.7},
		},
	}

	// A failing flow nudges the primary down; secondaries must follow.
	performance := map[models.FlowType]models.FlowPerformance{
		models.FlowTypePitch: {Flow: models.FlowTypePitch, Failures: 100},
	}
	adjusted := f.Adapt(base, nil, performance)
	for _, sec := range adjusted.SecondaryFlows {
		if sec.Confidence > adjusted.Confidence {
			t.Errorf("secondary %v exceeds adapted primary %v", sec.Confidence, adjusted.Confidence)
		}
	}
}

func TestLearnFromOutcomesSummary(t *testing.T) {
	f := NewFallbackClassifier()
	sequence := []models.ClassificationResult{
		{PrimaryFlow: models.FlowTypeDiscovery, Confidence: 0.3, Fallback: true},
		{PrimaryFlow: models.FlowTypeKnowledge, Confidence: 0.8},
	}
	outcomes := &models.FinalOutcomes{FinalFlow: models.FlowTypeKnowledge, Engagement: 0.6}

	insights, err := f.LearnFromOutcomes(context.Background(), "s1", sequence, outcomes)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if insights["classifications"] != 2 {
		t.Errorf("expected 2 classifications, got %v", insights["classifications"])
	}
	if insights["fallback_turns"] != 1 {
		t.Errorf("expected 1 fallback turn, got %v", insights["fallback_turns"])
	}
	if insights["final_flow_predicted"] != true {
		t.Errorf("expected final flow predicted, got %v", insights["final_flow_predicted"])
	}
}
