package orchestration

import (
	"sync"
	"testing"

	"github.com/lokv010/voiceagent-sub000/internal/models"
)

func TestFeedbackRecordAccumulates(t *testing.T) {
	c := NewFeedbackCollector()
	c.Record(TurnFeedback{SessionID: "s1", Flow: models.FlowTypePitch, Engagement: 0.6, Momentum: 0.9, Confidence: 0.8, Success: true, Classified: true})
	c.Record(TurnFeedback{SessionID: "s1", Flow: models.FlowTypePitch, Engagement: 0.4, Momentum: 0.8, Confidence: 0.7, Success: false, Classified: true})

	snap := c.Snapshot()
	perf, ok := snap[models.FlowTypePitch]
	if !ok {
		t.Fatal("expected pitch aggregate")
	}
	if perf.Turns != 2 || perf.Successes != 1 || perf.Failures != 1 {
		t.Errorf("unexpected counts: %+v", perf)
	}
	if perf.AvgEngagement() != 0.5 {
		t.Errorf("expected avg engagement 0.5, got %v", perf.AvgEngagement())
	}
	if perf.SuccessRate() != 0.5 {
		t.Errorf("expected success rate 0.5, got %v", perf.SuccessRate())
	}
	if c.Samples() != 2 {
		t.Errorf("expected 2 samples, got %d", c.Samples())
	}
}

func TestFeedbackSnapshotIsACopy(t *testing.T) {
	c := NewFeedbackCollector()
	c.Record(TurnFeedback{SessionID: "s1", Flow: models.FlowTypePitch, Success: true})

	snap := c.Snapshot()
	perf := snap[models.FlowTypePitch]
	perf.Successes = 999
	snap[models.FlowTypePitch] = perf

	if got := c.Snapshot()[models.FlowTypePitch].Successes; got != 1 {
		t.Errorf("snapshot mutation leaked into collector: %d", got)
	}
}

func TestFeedbackDropSessionKeepsGlobals(t *testing.T) {
	c := NewFeedbackCollector()
	c.Record(TurnFeedback{SessionID: "s1", Flow: models.FlowTypeDiscovery, Success: true})
	c.RecordTransition("s1", models.FlowTypeKnowledge)

	c.DropSession("s1")
	if got := c.SessionSnapshot("s1"); got != nil {
		t.Errorf("expected session aggregates dropped, got %v", got)
	}
	// The global substrate survives finalization.
	if got := c.Snapshot()[models.FlowTypeDiscovery].Turns; got != 1 {
		t.Errorf("expected global aggregates retained, got %d turns", got)
	}
	if got := c.Snapshot()[models.FlowTypeKnowledge].TransitionsIn; got != 1 {
		t.Errorf("expected transition count retained, got %d", got)
	}
}

func TestFeedbackConcurrentRecords(t *testing.T) {
	c := NewFeedbackCollector()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				c.Record(TurnFeedback{SessionID: "shared", Flow: models.FlowTypePitch, Engagement: 0.5, Success: i%2 == 0, Classified: true})
			}
		}()
	}
	wg.Wait()

	perf := c.Snapshot()[models.FlowTypePitch]
	if perf.Turns != 800 {
		t.Errorf("lost updates: expected 800 turns, got %d", perf.Turns)
	}
	if perf.Successes+perf.Failures != 800 {
		t.Errorf("expected 800 outcomes, got %d", perf.Successes+perf.Failures)
	}
}
