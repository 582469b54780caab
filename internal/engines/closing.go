package engines

import (
	"context"
	"strings"

	"github.com/lokv010/voiceagent-sub000/internal/models"
	"github.com/lokv010/voiceagent-sub000/internal/orchestration"
)

// commitmentPhrases mark an explicit yes during closing.
var commitmentPhrases = []string{
	"let's do it", "sign me up", "send the contract", "we're in",
	"go ahead", "sounds like a deal", "yes, let's",
}

// ClosingEngine extends the scripted core with completion detection: an
// explicit commitment hints the Completion stage.
type ClosingEngine struct {
	*ScriptEngine
}

// NewClosingEngine builds the closing flow engine.
func NewClosingEngine() *ClosingEngine {
	return &ClosingEngine{ScriptEngine: NewScriptEngine(Playbook{
		Flow:    models.FlowTypeClosing,
		Opening: "It sounds like we've covered what matters, {name}. Shall we talk about what getting started would look like?",
		Segments: []string{
			"We could have your team live within two weeks. Would a start at the beginning of next month work for you?",
			"I'll send the agreement over today so you can review it with your team. Is there anyone else who should be on that thread?",
			"Great. I'll line up onboarding on our side. Anything you need from me before we make it official?",
		},
		Recovery: map[models.InterruptionType]string{
			models.InterruptionSilence: "No rush at all. Would it help if I summarized what we'd be agreeing to?",
		},
		Extract: extractClosing,
	})}
}

// ExecuteFlowSegment adds completion detection on top of the scripted turn.
func (e *ClosingEngine) ExecuteFlowSegment(ctx context.Context, sessionID string, customerInput string, segmentContext map[models.ContextKey]interface{}) (*orchestration.EngineResult, error) {
	result, err := e.ScriptEngine.ExecuteFlowSegment(ctx, sessionID, customerInput, segmentContext)
	if err != nil {
		return nil, err
	}

	lowered := strings.ToLower(customerInput)
	for _, phrase := range commitmentPhrases {
		if strings.Contains(lowered, phrase) {
			result.StageHint = models.StageCompletion
			result.Utterance = "Fantastic — welcome aboard. I'll get everything moving on our side and follow up with the details right after this call."
			result.Readiness = 1.0
			break
		}
	}
	return result, nil
}

// extractClosing scores commitment readiness.
func extractClosing(input string, sessionContext map[models.ContextKey]interface{}) (map[models.ContextKey]interface{}, float64) {
	lowered := strings.ToLower(input)

	updates := map[models.ContextKey]interface{}{}
	readiness := 0.7
	for _, phrase := range commitmentPhrases {
		if strings.Contains(lowered, phrase) {
			readiness = 1.0
			updates[models.ContextKeyBuyingSignals] = []string{"explicit commitment"}
			break
		}
	}
	if strings.Contains(lowered, "think about it") || strings.Contains(lowered, "not yet") {
		readiness = 0.5
	}
	return updates, readiness
}
