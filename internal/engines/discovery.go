package engines

import (
	"strings"

	"github.com/lokv010/voiceagent-sub000/internal/models"
)

// painPointSignals maps utterance phrases to the pain point they reveal.
var painPointSignals = map[string]string{
	"manual":       "manual processes",
	"slow":         "slow turnaround",
	"expensive":    "cost pressure",
	"error":        "error rates",
	"spreadsheet":  "spreadsheet sprawl",
	"hard to find": "poor visibility",
	"churn":        "customer churn",
	"compliance":   "compliance burden",
}

// NewDiscoveryEngine builds the discovery flow engine: open questions that
// surface the customer's current setup, needs and pain points.
func NewDiscoveryEngine() *ScriptEngine {
	return NewScriptEngine(Playbook{
		Flow:    models.FlowTypeDiscovery,
		Opening: "Thanks for taking the time, {name}. To make this useful for you, could you walk me through how your team handles this today?",
		Segments: []string{
			"That's helpful context. What would you say is the biggest bottleneck in that process right now?",
			"Got it. And when that happens, what does it end up costing you in time or budget?",
			"Understood. If you could wave a wand and fix one part of this, which part would it be?",
			"That makes sense for {industry}. Who else on your side feels this pain day to day?",
		},
		Recovery: map[models.InterruptionType]string{
			models.InterruptionSilence:   "Take your time. I was asking about how your team handles this today.",
			models.InterruptionHold:      "Of course, I'll hold. We were just getting into your current setup.",
			models.InterruptionCrossTalk: "Sorry, go ahead. You were telling me about your current process.",
		},
		Extract: extractDiscovery,
	})
}

// extractDiscovery collects pain points and discovered needs from the
// customer's answer.
func extractDiscovery(input string, sessionContext map[models.ContextKey]interface{}) (map[models.ContextKey]interface{}, float64) {
	lowered := strings.ToLower(input)

	var pains []string
	if existing, ok := sessionContext[models.ContextKeyPainPoints].([]string); ok {
		pains = existing
	}
	for signal, pain := range painPointSignals {
		if strings.Contains(lowered, signal) && !containsString(pains, pain) {
			pains = append(pains, pain)
		}
	}

	updates := map[models.ContextKey]interface{}{}
	if len(pains) > 0 {
		updates[models.ContextKeyPainPoints] = pains
		updates[models.ContextKeyDiscoveredNeeds] = pains
	}

	// Each discovered pain warms the customer up a little.
	readiness := 0.2 + 0.1*float64(len(pains))
	if readiness > 0.6 {
		readiness = 0.6
	}
	return updates, readiness
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
