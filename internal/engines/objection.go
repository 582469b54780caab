package engines

import (
	"strings"

	"github.com/lokv010/voiceagent-sub000/internal/models"
)

// objectionSignals classifies the kind of objection being raised.
var objectionSignals = map[string]string{
	"expensive":  "price",
	"budget":     "price",
	"cost":       "price",
	"not now":    "timing",
	"next year":  "timing",
	"busy":       "timing",
	"competitor": "competitor",
	"already":    "competitor",
	"risky":      "trust",
	"not sure":   "trust",
	"prove":      "trust",
}

// NewObjectionEngine builds the objection-handling flow engine:
// acknowledge, reframe, and check back in.
func NewObjectionEngine() *ScriptEngine {
	return NewScriptEngine(Playbook{
		Flow:    models.FlowTypeObjection,
		Opening: "That's a completely fair concern, {name}, and I'd rather talk it through than gloss over it.",
		Segments: []string{
			"A lot of teams raised the same point before they started, and what changed their mind was seeing the payback period in their own numbers. Would it help to walk through yours?",
			"If the concern is mostly about timing, we can stage the rollout so your team only commits once the first phase pays off. Does that change the picture?",
			"Totally understand wanting proof. We can set success criteria up front so you're judging it on your terms. What would you need to see?",
		},
		Recovery: map[models.InterruptionType]string{
			models.InterruptionSilence: "I hear you, it's a real consideration. What part of it weighs on you most?",
		},
		Extract: extractObjection,
	})
}

// extractObjection records the objection type so pitch and closing can
// address it directly. Readiness dips while an objection is live.
func extractObjection(input string, sessionContext map[models.ContextKey]interface{}) (map[models.ContextKey]interface{}, float64) {
	lowered := strings.ToLower(input)

	updates := map[models.ContextKey]interface{}{}
	for signal, kind := range objectionSignals {
		if strings.Contains(lowered, signal) {
			updates[models.ContextKeyObjectionType] = kind
			break
		}
	}

	// A softening objection ("makes sense", "fair enough") recovers some
	// readiness; a fresh one keeps it low.
	if strings.Contains(lowered, "makes sense") || strings.Contains(lowered, "fair enough") || strings.Contains(lowered, "good point") {
		return updates, 0.55
	}
	return updates, 0.3
}
