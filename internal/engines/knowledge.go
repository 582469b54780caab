package engines

import (
	"strings"

	"github.com/lokv010/voiceagent-sub000/internal/models"
)

// NewKnowledgeEngine builds the knowledge flow engine: factual answers to
// product, pricing and integration questions.
func NewKnowledgeEngine() *ScriptEngine {
	return NewScriptEngine(Playbook{
		Flow:    models.FlowTypeKnowledge,
		Opening: "Good question, {name} — happy to get into the details.",
		Segments: []string{
			"Pricing scales with seats, and most teams your size land on the standard tier; I can send the exact numbers right after the call. What else would help you evaluate?",
			"On the technical side it connects over standard APIs, and setup is usually measured in days, not months. Does that cover what you were asking?",
			"That's covered in the core product, no add-on needed. Anything else you'd like me to clarify?",
		},
		Recovery: map[models.InterruptionType]string{
			models.InterruptionSilence: "Happy to go over any of that again — which part should I repeat?",
		},
		Extract: extractKnowledge,
	})
}

// extractKnowledge tracks which question topics came up so later flows know
// what the customer cares about.
func extractKnowledge(input string, sessionContext map[models.ContextKey]interface{}) (map[models.ContextKey]interface{}, float64) {
	lowered := strings.ToLower(input)

	topics := map[string]string{
		"price":    "pricing",
		"cost":     "pricing",
		"integrat": "integrations",
		"api":      "integrations",
		"secur":    "security",
		"support":  "support",
		"onboard":  "onboarding",
		"contract": "contract terms",
		"cancel":   "contract terms",
		"data":     "data handling",
	}

	var asked []string
	if existing, ok := sessionContext[models.ContextKeyDiscoveredNeeds].([]string); ok {
		asked = existing
	}
	for signal, topic := range topics {
		if strings.Contains(lowered, signal) && !containsString(asked, topic) {
			asked = append(asked, topic)
		}
	}

	updates := map[models.ContextKey]interface{}{}
	if len(asked) > 0 {
		updates[models.ContextKeyDiscoveredNeeds] = asked
	}

	// Asking concrete questions is itself a warming signal.
	return updates, 0.45
}
