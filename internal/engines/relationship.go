package engines

import (
	"strings"

	"github.com/lokv010/voiceagent-sub000/internal/models"
)

// NewRelationshipEngine builds the relationship flow engine: rapport and
// warm follow-ups, used at the top of warm calls before business talk.
func NewRelationshipEngine() *ScriptEngine {
	return NewScriptEngine(Playbook{
		Flow:    models.FlowTypeRelationship,
		Opening: "Good to talk again, {name}! Before we get into anything, how have things been on your side since we last spoke?",
		Segments: []string{
			"Glad to hear it. Last time we spoke you mentioned a few things your team was working through — how did those play out?",
			"That's great. Whenever you're ready, I'd love to pick up where we left off.",
		},
		Recovery: map[models.InterruptionType]string{
			models.InterruptionSilence: "No worries at all — I was just asking how things have been going.",
		},
		Extract: extractRelationship,
	})
}

// extractRelationship keeps light rapport notes in the session context.
func extractRelationship(input string, sessionContext map[models.ContextKey]interface{}) (map[models.ContextKey]interface{}, float64) {
	lowered := strings.ToLower(input)

	updates := map[models.ContextKey]interface{}{}
	if strings.Contains(lowered, "busy") || strings.Contains(lowered, "hectic") {
		updates[models.ContextKeyRecentHistory] = "customer reports a busy period"
	}

	// Rapport turns warm slowly; relationship talk alone never clears the
	// pitch readiness gate by itself.
	return updates, 0.35
}
