package engines

import (
	"strings"

	"github.com/lokv010/voiceagent-sub000/internal/models"
)

// buyingSignalPhrases are the phrases that mark growing purchase intent
// during a pitch.
var buyingSignalPhrases = []string{
	"how soon", "how quickly", "what would it take", "pricing", "trial",
	"demo", "my team", "next step", "sounds good", "interested",
}

// NewPitchEngine builds the pitch flow engine: value framing anchored on
// the needs discovery surfaced earlier in the call.
func NewPitchEngine() *ScriptEngine {
	return NewScriptEngine(Playbook{
		Flow:    models.FlowTypePitch,
		Opening: "Based on what you've told me, {name}, I think there's a strong fit here. Let me show you how this maps to what your team is dealing with.",
		Segments: []string{
			"Teams in {industry} typically see the manual work drop by more than half within the first quarter. How would that land with your team?",
			"The piece I think you'll care about most is that it plugs into what you already use, so there's no rip-and-replace. Does that address the setup concern?",
			"And on the visibility side, everyone sees the same picture in real time, which is usually what unblocks the bottleneck you described. What questions does that raise?",
		},
		Recovery: map[models.InterruptionType]string{
			models.InterruptionSilence:   "I know that was a lot at once. Which part would be most useful to dig into?",
			models.InterruptionCrossTalk: "Sorry, please go ahead, I'd rather hear your take.",
		},
		Extract: extractPitch,
	})
}

// extractPitch watches for buying signals and scores readiness toward a
// close.
func extractPitch(input string, sessionContext map[models.ContextKey]interface{}) (map[models.ContextKey]interface{}, float64) {
	lowered := strings.ToLower(input)

	var signals []string
	if existing, ok := sessionContext[models.ContextKeyBuyingSignals].([]string); ok {
		signals = existing
	}
	for _, phrase := range buyingSignalPhrases {
		if strings.Contains(lowered, phrase) && !containsString(signals, phrase) {
			signals = append(signals, phrase)
		}
	}

	updates := map[models.ContextKey]interface{}{}
	if len(signals) > 0 {
		updates[models.ContextKeyBuyingSignals] = signals
	}

	readiness := 0.4 + 0.12*float64(len(signals))
	if readiness > 0.9 {
		readiness = 0.9
	}
	return updates, readiness
}
