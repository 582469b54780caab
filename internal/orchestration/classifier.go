package orchestration

import (
	"context"
	"log/slog"

	"github.com/lokv010/voiceagent-sub000/internal/models"
)

// Classifier is the classification port: it turns raw customer speech plus
// history into a ranked set of candidate flows with confidence and
// reasoning. Implementations may combine rules and models; the orchestrator
// treats the port as opaque. Two behavioral guarantees bind every
// implementation:
//
//  1. Deterministic degradation: if internal scoring fails for any reason
//     the port still returns a result (never an error past this boundary
//     without a usable result) with confidence at most 0.5 and reasoning
//     stating a fallback was used.
//  2. Monotonic confidence: the primary flow's confidence is greater than
//     or equal to every secondary candidate's.
type Classifier interface {
	// Classify scores candidate flows for the current turn.
	Classify(ctx context.Context, utterance string, currentFlow models.FlowType, history []models.Event, customer *models.CustomerContext, sessionContext map[models.ContextKey]interface{}) (*models.ClassificationResult, error)

	// Adapt nudges a result's confidence up or down by a bounded amount
	// based on recent engagement/momentum movement and aggregated flow
	// performance. It must not block.
	Adapt(result *models.ClassificationResult, recentEvents []models.Event, performance map[models.FlowType]models.FlowPerformance) *models.ClassificationResult

	// LearnFromOutcomes is called once at session finalization, after the
	// call has ended; it must never run on the live call path.
	LearnFromOutcomes(ctx context.Context, sessionID string, sequence []models.ClassificationResult, outcomes *models.FinalOutcomes) (map[string]interface{}, error)
}

// FallbackClassifier is the resilience backstop: it delegates to the shared
// trigger phrase heuristics and scales their match density into
// classification confidence. It is always available and is what the
// orchestrator uses when no richer classifier is configured or the
// configured one fails. Classification is deterministic: the same utterance
// and current flow always produce the same primary flow.
type FallbackClassifier struct {
	cfg Config
}

// NewFallbackClassifier creates the keyword fallback classifier.
func NewFallbackClassifier(opts ...Option) *FallbackClassifier {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &FallbackClassifier{cfg: cfg}
}

// Classify scores flows through the trigger heuristics. When no trigger
// phrase matches, the session stays in its current flow at low confidence.
func (f *FallbackClassifier) Classify(ctx context.Context, utterance string, currentFlow models.FlowType, history []models.Event, customer *models.CustomerContext, sessionContext map[models.ContextKey]interface{}) (*models.ClassificationResult, error) {
	candidates := detectTriggers(utterance, currentFlow)
	if len(candidates) == 0 {
		return &models.ClassificationResult{
			PrimaryFlow: currentFlow,
			Confidence:  0.3,
			Reasoning:   "keyword fallback: no trigger phrases matched, staying in current flow",
			Fallback:    true,
		}, nil
	}

	// Candidates arrive best-first with the stability bias already applied.
	best := candidates[0]
	result := &models.ClassificationResult{
		PrimaryFlow: best.Flow,
		Confidence:  scaleTriggerConfidence(best.Confidence),
		Reasoning:   "keyword fallback: " + best.Reason,
		Fallback:    true,
	}
	for _, c := range candidates[1:] {
		conf := scaleTriggerConfidence(c.Confidence)
		if conf > result.Confidence {
			conf = result.Confidence
		}
		result.SecondaryFlows = append(result.SecondaryFlows, models.FlowCandidate{
			Flow:       c.Flow,
			Confidence: conf,
			Reason:     c.Reason,
		})
	}

	slog.Debug("FallbackClassifier.Classify: classified",
		"primary", result.PrimaryFlow, "confidence", result.Confidence, "currentFlow", currentFlow)
	return result, nil
}

// scaleTriggerConfidence maps raw trigger match density into a band above
// the transition threshold so a clear phrase hit can actually move the
// conversation, capped below certainty.
func scaleTriggerConfidence(density float64) float64 {
	confidence := 0.65 + 0.3*density
	if confidence > 0.95 {
		return 0.95
	}
	return confidence
}

// Adapt applies a bounded confidence nudge derived from the primary flow's
// aggregated success rate and recent engagement movement.
func (f *FallbackClassifier) Adapt(result *models.ClassificationResult, recentEvents []models.Event, performance map[models.FlowType]models.FlowPerformance) *models.ClassificationResult {
	return adaptResult(result, recentEvents, performance, f.cfg.AdaptationBound)
}

// LearnFromOutcomes summarizes the classification sequence against the final
// outcomes. The keyword tables themselves are static, so the insights are
// advisory.
func (f *FallbackClassifier) LearnFromOutcomes(ctx context.Context, sessionID string, sequence []models.ClassificationResult, outcomes *models.FinalOutcomes) (map[string]interface{}, error) {
	return summarizeOutcomes(sessionID, sequence, outcomes), nil
}

// adaptResult is the shared adaptation rule: the total nudge is capped at
// ±bound and the adjusted confidence stays in [0,1]. Secondary candidates
// are re-clamped so the monotonic confidence guarantee survives adaptation.
func adaptResult(result *models.ClassificationResult, recentEvents []models.Event, performance map[models.FlowType]models.FlowPerformance, bound float64) *models.ClassificationResult {
	if result == nil {
		return nil
	}

	delta := 0.0
	if perf, ok := performance[result.PrimaryFlow]; ok && perf.Successes+perf.Failures > 0 {
		// Success rate above 0.5 nudges up, below nudges down.
		delta += (perf.SuccessRate() - 0.5) * 0.4
	}
	delta += engagementTrend(recentEvents) * 0.2

	if delta > bound {
		delta = bound
	}
	if delta < -bound {
		delta = -bound
	}

	adjusted := *result
	adjusted.Confidence = clamp01(result.Confidence + delta)
	if adjusted.ContextualFactors == nil {
		adjusted.ContextualFactors = make(map[string]interface{})
	}
	adjusted.ContextualFactors["adaptation_delta"] = delta

	if len(result.SecondaryFlows) > 0 {
		adjusted.SecondaryFlows = make([]models.FlowCandidate, len(result.SecondaryFlows))
		copy(adjusted.SecondaryFlows, result.SecondaryFlows)
		for i := range adjusted.SecondaryFlows {
			if adjusted.SecondaryFlows[i].Confidence > adjusted.Confidence {
				adjusted.SecondaryFlows[i].Confidence = adjusted.Confidence
			}
		}
	}
	return &adjusted
}

// engagementTrend extracts the direction of engagement movement from recent
// classification events, in [-1,1].
func engagementTrend(events []models.Event) float64 {
	var first, last float64
	seen := 0
	for _, ev := range events {
		if ev.Type != models.EventClassificationUpdate {
			continue
		}
		if v, ok := ev.Payload["engagement"].(float64); ok {
			if seen == 0 {
				first = v
			}
			last = v
			seen++
		}
	}
	if seen < 2 {
		return 0
	}
	return last - first
}

// summarizeOutcomes builds the post-call insight map shared by classifier
// implementations.
func summarizeOutcomes(sessionID string, sequence []models.ClassificationResult, outcomes *models.FinalOutcomes) map[string]interface{} {
	insights := map[string]interface{}{
		"session_id":      sessionID,
		"classifications": len(sequence),
	}
	if len(sequence) == 0 {
		return insights
	}

	var confidenceSum float64
	fallbacks := 0
	flowCounts := make(map[models.FlowType]int)
	for _, cr := range sequence {
		confidenceSum += cr.Confidence
		flowCounts[cr.PrimaryFlow]++
		if cr.Fallback {
			fallbacks++
		}
	}
	insights["avg_confidence"] = confidenceSum / float64(len(sequence))
	insights["fallback_turns"] = fallbacks
	insights["flow_counts"] = flowCounts
	if outcomes != nil {
		insights["final_flow"] = outcomes.FinalFlow
		insights["final_engagement"] = outcomes.Engagement
		insights["final_flow_predicted"] = sequence[len(sequence)-1].PrimaryFlow == outcomes.FinalFlow
	}
	return insights
}
