package orchestration

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"

	"github.com/lokv010/voiceagent-sub000/internal/genai"
	"github.com/lokv010/voiceagent-sub000/internal/models"
)

const classifierSystemPrompt = `You are the intent classifier for a live sales call.
Given the customer's latest utterance and the recent transcript, score which
conversation flow should handle the next turn. The flows are: discovery,
pitch, knowledge, objection, closing, relationship.
Respond with only a JSON object:
{"primary_flow": "...", "confidence": 0.0-1.0,
 "secondary_flows": [{"flow": "...", "confidence": 0.0}],
 "reasoning": "...", "recommended_actions": ["..."]}`

// GenAIClassifier scores candidate flows with an LLM, combining the model's
// judgment with the keyword trigger heuristics. Any failure inside the model
// path degrades deterministically to the keyword fallback with confidence
// capped at 0.5; errors never escape this boundary.
type GenAIClassifier struct {
	client   genai.ClientInterface
	fallback *FallbackClassifier
	cfg      Config
}

// NewGenAIClassifier creates a model-backed classifier.
func NewGenAIClassifier(client genai.ClientInterface, opts ...Option) *GenAIClassifier {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &GenAIClassifier{
		client:   client,
		fallback: NewFallbackClassifier(opts...),
		cfg:      cfg,
	}
}

// classifierOutput is the JSON shape the model is asked to produce.
type classifierOutput struct {
	PrimaryFlow    string  `json:"primary_flow"`
	Confidence     float64 `json:"confidence"`
	SecondaryFlows []struct {
		Flow       string  `json:"flow"`
		Confidence float64 `json:"confidence"`
	} `json:"secondary_flows"`
	Reasoning          string   `json:"reasoning"`
	RecommendedActions []string `json:"recommended_actions"`
}

// Classify asks the model to score candidate flows. Malformed output, an
// unknown flow name or a transport error all degrade to the fallback.
func (g *GenAIClassifier) Classify(ctx context.Context, utterance string, currentFlow models.FlowType, history []models.Event, customer *models.CustomerContext, sessionContext map[models.ContextKey]interface{}) (*models.ClassificationResult, error) {
	if g.client == nil {
		return g.degrade(ctx, utterance, currentFlow, history, customer, sessionContext, "no model client configured")
	}

	raw, err := g.client.GenerateWithMessages(ctx, g.buildMessages(utterance, currentFlow, history, customer))
	if err != nil {
		return g.degrade(ctx, utterance, currentFlow, history, customer, sessionContext, fmt.Sprintf("model call failed: %v", err))
	}

	result, err := g.parse(raw, currentFlow)
	if err != nil {
		return g.degrade(ctx, utterance, currentFlow, history, customer, sessionContext, fmt.Sprintf("malformed model output: %v", err))
	}

	slog.Debug("GenAIClassifier.Classify: classified",
		"primary", result.PrimaryFlow, "confidence", result.Confidence, "currentFlow", currentFlow)
	return result, nil
}

// buildMessages assembles the classification conversation for the model.
func (g *GenAIClassifier) buildMessages(utterance string, currentFlow models.FlowType, history []models.Event, customer *models.CustomerContext) []openai.ChatCompletionMessageParamUnion {
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(classifierSystemPrompt),
		openai.SystemMessage(fmt.Sprintf("Current flow: %s", currentFlow)),
	}

	if customer != nil {
		profile, err := json.Marshal(customer)
		if err == nil {
			messages = append(messages, openai.SystemMessage("Customer profile: "+string(profile)))
		}
	}

	// The fast trigger pass feeds the model as an input signal; the model
	// weighs it against the full transcript.
	if triggers := detectTriggers(utterance, currentFlow); len(triggers) > 0 {
		notes := make([]string, 0, len(triggers))
		for _, cand := range triggers {
			notes = append(notes, fmt.Sprintf("%s (%s)", cand.Flow, cand.Reason))
		}
		messages = append(messages, openai.SystemMessage("Trigger phrases detected: "+strings.Join(notes, "; ")))
	}

	limit := g.cfg.RecentHistoryLimit
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	for _, ev := range history {
		text, _ := ev.Payload["text"].(string)
		if text == "" {
			continue
		}
		switch ev.Type {
		case models.EventCustomerInput:
			messages = append(messages, openai.UserMessage(text))
		case models.EventAgentResponse:
			messages = append(messages, openai.AssistantMessage(text))
		}
	}

	return append(messages, openai.UserMessage(utterance))
}

// parse validates the model's JSON against the closed flow set and enforces
// the monotonic confidence guarantee by clamping secondaries to the primary.
func (g *GenAIClassifier) parse(raw string, currentFlow models.FlowType) (*models.ClassificationResult, error) {
	// Models occasionally wrap JSON in a code fence; strip it before decoding.
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var out classifierOutput
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &out); err != nil {
		return nil, err
	}

	primary := models.FlowType(out.PrimaryFlow)
	if !models.ValidFlowType(primary) {
		return nil, fmt.Errorf("unknown flow %q", out.PrimaryFlow)
	}

	result := &models.ClassificationResult{
		PrimaryFlow:        primary,
		Confidence:         clamp01(out.Confidence),
		Reasoning:          out.Reasoning,
		RecommendedActions: out.RecommendedActions,
		ContextualFactors: map[string]interface{}{
			"current_flow": string(currentFlow),
			"source":       "genai",
		},
	}
	for _, sec := range out.SecondaryFlows {
		ft := models.FlowType(sec.Flow)
		if !models.ValidFlowType(ft) || ft == primary {
			continue
		}
		conf := clamp01(sec.Confidence)
		if conf > result.Confidence {
			conf = result.Confidence
		}
		result.SecondaryFlows = append(result.SecondaryFlows, models.FlowCandidate{Flow: ft, Confidence: conf})
	}
	return result, nil
}

// degrade produces the deterministic fallback result with confidence capped
// at 0.5 and reasoning stating that a fallback was used.
func (g *GenAIClassifier) degrade(ctx context.Context, utterance string, currentFlow models.FlowType, history []models.Event, customer *models.CustomerContext, sessionContext map[models.ContextKey]interface{}, cause string) (*models.ClassificationResult, error) {
	slog.Warn("GenAIClassifier.Classify: degrading to keyword fallback", "cause", cause)

	result, err := g.fallback.Classify(ctx, utterance, currentFlow, history, customer, sessionContext)
	if err != nil || result == nil {
		// The keyword fallback cannot actually fail; guard anyway so this
		// boundary never propagates an error.
		result = &models.ClassificationResult{PrimaryFlow: currentFlow, Confidence: 0.3}
	}
	if result.Confidence > 0.5 {
		result.Confidence = 0.5
		for i := range result.SecondaryFlows {
			if result.SecondaryFlows[i].Confidence > 0.5 {
				result.SecondaryFlows[i].Confidence = 0.5
			}
		}
	}
	result.Fallback = true
	result.Reasoning = "classification fallback (" + cause + "): " + result.Reasoning
	return result, nil
}

// Adapt applies the shared bounded adaptation rule.
func (g *GenAIClassifier) Adapt(result *models.ClassificationResult, recentEvents []models.Event, performance map[models.FlowType]models.FlowPerformance) *models.ClassificationResult {
	return adaptResult(result, recentEvents, performance, g.cfg.AdaptationBound)
}

// LearnFromOutcomes summarizes the session's classification sequence. Runs
// only after the call has ended; never on the live call path.
func (g *GenAIClassifier) LearnFromOutcomes(ctx context.Context, sessionID string, sequence []models.ClassificationResult, outcomes *models.FinalOutcomes) (map[string]interface{}, error) {
	insights := summarizeOutcomes(sessionID, sequence, outcomes)
	insights["classifier"] = "genai"
	return insights, nil
}
