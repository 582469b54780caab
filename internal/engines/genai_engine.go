package engines

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"

	"github.com/lokv010/voiceagent-sub000/internal/genai"
	"github.com/lokv010/voiceagent-sub000/internal/models"
	"github.com/lokv010/voiceagent-sub000/internal/orchestration"
)

// GenAIEngine decorates a scripted engine with model-generated phrasing:
// the script's utterance becomes the content brief the model rewrites in a
// natural voice. Any model failure falls back to the scripted text, so the
// decorated engine is never less reliable than the script underneath.
type GenAIEngine struct {
	inner  orchestration.FlowEngine
	client genai.ClientInterface
	flow   models.FlowType
}

// NewGenAIEngine wraps an engine with model-backed phrasing for one flow.
func NewGenAIEngine(inner orchestration.FlowEngine, client genai.ClientInterface, flow models.FlowType) *GenAIEngine {
	return &GenAIEngine{inner: inner, client: client, flow: flow}
}

// CanHandle defers to the wrapped engine.
func (e *GenAIEngine) CanHandle(flowType models.FlowType) bool {
	return e.inner.CanHandle(flowType)
}

// InitializeFlow initializes the wrapped engine and rephrases its opening.
func (e *GenAIEngine) InitializeFlow(ctx context.Context, sessionID string, customer *models.CustomerContext, flowContext map[models.ContextKey]interface{}) (*orchestration.EngineResult, error) {
	result, err := e.inner.InitializeFlow(ctx, sessionID, customer, flowContext)
	if err != nil {
		return nil, err
	}
	result.Utterance = e.rephrase(ctx, result.Utterance, "", customer)
	return result, nil
}

// ExecuteFlowSegment executes the wrapped engine and rephrases its reply in
// the light of the customer's actual words.
func (e *GenAIEngine) ExecuteFlowSegment(ctx context.Context, sessionID string, customerInput string, segmentContext map[models.ContextKey]interface{}) (*orchestration.EngineResult, error) {
	result, err := e.inner.ExecuteFlowSegment(ctx, sessionID, customerInput, segmentContext)
	if err != nil {
		return nil, err
	}
	result.Utterance = e.rephrase(ctx, result.Utterance, customerInput, customerFromSegment(segmentContext))
	return result, nil
}

// HandleInterruption defers to the wrapped engine; recovery lines stay
// scripted so they are instant.
func (e *GenAIEngine) HandleInterruption(ctx context.Context, sessionID string, interruptionType models.InterruptionType) (*orchestration.EngineResult, error) {
	return e.inner.HandleInterruption(ctx, sessionID, interruptionType)
}

// FinalizeFlow defers to the wrapped engine.
func (e *GenAIEngine) FinalizeFlow(ctx context.Context, sessionID string) (*models.FlowOutcome, error) {
	return e.inner.FinalizeFlow(ctx, sessionID)
}

// GetFlowStatus defers to the wrapped engine.
func (e *GenAIEngine) GetFlowStatus(sessionID string) orchestration.FlowStatus {
	return e.inner.GetFlowStatus(sessionID)
}

// rephrase asks the model to deliver the scripted brief naturally. The
// scripted text is returned untouched on any failure.
func (e *GenAIEngine) rephrase(ctx context.Context, scripted, customerInput string, customer *models.CustomerContext) string {
	if e.client == nil || scripted == "" {
		return scripted
	}

	system := fmt.Sprintf(
		"You are a friendly, concise sales agent on a live phone call, currently in the %s phase. "+
			"Rewrite the provided line in your own natural spoken voice. Keep its intent and any factual "+
			"claims exactly; one or two sentences; no markdown.", e.flow)

	messages := []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(system)}
	if customer != nil {
		if profile, err := json.Marshal(customer); err == nil {
			messages = append(messages, openai.SystemMessage("Customer profile: "+string(profile)))
		}
	}
	if customerInput != "" {
		messages = append(messages, openai.UserMessage("Customer just said: "+customerInput))
	}
	messages = append(messages, openai.UserMessage("Line to deliver: "+scripted))

	out, err := e.client.GenerateWithMessages(ctx, messages)
	if err != nil || strings.TrimSpace(out) == "" {
		slog.Debug("GenAIEngine.rephrase: falling back to scripted line", "flow", e.flow, "error", err)
		return scripted
	}
	return strings.TrimSpace(out)
}
