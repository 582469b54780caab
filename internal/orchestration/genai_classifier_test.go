package orchestration

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/openai/openai-go"

	"github.com/lokv010/voiceagent-sub000/internal/models"
)

// cannedGenAI returns a fixed completion or error for every call.
type cannedGenAI struct {
	response string
	err      error
	calls    int
	messages []openai.ChatCompletionMessageParamUnion
}

func (c *cannedGenAI) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	c.calls++
	c.messages = messages
	if c.err != nil {
		return "", c.err
	}
	return c.response, nil
}

func (c *cannedGenAI) GeneratePrompt(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return c.GenerateWithMessages(ctx, nil)
}

func TestGenAIClassifyParsesModelOutput(t *testing.T) {
	client := &cannedGenAI{response: `{
		"primary_flow": "objection",
		"confidence": 0.82,
		"secondary_flows": [{"flow": "knowledge", "confidence": 0.4}],
		"reasoning": "customer pushed back on cost"
	}`}
	g := NewGenAIClassifier(client)

	result, err := g.Classify(context.Background(), "that's too expensive", models.FlowTypePitch, nil, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.PrimaryFlow != models.FlowTypeObjection {
		t.Errorf("expected objection, got %q", result.PrimaryFlow)
	}
	if result.Confidence != 0.82 {
		t.Errorf("expected confidence 0.82, got %v", result.Confidence)
	}
	if result.Fallback {
		t.Error("model-backed result must not carry the fallback flag")
	}
	if len(result.SecondaryFlows) != 1 || result.SecondaryFlows[0].Flow != models.FlowTypeKnowledge {
		t.Errorf("unexpected secondaries: %+v", result.SecondaryFlows)
	}
}

func TestGenAIClassifyStripsCodeFence(t *testing.T) {
	client := &cannedGenAI{response: "```json\n{\"primary_flow\": \"closing\", \"confidence\": 0.9}\n```"}
	g := NewGenAIClassifier(client)

	result, err := g.Classify(context.Background(), "let's sign", models.FlowTypePitch, nil, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.PrimaryFlow != models.FlowTypeClosing {
		t.Errorf("expected closing, got %q", result.PrimaryFlow)
	}
}

func TestGenAITriggerSignalInPrompt(t *testing.T) {
	client := &cannedGenAI{response: `{"primary_flow": "knowledge", "confidence": 0.8}`}
	g := NewGenAIClassifier(client)

	if _, err := g.Classify(context.Background(), "what's the price?", models.FlowTypeDiscovery, nil, nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	raw, err := json.Marshal(client.messages)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(string(raw), "Trigger phrases detected") {
		t.Error("expected the trigger signal forwarded to the model")
	}
	if !strings.Contains(string(raw), string(models.FlowTypeKnowledge)) {
		t.Error("expected the trigger candidate flow named in the signal")
	}
}

func TestGenAIDegradeOnTransportError(t *testing.T) {
	client := &cannedGenAI{err: fmt.Errorf("connection reset")}
	g := NewGenAIClassifier(client)

	// The utterance carries a strong keyword, so the fallback would score
	// above the cap; degradation must clamp it.
	result, err := g.Classify(context.Background(), "what's the price?", models.FlowTypeDiscovery, nil, nil, nil)
	if err != nil {
		t.Fatalf("degradation must not surface an error, got %v", err)
	}
	if result.Confidence > 0.5 {
		t.Errorf("degraded confidence must be capped at 0.5, got %v", result.Confidence)
	}
	if !result.Fallback {
		t.Error("expected fallback flag on degraded result")
	}
	if !strings.Contains(result.Reasoning, "fallback") {
		t.Errorf("expected reasoning to state a fallback was used, got %q", result.Reasoning)
	}
	if result.PrimaryFlow != models.FlowTypeKnowledge {
		t.Errorf("expected keyword routing to survive degradation, got %q", result.PrimaryFlow)
	}
}

func TestGenAIDegradeOnMalformedOutput(t *testing.T) {
	cases := []string{
		"I think the customer is objecting.",
		`{"primary_flow": "smalltalk", "confidence": 0.8}`,
		`{"primary_flow": }`,
	}
	for _, raw := range cases {
		g := NewGenAIClassifier(&cannedGenAI{response: raw})
		result, err := g.Classify(context.Background(), "okay", models.FlowTypePitch, nil, nil, nil)
		if err != nil {
			t.Fatalf("degradation must not surface an error for %q, got %v", raw, err)
		}
		if result.Confidence > 0.5 {
			t.Errorf("%q: degraded confidence must be capped at 0.5, got %v", raw, result.Confidence)
		}
		if result.PrimaryFlow != models.FlowTypePitch {
			t.Errorf("%q: expected current flow retained, got %q", raw, result.PrimaryFlow)
		}
	}
}

func TestGenAIDegradeWithoutClient(t *testing.T) {
	g := NewGenAIClassifier(nil)
	result, err := g.Classify(context.Background(), "tell me more", models.FlowTypeDiscovery, nil, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Confidence > 0.5 || !result.Fallback {
		t.Errorf("expected capped fallback result, got confidence=%v fallback=%v", result.Confidence, result.Fallback)
	}
}

func TestGenAIClampsSecondariesToPrimary(t *testing.T) {
	client := &cannedGenAI{response: `{
		"primary_flow": "pitch",
		"confidence": 0.6,
		"secondary_flows": [
			{"flow": "closing", "confidence": 0.95},
			{"flow": "pitch", "confidence": 0.9}
		]
	}`}
	g := NewGenAIClassifier(client)

	result, err := g.Classify(context.Background(), "go on", models.FlowTypeDiscovery, nil, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.SecondaryFlows) != 1 {
		t.Fatalf("expected the duplicate primary dropped, got %+v", result.SecondaryFlows)
	}
	if result.SecondaryFlows[0].Confidence > result.Confidence {
		t.Errorf("secondary %v exceeds primary %v", result.SecondaryFlows[0].Confidence, result.Confidence)
	}
}
