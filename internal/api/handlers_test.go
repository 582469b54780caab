package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lokv010/voiceagent-sub000/internal/engines"
	"github.com/lokv010/voiceagent-sub000/internal/models"
	"github.com/lokv010/voiceagent-sub000/internal/orchestration"
	"github.com/lokv010/voiceagent-sub000/internal/store"
)

// newTestServer wires a full scripted stack behind the HTTP mux.
func newTestServer(t *testing.T, opts ...Option) (*Server, *http.ServeMux) {
	t.Helper()

	states := orchestration.NewStateManager()
	registry := orchestration.NewEngineRegistry()
	flowEngines := map[models.FlowType]orchestration.FlowEngine{
		models.FlowTypeDiscovery:    engines.NewDiscoveryEngine(),
		models.FlowTypePitch:        engines.NewPitchEngine(),
		models.FlowTypeKnowledge:    engines.NewKnowledgeEngine(),
		models.FlowTypeObjection:    engines.NewObjectionEngine(),
		models.FlowTypeClosing:      engines.NewClosingEngine(),
		models.FlowTypeRelationship: engines.NewRelationshipEngine(),
	}
	for ft, eng := range flowEngines {
		if err := registry.Register(ft, eng); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	st := store.NewInMemoryStore()
	orchestrator := orchestration.NewOrchestrator(orchestration.OrchestratorDeps{
		States:     states,
		Controller: orchestration.NewTransitionController(states),
		Registry:   registry,
		Bus:        orchestration.NewEventBus(),
		Feedback:   orchestration.NewFeedbackCollector(),
		Classifier: orchestration.NewFallbackClassifier(),
		Sink:       st,
	})

	server := NewServer(orchestrator, st, opts...)
	return server, server.Routes()
}

func postJSON(t *testing.T, mux *http.ServeMux, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response %q: %v", w.Body.String(), err)
	}
	return resp
}

func startCall(t *testing.T, mux *http.ServeMux) string {
	t.Helper()
	w := postJSON(t, mux, "/calls", StartCallRequest{
		CallType: "cold_call",
		Customer: &models.CustomerContext{Name: "Sam", Industry: "logistics"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeResponse(t, w)
	data, _ := resp.Result.(map[string]interface{})
	sessionID, _ := data["session_id"].(string)
	if sessionID == "" {
		t.Fatalf("no session id in response: %s", w.Body.String())
	}
	return sessionID
}

func TestStartCallValidation(t *testing.T) {
	_, mux := newTestServer(t)

	w := postJSON(t, mux, "/calls", StartCallRequest{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing call_type, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/calls", bytes.NewReader([]byte("{not json")))
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed JSON, got %d", w.Code)
	}
}

func TestTurnLifecycle(t *testing.T) {
	_, mux := newTestServer(t)
	sessionID := startCall(t, mux)

	w := postJSON(t, mux, fmt.Sprintf("/calls/%s/turns", sessionID), TurnRequest{Utterance: "hi, what's this about?"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeResponse(t, w)
	data, _ := resp.Result.(map[string]interface{})
	if utterance, _ := data["utterance"].(string); utterance == "" {
		t.Error("expected an utterance in the turn result")
	}
	if flow, _ := data["flow"].(string); flow != string(models.FlowTypeDiscovery) {
		t.Errorf("expected discovery flow, got %q", flow)
	}
}

func TestTurnUnknownSession(t *testing.T) {
	_, mux := newTestServer(t)
	w := postJSON(t, mux, "/calls/no-such-session/turns", TurnRequest{Utterance: "hello"})
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestTurnMissingUtterance(t *testing.T) {
	_, mux := newTestServer(t)
	sessionID := startCall(t, mux)
	w := postJSON(t, mux, fmt.Sprintf("/calls/%s/turns", sessionID), TurnRequest{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestInterruptionEndpoint(t *testing.T) {
	_, mux := newTestServer(t)
	sessionID := startCall(t, mux)

	w := postJSON(t, mux, fmt.Sprintf("/calls/%s/interruptions", sessionID), InterruptionRequest{Type: models.InterruptionSilence})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeResponse(t, w)
	data, _ := resp.Result.(map[string]interface{})
	if stage, _ := data["stage"].(string); stage != string(models.StageRecovery) {
		t.Errorf("expected recovery stage, got %q", stage)
	}
}

func TestFinalizeAndRecordRetrieval(t *testing.T) {
	_, mux := newTestServer(t)
	sessionID := startCall(t, mux)

	postJSON(t, mux, fmt.Sprintf("/calls/%s/turns", sessionID), TurnRequest{Utterance: "our process is very manual"})

	w := postJSON(t, mux, fmt.Sprintf("/calls/%s/finalize", sessionID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// A second finalize reports not found.
	w = postJSON(t, mux, fmt.Sprintf("/calls/%s/finalize", sessionID), nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 on double finalize, got %d", w.Code)
	}

	// The persisted record is retrievable.
	req := httptest.NewRequest(http.MethodGet, "/records/"+sessionID, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for record, got %d: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/records", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for record list, got %d", rec.Code)
	}
}

func TestCallStatusEndpoint(t *testing.T) {
	_, mux := newTestServer(t)
	sessionID := startCall(t, mux)

	req := httptest.NewRequest(http.MethodGet, "/calls/"+sessionID, nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	resp := decodeResponse(t, w)
	data, _ := resp.Result.(map[string]interface{})
	if flow, _ := data["current_flow"].(string); flow != string(models.FlowTypeDiscovery) {
		t.Errorf("expected discovery flow, got %q", flow)
	}

	req = httptest.NewRequest(http.MethodGet, "/calls/no-such-session", nil)
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown session, got %d", w.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	_, mux := newTestServer(t)

	for _, path := range []string{"/health", "/metrics"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, w.Code)
		}
		if ct := w.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("%s: expected JSON content type, got %q", path, ct)
		}
	}
}

func TestCallBinderHook(t *testing.T) {
	bound := map[string]string{}
	_, mux := newTestServer(t, WithCallBinder(func(callSid, sessionID string) {
		bound[callSid] = sessionID
	}))

	w := postJSON(t, mux, "/calls", StartCallRequest{CallType: "cold_call", CallSid: "CA123"})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	if bound["CA123"] == "" {
		t.Error("expected the call sid bound to the new session")
	}
}
