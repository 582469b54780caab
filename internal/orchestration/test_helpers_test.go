package orchestration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lokv010/voiceagent-sub000/internal/models"
)

// stubEngine is a configurable FlowEngine for orchestrator tests.
type stubEngine struct {
	flow models.FlowType

	mu          sync.Mutex
	initCalls   int
	segCalls    int
	finalCalls  int
	interrupted int

	failSegments bool
	panicOnInit  bool
	utterance    string
	result       *EngineResult
}

func newStubEngine(flow models.FlowType) *stubEngine {
	return &stubEngine{flow: flow, utterance: "stub line for " + string(flow)}
}

func (e *stubEngine) CanHandle(flowType models.FlowType) bool { return flowType == e.flow }

func (e *stubEngine) baseResult() *EngineResult {
	if e.result != nil {
		cp := *e.result
		return &cp
	}
	return &EngineResult{Utterance: e.utterance, Engagement: -1, Readiness: -1, Success: true}
}

func (e *stubEngine) InitializeFlow(ctx context.Context, sessionID string, customer *models.CustomerContext, flowContext map[models.ContextKey]interface{}) (*EngineResult, error) {
	e.mu.Lock()
	e.initCalls++
	e.mu.Unlock()
	if e.panicOnInit {
		panic("stub engine init panic")
	}
	return e.baseResult(), nil
}

func (e *stubEngine) ExecuteFlowSegment(ctx context.Context, sessionID string, customerInput string, segmentContext map[models.ContextKey]interface{}) (*EngineResult, error) {
	e.mu.Lock()
	e.segCalls++
	e.mu.Unlock()
	if e.failSegments {
		return nil, fmt.Errorf("stub segment failure")
	}
	return e.baseResult(), nil
}

func (e *stubEngine) HandleInterruption(ctx context.Context, sessionID string, interruptionType models.InterruptionType) (*EngineResult, error) {
	e.mu.Lock()
	e.interrupted++
	e.mu.Unlock()
	return &EngineResult{Utterance: "let me pause here", Engagement: -1, Readiness: -1, Success: true}, nil
}

func (e *stubEngine) FinalizeFlow(ctx context.Context, sessionID string) (*models.FlowOutcome, error) {
	e.mu.Lock()
	e.finalCalls++
	e.mu.Unlock()
	return &models.FlowOutcome{Flow: e.flow, Completed: true}, nil
}

func (e *stubEngine) GetFlowStatus(sessionID string) FlowStatus {
	return FlowStatus{Flow: e.flow}
}

// stubClassifier returns a fixed result for every turn.
type stubClassifier struct {
	result *models.ClassificationResult
	err    error

	mu         sync.Mutex
	learnCalls int
}

func (c *stubClassifier) Classify(ctx context.Context, utterance string, currentFlow models.FlowType, history []models.Event, customer *models.CustomerContext, sessionContext map[models.ContextKey]interface{}) (*models.ClassificationResult, error) {
	if c.err != nil {
		return nil, c.err
	}
	cp := *c.result
	return &cp, nil
}

func (c *stubClassifier) Adapt(result *models.ClassificationResult, recentEvents []models.Event, performance map[models.FlowType]models.FlowPerformance) *models.ClassificationResult {
	return result
}

func (c *stubClassifier) LearnFromOutcomes(ctx context.Context, sessionID string, sequence []models.ClassificationResult, outcomes *models.FinalOutcomes) (map[string]interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.learnCalls++
	return map[string]interface{}{"classifications": len(sequence)}, nil
}

// stubSink captures saved call records.
type stubSink struct {
	mu      sync.Mutex
	records []models.CallRecord
}

func (s *stubSink) SaveCallRecord(ctx context.Context, record models.CallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

func (s *stubSink) saved() []models.CallRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.CallRecord, len(s.records))
	copy(out, s.records)
	return out
}

// testHarness bundles a fully wired orchestrator with stub engines for every
// flow type.
type testHarness struct {
	orchestrator *Orchestrator
	states       *StateManager
	bus          *EventBus
	feedback     *FeedbackCollector
	engines      map[models.FlowType]*stubEngine
	sink         *stubSink
}

func newTestHarness(classifier Classifier, opts ...Option) *testHarness {
	states := NewStateManager(opts...)
	controller := NewTransitionController(states, opts...)
	registry := NewEngineRegistry()
	bus := NewEventBus()
	feedback := NewFeedbackCollector()
	sink := &stubSink{}

	engines := make(map[models.FlowType]*stubEngine)
	for _, ft := range models.AllFlowTypes() {
		eng := newStubEngine(ft)
		engines[ft] = eng
		if err := registry.Register(ft, eng); err != nil {
			panic(err)
		}
	}

	orchestrator := NewOrchestrator(OrchestratorDeps{
		States:     states,
		Controller: controller,
		Registry:   registry,
		Bus:        bus,
		Feedback:   feedback,
		Classifier: classifier,
		Sink:       sink,
	}, opts...)

	return &testHarness{
		orchestrator: orchestrator,
		states:       states,
		bus:          bus,
		feedback:     feedback,
		engines:      engines,
		sink:         sink,
	}
}

// backdateFlowEntry rewinds a session's flow entry and last update timestamps
// so dwell and TTL gates can be exercised without sleeping.
func (m *StateManager) backdateFlowEntry(sessionID string, by time.Duration) {
	m.mu.RLock()
	s, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	s.mu.Lock()
	s.state.FlowEnteredAt = s.state.FlowEnteredAt.Add(-by)
	s.state.StartedAt = s.state.StartedAt.Add(-by)
	s.state.LastUpdated = s.state.LastUpdated.Add(-by)
	s.mu.Unlock()
}
