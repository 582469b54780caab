package orchestration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lokv010/voiceagent-sub000/internal/models"
)

// degradedUtterance is spoken when engine dispatch fails; an abrupt
// technical error is worse than a generic reply on a live call.
const degradedUtterance = "I want to make sure I get this right for you. Could you tell me a bit more about what matters most on your end?"

// RecordSink is the inbound edge of the external persistence collaborator.
// The orchestrator hands over the finished call record exactly once at
// finalization; it never writes to a datastore itself.
type RecordSink interface {
	SaveCallRecord(ctx context.Context, record models.CallRecord) error
}

// Orchestrator is the façade of the conversation engine. Per turn it
// classifies the customer utterance, decides on a flow transition,
// dispatches to the registered engine, records feedback and returns the next
// system utterance. All collaborators are constructor-injected so multiple
// orchestrators can run in one process without interference.
type Orchestrator struct {
	states     *StateManager
	controller *TransitionController
	registry   *EngineRegistry
	bus        *EventBus
	feedback   *FeedbackCollector
	classifier Classifier
	fallback   *FallbackClassifier
	sink       RecordSink
	cfg        Config

	// mu guards the per-session bookkeeping below; values are only touched
	// inside a serialized turn or at finalization.
	mu        sync.Mutex
	initGen   map[string]int                      // last flow generation an engine was initialized for
	touched   map[string]map[models.FlowType]bool // flows a session has entered
	turnCount map[string]int
}

// OrchestratorDeps bundles the collaborators injected into an orchestrator.
// Classifier and Sink are optional; the keyword fallback and a no-op
// persistence hand-off cover their absence.
type OrchestratorDeps struct {
	States     *StateManager
	Controller *TransitionController
	Registry   *EngineRegistry
	Bus        *EventBus
	Feedback   *FeedbackCollector
	Classifier Classifier
	Sink       RecordSink
}

// NewOrchestrator wires an orchestrator from its collaborators.
func NewOrchestrator(deps OrchestratorDeps, opts ...Option) *Orchestrator {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Orchestrator{
		states:     deps.States,
		controller: deps.Controller,
		registry:   deps.Registry,
		bus:        deps.Bus,
		feedback:   deps.Feedback,
		classifier: deps.Classifier,
		fallback:   NewFallbackClassifier(opts...),
		sink:       deps.Sink,
		cfg:        cfg,
		initGen:    make(map[string]int),
		touched:    make(map[string]map[models.FlowType]bool),
		turnCount:  make(map[string]int),
	}
}

// Start begins a new session for an established call.
func (o *Orchestrator) Start(callType string, customer *models.CustomerContext) (string, error) {
	sessionID, err := o.states.Start(callType, customer)
	if err != nil {
		return "", err
	}
	o.bus.Append(models.Event{
		SessionID: sessionID,
		Type:      models.EventClassificationUpdate,
		Payload: map[string]interface{}{
			"note":      "session started",
			"call_type": callType,
		},
	})
	return sessionID, nil
}

// ProcessCustomerInput runs the per-turn protocol for one recognized speech
// segment. Only an unknown session id is returned as a hard error; every
// other failure degrades into a speakable result.
func (o *Orchestrator) ProcessCustomerInput(ctx context.Context, sessionID, utterance string) (*models.TurnResult, error) {
	if err := o.states.BeginTurn(sessionID); err != nil {
		slog.Error("Orchestrator.ProcessCustomerInput: cannot begin turn", "sessionID", sessionID, "error", err)
		return nil, err
	}
	defer o.states.EndTurn(sessionID)

	state, err := o.states.Snapshot(sessionID)
	if err != nil {
		return nil, err
	}

	diag := models.TurnDiagnostics{}

	// Classify against accumulated conversation history.
	history := o.bus.Transcript(sessionID, o.cfg.RecentHistoryLimit)
	result := o.classify(ctx, utterance, state, history)
	result = o.adapt(result, sessionID)
	diag.ClassifiedFlow = result.PrimaryFlow
	diag.Confidence = result.Confidence
	diag.FallbackClassifier = result.Fallback

	o.bus.Append(models.Event{
		SessionID: sessionID,
		Type:      models.EventClassificationUpdate,
		Payload: map[string]interface{}{
			"primary_flow": string(result.PrimaryFlow),
			"confidence":   result.Confidence,
			"reasoning":    result.Reasoning,
			"fallback":     result.Fallback,
			"engagement":   state.Engagement,
		},
	})

	// Decide: switch flows only on a confident disagreement with the
	// current flow; otherwise continue where we are.
	if result.PrimaryFlow != state.CurrentFlow && result.Confidence > o.cfg.TransitionConfidence {
		if _, rerr := o.registry.Resolve(result.PrimaryFlow); rerr != nil {
			// No engine serves the target flow; switching would guarantee a
			// failed dispatch, so stay where we are.
			diag.TransitionRejected = rerr.Error()
			slog.Warn("Orchestrator.ProcessCustomerInput: target flow has no engine, staying put",
				"sessionID", sessionID, "target", result.PrimaryFlow, "error", rerr)
		} else if transitioned, trErr := o.controller.Transition(sessionID, result.PrimaryFlow, result.Reasoning); transitioned {
			diag.Transitioned = true
			o.feedback.RecordTransition(sessionID, result.PrimaryFlow)
			o.bus.Append(models.Event{
				SessionID: sessionID,
				Type:      models.EventFlowTransition,
				Payload: map[string]interface{}{
					"from":    string(state.CurrentFlow),
					"to":      string(result.PrimaryFlow),
					"trigger": result.Reasoning,
				},
			})
		} else if trErr != nil {
			if errors.Is(trErr, ErrSessionNotFound) {
				return nil, trErr
			}
			// Invalid transition is non-fatal: keep the current flow and
			// surface the reason in diagnostics.
			diag.TransitionRejected = trErr.Error()
		}
	}

	// Reload: the flow may have just changed.
	prior := state
	state, err = o.states.Snapshot(sessionID)
	if err != nil {
		return nil, err
	}

	engineResult, engineErr := o.dispatch(ctx, sessionID, state, utterance)
	utteranceOut := degradedUtterance
	success := false
	if engineErr != nil {
		diag.Degraded = true
		diag.EngineErrors = append(diag.EngineErrors, engineErr.Error())
		slog.Warn("Orchestrator.ProcessCustomerInput: engine dispatch degraded",
			"sessionID", sessionID, "flow", state.CurrentFlow, "error", engineErr)
		if diag.Transitioned {
			// The freshly entered flow failed its first dispatch; restore the
			// prior flow so the degraded turn leaves no partial switch behind.
			if rbErr := o.controller.Rollback(sessionID, prior, "engine dispatch failed"); rbErr != nil {
				slog.Error("Orchestrator.ProcessCustomerInput: flow rollback failed",
					"sessionID", sessionID, "error", rbErr)
			} else {
				diag.Transitioned = false
				o.bus.Append(models.Event{
					SessionID: sessionID,
					Type:      models.EventFlowTransition,
					Payload: map[string]interface{}{
						"from":    string(state.CurrentFlow),
						"to":      string(prior.CurrentFlow),
						"trigger": "rollback: engine dispatch failed",
					},
				})
			}
		}
	} else {
		utteranceOut = engineResult.Utterance
		success = engineResult.Success
		o.applyEngineResult(sessionID, state, engineResult)
	}

	// Record per-turn effectiveness, keyed by session and flow.
	post, err := o.states.Snapshot(sessionID)
	if err != nil {
		return nil, err
	}
	o.feedback.Record(TurnFeedback{
		SessionID:  sessionID,
		Flow:       post.CurrentFlow,
		Engagement: post.Engagement,
		Momentum:   post.Momentum,
		Confidence: result.Confidence,
		Success:    success,
		Classified: true,
	})

	o.bus.Append(models.Event{
		SessionID: sessionID,
		Type:      models.EventCustomerInput,
		Payload:   map[string]interface{}{"text": utterance},
	})
	o.bus.Append(models.Event{
		SessionID: sessionID,
		Type:      models.EventAgentResponse,
		Payload: map[string]interface{}{
			"text":     utteranceOut,
			"flow":     string(post.CurrentFlow),
			"degraded": diag.Degraded,
		},
	})

	o.mu.Lock()
	o.turnCount[sessionID]++
	o.mu.Unlock()

	return &models.TurnResult{
		SessionID:   sessionID,
		Utterance:   utteranceOut,
		Flow:        post.CurrentFlow,
		Stage:       post.CurrentStage,
		Diagnostics: diag,
	}, nil
}

// classify runs the configured classifier with panic and error recovery;
// any failure substitutes the keyword fallback result. Classification
// failures are never propagated to the caller.
func (o *Orchestrator) classify(ctx context.Context, utterance string, state *models.ConversationState, history []models.Event) (result *models.ClassificationResult) {
	customer := customerFromContext(state)

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Orchestrator.classify: classifier panicked, using fallback", "panic", r)
			result = o.fallbackResult(ctx, utterance, state, history, customer)
		}
	}()

	if o.classifier == nil {
		return o.fallbackResult(ctx, utterance, state, history, customer)
	}

	res, err := o.classifier.Classify(ctx, utterance, state.CurrentFlow, history, customer, state.Context)
	if err != nil || res == nil || !models.ValidFlowType(res.PrimaryFlow) {
		slog.Warn("Orchestrator.classify: classifier failed, using fallback", "error", err)
		return o.fallbackResult(ctx, utterance, state, history, customer)
	}
	return res
}

func (o *Orchestrator) fallbackResult(ctx context.Context, utterance string, state *models.ConversationState, history []models.Event, customer *models.CustomerContext) *models.ClassificationResult {
	res, _ := o.fallback.Classify(ctx, utterance, state.CurrentFlow, history, customer, state.Context)
	return res
}

// adapt applies the classifier's bounded learning nudge using recent events
// and aggregated flow performance.
func (o *Orchestrator) adapt(result *models.ClassificationResult, sessionID string) *models.ClassificationResult {
	recent := o.bus.Recent(sessionID, o.cfg.RecentHistoryLimit)
	perf := o.feedback.Snapshot()
	if o.classifier != nil {
		return o.classifier.Adapt(result, recent, perf)
	}
	return o.fallback.Adapt(result, recent, perf)
}

// dispatch resolves the engine for the session's current flow and runs the
// right lifecycle call under the per-turn timeout. On first entry into a
// flow generation it initializes; afterwards it executes a segment.
func (o *Orchestrator) dispatch(ctx context.Context, sessionID string, state *models.ConversationState, utterance string) (*EngineResult, error) {
	engine, err := o.registry.Resolve(state.CurrentFlow)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	firstEntry := o.initGen[sessionID] < state.FlowGen
	o.mu.Unlock()

	callCtx := ctx
	var cancel context.CancelFunc
	if o.cfg.TurnTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, o.cfg.TurnTimeout)
		defer cancel()
	}

	type dispatchResult struct {
		res *EngineResult
		err error
	}
	done := make(chan dispatchResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- dispatchResult{err: fmt.Errorf("%w: engine panic: %v", ErrEngineFailure, r)}
			}
		}()
		var res *EngineResult
		var callErr error
		if firstEntry {
			res, callErr = engine.InitializeFlow(callCtx, sessionID, customerFromContext(state), state.Context)
		} else {
			res, callErr = engine.ExecuteFlowSegment(callCtx, sessionID, utterance, state.Context)
		}
		done <- dispatchResult{res: res, err: callErr}
	}()

	select {
	case <-callCtx.Done():
		return nil, fmt.Errorf("%w: turn timeout in flow %s", ErrEngineFailure, state.CurrentFlow)
	case dr := <-done:
		if dr.err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEngineFailure, dr.err)
		}
		if dr.res == nil {
			return nil, fmt.Errorf("%w: engine returned no result", ErrEngineFailure)
		}
		if firstEntry {
			o.mu.Lock()
			o.initGen[sessionID] = state.FlowGen
			flows, ok := o.touched[sessionID]
			if !ok {
				flows = make(map[models.FlowType]bool)
				o.touched[sessionID] = flows
			}
			flows[state.CurrentFlow] = true
			o.mu.Unlock()
		}
		return dr.res, nil
	}
}

// applyEngineResult merges an engine's context updates and signals back into
// the session and advances the stage when the engine hinted a legal move.
func (o *Orchestrator) applyEngineResult(sessionID string, state *models.ConversationState, res *EngineResult) {
	if len(res.ContextUpdates) > 0 {
		if err := o.states.MergeContext(sessionID, res.ContextUpdates); err != nil {
			slog.Warn("Orchestrator.applyEngineResult: context merge failed", "sessionID", sessionID, "error", err)
		}
	}
	if err := o.states.UpdateSignals(sessionID, res.Engagement); err != nil {
		slog.Warn("Orchestrator.applyEngineResult: signal update failed", "sessionID", sessionID, "error", err)
	}
	if res.Readiness >= 0 {
		if err := o.states.MergeContext(sessionID, map[models.ContextKey]interface{}{
			models.ContextKeyReadinessLevel: res.Readiness,
		}); err != nil {
			slog.Warn("Orchestrator.applyEngineResult: readiness merge failed", "sessionID", sessionID, "error", err)
		}
	}

	target := res.StageHint
	if target == "" && state.CurrentStage == models.StageInitialization {
		target = models.StageExecution
	}
	if target != "" && target != state.CurrentStage {
		if err := o.states.AdvanceStage(sessionID, target); err != nil {
			slog.Debug("Orchestrator.applyEngineResult: stage hint rejected",
				"sessionID", sessionID, "hint", target, "error", err)
		}
	}
}

// HandleInterruption pauses the session's flow: the controller snapshots a
// recovery record and forces stage Recovery, then the engine produces a
// re-engagement utterance. The current flow never changes.
func (o *Orchestrator) HandleInterruption(ctx context.Context, sessionID string, interruptionType models.InterruptionType) (*models.TurnResult, error) {
	if err := o.states.BeginTurn(sessionID); err != nil {
		return nil, err
	}
	defer o.states.EndTurn(sessionID)

	if _, err := o.controller.HandleInterruption(sessionID, interruptionType); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, err
		}
		slog.Warn("Orchestrator.HandleInterruption: recovery stage rejected", "sessionID", sessionID, "error", err)
	}

	state, err := o.states.Snapshot(sessionID)
	if err != nil {
		return nil, err
	}

	o.bus.Append(models.Event{
		SessionID: sessionID,
		Type:      models.EventInterruption,
		Payload:   map[string]interface{}{"interruption": string(interruptionType)},
	})

	diag := models.TurnDiagnostics{}
	utteranceOut := degradedUtterance
	engine, rerr := o.registry.Resolve(state.CurrentFlow)
	if rerr != nil {
		diag.Degraded = true
		diag.EngineErrors = append(diag.EngineErrors, rerr.Error())
	} else if res, herr := engine.HandleInterruption(ctx, sessionID, interruptionType); herr != nil {
		diag.Degraded = true
		diag.EngineErrors = append(diag.EngineErrors, herr.Error())
	} else if res != nil {
		utteranceOut = res.Utterance
	}

	return &models.TurnResult{
		SessionID:   sessionID,
		Utterance:   utteranceOut,
		Flow:        state.CurrentFlow,
		Stage:       state.CurrentStage,
		Diagnostics: diag,
	}, nil
}

// FinalizeConversation runs exactly once per session: it finalizes every
// engine that touched the session, lets the classifier learn from the
// reconstructed classification sequence, hands the call record to the
// persistence collaborator and evicts the session. A second call for the
// same id reports not found.
func (o *Orchestrator) FinalizeConversation(ctx context.Context, sessionID string) (*models.FinalOutcomes, error) {
	state, transitions, err := o.states.Remove(sessionID)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	touched := o.touched[sessionID]
	turns := o.turnCount[sessionID]
	delete(o.touched, sessionID)
	delete(o.initGen, sessionID)
	delete(o.turnCount, sessionID)
	o.mu.Unlock()

	outcomes := &models.FinalOutcomes{
		SessionID:   sessionID,
		CallType:    state.CallType,
		FinalFlow:   state.CurrentFlow,
		FinalStage:  state.CurrentStage,
		Engagement:  state.Engagement,
		Momentum:    state.Momentum,
		StartedAt:   state.StartedAt,
		FinalizedAt: time.Now(),
		TotalTurns:  turns,
	}

	for flow := range touched {
		engine, rerr := o.registry.Resolve(flow)
		if rerr != nil {
			continue
		}
		fo, ferr := engine.FinalizeFlow(ctx, sessionID)
		if ferr != nil {
			slog.Warn("Orchestrator.FinalizeConversation: engine finalize failed",
				"sessionID", sessionID, "flow", flow, "error", ferr)
			continue
		}
		if fo != nil {
			outcomes.Outcomes = append(outcomes.Outcomes, *fo)
		}
	}

	// Learning runs only here, after the call has ended.
	if o.classifier != nil {
		sequence := o.classificationSequence(sessionID)
		if insights, lerr := o.classifier.LearnFromOutcomes(ctx, sessionID, sequence, outcomes); lerr != nil {
			slog.Warn("Orchestrator.FinalizeConversation: learning failed", "sessionID", sessionID, "error", lerr)
		} else {
			slog.Debug("Orchestrator.FinalizeConversation: learning insights", "sessionID", sessionID, "insights", insights)
		}
	}

	o.bus.Append(models.Event{
		SessionID: sessionID,
		Type:      models.EventSessionFinalized,
		Payload:   map[string]interface{}{"final_flow": string(outcomes.FinalFlow)},
	})
	events := o.bus.Drop(sessionID)
	o.feedback.DropSession(sessionID)

	if o.sink != nil {
		record := models.CallRecord{Outcomes: *outcomes, Transitions: transitions, Events: events}
		if serr := o.sink.SaveCallRecord(ctx, record); serr != nil {
			slog.Error("Orchestrator.FinalizeConversation: persistence hand-off failed",
				"sessionID", sessionID, "error", serr)
		}
	}

	slog.Info("Orchestrator.FinalizeConversation: session finalized",
		"sessionID", sessionID, "finalFlow", outcomes.FinalFlow, "turns", turns)
	return outcomes, nil
}

// classificationSequence reconstructs the per-turn classification results
// from the event bus.
func (o *Orchestrator) classificationSequence(sessionID string) []models.ClassificationResult {
	var sequence []models.ClassificationResult
	for _, ev := range o.bus.History(sessionID) {
		if ev.Type != models.EventClassificationUpdate {
			continue
		}
		flow, _ := ev.Payload["primary_flow"].(string)
		if flow == "" {
			continue
		}
		confidence, _ := ev.Payload["confidence"].(float64)
		reasoning, _ := ev.Payload["reasoning"].(string)
		fb, _ := ev.Payload["fallback"].(bool)
		sequence = append(sequence, models.ClassificationResult{
			PrimaryFlow: models.FlowType(flow),
			Confidence:  confidence,
			Reasoning:   reasoning,
			Fallback:    fb,
		})
	}
	return sequence
}

// Expire sweeps inactive sessions and releases their per-session
// bookkeeping. Intended to be driven by the owning service's timer tick,
// never by an uncoordinated background thread.
func (o *Orchestrator) Expire() int {
	removed := o.states.Expire(o.cfg.SessionTTL)
	for _, id := range removed {
		o.bus.Drop(id)
		o.feedback.DropSession(id)
		o.mu.Lock()
		delete(o.touched, id)
		delete(o.initGen, id)
		delete(o.turnCount, id)
		o.mu.Unlock()
	}
	return len(removed)
}

// SessionState returns a snapshot of one session's state.
func (o *Orchestrator) SessionState(sessionID string) (*models.ConversationState, error) {
	return o.states.Snapshot(sessionID)
}

// Metrics returns the current per-flow performance aggregates.
func (o *Orchestrator) Metrics() map[models.FlowType]models.FlowPerformance {
	return o.feedback.Snapshot()
}
