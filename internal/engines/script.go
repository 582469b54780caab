// Package engines provides the specialized flow engines that produce turn
// content for each conversation mode: discovery, pitch, knowledge,
// objection handling, closing and relationship building. All engines share
// a scripted core driven by per-flow playbooks; the GenAI decorator layers
// model-generated phrasing on top and falls back to the script on failure.
package engines

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/lokv010/voiceagent-sub000/internal/models"
	"github.com/lokv010/voiceagent-sub000/internal/orchestration"
)

// Extractor pulls flow-specific facts out of one customer utterance. It
// returns context updates for the session and a readiness score in [0,1],
// or a negative readiness when the flow has no opinion.
type Extractor func(input string, sessionContext map[models.ContextKey]interface{}) (map[models.ContextKey]interface{}, float64)

// Playbook is the scripted content for one flow: an opening line, rotating
// segment templates and interruption recovery lines. Templates may reference
// {name} and {industry} from the customer profile.
type Playbook struct {
	Flow     models.FlowType
	Opening  string
	Segments []string
	Recovery map[models.InterruptionType]string
	Extract  Extractor
}

// engineSession is one session's per-engine bookkeeping.
type engineSession struct {
	initialized bool
	finalized   bool
	turns       int
	summary     []string
}

// ScriptEngine is the template-driven flow engine core. It satisfies the
// full FlowEngine lifecycle and tolerates duplicate initialization.
type ScriptEngine struct {
	playbook Playbook

	mu       sync.Mutex
	sessions map[string]*engineSession
}

// NewScriptEngine creates an engine around a playbook.
func NewScriptEngine(playbook Playbook) *ScriptEngine {
	return &ScriptEngine{
		playbook: playbook,
		sessions: make(map[string]*engineSession),
	}
}

// CanHandle reports whether this engine serves the given flow type.
func (e *ScriptEngine) CanHandle(flowType models.FlowType) bool {
	return flowType == e.playbook.Flow
}

// session returns (creating if needed) the per-session bookkeeping.
func (e *ScriptEngine) session(sessionID string) *engineSession {
	s, ok := e.sessions[sessionID]
	if !ok {
		s = &engineSession{}
		e.sessions[sessionID] = s
	}
	return s
}

// InitializeFlow is called once when a session enters this flow. Duplicate
// calls for the same entry are tolerated and behave like a segment turn.
func (e *ScriptEngine) InitializeFlow(ctx context.Context, sessionID string, customer *models.CustomerContext, flowContext map[models.ContextKey]interface{}) (*orchestration.EngineResult, error) {
	e.mu.Lock()
	s := e.session(sessionID)
	if s.initialized {
		e.mu.Unlock()
		slog.Debug("ScriptEngine.InitializeFlow: duplicate initialization tolerated",
			"flow", e.playbook.Flow, "sessionID", sessionID)
		return e.ExecuteFlowSegment(ctx, sessionID, "", flowContext)
	}
	s.initialized = true
	s.finalized = false
	s.turns = 0
	e.mu.Unlock()

	utterance := renderTemplate(e.playbook.Opening, customer)
	slog.Debug("ScriptEngine.InitializeFlow: flow initialized",
		"flow", e.playbook.Flow, "sessionID", sessionID)

	return &orchestration.EngineResult{
		Utterance:  utterance,
		Engagement: -1,
		Readiness:  -1,
		StageHint:  models.StageAssessment,
		Success:    true,
	}, nil
}

// ExecuteFlowSegment produces the next scripted utterance and folds the
// customer's input through the playbook extractor.
func (e *ScriptEngine) ExecuteFlowSegment(ctx context.Context, sessionID string, customerInput string, segmentContext map[models.ContextKey]interface{}) (*orchestration.EngineResult, error) {
	e.mu.Lock()
	s := e.session(sessionID)
	if !s.initialized {
		// Tolerate a missed initialization rather than fail the turn.
		s.initialized = true
	}
	idx := s.turns
	s.turns++
	e.mu.Unlock()

	customer := customerFromSegment(segmentContext)
	var template string
	if len(e.playbook.Segments) > 0 {
		template = e.playbook.Segments[idx%len(e.playbook.Segments)]
	} else {
		template = e.playbook.Opening
	}
	utterance := renderTemplate(template, customer)

	updates := map[models.ContextKey]interface{}{}
	readiness := -1.0
	if e.playbook.Extract != nil && customerInput != "" {
		extracted, r := e.playbook.Extract(customerInput, segmentContext)
		for k, v := range extracted {
			updates[k] = v
		}
		readiness = r
		if len(extracted) > 0 {
			e.mu.Lock()
			for k := range extracted {
				s.summary = append(s.summary, "noted "+string(k))
			}
			e.mu.Unlock()
		}
	}

	result := &orchestration.EngineResult{
		Utterance:      utterance,
		ContextUpdates: updates,
		Engagement:     scoreEngagement(customerInput),
		Readiness:      readiness,
		StageHint:      models.StageExecution,
		Success:        true,
	}
	return result, nil
}

// HandleInterruption returns the playbook's recovery line for the
// interruption type, or a generic re-engagement line.
func (e *ScriptEngine) HandleInterruption(ctx context.Context, sessionID string, interruptionType models.InterruptionType) (*orchestration.EngineResult, error) {
	line, ok := e.playbook.Recovery[interruptionType]
	if !ok {
		line = "No problem at all, take your time. Where were we?"
	}
	return &orchestration.EngineResult{
		Utterance:  line,
		Engagement: -1,
		Readiness:  -1,
		Success:    true,
	}, nil
}

// FinalizeFlow reports the engine's outcome for the session and releases its
// per-session state. Safe to call for sessions this engine never saw.
func (e *ScriptEngine) FinalizeFlow(ctx context.Context, sessionID string) (*models.FlowOutcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[sessionID]
	if !ok {
		return &models.FlowOutcome{Flow: e.playbook.Flow}, nil
	}
	outcome := &models.FlowOutcome{
		Flow:      e.playbook.Flow,
		Completed: s.turns > 0,
		Turns:     s.turns,
		Summary:   strings.Join(s.summary, "; "),
	}
	delete(e.sessions, sessionID)
	return outcome, nil
}

// GetFlowStatus describes this engine's view of one session.
func (e *ScriptEngine) GetFlowStatus(sessionID string) orchestration.FlowStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	status := orchestration.FlowStatus{Flow: e.playbook.Flow}
	if s, ok := e.sessions[sessionID]; ok {
		status.Initialized = s.initialized
		status.Turns = s.turns
		status.Finalized = s.finalized
	}
	return status
}

// renderTemplate substitutes customer profile fields into a template.
func renderTemplate(template string, customer *models.CustomerContext) string {
	name, industry := "there", "your industry"
	if customer != nil {
		if customer.Name != "" {
			name = customer.Name
		}
		if customer.Industry != "" {
			industry = customer.Industry
		}
	}
	out := strings.ReplaceAll(template, "{name}", name)
	return strings.ReplaceAll(out, "{industry}", industry)
}

// customerFromSegment reads the customer profile out of segment context.
func customerFromSegment(segmentContext map[models.ContextKey]interface{}) *models.CustomerContext {
	if v, ok := segmentContext[models.ContextKeyCustomerProfile]; ok {
		if c, ok := v.(*models.CustomerContext); ok {
			return c
		}
	}
	return nil
}

var positiveWords = []string{"yes", "great", "interesting", "sounds good", "sure", "absolutely", "helpful"}
var negativeWords = []string{"no", "busy", "not interested", "stop", "later", "goodbye"}

// scoreEngagement estimates per-turn engagement in [0,1] from utterance
// length, questions asked and sentiment words. Empty input means the engine
// has no opinion this turn.
func scoreEngagement(input string) float64 {
	if input == "" {
		return -1
	}
	lowered := strings.ToLower(input)

	score := 0.4
	words := len(strings.Fields(lowered))
	switch {
	case words >= 15:
		score += 0.2
	case words >= 6:
		score += 0.1
	}
	if strings.Contains(lowered, "?") {
		score += 0.15
	}
	for _, w := range positiveWords {
		if strings.Contains(lowered, w) {
			score += 0.1
			break
		}
	}
	for _, w := range negativeWords {
		if strings.Contains(lowered, w) {
			score -= 0.25
			break
		}
	}
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
