package orchestration

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lokv010/voiceagent-sub000/internal/models"
)

// session is one tracked conversation plus its synchronization state. The
// entry mutex serializes turns and guards eviction: a session mid-turn is
// never removed out from under the orchestrator.
type session struct {
	mu      sync.Mutex
	state   *models.ConversationState
	history []models.FlowTransition
	inTurn  bool
}

// StateManager owns the authoritative per-session conversation state and
// transition history. It is the only component allowed to mutate a session's
// current flow and stage; everything else reads snapshots and requests
// mutations through it. The session map is guarded by a read-write mutex for
// cross-session concurrency; per-session mutation is serialized by the
// session's own lock.
type StateManager struct {
	mu       sync.RWMutex
	sessions map[string]*session
	cfg      Config
}

// NewStateManager creates a state manager with the given configuration.
func NewStateManager(opts ...Option) *StateManager {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("StateManager.NewStateManager: created", "sessionTTL", cfg.SessionTTL)
	return &StateManager{
		sessions: make(map[string]*session),
		cfg:      cfg,
	}
}

// Start allocates a fresh conversation state for a new call. The initial
// flow comes from the static call-type lookup table and the stage is always
// Initialization. Session ids are uuids, unique for the process lifetime.
func (m *StateManager) Start(callType string, customer *models.CustomerContext) (string, error) {
	sessionID := uuid.NewString()
	now := time.Now()

	st := &models.ConversationState{
		SessionID:     sessionID,
		CallType:      callType,
		CurrentFlow:   InitialFlowFor(callType),
		CurrentStage:  models.StageInitialization,
		Context:       make(map[models.ContextKey]interface{}),
		Engagement:    0.5,
		Momentum:      1.0,
		FlowEnteredAt: now,
		StartedAt:     now,
		LastUpdated:   now,
		FlowGen:       1,
	}
	if customer != nil {
		st.Context[models.ContextKeyCustomerProfile] = customer
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[sessionID]; exists {
		// uuid collisions do not happen in practice; treat as a fatal
		// precondition violation rather than silently overwrite.
		return "", fmt.Errorf("session id collision: %s", sessionID)
	}
	m.sessions[sessionID] = &session{state: st}

	slog.Info("StateManager.Start: session started",
		"sessionID", sessionID, "callType", callType, "initialFlow", st.CurrentFlow)
	return sessionID, nil
}

// lookup returns the session entry or ErrSessionNotFound.
func (m *StateManager) lookup(sessionID string) (*session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return s, nil
}

// Snapshot returns a deep copy of the session state.
func (m *StateManager) Snapshot(sessionID string) (*models.ConversationState, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone(), nil
}

// BeginTurn marks a session as mid-turn, serializing against concurrent
// turns and eviction. Returns ErrSessionBusy if a turn is already in flight:
// a phone call is inherently sequential, so a second concurrent turn for the
// same session is a caller bug.
func (m *StateManager) BeginTurn(sessionID string) error {
	s, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inTurn {
		return fmt.Errorf("%w: %s", ErrSessionBusy, sessionID)
	}
	s.inTurn = true
	return nil
}

// EndTurn clears the mid-turn marker.
func (m *StateManager) EndTurn(sessionID string) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.inTurn = false
	s.mu.Unlock()
}

// AdvanceStage moves the session to targetStage if the move is a legal edge
// in the stage graph. On success it timestamps the change and recomputes
// momentum; an illegal request leaves state completely untouched.
func (m *StateManager) AdvanceStage(sessionID string, targetStage models.FlowStage) error {
	s, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !StageAdjacent(s.state.CurrentStage, targetStage) {
		slog.Debug("StateManager.AdvanceStage: illegal stage edge",
			"sessionID", sessionID, "from", s.state.CurrentStage, "to", targetStage)
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStage, s.state.CurrentStage, targetStage)
	}

	s.state.CurrentStage = targetStage
	s.state.LastUpdated = time.Now()
	s.state.Momentum = computeMomentum(s.state)
	slog.Debug("StateManager.AdvanceStage: stage advanced",
		"sessionID", sessionID, "stage", targetStage, "momentum", s.state.Momentum)
	return nil
}

// SetFlow unconditionally overwrites the session's current flow and stage.
// Used only by the transition controller after a transition has been
// validated; it bumps the flow generation so engines re-initialize on entry.
func (m *StateManager) SetFlow(sessionID string, flow models.FlowType, stage models.FlowStage) error {
	s, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.state.CurrentFlow = flow
	s.state.CurrentStage = stage
	s.state.FlowEnteredAt = now
	s.state.LastUpdated = now
	s.state.Transitions++
	s.state.FlowGen++
	s.state.Momentum = computeMomentum(s.state)
	slog.Info("StateManager.SetFlow: flow set",
		"sessionID", sessionID, "flow", flow, "stage", stage, "flowGen", s.state.FlowGen)
	return nil
}

// RestoreFlow reinstates a previously held flow and stage after a failed
// entry into a freshly transitioned flow. The transition counter is rolled
// back with it; the flow generation still advances so the restored flow's
// engine re-initializes on the next turn.
func (m *StateManager) RestoreFlow(sessionID string, flow models.FlowType, stage models.FlowStage, enteredAt time.Time) error {
	s, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.CurrentFlow = flow
	s.state.CurrentStage = stage
	s.state.FlowEnteredAt = enteredAt
	s.state.LastUpdated = time.Now()
	if s.state.Transitions > 0 {
		s.state.Transitions--
	}
	s.state.FlowGen++
	s.state.Momentum = computeMomentum(s.state)
	slog.Info("StateManager.RestoreFlow: flow restored",
		"sessionID", sessionID, "flow", flow, "stage", stage, "flowGen", s.state.FlowGen)
	return nil
}

// MergeContext shallow-merges a patch into the session context map,
// last-writer-wins per key.
func (m *StateManager) MergeContext(sessionID string, patch map[models.ContextKey]interface{}) error {
	if len(patch) == 0 {
		return nil
	}
	s, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, v := range patch {
		s.state.Context[k] = v
	}
	s.state.LastUpdated = time.Now()
	slog.Debug("StateManager.MergeContext: context merged", "sessionID", sessionID, "keys", len(patch))
	return nil
}

// UpdateSignals folds per-turn engagement into the session via a bounded
// exponential moving average and recomputes momentum.
func (m *StateManager) UpdateSignals(sessionID string, engagement float64) error {
	s, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if engagement >= 0 {
		s.state.Engagement = clamp01(0.7*s.state.Engagement + 0.3*engagement)
		s.state.Context[models.ContextKeyEngagementLevel] = s.state.Engagement
	}
	s.state.LastUpdated = time.Now()
	s.state.Momentum = computeMomentum(s.state)
	return nil
}

// AppendTransition appends a transition record to the session's ordered
// history. Records are immutable after creation.
func (m *StateManager) AppendTransition(sessionID string, tr models.FlowTransition) error {
	s, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, tr)
	return nil
}

// TransitionHistory returns a copy of the session's transition history.
func (m *StateManager) TransitionHistory(sessionID string) ([]models.FlowTransition, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.FlowTransition, len(s.history))
	copy(out, s.history)
	return out, nil
}

// Remove evicts a session and returns its final state and history. Callers
// use this at finalization; subsequent operations on the id report not found.
func (m *StateManager) Remove(sessionID string) (*models.ConversationState, []models.FlowTransition, error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return nil, nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.history, nil
}

// Expire removes sessions whose last update exceeds the age bound, along
// with their transition history, to bound memory. Sessions currently
// mid-turn are skipped, never partially deleted. Safe to call concurrently
// with active turns. Returns the ids of the sessions removed so owners can
// release their per-session bookkeeping.
func (m *StateManager) Expire(maxAge time.Duration) []string {
	cutoff := time.Now().Add(-maxAge)

	m.mu.RLock()
	candidates := make([]string, 0)
	for id, s := range m.sessions {
		s.mu.Lock()
		stale := !s.inTurn && s.state.LastUpdated.Before(cutoff)
		s.mu.Unlock()
		if stale {
			candidates = append(candidates, id)
		}
	}
	m.mu.RUnlock()

	var removed []string
	for _, id := range candidates {
		m.mu.Lock()
		s, ok := m.sessions[id]
		if !ok {
			m.mu.Unlock()
			continue
		}
		s.mu.Lock()
		// Re-check under the session lock: a turn may have started since
		// the scan.
		if s.inTurn || !s.state.LastUpdated.Before(cutoff) {
			s.mu.Unlock()
			m.mu.Unlock()
			continue
		}
		delete(m.sessions, id)
		s.mu.Unlock()
		m.mu.Unlock()
		removed = append(removed, id)
		slog.Info("StateManager.Expire: session expired", "sessionID", id)
	}
	return removed
}

// ActiveSessions returns the number of sessions currently tracked.
func (m *StateManager) ActiveSessions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// computeMomentum is a decay function of elapsed call time and transition
// count: more transitions and more elapsed time both reduce momentum, with a
// floor of 0.1. Caller holds the session lock.
func computeMomentum(st *models.ConversationState) float64 {
	elapsed := time.Since(st.StartedAt).Minutes()
	momentum := 1.0 - 0.04*float64(st.Transitions) - 0.01*elapsed
	if momentum < 0.1 {
		return 0.1
	}
	if momentum > 1.0 {
		return 1.0
	}
	return momentum
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
