package orchestration

import (
	"log/slog"
	"sync"
	"time"

	"github.com/lokv010/voiceagent-sub000/internal/models"
)

// EventBus is an append-only, session-scoped log of conversation events.
// Conversation history and learning inputs are both derived from it. Events
// are never mutated after append; a session's log is dropped only when the
// session is finalized and its record handed off for persistence.
//
// Logs are kept per session behind a read-write mutex on the index map, so
// independent sessions append concurrently without contending on a single
// global lock.
type EventBus struct {
	mu   sync.RWMutex
	logs map[string]*sessionLog
}

type sessionLog struct {
	mu     sync.Mutex
	events []models.Event
}

// NewEventBus creates an empty event bus.
func NewEventBus() *EventBus {
	return &EventBus{logs: make(map[string]*sessionLog)}
}

// Append records an event on the owning session's log. The timestamp is set
// here if the caller left it zero.
func (b *EventBus) Append(event models.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	log, ok := b.logs[event.SessionID]
	b.mu.RUnlock()
	if !ok {
		b.mu.Lock()
		log, ok = b.logs[event.SessionID]
		if !ok {
			log = &sessionLog{}
			b.logs[event.SessionID] = log
		}
		b.mu.Unlock()
	}

	log.mu.Lock()
	log.events = append(log.events, event)
	log.mu.Unlock()
}

// History returns a copy of the session's full event log in append order.
func (b *EventBus) History(sessionID string) []models.Event {
	b.mu.RLock()
	log, ok := b.logs[sessionID]
	b.mu.RUnlock()
	if !ok {
		return nil
	}

	log.mu.Lock()
	defer log.mu.Unlock()
	out := make([]models.Event, len(log.events))
	copy(out, log.events)
	return out
}

// Recent returns up to limit trailing events for the session.
func (b *EventBus) Recent(sessionID string, limit int) []models.Event {
	events := b.History(sessionID)
	if limit <= 0 || len(events) <= limit {
		return events
	}
	return events[len(events)-limit:]
}

// Transcript reconstructs the spoken exchange from the event log as ordered
// (speaker, text) pairs. Used to feed classification history.
func (b *EventBus) Transcript(sessionID string, limit int) []models.Event {
	events := b.History(sessionID)
	turns := make([]models.Event, 0, len(events))
	for _, ev := range events {
		if ev.Type == models.EventCustomerInput || ev.Type == models.EventAgentResponse {
			turns = append(turns, ev)
		}
	}
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return turns
}

// Drop removes a session's log and returns it. Called once at finalization
// after the record has been handed to the persistence collaborator.
func (b *EventBus) Drop(sessionID string) []models.Event {
	b.mu.Lock()
	log, ok := b.logs[sessionID]
	delete(b.logs, sessionID)
	b.mu.Unlock()
	if !ok {
		return nil
	}

	log.mu.Lock()
	defer log.mu.Unlock()
	slog.Debug("EventBus.Drop: session log dropped", "sessionID", sessionID, "events", len(log.events))
	return log.events
}
