// Package store provides storage backends for finished call records. It is
// the inbound edge of the persistence collaborator: the orchestration core
// hands a CallRecord over at finalization and never touches a datastore
// itself. SQLite and PostgreSQL backends are provided alongside an
// in-memory store for tests and ephemeral deployments.
package store

import (
	"context"
	"strings"
	"sync"

	"github.com/lokv010/voiceagent-sub000/internal/models"
)

// CallRecordStore persists finished call records.
type CallRecordStore interface {
	// SaveCallRecord persists one finished call: outcomes plus the full
	// transition and event history.
	SaveCallRecord(ctx context.Context, record models.CallRecord) error

	// GetCallRecord retrieves a record by session id; nil when absent.
	GetCallRecord(ctx context.Context, sessionID string) (*models.CallRecord, error)

	// ListCallRecords returns up to limit most recent records.
	ListCallRecords(ctx context.Context, limit int) ([]models.CallRecord, error)

	// Close releases the backend.
	Close() error
}

// Opts holds store configuration options.
type Opts struct {
	SQLiteDSN   string
	PostgresDSN string
}

// Option defines a configuration option for store construction.
type Option func(*Opts)

// WithSQLiteDSN configures a SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.SQLiteDSN = dsn }
}

// WithPostgresDSN configures a PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.PostgresDSN = dsn }
}

// DetectDSNType reports "postgres" for PostgreSQL-looking DSNs and "sqlite"
// otherwise (file paths).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// New builds the store matching the configured options: Postgres when a
// Postgres DSN is set, SQLite for a file DSN, in-memory otherwise.
func New(opts ...Option) (CallRecordStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	switch {
	case cfg.PostgresDSN != "":
		return NewPostgresStore(cfg.PostgresDSN)
	case cfg.SQLiteDSN != "":
		return NewSQLiteStore(cfg.SQLiteDSN)
	default:
		return NewInMemoryStore(), nil
	}
}

// InMemoryStore keeps call records in memory. Used in tests and when no DSN
// is configured.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]models.CallRecord
	order   []string
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]models.CallRecord)}
}

// SaveCallRecord stores the record, replacing any prior save for the id.
func (s *InMemoryStore) SaveCallRecord(ctx context.Context, record models.CallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := record.Outcomes.SessionID
	if _, exists := s.records[id]; !exists {
		s.order = append(s.order, id)
	}
	s.records[id] = record
	return nil
}

// GetCallRecord retrieves a record by session id.
func (s *InMemoryStore) GetCallRecord(ctx context.Context, sessionID string) (*models.CallRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[sessionID]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

// ListCallRecords returns up to limit most recent records, newest first.
func (s *InMemoryStore) ListCallRecords(ctx context.Context, limit int) ([]models.CallRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.CallRecord, 0, limit)
	for i := len(s.order) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, s.records[s.order[i]])
	}
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }
