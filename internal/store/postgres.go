package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"

	"github.com/lokv010/voiceagent-sub000/internal/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS call_records (
	session_id   TEXT PRIMARY KEY,
	call_type    TEXT NOT NULL,
	final_flow   TEXT NOT NULL,
	finalized_at TIMESTAMPTZ NOT NULL,
	record       JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_call_records_finalized_at ON call_records(finalized_at);
`

// PostgresStore persists call records in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects to PostgreSQL at dsn and ensures the schema.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	if _, err := db.Exec(postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize postgres schema: %w", err)
	}
	slog.Info("store.NewPostgresStore: postgres store ready")
	return &PostgresStore{db: db}, nil
}

// SaveCallRecord upserts the record keyed by session id.
func (s *PostgresStore) SaveCallRecord(ctx context.Context, record models.CallRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal call record: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO call_records (session_id, call_type, final_flow, finalized_at, record)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (session_id) DO UPDATE SET record = EXCLUDED.record, finalized_at = EXCLUDED.finalized_at`,
		record.Outcomes.SessionID, record.Outcomes.CallType, string(record.Outcomes.FinalFlow),
		record.Outcomes.FinalizedAt, string(payload))
	if err != nil {
		return fmt.Errorf("failed to save call record: %w", err)
	}
	return nil
}

// GetCallRecord retrieves one record by session id; nil when absent.
func (s *PostgresStore) GetCallRecord(ctx context.Context, sessionID string) (*models.CallRecord, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM call_records WHERE session_id = $1`, sessionID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query call record: %w", err)
	}
	return unmarshalRecord(payload)
}

// ListCallRecords returns up to limit most recent records.
func (s *PostgresStore) ListCallRecords(ctx context.Context, limit int) ([]models.CallRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM call_records ORDER BY finalized_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list call records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Close closes the underlying database.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
