package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"

	"github.com/lokv010/voiceagent-sub000/internal/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS call_records (
	session_id   TEXT PRIMARY KEY,
	call_type    TEXT NOT NULL,
	final_flow   TEXT NOT NULL,
	finalized_at TIMESTAMP NOT NULL,
	record       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_call_records_finalized_at ON call_records(finalized_at);
`

// SQLiteStore persists call records in a SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the SQLite database at dsn.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize sqlite schema: %w", err)
	}
	slog.Info("store.NewSQLiteStore: sqlite store ready", "dsn", dsn)
	return &SQLiteStore{db: db}, nil
}

// SaveCallRecord upserts the record keyed by session id.
func (s *SQLiteStore) SaveCallRecord(ctx context.Context, record models.CallRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal call record: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO call_records (session_id, call_type, final_flow, finalized_at, record)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET record = excluded.record, finalized_at = excluded.finalized_at`,
		record.Outcomes.SessionID, record.Outcomes.CallType, string(record.Outcomes.FinalFlow),
		record.Outcomes.FinalizedAt, string(payload))
	if err != nil {
		return fmt.Errorf("failed to save call record: %w", err)
	}
	return nil
}

// GetCallRecord retrieves one record by session id; nil when absent.
func (s *SQLiteStore) GetCallRecord(ctx context.Context, sessionID string) (*models.CallRecord, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM call_records WHERE session_id = ?`, sessionID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query call record: %w", err)
	}
	return unmarshalRecord(payload)
}

// ListCallRecords returns up to limit most recent records.
func (s *SQLiteStore) ListCallRecords(ctx context.Context, limit int) ([]models.CallRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM call_records ORDER BY finalized_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list call records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
