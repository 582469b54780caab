package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lokv010/voiceagent-sub000/internal/models"
)

// unmarshalRecord decodes one stored record payload.
func unmarshalRecord(payload string) (*models.CallRecord, error) {
	var record models.CallRecord
	if err := json.Unmarshal([]byte(payload), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal call record: %w", err)
	}
	return &record, nil
}

// scanRecords decodes all record payloads from a result set.
func scanRecords(rows *sql.Rows) ([]models.CallRecord, error) {
	var records []models.CallRecord
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan call record row: %w", err)
		}
		record, err := unmarshalRecord(payload)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}
