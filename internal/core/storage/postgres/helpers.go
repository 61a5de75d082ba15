package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"

	v1 "github.com/trailguard-lab/project-trailguard/internal/api/v1"
)

// marshalEventJSON marshals an event's payload and metadata fields to JSON.
// Nil maps produce nil (SQL NULL) rather than the JSON "null" string, so the
// null-vs-absent distinction survives the storage round trip and the
// recomputed digest matches the one computed at write time.
func marshalEventJSON(event *v1.ChainEvent) (payloadJSON, metadataJSON []byte, err error) {
	if event.Payload != nil {
		payloadJSON, err = json.Marshal(event.Payload)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	if event.Metadata != nil {
		metadataJSON, err = json.Marshal(event.Metadata)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	return payloadJSON, metadataJSON, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// scanEventRow scans a database row into a ChainEvent.
// Compatible with both sql.Row (single) and sql.Rows (multiple).
func scanEventRow(row scanner) (*v1.ChainEvent, error) {
	var evt v1.ChainEvent
	var payloadJSON, metadataJSON []byte
	var prevHash sql.NullString

	err := row.Scan(
		&evt.ID,
		&evt.TenantID,
		&evt.SessionID,
		&evt.AgentID,
		&evt.EventType,
		&evt.Severity,
		&evt.Timestamp,
		&payloadJSON,
		&metadataJSON,
		&prevHash,
		&evt.Hash,
		&evt.ChainSeq,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan event row: %w", err)
	}

	if prevHash.Valid {
		evt.PrevHash = &prevHash.String
	}

	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &evt.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
	}

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &evt.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return &evt, nil
}
