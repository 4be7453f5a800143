package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/tasklane/internal/model"
)

// InsertAuditEvent appends an audit event. Empty client and employee IDs are
// written as NULL.
func (db *DB) InsertAuditEvent(ctx context.Context, ev model.AuditEvent) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	payload := ev.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("storage: marshal audit payload: %w", err)
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO audit_events (id, event_type, client_id, employee_id, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.ID, ev.EventType, nullable(ev.ClientID), nullable(ev.EmployeeID), data, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("storage: insert audit event: %w", err)
	}
	return nil
}

// ListAuditEvents returns the most recent events of one type, newest first.
func (db *DB) ListAuditEvents(ctx context.Context, eventType string, limit int) ([]model.AuditEvent, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, event_type, client_id, employee_id, payload, created_at
		 FROM audit_events WHERE event_type = $1
		 ORDER BY created_at DESC LIMIT $2`, eventType, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: list audit events: %w", err)
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.AuditEvent, error) {
		var (
			ev               model.AuditEvent
			client, employee *string
			data             []byte
		)
		if err := row.Scan(&ev.ID, &ev.EventType, &client, &employee, &data, &ev.CreatedAt); err != nil {
			return model.AuditEvent{}, err
		}
		ev.ClientID, ev.EmployeeID = deref(client), deref(employee)
		if err := json.Unmarshal(data, &ev.Payload); err != nil {
			return model.AuditEvent{}, fmt.Errorf("unmarshal payload: %w", err)
		}
		return ev, nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list audit events: %w", err)
	}
	return events, nil
}
