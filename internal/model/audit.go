package model

import (
	"time"

	"github.com/google/uuid"
)

// AuditEvent is an append-only record of something worth reviewing later
// (orphaned tasks, identity conflicts, mapping changes). Empty ClientID and
// EmployeeID are stored as absent, not as empty strings.
type AuditEvent struct {
	ID         uuid.UUID      `json:"id"`
	EventType  string         `json:"event_type"`
	ClientID   string         `json:"client_id,omitempty"`
	EmployeeID string         `json:"employee_id,omitempty"`
	Payload    map[string]any `json:"payload"`
	CreatedAt  time.Time      `json:"created_at"`
}
