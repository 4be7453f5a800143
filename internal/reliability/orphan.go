package reliability

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/tasklane/internal/model"
)

// EventTaskOrphaned marks a task created in ClickUp that was not recorded
// locally.
const EventTaskOrphaned = "clickup_task_orphaned"

// AuditStore records audit events. Empty ClientID or EmployeeID columns are
// left out of the row.
type AuditStore interface {
	InsertAuditEvent(ctx context.Context, ev model.AuditEvent) error
}

// Orphan describes a task that exists upstream but failed to persist.
type Orphan struct {
	Task           *model.Task
	IdempotencyKey string
	ClientID       string
	EmployeeID     string
	Err            error
}

// EmitOrphanEvent records an orphan audit event. It never fails: store
// errors are logged and swallowed.
func EmitOrphanEvent(ctx context.Context, store AuditStore, logger *slog.Logger, o Orphan) {
	payload := map[string]any{
		"idempotency_key": o.IdempotencyKey,
	}
	if o.Err != nil {
		payload["error"] = o.Err.Error()
	}
	if o.Task != nil {
		payload["clickup_task_id"] = o.Task.ID
		payload["clickup_task_url"] = o.Task.URL
	}
	ev := model.AuditEvent{
		ID:         uuid.New(),
		EventType:  EventTaskOrphaned,
		ClientID:   o.ClientID,
		EmployeeID: o.EmployeeID,
		Payload:    payload,
		CreatedAt:  time.Now().UTC(),
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("reliability: orphan event panicked", "panic", r, "idempotency_key", o.IdempotencyKey)
		}
	}()
	if err := store.InsertAuditEvent(ctx, ev); err != nil {
		logger.Error("reliability: failed to record orphan event",
			"error", err,
			"idempotency_key", o.IdempotencyKey,
			"clickup_task_id", payload["clickup_task_id"],
		)
		return
	}
	logger.Warn("reliability: orphan task recorded", "idempotency_key", o.IdempotencyKey, "event_id", ev.ID)
}
