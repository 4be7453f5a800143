package orchestrator

import (
	"context"

	"github.com/ashita-ai/tasklane/internal/ctxutil"
	"github.com/ashita-ai/tasklane/internal/model"
)

// Audit event types written by admin skills.
const (
	EventBrandCreated      = "brand_created"
	EventBrandRenamed      = "brand_renamed"
	EventBrandRemapped     = "brand_remapped"
	EventAssignmentChanged = "assignment_changed"
)

// audit records an admin change. Failures are logged; the change itself has
// already happened.
func (o *Orchestrator) audit(ctx context.Context, t *turn, eventType, clientID string, payload map[string]any) {
	payload["slack_user_id"] = t.actor.SlackUserID
	if reqID := ctxutil.RequestIDFromContext(ctx); reqID != "" {
		payload["request_id"] = reqID
	}
	ev := model.AuditEvent{
		EventType:  eventType,
		ClientID:   clientID,
		EmployeeID: t.actor.ProfileID,
		Payload:    payload,
		CreatedAt:  o.now().UTC(),
	}
	if err := o.deps.Store.InsertAuditEvent(ctx, ev); err != nil {
		o.logger.Error("orchestrator: audit write failed", "event_type", eventType, "error", err)
	}
}
