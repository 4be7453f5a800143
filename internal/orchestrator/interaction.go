package orchestrator

import (
	"context"
	"fmt"

	"github.com/ashita-ai/tasklane/internal/model"
	"github.com/ashita-ai/tasklane/internal/session"
)

// Interaction is a button click from a message the bot posted.
type Interaction struct {
	SlackUserID string
	Channel     string
	MessageTS   string
	ActionID    string
	Value       string
}

// HandleInteraction applies a button click. Only brand picks are handled;
// each message accepts one click per user.
func (o *Orchestrator) HandleInteraction(ctx context.Context, in Interaction) (Outcome, error) {
	if in.ActionID != BrandPickAction {
		o.logger.Info("orchestrator: ignoring unknown action", "action_id", in.ActionID)
		return Outcome{}, nil
	}
	first, err := o.deps.Store.MarkInteraction(ctx, in.SlackUserID, in.ActionID, in.MessageTS)
	if err != nil {
		return Outcome{}, fmt.Errorf("orchestrator: mark interaction: %w", err)
	}
	if !first {
		return Outcome{Duplicate: true}, nil
	}

	t, err := o.newTurn(ctx, in.SlackUserID, in.Channel, model.SurfaceIM, "")
	if err != nil {
		return Outcome{}, err
	}

	var out Outcome
	state := t.sess.Pending
	if _, ok := state.(session.AwaitingBrand); !ok {
		t.say(ctx, "That choice is no longer waiting on anything.")
		out.Replies = t.replies.texts
		return out, nil
	}

	next, res := session.Transition(state, session.ChoseBrand{BrandID: in.Value}, o.now())
	t.sess.Pending = next
	switch res.Action {
	case session.ActionExpired:
		t.say(ctx, "That earlier request timed out, so I dropped it.")
	case session.ActionProceed:
		if in.MessageTS != "" {
			if err := o.deps.Slack.UpdateMessage(ctx, in.Channel, in.MessageTS, "Brand: "+res.Draft.BrandName); err != nil {
				o.logger.Warn("orchestrator: update brand prompt failed", "error", err)
			}
		}
		out.Plan, out.Result = o.resume(ctx, t, res.Draft)
	default:
		o.prompt(ctx, t, next)
	}

	out.Replies = t.replies.texts
	if err := o.deps.Sessions.Save(ctx, t.sess); err != nil {
		return out, fmt.Errorf("orchestrator: %w", err)
	}
	return out, nil
}
