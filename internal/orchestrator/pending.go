package orchestrator

import (
	"context"
	"strconv"
	"strings"

	"github.com/ashita-ai/tasklane/internal/brands"
	"github.com/ashita-ai/tasklane/internal/classifier"
	"github.com/ashita-ai/tasklane/internal/model"
	"github.com/ashita-ai/tasklane/internal/session"
	"github.com/ashita-ai/tasklane/internal/skills"
)

// settlePending applies the message to the session's pending action. It
// returns true when the message was consumed; false lets the message run
// through normal planning (nothing pending, expired, or superseded).
func (o *Orchestrator) settlePending(ctx context.Context, t *turn, out *Outcome) bool {
	state := t.sess.Pending
	if state == nil || state.Kind() == session.KindNone {
		return false
	}
	next, res := session.Transition(state, interpret(state, t.text), o.now())
	t.sess.Pending = next
	o.logger.Debug("orchestrator: pending transition", "slack_user_id", t.actor.SlackUserID,
		"from", state.Kind(), "to", next.Kind(), "action", res.Action)

	switch res.Action {
	case session.ActionExpired:
		t.say(ctx, "That earlier request timed out, so I dropped it.")
		return false
	case session.ActionSuperseded:
		return false
	case session.ActionCancelled:
		t.say(ctx, "Okay, cancelled.")
		return true
	case session.ActionReprompt:
		o.prompt(ctx, t, next)
		return true
	case session.ActionProceed:
		out.Plan, out.Result = o.resume(ctx, t, res.Draft)
		return true
	}
	return false
}

// interpret reads a reply in light of what the pending action waits for.
func interpret(state session.Pending, text string) session.Event {
	if session.IsCancel(text) {
		return session.Cancelled{}
	}
	if _, ok := state.(session.AwaitingConfirmOrDetails); ok && session.IsConfirm(text) {
		return session.Confirmed{}
	}
	in := classifier.Classify(text)
	if in.Name == classifier.IntentConfirmDraftTask {
		return session.Confirmed{}
	}
	command := in.Name != classifier.IntentHelp || strings.EqualFold(strings.TrimSpace(text), "help")

	switch s := state.(type) {
	case session.AwaitingASINOrPending:
		if session.IsDefer(text) {
			return session.DeferredIdentifiers{}
		}
		if ids := classifier.ExtractProductIdentifiers(text); !ids.Empty() {
			return session.ProvidedIdentifiers{ASINs: ids.ASINs, SKUs: ids.SKUs}
		}
		if command {
			return session.Superseded{}
		}
		return session.ProvidedIdentifiers{}
	case session.AwaitingBrand:
		if id := pickCandidate(s.Candidates, text); id != "" {
			return session.ChoseBrand{BrandID: id}
		}
		if command {
			return session.Superseded{}
		}
		return session.ChoseBrand{}
	default:
		if command {
			return session.Superseded{}
		}
		return session.ProvidedDetails{Text: text}
	}
}

// pickCandidate accepts a 1-based number or a brand name.
func pickCandidate(candidates []model.Brand, text string) string {
	text = classifier.SanitizeHint(text)
	if n, err := strconv.Atoi(text); err == nil && n >= 1 && n <= len(candidates) {
		return candidates[n-1].ID
	}
	res := brands.Resolve(candidates, text, "")
	if (res.Mode == model.ModeExplicitBrand || res.Mode == model.ModeClarifiedBrand) && res.Destination != nil {
		return res.Destination.BrandID
	}
	return ""
}

// resume runs task creation for a draft released by a transition, under the
// policy gate like any other step.
func (o *Orchestrator) resume(ctx context.Context, t *turn, d session.Draft) (*model.ExecutionPlan, model.ExecutionResult) {
	t.resumed = &d
	plan := &model.ExecutionPlan{
		Intent: classifier.IntentCreateTask,
		Steps: []model.PlanStep{{
			SkillID: skills.TaskCreate,
			Args:    map[string]any{"task_title": d.Title},
			Reason:  "resume pending draft",
		}},
		Confidence: 1,
		ModelUsed:  "rules",
	}
	return plan, o.execute(ctx, t, plan)
}
