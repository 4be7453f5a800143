package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ashita-ai/tasklane/internal/brands"
	"github.com/ashita-ai/tasklane/internal/classifier"
	"github.com/ashita-ai/tasklane/internal/clickup"
	"github.com/ashita-ai/tasklane/internal/executor"
	"github.com/ashita-ai/tasklane/internal/model"
	"github.com/ashita-ai/tasklane/internal/reliability"
	"github.com/ashita-ai/tasklane/internal/session"
	"github.com/ashita-ai/tasklane/internal/slack"
)

// BrandPickAction is the Slack action_id of the brand picker buttons.
const BrandPickAction = "brand_pick"

// AgentTask statuses.
const statusCreated = "created"

func (o *Orchestrator) handleTaskCreate(t *turn) executor.Handler {
	return func(ctx context.Context, call executor.Call) error {
		var (
			d       session.Draft
			hint    string
			pending string
		)
		if t.resumed != nil {
			d, t.resumed = *t.resumed, nil
			pending = d.ClientID
		} else {
			d = session.Draft{
				Title:       strings.TrimSpace(call.Arg("task_title")),
				Description: strings.TrimSpace(call.Arg("description")),
				BrandHint:   classifier.SanitizeHint(call.Arg("brand_hint")),
				CreatedAt:   o.now().UTC(),
			}
			ids := classifier.ExtractProductIdentifiers(d.Title + " " + d.Description)
			d.ASINs, d.SKUs = ids.ASINs, ids.SKUs
			hint = classifier.SanitizeHint(call.Arg("client_name_hint"))
		}

		client, ok, err := o.resolveClient(ctx, t, hint, pending)
		if err != nil || !ok {
			return err
		}
		d.ClientID, d.ClientName = client.ID, client.Name
		if pending == "" && call.Step.RequiresConfirmation && d.Title != "" {
			o.park(ctx, t, session.AwaitingConfirmOrDetails{Draft: d, Prompt: session.PromptConfirm})
			return nil
		}
		return o.createTask(ctx, t, d)
	}
}

// createTask walks a draft through title, destination, identifier and
// duplicate checks, parking it in a pending action whenever the user must
// answer first, and files it in ClickUp once nothing is missing.
func (o *Orchestrator) createTask(ctx context.Context, t *turn, d session.Draft) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = o.now().UTC()
	}
	if d.Title == "" {
		o.park(ctx, t, session.AwaitingConfirmOrDetails{Draft: d, Prompt: session.PromptMissingTitle})
		return nil
	}

	if d.SpaceID == "" && d.ListID == "" {
		all, err := o.deps.Store.ListBrands(ctx, d.ClientID)
		if err != nil {
			t.say(ctx, "Sorry, I couldn't load the brands for "+d.ClientName+".")
			return fmt.Errorf("list brands: %w", err)
		}
		res := brands.Resolve(all, d.BrandHint, d.Title+" "+d.Description)
		switch {
		case res.Mode == model.ModeNoDestination:
			t.say(ctx, fmt.Sprintf("%s has no ClickUp destination mapped yet, so I can't file tasks for it. An admin can fix this with `preview remediation for %s`.", d.ClientName, d.ClientName))
			return nil
		case res.Mode.Ambiguous():
			o.park(ctx, t, session.AwaitingBrand{Draft: d, Candidates: res.Candidates})
			return nil
		}
		d.SpaceID, d.ListID = res.Destination.SpaceID, res.Destination.ListID
		if res.BrandContext != nil {
			d.BrandID, d.BrandName = res.BrandContext.ID, res.BrandContext.Name
		}
	}
	if d.ListID == "" {
		listID, err := o.spaceList(ctx, d.SpaceID, d.BrandName)
		if err != nil {
			o.logger.Warn("orchestrator: list lookup failed", "space_id", d.SpaceID, "error", err)
		}
		if listID == "" {
			t.say(ctx, fmt.Sprintf("%s maps to a ClickUp space with no single list to file into, so I can't file the task. Ask an admin to set a list.", destinationName(d)))
			return nil
		}
		d.ListID = listID
		if d.BrandID != "" {
			if err := o.deps.Store.UpdateBrandDestination(ctx, d.ClientID, d.BrandID, d.SpaceID, listID); err != nil {
				o.logger.Warn("orchestrator: could not record resolved list", "brand_id", d.BrandID, "list_id", listID, "error", err)
			}
		}
	}

	if brands.IsProductScoped(d.Title+" "+d.Description) && !d.HasIdentifiers() {
		o.park(ctx, t, session.AwaitingASINOrPending{Draft: d})
		return nil
	}

	now := o.now()
	entity := d.BrandID
	if entity == "" {
		entity = d.ClientID
	}
	key := reliability.BuildIdempotencyKey(entity, d.Title, now)
	if !d.AllowDuplicate {
		match, err := reliability.CheckDuplicate(ctx, o.deps.Store, key, o.cfg.DuplicateWindow, now)
		if err != nil {
			o.logger.Warn("orchestrator: duplicate check failed, continuing", "idempotency_key", key, "error", err)
		}
		if match != nil {
			o.logger.Info("orchestrator: duplicate task suppressed", "idempotency_key", key, "agent_task_id", match.AgentTaskID)
			t.sess.Pending = session.Park(session.AwaitingConfirmOrDetails{Draft: d, Prompt: session.PromptDuplicate}, o.now())
			t.say(ctx, duplicatePrompt(d, match))
			return nil
		}
	}

	task, err := reliability.RetryWithBackoff(ctx, func(ctx context.Context) (model.Task, error) {
		return o.deps.Tasks.CreateTask(ctx, d.ListID, clickup.NewTask{
			Name:        d.Title,
			Description: taskDescription(d, t.actor.SlackUserID),
			Tags:        taskTags(d),
		})
	}, reliability.RetryOptions{
		MaxAttempts: o.cfg.RetryMaxAttempts,
		BaseBackoff: o.cfg.RetryBaseBackoff,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			o.logger.Warn("orchestrator: retrying task creation", "attempt", attempt,
				"delay_ms", delay.Milliseconds(), "idempotency_key", key, "error", err)
		},
	})
	if err != nil {
		t.say(ctx, createFailureMessage(err))
		return fmt.Errorf("create task: %w", err)
	}

	_, err = o.deps.Store.InsertAgentTask(ctx, model.AgentTask{
		ClientID:       d.ClientID,
		BrandID:        d.BrandID,
		EmployeeID:     t.actor.ProfileID,
		Title:          d.Title,
		ClickUpTaskID:  task.ID,
		ClickUpTaskURL: task.URL,
		IdempotencyKey: key,
		Status:         statusCreated,
		CreatedAt:      now.UTC(),
	})
	if err != nil {
		o.logger.Error("orchestrator: task created but not recorded", "clickup_task_id", task.ID, "idempotency_key", key, "error", err)
		reliability.EmitOrphanEvent(ctx, o.deps.Store, o.logger, reliability.Orphan{
			Task:           &task,
			IdempotencyKey: key,
			ClientID:       d.ClientID,
			EmployeeID:     t.actor.ProfileID,
			Err:            err,
		})
	}

	t.sess.ActiveClientID, t.sess.ActiveClientName = d.ClientID, d.ClientName
	msg := fmt.Sprintf("Created *%s* in %s: %s", d.Title, destinationName(d), task.URL)
	if d.IdentifiersPending {
		msg += "\nProduct identifiers are marked pending; add them to the task when you have them."
	}
	t.say(ctx, msg)
	return nil
}

// spaceList picks the list a space-only destination files into: the space's
// only list, or else the list named after the brand. It returns "" when
// neither exists.
func (o *Orchestrator) spaceList(ctx context.Context, spaceID, brandName string) (string, error) {
	if spaceID == "" {
		return "", nil
	}
	lists, err := o.deps.Tasks.ListLists(ctx, spaceID)
	if err != nil {
		return "", fmt.Errorf("list lists: %w", err)
	}
	if len(lists) == 1 {
		return lists[0].ID, nil
	}
	for _, l := range lists {
		if brandName != "" && strings.EqualFold(strings.TrimSpace(l.Name), brandName) {
			return l.ID, nil
		}
	}
	return "", nil
}

// park stores a pending action and asks the matching question.
func (o *Orchestrator) park(ctx context.Context, t *turn, p session.Pending) {
	t.sess.Pending = session.Park(p, o.now())
	o.prompt(ctx, t, p)
}

// prompt asks the question a pending action is waiting on.
func (o *Orchestrator) prompt(ctx context.Context, t *turn, p session.Pending) {
	switch s := p.(type) {
	case session.AwaitingConfirmOrDetails:
		switch s.Prompt {
		case session.PromptMissingTitle:
			t.say(ctx, fmt.Sprintf("What should the task for %s be called?", s.Draft.ClientName))
		case session.PromptDuplicate:
			t.say(ctx, fmt.Sprintf("*%s* was already created today. Reply `create anyway` to make another, or `cancel`.", s.Draft.Title))
		default:
			t.say(ctx, fmt.Sprintf("Ready to create *%s* for %s. Reply `yes` to create it, add more details, or say `cancel`.", s.Draft.Title, s.Draft.ClientName))
		}
	case session.AwaitingASINOrPending:
		t.say(ctx, fmt.Sprintf("*%s* looks product-specific. Reply with the ASIN or SKU, or say `pending` to create it without one.", s.Draft.Title))
	case session.AwaitingBrand:
		lines := []string{fmt.Sprintf("Which %s brand is *%s* for?", s.Draft.ClientName, s.Draft.Title)}
		buttons := make([]slack.Button, 0, len(s.Candidates))
		for i, b := range s.Candidates {
			lines = append(lines, fmt.Sprintf("%d. %s", i+1, b.Name))
			buttons = append(buttons, slack.Button{Text: b.Name, ActionID: BrandPickAction, Value: b.ID})
		}
		t.say(ctx, strings.Join(lines, "\n"), buttons...)
	}
}

func duplicatePrompt(d session.Draft, m *reliability.DuplicateMatch) string {
	where := ""
	if m.ClickUpURL != "" {
		where = " (" + m.ClickUpURL + ")"
	}
	return fmt.Sprintf("*%s* was already created for %s today%s. Reply `create anyway` to make another, or `cancel`.",
		d.Title, destinationName(d), where)
}

func destinationName(d session.Draft) string {
	if d.BrandName != "" {
		return d.BrandName
	}
	return d.ClientName
}

func taskDescription(d session.Draft, slackUserID string) string {
	var parts []string
	if d.Description != "" {
		parts = append(parts, d.Description)
	}
	switch {
	case len(d.ASINs) > 0 || len(d.SKUs) > 0:
		var ids []string
		if len(d.ASINs) > 0 {
			ids = append(ids, "ASINs: "+strings.Join(d.ASINs, ", "))
		}
		if len(d.SKUs) > 0 {
			ids = append(ids, "SKUs: "+strings.Join(d.SKUs, ", "))
		}
		parts = append(parts, strings.Join(ids, "\n"))
	case d.IdentifiersPending:
		parts = append(parts, "Product identifiers: pending")
	}
	parts = append(parts, "Requested in Slack by <@"+slackUserID+">")
	return strings.Join(parts, "\n\n")
}

func taskTags(d session.Draft) []string {
	if d.IdentifiersPending {
		return []string{"asin-pending"}
	}
	return nil
}

func createFailureMessage(err error) string {
	var exhausted *reliability.RetryExhaustedError
	switch {
	case errors.Is(err, clickup.ErrConfiguration):
		return "ClickUp isn't configured yet, so I couldn't create the task."
	case errors.Is(err, clickup.ErrAuth):
		return "ClickUp rejected my credentials, so I couldn't create the task."
	case errors.Is(err, clickup.ErrValidation):
		return "ClickUp rejected the task as invalid."
	case errors.As(err, &exhausted):
		return fmt.Sprintf("Sorry, ClickUp is having trouble right now (tried %d times). Please try again shortly.", exhausted.Attempts)
	default:
		return "Sorry, I couldn't create the task in ClickUp."
	}
}
