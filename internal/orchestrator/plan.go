package orchestrator

import (
	"context"

	"github.com/ashita-ai/tasklane/internal/classifier"
	"github.com/ashita-ai/tasklane/internal/contextpack"
	"github.com/ashita-ai/tasklane/internal/model"
	"github.com/ashita-ai/tasklane/internal/planner"
	"github.com/ashita-ai/tasklane/internal/skills"
)

// intentSkills maps classifier intents onto skills. Intents absent here
// (confirm_draft_task) have no skill of their own.
var intentSkills = map[string]string{
	classifier.IntentSwitchClient:       skills.SwitchClient,
	classifier.IntentSetDefaultClient:   skills.SetDefaultClient,
	classifier.IntentClearDefaults:      skills.ClearDefaults,
	classifier.IntentCreateTask:         skills.TaskCreate,
	classifier.IntentWeeklyTasks:        skills.TaskListWeekly,
	classifier.IntentClientLookup:       skills.ClientLookup,
	classifier.IntentBrandList:          skills.BrandList,
	classifier.IntentMappingAudit:       skills.MappingAudit,
	classifier.IntentRemediationPreview: skills.RemediationPreview,
	classifier.IntentRemediationApply:   skills.RemediationApply,
	classifier.IntentAssignmentUpsert:   skills.AssignmentUpsert,
	classifier.IntentAssignmentRemove:   skills.AssignmentRemove,
	classifier.IntentBrandCreate:        skills.BrandCreate,
	classifier.IntentBrandUpdate:        skills.BrandUpdate,
	classifier.IntentHelp:               skills.Help,
}

// argRenames translates classifier parameter names to skill argument names.
var argRenames = map[string]string{
	"client_name": "client_name_hint",
}

// PlanFromIntent builds the one-step plan for a classified intent. It returns
// nil for intents that map to no skill.
func PlanFromIntent(in model.Intent) *model.ExecutionPlan {
	skillID, ok := intentSkills[in.Name]
	if !ok {
		return nil
	}
	args := make(map[string]any, len(in.Params))
	for k, v := range in.Params {
		if renamed, ok := argRenames[k]; ok {
			k = renamed
		}
		args[k] = v
	}
	return &model.ExecutionPlan{
		Intent:     in.Name,
		Steps:      []model.PlanStep{{SkillID: skillID, Args: args}},
		Confidence: 1,
		ModelUsed:  "rules",
	}
}

// plan turns the turn's text into a plan according to the mode. A nil return
// means no plan could be produced.
func (o *Orchestrator) plan(ctx context.Context, t *turn) *model.ExecutionPlan {
	if o.cfg.Mode == ModeDeterministic {
		return o.classify(t)
	}

	p := o.deps.Planner.GeneratePlan(ctx, o.plannerInput(ctx, t))
	if o.cfg.Mode == ModePlannerStrict || (p != nil && len(p.Steps) > 0) {
		return p
	}
	o.logger.Info("orchestrator: planner produced no steps, using rule table", "slack_user_id", t.actor.SlackUserID)
	return o.classify(t)
}

func (o *Orchestrator) classify(t *turn) *model.ExecutionPlan {
	in := classifier.Classify(t.text)
	if in.Name == classifier.IntentConfirmDraftTask {
		// Pending actions are settled before planning; a bare confirmation
		// here has nothing to confirm.
		return &model.ExecutionPlan{Intent: in.Name, Steps: []model.PlanStep{}, Confidence: 1, ModelUsed: "rules"}
	}
	return PlanFromIntent(in)
}

// plannerInput assembles the bounded context the planner sees. Context
// failures degrade to less context, never to an error.
func (o *Orchestrator) plannerInput(ctx context.Context, t *turn) planner.Input {
	in := planner.Input{
		Text:           t.text,
		SessionContext: contextpack.NewBuffer(o.cfg.BufferMaxExchanges, o.cfg.BufferMaxTokens, t.sess.History).Render(),
	}
	clientID := t.sess.ActiveClientID
	if clientID != "" && o.deps.ClientPacks != nil {
		pack, err := o.deps.ClientPacks.Build(ctx, clientID, o.cfg.ContextTokenBudget)
		if err != nil {
			o.logger.Warn("orchestrator: client pack failed", "client_id", clientID, "error", err)
		} else {
			in.ClientPack = pack
		}
	}
	if o.deps.Knowledge != nil {
		r, err := o.deps.Knowledge.Retrieve(ctx, clientID, t.text, o.cfg.KBTokenBudget)
		if err != nil {
			o.logger.Warn("orchestrator: knowledge retrieval failed", "error", err)
		} else {
			in.KBSummary = r.Summary
		}
	}
	return in
}
