// Package planner asks the LLM for a bounded plan of skill invocations and
// validates it before anything executes.
//
// The LLM boundary is treated as untrusted input: content is parsed loosely
// with gjson, then checked by Validate. Every failure (transport, parse,
// schema) becomes a nil plan; nothing is returned as an error.
package planner

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/tasklane/internal/llm"
	"github.com/ashita-ai/tasklane/internal/model"
	"github.com/ashita-ai/tasklane/internal/skills"
	"github.com/ashita-ai/tasklane/internal/telemetry"
)

// IntentUnknown is the only intent allowed to carry no steps.
const IntentUnknown = "unknown"

// Rejection reasons returned in Validation.Reason.
const (
	ReasonLLMError        = "llm_error"
	ReasonNotJSON         = "not_json"
	ReasonMissingIntent   = "missing_intent"
	ReasonBadConfidence   = "bad_confidence"
	ReasonStepsNotList    = "steps_not_list"
	ReasonTooManySteps    = "too_many_steps"
	ReasonBadStep         = "bad_step"
	ReasonUnknownSkill    = "unknown_skill"
	ReasonMissingArgs     = "missing_required_args"
	ReasonEmptyPlan       = "empty_plan"
	ReasonBadUnknownShape = "bad_unknown_shape"
)

// Input is everything the planner sends to the LLM.
type Input struct {
	Text           string
	SessionContext string
	ClientPack     string
	KBSummary      string
}

// Validation is Ok(Plan) when Plan is non-nil, Rejected(Reason) otherwise.
type Validation struct {
	Plan   *model.ExecutionPlan
	Reason string
	Detail string
}

// OK reports whether the plan was accepted.
func (v Validation) OK() bool { return v.Plan != nil }

// Planner generates validated execution plans.
type Planner struct {
	llm      llm.Client
	registry *skills.Registry
	logger   *slog.Logger

	plans metric.Int64Counter
}

// New creates a Planner. A nil registry uses skills.Default().
func New(client llm.Client, reg *skills.Registry, logger *slog.Logger) *Planner {
	if reg == nil {
		reg = skills.Default()
	}
	meter := telemetry.Meter("tasklane/planner")
	plans, _ := meter.Int64Counter("tasklane.planner.plans",
		metric.WithDescription("Plans generated, by outcome"),
	)
	return &Planner{llm: client, registry: reg, logger: logger, plans: plans}
}

// GeneratePlan returns a validated plan, or nil when the LLM call fails or
// its output is rejected.
func (p *Planner) GeneratePlan(ctx context.Context, in Input) *model.ExecutionPlan {
	ctx, span := telemetry.Tracer("tasklane/planner").Start(ctx, "planner.generate")
	defer span.End()

	v := p.generate(ctx, in)
	outcome := "accepted"
	if !v.OK() {
		outcome = v.Reason
		span.SetStatus(codes.Error, v.Reason)
		p.logger.Warn("planner: plan rejected", "reason", v.Reason, "detail", v.Detail)
	} else {
		span.SetAttributes(
			attribute.String("tasklane.plan.intent", v.Plan.Intent),
			attribute.Int("tasklane.plan.steps", len(v.Plan.Steps)),
			attribute.Int("tasklane.plan.tokens_total", v.Plan.TokensTotal),
		)
	}
	p.plans.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	return v.Plan
}

func (p *Planner) generate(ctx context.Context, in Input) Validation {
	completion, err := p.llm.Complete(ctx, p.systemPrompt(), renderInput(in))
	if err != nil {
		return Validation{Reason: ReasonLLMError, Detail: err.Error()}
	}
	return Validate(p.registry, completion.Content, completion)
}

func (p *Planner) systemPrompt() string {
	return fmt.Sprintf(`You plan actions for a Slack assistant that manages ClickUp tasks.
Reply with a single JSON object and nothing else:
{"intent": string, "steps": [{"skill_id": string, "args": object, "requires_confirmation": bool, "reason": string}], "confidence": number}

Rules:
- Use at most %d steps.
- Only use these skills, and always supply their required_args:
%s- If the request does not fit any skill, reply {"intent": "unknown", "steps": [], "confidence": 0}.`,
		model.MaxPlanSteps, p.registry.Catalogue())
}

func renderInput(in Input) string {
	var b strings.Builder
	section := func(title, body string) {
		if strings.TrimSpace(body) == "" {
			return
		}
		fmt.Fprintf(&b, "## %s\n%s\n\n", title, strings.TrimSpace(body))
	}
	section("Conversation", in.SessionContext)
	section("Client context", in.ClientPack)
	section("Knowledge base", in.KBSummary)
	section("Request", in.Text)
	return strings.TrimRight(b.String(), "\n")
}

// Validate parses raw LLM content and checks it against reg. Token counts and
// model name are copied from completion onto an accepted plan unchanged.
func Validate(reg *skills.Registry, raw string, completion llm.Completion) Validation {
	if reg == nil {
		reg = skills.Default()
	}
	body := stripFences(raw)
	if !gjson.Valid(body) {
		return reject(ReasonNotJSON, "content is not valid JSON")
	}
	root := gjson.Parse(body)
	if !root.IsObject() {
		return reject(ReasonNotJSON, "content is not a JSON object")
	}

	intent := root.Get("intent")
	if intent.Type != gjson.String || strings.TrimSpace(intent.Str) == "" {
		return reject(ReasonMissingIntent, "intent must be a non-empty string")
	}

	conf := root.Get("confidence")
	if conf.Type != gjson.Number || math.IsNaN(conf.Num) || conf.Num < 0 || conf.Num > 1 {
		return reject(ReasonBadConfidence, "confidence must be a number in [0,1]")
	}

	stepsRaw := root.Get("steps")
	if !stepsRaw.IsArray() {
		return reject(ReasonStepsNotList, "steps must be a list")
	}
	items := stepsRaw.Array()
	if len(items) > model.MaxPlanSteps {
		return reject(ReasonTooManySteps, fmt.Sprintf("%d steps exceeds the cap of %d", len(items), model.MaxPlanSteps))
	}

	steps := make([]model.PlanStep, 0, len(items))
	for i, item := range items {
		if !item.IsObject() {
			return reject(ReasonBadStep, fmt.Sprintf("step %d is not an object", i))
		}
		skillID := item.Get("skill_id").String()
		skill, ok := reg.Lookup(skillID)
		if !ok {
			return reject(ReasonUnknownSkill, fmt.Sprintf("step %d: skill_id %q is not allowed", i, skillID))
		}
		args := map[string]any{}
		if a := item.Get("args"); a.Exists() {
			if !a.IsObject() {
				return reject(ReasonBadStep, fmt.Sprintf("step %d: args must be an object", i))
			}
			if m, ok := a.Value().(map[string]any); ok {
				args = m
			}
		}
		if missing := skill.MissingArgs(args); len(missing) > 0 {
			return reject(ReasonMissingArgs, fmt.Sprintf("step %d (%s): missing %s", i, skillID, strings.Join(missing, ", ")))
		}
		steps = append(steps, model.PlanStep{
			SkillID:              skillID,
			Args:                 args,
			RequiresConfirmation: item.Get("requires_confirmation").Bool(),
			Reason:               item.Get("reason").String(),
		})
	}

	if intent.Str == IntentUnknown {
		if len(steps) != 0 || conf.Num != 0 {
			return reject(ReasonBadUnknownShape, "unknown intent requires empty steps and confidence 0")
		}
	} else if len(steps) == 0 {
		return reject(ReasonEmptyPlan, fmt.Sprintf("intent %q has no steps", intent.Str))
	}

	return Validation{Plan: &model.ExecutionPlan{
		Intent:      intent.Str,
		Steps:       steps,
		Confidence:  conf.Num,
		TokensIn:    completion.TokensIn,
		TokensOut:   completion.TokensOut,
		TokensTotal: completion.TokensTotal,
		ModelUsed:   completion.Model,
	}}
}

func reject(reason, detail string) Validation {
	return Validation{Reason: reason, Detail: detail}
}

// stripFences removes a surrounding markdown code fence, if any.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
