// Package executor runs a validated plan step by step under the policy gate.
//
// A handler error is recorded and execution continues. A policy denial
// notifies the user once, marks every remaining step skipped and aborts.
// A policy check that itself fails is recorded as a step error and
// execution continues without running that step's handler.
package executor

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/tasklane/internal/model"
	"github.com/ashita-ai/tasklane/internal/policy"
	"github.com/ashita-ai/tasklane/internal/session"
	"github.com/ashita-ai/tasklane/internal/slack"
	"github.com/ashita-ai/tasklane/internal/telemetry"
)

// Request is the fixed context every handler receives.
type Request struct {
	SlackUserID string
	Channel     string
	Session     *session.Session
	Sessions    *session.Service
	Slack       slack.Poster
}

// Call is one handler invocation: the request plus the step's arguments.
type Call struct {
	Request
	Step model.PlanStep
}

// Arg returns a string argument, or "".
func (c Call) Arg(name string) string {
	switch v := c.Step.Args[name].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// IntArg returns an integer argument, or def. JSON numbers arrive as float64.
func (c Call) IntArg(name string, def int) int {
	switch v := c.Step.Args[name].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return def
	}
}

// Handler runs one skill.
type Handler func(ctx context.Context, call Call) error

// PolicyCheck evaluates whether a skill may run.
type PolicyCheck func(ctx context.Context, skillID string) (policy.Decision, error)

const defaultDenialMessage = "Sorry, I'm not allowed to do that for you."

// Executor runs plans.
type Executor struct {
	logger *slog.Logger
	steps  metric.Int64Counter
}

// New creates an Executor.
func New(logger *slog.Logger) *Executor {
	steps, _ := telemetry.Meter("tasklane/executor").Int64Counter("tasklane.executor.steps",
		metric.WithDescription("Plan steps by terminal status"),
	)
	return &Executor{logger: logger, steps: steps}
}

// Execute runs plan sequentially. A nil or empty plan yields zero counters
// and aborted=false.
func (e *Executor) Execute(ctx context.Context, plan *model.ExecutionPlan, req Request, check PolicyCheck, handlers map[string]Handler) model.ExecutionResult {
	result := model.ExecutionResult{StepResults: []model.StepResult{}}
	if plan == nil {
		return result
	}
	result.PlanIntent = plan.Intent

	ctx, span := telemetry.Tracer("tasklane/executor").Start(ctx, "executor.execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("tasklane.plan.intent", plan.Intent),
		attribute.Int("tasklane.plan.steps", len(plan.Steps)),
	)

	record := func(r model.StepResult) {
		result.StepResults = append(result.StepResults, r)
		if r.Status != model.StepSkipped {
			result.StepsAttempted++
		}
		if r.Status == model.StepSuccess {
			result.StepsSucceeded++
		}
		e.steps.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(r.Status))))
	}

	for i, step := range plan.Steps {
		decision, err := check(ctx, step.SkillID)
		if err != nil {
			e.logger.Warn("executor: policy check failed", "skill_id", step.SkillID, "error", err)
			record(model.StepResult{SkillID: step.SkillID, Status: model.StepError, Reason: "policy check failed: " + err.Error()})
			continue
		}

		if !decision.Allowed {
			record(model.StepResult{SkillID: step.SkillID, Status: model.StepDenied, Reason: decision.ReasonCode})
			e.notifyDenied(ctx, req, decision)
			for _, rest := range plan.Steps[i+1:] {
				record(model.StepResult{SkillID: rest.SkillID, Status: model.StepSkipped, Reason: "aborted after denial"})
			}
			result.Aborted = true
			break
		}

		handler, ok := handlers[step.SkillID]
		if !ok {
			record(model.StepResult{SkillID: step.SkillID, Status: model.StepError, Reason: "No handler for skill_id " + step.SkillID})
			continue
		}

		if err := e.invoke(ctx, handler, Call{Request: req, Step: step}); err != nil {
			e.logger.Warn("executor: step failed", "skill_id", step.SkillID, "slack_user_id", req.SlackUserID, "error", err)
			record(model.StepResult{SkillID: step.SkillID, Status: model.StepError, Reason: err.Error()})
			continue
		}
		record(model.StepResult{SkillID: step.SkillID, Status: model.StepSuccess})
	}

	span.SetAttributes(
		attribute.Int("tasklane.plan.steps_succeeded", result.StepsSucceeded),
		attribute.Bool("tasklane.plan.aborted", result.Aborted),
	)
	return result
}

func (e *Executor) invoke(ctx context.Context, h Handler, call Call) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h(ctx, call)
}

func (e *Executor) notifyDenied(ctx context.Context, req Request, d policy.Decision) {
	if req.Slack == nil {
		return
	}
	msg := d.UserMessage
	if msg == "" {
		msg = defaultDenialMessage
	}
	if _, err := req.Slack.PostMessage(ctx, req.Channel, msg); err != nil {
		e.logger.Warn("executor: failed to post denial", "reason_code", d.ReasonCode, "error", err)
	}
}
