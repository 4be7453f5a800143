// Package orchestrator turns one inbound Slack message into a reply: it
// loads the conversation, settles any pending action, classifies or plans
// the request, runs the plan under the policy gate and saves the session.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/tasklane/internal/classifier"
	"github.com/ashita-ai/tasklane/internal/clickup"
	"github.com/ashita-ai/tasklane/internal/contextpack"
	"github.com/ashita-ai/tasklane/internal/executor"
	"github.com/ashita-ai/tasklane/internal/model"
	"github.com/ashita-ai/tasklane/internal/planner"
	"github.com/ashita-ai/tasklane/internal/policy"
	"github.com/ashita-ai/tasklane/internal/preferences"
	"github.com/ashita-ai/tasklane/internal/reliability"
	"github.com/ashita-ai/tasklane/internal/session"
	"github.com/ashita-ai/tasklane/internal/slack"
	"github.com/ashita-ai/tasklane/internal/storage"
	"github.com/ashita-ai/tasklane/internal/telemetry"
)

// Mode selects how a message becomes a plan.
type Mode string

const (
	// ModeDeterministic classifies with the rule table only.
	ModeDeterministic Mode = "deterministic"
	// ModePlanner asks the LLM planner first and falls back to the rule
	// table when no valid plan comes back.
	ModePlanner Mode = "planner"
	// ModePlannerStrict uses the planner only; a rejected plan produces an
	// apology instead of a rule-table guess.
	ModePlannerStrict Mode = "planner_strict"
)

// ParseMode validates a configured mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeDeterministic, ModePlanner, ModePlannerStrict:
		return m, nil
	case "":
		return ModeDeterministic, nil
	default:
		return "", fmt.Errorf("orchestrator: unknown mode %q", s)
	}
}

// Store is the persistence the orchestrator and its skill handlers use.
type Store interface {
	reliability.DuplicateStore
	reliability.AuditStore

	MarkInteraction(ctx context.Context, slackUserID, action, messageTS string) (bool, error)
	GetProfileBySlackID(ctx context.Context, slackUserID string) (model.Profile, error)
	FindProfiles(ctx context.Context, hint string) ([]model.Profile, error)

	GetClient(ctx context.Context, id string) (model.Client, error)
	FindClients(ctx context.Context, hint string) ([]model.Client, error)
	ListClients(ctx context.Context) ([]model.Client, error)

	ListBrands(ctx context.Context, clientID string) ([]model.Brand, error)
	ListAllBrands(ctx context.Context) ([]model.Brand, error)
	CreateBrand(ctx context.Context, b model.Brand) (model.Brand, error)
	RenameBrand(ctx context.Context, clientID, brandID, name string) error
	UpdateBrandDestination(ctx context.Context, clientID, brandID, spaceID, listID string) error

	ListAssignments(ctx context.Context, clientID string) ([]model.Assignment, error)
	UpsertAssignment(ctx context.Context, a model.Assignment) (bool, error)
	RemoveAssignment(ctx context.Context, a model.Assignment) (bool, error)

	ListSpaces(ctx context.Context) ([]model.Space, error)
	InsertAgentTask(ctx context.Context, t model.AgentTask) (model.AgentTask, error)
}

// Tasks is the ClickUp surface the task skills need.
type Tasks interface {
	CreateTask(ctx context.Context, listID string, t clickup.NewTask) (model.Task, error)
	GetTasksInListAllPages(ctx context.Context, listID string, since time.Time) ([]model.Task, error)
	ListLists(ctx context.Context, spaceID string) ([]model.List, error)
}

// Planner produces validated plans.
type Planner interface {
	GeneratePlan(ctx context.Context, in planner.Input) *model.ExecutionPlan
}

// SpaceClassifier links a registry space to a brand.
type SpaceClassifier interface {
	Classify(ctx context.Context, spaceID, classification, brandID string) error
}

// Config holds the tunables threaded in from configuration.
type Config struct {
	Mode               Mode
	RetryMaxAttempts   int
	RetryBaseBackoff   time.Duration
	DuplicateWindow    time.Duration
	ContextTokenBudget int
	KBTokenBudget      int
	BufferMaxExchanges int
	BufferMaxTokens    int
}

// Deps are the orchestrator's collaborators. Planner, ClientPacks and
// Knowledge may be nil in deterministic mode.
type Deps struct {
	Store       Store
	Sessions    *session.Service
	Preferences *preferences.Service
	Gate        *policy.Gate
	Executor    *executor.Executor
	Slack       slack.Poster
	Tasks       Tasks
	Planner     Planner
	ClientPacks *contextpack.ClientPackBuilder
	Knowledge   *contextpack.KnowledgeRetriever
	Registry    SpaceClassifier
	Logger      *slog.Logger
}

// Message is one inbound chat message.
type Message struct {
	SlackUserID string
	Channel     string
	Surface     model.Surface
	Text        string
	TS          string
}

// Outcome reports what HandleMessage did.
type Outcome struct {
	Duplicate bool
	Plan      *model.ExecutionPlan
	Result    model.ExecutionResult
	Replies   []string
}

// Orchestrator handles messages and button interactions.
type Orchestrator struct {
	cfg      Config
	deps     Deps
	logger   *slog.Logger
	now      func() time.Time
	messages metric.Int64Counter
}

// New creates an Orchestrator. Planner modes require a planner.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if cfg.Mode == "" {
		cfg.Mode = ModeDeterministic
	}
	if cfg.Mode != ModeDeterministic && deps.Planner == nil {
		return nil, fmt.Errorf("orchestrator: mode %s requires a planner", cfg.Mode)
	}
	if cfg.DuplicateWindow <= 0 {
		cfg.DuplicateWindow = reliability.DefaultDuplicateWindow
	}
	if cfg.BufferMaxExchanges <= 0 {
		cfg.BufferMaxExchanges = 10
	}
	if cfg.BufferMaxTokens <= 0 {
		cfg.BufferMaxTokens = 1500
	}
	messages, _ := telemetry.Meter("tasklane/orchestrator").Int64Counter("tasklane.orchestrator.messages",
		metric.WithDescription("Inbound messages handled, by orchestration mode"),
	)
	return &Orchestrator{
		cfg:      cfg,
		deps:     deps,
		logger:   deps.Logger,
		now:      time.Now,
		messages: messages,
	}, nil
}

// Mode returns the configured orchestration mode.
func (o *Orchestrator) Mode() Mode { return o.cfg.Mode }

// HandleMessage processes one message end to end. A redelivered message
// (same user and timestamp) is dropped without side effects.
func (o *Orchestrator) HandleMessage(ctx context.Context, msg Message) (Outcome, error) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return Outcome{}, nil
	}
	if msg.TS != "" {
		first, err := o.deps.Store.MarkInteraction(ctx, msg.SlackUserID, "message", msg.TS)
		if err != nil {
			return Outcome{}, fmt.Errorf("orchestrator: mark message: %w", err)
		}
		if !first {
			o.logger.Info("orchestrator: duplicate delivery ignored", "slack_user_id", msg.SlackUserID, "ts", msg.TS)
			return Outcome{Duplicate: true}, nil
		}
	}
	o.messages.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", string(o.cfg.Mode))))

	t, err := o.newTurn(ctx, msg.SlackUserID, msg.Channel, msg.Surface, text)
	if err != nil {
		return Outcome{}, err
	}

	var out Outcome
	if handled := o.settlePending(ctx, t, &out); !handled {
		out.Plan = o.plan(ctx, t)
		switch {
		case out.Plan == nil:
			t.say(ctx, "Sorry, the planner couldn't work out what to do with that. Try rephrasing, or say `help`.")
		case len(out.Plan.Steps) == 0:
			t.say(ctx, emptyPlanReply(out.Plan))
		default:
			out.Result = o.execute(ctx, t, out.Plan)
		}
	}

	out.Replies = t.replies.texts
	o.remember(t, text)
	if err := o.deps.Sessions.Save(ctx, t.sess); err != nil {
		return out, fmt.Errorf("orchestrator: %w", err)
	}
	return out, nil
}

// turn is the per-message state shared by the pipeline and skill handlers.
type turn struct {
	actor   model.Actor
	surface model.Surface
	sess    *session.Session
	text    string
	replies *recorder
	// resumed is the draft released by a pending-action transition, fed to
	// the task-create handler in place of its plan arguments.
	resumed *session.Draft
}

func (o *Orchestrator) newTurn(ctx context.Context, slackUserID, channel string, surface model.Surface, text string) (*turn, error) {
	sess, err := o.deps.Sessions.Load(ctx, slackUserID, channel)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}
	actor, err := o.lookupActor(ctx, slackUserID)
	if err != nil {
		return nil, err
	}
	if surface == "" {
		surface = model.SurfaceIM
	}
	return &turn{
		actor:   actor,
		surface: surface,
		sess:    sess,
		text:    text,
		replies: &recorder{next: o.deps.Slack, logger: o.logger},
	}, nil
}

// lookupActor maps a Slack user to its profile. Users without a profile get
// an actor with no role, which the policy gate denies.
func (o *Orchestrator) lookupActor(ctx context.Context, slackUserID string) (model.Actor, error) {
	p, err := o.deps.Store.GetProfileBySlackID(ctx, slackUserID)
	if errors.Is(err, storage.ErrNotFound) {
		return model.Actor{SlackUserID: slackUserID}, nil
	}
	if err != nil {
		return model.Actor{}, fmt.Errorf("orchestrator: lookup actor: %w", err)
	}
	return model.Actor{
		SlackUserID: slackUserID,
		ProfileID:   p.ID,
		Name:        p.Name,
		Role:        p.Role,
		IsAdmin:     p.IsAdmin,
	}, nil
}

func (o *Orchestrator) execute(ctx context.Context, t *turn, plan *model.ExecutionPlan) model.ExecutionResult {
	req := executor.Request{
		SlackUserID: t.actor.SlackUserID,
		Channel:     t.sess.Channel,
		Session:     t.sess,
		Sessions:    o.deps.Sessions,
		Slack:       t.replies,
	}
	check := func(_ context.Context, skillID string) (policy.Decision, error) {
		d := o.deps.Gate.Evaluate(t.actor, t.surface, skillID)
		if !d.Allowed {
			o.logger.Info("orchestrator: policy denied", "slack_user_id", t.actor.SlackUserID,
				"skill_id", skillID, "reason", d.ReasonCode)
		}
		return d, nil
	}
	return o.deps.Executor.Execute(ctx, plan, req, check, o.handlers(t))
}

func emptyPlanReply(p *model.ExecutionPlan) string {
	if p.Intent == classifier.IntentConfirmDraftTask {
		return "There's nothing waiting for confirmation right now."
	}
	return "I'm not sure what you'd like me to do. Say `help` to see what I can do."
}

func (o *Orchestrator) remember(t *turn, userText string) {
	buf := contextpack.NewBuffer(o.cfg.BufferMaxExchanges, o.cfg.BufferMaxTokens, t.sess.History)
	buf.Append(userText, strings.Join(t.replies.texts, "\n"))
	t.sess.History = buf.Exchanges()
}

// say posts a reply in the turn's channel.
func (t *turn) say(ctx context.Context, text string, buttons ...slack.Button) {
	_, _ = t.replies.PostMessage(ctx, t.sess.Channel, text, buttons...)
}

// recorder forwards posts to Slack and keeps their text for the
// conversation buffer. Post failures are logged, never returned to skills.
type recorder struct {
	next   slack.Poster
	logger *slog.Logger
	texts  []string
}

func (r *recorder) PostMessage(ctx context.Context, channel, text string, buttons ...slack.Button) (string, error) {
	r.texts = append(r.texts, text)
	ts, err := r.next.PostMessage(ctx, channel, text, buttons...)
	if err != nil {
		r.logger.Warn("orchestrator: post reply failed", "channel", channel, "error", err)
		return "", nil
	}
	return ts, nil
}

func (r *recorder) UpdateMessage(ctx context.Context, channel, ts, text string) error {
	if err := r.next.UpdateMessage(ctx, channel, ts, text); err != nil {
		r.logger.Warn("orchestrator: update message failed", "channel", channel, "error", err)
	}
	return nil
}
