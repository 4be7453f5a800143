package planner_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/tasklane/internal/llm"
	"github.com/ashita-ai/tasklane/internal/planner"
	"github.com/ashita-ai/tasklane/internal/skills"
)

type fakeLLM struct {
	completion llm.Completion
	err        error
	prompt     string
	ctxText    string
}

func (f *fakeLLM) Complete(_ context.Context, prompt, contextText string) (llm.Completion, error) {
	f.prompt, f.ctxText = prompt, contextText
	return f.completion, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func validate(raw string) planner.Validation {
	return planner.Validate(skills.Default(), raw, llm.Completion{})
}

func TestValidate_AcceptsWellFormedPlan(t *testing.T) {
	raw := `{"intent":"create_task","confidence":0.9,"steps":[
		{"skill_id":"switch_client","args":{"client_name_hint":"Distex"},"reason":"user named a client"},
		{"skill_id":"clickup_task_create","args":{"task_title":"Fix listing"},"requires_confirmation":true}
	]}`
	v := planner.Validate(skills.Default(), raw, llm.Completion{TokensIn: 100, TokensOut: 20, TokensTotal: 120, Model: "gpt-4o-mini"})
	require.True(t, v.OK(), v.Detail)

	p := v.Plan
	assert.Equal(t, "create_task", p.Intent)
	assert.InDelta(t, 0.9, p.Confidence, 1e-9)
	require.Len(t, p.Steps, 2)
	assert.Equal(t, "switch_client", p.Steps[0].SkillID)
	assert.Equal(t, "user named a client", p.Steps[0].Reason)
	assert.Equal(t, "Fix listing", p.Steps[1].Args["task_title"])
	assert.True(t, p.Steps[1].RequiresConfirmation)
	assert.Equal(t, 100, p.TokensIn)
	assert.Equal(t, 20, p.TokensOut)
	assert.Equal(t, 120, p.TokensTotal)
	assert.Equal(t, "gpt-4o-mini", p.ModelUsed)
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		reason string
	}{
		{"not json", `sure, here is a plan`, planner.ReasonNotJSON},
		{"json array", `[1,2]`, planner.ReasonNotJSON},
		{"missing intent", `{"steps":[],"confidence":0}`, planner.ReasonMissingIntent},
		{"confidence out of range", `{"intent":"help","confidence":1.5,"steps":[{"skill_id":"help"}]}`, planner.ReasonBadConfidence},
		{"confidence as string", `{"intent":"help","confidence":"high","steps":[{"skill_id":"help"}]}`, planner.ReasonBadConfidence},
		{"steps not list", `{"intent":"help","confidence":1,"steps":{"skill_id":"help"}}`, planner.ReasonStepsNotList},
		{"too many steps", `{"intent":"help","confidence":1,"steps":[{"skill_id":"help"},{"skill_id":"help"},{"skill_id":"help"},{"skill_id":"help"},{"skill_id":"help"}]}`, planner.ReasonTooManySteps},
		{"unknown skill rejects whole plan", `{"intent":"help","confidence":1,"steps":[{"skill_id":"help"},{"skill_id":"delete_everything"}]}`, planner.ReasonUnknownSkill},
		{"missing required arg", `{"intent":"create_task","confidence":0.8,"steps":[{"skill_id":"clickup_task_create","args":{}}]}`, planner.ReasonMissingArgs},
		{"blank required arg", `{"intent":"create_task","confidence":0.8,"steps":[{"skill_id":"clickup_task_create","args":{"task_title":"  "}}]}`, planner.ReasonMissingArgs},
		{"args not object", `{"intent":"help","confidence":1,"steps":[{"skill_id":"help","args":"x"}]}`, planner.ReasonBadStep},
		{"step not object", `{"intent":"help","confidence":1,"steps":["help"]}`, planner.ReasonBadStep},
		{"concrete intent without steps", `{"intent":"create_task","confidence":0.7,"steps":[]}`, planner.ReasonEmptyPlan},
		{"unknown with confidence", `{"intent":"unknown","confidence":0.4,"steps":[]}`, planner.ReasonBadUnknownShape},
		{"unknown with steps", `{"intent":"unknown","confidence":0,"steps":[{"skill_id":"help"}]}`, planner.ReasonBadUnknownShape},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := validate(tt.raw)
			assert.False(t, v.OK())
			assert.Nil(t, v.Plan)
			assert.Equal(t, tt.reason, v.Reason)
			assert.NotEmpty(t, v.Detail)
		})
	}
}

func TestValidate_UnknownEmptyPlanAccepted(t *testing.T) {
	v := validate(`{"intent":"unknown","steps":[],"confidence":0}`)
	require.True(t, v.OK())
	assert.Equal(t, planner.IntentUnknown, v.Plan.Intent)
	assert.Empty(t, v.Plan.Steps)
}

func TestValidate_StripsCodeFences(t *testing.T) {
	v := validate("```json\n{\"intent\":\"help\",\"confidence\":1,\"steps\":[{\"skill_id\":\"help\"}]}\n```")
	require.True(t, v.OK(), v.Detail)
	assert.Equal(t, "help", v.Plan.Intent)
}

func TestValidate_FourStepsIsTheCap(t *testing.T) {
	v := validate(`{"intent":"help","confidence":1,"steps":[{"skill_id":"help"},{"skill_id":"help"},{"skill_id":"help"},{"skill_id":"help"}]}`)
	require.True(t, v.OK(), v.Detail)
	assert.Len(t, v.Plan.Steps, 4)
}

func TestGeneratePlan(t *testing.T) {
	fake := &fakeLLM{completion: llm.Completion{
		Content:     `{"intent":"weekly_tasks","confidence":0.8,"steps":[{"skill_id":"clickup_task_list_weekly","args":{"client_name_hint":"distex"}}]}`,
		TokensIn:    40,
		TokensOut:   10,
		TokensTotal: 50,
		Model:       "qwen2.5",
	}}
	p := planner.New(fake, nil, testLogger())

	plan := p.GeneratePlan(context.Background(), planner.Input{
		Text:       "what's open for distex?",
		ClientPack: "Client: Distex",
	})
	require.NotNil(t, plan)
	assert.Equal(t, "weekly_tasks", plan.Intent)
	assert.Equal(t, 50, plan.TokensTotal)
	assert.Equal(t, "qwen2.5", plan.ModelUsed)

	assert.Contains(t, fake.prompt, "clickup_task_create")
	assert.Contains(t, fake.prompt, "at most 4 steps")
	assert.Contains(t, fake.ctxText, "## Client context\nClient: Distex")
	assert.Contains(t, fake.ctxText, "## Request\nwhat's open for distex?")
	assert.NotContains(t, fake.ctxText, "Knowledge base")
}

func TestGeneratePlan_FailuresReturnNil(t *testing.T) {
	t.Run("llm error", func(t *testing.T) {
		fake := &fakeLLM{err: &llm.Error{Provider: "openai", Op: "request", Err: errors.New("timeout")}}
		assert.Nil(t, planner.New(fake, nil, testLogger()).GeneratePlan(context.Background(), planner.Input{Text: "hi"}))
	})
	t.Run("not configured", func(t *testing.T) {
		assert.Nil(t, planner.New(llm.NoopClient{}, nil, testLogger()).GeneratePlan(context.Background(), planner.Input{Text: "hi"}))
	})
	t.Run("schema violation", func(t *testing.T) {
		fake := &fakeLLM{completion: llm.Completion{Content: `{"intent":"x","confidence":0.5,"steps":[{"skill_id":"rm_rf"}]}`}}
		assert.Nil(t, planner.New(fake, nil, testLogger()).GeneratePlan(context.Background(), planner.Input{Text: "hi"}))
	})
	t.Run("prose", func(t *testing.T) {
		fake := &fakeLLM{completion: llm.Completion{Content: strings.Repeat("no ", 10)}}
		assert.Nil(t, planner.New(fake, nil, testLogger()).GeneratePlan(context.Background(), planner.Input{Text: "hi"}))
	})
}
