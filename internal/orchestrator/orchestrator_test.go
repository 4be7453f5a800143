package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/tasklane/internal/classifier"
	"github.com/ashita-ai/tasklane/internal/clickup"
	"github.com/ashita-ai/tasklane/internal/ctxutil"
	"github.com/ashita-ai/tasklane/internal/executor"
	"github.com/ashita-ai/tasklane/internal/model"
	"github.com/ashita-ai/tasklane/internal/planner"
	"github.com/ashita-ai/tasklane/internal/policy"
	"github.com/ashita-ai/tasklane/internal/preferences"
	"github.com/ashita-ai/tasklane/internal/reliability"
	"github.com/ashita-ai/tasklane/internal/session"
	"github.com/ashita-ai/tasklane/internal/skills"
	"github.com/ashita-ai/tasklane/internal/slack"
	"github.com/ashita-ai/tasklane/internal/storage"
)

// fakeStore backs the orchestrator, session and preference stores in memory.
type fakeStore struct {
	mu          sync.Mutex
	marks       map[string]bool
	profiles    []model.Profile
	clients     []model.Client
	brands      []model.Brand
	assignments []model.Assignment
	spaces      []model.Space
	agentTasks  []model.AgentTask
	audits      []model.AuditEvent
	sessions    map[string][]byte
	defaults    map[string]string

	insertTaskErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		marks:    map[string]bool{},
		sessions: map[string][]byte{},
		defaults: map[string]string{},
		profiles: []model.Profile{
			{ID: "p-member", Name: "Dana Reyes", Email: "dana@example.com", SlackUserID: "UMEMBER", Role: model.RoleMember},
			{ID: "p-viewer", Name: "Vic Lowe", SlackUserID: "UVIEWER", Role: model.RoleViewer},
			{ID: "p-admin", Name: "Ari Admin", SlackUserID: "UADMIN", Role: model.RoleAdmin, IsAdmin: true},
		},
		clients: []model.Client{
			{ID: "c-acme", Name: "Acme"},
			{ID: "c-solo", Name: "Solo"},
		},
		brands: []model.Brand{
			{ID: "b-alpha", ClientID: "c-acme", Name: "Alpha", SpaceID: "S1", ListID: "L1"},
			{ID: "b-beta", ClientID: "c-acme", Name: "Beta", SpaceID: "S2", ListID: "L2"},
			{ID: "b-gamma", ClientID: "c-acme", Name: "Gamma"},
			{ID: "b-solo", ClientID: "c-solo", Name: "Solo Main", SpaceID: "S3", ListID: "L3"},
		},
		spaces: []model.Space{
			{SpaceID: "S9", Name: "Gamma", Active: true},
			{SpaceID: "S10", Name: "Old Gamma", Active: false},
		},
	}
}

func (f *fakeStore) MarkInteraction(_ context.Context, user, action, ts string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := user + "|" + action + "|" + ts
	if f.marks[k] {
		return false, nil
	}
	f.marks[k] = true
	return true, nil
}

func (f *fakeStore) GetProfileBySlackID(_ context.Context, id string) (model.Profile, error) {
	for _, p := range f.profiles {
		if p.SlackUserID == id {
			return p, nil
		}
	}
	return model.Profile{}, storage.ErrNotFound
}

func (f *fakeStore) FindProfiles(_ context.Context, hint string) ([]model.Profile, error) {
	var out []model.Profile
	for _, p := range f.profiles {
		if strings.Contains(strings.ToLower(p.Name), strings.ToLower(hint)) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) GetClient(_ context.Context, id string) (model.Client, error) {
	for _, c := range f.clients {
		if c.ID == id {
			return c, nil
		}
	}
	return model.Client{}, storage.ErrNotFound
}

func (f *fakeStore) FindClients(_ context.Context, hint string) ([]model.Client, error) {
	var out []model.Client
	for _, c := range f.clients {
		if strings.EqualFold(c.Name, hint) {
			return []model.Client{c}, nil
		}
		if strings.Contains(strings.ToLower(c.Name), strings.ToLower(hint)) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeStore) ListClients(context.Context) ([]model.Client, error) { return f.clients, nil }

func (f *fakeStore) ListBrands(_ context.Context, clientID string) ([]model.Brand, error) {
	var out []model.Brand
	for _, b := range f.brands {
		if b.ClientID == clientID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeStore) ListAllBrands(context.Context) ([]model.Brand, error) { return f.brands, nil }

func (f *fakeStore) CreateBrand(_ context.Context, b model.Brand) (model.Brand, error) {
	for _, have := range f.brands {
		if have.ClientID == b.ClientID && strings.EqualFold(have.Name, b.Name) {
			return model.Brand{}, storage.ErrConflict
		}
	}
	b.ID = "b-" + strings.ToLower(b.Name)
	f.brands = append(f.brands, b)
	return b, nil
}

func (f *fakeStore) RenameBrand(_ context.Context, clientID, brandID, name string) error {
	for i, b := range f.brands {
		if b.ClientID == clientID && b.ID == brandID {
			f.brands[i].Name = name
			return nil
		}
	}
	return storage.ErrNotFound
}

func (f *fakeStore) UpdateBrandDestination(_ context.Context, clientID, brandID, spaceID, listID string) error {
	for i, b := range f.brands {
		if b.ClientID == clientID && b.ID == brandID {
			f.brands[i].SpaceID, f.brands[i].ListID = spaceID, listID
			return nil
		}
	}
	return storage.ErrNotFound
}

func (f *fakeStore) ListAssignments(_ context.Context, clientID string) ([]model.Assignment, error) {
	var out []model.Assignment
	for _, a := range f.assignments {
		if a.ClientID == clientID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeStore) UpsertAssignment(_ context.Context, a model.Assignment) (bool, error) {
	for _, have := range f.assignments {
		if have.ClientID == a.ClientID && have.ProfileID == a.ProfileID && have.Role == a.Role {
			return false, nil
		}
	}
	f.assignments = append(f.assignments, a)
	return true, nil
}

func (f *fakeStore) RemoveAssignment(_ context.Context, a model.Assignment) (bool, error) {
	for i, have := range f.assignments {
		if have.ClientID == a.ClientID && have.ProfileID == a.ProfileID && have.Role == a.Role {
			f.assignments = append(f.assignments[:i], f.assignments[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) ListSpaces(context.Context) ([]model.Space, error) { return f.spaces, nil }

func (f *fakeStore) InsertAgentTask(_ context.Context, t model.AgentTask) (model.AgentTask, error) {
	if f.insertTaskErr != nil {
		return model.AgentTask{}, f.insertTaskErr
	}
	t.ID = "at-" + t.ClickUpTaskID
	f.agentTasks = append(f.agentTasks, t)
	return t, nil
}

func (f *fakeStore) FindAgentTaskByKey(_ context.Context, key string, since time.Time) (*reliability.DuplicateMatch, error) {
	for i := len(f.agentTasks) - 1; i >= 0; i-- {
		t := f.agentTasks[i]
		if t.IdempotencyKey == key && !t.CreatedAt.Before(since) {
			return &reliability.DuplicateMatch{AgentTaskID: t.ID, ClickUpTaskID: t.ClickUpTaskID, ClickUpURL: t.ClickUpTaskURL, CreatedAt: t.CreatedAt}, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) InsertAuditEvent(_ context.Context, ev model.AuditEvent) error {
	f.audits = append(f.audits, ev)
	return nil
}

func (f *fakeStore) GetSession(_ context.Context, key string) ([]byte, error) {
	return f.sessions[key], nil
}

func (f *fakeStore) SaveSession(_ context.Context, key string, data []byte) error {
	f.sessions[key] = data
	return nil
}

func (f *fakeStore) GetDefaultClient(_ context.Context, user string) (string, error) {
	return f.defaults[user], nil
}

func (f *fakeStore) SetDefaultClient(_ context.Context, user, clientID string) error {
	f.defaults[user] = clientID
	return nil
}

func (f *fakeStore) ClearDefaults(_ context.Context, user string) error {
	delete(f.defaults, user)
	return nil
}

type createCall struct {
	listID string
	task   clickup.NewTask
}

type fakeTasks struct {
	mu         sync.Mutex
	errs       []error
	created    []createCall
	lists      map[string][]model.Task
	spaceLists map[string][]model.List
}

func (f *fakeTasks) CreateTask(_ context.Context, listID string, t clickup.NewTask) (model.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return model.Task{}, err
	}
	f.created = append(f.created, createCall{listID: listID, task: t})
	id := "cu" + string(rune('0'+len(f.created)))
	return model.Task{ID: id, Name: t.Name, URL: "https://app.clickup.com/t/" + id, ListID: listID}, nil
}

func (f *fakeTasks) GetTasksInListAllPages(_ context.Context, listID string, _ time.Time) ([]model.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lists[listID], nil
}

func (f *fakeTasks) ListLists(_ context.Context, spaceID string) ([]model.List, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.spaceLists[spaceID], nil
}

type post struct {
	text    string
	buttons []slack.Button
}

type fakePoster struct {
	posts   []post
	updates []string
}

func (f *fakePoster) PostMessage(_ context.Context, _, text string, buttons ...slack.Button) (string, error) {
	f.posts = append(f.posts, post{text: text, buttons: buttons})
	return "100.1", nil
}

func (f *fakePoster) UpdateMessage(_ context.Context, _, _, text string) error {
	f.updates = append(f.updates, text)
	return nil
}

func (f *fakePoster) last() post {
	if len(f.posts) == 0 {
		return post{}
	}
	return f.posts[len(f.posts)-1]
}

type fakePlanner struct {
	plan   *model.ExecutionPlan
	inputs []planner.Input
}

func (f *fakePlanner) GeneratePlan(_ context.Context, in planner.Input) *model.ExecutionPlan {
	f.inputs = append(f.inputs, in)
	return f.plan
}

type fakeRegistry struct {
	classified []string
}

func (f *fakeRegistry) Classify(_ context.Context, spaceID, classification, brandID string) error {
	f.classified = append(f.classified, spaceID+"="+classification+":"+brandID)
	return nil
}

type harness struct {
	o        *Orchestrator
	store    *fakeStore
	tasks    *fakeTasks
	poster   *fakePoster
	registry *fakeRegistry
	clock    time.Time
	seq      int
}

func newHarness(t *testing.T, mode Mode, p Planner) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		store:    newFakeStore(),
		tasks:    &fakeTasks{lists: map[string][]model.Task{}, spaceLists: map[string][]model.List{}},
		poster:   &fakePoster{},
		registry: &fakeRegistry{},
		clock:    time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC),
	}
	deps := Deps{
		Store:       h.store,
		Sessions:    session.NewService(h.store),
		Preferences: preferences.NewService(h.store, logger),
		Gate:        policy.New(nil),
		Executor:    executor.New(logger),
		Slack:       h.poster,
		Tasks:       h.tasks,
		Registry:    h.registry,
		Logger:      logger,
	}
	if p != nil {
		deps.Planner = p
	}
	o, err := New(Config{Mode: mode, RetryMaxAttempts: 3}, deps)
	require.NoError(t, err)
	o.now = func() time.Time { return h.clock }
	h.o = o
	return h
}

func (h *harness) send(t *testing.T, user, text string) Outcome {
	t.Helper()
	h.seq++
	out, err := h.o.HandleMessage(context.Background(), Message{
		SlackUserID: user,
		Channel:     "D" + user,
		Surface:     model.SurfaceIM,
		Text:        text,
		TS:          "1700000000." + string(rune('a'+h.seq)),
	})
	require.NoError(t, err)
	return out
}

func (h *harness) session(t *testing.T, user string) *session.Session {
	t.Helper()
	s, err := session.NewService(h.store).Load(context.Background(), user, "D"+user)
	require.NoError(t, err)
	return s
}

func TestNew_PlannerModesRequirePlanner(t *testing.T) {
	_, err := New(Config{Mode: ModePlanner}, Deps{Logger: slog.Default()})
	require.Error(t, err)

	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeDeterministic, m)
	_, err = ParseMode("bogus")
	assert.Error(t, err)
}

func TestHandleMessage_CreatesTask(t *testing.T) {
	h := newHarness(t, ModeDeterministic, nil)

	out := h.send(t, "UMEMBER", "create task for Solo: Fix banner")

	require.Len(t, h.tasks.created, 1)
	assert.Equal(t, "L3", h.tasks.created[0].listID)
	assert.Equal(t, "Fix banner", h.tasks.created[0].task.Name)
	assert.Contains(t, h.tasks.created[0].task.Description, "<@UMEMBER>")
	require.Len(t, h.store.agentTasks, 1)
	assert.Equal(t, "b-solo", h.store.agentTasks[0].BrandID)
	assert.Equal(t, "p-member", h.store.agentTasks[0].EmployeeID)
	assert.Equal(t, 1, out.Result.StepsSucceeded)
	assert.Contains(t, h.poster.last().text, "Created *Fix banner* in Solo Main")

	s := h.session(t, "UMEMBER")
	assert.Equal(t, "c-solo", s.ActiveClientID)
	require.Len(t, s.History, 1)
	assert.Equal(t, "create task for Solo: Fix banner", s.History[0].User)
}

func TestHandleMessage_RedeliveryIgnored(t *testing.T) {
	h := newHarness(t, ModeDeterministic, nil)
	msg := Message{SlackUserID: "UMEMBER", Channel: "DUMEMBER", Text: "create task for Solo: Fix banner", TS: "1.1"}

	_, err := h.o.HandleMessage(context.Background(), msg)
	require.NoError(t, err)
	out, err := h.o.HandleMessage(context.Background(), msg)
	require.NoError(t, err)

	assert.True(t, out.Duplicate)
	assert.Len(t, h.tasks.created, 1)
}

func TestHandleMessage_BlankIgnored(t *testing.T) {
	h := newHarness(t, ModeDeterministic, nil)
	out := h.send(t, "UMEMBER", "   ")
	assert.Nil(t, out.Plan)
	assert.Empty(t, h.poster.posts)
}

func TestHandleMessage_BrandPickByNumber(t *testing.T) {
	h := newHarness(t, ModeDeterministic, nil)

	h.send(t, "UMEMBER", "create task for Acme: Refresh hero image")
	require.Empty(t, h.tasks.created)
	prompt := h.poster.last()
	require.Len(t, prompt.buttons, 2)
	assert.Equal(t, BrandPickAction, prompt.buttons[0].ActionID)
	assert.Equal(t, session.KindBrand, h.session(t, "UMEMBER").Pending.Kind())

	h.send(t, "UMEMBER", "2")

	require.Len(t, h.tasks.created, 1)
	assert.Equal(t, "L2", h.tasks.created[0].listID)
	assert.Equal(t, "b-beta", h.store.agentTasks[0].BrandID)
	assert.Equal(t, session.KindNone, h.session(t, "UMEMBER").Pending.Kind())
}

func TestHandleInteraction_BrandPick(t *testing.T) {
	h := newHarness(t, ModeDeterministic, nil)
	h.send(t, "UMEMBER", "create task for Acme: Refresh hero image")

	click := Interaction{SlackUserID: "UMEMBER", Channel: "DUMEMBER", MessageTS: "100.1", ActionID: BrandPickAction, Value: "b-alpha"}
	out, err := h.o.HandleInteraction(context.Background(), click)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Result.StepsSucceeded)
	require.Len(t, h.tasks.created, 1)
	assert.Equal(t, "L1", h.tasks.created[0].listID)
	assert.Equal(t, []string{"Brand: Alpha"}, h.poster.updates)

	out, err = h.o.HandleInteraction(context.Background(), click)
	require.NoError(t, err)
	assert.True(t, out.Duplicate)
	assert.Len(t, h.tasks.created, 1)
}

func TestHandleInteraction_NothingPending(t *testing.T) {
	h := newHarness(t, ModeDeterministic, nil)
	out, err := h.o.HandleInteraction(context.Background(), Interaction{
		SlackUserID: "UMEMBER", Channel: "DUMEMBER", MessageTS: "9.9", ActionID: BrandPickAction, Value: "b-alpha",
	})
	require.NoError(t, err)
	assert.Nil(t, out.Plan)
	assert.Contains(t, h.poster.last().text, "no longer waiting")
}

func TestHandleMessage_DeferredIdentifiers(t *testing.T) {
	h := newHarness(t, ModeDeterministic, nil)

	h.send(t, "UMEMBER", "create task for Solo: Update listing coupon")
	require.Empty(t, h.tasks.created)
	assert.Equal(t, session.KindASINOrPending, h.session(t, "UMEMBER").Pending.Kind())

	h.send(t, "UMEMBER", "pending")

	require.Len(t, h.tasks.created, 1)
	assert.Equal(t, []string{"asin-pending"}, h.tasks.created[0].task.Tags)
	assert.Contains(t, h.tasks.created[0].task.Description, "Product identifiers: pending")
	assert.Contains(t, h.poster.last().text, "marked pending")
}

func TestHandleMessage_IdentifiersInTitleSkipPrompt(t *testing.T) {
	h := newHarness(t, ModeDeterministic, nil)

	h.send(t, "UMEMBER", "create task for Solo: Fix listing for B0ABCDE123")

	require.Len(t, h.tasks.created, 1)
	assert.Contains(t, h.tasks.created[0].task.Description, "B0ABCDE123")
	assert.Empty(t, h.tasks.created[0].task.Tags)
}

func TestHandleMessage_DuplicateThenCreateAnyway(t *testing.T) {
	h := newHarness(t, ModeDeterministic, nil)

	h.send(t, "UMEMBER", "create task for Solo: Fix banner")
	h.clock = h.clock.Add(time.Hour)
	h.send(t, "UMEMBER", "create task for Solo: fix  BANNER")

	require.Len(t, h.tasks.created, 1)
	assert.Contains(t, h.poster.last().text, "already created")
	assert.Contains(t, h.poster.last().text, "https://app.clickup.com/t/cu1")

	h.send(t, "UMEMBER", "create anyway")
	assert.Len(t, h.tasks.created, 2)
	assert.Len(t, h.store.agentTasks, 2)
}

func TestHandleMessage_PendingExpires(t *testing.T) {
	h := newHarness(t, ModeDeterministic, nil)
	h.send(t, "UMEMBER", "create task for Acme: Refresh hero image")

	h.clock = h.clock.Add(session.Expiry + time.Second)
	h.send(t, "UMEMBER", "1")

	assert.Empty(t, h.tasks.created)
	var timedOut bool
	for _, p := range h.poster.posts {
		timedOut = timedOut || strings.Contains(p.text, "timed out")
	}
	assert.True(t, timedOut)
	assert.Equal(t, session.KindNone, h.session(t, "UMEMBER").Pending.Kind())
}

func TestHandleMessage_ReparkRestartsExpiry(t *testing.T) {
	h := newHarness(t, ModeDeterministic, nil)
	h.send(t, "UMEMBER", "create task for Acme: Update listing coupon")
	require.Equal(t, session.KindBrand, h.session(t, "UMEMBER").Pending.Kind())

	h.clock = h.clock.Add(9 * time.Minute)
	h.send(t, "UMEMBER", "2")
	require.Empty(t, h.tasks.created)
	require.Equal(t, session.KindASINOrPending, h.session(t, "UMEMBER").Pending.Kind())

	h.clock = h.clock.Add(2 * time.Minute)
	h.send(t, "UMEMBER", "B0ABCDE123")

	require.Len(t, h.tasks.created, 1)
	assert.Equal(t, "L2", h.tasks.created[0].listID)
	assert.Contains(t, h.tasks.created[0].task.Description, "B0ABCDE123")
	for _, p := range h.poster.posts {
		assert.NotContains(t, p.text, "timed out")
	}
}

func TestInterpret_BareAffirmative(t *testing.T) {
	d := session.Draft{Title: "Fix banner"}
	assert.Equal(t, session.Confirmed{}, interpret(session.AwaitingConfirmOrDetails{Draft: d, Prompt: session.PromptConfirm}, "yes"))
	assert.Equal(t, session.Confirmed{}, interpret(session.AwaitingConfirmOrDetails{Draft: d, Prompt: session.PromptDuplicate}, "OK"))
	assert.Equal(t, session.ProvidedDetails{Text: "yes the hero one"}, interpret(session.AwaitingConfirmOrDetails{Draft: d}, "yes the hero one"))
	assert.Equal(t, session.ChoseBrand{}, interpret(session.AwaitingBrand{Draft: d}, "yes"))
}

func TestHandleMessage_CancelPending(t *testing.T) {
	h := newHarness(t, ModeDeterministic, nil)
	h.send(t, "UMEMBER", "create task for Acme: Refresh hero image")

	h.send(t, "UMEMBER", "cancel")

	assert.Empty(t, h.tasks.created)
	assert.Equal(t, "Okay, cancelled.", h.poster.last().text)
}

func TestHandleMessage_NewCommandSupersedesPending(t *testing.T) {
	h := newHarness(t, ModeDeterministic, nil)
	h.send(t, "UMEMBER", "create task for Acme: Refresh hero image")

	h.send(t, "UMEMBER", "create task for Solo: Fix banner")

	require.Len(t, h.tasks.created, 1)
	assert.Equal(t, "L3", h.tasks.created[0].listID)
}

func TestHandleMessage_MissingTitlePrompt(t *testing.T) {
	h := newHarness(t, ModeDeterministic, nil)

	h.send(t, "UMEMBER", "create task for Solo")
	assert.Contains(t, h.poster.last().text, "What should the task for Solo be called?")

	h.send(t, "UMEMBER", "Refresh storefront copy")
	require.Len(t, h.tasks.created, 1)
	assert.Equal(t, "Refresh storefront copy", h.tasks.created[0].task.Name)
}

func TestHandleMessage_RetryExhausted(t *testing.T) {
	h := newHarness(t, ModeDeterministic, nil)
	rateLimited := &clickup.Error{Kind: clickup.ErrRateLimited, Op: "create task", Status: 429}
	h.tasks.errs = []error{rateLimited, rateLimited, rateLimited}

	out := h.send(t, "UMEMBER", "create task for Solo: Fix banner")

	assert.Empty(t, h.tasks.created)
	assert.Empty(t, h.store.agentTasks)
	require.Len(t, out.Result.StepResults, 1)
	assert.Equal(t, model.StepError, out.Result.StepResults[0].Status)
	assert.Contains(t, h.poster.last().text, "tried 3 times")
}

func TestHandleMessage_TransientFailureRecovers(t *testing.T) {
	h := newHarness(t, ModeDeterministic, nil)
	h.tasks.errs = []error{&clickup.Error{Kind: clickup.ErrAPI, Op: "create task", Status: 502}}

	out := h.send(t, "UMEMBER", "create task for Solo: Fix banner")

	assert.Len(t, h.tasks.created, 1)
	assert.Equal(t, 1, out.Result.StepsSucceeded)
}

func TestHandleMessage_ValidationNotRetried(t *testing.T) {
	h := newHarness(t, ModeDeterministic, nil)
	h.tasks.errs = []error{&clickup.Error{Kind: clickup.ErrValidation, Op: "create task", Status: 400}, nil}

	h.send(t, "UMEMBER", "create task for Solo: Fix banner")

	assert.Empty(t, h.tasks.created)
	assert.Len(t, h.tasks.errs, 1)
	assert.Contains(t, h.poster.last().text, "invalid")
}

func TestHandleMessage_OrphanWhenRecordFails(t *testing.T) {
	h := newHarness(t, ModeDeterministic, nil)
	h.store.insertTaskErr = errors.New("db down")

	h.send(t, "UMEMBER", "create task for Solo: Fix banner")

	require.Len(t, h.tasks.created, 1)
	require.Len(t, h.store.audits, 1)
	assert.Equal(t, reliability.EventTaskOrphaned, h.store.audits[0].EventType)
	assert.Equal(t, "c-solo", h.store.audits[0].ClientID)
	assert.Contains(t, h.poster.last().text, "Created *Fix banner*")
}

func TestHandleMessage_PolicyDenials(t *testing.T) {
	tests := []struct {
		name string
		user string
		text string
		want string
	}{
		{"viewer mutation", "UVIEWER", "create task for Solo: Fix banner", "read-only"},
		{"unknown user", "USTRANGER", "create task for Solo: Fix banner", "don't recognise"},
		{"admin skill", "UMEMBER", "mapping audit", "limited to admins"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, ModeDeterministic, nil)
			out := h.send(t, tt.user, tt.text)
			assert.True(t, out.Result.Aborted)
			assert.Empty(t, h.tasks.created)
			assert.Contains(t, h.poster.last().text, tt.want)
		})
	}
}

func TestHandleMessage_DefaultClientUsed(t *testing.T) {
	h := newHarness(t, ModeDeterministic, nil)

	h.send(t, "UMEMBER", "set my default client to Solo")
	assert.Equal(t, "c-solo", h.store.defaults["UMEMBER"])

	h.send(t, "UMEMBER", "create task: Fix banner")
	require.Len(t, h.tasks.created, 1)
	assert.Equal(t, "L3", h.tasks.created[0].listID)

	h.send(t, "UMEMBER", "clear my defaults")
	assert.Empty(t, h.store.defaults)
}

func TestHandleMessage_NoClientAsks(t *testing.T) {
	h := newHarness(t, ModeDeterministic, nil)
	h.send(t, "UMEMBER", "create task: Fix banner")
	assert.Empty(t, h.tasks.created)
	assert.Contains(t, h.poster.last().text, "Which client is this for?")
}

func TestHandleMessage_SwitchClientThenList(t *testing.T) {
	h := newHarness(t, ModeDeterministic, nil)
	updated := h.clock.Add(-time.Hour)
	h.tasks.lists["L1"] = []model.Task{{ID: "t1", Name: "Alpha launch", Status: "open", DateUpdated: updated}}
	h.tasks.lists["L2"] = []model.Task{{ID: "t2", Name: "Beta promo", Status: "done", DateUpdated: updated.Add(time.Minute)}}

	h.send(t, "UMEMBER", "switch to Acme")
	assert.Equal(t, "c-acme", h.session(t, "UMEMBER").ActiveClientID)

	h.send(t, "UMEMBER", "show tasks this week")
	reply := h.poster.last().text
	assert.Contains(t, reply, "Acme tasks updated this week (2)")
	assert.Less(t, strings.Index(reply, "Beta promo"), strings.Index(reply, "Alpha launch"))
}

func TestHandleMessage_UnknownClient(t *testing.T) {
	h := newHarness(t, ModeDeterministic, nil)
	h.send(t, "UMEMBER", "switch to Zenith")
	assert.Contains(t, h.poster.last().text, `couldn't find a client matching "Zenith"`)
}

func TestHandleMessage_ConfirmWithNothingPending(t *testing.T) {
	h := newHarness(t, ModeDeterministic, nil)
	out := h.send(t, "UMEMBER", "create anyway")
	require.NotNil(t, out.Plan)
	assert.Empty(t, out.Plan.Steps)
	assert.Contains(t, h.poster.last().text, "nothing waiting for confirmation")
}

func TestPlannerMode(t *testing.T) {
	t.Run("uses planner output", func(t *testing.T) {
		p := &fakePlanner{plan: &model.ExecutionPlan{
			Intent:     "switch_client",
			Steps:      []model.PlanStep{{SkillID: skills.SwitchClient, Args: map[string]any{"client_name_hint": "Solo"}}},
			Confidence: 0.9,
			ModelUsed:  "test",
		}}
		h := newHarness(t, ModePlanner, p)
		out := h.send(t, "UMEMBER", "let's look at the solo account")
		assert.Equal(t, "test", out.Plan.ModelUsed)
		assert.Equal(t, "c-solo", h.session(t, "UMEMBER").ActiveClientID)
		require.Len(t, p.inputs, 1)
		assert.Equal(t, "let's look at the solo account", p.inputs[0].Text)
	})

	t.Run("falls back to rules", func(t *testing.T) {
		h := newHarness(t, ModePlanner, &fakePlanner{})
		out := h.send(t, "UMEMBER", "create task for Solo: Fix banner")
		assert.Equal(t, "rules", out.Plan.ModelUsed)
		assert.Len(t, h.tasks.created, 1)
	})

	t.Run("strict apologises", func(t *testing.T) {
		h := newHarness(t, ModePlannerStrict, &fakePlanner{})
		out := h.send(t, "UMEMBER", "create task for Solo: Fix banner")
		assert.Nil(t, out.Plan)
		assert.Empty(t, h.tasks.created)
		assert.Contains(t, h.poster.last().text, "planner couldn't work out")
	})

	t.Run("confirmation required", func(t *testing.T) {
		p := &fakePlanner{plan: &model.ExecutionPlan{
			Intent: "create_task",
			Steps: []model.PlanStep{{
				SkillID:              skills.TaskCreate,
				Args:                 map[string]any{"task_title": "Fix banner", "client_name_hint": "Solo"},
				RequiresConfirmation: true,
			}},
			Confidence: 0.8,
		}}
		for _, reply := range []string{"go ahead", "yes", "Yes please.", "ok", "y"} {
			t.Run(reply, func(t *testing.T) {
				h := newHarness(t, ModePlanner, p)
				h.send(t, "UMEMBER", "could you file fix banner for solo")
				assert.Empty(t, h.tasks.created)
				assert.Contains(t, h.poster.last().text, "Reply `yes` to create it")

				h.send(t, "UMEMBER", reply)
				require.Len(t, h.tasks.created, 1)
				assert.True(t, strings.HasPrefix(h.tasks.created[0].task.Description, "Requested in Slack"),
					"the reply must not be folded into the description")
				assert.Equal(t, session.KindNone, h.session(t, "UMEMBER").Pending.Kind())
			})
		}
	})
}

func TestPlanFromIntent(t *testing.T) {
	p := PlanFromIntent(classifier.Classify("tasks for Acme in the last 3 days"))
	require.NotNil(t, p)
	require.Len(t, p.Steps, 1)
	assert.Equal(t, skills.TaskListWeekly, p.Steps[0].SkillID)
	assert.Equal(t, "Acme", p.Steps[0].Args["client_name_hint"])
	assert.Equal(t, classifier.WindowDays, p.Steps[0].Args["window"])
	assert.NotContains(t, p.Steps[0].Args, "client_name")

	assert.Nil(t, PlanFromIntent(model.Intent{Name: classifier.IntentConfirmDraftTask}))

	for intent, skillID := range intentSkills {
		_, ok := skills.Default().Lookup(skillID)
		assert.True(t, ok, intent)
	}
}

func TestAdminSkills(t *testing.T) {
	t.Run("mapping audit", func(t *testing.T) {
		h := newHarness(t, ModeDeterministic, nil)
		h.send(t, "UADMIN", "mapping audit")
		assert.Contains(t, h.poster.last().text, "Acme: 1 unmapped (Gamma)")
	})

	t.Run("remediation preview then apply", func(t *testing.T) {
		h := newHarness(t, ModeDeterministic, nil)
		h.send(t, "UADMIN", "preview remediation")
		assert.Contains(t, h.poster.last().text, "Would map Gamma")
		assert.Empty(t, h.registry.classified)

		h.send(t, "UADMIN", "apply remediation")
		assert.Contains(t, h.poster.last().text, "Mapped Gamma")
		assert.Equal(t, []string{"S9=brand:b-gamma"}, h.registry.classified)
		b, _ := h.store.ListBrands(context.Background(), "c-acme")
		assert.Equal(t, "S9", b[2].SpaceID)
		require.Len(t, h.store.audits, 1)
		assert.Equal(t, EventBrandRemapped, h.store.audits[0].EventType)
	})

	t.Run("remediated brand receives tasks", func(t *testing.T) {
		h := newHarness(t, ModeDeterministic, nil)
		h.tasks.spaceLists["S9"] = []model.List{{ID: "L9", Name: "Backlog", SpaceID: "S9"}}

		h.send(t, "UADMIN", "apply remediation")
		assert.Contains(t, h.poster.last().text, "list L9")
		b, _ := h.store.ListBrands(context.Background(), "c-acme")
		assert.Equal(t, "L9", b[2].ListID)
		assert.Equal(t, "L9", h.store.audits[0].Payload["list_id"])

		h.send(t, "UMEMBER", "create task for Acme: Refresh hero image")
		h.send(t, "UMEMBER", "3")
		require.Len(t, h.tasks.created, 1)
		assert.Equal(t, "L9", h.tasks.created[0].listID)
		assert.Contains(t, h.poster.last().text, "Created *Refresh hero image* in Gamma")
	})

	t.Run("space-only brand resolves its list when filing", func(t *testing.T) {
		h := newHarness(t, ModeDeterministic, nil)
		h.send(t, "UADMIN", "apply remediation")
		assert.Contains(t, h.poster.last().text, "no single list yet")
		b, _ := h.store.ListBrands(context.Background(), "c-acme")
		require.Equal(t, "S9", b[2].SpaceID)
		require.Empty(t, b[2].ListID)

		h.send(t, "UMEMBER", "create task for Acme: Refresh hero image")
		h.send(t, "UMEMBER", "3")
		assert.Empty(t, h.tasks.created)
		assert.Contains(t, h.poster.last().text, "no single list to file into")

		h.tasks.spaceLists["S9"] = []model.List{
			{ID: "L8", Name: "Archive", SpaceID: "S9"},
			{ID: "L9", Name: "gamma", SpaceID: "S9"},
		}
		h.send(t, "UMEMBER", "create task for Acme: Refresh hero image")
		h.send(t, "UMEMBER", "3")
		require.Len(t, h.tasks.created, 1)
		assert.Equal(t, "L9", h.tasks.created[0].listID)
		b, _ = h.store.ListBrands(context.Background(), "c-acme")
		assert.Equal(t, "L9", b[2].ListID, "resolved list is recorded on the brand")
	})

	t.Run("brand create conflict", func(t *testing.T) {
		h := newHarness(t, ModeDeterministic, nil)
		h.send(t, "UADMIN", "create brand Delta for Acme")
		assert.Contains(t, h.poster.last().text, "Created brand Delta for Acme")
		h.send(t, "UADMIN", "create brand delta for Acme")
		assert.Contains(t, h.poster.last().text, "already has a brand named")
	})

	t.Run("audit carries request id", func(t *testing.T) {
		h := newHarness(t, ModeDeterministic, nil)
		ctx := ctxutil.WithRequestID(context.Background(), "req-7")
		_, err := h.o.HandleMessage(ctx, Message{
			SlackUserID: "UADMIN", Channel: "DUADMIN", Surface: model.SurfaceIM,
			Text: "create brand Delta for Acme", TS: "1700000001.000001",
		})
		require.NoError(t, err)
		require.Len(t, h.store.audits, 1)
		assert.Equal(t, EventBrandCreated, h.store.audits[0].EventType)
		assert.Equal(t, "req-7", h.store.audits[0].Payload["request_id"])
		assert.Equal(t, "UADMIN", h.store.audits[0].Payload["slack_user_id"])
	})

	t.Run("assignment", func(t *testing.T) {
		h := newHarness(t, ModeDeterministic, nil)
		h.send(t, "UADMIN", "assign Dana as strategist on Solo")
		require.Len(t, h.store.assignments, 1)
		assert.Equal(t, model.Assignment{ClientID: "c-solo", ProfileID: "p-member", Role: "strategist"}, h.store.assignments[0])

		h.send(t, "UADMIN", "remove Dana from strategist on Solo")
		assert.Empty(t, h.store.assignments)
	})
}

func TestAuditMapping_SharedDestination(t *testing.T) {
	out := AuditMapping([]model.Brand{
		{ID: "1", ClientID: "a", Name: "One", SpaceID: "S", ListID: "L"},
		{ID: "2", ClientID: "b", Name: "Two", SpaceID: "S", ListID: "L"},
	}, []model.Client{{ID: "a", Name: "A"}, {ID: "b", Name: "B"}})
	assert.Contains(t, out, "space S list L is shared by A, B")
}

func TestProposeRemediation(t *testing.T) {
	spaces := []model.Space{
		{SpaceID: "S1", Name: "Twin", Active: true},
		{SpaceID: "S2", Name: "twin", Active: true},
		{SpaceID: "S3", Name: "Other", Active: true, BrandID: "linked"},
		{SpaceID: "S4", Name: "Archived", Active: true, Classification: "archive"},
	}
	proposals, skipped := ProposeRemediation([]model.Brand{
		{ID: "twin", Name: "Twin"},
		{ID: "linked", Name: "Renamed"},
		{ID: "archived", Name: "Archived"},
		{ID: "mapped", Name: "Other", ListID: "L"},
	}, spaces)

	require.Len(t, proposals, 1)
	assert.Equal(t, "S3", proposals[0].Space.SpaceID)
	assert.Len(t, skipped, 2)
}
