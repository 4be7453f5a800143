package storage_test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/tasklane/internal/identity"
	"github.com/ashita-ai/tasklane/internal/model"
	"github.com/ashita-ai/tasklane/internal/storage"
	"github.com/ashita-ai/tasklane/internal/testutil"
)

// testDB holds a shared test database connection for all tests in this package.
var testDB *storage.DB

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(0)
	}

	tc := testutil.MustStartPostgres()
	var err error
	testDB, err = tc.NewTestDB(context.Background(), testutil.TestLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create DB: %v\n", err)
		tc.Terminate()
		os.Exit(1)
	}

	code := m.Run()

	testDB.Close()
	tc.Terminate()
	os.Exit(code)
}

func newClient(t *testing.T, name string) model.Client {
	t.Helper()
	c := model.Client{ID: uuid.NewString(), Name: name + " " + uuid.NewString()[:8]}
	require.NoError(t, testDB.UpsertClient(context.Background(), c))
	return c
}

func TestMigrationsAreIdempotent(t *testing.T) {
	require.NoError(t, testDB.RunMigrations(context.Background(), os.DirFS("../../migrations")))
}

func TestGetClientNotFound(t *testing.T) {
	_, err := testDB.GetClient(context.Background(), "missing")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestFindClientsPrefersExactMatch(t *testing.T) {
	ctx := context.Background()
	suffix := uuid.NewString()[:8]
	exact := model.Client{ID: uuid.NewString(), Name: "Acme" + suffix}
	longer := model.Client{ID: uuid.NewString(), Name: "Acme" + suffix + " Holdings"}
	require.NoError(t, testDB.UpsertClient(ctx, exact))
	require.NoError(t, testDB.UpsertClient(ctx, longer))

	got, err := testDB.FindClients(ctx, "acme"+suffix)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, exact.ID, got[0].ID)

	got, err = testDB.FindClients(ctx, suffix)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestBrandLifecycle(t *testing.T) {
	ctx := context.Background()
	c := newClient(t, "Distex")

	b, err := testDB.CreateBrand(ctx, model.Brand{ClientID: c.ID, Name: "Shine"})
	require.NoError(t, err)
	require.NotEmpty(t, b.ID)

	_, err = testDB.CreateBrand(ctx, model.Brand{ClientID: c.ID, Name: "shine"})
	assert.True(t, errors.Is(err, storage.ErrConflict), "brand names are unique per client ignoring case")

	require.NoError(t, testDB.UpdateBrandDestination(ctx, c.ID, b.ID, "sp1", "l1"))
	got, err := testDB.GetBrand(ctx, c.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "sp1", got.SpaceID)
	assert.Equal(t, "l1", got.ListID)
	assert.True(t, got.Mapped())

	require.NoError(t, testDB.RenameBrand(ctx, c.ID, b.ID, "Shine Pro"))
	brands, err := testDB.ListBrands(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, brands, 1)
	assert.Equal(t, "Shine Pro", brands[0].Name)
}

func TestUpdateBrandDestinationIsScopedToClient(t *testing.T) {
	ctx := context.Background()
	owner := newClient(t, "Owner")
	other := newClient(t, "Other")
	b, err := testDB.CreateBrand(ctx, model.Brand{ClientID: owner.ID, Name: "Glow"})
	require.NoError(t, err)

	err = testDB.UpdateBrandDestination(ctx, other.ID, b.ID, "sp9", "l9")
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	got, err := testDB.GetBrand(ctx, owner.ID, b.ID)
	require.NoError(t, err)
	assert.False(t, got.Mapped())
}

func TestUpsertSpacePreservesOperatorFields(t *testing.T) {
	ctx := context.Background()
	id := "sp-" + uuid.NewString()[:8]
	seen := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, testDB.UpsertSpace(ctx, model.Space{SpaceID: id, TeamID: "t1", Name: "Old"}, seen))
	require.NoError(t, testDB.ClassifySpace(ctx, id, "brand", ""))
	require.NoError(t, testDB.UpsertSpace(ctx, model.Space{SpaceID: id, TeamID: "t1", Name: "New"}, seen.Add(time.Hour)))

	spaces, err := testDB.ListSpaces(ctx)
	require.NoError(t, err)
	var got *model.Space
	for i := range spaces {
		if spaces[i].SpaceID == id {
			got = &spaces[i]
		}
	}
	require.NotNil(t, got)
	assert.Equal(t, "New", got.Name)
	assert.Equal(t, "brand", got.Classification)
	assert.True(t, got.Active)
	require.NotNil(t, got.LastSyncedAt)
	assert.WithinDuration(t, seen.Add(time.Hour), *got.LastSyncedAt, time.Second)

	assert.True(t, errors.Is(testDB.ClassifySpace(ctx, "nope", "brand", ""), storage.ErrNotFound))
}

func TestDefaultClientPreferences(t *testing.T) {
	ctx := context.Background()
	c := newClient(t, "Pref")
	user := "U" + uuid.NewString()[:8]

	got, err := testDB.GetDefaultClient(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, testDB.SetDefaultClient(ctx, user, c.ID))
	got, err = testDB.GetDefaultClient(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, c.ID, got)

	require.NoError(t, testDB.ClearDefaults(ctx, user))
	got, err = testDB.GetDefaultClient(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	key := "slack:U1:" + uuid.NewString()

	data, err := testDB.GetSession(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, data)

	require.NoError(t, testDB.SaveSession(ctx, key, []byte(`{"key":"a"}`)))
	require.NoError(t, testDB.SaveSession(ctx, key, []byte(`{"key":"b"}`)))
	data, err = testDB.GetSession(ctx, key)
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"b"}`, string(data))
}

func TestFindAgentTaskByKeyHonoursWindow(t *testing.T) {
	ctx := context.Background()
	c := newClient(t, "Dup")
	key := uuid.NewString()
	now := time.Now().UTC()

	_, err := testDB.InsertAgentTask(ctx, model.AgentTask{
		ClientID: c.ID, Title: "old", IdempotencyKey: key, Status: "created",
		ClickUpTaskID: "cu-old", CreatedAt: now.Add(-48 * time.Hour),
	})
	require.NoError(t, err)

	m, err := testDB.FindAgentTaskByKey(ctx, key, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Nil(t, m)

	recent, err := testDB.InsertAgentTask(ctx, model.AgentTask{
		ClientID: c.ID, Title: "new", IdempotencyKey: key, Status: "created",
		ClickUpTaskID: "cu-new", ClickUpTaskURL: "https://app.clickup.com/t/cu-new",
	})
	require.NoError(t, err)

	m, err = testDB.FindAgentTaskByKey(ctx, key, now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, recent.ID, m.AgentTaskID)
	assert.Equal(t, "cu-new", m.ClickUpTaskID)
	assert.Equal(t, "https://app.clickup.com/t/cu-new", m.ClickUpURL)

	tasks, err := testDB.RecentAgentTasks(ctx, c.ID, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "new", tasks[0].Title)
}

func TestAuditEventStoresEmptyIDsAsNull(t *testing.T) {
	ctx := context.Background()
	eventType := "test_event_" + uuid.NewString()[:8]

	require.NoError(t, testDB.InsertAuditEvent(ctx, model.AuditEvent{
		EventType: eventType,
		Payload:   map[string]any{"reason": "x"},
	}))

	var nulls int
	require.NoError(t, testDB.Pool().QueryRow(ctx,
		`SELECT count(*) FROM audit_events WHERE event_type = $1 AND client_id IS NULL AND employee_id IS NULL`,
		eventType).Scan(&nulls))
	assert.Equal(t, 1, nulls)

	events, err := testDB.ListAuditEvents(ctx, eventType, 5)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "x", events[0].Payload["reason"])
	assert.Empty(t, events[0].ClientID)
}

func TestMarkInteractionOnlyOnce(t *testing.T) {
	ctx := context.Background()
	ts := uuid.NewString()

	first, err := testDB.MarkInteraction(ctx, "U1", "message", ts)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := testDB.MarkInteraction(ctx, "U1", "message", ts)
	require.NoError(t, err)
	assert.False(t, again)

	other, err := testDB.MarkInteraction(ctx, "U1", "brand_pick", ts)
	require.NoError(t, err)
	assert.True(t, other)
}

func TestUpdateProfileIdentityNeverClears(t *testing.T) {
	ctx := context.Background()
	p := model.Profile{
		ID:          uuid.NewString(),
		Name:        "Ana",
		Email:       "ana-" + uuid.NewString()[:8] + "@example.com",
		SlackUserID: "U" + uuid.NewString()[:8],
	}
	require.NoError(t, testDB.InsertProfile(ctx, p))

	cu := "cu-" + uuid.NewString()[:8]
	require.NoError(t, testDB.UpdateProfileIdentity(ctx, p.ID, identity.Update{ClickUpUserID: cu}))

	got, err := testDB.GetProfileBySlackID(ctx, p.SlackUserID)
	require.NoError(t, err)
	assert.Equal(t, p.Email, got.Email)
	assert.Equal(t, cu, got.ClickUpUserID)
	assert.Equal(t, model.RoleMember, got.Role)

	err = testDB.UpdateProfileIdentity(ctx, "missing", identity.Update{Email: "x@example.com"})
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestAssignments(t *testing.T) {
	ctx := context.Background()
	c := newClient(t, "Assign")
	p := model.Profile{ID: uuid.NewString(), Name: "Bo"}
	require.NoError(t, testDB.InsertProfile(ctx, p))

	a := model.Assignment{ClientID: c.ID, ProfileID: p.ID, Role: "strategist"}
	created, err := testDB.UpsertAssignment(ctx, a)
	require.NoError(t, err)
	assert.True(t, created)
	created, err = testDB.UpsertAssignment(ctx, a)
	require.NoError(t, err)
	assert.False(t, created)

	list, err := testDB.ListAssignments(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Bo", list[0].ProfileName)

	removed, err := testDB.RemoveAssignment(ctx, a)
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = testDB.RemoveAssignment(ctx, a)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestSearchKnowledgeTiers(t *testing.T) {
	ctx := context.Background()
	c := newClient(t, "KB")
	word := "zq" + uuid.NewString()[:6]

	_, err := testDB.UpsertKnowledgeDoc(ctx, model.KnowledgeDoc{
		ClientID: &c.ID, Title: "Launch checklist", Body: "Steps for " + word + " launches",
	}, nil)
	require.NoError(t, err)
	vec := pgvector.NewVector([]float32{1, 0, 0})
	global, err := testDB.UpsertKnowledgeDoc(ctx, model.KnowledgeDoc{
		Title: "Global policy", Body: "Applies to everyone " + word,
	}, &vec)
	require.NoError(t, err)

	docs, err := testDB.SearchKnowledge(ctx, c.ID, []string{word}, 5)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Launch checklist", docs[0].Title)

	docs, err = testDB.SearchKnowledge(ctx, "", []string{word}, 5)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Nil(t, docs[0].ClientID)

	docs, err = testDB.SearchKnowledgeByVector(ctx, c.ID, pgvector.NewVector([]float32{0.9, 0.1, 0}), 5)
	require.NoError(t, err)
	require.NotEmpty(t, docs)
	assert.Equal(t, global.ID, docs[0].ID)
}
