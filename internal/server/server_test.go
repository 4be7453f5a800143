package server_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/tasklane/internal/dispatch"
	"github.com/ashita-ai/tasklane/internal/model"
	"github.com/ashita-ai/tasklane/internal/orchestrator"
	"github.com/ashita-ai/tasklane/internal/server"
	"github.com/ashita-ai/tasklane/internal/session"
	"github.com/ashita-ai/tasklane/internal/slack"
)

const secret = "test-signing-secret"

type fakeOrchestrator struct {
	mu           sync.Mutex
	messages     []orchestrator.Message
	interactions []orchestrator.Interaction
}

func (f *fakeOrchestrator) HandleMessage(_ context.Context, msg orchestrator.Message) (orchestrator.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	return orchestrator.Outcome{}, nil
}

func (f *fakeOrchestrator) HandleInteraction(_ context.Context, in orchestrator.Interaction) (orchestrator.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interactions = append(f.interactions, in)
	return orchestrator.Outcome{}, nil
}

// syncDispatcher runs jobs inline so assertions see their effects.
type syncDispatcher struct{ names, keys []string }

func (d *syncDispatcher) SubmitKeyed(key, name string, fn dispatch.Job) bool {
	d.names = append(d.names, name)
	d.keys = append(d.keys, key)
	_ = fn(context.Background())
	return true
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type denyLimiter struct{ err error }

func (l denyLimiter) Allow(context.Context, string) (bool, error) { return false, l.err }
func (denyLimiter) Close() error                                  { return nil }

type fixture struct {
	orch     *fakeOrchestrator
	dispatch *syncDispatcher
	handler  http.Handler
}

func newFixture(t *testing.T, mutate func(*server.Config)) *fixture {
	t.Helper()
	f := &fixture{orch: &fakeOrchestrator{}, dispatch: &syncDispatcher{}}
	cfg := server.Config{
		Orchestrator:        f.orch,
		Dispatcher:          f.dispatch,
		DB:                  fakePinger{},
		SigningSecret:       secret,
		Logger:              slog.New(slog.NewTextHandler(io.Discard, nil)),
		MaxRequestBodyBytes: 4096,
		Version:             "test",
	}
	if mutate != nil {
		mutate(&cfg)
	}
	f.handler = server.New(cfg).Handler()
	return f
}

func signedRequest(t *testing.T, path, contentType, body string) *http.Request {
	t.Helper()
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Slack-Request-Timestamp", ts)
	req.Header.Set("X-Slack-Signature", slack.Sign(secret, ts, []byte(body)))
	return req
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

const dmEvent = `{"type":"event_callback","event":{"type":"message","channel_type":"im","user":"U1","channel":"D1","text":"create task for Acme: fix header","ts":"1700000000.000100"}}`

func TestEventsRejectsBadSignature(t *testing.T) {
	f := newFixture(t, nil)
	req := signedRequest(t, "/slack/events", "application/json", dmEvent)
	req.Header.Set("X-Slack-Signature", "v0=deadbeef")

	rec := f.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, f.orch.messages)
}

func TestEventsRejectsMissingSignature(t *testing.T) {
	f := newFixture(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/slack/events", strings.NewReader(dmEvent))

	rec := f.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestEventsRejectedWithoutSigningSecret(t *testing.T) {
	f := newFixture(t, func(c *server.Config) { c.SigningSecret = "" })
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, "/slack/events", strings.NewReader(dmEvent))
	req.Header.Set("X-Slack-Request-Timestamp", ts)
	req.Header.Set("X-Slack-Signature", slack.Sign("", ts, []byte(dmEvent)))

	rec := f.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, f.orch.messages)
}

func TestEventsURLVerification(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(signedRequest(t, "/slack/events", "application/json",
		`{"type":"url_verification","challenge":"abc123"}`))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc123", rec.Body.String())
}

func TestEventsDispatchesDirectMessage(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(signedRequest(t, "/slack/events", "application/json", dmEvent))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.orch.messages, 1)
	msg := f.orch.messages[0]
	assert.Equal(t, "U1", msg.SlackUserID)
	assert.Equal(t, "D1", msg.Channel)
	assert.Equal(t, model.SurfaceIM, msg.Surface)
	assert.Equal(t, "1700000000.000100", msg.TS)
	assert.Equal(t, []string{"slack.message"}, f.dispatch.names)
	assert.Equal(t, []string{session.KeyFor("U1", "D1")}, f.dispatch.keys)
}

func TestEventsRetryIsAcknowledgedWithoutProcessing(t *testing.T) {
	f := newFixture(t, nil)
	req := signedRequest(t, "/slack/events", "application/json", dmEvent)
	req.Header.Set("X-Slack-Retry-Num", "1")

	rec := f.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, f.orch.messages)
}

func TestEventsIgnoresNonDirectMessages(t *testing.T) {
	cases := map[string]string{
		"bot message":     `{"type":"event_callback","event":{"type":"message","channel_type":"im","bot_id":"B1","user":"U1","channel":"D1","text":"hi"}}`,
		"edited message":  `{"type":"event_callback","event":{"type":"message","channel_type":"im","subtype":"message_changed","channel":"D1"}}`,
		"channel message": `{"type":"event_callback","event":{"type":"message","channel_type":"channel","user":"U1","channel":"C1","text":"hi"}}`,
		"no user":         `{"type":"event_callback","event":{"type":"message","channel_type":"im","channel":"D1","text":"hi"}}`,
		"reaction":        `{"type":"event_callback","event":{"type":"reaction_added","user":"U1"}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, nil)
			rec := f.do(signedRequest(t, "/slack/events", "application/json", body))
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Empty(t, f.orch.messages)
		})
	}
}

func TestEventsThrottledUserIsAcknowledged(t *testing.T) {
	f := newFixture(t, func(c *server.Config) { c.Limiter = denyLimiter{} })
	rec := f.do(signedRequest(t, "/slack/events", "application/json", dmEvent))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, f.orch.messages)
}

func TestEventsLimiterErrorFailsOpen(t *testing.T) {
	f := newFixture(t, func(c *server.Config) { c.Limiter = denyLimiter{err: errors.New("boom")} })
	rec := f.do(signedRequest(t, "/slack/events", "application/json", dmEvent))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, f.orch.messages, 1)
}

func TestEventsBodyTooLarge(t *testing.T) {
	f := newFixture(t, func(c *server.Config) { c.MaxRequestBodyBytes = 16 })
	rec := f.do(signedRequest(t, "/slack/events", "application/json", dmEvent))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestInteractionsDispatchBlockAction(t *testing.T) {
	f := newFixture(t, nil)
	payload := `{"type":"block_actions","user":{"id":"U1"},"container":{"channel_id":"D1","message_ts":"1700000000.000200"},` +
		`"actions":[{"action_id":"` + orchestrator.BrandPickAction + `","value":"b-alpha"}]}`
	body := url.Values{"payload": {payload}}.Encode()

	rec := f.do(signedRequest(t, "/slack/interactions", "application/x-www-form-urlencoded", body))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.orch.interactions, 1)
	assert.Equal(t, orchestrator.Interaction{
		SlackUserID: "U1",
		Channel:     "D1",
		MessageTS:   "1700000000.000200",
		ActionID:    orchestrator.BrandPickAction,
		Value:       "b-alpha",
	}, f.orch.interactions[0])
	assert.Equal(t, []string{session.KeyFor("U1", "D1")}, f.dispatch.keys, "clicks queue behind the same user's messages")
}

func TestInteractionsIgnoreOtherPayloads(t *testing.T) {
	f := newFixture(t, nil)
	body := url.Values{"payload": {`{"type":"view_submission","user":{"id":"U1"}}`}}.Encode()

	rec := f.do(signedRequest(t, "/slack/interactions", "application/x-www-form-urlencoded", body))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, f.orch.interactions)
}

func TestHealth(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		f := newFixture(t, nil)
		rec := f.do(httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"ok","version":"test","database":"ok"}`, rec.Body.String())
	})
	t.Run("degraded", func(t *testing.T) {
		f := newFixture(t, func(c *server.Config) { c.DB = fakePinger{err: errors.New("down")} })
		rec := f.do(httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), `"degraded"`)
	})
}

func TestRequestIDEchoed(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec = f.do(req)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}
