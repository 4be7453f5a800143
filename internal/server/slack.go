package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/tidwall/gjson"

	"github.com/ashita-ai/tasklane/internal/ctxutil"
	"github.com/ashita-ai/tasklane/internal/model"
	"github.com/ashita-ai/tasklane/internal/orchestrator"
	"github.com/ashita-ai/tasklane/internal/ratelimit"
	"github.com/ashita-ai/tasklane/internal/session"
	"github.com/ashita-ai/tasklane/internal/slack"
)

const headerRetryNum = "X-Slack-Retry-Num"

type handlers struct {
	orch       Orchestrator
	dispatcher Dispatcher
	db         Pinger
	limiter    ratelimit.Limiter
	secret     string
	logger     *slog.Logger
	version    string
	maxBody    int64
	now        func() time.Time
}

// verifiedBody reads the body and checks Slack's request signature. It
// writes the error response itself and returns ok=false on failure.
func (h *handlers) verifiedBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return nil, false
		}
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return nil, false
	}
	if h.secret == "" {
		h.logger.Error("slack: signing secret not configured, rejecting request")
		http.Error(w, "webhook not configured", http.StatusUnauthorized)
		return nil, false
	}
	if err := slack.VerifySignature(h.secret, r.Header, body, h.now()); err != nil {
		h.logger.Warn("slack: rejected request", "error", err, "request_id", RequestIDFromContext(r.Context()))
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return nil, false
	}
	return body, true
}

// slackEvents handles the Events API. Every accepted event is acknowledged
// before any work runs; Slack retries are acknowledged without reprocessing.
func (h *handlers) slackEvents(w http.ResponseWriter, r *http.Request) {
	body, ok := h.verifiedBody(w, r)
	if !ok {
		return
	}

	switch gjson.GetBytes(body, "type").String() {
	case "url_verification":
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, gjson.GetBytes(body, "challenge").String())
		return
	case "event_callback":
	default:
		w.WriteHeader(http.StatusOK)
		return
	}

	if r.Header.Get(headerRetryNum) != "" {
		w.Header().Set("X-Slack-No-Retry", "1")
		w.WriteHeader(http.StatusOK)
		return
	}

	if msg, ok := directMessage(gjson.GetBytes(body, "event")); ok {
		h.submitMessage(r.Context(), msg)
	}
	w.WriteHeader(http.StatusOK)
}

// directMessage extracts a human-authored DM. Bot posts, edits and other
// subtypes are ignored so the bot never answers itself.
func directMessage(ev gjson.Result) (orchestrator.Message, bool) {
	if ev.Get("type").String() != "message" || ev.Get("channel_type").String() != "im" {
		return orchestrator.Message{}, false
	}
	if ev.Get("bot_id").Exists() || ev.Get("subtype").Exists() {
		return orchestrator.Message{}, false
	}
	msg := orchestrator.Message{
		SlackUserID: ev.Get("user").String(),
		Channel:     ev.Get("channel").String(),
		Surface:     model.SurfaceIM,
		Text:        ev.Get("text").String(),
		TS:          ev.Get("ts").String(),
	}
	if msg.SlackUserID == "" || msg.Channel == "" {
		return orchestrator.Message{}, false
	}
	return msg, true
}

func (h *handlers) submitMessage(ctx context.Context, msg orchestrator.Message) {
	allowed, err := h.limiter.Allow(ctx, ratelimit.SlackUserKey(msg.SlackUserID))
	if err != nil {
		h.logger.Warn("slack: rate limiter failed, allowing", "error", err)
		allowed = true
	}
	if !allowed {
		h.logger.Warn("slack: message throttled", "slack_user_id", msg.SlackUserID, "ts", msg.TS)
		return
	}
	reqID := RequestIDFromContext(ctx)
	h.dispatcher.SubmitKeyed(session.KeyFor(msg.SlackUserID, msg.Channel), "slack.message", func(ctx context.Context) error {
		_, err := h.orch.HandleMessage(ctxutil.WithRequestID(ctx, reqID), msg)
		return err
	})
}

// slackInteractions handles block action payloads (form field "payload").
func (h *handlers) slackInteractions(w http.ResponseWriter, r *http.Request) {
	body, ok := h.verifiedBody(w, r)
	if !ok {
		return
	}
	form, err := url.ParseQuery(string(body))
	if err != nil {
		http.Error(w, "malformed form body", http.StatusBadRequest)
		return
	}
	payload := gjson.Parse(form.Get("payload"))
	if payload.Get("type").String() != "block_actions" {
		w.WriteHeader(http.StatusOK)
		return
	}

	action := payload.Get("actions.0")
	in := orchestrator.Interaction{
		SlackUserID: payload.Get("user.id").String(),
		Channel:     firstNonEmpty(payload.Get("channel.id").String(), payload.Get("container.channel_id").String()),
		MessageTS:   firstNonEmpty(payload.Get("message.ts").String(), payload.Get("container.message_ts").String()),
		ActionID:    action.Get("action_id").String(),
		Value:       action.Get("value").String(),
	}
	if in.SlackUserID != "" && in.ActionID != "" {
		reqID := RequestIDFromContext(r.Context())
		h.dispatcher.SubmitKeyed(session.KeyFor(in.SlackUserID, in.Channel), "slack.interaction", func(ctx context.Context) error {
			_, err := h.orch.HandleInteraction(ctxutil.WithRequestID(ctx, reqID), in)
			return err
		})
	}
	w.WriteHeader(http.StatusOK)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

type healthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version,omitempty"`
	Database string `json:"database,omitempty"`
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Version: h.version}
	status := http.StatusOK
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		resp.Database = "ok"
		if err := h.db.Ping(ctx); err != nil {
			h.logger.Warn("health: database ping failed", "error", err)
			resp.Status, resp.Database = "degraded", "unreachable"
			status = http.StatusServiceUnavailable
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
