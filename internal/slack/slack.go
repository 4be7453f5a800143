// Package slack is the outbound Slack Web API collaborator and the inbound
// request-signature check used by the webhook adapter.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"

	"github.com/ashita-ai/tasklane/internal/model"
)

// ErrNotConfigured is returned when no bot token is set.
var ErrNotConfigured = errors.New("slack: bot token not configured")

// Button is an interactive button attached to a message. ActionID and Value
// come back in the interaction payload.
type Button struct {
	Text     string
	ActionID string
	Value    string
}

// Poster sends and edits messages. Posts are not retried.
type Poster interface {
	PostMessage(ctx context.Context, channel, text string, buttons ...Button) (string, error)
	UpdateMessage(ctx context.Context, channel, ts, text string) error
}

// Directory lists workspace members.
type Directory interface {
	ListUsers(ctx context.Context) ([]model.SlackUser, error)
}

// Client talks to the Slack Web API.
type Client struct {
	token   string
	baseURL string
	http    *http.Client
	reads   *retryablehttp.Client
}

// NewClient creates a Client. Reads retry on 429 and 5xx; writes never retry.
func NewClient(token string, logger *slog.Logger) *Client {
	reads := retryablehttp.NewClient()
	reads.Logger = logger
	reads.RetryMax = 3
	reads.RetryWaitMin = 500 * time.Millisecond
	reads.RetryWaitMax = 5 * time.Second
	return &Client{
		token:   token,
		baseURL: "https://slack.com/api",
		http:    &http.Client{Timeout: 10 * time.Second},
		reads:   reads,
	}
}

// WithBaseURL points the client at another API root (tests).
func (c *Client) WithBaseURL(u string) *Client {
	c.baseURL = u
	return c
}

type actionsBlock struct {
	Type     string          `json:"type"`
	Elements []buttonElement `json:"elements"`
}

type buttonElement struct {
	Type     string    `json:"type"`
	Text     plainText `json:"text"`
	ActionID string    `json:"action_id"`
	Value    string    `json:"value"`
}

type plainText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type postMessageRequest struct {
	Channel string `json:"channel"`
	Text    string `json:"text"`
	TS      string `json:"ts,omitempty"`
	Blocks  []any  `json:"blocks,omitempty"`
}

// PostMessage posts text to channel and returns the message timestamp.
// Buttons, if any, are rendered as one actions row under the text.
func (c *Client) PostMessage(ctx context.Context, channel, text string, buttons ...Button) (string, error) {
	req := postMessageRequest{Channel: channel, Text: text}
	if len(buttons) > 0 {
		section := map[string]any{"type": "section", "text": map[string]string{"type": "mrkdwn", "text": text}}
		row := actionsBlock{Type: "actions"}
		for _, b := range buttons {
			row.Elements = append(row.Elements, buttonElement{
				Type:     "button",
				Text:     plainText{Type: "plain_text", Text: b.Text},
				ActionID: b.ActionID,
				Value:    b.Value,
			})
		}
		req.Blocks = []any{section, row}
	}
	body, err := c.call(ctx, "chat.postMessage", req)
	if err != nil {
		return "", err
	}
	return gjson.GetBytes(body, "ts").String(), nil
}

// UpdateMessage replaces the text of an existing message.
func (c *Client) UpdateMessage(ctx context.Context, channel, ts, text string) error {
	_, err := c.call(ctx, "chat.update", postMessageRequest{Channel: channel, TS: ts, Text: text})
	return err
}

func (c *Client) call(ctx context.Context, method string, payload any) ([]byte, error) {
	if c.token == "" {
		return nil, ErrNotConfigured
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("slack: %s: marshal: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("slack: %s: create request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("slack: %s: %w", method, err)
	}
	defer func() { _ = resp.Body.Close() }()
	return readOK(method, resp)
}

func readOK(method string, resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("slack: %s: read response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("slack: %s: status %d", method, resp.StatusCode)
	}
	if !gjson.GetBytes(body, "ok").Bool() {
		return nil, fmt.Errorf("slack: %s: %s", method, gjson.GetBytes(body, "error").String())
	}
	return body, nil
}

// ListUsers pages through users.list.
func (c *Client) ListUsers(ctx context.Context) ([]model.SlackUser, error) {
	if c.token == "" {
		return nil, ErrNotConfigured
	}
	var users []model.SlackUser
	cursor := ""
	for {
		q := url.Values{"limit": {"200"}}
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/users.list?"+q.Encode(), nil)
		if err != nil {
			return nil, fmt.Errorf("slack: users.list: create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)

		resp, err := c.reads.Do(req)
		if err != nil {
			return nil, fmt.Errorf("slack: users.list: %w", err)
		}
		body, err := readOK("users.list", resp)
		_ = resp.Body.Close()
		if err != nil {
			return nil, err
		}

		for _, m := range gjson.GetBytes(body, "members").Array() {
			users = append(users, model.SlackUser{
				ID:       m.Get("id").String(),
				Name:     m.Get("name").String(),
				RealName: m.Get("profile.real_name").String(),
				Email:    m.Get("profile.email").String(),
				IsBot:    m.Get("is_bot").Bool() || m.Get("id").String() == "USLACKBOT",
				Deleted:  m.Get("deleted").Bool(),
			})
		}
		cursor = gjson.GetBytes(body, "response_metadata.next_cursor").String()
		if cursor == "" {
			return users, nil
		}
	}
}
