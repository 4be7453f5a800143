// Package clickup is the ClickUp API v2 collaborator.
//
// Reads go through go-retryablehttp and retry on 429 and 5xx. CreateTask is
// a single attempt: the caller wraps it in reliability.RetryWithBackoff
// behind an idempotency key.
package clickup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"

	"github.com/ashita-ai/tasklane/internal/model"
)

// maxPages stops runaway pagination.
const maxPages = 100

// Client calls the ClickUp API for one workspace (team).
type Client struct {
	token   string
	teamID  string
	baseURL string
	http    *http.Client
	reads   *retryablehttp.Client
}

// NewClient creates a Client. An empty token or team id makes every call
// fail with ErrConfiguration.
func NewClient(token, teamID string, logger *slog.Logger) *Client {
	reads := retryablehttp.NewClient()
	reads.Logger = logger
	reads.RetryMax = 3
	reads.RetryWaitMin = time.Second
	reads.RetryWaitMax = 10 * time.Second
	reads.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return &Client{
		token:   token,
		teamID:  teamID,
		baseURL: "https://api.clickup.com/api/v2",
		http:    &http.Client{Timeout: 15 * time.Second},
		reads:   reads,
	}
}

// WithBaseURL points the client at another API root (tests).
func (c *Client) WithBaseURL(u string) *Client {
	c.baseURL = u
	return c
}

// WithReadRetries sets how many times reads are retried.
func (c *Client) WithReadRetries(n int, waitMin, waitMax time.Duration) *Client {
	c.reads.RetryMax = n
	c.reads.RetryWaitMin = waitMin
	c.reads.RetryWaitMax = waitMax
	return c
}

// NewTask is the body of a task creation.
type NewTask struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// CreateTask creates a task in listID.
func (c *Client) CreateTask(ctx context.Context, listID string, t NewTask) (model.Task, error) {
	const op = "create task"
	if err := c.configured(op); err != nil {
		return model.Task{}, err
	}
	if listID == "" || t.Name == "" {
		return model.Task{}, &Error{Kind: ErrValidation, Op: op, Message: "list id and name are required"}
	}
	data, err := json.Marshal(t)
	if err != nil {
		return model.Task{}, &Error{Kind: ErrValidation, Op: op, Message: err.Error()}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/list/"+url.PathEscape(listID)+"/task", bytes.NewReader(data))
	if err != nil {
		return model.Task{}, &Error{Kind: ErrValidation, Op: op, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return model.Task{}, &Error{Kind: ErrAPI, Op: op, Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := readBody(op, resp)
	if err != nil {
		return model.Task{}, err
	}
	task := parseTask(gjson.ParseBytes(body))
	if task.ID == "" {
		return model.Task{}, &Error{Kind: ErrAPI, Op: op, Message: "response has no task id"}
	}
	if task.ListID == "" {
		task.ListID = listID
	}
	return task, nil
}

// GetTasksInListAllPages returns every task in listID updated after since
// (all tasks when since is zero), following pagination.
func (c *Client) GetTasksInListAllPages(ctx context.Context, listID string, since time.Time) ([]model.Task, error) {
	const op = "get tasks"
	if err := c.configured(op); err != nil {
		return nil, err
	}
	var tasks []model.Task
	for page := 0; page < maxPages; page++ {
		q := url.Values{
			"page":           {strconv.Itoa(page)},
			"include_closed": {"true"},
			"subtasks":       {"true"},
		}
		if !since.IsZero() {
			q.Set("date_updated_gt", strconv.FormatInt(since.UnixMilli(), 10))
		}
		body, err := c.get(ctx, op, "/list/"+url.PathEscape(listID)+"/task?"+q.Encode())
		if err != nil {
			return nil, err
		}
		res := gjson.ParseBytes(body)
		batch := res.Get("tasks").Array()
		for _, t := range batch {
			tasks = append(tasks, parseTask(t))
		}
		if len(batch) == 0 || res.Get("last_page").Bool() {
			return tasks, nil
		}
	}
	return tasks, nil
}

// ListSpaces returns the workspace's non-archived spaces.
func (c *Client) ListSpaces(ctx context.Context) ([]model.Space, error) {
	const op = "list spaces"
	if err := c.configured(op); err != nil {
		return nil, err
	}
	body, err := c.get(ctx, op, "/team/"+url.PathEscape(c.teamID)+"/space?archived=false")
	if err != nil {
		return nil, err
	}
	var spaces []model.Space
	for _, s := range gjson.GetBytes(body, "spaces").Array() {
		spaces = append(spaces, model.Space{
			SpaceID: s.Get("id").String(),
			TeamID:  c.teamID,
			Name:    s.Get("name").String(),
		})
	}
	return spaces, nil
}

// ListLists returns the non-archived folderless lists of a space.
func (c *Client) ListLists(ctx context.Context, spaceID string) ([]model.List, error) {
	const op = "list lists"
	if err := c.configured(op); err != nil {
		return nil, err
	}
	body, err := c.get(ctx, op, "/space/"+url.PathEscape(spaceID)+"/list?archived=false")
	if err != nil {
		return nil, err
	}
	var lists []model.List
	for _, l := range gjson.GetBytes(body, "lists").Array() {
		lists = append(lists, model.List{
			ID:      l.Get("id").String(),
			Name:    l.Get("name").String(),
			SpaceID: spaceID,
		})
	}
	return lists, nil
}

// ListMembers returns the members of the configured workspace.
func (c *Client) ListMembers(ctx context.Context) ([]model.ClickUpUser, error) {
	const op = "list members"
	if err := c.configured(op); err != nil {
		return nil, err
	}
	body, err := c.get(ctx, op, "/team")
	if err != nil {
		return nil, err
	}
	var users []model.ClickUpUser
	for _, team := range gjson.GetBytes(body, "teams").Array() {
		if team.Get("id").String() != c.teamID {
			continue
		}
		for _, m := range team.Get("members").Array() {
			u := m.Get("user")
			users = append(users, model.ClickUpUser{
				ID:       u.Get("id").String(),
				Username: u.Get("username").String(),
				Email:    u.Get("email").String(),
			})
		}
	}
	return users, nil
}

func (c *Client) configured(op string) error {
	if c.token == "" || c.teamID == "" {
		return &Error{Kind: ErrConfiguration, Op: op, Message: "CLICKUP_API_TOKEN and CLICKUP_TEAM_ID are required"}
	}
	return nil
}

func (c *Client) get(ctx context.Context, op, path string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, &Error{Kind: ErrValidation, Op: op, Message: err.Error()}
	}
	req.Header.Set("Authorization", c.token)
	resp, err := c.reads.Do(req)
	if err != nil && resp == nil {
		return nil, &Error{Kind: ErrAPI, Op: op, Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()
	return readBody(op, resp)
}

func readBody(op string, resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, &Error{Kind: ErrAPI, Op: op, Message: fmt.Sprintf("read response: %v", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := gjson.GetBytes(body, "err").String()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &Error{Kind: kindForStatus(resp.StatusCode), Op: op, Status: resp.StatusCode, Message: msg}
	}
	return body, nil
}

func parseTask(t gjson.Result) model.Task {
	task := model.Task{
		ID:     t.Get("id").String(),
		Name:   t.Get("name").String(),
		URL:    t.Get("url").String(),
		Status: t.Get("status.status").String(),
		ListID: t.Get("list.id").String(),
	}
	if ms := t.Get("date_updated").Int(); ms > 0 {
		task.DateUpdated = time.UnixMilli(ms).UTC()
	}
	return task
}
