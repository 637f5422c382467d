package boardflowsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Boardflow HTTP API client. Every response arrives in
// the {success, data, error} envelope; the client unwraps it.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, bearerToken string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BearerToken: bearerToken,
		Timeout:     10 * time.Second,
	}
}

// Task represents the API task model (partial).
type Task struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	ColumnID  string `json:"column_id"`
	Title     string `json:"title"`
	Status    string `json:"status"`
	Priority  string `json:"priority"`
	Position  int    `json:"position"`
}

// Column represents the API column model (partial).
type Column struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Title     string `json:"title"`
	Position  int    `json:"position"`
}

// Event represents one audit log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// ToolResult is one tool execution from an assistant turn.
type ToolResult struct {
	Tool    string          `json:"tool"`
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// AssistantResponse is the aggregated assistant outcome (partial).
type AssistantResponse struct {
	Type          string       `json:"type"`
	Message       string       `json:"message"`
	TokensUsed    int          `json:"tokensUsed"`
	ExecutionTime int64        `json:"executionTime"`
	CreatedTasks  []Task       `json:"createdTasks,omitempty"`
	ToolResults   []ToolResult `json:"toolResults,omitempty"`
	Confidence    float64      `json:"confidence,omitempty"`
}

// Analytics is the per-project rollup.
type Analytics struct {
	ProjectID       string         `json:"project_id"`
	TotalTasks      int            `json:"total_tasks"`
	TotalColumns    int            `json:"total_columns"`
	TasksByStatus   map[string]int `json:"tasks_by_status"`
	TasksByPriority map[string]int `json:"tasks_by_priority"`
	TokenEstimate   int            `json:"token_estimate_total"`
	TokensUsed      int            `json:"tokens_used_total"`
	AvgProgress     float64        `json:"avg_progress"`
}

// APIError wraps error envelopes and non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Metadata map[string]any `json:"metadata"`
}

// CreateTask creates a task in a column.
func (c *Client) CreateTask(ctx context.Context, projectID, columnID, title string) (Task, error) {
	body := map[string]any{"column_id": columnID, "title": title}
	var t Task
	endpoint := fmt.Sprintf("v1/projects/%s/tasks", url.PathEscape(projectID))
	_, err := c.do(ctx, http.MethodPost, endpoint, body, &t)
	return t, err
}

// MoveTask moves a task to a column, optionally at an explicit position.
func (c *Client) MoveTask(ctx context.Context, taskID, columnID string, position *int) (Task, error) {
	body := map[string]any{"column_id": columnID}
	if position != nil {
		body["position"] = *position
	}
	var t Task
	endpoint := fmt.Sprintf("v1/tasks/%s/move", url.PathEscape(taskID))
	_, err := c.do(ctx, http.MethodPost, endpoint, body, &t)
	return t, err
}

// Columns lists a project's columns in board order.
func (c *Client) Columns(ctx context.Context, projectID string) ([]Column, error) {
	var cols []Column
	endpoint := fmt.Sprintf("v1/projects/%s/columns", url.PathEscape(projectID))
	_, err := c.do(ctx, http.MethodGet, endpoint, nil, &cols)
	return cols, err
}

// TasksPage lists tasks with keyset pagination. An empty cursor starts from
// the newest task; the returned cursor is empty on the last page.
func (c *Client) TasksPage(ctx context.Context, projectID string, limit int, cursor string) ([]Task, string, error) {
	endpoint := fmt.Sprintf("v1/projects/%s/tasks", url.PathEscape(projectID))
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	if encoded := params.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}
	var tasks []Task
	meta, err := c.do(ctx, http.MethodGet, endpoint, nil, &tasks)
	if err != nil {
		return nil, "", err
	}
	next, _ := meta["next_cursor"].(string)
	return tasks, next, nil
}

// Events returns a project's audit events after the given id.
func (c *Client) Events(ctx context.Context, projectID string, afterID int64, limit int) ([]Event, error) {
	endpoint := fmt.Sprintf("v1/projects/%s/events?after=%d&limit=%d", url.PathEscape(projectID), afterID, limit)
	var events []Event
	_, err := c.do(ctx, http.MethodGet, endpoint, nil, &events)
	return events, err
}

// Analytics returns the project rollup.
func (c *Client) Analytics(ctx context.Context, projectID string) (Analytics, error) {
	var a Analytics
	endpoint := fmt.Sprintf("v1/projects/%s/analytics", url.PathEscape(projectID))
	_, err := c.do(ctx, http.MethodGet, endpoint, nil, &a)
	return a, err
}

// Assistant runs one natural-language turn against a project.
func (c *Client) Assistant(ctx context.Context, projectID, input string) (AssistantResponse, error) {
	body := map[string]any{"input": input, "projectId": projectID}
	var resp AssistantResponse
	_, err := c.do(ctx, http.MethodPost, "v1/assistant", body, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) (map[string]any, error) {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	u := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, u, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	var env envelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, &APIError{StatusCode: resp.StatusCode, Message: string(raw)}
		}
	}
	if resp.StatusCode >= 300 || !env.Success {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return nil, apiErr
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return nil, err
		}
	}
	return env.Metadata, nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
