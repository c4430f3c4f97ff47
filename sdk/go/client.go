package stratlinesdk

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

// Client is a minimal Stratline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	// OrchestratorKey is the shared secret for the execute endpoints.
	OrchestratorKey string
	HTTPClient      *http.Client
	Timeout         time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Task represents the API task model (partial).
type Task struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Category      string   `json:"category"`
	Priority      int      `json:"priority"`
	Status        string   `json:"status"`
	AssignedAgent *string  `json:"assigned_agent,omitempty"`
	Progress      int      `json:"progress"`
	QualityScore  *float64 `json:"quality_score,omitempty"`
}

// Approval represents a review record for a submitted task.
type Approval struct {
	ID           string  `json:"id"`
	TaskID       string  `json:"task_id"`
	ReviewStatus string  `json:"review_status"`
	SubmittedBy  string  `json:"submitted_by"`
	SubmittedAt  string  `json:"submitted_at"`
	ReviewedBy   *string `json:"reviewed_by,omitempty"`
	DecidedAt    *string `json:"decided_at,omitempty"`
	Notes        *string `json:"notes,omitempty"`
}

// ExecutionLog represents one runner invocation.
type ExecutionLog struct {
	ID         string   `json:"id"`
	AgentName  string   `json:"agent_name"`
	Status     string   `json:"status"`
	TaskIDs    []string `json:"task_ids"`
	Output     string   `json:"output,omitempty"`
	Error      string   `json:"error,omitempty"`
	APICost    float64  `json:"api_cost"`
	TokensUsed int64    `json:"tokens_used"`
	StartedAt  string   `json:"started_at"`
	FinishedAt *string  `json:"finished_at,omitempty"`
}

// ExecutionRequest is the answer to an execute trigger.
type ExecutionRequest struct {
	Status        string `json:"status"`
	Message       string `json:"message"`
	EligibleTasks int    `json:"eligible_tasks"`
	Limit         int    `json:"limit"`
	NextCheck     string `json:"next_check"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityID   string `json:"entity_id"`
	EntityKind string `json:"entity_kind"`
	Payload    string `json:"payload_json"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// CreateTask creates a task.
func (c *Client) CreateTask(ctx context.Context, title, category string, priority int) (Task, error) {
	body := map[string]any{
		"title":    title,
		"category": category,
	}
	if priority > 0 {
		body["priority"] = priority
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, "v1/tasks", body, &resp)
	return resp, err
}

// GetTask fetches a task by id.
func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v1/tasks/%s", url.PathEscape(id)), nil, &resp)
	return resp, err
}

// ListTasks returns tasks, optionally filtered by status and category.
func (c *Client) ListTasks(ctx context.Context, status, category string) ([]Task, error) {
	var resp struct {
		Items []Task `json:"items"`
	}
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if category != "" {
		q.Set("category", category)
	}
	endpoint := "v1/tasks"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// TransitionStatus moves a task to a new status.
func (c *Client) TransitionStatus(ctx context.Context, id, status string) (Task, error) {
	var resp Task
	endpoint := fmt.Sprintf("v1/tasks/%s/status", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"status": status}, &resp)
	return resp, err
}

// SubmitForReview submits a task for approval.
func (c *Client) SubmitForReview(ctx context.Context, taskID, submittedBy, notes string) (Approval, error) {
	body := map[string]any{
		"submitted_by": submittedBy,
		"notes":        notes,
	}
	var resp Approval
	endpoint := fmt.Sprintf("v1/tasks/%s/submit", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// DecideApproval records an approve or reject decision.
func (c *Client) DecideApproval(ctx context.Context, approvalID, outcome, reviewedBy, notes string) (Approval, error) {
	body := map[string]any{
		"outcome":     outcome,
		"reviewed_by": reviewedBy,
		"notes":       notes,
	}
	var resp Approval
	endpoint := fmt.Sprintf("v1/approvals/%s/decide", url.PathEscape(approvalID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// TriggerExecution asks the service whether work is available. The
// orchestrator key travels in the X-Api-Key header.
func (c *Client) TriggerExecution(ctx context.Context, limit int, dryRun bool) (ExecutionRequest, error) {
	body := map[string]any{}
	if limit > 0 {
		body["limit"] = limit
	}
	if dryRun {
		body["dry_run"] = true
	}
	var resp ExecutionRequest
	err := c.do(ctx, http.MethodPost, "v1/execute", body, &resp)
	return resp, err
}

// StartLog reports the start of a runner invocation.
func (c *Client) StartLog(ctx context.Context, agentName string, taskIDs []string) (ExecutionLog, error) {
	body := map[string]any{
		"agent_name": agentName,
		"task_ids":   taskIDs,
	}
	var resp ExecutionLog
	err := c.do(ctx, http.MethodPost, "v1/logs", body, &resp)
	return resp, err
}

// FinishLog closes a running log with its outcome.
func (c *Client) FinishLog(ctx context.Context, id, status, output, errText string, apiCost float64, tokensUsed int64) (ExecutionLog, error) {
	body := map[string]any{
		"status":      status,
		"output":      output,
		"error":       errText,
		"api_cost":    apiCost,
		"tokens_used": tokensUsed,
	}
	var resp ExecutionLog
	endpoint := fmt.Sprintf("v1/logs/%s/finish", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := "v1/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(strings.SplitN(endpoint, "?", 2)[0], "execute") && c.OrchestratorKey != "":
		req.Header.Set("X-Api-Key", c.OrchestratorKey)
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
