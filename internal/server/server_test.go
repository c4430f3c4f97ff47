package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"stratline/internal/config"
	"stratline/internal/db"
	"stratline/internal/domain"
	"stratline/internal/engine"
	"stratline/internal/migrate"
	"stratline/internal/repo"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, mode config.AuthMode) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	cfg.Auth.Mode = mode
	e := engine.New(conn, cfg)
	e.OrchestratorKey = "orch-secret"
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v1",
		Auth:     AuthConfig{Mode: mode, JWTSecret: "test-jwt-secret"},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func createTask(t *testing.T, srv *testServer, title string, priority int) domain.Task {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/tasks", map[string]any{
		"title":    title,
		"category": "seo",
		"priority": priority,
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task status %d: %s", res.StatusCode, string(data))
	}
	var created domain.Task
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	return created
}

func setStatus(t *testing.T, srv *testServer, taskID, status string) (*http.Response, []byte) {
	t.Helper()
	return doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/tasks/"+taskID+"/status", map[string]any{
		"status": status,
	}, nil)
}

func TestTaskApprovalLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t, config.AuthBypass)
	defer cleanup()

	task := createTask(t, srv, "Rework landing page headline", 1)
	if task.Status != domain.TaskBacklog {
		t.Fatalf("new task status %s, want backlog", task.Status)
	}

	res, data := setStatus(t, srv, task.ID, "in_progress")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("start task: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/tasks/"+task.ID+"/submit", map[string]any{
		"submitted_by": "agent-7",
		"notes":        "draft ready",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit: %d %s", res.StatusCode, string(data))
	}
	var approval domain.Approval
	if err := json.Unmarshal(data, &approval); err != nil {
		t.Fatalf("unmarshal approval: %v", err)
	}
	if approval.ReviewStatus != domain.ReviewPending {
		t.Fatalf("approval status %s, want pending", approval.ReviewStatus)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/tasks/"+task.ID, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get task: %d %s", res.StatusCode, string(data))
	}
	var inReview domain.Task
	_ = json.Unmarshal(data, &inReview)
	if inReview.Status != domain.TaskReview {
		t.Fatalf("task status %s, want review", inReview.Status)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/approvals/"+approval.ID+"/decide", map[string]any{
		"outcome":     "approved",
		"reviewed_by": "lead",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("decide: %d %s", res.StatusCode, string(data))
	}
	var decided domain.Approval
	_ = json.Unmarshal(data, &decided)
	if decided.ReviewStatus != domain.ReviewApproved {
		t.Fatalf("decision %s, want approved", decided.ReviewStatus)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/tasks/"+task.ID, nil, nil)
	var approved domain.Task
	_ = json.Unmarshal(data, &approved)
	if approved.Status != domain.TaskApproved {
		t.Fatalf("task status %s, want approved", approved.Status)
	}
	if approved.ApprovedAt == nil {
		t.Fatal("approved task should carry approved_at")
	}

	res, data = setStatus(t, srv, task.ID, "done")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("finish task: %d %s", res.StatusCode, string(data))
	}
}

func TestDirectMoveIntoReviewRejected(t *testing.T) {
	srv, cleanup := newTestServer(t, config.AuthBypass)
	defer cleanup()

	task := createTask(t, srv, "No shortcuts", 3)
	res, data := setStatus(t, srv, task.ID, "review")
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for direct review move, got %d %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	_ = json.Unmarshal(data, &envelope)
	if envelope.Error.Code != "invalid_transition" {
		t.Fatalf("error code %q, want invalid_transition", envelope.Error.Code)
	}
}

func TestDoubleSubmitConflicts(t *testing.T) {
	srv, cleanup := newTestServer(t, config.AuthBypass)
	defer cleanup()

	task := createTask(t, srv, "One pending approval only", 2)
	setStatus(t, srv, task.ID, "in_progress")

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/tasks/"+task.ID+"/submit", map[string]any{
		"submitted_by": "agent-1",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("first submit: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/tasks/"+task.ID+"/submit", map[string]any{
		"submitted_by": "agent-2",
	}, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("second submit: got %d %s, want 409", res.StatusCode, string(data))
	}
}

func TestDecideTwiceAlreadyDecided(t *testing.T) {
	srv, cleanup := newTestServer(t, config.AuthBypass)
	defer cleanup()

	task := createTask(t, srv, "Decide once", 2)
	setStatus(t, srv, task.ID, "in_progress")
	_, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/tasks/"+task.ID+"/submit", map[string]any{
		"submitted_by": "agent-1",
	}, nil)
	var approval domain.Approval
	_ = json.Unmarshal(data, &approval)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/approvals/"+approval.ID+"/decide", map[string]any{
		"outcome":     "approved",
		"reviewed_by": "lead",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("first decide: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/approvals/"+approval.ID+"/decide", map[string]any{
		"outcome":     "rejected",
		"reviewed_by": "lead",
	}, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("second decide: got %d %s, want 409", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	_ = json.Unmarshal(data, &envelope)
	if envelope.Error.Code != "already_decided" {
		t.Fatalf("error code %q, want already_decided", envelope.Error.Code)
	}
}

func TestRejectionBlocksTask(t *testing.T) {
	srv, cleanup := newTestServer(t, config.AuthBypass)
	defer cleanup()

	task := createTask(t, srv, "Needs rework", 2)
	setStatus(t, srv, task.ID, "in_progress")
	_, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/tasks/"+task.ID+"/submit", map[string]any{
		"submitted_by": "agent-1",
	}, nil)
	var approval domain.Approval
	_ = json.Unmarshal(data, &approval)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/approvals/"+approval.ID+"/decide", map[string]any{
		"outcome":     "rejected",
		"reviewed_by": "lead",
		"notes":       "thin content",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("reject: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/tasks/"+task.ID, nil, nil)
	var blocked domain.Task
	_ = json.Unmarshal(data, &blocked)
	if blocked.Status != domain.TaskBlocked {
		t.Fatalf("task status %s, want blocked after rejection", blocked.Status)
	}

	// A blocked task can be picked back up.
	res, data = setStatus(t, srv, task.ID, "in_progress")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("resume blocked: %d %s", res.StatusCode, string(data))
	}
}

func TestExecuteSharedSecret(t *testing.T) {
	srv, cleanup := newTestServer(t, config.AuthStrict)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/execute", map[string]any{}, map[string]string{
		"X-Api-Key": "wrong-key",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong key: got %d %s, want 401", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/execute", map[string]any{
		"limit": 3,
	}, map[string]string{"X-Api-Key": "orch-secret"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("right key: %d %s", res.StatusCode, string(data))
	}
	var trigger engine.ExecutionRequest
	if err := json.Unmarshal(data, &trigger); err != nil {
		t.Fatalf("unmarshal trigger: %v", err)
	}
	if trigger.Status != "accepted" {
		t.Fatalf("trigger status %q, want accepted", trigger.Status)
	}
	if trigger.EligibleTasks != 0 {
		t.Fatalf("empty workspace eligible %d, want 0", trigger.EligibleTasks)
	}
	if trigger.NextCheck == "" {
		t.Fatal("trigger should carry next_check")
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/execute", nil, map[string]string{
		"X-Api-Key": "orch-secret",
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("schedule: %d %s", res.StatusCode, string(data))
	}
}

func TestStrictModeRequiresCredentials(t *testing.T) {
	srv, cleanup := newTestServer(t, config.AuthStrict)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/tasks", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous list: got %d %s, want 401", res.StatusCode, string(data))
	}

	// Health stays open.
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health: %d %s", res.StatusCode, string(data))
	}

	raw := "test-api-key-material"
	err := srv.Engine.Repo.InsertAPIKey(context.Background(), domain.APIKey{
		ID:        "key-1",
		ActorID:   "ops",
		Name:      "test",
		KeyHash:   repo.HashAPIKey(raw),
		CreatedAt: "2026-01-01T00:00:00Z",
	})
	if err != nil {
		t.Fatalf("insert api key: %v", err)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/tasks", nil, map[string]string{
		"X-Api-Key": raw,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("api key list: %d %s", res.StatusCode, string(data))
	}
}

func TestListOrderingAndFilters(t *testing.T) {
	srv, cleanup := newTestServer(t, config.AuthBypass)
	defer cleanup()

	low := createTask(t, srv, "Low urgency", 5)
	high := createTask(t, srv, "High urgency", 1)
	mid := createTask(t, srv, "Mid urgency", 3)
	setStatus(t, srv, mid.ID, "in_progress")

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/tasks", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list: %d %s", res.StatusCode, string(data))
	}
	var list struct {
		Items []domain.Task `json:"items"`
	}
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	if len(list.Items) != 3 {
		t.Fatalf("listed %d tasks, want 3", len(list.Items))
	}
	if list.Items[0].ID != high.ID || list.Items[2].ID != low.ID {
		t.Fatalf("ordering wrong: got %s first, %s last", list.Items[0].Title, list.Items[2].Title)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/tasks?status=in_progress", nil, nil)
	var filtered struct {
		Items []domain.Task `json:"items"`
	}
	_ = json.Unmarshal(data, &filtered)
	if len(filtered.Items) != 1 || filtered.Items[0].ID != mid.ID {
		t.Fatalf("status filter returned %d items", len(filtered.Items))
	}
}

func TestStatsWithNoScores(t *testing.T) {
	srv, cleanup := newTestServer(t, config.AuthBypass)
	defer cleanup()

	createTask(t, srv, "Unscored A", 2)
	createTask(t, srv, "Unscored B", 2)

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/stats", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("stats: %d %s", res.StatusCode, string(data))
	}
	var stats engine.Stats
	if err := json.Unmarshal(data, &stats); err != nil {
		t.Fatalf("unmarshal stats: %v", err)
	}
	if stats.Tasks.Total != 2 || stats.Tasks.Backlog != 2 {
		t.Fatalf("stats tasks %+v", stats.Tasks)
	}
	if stats.Tasks.AvgQuality != 0 {
		t.Fatalf("avg quality %f, want 0 with no scored tasks", stats.Tasks.AvgQuality)
	}
}

func TestExecutionLogRoundTrip(t *testing.T) {
	srv, cleanup := newTestServer(t, config.AuthBypass)
	defer cleanup()

	task := createTask(t, srv, "Run me", 2)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/logs", map[string]any{
		"agent_name": "seo-writer",
		"task_ids":   []string{task.ID},
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("start log: %d %s", res.StatusCode, string(data))
	}
	var started domain.ExecutionLog
	_ = json.Unmarshal(data, &started)
	if started.Status != domain.ExecRunning {
		t.Fatalf("log status %s, want running", started.Status)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/logs/"+started.ID+"/finish", map[string]any{
		"status":      "success",
		"output":      "wrote 2 articles",
		"api_cost":    0.42,
		"tokens_used": 12345,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("finish log: %d %s", res.StatusCode, string(data))
	}
	var finished domain.ExecutionLog
	_ = json.Unmarshal(data, &finished)
	if finished.Status != domain.ExecSuccess || finished.FinishedAt == nil {
		t.Fatalf("finished log %+v", finished)
	}

	// Finishing twice loses the compare-and-set.
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/logs/"+started.ID+"/finish", map[string]any{
		"status": "failed",
	}, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("double finish: got %d %s, want 409", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/logs?task_id="+task.ID, nil, nil)
	var list struct {
		Items []domain.ExecutionLog `json:"items"`
	}
	_ = json.Unmarshal(data, &list)
	if len(list.Items) != 1 {
		t.Fatalf("task filter returned %d logs, want 1", len(list.Items))
	}
}

func TestEventFeedEntityKindFilter(t *testing.T) {
	srv, cleanup := newTestServer(t, config.AuthBypass)
	defer cleanup()

	task := createTask(t, srv, "Traceable", 2)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/logs", map[string]any{
		"agent_name": "seo-writer",
		"task_ids":   []string{task.ID},
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("start log: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/events?entity_kind=execution_log", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events by execution_log kind: %d %s", res.StatusCode, string(data))
	}
	var feed struct {
		Items []domain.Event `json:"items"`
	}
	_ = json.Unmarshal(data, &feed)
	if len(feed.Items) != 1 || feed.Items[0].EntityKind != "execution_log" {
		t.Fatalf("execution_log filter returned %+v", feed.Items)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/events?entity_kind=task", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events by task kind: %d %s", res.StatusCode, string(data))
	}
	feed.Items = nil
	_ = json.Unmarshal(data, &feed)
	for _, ev := range feed.Items {
		if ev.EntityKind != "task" {
			t.Fatalf("task filter leaked %+v", ev)
		}
	}
	if len(feed.Items) == 0 {
		t.Fatal("task filter returned no events")
	}
}
