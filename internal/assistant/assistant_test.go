package assistant_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"boardflow/internal/assistant"
	"boardflow/internal/config"
	"boardflow/internal/db"
	"boardflow/internal/domain"
	"boardflow/internal/engine"
	"boardflow/internal/migrate"
)

type board struct {
	Engine  engine.Engine
	Ctx     context.Context
	Org     domain.Organization
	Project domain.Project
}

func newBoard(t *testing.T) board {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	ctx := context.Background()
	org, err := eng.CreateOrganization(ctx, engine.OrganizationCreateOptions{
		Name: "Acme", Slug: "acme", ActorID: "u1",
	})
	if err != nil {
		t.Fatalf("create org: %v", err)
	}
	p, err := eng.CreateProject(ctx, engine.ProjectCreateOptions{
		OrganizationID: org.ID, Name: "Board", ActorID: "u1",
	})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return board{Engine: eng, Ctx: ctx, Org: org, Project: p}
}

func (b board) column(t *testing.T, title string) domain.Column {
	t.Helper()
	c, err := b.Engine.CreateColumn(b.Ctx, engine.ColumnCreateOptions{
		ProjectID: b.Project.ID, Title: title, ActorID: "u1",
	})
	if err != nil {
		t.Fatalf("create column: %v", err)
	}
	return c
}

// fakeOrchestrator wires an orchestrator against a stub provider endpoint.
func fakeOrchestrator(t *testing.T, b board, provider string, handler http.HandlerFunc) *assistant.Orchestrator {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := config.Default().AI
	cfg.Provider = provider
	cfg.BaseURL = srv.URL
	return assistant.NewOrchestrator(b.Engine, cfg, nil)
}

func TestKeywordFallback(t *testing.T) {
	c := &assistant.Classifier{}
	cases := []struct {
		input      string
		primary    string
		confidence float64
	}{
		{"create task for onboarding", "task_creation", 0.6},
		{"move the login fix to done", "task_management", 0.6},
		{"assign the reviewer to it", "agent_assignment", 0.6},
		{"run the test agent", "agent_use", 0.6},
		{"what's the weather", "general_answer", 0.3},
	}
	for _, tc := range cases {
		got := c.Classify(context.Background(), tc.input, assistant.ContextCounts{})
		if got.Primary != tc.primary || got.Confidence != tc.confidence {
			t.Errorf("Classify(%q) = %s/%.1f, want %s/%.1f",
				tc.input, got.Primary, got.Confidence, tc.primary, tc.confidence)
		}
		if !got.Degraded {
			t.Errorf("Classify(%q) should mark the fallback as degraded", tc.input)
		}
	}
}

func TestUnknownToolRejected(t *testing.T) {
	b := newBoard(t)
	ts := assistant.NewToolset(b.Engine)
	res := ts.ExecuteTool(b.Ctx, "launch_rockets", nil, assistant.ExecContext{UserID: "u1", ProjectID: b.Project.ID})
	if res.Success {
		t.Fatalf("unknown tool must not succeed")
	}
	if res.Error != "Tool 'launch_rockets' not found" {
		t.Fatalf("unexpected error message: %q", res.Error)
	}
}

func TestCreateTaskInfersOnlyColumn(t *testing.T) {
	b := newBoard(t)
	col := b.column(t, "Backlog")
	ts := assistant.NewToolset(b.Engine)
	res := ts.ExecuteTool(b.Ctx, "create_task", map[string]any{"title": "Write docs"},
		assistant.ExecContext{UserID: "u1", ProjectID: b.Project.ID, OrganizationID: b.Org.ID})
	if !res.Success {
		t.Fatalf("create_task failed: %s", res.Error)
	}
	task, ok := res.Data.(domain.Task)
	if !ok {
		t.Fatalf("expected task result, got %T", res.Data)
	}
	if task.ColumnID != col.ID {
		t.Fatalf("task should land in the only column, got %s", task.ColumnID)
	}
}

func TestCreateTaskMatchesStatusPhrase(t *testing.T) {
	b := newBoard(t)
	b.column(t, "Icebox")
	doing := b.column(t, "Doing")
	ts := assistant.NewToolset(b.Engine)
	res := ts.ExecuteTool(b.Ctx, "create_task", map[string]any{"title": "Wire OAuth", "status": "in_progress"},
		assistant.ExecContext{UserID: "u1", ProjectID: b.Project.ID, OrganizationID: b.Org.ID})
	if !res.Success {
		t.Fatalf("create_task failed: %s", res.Error)
	}
	task := res.Data.(domain.Task)
	if task.ColumnID != doing.ID {
		t.Fatalf("in_progress task should match the Doing column, got %s", task.ColumnID)
	}
}

func TestCreateTaskWithoutColumns(t *testing.T) {
	b := newBoard(t)
	ts := assistant.NewToolset(b.Engine)
	res := ts.ExecuteTool(b.Ctx, "create_task", map[string]any{"title": "Orphan"},
		assistant.ExecContext{UserID: "u1", ProjectID: b.Project.ID})
	if res.Success {
		t.Fatalf("expected failure on empty board")
	}
	if res.Error != "No columns found in project" {
		t.Fatalf("unexpected error: %q", res.Error)
	}
}

func TestHandleValidatesInput(t *testing.T) {
	b := newBoard(t)
	o := fakeOrchestrator(t, b, "anthropic", func(w http.ResponseWriter, r *http.Request) {
		t.Error("provider must not be called for invalid input")
	})
	_, err := o.Handle(b.Ctx, assistant.Request{Input: "   ", UserID: "u1", ProjectID: b.Project.ID})
	var ve assistant.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
	_, err = o.Handle(b.Ctx, assistant.Request{Input: strings.Repeat("x", 2001), UserID: "u1", ProjectID: b.Project.ID})
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error for oversized input, got %v", err)
	}
}

func TestHandleDegradesWhenProviderDown(t *testing.T) {
	b := newBoard(t)
	b.column(t, "Backlog")
	o := fakeOrchestrator(t, b, "anthropic", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	resp, err := o.Handle(b.Ctx, assistant.Request{
		Input: "create task for onboarding", UserID: "u1", ProjectID: b.Project.ID,
	})
	if err != nil {
		t.Fatalf("provider outage must degrade, not fail: %v", err)
	}
	if resp.Type != "general_answer" || resp.TokensUsed != 0 {
		t.Fatalf("unexpected degraded response: %+v", resp)
	}
	if resp.Confidence != 0.6 {
		t.Fatalf("degraded response should keep the keyword confidence, got %v", resp.Confidence)
	}
}

func TestHandlePropagatesRateLimit(t *testing.T) {
	b := newBoard(t)
	o := fakeOrchestrator(t, b, "anthropic", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	})
	_, err := o.Handle(b.Ctx, assistant.Request{
		Input: "hello", UserID: "u1", ProjectID: b.Project.ID,
	})
	var rle assistant.RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
}

func TestHandleExecutesToolCalls(t *testing.T) {
	b := newBoard(t)
	b.column(t, "Backlog")
	o := fakeOrchestrator(t, b, "anthropic", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"content": [
				{"type": "text", "text": "Creating the task."},
				{"type": "tool_use", "id": "call_1", "name": "create_task", "input": {"title": "Onboarding docs"}}
			],
			"usage": {"input_tokens": 40, "output_tokens": 12}
		}`)
	})
	resp, err := o.Handle(b.Ctx, assistant.Request{
		Input: "create task for onboarding docs", UserID: "u1", ProjectID: b.Project.ID,
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if resp.Type != "task_creation" {
		t.Fatalf("expected task_creation, got %s", resp.Type)
	}
	if len(resp.ToolResults) != 1 || !resp.ToolResults[0].Success {
		t.Fatalf("expected one successful tool result, got %+v", resp.ToolResults)
	}
	if len(resp.CreatedTasks) != 1 || resp.CreatedTasks[0].Title != "Onboarding docs" {
		t.Fatalf("expected created task collected, got %+v", resp.CreatedTasks)
	}
	if resp.TokensUsed != 52 {
		t.Fatalf("expected provider token usage reported, got %d", resp.TokensUsed)
	}
	if !strings.Contains(resp.Message, "[create_task: ok]") {
		t.Fatalf("expected tool annotation in message, got %q", resp.Message)
	}
	if len(resp.FollowUpActions) == 0 || resp.FollowUpActions[0] != "assign_agent" {
		t.Fatalf("expected assign_agent follow-up, got %v", resp.FollowUpActions)
	}
}

func TestHandleRunsBoundedToolRounds(t *testing.T) {
	b := newBoard(t)
	b.column(t, "Backlog")
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"content": [
				{"type": "tool_use", "id": "call", "name": "create_task", "input": {"title": "Step"}}
			],
			"usage": {"input_tokens": 40, "output_tokens": 12}
		}`)
	}))
	t.Cleanup(srv.Close)
	cfg := config.Default().AI
	cfg.Provider = "anthropic"
	cfg.BaseURL = srv.URL
	cfg.MaxToolRounds = 2
	o := assistant.NewOrchestrator(b.Engine, cfg, nil)

	resp, err := o.Handle(b.Ctx, assistant.Request{
		Input: "create task for each step", UserID: "u1", ProjectID: b.Project.ID,
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected classifier call plus two tool rounds, got %d provider calls", got)
	}
	if len(resp.CreatedTasks) != 2 {
		t.Fatalf("expected one task per round, got %d", len(resp.CreatedTasks))
	}
	if resp.TokensUsed != 104 {
		t.Fatalf("expected token usage summed across rounds, got %d", resp.TokensUsed)
	}
}

func TestHandleSkipsMalformedToolArgs(t *testing.T) {
	b := newBoard(t)
	b.column(t, "Backlog")
	o := fakeOrchestrator(t, b, "openai", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"choices": [{"message": {"role": "assistant", "content": "", "tool_calls": [
				{"id": "a", "type": "function", "function": {"name": "create_task", "arguments": "{not json"}},
				{"id": "b", "type": "function", "function": {"name": "create_task", "arguments": "{\"title\": \"Good one\"}"}}
			]}}],
			"usage": {"total_tokens": 30}
		}`)
	})
	resp, err := o.Handle(b.Ctx, assistant.Request{
		Input: "create task", UserID: "u1", ProjectID: b.Project.ID,
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(resp.ToolResults) != 1 {
		t.Fatalf("malformed call should be skipped, got %d results", len(resp.ToolResults))
	}
	if len(resp.CreatedTasks) != 1 || resp.CreatedTasks[0].Title != "Good one" {
		t.Fatalf("expected the well-formed call to run, got %+v", resp.CreatedTasks)
	}
}
