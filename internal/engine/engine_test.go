package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"boardflow/internal/config"
	"boardflow/internal/db"
	"boardflow/internal/domain"
	"boardflow/internal/engine"
	"boardflow/internal/engine/auth"
	"boardflow/internal/migrate"
	"boardflow/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Org    domain.Organization
}

func newTestEnv(t *testing.T) testEnv {
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
	eng.Now = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	org, err := eng.CreateOrganization(ctx, engine.OrganizationCreateOptions{
		Name: "Acme", Slug: "acme", ActorID: "u1",
	})
	if err != nil {
		t.Fatalf("create org: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx, Org: org}
}

func (env testEnv) project(t *testing.T, visibility string) domain.Project {
	t.Helper()
	p, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{
		OrganizationID: env.Org.ID,
		Name:           "Board",
		Visibility:     visibility,
		ActorID:        "u1",
	})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return p
}

func (env testEnv) column(t *testing.T, projectID, title string) domain.Column {
	t.Helper()
	c, err := env.Engine.CreateColumn(env.Ctx, engine.ColumnCreateOptions{
		ProjectID: projectID,
		Title:     title,
		ActorID:   "u1",
	})
	if err != nil {
		t.Fatalf("create column: %v", err)
	}
	return c
}

func TestCreateOrganizationEnrollsOwner(t *testing.T) {
	env := newTestEnv(t)
	got, err := env.Engine.GetOrganization(env.Ctx, env.Org.ID, "u1")
	if err != nil {
		t.Fatalf("get org: %v", err)
	}
	if len(got.Members) != 1 || got.Members[0].UserID != "u1" || got.Members[0].Role != "owner" {
		t.Fatalf("expected creator enrolled as owner, got %+v", got.Members)
	}
	if got.Settings.MaxProjects != 10 {
		t.Fatalf("expected default max projects 10, got %d", got.Settings.MaxProjects)
	}
}

func TestOrganizationKeepsLastOwner(t *testing.T) {
	env := newTestEnv(t)
	err := env.Engine.RemoveOrganizationMember(env.Ctx, env.Org.ID, "u1", "u1")
	if err == nil {
		t.Fatalf("expected last-owner removal to fail")
	}
	if err := env.Engine.AddOrganizationMember(env.Ctx, env.Org.ID, "u2", "owner", "u1"); err != nil {
		t.Fatalf("add second owner: %v", err)
	}
	if err := env.Engine.RemoveOrganizationMember(env.Ctx, env.Org.ID, "u1", "u2"); err != nil {
		t.Fatalf("remove first owner with another remaining: %v", err)
	}
}

func TestDuplicateSlugRejected(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateOrganization(env.Ctx, engine.OrganizationCreateOptions{
		Name: "Other", Slug: "acme", ActorID: "u2",
	})
	if err == nil {
		t.Fatalf("expected duplicate slug error")
	}
}

func TestPrivateProjectHiddenFromNonMembers(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, "private")
	if err := env.Engine.AddOrganizationMember(env.Ctx, env.Org.ID, "u2", "owner", "u1"); err != nil {
		t.Fatalf("add member: %v", err)
	}
	// u2 is an organization owner but not a project member.
	_, err := env.Engine.GetProject(env.Ctx, p.ID, "u2")
	var fe auth.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden for non-member on private project, got %v", err)
	}
	if err := env.Engine.AddProjectMember(env.Ctx, p.ID, "u2", "viewer", "u1"); err != nil {
		t.Fatalf("add project member: %v", err)
	}
	if _, err := env.Engine.GetProject(env.Ctx, p.ID, "u2"); err != nil {
		t.Fatalf("expected project member to see private project: %v", err)
	}
}

func TestOutsiderCannotSeeTeamProject(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, "team")
	_, err := env.Engine.GetProject(env.Ctx, p.ID, "stranger")
	var fe auth.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden for non-org user, got %v", err)
	}
}

func TestPublicAgentVisibleAcrossOrganizations(t *testing.T) {
	env := newTestEnv(t)
	a, err := env.Engine.CreateAgent(env.Ctx, engine.AgentCreateOptions{
		OrganizationID: env.Org.ID,
		Name:           "Reviewer",
		Type:           "review",
		Model:          "claude-sonnet-4-5",
		IsPublic:       true,
		ActorID:        "u1",
	})
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}
	got, err := env.Engine.GetAgent(env.Ctx, a.ID, "stranger")
	if err != nil {
		t.Fatalf("expected public agent visible to any user: %v", err)
	}
	if got.Settings.MaxTokens != 4096 || got.Settings.TimeoutSeconds != 120 {
		t.Fatalf("expected agent defaults, got %+v", got.Settings)
	}
}

func TestTaskDefaultsAndPositions(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, "")
	col := env.column(t, p.ID, "Backlog")
	first, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID: p.ID, ColumnID: col.ID, Title: "first", ActorID: "u1",
	})
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	if first.Status != "backlog" || first.Priority != "medium" || first.TokenEstimate != 500 {
		t.Fatalf("unexpected defaults: %+v", first)
	}
	if first.Position != 0 {
		t.Fatalf("first task should sit at position 0, got %d", first.Position)
	}
	second, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID: p.ID, ColumnID: col.ID, Title: "second", ActorID: "u1",
	})
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if second.Position != 1 {
		t.Fatalf("second task should append at position 1, got %d", second.Position)
	}
}

func TestMoveTaskIdempotent(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, "")
	backlog := env.column(t, p.ID, "Backlog")
	doing := env.column(t, p.ID, "Doing")
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID: p.ID, ColumnID: backlog.ID, Title: "work", ActorID: "u1",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	pos := 3
	moved, err := env.Engine.MoveTask(env.Ctx, task.ID, doing.ID, &pos, "u1")
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if moved.ColumnID != doing.ID || moved.Position != 3 {
		t.Fatalf("unexpected move result: %+v", moved)
	}
	again, err := env.Engine.MoveTask(env.Ctx, task.ID, doing.ID, &pos, "u1")
	if err != nil {
		t.Fatalf("repeat move: %v", err)
	}
	if again.ColumnID != moved.ColumnID || again.Position != moved.Position {
		t.Fatalf("repeated move changed task: %+v vs %+v", again, moved)
	}
	// No explicit position in the same column keeps the slot.
	kept, err := env.Engine.MoveTask(env.Ctx, task.ID, doing.ID, nil, "u1")
	if err != nil {
		t.Fatalf("same-column move: %v", err)
	}
	if kept.Position != 3 {
		t.Fatalf("same-column move should keep position 3, got %d", kept.Position)
	}
}

func TestActualTokensMonotonic(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, "")
	col := env.column(t, p.ID, "Backlog")
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID: p.ID, ColumnID: col.ID, Title: "work", ActorID: "u1",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	used := 300
	if _, err := env.Engine.UpdateTask(env.Ctx, task.ID, engine.TaskUpdateOptions{ActualTokensUsed: &used, ActorID: "u1"}); err != nil {
		t.Fatalf("raise tokens: %v", err)
	}
	lower := 100
	if _, err := env.Engine.UpdateTask(env.Ctx, task.ID, engine.TaskUpdateOptions{ActualTokensUsed: &lower, ActorID: "u1"}); err == nil {
		t.Fatalf("expected decrease to be rejected")
	}
}

func TestDeleteColumnCascadesTasks(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, "")
	col := env.column(t, p.ID, "Backlog")
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID: p.ID, ColumnID: col.ID, Title: "doomed", ActorID: "u1",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if err := env.Engine.DeleteColumn(env.Ctx, col.ID, "u1"); err != nil {
		t.Fatalf("delete column: %v", err)
	}
	if _, err := env.Engine.GetTask(env.Ctx, task.ID, "u1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected task gone with column, got %v", err)
	}
}

func TestAgentHistorySurvivesTaskDeletion(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, "")
	col := env.column(t, p.ID, "Backlog")
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID: p.ID, ColumnID: col.ID, Title: "work", ActorID: "u1",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	agent, err := env.Engine.CreateAgent(env.Ctx, engine.AgentCreateOptions{
		OrganizationID: env.Org.ID, Name: "Coder", Type: "coding", Model: "claude-sonnet-4-5", ActorID: "u1",
	})
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}
	assigned, err := env.Engine.AssignAgent(env.Ctx, task.ID, agent.ID, "u1")
	if err != nil {
		t.Fatalf("assign agent: %v", err)
	}
	if len(assigned.AssignedAgents) != 1 || assigned.AssignedAgents[0].AgentID != agent.ID {
		t.Fatalf("expected assignment on task, got %+v", assigned.AssignedAgents)
	}
	if err := env.Engine.DeleteTask(env.Ctx, task.ID, "u1"); err != nil {
		t.Fatalf("delete task: %v", err)
	}
	history, err := env.Engine.Repo.ListAgentHistory(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(history) != 1 || history[0].AgentID != agent.ID || history[0].AssignedBy != "u1" {
		t.Fatalf("expected history to survive deletion, got %+v", history)
	}
}

func TestSoftDeletedAgentNotAssignable(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, "")
	col := env.column(t, p.ID, "Backlog")
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID: p.ID, ColumnID: col.ID, Title: "work", ActorID: "u1",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	agent, err := env.Engine.CreateAgent(env.Ctx, engine.AgentCreateOptions{
		OrganizationID: env.Org.ID, Name: "Coder", Type: "coding", Model: "claude-sonnet-4-5", ActorID: "u1",
	})
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}
	if err := env.Engine.DeleteAgent(env.Ctx, agent.ID, "u1"); err != nil {
		t.Fatalf("deactivate agent: %v", err)
	}
	if _, err := env.Engine.AssignAgent(env.Ctx, task.ID, agent.ID, "u1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found for deactivated agent, got %v", err)
	}
}

func TestProjectEventsRecorded(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, "")
	col := env.column(t, p.ID, "Backlog")
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID: p.ID, ColumnID: col.ID, Title: "work", ActorID: "u1",
	}); err != nil {
		t.Fatalf("create task: %v", err)
	}
	events, err := env.Engine.ListProjectEvents(env.Ctx, p.ID, "u1", 0, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) < 2 {
		t.Fatalf("expected column and task events, got %d", len(events))
	}
	last := events[len(events)-1]
	if last.Type != "task.created" || last.ActorID != "u1" {
		t.Fatalf("unexpected last event: %+v", last)
	}
}

func TestProjectAnalytics(t *testing.T) {
	env := newTestEnv(t)
	p := env.project(t, "")
	col := env.column(t, p.ID, "Backlog")
	for _, title := range []string{"a", "b"} {
		if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
			ProjectID: p.ID, ColumnID: col.ID, Title: title, ActorID: "u1",
		}); err != nil {
			t.Fatalf("create task %s: %v", title, err)
		}
	}
	a, err := env.Engine.GetProjectAnalytics(env.Ctx, p.ID, "u1")
	if err != nil {
		t.Fatalf("analytics: %v", err)
	}
	if a.TotalTasks != 2 || a.TotalColumns != 1 {
		t.Fatalf("unexpected totals: %+v", a)
	}
	if a.TasksByStatus["backlog"] != 2 {
		t.Fatalf("expected 2 backlog tasks, got %+v", a.TasksByStatus)
	}
	if a.TokenEstimate != 1000 {
		t.Fatalf("expected summed estimate 1000, got %d", a.TokenEstimate)
	}
}
