package engine

import (
	"context"
	"errors"
	"fmt"

	"boardflow/internal/domain"
	"boardflow/internal/engine/auth"
	"boardflow/internal/events"
	"boardflow/internal/repo"
)

var taskStatuses = map[string]bool{
	"backlog": true, "ready": true, "in_progress": true,
	"done": true, "blocked": true, "cancelled": true,
}

var taskPriorities = map[string]bool{
	"low": true, "medium": true, "high": true, "urgent": true,
}

// TaskCreateOptions are parameters for creating a task. Zero values take
// the documented defaults: status backlog, priority medium, token estimate
// 500.
type TaskCreateOptions struct {
	ProjectID     string
	ColumnID      string
	Title         string
	Description   string
	Status        string
	Priority      string
	TokenEstimate int
	Assignees     []string
	Tags          []string
	Dependencies  []string
	ParentTask    *string
	ActorID       string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if opts.Title == "" {
		return domain.Task{}, errors.New("title is required")
	}
	if opts.Status == "" {
		opts.Status = "backlog"
	}
	if !taskStatuses[opts.Status] {
		return domain.Task{}, fmt.Errorf("unknown status %q", opts.Status)
	}
	if opts.Priority == "" {
		opts.Priority = "medium"
	}
	if !taskPriorities[opts.Priority] {
		return domain.Task{}, fmt.Errorf("unknown priority %q", opts.Priority)
	}
	if opts.TokenEstimate == 0 {
		opts.TokenEstimate = 500
	}
	if _, err := e.Gate.ResolveAccess(ctx, auth.KindProject, opts.ProjectID, opts.ActorID, auth.RolesEditor...); err != nil {
		return domain.Task{}, err
	}
	col, err := e.Repo.GetColumn(ctx, opts.ColumnID)
	if err != nil {
		return domain.Task{}, err
	}
	if col.ProjectID != opts.ProjectID {
		return domain.Task{}, errors.New("column not in project")
	}
	if opts.ParentTask != nil {
		parent, err := e.Repo.GetTask(ctx, *opts.ParentTask)
		if err != nil {
			return domain.Task{}, err
		}
		if parent.ProjectID != opts.ProjectID {
			return domain.Task{}, errors.New("parent task in different project")
		}
	}
	max, err := e.Repo.MaxTaskPosition(ctx, opts.ColumnID)
	if err != nil {
		return domain.Task{}, err
	}

	now := e.stamp()
	t := domain.Task{
		ID:            newID(),
		ProjectID:     opts.ProjectID,
		ColumnID:      opts.ColumnID,
		Title:         opts.Title,
		Description:   opts.Description,
		Status:        opts.Status,
		Priority:      opts.Priority,
		Position:      max + 1,
		TokenEstimate: opts.TokenEstimate,
		Assignees:     opts.Assignees,
		Tags:          opts.Tags,
		Dependencies:  opts.Dependencies,
		ParentTask:    opts.ParentTask,
		CreatedBy:     opts.ActorID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "task.created", t.ProjectID, "task", t.ID, opts.ActorID, events.EventPayload{"title": t.Title, "column_id": t.ColumnID}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (e Engine) GetTask(ctx context.Context, id, actorID string) (domain.Task, error) {
	if _, err := e.Gate.ResolveAccess(ctx, auth.KindTask, id, actorID); err != nil {
		return domain.Task{}, err
	}
	return e.Repo.GetTask(ctx, id)
}

func (e Engine) ListTasks(ctx context.Context, f repo.TaskFilters, actorID string) ([]domain.Task, error) {
	if _, err := e.Gate.ResolveAccess(ctx, auth.KindProject, f.ProjectID, actorID); err != nil {
		return nil, err
	}
	return e.Repo.ListTasks(ctx, f)
}

// SearchTasks finds tasks whose title or description contains query.
func (e Engine) SearchTasks(ctx context.Context, projectID, query, actorID string, limit int) ([]domain.Task, error) {
	if _, err := e.Gate.ResolveAccess(ctx, auth.KindProject, projectID, actorID); err != nil {
		return nil, err
	}
	return e.Repo.ListTasks(ctx, repo.TaskFilters{ProjectID: projectID, Query: query, Limit: limit})
}

// TaskUpdateOptions carry patch fields; nil means keep.
type TaskUpdateOptions struct {
	Title              *string
	Description        *string
	Status             *string
	Priority           *string
	TokenEstimate      *int
	ActualTokensUsed   *int
	ProgressPercentage *int
	Assignees          *[]string
	Tags               *[]string
	Dependencies       *[]string
	BlockedBy          *[]string
	ActorID            string
}

func (e Engine) UpdateTask(ctx context.Context, id string, opts TaskUpdateOptions) (domain.Task, error) {
	if _, err := e.Gate.ResolveAccess(ctx, auth.KindTask, id, opts.ActorID, auth.RolesEditor...); err != nil {
		return domain.Task{}, err
	}
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if opts.Title != nil {
		t.Title = *opts.Title
	}
	if opts.Description != nil {
		t.Description = *opts.Description
	}
	if opts.Status != nil {
		if !taskStatuses[*opts.Status] {
			return domain.Task{}, fmt.Errorf("unknown status %q", *opts.Status)
		}
		t.Status = *opts.Status
	}
	if opts.Priority != nil {
		if !taskPriorities[*opts.Priority] {
			return domain.Task{}, fmt.Errorf("unknown priority %q", *opts.Priority)
		}
		t.Priority = *opts.Priority
	}
	if opts.TokenEstimate != nil {
		t.TokenEstimate = *opts.TokenEstimate
	}
	if opts.ActualTokensUsed != nil {
		// Token spend only ever grows.
		if *opts.ActualTokensUsed < t.ActualTokensUsed {
			return domain.Task{}, errors.New("actual_tokens_used cannot decrease")
		}
		t.ActualTokensUsed = *opts.ActualTokensUsed
	}
	if opts.ProgressPercentage != nil {
		if *opts.ProgressPercentage < 0 || *opts.ProgressPercentage > 100 {
			return domain.Task{}, errors.New("progress_percentage must be 0..100")
		}
		t.ProgressPercentage = *opts.ProgressPercentage
	}
	if opts.Assignees != nil {
		t.Assignees = *opts.Assignees
	}
	if opts.Tags != nil {
		t.Tags = *opts.Tags
	}
	if opts.Dependencies != nil {
		t.Dependencies = *opts.Dependencies
	}
	if opts.BlockedBy != nil {
		t.BlockedBy = *opts.BlockedBy
	}
	t.UpdatedAt = e.stamp()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.updated", t.ProjectID, "task", t.ID, opts.ActorID, nil); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// DeleteTask hard-deletes the row; agent history survives.
func (e Engine) DeleteTask(ctx context.Context, id, actorID string) error {
	if _, err := e.Gate.ResolveAccess(ctx, auth.KindTask, id, actorID, auth.RolesEditor...); err != nil {
		return err
	}
	t, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteTask(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "task.deleted", t.ProjectID, "task", id, actorID, events.EventPayload{"title": t.Title}); err != nil {
		return err
	}
	return tx.Commit()
}

// MoveTask places a task in a column. With an explicit position the move is
// idempotent: repeating it leaves the task exactly where it was. Without
// one, the task goes to the end of the target column, or keeps its position
// when it is already there.
func (e Engine) MoveTask(ctx context.Context, taskID, columnID string, position *int, actorID string) (domain.Task, error) {
	if _, err := e.Gate.ResolveAccess(ctx, auth.KindTask, taskID, actorID, auth.RolesEditor...); err != nil {
		return domain.Task{}, err
	}
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	col, err := e.Repo.GetColumn(ctx, columnID)
	if err != nil {
		return domain.Task{}, err
	}
	if col.ProjectID != t.ProjectID {
		return domain.Task{}, errors.New("column not in project")
	}

	switch {
	case position != nil:
		t.Position = *position
	case t.ColumnID == columnID:
		// Already there; nothing to recompute.
	default:
		max, err := e.Repo.MaxTaskPosition(ctx, columnID)
		if err != nil {
			return domain.Task{}, err
		}
		t.Position = max + 1
	}
	from := t.ColumnID
	t.ColumnID = columnID
	t.UpdatedAt = e.stamp()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.moved", t.ProjectID, "task", t.ID, actorID, events.EventPayload{"from": from, "to": columnID, "position": t.Position}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// AssignAgent records the agent on the task and appends to the task's
// history. The history entry stays even if the assignment or the task is
// later removed.
func (e Engine) AssignAgent(ctx context.Context, taskID, agentID, actorID string) (domain.Task, error) {
	if _, err := e.Gate.ResolveAccess(ctx, auth.KindTask, taskID, actorID, auth.RolesEditor...); err != nil {
		return domain.Task{}, err
	}
	if _, err := e.Gate.ResolveAccess(ctx, auth.KindAgent, agentID, actorID); err != nil {
		return domain.Task{}, err
	}
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	agent, err := e.Repo.GetAgent(ctx, agentID)
	if err != nil {
		return domain.Task{}, err
	}
	if !agent.IsActive {
		return domain.Task{}, repo.ErrNotFound
	}

	now := e.stamp()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertTaskAgent(ctx, tx, taskID, domain.AssignedAgent{AgentID: agent.ID, AgentName: agent.Name}); err != nil {
		return domain.Task{}, err
	}
	if err := e.Repo.AppendAgentHistory(ctx, tx, domain.AgentHistoryEntry{
		TaskID:     taskID,
		AgentID:    agent.ID,
		AssignedAt: now,
		AssignedBy: actorID,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.agent_assigned", t.ProjectID, "task", taskID, actorID, events.EventPayload{"agent_id": agent.ID}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return e.Repo.GetTask(ctx, taskID)
}

func (e Engine) AgentHistory(ctx context.Context, taskID, actorID string) ([]domain.AgentHistoryEntry, error) {
	if _, err := e.Gate.ResolveAccess(ctx, auth.KindTask, taskID, actorID); err != nil {
		return nil, err
	}
	return e.Repo.ListAgentHistory(ctx, taskID)
}
