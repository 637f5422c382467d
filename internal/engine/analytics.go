package engine

import (
	"context"

	"boardflow/internal/engine/auth"
)

// ProjectAnalytics is the per-project rollup behind the analytics endpoint
// and the get_project_analytics tool.
type ProjectAnalytics struct {
	ProjectID       string         `json:"project_id"`
	TotalTasks      int            `json:"total_tasks"`
	TotalColumns    int            `json:"total_columns"`
	TasksByStatus   map[string]int `json:"tasks_by_status"`
	TasksByPriority map[string]int `json:"tasks_by_priority"`
	TokenEstimate   int            `json:"token_estimate_total"`
	TokensUsed      int            `json:"tokens_used_total"`
	AvgProgress     float64        `json:"avg_progress"`
}

func (e Engine) GetProjectAnalytics(ctx context.Context, projectID, actorID string) (ProjectAnalytics, error) {
	if _, err := e.Gate.ResolveAccess(ctx, auth.KindProject, projectID, actorID); err != nil {
		return ProjectAnalytics{}, err
	}
	a := ProjectAnalytics{ProjectID: projectID}
	var err error
	if a.TotalTasks, err = e.Repo.CountTasks(ctx, projectID); err != nil {
		return ProjectAnalytics{}, err
	}
	if a.TotalColumns, err = e.Repo.CountColumns(ctx, projectID); err != nil {
		return ProjectAnalytics{}, err
	}
	if a.TasksByStatus, err = e.Repo.CountTasksByStatus(ctx, projectID); err != nil {
		return ProjectAnalytics{}, err
	}
	if a.TasksByPriority, err = e.Repo.CountTasksByPriority(ctx, projectID); err != nil {
		return ProjectAnalytics{}, err
	}
	if a.TokenEstimate, a.TokensUsed, a.AvgProgress, err = e.Repo.ProjectTokenTotals(ctx, projectID); err != nil {
		return ProjectAnalytics{}, err
	}
	return a, nil
}

// TaskStats is the lighter status/priority breakdown used by get_task_stats.
type TaskStats struct {
	ProjectID  string         `json:"project_id"`
	Total      int            `json:"total"`
	ByStatus   map[string]int `json:"by_status"`
	ByPriority map[string]int `json:"by_priority"`
}

func (e Engine) GetTaskStats(ctx context.Context, projectID, actorID string) (TaskStats, error) {
	if _, err := e.Gate.ResolveAccess(ctx, auth.KindProject, projectID, actorID); err != nil {
		return TaskStats{}, err
	}
	s := TaskStats{ProjectID: projectID}
	var err error
	if s.Total, err = e.Repo.CountTasks(ctx, projectID); err != nil {
		return TaskStats{}, err
	}
	if s.ByStatus, err = e.Repo.CountTasksByStatus(ctx, projectID); err != nil {
		return TaskStats{}, err
	}
	if s.ByPriority, err = e.Repo.CountTasksByPriority(ctx, projectID); err != nil {
		return TaskStats{}, err
	}
	return s, nil
}
