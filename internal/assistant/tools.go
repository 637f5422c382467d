package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"boardflow/internal/domain"
	"boardflow/internal/engine"
)

type Param struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// ExecContext carries the request identity every tool executes under.
type ExecContext struct {
	UserID         string
	ProjectID      string
	OrganizationID string
}

type Tool struct {
	Name        string
	Description string
	Parameters  map[string]Param
	Execute     func(ctx context.Context, args map[string]any, ec ExecContext) (any, error)
}

// ToolResult is the per-call record surfaced in the response envelope.
type ToolResult struct {
	Tool    string `json:"tool"`
	Success bool   `json:"success"`
	Data    any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Toolset is the closed catalog built once at startup. Execution is strictly
// sequential; the caller drives one call at a time.
type Toolset struct {
	engine engine.Engine
	tools  map[string]Tool
	order  []string
}

func NewToolset(eng engine.Engine) *Toolset {
	ts := &Toolset{engine: eng, tools: make(map[string]Tool)}
	for _, t := range catalog(eng) {
		ts.tools[t.Name] = t
		ts.order = append(ts.order, t.Name)
	}
	return ts
}

// JSONSchemas renders the catalog in the shape the model providers expect.
func (ts *Toolset) JSONSchemas() []map[string]any {
	schemas := make([]map[string]any, 0, len(ts.order))
	for _, name := range ts.order {
		t := ts.tools[name]
		required := make([]string, 0)
		properties := make(map[string]any, len(t.Parameters))
		for key, p := range t.Parameters {
			properties[key] = map[string]any{
				"type":        p.Type,
				"description": p.Description,
			}
			if p.Required {
				required = append(required, key)
			}
		}
		schemas = append(schemas, map[string]any{
			"name":        t.Name,
			"description": t.Description,
			"input_schema": map[string]any{
				"type":       "object",
				"properties": properties,
				"required":   required,
			},
		})
	}
	return schemas
}

// ExecuteTool runs one catalog entry. Unknown names and panics become failed
// results; it never returns an error to the caller.
func (ts *Toolset) ExecuteTool(ctx context.Context, name string, args map[string]any, ec ExecContext) (result ToolResult) {
	result = ToolResult{Tool: name}
	tool, ok := ts.tools[name]
	if !ok {
		result.Error = fmt.Sprintf("Tool '%s' not found", name)
		return result
	}
	defer func() {
		if r := recover(); r != nil {
			result.Success = false
			result.Data = nil
			result.Error = fmt.Sprintf("tool panicked: %v", r)
		}
	}()
	data, err := tool.Execute(ctx, args, ec)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Success = true
	result.Data = data
	return result
}

func catalog(eng engine.Engine) []Tool {
	return []Tool{
		{
			Name:        "create_project",
			Description: "Create a new project in the current organization.",
			Parameters: map[string]Param{
				"name":        {Type: "string", Description: "Project name", Required: true},
				"description": {Type: "string", Description: "Project description"},
				"visibility":  {Type: "string", Description: "public, private or team"},
			},
			Execute: func(ctx context.Context, args map[string]any, ec ExecContext) (any, error) {
				name, err := requiredString(args, "name")
				if err != nil {
					return nil, err
				}
				description, err := optionalString(args, "description")
				if err != nil {
					return nil, err
				}
				visibility, err := optionalString(args, "visibility")
				if err != nil {
					return nil, err
				}
				return eng.CreateProject(ctx, engine.ProjectCreateOptions{
					OrganizationID: ec.OrganizationID,
					Name:           name,
					Description:    description,
					Visibility:     visibility,
					ActorID:        ec.UserID,
				})
			},
		},
		{
			Name:        "get_project",
			Description: "Fetch the current project with its members and settings.",
			Parameters:  map[string]Param{},
			Execute: func(ctx context.Context, args map[string]any, ec ExecContext) (any, error) {
				return eng.GetProject(ctx, ec.ProjectID, ec.UserID)
			},
		},
		{
			Name:        "update_project",
			Description: "Update the current project's name, description or visibility.",
			Parameters: map[string]Param{
				"name":        {Type: "string", Description: "New project name"},
				"description": {Type: "string", Description: "New description"},
				"visibility":  {Type: "string", Description: "public, private or team"},
			},
			Execute: func(ctx context.Context, args map[string]any, ec ExecContext) (any, error) {
				opts := engine.ProjectUpdateOptions{ActorID: ec.UserID}
				if v, err := optionalStringPtr(args, "name"); err != nil {
					return nil, err
				} else {
					opts.Name = v
				}
				if v, err := optionalStringPtr(args, "description"); err != nil {
					return nil, err
				} else {
					opts.Description = v
				}
				if v, err := optionalStringPtr(args, "visibility"); err != nil {
					return nil, err
				} else {
					opts.Visibility = v
				}
				return eng.UpdateProject(ctx, ec.ProjectID, opts)
			},
		},
		{
			Name:        "create_task",
			Description: "Create a task. Accepts a column id, a column name, or neither; without one the column is inferred from the task status or the board's first column.",
			Parameters: map[string]Param{
				"title":          {Type: "string", Description: "Task title", Required: true},
				"description":    {Type: "string", Description: "Task description"},
				"status":         {Type: "string", Description: "backlog, ready, in_progress, done, blocked or cancelled"},
				"priority":       {Type: "string", Description: "low, medium, high or urgent"},
				"column_id":      {Type: "string", Description: "Target column id"},
				"column":         {Type: "string", Description: "Target column name"},
				"token_estimate": {Type: "number", Description: "Estimated token budget"},
				"tags":           {Type: "array", Description: "Tags to attach"},
				"assignees":      {Type: "array", Description: "User ids to assign"},
			},
			Execute: func(ctx context.Context, args map[string]any, ec ExecContext) (any, error) {
				title, err := requiredString(args, "title")
				if err != nil {
					return nil, err
				}
				description, err := optionalString(args, "description")
				if err != nil {
					return nil, err
				}
				status, err := optionalString(args, "status")
				if err != nil {
					return nil, err
				}
				priority, err := optionalString(args, "priority")
				if err != nil {
					return nil, err
				}
				estimate, err := optionalInt(args, "token_estimate")
				if err != nil {
					return nil, err
				}
				tags, err := optionalStringSlice(args, "tags")
				if err != nil {
					return nil, err
				}
				assignees, err := optionalStringSlice(args, "assignees")
				if err != nil {
					return nil, err
				}
				columnID, err := resolveColumn(ctx, eng, ec, args, status)
				if err != nil {
					return nil, err
				}
				return eng.CreateTask(ctx, engine.TaskCreateOptions{
					ProjectID:     ec.ProjectID,
					ColumnID:      columnID,
					Title:         title,
					Description:   description,
					Status:        status,
					Priority:      priority,
					TokenEstimate: estimate,
					Tags:          tags,
					Assignees:     assignees,
					ActorID:       ec.UserID,
				})
			},
		},
		{
			Name:        "update_task",
			Description: "Update a task's fields.",
			Parameters: map[string]Param{
				"task_id":     {Type: "string", Description: "Task id", Required: true},
				"title":       {Type: "string", Description: "New title"},
				"description": {Type: "string", Description: "New description"},
				"status":      {Type: "string", Description: "New status"},
				"priority":    {Type: "string", Description: "New priority"},
				"progress":    {Type: "number", Description: "Progress percentage 0..100"},
			},
			Execute: func(ctx context.Context, args map[string]any, ec ExecContext) (any, error) {
				taskID, err := requiredString(args, "task_id")
				if err != nil {
					return nil, err
				}
				opts := engine.TaskUpdateOptions{ActorID: ec.UserID}
				if v, err := optionalStringPtr(args, "title"); err != nil {
					return nil, err
				} else {
					opts.Title = v
				}
				if v, err := optionalStringPtr(args, "description"); err != nil {
					return nil, err
				} else {
					opts.Description = v
				}
				if v, err := optionalStringPtr(args, "status"); err != nil {
					return nil, err
				} else {
					opts.Status = v
				}
				if v, err := optionalStringPtr(args, "priority"); err != nil {
					return nil, err
				} else {
					opts.Priority = v
				}
				if _, ok := args["progress"]; ok {
					progress, err := optionalInt(args, "progress")
					if err != nil {
						return nil, err
					}
					opts.ProgressPercentage = &progress
				}
				return eng.UpdateTask(ctx, taskID, opts)
			},
		},
		{
			Name:        "delete_task",
			Description: "Delete a task permanently.",
			Parameters: map[string]Param{
				"task_id": {Type: "string", Description: "Task id", Required: true},
			},
			Execute: func(ctx context.Context, args map[string]any, ec ExecContext) (any, error) {
				taskID, err := requiredString(args, "task_id")
				if err != nil {
					return nil, err
				}
				if err := eng.DeleteTask(ctx, taskID, ec.UserID); err != nil {
					return nil, err
				}
				return map[string]any{"deleted": taskID}, nil
			},
		},
		{
			Name:        "move_task",
			Description: "Move a task to another column, optionally at an explicit position. Accepts a column id or name; without one the column is inferred from the target status.",
			Parameters: map[string]Param{
				"task_id":   {Type: "string", Description: "Task id", Required: true},
				"column_id": {Type: "string", Description: "Target column id"},
				"column":    {Type: "string", Description: "Target column name"},
				"status":    {Type: "string", Description: "Target status used to infer the column"},
				"position":  {Type: "number", Description: "Explicit position in the target column"},
			},
			Execute: func(ctx context.Context, args map[string]any, ec ExecContext) (any, error) {
				taskID, err := requiredString(args, "task_id")
				if err != nil {
					return nil, err
				}
				status, err := optionalString(args, "status")
				if err != nil {
					return nil, err
				}
				columnID, err := resolveColumn(ctx, eng, ec, args, status)
				if err != nil {
					return nil, err
				}
				var position *int
				if _, ok := args["position"]; ok {
					p, err := optionalInt(args, "position")
					if err != nil {
						return nil, err
					}
					position = &p
				}
				return eng.MoveTask(ctx, taskID, columnID, position, ec.UserID)
			},
		},
		{
			Name:        "search_tasks",
			Description: "Search the project's tasks by title or description.",
			Parameters: map[string]Param{
				"query": {Type: "string", Description: "Search text", Required: true},
				"limit": {Type: "number", Description: "Maximum results, default 20"},
			},
			Execute: func(ctx context.Context, args map[string]any, ec ExecContext) (any, error) {
				query, err := requiredString(args, "query")
				if err != nil {
					return nil, err
				}
				limit, err := optionalInt(args, "limit")
				if err != nil {
					return nil, err
				}
				if limit <= 0 {
					limit = 20
				}
				return eng.SearchTasks(ctx, ec.ProjectID, query, ec.UserID, limit)
			},
		},
		{
			Name:        "analyze_task",
			Description: "Summarize a task's state: progress, token spend against estimate, blockers.",
			Parameters: map[string]Param{
				"task_id": {Type: "string", Description: "Task id", Required: true},
			},
			Execute: func(ctx context.Context, args map[string]any, ec ExecContext) (any, error) {
				taskID, err := requiredString(args, "task_id")
				if err != nil {
					return nil, err
				}
				t, err := eng.GetTask(ctx, taskID, ec.UserID)
				if err != nil {
					return nil, err
				}
				return analyzeTask(t), nil
			},
		},
		{
			Name:        "create_column",
			Description: "Add a column at the end of the board.",
			Parameters: map[string]Param{
				"title": {Type: "string", Description: "Column title", Required: true},
			},
			Execute: func(ctx context.Context, args map[string]any, ec ExecContext) (any, error) {
				title, err := requiredString(args, "title")
				if err != nil {
					return nil, err
				}
				return eng.CreateColumn(ctx, engine.ColumnCreateOptions{
					ProjectID: ec.ProjectID,
					Title:     title,
					ActorID:   ec.UserID,
				})
			},
		},
		{
			Name:        "update_column",
			Description: "Rename or reposition a column.",
			Parameters: map[string]Param{
				"column_id": {Type: "string", Description: "Column id", Required: true},
				"title":     {Type: "string", Description: "New title"},
				"position":  {Type: "number", Description: "New position"},
			},
			Execute: func(ctx context.Context, args map[string]any, ec ExecContext) (any, error) {
				columnID, err := requiredString(args, "column_id")
				if err != nil {
					return nil, err
				}
				opts := engine.ColumnUpdateOptions{ActorID: ec.UserID}
				if v, err := optionalStringPtr(args, "title"); err != nil {
					return nil, err
				} else {
					opts.Title = v
				}
				if _, ok := args["position"]; ok {
					p, err := optionalInt(args, "position")
					if err != nil {
						return nil, err
					}
					opts.Position = &p
				}
				return eng.UpdateColumn(ctx, columnID, opts)
			},
		},
		{
			Name:        "delete_column",
			Description: "Delete a column and every task in it.",
			Parameters: map[string]Param{
				"column_id": {Type: "string", Description: "Column id", Required: true},
			},
			Execute: func(ctx context.Context, args map[string]any, ec ExecContext) (any, error) {
				columnID, err := requiredString(args, "column_id")
				if err != nil {
					return nil, err
				}
				if err := eng.DeleteColumn(ctx, columnID, ec.UserID); err != nil {
					return nil, err
				}
				return map[string]any{"deleted": columnID}, nil
			},
		},
		{
			Name:        "assign_agent",
			Description: "Assign an agent to a task.",
			Parameters: map[string]Param{
				"task_id":  {Type: "string", Description: "Task id", Required: true},
				"agent_id": {Type: "string", Description: "Agent id", Required: true},
			},
			Execute: func(ctx context.Context, args map[string]any, ec ExecContext) (any, error) {
				taskID, err := requiredString(args, "task_id")
				if err != nil {
					return nil, err
				}
				agentID, err := requiredString(args, "agent_id")
				if err != nil {
					return nil, err
				}
				return eng.AssignAgent(ctx, taskID, agentID, ec.UserID)
			},
		},
		{
			Name:        "run_agent",
			Description: "Queue an agent run against a task. Execution backends are not wired yet; the run is recorded as pending.",
			Parameters: map[string]Param{
				"task_id":  {Type: "string", Description: "Task id", Required: true},
				"agent_id": {Type: "string", Description: "Agent id", Required: true},
			},
			Execute: func(ctx context.Context, args map[string]any, ec ExecContext) (any, error) {
				taskID, err := requiredString(args, "task_id")
				if err != nil {
					return nil, err
				}
				agentID, err := requiredString(args, "agent_id")
				if err != nil {
					return nil, err
				}
				if _, err := eng.GetTask(ctx, taskID, ec.UserID); err != nil {
					return nil, err
				}
				if _, err := eng.GetAgent(ctx, agentID, ec.UserID); err != nil {
					return nil, err
				}
				return map[string]any{"task_id": taskID, "agent_id": agentID, "status": "pending"}, nil
			},
		},
		{
			Name:        "get_project_analytics",
			Description: "Project rollup: task and column counts, status and priority breakdown, token totals, average progress.",
			Parameters:  map[string]Param{},
			Execute: func(ctx context.Context, args map[string]any, ec ExecContext) (any, error) {
				return eng.GetProjectAnalytics(ctx, ec.ProjectID, ec.UserID)
			},
		},
		{
			Name:        "get_task_stats",
			Description: "Task counts grouped by status and priority.",
			Parameters:  map[string]Param{},
			Execute: func(ctx context.Context, args map[string]any, ec ExecContext) (any, error) {
				return eng.GetTaskStats(ctx, ec.ProjectID, ec.UserID)
			},
		},
	}
}

// statusPhrases maps a task status to column-title fragments that commonly
// stand for it on a board.
var statusPhrases = map[string][]string{
	"in_progress": {"in progress", "doing", "wip", "active", "working"},
	"done":        {"done", "complete", "finished", "shipped"},
	"blocked":     {"blocked", "waiting", "on hold"},
	"ready":       {"ready", "up next"},
	"backlog":     {"backlog", "todo", "to do", "new"},
}

var genericPhrases = []string{"backlog", "todo", "ready", "new"}

// resolveColumn picks the target column for create_task/move_task: explicit
// id, then case-insensitive title match, then a status-driven phrase lookup,
// then generic board phrases, then the first column by position.
func resolveColumn(ctx context.Context, eng engine.Engine, ec ExecContext, args map[string]any, status string) (string, error) {
	if id, err := optionalString(args, "column_id"); err != nil {
		return "", err
	} else if id != "" {
		return id, nil
	}
	cols, err := eng.ListColumns(ctx, ec.ProjectID, ec.UserID)
	if err != nil {
		return "", err
	}
	if len(cols) == 0 {
		return "", errors.New("No columns found in project")
	}

	if name, err := optionalString(args, "column"); err != nil {
		return "", err
	} else if name != "" {
		for _, c := range cols {
			if strings.EqualFold(c.Title, name) {
				return c.ID, nil
			}
		}
		// An explicit name that matches nothing still falls through to the
		// phrase heuristics rather than failing the call.
	}

	if phrases, ok := statusPhrases[status]; ok {
		if id := matchColumn(cols, phrases); id != "" {
			return id, nil
		}
	}
	if id := matchColumn(cols, genericPhrases); id != "" {
		return id, nil
	}
	return cols[0].ID, nil
}

func matchColumn(cols []domain.Column, phrases []string) string {
	for _, phrase := range phrases {
		for _, c := range cols {
			if strings.Contains(strings.ToLower(c.Title), phrase) {
				return c.ID
			}
		}
	}
	return ""
}

func analyzeTask(t domain.Task) map[string]any {
	notes := []string{}
	if t.TokenEstimate > 0 && t.ActualTokensUsed > t.TokenEstimate {
		notes = append(notes, fmt.Sprintf("over token budget: used %d of %d", t.ActualTokensUsed, t.TokenEstimate))
	}
	if len(t.BlockedBy) > 0 {
		notes = append(notes, fmt.Sprintf("blocked by %d task(s)", len(t.BlockedBy)))
	}
	if t.Status == "in_progress" && t.ProgressPercentage == 0 {
		notes = append(notes, "in progress with no recorded progress")
	}
	if len(t.AssignedAgents) == 0 && len(t.Assignees) == 0 {
		notes = append(notes, "unassigned")
	}
	return map[string]any{
		"task_id":     t.ID,
		"title":       t.Title,
		"status":      t.Status,
		"priority":    t.Priority,
		"progress":    t.ProgressPercentage,
		"tokens_used": t.ActualTokensUsed,
		"estimate":    t.TokenEstimate,
		"notes":       notes,
	}
}

func requiredString(args map[string]any, key string) (string, error) {
	v, err := optionalString(args, key)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return v, nil
}

func optionalString(args map[string]any, key string) (string, error) {
	if args == nil {
		return "", nil
	}
	v, ok := args[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string", key)
	}
	return s, nil
}

func optionalStringPtr(args map[string]any, key string) (*string, error) {
	if args == nil {
		return nil, nil
	}
	if _, ok := args[key]; !ok {
		return nil, nil
	}
	s, err := optionalString(args, key)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func optionalStringSlice(args map[string]any, key string) ([]string, error) {
	if args == nil {
		return nil, nil
	}
	v, ok := args[key]
	if !ok || v == nil {
		return nil, nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%s must be an array", key)
	}
	values := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("%s must contain strings", key)
		}
		values = append(values, s)
	}
	return values, nil
}

func optionalInt(args map[string]any, key string) (int, error) {
	if args == nil {
		return 0, nil
	}
	v, ok := args[key]
	if !ok || v == nil {
		return 0, nil
	}
	switch n := v.(type) {
	case float64:
		return int(n), nil
	case int:
		return n, nil
	default:
		return 0, fmt.Errorf("%s must be a number", key)
	}
}
