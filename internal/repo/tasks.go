package repo

import (
	"context"
	"database/sql"
	"strings"

	"boardflow/internal/domain"
)

const taskColumns = `id,project_id,column_id,title,description,status,priority,position,token_estimate,actual_tokens_used,progress_percentage,assignees,tags,dependencies,blocked_by,parent_task,created_by,created_at,updated_at`

func scanTaskRow(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	var desc, assignees, tags, deps, blockedBy, parent, createdBy sql.NullString
	err := scan(&t.ID, &t.ProjectID, &t.ColumnID, &t.Title, &desc, &t.Status, &t.Priority,
		&t.Position, &t.TokenEstimate, &t.ActualTokensUsed, &t.ProgressPercentage,
		&assignees, &tags, &deps, &blockedBy, &parent, &createdBy, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.Description = desc.String
	t.Assignees = unmarshalStrings(assignees)
	t.Tags = unmarshalStrings(tags)
	t.Dependencies = unmarshalStrings(deps)
	t.BlockedBy = unmarshalStrings(blockedBy)
	if parent.Valid {
		t.ParentTask = &parent.String
	}
	t.CreatedBy = createdBy.String
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.ProjectID, t.ColumnID, t.Title, nullable(t.Description), t.Status, t.Priority,
		t.Position, t.TokenEstimate, t.ActualTokensUsed, t.ProgressPercentage,
		marshalStrings(t.Assignees), marshalStrings(t.Tags), marshalStrings(t.Dependencies),
		marshalStrings(t.BlockedBy), nullableStringPtr(t.ParentTask), nullable(t.CreatedBy),
		t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	t, err := scanTaskRow(row.Scan)
	if err != nil {
		return t, err
	}
	t.AssignedAgents, err = r.ListTaskAgents(ctx, t.ID)
	return t, err
}

func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET column_id=?, title=?, description=?, status=?, priority=?, position=?, token_estimate=?, actual_tokens_used=?, progress_percentage=?, assignees=?, tags=?, dependencies=?, blocked_by=?, parent_task=?, updated_at=? WHERE id=?`,
		t.ColumnID, t.Title, nullable(t.Description), t.Status, t.Priority, t.Position,
		t.TokenEstimate, t.ActualTokensUsed, t.ProgressPercentage,
		marshalStrings(t.Assignees), marshalStrings(t.Tags), marshalStrings(t.Dependencies),
		marshalStrings(t.BlockedBy), nullableStringPtr(t.ParentTask), t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTask hard-deletes a task. Its agent history rows are kept.
func (r Repo) DeleteTask(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type TaskFilters struct {
	ProjectID       string
	ColumnID        string
	Status          string
	Priority        string
	Assignee        string
	Query           string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	clauses := []string{"project_id=?"}
	args := []any{f.ProjectID}
	if f.ColumnID != "" {
		clauses = append(clauses, "column_id=?")
		args = append(args, f.ColumnID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Priority != "" {
		clauses = append(clauses, "priority=?")
		args = append(args, f.Priority)
	}
	if f.Assignee != "" {
		clauses = append(clauses, "assignees LIKE ?")
		args = append(args, "%\""+f.Assignee+"\"%")
	}
	if f.Query != "" {
		clauses = append(clauses, "(title LIKE ? OR description LIKE ?)")
		pattern := "%" + f.Query + "%"
		args = append(args, pattern, pattern)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTaskRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) ListTasksByColumn(ctx context.Context, columnID string) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE column_id=? ORDER BY position ASC`, columnID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTaskRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// MaxTaskPosition returns the current maximum position within a column, or
// -1 when the column is empty. The read-then-insert sequence around this is
// not atomic across connections; each engine mutation runs in its own tx.
func (r Repo) MaxTaskPosition(ctx context.Context, columnID string) (int, error) {
	var pos sql.NullInt64
	err := r.DB.QueryRowContext(ctx, `SELECT MAX(position) FROM tasks WHERE column_id=?`, columnID).Scan(&pos)
	if err != nil {
		return -1, err
	}
	if !pos.Valid {
		return -1, nil
	}
	return int(pos.Int64), nil
}

func (r Repo) CountTasks(ctx context.Context, projectID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM tasks WHERE project_id=?`, projectID).Scan(&n)
	return n, err
}

func (r Repo) CountTasksByStatus(ctx context.Context, projectID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM tasks WHERE project_id=? GROUP BY status`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

func (r Repo) CountTasksByPriority(ctx context.Context, projectID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT priority, count(*) FROM tasks WHERE project_id=? GROUP BY priority`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var priority string
		var count int
		if err := rows.Scan(&priority, &count); err != nil {
			return nil, err
		}
		res[priority] = count
	}
	return res, rows.Err()
}

// ProjectTokenTotals returns summed token estimates, actual usage and the
// average progress across a project's tasks.
func (r Repo) ProjectTokenTotals(ctx context.Context, projectID string) (estimate, used int, avgProgress float64, err error) {
	err = r.DB.QueryRowContext(ctx, `SELECT COALESCE(SUM(token_estimate),0), COALESCE(SUM(actual_tokens_used),0), COALESCE(AVG(progress_percentage),0) FROM tasks WHERE project_id=?`, projectID).
		Scan(&estimate, &used, &avgProgress)
	return
}

func (r Repo) ListTaskAgents(ctx context.Context, taskID string) ([]domain.AssignedAgent, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT agent_id,agent_name FROM task_agents WHERE task_id=?`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AssignedAgent
	for rows.Next() {
		var a domain.AssignedAgent
		if err := rows.Scan(&a.AgentID, &a.AgentName); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) UpsertTaskAgent(ctx context.Context, tx *sql.Tx, taskID string, a domain.AssignedAgent) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO task_agents(task_id,agent_id,agent_name) VALUES (?,?,?)
ON CONFLICT(task_id,agent_id) DO UPDATE SET agent_name=excluded.agent_name`, taskID, a.AgentID, a.AgentName)
	return err
}

// AppendAgentHistory inserts one history row. There is deliberately no
// update or delete counterpart.
func (r Repo) AppendAgentHistory(ctx context.Context, tx *sql.Tx, e domain.AgentHistoryEntry) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO task_agent_history(task_id,agent_id,assigned_at,assigned_by,result) VALUES (?,?,?,?,?)`,
		e.TaskID, e.AgentID, e.AssignedAt, e.AssignedBy, nullableStringPtr(e.Result))
	return err
}

func (r Repo) ListAgentHistory(ctx context.Context, taskID string) ([]domain.AgentHistoryEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,task_id,agent_id,assigned_at,assigned_by,result FROM task_agent_history WHERE task_id=? ORDER BY id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AgentHistoryEntry
	for rows.Next() {
		var e domain.AgentHistoryEntry
		var result sql.NullString
		if err := rows.Scan(&e.ID, &e.TaskID, &e.AgentID, &e.AssignedAt, &e.AssignedBy, &result); err != nil {
			return nil, err
		}
		if result.Valid {
			e.Result = &result.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
