package repo

import (
	"context"
	"database/sql"

	"boardflow/internal/domain"
)

const columnColumns = `id,project_id,title,position,auto_run,auto_run_agent,task_limit,visibility,created_by,created_at,updated_at`

func scanColumnRow(scan func(dest ...any) error) (domain.Column, error) {
	var c domain.Column
	var autoRun int
	var agent, createdBy sql.NullString
	var limit sql.NullInt64
	err := scan(&c.ID, &c.ProjectID, &c.Title, &c.Position, &autoRun, &agent, &limit,
		&c.Visibility, &createdBy, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.Settings.AutoRun = autoRun == 1
	if agent.Valid {
		c.Settings.AutoRunAgent = &agent.String
	}
	if limit.Valid {
		v := int(limit.Int64)
		c.Settings.TaskLimit = &v
	}
	c.CreatedBy = createdBy.String
	return c, nil
}

func (r Repo) InsertColumn(ctx context.Context, tx *sql.Tx, c domain.Column) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO columns(`+columnColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.ProjectID, c.Title, c.Position, boolToInt(c.Settings.AutoRun),
		nullableStringPtr(c.Settings.AutoRunAgent), nullableIntPtr(c.Settings.TaskLimit),
		c.Visibility, nullable(c.CreatedBy), c.CreatedAt, c.UpdatedAt)
	return err
}

func (r Repo) GetColumn(ctx context.Context, id string) (domain.Column, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+columnColumns+` FROM columns WHERE id=?`, id)
	return scanColumnRow(row.Scan)
}

func (r Repo) ListColumns(ctx context.Context, projectID string) ([]domain.Column, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+columnColumns+` FROM columns WHERE project_id=? ORDER BY position ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Column
	for rows.Next() {
		c, err := scanColumnRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) UpdateColumn(ctx context.Context, tx *sql.Tx, c domain.Column) error {
	res, err := tx.ExecContext(ctx, `UPDATE columns SET title=?, position=?, auto_run=?, auto_run_agent=?, task_limit=?, visibility=?, updated_at=? WHERE id=?`,
		c.Title, c.Position, boolToInt(c.Settings.AutoRun), nullableStringPtr(c.Settings.AutoRunAgent),
		nullableIntPtr(c.Settings.TaskLimit), c.Visibility, c.UpdatedAt, c.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteColumn hard-deletes the column; tasks cascade via the FK.
func (r Repo) DeleteColumn(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM columns WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MaxColumnPosition returns the current maximum position, or -1 when the
// project has no columns yet.
func (r Repo) MaxColumnPosition(ctx context.Context, projectID string) (int, error) {
	var pos sql.NullInt64
	err := r.DB.QueryRowContext(ctx, `SELECT MAX(position) FROM columns WHERE project_id=?`, projectID).Scan(&pos)
	if err != nil {
		return -1, err
	}
	if !pos.Valid {
		return -1, nil
	}
	return int(pos.Int64), nil
}

func (r Repo) CountColumns(ctx context.Context, projectID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM columns WHERE project_id=?`, projectID).Scan(&n)
	return n, err
}
