package repo

import (
	"context"
	"database/sql"

	"boardflow/internal/domain"
)

func scanProjectRow(scan func(dest ...any) error) (domain.Project, error) {
	var p domain.Project
	var desc, aiModel sql.NullString
	var active, autoRun int
	err := scan(&p.ID, &p.OrganizationID, &p.Name, &desc, &p.Visibility, &active,
		&aiModel, &p.Settings.TokenBudget, &autoRun, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.Description = desc.String
	p.Settings.AIModel = aiModel.String
	p.IsActive = active == 1
	p.Settings.AutoRun = autoRun == 1
	return p, nil
}

const projectColumns = `id,organization_id,name,description,visibility,is_active,ai_model,token_budget,auto_run,created_at,updated_at`

func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO projects(`+projectColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.OrganizationID, p.Name, nullable(p.Description), p.Visibility, boolToInt(p.IsActive),
		nullable(p.Settings.AIModel), p.Settings.TokenBudget, boolToInt(p.Settings.AutoRun), p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id)
	p, err := scanProjectRow(row.Scan)
	if err != nil {
		return p, err
	}
	p.Members, err = r.ListProjectMembers(ctx, p.ID)
	return p, err
}

func (r Repo) ListProjectsByOrganization(ctx context.Context, orgID string) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE organization_id=? AND is_active=1 ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProjectRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) UpdateProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	res, err := tx.ExecContext(ctx, `UPDATE projects SET name=?, description=?, visibility=?, ai_model=?, token_budget=?, auto_run=?, updated_at=? WHERE id=?`,
		p.Name, nullable(p.Description), p.Visibility, nullable(p.Settings.AIModel),
		p.Settings.TokenBudget, boolToInt(p.Settings.AutoRun), p.UpdatedAt, p.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateProject soft-deletes the project. Columns and tasks stay in
// place but become unreachable through access resolution.
func (r Repo) DeactivateProject(ctx context.Context, tx *sql.Tx, id, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE projects SET is_active=0, updated_at=? WHERE id=? AND is_active=1`, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListProjectMembers(ctx context.Context, projectID string) ([]domain.ProjectMember, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT user_id,role,added_at FROM project_members WHERE project_id=?`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ProjectMember
	for rows.Next() {
		var m domain.ProjectMember
		if err := rows.Scan(&m.UserID, &m.Role, &m.AddedAt); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) GetProjectMember(ctx context.Context, projectID, userID string) (domain.ProjectMember, error) {
	var m domain.ProjectMember
	err := r.DB.QueryRowContext(ctx, `SELECT user_id,role,added_at FROM project_members WHERE project_id=? AND user_id=?`, projectID, userID).
		Scan(&m.UserID, &m.Role, &m.AddedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	return m, err
}

func (r Repo) UpsertProjectMember(ctx context.Context, tx *sql.Tx, projectID string, m domain.ProjectMember) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO project_members(project_id,user_id,role,added_at) VALUES (?,?,?,?)
ON CONFLICT(project_id,user_id) DO UPDATE SET role=excluded.role`,
		projectID, m.UserID, m.Role, m.AddedAt)
	return err
}

func (r Repo) RemoveProjectMember(ctx context.Context, tx *sql.Tx, projectID, userID string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM project_members WHERE project_id=? AND user_id=?`, projectID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
