package repo

import (
	"context"
	"database/sql"

	"boardflow/internal/domain"
)

func (r Repo) InsertOrganization(ctx context.Context, tx *sql.Tx, o domain.Organization) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO organizations(id,name,slug,is_active,ai_credits,max_projects,features,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		o.ID, o.Name, o.Slug, boolToInt(o.IsActive), o.Settings.AICredits, o.Settings.MaxProjects,
		marshalStrings(o.Settings.Features), o.CreatedAt, o.UpdatedAt)
	return err
}

func (r Repo) GetOrganization(ctx context.Context, id string) (domain.Organization, error) {
	var o domain.Organization
	var active int
	var features sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,slug,is_active,ai_credits,max_projects,features,created_at,updated_at FROM organizations WHERE id=?`, id).
		Scan(&o.ID, &o.Name, &o.Slug, &active, &o.Settings.AICredits, &o.Settings.MaxProjects, &features, &o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	if err != nil {
		return o, err
	}
	o.IsActive = active == 1
	o.Settings.Features = unmarshalStrings(features)
	o.Members, err = r.ListOrganizationMembers(ctx, o.ID)
	return o, err
}

func (r Repo) ListOrganizations(ctx context.Context, userID string) ([]domain.Organization, error) {
	rows, err := r.DB.QueryContext(ctx, `
SELECT o.id,o.name,o.slug,o.is_active,o.ai_credits,o.max_projects,o.features,o.created_at,o.updated_at
FROM organizations o
JOIN organization_members m ON m.org_id=o.id
WHERE m.user_id=? AND o.is_active=1
ORDER BY o.created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Organization
	for rows.Next() {
		var o domain.Organization
		var active int
		var features sql.NullString
		if err := rows.Scan(&o.ID, &o.Name, &o.Slug, &active, &o.Settings.AICredits, &o.Settings.MaxProjects, &features, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		o.IsActive = active == 1
		o.Settings.Features = unmarshalStrings(features)
		res = append(res, o)
	}
	return res, rows.Err()
}

func (r Repo) UpdateOrganization(ctx context.Context, tx *sql.Tx, o domain.Organization) error {
	res, err := tx.ExecContext(ctx, `UPDATE organizations SET name=?, slug=?, ai_credits=?, max_projects=?, features=?, updated_at=? WHERE id=?`,
		o.Name, o.Slug, o.Settings.AICredits, o.Settings.MaxProjects, marshalStrings(o.Settings.Features), o.UpdatedAt, o.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateOrganization soft-deletes; the row and its slug stay behind.
func (r Repo) DeactivateOrganization(ctx context.Context, tx *sql.Tx, id, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE organizations SET is_active=0, updated_at=? WHERE id=? AND is_active=1`, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SlugExists(ctx context.Context, slug string) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM organizations WHERE slug=? AND is_active=1 LIMIT 1`, slug).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) ListOrganizationMembers(ctx context.Context, orgID string) ([]domain.OrganizationMember, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT user_id,role,permissions,joined_at FROM organization_members WHERE org_id=?`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.OrganizationMember
	for rows.Next() {
		var m domain.OrganizationMember
		var perms sql.NullString
		if err := rows.Scan(&m.UserID, &m.Role, &perms, &m.JoinedAt); err != nil {
			return nil, err
		}
		m.Permissions = unmarshalStrings(perms)
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) GetOrganizationMember(ctx context.Context, orgID, userID string) (domain.OrganizationMember, error) {
	var m domain.OrganizationMember
	var perms sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT user_id,role,permissions,joined_at FROM organization_members WHERE org_id=? AND user_id=?`, orgID, userID).
		Scan(&m.UserID, &m.Role, &perms, &m.JoinedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	m.Permissions = unmarshalStrings(perms)
	return m, err
}

func (r Repo) UpsertOrganizationMember(ctx context.Context, tx *sql.Tx, orgID string, m domain.OrganizationMember) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO organization_members(org_id,user_id,role,permissions,joined_at) VALUES (?,?,?,?,?)
ON CONFLICT(org_id,user_id) DO UPDATE SET role=excluded.role, permissions=excluded.permissions`,
		orgID, m.UserID, m.Role, marshalStrings(m.Permissions), m.JoinedAt)
	return err
}

func (r Repo) RemoveOrganizationMember(ctx context.Context, tx *sql.Tx, orgID, userID string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM organization_members WHERE org_id=? AND user_id=?`, orgID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) CountProjectsInOrganization(ctx context.Context, orgID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM projects WHERE organization_id=? AND is_active=1`, orgID).Scan(&n)
	return n, err
}
