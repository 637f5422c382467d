package repo

import (
	"context"
	"database/sql"

	"boardflow/internal/domain"
)

const agentColumns = `id,organization_id,name,type,model,system_prompt,max_tokens,temperature,auto_run,retry_attempts,timeout_seconds,is_public,is_active,created_at,updated_at`

func scanAgentRow(scan func(dest ...any) error) (domain.Agent, error) {
	var a domain.Agent
	var prompt sql.NullString
	var autoRun, isPublic, isActive int
	err := scan(&a.ID, &a.OrganizationID, &a.Name, &a.Type, &a.Model, &prompt,
		&a.Settings.MaxTokens, &a.Settings.Temperature, &autoRun, &a.Settings.RetryAttempts,
		&a.Settings.TimeoutSeconds, &isPublic, &isActive, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.SystemPrompt = prompt.String
	a.Settings.AutoRun = autoRun == 1
	a.IsPublic = isPublic == 1
	a.IsActive = isActive == 1
	return a, nil
}

func (r Repo) InsertAgent(ctx context.Context, tx *sql.Tx, a domain.Agent) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO agents(`+agentColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.OrganizationID, a.Name, a.Type, a.Model, nullable(a.SystemPrompt),
		a.Settings.MaxTokens, a.Settings.Temperature, boolToInt(a.Settings.AutoRun),
		a.Settings.RetryAttempts, a.Settings.TimeoutSeconds, boolToInt(a.IsPublic),
		boolToInt(a.IsActive), a.CreatedAt, a.UpdatedAt)
	return err
}

func (r Repo) GetAgent(ctx context.Context, id string) (domain.Agent, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id=?`, id)
	return scanAgentRow(row.Scan)
}

func (r Repo) ListAgentsByOrganization(ctx context.Context, orgID string) ([]domain.Agent, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE organization_id=? AND is_active=1 ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Agent
	for rows.Next() {
		a, err := scanAgentRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) UpdateAgent(ctx context.Context, tx *sql.Tx, a domain.Agent) error {
	res, err := tx.ExecContext(ctx, `UPDATE agents SET name=?, type=?, model=?, system_prompt=?, max_tokens=?, temperature=?, auto_run=?, retry_attempts=?, timeout_seconds=?, is_public=?, updated_at=? WHERE id=?`,
		a.Name, a.Type, a.Model, nullable(a.SystemPrompt), a.Settings.MaxTokens, a.Settings.Temperature,
		boolToInt(a.Settings.AutoRun), a.Settings.RetryAttempts, a.Settings.TimeoutSeconds,
		boolToInt(a.IsPublic), a.UpdatedAt, a.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateAgent soft-deletes; assignment history keeps referencing the id.
func (r Repo) DeactivateAgent(ctx context.Context, tx *sql.Tx, id, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE agents SET is_active=0, updated_at=? WHERE id=? AND is_active=1`, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) CountAgentsByOrganization(ctx context.Context, orgID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM agents WHERE organization_id=? AND is_active=1`, orgID).Scan(&n)
	return n, err
}
