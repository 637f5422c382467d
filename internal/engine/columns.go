package engine

import (
	"context"
	"errors"
	"fmt"

	"boardflow/internal/domain"
	"boardflow/internal/engine/auth"
	"boardflow/internal/events"
)

// ColumnCreateOptions are parameters for creating a column.
type ColumnCreateOptions struct {
	ProjectID    string
	Title        string
	Visibility   string
	AutoRun      bool
	AutoRunAgent *string
	TaskLimit    *int
	ActorID      string
}

// CreateColumn appends the column at the end of the board: position is the
// current maximum plus one, or zero on an empty board.
func (e Engine) CreateColumn(ctx context.Context, opts ColumnCreateOptions) (domain.Column, error) {
	if opts.Title == "" {
		return domain.Column{}, errors.New("title is required")
	}
	if opts.Visibility == "" {
		opts.Visibility = "public"
	}
	if _, err := e.Gate.ResolveAccess(ctx, auth.KindProject, opts.ProjectID, opts.ActorID, auth.RolesEditor...); err != nil {
		return domain.Column{}, err
	}
	max, err := e.Repo.MaxColumnPosition(ctx, opts.ProjectID)
	if err != nil {
		return domain.Column{}, err
	}

	now := e.stamp()
	c := domain.Column{
		ID:        newID(),
		ProjectID: opts.ProjectID,
		Title:     opts.Title,
		Position:  max + 1,
		Settings: domain.ColumnSettings{
			AutoRun:      opts.AutoRun,
			AutoRunAgent: opts.AutoRunAgent,
			TaskLimit:    opts.TaskLimit,
		},
		Visibility: opts.Visibility,
		CreatedBy:  opts.ActorID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Column{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertColumn(ctx, tx, c); err != nil {
		return domain.Column{}, fmt.Errorf("insert column: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "column.created", c.ProjectID, "column", c.ID, opts.ActorID, events.EventPayload{"title": c.Title, "position": c.Position}); err != nil {
		return domain.Column{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Column{}, err
	}
	return c, nil
}

func (e Engine) GetColumn(ctx context.Context, id, actorID string) (domain.Column, error) {
	if _, err := e.Gate.ResolveAccess(ctx, auth.KindColumn, id, actorID); err != nil {
		return domain.Column{}, err
	}
	return e.Repo.GetColumn(ctx, id)
}

func (e Engine) ListColumns(ctx context.Context, projectID, actorID string) ([]domain.Column, error) {
	acc, err := e.Gate.ResolveAccess(ctx, auth.KindProject, projectID, actorID)
	if err != nil {
		return nil, err
	}
	cols, err := e.Repo.ListColumns(ctx, projectID)
	if err != nil {
		return nil, err
	}
	visible := cols[:0]
	for _, c := range cols {
		if c.Visibility == "private" && c.CreatedBy != actorID && !projectHasMember(acc.Project, actorID) {
			continue
		}
		visible = append(visible, c)
	}
	return visible, nil
}

func projectHasMember(p *domain.Project, userID string) bool {
	if p == nil {
		return false
	}
	for _, m := range p.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

// ColumnUpdateOptions carry patch fields; nil means keep.
type ColumnUpdateOptions struct {
	Title        *string
	Position     *int
	Visibility   *string
	AutoRun      *bool
	AutoRunAgent *string
	TaskLimit    *int
	ActorID      string
}

func (e Engine) UpdateColumn(ctx context.Context, id string, opts ColumnUpdateOptions) (domain.Column, error) {
	if _, err := e.Gate.ResolveAccess(ctx, auth.KindColumn, id, opts.ActorID, auth.RolesEditor...); err != nil {
		return domain.Column{}, err
	}
	c, err := e.Repo.GetColumn(ctx, id)
	if err != nil {
		return domain.Column{}, err
	}
	if opts.Title != nil {
		c.Title = *opts.Title
	}
	if opts.Position != nil {
		c.Position = *opts.Position
	}
	if opts.Visibility != nil {
		c.Visibility = *opts.Visibility
	}
	if opts.AutoRun != nil {
		c.Settings.AutoRun = *opts.AutoRun
	}
	if opts.AutoRunAgent != nil {
		c.Settings.AutoRunAgent = opts.AutoRunAgent
	}
	if opts.TaskLimit != nil {
		c.Settings.TaskLimit = opts.TaskLimit
	}
	c.UpdatedAt = e.stamp()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Column{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateColumn(ctx, tx, c); err != nil {
		return domain.Column{}, err
	}
	if err := e.Events.Append(ctx, tx, "column.updated", c.ProjectID, "column", c.ID, opts.ActorID, nil); err != nil {
		return domain.Column{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Column{}, err
	}
	return c, nil
}

// DeleteColumn hard-deletes the column and, through the foreign key cascade,
// every task in it.
func (e Engine) DeleteColumn(ctx context.Context, id, actorID string) error {
	if _, err := e.Gate.ResolveAccess(ctx, auth.KindColumn, id, actorID, auth.RolesEditor...); err != nil {
		return err
	}
	c, err := e.Repo.GetColumn(ctx, id)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteColumn(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "column.deleted", c.ProjectID, "column", id, actorID, events.EventPayload{"title": c.Title}); err != nil {
		return err
	}
	return tx.Commit()
}
