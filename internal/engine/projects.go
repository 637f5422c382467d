package engine

import (
	"context"
	"errors"
	"fmt"

	"boardflow/internal/domain"
	"boardflow/internal/engine/auth"
	"boardflow/internal/events"
)

// ProjectCreateOptions are parameters for creating a project.
type ProjectCreateOptions struct {
	OrganizationID string
	Name           string
	Description    string
	Visibility     string
	AIModel        string
	TokenBudget    int
	AutoRun        bool
	ActorID        string
}

// CreateProject requires organization membership at member or above. The
// creator becomes the project's owner member.
func (e Engine) CreateProject(ctx context.Context, opts ProjectCreateOptions) (domain.Project, error) {
	if opts.Name == "" {
		return domain.Project{}, errors.New("name is required")
	}
	if opts.Visibility == "" {
		opts.Visibility = "team"
	}
	switch opts.Visibility {
	case "public", "private", "team":
	default:
		return domain.Project{}, fmt.Errorf("unknown visibility %q", opts.Visibility)
	}
	acc, err := e.Gate.ResolveAccess(ctx, auth.KindOrganization, opts.OrganizationID, opts.ActorID, auth.RolesMember...)
	if err != nil {
		return domain.Project{}, err
	}
	count, err := e.Repo.CountProjectsInOrganization(ctx, opts.OrganizationID)
	if err != nil {
		return domain.Project{}, err
	}
	if max := acc.Organization.Settings.MaxProjects; max > 0 && count >= max {
		return domain.Project{}, fmt.Errorf("organization project limit (%d) reached", max)
	}

	now := e.stamp()
	p := domain.Project{
		ID:             newID(),
		OrganizationID: opts.OrganizationID,
		Name:           opts.Name,
		Description:    opts.Description,
		Visibility:     opts.Visibility,
		IsActive:       true,
		Settings: domain.ProjectSettings{
			AIModel:     opts.AIModel,
			TokenBudget: opts.TokenBudget,
			AutoRun:     opts.AutoRun,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	owner := domain.ProjectMember{UserID: opts.ActorID, Role: "owner", AddedAt: now}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.Repo.UpsertProjectMember(ctx, tx, p.ID, owner); err != nil {
		return domain.Project{}, fmt.Errorf("insert owner membership: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "project.created", p.ID, "project", p.ID, opts.ActorID, events.EventPayload{"name": p.Name, "visibility": p.Visibility}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	p.Members = []domain.ProjectMember{owner}
	return p, nil
}

func (e Engine) GetProject(ctx context.Context, id, actorID string) (domain.Project, error) {
	acc, err := e.Gate.ResolveAccess(ctx, auth.KindProject, id, actorID)
	if err != nil {
		return domain.Project{}, err
	}
	return *acc.Project, nil
}

// ListProjects returns the organization's active projects the caller can
// see. Private projects are filtered out for non-members.
func (e Engine) ListProjects(ctx context.Context, orgID, actorID string) ([]domain.Project, error) {
	if _, err := e.Gate.ResolveAccess(ctx, auth.KindOrganization, orgID, actorID); err != nil {
		return nil, err
	}
	all, err := e.Repo.ListProjectsByOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	visible := make([]domain.Project, 0, len(all))
	for _, p := range all {
		if p.Visibility == "private" {
			member := false
			for _, m := range p.Members {
				if m.UserID == actorID {
					member = true
					break
				}
			}
			if !member {
				continue
			}
		}
		visible = append(visible, p)
	}
	return visible, nil
}

// ProjectUpdateOptions carry patch fields; nil means keep.
type ProjectUpdateOptions struct {
	Name        *string
	Description *string
	Visibility  *string
	AIModel     *string
	TokenBudget *int
	AutoRun     *bool
	ActorID     string
}

func (e Engine) UpdateProject(ctx context.Context, id string, opts ProjectUpdateOptions) (domain.Project, error) {
	acc, err := e.Gate.ResolveAccess(ctx, auth.KindProject, id, opts.ActorID, auth.RolesEditor...)
	if err != nil {
		return domain.Project{}, err
	}
	p := *acc.Project
	if opts.Name != nil {
		p.Name = *opts.Name
	}
	if opts.Description != nil {
		p.Description = *opts.Description
	}
	if opts.Visibility != nil {
		switch *opts.Visibility {
		case "public", "private", "team":
			p.Visibility = *opts.Visibility
		default:
			return domain.Project{}, fmt.Errorf("unknown visibility %q", *opts.Visibility)
		}
	}
	if opts.AIModel != nil {
		p.Settings.AIModel = *opts.AIModel
	}
	if opts.TokenBudget != nil {
		p.Settings.TokenBudget = *opts.TokenBudget
	}
	if opts.AutoRun != nil {
		p.Settings.AutoRun = *opts.AutoRun
	}
	p.UpdatedAt = e.stamp()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateProject(ctx, tx, p); err != nil {
		return domain.Project{}, err
	}
	if err := e.Events.Append(ctx, tx, "project.updated", p.ID, "project", p.ID, opts.ActorID, nil); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// DeleteProject soft-deletes. Columns and tasks are kept but unreachable
// once the project is inactive.
func (e Engine) DeleteProject(ctx context.Context, id, actorID string) error {
	if _, err := e.Gate.ResolveAccess(ctx, auth.KindProject, id, actorID, auth.RolesAdmin...); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeactivateProject(ctx, tx, id, e.stamp()); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "project.deleted", id, "project", id, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) AddProjectMember(ctx context.Context, projectID, userID, role, actorID string) error {
	switch role {
	case "owner", "editor", "viewer":
	default:
		return fmt.Errorf("unknown project role %q", role)
	}
	if _, err := e.Gate.ResolveAccess(ctx, auth.KindProject, projectID, actorID, "owner", "editor"); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	m := domain.ProjectMember{UserID: userID, Role: role, AddedAt: e.stamp()}
	if err := e.Repo.UpsertProjectMember(ctx, tx, projectID, m); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "project.member_added", projectID, "project", projectID, actorID, events.EventPayload{"user_id": userID, "role": role}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) RemoveProjectMember(ctx context.Context, projectID, userID, actorID string) error {
	if _, err := e.Gate.ResolveAccess(ctx, auth.KindProject, projectID, actorID, "owner", "editor"); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.RemoveProjectMember(ctx, tx, projectID, userID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "project.member_removed", projectID, "project", projectID, actorID, events.EventPayload{"user_id": userID}); err != nil {
		return err
	}
	return tx.Commit()
}

// ListProjectEvents pages through the project's audit trail.
func (e Engine) ListProjectEvents(ctx context.Context, projectID, actorID string, afterID int64, limit int) ([]domain.Event, error) {
	if _, err := e.Gate.ResolveAccess(ctx, auth.KindProject, projectID, actorID); err != nil {
		return nil, err
	}
	return e.Repo.ListProjectEvents(ctx, projectID, afterID, limit)
}
