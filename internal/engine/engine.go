// Package engine implements the gated mutations and queries over the five
// entity kinds. Every mutation runs in its own transaction and appends an
// audit event before committing.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"boardflow/internal/config"
	"boardflow/internal/domain"
	"boardflow/internal/engine/auth"
	"boardflow/internal/events"
	"boardflow/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Gate   auth.Gate
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:     db,
		Repo:   r,
		Gate:   auth.Gate{Repo: r},
		Events: events.Writer{},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func newID() string {
	return uuid.NewString()
}

// OrganizationCreateOptions are parameters for creating an organization.
type OrganizationCreateOptions struct {
	Name        string
	Slug        string
	AICredits   int
	MaxProjects int
	Features    []string
	ActorID     string
}

// CreateOrganization creates an organization and enrolls the creator as its
// owner, so the one-owner invariant holds from the first commit.
func (e Engine) CreateOrganization(ctx context.Context, opts OrganizationCreateOptions) (domain.Organization, error) {
	if opts.ActorID == "" {
		return domain.Organization{}, auth.UnauthenticatedError{}
	}
	if opts.Name == "" {
		return domain.Organization{}, errors.New("name is required")
	}
	if opts.Slug == "" {
		return domain.Organization{}, errors.New("slug is required")
	}
	exists, err := e.Repo.SlugExists(ctx, opts.Slug)
	if err != nil {
		return domain.Organization{}, err
	}
	if exists {
		return domain.Organization{}, fmt.Errorf("slug %s already in use", opts.Slug)
	}
	if opts.MaxProjects == 0 {
		opts.MaxProjects = 10
	}

	now := e.stamp()
	o := domain.Organization{
		ID:       newID(),
		Name:     opts.Name,
		Slug:     opts.Slug,
		IsActive: true,
		Settings: domain.OrganizationSettings{
			AICredits:   opts.AICredits,
			MaxProjects: opts.MaxProjects,
			Features:    opts.Features,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	owner := domain.OrganizationMember{UserID: opts.ActorID, Role: "owner", JoinedAt: now}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Organization{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertOrganization(ctx, tx, o); err != nil {
		return domain.Organization{}, fmt.Errorf("insert organization: %w", err)
	}
	if err := e.Repo.UpsertOrganizationMember(ctx, tx, o.ID, owner); err != nil {
		return domain.Organization{}, fmt.Errorf("insert owner membership: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "organization.created", "", "organization", o.ID, opts.ActorID, events.EventPayload{"slug": o.Slug}); err != nil {
		return domain.Organization{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Organization{}, err
	}
	o.Members = []domain.OrganizationMember{owner}
	return o, nil
}

func (e Engine) GetOrganization(ctx context.Context, id, actorID string) (domain.Organization, error) {
	if _, err := e.Gate.ResolveAccess(ctx, auth.KindOrganization, id, actorID); err != nil {
		return domain.Organization{}, err
	}
	o, err := e.Repo.GetOrganization(ctx, id)
	if err != nil {
		return domain.Organization{}, err
	}
	o.Members, err = e.Repo.ListOrganizationMembers(ctx, id)
	return o, err
}

func (e Engine) ListOrganizations(ctx context.Context, actorID string) ([]domain.Organization, error) {
	if actorID == "" {
		return nil, auth.UnauthenticatedError{}
	}
	return e.Repo.ListOrganizations(ctx, actorID)
}

// OrganizationUpdateOptions carry patch fields; nil means keep.
type OrganizationUpdateOptions struct {
	Name        *string
	AICredits   *int
	MaxProjects *int
	Features    *[]string
	ActorID     string
}

func (e Engine) UpdateOrganization(ctx context.Context, id string, opts OrganizationUpdateOptions) (domain.Organization, error) {
	if _, err := e.Gate.ResolveAccess(ctx, auth.KindOrganization, id, opts.ActorID, auth.RolesAdmin...); err != nil {
		return domain.Organization{}, err
	}
	o, err := e.Repo.GetOrganization(ctx, id)
	if err != nil {
		return domain.Organization{}, err
	}
	if opts.Name != nil {
		o.Name = *opts.Name
	}
	if opts.AICredits != nil {
		o.Settings.AICredits = *opts.AICredits
	}
	if opts.MaxProjects != nil {
		o.Settings.MaxProjects = *opts.MaxProjects
	}
	if opts.Features != nil {
		o.Settings.Features = *opts.Features
	}
	o.UpdatedAt = e.stamp()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Organization{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateOrganization(ctx, tx, o); err != nil {
		return domain.Organization{}, err
	}
	if err := e.Events.Append(ctx, tx, "organization.updated", "", "organization", o.ID, opts.ActorID, nil); err != nil {
		return domain.Organization{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Organization{}, err
	}
	return o, nil
}

// DeleteOrganization soft-deletes; the row is kept and the slug is freed for
// reuse by the partial unique index.
func (e Engine) DeleteOrganization(ctx context.Context, id, actorID string) error {
	if _, err := e.Gate.ResolveAccess(ctx, auth.KindOrganization, id, actorID, auth.RolesAdmin...); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeactivateOrganization(ctx, tx, id, e.stamp()); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "organization.deleted", "", "organization", id, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) AddOrganizationMember(ctx context.Context, orgID, userID, role, actorID string) error {
	if domain.RoleIndex(role) < 0 {
		return fmt.Errorf("unknown role %q", role)
	}
	if _, err := e.Gate.ResolveAccess(ctx, auth.KindOrganization, orgID, actorID, auth.RolesAdmin...); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	m := domain.OrganizationMember{UserID: userID, Role: role, JoinedAt: e.stamp()}
	if err := e.Repo.UpsertOrganizationMember(ctx, tx, orgID, m); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "organization.member_added", "", "organization", orgID, actorID, events.EventPayload{"user_id": userID, "role": role}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) RemoveOrganizationMember(ctx context.Context, orgID, userID, actorID string) error {
	if _, err := e.Gate.ResolveAccess(ctx, auth.KindOrganization, orgID, actorID, auth.RolesAdmin...); err != nil {
		return err
	}
	member, err := e.Repo.GetOrganizationMember(ctx, orgID, userID)
	if err != nil {
		return err
	}
	if member.Role == "owner" {
		owners := 0
		members, err := e.Repo.ListOrganizationMembers(ctx, orgID)
		if err != nil {
			return err
		}
		for _, m := range members {
			if m.Role == "owner" {
				owners++
			}
		}
		if owners <= 1 {
			return errors.New("organization must keep at least one owner")
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.RemoveOrganizationMember(ctx, tx, orgID, userID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "organization.member_removed", "", "organization", orgID, actorID, events.EventPayload{"user_id": userID}); err != nil {
		return err
	}
	return tx.Commit()
}
