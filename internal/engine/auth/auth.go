// Package auth resolves what a user may do to a resource by walking the
// ownership chain up to its organization. Every gated operation goes through
// ResolveAccess; handlers never consult memberships directly.
package auth

import (
	"context"
	"fmt"
	"strings"

	"boardflow/internal/domain"
	"boardflow/internal/repo"
)

type Kind string

const (
	KindOrganization Kind = "organization"
	KindProject      Kind = "project"
	KindAgent        Kind = "agent"
	KindColumn       Kind = "column"
	KindTask         Kind = "task"
)

// Role sets for the common operation classes.
var (
	RolesEditor = []string{"owner", "admin", "editor"}
	RolesAdmin  = []string{"owner", "admin"}
	RolesMember = []string{"owner", "admin", "editor", "member"}
)

// UnauthenticatedError means no user identity was presented.
type UnauthenticatedError struct{}

func (UnauthenticatedError) Error() string { return "authentication required" }

// ForbiddenError means the user is known but their role does not satisfy the
// operation's requirement.
type ForbiddenError struct {
	RequiredRoles []string
	Reason        string
}

func (e ForbiddenError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	return fmt.Sprintf("requires one of roles: %s", strings.Join(e.RequiredRoles, ", "))
}

// Access is the resolved context for a granted request, kept for reuse so
// downstream code does not refetch the chain. Project is nil for
// organization-scoped resources.
type Access struct {
	Kind          Kind
	ResourceID    string
	Organization  domain.Organization
	Project       *domain.Project
	OrgRole       string
	EffectiveRole string
}

type Gate struct {
	Repo repo.Repo
}

// ResolveAccess walks resource -> project -> organization and checks the
// user's effective role against requiredRoles. An empty requiredRoles only
// demands visibility.
func (g Gate) ResolveAccess(ctx context.Context, kind Kind, resourceID, userID string, requiredRoles ...string) (Access, error) {
	if userID == "" {
		return Access{}, UnauthenticatedError{}
	}
	acc := Access{Kind: kind, ResourceID: resourceID}

	switch kind {
	case KindOrganization:
		org, err := g.Repo.GetOrganization(ctx, resourceID)
		if err != nil {
			return Access{}, err
		}
		return g.resolveOrganization(ctx, acc, org, userID, requiredRoles)

	case KindAgent:
		agent, err := g.Repo.GetAgent(ctx, resourceID)
		if err != nil {
			return Access{}, err
		}
		org, err := g.Repo.GetOrganization(ctx, agent.OrganizationID)
		if err != nil {
			return Access{}, err
		}
		// Public agents are reachable by any authenticated user; private
		// agents fall back to the organization-level role check, as agents
		// carry no project-scoped role.
		if agent.IsPublic {
			acc.Organization = org
			acc.EffectiveRole = "viewer"
			if m, err := g.Repo.GetOrganizationMember(ctx, org.ID, userID); err == nil {
				acc.OrgRole = m.Role
				acc.EffectiveRole = m.Role
			}
			return acc, nil
		}
		return g.resolveOrganization(ctx, acc, org, userID, requiredRoles)

	case KindProject:
		proj, err := g.Repo.GetProject(ctx, resourceID)
		if err != nil {
			return Access{}, err
		}
		return g.resolveProject(ctx, acc, proj, userID, requiredRoles)

	case KindColumn:
		col, err := g.Repo.GetColumn(ctx, resourceID)
		if err != nil {
			return Access{}, err
		}
		proj, err := g.Repo.GetProject(ctx, col.ProjectID)
		if err != nil {
			return Access{}, err
		}
		acc, err = g.resolveProject(ctx, acc, proj, userID, requiredRoles)
		if err != nil {
			return Access{}, err
		}
		if col.Visibility == "private" && col.CreatedBy != userID && !isProjectMember(proj, userID) {
			return Access{}, ForbiddenError{Reason: "column is private"}
		}
		return acc, nil

	case KindTask:
		task, err := g.Repo.GetTask(ctx, resourceID)
		if err != nil {
			return Access{}, err
		}
		proj, err := g.Repo.GetProject(ctx, task.ProjectID)
		if err != nil {
			return Access{}, err
		}
		return g.resolveProject(ctx, acc, proj, userID, requiredRoles)
	}
	return Access{}, fmt.Errorf("unknown resource kind %q", kind)
}

func (g Gate) resolveOrganization(ctx context.Context, acc Access, org domain.Organization, userID string, requiredRoles []string) (Access, error) {
	if !org.IsActive {
		return Access{}, repo.ErrNotFound
	}
	acc.Organization = org
	member, err := g.Repo.GetOrganizationMember(ctx, org.ID, userID)
	if err == repo.ErrNotFound {
		return Access{}, ForbiddenError{Reason: "not a member of organization"}
	}
	if err != nil {
		return Access{}, err
	}
	acc.OrgRole = member.Role
	acc.EffectiveRole = member.Role
	// The wildcard permission grants every organization-level action
	// regardless of role.
	for _, p := range member.Permissions {
		if p == "*" {
			return acc, nil
		}
	}
	if !roleInSet(member.Role, requiredRoles) {
		return Access{}, ForbiddenError{RequiredRoles: requiredRoles}
	}
	return acc, nil
}

func (g Gate) resolveProject(ctx context.Context, acc Access, proj domain.Project, userID string, requiredRoles []string) (Access, error) {
	if !proj.IsActive {
		return Access{}, repo.ErrNotFound
	}
	org, err := g.Repo.GetOrganization(ctx, proj.OrganizationID)
	if err != nil {
		return Access{}, err
	}
	if !org.IsActive {
		return Access{}, repo.ErrNotFound
	}
	acc.Organization = org
	acc.Project = &proj

	orgMember, err := g.Repo.GetOrganizationMember(ctx, org.ID, userID)
	if err == repo.ErrNotFound {
		return Access{}, ForbiddenError{Reason: "not a member of organization"}
	}
	if err != nil {
		return Access{}, err
	}
	acc.OrgRole = orgMember.Role

	var projRole string
	for _, m := range proj.Members {
		if m.UserID == userID {
			projRole = m.Role
			break
		}
	}

	// Private projects are invisible to non-members no matter what the
	// caller's organization role is, owners included.
	if proj.Visibility == "private" && projRole == "" {
		return Access{}, ForbiddenError{Reason: "project is private"}
	}

	// The organization role is never substituted for a project role;
	// non-members read as plain viewers.
	if projRole == "" {
		projRole = "viewer"
	}
	acc.EffectiveRole = projRole

	if !roleInSet(projRole, requiredRoles) {
		return Access{}, ForbiddenError{RequiredRoles: requiredRoles}
	}
	return acc, nil
}

// roleInSet is set membership, not rank comparison. An empty set means the
// operation only needs visibility.
func roleInSet(role string, set []string) bool {
	if len(set) == 0 {
		return true
	}
	for _, r := range set {
		if r == role {
			return true
		}
	}
	return false
}

func isProjectMember(p domain.Project, userID string) bool {
	for _, m := range p.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}
