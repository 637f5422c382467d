package auth_test

import (
	"context"
	"errors"
	"testing"

	"boardflow/internal/config"
	"boardflow/internal/db"
	"boardflow/internal/domain"
	"boardflow/internal/engine"
	"boardflow/internal/engine/auth"
	"boardflow/internal/migrate"
)

type fixture struct {
	Engine engine.Engine
	Gate   auth.Gate
	Ctx    context.Context
	Org    domain.Organization
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	ctx := context.Background()
	org, err := eng.CreateOrganization(ctx, engine.OrganizationCreateOptions{
		Name: "Acme", Slug: "acme", ActorID: "owner-user",
	})
	if err != nil {
		t.Fatalf("create org: %v", err)
	}
	return fixture{Engine: eng, Gate: eng.Gate, Ctx: ctx, Org: org}
}

func TestRoleHierarchyMonotonic(t *testing.T) {
	roles := domain.RoleHierarchy
	for i, stronger := range roles {
		for j, weaker := range roles {
			want := i >= j
			if got := domain.HasMinimumRole(stronger, weaker); got != want {
				t.Fatalf("HasMinimumRole(%s, %s) = %v, want %v", stronger, weaker, got, want)
			}
		}
	}
	if domain.HasMinimumRole("superuser", "viewer") {
		t.Fatalf("unknown role must never satisfy a requirement")
	}
	if domain.HasMinimumRole("owner", "superuser") {
		t.Fatalf("unknown requirement must never be satisfied")
	}
}

func TestResolveAccessRequiresIdentity(t *testing.T) {
	f := newFixture(t)
	_, err := f.Gate.ResolveAccess(f.Ctx, auth.KindOrganization, f.Org.ID, "")
	var ue auth.UnauthenticatedError
	if !errors.As(err, &ue) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
}

func TestNonMemberForbiddenOnOrganization(t *testing.T) {
	f := newFixture(t)
	_, err := f.Gate.ResolveAccess(f.Ctx, auth.KindOrganization, f.Org.ID, "stranger")
	var fe auth.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if fe.Error() != "not a member of organization" {
		t.Fatalf("unexpected reason: %q", fe.Error())
	}
}

func TestRequiredRolesAreSetMembership(t *testing.T) {
	f := newFixture(t)
	if err := f.Engine.AddOrganizationMember(f.Ctx, f.Org.ID, "member-user", "member", "owner-user"); err != nil {
		t.Fatalf("add member: %v", err)
	}
	// member is below the admin set
	_, err := f.Gate.ResolveAccess(f.Ctx, auth.KindOrganization, f.Org.ID, "member-user", auth.RolesAdmin...)
	var fe auth.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden for member on admin set, got %v", err)
	}
	if len(fe.RequiredRoles) == 0 {
		t.Fatalf("forbidden error should carry required roles")
	}
	// but inside the member set
	acc, err := f.Gate.ResolveAccess(f.Ctx, auth.KindOrganization, f.Org.ID, "member-user", auth.RolesMember...)
	if err != nil {
		t.Fatalf("member set should admit member: %v", err)
	}
	if acc.OrgRole != "member" || acc.EffectiveRole != "member" {
		t.Fatalf("unexpected access: %+v", acc)
	}
}

func TestWildcardPermissionGrantsOrgActions(t *testing.T) {
	f := newFixture(t)
	tx, err := f.Engine.DB.BeginTx(f.Ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Engine.Repo.UpsertOrganizationMember(f.Ctx, tx, f.Org.ID, domain.OrganizationMember{
		UserID:      "bot-user",
		Role:        "viewer",
		Permissions: []string{"*"},
		JoinedAt:    "2025-01-01T00:00:00Z",
	}); err != nil {
		t.Fatalf("seed member: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Gate.ResolveAccess(f.Ctx, auth.KindOrganization, f.Org.ID, "bot-user", auth.RolesAdmin...); err != nil {
		t.Fatalf("wildcard permission should bypass the role set: %v", err)
	}
}

func TestEffectiveRoleNeverBorrowsOrgRole(t *testing.T) {
	f := newFixture(t)
	p, err := f.Engine.CreateProject(f.Ctx, engine.ProjectCreateOptions{
		OrganizationID: f.Org.ID, Name: "Board", ActorID: "owner-user",
	})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	if err := f.Engine.AddOrganizationMember(f.Ctx, f.Org.ID, "admin-user", "admin", "owner-user"); err != nil {
		t.Fatalf("add admin: %v", err)
	}
	acc, err := f.Gate.ResolveAccess(f.Ctx, auth.KindProject, p.ID, "admin-user")
	if err != nil {
		t.Fatalf("team project should be visible to org members: %v", err)
	}
	if acc.EffectiveRole != "viewer" {
		t.Fatalf("non-member of project must read as viewer, got %q", acc.EffectiveRole)
	}
	// so an admin-only org role still cannot edit the project
	_, err = f.Gate.ResolveAccess(f.Ctx, auth.KindProject, p.ID, "admin-user", auth.RolesEditor...)
	var fe auth.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden for org admin without project role, got %v", err)
	}
}

func TestPrivateColumnLimitedToCreatorAndMembers(t *testing.T) {
	f := newFixture(t)
	p, err := f.Engine.CreateProject(f.Ctx, engine.ProjectCreateOptions{
		OrganizationID: f.Org.ID, Name: "Board", ActorID: "owner-user",
	})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	col, err := f.Engine.CreateColumn(f.Ctx, engine.ColumnCreateOptions{
		ProjectID: p.ID, Title: "Scratch", Visibility: "private", ActorID: "owner-user",
	})
	if err != nil {
		t.Fatalf("create column: %v", err)
	}
	if err := f.Engine.AddOrganizationMember(f.Ctx, f.Org.ID, "viewer-user", "viewer", "owner-user"); err != nil {
		t.Fatalf("add viewer: %v", err)
	}
	_, err = f.Gate.ResolveAccess(f.Ctx, auth.KindColumn, col.ID, "viewer-user")
	var fe auth.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected private column hidden from non-creator, got %v", err)
	}
	if _, err := f.Gate.ResolveAccess(f.Ctx, auth.KindColumn, col.ID, "owner-user"); err != nil {
		t.Fatalf("creator must keep access to a private column: %v", err)
	}
}
