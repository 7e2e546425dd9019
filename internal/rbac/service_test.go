package rbac

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"

	"github.com/atiera/atiera/internal/shared"
)

// fakeRepo is an in-memory RepositoryPort for exercising service logic.
type fakeRepo struct {
	roles      map[int64]Role
	perms      map[int64]Permission
	grants     map[[2]int64]bool
	userRoles  map[[2]int64]bool
	nextRoleID int64
	nextPermID int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		roles:     make(map[int64]Role),
		perms:     make(map[int64]Permission),
		grants:    make(map[[2]int64]bool),
		userRoles: make(map[[2]int64]bool),
	}
}

func (f *fakeRepo) WithTx(tx pgx.Tx) RepositoryPort { return f }

func (f *fakeRepo) ListRoles(ctx context.Context) ([]Role, error) {
	out := make([]Role, 0, len(f.roles))
	for _, role := range f.roles {
		out = append(out, role)
	}
	return out, nil
}

func (f *fakeRepo) GetRole(ctx context.Context, id int64) (Role, error) {
	role, ok := f.roles[id]
	if !ok {
		return Role{}, ErrNotFound
	}
	return role, nil
}

func (f *fakeRepo) CreateRole(ctx context.Context, name, description string) (Role, error) {
	for _, role := range f.roles {
		if role.Name == name {
			return Role{}, ErrDuplicateRole
		}
	}
	f.nextRoleID++
	role := Role{ID: f.nextRoleID, Name: name, Description: description}
	f.roles[role.ID] = role
	return role, nil
}

func (f *fakeRepo) UpdateRole(ctx context.Context, id int64, name, description string) (Role, error) {
	role, ok := f.roles[id]
	if !ok {
		return Role{}, ErrNotFound
	}
	role.Name = name
	role.Description = description
	f.roles[id] = role
	return role, nil
}

func (f *fakeRepo) DeleteRole(ctx context.Context, id int64) error {
	if _, ok := f.roles[id]; !ok {
		return ErrNotFound
	}
	delete(f.roles, id)
	return nil
}

func (f *fakeRepo) ListPermissions(ctx context.Context) ([]Permission, error) {
	out := make([]Permission, 0, len(f.perms))
	for _, perm := range f.perms {
		out = append(out, perm)
	}
	return out, nil
}

func (f *fakeRepo) EnsurePermission(ctx context.Context, name, description string) (Permission, error) {
	for _, perm := range f.perms {
		if perm.Name == name {
			return perm, nil
		}
	}
	f.nextPermID++
	perm := Permission{ID: f.nextPermID, Name: name, Description: description}
	f.perms[perm.ID] = perm
	return perm, nil
}

func (f *fakeRepo) RolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	var out []Permission
	for key := range f.grants {
		if key[0] == roleID {
			out = append(out, f.perms[key[1]])
		}
	}
	return out, nil
}

func (f *fakeRepo) GrantPermission(ctx context.Context, roleID, permissionID int64) (bool, error) {
	key := [2]int64{roleID, permissionID}
	if f.grants[key] {
		return false, nil
	}
	f.grants[key] = true
	return true, nil
}

func (f *fakeRepo) RevokePermission(ctx context.Context, roleID, permissionID int64) error {
	delete(f.grants, [2]int64{roleID, permissionID})
	return nil
}

func (f *fakeRepo) AssignRole(ctx context.Context, userID, roleID int64) (bool, error) {
	key := [2]int64{userID, roleID}
	if f.userRoles[key] {
		return false, nil
	}
	f.userRoles[key] = true
	return true, nil
}

func (f *fakeRepo) RemoveRole(ctx context.Context, userID, roleID int64) error {
	delete(f.userRoles, [2]int64{userID, roleID})
	return nil
}

func (f *fakeRepo) RoleMembers(ctx context.Context, roleID int64) ([]RoleMember, error) {
	var out []RoleMember
	for key := range f.userRoles {
		if key[1] == roleID {
			out = append(out, RoleMember{UserID: key[0]})
		}
	}
	return out, nil
}

func (f *fakeRepo) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	for userRole := range f.userRoles {
		if userRole[0] != userID {
			continue
		}
		for grant := range f.grants {
			if grant[0] != userRole[1] {
				continue
			}
			name := f.perms[grant[1]].Name
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	return out, nil
}

func (f *fakeRepo) UserHasRole(ctx context.Context, userID int64, roleName string) (bool, error) {
	for key := range f.userRoles {
		if key[0] != userID {
			continue
		}
		if f.roles[key[1]].Name == roleName {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRepo) roleByName(name string) (Role, bool) {
	for _, role := range f.roles {
		if role.Name == name {
			return role, true
		}
	}
	return Role{}, false
}

func TestCreateRoleTrimsAndValidates(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)

	role, err := svc.CreateRole(context.Background(), nil, "  auditor  ", " Reviews the log ")
	if err != nil {
		t.Fatalf("create role: %v", err)
	}
	if role.Name != "auditor" {
		t.Fatalf("expected trimmed name, got %q", role.Name)
	}
	if role.Description != "Reviews the log" {
		t.Fatalf("expected trimmed description, got %q", role.Description)
	}

	if _, err := svc.CreateRole(context.Background(), nil, "   ", ""); err == nil {
		t.Fatalf("expected error for blank role name")
	}
}

func TestInitializeDefaultsSeedsRolesAndGrants(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)

	if err := svc.InitializeDefaults(context.Background(), nil); err != nil {
		t.Fatalf("initialize defaults: %v", err)
	}

	for _, name := range []string{"admin", "manager", "accountant", "staff", "user"} {
		if _, ok := repo.roleByName(name); !ok {
			t.Fatalf("expected default role %q", name)
		}
	}

	admin, _ := repo.roleByName("admin")
	adminPerms, _ := repo.RolePermissions(context.Background(), admin.ID)
	if len(adminPerms) != len(shared.CoreCapabilities()) {
		t.Fatalf("expected admin to hold every capability, got %d of %d",
			len(adminPerms), len(shared.CoreCapabilities()))
	}

	staff, _ := repo.roleByName("staff")
	staffPerms, _ := repo.RolePermissions(context.Background(), staff.ID)
	names := make(map[string]struct{}, len(staffPerms))
	for _, perm := range staffPerms {
		names[perm.Name] = struct{}{}
	}
	if _, ok := names[shared.PermTasksView]; !ok {
		t.Fatalf("expected staff to hold %s", shared.PermTasksView)
	}
	if _, ok := names[shared.PermProfileEdit]; !ok {
		t.Fatalf("expected staff to hold %s", shared.PermProfileEdit)
	}
	if _, ok := names[shared.PermRolesManage]; ok {
		t.Fatalf("staff must not hold %s", shared.PermRolesManage)
	}
}

func TestInitializeDefaultsIsIdempotent(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)

	if err := svc.InitializeDefaults(context.Background(), nil); err != nil {
		t.Fatalf("first run: %v", err)
	}
	rolesBefore := len(repo.roles)
	grantsBefore := len(repo.grants)

	if err := svc.InitializeDefaults(context.Background(), nil); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(repo.roles) != rolesBefore {
		t.Fatalf("expected role count unchanged, got %d -> %d", rolesBefore, len(repo.roles))
	}
	if len(repo.grants) != grantsBefore {
		t.Fatalf("expected grant count unchanged, got %d -> %d", grantsBefore, len(repo.grants))
	}
}

func TestAssignRoleReportsDuplicates(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)

	assigned, err := svc.AssignRole(context.Background(), nil, 7, 1)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if !assigned {
		t.Fatalf("expected first assignment to report true")
	}
	assigned, err = svc.AssignRole(context.Background(), nil, 7, 1)
	if err != nil {
		t.Fatalf("assign again: %v", err)
	}
	if assigned {
		t.Fatalf("expected duplicate assignment to report false")
	}
}

func TestUserHoldsAssignableRole(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	ctx := context.Background()

	if err := svc.InitializeDefaults(ctx, nil); err != nil {
		t.Fatalf("initialize defaults: %v", err)
	}
	staff, ok := repo.roleByName("staff")
	if !ok {
		t.Fatalf("staff role not seeded")
	}
	limited, ok := repo.roleByName("user")
	if !ok {
		t.Fatalf("user role not seeded")
	}
	if _, err := svc.AssignRole(ctx, nil, 7, staff.ID); err != nil {
		t.Fatalf("assign staff: %v", err)
	}
	if _, err := svc.AssignRole(ctx, nil, 8, limited.ID); err != nil {
		t.Fatalf("assign user: %v", err)
	}

	held, err := svc.UserHoldsAssignableRole(ctx, 7)
	if err != nil {
		t.Fatalf("staff member: %v", err)
	}
	if !held {
		t.Fatalf("expected staff member to be assignable")
	}
	held, err = svc.UserHoldsAssignableRole(ctx, 8)
	if err != nil {
		t.Fatalf("limited account: %v", err)
	}
	if held {
		t.Fatalf("expected limited account not to be assignable")
	}
	held, err = svc.UserHoldsAssignableRole(ctx, 9)
	if err != nil {
		t.Fatalf("roleless account: %v", err)
	}
	if held {
		t.Fatalf("expected roleless account not to be assignable")
	}
}
