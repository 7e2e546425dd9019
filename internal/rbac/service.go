package rbac

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
)

// RepositoryPort defines the persistence contract the service depends on.
type RepositoryPort interface {
	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	CreateRole(ctx context.Context, name, description string) (Role, error)
	UpdateRole(ctx context.Context, id int64, name, description string) (Role, error)
	DeleteRole(ctx context.Context, id int64) error
	ListPermissions(ctx context.Context) ([]Permission, error)
	EnsurePermission(ctx context.Context, name, description string) (Permission, error)
	RolePermissions(ctx context.Context, roleID int64) ([]Permission, error)
	GrantPermission(ctx context.Context, roleID, permissionID int64) (bool, error)
	RevokePermission(ctx context.Context, roleID, permissionID int64) error
	AssignRole(ctx context.Context, userID, roleID int64) (bool, error)
	RemoveRole(ctx context.Context, userID, roleID int64) error
	RoleMembers(ctx context.Context, roleID int64) ([]RoleMember, error)
	EffectivePermissions(ctx context.Context, userID int64) ([]string, error)
	UserHasRole(ctx context.Context, userID int64, roleName string) (bool, error)
	WithTx(tx pgx.Tx) RepositoryPort
}

// Service orchestrates RBAC operations. Mutating methods take the open
// transaction supplied by the gateway so that grants and their audit
// records commit together.
type Service struct {
	repo RepositoryPort
}

// NewService builds the Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

func (s *Service) txRepo(tx pgx.Tx) RepositoryPort {
	if tx == nil {
		return s.repo
	}
	return s.repo.WithTx(tx)
}

// ListRoles returns all roles ordered by name.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.repo.ListRoles(ctx)
}

// GetRole fetches a role by ID.
func (s *Service) GetRole(ctx context.Context, id int64) (Role, error) {
	return s.repo.GetRole(ctx, id)
}

// CreateRole inserts a new role after trimming inputs.
func (s *Service) CreateRole(ctx context.Context, tx pgx.Tx, name, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, errors.New("rbac: role name required")
	}
	return s.txRepo(tx).CreateRole(ctx, name, strings.TrimSpace(description))
}

// UpdateRole updates an existing role.
func (s *Service) UpdateRole(ctx context.Context, tx pgx.Tx, id int64, name, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, errors.New("rbac: role name required")
	}
	return s.txRepo(tx).UpdateRole(ctx, id, name, strings.TrimSpace(description))
}

// DeleteRole removes a role by ID.
func (s *Service) DeleteRole(ctx context.Context, tx pgx.Tx, id int64) error {
	return s.txRepo(tx).DeleteRole(ctx, id)
}

// ListPermissions returns the capability catalog.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.repo.ListPermissions(ctx)
}

// RolePermissions lists a role's granted permissions.
func (s *Service) RolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	return s.repo.RolePermissions(ctx, roleID)
}

// RoleMembers lists users holding the role.
func (s *Service) RoleMembers(ctx context.Context, roleID int64) ([]RoleMember, error) {
	return s.repo.RoleMembers(ctx, roleID)
}

// GrantPermission attaches a permission to a role. Returns false when the
// pair was already granted.
func (s *Service) GrantPermission(ctx context.Context, tx pgx.Tx, roleID, permissionID int64) (bool, error) {
	return s.txRepo(tx).GrantPermission(ctx, roleID, permissionID)
}

// RevokePermission detaches a permission from a role.
func (s *Service) RevokePermission(ctx context.Context, tx pgx.Tx, roleID, permissionID int64) error {
	return s.txRepo(tx).RevokePermission(ctx, roleID, permissionID)
}

// AssignRole assigns a role to a user. Returns false when already assigned.
func (s *Service) AssignRole(ctx context.Context, tx pgx.Tx, userID, roleID int64) (bool, error) {
	return s.txRepo(tx).AssignRole(ctx, userID, roleID)
}

// RemoveRole removes a role from a user.
func (s *Service) RemoveRole(ctx context.Context, tx pgx.Tx, userID, roleID int64) error {
	return s.txRepo(tx).RemoveRole(ctx, userID, roleID)
}

// EffectivePermissions returns deduplicated permission names for a user.
func (s *Service) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	return s.repo.EffectivePermissions(ctx, userID)
}

// UserHasRole reports whether the user holds the named role.
func (s *Service) UserHasRole(ctx context.Context, userID int64, roleName string) (bool, error) {
	return s.repo.UserHasRole(ctx, userID, roleName)
}

// UserHoldsAssignableRole reports whether the user holds any role that
// may receive task assignments.
func (s *Service) UserHoldsAssignableRole(ctx context.Context, userID int64) (bool, error) {
	for _, name := range assignableRoles {
		held, err := s.UserHasRole(ctx, userID, name)
		if err != nil {
			return false, err
		}
		if held {
			return true, nil
		}
	}
	return false, nil
}
