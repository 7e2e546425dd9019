package rbac

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/atiera/atiera/internal/shared"
)

type defaultRole struct {
	name        string
	description string
}

var defaultRoles = []defaultRole{
	{"admin", "System Administrator - Full access"},
	{"manager", "Manager - Can approve and manage"},
	{"accountant", "Accountant - Financial operations"},
	{"staff", "Staff - Basic operations"},
	{"user", "User - Limited access"},
}

// assignableRoles are the roles whose holders may receive task
// assignments. The "user" role is view-only and excluded.
var assignableRoles = []string{"admin", "manager", "accountant", "staff"}

var defaultGrants = map[string][]string{
	"manager": {
		shared.PermProfileEdit,
		shared.PermUsersView,
		shared.PermRolesView,
		shared.PermAuditView,
		shared.PermSettingsView,
		shared.PermTasksView,
		shared.PermTasksAssign,
	},
	"accountant": {
		shared.PermProfileEdit,
		shared.PermAuditView,
		shared.PermTasksView,
	},
	"staff": {
		shared.PermProfileEdit,
		shared.PermTasksView,
	},
	"user": {
		shared.PermProfileEdit,
		shared.PermTasksView,
	},
}

// InitializeDefaults seeds the default roles, the capability catalog, and
// the role grant matrix. It is idempotent: existing roles are kept and
// missing grants are filled in.
func (s *Service) InitializeDefaults(ctx context.Context, tx pgx.Tx) error {
	repo := s.txRepo(tx)

	roleIDs := make(map[string]int64, len(defaultRoles))
	existing, err := repo.ListRoles(ctx)
	if err != nil {
		return err
	}
	for _, role := range existing {
		roleIDs[role.Name] = role.ID
	}
	for _, def := range defaultRoles {
		if _, ok := roleIDs[def.name]; ok {
			continue
		}
		role, err := repo.CreateRole(ctx, def.name, def.description)
		if err != nil {
			if errors.Is(err, ErrDuplicateRole) {
				continue
			}
			return err
		}
		roleIDs[role.Name] = role.ID
	}

	permIDs := make(map[string]int64)
	for name, description := range shared.CoreCapabilities() {
		perm, err := repo.EnsurePermission(ctx, name, description)
		if err != nil {
			return err
		}
		permIDs[perm.Name] = perm.ID
	}

	// Admin holds every capability.
	if adminID, ok := roleIDs["admin"]; ok {
		for _, permID := range permIDs {
			if _, err := repo.GrantPermission(ctx, adminID, permID); err != nil {
				return err
			}
		}
	}
	for roleName, perms := range defaultGrants {
		roleID, ok := roleIDs[roleName]
		if !ok {
			continue
		}
		for _, permName := range perms {
			permID, ok := permIDs[permName]
			if !ok {
				continue
			}
			if _, err := repo.GrantPermission(ctx, roleID, permID); err != nil {
				return err
			}
		}
	}
	return nil
}
