package rbac

import (
	"strings"
	"time"
)

// Role is a named bundle of capabilities assignable to users.
type Role struct {
	ID          int64
	Name        string
	Description string
	UserCount   int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Permission is an atomic capability named module.action.
type Permission struct {
	ID          int64
	Name        string
	Description string
}

// Module returns the module tag from the dotted permission name.
func (p Permission) Module() string {
	if i := strings.IndexByte(p.Name, '.'); i > 0 {
		return p.Name[:i]
	}
	return p.Name
}

// UserRole links a user to a role.
type UserRole struct {
	UserID    int64
	RoleID    int64
	CreatedAt time.Time
}

// RoleMember is a user holding a role, for the roles page listing.
type RoleMember struct {
	UserID   int64
	Username string
	FullName string
}
