package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/atiera/atiera/internal/platform/db"
)

// DBTX abstracts over a pool or an open transaction so repository calls can
// join the gateway's transactional boundary.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ErrNotFound indicates that the requested record does not exist.
var ErrNotFound = errors.New("rbac: not found")

// ErrDuplicateRole indicates a role name collision.
var ErrDuplicateRole = errors.New("rbac: role name already exists")

// Repository provides PostgreSQL backed persistence for roles,
// permissions, grants and assignments.
type Repository struct {
	db DBTX
}

// NewRepository constructs a repository.
func NewRepository(db DBTX) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository view bound to tx.
func (r *Repository) WithTx(tx pgx.Tx) RepositoryPort {
	return &Repository{db: tx}
}

// ListRoles returns all roles with their member counts, ordered by name.
func (r *Repository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.db.Query(ctx, `SELECT r.id, r.name, COALESCE(r.description, ''),
       (SELECT COUNT(*) FROM user_roles ur WHERE ur.role_id = r.id),
       r.created_at, r.updated_at
FROM roles r
ORDER BY r.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// GetRole fetches one role by id.
func (r *Repository) GetRole(ctx context.Context, id int64) (Role, error) {
	row := r.db.QueryRow(ctx, `SELECT r.id, r.name, COALESCE(r.description, ''),
       (SELECT COUNT(*) FROM user_roles ur WHERE ur.role_id = r.id),
       r.created_at, r.updated_at
FROM roles r WHERE r.id = $1`, id)
	role, err := scanRole(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, ErrNotFound
	}
	return role, err
}

// CreateRole inserts a role; a name collision yields ErrDuplicateRole.
func (r *Repository) CreateRole(ctx context.Context, name, description string) (Role, error) {
	row := r.db.QueryRow(ctx, `INSERT INTO roles (name, description, created_at, updated_at)
VALUES ($1, $2, NOW(), NOW())
RETURNING id, name, COALESCE(description, ''), 0::bigint, created_at, updated_at`, name, description)
	role, err := scanRole(row)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Role{}, ErrDuplicateRole
		}
		return Role{}, err
	}
	return role, nil
}

// UpdateRole updates name and description.
func (r *Repository) UpdateRole(ctx context.Context, id int64, name, description string) (Role, error) {
	row := r.db.QueryRow(ctx, `UPDATE roles SET name = $2, description = $3, updated_at = NOW()
WHERE id = $1
RETURNING id, name, COALESCE(description, ''),
       (SELECT COUNT(*) FROM user_roles ur WHERE ur.role_id = roles.id),
       created_at, updated_at`, id, name, description)
	role, err := scanRole(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, ErrNotFound
	}
	if err != nil && db.IsUniqueViolation(err) {
		return Role{}, ErrDuplicateRole
	}
	return role, err
}

// DeleteRole removes a role together with its grants and assignments.
func (r *Repository) DeleteRole(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPermissions returns the full capability catalog ordered by name.
func (r *Repository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name, COALESCE(description, '') FROM permissions ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Description); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// EnsurePermission upserts a permission by name.
func (r *Repository) EnsurePermission(ctx context.Context, name, description string) (Permission, error) {
	var p Permission
	err := r.db.QueryRow(ctx, `INSERT INTO permissions (name, description)
VALUES ($1, $2)
ON CONFLICT (name) DO UPDATE SET description = EXCLUDED.description
RETURNING id, name, COALESCE(description, '')`, name, description).Scan(&p.ID, &p.Name, &p.Description)
	if err != nil {
		return Permission{}, err
	}
	return p, nil
}

// RolePermissions lists the permissions granted to a role.
func (r *Repository) RolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	rows, err := r.db.Query(ctx, `SELECT p.id, p.name, COALESCE(p.description, '')
FROM permissions p
JOIN role_permissions rp ON rp.permission_id = p.id
WHERE rp.role_id = $1
ORDER BY p.name`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Description); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// GrantPermission attaches a permission to a role. Granting an existing
// pair is a no-op, so duplicate submissions stay benign.
func (r *Repository) GrantPermission(ctx context.Context, roleID, permissionID int64) (bool, error) {
	tag, err := r.db.Exec(ctx, `INSERT INTO role_permissions (role_id, permission_id, created_at)
VALUES ($1, $2, NOW())
ON CONFLICT (role_id, permission_id) DO NOTHING`, roleID, permissionID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// RevokePermission detaches a permission from a role.
func (r *Repository) RevokePermission(ctx context.Context, roleID, permissionID int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`, roleID, permissionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AssignRole links a role to a user; assigning twice is a no-op.
func (r *Repository) AssignRole(ctx context.Context, userID, roleID int64) (bool, error) {
	tag, err := r.db.Exec(ctx, `INSERT INTO user_roles (user_id, role_id, created_at)
VALUES ($1, $2, NOW())
ON CONFLICT (user_id, role_id) DO NOTHING`, userID, roleID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// RemoveRole unlinks a role from a user.
func (r *Repository) RemoveRole(ctx context.Context, userID, roleID int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RoleMembers lists users holding a role.
func (r *Repository) RoleMembers(ctx context.Context, roleID int64) ([]RoleMember, error) {
	rows, err := r.db.Query(ctx, `SELECT u.id, u.username, COALESCE(u.full_name, '')
FROM users u
JOIN user_roles ur ON ur.user_id = u.id
WHERE ur.role_id = $1
ORDER BY u.username`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []RoleMember
	for rows.Next() {
		var m RoleMember
		if err := rows.Scan(&m.UserID, &m.Username, &m.FullName); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// EffectivePermissions returns the deduplicated union of permission names
// across every role assigned to the user.
func (r *Repository) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT DISTINCT p.name
FROM permissions p
JOIN role_permissions rp ON rp.permission_id = p.id
JOIN user_roles ur ON ur.role_id = rp.role_id
WHERE ur.user_id = $1
ORDER BY p.name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// UserHasRole reports whether the user holds the named role.
func (r *Repository) UserHasRole(ctx context.Context, userID int64, roleName string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (
SELECT 1 FROM user_roles ur
JOIN roles ro ON ro.id = ur.role_id
WHERE ur.user_id = $1 AND ro.name = $2)`, userID, roleName).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func scanRole(row pgx.Row) (Role, error) {
	var (
		role      Role
		createdAt pgtype.Timestamptz
		updatedAt pgtype.Timestamptz
	)
	if err := row.Scan(&role.ID, &role.Name, &role.Description, &role.UserCount, &createdAt, &updatedAt); err != nil {
		return Role{}, fmt.Errorf("rbac: scan role: %w", err)
	}
	if createdAt.Valid {
		role.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		role.UpdatedAt = updatedAt.Time
	}
	return role, nil
}
