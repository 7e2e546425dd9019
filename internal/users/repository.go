package users

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/atiera/atiera/internal/shared"
)

// ErrNotFound is returned when no user matches.
var ErrNotFound = errors.New("users: not found")

// DBTX is satisfied by both pgxpool.Pool and pgx.Tx, so the repository
// can run inside the gateway's transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	ListUsers(ctx context.Context) ([]User, error)
	ListActive(ctx context.Context) ([]User, error)
	GetUser(ctx context.Context, id int64) (User, error)
	PasswordHash(ctx context.Context, id int64) (string, error)
	UpdateProfile(ctx context.Context, id int64, profile Profile) (User, error)
	UpdatePassword(ctx context.Context, id int64, hash string) error
	SetStatus(ctx context.Context, id int64, status string) error
	WithTx(tx pgx.Tx) RepositoryPort
}

// Repository implements RepositoryPort on PostgreSQL.
type Repository struct {
	db DBTX
}

// NewRepository builds Repository instance.
func NewRepository(db DBTX) *Repository {
	return &Repository{db: db}
}

// WithTx rebinds the repository to an open transaction.
func (r *Repository) WithTx(tx pgx.Tx) RepositoryPort {
	return &Repository{db: tx}
}

const selectUserSQL = `
SELECT id, username, email, full_name, COALESCE(department, ''), COALESCE(role, ''),
       status, two_factor_enabled, COALESCE(last_login_at, 'epoch'::timestamptz),
       created_at, updated_at
FROM users`

// ListUsers returns all accounts ordered by full name.
func (r *Repository) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := r.db.Query(ctx, selectUserSQL+` ORDER BY full_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectUsers(rows)
}

// ListActive returns active accounts ordered by full name.
func (r *Repository) ListActive(ctx context.Context) ([]User, error) {
	rows, err := r.db.Query(ctx, selectUserSQL+` WHERE status = $1 ORDER BY full_name`, shared.StatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectUsers(rows)
}

// GetUser fetches one account by id.
func (r *Repository) GetUser(ctx context.Context, id int64) (User, error) {
	user, err := scanUser(r.db.QueryRow(ctx, selectUserSQL+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	return user, nil
}

// PasswordHash returns the stored bcrypt hash for the account.
func (r *Repository) PasswordHash(ctx context.Context, id int64) (string, error) {
	var hash string
	err := r.db.QueryRow(ctx, `SELECT password_hash FROM users WHERE id = $1`, id).Scan(&hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return hash, nil
}

// UpdateProfile updates the self-editable fields and returns the new row.
func (r *Repository) UpdateProfile(ctx context.Context, id int64, profile Profile) (User, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE users
		SET full_name = $2, email = $3, department = NULLIF($4, ''), updated_at = NOW()
		WHERE id = $1
		RETURNING id, username, email, full_name, COALESCE(department, ''), COALESCE(role, ''),
		          status, two_factor_enabled, COALESCE(last_login_at, 'epoch'::timestamptz),
		          created_at, updated_at`,
		id, profile.FullName, profile.Email, profile.Department)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	return user, nil
}

// UpdatePassword stores a new password hash.
func (r *Repository) UpdatePassword(ctx context.Context, id int64, hash string) error {
	tag, err := r.db.Exec(ctx, `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, id, hash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetStatus switches the account status. Accounts are deactivated, never
// deleted, so their audit trail stays attributable.
func (r *Repository) SetStatus(ctx context.Context, id int64, status string) error {
	tag, err := r.db.Exec(ctx, `UPDATE users SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func collectUsers(rows pgx.Rows) ([]User, error) {
	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func scanUser(row pgx.Row) (User, error) {
	var user User
	err := row.Scan(
		&user.ID, &user.Username, &user.Email, &user.FullName, &user.Department,
		&user.Role, &user.Status, &user.TwoFactorEnabled, &user.LastLoginAt,
		&user.CreatedAt, &user.UpdatedAt,
	)
	return user, err
}
