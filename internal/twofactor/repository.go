package twofactor

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotEnrolled is returned when the user has no 2FA enrollment.
var ErrNotEnrolled = errors.New("twofactor: not enrolled")

// DBTX is satisfied by both pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// RepositoryPort defines persistence for 2FA enrollment state.
type RepositoryPort interface {
	GetRecord(ctx context.Context, userID int64) (Record, error)
	Disable(ctx context.Context, userID int64) error
	ReplaceBackupCodes(ctx context.Context, userID int64, hashes []string) error
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

// GetRecord fetches the enrollment state for a user.
func (r *Repository) GetRecord(ctx context.Context, userID int64) (Record, error) {
	var record Record
	err := r.db.QueryRow(ctx, `
		SELECT u.id, u.two_factor_enabled,
		       COALESCE(t.method, ''), COALESCE(t.phone_number, ''),
		       COALESCE(t.enrolled_at, 'epoch'::timestamptz),
		       (SELECT COUNT(*) FROM two_factor_backup_codes c WHERE c.user_id = u.id AND c.used_at IS NULL)
		FROM users u
		LEFT JOIN two_factor_settings t ON t.user_id = u.id
		WHERE u.id = $1`, userID).Scan(
		&record.UserID, &record.Enabled, &record.Method, &record.PhoneNumber,
		&record.EnrolledAt, &record.BackupCodesLeft,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotEnrolled
		}
		return Record{}, err
	}
	return record, nil
}

// Disable clears the user's enrollment and backup codes.
func (r *Repository) Disable(ctx context.Context, userID int64) error {
	if _, err := r.db.Exec(ctx, `UPDATE users SET two_factor_enabled = FALSE, updated_at = NOW() WHERE id = $1`, userID); err != nil {
		return err
	}
	if _, err := r.db.Exec(ctx, `DELETE FROM two_factor_settings WHERE user_id = $1`, userID); err != nil {
		return err
	}
	_, err := r.db.Exec(ctx, `DELETE FROM two_factor_backup_codes WHERE user_id = $1`, userID)
	return err
}

// ReplaceBackupCodes swaps the user's backup code set for freshly hashed
// codes.
func (r *Repository) ReplaceBackupCodes(ctx context.Context, userID int64, hashes []string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM two_factor_backup_codes WHERE user_id = $1`, userID); err != nil {
		return err
	}
	for _, hash := range hashes {
		if _, err := r.db.Exec(ctx, `
			INSERT INTO two_factor_backup_codes (user_id, code_hash, created_at)
			VALUES ($1, $2, NOW())`, userID, hash); err != nil {
			return err
		}
	}
	return nil
}
