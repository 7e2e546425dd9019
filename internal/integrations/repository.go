package integrations

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotConfigured is returned when no stored config exists for a key.
var ErrNotConfigured = errors.New("integrations: not configured")

// DBTX is satisfied by both pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type storedState struct {
	Status     string
	Config     string
	LastUsedAt *time.Time
	UpdatedAt  time.Time
}

// RepositoryPort defines persistence for integration state. At most one
// row exists per integration key.
type RepositoryPort interface {
	Get(ctx context.Context, key string) (storedState, error)
	All(ctx context.Context) (map[string]storedState, error)
	SaveConfig(ctx context.Context, key, sealedConfig, status string) error
	SetStatus(ctx context.Context, key, status string) error
	TouchLastUsed(ctx context.Context, key string) error
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

// Get fetches stored state for one integration.
func (r *Repository) Get(ctx context.Context, key string) (storedState, error) {
	var state storedState
	err := r.db.QueryRow(ctx, `
		SELECT status, config, last_used_at, updated_at
		FROM integrations
		WHERE name = $1`, key).Scan(&state.Status, &state.Config, &state.LastUsedAt, &state.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return storedState{}, ErrNotConfigured
		}
		return storedState{}, err
	}
	return state, nil
}

// All returns stored state keyed by integration name.
func (r *Repository) All(ctx context.Context) (map[string]storedState, error) {
	rows, err := r.db.Query(ctx, `SELECT name, status, config, last_used_at, updated_at FROM integrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	states := make(map[string]storedState)
	for rows.Next() {
		var (
			name  string
			state storedState
		)
		if err := rows.Scan(&name, &state.Status, &state.Config, &state.LastUsedAt, &state.UpdatedAt); err != nil {
			return nil, err
		}
		states[name] = state
	}
	return states, rows.Err()
}

// SaveConfig upserts the sealed config, keeping one row per name.
func (r *Repository) SaveConfig(ctx context.Context, key, sealedConfig, status string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO integrations (name, status, config, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (name) DO UPDATE
		SET status = EXCLUDED.status, config = EXCLUDED.config, updated_at = NOW()`,
		key, status, sealedConfig)
	return err
}

// SetStatus updates only the status flag.
func (r *Repository) SetStatus(ctx context.Context, key, status string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE integrations SET status = $2, updated_at = NOW() WHERE name = $1`, key, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotConfigured
	}
	return nil
}

// TouchLastUsed stamps a successful use of the integration.
func (r *Repository) TouchLastUsed(ctx context.Context, key string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE integrations SET last_used_at = NOW() WHERE name = $1`, key)
	return err
}
