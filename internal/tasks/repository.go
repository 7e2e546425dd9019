package tasks

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when no task matches.
var ErrNotFound = errors.New("tasks: not found")

// DBTX is satisfied by both pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// RepositoryPort defines persistence for tasks.
type RepositoryPort interface {
	Create(ctx context.Context, task Task) (Task, error)
	Get(ctx context.Context, id int64) (Task, error)
	ListAssignedTo(ctx context.Context, userID int64) ([]Task, error)
	UpdateStatus(ctx context.Context, id int64, status string) error
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

const selectTaskSQL = `
SELECT t.id, t.title, COALESCE(t.description, ''), t.priority, t.status,
       t.due_date, t.assigned_to, t.assigned_by, COALESCE(u.full_name, ''),
       COALESCE(t.category, ''), t.created_at, t.updated_at
FROM tasks t
LEFT JOIN users u ON u.id = t.assigned_by`

// Create inserts a task and returns the stored row.
func (r *Repository) Create(ctx context.Context, task Task) (Task, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO tasks (title, description, priority, status, due_date, assigned_to, assigned_by, category, created_at, updated_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, NULLIF($8, ''), NOW(), NOW())
		RETURNING id`,
		task.Title, task.Description, task.Priority, task.Status, task.DueDate,
		task.AssignedTo, task.AssignedBy, task.Category).Scan(&id)
	if err != nil {
		return Task{}, err
	}
	return r.Get(ctx, id)
}

// Get fetches one task.
func (r *Repository) Get(ctx context.Context, id int64) (Task, error) {
	task, err := scanTask(r.db.QueryRow(ctx, selectTaskSQL+` WHERE t.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Task{}, ErrNotFound
		}
		return Task{}, err
	}
	return task, nil
}

// ListAssignedTo returns the user's tasks, open work first, then due
// date soonest, newest created first.
func (r *Repository) ListAssignedTo(ctx context.Context, userID int64) ([]Task, error) {
	rows, err := r.db.Query(ctx, selectTaskSQL+`
		WHERE t.assigned_to = $1
		ORDER BY CASE t.status
		         WHEN 'pending' THEN 1
		         WHEN 'in_progress' THEN 2
		         WHEN 'completed' THEN 3
		         ELSE 4 END,
		         t.due_date ASC NULLS LAST,
		         t.created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, task)
	}
	return items, rows.Err()
}

// UpdateStatus sets a task's status.
func (r *Repository) UpdateStatus(ctx context.Context, id int64, status string) error {
	tag, err := r.db.Exec(ctx, `UPDATE tasks SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanTask(row pgx.Row) (Task, error) {
	var (
		task Task
		due  *time.Time
	)
	err := row.Scan(
		&task.ID, &task.Title, &task.Description, &task.Priority, &task.Status,
		&due, &task.AssignedTo, &task.AssignedBy, &task.AssignedByName,
		&task.Category, &task.CreatedAt, &task.UpdatedAt,
	)
	task.DueDate = due
	return task, err
}
