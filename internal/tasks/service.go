package tasks

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/atiera/atiera/internal/gateway"
)

// AssigneeDirectory answers whether a user may receive task assignments:
// the account must be active and hold an assignable role.
type AssigneeDirectory interface {
	IsAssignable(ctx context.Context, userID int64) (bool, error)
}

// Notifier pushes an in-app notification to the assignee.
type Notifier interface {
	Create(ctx context.Context, userID int64, kind, title, message string) error
}

// Service handles task business logic. Mutations run inside the
// gateway's transaction.
type Service struct {
	repo      RepositoryPort
	directory AssigneeDirectory
	notifier  Notifier
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, directory AssigneeDirectory, notifier Notifier) *Service {
	return &Service{repo: repo, directory: directory, notifier: notifier}
}

func (s *Service) txRepo(tx pgx.Tx) RepositoryPort {
	if tx == nil {
		return s.repo
	}
	return s.repo.WithTx(tx)
}

// NewTaskInput collects the fields of an assignment request.
type NewTaskInput struct {
	Title       string
	Description string
	Priority    string
	DueDate     *time.Time
	AssignedTo  int64
	Category    string
}

// ValidateNew checks an assignment request against the task invariants.
// Intended as the gateway's Validate hook.
func (s *Service) ValidateNew(ctx context.Context, input NewTaskInput) error {
	if strings.TrimSpace(input.Title) == "" {
		return gateway.Invalid("title", "title is required")
	}
	if input.Priority != "" && !ValidPriority(input.Priority) {
		return gateway.Invalid("priority", "unknown priority")
	}
	if input.AssignedTo <= 0 {
		return gateway.Invalid("assigned_to", "assignee is required")
	}
	assignable, err := s.directory.IsAssignable(ctx, input.AssignedTo)
	if err != nil {
		return err
	}
	if !assignable {
		return gateway.Invalid("assigned_to", "assignee must be an active staff member")
	}
	return nil
}

// Create inserts the task. It performs no writes outside tx; the caller
// notifies the assignee once the transaction has committed.
func (s *Service) Create(ctx context.Context, tx pgx.Tx, creatorID int64, input NewTaskInput) (Task, error) {
	priority := input.Priority
	if priority == "" {
		priority = PriorityMedium
	}
	return s.txRepo(tx).Create(ctx, Task{
		Title:       strings.TrimSpace(input.Title),
		Description: strings.TrimSpace(input.Description),
		Priority:    priority,
		Status:      StatusPending,
		DueDate:     input.DueDate,
		AssignedTo:  input.AssignedTo,
		AssignedBy:  creatorID,
		Category:    strings.TrimSpace(input.Category),
	})
}

// NotifyAssigned pushes the in-app notification for a committed
// assignment. Call only after the creating transaction has committed.
func (s *Service) NotifyAssigned(ctx context.Context, task Task) error {
	if s.notifier == nil {
		return nil
	}
	return s.notifier.Create(ctx, task.AssignedTo, "info", "New task assigned", task.Title)
}

// ListMine returns tasks assigned to the user in display order.
func (s *Service) ListMine(ctx context.Context, userID int64) ([]Task, error) {
	return s.repo.ListAssignedTo(ctx, userID)
}

// Get fetches one task.
func (s *Service) Get(ctx context.Context, id int64) (Task, error) {
	return s.repo.Get(ctx, id)
}

// UpdateStatus transitions a task's status. Only the assignee may move
// their own task; the old and new rows are returned for the audit diff.
func (s *Service) UpdateStatus(ctx context.Context, tx pgx.Tx, userID, taskID int64, status string) (Task, Task, error) {
	if !ValidStatus(status) {
		return Task{}, Task{}, gateway.Invalid("status", "unknown status")
	}
	repo := s.txRepo(tx)
	before, err := repo.Get(ctx, taskID)
	if err != nil {
		return Task{}, Task{}, err
	}
	if before.AssignedTo != userID {
		return Task{}, Task{}, gateway.Invalid("task_id", "task is not assigned to you")
	}
	if err := repo.UpdateStatus(ctx, taskID, status); err != nil {
		return Task{}, Task{}, err
	}
	after := before
	after.Status = status
	return before, after, nil
}
