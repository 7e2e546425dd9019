package tasks

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"

	"github.com/atiera/atiera/internal/gateway"
)

type stubTaskRepo struct {
	tasks  map[int64]Task
	nextID int64
}

func newStubTaskRepo() *stubTaskRepo {
	return &stubTaskRepo{tasks: make(map[int64]Task)}
}

func (s *stubTaskRepo) WithTx(tx pgx.Tx) RepositoryPort { return s }

func (s *stubTaskRepo) Create(ctx context.Context, task Task) (Task, error) {
	s.nextID++
	task.ID = s.nextID
	s.tasks[task.ID] = task
	return task, nil
}

func (s *stubTaskRepo) Get(ctx context.Context, id int64) (Task, error) {
	task, ok := s.tasks[id]
	if !ok {
		return Task{}, ErrNotFound
	}
	return task, nil
}

func (s *stubTaskRepo) ListAssignedTo(ctx context.Context, userID int64) ([]Task, error) {
	var out []Task
	for _, task := range s.tasks {
		if task.AssignedTo == userID {
			out = append(out, task)
		}
	}
	return out, nil
}

func (s *stubTaskRepo) UpdateStatus(ctx context.Context, id int64, status string) error {
	task, ok := s.tasks[id]
	if !ok {
		return ErrNotFound
	}
	task.Status = status
	s.tasks[id] = task
	return nil
}

type stubDirectory struct {
	assignable map[int64]bool
}

func (s stubDirectory) IsAssignable(ctx context.Context, userID int64) (bool, error) {
	return s.assignable[userID], nil
}

type recordingNotifier struct {
	sentTo []int64
	titles []string
}

func (n *recordingNotifier) Create(ctx context.Context, userID int64, kind, title, message string) error {
	n.sentTo = append(n.sentTo, userID)
	n.titles = append(n.titles, title)
	return nil
}

func newTaskService() (*Service, *stubTaskRepo, *recordingNotifier) {
	repo := newStubTaskRepo()
	notifier := &recordingNotifier{}
	svc := NewService(repo, stubDirectory{assignable: map[int64]bool{5: true}}, notifier)
	return svc, repo, notifier
}

func TestValidateNew(t *testing.T) {
	svc, _, _ := newTaskService()
	ctx := context.Background()

	err := svc.ValidateNew(ctx, NewTaskInput{Title: "  ", AssignedTo: 5})
	if verr, ok := gateway.AsValidation(err); !ok || verr.Field != "title" {
		t.Fatalf("expected title validation error, got %v", err)
	}

	err = svc.ValidateNew(ctx, NewTaskInput{Title: "Close the books", Priority: "asap", AssignedTo: 5})
	if verr, ok := gateway.AsValidation(err); !ok || verr.Field != "priority" {
		t.Fatalf("expected priority validation error, got %v", err)
	}

	err = svc.ValidateNew(ctx, NewTaskInput{Title: "Close the books", AssignedTo: 99})
	if verr, ok := gateway.AsValidation(err); !ok || verr.Field != "assigned_to" {
		t.Fatalf("expected assignee validation error, got %v", err)
	}

	if err := svc.ValidateNew(ctx, NewTaskInput{Title: "Close the books", Priority: PriorityHigh, AssignedTo: 5}); err != nil {
		t.Fatalf("expected valid input, got %v", err)
	}
}

func TestCreateDefaults(t *testing.T) {
	svc, _, notifier := newTaskService()

	task, err := svc.Create(context.Background(), nil, 1, NewTaskInput{
		Title:      "  Reconcile bank feed  ",
		AssignedTo: 5,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.Title != "Reconcile bank feed" {
		t.Fatalf("expected trimmed title, got %q", task.Title)
	}
	if task.Priority != PriorityMedium {
		t.Fatalf("expected default priority, got %q", task.Priority)
	}
	if task.Status != StatusPending {
		t.Fatalf("expected pending status, got %q", task.Status)
	}
	if task.AssignedBy != 1 {
		t.Fatalf("expected creator recorded, got %d", task.AssignedBy)
	}
	// The notification belongs after commit; an insert that later rolls
	// back must leave nothing behind.
	if len(notifier.sentTo) != 0 {
		t.Fatalf("expected no notification during create, got %v", notifier.sentTo)
	}
}

func TestNotifyAssigned(t *testing.T) {
	svc, _, notifier := newTaskService()

	task, err := svc.Create(context.Background(), nil, 1, NewTaskInput{
		Title:      "Reconcile bank feed",
		AssignedTo: 5,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.NotifyAssigned(context.Background(), task); err != nil {
		t.Fatalf("notify assigned: %v", err)
	}
	if len(notifier.sentTo) != 1 || notifier.sentTo[0] != 5 {
		t.Fatalf("expected assignee notified, got %v", notifier.sentTo)
	}
	if len(notifier.titles) != 1 || notifier.titles[0] != "New task assigned" {
		t.Fatalf("expected assignment title, got %v", notifier.titles)
	}

	bare := NewService(newStubTaskRepo(), stubDirectory{}, nil)
	if err := bare.NotifyAssigned(context.Background(), task); err != nil {
		t.Fatalf("nil notifier: %v", err)
	}
}

func TestUpdateStatusAssigneeOnly(t *testing.T) {
	svc, repo, _ := newTaskService()
	seeded, _ := repo.Create(context.Background(), Task{Title: "Post journal", Status: StatusPending, AssignedTo: 5})

	_, _, err := svc.UpdateStatus(context.Background(), nil, 6, seeded.ID, StatusCompleted)
	if verr, ok := gateway.AsValidation(err); !ok || verr.Field != "task_id" {
		t.Fatalf("expected rejection for non-assignee, got %v", err)
	}

	before, after, err := svc.UpdateStatus(context.Background(), nil, 5, seeded.ID, StatusCompleted)
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if before.Status != StatusPending || after.Status != StatusCompleted {
		t.Fatalf("expected pending -> completed, got %q -> %q", before.Status, after.Status)
	}
	stored, _ := repo.Get(context.Background(), seeded.ID)
	if stored.Status != StatusCompleted {
		t.Fatalf("expected stored status updated, got %q", stored.Status)
	}
}

func TestUpdateStatusRejectsUnknownStatus(t *testing.T) {
	svc, repo, _ := newTaskService()
	seeded, _ := repo.Create(context.Background(), Task{Title: "Post journal", Status: StatusPending, AssignedTo: 5})

	_, _, err := svc.UpdateStatus(context.Background(), nil, 5, seeded.ID, "done")
	if verr, ok := gateway.AsValidation(err); !ok || verr.Field != "status" {
		t.Fatalf("expected status validation error, got %v", err)
	}
}
