package notify

import (
	"context"
	"testing"
	"time"
)

type stubNotifyRepo struct {
	items     map[int64][]Notification
	nextID    int64
	lastLimit int
}

func newStubNotifyRepo() *stubNotifyRepo {
	return &stubNotifyRepo{items: make(map[int64][]Notification)}
}

func (s *stubNotifyRepo) List(ctx context.Context, userID int64, limit int) ([]Notification, error) {
	s.lastLimit = limit
	items := s.items[userID]
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *stubNotifyRepo) UnreadCount(ctx context.Context, userID int64) (int64, error) {
	var count int64
	for _, n := range s.items[userID] {
		if !n.IsRead {
			count++
		}
	}
	return count, nil
}

func (s *stubNotifyRepo) Create(ctx context.Context, userID int64, kind, title, message string) (Notification, error) {
	s.nextID++
	n := Notification{ID: s.nextID, UserID: userID, Type: kind, Title: title, Message: message, CreatedAt: time.Now()}
	s.items[userID] = append(s.items[userID], n)
	return n, nil
}

func (s *stubNotifyRepo) MarkRead(ctx context.Context, userID, id int64) error {
	for i, n := range s.items[userID] {
		if n.ID == id {
			s.items[userID][i].IsRead = true
			return nil
		}
	}
	return ErrNotFound
}

func (s *stubNotifyRepo) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	var count int64
	for i, n := range s.items[userID] {
		if !n.IsRead {
			s.items[userID][i].IsRead = true
			count++
		}
	}
	return count, nil
}

func (s *stubNotifyRepo) Delete(ctx context.Context, userID, id int64) error {
	for i, n := range s.items[userID] {
		if n.ID == id {
			s.items[userID] = append(s.items[userID][:i], s.items[userID][i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (s *stubNotifyRepo) DeleteRead(ctx context.Context, userID int64) (int64, error) {
	var kept []Notification
	var count int64
	for _, n := range s.items[userID] {
		if n.IsRead {
			count++
			continue
		}
		kept = append(kept, n)
	}
	s.items[userID] = kept
	return count, nil
}

func TestCreateDefaultsTypeToInfo(t *testing.T) {
	repo := newStubNotifyRepo()
	svc := NewService(repo)

	n, err := svc.Create(context.Background(), 7, "", "  Task assigned  ", "  check your queue  ")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if n.Type != TypeInfo {
		t.Fatalf("expected info type by default, got %q", n.Type)
	}
	if n.Title != "Task assigned" || n.Message != "check your queue" {
		t.Fatalf("expected trimmed fields, got %+v", n)
	}
}

func TestCreateRejectsBadInput(t *testing.T) {
	svc := NewService(newStubNotifyRepo())
	if _, err := svc.Create(context.Background(), 7, "urgent", "Title", ""); err == nil {
		t.Fatalf("expected error for unknown type")
	}
	if _, err := svc.Create(context.Background(), 7, TypeWarning, "   ", ""); err == nil {
		t.Fatalf("expected error for blank title")
	}
}

func TestListClampsLimit(t *testing.T) {
	repo := newStubNotifyRepo()
	svc := NewService(repo)

	if _, _, err := svc.List(context.Background(), 7, 0); err != nil {
		t.Fatalf("list: %v", err)
	}
	if repo.lastLimit != defaultListLimit {
		t.Fatalf("expected default limit, got %d", repo.lastLimit)
	}
	if _, _, err := svc.List(context.Background(), 7, 5000); err != nil {
		t.Fatalf("list: %v", err)
	}
	if repo.lastLimit != defaultListLimit {
		t.Fatalf("expected oversized limit clamped, got %d", repo.lastLimit)
	}
}

func TestListReportsUnread(t *testing.T) {
	repo := newStubNotifyRepo()
	svc := NewService(repo)
	ctx := context.Background()

	first, _ := svc.Create(ctx, 7, TypeSuccess, "Posted", "")
	svc.Create(ctx, 7, TypeWarning, "Review due", "")

	if err := svc.MarkRead(ctx, 7, first.ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	items, unread, err := svc.List(ctx, 7, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(items))
	}
	if unread != 1 {
		t.Fatalf("expected 1 unread, got %d", unread)
	}
}

func TestMarkAllReadAndDeleteRead(t *testing.T) {
	repo := newStubNotifyRepo()
	svc := NewService(repo)
	ctx := context.Background()

	svc.Create(ctx, 7, TypeInfo, "One", "")
	svc.Create(ctx, 7, TypeInfo, "Two", "")

	marked, err := svc.MarkAllRead(ctx, 7)
	if err != nil {
		t.Fatalf("mark all read: %v", err)
	}
	if marked != 2 {
		t.Fatalf("expected 2 marked, got %d", marked)
	}
	removed, err := svc.DeleteAllRead(ctx, 7)
	if err != nil {
		t.Fatalf("delete read: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}
	if count, _ := svc.UnreadCount(ctx, 7); count != 0 {
		t.Fatalf("expected empty inbox, got %d unread", count)
	}
}
