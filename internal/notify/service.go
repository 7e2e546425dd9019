package notify

import (
	"context"
	"errors"
	"strings"
)

const defaultListLimit = 20

// Service handles notification business logic.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// List returns the newest notifications plus the unread count.
func (s *Service) List(ctx context.Context, userID int64, limit int) ([]Notification, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = defaultListLimit
	}
	items, err := s.repo.List(ctx, userID, limit)
	if err != nil {
		return nil, 0, err
	}
	unread, err := s.repo.UnreadCount(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	return items, unread, nil
}

// UnreadCount reports how many notifications remain unread.
func (s *Service) UnreadCount(ctx context.Context, userID int64) (int64, error) {
	return s.repo.UnreadCount(ctx, userID)
}

// Create validates and inserts a notification for the user.
func (s *Service) Create(ctx context.Context, userID int64, kind, title, message string) (Notification, error) {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		kind = TypeInfo
	}
	if !ValidType(kind) {
		return Notification{}, errors.New("notify: invalid notification type")
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return Notification{}, errors.New("notify: title required")
	}
	return s.repo.Create(ctx, userID, kind, title, strings.TrimSpace(message))
}

// MarkRead flags one notification as read.
func (s *Service) MarkRead(ctx context.Context, userID, id int64) error {
	return s.repo.MarkRead(ctx, userID, id)
}

// MarkAllRead flags all unread notifications, reporting the count.
func (s *Service) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	return s.repo.MarkAllRead(ctx, userID)
}

// Delete removes one notification.
func (s *Service) Delete(ctx context.Context, userID, id int64) error {
	return s.repo.Delete(ctx, userID, id)
}

// DeleteAllRead removes the read notifications only.
func (s *Service) DeleteAllRead(ctx context.Context, userID int64) (int64, error) {
	return s.repo.DeleteRead(ctx, userID)
}
