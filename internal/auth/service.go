package auth

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/atiera/atiera/internal/audit"
	"github.com/atiera/atiera/internal/shared"
)

// Notifier records in-app notifications for sign-in activity.
type Notifier interface {
	Create(ctx context.Context, userID int64, kind, title, message string) error
}

// Service wraps authentication business rules. Login and logout are the
// only state changes that happen outside the admin action pipeline, so
// the service writes their audit trail itself.
type Service struct {
	repo     Repository
	sink     audit.Sink
	notifier Notifier
	logger   *slog.Logger
}

// NewService constructs a new Service. notifier may be nil.
func NewService(repo Repository, sink audit.Sink, notifier Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, sink: sink, notifier: notifier, logger: logger}
}

// Authenticate validates username/password credentials. Failures are
// recorded in the audit log with the attempted username but never the
// password.
func (s *Service) Authenticate(ctx context.Context, username, password, ip, ua string) (*User, error) {
	user, err := s.repo.FindByUsername(ctx, username)
	if err != nil {
		s.recordFailure(ctx, username, ip, ua)
		return nil, shared.ErrInvalidCredentials
	}
	if user.Status != shared.StatusActive {
		s.recordFailure(ctx, username, ip, ua)
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.recordFailure(ctx, username, ip, ua)
		return nil, shared.ErrInvalidCredentials
	}

	if err := s.repo.TouchLastLogin(ctx, user.ID); err != nil {
		s.logger.Warn("touch last login", slog.Any("error", err))
	}
	if _, err := s.sink.Append(ctx, audit.Event{
		UserID:    &user.ID,
		Action:    "User logged in",
		TableName: "users",
		IPAddress: ip,
		UserAgent: ua,
	}); err != nil {
		s.logger.Warn("audit login", slog.Any("error", err))
	}
	if s.notifier != nil {
		if err := s.notifier.Create(ctx, user.ID, "login", "Signed in", "Login from "+ip); err != nil {
			s.logger.Warn("login notification", slog.Any("error", err))
		}
	}
	return user, nil
}

// RegisterSession persists the session metadata in postgres.
func (s *Service) RegisterSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	return s.repo.CreateSession(ctx, id, userID, expiresAt, ip, ua)
}

// RemoveSession deletes a session record and audits the logout.
func (s *Service) RemoveSession(ctx context.Context, id string, userID int64, ip, ua string) error {
	if err := s.repo.DeleteSession(ctx, id); err != nil {
		return err
	}
	if userID > 0 {
		if _, err := s.sink.Append(ctx, audit.Event{
			UserID:    &userID,
			Action:    "User logged out",
			TableName: "users",
			IPAddress: ip,
			UserAgent: ua,
		}); err != nil {
			s.logger.Warn("audit logout", slog.Any("error", err))
		}
		if s.notifier != nil {
			if err := s.notifier.Create(ctx, userID, "logout", "Signed out", ""); err != nil {
				s.logger.Warn("logout notification", slog.Any("error", err))
			}
		}
	}
	return nil
}

func (s *Service) recordFailure(ctx context.Context, username, ip, ua string) {
	if _, err := s.sink.Append(ctx, audit.Event{
		Action:    "Failed login attempt",
		TableName: "users",
		NewValues: map[string]any{"username": username},
		IPAddress: ip,
		UserAgent: ua,
	}); err != nil {
		s.logger.Warn("audit failed login", slog.Any("error", err))
	}
}
