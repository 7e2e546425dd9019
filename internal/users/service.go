package users

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/atiera/atiera/internal/shared"
)

// ErrPasswordMismatch is returned when the current password check fails.
var ErrPasswordMismatch = errors.New("users: current password incorrect")

const minPasswordLength = 8

// Service handles user directory and profile business logic.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

func (s *Service) txRepo(tx pgx.Tx) RepositoryPort {
	if tx == nil {
		return s.repo
	}
	return s.repo.WithTx(tx)
}

// ListUsers returns all accounts.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.repo.ListUsers(ctx)
}

// ListActive returns active accounts.
func (s *Service) ListActive(ctx context.Context) ([]User, error) {
	return s.repo.ListActive(ctx)
}

// GetUser fetches one account.
func (s *Service) GetUser(ctx context.Context, id int64) (User, error) {
	return s.repo.GetUser(ctx, id)
}

// UpdateProfile applies the self-editable fields inside the gateway's
// transaction and returns the old and new rows for the audit diff.
func (s *Service) UpdateProfile(ctx context.Context, tx pgx.Tx, id int64, profile Profile) (User, User, error) {
	profile.FullName = strings.TrimSpace(profile.FullName)
	profile.Email = strings.TrimSpace(profile.Email)
	profile.Department = strings.TrimSpace(profile.Department)
	if profile.FullName == "" {
		return User{}, User{}, errors.New("users: full name required")
	}
	if profile.Email == "" {
		return User{}, User{}, errors.New("users: email required")
	}

	repo := s.txRepo(tx)
	before, err := repo.GetUser(ctx, id)
	if err != nil {
		return User{}, User{}, err
	}
	after, err := repo.UpdateProfile(ctx, id, profile)
	if err != nil {
		return User{}, User{}, err
	}
	return before, after, nil
}

// ChangePassword verifies the current password and stores a new hash.
func (s *Service) ChangePassword(ctx context.Context, tx pgx.Tx, id int64, current, next string) error {
	if len(next) < minPasswordLength {
		return errors.New("users: new password too short")
	}
	repo := s.txRepo(tx)
	hash, err := repo.PasswordHash(ctx, id)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(current)); err != nil {
		return ErrPasswordMismatch
	}
	newHash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return repo.UpdatePassword(ctx, id, string(newHash))
}

// Deactivate switches the account to inactive.
func (s *Service) Deactivate(ctx context.Context, tx pgx.Tx, id int64) (User, error) {
	repo := s.txRepo(tx)
	before, err := repo.GetUser(ctx, id)
	if err != nil {
		return User{}, err
	}
	if err := repo.SetStatus(ctx, id, shared.StatusInactive); err != nil {
		return User{}, err
	}
	return before, nil
}

// Reactivate switches the account back to active.
func (s *Service) Reactivate(ctx context.Context, tx pgx.Tx, id int64) error {
	return s.txRepo(tx).SetStatus(ctx, id, shared.StatusActive)
}
