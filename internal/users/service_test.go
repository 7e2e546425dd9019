package users

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/atiera/atiera/internal/shared"
)

type stubUserRepo struct {
	users  map[int64]User
	hashes map[int64]string
}

func newStubUserRepo() *stubUserRepo {
	return &stubUserRepo{users: make(map[int64]User), hashes: make(map[int64]string)}
}

func (s *stubUserRepo) WithTx(tx pgx.Tx) RepositoryPort { return s }

func (s *stubUserRepo) ListUsers(ctx context.Context) ([]User, error) {
	out := make([]User, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *stubUserRepo) ListActive(ctx context.Context) ([]User, error) {
	var out []User
	for _, user := range s.users {
		if user.Status == shared.StatusActive {
			out = append(out, user)
		}
	}
	return out, nil
}

func (s *stubUserRepo) GetUser(ctx context.Context, id int64) (User, error) {
	user, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return user, nil
}

func (s *stubUserRepo) PasswordHash(ctx context.Context, id int64) (string, error) {
	hash, ok := s.hashes[id]
	if !ok {
		return "", ErrNotFound
	}
	return hash, nil
}

func (s *stubUserRepo) UpdateProfile(ctx context.Context, id int64, profile Profile) (User, error) {
	user, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	user.FullName = profile.FullName
	user.Email = profile.Email
	user.Department = profile.Department
	s.users[id] = user
	return user, nil
}

func (s *stubUserRepo) UpdatePassword(ctx context.Context, id int64, hash string) error {
	if _, ok := s.users[id]; !ok {
		return ErrNotFound
	}
	s.hashes[id] = hash
	return nil
}

func (s *stubUserRepo) SetStatus(ctx context.Context, id int64, status string) error {
	user, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	user.Status = status
	s.users[id] = user
	return nil
}

func seedUser(repo *stubUserRepo, password string) {
	hash, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	repo.users[7] = User{
		ID:       7,
		Username: "mreyes",
		Email:    "mreyes@atiera.local",
		FullName: "Morgan Reyes",
		Status:   shared.StatusActive,
	}
	repo.hashes[7] = string(hash)
}

func TestUpdateProfileReturnsBeforeAndAfter(t *testing.T) {
	repo := newStubUserRepo()
	seedUser(repo, "oldsecret1")
	svc := NewService(repo)

	before, after, err := svc.UpdateProfile(context.Background(), nil, 7, Profile{
		FullName:   "  Morgan A. Reyes  ",
		Email:      "morgan@atiera.local",
		Department: "Front Office",
	})
	if err != nil {
		t.Fatalf("update profile: %v", err)
	}
	if before.FullName != "Morgan Reyes" {
		t.Fatalf("expected original name in before row, got %q", before.FullName)
	}
	if after.FullName != "Morgan A. Reyes" {
		t.Fatalf("expected trimmed new name, got %q", after.FullName)
	}
	if after.Email != "morgan@atiera.local" {
		t.Fatalf("expected new email, got %q", after.Email)
	}
}

func TestUpdateProfileRequiresNameAndEmail(t *testing.T) {
	repo := newStubUserRepo()
	seedUser(repo, "oldsecret1")
	svc := NewService(repo)

	if _, _, err := svc.UpdateProfile(context.Background(), nil, 7, Profile{Email: "a@b.c"}); err == nil {
		t.Fatalf("expected error for missing name")
	}
	if _, _, err := svc.UpdateProfile(context.Background(), nil, 7, Profile{FullName: "Morgan"}); err == nil {
		t.Fatalf("expected error for missing email")
	}
}

func TestChangePassword(t *testing.T) {
	repo := newStubUserRepo()
	seedUser(repo, "oldsecret1")
	svc := NewService(repo)
	ctx := context.Background()

	if err := svc.ChangePassword(ctx, nil, 7, "wrong", "newsecret1"); !errors.Is(err, ErrPasswordMismatch) {
		t.Fatalf("expected mismatch error, got %v", err)
	}
	if err := svc.ChangePassword(ctx, nil, 7, "oldsecret1", "short"); err == nil {
		t.Fatalf("expected error for short password")
	}
	if err := svc.ChangePassword(ctx, nil, 7, "oldsecret1", "newsecret1"); err != nil {
		t.Fatalf("change password: %v", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(repo.hashes[7]), []byte("newsecret1")); err != nil {
		t.Fatalf("expected stored hash to match new password")
	}
}

func TestDeactivateReturnsPriorRow(t *testing.T) {
	repo := newStubUserRepo()
	seedUser(repo, "oldsecret1")
	svc := NewService(repo)

	before, err := svc.Deactivate(context.Background(), nil, 7)
	if err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if before.Status != shared.StatusActive {
		t.Fatalf("expected before row still active, got %q", before.Status)
	}
	if repo.users[7].Status != shared.StatusInactive {
		t.Fatalf("expected account inactive, got %q", repo.users[7].Status)
	}

	if err := svc.Reactivate(context.Background(), nil, 7); err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	if repo.users[7].Status != shared.StatusActive {
		t.Fatalf("expected account active again")
	}
}
