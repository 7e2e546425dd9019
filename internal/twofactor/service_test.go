package twofactor

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"
)

type stubTwoFactorRepo struct {
	records map[int64]Record
	hashes  map[int64][]string
}

func newStubTwoFactorRepo() *stubTwoFactorRepo {
	return &stubTwoFactorRepo{records: make(map[int64]Record), hashes: make(map[int64][]string)}
}

func (s *stubTwoFactorRepo) WithTx(tx pgx.Tx) RepositoryPort { return s }

func (s *stubTwoFactorRepo) GetRecord(ctx context.Context, userID int64) (Record, error) {
	record, ok := s.records[userID]
	if !ok {
		return Record{}, ErrNotEnrolled
	}
	return record, nil
}

func (s *stubTwoFactorRepo) Disable(ctx context.Context, userID int64) error {
	record, ok := s.records[userID]
	if !ok {
		return ErrNotEnrolled
	}
	record.Enabled = false
	record.Method = ""
	record.PhoneNumber = ""
	s.records[userID] = record
	delete(s.hashes, userID)
	return nil
}

func (s *stubTwoFactorRepo) ReplaceBackupCodes(ctx context.Context, userID int64, hashes []string) error {
	s.hashes[userID] = hashes
	return nil
}

type recordingSMS struct {
	to      []string
	message []string
}

func (r *recordingSMS) EnqueueSendSMS(ctx context.Context, to, message string) error {
	r.to = append(r.to, to)
	r.message = append(r.message, message)
	return nil
}

func TestResetReturnsPriorEnrollment(t *testing.T) {
	repo := newStubTwoFactorRepo()
	repo.records[7] = Record{UserID: 7, Enabled: true, Method: "sms", PhoneNumber: "+639171234567"}
	svc := NewService(repo, &recordingSMS{})

	before, err := svc.Reset(context.Background(), nil, 7)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if !before.Enabled || before.Method != "sms" {
		t.Fatalf("expected prior enrollment in before record, got %+v", before)
	}
	if repo.records[7].Enabled {
		t.Fatalf("expected enrollment cleared")
	}
}

func TestResetUnknownUser(t *testing.T) {
	svc := NewService(newStubTwoFactorRepo(), &recordingSMS{})
	if _, err := svc.Reset(context.Background(), nil, 99); !errors.Is(err, ErrNotEnrolled) {
		t.Fatalf("expected ErrNotEnrolled, got %v", err)
	}
}

func TestRegenerateBackupCodes(t *testing.T) {
	repo := newStubTwoFactorRepo()
	repo.records[7] = Record{UserID: 7, Enabled: true}
	svc := NewService(repo, &recordingSMS{})

	codes, err := svc.RegenerateBackupCodes(context.Background(), nil, 7)
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if len(codes) != backupCodeCount {
		t.Fatalf("expected %d codes, got %d", backupCodeCount, len(codes))
	}
	seen := make(map[string]struct{})
	for _, code := range codes {
		if len(code) != 8 {
			t.Fatalf("expected 8-character code, got %q", code)
		}
		seen[code] = struct{}{}
	}
	if len(seen) != backupCodeCount {
		t.Fatalf("expected unique codes, got %d distinct", len(seen))
	}

	hashes := repo.hashes[7]
	if len(hashes) != backupCodeCount {
		t.Fatalf("expected %d stored hashes, got %d", backupCodeCount, len(hashes))
	}
	// Only hashes hit the store; each must verify against its plaintext.
	for i, hash := range hashes {
		if hash == codes[i] {
			t.Fatalf("plaintext code stored at index %d", i)
		}
		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(codes[i])); err != nil {
			t.Fatalf("hash %d does not match its code", i)
		}
	}
}

func TestSendTestSMS(t *testing.T) {
	repo := newStubTwoFactorRepo()
	repo.records[7] = Record{UserID: 7, Enabled: true, Method: "sms", PhoneNumber: "+639171234567"}
	sms := &recordingSMS{}
	svc := NewService(repo, sms)

	phone, err := svc.SendTestSMS(context.Background(), 7)
	if err != nil {
		t.Fatalf("send test sms: %v", err)
	}
	if phone != "+639171234567" {
		t.Fatalf("expected enrolled number, got %q", phone)
	}
	if len(sms.to) != 1 || sms.to[0] != "+639171234567" {
		t.Fatalf("expected one queued message, got %v", sms.to)
	}
}

func TestSendTestSMSWithoutPhone(t *testing.T) {
	repo := newStubTwoFactorRepo()
	repo.records[7] = Record{UserID: 7, Enabled: true, Method: "totp"}
	svc := NewService(repo, &recordingSMS{})

	if _, err := svc.SendTestSMS(context.Background(), 7); !errors.Is(err, ErrNoPhoneNumber) {
		t.Fatalf("expected ErrNoPhoneNumber, got %v", err)
	}
}
