package twofactor

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"

	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"
)

const backupCodeCount = 10

// ErrNoPhoneNumber is returned when a test SMS is requested for a user
// without an enrolled phone number.
var ErrNoPhoneNumber = errors.New("twofactor: no phone number enrolled")

// SMSSender queues an outbound SMS for asynchronous delivery.
type SMSSender interface {
	EnqueueSendSMS(ctx context.Context, to, message string) error
}

// Service implements 2FA administration. All mutations run inside the
// gateway's transaction.
type Service struct {
	repo RepositoryPort
	sms  SMSSender
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, sms SMSSender) *Service {
	return &Service{repo: repo, sms: sms}
}

func (s *Service) txRepo(tx pgx.Tx) RepositoryPort {
	if tx == nil {
		return s.repo
	}
	return s.repo.WithTx(tx)
}

// GetRecord returns the user's enrollment state.
func (s *Service) GetRecord(ctx context.Context, userID int64) (Record, error) {
	return s.repo.GetRecord(ctx, userID)
}

// Reset clears the user's 2FA enrollment so they can re-enroll. Returns
// the prior state for the audit diff.
func (s *Service) Reset(ctx context.Context, tx pgx.Tx, userID int64) (Record, error) {
	repo := s.txRepo(tx)
	before, err := repo.GetRecord(ctx, userID)
	if err != nil {
		return Record{}, err
	}
	if err := repo.Disable(ctx, userID); err != nil {
		return Record{}, err
	}
	return before, nil
}

// RegenerateBackupCodes replaces the user's backup codes with a fresh
// set. The plaintext codes are returned exactly once for display; only
// their hashes are stored.
func (s *Service) RegenerateBackupCodes(ctx context.Context, tx pgx.Tx, userID int64) ([]string, error) {
	codes := make([]string, 0, backupCodeCount)
	hashes := make([]string, 0, backupCodeCount)
	for i := 0; i < backupCodeCount; i++ {
		code, err := generateBackupCode()
		if err != nil {
			return nil, err
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		codes = append(codes, code)
		hashes = append(hashes, string(hash))
	}
	if err := s.txRepo(tx).ReplaceBackupCodes(ctx, userID, hashes); err != nil {
		return nil, err
	}
	return codes, nil
}

// SendTestSMS queues a test message to the user's enrolled phone number.
func (s *Service) SendTestSMS(ctx context.Context, userID int64) (string, error) {
	record, err := s.repo.GetRecord(ctx, userID)
	if err != nil {
		return "", err
	}
	if record.PhoneNumber == "" {
		return "", ErrNoPhoneNumber
	}
	message := "ATIERA test message: your two-factor SMS delivery is working."
	if err := s.sms.EnqueueSendSMS(ctx, record.PhoneNumber, message); err != nil {
		return "", err
	}
	return record.PhoneNumber, nil
}

// generateBackupCode returns 8 hex characters from a CSPRNG.
func generateBackupCode() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
