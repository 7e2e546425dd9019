package twofactor

import "time"

// Record describes a user's 2FA enrollment state.
type Record struct {
	UserID          int64
	Enabled         bool
	Method          string
	PhoneNumber     string
	EnrolledAt      time.Time
	BackupCodesLeft int
}
