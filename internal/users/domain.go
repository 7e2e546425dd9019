package users

import "time"

// User is a directory entry for an ATIERA account.
type User struct {
	ID               int64
	Username         string
	Email            string
	FullName         string
	Department       string
	Role             string
	Status           string
	TwoFactorEnabled bool
	LastLoginAt      time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Profile is the self-editable subset of a user record.
type Profile struct {
	FullName   string
	Email      string
	Department string
}
