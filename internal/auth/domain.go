package auth

import "time"

// User represents an authenticatable account.
type User struct {
	ID               int64
	Username         string
	Email            string
	FullName         string
	Department       string
	Role             string
	PasswordHash     string
	Status           string
	TwoFactorEnabled bool
	LastLoginAt      time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
