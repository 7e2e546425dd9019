package shared

// UserStatus values mirror the users.status column.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Principal is the authenticated actor issuing a request. It is resolved once
// per request from the session and passed explicitly; handlers never read
// identity from ambient state.
type Principal struct {
	ID         int64
	Username   string
	FullName   string
	Email      string
	Role       string
	Department string
	Status     string
}

// IsActive reports whether the principal may act.
func (p *Principal) IsActive() bool {
	return p != nil && p.Status == StatusActive
}
