package notify

import "time"

// Notification types mirror the UI badge palette.
const (
	TypeLogin   = "login"
	TypeLogout  = "logout"
	TypeInfo    = "info"
	TypeWarning = "warning"
	TypeError   = "error"
	TypeSuccess = "success"
)

// Notification is a per-user message shown in the header dropdown.
type Notification struct {
	ID        int64      `json:"id"`
	UserID    int64      `json:"user_id"`
	Type      string     `json:"type"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	IsRead    bool       `json:"is_read"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// ValidType reports whether the notification type is one of the known set.
func ValidType(t string) bool {
	switch t {
	case TypeLogin, TypeLogout, TypeInfo, TypeWarning, TypeError, TypeSuccess:
		return true
	}
	return false
}
