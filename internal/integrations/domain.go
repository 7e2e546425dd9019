package integrations

import "time"

// Integration statuses.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
	StatusError    = "error"
)

// Integration is a registry entry merged with its stored state.
type Integration struct {
	Key         string
	DisplayName string
	Description string
	Type        string
	Status      string
	Configured  bool
	LastUsedAt  *time.Time
	UpdatedAt   *time.Time
}

// Stats summarises the registry state for the dashboard cards.
type Stats struct {
	Total  int
	Active int
	Errors int
}
