package tasks

import "time"

// Priorities, lowest to highest urgency.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Statuses in display precedence order: open work first, finished last.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

// Task is a unit of work assigned from one principal to another.
type Task struct {
	ID             int64
	Title          string
	Description    string
	Priority       string
	Status         string
	DueDate        *time.Time
	AssignedTo     int64
	AssignedBy     int64
	AssignedByName string
	Category       string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ValidPriority reports whether p is a known priority.
func ValidPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// ValidStatus reports whether s is a known status.
func ValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}
