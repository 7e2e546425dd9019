package audit

import "time"

// Event is one immutable audit record. UserID is nil for system actions
// such as scheduled retention cleanups.
type Event struct {
	ID        int64
	UserID    *int64
	Username  string
	FullName  string
	Action    string
	TableName string
	RecordID  string
	OldValues map[string]any
	NewValues map[string]any
	IPAddress string
	UserAgent string
	CreatedAt time.Time
}

// Filters narrow an audit query. All populated filters apply conjunctively;
// zero values are ignored.
type Filters struct {
	UserID    int64
	User      string
	Action    string
	TableName string
	RecordID  string
	IPAddress string
	DateFrom  time.Time
	DateTo    time.Time
	Scope     string
	// IncludeSystem keeps rows with no acting user in the result.
	IncludeSystem bool
	Page          int
	PageSize      int
}

// ScopeDisbursements restricts results to the disbursement processing
// tables and their user-driven actions.
const ScopeDisbursements = "disbursements"

var (
	disbursementTables  = []string{"disbursements", "hr3_claims", "payroll"}
	disbursementActions = []string{"created", "updated", "deleted", "approved", "rejected", "processed_payment", "viewed", "printed"}
)

// Stats summarizes audit activity.
type Stats struct {
	Total         int64
	DistinctUsers int64
	RecentCount   int64
	LastEventAt   time.Time
}

// Result is one page of events plus paging info.
type Result struct {
	Events  []Event
	Page    int
	HasNext bool
}
