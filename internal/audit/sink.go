package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Sink is the append-only audit store. Append never updates existing rows;
// the only sanctioned deletion path is PurgeOlderThan.
type Sink interface {
	Append(ctx context.Context, event Event) (int64, error)
	// AppendTx writes the event inside the caller's transaction so a
	// mutation and its audit record commit or roll back together.
	AppendTx(ctx context.Context, tx pgx.Tx, event Event) (int64, error)
	Query(ctx context.Context, filters Filters) ([]Event, error)
	Stats(ctx context.Context, window time.Duration) (Stats, error)
	PurgeOlderThan(ctx context.Context, horizon time.Duration, actorID *int64) (int64, error)
}

// PostgresSink persists events in the audit_log table.
type PostgresSink struct {
	pool *pgxpool.Pool
}

// NewPostgresSink constructs the sink.
func NewPostgresSink(pool *pgxpool.Pool) *PostgresSink {
	return &PostgresSink{pool: pool}
}

const appendSQL = `INSERT INTO audit_log (user_id, action, table_name, record_id, old_values, new_values, ip_address, user_agent, created_at)
VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, $8, NOW())
RETURNING id`

// Append durably writes one event.
func (s *PostgresSink) Append(ctx context.Context, event Event) (int64, error) {
	return appendRow(ctx, s.pool, event)
}

// AppendTx writes one event within tx.
func (s *PostgresSink) AppendTx(ctx context.Context, tx pgx.Tx, event Event) (int64, error) {
	return appendRow(ctx, tx, event)
}

type execer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func appendRow(ctx context.Context, q execer, event Event) (int64, error) {
	if event.Action == "" {
		return 0, errors.New("audit: action label required")
	}
	oldJSON, err := marshalSnapshot(event.OldValues)
	if err != nil {
		return 0, fmt.Errorf("audit: encode old values: %w", err)
	}
	newJSON, err := marshalSnapshot(event.NewValues)
	if err != nil {
		return 0, fmt.Errorf("audit: encode new values: %w", err)
	}
	var id int64
	err = q.QueryRow(ctx, appendSQL,
		event.UserID, event.Action, event.TableName, event.RecordID,
		oldJSON, newJSON, event.IPAddress, event.UserAgent,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("audit: append: %w", err)
	}
	return id, nil
}

func marshalSnapshot(values map[string]any) ([]byte, error) {
	if len(values) == 0 {
		return nil, nil
	}
	return json.Marshal(values)
}

// Query returns events matching the conjunction of the populated filters,
// newest first. It fetches PageSize+1 rows; the caller derives HasNext.
func (s *PostgresSink) Query(ctx context.Context, filters Filters) ([]Event, error) {
	where, args := buildWhere(filters)

	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := 0
	if filters.Page > 1 {
		offset = (filters.Page - 1) * pageSize
	}
	args = append(args, pageSize+1, offset)

	sql := fmt.Sprintf(`SELECT al.id, al.user_id, COALESCE(u.username, ''), COALESCE(u.full_name, ''),
       al.action, COALESCE(al.table_name, ''), COALESCE(al.record_id, ''),
       al.old_values, al.new_values, COALESCE(al.ip_address, ''), COALESCE(al.user_agent, ''), al.created_at
FROM audit_log al
LEFT JOIN users u ON u.id = al.user_id
%s
ORDER BY al.created_at DESC
LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: query rows: %w", err)
	}
	return events, nil
}

func buildWhere(filters Filters) (string, []any) {
	var conds []string
	var args []any

	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if !filters.IncludeSystem {
		conds = append(conds, "al.user_id IS NOT NULL")
	}
	if filters.UserID > 0 {
		conds = append(conds, "al.user_id = "+arg(filters.UserID))
	}
	if user := strings.TrimSpace(filters.User); user != "" {
		p := arg("%" + user + "%")
		conds = append(conds, fmt.Sprintf("(u.username ILIKE %s OR u.full_name ILIKE %s)", p, p))
	}
	if action := strings.TrimSpace(filters.Action); action != "" {
		conds = append(conds, "al.action ILIKE "+arg("%"+action+"%"))
	}
	if table := strings.TrimSpace(filters.TableName); table != "" {
		tables := splitList(table)
		if len(tables) == 1 {
			conds = append(conds, "al.table_name = "+arg(tables[0]))
		} else if len(tables) > 1 {
			conds = append(conds, "al.table_name = ANY("+arg(tables)+")")
		}
	}
	if filters.RecordID != "" {
		conds = append(conds, "al.record_id = "+arg(filters.RecordID))
	}
	if filters.IPAddress != "" {
		conds = append(conds, "al.ip_address = "+arg(filters.IPAddress))
	}
	if !filters.DateFrom.IsZero() {
		conds = append(conds, "al.created_at >= "+arg(dayStart(filters.DateFrom)))
	}
	if !filters.DateTo.IsZero() {
		conds = append(conds, "al.created_at <= "+arg(dayEnd(filters.DateTo)))
	}
	if filters.Scope == ScopeDisbursements {
		conds = append(conds, "al.table_name = ANY("+arg(disbursementTables)+")")
		conds = append(conds, "al.action = ANY("+arg(disbursementActions)+")")
	}

	if len(conds) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func dayEnd(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, 999999999, t.Location())
}

func scanEvent(row pgx.Row) (Event, error) {
	var (
		event    Event
		userID   pgtype.Int8
		oldRaw   []byte
		newRaw   []byte
		createdA pgtype.Timestamptz
	)
	err := row.Scan(&event.ID, &userID, &event.Username, &event.FullName,
		&event.Action, &event.TableName, &event.RecordID,
		&oldRaw, &newRaw, &event.IPAddress, &event.UserAgent, &createdA)
	if err != nil {
		return Event{}, fmt.Errorf("audit: scan: %w", err)
	}
	if userID.Valid {
		event.UserID = &userID.Int64
	}
	if createdA.Valid {
		event.CreatedAt = createdA.Time
	}
	if len(oldRaw) > 0 {
		_ = json.Unmarshal(oldRaw, &event.OldValues)
	}
	if len(newRaw) > 0 {
		_ = json.Unmarshal(newRaw, &event.NewValues)
	}
	return event, nil
}

// Stats aggregates activity for user-driven events.
func (s *PostgresSink) Stats(ctx context.Context, window time.Duration) (Stats, error) {
	if window <= 0 {
		window = 30 * 24 * time.Hour
	}
	var (
		stats Stats
		last  pgtype.Timestamptz
	)
	since := time.Now().Add(-window)
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*),
       COUNT(DISTINCT user_id),
       COUNT(*) FILTER (WHERE created_at >= $1),
       MAX(created_at)
FROM audit_log
WHERE user_id IS NOT NULL`, since).Scan(&stats.Total, &stats.DistinctUsers, &stats.RecentCount, &last)
	if err != nil {
		return Stats{}, fmt.Errorf("audit: stats: %w", err)
	}
	if last.Valid {
		stats.LastEventAt = last.Time
	}
	return stats, nil
}

// PurgeOlderThan deletes events past the retention horizon and, in the same
// transaction, appends a cleanup event recording the count. actorID is nil
// when the scheduled job runs the purge.
func (s *PostgresSink) PurgeOlderThan(ctx context.Context, horizon time.Duration, actorID *int64) (int64, error) {
	var deleted int64
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("audit: begin purge: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	cutoff := time.Now().Add(-horizon)
	tag, err := tx.Exec(ctx, `DELETE FROM audit_log WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("audit: purge: %w", err)
	}
	deleted = tag.RowsAffected()

	_, err = appendRow(ctx, tx, Event{
		UserID:    actorID,
		Action:    "Audit log cleanup",
		TableName: "audit_log",
		NewValues: map[string]any{"deleted_count": deleted, "horizon": horizon.String()},
	})
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("audit: commit purge: %w", err)
	}
	return deleted, nil
}
