package audit

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
)

type stubSink struct {
	events      []Event
	queryCalls  []Filters
	purgedWith  time.Duration
	purgeActor  *int64
	purgeResult int64
}

func (s *stubSink) Append(ctx context.Context, event Event) (int64, error) {
	s.events = append(s.events, event)
	return int64(len(s.events)), nil
}

func (s *stubSink) AppendTx(ctx context.Context, tx pgx.Tx, event Event) (int64, error) {
	return s.Append(ctx, event)
}

func (s *stubSink) Query(ctx context.Context, filters Filters) ([]Event, error) {
	s.queryCalls = append(s.queryCalls, filters)
	start := (filters.Page - 1) * filters.PageSize
	if start >= len(s.events) {
		return nil, nil
	}
	end := start + filters.PageSize + 1
	if end > len(s.events) {
		end = len(s.events)
	}
	return s.events[start:end], nil
}

func (s *stubSink) Stats(ctx context.Context, window time.Duration) (Stats, error) {
	return Stats{Total: int64(len(s.events))}, nil
}

func (s *stubSink) PurgeOlderThan(ctx context.Context, horizon time.Duration, actorID *int64) (int64, error) {
	s.purgedWith = horizon
	s.purgeActor = actorID
	return s.purgeResult, nil
}

func eventFixture(n int) []Event {
	events := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		events = append(events, Event{
			ID:        int64(i + 1),
			Action:    "Updated system settings",
			TableName: "settings",
			CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Minute),
		})
	}
	return events
}

func TestBrowsePaging(t *testing.T) {
	sink := &stubSink{events: eventFixture(5)}
	svc := NewService(sink)

	result, err := svc.Browse(context.Background(), Filters{Page: 1, PageSize: 3})
	if err != nil {
		t.Fatalf("browse: %v", err)
	}
	if len(result.Events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(result.Events))
	}
	if !result.HasNext {
		t.Fatalf("expected hasNext true")
	}

	result, err = svc.Browse(context.Background(), Filters{Page: 2, PageSize: 3})
	if err != nil {
		t.Fatalf("browse page 2: %v", err)
	}
	if len(result.Events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(result.Events))
	}
	if result.HasNext {
		t.Fatalf("expected hasNext false on last page")
	}
}

func TestBrowseClampsPageSize(t *testing.T) {
	sink := &stubSink{}
	svc := NewService(sink)
	if _, err := svc.Browse(context.Background(), Filters{PageSize: 10000}); err != nil {
		t.Fatalf("browse: %v", err)
	}
	if got := sink.queryCalls[0].PageSize; got != maxPageSize {
		t.Fatalf("expected page size clamped to %d, got %d", maxPageSize, got)
	}
	if got := sink.queryCalls[0].Page; got != 1 {
		t.Fatalf("expected page defaulted to 1, got %d", got)
	}
}

func TestExportPagesThroughEverything(t *testing.T) {
	sink := &stubSink{events: eventFixture(maxPageSize + 7)}
	svc := NewService(sink)
	events, err := svc.Export(context.Background(), Filters{})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(events) != maxPageSize+7 {
		t.Fatalf("expected %d events, got %d", maxPageSize+7, len(events))
	}
	if len(sink.queryCalls) != 2 {
		t.Fatalf("expected 2 query calls, got %d", len(sink.queryCalls))
	}
}

func TestRunRetentionDefaultsHorizon(t *testing.T) {
	sink := &stubSink{purgeResult: 42}
	svc := NewService(sink)
	deleted, err := svc.RunRetention(context.Background(), 0, nil)
	if err != nil {
		t.Fatalf("retention: %v", err)
	}
	if deleted != 42 {
		t.Fatalf("expected 42 deleted, got %d", deleted)
	}
	if sink.purgedWith != DefaultRetention {
		t.Fatalf("expected default retention horizon, got %v", sink.purgedWith)
	}
	if sink.purgeActor != nil {
		t.Fatalf("expected nil actor for system purge")
	}
}

func TestWriteCSV(t *testing.T) {
	actor := int64(7)
	events := []Event{
		{
			ID:        1,
			UserID:    &actor,
			Username:  "admin",
			Action:    "Assigned role to user",
			TableName: "user_roles",
			RecordID:  "3",
			NewValues: map[string]any{"role": "accountant"},
			IPAddress: "10.0.0.1",
			CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		},
		{ID: 2, Action: "Audit log cleanup", CreatedAt: time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)},
	}
	data, err := WriteCSV(events)
	if err != nil {
		t.Fatalf("write csv: %v", err)
	}
	out := string(data)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d lines", len(lines))
	}
	if !strings.Contains(lines[1], "admin") {
		t.Fatalf("expected username in row, got %q", lines[1])
	}
	if !strings.Contains(lines[1], `"{""role"":""accountant""}"`) {
		t.Fatalf("expected json values in row, got %q", lines[1])
	}
	if !strings.Contains(lines[2], "system") {
		t.Fatalf("expected system actor for userless event, got %q", lines[2])
	}
}
