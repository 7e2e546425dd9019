package gateway

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/atiera/atiera/internal/audit"
	"github.com/atiera/atiera/internal/shared"
)

type stubResolver struct {
	perms map[int64][]string
}

func (s *stubResolver) Resolve(ctx context.Context, userID int64) map[string]struct{} {
	set := make(map[string]struct{})
	for _, p := range s.perms[userID] {
		set[p] = struct{}{}
	}
	return set
}

type stubSink struct {
	appended  []audit.Event
	txEvents  []audit.Event
	failTx    bool
	failPlain bool
}

func (s *stubSink) Append(ctx context.Context, event audit.Event) (int64, error) {
	if s.failPlain {
		return 0, errors.New("sink down")
	}
	s.appended = append(s.appended, event)
	return int64(len(s.appended)), nil
}

func (s *stubSink) AppendTx(ctx context.Context, tx pgx.Tx, event audit.Event) (int64, error) {
	if s.failTx {
		return 0, errors.New("sink down")
	}
	s.txEvents = append(s.txEvents, event)
	return int64(len(s.txEvents)), nil
}

func (s *stubSink) Query(ctx context.Context, filters audit.Filters) ([]audit.Event, error) {
	return nil, nil
}

func (s *stubSink) Stats(ctx context.Context, window time.Duration) (audit.Stats, error) {
	return audit.Stats{}, nil
}

func (s *stubSink) PurgeOlderThan(ctx context.Context, horizon time.Duration, actorID *int64) (int64, error) {
	return 0, nil
}

func newTestGateway(resolver *stubResolver, sink *stubSink) (*Gateway, *int) {
	rollbacks := 0
	g := &Gateway{
		resolver: resolver,
		sink:     sink,
		logger:   slog.New(slog.DiscardHandler),
		denials:  newDenialTracker(),
	}
	g.runTx = func(ctx context.Context, fn func(pgx.Tx) error) error {
		if err := fn(nil); err != nil {
			rollbacks++
			return err
		}
		return nil
	}
	return g, &rollbacks
}

func activePrincipal(id int64) *shared.Principal {
	return &shared.Principal{ID: id, Username: "alice", Status: shared.StatusActive}
}

func TestPerformSuccessWritesExactlyOneAuditEvent(t *testing.T) {
	resolver := &stubResolver{perms: map[int64][]string{1: {"roles.manage"}}}
	sink := &stubSink{}
	g, _ := newTestGateway(resolver, sink)

	mutated := false
	outcome, err := g.Perform(context.Background(), Request{
		Principal:  activePrincipal(1),
		Capability: "roles.manage",
		Action:     "Assigned role to user",
		Target:     &Target{Table: "user_roles"},
		IPAddress:  "10.0.0.7",
		UserAgent:  "test-agent",
	}, func(ctx context.Context, tx pgx.Tx) (Outcome, error) {
		mutated = true
		return Outcome{NewValues: map[string]any{"user_id": int64(7), "role_id": int64(3)}}, nil
	})
	if err != nil {
		t.Fatalf("perform: %v", err)
	}
	if !mutated {
		t.Fatal("mutation did not run")
	}
	if len(sink.txEvents) != 1 {
		t.Fatalf("expected 1 audit event, got %d", len(sink.txEvents))
	}
	event := sink.txEvents[0]
	if event.Action != "Assigned role to user" {
		t.Fatalf("unexpected action %q", event.Action)
	}
	if event.TableName != "user_roles" {
		t.Fatalf("unexpected table %q", event.TableName)
	}
	if event.UserID == nil || *event.UserID != 1 {
		t.Fatal("event not attributed to principal")
	}
	if event.IPAddress != "10.0.0.7" || event.UserAgent != "test-agent" {
		t.Fatal("request metadata missing from event")
	}
	if event.NewValues["user_id"] != int64(7) {
		t.Fatal("new values not captured")
	}
	if outcome.NewValues == nil {
		t.Fatal("outcome lost")
	}
}

func TestPerformForbiddenSkipsMutationAndAudit(t *testing.T) {
	resolver := &stubResolver{perms: map[int64][]string{2: {"audit.view"}}}
	sink := &stubSink{}
	g, _ := newTestGateway(resolver, sink)

	mutated := false
	_, err := g.Perform(context.Background(), Request{
		Principal:  activePrincipal(2),
		Capability: "settings.edit",
		Action:     "configure",
	}, func(ctx context.Context, tx pgx.Tx) (Outcome, error) {
		mutated = true
		return Outcome{}, nil
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if mutated {
		t.Fatal("mutation ran despite denial")
	}
	if len(sink.txEvents) != 0 {
		t.Fatal("audit event written for denied call")
	}
}

func TestPerformUnauthenticated(t *testing.T) {
	g, _ := newTestGateway(&stubResolver{}, &stubSink{})

	_, err := g.Perform(context.Background(), Request{
		Principal:  nil,
		Capability: "roles.manage",
		Action:     "create role",
	}, func(ctx context.Context, tx pgx.Tx) (Outcome, error) {
		t.Fatal("mutation must not run")
		return Outcome{}, nil
	})
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}

	inactive := &shared.Principal{ID: 9, Status: shared.StatusInactive}
	_, err = g.Perform(context.Background(), Request{
		Principal:  inactive,
		Capability: "roles.manage",
		Action:     "create role",
	}, func(ctx context.Context, tx pgx.Tx) (Outcome, error) {
		return Outcome{}, nil
	})
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for inactive principal, got %v", err)
	}
}

func TestPerformValidationShortCircuits(t *testing.T) {
	resolver := &stubResolver{perms: map[int64][]string{1: {"roles.manage"}}}
	sink := &stubSink{}
	g, _ := newTestGateway(resolver, sink)

	_, err := g.Perform(context.Background(), Request{
		Principal:  activePrincipal(1),
		Capability: "roles.manage",
		Action:     "Created role",
		Validate: func() error {
			return Invalid("role_name", "role name is required")
		},
	}, func(ctx context.Context, tx pgx.Tx) (Outcome, error) {
		t.Fatal("mutation must not run")
		return Outcome{}, nil
	})
	verr, ok := AsValidation(err)
	if !ok {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Field != "role_name" {
		t.Fatalf("unexpected field %q", verr.Field)
	}
	if len(sink.txEvents) != 0 {
		t.Fatal("audit event written for invalid input")
	}
}

func TestPerformMutationFailureRollsBack(t *testing.T) {
	resolver := &stubResolver{perms: map[int64][]string{1: {"roles.manage"}}}
	sink := &stubSink{}
	g, rollbacks := newTestGateway(resolver, sink)

	cause := errors.New("duplicate role name")
	_, err := g.Perform(context.Background(), Request{
		Principal:  activePrincipal(1),
		Capability: "roles.manage",
		Action:     "Created role",
	}, func(ctx context.Context, tx pgx.Tx) (Outcome, error) {
		return Outcome{}, cause
	})
	if !IsMutationFailure(err) {
		t.Fatalf("expected mutation failure, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatal("cause not preserved")
	}
	if *rollbacks != 1 {
		t.Fatalf("expected rollback, got %d", *rollbacks)
	}
	if len(sink.txEvents) != 0 {
		t.Fatal("audit event written for failed mutation")
	}
}

func TestPerformAuditWriteFailureFailsCall(t *testing.T) {
	resolver := &stubResolver{perms: map[int64][]string{1: {"settings.edit"}}}
	sink := &stubSink{failTx: true}
	g, rollbacks := newTestGateway(resolver, sink)

	_, err := g.Perform(context.Background(), Request{
		Principal:  activePrincipal(1),
		Capability: "settings.edit",
		Action:     "Updated settings",
	}, func(ctx context.Context, tx pgx.Tx) (Outcome, error) {
		return Outcome{Table: "settings"}, nil
	})
	if !errors.Is(err, ErrAuditWrite) {
		t.Fatalf("expected ErrAuditWrite, got %v", err)
	}
	if *rollbacks != 1 {
		t.Fatal("mutation not rolled back after audit failure")
	}
}

func TestRepeatedDenialsEscalateToSecurityEvent(t *testing.T) {
	resolver := &stubResolver{perms: map[int64][]string{}}
	sink := &stubSink{}
	g, _ := newTestGateway(resolver, sink)

	for i := 0; i < denialAlertThreshold+2; i++ {
		_, err := g.Perform(context.Background(), Request{
			Principal:  activePrincipal(5),
			Capability: "settings.edit",
			Action:     "configure",
		}, func(ctx context.Context, tx pgx.Tx) (Outcome, error) {
			return Outcome{}, nil
		})
		if !errors.Is(err, ErrForbidden) {
			t.Fatalf("expected ErrForbidden, got %v", err)
		}
	}
	// Exactly one security event at the threshold, not one per denial.
	if len(sink.appended) != 1 {
		t.Fatalf("expected 1 security event, got %d", len(sink.appended))
	}
	if sink.appended[0].Action != "Repeated permission denials" {
		t.Fatalf("unexpected security action %q", sink.appended[0].Action)
	}
}

func TestDenialWindowResets(t *testing.T) {
	tracker := newDenialTracker()
	current := time.Now()
	tracker.now = func() time.Time { return current }

	if got := tracker.bump(1); got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
	if got := tracker.bump(1); got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}
	current = current.Add(denialWindow + time.Minute)
	if got := tracker.bump(1); got != 1 {
		t.Fatalf("expected reset to 1, got %d", got)
	}
}
