// Package gateway is the single choke point for state-changing admin
// operations. Every mutation runs the same pipeline: authenticate,
// authorize against a named capability, validate, mutate, audit. The
// mutation and its audit record share one transaction, so a call either
// fully succeeds (data changed and provably attributed) or leaves no
// trace at all.
package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atiera/atiera/internal/audit"
	"github.com/atiera/atiera/internal/platform/db"
	"github.com/atiera/atiera/internal/shared"
)

// CapabilityResolver yields the effective capability set for a principal.
// Implementations fail closed: errors surface as the empty set.
type CapabilityResolver interface {
	Resolve(ctx context.Context, userID int64) map[string]struct{}
}

// Request describes one admin action passing through the gateway.
type Request struct {
	// Principal is the authenticated actor; nil rejects the call.
	Principal *shared.Principal
	// Capability names the permission required, e.g. "roles.manage".
	Capability string
	// Action is the human-readable audit label, e.g. "Assigned role to user".
	Action string
	// Target optionally pins the audited table/record and captures the
	// pre-mutation snapshot for diffing.
	Target *Target
	// Validate runs after authorization and before the mutation. Return
	// a ValidationError to reject the input.
	Validate func() error
	// IPAddress and UserAgent describe the originating request.
	IPAddress string
	UserAgent string
}

// Target identifies the audited record.
type Target struct {
	Table     string
	RecordID  string
	OldValues map[string]any
}

// Outcome is what a successful mutation reports back. Table and RecordID
// override the request target when the mutation learns them (e.g. a
// freshly inserted id).
type Outcome struct {
	Table     string
	RecordID  string
	OldValues map[string]any
	NewValues map[string]any
	// Result carries an arbitrary payload back to the caller.
	Result any
}

// MutationFunc performs the actual data change inside the gateway's
// transaction.
type MutationFunc func(ctx context.Context, tx pgx.Tx) (Outcome, error)

// ActionCounter tallies gateway outcomes for metrics.
type ActionCounter interface {
	CountAdminAction(outcome string)
}

// Gateway guards and audits admin mutations.
type Gateway struct {
	resolver CapabilityResolver
	sink     audit.Sink
	logger   *slog.Logger
	denials  *denialTracker
	metrics  ActionCounter
	runTx    func(ctx context.Context, fn func(pgx.Tx) error) error
}

// New constructs a Gateway running mutations on the given pool.
func New(pool *pgxpool.Pool, resolver CapabilityResolver, sink audit.Sink, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{
		resolver: resolver,
		sink:     sink,
		logger:   logger,
		denials:  newDenialTracker(),
	}
	g.runTx = func(ctx context.Context, fn func(pgx.Tx) error) error {
		return db.WithTx(ctx, pool, fn)
	}
	return g
}

// WithMetrics attaches an outcome counter.
func (g *Gateway) WithMetrics(counter ActionCounter) *Gateway {
	g.metrics = counter
	return g
}

func (g *Gateway) count(outcome string) {
	if g.metrics != nil {
		g.metrics.CountAdminAction(outcome)
	}
}

// Perform runs the authorize-validate-mutate-audit pipeline. On success
// exactly one mutation and exactly one audit event have been committed;
// on any failure, neither.
func (g *Gateway) Perform(ctx context.Context, req Request, fn MutationFunc) (Outcome, error) {
	if req.Principal == nil || !req.Principal.IsActive() {
		return Outcome{}, ErrUnauthenticated
	}
	if req.Capability == "" || req.Action == "" {
		return Outcome{}, fmt.Errorf("gateway: capability and action are required")
	}

	granted := g.resolver.Resolve(ctx, req.Principal.ID)
	if _, ok := granted[req.Capability]; !ok {
		g.recordDenial(ctx, req)
		g.count("forbidden")
		return Outcome{}, ErrForbidden
	}

	if req.Validate != nil {
		if err := req.Validate(); err != nil {
			g.count("invalid")
			if _, ok := AsValidation(err); ok {
				return Outcome{}, err
			}
			return Outcome{}, Invalid("", err.Error())
		}
	}

	var outcome Outcome
	err := g.runTx(ctx, func(tx pgx.Tx) error {
		var err error
		outcome, err = fn(ctx, tx)
		if err != nil {
			return &MutationError{cause: err}
		}

		event := g.buildEvent(req, outcome)
		if _, err := g.sink.AppendTx(ctx, tx, event); err != nil {
			g.logger.Error("audit append failed, rolling back mutation",
				slog.String("action", req.Action),
				slog.Int64("user_id", req.Principal.ID),
				slog.Any("error", err))
			return fmt.Errorf("%w: %v", ErrAuditWrite, err)
		}
		return nil
	})
	if err != nil {
		g.count("failed")
		return Outcome{}, err
	}

	g.count("success")
	g.logger.Info("admin action",
		slog.String("action", req.Action),
		slog.Int64("user_id", req.Principal.ID),
		slog.String("capability", req.Capability))
	return outcome, nil
}

func (g *Gateway) buildEvent(req Request, outcome Outcome) audit.Event {
	event := audit.Event{
		UserID:    &req.Principal.ID,
		Action:    req.Action,
		TableName: outcome.Table,
		RecordID:  outcome.RecordID,
		OldValues: outcome.OldValues,
		NewValues: outcome.NewValues,
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
	}
	if req.Target != nil {
		if event.TableName == "" {
			event.TableName = req.Target.Table
		}
		if event.RecordID == "" {
			event.RecordID = req.Target.RecordID
		}
		if event.OldValues == nil {
			event.OldValues = req.Target.OldValues
		}
	}
	return event
}

// recordDenial is the security-event policy hook: repeated capability
// denials from the same principal are logged and written to the audit
// log as a security event, outside any transaction. A failed write here
// only loses the security breadcrumb, never a mutation record.
func (g *Gateway) recordDenial(ctx context.Context, req Request) {
	count := g.denials.bump(req.Principal.ID)
	g.logger.Warn("permission denied",
		slog.Int64("user_id", req.Principal.ID),
		slog.String("capability", req.Capability),
		slog.String("action", req.Action),
		slog.Int("recent_denials", count))
	if count == denialAlertThreshold {
		_, err := g.sink.Append(ctx, audit.Event{
			UserID: &req.Principal.ID,
			Action: "Repeated permission denials",
			NewValues: map[string]any{
				"capability": req.Capability,
				"count":      count,
			},
			IPAddress: req.IPAddress,
			UserAgent: req.UserAgent,
		})
		if err != nil {
			g.logger.Warn("security event append", slog.Any("error", err))
		}
	}
}
