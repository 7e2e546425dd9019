package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/atiera/atiera/internal/audit"
	jobmetrics "github.com/atiera/atiera/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// RetentionRunner purges audit events older than the horizon.
type RetentionRunner interface {
	RunRetention(ctx context.Context, horizon time.Duration, actorID *int64) (int64, error)
}

// AuditCleanupJob deletes audit events past the retention horizon. The
// purge itself leaves an audit trail, so the log records its own
// trimming.
type AuditCleanupJob struct {
	Runner        RetentionRunner
	Logger        *slog.Logger
	Metrics       *jobmetrics.Metrics
	RetentionDays int
}

func (j *AuditCleanupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskTypeAuditCleanup))
	}
	return slog.Default().With(slog.String("job", TaskTypeAuditCleanup))
}

func (j *AuditCleanupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

// Handle processes TaskTypeAuditCleanup tasks.
func (j *AuditCleanupJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	tracker := j.metrics().Track(TaskTypeAuditCleanup)
	defer func() { resultErr = tracker.End(resultErr) }()

	var payload AuditCleanupPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	days := payload.RetentionDays
	if days <= 0 {
		days = j.RetentionDays
	}
	horizon := time.Duration(days) * 24 * time.Hour
	if horizon <= 0 {
		horizon = audit.DefaultRetention
	}

	// nil actor marks the purge as system-initiated.
	purged, err := j.Runner.RunRetention(ctx, horizon, nil)
	if err != nil {
		j.logger().Error("audit cleanup failed",
			slog.Duration("horizon", horizon),
			slog.Any("error", err))
		return err
	}
	j.metrics().AddPurgedEvents(purged)
	j.logger().Info("audit cleanup complete",
		slog.Duration("horizon", horizon),
		slog.Int64("purged", purged))
	return nil
}
