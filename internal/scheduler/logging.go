package scheduler

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	obscontext "github.com/smallbiznis/rentledger/internal/observability/context"
	obslogger "github.com/smallbiznis/rentledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/rentledger/internal/observability/metrics"
	"go.uber.org/zap"
)

const jobDailyCheck = "daily_check"

type runKey struct{}

func withRun(ctx context.Context, runID string) context.Context {
	ctx = obscontext.WithActor(ctx, "system", "scheduler")
	return context.WithValue(ctx, runKey{}, runID)
}

func runIDFromContext(ctx context.Context) string {
	if runID, ok := ctx.Value(runKey{}).(string); ok {
		return runID
	}
	return ""
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	log := obslogger.WithContext(ctx, s.log)
	if runID := runIDFromContext(ctx); runID != "" {
		log = log.With(zap.String("run_id", runID))
	}
	return log
}

func (s *Scheduler) logRunStart(ctx context.Context, today time.Time) {
	s.logger(ctx).Info("scheduler.run.start",
		zap.String("job", jobDailyCheck),
		zap.String("today", today.Format("2006-01-02")),
	)
}

func (s *Scheduler) logRunFinish(ctx context.Context, started time.Time, summary Summary) {
	fields := []zap.Field{
		zap.String("job", jobDailyCheck),
		zap.Int64("duration_ms", time.Since(started).Milliseconds()),
		zap.Int("expiration_sent", summary.ExpirationSent),
		zap.Int("adjustments_applied", summary.AdjustmentsApplied),
		zap.Int("charges_generated", summary.ChargesGenerated),
		zap.Int("error_count", len(summary.Errors)),
	}
	if len(summary.Errors) > 0 {
		s.logger(ctx).Warn("scheduler.run.finish", fields...)
		return
	}
	s.logger(ctx).Info("scheduler.run.finish", fields...)
}

func (s *Scheduler) logItemError(ctx context.Context, msg string, tenantID snowflake.ID, resource string, err error, fields ...zap.Field) {
	if err == nil {
		return
	}
	s.metrics.IncItemError(jobDailyCheck, resource)
	base := []zap.Field{
		zap.String("tenant_id", tenantID.String()),
		zap.String("resource", resource),
		zap.String("error_type", obsmetrics.ClassifySchedulerErrorType(err)),
		zap.Bool("retryable", obsmetrics.IsSchedulerErrorRetryable(err)),
		zap.Error(err),
	}
	s.logger(ctx).Warn(msg, append(base, fields...)...)
}
