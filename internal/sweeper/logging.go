package sweeper

import (
	"context"
	"time"

	"github.com/smallbiznis/consultly/internal/notification"
	obscontext "github.com/smallbiznis/consultly/internal/observability/context"
	obslogger "github.com/smallbiznis/consultly/internal/observability/logger"
	"github.com/smallbiznis/consultly/internal/observability/metrics"
	"github.com/smallbiznis/consultly/pkg/db"
	"go.uber.org/zap"
)

const toolName = "settlement-sweeper"

type sweepRun struct {
	runID     string
	batchSize int
	startedAt time.Time
	due       int
	processed int
	failures  []notification.SweepFailure
}

func (r *sweepRun) fail(row DueSettlement, err error) {
	r.failures = append(r.failures, notification.SweepFailure{
		SettlementID:              row.ID.Int64(),
		ConsultationID:            row.ConsultationID.Int64(),
		ChargeID:                  row.ChargeID,
		FeePerHourInYen:           row.FeePerHourInYen,
		PlatformFeeRate:           row.PlatformFeeRateInPercentage,
		CreditFacilitiesExpiredAt: row.CreditFacilitiesExpiredAt.UTC(),
		Error:                     err.Error(),
	})
}

func (r *sweepRun) report() notification.SweepReport {
	return notification.SweepReport{
		Tool:      toolName,
		RunID:     r.runID,
		Processed: r.processed,
		Failed:    len(r.failures),
		Failures:  r.failures,
	}
}

func (s *Sweeper) withLogContext(ctx context.Context) context.Context {
	return obscontext.WithActor(ctx, "system", toolName)
}

func (s *Sweeper) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (s *Sweeper) logRunStart(ctx context.Context, run *sweepRun) {
	s.logger(ctx).Info("sweeper.run.start",
		zap.String("run_id", run.runID),
		zap.Int("batch_size", run.batchSize),
		zap.Int("due_count", run.due),
	)
}

func (s *Sweeper) logRunFinish(ctx context.Context, run *sweepRun) {
	fields := []zap.Field{
		zap.String("run_id", run.runID),
		zap.Int64("duration_ms", time.Since(run.startedAt).Milliseconds()),
		zap.Int("processed_count", run.processed),
		zap.Int("error_count", len(run.failures)),
	}
	log := s.logger(ctx)
	if len(run.failures) > 0 {
		log.Warn("sweeper.run.finish", fields...)
		return
	}
	log.Info("sweeper.run.finish", fields...)
}

func (s *Sweeper) logRowError(ctx context.Context, run *sweepRun, row DueSettlement, err error) {
	s.logger(ctx).Error("sweeper.row.failed",
		zap.String("run_id", run.runID),
		zap.Int64("settlement_id", row.ID.Int64()),
		zap.Int64("consultation_id", row.ConsultationID.Int64()),
		zap.String("charge_id", row.ChargeID),
		zap.String("error_type", metrics.ClassifyErrorReason(err)),
		zap.Bool("retryable", retryable(err)),
		zap.String("error", err.Error()),
	)
}

// retryable marks lock or serialization conflicts. The next run picks the
// row up again.
func retryable(err error) bool {
	return db.IsLockNotAvailable(err) || db.IsSerializationFailure(err)
}
