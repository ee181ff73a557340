package sweeper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/consultly/internal/clock"
	"github.com/smallbiznis/consultly/internal/config"
	consultationdomain "github.com/smallbiznis/consultly/internal/consultation/domain"
	"github.com/smallbiznis/consultly/internal/notification"
	"github.com/smallbiznis/consultly/internal/observability/metrics"
	"github.com/smallbiznis/consultly/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/consultly/internal/payment/domain"
	"github.com/smallbiznis/consultly/internal/providers/objectstore"
	"github.com/smallbiznis/consultly/pkg/db"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrInvalidConfig = errors.New("invalid_sweeper_config")
	tracer           = otel.Tracer("consultly/sweeper")
)

// Leaser grants the single-runner lease. *ratelimit.Locker satisfies it.
type Leaser interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Rules    config.BusinessRules
	GenID    *snowflake.Node
	Gateway  paymentdomain.Gateway
	Notifier *notification.Notifier
	Repo     Repository            `optional:"true"`
	Metrics  *metrics.SweepMetrics `optional:"true"`
	Leaser   Leaser                `optional:"true"`
	Uploader objectstore.Uploader  `optional:"true"`
	Config   Config                `optional:"true"`
}

type Sweeper struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	rules    config.BusinessRules
	genID    *snowflake.Node
	gateway  paymentdomain.Gateway
	notifier *notification.Notifier
	repo     Repository
	metrics  *metrics.SweepMetrics
	leaser   Leaser
	uploader objectstore.Uploader
	cfg      Config
	sleep    func(ctx context.Context, d time.Duration) error
}

// Result summarises a run. LeaseBusy is set when another runner held the
// lease and nothing was attempted.
type Result struct {
	RunID     string
	Due       int
	Processed int
	Failed    int
	LeaseBusy bool
}

func New(p Params) (*Sweeper, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.GenID == nil || p.Gateway == nil || p.Notifier == nil {
		return nil, ErrInvalidConfig
	}
	repo := p.Repo
	if repo == nil {
		repo = NewRepository()
	}
	return &Sweeper{
		db:       p.DB,
		log:      p.Log.Named("sweeper").With(zap.String("component", toolName)),
		clock:    p.Clock,
		rules:    p.Rules,
		genID:    p.GenID,
		gateway:  p.Gateway,
		notifier: p.Notifier,
		repo:     repo,
		metrics:  p.Metrics,
		leaser:   p.Leaser,
		uploader: p.Uploader,
		cfg:      p.Config.withDefaults(),
		sleep:    sleepContext,
	}, nil
}

// Run captures every due settlement once, one row per unit of work. Row
// failures are reported and counted in the result; the returned error is
// reserved for failures that stop the run as a whole.
func (s *Sweeper) Run(ctx context.Context) (Result, error) {
	ctx = s.withLogContext(ctx)
	run := &sweepRun{
		runID:     s.genID.Generate().String(),
		batchSize: s.cfg.MaxBatchSize,
		startedAt: time.Now(),
	}

	if s.leaser != nil {
		token, ok, err := s.leaser.TryLock(ctx, s.cfg.LeaseKey, s.cfg.LeaseTTL)
		switch {
		case err != nil:
			// Row locks still keep settlements single-captured.
			s.logger(ctx).Warn("sweeper.lease.unavailable", zap.String("run_id", run.runID), zap.Error(err))
		case !ok:
			s.logger(ctx).Info("sweeper.lease.busy", zap.String("run_id", run.runID), zap.String("key", s.cfg.LeaseKey))
			return Result{RunID: run.runID, LeaseBusy: true}, nil
		default:
			defer func() {
				if err := s.leaser.Release(context.WithoutCancel(ctx), s.cfg.LeaseKey, token); err != nil {
					s.logger(ctx).Warn("sweeper.lease.release_failed", zap.String("run_id", run.runID), zap.Error(err))
				}
			}()
		}
	}

	s.metrics.IncRun()
	now := s.clock.Now()
	dueAt := now.Add(-(s.rules.MeetingLength + s.rules.SweepGracePeriod))
	rows, err := s.repo.ListDue(ctx, s.db, dueAt, s.cfg.MaxBatchSize)
	if err != nil {
		return Result{RunID: run.runID}, fmt.Errorf("list due settlements: %w", err)
	}
	run.due = len(rows)
	s.metrics.SetDueRows(len(rows))
	s.logRunStart(ctx, run)

	var runErr error
	for i, row := range rows {
		if i > 0 && s.cfg.InterIterationDelay > 0 {
			if err := s.sleep(ctx, s.cfg.InterIterationDelay); err != nil {
				runErr = err
				break
			}
		}
		if err := s.settle(ctx, run, row); err != nil {
			run.fail(row, err)
			s.metrics.IncRowError(err)
			s.logRowError(ctx, run, row, err)
		} else {
			run.processed++
		}
	}

	s.logRunFinish(ctx, run)
	s.publish(ctx, run)
	if runErr == nil && len(run.failures) == 0 {
		s.metrics.MarkSuccess(s.clock.Now())
	}

	return Result{
		RunID:     run.runID,
		Due:       run.due,
		Processed: run.processed,
		Failed:    len(run.failures),
	}, runErr
}

// settle moves one settlement to a receipt. The capture runs inside the unit
// of work so a failed capture leaves the settlement in place.
func (s *Sweeper) settle(ctx context.Context, run *sweepRun, row DueSettlement) (err error) {
	ctx, span := tracer.Start(ctx, "sweeper.settle")
	span.SetAttributes(tracing.SafeAttributes(
		attribute.Int64("settlement_id", row.ID.Int64()),
		attribute.Int64("consultation_id", row.ConsultationID.Int64()),
	)...)
	defer func() { tracing.EndSpan(span, err) }()

	uow, err := db.Begin(ctx, s.db)
	if err != nil {
		s.metrics.IncRow(metrics.SweepResultDBFailed)
		return err
	}
	defer func() { _ = uow.Rollback() }()

	lockStart := time.Now()
	locked, err := s.repo.LockSettlement(ctx, uow.DB(), row.ID)
	s.metrics.ObserveLockWait(time.Since(lockStart))
	if err != nil {
		s.metrics.IncRow(metrics.SweepResultDBFailed)
		return err
	}
	if locked == nil {
		s.metrics.IncRow(metrics.SweepResultAlreadyGone)
		s.logger(ctx).Info("sweeper.row.already_gone",
			zap.String("run_id", run.runID),
			zap.Int64("settlement_id", row.ID.Int64()),
		)
		return nil
	}

	if err := s.repo.InsertReceipt(ctx, uow.DB(), &consultationdomain.Receipt{
		ID:                          s.genID.Generate(),
		ConsultationID:              locked.ConsultationID,
		ChargeID:                    locked.ChargeID,
		FeePerHourInYen:             locked.FeePerHourInYen,
		PlatformFeeRateInPercentage: locked.PlatformFeeRateInPercentage,
		SettledAt:                   s.clock.Now().UTC(),
	}); err != nil {
		s.metrics.IncRow(metrics.SweepResultDBFailed)
		return fmt.Errorf("insert receipt: %w", err)
	}
	if err := s.repo.DeleteSettlement(ctx, uow.DB(), locked.ID); err != nil {
		s.metrics.IncRow(metrics.SweepResultDBFailed)
		return fmt.Errorf("delete settlement: %w", err)
	}

	captureStart := time.Now()
	err = s.gateway.Capture(ctx, locked.ChargeID)
	s.metrics.ObserveCapture(time.Since(captureStart))
	if err != nil {
		if !errors.Is(err, paymentdomain.ErrAlreadyCaptured) {
			s.metrics.IncRow(metrics.SweepResultCaptureFailed)
			return fmt.Errorf("capture %s: %w", locked.ChargeID, err)
		}
		s.logger(ctx).Warn("sweeper.capture.already_captured",
			zap.String("run_id", run.runID),
			zap.Int64("settlement_id", locked.ID.Int64()),
			zap.String("charge_id", locked.ChargeID),
		)
	}

	if err := uow.Commit(); err != nil {
		s.metrics.IncRow(metrics.SweepResultDBFailed)
		return fmt.Errorf("commit after capture: %w", err)
	}
	s.metrics.IncRow(metrics.SweepResultSettled)
	s.logger(ctx).Info("sweeper.row.settled",
		zap.String("run_id", run.runID),
		zap.Int64("settlement_id", locked.ID.Int64()),
		zap.String("charge_id", locked.ChargeID),
	)
	return nil
}

// publish mails the operator when rows failed and archives the report when
// an uploader is configured. Neither failure changes the run outcome.
func (s *Sweeper) publish(ctx context.Context, run *sweepRun) {
	report := run.report()
	ctx = context.WithoutCancel(ctx)

	if report.Failed > 0 {
		if err := s.notifier.SendSweepReport(ctx, s.cfg.AdminEmailAddress, report); err != nil {
			s.logger(ctx).Error("sweeper.report.email_failed", zap.String("run_id", run.runID), zap.Error(err))
		}
	}

	if s.uploader == nil {
		return
	}
	body, err := json.Marshal(report)
	if err != nil {
		s.logger(ctx).Error("sweeper.report.encode_failed", zap.String("run_id", run.runID), zap.Error(err))
		return
	}
	key := fmt.Sprintf("%s/%s.json", s.cfg.ReportPrefix, run.runID)
	if err := s.uploader.Put(ctx, key, "application/json", body); err != nil {
		s.logger(ctx).Error("sweeper.report.upload_failed", zap.String("run_id", run.runID), zap.String("key", key), zap.Error(err))
		return
	}
	s.logger(ctx).Info("sweeper.report.uploaded", zap.String("run_id", run.runID), zap.String("key", key))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
