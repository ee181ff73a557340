// settlement-sweeper captures the card authorizations of consultations whose
// dispute window has passed and moves their settlements to receipts.
//
// Exit codes: 0 success (or another runner holds the lease), 1 missing
// configuration, 2 database unreachable, 3 one or more rows failed,
// 4 any other startup failure.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/consultly/internal/account"
	"github.com/smallbiznis/consultly/internal/clock"
	"github.com/smallbiznis/consultly/internal/config"
	"github.com/smallbiznis/consultly/internal/metricspush"
	"github.com/smallbiznis/consultly/internal/notification"
	"github.com/smallbiznis/consultly/internal/observability"
	"github.com/smallbiznis/consultly/internal/observability/metrics"
	"github.com/smallbiznis/consultly/internal/payment"
	"github.com/smallbiznis/consultly/internal/providers/email"
	"github.com/smallbiznis/consultly/internal/providers/objectstore"
	"github.com/smallbiznis/consultly/internal/ratelimit"
	"github.com/smallbiznis/consultly/internal/sweeper"
	"github.com/smallbiznis/consultly/pkg/db"
	"github.com/spf13/pflag"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	exitOK = iota
	exitMissingConfig
	exitDatabaseUnavailable
	exitRowsFailed
	exitStartupFailed
)

var errDatabaseUnavailable = errors.New("database_unavailable")

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg := sweeper.DefaultConfig()
	var timeout time.Duration

	flagSet := pflag.NewFlagSet("settlement-sweeper", pflag.ContinueOnError)
	flagSet.IntVar(&cfg.MaxBatchSize, "batch-size", cfg.MaxBatchSize, "maximum settlements handled in one run")
	flagSet.DurationVar(&cfg.InterIterationDelay, "delay", cfg.InterIterationDelay, "pause between gateway captures")
	flagSet.DurationVar(&cfg.LeaseTTL, "lease-ttl", cfg.LeaseTTL, "single-runner lease lifetime when redis is configured")
	flagSet.DurationVar(&timeout, "timeout", time.Hour, "deadline for the whole run")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitMissingConfig
	}

	env, err := config.LoadBatchEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitMissingConfig
	}
	if _, err := config.LoadBusinessRules(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitMissingConfig
	}
	cfg.AdminEmailAddress = env.AdminEmailAddress

	var (
		sw       *sweeper.Sweeper
		registry *prometheus.Registry
		pusher   metricspush.Pusher
		log      *zap.Logger
	)
	app := fx.New(
		fx.NopLogger,
		config.Module,
		observability.WithProcess(observability.ProcessSweeper),
		observability.Module,
		fx.Provide(registerSnowflake),
		fx.Provide(func(appCfg config.Config) db.Config { return db.FromAppConfig(appCfg) }),
		fx.Provide(openDatabase),
		clock.Module,

		account.Module,
		email.Module,
		notification.Module,
		ratelimit.Module,
		payment.Module,
		objectstore.Module,
		metricspush.Module,

		fx.Provide(prometheus.NewRegistry),
		fx.Provide(func(reg *prometheus.Registry, metricsCfg metrics.Config) (*metrics.SweepMetrics, error) {
			return metrics.NewSweepMetrics(reg, metricsCfg)
		}),
		fx.Supply(cfg),
		sweeper.Module,

		fx.Populate(&sw, &registry, &pusher, &log),
	)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if errors.Is(err, errDatabaseUnavailable) {
			return exitDatabaseUnavailable
		}
		return exitStartupFailed
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		_ = app.Stop(stopCtx)
	}()

	res, runErr := sw.Run(ctx)
	if pusher != nil {
		pushCtx, pushCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := pusher.Push(pushCtx, registry); err != nil {
			log.Warn("metrics.push.failed", zap.Error(err))
		}
		pushCancel()
	}

	switch {
	case runErr != nil && res.Due == 0:
		log.Error("sweeper.run.aborted", zap.String("run_id", res.RunID), zap.Error(runErr))
		return exitDatabaseUnavailable
	case runErr != nil:
		log.Error("sweeper.run.interrupted", zap.String("run_id", res.RunID), zap.Error(runErr))
		return exitRowsFailed
	case res.Failed > 0:
		return exitRowsFailed
	default:
		return exitOK
	}
}

func registerSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}

func openDatabase(cfg db.Config, log *zap.Logger) (*gorm.DB, error) {
	conn, err := db.Open(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errDatabaseUnavailable, err)
	}
	return conn, nil
}
