package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/consultly/internal/account"
	"github.com/smallbiznis/consultly/internal/clock"
	"github.com/smallbiznis/consultly/internal/config"
	"github.com/smallbiznis/consultly/internal/consultation"
	"github.com/smallbiznis/consultly/internal/migration"
	"github.com/smallbiznis/consultly/internal/notification"
	"github.com/smallbiznis/consultly/internal/observability"
	"github.com/smallbiznis/consultly/internal/payment"
	"github.com/smallbiznis/consultly/internal/providers/email"
	"github.com/smallbiznis/consultly/internal/ratelimit"
	"github.com/smallbiznis/consultly/internal/rewards"
	"github.com/smallbiznis/consultly/internal/server"
	"github.com/smallbiznis/consultly/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.WithProcess(observability.ProcessAPI),
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,

		account.Module,
		rewards.Module,
		email.Module,
		notification.Module,
		ratelimit.Module,
		payment.Module,
		consultation.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
