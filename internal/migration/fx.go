package migration

import (
	"github.com/smallbiznis/consultly/internal/config"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

// Module migrates postgres on start. Other dialects are migrated out of band.
var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType != "postgres" {
			return nil
		}
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
