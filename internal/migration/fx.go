package migration

import (
	"github.com/simbridge/simbridge/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func runOnStartup(gdb *gorm.DB, cfg config.Config, log *zap.Logger) error {
	if cfg.DBType != "postgres" {
		log.Info("skipping embedded migrations", zap.String("db_type", cfg.DBType))
		return nil
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	if err := RunMigrations(sqlDB); err != nil {
		return err
	}
	log.Info("migrations applied")
	return nil
}

var Module = fx.Module("migration",
	fx.Invoke(runOnStartup),
)
