package db

import (
	"time"

	"github.com/simbridge/simbridge/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Open builds the shared gorm handle.
func Open(cfg Config, log *zap.Logger) (*gorm.DB, error) {
	dialect, err := Dialect(cfg)
	if err != nil {
		return nil, err
	}

	gdb, err := gorm.Open(dialect, &gorm.Config{
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConn)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConn)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTime) * time.Second)

	log.Info("database connected", zap.String("type", cfg.Type), zap.String("name", cfg.Name))
	return gdb, nil
}

func fromAppConfig(appCfg config.Config) Config {
	return Config{
		Type:            appCfg.DBType,
		Host:            appCfg.DBHost,
		Port:            appCfg.DBPort,
		Name:            appCfg.DBName,
		User:            appCfg.DBUser,
		Password:        appCfg.DBPassword,
		SSLMode:         appCfg.DBSSLMode,
		MaxIdleConn:     appCfg.DBMaxIdleConn,
		MaxOpenConn:     appCfg.DBMaxOpenConn,
		ConnMaxLifetime: appCfg.DBConnMaxLifetime,
		ConnMaxIdleTime: appCfg.DBConnMaxIdleTime,
	}
}

func provide(appCfg config.Config, log *zap.Logger) (*gorm.DB, error) {
	return Open(fromAppConfig(appCfg), log)
}

var Module = fx.Module("db",
	fx.Provide(provide),
)
