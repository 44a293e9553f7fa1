package config

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"dynamic-table/internal/model"
)

// Dialector returns the gorm dialector for the configured metadata database.
func Dialector(cfg DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "postgres":
		dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Database, cfg.SSL)
		return postgres.Open(dsn), nil
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database)
		return mysql.Open(dsn), nil
	case "sqlite":
		return sqlite.Open(cfg.Path), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// InitDatabase opens the metadata database and migrates its tables.
func InitDatabase(cfg *Config, log *logrus.Logger) (*gorm.DB, error) {
	dialector, err := Dialector(cfg.Database)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormLogger(cfg.Logging.Level, log),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	log.WithField("driver", cfg.Database.Driver).Info("metadata database connection established")
	return db, nil
}

// Migrate creates or updates the metadata tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&model.TableDefinition{}, &model.SchemaLog{}, &model.Notification{}); err != nil {
		return fmt.Errorf("failed to migrate metadata tables: %w", err)
	}
	return nil
}

func gormLogger(level string, log *logrus.Logger) logger.Interface {
	var lvl logger.LogLevel
	switch level {
	case "debug":
		lvl = logger.Info
	case "info":
		lvl = logger.Warn
	case "warn":
		lvl = logger.Error
	case "error":
		lvl = logger.Silent
	default:
		lvl = logger.Warn
	}
	return logger.New(log.WithField("component", "gorm"), logger.Config{
		SlowThreshold:             time.Second,
		LogLevel:                  lvl,
		IgnoreRecordNotFoundError: true,
	})
}
