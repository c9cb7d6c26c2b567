package db

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"factory-safety-go/config"
	"factory-safety-go/internal/core/models"

	"github.com/glebarez/sqlite" // pure Go SQLite driver
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB is the global database connection.
var DB *gorm.DB

// Init opens the SQLite database and runs migrations.
func Init(cfg config.DBConfig) error {
	if cfg.File != "" {
		dbDir := filepath.Dir(cfg.File)
		if err := os.MkdirAll(dbDir, 0750); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	gormLogger := logger.New(
		log.StandardLogger(),
		logger.Config{
			SlowThreshold:             time.Second * 2,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	var err error
	log.Infof("Connecting to database: %s", cfg.File)
	DB, err = gorm.Open(sqlite.Open(cfg.File), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get database connection: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	log.Info("Running database migrations...")
	if err := DB.AutoMigrate(
		&models.Employee{},
		&models.VisitRecord{},
		&models.CameraEvent{},
	); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}

	log.Info("Database initialized")
	return nil
}
