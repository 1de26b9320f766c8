/**
 * @description
 * PostgreSQL connection manager using GORM.
 * Handles connection pooling, schema migration and datastore selection.
 *
 * @dependencies
 * - gorm.io/gorm: ORM library
 * - gorm.io/driver/postgres: Postgres driver
 */

package db

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/swarmbet/backend/internal/config"
	"github.com/swarmbet/backend/internal/logger"
	"github.com/swarmbet/backend/internal/models"
	"github.com/swarmbet/backend/internal/repository"
	gormrepository "github.com/swarmbet/backend/internal/repository/gorm"
	"github.com/swarmbet/backend/internal/repository/memory"
)

// ConnectPostgres initializes the PostgreSQL connection
func ConnectPostgres(cfg *config.Config) (*gorm.DB, error) {
	// Configure GORM logger based on environment
	gormLogLevel := gormLogger.Error
	if cfg.Server.Env == "development" {
		gormLogLevel = gormLogger.Info
	} else if cfg.Server.Env == "staging" {
		gormLogLevel = gormLogger.Warn
	}

	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  cfg.DB.URL,
		PreferSimpleProtocol: true, // disable prepared statements to avoid stmtcache collisions behind poolers
	}), &gorm.Config{
		Logger:         gormLogger.Default.LogMode(gormLogLevel),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// Conservative pool settings for managed Postgres
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	logger.Info("✅ Connected to PostgreSQL")
	return db, nil
}

// Migrate creates or updates the engine tables.
func Migrate(db *gorm.DB) error {
	if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp"`).Error; err != nil {
		return fmt.Errorf("enable uuid-ossp: %w", err)
	}
	return db.AutoMigrate(
		&models.User{},
		&models.Poll{},
		&models.PollOption{},
		&models.Vote{},
		&models.PointsHistory{},
		&models.SweepRun{},
	)
}

// OpenStore returns the datastore selected by STORE_DRIVER.
func OpenStore(cfg *config.Config) (repository.Repository, error) {
	switch cfg.DB.Driver {
	case config.StoreDriverMemory:
		logger.Warn("⚠️ Using in-memory store, data is lost on exit")
		return memory.New(), nil
	case config.StoreDriverPostgres:
		pgDB, err := ConnectPostgres(cfg)
		if err != nil {
			return nil, err
		}
		if err := Migrate(pgDB); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return gormrepository.New(pgDB), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.DB.Driver)
	}
}
