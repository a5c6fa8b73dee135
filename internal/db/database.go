package db

import (
	"fmt"
	stlog "log"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open connects to the database at the given DSN and returns the handle.
func Open(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}

	// Keep GORM quiet unless the service itself runs at debug level.
	gormLogLevel := gormlogger.Warn
	if log.Logger.GetLevel() <= zerolog.DebugLevel {
		gormLogLevel = gormlogger.Info
	}

	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.New(
			stlog.New(log.Logger, "", 0),
			gormlogger.Config{
				LogLevel:                  gormLogLevel,
				IgnoreRecordNotFoundError: true,
			},
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Info().Msg("Database connection established")
	return gdb, nil
}

// Migrate runs AutoMigrate for the given models.
func Migrate(gdb *gorm.DB, modelsToMigrate ...interface{}) error {
	if gdb == nil {
		return fmt.Errorf("database not initialized")
	}
	if err := gdb.AutoMigrate(modelsToMigrate...); err != nil {
		return fmt.Errorf("failed to auto-migrate database: %w", err)
	}
	log.Info().Int("models", len(modelsToMigrate)).Msg("Database migration completed")
	return nil
}
