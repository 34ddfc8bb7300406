package database

import (
	"fmt"
	"strings"
	"time"

	"keychat_go_backend/internal/models"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitDB opens the store named by dsn and migrates the schema. Postgres URLs
// and key=value DSNs go to the postgres driver, anything else is treated as a
// sqlite path.
func InitDB(dsn string) (*gorm.DB, error) {
	gormLog := log.With().Str("component", "gorm").Logger()
	gormConfig := &gorm.Config{
		TranslateError: true,
		Logger: logger.New(&gormLog, logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	}

	db, err := gorm.Open(dialectorFor(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	if err := SeedSystemConfig(db); err != nil {
		return nil, err
	}
	return db, nil
}

func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(&models.User{}, &models.Conversation{}, &models.Message{}, &models.UsageRecord{}, &models.Completion{}, &models.SystemConfig{})
	if err != nil {
		return fmt.Errorf("failed to auto migrate: %w", err)
	}
	return nil
}

// SeedSystemConfig inserts the default settings whose key is not present yet.
// Existing rows keep their values.
func SeedSystemConfig(db *gorm.DB) error {
	for _, cfg := range models.DefaultSystemConfigs() {
		row := cfg
		if err := db.Where(models.SystemConfig{Key: cfg.Key}).Attrs(cfg).FirstOrCreate(&row).Error; err != nil {
			return fmt.Errorf("failed to seed system config %q: %w", cfg.Key, err)
		}
	}
	return nil
}

func dialectorFor(dsn string) gorm.Dialector {
	if isPostgresDSN(dsn) {
		return postgres.Open(dsn)
	}
	return sqlite.Open(dsn)
}

func isPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") ||
		strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=")
}
