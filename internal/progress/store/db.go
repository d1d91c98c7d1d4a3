package store

import (
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/yungbote/studysync/internal/pkg/logger"
)

// Open connects to dsn, picking postgres for URL or key=value DSNs and sqlite
// (file path or "file:" URI) otherwise, then migrates the progress tables.
func Open(dsn string, log *logger.Logger) (*gorm.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("store dsn required")
	}
	cfg := &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLogger.Default.LogMode(gormLogger.Silent),
	}

	var dialector gorm.Dialector
	driver := "sqlite"
	if isPostgresDSN(dsn) {
		driver = "postgres"
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}

	log.Info("Opening progress store...", "driver", driver)
	db, err := gorm.Open(dialector, cfg)
	if err != nil {
		log.Error("Failed to open progress store", "driver", driver, "error", err)
		return nil, fmt.Errorf("open %s store: %w", driver, err)
	}
	if err := AutoMigrate(db); err != nil {
		log.Error("Progress store migration failed", "error", err)
		return nil, fmt.Errorf("migrate progress store: %w", err)
	}
	return db, nil
}

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&QuestionProgress{},
		&CardProgress{},
	)
}

func isPostgresDSN(dsn string) bool {
	lower := strings.ToLower(dsn)
	return strings.HasPrefix(lower, "postgres://") ||
		strings.HasPrefix(lower, "postgresql://") ||
		strings.Contains(lower, "host=")
}
