// Package storage opens the optional SQLite database backing the
// document stores. With the file driver no database is opened and the
// provided *gorm.DB is nil.
package storage

import (
	"fmt"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/metering/internal/config"
	"github.com/smallbiznis/metering/pkg/docstore"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"os"
)

// Open returns the SQLite handle for the sqlite storage driver, or nil
// for the file driver.
func Open(cfg config.Config, log *zap.Logger) (*gorm.DB, error) {
	if cfg.StorageDriver != config.StorageDriverSQLite {
		return nil, nil
	}

	if dir := filepath.Dir(cfg.SQLitePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir %s: %w", dir, err)
		}
	}

	db, err := gorm.Open(sqlite.Open(cfg.SQLitePath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", cfg.SQLitePath, err)
	}
	if err := docstore.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate documents table: %w", err)
	}

	log.Info("sqlite store opened", zap.String("path", cfg.SQLitePath))
	return db, nil
}

var Module = fx.Module("storage",
	fx.Provide(Open),
)
