// Package repository wires document stores for usage entities according
// to the configured storage driver.
package repository

import (
	"path/filepath"

	"github.com/smallbiznis/metering/internal/config"
	"github.com/smallbiznis/metering/internal/usage/domain"
	"github.com/smallbiznis/metering/pkg/docstore"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Stores bundles the per-entity document stores the tracker persists to.
type Stores struct {
	Records docstore.Store[domain.UsageRecord]
	Limits  docstore.Store[domain.UsageLimit]
	Quotas  docstore.Store[domain.UsageQuota]
}

// NewStores builds the usage stores. The file driver lays entities out
// as storage_dir/{records,limits,quotas}/{id}.json; the sqlite driver
// keeps the same JSON documents as table rows.
func NewStores(cfg config.Config, db *gorm.DB, log *zap.Logger) (Stores, error) {
	if cfg.StorageDriver == config.StorageDriverSQLite && db != nil {
		return Stores{
			Records: docstore.NewGormStore[domain.UsageRecord](db, "record", log),
			Limits:  docstore.NewGormStore[domain.UsageLimit](db, "limit", log),
			Quotas:  docstore.NewGormStore[domain.UsageQuota](db, "quota", log),
		}, nil
	}

	records, err := docstore.NewFileStore[domain.UsageRecord](filepath.Join(cfg.StorageDir, "records"), log)
	if err != nil {
		return Stores{}, err
	}
	limits, err := docstore.NewFileStore[domain.UsageLimit](filepath.Join(cfg.StorageDir, "limits"), log)
	if err != nil {
		return Stores{}, err
	}
	quotas, err := docstore.NewFileStore[domain.UsageQuota](filepath.Join(cfg.StorageDir, "quotas"), log)
	if err != nil {
		return Stores{}, err
	}
	return Stores{Records: records, Limits: limits, Quotas: quotas}, nil
}

// MemoryStores returns no-op stores for memory-only trackers.
func MemoryStores() Stores {
	return Stores{
		Records: docstore.Noop[domain.UsageRecord]{},
		Limits:  docstore.Noop[domain.UsageLimit]{},
		Quotas:  docstore.Noop[domain.UsageQuota]{},
	}
}
