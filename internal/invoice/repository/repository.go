// Package repository wires the invoice document store according to the
// configured storage driver.
package repository

import (
	"path/filepath"

	"github.com/smallbiznis/metering/internal/config"
	"github.com/smallbiznis/metering/internal/invoice/domain"
	"github.com/smallbiznis/metering/pkg/docstore"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Stores bundles the persistence backend for invoices.
type Stores struct {
	Invoices docstore.Store[domain.Invoice]
}

// NewStores builds the invoice store: one JSON file per invoice under
// storage_dir/invoices with the file driver, JSON rows with sqlite.
func NewStores(cfg config.Config, db *gorm.DB, log *zap.Logger) (Stores, error) {
	if cfg.StorageDriver == config.StorageDriverSQLite && db != nil {
		return Stores{
			Invoices: docstore.NewGormStore[domain.Invoice](db, "invoice", log),
		}, nil
	}
	invoices, err := docstore.NewFileStore[domain.Invoice](filepath.Join(cfg.StorageDir, "invoices"), log)
	if err != nil {
		return Stores{}, err
	}
	return Stores{Invoices: invoices}, nil
}

// MemoryStores returns a no-op store for memory-only managers.
func MemoryStores() Stores {
	return Stores{Invoices: docstore.Noop[domain.Invoice]{}}
}
