package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Document is the row shape of the SQLite-backed store: one JSON payload
// per entity, partitioned by kind.
type Document struct {
	ID        string         `gorm:"primaryKey"`
	Kind      string         `gorm:"primaryKey;index"`
	Payload   datatypes.JSON `gorm:"not null"`
	UpdatedAt time.Time      `gorm:"not null"`
}

// TableName sets the database table name.
func (Document) TableName() string { return "documents" }

// Migrate creates the documents table.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Document{})
}

type gormStore[T any] struct {
	db   *gorm.DB
	kind string
	log  *zap.Logger
}

// NewGormStore persists entities of the given kind as JSON payload rows.
// Corrupt payloads are logged and skipped on load, matching the file
// store's behavior.
func NewGormStore[T any](db *gorm.DB, kind string, log *zap.Logger) Store[T] {
	if log == nil {
		log = zap.NewNop()
	}
	return &gormStore[T]{db: db, kind: kind, log: log}
}

func (s *gormStore[T]) Save(ctx context.Context, id string, entity *T) error {
	payload, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("marshal %s/%s: %w", s.kind, id, err)
	}
	doc := Document{
		ID:        id,
		Kind:      s.kind,
		Payload:   payload,
		UpdatedAt: time.Now().UTC(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&doc).Error
}

func (s *gormStore[T]) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).
		Where("id = ? AND kind = ?", id, s.kind).
		Delete(&Document{}).Error
}

func (s *gormStore[T]) LoadAll(ctx context.Context) (map[string]*T, error) {
	var docs []Document
	if err := s.db.WithContext(ctx).Where("kind = ?", s.kind).Find(&docs).Error; err != nil {
		return nil, err
	}

	out := make(map[string]*T, len(docs))
	for _, doc := range docs {
		entity := new(T)
		if err := json.Unmarshal(doc.Payload, entity); err != nil {
			s.log.Warn("skipping corrupt document",
				zap.String("kind", s.kind),
				zap.String("id", doc.ID),
				zap.Error(err))
			continue
		}
		out[doc.ID] = entity
	}
	return out, nil
}
