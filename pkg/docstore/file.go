package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

type fileStore[T any] struct {
	dir string
	log *zap.Logger
}

// NewFileStore persists entities as {id}.json under dir, creating it if
// needed. Corrupt files are logged and skipped on load, never fatal.
func NewFileStore[T any](dir string, log *zap.Logger) (Store[T], error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir %s: %w", dir, err)
	}
	return &fileStore[T]{dir: dir, log: log}, nil
}

func (s *fileStore[T]) Save(_ context.Context, id string, entity *T) error {
	data, err := json.MarshalIndent(entity, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", id, err)
	}
	return os.WriteFile(s.path(id), data, 0o644)
}

func (s *fileStore[T]) Delete(_ context.Context, id string) error {
	err := os.Remove(s.path(id))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *fileStore[T]) LoadAll(_ context.Context) (map[string]*T, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read store dir %s: %w", s.dir, err)
	}

	out := make(map[string]*T, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			s.log.Warn("skipping unreadable document", zap.String("path", path), zap.Error(err))
			continue
		}
		entity := new(T)
		if err := json.Unmarshal(data, entity); err != nil {
			s.log.Warn("skipping corrupt document", zap.String("path", path), zap.Error(err))
			continue
		}
		out[strings.TrimSuffix(entry.Name(), ".json")] = entity
	}
	return out, nil
}

func (s *fileStore[T]) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}
