// Package docstore persists one JSON document per entity, either as
// {id}.json files under a directory or as rows in a SQLite table.
package docstore

import "context"

// Store is the persistence contract shared by every metering entity.
// Implementations are synchronous; callers block on I/O.
type Store[T any] interface {
	Save(ctx context.Context, id string, entity *T) error
	Delete(ctx context.Context, id string) error
	LoadAll(ctx context.Context) (map[string]*T, error)
}

// Noop is a Store that persists nothing, for memory-only trackers.
type Noop[T any] struct{}

func (Noop[T]) Save(context.Context, string, *T) error { return nil }

func (Noop[T]) Delete(context.Context, string) error { return nil }

func (Noop[T]) LoadAll(context.Context) (map[string]*T, error) {
	return map[string]*T{}, nil
}
