package docstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testDoc struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

func TestFileStore_SaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore[testDoc](filepath.Join(t.TempDir(), "docs"), nil)
	require.NoError(t, err)

	require.NoError(t, store.Save(ctx, "one", &testDoc{Name: "first", Value: 1.5}))
	require.NoError(t, store.Save(ctx, "two", &testDoc{Name: "second", Value: 2.5}))
	// Overwrites replace the document.
	require.NoError(t, store.Save(ctx, "one", &testDoc{Name: "first-updated", Value: 3.0}))

	docs, err := store.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "first-updated", docs["one"].Name)
	assert.Equal(t, 2.5, docs["two"].Value)
}

func TestFileStore_DeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore[testDoc](filepath.Join(t.TempDir(), "docs"), nil)
	require.NoError(t, err)

	require.NoError(t, store.Save(ctx, "one", &testDoc{Name: "first"}))
	require.NoError(t, store.Delete(ctx, "one"))
	require.NoError(t, store.Delete(ctx, "one"))

	docs, err := store.LoadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestFileStore_LoadSkipsCorruptAndForeignFiles(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "docs")
	store, err := NewFileStore[testDoc](dir, nil)
	require.NoError(t, err)

	require.NoError(t, store.Save(ctx, "good", &testDoc{Name: "ok"}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{not json"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore me"), 0o644))

	docs, err := store.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "ok", docs["good"].Name)
}
