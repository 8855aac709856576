package storage

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestLocalSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	store := New(nil, "", dir, testLogger())

	require.NoError(t, store.Save(context.Background(), "config.json", []byte(`{"a": 1}`)))

	data, err := store.Load(context.Background(), "config.json")
	require.NoError(t, err)
	assert.Equal(t, `{"a": 1}`, string(data))
}

func TestLocalSaveReplacesExisting(t *testing.T) {
	dir := t.TempDir()
	store := New(nil, "", dir, testLogger())

	require.NoError(t, store.Save(context.Background(), "seen.json", []byte("old")))
	require.NoError(t, store.Save(context.Background(), "seen.json", []byte("new")))

	data, err := store.Load(context.Background(), "seen.json")
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))

	// The temp file from the atomic replace must not linger.
	_, err = os.Stat(filepath.Join(dir, "seen.json.tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestLocalLoadMissing(t *testing.T) {
	store := New(nil, "", t.TempDir(), testLogger())

	_, err := store.Load(context.Background(), "never-written.json")
	require.ErrorIs(t, err, ErrNotExist)
}
