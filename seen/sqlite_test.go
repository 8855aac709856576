package seen

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "seen.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, s.Close())
	})
	return s
}

func TestSQLiteIsNewAndMarkSeen(t *testing.T) {
	ctx := context.Background()
	s := openTestDB(t)

	isNew, err := s.IsNew(ctx, "store", "acme", "111")
	require.NoError(t, err)
	assert.True(t, isNew)

	require.NoError(t, s.MarkSeen(ctx, "store", "acme", []string{"111", "222"}))

	isNew, err = s.IsNew(ctx, "store", "acme", "111")
	require.NoError(t, err)
	assert.False(t, isNew)

	isNew, err = s.IsNew(ctx, "search", "acme", "111")
	require.NoError(t, err)
	assert.True(t, isNew, "keys are scoped by target kind")
}

func TestSQLiteMarkSeenIdempotent(t *testing.T) {
	ctx := context.Background()
	s := openTestDB(t)

	require.NoError(t, s.MarkSeen(ctx, "store", "acme", []string{"1", "2"}))
	require.NoError(t, s.MarkSeen(ctx, "store", "acme", []string{"1", "2"}))

	var count int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM seen_items`).Scan(&count))
	assert.Equal(t, 2, count, "INSERT OR IGNORE must not duplicate rows")
}

func TestSQLiteIsFirstScan(t *testing.T) {
	ctx := context.Background()
	s := openTestDB(t)

	firstScan, err := s.IsFirstScan(ctx, "store", "acme")
	require.NoError(t, err)
	assert.True(t, firstScan)

	require.NoError(t, s.MarkSeen(ctx, "store", "acme", []string{"1"}))

	firstScan, err = s.IsFirstScan(ctx, "store", "acme")
	require.NoError(t, err)
	assert.False(t, firstScan)
}

func TestSQLiteEvictOlderThan(t *testing.T) {
	ctx := context.Background()
	s := openTestDB(t)

	oldID := fmt.Sprintf("item-%d", time.Now().Add(-72*time.Hour).UnixMilli())
	recentID := fmt.Sprintf("item-%d", time.Now().Add(-1*time.Hour).UnixMilli())

	require.NoError(t, s.MarkSeen(ctx, "store", "acme", []string{oldID, recentID, "plain"}))
	require.NoError(t, s.EvictOlderThan(ctx, 48*time.Hour))

	isNew, err := s.IsNew(ctx, "store", "acme", oldID)
	require.NoError(t, err)
	assert.True(t, isNew)

	for _, kept := range []string{recentID, "plain"} {
		isNew, err := s.IsNew(ctx, "store", "acme", kept)
		require.NoError(t, err)
		assert.False(t, isNew, "identifier %q must be kept", kept)
	}
}
