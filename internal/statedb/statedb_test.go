package statedb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *StateDB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "usage.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })
	return db
}

func TestUpsertAndRead(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.UpsertDailyUsage("2026-08-06", "claude", 1.23, 45000))
	require.NoError(t, db.UpsertDailyUsage("2026-08-06", "gemini", 0.10, 2000))

	rows, err := db.RecentUsage(7)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "claude", rows[0].Provider)
	assert.InDelta(t, 1.23, rows[0].Cost, 1e-9)
	assert.Equal(t, uint64(45000), rows[0].Tokens)
}

func TestUpsertReplacesTotals(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.UpsertDailyUsage("2026-08-06", "claude", 1.0, 100))
	require.NoError(t, db.UpsertDailyUsage("2026-08-06", "claude", 2.5, 300))

	rows, err := db.RecentUsage(7)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.InDelta(t, 2.5, rows[0].Cost, 1e-9)
	assert.Equal(t, uint64(300), rows[0].Tokens)
}

func TestRecentUsageNewestFirst(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.UpsertDailyUsage("2026-08-05", "claude", 1.0, 1))
	require.NoError(t, db.UpsertDailyUsage("2026-08-06", "claude", 2.0, 2))

	rows, err := db.RecentUsage(7)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "2026-08-06", rows[0].Date)
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	assert.NoError(t, db.Migrate())
}
