package clientdata

import (
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testSchema mirrors the cache.db provider tables
const testSchema = `
CREATE TABLE eastmoney_realtime (code TEXT PRIMARY KEY, data BLOB NOT NULL, expires_at INTEGER NOT NULL);
CREATE TABLE eastmoney_history (code TEXT PRIMARY KEY, data BLOB NOT NULL, expires_at INTEGER NOT NULL);
CREATE TABLE sina_realtime (code TEXT PRIMARY KEY, data BLOB NOT NULL, expires_at INTEGER NOT NULL);

CREATE INDEX idx_eastmoney_realtime_expiry ON eastmoney_realtime(expires_at);
CREATE INDEX idx_eastmoney_history_expiry ON eastmoney_history(expires_at);
CREATE INDEX idx_sina_realtime_expiry ON sina_realtime(expires_at);
`

type testQuote struct {
	Nav      float64 `msgpack:"nav"`
	Estimate float64 `msgpack:"estimate"`
}

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)

	_, err = db.Exec(testSchema)
	require.NoError(t, err)

	return db
}

func TestStoreAndGetIfFresh(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db)

	stored := testQuote{Nav: 1.2345, Estimate: 1.2411}
	require.NoError(t, repo.Store("eastmoney_realtime", "110011", stored, time.Minute))

	var got testQuote
	found, err := repo.GetIfFresh("eastmoney_realtime", "110011", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, stored, got)
}

func TestGetIfFreshMissingKey(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db)

	var got testQuote
	found, err := repo.GetIfFresh("eastmoney_realtime", "999999", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestGetIfFreshSkipsExpired(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db)

	require.NoError(t, repo.Store("sina_realtime", "110011", testQuote{Nav: 1.0}, -time.Minute))

	var got testQuote
	found, err := repo.GetIfFresh("sina_realtime", "110011", &got)
	require.NoError(t, err)
	assert.False(t, found)

	// stale fallback still sees the row
	found, err = repo.Get("sina_realtime", "110011", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 1.0, got.Nav)
}

func TestStoreUpserts(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db)

	require.NoError(t, repo.Store("eastmoney_history", "005827", map[string]float64{"2025-01-02": 1.1}, time.Hour))
	require.NoError(t, repo.Store("eastmoney_history", "005827", map[string]float64{"2025-01-02": 1.1, "2025-01-03": 1.2}, time.Hour))

	var got map[string]float64
	found, err := repo.GetIfFresh("eastmoney_history", "005827", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Len(t, got, 2)
}

func TestDelete(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db)

	require.NoError(t, repo.Store("eastmoney_realtime", "110011", testQuote{Nav: 1.0}, time.Hour))
	require.NoError(t, repo.Delete("eastmoney_realtime", "110011"))

	var got testQuote
	found, err := repo.Get("eastmoney_realtime", "110011", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDeleteExpired(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db)

	require.NoError(t, repo.Store("eastmoney_realtime", "stale", testQuote{}, -time.Hour))
	require.NoError(t, repo.Store("eastmoney_realtime", "fresh", testQuote{}, time.Hour))

	deleted, err := repo.DeleteExpired("eastmoney_realtime")
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	var got testQuote
	found, err := repo.Get("eastmoney_realtime", "fresh", &got)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestInvalidTableRejected(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	repo := NewRepository(db)

	err := repo.Store("users; DROP TABLE sessions", "x", testQuote{}, time.Minute)
	assert.Error(t, err)

	var got testQuote
	_, err = repo.GetIfFresh("not_a_table", "x", &got)
	assert.Error(t, err)
}
