package funds

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, InitSchema(db))
	return db
}

func testLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	return NewRepository(setupTestDB(t), testLogger())
}

func TestUpsertAndGet(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	nav := 1.2345
	require.NoError(t, repo.Upsert(ctx, &Fund{
		Code: "005827", Name: "Growth Mixed A", Type: "mixed",
		LatestNav: &nav, NavDate: "2024-03-05",
	}))

	fund, err := repo.Get(ctx, "005827")
	require.NoError(t, err)
	assert.Equal(t, "Growth Mixed A", fund.Name)
	assert.Equal(t, "mixed", fund.Type)
	require.NotNil(t, fund.LatestNav)
	assert.Equal(t, 1.2345, *fund.LatestNav)
	assert.Equal(t, "2024-03-05", fund.NavDate)
}

func TestUpsertKeepsNavWhenRefreshHasNone(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	nav := 1.5
	require.NoError(t, repo.Upsert(ctx, &Fund{Code: "005827", Name: "Old Name", LatestNav: &nav, NavDate: "2024-03-05"}))
	require.NoError(t, repo.Upsert(ctx, &Fund{Code: "005827", Name: "New Name"}))

	fund, err := repo.Get(ctx, "005827")
	require.NoError(t, err)
	assert.Equal(t, "New Name", fund.Name)
	require.NotNil(t, fund.LatestNav)
	assert.Equal(t, 1.5, *fund.LatestNav)
	assert.Equal(t, "2024-03-05", fund.NavDate)
}

func TestGetMissingFund(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.Get(context.Background(), "999999")
	assert.Error(t, err)

	exists, err := repo.Exists(context.Background(), "999999")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestNavArchiveFirstWriteWins(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.InsertNavPoints(ctx, "005827", map[string]float64{"2024-03-05": 1.0}))
	// A second write for the same date must not change the published value.
	require.NoError(t, repo.InsertNavPoints(ctx, "005827", map[string]float64{"2024-03-05": 9.9, "2024-03-06": 1.1}))

	nav, ok, err := repo.NavOn(ctx, "005827", "2024-03-05")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1.0, nav)

	nav, ok, err = repo.NavOn(ctx, "005827", "2024-03-06")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1.1, nav)

	_, ok, err = repo.NavOn(ctx, "005827", "2024-03-07")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNavRangeAndLastDate(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.InsertNavPoints(ctx, "005827", map[string]float64{
		"2024-03-04": 1.0,
		"2024-03-05": 1.1,
		"2024-03-06": 1.2,
		"2024-03-08": 1.3,
	}))

	navs, err := repo.NavRange(ctx, "005827", "2024-03-05", "2024-03-07")
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"2024-03-05": 1.1, "2024-03-06": 1.2}, navs)

	last, err := repo.LastNavDate(ctx, "005827")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-08", last)

	last, err = repo.LastNavDate(ctx, "999999")
	require.NoError(t, err)
	assert.Equal(t, "", last)
}

func TestNavSeriesAscendingAndCapped(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.InsertNavPoints(ctx, "005827", map[string]float64{
		"2024-03-04": 1.0,
		"2024-03-05": 1.1,
		"2024-03-06": 1.2,
		"2024-03-07": 1.3,
	}))

	series, err := repo.NavSeries(ctx, "005827", 3)
	require.NoError(t, err)
	require.Len(t, series, 3)
	assert.Equal(t, "2024-03-05", series[0].Date)
	assert.Equal(t, "2024-03-07", series[2].Date)
	assert.Equal(t, 1.3, series[2].Nav)

	point, err := repo.LatestNavPoint(ctx, "005827")
	require.NoError(t, err)
	require.NotNil(t, point)
	assert.Equal(t, "2024-03-07", point.Date)

	point, err = repo.LatestNavPoint(ctx, "999999")
	require.NoError(t, err)
	assert.Nil(t, point)
}

func TestWatchlist(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Watch(ctx, "005827"))
	require.NoError(t, repo.Watch(ctx, "110011"))
	require.NoError(t, repo.Watch(ctx, "005827")) // idempotent

	codes, err := repo.Watchlist(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"005827", "110011"}, codes)

	require.NoError(t, repo.Unwatch(ctx, "005827"))
	codes, err = repo.Watchlist(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"110011"}, codes)

	assert.Error(t, repo.Unwatch(ctx, "005827"))
}

func TestEstimateLatestWriteWinsWithinDay(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	asOf := time.Date(2024, 3, 6, 10, 30, 0, 0, time.UTC)
	require.NoError(t, repo.RecordEstimate(ctx, "005827", "2024-03-06", 1.20, 0.5, asOf, "eastmoney"))
	require.NoError(t, repo.RecordEstimate(ctx, "005827", "2024-03-06", 1.25, 1.2, asOf.Add(4*time.Hour), "eastmoney"))

	estimate, ok, err := repo.EstimateOn(ctx, "005827", "2024-03-06")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1.25, estimate)

	_, ok, err = repo.EstimateOn(ctx, "005827", "2024-03-07")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAccuracyHistoryNewestFirst(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for _, p := range []AccuracyPoint{
		{Code: "005827", Date: "2024-03-05", Estimate: 1.20, Nav: 1.21, ErrorPct: -0.8264},
		{Code: "005827", Date: "2024-03-06", Estimate: 1.25, Nav: 1.24, ErrorPct: 0.8065},
	} {
		require.NoError(t, repo.UpsertAccuracy(ctx, p))
	}

	points, err := repo.AccuracyHistory(ctx, "005827", 10)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, "2024-03-06", points[0].Date)
	assert.Equal(t, "2024-03-05", points[1].Date)
}
