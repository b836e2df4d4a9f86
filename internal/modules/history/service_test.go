package history

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/fundfolio/internal/domain"
	"github.com/aristath/fundfolio/internal/modules/funds"
	"github.com/aristath/fundfolio/internal/modules/ledger"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOps struct {
	byAccount map[int64][]ledger.Operation
}

func (f *fakeOps) ListForReplay(_ context.Context, accountID int64, end string) ([]ledger.Operation, error) {
	var ops []ledger.Operation
	for _, op := range f.byAccount[accountID] {
		if op.OperationDate <= end {
			ops = append(ops, op)
		}
	}
	return ops, nil
}

type fakeDirectory struct {
	leaves map[int64]*int64 // leaf account id -> owner
}

func (d *fakeDirectory) Resolve(_ context.Context, id int64) (*int64, bool, error) {
	owner, ok := d.leaves[id]
	if !ok {
		return nil, false, domain.ErrNotFound
	}
	return owner, true, nil
}

func (d *fakeDirectory) IDs(_ context.Context, scope domain.TenantScope) ([]int64, error) {
	var ids []int64
	for id, owner := range d.leaves {
		if scope.Owns(owner) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (d *fakeDirectory) ChildIDs(_ context.Context, _ int64) ([]int64, error) {
	return nil, nil
}

type fakeNavArchive struct {
	navs   map[string]map[string]float64
	latest map[string]float64
}

func (f *fakeNavArchive) NavRange(_ context.Context, code, start, end string) (map[string]float64, error) {
	out := make(map[string]float64)
	for date, nav := range f.navs[code] {
		if date >= start && date <= end {
			out[date] = nav
		}
	}
	return out, nil
}

func (f *fakeNavArchive) LatestNav(_ context.Context, code string) (*funds.NavPoint, error) {
	nav, ok := f.latest[code]
	if !ok {
		return nil, nil
	}
	return &funds.NavPoint{Date: "2024-03-05", Nav: nav}, nil
}

func daysAgo(n int) string {
	return domain.FormatDate(time.Now().AddDate(0, 0, -n))
}

func newHistoryService(ops *fakeOps, navs *fakeNavArchive) (*Service, *fakeDirectory) {
	dir := &fakeDirectory{leaves: map[int64]*int64{1: nil}}
	log := zerolog.New(nil).Level(zerolog.Disabled)
	return NewService(ops, dir, navs, nil, 365, log), dir
}

func TestHistoryRisingNavSeries(t *testing.T) {
	// One buy ten days ago, NAV published daily and rising. A 15-day
	// window yields 16 rows: zeros before the purchase, constant cost and
	// rising value after it.
	navs := &fakeNavArchive{navs: map[string]map[string]float64{"005827": {}}}
	for i := 15; i >= 0; i-- {
		navs.navs["005827"][daysAgo(i)] = 1.0 + float64(15-i)*0.01
	}
	buyNav := navs.navs["005827"][daysAgo(10)]
	shares := ledger.BuyShares(1000, buyNav)
	ops := &fakeOps{byAccount: map[int64][]ledger.Operation{
		1: {{
			ID: 1, AccountID: 1, Code: "005827", Kind: ledger.KindBuy,
			Value: 1000, OperationDate: daysAgo(10), ConfirmNav: &buyNav,
			SharesDelta: shares,
		}},
	}}
	svc, _ := newHistoryService(ops, navs)

	series, err := svc.History(context.Background(), domain.GlobalScope(), 1, 15)
	require.NoError(t, err)
	require.Len(t, series, 16)

	assert.Equal(t, daysAgo(15), series[0].Date)
	assert.Equal(t, daysAgo(0), series[15].Date)

	for i := 0; i < 5; i++ {
		assert.Zero(t, series[i].Value, "pre-purchase days carry no value")
		assert.Zero(t, series[i].Cost)
	}
	wantCost := domain.Round2(buyNav * shares)
	for i := 5; i < 16; i++ {
		assert.InDelta(t, wantCost, series[i].Cost, 0.01, "cost basis stays flat without trades")
		assert.InDelta(t, shares*navs.navs["005827"][series[i].Date], series[i].Value, 0.01)
	}
	assert.Greater(t, series[15].Value, series[6].Value, "value follows the rising NAV")
}

func TestHistoryMissingNavDayContributesZero(t *testing.T) {
	nav := 2.0
	ops := &fakeOps{byAccount: map[int64][]ledger.Operation{
		1: {{
			ID: 1, AccountID: 1, Code: "005827", Kind: ledger.KindBuy,
			Value: 1000, OperationDate: daysAgo(3), ConfirmNav: &nav,
			SharesDelta: 500,
		}},
	}}
	navs := &fakeNavArchive{navs: map[string]map[string]float64{
		// NAV known for the buy date and today, absent in between
		"005827": {daysAgo(3): 2.0, daysAgo(0): 2.2},
	}}
	svc, _ := newHistoryService(ops, navs)

	series, err := svc.History(context.Background(), domain.GlobalScope(), 1, 3)
	require.NoError(t, err)
	require.Len(t, series, 4)

	assert.Equal(t, 1000.0, series[0].Value)
	assert.Zero(t, series[1].Value, "NAV gaps contribute nothing, they are never forward-filled")
	assert.Zero(t, series[1].Cost)
	assert.Equal(t, 1100.0, series[3].Value)
}

func TestHistoryFlatFallbackWithoutArchive(t *testing.T) {
	nav := 1.5
	ops := &fakeOps{byAccount: map[int64][]ledger.Operation{
		1: {{
			ID: 1, AccountID: 1, Code: "005827", Kind: ledger.KindBuy,
			Value: 1500, OperationDate: daysAgo(1), ConfirmNav: &nav,
			SharesDelta: 1000,
		}},
	}}
	navs := &fakeNavArchive{
		navs:   map[string]map[string]float64{},
		latest: map[string]float64{"005827": 1.5},
	}
	svc, _ := newHistoryService(ops, navs)

	series, err := svc.History(context.Background(), domain.GlobalScope(), 1, 2)
	require.NoError(t, err)
	require.Len(t, series, 3)
	assert.Zero(t, series[0].Value)
	assert.Equal(t, 1500.0, series[1].Value, "latest NAV applied flat when the archive is empty")
	assert.Equal(t, 1500.0, series[2].Value)
}

func TestHistoryEmptyAccountAllZeroRows(t *testing.T) {
	svc, _ := newHistoryService(
		&fakeOps{byAccount: map[int64][]ledger.Operation{}},
		&fakeNavArchive{},
	)

	series, err := svc.History(context.Background(), domain.GlobalScope(), 1, 7)
	require.NoError(t, err)
	require.Len(t, series, 8, "the row-per-day guarantee holds for empty accounts")
	for _, row := range series {
		assert.Zero(t, row.Value)
		assert.Zero(t, row.Cost)
	}
}

func TestHistoryScopedOwnership(t *testing.T) {
	svc, dir := newHistoryService(
		&fakeOps{byAccount: map[int64][]ledger.Operation{}},
		&fakeNavArchive{},
	)
	owner := int64(7)
	dir.leaves[2] = &owner

	_, err := svc.History(context.Background(), domain.ScopeForUser(8), 2, 7)
	assert.ErrorIs(t, err, domain.ErrOwnership)

	_, err = svc.History(context.Background(), domain.GlobalScope(), 99, 7)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAggregateHistoryMergesAccounts(t *testing.T) {
	nav := 1.0
	ops := &fakeOps{byAccount: map[int64][]ledger.Operation{
		1: {{ID: 1, AccountID: 1, Code: "005827", Kind: ledger.KindBuy,
			Value: 100, OperationDate: daysAgo(1), ConfirmNav: &nav, SharesDelta: 100}},
		2: {{ID: 2, AccountID: 2, Code: "005827", Kind: ledger.KindBuy,
			Value: 300, OperationDate: daysAgo(1), ConfirmNav: &nav, SharesDelta: 300}},
	}}
	navs := &fakeNavArchive{navs: map[string]map[string]float64{
		"005827": {daysAgo(1): 1.0, daysAgo(0): 1.0},
	}}
	svc, dir := newHistoryService(ops, navs)
	dir.leaves[2] = nil

	series, err := svc.AggregateHistory(context.Background(), domain.GlobalScope(), 1)
	require.NoError(t, err)
	require.Len(t, series, 2)
	assert.Equal(t, 400.0, series[0].Value)
	assert.Equal(t, 400.0, series[1].Value)
}

func TestHistoryClampsWindow(t *testing.T) {
	svc, _ := newHistoryService(
		&fakeOps{byAccount: map[int64][]ledger.Operation{}},
		&fakeNavArchive{},
	)
	svc.maxDays = 10

	series, err := svc.History(context.Background(), domain.GlobalScope(), 1, 500)
	require.NoError(t, err)
	assert.Len(t, series, 11)
}
