package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"testing"

	"github.com/aristath/fundfolio/internal/domain"
	"github.com/aristath/fundfolio/internal/modules/market_hours"
	_ "modernc.org/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAccount struct {
	owner    *int64
	children []int64
}

type fakeDirectory struct {
	accounts map[int64]fakeAccount
}

func (d *fakeDirectory) Resolve(_ context.Context, id int64) (*int64, bool, error) {
	a, ok := d.accounts[id]
	if !ok {
		return nil, false, domain.ErrNotFound
	}
	return a.owner, len(a.children) == 0, nil
}

func (d *fakeDirectory) IDs(_ context.Context, scope domain.TenantScope) ([]int64, error) {
	var ids []int64
	for id, a := range d.accounts {
		if len(a.children) > 0 {
			continue
		}
		userID, tenant := scope.UserID()
		if !tenant && a.owner == nil {
			ids = append(ids, id)
		}
		if tenant && a.owner != nil && *a.owner == userID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (d *fakeDirectory) ChildIDs(_ context.Context, parentID int64) ([]int64, error) {
	return d.accounts[parentID].children, nil
}

type fakeNavSource struct {
	navs        map[string]map[string]float64
	known       map[string]bool // nil means every code exists
	unavailable bool
}

func (f *fakeNavSource) EnsureTracked(_ context.Context, code string) error {
	if f.known != nil && !f.known[code] {
		return fmt.Errorf("fund %s: %w", code, domain.ErrNotFound)
	}
	return nil
}

func (f *fakeNavSource) NavOn(_ context.Context, code, date string) (float64, bool, error) {
	if f.unavailable {
		return 0, false, nil
	}
	nav, ok := f.navs[code][date]
	return nav, ok, nil
}

func (f *fakeNavSource) set(code, date string, nav float64) {
	if f.navs[code] == nil {
		f.navs[code] = make(map[string]float64)
	}
	f.navs[code][date] = nav
}

func newLedgerService(t *testing.T) (*Service, *fakeNavSource, *fakeDirectory, *sql.DB) {
	t.Helper()
	db := setupTestDB(t)
	log := testLogger()
	dir := &fakeDirectory{accounts: map[int64]fakeAccount{1: {}}}
	navs := &fakeNavSource{navs: make(map[string]map[string]float64)}
	resolver := market_hours.NewResolver(market_hours.NewCalendar(), 15, 0)
	svc := NewService(
		db,
		NewOperationRepository(db, log),
		NewPositionRepository(db, log),
		dir, navs, resolver, log,
	)
	return svc, navs, dir, db
}

// March 2024 has no market closures, so before-cutoff trades on a weekday
// confirm against the previous weekday.

func TestApplyBuyConfirmed(t *testing.T) {
	svc, navs, _, _ := newLedgerService(t)
	ctx := context.Background()
	navs.set("005827", "2024-03-05", 1.0)

	result, err := svc.Apply(ctx, domain.GlobalScope(), ApplyInput{
		AccountID: 1,
		Code:      "005827",
		Kind:      KindBuy,
		Value:     1000,
		TradeTime: tradeAt("2024-03-06", 14),
	})
	require.NoError(t, err)

	assert.Equal(t, StatusConfirmed, result.Status)
	assert.Equal(t, "2024-03-05", result.ConfirmDate)
	require.NotNil(t, result.Nav)
	assert.Equal(t, 1.0, *result.Nav)
	assert.Equal(t, 1000.0, *result.SharesAfter)
	assert.Equal(t, 1.0, *result.CostAfter)

	pos, err := svc.GetPosition(ctx, domain.GlobalScope(), 1, "005827")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, 1000.0, pos.Shares)
	assert.Equal(t, 1.0, pos.Cost)
}

func TestApplySecondBuyPoolsCost(t *testing.T) {
	svc, navs, _, _ := newLedgerService(t)
	ctx := context.Background()
	navs.set("005827", "2024-03-05", 1.0)
	navs.set("005827", "2024-03-06", 1.2)

	_, err := svc.Apply(ctx, domain.GlobalScope(), ApplyInput{
		AccountID: 1, Code: "005827", Kind: KindBuy, Value: 1000,
		TradeTime: tradeAt("2024-03-06", 14),
	})
	require.NoError(t, err)
	result, err := svc.Apply(ctx, domain.GlobalScope(), ApplyInput{
		AccountID: 1, Code: "005827", Kind: KindBuy, Value: 1200,
		TradeTime: tradeAt("2024-03-07", 14),
	})
	require.NoError(t, err)

	assert.Equal(t, 2000.0, *result.SharesAfter)
	assert.Equal(t, 1.1, *result.CostAfter)
}

func TestApplySellKeepsUnitCost(t *testing.T) {
	svc, navs, _, _ := newLedgerService(t)
	ctx := context.Background()
	navs.set("005827", "2024-03-05", 10.0)
	navs.set("005827", "2024-03-06", 12.0)

	_, err := svc.Apply(ctx, domain.GlobalScope(), ApplyInput{
		AccountID: 1, Code: "005827", Kind: KindBuy, Value: 2000,
		TradeTime: tradeAt("2024-03-06", 14),
	})
	require.NoError(t, err)

	result, err := svc.Apply(ctx, domain.GlobalScope(), ApplyInput{
		AccountID: 1, Code: "005827", Kind: KindSell, Value: 50,
		TradeTime: tradeAt("2024-03-07", 14),
	})
	require.NoError(t, err)

	assert.Equal(t, StatusConfirmed, result.Status)
	assert.Equal(t, 150.0, *result.SharesAfter)
	assert.Equal(t, 10.0, *result.CostAfter, "selling never reprices the remaining shares")
	require.NotNil(t, result.Proceeds)
	assert.Equal(t, 600.0, *result.Proceeds)
}

func TestApplySellEverythingRemovesPosition(t *testing.T) {
	svc, navs, _, _ := newLedgerService(t)
	ctx := context.Background()
	navs.set("005827", "2024-03-05", 10.0)
	navs.set("005827", "2024-03-06", 12.0)

	_, err := svc.Apply(ctx, domain.GlobalScope(), ApplyInput{
		AccountID: 1, Code: "005827", Kind: KindBuy, Value: 1000,
		TradeTime: tradeAt("2024-03-06", 14),
	})
	require.NoError(t, err)

	result, err := svc.Apply(ctx, domain.GlobalScope(), ApplyInput{
		AccountID: 1, Code: "005827", Kind: KindSell, Value: 100,
		TradeTime: tradeAt("2024-03-07", 14),
	})
	require.NoError(t, err)
	assert.Equal(t, 0.0, *result.SharesAfter)
	assert.Equal(t, 0.0, *result.CostAfter)

	pos, err := svc.GetPosition(ctx, domain.GlobalScope(), 1, "005827")
	require.NoError(t, err)
	assert.Nil(t, pos, "cleared positions leave no row behind")
}

func TestApplyValidation(t *testing.T) {
	svc, navs, dir, _ := newLedgerService(t)
	ctx := context.Background()
	scope := domain.GlobalScope()
	navs.set("005827", "2024-03-05", 1.0)

	tests := []struct {
		name    string
		input   ApplyInput
		wantErr error
	}{
		{
			name:    "unknown kind",
			input:   ApplyInput{AccountID: 1, Code: "005827", Kind: "transfer", Value: 100},
			wantErr: domain.ErrValidation,
		},
		{
			name:    "missing code",
			input:   ApplyInput{AccountID: 1, Kind: KindBuy, Value: 100},
			wantErr: domain.ErrValidation,
		},
		{
			name:    "zero buy amount",
			input:   ApplyInput{AccountID: 1, Code: "005827", Kind: KindBuy, Value: 0},
			wantErr: domain.ErrInvalidAmount,
		},
		{
			name:    "negative sell quantity",
			input:   ApplyInput{AccountID: 1, Code: "005827", Kind: KindSell, Value: -5},
			wantErr: domain.ErrInvalidQuantity,
		},
		{
			name:    "sell without holding",
			input:   ApplyInput{AccountID: 1, Code: "005827", Kind: KindSell, Value: 5, TradeTime: tradeAt("2024-03-06", 14)},
			wantErr: domain.ErrNoPosition,
		},
		{
			name:    "unknown account",
			input:   ApplyInput{AccountID: 42, Code: "005827", Kind: KindBuy, Value: 100},
			wantErr: domain.ErrNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Apply(ctx, scope, tt.input)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	// Parent accounts cannot hold operations
	dir.accounts[10] = fakeAccount{children: []int64{11}}
	dir.accounts[11] = fakeAccount{}
	_, err := svc.Apply(ctx, scope, ApplyInput{AccountID: 10, Code: "005827", Kind: KindBuy, Value: 100})
	assert.ErrorIs(t, err, domain.ErrAggregateAccount)
}

func TestApplyOverSellRejectedWithoutMutation(t *testing.T) {
	svc, navs, _, _ := newLedgerService(t)
	ctx := context.Background()
	navs.set("005827", "2024-03-05", 10.0)
	navs.set("005827", "2024-03-06", 12.0)

	_, err := svc.Apply(ctx, domain.GlobalScope(), ApplyInput{
		AccountID: 1, Code: "005827", Kind: KindBuy, Value: 1000,
		TradeTime: tradeAt("2024-03-06", 14),
	})
	require.NoError(t, err)

	_, err = svc.Apply(ctx, domain.GlobalScope(), ApplyInput{
		AccountID: 1, Code: "005827", Kind: KindSell, Value: 100.0001,
		TradeTime: tradeAt("2024-03-07", 14),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

	pos, err := svc.GetPosition(ctx, domain.GlobalScope(), 1, "005827")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, 100.0, pos.Shares)
	assert.Equal(t, 10.0, pos.Cost)
}

func TestApplyUnknownInstrument(t *testing.T) {
	svc, navs, _, _ := newLedgerService(t)
	navs.known = map[string]bool{"005827": true}

	_, err := svc.Apply(context.Background(), domain.GlobalScope(), ApplyInput{
		AccountID: 1, Code: "999999", Kind: KindBuy, Value: 100,
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestApplyForeignAccountHidden(t *testing.T) {
	svc, navs, dir, _ := newLedgerService(t)
	owner := int64(7)
	dir.accounts[2] = fakeAccount{owner: &owner}
	navs.set("005827", "2024-03-05", 1.0)

	_, err := svc.Apply(context.Background(), domain.ScopeForUser(8), ApplyInput{
		AccountID: 2, Code: "005827", Kind: KindBuy, Value: 100,
		TradeTime: tradeAt("2024-03-06", 14),
	})
	assert.ErrorIs(t, err, domain.ErrOwnership)
}

func TestApplyPendingRoundTrip(t *testing.T) {
	// NAV not yet published: the operation is recorded pending, the
	// position untouched. Once the NAV appears a sweep applies it exactly
	// once; further sweeps find nothing to do.
	svc, navs, _, _ := newLedgerService(t)
	ctx := context.Background()
	scope := domain.GlobalScope()

	result, err := svc.Apply(ctx, scope, ApplyInput{
		AccountID: 1, Code: "005827", Kind: KindBuy, Value: 1000,
		TradeTime: tradeAt("2024-03-06", 14),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, result.Status)
	assert.Equal(t, "2024-03-05", result.ConfirmDate)
	assert.Nil(t, result.Nav)

	pos, err := svc.GetPosition(ctx, scope, 1, "005827")
	require.NoError(t, err)
	assert.Nil(t, pos, "pending operations must not move positions")

	// Still unpublished: sweep is a no-op
	applied, err := svc.SweepPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, applied)

	navs.set("005827", "2024-03-05", 1.25)
	applied, err = svc.SweepPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	pos, err = svc.GetPosition(ctx, scope, 1, "005827")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, 800.0, pos.Shares)
	assert.Equal(t, 1.25, pos.Cost)

	// Exactly once
	applied, err = svc.SweepPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, applied)
	pos, err = svc.GetPosition(ctx, scope, 1, "005827")
	require.NoError(t, err)
	assert.Equal(t, 800.0, pos.Shares)
}

func TestProviderOutageGoesPending(t *testing.T) {
	svc, navs, _, _ := newLedgerService(t)
	navs.set("005827", "2024-03-05", 1.0)
	navs.unavailable = true

	result, err := svc.Apply(context.Background(), domain.GlobalScope(), ApplyInput{
		AccountID: 1, Code: "005827", Kind: KindBuy, Value: 1000,
		TradeTime: tradeAt("2024-03-06", 14),
	})
	require.NoError(t, err, "a provider outage is not a request failure")
	assert.Equal(t, StatusPending, result.Status)
}

func TestSweepPricesAgainstCurrentPosition(t *testing.T) {
	// A pending buy settles against the position as it stands at sweep
	// time, including operations applied while it waited.
	svc, navs, _, _ := newLedgerService(t)
	ctx := context.Background()
	scope := domain.GlobalScope()

	// Goes pending: NAV for 2024-03-05 unknown
	_, err := svc.Apply(ctx, scope, ApplyInput{
		AccountID: 1, Code: "005827", Kind: KindBuy, Value: 1000,
		TradeTime: tradeAt("2024-03-06", 14),
	})
	require.NoError(t, err)

	// Confirms immediately: NAV for 2024-03-06 known
	navs.set("005827", "2024-03-06", 2.0)
	_, err = svc.Apply(ctx, scope, ApplyInput{
		AccountID: 1, Code: "005827", Kind: KindBuy, Value: 1000,
		TradeTime: tradeAt("2024-03-07", 14),
	})
	require.NoError(t, err)

	navs.set("005827", "2024-03-05", 1.0)
	applied, err := svc.SweepPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	pos, err := svc.GetPosition(ctx, scope, 1, "005827")
	require.NoError(t, err)
	require.NotNil(t, pos)
	// 500 shares at 2.0 already held, then 1000 shares at 1.0 pooled in
	assert.Equal(t, 1500.0, pos.Shares)
	assert.InDelta(t, (500*2.0+1000*1.0)/1500, pos.Cost, 0.0001)
}

func TestVerifyConsistencyCleanAfterApplies(t *testing.T) {
	// The incremental path and a full replay share the fold math, so a
	// freshly applied ledger never drifts.
	svc, navs, _, _ := newLedgerService(t)
	ctx := context.Background()
	scope := domain.GlobalScope()
	navs.set("005827", "2024-03-05", 1.1234)
	navs.set("005827", "2024-03-06", 1.2345)
	navs.set("110011", "2024-03-06", 4.5678)

	mustApply(t, svc, ApplyInput{AccountID: 1, Code: "005827", Kind: KindBuy, Value: 1000, TradeTime: tradeAt("2024-03-06", 14)})
	mustApply(t, svc, ApplyInput{AccountID: 1, Code: "005827", Kind: KindBuy, Value: 777.77, TradeTime: tradeAt("2024-03-07", 14)})
	mustApply(t, svc, ApplyInput{AccountID: 1, Code: "110011", Kind: KindBuy, Value: 500, TradeTime: tradeAt("2024-03-07", 14)})
	mustApply(t, svc, ApplyInput{AccountID: 1, Code: "005827", Kind: KindSell, Value: 321.4567, TradeTime: tradeAt("2024-03-07", 14)})

	drifts, err := svc.VerifyConsistency(ctx, scope, 1)
	require.NoError(t, err)
	assert.Empty(t, drifts)
}

func TestVerifyConsistencyDetectsDrift(t *testing.T) {
	svc, navs, _, db := newLedgerService(t)
	ctx := context.Background()
	scope := domain.GlobalScope()
	navs.set("005827", "2024-03-05", 1.0)

	mustApply(t, svc, ApplyInput{AccountID: 1, Code: "005827", Kind: KindBuy, Value: 1000, TradeTime: tradeAt("2024-03-06", 14)})

	// Corrupt the cache behind the service's back
	_, err := db.Exec(`UPDATE positions SET shares = 123 WHERE account_id = 1 AND code = '005827'`)
	require.NoError(t, err)

	drifts, err := svc.VerifyConsistency(ctx, scope, 1)
	require.NoError(t, err)
	require.Len(t, drifts, 1)
	assert.Equal(t, 123.0, drifts[0].CachedShares)
	assert.Equal(t, 1000.0, drifts[0].ReplayedShares)
}

func TestRecalculateRepairsDrift(t *testing.T) {
	svc, navs, _, db := newLedgerService(t)
	ctx := context.Background()
	scope := domain.GlobalScope()
	navs.set("005827", "2024-03-05", 1.0)
	navs.set("005827", "2024-03-06", 1.2)

	mustApply(t, svc, ApplyInput{AccountID: 1, Code: "005827", Kind: KindBuy, Value: 1000, TradeTime: tradeAt("2024-03-06", 14)})
	mustApply(t, svc, ApplyInput{AccountID: 1, Code: "005827", Kind: KindBuy, Value: 1200, TradeTime: tradeAt("2024-03-07", 14)})

	_, err := db.Exec(`UPDATE positions SET shares = 1, cost = 99 WHERE account_id = 1`)
	require.NoError(t, err)

	accountID := int64(1)
	require.NoError(t, svc.Recalculate(ctx, scope, &accountID))

	pos, err := svc.GetPosition(ctx, scope, 1, "005827")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, 2000.0, pos.Shares)
	assert.Equal(t, 1.1, pos.Cost)

	drifts, err := svc.VerifyConsistency(ctx, scope, 1)
	require.NoError(t, err)
	assert.Empty(t, drifts)
}

func TestRecalculateWholeScope(t *testing.T) {
	svc, navs, dir, db := newLedgerService(t)
	ctx := context.Background()
	scope := domain.GlobalScope()
	dir.accounts[2] = fakeAccount{}
	navs.set("005827", "2024-03-05", 1.0)

	mustApply(t, svc, ApplyInput{AccountID: 1, Code: "005827", Kind: KindBuy, Value: 100, TradeTime: tradeAt("2024-03-06", 14)})
	mustApply(t, svc, ApplyInput{AccountID: 2, Code: "005827", Kind: KindBuy, Value: 200, TradeTime: tradeAt("2024-03-06", 14)})

	_, err := db.Exec(`DELETE FROM positions`)
	require.NoError(t, err)

	require.NoError(t, svc.Recalculate(ctx, scope, nil))

	for accountID, wantShares := range map[int64]float64{1: 100, 2: 200} {
		pos, err := svc.GetPosition(ctx, scope, accountID, "005827")
		require.NoError(t, err)
		require.NotNil(t, pos)
		assert.Equal(t, wantShares, pos.Shares)
	}
}

func TestAggregateMergesAccounts(t *testing.T) {
	svc, navs, dir, _ := newLedgerService(t)
	ctx := context.Background()
	scope := domain.GlobalScope()
	dir.accounts[2] = fakeAccount{}
	navs.set("005827", "2024-03-05", 1.0)
	navs.set("005827", "2024-03-06", 2.0)
	navs.set("110011", "2024-03-05", 4.0)

	// Account 1: 1000 shares at 1.0. Account 2: 500 shares at 2.0.
	mustApply(t, svc, ApplyInput{AccountID: 1, Code: "005827", Kind: KindBuy, Value: 1000, TradeTime: tradeAt("2024-03-06", 14)})
	mustApply(t, svc, ApplyInput{AccountID: 2, Code: "005827", Kind: KindBuy, Value: 1000, TradeTime: tradeAt("2024-03-07", 14)})
	mustApply(t, svc, ApplyInput{AccountID: 1, Code: "110011", Kind: KindBuy, Value: 400, TradeTime: tradeAt("2024-03-06", 14)})

	merged, err := svc.Aggregate(ctx, scope, nil)
	require.NoError(t, err)
	require.Len(t, merged, 2)

	assert.Equal(t, "005827", merged[0].Code)
	assert.Equal(t, 1500.0, merged[0].Shares)
	assert.InDelta(t, (1000*1.0+500*2.0)/1500, merged[0].Cost, 0.0001)
	assert.Equal(t, 2, merged[0].Accounts)

	assert.Equal(t, "110011", merged[1].Code)
	assert.Equal(t, 100.0, merged[1].Shares)
	assert.Equal(t, 1, merged[1].Accounts)
}

func TestAggregateParentCoversChildren(t *testing.T) {
	svc, navs, dir, _ := newLedgerService(t)
	ctx := context.Background()
	scope := domain.GlobalScope()
	dir.accounts[10] = fakeAccount{children: []int64{11, 12}}
	dir.accounts[11] = fakeAccount{}
	dir.accounts[12] = fakeAccount{}
	navs.set("005827", "2024-03-05", 1.0)

	mustApply(t, svc, ApplyInput{AccountID: 11, Code: "005827", Kind: KindBuy, Value: 100, TradeTime: tradeAt("2024-03-06", 14)})
	mustApply(t, svc, ApplyInput{AccountID: 12, Code: "005827", Kind: KindBuy, Value: 300, TradeTime: tradeAt("2024-03-06", 14)})
	mustApply(t, svc, ApplyInput{AccountID: 1, Code: "005827", Kind: KindBuy, Value: 999, TradeTime: tradeAt("2024-03-06", 14)})

	parentID := int64(10)
	merged, err := svc.Aggregate(ctx, scope, &parentID)
	require.NoError(t, err)
	require.Len(t, merged, 1)
	assert.Equal(t, 400.0, merged[0].Shares, "the stand-alone account stays out of the parent's view")
}

func TestPendingStatusReportsOldestAge(t *testing.T) {
	svc, _, _, _ := newLedgerService(t)
	ctx := context.Background()

	status, err := svc.PendingStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, status.Count)
	assert.Nil(t, status.OldestAgeHours)

	_, err = svc.Apply(ctx, domain.GlobalScope(), ApplyInput{
		AccountID: 1, Code: "005827", Kind: KindBuy, Value: 1000,
		TradeTime: tradeAt("2024-03-06", 14),
	})
	require.NoError(t, err)

	status, err = svc.PendingStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Count)
	require.NotNil(t, status.OldestAgeHours)
	assert.GreaterOrEqual(t, *status.OldestAgeHours, 0.0)
	assert.Equal(t, "2024-03-05", status.OldestConfirmDate)
}

func TestListOperationsScoped(t *testing.T) {
	svc, navs, dir, _ := newLedgerService(t)
	ctx := context.Background()
	owner := int64(7)
	dir.accounts[2] = fakeAccount{owner: &owner}
	navs.set("005827", "2024-03-05", 1.0)

	mustApply(t, svc, ApplyInput{AccountID: 1, Code: "005827", Kind: KindBuy, Value: 100, TradeTime: tradeAt("2024-03-06", 14)})

	ops, err := svc.ListOperations(ctx, domain.GlobalScope(), 1, 0)
	require.NoError(t, err)
	assert.Len(t, ops, 1)

	_, err = svc.ListOperations(ctx, domain.GlobalScope(), 2, 0)
	assert.ErrorIs(t, err, domain.ErrOwnership)
}

func mustApply(t *testing.T, svc *Service, in ApplyInput) *ApplyResult {
	t.Helper()
	result, err := svc.Apply(context.Background(), domain.GlobalScope(), in)
	require.NoError(t, err)
	require.Equal(t, StatusConfirmed, result.Status)
	return result
}
