package ledger

import "github.com/aristath/fundfolio/internal/domain"

// FoldState is the running position while folding an operation log: share
// count and weighted average cost per unit, both at 4-decimal precision.
// The zero value is "no position".
//
// The same fold primitives drive the interactive apply path, the settlement
// sweep and the full replay, so all three produce bit-identical positions
// from the same inputs. Buys recompute the weighted average; sells leave the
// per-unit cost untouched and only reduce shares. Expressed over the
// aggregate basis (unit cost times shares) a sell reduces total cost
// proportionally to the shares sold, which is the same rule.
type FoldState struct {
	Shares   float64
	UnitCost float64
}

// Held reports whether the state holds any shares.
func (s FoldState) Held() bool {
	return s.Shares > 0
}

// CostBasis returns the aggregate cost of the held shares at currency
// precision.
func (s FoldState) CostBasis() float64 {
	return domain.Round2(s.UnitCost * s.Shares)
}

// BuyShares converts a buy's currency amount into shares at the confirming
// NAV. Fund platforms allocate shares at 4 decimals.
func BuyShares(amount, nav float64) float64 {
	return domain.Round4(amount / nav)
}

// SellProceeds prices a redemption at the confirming NAV, at currency
// precision.
func SellProceeds(shares, nav float64) float64 {
	return domain.Round2(shares * nav)
}

// ApplyBuy folds a settled buy into the state. A first buy costs exactly the
// NAV paid; later buys pool into the weighted average.
func (s FoldState) ApplyBuy(nav, sharesAdded float64) FoldState {
	newShares := domain.Round4(s.Shares + sharesAdded)
	if newShares <= 0 {
		return FoldState{}
	}
	cost := nav
	if s.Shares > 0 {
		cost = domain.Round4((s.UnitCost*s.Shares + nav*sharesAdded) / newShares)
	}
	return FoldState{Shares: newShares, UnitCost: cost}
}

// ApplySell folds a settled redemption into the state. Redeeming everything
// (or more, which the sweep can see after intervening sells) clears the
// position outright rather than leaving a stale cost on zero shares.
func (s FoldState) ApplySell(sharesRedeemed float64) FoldState {
	newShares := domain.Round4(s.Shares - sharesRedeemed)
	if newShares <= 0 {
		return FoldState{}
	}
	return FoldState{Shares: newShares, UnitCost: s.UnitCost}
}

// Apply folds one settled operation. Pending operations (no confirming NAV
// yet) do not move positions and are skipped.
func (s FoldState) Apply(op *Operation) FoldState {
	if op.ConfirmNav == nil {
		return s
	}
	switch op.Kind {
	case KindBuy:
		return s.ApplyBuy(*op.ConfirmNav, op.SharesDelta)
	case KindSell:
		return s.ApplySell(op.SharesDelta)
	}
	return s
}

// Fold replays a slice of operations already in ledger order
// (operation_date, created_at, id ascending) into final per-instrument
// states. Instruments whose fold ends at zero shares are omitted.
func Fold(ops []Operation) map[string]FoldState {
	states := make(map[string]FoldState)
	for i := range ops {
		op := &ops[i]
		if op.ConfirmNav == nil {
			continue
		}
		states[op.Code] = states[op.Code].Apply(op)
	}
	for code, state := range states {
		if !state.Held() {
			delete(states, code)
		}
	}
	return states
}
