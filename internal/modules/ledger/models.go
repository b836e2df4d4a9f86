package ledger

import "time"

// OperationKind is the direction of a ledger entry.
type OperationKind string

const (
	// KindBuy adds shares priced by a currency amount
	KindBuy OperationKind = "buy"
	// KindSell redeems a share quantity
	KindSell OperationKind = "sell"
)

// Valid reports whether the kind is one of the two ledger directions.
func (k OperationKind) Valid() bool {
	return k == KindBuy || k == KindSell
}

// Operation is one immutable ledger entry against an account and instrument.
// Value carries a currency amount for buys and a share quantity for sells.
// ConfirmNav stays nil while the confirmation date's NAV is unpublished;
// settling fills ConfirmNav, SharesDelta, SharesAfter, CostAfter, Proceeds
// and AppliedAt in a single update, after which the row never changes again.
type Operation struct {
	ID            int64         `json:"id"`
	AccountID     int64         `json:"account_id"`
	Code          string        `json:"code"`
	Kind          OperationKind `json:"kind"`
	Value         float64       `json:"value"`
	TradeTime     time.Time     `json:"trade_time"`
	OperationDate string        `json:"operation_date"`
	ConfirmDate   string        `json:"confirm_date"`
	ConfirmNav    *float64      `json:"confirm_nav,omitempty"`
	SharesDelta   float64       `json:"shares_delta"`
	SharesAfter   *float64      `json:"shares_after,omitempty"`
	CostAfter     *float64      `json:"cost_after,omitempty"`
	Proceeds      *float64      `json:"proceeds,omitempty"`
	AppliedAt     *time.Time    `json:"applied_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Pending reports whether the operation still awaits its confirming NAV.
func (o *Operation) Pending() bool {
	return o.ConfirmNav == nil
}

// Position is the cached fold of an account's applied operations for one
// instrument: current share count and weighted average cost per unit. It is
// derived state; Recalculate rebuilds it from the operation log at any time.
type Position struct {
	AccountID int64     `json:"account_id"`
	Code      string    `json:"code"`
	Shares    float64   `json:"shares"`
	Cost      float64   `json:"cost"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AggregatedPosition merges one instrument's holdings across several
// accounts. Cost is the share-weighted average of the merged accounts.
type AggregatedPosition struct {
	Code     string  `json:"code"`
	Shares   float64 `json:"shares"`
	Cost     float64 `json:"cost"`
	Accounts int     `json:"accounts"`
}

// Apply outcome statuses.
const (
	// StatusConfirmed - the NAV was known and the position was updated
	StatusConfirmed = "confirmed"
	// StatusPending - the NAV is not yet published; the operation was
	// recorded and will be settled by the background sweep
	StatusPending = "pending"
)

// ApplyResult reports the outcome of submitting one operation. Pending
// results carry only the confirmation date being waited on; confirmed
// results also carry the NAV used and the resulting position.
type ApplyResult struct {
	Status      string   `json:"status"`
	OperationID int64    `json:"operation_id"`
	ConfirmDate string   `json:"confirm_date"`
	Nav         *float64 `json:"nav,omitempty"`
	SharesAfter *float64 `json:"shares_after,omitempty"`
	CostAfter   *float64 `json:"cost_after,omitempty"`
	Proceeds    *float64 `json:"proceeds,omitempty"`
}
