// Package history reconstructs daily position states from the operation log
// and joins them with archived NAVs into market-value series.
package history

import (
	"time"

	"github.com/aristath/fundfolio/internal/domain"
	"github.com/aristath/fundfolio/internal/modules/ledger"
)

// Snapshot is the position in effect at the end of one date.
type Snapshot struct {
	Shares   float64 `json:"shares"`
	UnitCost float64 `json:"unit_cost"`
}

// CostBasis returns the aggregate cost of the snapshot at currency precision.
func (s Snapshot) CostBasis() float64 {
	return domain.Round2(s.UnitCost * s.Shares)
}

// ReplayPositions folds settled operations (already in ledger order, dated on
// or before end) into one snapshot per instrument per day of [start, end].
//
// Several operations on the same date collapse into that date's final fold
// state. Days without an operation carry the last known state forward; days
// before an instrument's first operation hold the zero snapshot. The output
// has no gaps: every instrument maps every date of the window, so a window
// of n days always yields n+1 dated snapshots per instrument.
func ReplayPositions(ops []ledger.Operation, start, end time.Time) map[string]map[string]Snapshot {
	start = domain.DayStart(start)
	end = domain.DayStart(end)

	// Final fold state per instrument per operation date.
	type dateState map[string]ledger.FoldState
	folded := make(map[string]dateState)
	running := make(map[string]ledger.FoldState)
	for i := range ops {
		op := &ops[i]
		if op.ConfirmNav == nil {
			continue
		}
		next := running[op.Code].Apply(op)
		running[op.Code] = next
		if folded[op.Code] == nil {
			folded[op.Code] = make(dateState)
		}
		folded[op.Code][op.OperationDate] = next
	}

	result := make(map[string]map[string]Snapshot, len(folded))
	for code, byDate := range folded {
		days := make(map[string]Snapshot)
		// Operations dated before the window establish the state the
		// window opens with.
		carry := stateAt(byDate, domain.FormatDate(start))

		for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
			date := domain.FormatDate(day)
			if state, ok := byDate[date]; ok {
				carry = state
			}
			days[date] = Snapshot{Shares: carry.Shares, UnitCost: carry.UnitCost}
		}
		result[code] = days
	}
	return result
}

// stateAt returns the fold state in effect just before the given date: the
// state recorded for the latest operation date strictly before it.
func stateAt(byDate map[string]ledger.FoldState, date string) ledger.FoldState {
	latest := ""
	var state ledger.FoldState
	for d, s := range byDate {
		if d < date && d > latest {
			latest = d
			state = s
		}
	}
	return state
}
