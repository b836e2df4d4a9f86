package domain

import "math"

// Monetary amounts carry 2 decimals, share counts and per-unit costs carry 4.
// Every fold path uses these two helpers so the incremental-apply and
// full-replay paths can never diverge on rounding.

// Round2 rounds to currency precision (2 decimals, half away from zero).
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Round4 rounds to share/unit-cost precision (4 decimals, half away from zero).
func Round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
