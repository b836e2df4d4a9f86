package funds

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/aristath/fundfolio/internal/domain"
	"github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/stat"
)

// tradingDaysPerYear annualizes daily return statistics.
const tradingDaysPerYear = 252

// Indicators summarizes a fund's NAV series. Pointer fields are nil when the
// archive is too short for the underlying formula.
type Indicators struct {
	Code           string   `json:"code"`
	Days           int      `json:"days"`
	Samples        int      `json:"samples"`
	LatestNav      float64  `json:"latest_nav"`
	NavDate        string   `json:"nav_date"`
	Sma20          *float64 `json:"sma_20,omitempty"`
	Ema20          *float64 `json:"ema_20,omitempty"`
	Rsi14          *float64 `json:"rsi_14,omitempty"`
	TotalReturnPct *float64 `json:"total_return_pct,omitempty"`
	VolatilityPct  *float64 `json:"annualized_volatility_pct,omitempty"`
	SharpeRatio    *float64 `json:"sharpe_ratio,omitempty"`
	MaxDrawdownPct *float64 `json:"max_drawdown_pct,omitempty"`
}

// Indicators computes moving averages, RSI and risk statistics over the last
// n archived NAVs.
func (s *Service) Indicators(ctx context.Context, code string, days int) (*Indicators, error) {
	if days <= 0 {
		days = 90
	}
	if _, err := s.repo.Get(ctx, code); err != nil {
		return nil, err
	}

	// Top the archive up first so indicators reflect the latest published NAV.
	end := time.Now()
	start := end.AddDate(0, 0, -days)
	if _, err := s.NavRange(ctx, code, domain.FormatDate(start), domain.FormatDate(end)); err != nil {
		return nil, err
	}

	series, err := s.repo.NavSeries(ctx, code, days)
	if err != nil {
		return nil, err
	}
	if len(series) == 0 {
		return nil, fmt.Errorf("no NAV history for %s: %w", code, domain.ErrNotFound)
	}

	closes := make([]float64, len(series))
	for i, p := range series {
		closes[i] = p.Nav
	}

	ind := &Indicators{
		Code:      code,
		Days:      days,
		Samples:   len(series),
		LatestNav: series[len(series)-1].Nav,
		NavDate:   series[len(series)-1].Date,
	}
	ind.Sma20 = lastValue(talib.Sma(closes, 20), len(closes) >= 20)
	ind.Ema20 = lastValue(talib.Ema(closes, 20), len(closes) >= 20)
	ind.Rsi14 = lastValue(talib.Rsi(closes, 14), len(closes) > 14)

	returns := dailyReturns(closes)
	if len(returns) > 0 {
		total := domain.Round4((closes[len(closes)-1] - closes[0]) / closes[0] * 100)
		ind.TotalReturnPct = &total

		vol := stat.StdDev(returns, nil) * math.Sqrt(tradingDaysPerYear)
		volPct := domain.Round4(vol * 100)
		ind.VolatilityPct = &volPct

		if vol > 0 {
			sharpe := domain.Round4((stat.Mean(returns, nil)*tradingDaysPerYear - s.riskFree) / vol)
			ind.SharpeRatio = &sharpe
		}

		dd := domain.Round4(maxDrawdown(closes) * 100)
		ind.MaxDrawdownPct = &dd
	}
	return ind, nil
}

// lastValue extracts the final value of a talib output series. talib pads
// the warm-up window with zeros (or NaN), so callers gate on having enough
// samples.
func lastValue(series []float64, enough bool) *float64 {
	if !enough || len(series) == 0 {
		return nil
	}
	v := series[len(series)-1]
	if math.IsNaN(v) {
		return nil
	}
	v = domain.Round4(v)
	return &v
}

// dailyReturns converts a NAV series to simple daily returns.
func dailyReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] != 0 {
			returns = append(returns, (closes[i]-closes[i-1])/closes[i-1])
		}
	}
	return returns
}

// maxDrawdown returns the largest peak-to-trough decline as a negative
// fraction, 0 when the series never falls.
func maxDrawdown(closes []float64) float64 {
	peak := math.Inf(-1)
	maxDD := 0.0
	for _, v := range closes {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			dd := (v - peak) / peak
			if dd < maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}
