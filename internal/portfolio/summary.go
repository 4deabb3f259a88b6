package portfolio

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"trendcross/internal/model"
)

// annualization applied to the per-trade mean/std ratio.
var annualization = math.Sqrt(252)

// Summarize reduces a trade log to performance statistics. Percentage fields
// are in percent. A zero return counts as a loss. An empty log yields the
// zero Summary.
func Summarize(trades []model.Trade) model.Summary {
	var s model.Summary
	if len(trades) == 0 {
		return s
	}

	returns := make([]float64, len(trades))
	best, worst := math.Inf(-1), math.Inf(1)
	var total float64
	for i, t := range trades {
		r := t.Return
		returns[i] = r
		total += r
		if r > 0 {
			s.WinningTrades++
		} else {
			s.LosingTrades++
		}
		best = math.Max(best, r)
		worst = math.Min(worst, r)
		switch t.Reason {
		case model.ExitTakeProfit:
			s.TakeProfitHits++
		case model.ExitStopLoss:
			s.StopLossHits++
		}
	}

	n := float64(len(trades))
	s.TotalTrades = len(trades)
	s.WinRate = float64(s.WinningTrades) / n * 100
	s.TotalReturn = total * 100
	s.BestTrade = best * 100
	s.WorstTrade = worst * 100
	s.MaxDrawdown = MaxDrawdown(returns) * 100

	mean, std := stat.PopMeanStdDev(returns, nil)
	s.AverageReturn = mean * 100
	if len(returns) >= 2 && std > 0 {
		s.SharpeLike = mean / std * annualization
	}
	return s
}

// MaxDrawdown returns the most negative peak-to-trough decline of the
// compounded equity curve prod(1+r), as a fraction (<= 0).
func MaxDrawdown(returns []float64) float64 {
	equity, peak, worst := 1.0, 0.0, 0.0
	for i, r := range returns {
		equity *= 1 + r
		if i == 0 || equity > peak {
			peak = equity
		}
		if peak <= 0 {
			continue
		}
		if dd := (equity - peak) / peak; dd < worst {
			worst = dd
		}
	}
	return worst
}
