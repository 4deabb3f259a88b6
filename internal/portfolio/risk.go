package portfolio

import (
	"fmt"

	"trendcross/internal/model"
)

// RiskRule defines the fixed-percentage exit thresholds, as fractions
// (0.02 = 2%).
type RiskRule struct {
	TakeProfitPct float64 `json:"take_profit_pct" yaml:"take_profit_pct"`
	StopLossPct   float64 `json:"stop_loss_pct" yaml:"stop_loss_pct"`
}

// DefaultRiskRule returns a 2% target with a 1% stop.
func DefaultRiskRule() RiskRule {
	return RiskRule{TakeProfitPct: 0.02, StopLossPct: 0.01}
}

// Validate rejects negative thresholds.
func (r RiskRule) Validate() error {
	if r.TakeProfitPct < 0 || r.StopLossPct < 0 {
		return fmt.Errorf("take profit %.4f / stop loss %.4f must be >= 0: %w",
			r.TakeProfitPct, r.StopLossPct, model.ErrInvalidConfiguration)
	}
	return nil
}

// Levels returns the take-profit and stop-loss prices for a position.
func (r RiskRule) Levels(p *model.Position) (takeProfit, stopLoss float64) {
	if p.Side == model.SideShort {
		return p.EntryPrice * (1 - r.TakeProfitPct), p.EntryPrice * (1 + r.StopLossPct)
	}
	return p.EntryPrice * (1 + r.TakeProfitPct), p.EntryPrice * (1 - r.StopLossPct)
}
