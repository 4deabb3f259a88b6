package backtest

import (
	"time"

	"trendcross/internal/indicator"
	"trendcross/internal/portfolio"
)

// Config is the complete parameter set of one run.
type Config struct {
	Indicator  indicator.Config   `json:"indicator"`
	Risk       portfolio.RiskRule `json:"risk"`
	AllowShort bool               `json:"allow_short"`

	// ValidateGaps rejects bar sequences whose timestamps are not strictly
	// increasing or, when Step > 0, not exactly Step apart.
	ValidateGaps bool          `json:"validate_gaps"`
	Step         time.Duration `json:"-"`
}

// DefaultConfig returns 12/26/9/200 on close with a 2% target and 1% stop,
// long-only.
func DefaultConfig() Config {
	return Config{
		Indicator: indicator.DefaultConfig(),
		Risk:      portfolio.DefaultRiskRule(),
	}
}

// Validate checks indicator periods and risk thresholds.
func (c Config) Validate() error {
	if err := c.Indicator.Validate(); err != nil {
		return err
	}
	return c.Risk.Validate()
}
