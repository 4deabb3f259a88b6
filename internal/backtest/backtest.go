// Package backtest wires the indicator, signal and position components into
// complete runs.
//
// Run evaluates a fixed bar sequence in one call. Session does the same
// incrementally for live bars and pushes every transition to EventSinks.
// Both are deterministic: the same bars and Config give the same trades.
package backtest

import (
	"context"
	"fmt"
	"time"

	"trendcross/internal/indicator"
	"trendcross/internal/logger"
	"trendcross/internal/model"
	"trendcross/internal/portfolio"
	"trendcross/internal/strategy"
)

// Result is the output of a completed run.
type Result struct {
	RunID     string              `json:"run_id"`
	Series    model.Series        `json:"series"`
	Config    Config              `json:"config"`
	Bars      int                 `json:"bars"`
	Start     time.Time           `json:"start"`
	End       time.Time           `json:"end"`
	Trades    []model.Trade       `json:"trades"`
	Summary   model.Summary       `json:"summary"`
	Signals   []model.SignalPoint `json:"signals"`
	Frame     *indicator.Frame    `json:"-"`
	CreatedAt time.Time           `json:"created_at"`
}

// Run backtests bars under cfg. Any error aborts the run and no partial
// result is returned. ctx is checked between bars.
func Run(ctx context.Context, series model.Series, bars []model.Bar, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("empty bar sequence: %w", model.ErrInvalidConfiguration)
	}
	if cfg.ValidateGaps {
		if err := model.CheckContinuity(bars, cfg.Step); err != nil {
			return nil, err
		}
	}

	frame, err := indicator.Compute(bars, cfg.Indicator)
	if err != nil {
		return nil, err
	}
	signals := strategy.Detect(frame, bars)

	m, err := portfolio.NewMachine(cfg.Risk, cfg.AllowShort)
	if err != nil {
		return nil, err
	}
	for i := range bars {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("backtest aborted at bar %d: %w", i, err)
			}
		}
		m.Step(bars[i], signals[i])
	}
	m.Finish(bars[len(bars)-1])

	trades := m.Trades()
	return &Result{
		RunID:     logger.NewRunID(),
		Series:    series,
		Config:    cfg,
		Bars:      len(bars),
		Start:     bars[0].TS,
		End:       bars[len(bars)-1].TS,
		Trades:    trades,
		Summary:   portfolio.Summarize(trades),
		Signals:   strategy.Points(signals, bars),
		Frame:     frame,
		CreatedAt: time.Now().UTC(),
	}, nil
}
