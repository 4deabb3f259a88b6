package model

import (
	"encoding/json"
	"time"
)

// Side is the direction of a position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// ExitReason records why a position was closed.
type ExitReason string

const (
	ExitTakeProfit  ExitReason = "TakeProfit"
	ExitStopLoss    ExitReason = "StopLoss"
	ExitEndOfPeriod ExitReason = "EndOfPeriod"
)

// Position is the single open position held by the state machine.
type Position struct {
	Side       Side      `json:"side"`
	EntryPrice float64   `json:"entry_price"`
	EntryTS    time.Time `json:"entry_ts"`
	Size       float64   `json:"size"` // fixed at 1.0
}

// Return computes the signed fractional return of closing at exitPrice.
// A position entered at price 0 has no defined return and reports 0.
func (p *Position) Return(exitPrice float64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	if p.Side == SideShort {
		return (p.EntryPrice - exitPrice) / p.EntryPrice
	}
	return (exitPrice - p.EntryPrice) / p.EntryPrice
}

// Trade is a closed position. Immutable once created.
type Trade struct {
	Side       Side       `json:"side"`
	EntryTS    time.Time  `json:"entry_ts"`
	EntryPrice float64    `json:"entry_price"`
	ExitTS     time.Time  `json:"exit_ts"`
	ExitPrice  float64    `json:"exit_price"`
	Return     float64    `json:"return"` // signed fraction, e.g. 0.02
	Reason     ExitReason `json:"exit_reason"`
	Size       float64    `json:"size"`
}

// JSON returns the JSON-encoded trade.
func (t *Trade) JSON() []byte {
	b, _ := json.Marshal(t)
	return b
}

// Summary holds aggregate performance over a trade log. Percentage fields
// (WinRate, TotalReturn, AverageReturn, BestTrade, WorstTrade, MaxDrawdown)
// are expressed in percent.
type Summary struct {
	TotalTrades    int     `json:"total_trades"`
	WinningTrades  int     `json:"winning_trades"`
	LosingTrades   int     `json:"losing_trades"`
	WinRate        float64 `json:"win_rate"`
	TotalReturn    float64 `json:"total_return"`
	AverageReturn  float64 `json:"average_return"`
	BestTrade      float64 `json:"best_trade"`
	WorstTrade     float64 `json:"worst_trade"`
	SharpeLike     float64 `json:"sharpe_ratio"`
	MaxDrawdown    float64 `json:"max_drawdown"`
	TakeProfitHits int     `json:"take_profit_hits"`
	StopLossHits   int     `json:"stop_loss_hits"`
}
