// Package portfolio holds the single-position state machine and the
// performance aggregation over its trade log.
//
// The Machine owns at most one open position. Each closed bar is resolved
// in a fixed order: exits (take-profit before stop-loss) when a position is
// open, otherwise entries on the bar's signal. An exit and an entry never
// happen on the same bar.
package portfolio

import (
	"trendcross/internal/model"
)

// State is the machine's position state.
type State string

const (
	StateFlat  State = "flat"
	StateLong  State = "long"
	StateShort State = "short"
)

// Machine is the position state machine. Not safe for concurrent use;
// callers serialize Step.
type Machine struct {
	rule       RiskRule
	allowShort bool

	pos    *model.Position
	trades []model.Trade
}

// NewMachine creates a flat machine. Fails with ErrInvalidConfiguration on
// negative risk thresholds.
func NewMachine(rule RiskRule, allowShort bool) (*Machine, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	return &Machine{rule: rule, allowShort: allowShort}, nil
}

// State returns the current state.
func (m *Machine) State() State {
	switch {
	case m.pos == nil:
		return StateFlat
	case m.pos.Side == model.SideShort:
		return StateShort
	default:
		return StateLong
	}
}

// Position returns a copy of the open position, or nil when flat.
func (m *Machine) Position() *model.Position {
	if m.pos == nil {
		return nil
	}
	p := *m.pos
	return &p
}

// Step resolves one closed bar. It returns the opened position when the
// bar entered, or the closed trade when the bar exited; at most one is
// non-nil.
func (m *Machine) Step(bar model.Bar, sig model.Signal) (opened *model.Position, closed *model.Trade) {
	if m.pos != nil {
		return nil, m.checkExit(bar)
	}

	var side model.Side
	switch {
	case sig == model.SignalBullish:
		side = model.SideLong
	case sig == model.SignalBearish && m.allowShort:
		side = model.SideShort
	default:
		return nil, nil
	}
	m.pos = &model.Position{Side: side, EntryPrice: bar.Close, EntryTS: bar.TS, Size: 1.0}
	return m.Position(), nil
}

// checkExit tests the take-profit level first, then the stop-loss level.
func (m *Machine) checkExit(bar model.Bar) *model.Trade {
	tp, sl := m.rule.Levels(m.pos)

	if m.pos.Side == model.SideShort {
		if bar.Low <= tp {
			return m.close(bar, tp, m.rule.TakeProfitPct, model.ExitTakeProfit)
		}
		if bar.High >= sl {
			return m.close(bar, sl, -m.rule.StopLossPct, model.ExitStopLoss)
		}
		return nil
	}

	if bar.High >= tp {
		return m.close(bar, tp, m.rule.TakeProfitPct, model.ExitTakeProfit)
	}
	if bar.Low <= sl {
		return m.close(bar, sl, -m.rule.StopLossPct, model.ExitStopLoss)
	}
	return nil
}

// Finish force-closes an open position at the last bar's close with reason
// EndOfPeriod. Returns nil when flat.
func (m *Machine) Finish(last model.Bar) *model.Trade {
	if m.pos == nil {
		return nil
	}
	return m.close(last, last.Close, m.pos.Return(last.Close), model.ExitEndOfPeriod)
}

func (m *Machine) close(bar model.Bar, price, ret float64, reason model.ExitReason) *model.Trade {
	t := model.Trade{
		Side:       m.pos.Side,
		EntryTS:    m.pos.EntryTS,
		EntryPrice: m.pos.EntryPrice,
		ExitTS:     bar.TS,
		ExitPrice:  price,
		Return:     ret,
		Reason:     reason,
		Size:       m.pos.Size,
	}
	m.trades = append(m.trades, t)
	m.pos = nil
	return &t
}

// Trades returns a copy of the trade log in close order.
func (m *Machine) Trades() []model.Trade {
	cp := make([]model.Trade, len(m.trades))
	copy(cp, m.trades)
	return cp
}
