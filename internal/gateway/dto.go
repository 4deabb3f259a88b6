package gateway

import (
	"time"

	"trendcross/config"
	"trendcross/internal/backtest"
	"trendcross/internal/indicator"
	"trendcross/internal/model"
)

// IntervalInfo is the REST response item for /api/intervals.
type IntervalInfo struct {
	Value   string `json:"value"`
	Label   string `json:"label"`
	Seconds int64  `json:"seconds"`
}

// BarOut is one bar in /api/data responses.
type BarOut struct {
	TS     string  `json:"ts"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// IndicatorRow is one row of the indicator frame, aligned with BarOut.
type IndicatorRow struct {
	TS         string  `json:"ts"`
	Oscillator float64 `json:"oscillator"`
	Signal     float64 `json:"signal"`
	Histogram  float64 `json:"histogram"`
	Trend      float64 `json:"trend"`
}

// DataResponse is the /api/data payload.
type DataResponse struct {
	Success    bool                  `json:"success"`
	Symbol     string                `json:"symbol"`
	Interval   string                `json:"interval"`
	Strategy   config.StrategyConfig `json:"strategy"`
	Bars       []BarOut              `json:"data"`
	Indicators []IndicatorRow        `json:"indicators"`
	Signals    []model.SignalPoint   `json:"signals"`
}

// BacktestRequest is the POST /api/backtest body. Strategy starts from the
// gateway's active parameters; the flat legacy fields override it.
type BacktestRequest struct {
	DaysBack int                   `json:"days_back"`
	Strategy config.StrategyConfig `json:"strategy"`

	TakeProfit      *float64 `json:"take_profit,omitempty"`
	StopLoss        *float64 `json:"stop_loss,omitempty"`
	FastLength      *int     `json:"fast_length,omitempty"`
	SlowLength      *int     `json:"slow_length,omitempty"`
	SignalSmoothing *int     `json:"signal_smoothing,omitempty"`
	AllowShort      *bool    `json:"allow_short,omitempty"`
	Save            *bool    `json:"save,omitempty"`
}

// resolve applies the flat overrides onto Strategy.
func (r BacktestRequest) resolve() config.StrategyConfig {
	s := r.Strategy
	if r.TakeProfit != nil {
		s.TakeProfitPct = *r.TakeProfit
	}
	if r.StopLoss != nil {
		s.StopLossPct = *r.StopLoss
	}
	if r.FastLength != nil {
		s.FastPeriod = *r.FastLength
	}
	if r.SlowLength != nil {
		s.SlowPeriod = *r.SlowLength
	}
	if r.SignalSmoothing != nil {
		s.SignalPeriod = *r.SignalSmoothing
	}
	if r.AllowShort != nil {
		s.AllowShort = *r.AllowShort
	}
	return s
}

// BacktestResponse wraps a run result.
type BacktestResponse struct {
	Success bool             `json:"success"`
	Saved   bool             `json:"saved"`
	Results *backtest.Result `json:"results"`
}

// StreamRequest is the body of /api/stream/start and /api/stream/stop.
type StreamRequest struct {
	Symbol   string `json:"symbol"`
	Interval string `json:"interval"`
}

func toBarOut(bars []model.Bar) []BarOut {
	out := make([]BarOut, len(bars))
	for i, b := range bars {
		out[i] = BarOut{
			TS:     b.TS.UTC().Format(time.RFC3339),
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: b.Volume,
		}
	}
	return out
}

func toIndicatorRows(f *indicator.Frame, bars []model.Bar) []IndicatorRow {
	out := make([]IndicatorRow, f.Len())
	for i := range out {
		p := f.At(i)
		out[i] = IndicatorRow{
			TS:         bars[i].TS.UTC().Format(time.RFC3339),
			Oscillator: p.Oscillator,
			Signal:     p.SignalLine,
			Histogram:  p.Histogram,
			Trend:      p.TrendEMA,
		}
	}
	return out
}
