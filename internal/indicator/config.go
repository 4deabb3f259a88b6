package indicator

import (
	"fmt"

	"trendcross/internal/model"
)

// Config specifies the oscillator indicator set.
type Config struct {
	FastPeriod   int    `json:"fast_period" yaml:"fast_period"`
	SlowPeriod   int    `json:"slow_period" yaml:"slow_period"`
	SignalPeriod int    `json:"signal_period" yaml:"signal_period"`
	TrendPeriod  int    `json:"trend_period" yaml:"trend_period"`
	Source       string `json:"source" yaml:"source"` // open|high|low|close, case-insensitive

	// Smoothing for the fast/slow averages and for the signal line.
	// EMA (default) or SMA; anything else falls back to EMA.
	OscillatorMAType string `json:"oscillator_ma_type" yaml:"oscillator_ma_type"`
	SignalLineMAType string `json:"signal_line_ma_type" yaml:"signal_line_ma_type"`
}

// DefaultConfig returns the common 12/26/9 oscillator with a 200-period trend filter.
func DefaultConfig() Config {
	return Config{
		FastPeriod:       12,
		SlowPeriod:       26,
		SignalPeriod:     9,
		TrendPeriod:      200,
		Source:           string(SourceClose),
		OscillatorMAType: string(MATypeEMA),
		SignalLineMAType: string(MATypeEMA),
	}
}

// Validate rejects non-positive periods and fast >= slow.
func (c Config) Validate() error {
	if c.FastPeriod < 1 || c.SlowPeriod < 1 || c.SignalPeriod < 1 || c.TrendPeriod < 1 {
		return fmt.Errorf("periods must be >= 1 (fast=%d slow=%d signal=%d trend=%d): %w",
			c.FastPeriod, c.SlowPeriod, c.SignalPeriod, c.TrendPeriod, model.ErrInvalidConfiguration)
	}
	if c.FastPeriod >= c.SlowPeriod {
		return fmt.Errorf("fast period %d must be < slow period %d: %w",
			c.FastPeriod, c.SlowPeriod, model.ErrInvalidConfiguration)
	}
	return nil
}

// resolved holds parsed source and MA types.
type resolved struct {
	source    Source
	oscType   MAType
	signalTyp MAType
}

func (c Config) resolve() resolved {
	osc, _ := ResolveMAType(c.OscillatorMAType)
	sig, _ := ResolveMAType(c.SignalLineMAType)
	return resolved{
		source:    ParseSource(c.Source),
		oscType:   osc,
		signalTyp: sig,
	}
}
