package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"trendcross/internal/backtest"
	"trendcross/internal/indicator"
	"trendcross/internal/portfolio"
)

// StrategyConfig is the flat, file/env/API-facing form of the strategy
// parameters. Fractions for the risk percentages (0.02 = 2%).
type StrategyConfig struct {
	FastPeriod       int     `yaml:"fast_period" json:"fast_period"`
	SlowPeriod       int     `yaml:"slow_period" json:"slow_period"`
	SignalPeriod     int     `yaml:"signal_period" json:"signal_period"`
	TrendPeriod      int     `yaml:"trend_period" json:"trend_period"`
	Source           string  `yaml:"source" json:"source"`
	OscillatorMAType string  `yaml:"oscillator_ma_type" json:"oscillator_ma_type"`
	SignalLineMAType string  `yaml:"signal_line_ma_type" json:"signal_line_ma_type"`
	TakeProfitPct    float64 `yaml:"take_profit_pct" json:"take_profit_pct"`
	StopLossPct      float64 `yaml:"stop_loss_pct" json:"stop_loss_pct"`
	AllowShort       bool    `yaml:"allow_short" json:"allow_short"`
	ValidateGaps     bool    `yaml:"validate_gaps" json:"validate_gaps"`
}

// DefaultStrategy returns the 12/26/9/200 close-sourced defaults with a 2%
// target and 1% stop, long-only.
func DefaultStrategy() StrategyConfig {
	ind := indicator.DefaultConfig()
	risk := portfolio.DefaultRiskRule()
	return StrategyConfig{
		FastPeriod:       ind.FastPeriod,
		SlowPeriod:       ind.SlowPeriod,
		SignalPeriod:     ind.SignalPeriod,
		TrendPeriod:      ind.TrendPeriod,
		Source:           ind.Source,
		OscillatorMAType: ind.OscillatorMAType,
		SignalLineMAType: ind.SignalLineMAType,
		TakeProfitPct:    risk.TakeProfitPct,
		StopLossPct:      risk.StopLossPct,
	}
}

// LoadStrategy starts from the defaults, applies the YAML file at path (if
// path is non-empty), then environment overrides, then validates.
func LoadStrategy(path string) (StrategyConfig, error) {
	sc := DefaultStrategy()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return sc, fmt.Errorf("read strategy file: %w", err)
		}
		if err := yaml.Unmarshal(data, &sc); err != nil {
			return sc, fmt.Errorf("parse strategy file %s: %w", path, err)
		}
	}
	sc.overrideWithEnv()

	if err := sc.Validate(); err != nil {
		return sc, err
	}
	sc.warnFallbacks()
	return sc, nil
}

func (s *StrategyConfig) overrideWithEnv() {
	s.FastPeriod = getEnvInt("FAST_PERIOD", s.FastPeriod)
	s.SlowPeriod = getEnvInt("SLOW_PERIOD", s.SlowPeriod)
	s.SignalPeriod = getEnvInt("SIGNAL_PERIOD", s.SignalPeriod)
	s.TrendPeriod = getEnvInt("TREND_PERIOD", s.TrendPeriod)
	s.Source = getEnv("SOURCE", s.Source)
	s.OscillatorMAType = getEnv("OSCILLATOR_MA_TYPE", s.OscillatorMAType)
	s.SignalLineMAType = getEnv("SIGNAL_LINE_MA_TYPE", s.SignalLineMAType)
	s.TakeProfitPct = getEnvFloat("TAKE_PROFIT_PCT", s.TakeProfitPct)
	s.StopLossPct = getEnvFloat("STOP_LOSS_PCT", s.StopLossPct)
	s.AllowShort = getEnvBool("ALLOW_SHORT", s.AllowShort)
	s.ValidateGaps = getEnvBool("VALIDATE_GAPS", s.ValidateGaps)
}

// warnFallbacks reports parameters that resolve to a default instead of the
// configured value.
func (s StrategyConfig) warnFallbacks() {
	if _, ok := indicator.ResolveMAType(s.OscillatorMAType); !ok {
		log.Printf("[config] oscillator_ma_type %q not supported, using EMA", s.OscillatorMAType)
	}
	if _, ok := indicator.ResolveMAType(s.SignalLineMAType); !ok {
		log.Printf("[config] signal_line_ma_type %q not supported, using EMA", s.SignalLineMAType)
	}
	if src := indicator.ParseSource(s.Source); string(src) != s.Source && s.Source != "" {
		log.Printf("[config] source %q resolved to %q", s.Source, src)
	}
}

// Validate wraps ErrInvalidConfiguration for bad periods or negative risk.
func (s StrategyConfig) Validate() error {
	return s.Backtest(0).Validate()
}

// Backtest converts to the engine configuration. step is the bar spacing
// used when ValidateGaps is on (0 checks ordering only).
func (s StrategyConfig) Backtest(step time.Duration) backtest.Config {
	return backtest.Config{
		Indicator: indicator.Config{
			FastPeriod:       s.FastPeriod,
			SlowPeriod:       s.SlowPeriod,
			SignalPeriod:     s.SignalPeriod,
			TrendPeriod:      s.TrendPeriod,
			Source:           s.Source,
			OscillatorMAType: s.OscillatorMAType,
			SignalLineMAType: s.SignalLineMAType,
		},
		Risk: portfolio.RiskRule{
			TakeProfitPct: s.TakeProfitPct,
			StopLossPct:   s.StopLossPct,
		},
		AllowShort:   s.AllowShort,
		ValidateGaps: s.ValidateGaps,
		Step:         step,
	}
}
