package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"trendcross/internal/model"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SYMBOL", "ethusdt")
	t.Setenv("ALERT_MAX_AGE_SEC", "45")
	t.Setenv("WARMUP_BARS", "not-a-number")

	cfg := Load()
	if cfg.Symbol != "ETHUSDT" {
		t.Errorf("Symbol = %q, want upper-cased ETHUSDT", cfg.Symbol)
	}
	if cfg.AlertMaxAge != 45*time.Second {
		t.Errorf("AlertMaxAge = %v", cfg.AlertMaxAge)
	}
	if cfg.WarmupBars != 500 {
		t.Errorf("invalid WARMUP_BARS should fall back to 500, got %d", cfg.WarmupBars)
	}
	if cfg.Interval != "1h" {
		t.Errorf("Interval default = %q", cfg.Interval)
	}
}

func TestLoadStrategy_Defaults(t *testing.T) {
	sc, err := LoadStrategy("")
	if err != nil {
		t.Fatalf("LoadStrategy: %v", err)
	}
	if sc != DefaultStrategy() {
		t.Errorf("expected defaults, got %+v", sc)
	}
	bc := sc.Backtest(time.Hour)
	if bc.Indicator.FastPeriod != 12 || bc.Indicator.SlowPeriod != 26 || bc.Indicator.SignalPeriod != 9 ||
		bc.Indicator.TrendPeriod != 200 || bc.Risk.TakeProfitPct != 0.02 || bc.Risk.StopLossPct != 0.01 {
		t.Errorf("unexpected engine config: %+v", bc)
	}
	if bc.Step != time.Hour {
		t.Errorf("Step = %v", bc.Step)
	}
}

func TestLoadStrategy_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategy.yaml")
	body := []byte("fast_period: 5\nslow_period: 35\nsource: HIGH\noscillator_ma_type: sma\ntake_profit_pct: 0.03\nallow_short: true\n")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SLOW_PERIOD", "40")

	sc, err := LoadStrategy(path)
	if err != nil {
		t.Fatalf("LoadStrategy: %v", err)
	}
	if sc.FastPeriod != 5 || sc.SlowPeriod != 40 || sc.SignalPeriod != 9 {
		t.Errorf("periods: %+v", sc)
	}
	if sc.Source != "HIGH" || sc.OscillatorMAType != "sma" || !sc.AllowShort || sc.TakeProfitPct != 0.03 {
		t.Errorf("file values not applied: %+v", sc)
	}
	if sc.StopLossPct != 0.01 {
		t.Errorf("unset field should keep default, got %v", sc.StopLossPct)
	}
}

func TestLoadStrategy_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("fast_period: 30\nslow_period: 10\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadStrategy(path); !errors.Is(err, model.ErrInvalidConfiguration) {
		t.Fatalf("expected ErrInvalidConfiguration, got %v", err)
	}

	t.Setenv("STOP_LOSS_PCT", "-0.5")
	if _, err := LoadStrategy(""); !errors.Is(err, model.ErrInvalidConfiguration) {
		t.Fatalf("negative stop: expected ErrInvalidConfiguration, got %v", err)
	}
}

func TestLoadStrategy_MissingFile(t *testing.T) {
	if _, err := LoadStrategy(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
