// Package strategy turns indicator output into bar-close trading signals.
//
// A Strategy receives closed bars one at a time and reports a Signal when
// its entry condition fires. Signals are only ever evaluated on closed bars;
// forming bars never reach a Strategy.
package strategy

import (
	"time"

	"trendcross/internal/indicator"
	"trendcross/internal/model"
)

// Signal represents a crossover event emitted by a strategy.
type Signal struct {
	StrategyName string          `json:"strategy_name"`
	Kind         model.Signal    `json:"signal"`
	TS           time.Time       `json:"ts"`
	Price        float64         `json:"price"` // close of the signal bar
	Point        indicator.Point `json:"indicators"`
	Reason       string          `json:"reason"`
}

// Strategy is the interface that all signal strategies must implement.
type Strategy interface {
	// Name returns the unique name of the strategy.
	Name() string

	// OnBar is called for each closed bar, in order.
	// Return a Signal if the entry condition fired, or nil to skip.
	OnBar(bar model.Bar) *Signal

	// Warm feeds a bar into indicator state without evaluating signals.
	Warm(bar model.Bar)
}
