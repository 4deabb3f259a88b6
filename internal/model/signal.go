package model

import "time"

// Signal is the crossover classification of a closed bar.
type Signal int

const (
	SignalNone Signal = iota
	SignalBullish
	SignalBearish
)

func (s Signal) String() string {
	switch s {
	case SignalBullish:
		return "bullish"
	case SignalBearish:
		return "bearish"
	default:
		return "none"
	}
}

// MarshalText encodes the signal by name.
func (s Signal) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// SignalPoint locates a fired signal in the bar sequence.
type SignalPoint struct {
	Index  int       `json:"index"`
	TS     time.Time `json:"ts"`
	Price  float64   `json:"price"` // bar close
	Signal Signal    `json:"signal"`
}

// UnmarshalText decodes a signal name; unknown names decode to SignalNone.
func (s *Signal) UnmarshalText(b []byte) error {
	switch string(b) {
	case "bullish":
		*s = SignalBullish
	case "bearish":
		*s = SignalBearish
	default:
		*s = SignalNone
	}
	return nil
}
