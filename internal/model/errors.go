package model

import "errors"

var (
	// ErrInvalidConfiguration is returned before any processing when periods,
	// risk percentages or the bar sequence are unusable.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrDataGap is returned when bar timestamps are out of order or skip periods.
	ErrDataGap = errors.New("data gap detected")
)
