package redis

import "trendcross/internal/model"

const (
	eventsStreamPrefix = "events:"
	eventsPubPrefix    = "pub:events:"
	summaryPrefix      = "summary:"
	positionPrefix     = "position:"
)

// EventsStream is the capped stream holding a series' live events.
func EventsStream(s model.Series) string { return eventsStreamPrefix + s.Key() }

// EventsChannel is the pub/sub channel mirroring EventsStream.
func EventsChannel(s model.Series) string { return eventsPubPrefix + s.Key() }

// SummaryKey holds the latest JSON summary for a series.
func SummaryKey(s model.Series) string { return summaryPrefix + s.Key() }

// PositionKey holds the open position for a series; absent when flat.
func PositionKey(s model.Series) string { return positionPrefix + s.Key() }
