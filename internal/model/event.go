package model

import (
	"encoding/json"
	"time"
)

// EventType tags a live engine event.
type EventType string

const (
	EventBar    EventType = "market_data"
	EventSignal EventType = "signal"
	EventEntry  EventType = "entry"
	EventExit   EventType = "exit"
)

// Event is an immutable record pushed from a live session to collaborators
// (notifiers, pub/sub, dashboards). Exactly one of the pointer payloads is
// set, according to Type; Signal is set for EventSignal.
type Event struct {
	Type     EventType `json:"type"`
	Series   Series    `json:"series"`
	TS       time.Time `json:"ts"` // bar time that produced the event
	Signal   Signal    `json:"signal,omitempty"`
	Price    float64   `json:"price,omitempty"`
	Bar      *Bar      `json:"bar,omitempty"`
	Position *Position `json:"position,omitempty"`
	Trade    *Trade    `json:"trade,omitempty"`
}

// JSON returns the JSON-encoded event.
func (e *Event) JSON() []byte {
	b, _ := json.Marshal(e)
	return b
}
