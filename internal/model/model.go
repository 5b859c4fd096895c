package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Slot is the length of time a single price sample covers.
const Slot = time.Hour

// PriceSample is one normalized price observation from the feed.
type PriceSample struct {
	// Timestamp is the start of the pricing slot.
	Timestamp time.Time
	// Price is in the feed's native currency/unit (e.g. EUR per kWh).
	Price decimal.Decimal
	Level Level
}

// End returns the exclusive end of the slot the sample covers.
func (s PriceSample) End() time.Time {
	return s.Timestamp.Add(Slot)
}

// Period is a half-open interval [Start, End) during which Level was
// continuously active.
type Period struct {
	Level Level
	Start time.Time
	End   time.Time
}

// Contains reports whether t lies inside [Start, End).
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// Duration returns the length of the period.
func (p Period) Duration() time.Duration {
	return p.End.Sub(p.Start)
}

// Overlaps reports whether two periods share any instant.
func (p Period) Overlaps(o Period) bool {
	return p.Start.Before(o.End) && o.Start.Before(p.End)
}

// CalendarEvent is an event as listed by the calendar provider. The provider
// owns it; this tool only creates and deletes events carrying its marker.
type CalendarEvent struct {
	ID          string
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
}

// NewEvent is the payload used to insert an event.
type NewEvent struct {
	Summary     string
	Description string
	Start       time.Time
	End         time.Time

	// TimeZone is the IANA zone the provider should display the event in.
	TimeZone string
}
