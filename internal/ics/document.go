package ics

import (
	"bytes"
	"time"

	ical "github.com/arran4/golang-ical"
)

// ProductID is written to every calendar file created by this package.
const ProductID = "-//tibbercal//price periods//EN"

// Document is a mutable in-memory VCALENDAR.
type Document struct {
	cal *ical.Calendar
}

// NewDocument returns an empty calendar.
func NewDocument() *Document {
	cal := ical.NewCalendar()
	cal.SetProductId(ProductID)
	cal.SetMethod(ical.MethodPublish)
	return &Document{cal: cal}
}

// ReadDocument parses body. An empty body yields an empty calendar.
func ReadDocument(body []byte) (*Document, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return NewDocument(), nil
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	return &Document{cal: cal}, nil
}

// EventData is the content of a VEVENT to add.
type EventData struct {
	UID         string
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
}

// AddEvent appends a timed VEVENT. Times are written in UTC.
func (d *Document) AddEvent(ev EventData, stamp time.Time) {
	ve := d.cal.AddEvent(ev.UID)
	ve.SetDtStampTime(stamp.UTC())
	ve.SetStartAt(ev.Start.UTC())
	ve.SetEndAt(ev.End.UTC())
	ve.SetSummary(ev.Summary)
	if ev.Description != "" {
		ve.SetDescription(ev.Description)
	}
}

// RemoveEvent drops every VEVENT with the given UID, including recurrence
// overrides. It reports whether anything was removed.
func (d *Document) RemoveEvent(uid string) bool {
	kept := d.cal.Components[:0]
	removed := false
	for _, comp := range d.cal.Components {
		if ve, ok := comp.(*ical.VEvent); ok && ve.Id() == uid {
			removed = true
			continue
		}
		kept = append(kept, comp)
	}
	d.cal.Components = kept
	return removed
}

// HasEvent reports whether a VEVENT with uid exists.
func (d *Document) HasEvent(uid string) bool {
	for _, ve := range d.cal.Events() {
		if ve.Id() == uid {
			return true
		}
	}
	return false
}

// Bytes serializes the calendar.
func (d *Document) Bytes() []byte {
	return []byte(d.cal.Serialize())
}
