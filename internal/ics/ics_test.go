package ics

import (
	"strings"
	"testing"
	"time"
)

const sampleICS = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:single@test\r\n" +
	"DTSTAMP:20250101T000000Z\r\n" +
	"DTSTART:20250115T100000Z\r\n" +
	"DTEND:20250115T120000Z\r\n" +
	"SUMMARY:Single\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:daily@test\r\n" +
	"DTSTAMP:20250101T000000Z\r\n" +
	"DTSTART:20250113T080000Z\r\n" +
	"DTEND:20250113T090000Z\r\n" +
	"RRULE:FREQ=DAILY;COUNT=5\r\n" +
	"EXDATE:20250115T080000Z\r\n" +
	"SUMMARY:Daily\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:daily@test\r\n" +
	"DTSTAMP:20250101T000000Z\r\n" +
	"RECURRENCE-ID:20250116T080000Z\r\n" +
	"DTSTART:20250116T083000Z\r\n" +
	"DTEND:20250116T093000Z\r\n" +
	"SUMMARY:Daily moved\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"DTSTAMP:20250101T000000Z\r\n" +
	"DTSTART:20250115T100000Z\r\n" +
	"SUMMARY:No UID\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestParseICS(t *testing.T) {
	events, err := ParseICS(Source{ID: "test"}, []byte(sampleICS))
	if err != nil {
		t.Fatalf("ParseICS() error: %v", err)
	}
	// The VEVENT without UID is skipped.
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}

	single := events[0]
	if single.UID != "single@test" || single.Summary != "Single" {
		t.Errorf("single = %+v", single)
	}
	if !single.Start.Equal(time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("single.Start = %v", single.Start)
	}
	if single.AllDay {
		t.Error("single should not be all-day")
	}

	daily := events[1]
	if daily.RawRRule != "FREQ=DAILY;COUNT=5" {
		t.Errorf("RawRRule = %q", daily.RawRRule)
	}
	if len(daily.ExDates) != 1 {
		t.Errorf("ExDates = %v", daily.ExDates)
	}
	if !events[2].IsOverride || events[2].Recurrence == nil {
		t.Errorf("override not detected: %+v", events[2])
	}
}

func TestParseICSEmpty(t *testing.T) {
	events, err := ParseICS(Source{ID: "empty"}, nil)
	if err != nil || len(events) != 0 {
		t.Errorf("ParseICS(nil) = %v, %v", events, err)
	}
}

func TestExpandOccurrences(t *testing.T) {
	events, err := ParseICS(Source{ID: "test"}, []byte(sampleICS))
	if err != nil {
		t.Fatalf("ParseICS() error: %v", err)
	}

	res, err := ExpandOccurrences(events, ExpandConfig{
		RangeStart: time.Date(2025, 1, 13, 0, 0, 0, 0, time.UTC),
		RangeEnd:   time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("ExpandOccurrences() error: %v", err)
	}

	// daily: 13, 14, (15 excluded), 16 moved, 17 ; single: 15
	var got []string
	for _, o := range res.Occurrences {
		got = append(got, o.UID+"@"+o.Start.Format("02T15:04"))
	}
	want := []string{
		"daily@test@13T08:00",
		"daily@test@14T08:00",
		"single@test@15T10:00",
		"daily@test@16T08:30",
		"daily@test@17T08:00",
	}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("occurrences:\n got %v\nwant %v", got, want)
	}
	for _, o := range res.Occurrences {
		if o.Start.Day() == 16 && o.Summary != "Daily moved" {
			t.Errorf("override summary not applied: %+v", o)
		}
	}
}

func TestExpandWindow(t *testing.T) {
	events, _ := ParseICS(Source{ID: "test"}, []byte(sampleICS))

	res, err := ExpandOccurrences(events, ExpandConfig{
		RangeStart: time.Date(2025, 1, 15, 11, 0, 0, 0, time.UTC),
		RangeEnd:   time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("ExpandOccurrences() error: %v", err)
	}
	// Only the single event overlaps; it started before the window.
	if len(res.Occurrences) != 1 || res.Occurrences[0].UID != "single@test" {
		t.Errorf("occurrences = %+v", res.Occurrences)
	}

	if _, err := ExpandOccurrences(nil, ExpandConfig{
		RangeStart: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
		RangeEnd:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}); err == nil {
		t.Error("expected error for inverted range")
	}
}

func TestDocumentRoundTrip(t *testing.T) {
	doc := NewDocument()
	start := time.Date(2025, 1, 15, 1, 0, 0, 0, time.UTC)
	doc.AddEvent(EventData{
		UID:         "a@tibbercal",
		Summary:     "⚡ Low electricity price: 10.0ct [CHEAP] #Tibber",
		Description: "02:00: 10.0ct",
		Start:       start,
		End:         start.Add(2 * time.Hour),
	}, start)
	doc.AddEvent(EventData{
		UID:     "b@tibbercal",
		Summary: "other",
		Start:   start.Add(5 * time.Hour),
		End:     start.Add(6 * time.Hour),
	}, start)

	if !doc.HasEvent("a@tibbercal") {
		t.Fatal("HasEvent(a) = false")
	}
	if !doc.RemoveEvent("b@tibbercal") {
		t.Fatal("RemoveEvent(b) = false")
	}
	if doc.RemoveEvent("b@tibbercal") {
		t.Error("second RemoveEvent(b) = true")
	}

	reread, err := ReadDocument(doc.Bytes())
	if err != nil {
		t.Fatalf("ReadDocument() error: %v", err)
	}
	if reread.HasEvent("b@tibbercal") || !reread.HasEvent("a@tibbercal") {
		t.Error("unexpected events after round trip")
	}

	events, err := ParseICS(Source{ID: "doc"}, doc.Bytes())
	if err != nil {
		t.Fatalf("ParseICS() error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if !events[0].Start.Equal(start) || !events[0].End.Equal(start.Add(2*time.Hour)) {
		t.Errorf("times = %v - %v", events[0].Start, events[0].End)
	}
	if !strings.Contains(events[0].Summary, "#Tibber") {
		t.Errorf("Summary = %q", events[0].Summary)
	}
}

func TestReadDocumentEmpty(t *testing.T) {
	doc, err := ReadDocument([]byte("  \n"))
	if err != nil {
		t.Fatalf("ReadDocument() error: %v", err)
	}
	if doc.HasEvent("x") {
		t.Error("empty document has events")
	}
}
