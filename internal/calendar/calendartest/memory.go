// Package calendartest provides an in-memory calendar.Service for tests.
package calendartest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"tibbercal/internal/calendar"
	"tibbercal/internal/model"
)

// Memory is a calendar.Service and calendar.Opener backed by a map.
type Memory struct {
	mu     sync.Mutex
	events map[string]model.CalendarEvent
	seq    int

	// FailList makes ListEvents fail.
	FailList bool
	// FailDelete and FailInsert hold ids / summaries whose operation fails.
	FailDelete map[string]bool
	FailInsert map[string]bool
	// OpenErr is returned by Open.
	OpenErr error

	Deletes int
	Inserts int
}

// NewMemory returns an empty calendar seeded with events.
func NewMemory(seed ...model.CalendarEvent) *Memory {
	m := &Memory{
		events:     make(map[string]model.CalendarEvent),
		FailDelete: make(map[string]bool),
		FailInsert: make(map[string]bool),
	}
	for _, ev := range seed {
		m.events[ev.ID] = ev
	}
	return m
}

func (m *Memory) Open(context.Context) (calendar.Service, error) {
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	return m, nil
}

func (m *Memory) ListEvents(_ context.Context, calendarID string, timeMin, timeMax time.Time) ([]model.CalendarEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailList {
		return nil, &calendar.OperationError{Op: "list", ID: calendarID, Err: errors.New("listing unavailable")}
	}
	var out []model.CalendarEvent
	for _, ev := range m.events {
		if ev.Start.Before(timeMax) && ev.End.After(timeMin) {
			out = append(out, ev)
		}
	}
	sortEvents(out)
	return out, nil
}

func (m *Memory) InsertEvent(_ context.Context, calendarID string, ev model.NewEvent) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailInsert[ev.Summary] {
		return "", &calendar.OperationError{Op: "insert", ID: calendarID, Err: errors.New("quota exceeded")}
	}
	m.seq++
	id := fmt.Sprintf("ev-%d", m.seq)
	m.events[id] = model.CalendarEvent{
		ID:          id,
		Summary:     ev.Summary,
		Description: ev.Description,
		Start:       ev.Start,
		End:         ev.End,
	}
	m.Inserts++
	return id, nil
}

func (m *Memory) DeleteEvent(_ context.Context, _ string, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailDelete[eventID] {
		return &calendar.OperationError{Op: "delete", ID: eventID, Err: errors.New("forbidden")}
	}
	delete(m.events, eventID)
	m.Deletes++
	return nil
}

// Events returns a snapshot ordered by start.
func (m *Memory) Events() []model.CalendarEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.CalendarEvent, 0, len(m.events))
	for _, ev := range m.events {
		out = append(out, ev)
	}
	sortEvents(out)
	return out
}

func sortEvents(evs []model.CalendarEvent) {
	sort.Slice(evs, func(i, j int) bool {
		if !evs[i].Start.Equal(evs[j].Start) {
			return evs[i].Start.Before(evs[j].Start)
		}
		return evs[i].Summary < evs[j].Summary
	})
}
