// Package calendar defines the calendar capability the sync run talks to and
// the predicate that decides which events belong to this tool.
package calendar

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tibbercal/internal/model"
)

// Service is an authenticated calendar session.
type Service interface {
	// ListEvents returns the events overlapping [timeMin, timeMax), recurring
	// events expanded into single instances.
	ListEvents(ctx context.Context, calendarID string, timeMin, timeMax time.Time) ([]model.CalendarEvent, error)
	// InsertEvent creates an event and returns its backend id.
	InsertEvent(ctx context.Context, calendarID string, ev model.NewEvent) (string, error)
	DeleteEvent(ctx context.Context, calendarID, eventID string) error
}

// Opener performs the authentication step and yields a session.
type Opener interface {
	Open(ctx context.Context) (Service, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context) (Service, error)

func (f OpenerFunc) Open(ctx context.Context) (Service, error) {
	return f(ctx)
}

// Ownership decides whether an event was created by this tool and may be
// deleted by it.
type Ownership func(model.CalendarEvent) bool

// TaggedBy matches events whose summary contains marker. An empty marker
// matches nothing.
func TaggedBy(marker string) Ownership {
	return func(ev model.CalendarEvent) bool {
		return marker != "" && strings.Contains(ev.Summary, marker)
	}
}

// OperationError is a failed list, insert or delete call.
type OperationError struct {
	Op  string // "list", "insert" or "delete"
	ID  string // event id, or calendar id for list/insert
	Err error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("calendar %s %s: %v", e.Op, e.ID, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}
