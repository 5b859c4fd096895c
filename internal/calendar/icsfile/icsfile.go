// Package icsfile implements calendar.Service on local iCalendar files, one
// <calendarID>.ics per calendar in a directory. Other tools can subscribe to
// or serve the files.
package icsfile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"tibbercal/internal/calendar"
	"tibbercal/internal/config"
	"tibbercal/internal/ics"
	appLog "tibbercal/internal/log"
	"tibbercal/internal/model"
)

// UIDDomain is appended to generated event UIDs.
const UIDDomain = "tibbercal"

// Store is a directory of calendar files.
type Store struct {
	dir string
	now func() time.Time

	mu sync.Mutex
}

// New returns a Store rooted at dir.
func New(dir string) *Store {
	return &Store{dir: dir, now: time.Now}
}

// Open implements calendar.Opener; there is nothing to authenticate.
func (s *Store) Open(ctx context.Context) (calendar.Service, error) {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return nil, fmt.Errorf("create calendar dir: %w", err)
	}
	return s, nil
}

// Path returns the file backing calendarID.
func (s *Store) Path(calendarID string) string {
	return filepath.Join(s.dir, calendarID+".ics")
}

// ListEvents implements calendar.Service. Recurring events are expanded; all
// instances of a series share the series UID as their id.
func (s *Store) ListEvents(ctx context.Context, calendarID string, timeMin, timeMax time.Time) ([]model.CalendarEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	body, err := s.read(calendarID)
	s.mu.Unlock()
	if err != nil {
		return nil, &calendar.OperationError{Op: "list", ID: calendarID, Err: err}
	}

	src := ics.Source{ID: calendarID, Path: s.Path(calendarID)}
	parsed, err := ics.ParseICS(src, body)
	if err != nil {
		return nil, &calendar.OperationError{Op: "list", ID: calendarID, Err: err}
	}
	res, err := ics.ExpandOccurrences(parsed, ics.ExpandConfig{
		Location:   timeMin.Location(),
		RangeStart: timeMin,
		RangeEnd:   timeMax,
	})
	if err != nil {
		return nil, &calendar.OperationError{Op: "list", ID: calendarID, Err: err}
	}

	out := make([]model.CalendarEvent, 0, len(res.Occurrences))
	for _, o := range res.Occurrences {
		out = append(out, model.CalendarEvent{
			ID:          o.UID,
			Summary:     o.Summary,
			Description: o.Description,
			Start:       o.Start,
			End:         o.End,
		})
	}
	return out, nil
}

// InsertEvent implements calendar.Service.
func (s *Store) InsertEvent(ctx context.Context, calendarID string, ev model.NewEvent) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	uid := uuid.NewString() + "@" + UIDDomain

	err := s.update(calendarID, func(doc *ics.Document) error {
		doc.AddEvent(ics.EventData{
			UID:         uid,
			Summary:     ev.Summary,
			Description: ev.Description,
			Start:       ev.Start,
			End:         ev.End,
		}, s.now())
		return nil
	})
	if err != nil {
		return "", &calendar.OperationError{Op: "insert", ID: calendarID, Err: err}
	}
	return uid, nil
}

// DeleteEvent implements calendar.Service. Deleting an unknown id succeeds.
func (s *Store) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.update(calendarID, func(doc *ics.Document) error {
		if !doc.RemoveEvent(eventID) {
			appLog.Debug("ics event already absent", "calendar_id", calendarID, "event_id", eventID)
			return errUnchanged
		}
		return nil
	})
	if err != nil && !errors.Is(err, errUnchanged) {
		return &calendar.OperationError{Op: "delete", ID: eventID, Err: err}
	}
	return nil
}

var errUnchanged = errors.New("unchanged")

// update applies fn to the parsed file and writes it back atomically.
func (s *Store) update(calendarID string, fn func(*ics.Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	body, err := s.read(calendarID)
	if err != nil {
		return err
	}
	doc, err := ics.ReadDocument(body)
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	return config.WriteFileAtomic(s.Path(calendarID), doc.Bytes(), ".tibbercal-ics-*.tmp")
}

// read returns the file content; a missing file is an empty calendar.
func (s *Store) read(calendarID string) ([]byte, error) {
	body, err := os.ReadFile(s.Path(calendarID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return body, err
}
