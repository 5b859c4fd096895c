// Package google implements calendar.Service on the Google Calendar API v3.
package google

import (
	"context"
	"errors"
	"net/http"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"tibbercal/internal/auth"
	"tibbercal/internal/calendar"
	appLog "tibbercal/internal/log"
	"tibbercal/internal/model"
)

// Service wraps an authenticated Calendar API client.
type Service struct {
	events *gcal.EventsService
}

// New creates a Service from API client options.
func New(ctx context.Context, opts ...option.ClientOption) (*Service, error) {
	srv, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &Service{events: srv.Events}, nil
}

// Opener authenticates through an auth.Provider on every Open.
type Opener struct {
	Provider auth.Provider
	// Options are appended after the token source (endpoint overrides in tests).
	Options []option.ClientOption
}

// Open implements calendar.Opener. Authentication failures surface as
// *auth.AuthError.
func (o *Opener) Open(ctx context.Context) (calendar.Service, error) {
	if _, err := o.Provider.Get(ctx); err != nil {
		return nil, err
	}
	opts := append([]option.ClientOption{option.WithTokenSource(o.Provider.TokenSource(ctx))}, o.Options...)
	srv, err := New(ctx, opts...)
	if err != nil {
		return nil, &auth.AuthError{Op: "open calendar client", Err: err}
	}
	return srv, nil
}

// ListEvents implements calendar.Service. Recurring events are expanded by
// the API (singleEvents) and every page is consumed.
func (s *Service) ListEvents(ctx context.Context, calendarID string, timeMin, timeMax time.Time) ([]model.CalendarEvent, error) {
	call := s.events.List(calendarID).
		Context(ctx).
		TimeMin(timeMin.Format(time.RFC3339)).
		TimeMax(timeMax.Format(time.RFC3339)).
		SingleEvents(true).
		ShowDeleted(false).
		OrderBy("startTime").
		MaxResults(250)

	var out []model.CalendarEvent
	err := call.Pages(ctx, func(page *gcal.Events) error {
		for _, item := range page.Items {
			ev, err := fromAPI(item)
			if err != nil {
				appLog.Warn("skipping unreadable event", "event_id", item.Id, "reason", err.Error())
				continue
			}
			out = append(out, ev)
		}
		return nil
	})
	if err != nil {
		return nil, &calendar.OperationError{Op: "list", ID: calendarID, Err: err}
	}
	return out, nil
}

// InsertEvent implements calendar.Service.
func (s *Service) InsertEvent(ctx context.Context, calendarID string, ev model.NewEvent) (string, error) {
	item := &gcal.Event{
		Summary:     ev.Summary,
		Description: ev.Description,
		Start:       toDateTime(ev.Start, ev.TimeZone),
		End:         toDateTime(ev.End, ev.TimeZone),
	}
	created, err := s.events.Insert(calendarID, item).Context(ctx).Do()
	if err != nil {
		return "", &calendar.OperationError{Op: "insert", ID: calendarID, Err: err}
	}
	return created.Id, nil
}

// DeleteEvent implements calendar.Service. An event that is already gone
// counts as deleted.
func (s *Service) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	err := s.events.Delete(calendarID, eventID).Context(ctx).Do()
	if err == nil {
		return nil
	}
	var gErr *googleapi.Error
	if errors.As(err, &gErr) && (gErr.Code == http.StatusNotFound || gErr.Code == http.StatusGone) {
		return nil
	}
	return &calendar.OperationError{Op: "delete", ID: eventID, Err: err}
}

func toDateTime(t time.Time, tz string) *gcal.EventDateTime {
	if tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			t = t.In(loc)
		}
	}
	return &gcal.EventDateTime{
		DateTime: t.Format(time.RFC3339),
		TimeZone: tz,
	}
}

func fromAPI(item *gcal.Event) (model.CalendarEvent, error) {
	start, err := parseDateTime(item.Start)
	if err != nil {
		return model.CalendarEvent{}, err
	}
	end, err := parseDateTime(item.End)
	if err != nil {
		return model.CalendarEvent{}, err
	}
	return model.CalendarEvent{
		ID:          item.Id,
		Summary:     item.Summary,
		Description: item.Description,
		Start:       start,
		End:         end,
	}, nil
}

// parseDateTime reads a timed or all-day boundary.
func parseDateTime(dt *gcal.EventDateTime) (time.Time, error) {
	if dt == nil {
		return time.Time{}, errors.New("missing start or end")
	}
	if dt.DateTime != "" {
		return time.Parse(time.RFC3339, dt.DateTime)
	}
	if dt.Date != "" {
		loc := time.UTC
		if dt.TimeZone != "" {
			if l, err := time.LoadLocation(dt.TimeZone); err == nil {
				loc = l
			}
		}
		return time.ParseInLocation("2006-01-02", dt.Date, loc)
	}
	return time.Time{}, errors.New("empty date/time")
}
