// Package sync reconciles the calendar with the current price periods:
// fetch samples, delete this tool's events in the affected window, then
// create one event per period.
package sync

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"tibbercal/internal/calendar"
	"tibbercal/internal/feed"
	"tibbercal/internal/history"
	"tibbercal/internal/lock"
	appLog "tibbercal/internal/log"
	"tibbercal/internal/model"
	"tibbercal/internal/segment"
	"tibbercal/internal/summary"
)

// Options configures an Orchestrator.
type Options struct {
	// CalendarID is the target calendar. Required.
	CalendarID string
	// TimeZone is the IANA zone name sent with every inserted event.
	TimeZone string
	// DryRun logs every delete and insert without performing it.
	DryRun bool
	// Ownership selects the events the delete pass may remove. Defaults to
	// calendar.TaggedBy with the summarizer's marker.
	Ownership calendar.Ownership

	// Locker, when set, guards the calendar for the duration of a run.
	Locker  lock.Locker
	LockTTL time.Duration

	// History, when set, receives every finished run.
	History history.Store
}

// Report describes one run. Per-item failures are counted here and never
// turn into an error return.
type Report struct {
	RunID      string
	DryRun     bool
	StartedAt  time.Time
	FinishedAt time.Time

	Samples     int
	WindowStart time.Time
	WindowEnd   time.Time

	Listed         int
	ListFailed     bool
	Deleted        int
	DeleteFailures int

	Periods        int
	Created        int
	CreateFailures int
}

// Duration is the wall time of the run.
func (r Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Orchestrator runs the sync. It keeps no state between runs.
type Orchestrator struct {
	fetcher    feed.Fetcher
	opener     calendar.Opener
	summarizer *summary.Summarizer
	opts       Options
	now        func() time.Time
}

// New creates an Orchestrator.
func New(fetcher feed.Fetcher, opener calendar.Opener, summarizer *summary.Summarizer, opts Options) *Orchestrator {
	if opts.Ownership == nil {
		opts.Ownership = calendar.TaggedBy(summarizer.Marker())
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 10 * time.Minute
	}
	return &Orchestrator{
		fetcher:    fetcher,
		opener:     opener,
		summarizer: summarizer,
		opts:       opts,
		now:        time.Now,
	}
}

// Window returns the half-open range covered by samples:
// [first timestamp, last timestamp + Slot). ok is false for no samples.
func Window(samples []model.PriceSample) (start, end time.Time, ok bool) {
	if len(samples) == 0 {
		return time.Time{}, time.Time{}, false
	}
	start, end = samples[0].Timestamp, samples[0].End()
	for _, s := range samples[1:] {
		if s.Timestamp.Before(start) {
			start = s.Timestamp
		}
		if s.End().After(end) {
			end = s.End()
		}
	}
	return start, end, true
}

// Run performs one sync. It returns an error only for setup failures:
// *feed.FetchError, *auth.AuthError, *model.ValidationError, lock.ErrLocked
// or context cancellation.
func (o *Orchestrator) Run(ctx context.Context) (Report, error) {
	rep := Report{
		RunID:     uuid.NewString(),
		DryRun:    o.opts.DryRun,
		StartedAt: o.now(),
	}
	lg := appLog.With("run_id", rep.RunID)
	lg.Info("sync started", "calendar_id", o.opts.CalendarID, "dry_run", o.opts.DryRun)

	err := o.runLocked(ctx, lg, &rep)

	rep.FinishedAt = o.now()
	if err != nil {
		lg.Error("sync aborted", err, "duration", rep.Duration())
	} else {
		lg.Info("sync finished",
			"samples", rep.Samples,
			"deleted", rep.Deleted,
			"delete_failures", rep.DeleteFailures,
			"periods", rep.Periods,
			"created", rep.Created,
			"create_failures", rep.CreateFailures,
			"duration", rep.Duration(),
		)
	}
	o.record(lg, rep, err)
	return rep, err
}

func (o *Orchestrator) runLocked(ctx context.Context, lg *appLog.Logger, rep *Report) error {
	if o.opts.Locker == nil {
		return o.run(ctx, lg, rep)
	}
	release, err := o.opts.Locker.Acquire(ctx, "calendar:"+o.opts.CalendarID, o.opts.LockTTL)
	if err != nil {
		return err
	}
	defer func() {
		// The run context may already be canceled; release regardless.
		relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := release(relCtx); err != nil {
			lg.Warn("lock release failed", "reason", err.Error())
		}
	}()
	return o.run(ctx, lg, rep)
}

func (o *Orchestrator) run(ctx context.Context, lg *appLog.Logger, rep *Report) error {
	samples, err := o.fetch(ctx)
	if err != nil {
		return err
	}
	rep.Samples = len(samples)

	svc, err := o.opener.Open(ctx)
	if err != nil {
		return err
	}

	start, end, ok := Window(samples)
	if !ok {
		lg.Info("no price samples; nothing to reconcile")
		return nil
	}
	rep.WindowStart, rep.WindowEnd = start, end

	// Segmentation has no side effects; doing it before the delete pass keeps
	// a malformed feed from emptying the window.
	result, err := segment.Segment(samples)
	if err != nil {
		return err
	}
	rep.Periods = result.Count()
	o.logPeriods(lg, result)

	if err := o.deletePass(ctx, lg, svc, start, end, rep); err != nil {
		return err
	}
	return o.createPass(ctx, lg, svc, result, samples, rep)
}

func (o *Orchestrator) fetch(ctx context.Context) ([]model.PriceSample, error) {
	samples, err := o.fetcher.Fetch(ctx)
	if err != nil {
		var fErr *feed.FetchError
		if !errors.As(err, &fErr) {
			err = &feed.FetchError{Op: "fetch", Err: err}
		}
		return nil, err
	}
	return samples, nil
}

func (o *Orchestrator) deletePass(ctx context.Context, lg *appLog.Logger, svc calendar.Service, start, end time.Time, rep *Report) error {
	events, err := svc.ListEvents(ctx, o.opts.CalendarID, start, end)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rep.ListFailed = true
		lg.Error("listing events failed; delete pass skipped", err,
			"window_start", start, "window_end", end)
		return nil
	}
	rep.Listed = len(events)

	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !o.opts.Ownership(ev) {
			continue
		}
		if o.opts.DryRun {
			lg.Info("dry run: would delete event", "event_id", ev.ID, "summary", ev.Summary)
			rep.Deleted++
			continue
		}
		if err := svc.DeleteEvent(ctx, o.opts.CalendarID, ev.ID); err != nil {
			rep.DeleteFailures++
			lg.Error("deleting event failed", err, "event_id", ev.ID, "summary", ev.Summary)
			continue
		}
		rep.Deleted++
		lg.Info("event deleted", "event_id", ev.ID, "summary", ev.Summary)
	}
	return nil
}

func (o *Orchestrator) createPass(ctx context.Context, lg *appLog.Logger, svc calendar.Service, result segment.Result, samples []model.PriceSample, rep *Report) error {
	loc := o.summarizer.Location()
	for _, p := range result.All() {
		if err := ctx.Err(); err != nil {
			return err
		}
		s := o.summarizer.Summarize(p, samples)
		ev := s.Event(o.opts.TimeZone)
		bounds := []any{
			"level", p.Level,
			"start", p.Start.In(loc).Format("02.01. 15:04"),
			"end", p.End.In(loc).Format("02.01. 15:04"),
		}

		if o.opts.DryRun {
			lg.Info("dry run: would create event", append(bounds, "title", s.Title)...)
			rep.Created++
			continue
		}
		id, err := svc.InsertEvent(ctx, o.opts.CalendarID, ev)
		if err != nil {
			rep.CreateFailures++
			lg.Error("creating event failed", err, bounds...)
			continue
		}
		rep.Created++
		lg.Info("event created", append(bounds, "event_id", id, "title", s.Title)...)
	}
	return nil
}

func (o *Orchestrator) logPeriods(lg *appLog.Logger, result segment.Result) {
	loc := o.summarizer.Location()
	for _, p := range result.Chronological() {
		lg.Info("price period",
			"level", p.Level,
			"start", p.Start.In(loc).Format("02.01. 15:04"),
			"end", p.End.In(loc).Format("02.01. 15:04"),
		)
	}
}

func (o *Orchestrator) record(lg *appLog.Logger, rep Report, runErr error) {
	if o.opts.History == nil {
		return
	}
	run := history.Run{
		ID:             rep.RunID,
		StartedAt:      rep.StartedAt,
		FinishedAt:     rep.FinishedAt,
		DryRun:         rep.DryRun,
		Samples:        rep.Samples,
		Deleted:        rep.Deleted,
		DeleteFailures: rep.DeleteFailures,
		Periods:        rep.Periods,
		Created:        rep.Created,
		CreateFailures: rep.CreateFailures,
		WindowStart:    rep.WindowStart,
		WindowEnd:      rep.WindowEnd,
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.opts.History.Record(ctx, run); err != nil {
		lg.Warn("recording run failed", "reason", err.Error())
	}
}

// Preview is the set of events a run would create.
type Preview struct {
	WindowStart time.Time         `json:"window_start"`
	WindowEnd   time.Time         `json:"window_end"`
	Samples     int               `json:"samples"`
	Periods     []summary.Summary `json:"periods"`
}

// Preview fetches, segments and summarizes without touching the calendar.
func (o *Orchestrator) Preview(ctx context.Context) (Preview, error) {
	var out Preview
	samples, err := o.fetch(ctx)
	if err != nil {
		return out, err
	}
	out.Samples = len(samples)
	out.Periods = []summary.Summary{}

	start, end, ok := Window(samples)
	if !ok {
		return out, nil
	}
	out.WindowStart, out.WindowEnd = start, end

	result, err := segment.Segment(samples)
	if err != nil {
		return out, err
	}
	for _, p := range result.All() {
		out.Periods = append(out.Periods, o.summarizer.Summarize(p, samples))
	}
	return out, nil
}
