// Package scheduler runs the sync job on a cron schedule in -serve mode.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "tibbercal/internal/log"
)

// Job is one scheduled unit of work.
type Job func(ctx context.Context)

// Scheduler triggers a Job on a cron spec. Overlapping triggers are skipped
// while a run is still in progress; Trigger shares the same guard.
type Scheduler struct {
	cron *cron.Cron
	job  Job
	spec string

	mu      sync.Mutex
	running bool
	ctx     context.Context
	wg      sync.WaitGroup
}

// New parses spec (standard 5-field cron, or descriptors like "@hourly")
// in loc.
func New(spec string, loc *time.Location, job Job) (*Scheduler, error) {
	if loc == nil {
		loc = time.Local
	}
	s := &Scheduler{
		job:  job,
		spec: spec,
		ctx:  context.Background(),
	}
	s.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(appLog.CronLogger()),
		cron.WithChain(cron.Recover(appLog.CronLogger())),
	)
	if _, err := s.cron.AddFunc(spec, func() { s.Trigger() }); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins scheduling. Jobs receive ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	appLog.Info("scheduler started", "cron", s.spec, "next", s.Next())
}

// Stop halts scheduling and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.wg.Wait()
	appLog.Info("scheduler stopped")
}

// Next returns the next scheduled activation, zero before Start.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// Trigger runs the job now unless a run is in progress. It reports whether
// the job was started. The job runs synchronously in the caller.
func (s *Scheduler) Trigger() bool {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		appLog.Info("sync already running; trigger skipped")
		return false
	}
	s.running = true
	ctx := s.ctx
	s.wg.Add(1)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		s.wg.Done()
	}()

	s.job(ctx)
	return true
}

// Running reports whether a job is in progress.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
