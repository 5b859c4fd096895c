// Package history records finished sync runs.
package history

import (
	"context"
	"sync"
	"time"
)

// Run is one finished sync run.
type Run struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DryRun     bool      `json:"dry_run"`

	Samples        int `json:"samples"`
	Deleted        int `json:"deleted"`
	DeleteFailures int `json:"delete_failures"`
	Periods        int `json:"periods"`
	Created        int `json:"created"`
	CreateFailures int `json:"create_failures"`

	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`

	// Error is set when the run aborted on a setup failure.
	Error string `json:"error,omitempty"`
}

// Store persists runs.
type Store interface {
	Record(ctx context.Context, run Run) error
	// Recent returns up to limit runs, newest first.
	Recent(ctx context.Context, limit int) ([]Run, error)
	Close() error
}

type NopStore struct{}

func (s *NopStore) Record(ctx context.Context, run Run) error {
	_ = ctx
	_ = run
	return nil
}

func (s *NopStore) Recent(ctx context.Context, limit int) ([]Run, error) {
	_ = ctx
	_ = limit
	return nil, nil
}

func (s *NopStore) Close() error {
	return nil
}

// Memory keeps the most recent runs in process.
type Memory struct {
	mu   sync.Mutex
	max  int
	runs []Run
}

// NewMemory keeps at most max runs.
func NewMemory(max int) *Memory {
	if max <= 0 {
		max = 50
	}
	return &Memory{max: max}
}

func (m *Memory) Record(_ context.Context, run Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	if len(m.runs) > m.max {
		m.runs = m.runs[len(m.runs)-m.max:]
	}
	return nil
}

func (m *Memory) Recent(_ context.Context, limit int) ([]Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > len(m.runs) {
		limit = len(m.runs)
	}
	out := make([]Run, 0, limit)
	for i := len(m.runs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.runs[i])
	}
	return out, nil
}

func (m *Memory) Close() error {
	return nil
}
