package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tibbercal/internal/config"
	"tibbercal/internal/history"
	"tibbercal/internal/model"
	"tibbercal/internal/summary"
	pricesync "tibbercal/internal/sync"
)

type fakePreviewer struct {
	calls int32
	err   error
}

func (f *fakePreviewer) Preview(context.Context) (pricesync.Preview, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return pricesync.Preview{}, f.err
	}
	start := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	p := model.Period{Level: model.LevelCheap, Start: start, End: start.Add(2 * time.Hour)}
	samples := []model.PriceSample{
		{Timestamp: start, Price: decimal.RequireFromString("0.1"), Level: model.LevelCheap},
		{Timestamp: start.Add(time.Hour), Price: decimal.RequireFromString("0.1"), Level: model.LevelCheap},
	}
	return pricesync.Preview{
		WindowStart: start,
		WindowEnd:   start.Add(2 * time.Hour),
		Samples:     2,
		Periods:     []summary.Summary{summary.New(summary.DefaultFormat()).Summarize(p, samples)},
	}, nil
}

type fakeRunner struct {
	running  bool
	triggers int32
	next     time.Time
}

func (f *fakeRunner) Trigger() bool {
	atomic.AddInt32(&f.triggers, 1)
	return true
}
func (f *fakeRunner) Running() bool   { return f.running }
func (f *fakeRunner) Next() time.Time { return f.next }

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Calendar.ID = "prices"
	return cfg
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := NewServer(testConfig(), &fakePreviewer{}, nil, nil)
	rec := do(t, s.Handler(), http.MethodGet, "/health")
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("GET /health = %d %q", rec.Code, rec.Body.String())
	}
}

func TestBasicAuth(t *testing.T) {
	cfg := testConfig()
	cfg.Web.BasicAuth = config.BasicAuthConfig{Username: "admin", Password: "pw"}
	s := NewServer(cfg, &fakePreviewer{}, &fakeRunner{}, nil)
	h := s.Handler()

	if rec := do(t, h, http.MethodGet, "/health"); rec.Code != http.StatusOK {
		t.Errorf("/health without auth = %d, want 200", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/status"); rec.Code != http.StatusUnauthorized {
		t.Errorf("/api/status without auth = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.SetBasicAuth("admin", "pw")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("/api/status with auth = %d, want 200", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.SetBasicAuth("admin", "wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("/api/status with wrong password = %d, want 401", rec.Code)
	}
}

func TestStatus(t *testing.T) {
	next := time.Date(2025, 1, 15, 14, 15, 0, 0, time.UTC)
	s := NewServer(testConfig(), &fakePreviewer{}, &fakeRunner{running: true, next: next}, nil)

	rec := do(t, s.Handler(), http.MethodGet, "/api/status")
	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.CalendarID != "prices" || !resp.Running || resp.NextRun == nil || !resp.NextRun.Equal(next) {
		t.Errorf("status = %+v", resp)
	}
}

func TestRuns(t *testing.T) {
	hist := history.NewMemory(10)
	hist.Record(context.Background(), history.Run{ID: "r1", Created: 3})
	hist.Record(context.Background(), history.Run{ID: "r2", Error: "boom"})
	s := NewServer(testConfig(), &fakePreviewer{}, nil, hist)

	rec := do(t, s.Handler(), http.MethodGet, "/api/runs?limit=1")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/runs = %d", rec.Code)
	}
	var runs []history.Run
	if err := json.Unmarshal(rec.Body.Bytes(), &runs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "r2" {
		t.Errorf("runs = %+v", runs)
	}

	// Without history the list is empty, not null.
	s = NewServer(testConfig(), &fakePreviewer{}, nil, nil)
	rec = do(t, s.Handler(), http.MethodGet, "/api/runs")
	if rec.Body.String() != "[]\n" {
		t.Errorf("body = %q, want []", rec.Body.String())
	}
}

func TestPeriods(t *testing.T) {
	prev := &fakePreviewer{}
	cfg := testConfig()
	cfg.Timezone = "Europe/Berlin"
	s := NewServer(cfg, prev, nil, nil)
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/api/periods")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/periods = %d %s", rec.Code, rec.Body.String())
	}
	var resp periodsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Periods) != 1 {
		t.Fatalf("periods = %+v", resp.Periods)
	}
	got := resp.Periods[0]
	if got.Level != "CHEAP" || got.PriceRange != "10.0ct" {
		t.Errorf("period = %+v", got)
	}
	if _, off := got.Start.Zone(); off != 3600 {
		t.Errorf("Start offset = %d, want +01:00", off)
	}

	// Served from cache.
	do(t, h, http.MethodGet, "/api/periods")
	if prev.calls != 1 {
		t.Errorf("preview calls = %d, want 1 (cached)", prev.calls)
	}
	do(t, h, http.MethodGet, "/api/periods?refresh=1")
	if prev.calls != 2 {
		t.Errorf("preview calls = %d, want 2 after refresh", prev.calls)
	}
}

func TestPeriodsError(t *testing.T) {
	s := NewServer(testConfig(), &fakePreviewer{err: errors.New("feed down")}, nil, nil)
	rec := do(t, s.Handler(), http.MethodGet, "/api/periods")
	if rec.Code != http.StatusBadGateway {
		t.Errorf("GET /api/periods = %d, want 502", rec.Code)
	}
}

func TestRun(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		r := &fakeRunner{}
		s := NewServer(testConfig(), &fakePreviewer{}, r, nil)
		rec := do(t, s.Handler(), http.MethodPost, "/api/run")
		if rec.Code != http.StatusAccepted {
			t.Fatalf("POST /api/run = %d, want 202", rec.Code)
		}
		deadline := time.Now().Add(time.Second)
		for atomic.LoadInt32(&r.triggers) == 0 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		if atomic.LoadInt32(&r.triggers) != 1 {
			t.Errorf("triggers = %d, want 1", atomic.LoadInt32(&r.triggers))
		}
	})

	t.Run("conflict while running", func(t *testing.T) {
		s := NewServer(testConfig(), &fakePreviewer{}, &fakeRunner{running: true}, nil)
		if rec := do(t, s.Handler(), http.MethodPost, "/api/run"); rec.Code != http.StatusConflict {
			t.Errorf("POST /api/run = %d, want 409", rec.Code)
		}
	})

	t.Run("GET not allowed", func(t *testing.T) {
		s := NewServer(testConfig(), &fakePreviewer{}, &fakeRunner{}, nil)
		if rec := do(t, s.Handler(), http.MethodGet, "/api/run"); rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("GET /api/run = %d, want 405", rec.Code)
		}
	})

	t.Run("no runner", func(t *testing.T) {
		s := NewServer(testConfig(), &fakePreviewer{}, nil, nil)
		if rec := do(t, s.Handler(), http.MethodPost, "/api/run"); rec.Code != http.StatusServiceUnavailable {
			t.Errorf("POST /api/run = %d, want 503", rec.Code)
		}
	})
}
