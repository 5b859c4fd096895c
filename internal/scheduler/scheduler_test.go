package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewInvalidSpec(t *testing.T) {
	if _, err := New("not a cron", time.UTC, func(context.Context) {}); err == nil {
		t.Error("expected error for invalid spec")
	}
}

func TestTriggerSkipsWhileRunning(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var runs int32

	s, err := New("@every 1h", time.UTC, func(context.Context) {
		atomic.AddInt32(&runs, 1)
		close(started)
		<-release
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	done := make(chan bool)
	go func() { done <- s.Trigger() }()
	<-started

	if !s.Running() {
		t.Error("Running() = false during job")
	}
	if s.Trigger() {
		t.Error("overlapping Trigger() started a second run")
	}

	close(release)
	if !<-done {
		t.Error("first Trigger() reported not started")
	}
	if s.Running() {
		t.Error("Running() = true after job")
	}
	if atomic.LoadInt32(&runs) != 1 {
		t.Errorf("runs = %d, want 1", runs)
	}
}

func TestScheduledRun(t *testing.T) {
	fired := make(chan struct{}, 1)
	s, err := New("@every 1s", time.UTC, func(ctx context.Context) {
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	if s.Next().IsZero() {
		t.Error("Next() is zero after Start")
	}

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not fire")
	}
}

func TestJobReceivesContext(t *testing.T) {
	type key struct{}
	var got any
	s, err := New("@daily", time.UTC, func(ctx context.Context) {
		got = ctx.Value(key{})
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.WithValue(context.Background(), key{}, "v")
	s.Start(ctx)
	s.Trigger()
	s.Stop()
	if got != "v" {
		t.Errorf("ctx value = %v, want v", got)
	}
}
