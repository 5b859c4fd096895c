package lock

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"
)

func TestLocal(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()
	now := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	l.clock = func() time.Time { return now }

	release, err := l.Acquire(ctx, "cal", time.Minute)
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	if _, err := l.Acquire(ctx, "cal", time.Minute); !errors.Is(err, ErrLocked) {
		t.Fatalf("second Acquire() error = %v, want ErrLocked", err)
	}
	if _, err := l.Acquire(ctx, "other", time.Minute); err != nil {
		t.Errorf("independent key: %v", err)
	}

	if err := release(ctx); err != nil {
		t.Fatalf("release() error: %v", err)
	}
	release2, err := l.Acquire(ctx, "cal", time.Minute)
	if err != nil {
		t.Fatalf("Acquire() after release: %v", err)
	}

	// A stale release from the first holder must not free the new holder.
	release(ctx)
	if _, err := l.Acquire(ctx, "cal", time.Minute); !errors.Is(err, ErrLocked) {
		t.Errorf("stale release freed the lock: %v", err)
	}
	release2(ctx)
}

func TestLocalExpiry(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()
	now := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	l.clock = func() time.Time { return now }

	if _, err := l.Acquire(ctx, "cal", time.Minute); err != nil {
		t.Fatal(err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := l.Acquire(ctx, "cal", time.Minute); err != nil {
		t.Errorf("expired lock still held: %v", err)
	}
}

// TestRedis runs against a real server when TIBBERCAL_TEST_REDIS is set,
// e.g. TIBBERCAL_TEST_REDIS=localhost:6379.
func TestRedis(t *testing.T) {
	addr := os.Getenv("TIBBERCAL_TEST_REDIS")
	if addr == "" {
		t.Skip("TIBBERCAL_TEST_REDIS not set")
	}
	ctx := context.Background()
	r, err := Dial(ctx, addr, "", 0)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer r.Close()

	key := "test-" + time.Now().Format("150405.000000")
	release, err := r.Acquire(ctx, key, 5*time.Second)
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	if _, err := r.Acquire(ctx, key, 5*time.Second); !errors.Is(err, ErrLocked) {
		t.Errorf("second Acquire() error = %v, want ErrLocked", err)
	}
	if err := release(ctx); err != nil {
		t.Fatalf("release() error: %v", err)
	}
	release2, err := r.Acquire(ctx, key, 5*time.Second)
	if err != nil {
		t.Fatalf("Acquire() after release: %v", err)
	}
	release2(ctx)
}

func TestDialUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := Dial(ctx, "127.0.0.1:1", "", 0); err == nil {
		t.Error("expected error dialing closed port")
	}
}
