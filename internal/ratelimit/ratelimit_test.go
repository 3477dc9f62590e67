package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestHostLimiter_Allow(t *testing.T) {
	tests := []struct {
		name     string
		rps      float64
		burst    int
		calls    int
		wantPass int
	}{
		{name: "burst allows initial requests", rps: 1, burst: 3, calls: 3, wantPass: 3},
		{name: "exceeding burst blocks", rps: 1, burst: 2, calls: 5, wantPass: 2},
		{name: "burst below one is clamped", rps: 1, burst: 0, calls: 3, wantPass: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New(tt.rps, tt.burst)
			defer l.Stop()

			passed := 0
			for range tt.calls {
				if l.Allow("api.example.com") {
					passed++
				}
			}
			if passed != tt.wantPass {
				t.Errorf("Allow() passed %d, want %d", passed, tt.wantPass)
			}
		})
	}
}

func TestHostLimiter_NilIsUnlimited(t *testing.T) {
	l := New(0, 5)
	if l != nil {
		t.Fatal("New(0, ...) should return nil")
	}
	for range 100 {
		if !l.Allow("host") {
			t.Fatal("nil limiter must always allow")
		}
	}
	if err := l.Wait(context.Background(), "host"); err != nil {
		t.Fatalf("nil limiter Wait() = %v", err)
	}
	l.Stop()
}

func TestHostLimiter_WaitContextCanceled(t *testing.T) {
	l := New(0.1, 1)
	defer l.Stop()

	l.Allow("host")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := l.Wait(ctx, "host"); err == nil {
		t.Error("Wait() should fail when context is canceled")
	}
}

func TestHostLimiter_IndependentKeys(t *testing.T) {
	l := New(1, 1)
	defer l.Stop()

	l.Allow("a.example.com")
	if l.Allow("a.example.com") {
		t.Error("a.example.com should be exhausted")
	}
	if !l.Allow("b.example.com") {
		t.Error("b.example.com should be independent and allowed")
	}
}

func TestHostLimiter_EvictIdle(t *testing.T) {
	l := New(1, 1)
	defer l.Stop()

	l.Allow("old")
	l.Allow("fresh")
	l.mu.Lock()
	l.buckets["old"].lastUsed = time.Now().Add(-time.Hour)
	l.mu.Unlock()

	l.evictIdle(time.Now(), time.Minute)

	if l.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", l.Len())
	}
}
