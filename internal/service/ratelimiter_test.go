package service

import (
	"testing"
	"time"

	"github.com/kraklabs/tonebase-ask/internal/clock"
)

func TestRateLimiter_AdmitsWithinLimit(t *testing.T) {
	fc := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	rl := NewRateLimiter(RateLimiterConfig{MaxRequests: 3, Window: time.Minute}, fc)
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		ok, _ := rl.Admit("sess-1")
		if !ok {
			t.Fatalf("request %d: expected admit", i)
		}
	}

	ok, retryAfter := rl.Admit("sess-1")
	if ok {
		t.Fatal("expected 4th request to be denied")
	}
	if retryAfter <= 0 {
		t.Fatalf("retryAfter = %v, want > 0", retryAfter)
	}
}

func TestRateLimiter_WindowSlides(t *testing.T) {
	fc := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	rl := NewRateLimiter(RateLimiterConfig{MaxRequests: 1, Window: time.Minute}, fc)
	defer rl.Stop()

	ok, _ := rl.Admit("sess-1")
	if !ok {
		t.Fatal("expected first request to be admitted")
	}

	ok, _ = rl.Admit("sess-1")
	if ok {
		t.Fatal("expected second immediate request to be denied")
	}

	fc.Advance(61 * time.Second)
	ok, _ = rl.Admit("sess-1")
	if !ok {
		t.Fatal("expected request to be admitted once window has slid past it")
	}
}

func TestRateLimiter_SessionsAreIndependent(t *testing.T) {
	fc := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	rl := NewRateLimiter(RateLimiterConfig{MaxRequests: 1, Window: time.Minute}, fc)
	defer rl.Stop()

	ok1, _ := rl.Admit("sess-1")
	ok2, _ := rl.Admit("sess-2")
	if !ok1 || !ok2 {
		t.Fatal("expected independent sessions to each get their own budget")
	}
}
