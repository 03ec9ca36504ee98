package service

import (
	"sync"
	"time"

	"github.com/kraklabs/tonebase-ask/internal/clock"
)

// RateLimiterConfig configures the sliding-window rate limiter that gates
// the first stage of the ask pipeline.
type RateLimiterConfig struct {
	// MaxRequests is the maximum number of admitted asks within Window.
	MaxRequests int
	// Window is the sliding window duration.
	Window time.Duration
	// CleanupInterval is how often stale session windows are purged.
	// Defaults to 5 minutes.
	CleanupInterval time.Duration
}

type sessionWindow struct {
	mu         sync.Mutex
	timestamps []time.Time
}

// RateLimiter implements a per-session sliding-window admission check.
// Safe for concurrent use.
type RateLimiter struct {
	config  RateLimiterConfig
	windows sync.Map // map[string]*sessionWindow
	clock   clock.Clock
	stopCh  chan struct{}
}

// NewRateLimiter creates a RateLimiter and starts its background cleanup
// goroutine. Call Stop to halt it.
func NewRateLimiter(config RateLimiterConfig, c clock.Clock) *RateLimiter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	if c == nil {
		c = clock.Real{}
	}

	rl := &RateLimiter{
		config: config,
		clock:  c,
		stopCh: make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

// Stop halts the background cleanup goroutine.
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			cutoff := rl.clock.Now().Add(-rl.config.Window)
			rl.windows.Range(func(key, value interface{}) bool {
				sw := value.(*sessionWindow)
				sw.mu.Lock()
				sw.timestamps = pruneExpired(sw.timestamps, cutoff)
				empty := len(sw.timestamps) == 0
				sw.mu.Unlock()
				if empty {
					rl.windows.Delete(key)
				}
				return true
			})
		}
	}
}

// Admit checks whether sessionID may issue another ask right now. When
// denied, retryAfter is the duration until the oldest request in the
// window falls out of it.
func (rl *RateLimiter) Admit(sessionID string) (ok bool, retryAfter time.Duration) {
	now := rl.clock.Now()
	cutoff := now.Add(-rl.config.Window)

	val, _ := rl.windows.LoadOrStore(sessionID, &sessionWindow{})
	sw := val.(*sessionWindow)

	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.timestamps = pruneExpired(sw.timestamps, cutoff)

	if len(sw.timestamps) >= rl.config.MaxRequests {
		oldest := sw.timestamps[0]
		retryAfter = oldest.Add(rl.config.Window).Sub(now)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		return false, retryAfter
	}

	sw.timestamps = append(sw.timestamps, now)
	return true, 0
}

func pruneExpired(timestamps []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for _, t := range timestamps {
		if !t.Before(cutoff) {
			timestamps[idx] = t
			idx++
		}
	}
	return timestamps[:idx]
}
