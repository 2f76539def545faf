// Package ratelimit provides a generic per-key sliding-window gate: at most
// one recorded action per key per window.
package ratelimit

import (
	"sync"
	"time"

	"github.com/chorusbot/chorus/internal/clock"
)

// Limiter gates actions per key. Expiry is evaluated lazily at read time; the
// periodic sweep only bounds memory, it never changes answers.
type Limiter struct {
	window time.Duration
	clk    clock.Clock

	mu      sync.Mutex
	entries map[string]time.Time
	sweep   clock.Timer
	stopped bool
}

// New creates a limiter with the given window.
func New(window time.Duration, clk clock.Clock) *Limiter {
	return &Limiter{
		window:  window,
		clk:     clk,
		entries: make(map[string]time.Time),
	}
}

// CanRequest reports whether key is currently allowed to act.
func (l *Limiter) CanRequest(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	last, ok := l.entries[key]
	if !ok {
		return true
	}
	return l.clk.Now().Sub(last) >= l.window
}

// Record marks key as having acted now.
func (l *Limiter) Record(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[key] = l.clk.Now()
}

// TimeUntilNext returns how long key must wait before acting again.
// Zero means the key may act immediately.
func (l *Limiter) TimeUntilNext(key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	last, ok := l.entries[key]
	if !ok {
		return 0
	}
	remaining := l.window - l.clk.Now().Sub(last)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// StartSweeper begins the periodic cleanup pass at half the window interval.
// Call Stop to cancel it.
func (l *Limiter) StartSweeper() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sweep != nil || l.stopped {
		return
	}
	l.armSweepLocked()
}

// Stop cancels the sweeper. The limiter remains usable; only the background
// memory bound goes away.
func (l *Limiter) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopped = true
	if l.sweep != nil {
		l.sweep.Stop()
		l.sweep = nil
	}
}

func (l *Limiter) armSweepLocked() {
	l.sweep = l.clk.AfterFunc(l.window/2, func() {
		l.mu.Lock()
		defer l.mu.Unlock()

		now := l.clk.Now()
		for key, last := range l.entries {
			if now.Sub(last) > l.window {
				delete(l.entries, key)
			}
		}
		if !l.stopped {
			l.armSweepLocked()
		}
	})
}
