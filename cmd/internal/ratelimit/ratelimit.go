// Package ratelimit throttles message sends per account.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Defaults applied when a limiter is built with non-positive inputs.
const (
	DefaultLimit  = 30
	DefaultWindow = 10 * time.Second
)

// maxTrackedKeys bounds memory; idle keys are swept past this size.
const maxTrackedKeys = 50_000

// Memory is a per-key sliding-window limiter for single-process deployments.
type Memory struct {
	mu     sync.Mutex
	events map[string][]time.Time
	limit  int
	window time.Duration
}

// NewMemory constructs a Memory limiter with safe defaults when inputs are invalid.
func NewMemory(limit int, window time.Duration) *Memory {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Memory{
		events: make(map[string][]time.Time),
		limit:  limit,
		window: window,
	}
}

// Allow reports whether an event for key at time "now" should be permitted.
func (m *Memory) Allow(_ context.Context, key string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cut := now.Add(-m.window)
	evs := prune(m.events[key], cut)

	if len(m.events) >= maxTrackedKeys {
		m.sweep(cut)
	}

	if len(evs) >= m.limit {
		m.events[key] = evs
		return false, nil
	}
	m.events[key] = append(evs, now)
	return true, nil
}

func (m *Memory) sweep(cut time.Time) {
	for k, evs := range m.events {
		if evs = prune(evs, cut); len(evs) == 0 {
			delete(m.events, k)
		} else {
			m.events[k] = evs
		}
	}
}

func prune(evs []time.Time, cut time.Time) []time.Time {
	dst := evs[:0]
	for _, t := range evs {
		if t.After(cut) {
			dst = append(dst, t)
		}
	}
	return dst
}
