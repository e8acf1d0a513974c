// Package ratelimit admits or rejects inbound searches per client identity.
package ratelimit

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Defaults for the inbound window.
const (
	DefaultWindow      = 60 * time.Second
	DefaultMaxRequests = 100

	// AnonymousIdentity is the shared bucket for callers without an identity.
	AnonymousIdentity = "anonymous"
)

// Decision is the outcome of a single admission check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns how long a rejected caller should wait, rounded up to a second.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	wait := d.ResetAt.Sub(now)
	if wait <= 0 {
		return time.Second
	}
	return wait.Truncate(time.Second) + time.Second
}

type window struct {
	count int
	start time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithDecisionCounter attaches a counter vec with label "decision" (allowed/rejected).
func WithDecisionCounter(c *prometheus.CounterVec) Option {
	return func(l *Limiter) { l.decisions = c }
}

// Limiter is a fixed-window counter per identity. A window opens on the first
// request and resets once more than the window length has elapsed.
type Limiter struct {
	mu          sync.Mutex
	windows     map[string]*window
	window      time.Duration
	maxRequests int
	now         func() time.Time
	decisions   *prometheus.CounterVec
}

// New creates a limiter. Non-positive arguments fall back to the defaults.
func New(length time.Duration, maxRequests int, opts ...Option) *Limiter {
	if length <= 0 {
		length = DefaultWindow
	}
	if maxRequests <= 0 {
		maxRequests = DefaultMaxRequests
	}
	l := &Limiter{
		windows:     make(map[string]*window),
		window:      length,
		maxRequests: maxRequests,
		now:         time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Admit counts a request against identity and reports whether it may proceed.
// It never fails.
func (l *Limiter) Admit(identity string) Decision {
	if identity == "" {
		identity = AnonymousIdentity
	}
	now := l.now()

	l.mu.Lock()
	w, ok := l.windows[identity]
	if !ok || now.Sub(w.start) > l.window {
		w = &window{count: 1, start: now}
		l.windows[identity] = w
		d := Decision{Allowed: true, Remaining: l.maxRequests - 1, ResetAt: now.Add(l.window)}
		l.mu.Unlock()
		l.record(d)
		return d
	}

	var d Decision
	if w.count < l.maxRequests {
		w.count++
		d = Decision{Allowed: true, Remaining: l.maxRequests - w.count, ResetAt: w.start.Add(l.window)}
	} else {
		d = Decision{Allowed: false, Remaining: 0, ResetAt: w.start.Add(l.window)}
	}
	l.mu.Unlock()

	l.record(d)
	return d
}

// Sweep drops windows that have fully elapsed at now and returns how many were removed.
func (l *Limiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for id, w := range l.windows {
		if now.Sub(w.start) > l.window {
			delete(l.windows, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked identities.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Now exposes the limiter's clock so callers can compute Retry-After consistently.
func (l *Limiter) Now() time.Time { return l.now() }

func (l *Limiter) record(d Decision) {
	if l.decisions == nil {
		return
	}
	if d.Allowed {
		l.decisions.WithLabelValues("allowed").Inc()
	} else {
		l.decisions.WithLabelValues("rejected").Inc()
	}
}
