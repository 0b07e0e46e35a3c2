// Package ratelimit throttles ExecuteModelRequest per session, grounded on
// the teacher's internal/gateway/ratelimit.go per-IP limiter, retargeted to
// key on session UUID instead of client address.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter tracks per-session request rates. Limiting is per-replica: each
// core instance maintains its own counters, so with N replicas behind a
// channel fan-out the effective limit per session is N * rate. Acceptable
// for burst protection without shared state.
type Limiter struct {
	mu       sync.Mutex
	sessions map[string]*entry
	rate     rate.Limit
	burst    int
	cleanup  time.Duration
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New creates a limiter that allows r requests per second per session with
// a maximum burst of b. Stale entries are swept periodically.
func New(r rate.Limit, b int) *Limiter {
	l := &Limiter{
		sessions: make(map[string]*entry),
		rate:     r,
		burst:    b,
		cleanup:  3 * time.Minute,
	}
	go l.cleanupLoop()
	return l
}

// Allow reports whether a request for the given session UUID may proceed.
func (l *Limiter) Allow(sessionUUID string) bool {
	l.mu.Lock()
	e, ok := l.sessions[sessionUUID]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.sessions[sessionUUID] = e
	}
	e.lastSeen = time.Now()
	l.mu.Unlock()
	return e.limiter.Allow()
}

func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(l.cleanup)
	defer ticker.Stop()
	for range ticker.C {
		l.mu.Lock()
		for uuid, e := range l.sessions {
			if time.Since(e.lastSeen) > l.cleanup {
				delete(l.sessions, uuid)
			}
		}
		l.mu.Unlock()
	}
}
