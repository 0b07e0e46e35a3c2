package ratelimit

import (
	"testing"

	"golang.org/x/time/rate"
)

func TestLimiter_AllowsBurstThenThrottles(t *testing.T) {
	l := New(rate.Limit(1), 2)

	if !l.Allow("session-a") {
		t.Fatal("first request should be allowed")
	}
	if !l.Allow("session-a") {
		t.Fatal("second request within burst should be allowed")
	}
	if l.Allow("session-a") {
		t.Fatal("third immediate request should be throttled")
	}
}

func TestLimiter_IsolatesPerSession(t *testing.T) {
	l := New(rate.Limit(1), 1)

	if !l.Allow("session-a") {
		t.Fatal("session-a should be allowed its first request")
	}
	if !l.Allow("session-b") {
		t.Fatal("session-b has an independent bucket and should be allowed")
	}
	if l.Allow("session-a") {
		t.Fatal("session-a should be throttled on its second immediate request")
	}
}
