// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RealmGate Contributors

package front

import (
	"time"
)

// Throttle is the per-connection request pacing state for a connection that
// has not yet authenticated. Requests arriving before the next allowed
// instant are rejected; every accepted request pushes both the next allowed
// instant and the idle deadline forward. Not safe for concurrent use: each
// connection is served by exactly one goroutine.
type Throttle struct {
	minInterval time.Duration
	idleTimeout time.Duration

	nextAllowed  time.Time
	idleDeadline time.Time
}

// NewThrottle creates a Throttle. The first request is allowed immediately;
// the idle deadline starts counting from now.
func NewThrottle(minInterval, idleTimeout time.Duration, now time.Time) *Throttle {
	return &Throttle{
		minInterval:  minInterval,
		idleTimeout:  idleTimeout,
		nextAllowed:  now,
		idleDeadline: now.Add(idleTimeout),
	}
}

// Allow reports whether a request arriving at now is within the allowed
// rate. An accepted request refreshes the idle deadline; a rejected one does
// not, so a client spamming rejected requests still idles out.
func (t *Throttle) Allow(now time.Time) bool {
	if now.Before(t.nextAllowed) {
		return false
	}
	t.nextAllowed = now.Add(t.minInterval)
	t.idleDeadline = now.Add(t.idleTimeout)
	return true
}

// IdleDeadline returns the instant after which the connection is considered
// abandoned and torn down.
func (t *Throttle) IdleDeadline() time.Time {
	return t.idleDeadline
}

// RetryAfter returns how long the caller must wait before the next request
// is accepted. Zero when a request would be accepted now.
func (t *Throttle) RetryAfter(now time.Time) time.Duration {
	if !now.Before(t.nextAllowed) {
		return 0
	}
	return t.nextAllowed.Sub(now)
}
