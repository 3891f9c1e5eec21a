package sse

import (
	"math/rand/v2"
	"time"
)

const (
	// DefaultInitialReconnectTime is Config.ReconnectTime's zero-value
	// default.
	DefaultInitialReconnectTime = 1 * time.Second
	// DefaultMaxReconnectTime is ReconnectPolicy.MaxReconnectTime's
	// zero-value default.
	DefaultMaxReconnectTime = 30 * time.Second
	// DefaultBackoffResetThreshold is
	// ReconnectPolicy.BackoffResetThreshold's zero-value default.
	DefaultBackoffResetThreshold = 60 * time.Second

	maxBackoffMillis = (1 << 31) - 1
)

// ReconnectPolicy holds the reconnect/backoff configuration, part of which
// — InitialReconnectTime — the server can override via a "retry:" field.
type ReconnectPolicy struct {
	InitialReconnectTime  time.Duration
	MaxReconnectTime      time.Duration
	BackoffResetThreshold time.Duration
}

// normalized returns p with a zero MaxReconnectTime or
// BackoffResetThreshold replaced by its documented default.
// InitialReconnectTime is kept as is: zero or negative means no delay.
func (p ReconnectPolicy) normalized() ReconnectPolicy {
	if p.MaxReconnectTime == 0 {
		p.MaxReconnectTime = DefaultMaxReconnectTime
	}
	if p.BackoffResetThreshold == 0 {
		p.BackoffResetThreshold = DefaultBackoffResetThreshold
	}
	return p
}

// computeBackoff computes the next reconnect sleep. attempts is the 1-based
// attempt counter going into this sleep; connectedAt is the wall-clock
// time the previous attempt entered OPEN (zero if it never did). It
// returns the sleep duration and the attempt counter to use for the *next*
// call (reset to 1 when the backoffResetThreshold condition fires).
//
// If InitialReconnectTime <= 0, no delay applies and attempts passes
// through unchanged — an escape hatch for callers that want
// immediate, unbounded-rate reconnects.
func computeBackoff(policy ReconnectPolicy, attempts int, connectedAt time.Time, now time.Time) (sleep time.Duration, nextAttempts int) {
	policy = policy.normalized()
	if policy.InitialReconnectTime <= 0 {
		return 0, attempts
	}
	if attempts < 1 {
		attempts = 1
	}
	if !connectedAt.IsZero() && now.Sub(connectedAt) >= policy.BackoffResetThreshold {
		attempts = 1
	}

	ceilingMillis := saturatingCeilingMillis(policy.InitialReconnectTime, policy.MaxReconnectTime, attempts)
	ceiling := time.Duration(ceilingMillis) * time.Millisecond

	half := ceiling / 2
	jitter := time.Duration(0)
	if ceiling > 0 {
		jitter = time.Duration(rand.Int64N(int64(ceiling)+1)) / 2
	}
	return half + jitter, attempts
}

func saturatingCeilingMillis(initial, max time.Duration, attempts int) int64 {
	initMillis := initial.Milliseconds()
	maxMillis := max.Milliseconds()

	shift := attempts
	if shift > 62 {
		shift = 62
	}
	scaled := initMillis
	overflow := false
	for i := 0; i < shift; i++ {
		scaled *= 2
		if scaled > maxBackoffMillis || scaled < 0 {
			overflow = true
			break
		}
	}
	if overflow || scaled > maxBackoffMillis {
		scaled = maxBackoffMillis
	}
	if scaled > maxMillis {
		scaled = maxMillis
	}
	return scaled
}
