// Package retry decides what happens next to a queue item that failed
// to dispatch: reschedule with exponential backoff, reschedule without
// consuming a retry (rate-limited), or terminate. Generalizes
// listmonk's sliding-window wait-and-resume (internal/manager/manager.go
// worker loop's time.Sleep/time.NewTicker pause) from "pause the whole
// worker" to "reschedule a single item", using cenkalti/backoff/v4 for
// the exponential series but pinning its base/multiplier to explicit,
// deterministic constants instead of the library's jittered defaults.
package retry

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/outreachforge/engine/internal/errs"
	"github.com/outreachforge/engine/internal/models"
)

// Policy configures the deterministic exponential series for a channel.
type Policy struct {
	BaseDelay  time.Duration
	Multiplier float64
	MaxRetries int
}

// DefaultPolicies returns the default per-channel policies: a 1m
// base/2x series capped at 3 retries everywhere, except email which uses
// a 2m base (spec.md §4.5).
func DefaultPolicies() map[models.Channel]Policy {
	base := Policy{BaseDelay: time.Minute, Multiplier: 2, MaxRetries: 3}
	email := base
	email.BaseDelay = 2 * time.Minute
	return map[models.Channel]Policy{
		models.ChannelEmail:    email,
		models.ChannelCall:     base,
		models.ChannelLinkedIn: base,
	}
}

// newBackOff builds a non-jittered exponential series for p, pinned so
// NextSchedule stays a pure, testable function of retryCount.
func (p Policy) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0 // the caller enforces MaxRetries, not elapsed time
	b.Reset()
	return b
}

// NextSchedule returns the time at which retryCount+1 should be
// attempted, deterministic given (p, retryCount, now).
func (p Policy) NextSchedule(retryCount int, now time.Time) time.Time {
	b := p.newBackOff()
	var d time.Duration
	for i := 0; i <= retryCount; i++ {
		d = b.NextBackOff()
	}
	return now.Add(d)
}

// Decision is what internal/manager should do with a failed item.
type Decision struct {
	Terminate  bool
	NextStatus string // models.QueueStatusFailed when Terminate is true
	NextAt     time.Time
	RetryCount int // the value to persist (unchanged for rate-limited)
}

// Decide classifies sendErr and returns what to do with item's retry
// state. Auth terminates the item immediately like a permanent failure —
// retrying against stale credentials just burns the same error again —
// but errs.IsTerminal itself stays false for Auth, since alerting
// (internal/manager.Dispatch checks DispositionOf directly rather than
// Decision.Terminate) should fire on the disposition, not on whether
// this package happened to exhaust retries first.
func Decide(policy Policy, item *models.QueueItem, sendErr error, now time.Time) Decision {
	d := errs.DispositionOf(sendErr)

	if errs.IsTerminal(d) || d == errs.Auth {
		return Decision{Terminate: true, NextStatus: models.QueueStatusFailed, RetryCount: item.RetryCount}
	}

	if d == errs.RateLimited {
		return Decision{NextAt: now.Add(policy.BaseDelay), RetryCount: item.RetryCount}
	}

	maxRetries := item.MaxRetries
	if maxRetries <= 0 {
		maxRetries = policy.MaxRetries
	}
	if item.RetryCount >= maxRetries {
		return Decision{Terminate: true, NextStatus: models.QueueStatusFailed, RetryCount: item.RetryCount}
	}

	return Decision{
		NextAt:     policy.NextSchedule(item.RetryCount, now),
		RetryCount: item.RetryCount + 1,
	}
}
