// Package errs classifies failures from external collaborators (SMTP,
// telephony, LinkedIn, the content generator) into dispositions the
// queue poller and retry manager can act on without string-matching
// error text. Generalizes listmonk's ErrNotFound sentinel pattern
// (internal/core/tenant_core.go) into a typed, wrapped classification.
package errs

import (
	"errors"
	"fmt"
)

// Disposition says what the caller should do with a failed send.
type Disposition int

const (
	// Retryable indicates a transient failure; the item should be
	// rescheduled per the retry/backoff policy.
	Retryable Disposition = iota
	// RateLimited indicates the provider itself throttled the call;
	// the item is rescheduled but does not consume a retry attempt.
	RateLimited
	// Auth indicates invalid or expired provider credentials; the
	// item is terminated as failed without retry and an operator alert
	// is raised. The company's queue for this channel is not paused:
	// its other items are still leased and attempted.
	Auth
	// Permanent indicates the request can never succeed (bad address,
	// opted out, invalid number); the item is terminated as failed
	// without consuming retries.
	Permanent
	// DataIntegrity indicates corrupt or missing local state (e.g. a
	// referenced lead or template vanished); terminated as failed and
	// logged for operator attention.
	DataIntegrity
)

func (d Disposition) String() string {
	switch d {
	case Retryable:
		return "retryable"
	case RateLimited:
		return "rate_limited"
	case Auth:
		return "auth"
	case Permanent:
		return "permanent"
	case DataIntegrity:
		return "data_integrity"
	default:
		return "unknown"
	}
}

// ErrNotFound mirrors listmonk's core.ErrNotFound sentinel, reused
// across the store for any missing row lookup.
var ErrNotFound = errors.New("not found")

// ErrAlreadyTerminal is returned when an operation expects a campaign
// run to be running but finds it already in a terminal status.
var ErrAlreadyTerminal = errors.New("campaign run already terminal")

// Classified wraps an error with the disposition a caller should act on.
type Classified struct {
	Disposition Disposition
	Err         error
}

func (c *Classified) Error() string {
	return fmt.Sprintf("%s: %v", c.Disposition, c.Err)
}

func (c *Classified) Unwrap() error { return c.Err }

// Classify wraps err with the given disposition. A nil err returns nil.
func Classify(d Disposition, err error) error {
	if err == nil {
		return nil
	}
	return &Classified{Disposition: d, Err: err}
}

// DispositionOf extracts the Disposition from err, defaulting to
// Retryable when err was not produced by Classify — unclassified
// failures are treated as transient so they are never silently dropped.
func DispositionOf(err error) Disposition {
	var c *Classified
	if errors.As(err, &c) {
		return c.Disposition
	}
	return Retryable
}

// IsTerminal reports whether a disposition should terminate the queue
// item immediately rather than being retried.
func IsTerminal(d Disposition) bool {
	return d == Permanent || d == DataIntegrity
}
