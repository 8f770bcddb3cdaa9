// Package ratelimit answers "how many more sends may company X make on
// channel Y right now" — the admission decision every queue poller cycle
// consults before leasing work. Generalizes listmonk's in-process
// display-rate counter (other_examples pipe.go's ratecounter.RateCounter
// and manager.go's cfg.SlidingWindow/slidingCount/slidingStart block)
// from a throttle-by-sleeping mechanism into a Budget() query, backed by
// Redis for the hot path and the Store as source of truth.
package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/outreachforge/engine/internal/models"
)

// CountStore is the subset of internal/store.Store the oracle needs,
// kept as an interface so tests can supply a fake instead of sqlmock.
type CountStore interface {
	CountSent(ctx context.Context, companyID int64, channel models.Channel, since time.Time) (int, error)
	GetThrottleSettings(ctx context.Context, companyID int64, channel models.Channel) (*models.ThrottleSettings, error)
}

// Oracle computes admission budgets. SafetyCap bounds any single
// Budget() call regardless of configured limits, so a misconfigured
// max_per_hour can never let one poll cycle lease an unbounded batch.
type Oracle struct {
	store     CountStore
	redis     *redis.Client // optional; nil disables the fast path
	SafetyCap int
}

// New builds an Oracle. redisClient may be nil, in which case every
// Budget() call consults the Store directly (spec.md §4.2: Redis is an
// optional fast path, the Store stays ground truth).
func New(store CountStore, redisClient *redis.Client, safetyCap int) *Oracle {
	if safetyCap <= 0 {
		safetyCap = 500
	}
	return &Oracle{store: store, redis: redisClient, SafetyCap: safetyCap}
}

// Budget returns how many more items of channel may be admitted for
// company right now, clamped to the hourly cap, the remaining daily
// cap, and SafetyCap — whichever is smallest.
func (o *Oracle) Budget(ctx context.Context, companyID int64, channel models.Channel, now time.Time) (int, error) {
	t, err := o.store.GetThrottleSettings(ctx, companyID, channel)
	if err != nil {
		return 0, err
	}
	if !t.Enabled {
		return o.SafetyCap, nil
	}

	hourAgo := now.Add(-time.Hour)
	sentHour, err := o.countSince(ctx, companyID, channel, hourAgo)
	if err != nil {
		return 0, err
	}
	dayAgo := now.Add(-24 * time.Hour)
	sentDay, err := o.countSince(ctx, companyID, channel, dayAgo)
	if err != nil {
		return 0, err
	}

	budget := o.SafetyCap
	if t.MaxPerHour > 0 {
		if remaining := t.MaxPerHour - sentHour; remaining < budget {
			budget = remaining
		}
	}
	if t.MaxPerDay > 0 {
		if remaining := t.MaxPerDay - sentDay; remaining < budget {
			budget = remaining
		}
	}
	if budget < 0 {
		budget = 0
	}
	return budget, nil
}

// InWorkWindow reports whether now falls within the company's
// configured work window for channel, when enforcement is on
// (spec.md §4.2 — calls always enforce, email is configurable).
func (o *Oracle) InWorkWindow(ctx context.Context, companyID int64, channel models.Channel, now time.Time) (bool, error) {
	t, err := o.store.GetThrottleSettings(ctx, companyID, channel)
	if err != nil {
		return false, err
	}
	if channel != models.ChannelCall && !t.EnforceWindow {
		return true, nil
	}
	if !t.WorkStart.Valid || !t.WorkEnd.Valid {
		return true, nil
	}
	start, err := time.Parse("15:04", t.WorkStart.String)
	if err != nil {
		return true, nil
	}
	end, err := time.Parse("15:04", t.WorkEnd.String)
	if err != nil {
		return true, nil
	}
	nowClock := time.Date(0, 1, 1, now.Hour(), now.Minute(), 0, 0, time.UTC)
	startClock := time.Date(0, 1, 1, start.Hour(), start.Minute(), 0, 0, time.UTC)
	endClock := time.Date(0, 1, 1, end.Hour(), end.Minute(), 0, 0, time.UTC)
	if endClock.Before(startClock) {
		// The window wraps midnight, e.g. 22:00-06:00.
		return !nowClock.Before(startClock) || !nowClock.After(endClock), nil
	}
	return !nowClock.Before(startClock) && !nowClock.After(endClock), nil
}

// countSince prefers the Redis sliding counter when available,
// generalizing listmonk's ratecounter.RateCounter(time.Minute) into
// an externally-shared cache keyed by company/channel/window, falling
// back to the Store when Redis is unset or errors.
func (o *Oracle) countSince(ctx context.Context, companyID int64, channel models.Channel, since time.Time) (int, error) {
	if o.redis == nil {
		return o.store.CountSent(ctx, companyID, channel, since)
	}
	key := redisKey(companyID, channel, since)
	n, err := o.redis.Get(ctx, key).Int()
	if err == redis.Nil {
		return o.store.CountSent(ctx, companyID, channel, since)
	}
	if err != nil {
		return o.store.CountSent(ctx, companyID, channel, since)
	}
	return n, nil
}

// RecordSent increments the Redis fast-path counters for a send. It is
// best-effort: an error here never blocks the dispatch itself, since the
// Store remains the authoritative count.
func (o *Oracle) RecordSent(ctx context.Context, companyID int64, channel models.Channel, now time.Time) {
	if o.redis == nil {
		return
	}
	hourKey := redisKey(companyID, channel, now.Truncate(time.Hour))
	dayKey := redisKey(companyID, channel, now.Truncate(24*time.Hour))
	pipe := o.redis.Pipeline()
	pipe.Incr(ctx, hourKey)
	pipe.Expire(ctx, hourKey, time.Hour+time.Minute)
	pipe.Incr(ctx, dayKey)
	pipe.Expire(ctx, dayKey, 24*time.Hour+time.Minute)
	_, _ = pipe.Exec(ctx)
}

func redisKey(companyID int64, channel models.Channel, bucket time.Time) string {
	return "ratelimit:" + string(channel) + ":" + bucket.Format(time.RFC3339) + ":" + strconv.FormatInt(companyID, 10)
}
