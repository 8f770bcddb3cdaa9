package retry

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/outreachforge/engine/internal/errs"
	"github.com/outreachforge/engine/internal/models"
)

func TestNextScheduleIsDeterministicAndGrows(t *testing.T) {
	p := Policy{BaseDelay: time.Minute, Multiplier: 2, MaxRetries: 3}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	t0 := p.NextSchedule(0, now)
	t1 := p.NextSchedule(1, now)
	t2 := p.NextSchedule(2, now)

	assert.Equal(t, now.Add(time.Minute), t0)
	assert.True(t, t1.Sub(now) > t0.Sub(now))
	assert.True(t, t2.Sub(now) > t1.Sub(now))

	// Deterministic: same inputs, same outputs.
	assert.Equal(t, t0, p.NextSchedule(0, now))
}

func TestDecideRetryableReschedulesAndIncrementsRetryCount(t *testing.T) {
	p := DefaultPolicies()[models.ChannelEmail]
	item := &models.QueueItem{RetryCount: 0, MaxRetries: 3}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	d := Decide(p, item, errs.Classify(errs.Retryable, errors.New("timeout")), now)

	assert.False(t, d.Terminate)
	assert.Equal(t, 1, d.RetryCount)
	assert.Equal(t, now.Add(2*time.Minute), d.NextAt)
}

func TestDecideTerminatesAfterMaxRetries(t *testing.T) {
	p := DefaultPolicies()[models.ChannelEmail]
	item := &models.QueueItem{RetryCount: 3, MaxRetries: 3}
	now := time.Now()

	d := Decide(p, item, errs.Classify(errs.Retryable, errors.New("timeout")), now)

	assert.True(t, d.Terminate)
	assert.Equal(t, models.QueueStatusFailed, d.NextStatus)
}

func TestDecidePermanentTerminatesImmediately(t *testing.T) {
	p := DefaultPolicies()[models.ChannelCall]
	item := &models.QueueItem{RetryCount: 0, MaxRetries: 3}
	now := time.Now()

	d := Decide(p, item, errs.Classify(errs.Permanent, errors.New("invalid number")), now)

	assert.True(t, d.Terminate)
	assert.Equal(t, models.QueueStatusFailed, d.NextStatus)
}

func TestDecideAuthTerminatesImmediately(t *testing.T) {
	p := DefaultPolicies()[models.ChannelEmail]
	item := &models.QueueItem{RetryCount: 0, MaxRetries: 3}
	now := time.Now()

	d := Decide(p, item, errs.Classify(errs.Auth, errors.New("invalid credentials")), now)

	assert.True(t, d.Terminate)
	assert.Equal(t, models.QueueStatusFailed, d.NextStatus)
}

func TestDecideRateLimitedDoesNotConsumeRetry(t *testing.T) {
	p := DefaultPolicies()[models.ChannelLinkedIn]
	item := &models.QueueItem{RetryCount: 1, MaxRetries: 3}
	now := time.Now()

	d := Decide(p, item, errs.Classify(errs.RateLimited, errors.New("429")), now)

	assert.False(t, d.Terminate)
	assert.Equal(t, 1, d.RetryCount)
}
