package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyAndDispositionOf(t *testing.T) {
	base := errors.New("smtp timeout")
	wrapped := Classify(Retryable, base)

	assert.Equal(t, Retryable, DispositionOf(wrapped))
	assert.ErrorIs(t, wrapped, base)
}

func TestDispositionOfUnclassifiedDefaultsRetryable(t *testing.T) {
	assert.Equal(t, Retryable, DispositionOf(errors.New("boom")))
}

func TestClassifyNil(t *testing.T) {
	assert.Nil(t, Classify(Permanent, nil))
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(Permanent))
	assert.True(t, IsTerminal(DataIntegrity))
	assert.False(t, IsTerminal(Retryable))
	assert.False(t, IsTerminal(RateLimited))
	assert.False(t, IsTerminal(Auth))
}

func TestDispositionString(t *testing.T) {
	assert.Equal(t, "rate_limited", RateLimited.String())
}
