package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowRespectsBurstThenDenies(t *testing.T) {
	l := New(Limit{RatePerSec: 1, Burst: 2})
	assert.True(t, l.Allow("fs"))
	assert.True(t, l.Allow("fs"))
	assert.False(t, l.Allow("fs"))
}

func TestBucketsAreIndependentPerKey(t *testing.T) {
	l := New(Limit{RatePerSec: 1, Burst: 1})
	assert.True(t, l.Allow("fs"))
	assert.True(t, l.Allow("net"))
	assert.False(t, l.Allow("fs"))
	assert.False(t, l.Allow("net"))
}

func TestConfigureOverridesDefaultForKey(t *testing.T) {
	l := New(Limit{RatePerSec: 1, Burst: 1})
	l.Configure("bulk", Limit{RatePerSec: 100, Burst: 10})
	for i := 0; i < 10; i++ {
		assert.True(t, l.Allow("bulk"))
	}
	assert.False(t, l.Allow("bulk"))
}

func TestWaitCancelledContextReturnsOperationCancelled(t *testing.T) {
	l := New(Limit{RatePerSec: 0.001, Burst: 1})
	require.True(t, l.Allow("fs"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx, "fs")
	assert.Error(t, err)
}

func TestReserveReportsDelayWhenOverBudget(t *testing.T) {
	l := New(Limit{RatePerSec: 1, Burst: 1})
	require.True(t, l.Allow("fs"))
	ok, delayMs := l.Reserve("fs")
	assert.True(t, ok)
	assert.Greater(t, delayMs, int64(0))
}
