package gate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowStart(t *testing.T) {
	assert.Equal(t, int64(120), WindowStart(time.Unix(120, 0)))
	assert.Equal(t, int64(120), WindowStart(time.Unix(179, 999)))
	assert.Equal(t, int64(180), WindowStart(time.Unix(180, 0)))
}

func TestRetryAfter(t *testing.T) {
	assert.Equal(t, 60*time.Second, RetryAfter(time.Unix(120, 0)))
	assert.Equal(t, 15*time.Second, RetryAfter(time.Unix(165, 0)))
	assert.Equal(t, time.Second, RetryAfter(time.Unix(179, int64(500*time.Millisecond))))
}

func TestLimiterFixedWindow(t *testing.T) {
	clock := NewManualClock(time.Unix(1_000_020, 0))
	store := NewMemoryWindowStore()
	l := NewLimiter(store, clock)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		adm, err := l.Admit(ctx, "k", 2)
		require.NoError(t, err)
		assert.True(t, adm.Allowed)
		assert.Equal(t, int64(1_000_020), adm.WindowStart)
	}

	adm, err := l.Admit(ctx, "k", 2)
	require.NoError(t, err)
	assert.False(t, adm.Allowed)
	assert.Equal(t, 60*time.Second, adm.RetryAfter)

	start, count := store.Count("k")
	assert.Equal(t, int64(1_000_020), start)
	assert.Equal(t, 2, count)

	clock.Advance(59 * time.Second)
	adm, err = l.Admit(ctx, "k", 2)
	require.NoError(t, err)
	assert.False(t, adm.Allowed, "still inside the same window")
	assert.Equal(t, time.Second, adm.RetryAfter)

	clock.Advance(time.Second)
	adm, err = l.Admit(ctx, "k", 2)
	require.NoError(t, err)
	assert.True(t, adm.Allowed)

	_, count = store.Count("k")
	assert.Equal(t, 1, count)
}

func TestLimiterBoundaryBurst(t *testing.T) {
	clock := NewManualClock(time.Unix(1_000_079, 0))
	l := NewLimiter(NewMemoryWindowStore(), clock)
	ctx := context.Background()

	admitted := 0
	for i := 0; i < 3; i++ {
		if adm, _ := l.Admit(ctx, "k", 3); adm.Allowed {
			admitted++
		}
	}
	clock.Advance(time.Second)
	for i := 0; i < 3; i++ {
		if adm, _ := l.Admit(ctx, "k", 3); adm.Allowed {
			admitted++
		}
	}
	assert.Equal(t, 6, admitted, "fixed windows admit up to twice the limit across a boundary")
}

func TestLimiterStoreError(t *testing.T) {
	l := NewLimiter(failingWindowStore{}, NewManualClock(time.Unix(0, 0)))
	adm, err := l.Admit(context.Background(), "k", 10)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.False(t, adm.Allowed)
}
