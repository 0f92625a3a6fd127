package refreshguard

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "olympus/pkg/domain"
	"olympus/pkg/platform/sentinel"
)

func TestInMemoryAcquire(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	guard := NewInMemory().WithClock(func() time.Time { return now })
	sessionID := id.NewSessionID()

	release, ok, err := guard.Acquire(ctx, sessionID, time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	t.Run("second holder is refused", func(t *testing.T) {
		_, ok, err := guard.Acquire(ctx, sessionID, time.Second)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("other sessions are independent", func(t *testing.T) {
		_, ok, err := guard.Acquire(ctx, id.NewSessionID(), time.Second)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("release frees the lock", func(t *testing.T) {
		require.NoError(t, release(ctx))
		require.NoError(t, release(ctx))
		next, ok, err := guard.Acquire(ctx, sessionID, time.Second)
		require.NoError(t, err)
		assert.True(t, ok)
		require.NoError(t, next(ctx))
	})

	t.Run("lapsed lock is taken over and stale release is ignored", func(t *testing.T) {
		stale, ok, err := guard.Acquire(ctx, sessionID, time.Second)
		require.NoError(t, err)
		require.True(t, ok)

		now = now.Add(2 * time.Second)
		_, ok, err = guard.Acquire(ctx, sessionID, time.Second)
		require.NoError(t, err)
		require.True(t, ok)

		require.NoError(t, stale(ctx))
		_, ok, err = guard.Acquire(ctx, sessionID, time.Second)
		require.NoError(t, err)
		assert.False(t, ok, "the successor still holds the lock")
	})

	t.Run("ttl must be positive", func(t *testing.T) {
		_, _, err := guard.Acquire(ctx, sessionID, 0)
		assert.ErrorIs(t, err, sentinel.ErrInvalidState)
	})
}

func TestInMemoryAcquireSingleWinner(t *testing.T) {
	guard := NewInMemory()
	sessionID := id.NewSessionID()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := guard.Acquire(context.Background(), sessionID, time.Minute)
			if err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}
