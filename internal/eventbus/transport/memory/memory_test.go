package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"olympus/internal/eventbus"
)

func TestTransport(t *testing.T) {
	ctx := context.Background()

	t.Run("fetch returns records once per member and respects max", func(t *testing.T) {
		log := NewLog()
		tr := NewTransport(log, "g")
		for _, v := range []string{"a", "b", "c"} {
			require.NoError(t, tr.Send(ctx, "k", []byte(v)))
		}

		first, err := tr.Fetch(ctx, 2)
		require.NoError(t, err)
		require.Len(t, first, 2)
		assert.Equal(t, []byte("a"), first[0].Value)

		rest, err := tr.Fetch(ctx, 10)
		require.NoError(t, err)
		require.Len(t, rest, 1)
		assert.Equal(t, []byte("c"), rest[0].Value)

		none, err := tr.Fetch(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("replacement member resumes at the committed offset", func(t *testing.T) {
		log := NewLog()
		tr := NewTransport(log, "g")
		for _, v := range []string{"a", "b", "c"} {
			require.NoError(t, tr.Send(ctx, "k", []byte(v)))
		}
		batch, err := tr.Fetch(ctx, 1)
		require.NoError(t, err)
		require.NoError(t, tr.Commit(ctx, batch))
		_, err = tr.Fetch(ctx, 10) // fetched, never committed
		require.NoError(t, err)
		require.NoError(t, tr.Close())

		restarted := NewTransport(log, "g")
		again, err := restarted.Fetch(ctx, 10)
		require.NoError(t, err)
		require.Len(t, again, 2)
		assert.Equal(t, []byte("b"), again[0].Value)
		assert.Equal(t, 1, log.Committed("g"))
	})

	t.Run("groups keep independent offsets", func(t *testing.T) {
		log := NewLog()
		a := NewTransport(log, "a")
		require.NoError(t, a.Send(ctx, "k", []byte("x")))
		batch, err := a.Fetch(ctx, 10)
		require.NoError(t, err)
		require.NoError(t, a.Commit(ctx, batch))

		b := NewTransport(log, "b")
		got, err := b.Fetch(ctx, 10)
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})

	t.Run("closed transport refuses work", func(t *testing.T) {
		tr := NewTransport(NewLog(), "g")
		require.NoError(t, tr.Close())
		assert.ErrorIs(t, tr.Send(ctx, "k", nil), eventbus.ErrTransportClosed)
		_, err := tr.Fetch(ctx, 1)
		assert.ErrorIs(t, err, eventbus.ErrTransportClosed)
	})
}
