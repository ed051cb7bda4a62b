package history

import (
	"context"
	"testing"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(cache.NoExpiration, time.Minute)

	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	for _, id := range []uint64{3, 1, 2} {
		require.NoError(t, s.Add(ctx, Record{ID: id, Started: start, Ended: start.Add(time.Duration(id) * time.Second)}))
	}

	t.Run("list is ordered by id", func(t *testing.T) {
		records, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, records, 3)
		assert.Equal(t, []uint64{1, 2, 3}, []uint64{records[0].ID, records[1].ID, records[2].ID})
		assert.Equal(t, 2*time.Second, records[1].Duration())
	})

	t.Run("get", func(t *testing.T) {
		r, ok, err := s.Get(ctx, 2)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, uint64(2), r.ID)

		_, ok, err = s.Get(ctx, 42)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("add replaces", func(t *testing.T) {
		require.NoError(t, s.Add(ctx, Record{ID: 1, Reason: "client closed"}))
		r, _, err := s.Get(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "client closed", r.Reason)
		assert.Equal(t, 3, s.Len())
	})

	t.Run("clear", func(t *testing.T) {
		require.NoError(t, s.Clear(ctx))
		assert.Equal(t, 0, s.Len())
	})
}

func TestMemoryStore_expiry(t *testing.T) {
	s := NewMemoryStore(20*time.Millisecond, 10*time.Millisecond)
	require.NoError(t, s.Add(context.Background(), Record{ID: 1}))

	assert.Eventually(t, func() bool {
		records, err := s.List(context.Background())
		return err == nil && len(records) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestMemoryStore_cancelledContext(t *testing.T) {
	s := NewMemoryStore(cache.NoExpiration, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.Add(ctx, Record{ID: 1}), context.Canceled)
	_, err := s.List(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	_, _, err = s.Get(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, s.Clear(ctx), context.Canceled)
}
