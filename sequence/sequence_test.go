package sequence

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCounter(t *testing.T) {
	t.Run("returns non-nil counter", func(t *testing.T) {
		require.NotNil(t, NewCounter(0))
	})

	t.Run("first Next returns start+1", func(t *testing.T) {
		c := NewCounter(0)
		assert.Equal(t, uint64(1), c.Next())

		c = NewCounter(41)
		assert.Equal(t, uint64(42), c.Next())
	})

	t.Run("Last reports start before any Next", func(t *testing.T) {
		c := NewCounter(7)
		assert.Equal(t, uint64(7), c.Last())
	})
}

func TestCounter_Next_sequential(t *testing.T) {
	c := NewCounter(0)
	for want := uint64(1); want <= 10; want++ {
		assert.Equal(t, want, c.Next())
		assert.Equal(t, want, c.Last())
	}
}

func TestCounter_Next_concurrent(t *testing.T) {
	t.Run("concurrent Next calls produce unique values", func(t *testing.T) {
		c := NewCounter(0)
		const n = 500
		values := make([]uint64, n)
		var wg sync.WaitGroup
		wg.Add(n)
		for i := 0; i < n; i++ {
			go func(idx int) {
				defer wg.Done()
				values[idx] = c.Next()
			}(i)
		}
		wg.Wait()

		seen := make(map[uint64]bool)
		for _, v := range values {
			assert.False(t, seen[v], "duplicate value %d", v)
			assert.GreaterOrEqual(t, v, uint64(1))
			assert.LessOrEqual(t, v, uint64(n))
			seen[v] = true
		}
		assert.Len(t, seen, n)
		assert.Equal(t, uint64(n), c.Last())
	})
}

func TestCounter_independent(t *testing.T) {
	a := NewCounter(0)
	b := NewCounter(0)

	assert.Equal(t, uint64(1), a.Next())
	assert.Equal(t, uint64(1), b.Next())
	assert.Equal(t, uint64(2), a.Next())
}
