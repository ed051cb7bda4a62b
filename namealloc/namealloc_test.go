package namealloc

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedClock = func() time.Time {
	return time.Date(2024, time.March, 5, 14, 7, 0, 0, time.UTC)
}

func newAllocator(capacity int, backoff time.Duration) *Allocator {
	return New(Config{
		BaseDir:  "/tmp/ws",
		Capacity: capacity,
		Backoff:  backoff,
		Clock:    fixedClock,
	})
}

func TestAllocator_names(t *testing.T) {
	a := newAllocator(3, time.Hour)
	a.Start()
	defer func() {
		a.Stop()
		a.Wait()
	}()

	assert.Equal(t, filepath.Join("/tmp/ws", "14.07-05.03.2024"), a.Prefix())

	first, err := a.Claim(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/tmp/ws/14.07-05.03.2024-0001", first)

	second, err := a.Claim(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/tmp/ws/14.07-05.03.2024-0002", second)
}

func TestAllocator_Start(t *testing.T) {
	t.Run("queue is full when Start returns", func(t *testing.T) {
		a := newAllocator(5, time.Hour)
		a.Start()
		defer a.Stop()

		assert.Len(t, a.queue, 5)
		assert.GreaterOrEqual(t, a.Issued(), uint64(5))
	})

	t.Run("second Start is a no-op", func(t *testing.T) {
		a := newAllocator(2, time.Hour)
		a.Start()
		a.Start()
		a.Stop()
		a.Wait()

		assert.LessOrEqual(t, a.Issued(), uint64(3))
	})
}

func TestAllocator_refill(t *testing.T) {
	a := newAllocator(2, 10*time.Millisecond)
	a.Start()
	defer func() {
		a.Stop()
		a.Wait()
	}()

	for i := 0; i < 2; i++ {
		_, err := a.Claim(context.Background())
		require.NoError(t, err)
	}

	assert.Eventually(t, func() bool {
		return len(a.queue) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestAllocator_uniqueUnderConcurrency(t *testing.T) {
	a := newAllocator(4, time.Millisecond)
	a.Start()
	defer func() {
		a.Stop()
		a.Wait()
	}()

	const claimers, each = 8, 25
	var (
		mu   sync.Mutex
		seen = make(map[string]struct{})
		wg   sync.WaitGroup
	)

	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < each; j++ {
				name, err := a.Claim(context.Background())
				if !assert.NoError(t, err) {
					return
				}

				mu.Lock()
				_, dup := seen[name]
				seen[name] = struct{}{}
				mu.Unlock()
				assert.False(t, dup, "duplicate name %s", name)
			}
		}()
	}

	wg.Wait()
	assert.Len(t, seen, claimers*each)
}

func TestAllocator_Stop(t *testing.T) {
	t.Run("stop interrupts the backoff sleep", func(t *testing.T) {
		a := newAllocator(1, time.Hour)
		a.Start()

		start := time.Now()
		a.Stop()
		a.Stop()
		a.Wait()
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("claim drains the queue then reports stopped", func(t *testing.T) {
		a := newAllocator(2, time.Hour)
		a.Start()
		a.Stop()
		a.Wait()

		for len(a.queue) > 0 {
			_, err := a.Claim(context.Background())
			require.NoError(t, err)
		}

		_, err := a.Claim(context.Background())
		assert.ErrorIs(t, err, ErrStopped)
	})

	t.Run("claim honours the context", func(t *testing.T) {
		a := newAllocator(1, time.Hour)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := a.Claim(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("wait without start returns", func(t *testing.T) {
		a := newAllocator(1, time.Hour)
		a.Wait()
	})
}
