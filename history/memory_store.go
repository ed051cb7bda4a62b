package history

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryStore is an in-memory Store whose records expire after a TTL. It
// uses go-cache for storage and expiry.
type MemoryStore struct {
	cache *cache.Cache
}

// NewMemoryStore creates a store whose records live for ttl. Expired records
// are swept every cleanupInterval.
//
// Parameters:
//   - ttl: Lifetime of each record (use cache.NoExpiration to keep them)
//   - cleanupInterval: Interval at which expired records are removed
//
// Returns:
//   - A new MemoryStore
func NewMemoryStore(ttl, cleanupInterval time.Duration) *MemoryStore {
	return &MemoryStore{cache: cache.New(ttl, cleanupInterval)}
}

func key(id uint64) string {
	return strconv.FormatUint(id, 10)
}

func (s *MemoryStore) Add(ctx context.Context, r Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.cache.SetDefault(key(r.ID), r)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id uint64) (Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, false, err
	}

	v, found := s.cache.Get(key(id))
	if !found {
		return Record{}, false, nil
	}

	r, ok := v.(Record)
	return r, ok, nil
}

func (s *MemoryStore) List(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	items := s.cache.Items()
	out := make([]Record, 0, len(items))
	for _, item := range items {
		if r, ok := item.Object.(Record); ok {
			out = append(out, r)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.cache.Flush()
	return nil
}

// Len returns the number of unexpired records.
func (s *MemoryStore) Len() int {
	return s.cache.ItemCount()
}
