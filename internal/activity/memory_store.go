package activity

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/matthewbaird/entitykit/internal/types"
)

// Store is the interface for reading and writing activity entries.
type Store interface {
	// WriteEntries appends entries to the stream.
	WriteEntries(ctx context.Context, entries []Entry) error

	// QueryByEntity returns activity entries for one entity, newest first.
	QueryByEntity(ctx context.Context, t types.EntityType, id string, opts QueryOptions) (entries []Entry, nextCursor string, totalCount int, err error)
}

// DefaultCapacity bounds a MemoryStore created with capacity 0.
const DefaultCapacity = 10000

// MemoryStore implements Store using an in-memory slice. Once capacity is
// reached the oldest entries are discarded.
type MemoryStore struct {
	mu       sync.RWMutex
	entries  []Entry
	capacity int
}

// NewMemoryStore creates a new empty MemoryStore.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryStore{capacity: capacity}
}

func (s *MemoryStore) WriteEntries(_ context.Context, entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entries...)
	if over := len(s.entries) - s.capacity; over > 0 {
		s.entries = append([]Entry(nil), s.entries[over:]...)
	}
	return nil
}

func (s *MemoryStore) QueryByEntity(_ context.Context, t types.EntityType, id string, opts QueryOptions) ([]Entry, string, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var cursor time.Time
	if opts.Cursor != "" {
		cursor, _ = time.Parse(time.RFC3339Nano, opts.Cursor)
	}

	var matched []Entry
	for _, e := range s.entries {
		if e.EntityType != t || e.EntityID != id {
			continue
		}
		if opts.Since != nil && e.OccurredAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.OccurredAt.After(*opts.Until) {
			continue
		}
		if len(opts.Kinds) > 0 && !slices.Contains(opts.Kinds, e.Kind) {
			continue
		}
		if !cursor.IsZero() && !e.OccurredAt.Before(cursor) {
			continue
		}
		matched = append(matched, e)
	}

	// Sort by occurred_at DESC.
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].OccurredAt.After(matched[j].OccurredAt)
	})

	totalCount := len(matched)
	limit := opts.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var nextCursor string
	if len(matched) > limit {
		matched = matched[:limit]
		nextCursor = matched[len(matched)-1].OccurredAt.Format(time.RFC3339Nano)
	}

	return matched, nextCursor, totalCount, nil
}
