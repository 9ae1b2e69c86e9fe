// Package activity keeps the per-entity activity stream: every change the
// store or an edit controller publishes is indexed under the entity it
// touched and can be read back newest first.
package activity

import (
	"time"

	"github.com/matthewbaird/entitykit/internal/event"
	"github.com/matthewbaird/entitykit/internal/types"
)

// Entry is one indexed change.
type Entry struct {
	EventID    string           `json:"event_id"`
	Kind       event.Kind       `json:"kind"`
	OccurredAt time.Time        `json:"occurred_at"`
	EntityType types.EntityType `json:"entity_type"`
	EntityID   string           `json:"entity_id"`
	Field      string           `json:"field,omitempty"`
	Summary    string           `json:"summary"`
}

// QueryOptions controls filtering and pagination for entity activity queries.
type QueryOptions struct {
	Since  *time.Time   // default: 6 months ago
	Until  *time.Time   // default: now
	Kinds  []event.Kind // filter to specific change kinds
	Limit  int          // max results (default: 100, max: 500)
	Cursor string       // cursor for pagination
}

// DefaultQueryOptions returns QueryOptions with sensible defaults.
func DefaultQueryOptions() QueryOptions {
	sixMonthsAgo := time.Now().AddDate(0, -6, 0)
	return QueryOptions{
		Since: &sixMonthsAgo,
		Limit: 100,
	}
}
