// Package event defines the change notifications emitted by edit controllers
// and the reference store. The UI layer observes engine state through these;
// nothing in the engine depends on anyone listening.
package event

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/matthewbaird/entitykit/internal/types"
)

// Kind names what happened.
type Kind string

const (
	FieldChanged Kind = "field_changed"
	Submitted    Kind = "submitted"
	SubmitFailed Kind = "submit_failed"
	Removed      Kind = "removed"
	Discarded    Kind = "discarded"
	Stored       Kind = "stored"
	Deleted      Kind = "deleted"
)

// Change carries the canonical shape of every notification.
type Change struct {
	ID         string           `json:"id"`
	Kind       Kind             `json:"kind"`
	EntityType types.EntityType `json:"entity_type"`
	EntityID   string           `json:"entity_id,omitempty"`
	Field      string           `json:"field,omitempty"`
	Generation uint64           `json:"generation,omitempty"`
	Summary    string           `json:"summary,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// New stamps a change with an id and the current time.
func New(kind Kind, t types.EntityType, id string) Change {
	return Change{
		ID:         uuid.New().String(),
		Kind:       kind,
		EntityType: t,
		EntityID:   id,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher sends changes to downstream consumers. Implementations must not
// block the caller.
type Publisher interface {
	Publish(ctx context.Context, c Change)
}

// PublisherFunc adapts a plain function to the Publisher interface.
type PublisherFunc func(ctx context.Context, c Change)

func (f PublisherFunc) Publish(ctx context.Context, c Change) { f(ctx, c) }

// Discard is a Publisher that drops everything.
var Discard Publisher = PublisherFunc(func(context.Context, Change) {})
