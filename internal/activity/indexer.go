package activity

import (
	"context"
	"fmt"

	"github.com/matthewbaird/entitykit/internal/event"
)

// Indexer consumes changes from the event bus and writes one activity entry
// per change to the store. Changes without an entity id (drafts that were
// never created) are not indexed.
type Indexer struct {
	store Store
}

// NewIndexer creates a new activity indexer.
func NewIndexer(store Store) *Indexer {
	return &Indexer{store: store}
}

// HandleEvent indexes one change.
func (idx *Indexer) HandleEvent(ctx context.Context, c event.Change) error {
	if c.EntityID == "" {
		return nil
	}
	entry := Entry{
		EventID:    c.ID,
		Kind:       c.Kind,
		OccurredAt: c.OccurredAt,
		EntityType: c.EntityType,
		EntityID:   c.EntityID,
		Field:      c.Field,
		Summary:    generateSummary(c),
	}
	if err := idx.store.WriteEntries(ctx, []Entry{entry}); err != nil {
		return fmt.Errorf("writing activity for %s %s: %w", c.EntityType, c.EntityID, err)
	}
	return nil
}

// generateSummary creates a one-line human-readable description of a change.
func generateSummary(c event.Change) string {
	var s string
	switch c.Kind {
	case event.Stored:
		s = fmt.Sprintf("%s %s saved", c.EntityType, c.EntityID)
	case event.Deleted:
		s = fmt.Sprintf("%s %s deleted", c.EntityType, c.EntityID)
	case event.FieldChanged:
		s = fmt.Sprintf("%s changed in draft", c.Field)
	case event.Submitted:
		s = "changes submitted"
	case event.SubmitFailed:
		s = "submission failed"
	case event.Removed:
		s = "removal confirmed"
	case event.Discarded:
		s = "draft discarded"
	default:
		s = string(c.Kind)
	}
	if c.Summary != "" {
		s += " (" + c.Summary + ")"
	}
	return s
}
