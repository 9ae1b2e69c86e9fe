package eventbus

import (
	"context"
	"log/slog"

	"github.com/matthewbaird/entitykit/internal/event"
)

// LogConsumer logs every change for observability.
type LogConsumer struct {
	log *slog.Logger
}

// NewLogConsumer creates a consumer writing to log, or slog.Default when nil.
func NewLogConsumer(log *slog.Logger) *LogConsumer {
	if log == nil {
		log = slog.Default()
	}
	return &LogConsumer{log: log}
}

func (lc *LogConsumer) HandleEvent(ctx context.Context, c event.Change) error {
	lc.log.DebugContext(ctx, "change",
		"kind", c.Kind,
		"entity_type", c.EntityType,
		"entity_id", c.EntityID,
		"field", c.Field,
		"summary", c.Summary,
	)
	return nil
}
