package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/matthewbaird/entitykit/internal/event"
	"github.com/matthewbaird/entitykit/internal/eventbus"
	"github.com/matthewbaird/entitykit/internal/policy"
	"github.com/matthewbaird/entitykit/internal/store"
	"github.com/matthewbaird/entitykit/internal/types"
)

const (
	// streamBuffer is the number of changes queued per connection before
	// further changes are dropped for that connection.
	streamBuffer = 64
	writeTimeout = 5 * time.Second
)

// EventsHandler streams change notifications over a websocket. An optional
// ?type= query parameter limits the stream to one entity type. A change is
// only forwarded when the connecting subject may view the record it names.
type EventsHandler struct {
	bus     *eventbus.Bus
	store   *store.Store
	eval    *policy.Evaluator
	origins []string
}

// NewEventsHandler creates a new EventsHandler. origins lists the host
// patterns allowed to open a stream from a browser; with none, only
// same-origin requests are accepted.
func NewEventsHandler(bus *eventbus.Bus, st *store.Store, eval *policy.Evaluator, origins []string) *EventsHandler {
	return &EventsHandler{bus: bus, store: st, eval: eval, origins: origins}
}

// ServeHTTP upgrades to WebSocket and forwards changes until the client
// disconnects.
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		slog.Warn("events: websocket accept", "error", err)
		return
	}
	defer conn.CloseNow()

	subject := subjectFromRequest(r)
	filter := types.EntityType(r.URL.Query().Get("type"))
	changes := make(chan event.Change, streamBuffer)
	name := "ws-" + uuid.NewString()

	h.bus.Subscribe(name, eventbus.HandlerFunc(func(_ context.Context, c event.Change) error {
		if filter != "" && c.EntityType != filter {
			return nil
		}
		select {
		case changes <- c:
		default:
			slog.Warn("events: client too slow, dropping change", "subscriber", name, "kind", c.Kind)
		}
		return nil
	}))
	defer h.bus.Unsubscribe(name)

	// The stream is one-way; CloseRead handles control frames and cancels
	// ctx once the client goes away.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-changes:
			if !h.visible(ctx, c, subject) {
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, c)
			cancel()
			if err != nil {
				if websocket.CloseStatus(err) == -1 {
					slog.Warn("events: write failed", "subscriber", name, "error", err)
				}
				return
			}
		}
	}
}

// visible reports whether subject may view the record a change names. The
// record is loaded fresh; when it no longer exists (deletions) the change is
// only visible if the type carries no view rules at all.
func (h *EventsHandler) visible(ctx context.Context, c event.Change, subject *policy.Subject) bool {
	if c.EntityID != "" {
		inst, err := h.store.Get(ctx, c.EntityType, c.EntityID)
		if err == nil {
			return h.eval.CanDo(policy.VerbView, inst, subject) == nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			slog.Warn("events: loading changed record", "type", c.EntityType, "id", c.EntityID, "error", err)
			return false
		}
	}
	if len(h.eval.Table().Rules(c.EntityType, policy.VerbView)) > 0 {
		return false
	}
	bare := &types.Instance{Type: c.EntityType, ID: c.EntityID, Fields: map[string]any{}}
	return h.eval.CanDo(policy.VerbView, bare, subject) == nil
}
