// Package eventbus provides an in-process pub/sub bus for change
// notifications. Controllers and the store publish; subscribers (the log
// consumer, websocket streams) process changes asynchronously.
package eventbus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/matthewbaird/entitykit/internal/event"
)

// Handler processes a change. Implementations must be safe for concurrent
// calls from different goroutines.
type Handler interface {
	HandleEvent(ctx context.Context, c event.Change) error
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, c event.Change) error

func (f HandlerFunc) HandleEvent(ctx context.Context, c event.Change) error {
	return f(ctx, c)
}

// Bus is a simple in-process event bus. Changes are published to a buffered
// channel and dispatched to all subscribers in a single consumer goroutine,
// so subscribers see changes in publish order.
type Bus struct {
	mu          sync.RWMutex
	subscribers []namedHandler
	events      chan event.Change
	done        chan struct{}
	log         *slog.Logger
}

type namedHandler struct {
	name    string
	handler Handler
}

// New creates a Bus with the given channel buffer size.
func New(bufSize int, log *slog.Logger) *Bus {
	if bufSize < 1 {
		bufSize = 256
	}
	if log == nil {
		log = slog.Default()
	}
	return &Bus{
		events: make(chan event.Change, bufSize),
		done:   make(chan struct{}),
		log:    log,
	}
}

// Subscribe registers a named handler. Subscribing while the bus is running
// is allowed; the handler sees changes published after it was added.
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, namedHandler{name: name, handler: h})
}

// Unsubscribe removes every handler registered under name.
func (b *Bus) Unsubscribe(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := make([]namedHandler, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		if s.name != name {
			kept = append(kept, s)
		}
	}
	b.subscribers = kept
}

// Publish sends a change to the bus. Non-blocking: if the buffer is full the
// change is dropped and a warning is logged.
func (b *Bus) Publish(ctx context.Context, c event.Change) {
	select {
	case b.events <- c:
	default:
		b.log.WarnContext(ctx, "eventbus: buffer full, dropping change", "kind", c.Kind, "id", c.ID)
	}
}

// Start begins the consumer goroutine. It processes changes until the
// context is cancelled or Stop is called.
func (b *Bus) Start(ctx context.Context) {
	go func() {
		defer close(b.done)
		for {
			select {
			case c, ok := <-b.events:
				if !ok {
					return
				}
				b.dispatch(ctx, c)
			case <-ctx.Done():
				// Drain remaining changes before exiting.
				for {
					select {
					case c, ok := <-b.events:
						if !ok {
							return
						}
						b.dispatch(ctx, c)
					default:
						return
					}
				}
			}
		}
	}()
}

// Stop closes the bus and waits for the consumer goroutine to finish.
// Publish must not be called after Stop.
func (b *Bus) Stop() {
	close(b.events)
	<-b.done
}

func (b *Bus) dispatch(ctx context.Context, c event.Change) {
	b.mu.RLock()
	subs := b.subscribers
	b.mu.RUnlock()

	for _, s := range subs {
		if err := s.handler.HandleEvent(ctx, c); err != nil {
			b.log.ErrorContext(ctx, "eventbus: handler error", "handler", s.name, "kind", c.Kind, "err", err)
		}
	}
}
