// Package events routes document changes to trigger handlers registered per
// collection and change kind.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/example/ride-dispatch/internal/models"
)

// Handler reacts to one document change. A returned error marks the
// invocation failed so the transport may redeliver it.
type Handler func(ctx context.Context, c models.Change) error

type route struct {
	collection string
	kind       models.ChangeKind
}

// Bus is an in-process trigger dispatcher. It implements storage.ChangeSink.
type Bus struct {
	mu       sync.RWMutex
	handlers map[route][]namedHandler
	logger   *slog.Logger
}

type namedHandler struct {
	name string
	fn   Handler
}

func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{handlers: make(map[route][]namedHandler), logger: logger}
}

func (b *Bus) OnCreate(collection, name string, h Handler) {
	b.subscribe(route{collection, models.ChangeCreate}, name, h)
}

func (b *Bus) OnUpdate(collection, name string, h Handler) {
	b.subscribe(route{collection, models.ChangeUpdate}, name, h)
}

func (b *Bus) subscribe(r route, name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[r] = append(b.handlers[r], namedHandler{name: name, fn: h})
}

// Publish runs every handler registered for the change synchronously. Each
// handler runs even when an earlier one fails; failures are joined.
func (b *Bus) Publish(ctx context.Context, c models.Change) error {
	b.mu.RLock()
	hs := append([]namedHandler(nil), b.handlers[route{c.Collection, c.Kind}]...)
	b.mu.RUnlock()

	var errs []error
	for _, h := range hs {
		if err := b.invoke(ctx, h, c); err != nil {
			b.logger.Error("trigger failed", "handler", h.name, "collection", c.Collection, "id", c.DocID, "eventId", c.EventID, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
		}
	}
	return errors.Join(errs...)
}

func (b *Bus) invoke(ctx context.Context, h namedHandler, c models.Change) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return h.fn(ctx, c)
}

// Handlers returns the number of handlers registered for collection and kind.
func (b *Bus) Handlers(collection string, kind models.ChangeKind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[route{collection, kind}])
}
