package storage

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/retry"
)

// ChangeSink receives one Change per successful document write.
type ChangeSink interface {
	Publish(ctx context.Context, c models.Change) error
}

// ObservedStore wraps a Store and reports each write to a ChangeSink, giving
// backends without native triggers onCreate/onUpdate semantics. The
// before/after snapshots are read around the write and are not atomic with it.
//
// A failed publish is retried under Retry with the same event id, so sinks
// see at-least-once delivery. Once the attempts are spent the change is
// dropped; the write itself still succeeds.
type ObservedStore struct {
	Store
	Retry  retry.Policy
	sink   ChangeSink
	logger *slog.Logger
	now    func() time.Time
}

func Observe(s Store, sink ChangeSink, logger *slog.Logger) *ObservedStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ObservedStore{Store: s, Retry: retry.Default, sink: sink, logger: logger, now: time.Now}
}

func (o *ObservedStore) Create(ctx context.Context, collection, id string, fields models.Fields) error {
	return o.observe(ctx, Write{Op: OpCreate, Collection: collection, ID: id, Fields: fields}, func() error {
		return o.Store.Create(ctx, collection, id, fields)
	})
}

func (o *ObservedStore) Set(ctx context.Context, collection, id string, fields models.Fields) error {
	return o.observe(ctx, Write{Op: OpSet, Collection: collection, ID: id, Fields: fields}, func() error {
		return o.Store.Set(ctx, collection, id, fields)
	})
}

func (o *ObservedStore) SetMerge(ctx context.Context, collection, id string, fields models.Fields) error {
	return o.observe(ctx, Write{Op: OpSetMerge, Collection: collection, ID: id, Fields: fields}, func() error {
		return o.Store.SetMerge(ctx, collection, id, fields)
	})
}

func (o *ObservedStore) Delete(ctx context.Context, collection, id string) error {
	return o.observe(ctx, Write{Op: OpDelete, Collection: collection, ID: id}, func() error {
		return o.Store.Delete(ctx, collection, id)
	})
}

func (o *ObservedStore) Batch(ctx context.Context, writes []Write) []error {
	errs := make([]error, len(writes))
	for i, w := range writes {
		w := w
		errs[i] = o.observe(ctx, w, func() error {
			return o.Store.Batch(ctx, []Write{w})[0]
		})
	}
	return errs
}

func (o *ObservedStore) observe(ctx context.Context, w Write, write func() error) error {
	var before models.Fields
	if w.Op != OpCreate {
		if doc, ok, err := GetOptional(ctx, o.Store, w.Collection, w.ID); err == nil && ok {
			before = doc.Fields
		}
	}
	if err := write(); err != nil {
		return err
	}
	var after models.Fields
	if w.Op != OpDelete {
		doc, ok, err := GetOptional(ctx, o.Store, w.Collection, w.ID)
		if err != nil {
			o.logger.Warn("change snapshot read failed", "collection", w.Collection, "id", w.ID, "error", err)
			return nil
		}
		if ok {
			after = doc.Fields
		}
	}
	c := models.Change{
		EventID:    uuid.NewString(),
		Collection: w.Collection,
		DocID:      w.ID,
		Before:     before,
		After:      after,
		At:         o.now().UTC(),
	}
	switch {
	case before == nil && after != nil:
		c.Kind = models.ChangeCreate
	case before != nil && after != nil:
		c.Kind = models.ChangeUpdate
	case before != nil:
		c.Kind = models.ChangeDelete
	default:
		return nil
	}
	err := retry.Do(ctx, o.Retry, func(ctx context.Context) error {
		return o.sink.Publish(ctx, c)
	})
	if err != nil {
		observability.ChangePublishFailuresTotal.WithLabelValues(c.Collection).Inc()
		o.logger.Error("change publish failed", "collection", c.Collection, "id", c.DocID, "kind", c.Kind, "eventId", c.EventID, "error", err)
	}
	return nil
}
