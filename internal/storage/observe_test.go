package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/retry"
)

type captureSink struct {
	changes []models.Change
	err     error
}

func (c *captureSink) Publish(ctx context.Context, ch models.Change) error {
	c.changes = append(c.changes, ch)
	return c.err
}

func TestObserve_EmitsCreateUpdateDelete(t *testing.T) {
	sink := &captureSink{}
	s := Observe(NewMemoryStore(), sink, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, "liveRides", "A", models.Fields{"status": "open"}))
	require.NoError(t, s.SetMerge(ctx, "liveRides", "A", models.Fields{"claimedBy": "d@x.com"}))
	require.NoError(t, s.Delete(ctx, "liveRides", "A"))
	require.NoError(t, s.Delete(ctx, "liveRides", "A"))

	require.Len(t, sink.changes, 3)
	create, update, del := sink.changes[0], sink.changes[1], sink.changes[2]

	assert.Equal(t, models.ChangeCreate, create.Kind)
	assert.Nil(t, create.Before)
	assert.Equal(t, "open", create.After["status"])

	assert.Equal(t, models.ChangeUpdate, update.Kind)
	assert.NotContains(t, update.Before, "claimedBy")
	assert.Equal(t, "d@x.com", update.After["claimedBy"])

	assert.Equal(t, models.ChangeDelete, del.Kind)
	assert.Nil(t, del.After)

	ids := map[string]bool{}
	for _, c := range sink.changes {
		assert.NotEmpty(t, c.EventID)
		ids[c.EventID] = true
	}
	assert.Len(t, ids, 3)
}

func TestObserve_NoEventForFailedWrite(t *testing.T) {
	sink := &captureSink{}
	mem := NewMemoryStore()
	s := Observe(mem, sink, nil)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, "c", "A", models.Fields{}))
	assert.ErrorIs(t, s.Create(ctx, "c", "A", models.Fields{}), ErrAlreadyExists)

	errs := s.Batch(ctx, []Write{
		{Op: OpSet, Collection: "c", ID: "A", Fields: models.Fields{"x": 1}, IfVersion: 999},
		{Op: OpCreate, Collection: "c", ID: "B", Fields: models.Fields{}},
	})
	assert.ErrorIs(t, errs[0], ErrPreconditionFailed)
	assert.NoError(t, errs[1])
	assert.Len(t, sink.changes, 2)
}

func TestObserve_PublishErrorDoesNotFailWrite(t *testing.T) {
	sink := &captureSink{err: errors.New("trigger failed")}
	s := Observe(NewMemoryStore(), sink, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.Retry = retry.Policy{Attempts: 3, Delay: time.Millisecond}
	assert.NoError(t, s.Create(context.Background(), "c", "A", models.Fields{}))
	assert.Len(t, sink.changes, 3)
}

type flakySink struct {
	captureSink
	failures int
}

func (f *flakySink) Publish(ctx context.Context, ch models.Change) error {
	f.changes = append(f.changes, ch)
	if f.failures > 0 {
		f.failures--
		return errors.New("broker unavailable")
	}
	return nil
}

func TestObserve_RetriesPublishWithSameEvent(t *testing.T) {
	sink := &flakySink{failures: 2}
	s := Observe(NewMemoryStore(), sink, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.Retry = retry.Policy{Attempts: 3, Delay: time.Millisecond}

	require.NoError(t, s.Create(context.Background(), "liveRides", "A", models.Fields{"status": "open"}))
	require.Len(t, sink.changes, 3)
	for _, c := range sink.changes[1:] {
		assert.Equal(t, sink.changes[0].EventID, c.EventID)
		assert.Equal(t, models.ChangeCreate, c.Kind)
	}
}
