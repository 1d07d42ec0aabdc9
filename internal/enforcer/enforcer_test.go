package enforcer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-dispatch/internal/events"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/storage"
)

func TestNeedsFix(t *testing.T) {
	cases := []struct {
		name string
		in   models.Fields
		want bool
	}{
		{"open", models.Fields{"status": "open"}, false},
		{"open padded", models.Fields{"status": " Open "}, false},
		{"claimed status", models.Fields{"status": "claimed"}, true},
		{"missing status", models.Fields{}, true},
		{"legacy queued", models.Fields{"status": "queued"}, true},
		{"claimed flag", models.Fields{"status": "open", "claimed": true}, true},
		{"claimed false", models.Fields{"status": "open", "claimed": false, "claimedBy": nil}, false},
		{"claimedBy set", models.Fields{"status": "open", "claimedBy": "d@x.com"}, true},
		{"claimedBy empty", models.Fields{"status": "open", "claimedBy": ""}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NeedsFix(tc.in))
		})
	}
}

func TestHandleCreated_SelfHealsThroughTrigger(t *testing.T) {
	mem := storage.NewMemoryStore()
	bus := events.NewBus(slog.New(slog.NewTextHandler(io.Discard, nil)))
	store := storage.Observe(mem, bus, nil)

	e := New(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	fixed := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	e.Now = func() time.Time { return fixed }
	bus.OnCreate(models.CollectionLiveRides, "ensureLiveRideOpen", e.HandleCreated)

	ctx := context.Background()
	require.NoError(t, store.Create(ctx, models.CollectionLiveRides, "A1", models.Fields{
		"tripId": "A1", "status": "claimed", "claimed": true, "claimedBy": "d@x.com", "vehicle": "Bus 2",
	}))

	doc, err := mem.Get(ctx, models.CollectionLiveRides, "A1")
	require.NoError(t, err)
	assert.Equal(t, "open", doc.Fields["status"])
	assert.Equal(t, false, doc.Fields["claimed"])
	assert.Nil(t, doc.Fields["claimedBy"])
	assert.Equal(t, fixed, doc.Fields["updatedAt"])
	assert.Equal(t, "Bus 2", doc.Fields["vehicle"])
}

func TestHandleCreated_NoopForValidRide(t *testing.T) {
	mem := storage.NewMemoryStore()
	mem.FailWrite = func(storage.Write) error { return errors.New("no writes expected") }
	e := New(mem, nil)

	err := e.HandleCreated(context.Background(), models.Change{
		Kind: models.ChangeCreate, Collection: models.CollectionLiveRides, DocID: "A1",
		After: models.Fields{"status": "open"},
	})
	assert.NoError(t, err)
}

func TestHandleCreated_ReturnsRepairFailure(t *testing.T) {
	mem := storage.NewMemoryStore()
	boom := errors.New("unavailable")
	mem.FailWrite = func(storage.Write) error { return boom }
	e := New(mem, slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := e.HandleCreated(context.Background(), models.Change{
		Kind: models.ChangeCreate, Collection: models.CollectionLiveRides, DocID: "A1",
		After: models.Fields{"status": "claimed"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestHandleCreated_RetriesFailedRepair(t *testing.T) {
	mem := storage.NewMemoryStore()
	failures := 0
	mem.FailWrite = func(w storage.Write) error {
		if w.Op == storage.OpSetMerge && w.Collection == models.CollectionLiveRides && failures == 0 {
			failures++
			return errors.New("deadline exceeded")
		}
		return nil
	}
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := events.NewBus(quiet)
	store := storage.Observe(mem, bus, quiet)
	store.Retry.Delay = time.Millisecond
	bus.OnCreate(models.CollectionLiveRides, "ensureLiveRideOpen", New(store, quiet).HandleCreated)

	ctx := context.Background()
	require.NoError(t, store.Create(ctx, models.CollectionLiveRides, "A1", models.Fields{
		"status": "claimed", "claimedBy": "d@x.com",
	}))

	assert.Equal(t, 1, failures)
	doc, err := mem.Get(ctx, models.CollectionLiveRides, "A1")
	require.NoError(t, err)
	assert.Equal(t, "open", doc.Fields["status"])
	assert.Nil(t, doc.Fields["claimedBy"])
}
