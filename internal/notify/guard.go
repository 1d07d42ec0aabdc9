package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/storage"
)

// Guard admits each event id at most once per namespace.
type Guard interface {
	// ShouldProcess returns true for the first caller with eventID and false
	// for every later one. An empty eventID is always admitted.
	ShouldProcess(ctx context.Context, eventID string) (bool, error)
}

// OutcomeRecorder stores how a guarded event ended.
type OutcomeRecorder interface {
	Record(ctx context.Context, eventID string, r Result) error
}

// StoreGuard keeps one marker document per event under
// __functionEvents/<namespace>. Marker creation is create-only, so concurrent
// deliveries of the same event race on the store and exactly one wins.
type StoreGuard struct {
	Store     storage.Store
	Namespace string
	Now       func() time.Time
}

func NewStoreGuard(store storage.Store, namespace string) *StoreGuard {
	return &StoreGuard{Store: store, Namespace: namespace, Now: time.Now}
}

func (g *StoreGuard) collection() string {
	return models.CollectionEventMarkers + "/" + g.Namespace
}

func (g *StoreGuard) ShouldProcess(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return true, nil
	}
	err := g.Store.Create(ctx, g.collection(), eventID, models.Fields{
		"eventId":   eventID,
		"namespace": g.Namespace,
		"createdAt": g.Now().UTC(),
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, storage.ErrAlreadyExists):
		return false, nil
	default:
		return false, fmt.Errorf("guard %s/%s: %w", g.Namespace, eventID, err)
	}
}

// Record merges the outcome into the event's marker.
func (g *StoreGuard) Record(ctx context.Context, eventID string, r Result) error {
	if eventID == "" {
		return nil
	}
	f := models.Fields{
		"outcome":     string(r.Outcome),
		"completedAt": g.Now().UTC(),
	}
	if r.MessageID != "" {
		f["messageId"] = r.MessageID
	}
	if r.Reason != "" {
		f["reason"] = r.Reason
	}
	if r.Err != nil {
		f["error"] = r.Err.Error()
	}
	return g.Store.SetMerge(ctx, g.collection(), eventID, f)
}
