// Package enforcer keeps newly created live rides open and unclaimed,
// whichever writer created them.
package enforcer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/normalize"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/storage"
)

type Enforcer struct {
	Store  storage.Store
	Logger *slog.Logger
	Now    func() time.Time
}

func New(store storage.Store, logger *slog.Logger) *Enforcer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enforcer{Store: store, Logger: logger, Now: time.Now}
}

// NeedsFix reports whether a new live ride violates the open/unclaimed
// invariant. Only the exact status "open" passes.
func NeedsFix(f models.Fields) bool {
	status := ""
	if s, ok := f["status"].(string); ok {
		status = strings.ToLower(strings.TrimSpace(s))
	}
	if status != normalize.StatusOpen {
		return true
	}
	if claimed, ok := f["claimed"].(bool); ok && claimed {
		return true
	}
	return normalize.Truthy(f["claimedBy"])
}

// HandleCreated is the liveRides onCreate trigger. A failed repair is
// returned so the transport redelivers the event.
func (e *Enforcer) HandleCreated(ctx context.Context, c models.Change) error {
	if c.After == nil || !NeedsFix(c.After) {
		observability.InvariantRepairsTotal.WithLabelValues("ok").Inc()
		return nil
	}
	err := e.Store.SetMerge(ctx, models.CollectionLiveRides, c.DocID, models.Fields{
		"status":    normalize.StatusOpen,
		"claimed":   false,
		"claimedBy": nil,
		"updatedAt": e.Now().UTC(),
	})
	if err != nil {
		observability.InvariantRepairsTotal.WithLabelValues("error").Inc()
		e.Logger.Error("ensureLiveRideOpen:updateFailed", "id", c.DocID, "eventId", c.EventID, "error", err)
		return fmt.Errorf("repair %s/%s: %w", models.CollectionLiveRides, c.DocID, err)
	}
	observability.InvariantRepairsTotal.WithLabelValues("repaired").Inc()
	e.Logger.Info("ensureLiveRideOpen:repaired", "id", c.DocID, "eventId", c.EventID)
	return nil
}
