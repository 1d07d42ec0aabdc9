// Package notify sends the driver confirmation text when a ride is claimed
// and delivers generic notifyQueue messages. Both paths run behind a Guard so
// a redelivered change event produces at most one outbound message.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/normalize"
	"github.com/example/ride-dispatch/internal/observability"
)

// GuardNamespace is the marker namespace for claim confirmations.
const GuardNamespace = "notifyDriverOnClaim"

type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// Skip reasons.
const (
	ReasonNoEmail   = "no-email"
	ReasonNoContact = "no-contact"
	ReasonDuplicate = "duplicate-event"
)

// Result is the outcome of one notification attempt. It is logged and
// recorded, never returned as an error to the trigger.
type Result struct {
	Outcome   Outcome
	Reason    string
	MessageID string
	Err       error
}

func delivered(id string) Result { return Result{Outcome: OutcomeDelivered, MessageID: id} }
func skipped(reason string) Result { return Result{Outcome: OutcomeSkipped, Reason: reason} }
func failed(err error) Result { return Result{Outcome: OutcomeFailed, Err: err} }

// configurable is implemented by gateways that can report missing
// credentials without a network call.
type configurable interface {
	Configured() bool
}

type Notifier struct {
	Directory Directory
	Guard     Guard
	SMS       dispatch.Gateway
	// Live, when set, also pushes the confirmation to an open portal session.
	Live   dispatch.Pusher
	Logger *slog.Logger
}

func New(dir Directory, guard Guard, sms dispatch.Gateway, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{Directory: dir, Guard: guard, SMS: sms, Logger: logger}
}

// HandleClaimCreated is the claimedRides onCreate trigger.
func (n *Notifier) HandleClaimCreated(ctx context.Context, c models.Change) error {
	if c.After == nil {
		return nil
	}
	n.MaybeNotify(ctx, c.EventID, c.DocID, c.After)
	return nil
}

// HandleLiveUpdated is the liveRides onUpdate trigger. It fires only on the
// unclaimed to claimed edge.
func (n *Notifier) HandleLiveUpdated(ctx context.Context, c models.Change) error {
	if c.After == nil || normalize.HasClaim(c.Before) || !normalize.HasClaim(c.After) {
		return nil
	}
	n.MaybeNotify(ctx, c.EventID, c.DocID, c.After)
	return nil
}

// MaybeNotify texts the claiming driver. Steps run in order and the first
// failing one decides the result: resolve email, look up phone, check the
// gateway, claim the event id, send.
func (n *Notifier) MaybeNotify(ctx context.Context, eventID, rideID string, data models.Fields) Result {
	r, claimed := n.notify(ctx, eventID, rideID, data)
	observability.NotificationsTotal.WithLabelValues("claim", string(r.Outcome)).Inc()

	log := n.Logger.With("eventId", eventID, "rideId", rideID)
	switch r.Outcome {
	case OutcomeDelivered:
		log.Info("notifyDriverOnClaim.sent", "messageId", r.MessageID)
	case OutcomeSkipped:
		log.Info("notifyDriverOnClaim.skip", "reason", r.Reason)
	case OutcomeFailed:
		log.Error("notifyDriverOnClaim.failed", "error", r.Err)
	}
	if claimed {
		if rec, ok := n.Guard.(OutcomeRecorder); ok {
			if err := rec.Record(ctx, eventID, r); err != nil {
				log.Warn("notifyDriverOnClaim.recordFailed", "error", err)
			}
		}
	}
	return r
}

// notify reports claimed=true once this call owns the event marker.
func (n *Notifier) notify(ctx context.Context, eventID, rideID string, data models.Fields) (r Result, claimed bool) {
	raw, _ := normalize.Lookup(data, "claimedBy", "ClaimedBy")
	email, ok := normalize.Email(raw)
	if !ok {
		n.Logger.Info("notifyDriverOnClaim.skipNoEmail", "rideId", rideID)
		return skipped(ReasonNoEmail), false
	}

	contact, found, err := n.Directory.LookupContact(ctx, email)
	if err != nil {
		n.Logger.Warn("notifyDriverOnClaim.lookupFailed", "email", email, "error", err)
	}
	if err != nil || !found || contact.Phone == "" {
		n.Logger.Info("notifyDriverOnClaim.skipNoPhone", "email", email)
		return skipped(ReasonNoContact), false
	}

	if n.SMS == nil {
		n.Logger.Warn("notifyDriverOnClaim.twilioMissing")
		return failed(dispatch.ErrNotConfigured), false
	}
	if c, ok := n.SMS.(configurable); ok && !c.Configured() {
		n.Logger.Warn("notifyDriverOnClaim.twilioMissing")
		return failed(dispatch.ErrNotConfigured), false
	}

	first, err := n.Guard.ShouldProcess(ctx, eventID)
	if err != nil {
		return failed(err), false
	}
	if !first {
		observability.GuardDuplicatesTotal.WithLabelValues(GuardNamespace).Inc()
		return skipped(ReasonDuplicate), false
	}

	body := ComposeBody(rideID, data)
	rec, err := n.SMS.Send(ctx, contact.Phone, body)
	if err != nil {
		return failed(fmt.Errorf("send to %s: %w", email, err)), true
	}
	n.pushLive(ctx, email, body, rideID)
	return delivered(rec.ID), true
}

func (n *Notifier) pushLive(ctx context.Context, email, body, rideID string) {
	if n.Live == nil {
		return
	}
	_, err := n.Live.Push(ctx, email, dispatch.PushMessage{
		Title: "Ride claimed",
		Body:  body,
		Data:  map[string]string{"rideId": rideID},
	})
	if err != nil && !errors.Is(err, dispatch.ErrNoSession) {
		n.Logger.Debug("notifyDriverOnClaim.livePushFailed", "email", email, "error", err)
	}
}

// ComposeBody renders the confirmation text.
func ComposeBody(rideID string, data models.Fields) string {
	trip := normalize.String(data, "tripId", "TripID", "tripID", "trip_id")
	if trip == "" {
		trip = rideID
	}
	vehicle := normalize.String(data, "vehicleName", "vehicle", "unit")
	if vehicle == "" {
		vehicle = "Vehicle"
	}
	rideType := normalize.String(data, "rideType")
	if rideType == "" {
		rideType = "N/A"
	}
	notes := normalize.String(data, "rideNotes", "notes")
	if notes == "" {
		notes = "none"
	}
	return fmt.Sprintf("Trip ID: %s\nVehicle: %s\nTrip Type: %s\nTrip Notes: %s", trip, vehicle, rideType, notes)
}
