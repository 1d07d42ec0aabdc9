package importer

import (
	"strings"
	"time"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/normalize"
)

// SystemWriter is stamped into lastModifiedBy on every imported ride.
const SystemWriter = "system@dropDailyRides"

type Action int

const (
	// queue document already carries claim fields
	ActionSkipClaimedSource Action = iota
	ActionSkipNoTripID
	// trip key already handled earlier in this pass
	ActionDuplicateInBatch
	ActionCreate
	ActionOverwrite
	// live ride for the trip key is claimed and must not be touched
	ActionSkipClaimedLive
)

func (a Action) String() string {
	switch a {
	case ActionSkipClaimedSource:
		return "skip_claimed_source"
	case ActionSkipNoTripID:
		return "skip_no_trip_id"
	case ActionDuplicateInBatch:
		return "duplicate_in_batch"
	case ActionCreate:
		return "create"
	case ActionOverwrite:
		return "overwrite"
	case ActionSkipClaimedLive:
		return "skip_claimed_live"
	default:
		return "unknown"
	}
}

// Decision is the outcome for one queue document. Target is set for
// overwrites and names the live document (and the version it was read at).
type Decision struct {
	QueueID string
	TripKey string
	Action  Action
	Target  models.Document
	Payload models.Fields
	Err     error
}

func (d Decision) writes() bool {
	return d.Action == ActionCreate || d.Action == ActionOverwrite
}

type liveEntry struct {
	doc  models.Document
	ride models.Ride
}

// Index is the live-ride lookup keyed by document id and by trip id.
type Index struct {
	entries   map[string]liveEntry
	Docs      int
	Unclaimed int
}

func BuildIndex(live []models.Document) Index {
	idx := Index{entries: make(map[string]liveEntry, len(live)*2), Docs: len(live)}
	for _, doc := range live {
		ride := normalize.Ride(doc.Fields)
		e := liveEntry{doc: doc, ride: ride}
		if k := strings.TrimSpace(doc.ID); k != "" {
			idx.entries[k] = e
		}
		if ride.TripID != "" {
			idx.entries[ride.TripID] = e
		}
		if ride.Unclaimed() {
			idx.Unclaimed++
		}
	}
	return idx
}

func (idx Index) lookup(key string) (liveEntry, bool) {
	e, ok := idx.entries[key]
	return e, ok
}

// Plan decides what happens to every queue document. It is pure: the same
// index, queue order and clock produce the same decisions. Duplicates within
// the queue resolve first-seen-wins in queue order.
func Plan(idx Index, queue []models.Document, now time.Time) []Decision {
	decisions := make([]Decision, 0, len(queue))
	seen := make(map[string]bool, len(queue))
	for _, doc := range queue {
		ride := normalize.Ride(doc.Fields)
		d := Decision{QueueID: doc.ID, TripKey: ride.TripID}
		switch {
		case !ride.Unclaimed():
			d.Action = ActionSkipClaimedSource
		case ride.TripID == "":
			d.Action = ActionSkipNoTripID
		case seen[ride.TripID]:
			d.Action = ActionDuplicateInBatch
		default:
			seen[ride.TripID] = true
			d.Payload = livePayload(doc.Fields, ride, now)
			if existing, ok := idx.lookup(ride.TripID); ok {
				d.Target = existing.doc
				if existing.ride.Unclaimed() {
					d.Action = ActionOverwrite
				} else {
					d.Action = ActionSkipClaimedLive
				}
			} else {
				d.Action = ActionCreate
				d.Target = models.Document{ID: ride.TripID}
			}
		}
		decisions = append(decisions, d)
	}
	return decisions
}

// livePayload copies every queue field and overlays the canonical trip id,
// a pickup time and the import bookkeeping fields.
func livePayload(raw models.Fields, ride models.Ride, now time.Time) models.Fields {
	p := raw.Clone()
	p["tripId"] = ride.TripID
	if ride.PickupTime != nil {
		p["pickupTime"] = *ride.PickupTime
	} else {
		p["pickupTime"] = now
	}
	if raw["status"] == nil {
		p["status"] = normalize.StatusOpen
	}
	p["importedFromQueueAt"] = now
	p["lastModifiedBy"] = SystemWriter
	return p
}

// Fold reduces decisions to the pass statistics. Writes that failed are not
// counted as imported or updated. QueueCleared is left to the caller.
func Fold(idx Index, queueTotal int, decisions []Decision) models.ImportStats {
	s := models.ImportStats{
		LiveDocs:      idx.Docs,
		LiveUnclaimed: idx.Unclaimed,
		QueueTotal:    queueTotal,
	}
	for _, d := range decisions {
		if d.Action != ActionSkipClaimedSource {
			s.QueueUnclaimed++
		}
		if d.Err != nil {
			s.WriteFailures++
		}
		switch d.Action {
		case ActionSkipClaimedSource:
			s.SkippedClaimed++
		case ActionSkipNoTripID:
			s.SkippedNoTripID++
		case ActionDuplicateInBatch:
			s.DuplicatesFound++
		case ActionCreate:
			if d.Err == nil {
				s.Imported++
			}
		case ActionOverwrite:
			s.DuplicatesFound++
			if d.Err == nil {
				s.UpdatedExisting++
			}
		case ActionSkipClaimedLive:
			s.DuplicatesFound++
			s.SkippedClaimedLive++
		}
	}
	return s
}
