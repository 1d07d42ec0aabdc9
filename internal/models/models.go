package models

import "time"

// Collection names shared by the importer, triggers and admin surfaces.
const (
	CollectionRideQueue    = "rideQueue"
	CollectionLiveRides    = "liveRides"
	CollectionClaimedRides = "claimedRides"
	CollectionAdminMeta    = "AdminMeta"
	CollectionUserAccess   = "userAccess"
	CollectionFCMTokens    = "fcmTokens"
	CollectionNotifyQueue  = "notifyQueue"
	CollectionEventMarkers = "__functionEvents"
)

// Fields is a loosely typed document body. Business fields the engine does
// not interpret are carried through unchanged.
type Fields map[string]any

// Clone returns a shallow copy.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Document is a stored record. Version increases on every write and is used
// for optimistic preconditions.
type Document struct {
	ID      string `json:"id"`
	Fields  Fields `json:"fields"`
	Version int64  `json:"version"`
}

// Ride is the canonical view of a ride record after alias resolution.
type Ride struct {
	TripID       string
	PickupTime   *time.Time
	ClaimedBy    string
	ClaimedAt    *time.Time
	Status       string
	RideDuration *float64
	Raw          Fields
}

// Unclaimed reports whether neither claim field is set.
func (r Ride) Unclaimed() bool {
	return r.ClaimedBy == "" && r.ClaimedAt == nil
}

type ImportStats struct {
	LiveDocs           int `json:"liveDocs"`
	LiveUnclaimed      int `json:"liveUnclaimed"`
	QueueTotal         int `json:"queueTotal"`
	QueueUnclaimed     int `json:"queueUnclaimed"`
	Imported           int `json:"imported"`
	DuplicatesFound    int `json:"duplicatesFound"`
	SkippedNoTripID    int `json:"skippedNoTripId"`
	SkippedClaimed     int `json:"skippedClaimed"`
	QueueCleared       int `json:"queueCleared"`
	UpdatedExisting    int `json:"updatedExisting"`
	SkippedClaimedLive int `json:"skippedClaimedLive"`
	WriteFailures      int `json:"writeFailures"`
}

// AsFields renders the stats the way they are persisted in AdminMeta.
func (s ImportStats) AsFields() Fields {
	return Fields{
		"liveDocs":           s.LiveDocs,
		"liveUnclaimed":      s.LiveUnclaimed,
		"queueTotal":         s.QueueTotal,
		"queueUnclaimed":     s.QueueUnclaimed,
		"imported":           s.Imported,
		"duplicatesFound":    s.DuplicatesFound,
		"skippedNoTripId":    s.SkippedNoTripID,
		"skippedClaimed":     s.SkippedClaimed,
		"queueCleared":       s.QueueCleared,
		"updatedExisting":    s.UpdatedExisting,
		"skippedClaimedLive": s.SkippedClaimedLive,
		"writeFailures":      s.WriteFailures,
	}
}

type ChangeKind string

const (
	ChangeCreate ChangeKind = "create"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

// Change is a document write as seen by trigger handlers. Before is nil for
// creates and After is nil for deletes.
type Change struct {
	EventID    string     `json:"eventId"`
	Kind       ChangeKind `json:"kind"`
	Collection string     `json:"collection"`
	DocID      string     `json:"docId"`
	Before     Fields     `json:"before,omitempty"`
	After      Fields     `json:"after,omitempty"`
	At         time.Time  `json:"at"`
}
