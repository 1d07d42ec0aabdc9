// Package normalize maps loosely typed ride documents, including legacy field
// spellings written by older ingestion feeds, onto the canonical models.Ride
// shape. Every component that derives a dedup key goes through Ride so the key
// is computed the same way everywhere.
//
// Field precedence (first present, non-nil key wins):
//
//	tripId        tripId, TripID, tripID, trip_id
//	pickupTime    pickupTime, PickupTime, Date
//	claimedBy     claimedBy, ClaimedBy
//	claimedAt     claimedAt, ClaimedAt
//	status        status, Status
//	rideDuration  rideDuration, RideDuration
package normalize

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/example/ride-dispatch/internal/models"
)

var (
	tripIDKeys       = []string{"tripId", "TripID", "tripID", "trip_id"}
	pickupTimeKeys   = []string{"pickupTime", "PickupTime", "Date"}
	claimedByKeys    = []string{"claimedBy", "ClaimedBy"}
	claimedAtKeys    = []string{"claimedAt", "ClaimedAt"}
	statusKeys       = []string{"status", "Status"}
	rideDurationKeys = []string{"rideDuration", "RideDuration"}
)

// StatusOpen is the only status a claimable live ride may carry.
const StatusOpen = "open"

var legacyOpen = map[string]bool{"queued": true, "queue": true, "unclaimed": true}

// Ride returns the canonical view of raw. It never fails: unreadable values
// resolve to their zero/absent form.
func Ride(raw models.Fields) models.Ride {
	r := models.Ride{Raw: raw}
	if v, ok := lookup(raw, tripIDKeys); ok {
		r.TripID = strings.TrimSpace(toString(v))
	}
	if v, ok := lookup(raw, pickupTimeKeys); ok {
		if t, ok := Timestamp(v); ok {
			r.PickupTime = &t
		}
	}
	if v, ok := lookup(raw, claimedByKeys); ok {
		r.ClaimedBy = strings.TrimSpace(toString(v))
	}
	if v, ok := lookup(raw, claimedAtKeys); ok {
		if t, ok := Timestamp(v); ok {
			r.ClaimedAt = &t
		}
	}
	if v, ok := lookup(raw, statusKeys); ok {
		r.Status = Status(toString(v))
	}
	if v, ok := lookup(raw, rideDurationKeys); ok {
		if f, ok := number(v); ok {
			r.RideDuration = &f
		}
	}
	return r
}

// Status lower-cases s and folds legacy queue spellings into "open".
func Status(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if legacyOpen[s] {
		return StatusOpen
	}
	return s
}

// Email trims and lower-cases an identity. ok is false when the value cannot
// be an email address.
func Email(v any) (string, bool) {
	s := strings.ToLower(strings.TrimSpace(toString(v)))
	if s == "" || !strings.Contains(s, "@") {
		return s, false
	}
	return s, true
}

// HasClaim reports whether any claim field, canonical or legacy, is truthy.
func HasClaim(f models.Fields) bool {
	for _, k := range append(append([]string{}, claimedAtKeys...), claimedByKeys...) {
		if Truthy(f[k]) {
			return true
		}
	}
	return false
}

// Truthy mirrors the loose truthiness document writers rely on: nil, false,
// zero numbers and empty strings are false.
func Truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case int:
		return x != 0
	case int32:
		return x != 0
	case int64:
		return x != 0
	case float32:
		return x != 0 && !math.IsNaN(float64(x))
	case float64:
		return x != 0 && !math.IsNaN(x)
	default:
		return true
	}
}

// Lookup returns the first non-nil value among keys.
func Lookup(f models.Fields, keys ...string) (any, bool) {
	return lookup(f, keys)
}

func lookup(f models.Fields, keys []string) (any, bool) {
	for _, k := range keys {
		if v, ok := f[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func toString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

func number(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case int:
		f = float64(x)
	case int32:
		f = float64(x)
	case int64:
		f = float64(x)
	case float32:
		f = float64(x)
	case float64:
		f = x
	case string:
		p, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = p
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Slice returns v as a []any when it is any slice or array type, such as the
// decoded array types of JSON and BSON drivers.
func Slice(v any) ([]any, bool) {
	if s, ok := v.([]any); ok {
		return s, true
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// Map returns v as a map[string]any when it is any string-keyed map type.
func Map(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case models.Fields:
		return m, true
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}

// String returns the first value among keys that renders to a non-empty
// trimmed string.
func String(f map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := strings.TrimSpace(toString(f[k])); s != "" {
			return s
		}
	}
	return ""
}
