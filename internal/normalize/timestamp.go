package normalize

import (
	"strings"
	"time"
)

// epoch values above this are taken as milliseconds
const millisThreshold = 1e11

var layouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
}

// Timestamp coerces v to a UTC time. Accepted inputs are time.Time values,
// values exposing AsTime/ToTime/Time conversions (protobuf and BSON
// timestamps), date strings and epoch numbers.
func Timestamp(v any) (time.Time, bool) {
	var t time.Time
	switch x := v.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		t = x
	case *time.Time:
		if x == nil {
			return time.Time{}, false
		}
		t = *x
	case interface{ AsTime() time.Time }:
		t = x.AsTime()
	case interface{ ToTime() time.Time }:
		t = x.ToTime()
	case interface{ Time() time.Time }:
		t = x.Time()
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return time.Time{}, false
		}
		parsed, ok := parseString(s)
		if !ok {
			return time.Time{}, false
		}
		t = parsed
	default:
		f, ok := number(v)
		if !ok || f == 0 {
			return time.Time{}, false
		}
		t = fromEpoch(f)
	}
	if t.IsZero() {
		return time.Time{}, false
	}
	return t.UTC(), true
}

func parseString(s string) (time.Time, bool) {
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	if f, ok := number(s); ok && f != 0 {
		return fromEpoch(f), true
	}
	return time.Time{}, false
}

func fromEpoch(f float64) time.Time {
	if f > millisThreshold || f < -millisThreshold {
		return time.UnixMilli(int64(f))
	}
	sec := int64(f)
	return time.Unix(sec, int64((f-float64(sec))*1e9))
}
