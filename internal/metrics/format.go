package metrics

import (
	"strconv"
	"time"
)

// FormatFloat renders a number with the fewest digits that round-trip.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// FormatOptional renders nil as an empty cell.
func FormatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return FormatFloat(*v)
}

// FormatResult renders a reducer result, empty when there was no input.
func FormatResult(v float64, ok bool) string {
	if !ok {
		return ""
	}
	return FormatFloat(v)
}

// FormatBucket renders a bucket start date.
func FormatBucket(t time.Time) string {
	return t.Format(BucketLayout)
}

// FormatTime renders a timestamp as RFC 3339 UTC, nil as empty.
func FormatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// FormatBool renders true or false.
func FormatBool(b bool) string {
	return strconv.FormatBool(b)
}
