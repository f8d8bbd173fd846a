package metrics

import (
	"sort"
	"time"
)

// BucketLayout formats bucket starts in every table.
const BucketLayout = "2006-01-02"

// WeekStart returns midnight UTC of the Monday starting t's ISO week.
func WeekStart(t time.Time) time.Time {
	t = t.UTC()
	offset := (int(t.Weekday()) + 6) % 7
	d := t.AddDate(0, 0, -offset)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
}

// MonthStart returns midnight UTC of the first day of t's month.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// BucketKey identifies one row of a derived table.
type BucketKey struct {
	Repo  string
	Start time.Time
}

// GroupByBucket groups items by the key returned for each one. Items for
// which key reports false are skipped. Keys come back sorted by repository,
// then bucket start.
func GroupByBucket[T any](items []T, key func(T) (BucketKey, bool)) ([]BucketKey, map[BucketKey][]T) {
	groups := make(map[BucketKey][]T)
	var keys []BucketKey

	for _, item := range items {
		k, ok := key(item)
		if !ok {
			continue
		}
		if _, seen := groups[k]; !seen {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], item)
	}

	SortKeys(keys)
	return keys, groups
}

// SortKeys orders keys by repository, then bucket start.
func SortKeys(keys []BucketKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Repo != keys[j].Repo {
			return keys[i].Repo < keys[j].Repo
		}
		return keys[i].Start.Before(keys[j].Start)
	})
}
