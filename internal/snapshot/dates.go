// Package snapshot schedules static-analysis snapshots over the lookback
// horizon and checks out the commit each snapshot date refers to.
package snapshot

import (
	"errors"
	"fmt"
	"time"

	"github.com/reillywatson/velocitystats/internal/config"
)

// ErrUnknownFrequency is returned for a frequency other than monthly or
// quarterly.
var ErrUnknownFrequency = errors.New("unknown snapshot frequency")

// Dates returns the first of the month containing start, then every one or
// three months after it, up to but excluding end. All dates are UTC.
func Dates(start, end time.Time, frequency string) ([]time.Time, error) {
	var step int
	switch frequency {
	case config.FrequencyMonthly:
		step = 1
	case config.FrequencyQuarterly:
		step = 3
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFrequency, frequency)
	}

	start = start.UTC()
	var dates []time.Time
	for cur := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC); cur.Before(end); cur = cur.AddDate(0, step, 0) {
		dates = append(dates, cur)
	}
	return dates, nil
}

// Commit is a commit hash with its committer time.
type Commit struct {
	Hash string
	When time.Time
}

// NewestAtOrBefore returns the first commit, in walk order, committed at or
// before at. Walks are newest first, so this is the newest such commit.
func NewestAtOrBefore(commits []Commit, at time.Time) (Commit, bool) {
	for _, c := range commits {
		if !c.When.After(at) {
			return c, true
		}
	}
	return Commit{}, false
}
