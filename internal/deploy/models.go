package deploy

import "time"

// ReleaseLead is the time from a merge to the first release that ships it.
type ReleaseLead struct {
	RepoFull    string
	PRNumber    int
	MergedAt    time.Time
	ReleaseTag  string
	ReleaseTime time.Time
	Lead        time.Duration
}

// Days returns the lead time in fractional days.
func (l ReleaseLead) Days() float64 {
	return l.Lead.Hours() / 24
}
