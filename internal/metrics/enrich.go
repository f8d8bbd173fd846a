// Package metrics derives per-record fields and weekly or monthly aggregate
// tables from collected pull requests and workflow runs.
package metrics

import (
	"time"

	"github.com/reillywatson/velocitystats/internal/github"
)

// failureConclusions are the conclusions counted as failures. Runs that are
// still in progress, skipped or neutral are not failures.
var failureConclusions = map[string]bool{
	"failure":   true,
	"cancelled": true,
	"timed_out": true,
}

// PullRequest is a collected pull request with its derived fields. Nil
// derived values mean a timestamp they depend on is missing.
type PullRequest struct {
	github.PullRequestRecord

	DoneAt         *time.Time
	IsMerged       bool
	CycleTime      *time.Duration
	ReviewLatency  *time.Duration
	ReviewDuration *time.Duration
	Churn          int
}

// WorkflowRun is a collected workflow run with its derived fields.
type WorkflowRun struct {
	github.WorkflowRunRecord

	// CIDuration is nil when either timestamp is missing or the difference
	// is negative.
	CIDuration   *time.Duration
	IsFailure    bool
	IsCDWorkflow bool
}

// Release is a collected release with its effective release time.
type Release struct {
	github.ReleaseRecord

	ReleaseTime *time.Time
}

// Classifier decides whether a workflow name denotes a delivery pipeline.
type Classifier interface {
	IsCD(workflowName string) bool
}

// EnrichPullRequest computes the derived fields of a pull request.
func EnrichPullRequest(r github.PullRequestRecord) PullRequest {
	pr := PullRequest{
		PullRequestRecord: r,
		IsMerged:          r.State == github.StateMerged,
		Churn:             r.Additions + r.Deletions,
	}

	pr.DoneAt = r.MergedAt
	if pr.DoneAt == nil {
		pr.DoneAt = r.ClosedAt
	}

	pr.CycleTime = between(r.CreatedAt, pr.DoneAt)
	pr.ReviewLatency = between(r.CreatedAt, r.FirstReviewAt)
	pr.ReviewDuration = between(r.FirstReviewAt, pr.DoneAt)

	return pr
}

// EnrichPullRequests enriches every record.
func EnrichPullRequests(records []github.PullRequestRecord) []PullRequest {
	out := make([]PullRequest, len(records))
	for i, r := range records {
		out[i] = EnrichPullRequest(r)
	}
	return out
}

// EnrichWorkflowRun computes the derived fields of a workflow run.
func EnrichWorkflowRun(r github.WorkflowRunRecord, classifier Classifier) WorkflowRun {
	run := WorkflowRun{
		WorkflowRunRecord: r,
		IsFailure:         failureConclusions[r.Conclusion],
		IsCDWorkflow:      classifier.IsCD(r.WorkflowName),
	}

	if d := between(r.StartedAt, r.UpdatedAt); d != nil && *d >= 0 {
		run.CIDuration = d
	}

	return run
}

// EnrichWorkflowRuns enriches every record.
func EnrichWorkflowRuns(records []github.WorkflowRunRecord, classifier Classifier) []WorkflowRun {
	out := make([]WorkflowRun, len(records))
	for i, r := range records {
		out[i] = EnrichWorkflowRun(r, classifier)
	}
	return out
}

// EnrichRelease computes the effective release time.
func EnrichRelease(r github.ReleaseRecord) Release {
	return Release{ReleaseRecord: r, ReleaseTime: r.ReleaseTime()}
}

// EnrichReleases enriches every record.
func EnrichReleases(records []github.ReleaseRecord) []Release {
	out := make([]Release, len(records))
	for i, r := range records {
		out[i] = EnrichRelease(r)
	}
	return out
}

// between returns to-from, or nil when either end is missing.
func between(from, to *time.Time) *time.Duration {
	if from == nil || to == nil {
		return nil
	}
	d := to.Sub(*from)
	return &d
}

// Hours converts an optional duration to hours.
func Hours(d *time.Duration) *float64 {
	if d == nil {
		return nil
	}
	h := d.Hours()
	return &h
}

// Minutes converts an optional duration to minutes.
func Minutes(d *time.Duration) *float64 {
	if d == nil {
		return nil
	}
	m := d.Minutes()
	return &m
}

// UsableDuration returns the run's duration in minutes when it can enter a
// duration median: present, and at most maxDuration unless that is zero.
func (r WorkflowRun) UsableDuration(maxDuration time.Duration) (float64, bool) {
	if r.CIDuration == nil {
		return 0, false
	}
	if maxDuration > 0 && *r.CIDuration > maxDuration {
		return 0, false
	}
	return r.CIDuration.Minutes(), true
}
