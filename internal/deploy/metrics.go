package deploy

import (
	"sort"
	"strconv"
	"time"

	"github.com/reillywatson/velocitystats/internal/metrics"
	"github.com/reillywatson/velocitystats/internal/store"
)

// Derived table names.
const (
	TableCDWorkflowWeekly        = "cd_workflow_weekly"
	TableReleaseFrequencyMonthly = "release_frequency_monthly"
	TableTimeToReleaseMonthly    = "time_to_release_monthly"
)

// Derived table schemas.
var CDWorkflowColumns = []string{"repo_full", "week", "cd_runs", "cd_failure_rate", "cd_success_rate", "cd_duration_med_min"}

var ReleaseFrequencyColumns = []string{"repo_full", "month", "release_frequency"}

var TimeToReleaseColumns = []string{"repo_full", "month", "time_to_release_med_days", "n"}

// CDWorkflowWeekly summarizes runs classified as CD by week of start. An
// empty CD set yields a table with no rows.
func CDWorkflowWeekly(runs []metrics.WorkflowRun, maxDuration time.Duration) *store.Table {
	t := store.NewTable(CDWorkflowColumns...)

	keys, groups := metrics.GroupByBucket(runs, func(run metrics.WorkflowRun) (metrics.BucketKey, bool) {
		if !run.IsCDWorkflow || run.StartedAt == nil {
			return metrics.BucketKey{}, false
		}
		return metrics.BucketKey{Repo: run.RepoFull(), Start: metrics.WeekStart(*run.StartedAt)}, true
	})

	for _, k := range keys {
		group := groups[k]

		var durations []float64
		failures := 0
		for _, run := range group {
			if m, ok := run.UsableDuration(maxDuration); ok {
				durations = append(durations, m)
			}
			if run.IsFailure {
				failures++
			}
		}
		failureRate := float64(failures) / float64(len(group))

		appendRow(t,
			k.Repo,
			metrics.FormatBucket(k.Start),
			strconv.Itoa(len(group)),
			metrics.FormatFloat(failureRate),
			metrics.FormatFloat(1-failureRate),
			metrics.FormatResult(metrics.Median(durations)),
		)
	}

	return t
}

// CountCDRuns returns how many runs are classified as CD.
func CountCDRuns(runs []metrics.WorkflowRun) int {
	n := 0
	for _, run := range runs {
		if run.IsCDWorkflow {
			n++
		}
	}
	return n
}

// ReleaseFrequencyMonthly counts releases by month of release time.
func ReleaseFrequencyMonthly(releases []metrics.Release) *store.Table {
	t := store.NewTable(ReleaseFrequencyColumns...)

	keys, groups := metrics.GroupByBucket(releases, func(rel metrics.Release) (metrics.BucketKey, bool) {
		if rel.ReleaseTime == nil {
			return metrics.BucketKey{}, false
		}
		return metrics.BucketKey{Repo: rel.RepoFull(), Start: metrics.MonthStart(*rel.ReleaseTime)}, true
	})

	for _, k := range keys {
		appendRow(t, k.Repo, metrics.FormatBucket(k.Start), strconv.Itoa(len(groups[k])))
	}

	return t
}

type timedRelease struct {
	tag string
	at  time.Time
}

// TimeToRelease pairs each merged pull request with the earliest release of
// the same repository at or after its merge. Pull requests with no such
// release are left out.
func TimeToRelease(prs []metrics.PullRequest, releases []metrics.Release) []ReleaseLead {
	byRepo := make(map[string][]timedRelease)
	for _, rel := range releases {
		if rel.ReleaseTime == nil {
			continue
		}
		byRepo[rel.RepoFull()] = append(byRepo[rel.RepoFull()], timedRelease{tag: rel.TagName, at: *rel.ReleaseTime})
	}

	// Sorted ascending so the first release at or after a merge can be found
	// by binary search.
	for _, rels := range byRepo {
		sort.Slice(rels, func(i, j int) bool { return rels[i].at.Before(rels[j].at) })
	}

	var leads []ReleaseLead
	for _, pr := range prs {
		if !pr.IsMerged || pr.MergedAt == nil {
			continue
		}

		rels := byRepo[pr.RepoFull()]
		merged := *pr.MergedAt
		idx := sort.Search(len(rels), func(i int) bool { return !rels[i].at.Before(merged) })
		if idx == len(rels) {
			continue
		}

		leads = append(leads, ReleaseLead{
			RepoFull:    pr.RepoFull(),
			PRNumber:    pr.Number,
			MergedAt:    merged,
			ReleaseTag:  rels[idx].tag,
			ReleaseTime: rels[idx].at,
			Lead:        rels[idx].at.Sub(merged),
		})
	}

	return leads
}

// TimeToReleaseMonthly reports the median lead in days by month of merge.
func TimeToReleaseMonthly(prs []metrics.PullRequest, releases []metrics.Release) *store.Table {
	t := store.NewTable(TimeToReleaseColumns...)

	keys, groups := metrics.GroupByBucket(TimeToRelease(prs, releases), func(l ReleaseLead) (metrics.BucketKey, bool) {
		return metrics.BucketKey{Repo: l.RepoFull, Start: metrics.MonthStart(l.MergedAt)}, true
	})

	for _, k := range keys {
		group := groups[k]
		days := make([]float64, len(group))
		for i, l := range group {
			days[i] = l.Days()
		}

		appendRow(t,
			k.Repo,
			metrics.FormatBucket(k.Start),
			metrics.FormatResult(metrics.Median(days)),
			strconv.Itoa(len(group)),
		)
	}

	return t
}

func appendRow(t *store.Table, row ...string) {
	if err := t.Append(row...); err != nil {
		panic(err)
	}
}
