package metrics

import (
	"strconv"
	"time"

	"github.com/reillywatson/velocitystats/internal/store"
)

// Rolling window for failure volatility, in populated weekly buckets.
const (
	VolatilityWindow     = 8
	VolatilityMinPeriods = 4
)

// Derived table names.
const (
	TableReviewOverheadWeekly = "review_overhead_weekly"
	TableCIWeekly             = "ci_weekly"
	TableCIFailureVolatility  = "ci_failure_volatility_weekly"
	TableCIFlakinessWeekly    = "ci_flakiness_weekly"
	TableMergeFrequencyWeekly = "merge_frequency_weekly"
)

// Derived table schemas.
var ReviewOverheadColumns = []string{"repo_full", "week", "pr_cycle_med_h", "review_latency_med_h",
	"review_duration_med_h", "review_count_med", "pr_churn_med", "merged_prs", "prs_total"}

var CIWeeklyColumns = []string{"repo_full", "week", "ci_duration_med_min", "ci_failure_rate", "ci_runs"}

var CIFailureVolatilityColumns = []string{"repo_full", "week", "ci_failure_rate", "ci_runs", "failure_volatility_8w"}

var CIFlakinessColumns = []string{"repo_full", "week", "share_with_retry", "avg_runs_per_key",
	"p95_runs_per_key", "n_keys"}

var MergeFrequencyColumns = []string{"repo_full", "week", "merge_frequency"}

// ReviewOverheadWeekly summarizes pull requests by week of creation.
func ReviewOverheadWeekly(prs []PullRequest) *store.Table {
	t := store.NewTable(ReviewOverheadColumns...)

	keys, groups := GroupByBucket(prs, func(pr PullRequest) (BucketKey, bool) {
		if pr.CreatedAt == nil {
			return BucketKey{}, false
		}
		return BucketKey{Repo: pr.RepoFull(), Start: WeekStart(*pr.CreatedAt)}, true
	})

	for _, k := range keys {
		group := groups[k]

		var cycle, latency, duration, reviews, churn []float64
		merged := 0
		for _, pr := range group {
			cycle = appendPresent(cycle, Hours(pr.CycleTime))
			latency = appendPresent(latency, Hours(pr.ReviewLatency))
			duration = appendPresent(duration, Hours(pr.ReviewDuration))
			reviews = append(reviews, float64(pr.ReviewCount))
			churn = append(churn, float64(pr.Churn))
			if pr.IsMerged {
				merged++
			}
		}

		mustAppend(t,
			k.Repo,
			FormatBucket(k.Start),
			FormatResult(Median(cycle)),
			FormatResult(Median(latency)),
			FormatResult(Median(duration)),
			FormatResult(Median(reviews)),
			FormatResult(Median(churn)),
			strconv.Itoa(merged),
			strconv.Itoa(len(group)),
		)
	}

	return t
}

// ciWeek is one populated CI bucket.
type ciWeek struct {
	key         BucketKey
	durationMed *float64
	failureRate float64
	runs        int
}

// ciWeeks folds runs by week of start. Every run with a start time counts
// toward the failure rate and run count; only usable durations within
// maxDuration enter the median.
func ciWeeks(runs []WorkflowRun, maxDuration time.Duration) []ciWeek {
	keys, groups := GroupByBucket(runs, runWeek)

	weeks := make([]ciWeek, 0, len(keys))
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

		w := ciWeek{
			key:         k,
			failureRate: float64(failures) / float64(len(group)),
			runs:        len(group),
		}
		if med, ok := Median(durations); ok {
			w.durationMed = &med
		}
		weeks = append(weeks, w)
	}
	return weeks
}

func runWeek(run WorkflowRun) (BucketKey, bool) {
	if run.StartedAt == nil {
		return BucketKey{}, false
	}
	return BucketKey{Repo: run.RepoFull(), Start: WeekStart(*run.StartedAt)}, true
}

// CIWeekly summarizes workflow runs by week of start.
func CIWeekly(runs []WorkflowRun, maxDuration time.Duration) *store.Table {
	t := store.NewTable(CIWeeklyColumns...)
	for _, w := range ciWeeks(runs, maxDuration) {
		mustAppend(t,
			w.key.Repo,
			FormatBucket(w.key.Start),
			FormatOptional(w.durationMed),
			FormatFloat(w.failureRate),
			strconv.Itoa(w.runs),
		)
	}
	return t
}

// CIFailureVolatilityWeekly adds the rolling sample standard deviation of the
// weekly failure rate, per repository, over the last VolatilityWindow
// populated weeks.
func CIFailureVolatilityWeekly(runs []WorkflowRun, maxDuration time.Duration) *store.Table {
	t := store.NewTable(CIFailureVolatilityColumns...)

	weeks := ciWeeks(runs, maxDuration)
	for start := 0; start < len(weeks); {
		end := start
		for end < len(weeks) && weeks[end].key.Repo == weeks[start].key.Repo {
			end++
		}

		repoWeeks := weeks[start:end]
		rates := make([]float64, len(repoWeeks))
		for i, w := range repoWeeks {
			rates[i] = w.failureRate
		}
		volatility := RollingStdDev(rates, VolatilityWindow, VolatilityMinPeriods)

		for i, w := range repoWeeks {
			mustAppend(t,
				w.key.Repo,
				FormatBucket(w.key.Start),
				FormatFloat(w.failureRate),
				strconv.Itoa(w.runs),
				FormatOptional(volatility[i]),
			)
		}
		start = end
	}

	return t
}

// retryKey identifies repeated executions of the same workflow for the same
// commit and trigger within a week.
type retryKey struct {
	bucket   BucketKey
	sha      string
	workflow string
	event    string
}

// CIFlakinessWeekly approximates flakiness by how often the same commit,
// workflow and event ran more than once in a week. Runs without a start time
// or head commit are skipped.
func CIFlakinessWeekly(runs []WorkflowRun) *store.Table {
	t := store.NewTable(CIFlakinessColumns...)

	counts := make(map[retryKey]int)
	for _, run := range runs {
		bucket, ok := runWeek(run)
		if !ok || run.HeadSHA == "" {
			continue
		}
		counts[retryKey{bucket: bucket, sha: run.HeadSHA, workflow: run.WorkflowName, event: run.Event}]++
	}

	perBucket := make(map[BucketKey][]float64)
	var keys []BucketKey
	for k, n := range counts {
		if _, seen := perBucket[k.bucket]; !seen {
			keys = append(keys, k.bucket)
		}
		perBucket[k.bucket] = append(perBucket[k.bucket], float64(n))
	}
	SortKeys(keys)

	for _, k := range keys {
		runsPerKey := perBucket[k]

		retried := 0
		for _, n := range runsPerKey {
			if n > 1 {
				retried++
			}
		}

		mustAppend(t,
			k.Repo,
			FormatBucket(k.Start),
			FormatFloat(float64(retried)/float64(len(runsPerKey))),
			FormatResult(Mean(runsPerKey)),
			FormatResult(Quantile(runsPerKey, 0.95)),
			strconv.Itoa(len(runsPerKey)),
		)
	}

	return t
}

// MergeFrequencyWeekly counts merged pull requests by week of merge.
func MergeFrequencyWeekly(prs []PullRequest) *store.Table {
	t := store.NewTable(MergeFrequencyColumns...)

	keys, groups := GroupByBucket(prs, func(pr PullRequest) (BucketKey, bool) {
		if !pr.IsMerged || pr.MergedAt == nil {
			return BucketKey{}, false
		}
		return BucketKey{Repo: pr.RepoFull(), Start: WeekStart(*pr.MergedAt)}, true
	})

	for _, k := range keys {
		mustAppend(t, k.Repo, FormatBucket(k.Start), strconv.Itoa(len(groups[k])))
	}

	return t
}

func appendPresent(values []float64, v *float64) []float64 {
	if v == nil {
		return values
	}
	return append(values, *v)
}

// mustAppend adds a row built by this package; the widths always match.
func mustAppend(t *store.Table, row ...string) {
	if err := t.Append(row...); err != nil {
		panic(err)
	}
}
