package deploy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reillywatson/velocitystats/internal/config"
	"github.com/reillywatson/velocitystats/internal/github"
	"github.com/reillywatson/velocitystats/internal/metrics"
)

func day(d int) *time.Time {
	t := time.Date(2024, time.January, d, 12, 0, 0, 0, time.UTC)
	return &t
}

func merged(number, d int) metrics.PullRequest {
	return metrics.EnrichPullRequest(github.PullRequestRecord{
		Owner:     "o",
		Repo:      "r",
		Number:    number,
		State:     github.StateMerged,
		CreatedAt: day(1),
		MergedAt:  day(d),
	})
}

func release(tag string, d int) metrics.Release {
	return metrics.EnrichRelease(github.ReleaseRecord{Owner: "o", Repo: "r", TagName: tag, PublishedAt: day(d)})
}

// The CD flag is a workflow-name proxy for delivery, not ground truth:
// substring keywords accept some false positives such as "abcd".
func TestClassifierDefaults(t *testing.T) {
	c, err := NewClassifier(config.DefaultCDWorkflowPatterns)
	require.NoError(t, err)

	for _, name := range []string{"ci_cd", "cd_pipeline", "CICD", "gitops-cd", "CD pipeline", "Deploy to prod", "Publish image", "abcd"} {
		assert.True(t, c.IsCD(name), name)
	}
	for _, name := range []string{"ci", "build", "lint", ""} {
		assert.False(t, c.IsCD(name), name)
	}
}

func TestClassifierWordBoundaryOverride(t *testing.T) {
	c, err := NewClassifier([]string{`\bcd\b`})
	require.NoError(t, err)

	assert.True(t, c.IsCD("CD pipeline"))
	assert.True(t, c.IsCD("gitops-cd"))
	assert.False(t, c.IsCD("abcd"))
	assert.False(t, c.IsCD("ci_cd"))
}

func TestClassifierNoPatterns(t *testing.T) {
	c, err := NewClassifier(nil)
	require.NoError(t, err)
	assert.False(t, c.IsCD("deploy"))
}

func TestClassifierInvalidPattern(t *testing.T) {
	_, err := NewClassifier([]string{"("})
	assert.Error(t, err)
}

func TestTimeToRelease(t *testing.T) {
	prs := []metrics.PullRequest{merged(1, 1), merged(2, 15), merged(3, 25)}
	releases := []metrics.Release{release("v2", 20), release("v1", 10)}

	leads := TimeToRelease(prs, releases)
	require.Len(t, leads, 2)

	assert.Equal(t, 1, leads[0].PRNumber)
	assert.Equal(t, "v1", leads[0].ReleaseTag)
	assert.Equal(t, 9.0, leads[0].Days())

	assert.Equal(t, 2, leads[1].PRNumber)
	assert.Equal(t, "v2", leads[1].ReleaseTag)
	assert.Equal(t, 5.0, leads[1].Days())
}

func TestTimeToReleaseSameInstant(t *testing.T) {
	leads := TimeToRelease([]metrics.PullRequest{merged(1, 10)}, []metrics.Release{release("v1", 10)})
	require.Len(t, leads, 1)
	assert.Zero(t, leads[0].Lead)
}

func TestTimeToReleaseOtherRepo(t *testing.T) {
	rel := metrics.EnrichRelease(github.ReleaseRecord{Owner: "o", Repo: "other", TagName: "v1", PublishedAt: day(20)})
	assert.Empty(t, TimeToRelease([]metrics.PullRequest{merged(1, 1)}, []metrics.Release{rel}))
}

func TestTimeToReleaseSkipsUnmerged(t *testing.T) {
	open := metrics.EnrichPullRequest(github.PullRequestRecord{Owner: "o", Repo: "r", Number: 7, State: github.StateOpen, CreatedAt: day(1)})
	assert.Empty(t, TimeToRelease([]metrics.PullRequest{open}, []metrics.Release{release("v1", 10)}))
}

func TestTimeToReleaseMonthly(t *testing.T) {
	prs := []metrics.PullRequest{merged(1, 1), merged(2, 15), merged(3, 25)}
	releases := []metrics.Release{release("v1", 10), release("v2", 20)}

	table := TimeToReleaseMonthly(prs, releases)
	assert.Equal(t, TimeToReleaseColumns, table.Columns)
	assert.Equal(t, [][]string{{"o/r", "2024-01-01", "7", "2"}}, table.Rows)
}

func TestReleaseFrequencyMonthly(t *testing.T) {
	feb := time.Date(2024, time.February, 3, 0, 0, 0, 0, time.UTC)
	releases := []metrics.Release{
		release("v1", 10),
		release("v2", 20),
		metrics.EnrichRelease(github.ReleaseRecord{Owner: "o", Repo: "r", TagName: "v3", CreatedAt: &feb}),
		metrics.EnrichRelease(github.ReleaseRecord{Owner: "o", Repo: "r", TagName: "untimed"}),
	}

	table := ReleaseFrequencyMonthly(releases)
	assert.Equal(t, [][]string{
		{"o/r", "2024-01-01", "2"},
		{"o/r", "2024-02-01", "1"},
	}, table.Rows)
}

func TestCDWorkflowWeekly(t *testing.T) {
	c, err := NewClassifier(config.DefaultCDWorkflowPatterns)
	require.NoError(t, err)

	start := day(2)
	run := func(id int64, name, conclusion string, minutes int) github.WorkflowRunRecord {
		end := start.Add(time.Duration(minutes) * time.Minute)
		return github.WorkflowRunRecord{
			Owner: "o", Repo: "r", RunID: id, WorkflowName: name, Conclusion: conclusion,
			StartedAt: start, UpdatedAt: &end,
		}
	}
	runs := metrics.EnrichWorkflowRuns([]github.WorkflowRunRecord{
		run(1, "CD pipeline", "failure", 10),
		run(2, "CD pipeline", "success", 20),
		run(3, "CD pipeline", "success", 600),
		run(4, "ci", "failure", 5),
	}, c)

	assert.Equal(t, 3, CountCDRuns(runs))

	table := CDWorkflowWeekly(runs, 360*time.Minute)
	assert.Equal(t, CDWorkflowColumns, table.Columns)
	assert.Equal(t, [][]string{
		{"o/r", "2024-01-01", "3", "0.3333333333333333", "0.6666666666666667", "15"},
	}, table.Rows)
}

// With the default keywords a plain build workflow is not a delivery
// proxy, so the CD table has its header and no rows.
func TestCDWorkflowWeeklyEmpty(t *testing.T) {
	c, err := NewClassifier(config.DefaultCDWorkflowPatterns)
	require.NoError(t, err)

	runs := metrics.EnrichWorkflowRuns([]github.WorkflowRunRecord{
		{Owner: "o", Repo: "r", RunID: 1, WorkflowName: "build", StartedAt: day(2)},
	}, c)

	table := CDWorkflowWeekly(runs, 0)
	assert.Equal(t, CDWorkflowColumns, table.Columns)
	assert.Empty(t, table.Rows)
	assert.Zero(t, CountCDRuns(runs))
}

func TestReleaseTablesWithZeroRows(t *testing.T) {
	prs := []metrics.PullRequest{merged(1, 1), merged(2, 15)}

	ttr := TimeToReleaseMonthly(prs, nil)
	assert.Equal(t, TimeToReleaseColumns, ttr.Columns)
	assert.Empty(t, ttr.Rows)
	assert.Empty(t, TimeToRelease(prs, nil))

	freq := ReleaseFrequencyMonthly(nil)
	assert.Equal(t, ReleaseFrequencyColumns, freq.Columns)
	assert.Empty(t, freq.Rows)

	cd := CDWorkflowWeekly(nil, 0)
	assert.Equal(t, CDWorkflowColumns, cd.Columns)
	assert.Empty(t, cd.Rows)
}
