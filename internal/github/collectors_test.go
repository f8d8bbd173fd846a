package github

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/go-github/v62/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reillywatson/velocitystats/internal/config"
	"github.com/reillywatson/velocitystats/internal/logging"
)

var testRepo = config.Repository{Owner: "prometheus", Name: "prometheus"}

// fakeAPI serves canned pages and counts requests.
type fakeAPI struct {
	prPages []pullRequestPage
	queries int

	runs     []*github.WorkflowRun
	runCap   int
	runCalls []string

	releasePages [][]*github.RepositoryRelease
	releaseCalls int
}

func (f *fakeAPI) Query(_ context.Context, _ string, vars map[string]any, out any) error {
	idx := 0
	if cursor, ok := vars["cursor"].(*string); ok && cursor != nil {
		idx, _ = strconv.Atoi(*cursor)
	}
	f.queries++

	data, err := json.Marshal(f.prPages[idx])
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// ListWorkflowRuns filters by created date, then truncates to runCap like the
// real listing does for a single filter.
func (f *fakeAPI) ListWorkflowRuns(_ context.Context, _, _, created string, page, perPage int) (*github.WorkflowRuns, error) {
	f.runCalls = append(f.runCalls, created+"#"+strconv.Itoa(page))

	bounds := strings.SplitN(created, "..", 2)
	from, _ := time.Parse(dateLayout, bounds[0])
	to, _ := time.Parse(dateLayout, bounds[1])
	to = to.AddDate(0, 0, 1)

	var matched []*github.WorkflowRun
	for _, run := range f.runs {
		t := run.GetCreatedAt().Time
		if !t.Before(from) && t.Before(to) {
			matched = append(matched, run)
		}
	}
	total := len(matched)
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].GetCreatedAt().After(matched[j].GetCreatedAt().Time)
	})
	if f.runCap > 0 && len(matched) > f.runCap {
		matched = matched[:f.runCap]
	}

	start := (page - 1) * perPage
	if start > len(matched) {
		start = len(matched)
	}
	end := start + perPage
	if end > len(matched) {
		end = len(matched)
	}

	return &github.WorkflowRuns{TotalCount: github.Int(total), WorkflowRuns: matched[start:end]}, nil
}

func (f *fakeAPI) ListReleases(_ context.Context, _, _ string, page, _ int) ([]*github.RepositoryRelease, error) {
	f.releaseCalls++
	if page > len(f.releasePages) {
		return nil, nil
	}
	return f.releasePages[page-1], nil
}

func testCollectionConfig() config.CollectionConfig {
	return config.CollectionConfig{
		DaysBack:        30,
		ChunkDays:       7,
		PRPageSize:      3,
		ReviewPageSize:  2,
		ReleaseMaxPages: 20,
	}
}

func prPage(hasNext bool, nodes ...pullRequestNode) pullRequestPage {
	var p pullRequestPage
	p.Repository.PullRequests.PageInfo.HasNextPage = hasNext
	p.Repository.PullRequests.Nodes = nodes
	return p
}

// prPages builds numPages pages of perPage PRs created one day apart,
// newest first, starting at newest.
func prPages(newest time.Time, numPages, perPage int) []pullRequestPage {
	pages := make([]pullRequestPage, numPages)
	n := 0
	for i := range pages {
		nodes := make([]pullRequestNode, perPage)
		for j := range nodes {
			nodes[j] = pullRequestNode{
				Number:    1000 - n,
				CreatedAt: newest.AddDate(0, 0, -n).Format(time.RFC3339),
				State:     StateOpen,
			}
			n++
		}
		pages[i] = prPage(i < numPages-1, nodes...)
		pages[i].Repository.PullRequests.PageInfo.EndCursor = strconv.Itoa(i + 1)
	}
	return pages
}

func TestPullRequestCollector_StopsAtHorizon(t *testing.T) {
	newest := time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)
	api := &fakeAPI{prPages: prPages(newest, 5, 3)}
	since := newest.AddDate(0, 0, -7).Add(-12 * time.Hour)

	collector := NewPullRequestCollector(api, testCollectionConfig(), logging.Discard(), nil)
	records, err := collector.Collect(context.Background(), testRepo, since)
	require.NoError(t, err)

	assert.Len(t, records, 8)
	for _, r := range records {
		assert.False(t, r.CreatedAt.Before(since))
	}
	// pages 4 and 5 lie entirely before the horizon and are never requested
	assert.Equal(t, 3, api.queries)
}

func TestPullRequestCollector_WalksAllPagesWhenNothingIsOld(t *testing.T) {
	newest := time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)
	api := &fakeAPI{prPages: prPages(newest, 4, 3)}

	collector := NewPullRequestCollector(api, testCollectionConfig(), logging.Discard(), nil)
	records, err := collector.Collect(context.Background(), testRepo, newest.AddDate(-1, 0, 0))
	require.NoError(t, err)

	assert.Len(t, records, 12)
	assert.Equal(t, 4, api.queries)
}

func TestPullRequestCollector_MissingCreatedAtNeverStops(t *testing.T) {
	api := &fakeAPI{prPages: []pullRequestPage{prPage(false,
		pullRequestNode{Number: 3, CreatedAt: "2024-06-01T00:00:00Z"},
		pullRequestNode{Number: 2, CreatedAt: "not-a-time"},
		pullRequestNode{Number: 1, CreatedAt: "2024-05-01T00:00:00Z"},
	)}}

	collector := NewPullRequestCollector(api, testCollectionConfig(), logging.Discard(), nil)
	records, err := collector.Collect(context.Background(), testRepo, time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	require.Len(t, records, 2)
	assert.Nil(t, records[1].CreatedAt)
}

func TestNewPullRequestRecord(t *testing.T) {
	node := pullRequestNode{
		Number:       17,
		CreatedAt:    "2024-03-01T09:00:00Z",
		MergedAt:     "2024-03-02T09:00:00Z",
		ClosedAt:     "2024-03-02T09:00:00Z",
		State:        StateMerged,
		Additions:    10,
		Deletions:    4,
		ChangedFiles: 2,
	}
	node.Commits = &struct {
		TotalCount int `json:"totalCount"`
	}{TotalCount: 3}
	node.MergeCommit = &struct {
		Oid string `json:"oid"`
	}{Oid: "deadbeef"}
	node.Reviews = &struct {
		TotalCount int          `json:"totalCount"`
		Nodes      []reviewNode `json:"nodes"`
	}{
		TotalCount: 5,
		Nodes: []reviewNode{
			{CreatedAt: "2024-03-01T15:00:00Z", State: "COMMENTED"},
			{CreatedAt: "2024-03-01T11:00:00Z", State: "APPROVED"},
		},
	}

	record := newPullRequestRecord(testRepo, node)

	assert.Equal(t, "", record.Author, "deleted accounts have no author")
	assert.Equal(t, "deadbeef", record.MergeSHA)
	assert.Equal(t, 3, record.CommitCount)
	assert.Equal(t, 2, record.ReviewCount)
	assert.True(t, record.ReviewsTruncated)
	assert.Equal(t, time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC), *record.FirstReviewAt)
}

func TestFirstReview_NoReviews(t *testing.T) {
	assert.Nil(t, firstReview(nil))
	assert.Nil(t, firstReview([]reviewNode{{CreatedAt: ""}}))
}

func TestWindows_ContiguousAndDisjoint(t *testing.T) {
	since := time.Date(2024, 1, 1, 5, 0, 0, 0, time.UTC)
	now := time.Date(2024, 2, 9, 23, 0, 0, 0, time.UTC)

	windows := Windows(since, now, 7)
	require.Len(t, windows, 6)

	assert.Equal(t, "2024-01-01..2024-01-07", windows[0].Created())
	assert.Equal(t, "2024-02-05..2024-02-09", windows[5].Created())

	for i := 1; i < len(windows); i++ {
		assert.Equal(t, windows[i-1].End.AddDate(0, 0, 1), windows[i].Start)
		assert.True(t, windows[i].Start.After(windows[i-1].End))
	}
}

func TestWindows_SingleDay(t *testing.T) {
	at := time.Date(2024, 1, 1, 5, 0, 0, 0, time.UTC)
	windows := Windows(at, at.Add(time.Hour), 14)
	require.Len(t, windows, 1)
	assert.Equal(t, "2024-01-01..2024-01-01", windows[0].Created())
}

// syntheticRuns creates perDay runs on each of days consecutive days.
func syntheticRuns(start time.Time, days, perDay int) []*github.WorkflowRun {
	var runs []*github.WorkflowRun
	id := int64(1)
	for d := 0; d < days; d++ {
		for h := 0; h < perDay; h++ {
			created := start.AddDate(0, 0, d).Add(time.Duration(h) * time.Minute * 60)
			runs = append(runs, &github.WorkflowRun{
				ID:        github.Int64(id),
				Name:      github.String("CI"),
				HeadSHA:   github.String("sha" + strconv.FormatInt(id, 10)),
				CreatedAt: &github.Timestamp{Time: created},
			})
			id++
		}
	}
	return runs
}

func TestWorkflowRunCollector_WindowingIsComplete(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	since := start.Add(5 * time.Hour)
	now := start.AddDate(0, 0, 39).Add(23 * time.Hour)

	api := &fakeAPI{runs: syntheticRuns(start, 40, 20), runCap: 150}

	collector := NewWorkflowRunCollector(api, testCollectionConfig(), logging.Discard(), nil)
	records, err := collector.Collect(context.Background(), testRepo, since, now)
	require.NoError(t, err)

	assert.Len(t, records, 40*20-5)

	seen := make(map[int64]bool)
	for _, r := range records {
		assert.False(t, seen[r.RunID], "run %d returned twice", r.RunID)
		seen[r.RunID] = true
		assert.False(t, r.CreatedAt.Before(since))
	}

	// 140 runs per full window need two pages of 100
	assert.Contains(t, api.runCalls, "2024-01-01..2024-01-07#2")
	assert.Equal(t, "2024-01-01..2024-01-07#1", api.runCalls[0])
}

func TestWorkflowRunCollector_OneWindowLosesRuns(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start.AddDate(0, 0, 39).Add(23 * time.Hour)

	api := &fakeAPI{runs: syntheticRuns(start, 40, 20), runCap: 150}

	cfg := testCollectionConfig()
	cfg.ChunkDays = 60
	collector := NewWorkflowRunCollector(api, cfg, logging.Discard(), nil)
	records, err := collector.Collect(context.Background(), testRepo, start, now)
	require.NoError(t, err)

	assert.Len(t, records, 150)
}

func releasePages(newest time.Time, numPages int) [][]*github.RepositoryRelease {
	pages := make([][]*github.RepositoryRelease, numPages)
	n := 0
	for i := range pages {
		for j := 0; j < releasesPageSize; j++ {
			published := newest.Add(-time.Duration(n) * time.Hour)
			pages[i] = append(pages[i], &github.RepositoryRelease{
				ID:          github.Int64(int64(n + 1)),
				TagName:     github.String("v" + strconv.Itoa(n)),
				PublishedAt: &github.Timestamp{Time: published},
				CreatedAt:   &github.Timestamp{Time: published.Add(-time.Hour)},
			})
			n++
		}
	}
	return pages
}

func TestReleaseCollector_StopsAtHorizon(t *testing.T) {
	newest := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)
	api := &fakeAPI{releasePages: releasePages(newest, 4)}
	since := newest.Add(-149*time.Hour - 30*time.Minute)

	collector := NewReleaseCollector(api, testCollectionConfig(), logging.Discard(), nil)
	records, err := collector.Collect(context.Background(), testRepo, since)
	require.NoError(t, err)

	assert.Len(t, records, 150)
	assert.Equal(t, 2, api.releaseCalls)
	for _, r := range records {
		assert.False(t, r.ReleaseTime().Before(since))
	}
}

func TestReleaseCollector_RespectsMaxPages(t *testing.T) {
	newest := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)
	api := &fakeAPI{releasePages: releasePages(newest, 5)}

	cfg := testCollectionConfig()
	cfg.ReleaseMaxPages = 3
	collector := NewReleaseCollector(api, cfg, logging.Discard(), nil)
	records, err := collector.Collect(context.Background(), testRepo, newest.AddDate(-1, 0, 0))
	require.NoError(t, err)

	assert.Len(t, records, 300)
	assert.Equal(t, 3, api.releaseCalls)
}

func TestReleaseCollector_ShortPageEnds(t *testing.T) {
	created := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	api := &fakeAPI{releasePages: [][]*github.RepositoryRelease{{
		{ID: github.Int64(1), TagName: github.String("v1.0.0"), CreatedAt: &github.Timestamp{Time: created}},
	}}}

	collector := NewReleaseCollector(api, testCollectionConfig(), logging.Discard(), nil)
	records, err := collector.Collect(context.Background(), testRepo, created.AddDate(0, -1, 0))
	require.NoError(t, err)

	require.Len(t, records, 1)
	assert.Nil(t, records[0].PublishedAt)
	assert.Equal(t, created, *records[0].ReleaseTime())
	assert.Equal(t, 1, api.releaseCalls)
}
