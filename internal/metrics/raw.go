package metrics

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/reillywatson/velocitystats/internal/github"
	"github.com/reillywatson/velocitystats/internal/store"
)

// Raw table kinds, used to build file names.
const (
	KindPullRequests = "prs"
	KindWorkflowRuns = "workflow_runs"
	KindReleases     = "releases"
)

// ErrMissingColumn is returned when a raw table lacks a required column.
var ErrMissingColumn = errors.New("missing column")

// PullRequestColumns is the raw pull request schema: collected fields then
// derived fields.
var PullRequestColumns = []string{
	"owner", "repo", "repo_full", "pr_number", "created_at", "merged_at", "closed_at", "state",
	"is_draft", "additions", "deletions", "changed_files", "commit_count", "author", "merge_sha",
	"first_review_at", "review_count", "reviews_truncated",
	"done_at", "is_merged", "pr_cycle_hours", "review_latency_hours", "review_duration_hours", "pr_churn",
}

// WorkflowRunColumns is the raw workflow run schema.
var WorkflowRunColumns = []string{
	"owner", "repo", "repo_full", "run_id", "workflow_name", "event", "status", "conclusion",
	"created_at", "run_started_at", "updated_at", "head_sha", "pr_numbers",
	"ci_duration_min", "is_failure", "is_cd_workflow",
}

// ReleaseColumns is the raw release schema.
var ReleaseColumns = []string{
	"owner", "repo", "repo_full", "release_id", "tag_name", "name", "draft", "prerelease",
	"created_at", "published_at", "release_time",
}

// PullRequestTable renders enriched pull requests.
func PullRequestTable(prs []PullRequest) *store.Table {
	t := store.NewTable(PullRequestColumns...)
	for _, pr := range prs {
		mustAppend(t,
			pr.Owner,
			pr.Repo,
			pr.RepoFull(),
			strconv.Itoa(pr.Number),
			FormatTime(pr.CreatedAt),
			FormatTime(pr.MergedAt),
			FormatTime(pr.ClosedAt),
			pr.State,
			FormatBool(pr.IsDraft),
			strconv.Itoa(pr.Additions),
			strconv.Itoa(pr.Deletions),
			strconv.Itoa(pr.ChangedFiles),
			strconv.Itoa(pr.CommitCount),
			pr.Author,
			pr.MergeSHA,
			FormatTime(pr.FirstReviewAt),
			strconv.Itoa(pr.ReviewCount),
			FormatBool(pr.ReviewsTruncated),
			FormatTime(pr.DoneAt),
			FormatBool(pr.IsMerged),
			FormatOptional(Hours(pr.CycleTime)),
			FormatOptional(Hours(pr.ReviewLatency)),
			FormatOptional(Hours(pr.ReviewDuration)),
			strconv.Itoa(pr.Churn),
		)
	}
	return t
}

// WorkflowRunTable renders enriched workflow runs. Every run is kept,
// including those whose duration is excluded from medians.
func WorkflowRunTable(runs []WorkflowRun) *store.Table {
	t := store.NewTable(WorkflowRunColumns...)
	for _, run := range runs {
		mustAppend(t,
			run.Owner,
			run.Repo,
			run.RepoFull(),
			strconv.FormatInt(run.RunID, 10),
			run.WorkflowName,
			run.Event,
			run.Status,
			run.Conclusion,
			FormatTime(run.CreatedAt),
			FormatTime(run.StartedAt),
			FormatTime(run.UpdatedAt),
			run.HeadSHA,
			formatInts(run.PRNumbers),
			FormatOptional(Minutes(run.CIDuration)),
			FormatBool(run.IsFailure),
			FormatBool(run.IsCDWorkflow),
		)
	}
	return t
}

// ReleaseTable renders enriched releases.
func ReleaseTable(releases []Release) *store.Table {
	t := store.NewTable(ReleaseColumns...)
	for _, rel := range releases {
		mustAppend(t,
			rel.Owner,
			rel.Repo,
			rel.RepoFull(),
			strconv.FormatInt(rel.ReleaseID, 10),
			rel.TagName,
			rel.Name,
			FormatBool(rel.Draft),
			FormatBool(rel.Prerelease),
			FormatTime(rel.CreatedAt),
			FormatTime(rel.PublishedAt),
			FormatTime(rel.ReleaseTime),
		)
	}
	return t
}

// ParsePullRequests rebuilds collected records from a raw table. Derived
// columns are ignored; they are recomputed by enrichment.
func ParsePullRequests(t *store.Table) ([]github.PullRequestRecord, error) {
	r, err := newRowReader(t, "owner", "repo", "pr_number", "created_at", "merged_at", "closed_at",
		"state", "is_draft", "additions", "deletions", "changed_files", "commit_count", "author",
		"merge_sha", "first_review_at", "review_count")
	if err != nil {
		return nil, err
	}

	records := make([]github.PullRequestRecord, 0, t.Len())
	for _, row := range t.Rows {
		records = append(records, github.PullRequestRecord{
			Owner:            r.text(row, "owner"),
			Repo:             r.text(row, "repo"),
			Number:           r.integer(row, "pr_number"),
			CreatedAt:        github.ParseTimestamp(r.text(row, "created_at")),
			MergedAt:         github.ParseTimestamp(r.text(row, "merged_at")),
			ClosedAt:         github.ParseTimestamp(r.text(row, "closed_at")),
			State:            r.text(row, "state"),
			IsDraft:          r.flag(row, "is_draft"),
			Additions:        r.integer(row, "additions"),
			Deletions:        r.integer(row, "deletions"),
			ChangedFiles:     r.integer(row, "changed_files"),
			CommitCount:      r.integer(row, "commit_count"),
			Author:           r.text(row, "author"),
			MergeSHA:         r.text(row, "merge_sha"),
			FirstReviewAt:    github.ParseTimestamp(r.text(row, "first_review_at")),
			ReviewCount:      r.integer(row, "review_count"),
			ReviewsTruncated: r.flag(row, "reviews_truncated"),
		})
	}
	return records, nil
}

// ParseWorkflowRuns rebuilds collected records from a raw table.
func ParseWorkflowRuns(t *store.Table) ([]github.WorkflowRunRecord, error) {
	r, err := newRowReader(t, "owner", "repo", "run_id", "workflow_name", "event", "status",
		"conclusion", "created_at", "run_started_at", "updated_at", "head_sha")
	if err != nil {
		return nil, err
	}

	records := make([]github.WorkflowRunRecord, 0, t.Len())
	for _, row := range t.Rows {
		records = append(records, github.WorkflowRunRecord{
			Owner:        r.text(row, "owner"),
			Repo:         r.text(row, "repo"),
			RunID:        r.id(row, "run_id"),
			WorkflowName: r.text(row, "workflow_name"),
			Event:        r.text(row, "event"),
			Status:       r.text(row, "status"),
			Conclusion:   r.text(row, "conclusion"),
			CreatedAt:    github.ParseTimestamp(r.text(row, "created_at")),
			StartedAt:    github.ParseTimestamp(r.text(row, "run_started_at")),
			UpdatedAt:    github.ParseTimestamp(r.text(row, "updated_at")),
			HeadSHA:      r.text(row, "head_sha"),
			PRNumbers:    parseInts(r.text(row, "pr_numbers")),
		})
	}
	return records, nil
}

// ParseReleases rebuilds collected records from a raw table.
func ParseReleases(t *store.Table) ([]github.ReleaseRecord, error) {
	r, err := newRowReader(t, "owner", "repo", "release_id", "tag_name", "created_at", "published_at")
	if err != nil {
		return nil, err
	}

	records := make([]github.ReleaseRecord, 0, t.Len())
	for _, row := range t.Rows {
		records = append(records, github.ReleaseRecord{
			Owner:       r.text(row, "owner"),
			Repo:        r.text(row, "repo"),
			ReleaseID:   r.id(row, "release_id"),
			TagName:     r.text(row, "tag_name"),
			Name:        r.text(row, "name"),
			Draft:       r.flag(row, "draft"),
			Prerelease:  r.flag(row, "prerelease"),
			CreatedAt:   github.ParseTimestamp(r.text(row, "created_at")),
			PublishedAt: github.ParseTimestamp(r.text(row, "published_at")),
		})
	}
	return records, nil
}

// rowReader looks cells up by column name. Unknown columns read as empty and
// malformed numbers as zero, so one bad cell never fails the whole table.
type rowReader struct {
	index map[string]int
}

func newRowReader(t *store.Table, required ...string) (*rowReader, error) {
	if len(t.Columns) == 0 {
		return &rowReader{}, nil
	}

	r := &rowReader{index: make(map[string]int, len(t.Columns))}
	for i, c := range t.Columns {
		r.index[c] = i
	}
	for _, c := range required {
		if _, ok := r.index[c]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, c)
		}
	}
	return r, nil
}

func (r *rowReader) text(row []string, column string) string {
	i, ok := r.index[column]
	if !ok || i >= len(row) {
		return ""
	}
	return row[i]
}

func (r *rowReader) integer(row []string, column string) int {
	v, _ := strconv.Atoi(r.text(row, column))
	return v
}

func (r *rowReader) id(row []string, column string) int64 {
	v, _ := strconv.ParseInt(r.text(row, column), 10, 64)
	return v
}

func (r *rowReader) flag(row []string, column string) bool {
	v, _ := strconv.ParseBool(r.text(row, column))
	return v
}

func formatInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func parseInts(s string) []int {
	s = strings.Trim(strings.TrimSpace(s), "[]")
	if s == "" {
		return nil
	}

	var out []int
	for _, part := range strings.Split(s, ",") {
		if v, err := strconv.Atoi(strings.TrimSpace(part)); err == nil {
			out = append(out, v)
		}
	}
	return out
}
