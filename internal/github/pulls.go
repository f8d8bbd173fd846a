package github

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/reillywatson/velocitystats/internal/config"
	"github.com/reillywatson/velocitystats/internal/runstats"
)

const pullRequestQuery = `
query($owner: String!, $name: String!, $cursor: String, $pageSize: Int!, $reviewPageSize: Int!) {
  repository(owner: $owner, name: $name) {
    pullRequests(
      first: $pageSize,
      after: $cursor,
      orderBy: {field: CREATED_AT, direction: DESC},
      states: [OPEN, CLOSED, MERGED]
    ) {
      pageInfo { hasNextPage endCursor }
      nodes {
        number
        createdAt
        mergedAt
        closedAt
        state
        isDraft
        additions
        deletions
        changedFiles
        commits { totalCount }
        author { login }
        mergeCommit { oid }
        reviews(first: $reviewPageSize) {
          totalCount
          nodes {
            createdAt
            state
            author { login }
          }
        }
      }
    }
  }
}`

type pullRequestPage struct {
	Repository struct {
		PullRequests struct {
			PageInfo struct {
				HasNextPage bool   `json:"hasNextPage"`
				EndCursor   string `json:"endCursor"`
			} `json:"pageInfo"`
			Nodes []pullRequestNode `json:"nodes"`
		} `json:"pullRequests"`
	} `json:"repository"`
}

type pullRequestNode struct {
	Number       int    `json:"number"`
	CreatedAt    string `json:"createdAt"`
	MergedAt     string `json:"mergedAt"`
	ClosedAt     string `json:"closedAt"`
	State        string `json:"state"`
	IsDraft      bool   `json:"isDraft"`
	Additions    int    `json:"additions"`
	Deletions    int    `json:"deletions"`
	ChangedFiles int    `json:"changedFiles"`
	Commits      *struct {
		TotalCount int `json:"totalCount"`
	} `json:"commits"`
	Author      *actor `json:"author"`
	MergeCommit *struct {
		Oid string `json:"oid"`
	} `json:"mergeCommit"`
	Reviews *struct {
		TotalCount int          `json:"totalCount"`
		Nodes      []reviewNode `json:"nodes"`
	} `json:"reviews"`
}

type reviewNode struct {
	CreatedAt string `json:"createdAt"`
	State     string `json:"state"`
	Author    *actor `json:"author"`
}

type actor struct {
	Login string `json:"login"`
}

// PullRequestCollector walks a repository's pull requests newest first.
type PullRequestCollector struct {
	api            API
	pageSize       int
	reviewPageSize int
	logger         *slog.Logger
	stats          *runstats.Recorder
}

// NewPullRequestCollector creates a collector using the configured page sizes.
func NewPullRequestCollector(api API, cfg config.CollectionConfig, logger *slog.Logger, stats *runstats.Recorder) *PullRequestCollector {
	return &PullRequestCollector{
		api:            api,
		pageSize:       cfg.PRPageSize,
		reviewPageSize: cfg.ReviewPageSize,
		logger:         logger,
		stats:          stats,
	}
}

// Collect returns every pull request created at or after since. Pages are
// ordered by creation time descending, so the first older record ends the
// walk and no page beyond the horizon is requested.
func (c *PullRequestCollector) Collect(ctx context.Context, repo config.Repository, since time.Time) ([]PullRequestRecord, error) {
	var records []PullRequestRecord
	var cursor *string

	for page := 1; ; page++ {
		var resp pullRequestPage
		vars := map[string]any{
			"owner":          repo.Owner,
			"name":           repo.Name,
			"cursor":         cursor,
			"pageSize":       c.pageSize,
			"reviewPageSize": c.reviewPageSize,
		}
		if err := c.api.Query(ctx, pullRequestQuery, vars, &resp); err != nil {
			return nil, fmt.Errorf("failed to fetch pull requests for %s: %w", repo.FullName(), err)
		}

		block := resp.Repository.PullRequests
		if len(block.Nodes) == 0 {
			break
		}

		c.logger.Info("pull request page fetched",
			"repo", repo.FullName(),
			"page", page,
			"rows", len(records))

		for _, node := range block.Nodes {
			record := newPullRequestRecord(repo, node)
			if record.CreatedAt != nil && record.CreatedAt.Before(since) {
				c.logger.Info("reached pull requests older than horizon", "repo", repo.FullName())
				c.stats.Records(repo.FullName(), "prs", len(records))
				return records, nil
			}
			records = append(records, record)
		}

		if !block.PageInfo.HasNextPage {
			break
		}
		next := block.PageInfo.EndCursor
		cursor = &next
	}

	c.stats.Records(repo.FullName(), "prs", len(records))
	return records, nil
}

func newPullRequestRecord(repo config.Repository, node pullRequestNode) PullRequestRecord {
	record := PullRequestRecord{
		Owner:        repo.Owner,
		Repo:         repo.Name,
		Number:       node.Number,
		CreatedAt:    ParseTimestamp(node.CreatedAt),
		MergedAt:     ParseTimestamp(node.MergedAt),
		ClosedAt:     ParseTimestamp(node.ClosedAt),
		State:        node.State,
		IsDraft:      node.IsDraft,
		Additions:    node.Additions,
		Deletions:    node.Deletions,
		ChangedFiles: node.ChangedFiles,
	}

	if node.Commits != nil {
		record.CommitCount = node.Commits.TotalCount
	}
	if node.Author != nil {
		record.Author = node.Author.Login
	}
	if node.MergeCommit != nil {
		record.MergeSHA = node.MergeCommit.Oid
	}

	if node.Reviews != nil {
		record.ReviewCount = len(node.Reviews.Nodes)
		record.ReviewsTruncated = node.Reviews.TotalCount > len(node.Reviews.Nodes)
		record.FirstReviewAt = firstReview(node.Reviews.Nodes)
	}

	return record
}

// firstReview returns the earliest review timestamp among the fetched
// reviews, or nil when none has a usable timestamp.
func firstReview(reviews []reviewNode) *time.Time {
	var first *time.Time
	for _, review := range reviews {
		submittedAt := ParseTimestamp(review.CreatedAt)
		if submittedAt == nil {
			continue
		}
		if first == nil || submittedAt.Before(*first) {
			first = submittedAt
		}
	}
	return first
}
