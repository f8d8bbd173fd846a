package github

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/reillywatson/velocitystats/internal/config"
	"github.com/reillywatson/velocitystats/internal/runstats"
)

const (
	runsPageSize = 100

	// listingCap is the most results the workflow-run listing returns for a
	// single filter, regardless of how many pages are requested.
	listingCap = 1000

	dateLayout = "2006-01-02"
)

// Window is an inclusive range of UTC calendar dates.
type Window struct {
	Start time.Time
	End   time.Time
}

// Created formats the window as a "created" filter.
func (w Window) Created() string {
	return w.Start.Format(dateLayout) + ".." + w.End.Format(dateLayout)
}

// Windows splits the dates from since to now into contiguous, disjoint
// windows of chunkDays days, oldest first. The last window may be shorter.
func Windows(since, now time.Time, chunkDays int) []Window {
	if chunkDays <= 0 {
		chunkDays = 1
	}

	start := truncateDay(since)
	last := truncateDay(now)

	var windows []Window
	for d := start; !d.After(last); {
		end := d.AddDate(0, 0, chunkDays-1)
		if end.After(last) {
			end = last
		}
		windows = append(windows, Window{Start: d, End: end})
		d = end.AddDate(0, 0, 1)
	}
	return windows
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// WorkflowRunCollector lists workflow runs one date window at a time. The
// listing endpoint silently caps each unfiltered query, so windowing is what
// makes the result complete.
type WorkflowRunCollector struct {
	api       API
	chunkDays int
	logger    *slog.Logger
	stats     *runstats.Recorder
}

// NewWorkflowRunCollector creates a collector using the configured window size.
func NewWorkflowRunCollector(api API, cfg config.CollectionConfig, logger *slog.Logger, stats *runstats.Recorder) *WorkflowRunCollector {
	return &WorkflowRunCollector{
		api:       api,
		chunkDays: cfg.ChunkDays,
		logger:    logger,
		stats:     stats,
	}
}

// Collect returns every run created between since and now.
func (c *WorkflowRunCollector) Collect(ctx context.Context, repo config.Repository, since, now time.Time) ([]WorkflowRunRecord, error) {
	var records []WorkflowRunRecord

	for _, window := range Windows(since, now, c.chunkDays) {
		created := window.Created()
		c.logger.Info("workflow window", "repo", repo.FullName(), "created", created)

		for page := 1; ; page++ {
			resp, err := c.api.ListWorkflowRuns(ctx, repo.Owner, repo.Name, created, page, runsPageSize)
			if err != nil {
				return nil, fmt.Errorf("failed to fetch workflow runs for %s in %s: %w", repo.FullName(), created, err)
			}

			if page == 1 && resp.GetTotalCount() > listingCap {
				c.logger.Warn("workflow window exceeds listing cap, reduce the window size",
					"repo", repo.FullName(),
					"created", created,
					"total_count", resp.GetTotalCount(),
					"cap", listingCap)
			}

			for _, run := range resp.WorkflowRuns {
				record := newWorkflowRunRecord(repo.Owner, repo.Name, run)
				if record.CreatedAt != nil && record.CreatedAt.Before(since) {
					continue
				}
				records = append(records, record)
			}

			if len(resp.WorkflowRuns) < runsPageSize {
				break
			}
		}
	}

	c.stats.Records(repo.FullName(), "workflow_runs", len(records))
	return records, nil
}
