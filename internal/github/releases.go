package github

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/reillywatson/velocitystats/internal/config"
	"github.com/reillywatson/velocitystats/internal/runstats"
)

const releasesPageSize = 100

// ReleaseCollector walks a repository's releases newest first.
type ReleaseCollector struct {
	api      API
	maxPages int
	logger   *slog.Logger
	stats    *runstats.Recorder
}

// NewReleaseCollector creates a collector bounded by the configured page cap.
func NewReleaseCollector(api API, cfg config.CollectionConfig, logger *slog.Logger, stats *runstats.Recorder) *ReleaseCollector {
	return &ReleaseCollector{
		api:      api,
		maxPages: cfg.ReleaseMaxPages,
		logger:   logger,
		stats:    stats,
	}
}

// Collect returns releases whose release time is at or after since. It stops
// at the first older release, on an empty or short page, or after maxPages.
func (c *ReleaseCollector) Collect(ctx context.Context, repo config.Repository, since time.Time) ([]ReleaseRecord, error) {
	var records []ReleaseRecord

	for page := 1; page <= c.maxPages; page++ {
		releases, err := c.api.ListReleases(ctx, repo.Owner, repo.Name, page, releasesPageSize)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch releases for %s: %w", repo.FullName(), err)
		}
		if len(releases) == 0 {
			break
		}

		c.logger.Info("release page fetched", "repo", repo.FullName(), "page", page, "rows", len(records))

		for _, rel := range releases {
			record := newReleaseRecord(repo.Owner, repo.Name, rel)
			if t := record.ReleaseTime(); t != nil && t.Before(since) {
				c.stats.Records(repo.FullName(), "releases", len(records))
				return records, nil
			}
			records = append(records, record)
		}

		if len(releases) < releasesPageSize {
			break
		}
	}

	c.stats.Records(repo.FullName(), "releases", len(records))
	return records, nil
}
