// Package pipeline runs a collection end to end: every repository is
// collected, enriched and checkpointed in turn, then the combined raw tables
// and all derived tables are written.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/reillywatson/velocitystats/internal/config"
	"github.com/reillywatson/velocitystats/internal/deploy"
	"github.com/reillywatson/velocitystats/internal/github"
	"github.com/reillywatson/velocitystats/internal/metrics"
	"github.com/reillywatson/velocitystats/internal/runstats"
	"github.com/reillywatson/velocitystats/internal/snapshot"
	"github.com/reillywatson/velocitystats/internal/store"
)

// Pipeline stages, as reported in run metrics.
const (
	StageCollect   = "collect"
	StageSnapshots = "snapshots"
	StageDerive    = "derive"
)

// SnapshotRunner measures a repository at its scheduled snapshot dates.
type SnapshotRunner interface {
	Run(ctx context.Context, repo config.Repository, since, now time.Time) ([]snapshot.Measures, error)
}

// Pipeline holds everything one run needs.
type Pipeline struct {
	cfg        *config.Config
	store      store.Store
	classifier *deploy.Classifier

	prs      *github.PullRequestCollector
	runs     *github.WorkflowRunCollector
	releases *github.ReleaseCollector

	snapshots SnapshotRunner
	logger    *slog.Logger
	stats     *runstats.Recorder
	now       func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithSnapshots enables the static-analysis stage.
func WithSnapshots(runner SnapshotRunner) Option {
	return func(p *Pipeline) {
		p.snapshots = runner
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithRecorder sets where run metrics are counted.
func WithRecorder(stats *runstats.Recorder) Option {
	return func(p *Pipeline) {
		p.stats = stats
	}
}

// New creates a pipeline reading from api and writing tables to st.
func New(cfg *config.Config, api github.API, st store.Store, opts ...Option) (*Pipeline, error) {
	classifier, err := deploy.NewClassifier(cfg.Metrics.CDWorkflowPatterns)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:        cfg,
		store:      st,
		classifier: classifier,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}

	p.prs = github.NewPullRequestCollector(api, cfg.Collection, p.logger, p.stats)
	p.runs = github.NewWorkflowRunCollector(api, cfg.Collection, p.logger, p.stats)
	p.releases = github.NewReleaseCollector(api, cfg.Collection, p.logger, p.stats)

	return p, nil
}

// Collect fetches every configured repository and writes raw and derived
// tables, the manifest and the run metrics. Any collector failure aborts the
// run; repositories already written stay on disk.
func (p *Pipeline) Collect(ctx context.Context) (*Manifest, error) {
	started := p.now().UTC()
	since := p.cfg.Since(started)

	manifest := &Manifest{
		StartedAt:            started,
		Since:                since,
		DaysBack:             p.cfg.Collection.DaysBack,
		ChunkDays:            p.cfg.Collection.ChunkDays,
		CDWorkflowPatterns:   p.cfg.Metrics.CDWorkflowPatterns,
		MaxCIDurationMinutes: p.cfg.Metrics.MaxCIDurationMinutes,
		SonarEnabled:         p.snapshots != nil,
	}
	if p.snapshots != nil {
		manifest.SonarFrequency = p.cfg.Sonar.Frequency
	} else {
		p.logger.Warn("skipping sonar snapshots, SONAR_HOST_URL or SONAR_TOKEN not set")
	}

	p.logger.Info("collection started", "since", since.Format(time.RFC3339),
		"days_back", p.cfg.Collection.DaysBack, "repos", len(p.cfg.Repositories))

	var (
		data                                     dataset
		prTables, runTables, relTables, snapTabs []*store.Table
		snapshotTime                             time.Duration
	)

	collectStart := time.Now()
	for _, repo := range p.cfg.Repositories {
		p.logger.Info("processing repository", "repo", repo.FullName())

		repoData, err := p.collectRepo(ctx, repo, since, started)
		if err != nil {
			return nil, err
		}

		tables := []struct {
			kind  string
			table *store.Table
			acc   *[]*store.Table
		}{
			{metrics.KindPullRequests, metrics.PullRequestTable(repoData.prs), &prTables},
			{metrics.KindWorkflowRuns, metrics.WorkflowRunTable(repoData.runs), &runTables},
			{metrics.KindReleases, metrics.ReleaseTable(repoData.releases), &relTables},
		}
		for _, t := range tables {
			if err := p.store.Write(rawNames.RepoTable(t.kind, repo.Owner, repo.Name), t.table); err != nil {
				return nil, err
			}
			*t.acc = append(*t.acc, t.table)
		}

		summary := RepoSummary{
			Repo:         repo.FullName(),
			PullRequests: len(repoData.prs),
			WorkflowRuns: len(repoData.runs),
			Releases:     len(repoData.releases),
		}

		if p.snapshots != nil {
			snapStart := time.Now()
			measures, err := p.snapshots.Run(ctx, repo, since, started)
			if err != nil {
				return nil, err
			}
			snapshotTime += time.Since(snapStart)

			if len(measures) > 0 {
				t := snapshot.Table(measures)
				if err := p.store.Write(rawNames.RepoTable(snapshot.KindSnapshots, repo.Owner, repo.Name), t); err != nil {
					return nil, err
				}
				snapTabs = append(snapTabs, t)
			}
			summary.Snapshots = len(measures)
		}

		p.logger.Info("repository done", "repo", repo.FullName(), "prs", summary.PullRequests,
			"workflow_runs", summary.WorkflowRuns, "releases", summary.Releases, "snapshots", summary.Snapshots)

		manifest.Repos = append(manifest.Repos, summary)
		data.prs = append(data.prs, repoData.prs...)
		data.runs = append(data.runs, repoData.runs...)
		data.releases = append(data.releases, repoData.releases...)
	}
	p.stats.Stage(StageCollect, time.Since(collectStart)-snapshotTime)
	if p.snapshots != nil {
		p.stats.Stage(StageSnapshots, snapshotTime)
	}

	combined := []struct {
		kind    string
		columns []string
		parts   []*store.Table
	}{
		{metrics.KindPullRequests, metrics.PullRequestColumns, prTables},
		{metrics.KindWorkflowRuns, metrics.WorkflowRunColumns, runTables},
		{metrics.KindReleases, metrics.ReleaseColumns, relTables},
	}
	for _, c := range combined {
		if err := p.writeCombined(c.kind, c.columns, c.parts); err != nil {
			return nil, err
		}
	}
	if len(snapTabs) > 0 {
		if err := p.writeCombined(snapshot.KindSnapshots, snapshot.RawColumns, snapTabs); err != nil {
			return nil, err
		}
	}

	deriveStart := time.Now()
	names, err := p.writeDerived(data)
	if err != nil {
		return nil, err
	}
	if len(snapTabs) > 0 {
		raw, err := store.Concat(snapTabs...)
		if err != nil {
			return nil, err
		}
		if err := p.store.Write(derivedNames.Table(snapshot.TableTidy), snapshot.Tidy(raw)); err != nil {
			return nil, err
		}
		names = append(names, snapshot.TableTidy)
	}
	p.stats.Stage(StageDerive, time.Since(deriveStart))

	manifest.DerivedTables = names
	manifest.FinishedAt = p.now().UTC()

	if err := WriteManifest(p.cfg.Output.Dir, manifest); err != nil {
		return nil, err
	}
	if err := p.stats.WriteTextfile(filepath.Join(p.cfg.Output.Dir, MetricsFile)); err != nil {
		return nil, err
	}

	p.logger.Info("collection finished", "repos", len(manifest.Repos), "derived_tables", len(names))
	return manifest, nil
}

// collectRepo runs the collectors for one repository in order and enriches
// their records.
func (p *Pipeline) collectRepo(ctx context.Context, repo config.Repository, since, now time.Time) (dataset, error) {
	prs, err := p.prs.Collect(ctx, repo, since)
	if err != nil {
		return dataset{}, fmt.Errorf("pull requests of %s: %w", repo.FullName(), err)
	}

	runs, err := p.runs.Collect(ctx, repo, since, now)
	if err != nil {
		return dataset{}, fmt.Errorf("workflow runs of %s: %w", repo.FullName(), err)
	}

	releases, err := p.releases.Collect(ctx, repo, since)
	if err != nil {
		return dataset{}, fmt.Errorf("releases of %s: %w", repo.FullName(), err)
	}

	p.logger.Info("raw records", "repo", repo.FullName(), "prs", len(prs), "workflow_runs", len(runs), "releases", len(releases))

	return dataset{
		prs:      metrics.EnrichPullRequests(prs),
		runs:     metrics.EnrichWorkflowRuns(runs, p.classifier),
		releases: metrics.EnrichReleases(releases),
	}, nil
}

// writeCombined stacks per-repository tables. The header is written even when
// no repository produced rows.
func (p *Pipeline) writeCombined(kind string, columns []string, parts []*store.Table) error {
	combined, err := store.Concat(append([]*store.Table{store.NewTable(columns...)}, parts...)...)
	if err != nil {
		return fmt.Errorf("failed to combine %s: %w", kind, err)
	}
	return p.store.Write(rawNames.Table(kind), combined)
}

// writeDerived writes every derived table and returns their names.
func (p *Pipeline) writeDerived(d dataset) ([]string, error) {
	if deploy.CountCDRuns(d.runs) == 0 {
		p.logger.Warn("no workflow runs matched the CD patterns, cd_workflow_weekly will be empty",
			"patterns", p.cfg.Metrics.CDWorkflowPatterns)
	}

	var names []string
	for _, t := range derive(d, p.cfg.MaxCIDuration()) {
		if err := p.store.Write(derivedNames.Table(t.name), t.table); err != nil {
			return nil, err
		}
		p.logger.Debug("derived table written", "table", t.name, "rows", t.table.Len())
		names = append(names, t.name)
	}
	return names, nil
}

// Derive rebuilds every derived table from the combined raw tables on disk,
// without network access. Derived fields are recomputed from the collected
// fields with the current configuration.
func (p *Pipeline) Derive(ctx context.Context) ([]string, error) {
	start := time.Now()

	if m, err := ReadManifest(p.cfg.Output.Dir); err == nil {
		p.logger.Info("deriving from collection", "collected_at", m.StartedAt.Format(time.RFC3339),
			"since", m.Since.Format(time.RFC3339), "repos", len(m.Repos))
	} else {
		p.logger.Warn("no readable run manifest, deriving from raw tables only", "error", err)
	}

	prTable, err := p.store.Read(rawNames.Table(metrics.KindPullRequests))
	if err != nil {
		return nil, err
	}
	runTable, err := p.store.Read(rawNames.Table(metrics.KindWorkflowRuns))
	if err != nil {
		return nil, err
	}
	relTable, err := p.store.Read(rawNames.Table(metrics.KindReleases))
	if err != nil {
		return nil, err
	}

	prs, err := metrics.ParsePullRequests(prTable)
	if err != nil {
		return nil, fmt.Errorf("raw pull requests: %w", err)
	}
	runs, err := metrics.ParseWorkflowRuns(runTable)
	if err != nil {
		return nil, fmt.Errorf("raw workflow runs: %w", err)
	}
	releases, err := metrics.ParseReleases(relTable)
	if err != nil {
		return nil, fmt.Errorf("raw releases: %w", err)
	}

	names, err := p.writeDerived(dataset{
		prs:      metrics.EnrichPullRequests(prs),
		runs:     metrics.EnrichWorkflowRuns(runs, p.classifier),
		releases: metrics.EnrichReleases(releases),
	})
	if err != nil {
		return nil, err
	}

	snapTable, err := p.store.Read(rawNames.Table(snapshot.KindSnapshots))
	switch {
	case errors.Is(err, store.ErrTableNotFound):
		p.logger.Info("no raw sonar snapshots, skipping tidy table")
	case err != nil:
		return nil, err
	default:
		if err := p.store.Write(derivedNames.Table(snapshot.TableTidy), snapshot.Tidy(snapTable)); err != nil {
			return nil, err
		}
		names = append(names, snapshot.TableTidy)
	}

	p.stats.Stage(StageDerive, time.Since(start))
	p.logger.Info("derived tables rebuilt", "tables", len(names), "elapsed", time.Since(start).Round(time.Millisecond))
	return names, nil
}
