package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/reillywatson/velocitystats/internal/config"
)

// Measures are the static-analysis values of one repository at one snapshot
// date. Values holds metric key to the value as reported.
type Measures struct {
	RepoFull     string
	SnapshotDate time.Time
	Commit       string
	Values       map[string]string
}

// Checkout is a working tree that can be moved to a point in history.
type Checkout interface {
	Path() string
	CheckoutAt(at time.Time) (string, error)
	Close()
}

// Opener returns a checkout for a repository.
type Opener func(repo config.Repository) (Checkout, error)

// Measurer analyses a working tree.
type Measurer interface {
	Measure(ctx context.Context, dir, projectKey string) (map[string]string, error)
}

// GitOpener opens or clones repositories under cacheDir.
func GitOpener(cacheDir string, logger *slog.Logger) Opener {
	return func(repo config.Repository) (Checkout, error) {
		return OpenOrClone(CloneURL(repo), CachePath(cacheDir, repo), logger)
	}
}

// ProjectKey names the analysis project of a repository.
func ProjectKey(prefix string, repo config.Repository) string {
	return fmt.Sprintf("%s:%s:%s", prefix, repo.Owner, repo.Name)
}

// Runner takes one snapshot per scheduled date for a repository.
type Runner struct {
	open      Opener
	measurer  Measurer
	frequency string
	prefix    string
	logger    *slog.Logger
}

// NewRunner creates a runner using the schedule and project naming of cfg.
func NewRunner(open Opener, measurer Measurer, cfg config.SonarConfig, logger *slog.Logger) *Runner {
	return &Runner{
		open:      open,
		measurer:  measurer,
		frequency: cfg.Frequency,
		prefix:    cfg.ProjectKeyPrefix,
		logger:    logger,
	}
}

// Run measures repo at every snapshot date between since and now, oldest
// first. Dates that predate the repository's first commit are skipped.
func (r *Runner) Run(ctx context.Context, repo config.Repository, since, now time.Time) ([]Measures, error) {
	dates, err := Dates(since, now, r.frequency)
	if err != nil {
		return nil, err
	}

	checkout, err := r.open(repo)
	if err != nil {
		return nil, err
	}
	defer checkout.Close()

	key := ProjectKey(r.prefix, repo)

	var out []Measures
	for _, date := range dates {
		r.logger.Info("sonar snapshot", "repo", repo.FullName(), "date", date.Format(time.DateOnly))

		commit, err := checkout.CheckoutAt(date)
		if errors.Is(err, ErrNoCommit) {
			r.logger.Warn("no commit at snapshot date", "repo", repo.FullName(), "date", date.Format(time.DateOnly))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("snapshot %s at %s: %w", repo.FullName(), date.Format(time.DateOnly), err)
		}

		values, err := r.measurer.Measure(ctx, checkout.Path(), key)
		if err != nil {
			return nil, fmt.Errorf("snapshot %s at %s: %w", repo.FullName(), date.Format(time.DateOnly), err)
		}

		out = append(out, Measures{
			RepoFull:     repo.FullName(),
			SnapshotDate: date,
			Commit:       commit,
			Values:       values,
		})
	}

	return out, nil
}
