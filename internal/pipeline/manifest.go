package pipeline

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"gopkg.in/yaml.v3"
)

// ManifestFile is written to the output root after a collection run.
const ManifestFile = "run_manifest.yaml"

// MetricsFile is the prometheus textfile written next to the manifest.
const MetricsFile = "run_metrics.prom"

// Manifest describes one collection run. Credentials are never recorded.
type Manifest struct {
	StartedAt            time.Time     `yaml:"started_at"`
	FinishedAt           time.Time     `yaml:"finished_at"`
	Since                time.Time     `yaml:"since"`
	DaysBack             int           `yaml:"days_back"`
	ChunkDays            int           `yaml:"chunk_days"`
	CDWorkflowPatterns   []string      `yaml:"cd_workflow_patterns"`
	MaxCIDurationMinutes float64       `yaml:"max_ci_duration_minutes"`
	SonarEnabled         bool          `yaml:"sonar_enabled"`
	SonarFrequency       string        `yaml:"sonar_frequency,omitempty"`
	Repos                []RepoSummary `yaml:"repos"`
	DerivedTables        []string      `yaml:"derived_tables"`
}

// RepoSummary counts what was collected for one repository.
type RepoSummary struct {
	Repo         string `yaml:"repo"`
	PullRequests int    `yaml:"pull_requests"`
	WorkflowRuns int    `yaml:"workflow_runs"`
	Releases     int    `yaml:"releases"`
	Snapshots    int    `yaml:"snapshots"`
}

// WriteManifest writes m as YAML to dir.
func WriteManifest(dir string, m *Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// ReadManifest loads a manifest written by WriteManifest.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	return &m, nil
}

// PrintSummary renders the per-repository counts as a table.
func PrintSummary(w io.Writer, m *Manifest) {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	tbl.SetTitle(fmt.Sprintf("Collected since %s (%s)", m.Since.Format(time.DateOnly), humanize.Time(m.Since)))
	tbl.AppendHeader(table.Row{"Repository", "PRs", "Workflow runs", "Releases", "Snapshots"})

	var total RepoSummary
	for _, r := range m.Repos {
		tbl.AppendRow(table.Row{
			r.Repo,
			humanize.Comma(int64(r.PullRequests)),
			humanize.Comma(int64(r.WorkflowRuns)),
			humanize.Comma(int64(r.Releases)),
			humanize.Comma(int64(r.Snapshots)),
		})
		total.PullRequests += r.PullRequests
		total.WorkflowRuns += r.WorkflowRuns
		total.Releases += r.Releases
		total.Snapshots += r.Snapshots
	}

	tbl.AppendFooter(table.Row{
		"Total",
		humanize.Comma(int64(total.PullRequests)),
		humanize.Comma(int64(total.WorkflowRuns)),
		humanize.Comma(int64(total.Releases)),
		humanize.Comma(int64(total.Snapshots)),
	})
	tbl.Render()

	if !m.FinishedAt.IsZero() {
		fmt.Fprintf(w, "Finished in %s, %d derived tables written.\n",
			m.FinishedAt.Sub(m.StartedAt).Round(time.Second), len(m.DerivedTables))
	}
}
