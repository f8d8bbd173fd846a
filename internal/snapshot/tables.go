package snapshot

import (
	"time"

	"github.com/reillywatson/velocitystats/internal/metrics"
	"github.com/reillywatson/velocitystats/internal/sonar"
	"github.com/reillywatson/velocitystats/internal/store"
)

// Table names.
const (
	KindSnapshots  = "sonar_snapshots"
	TableTidy      = "sonar_snapshots_tidy"
	snapshotColumn = "snapshot_date"
)

// RawColumns is the raw snapshot schema.
var RawColumns = append([]string{"repo_full", snapshotColumn, "commit"}, sonar.MetricKeys...)

// TidyColumns lists the columns the tidy table keeps, when present.
var TidyColumns = []string{
	"repo_full", snapshotColumn, "commit",
	"code_smells", "sqale_debt_ratio", "complexity", "duplicated_lines_density",
	"sqale_index", "sqale_rating",
}

// Table renders snapshots. Metrics the server did not report are empty.
func Table(measures []Measures) *store.Table {
	t := store.NewTable(RawColumns...)
	for _, m := range measures {
		row := []string{m.RepoFull, metrics.FormatTime(&m.SnapshotDate), m.Commit}
		for _, k := range sonar.MetricKeys {
			row = append(row, m.Values[k])
		}
		if err := t.Append(row...); err != nil {
			panic(err)
		}
	}
	return t
}

// Tidy keeps the key technical-debt columns of a raw snapshot table and
// normalizes snapshot dates to UTC. Unparseable dates become empty.
func Tidy(raw *store.Table) *store.Table {
	var columns []string
	var source []int
	for _, c := range TidyColumns {
		if i := raw.Index(c); i >= 0 {
			columns = append(columns, c)
			source = append(source, i)
		}
	}

	t := store.NewTable(columns...)
	for _, row := range raw.Rows {
		out := make([]string, len(source))
		for j, i := range source {
			if i < len(row) {
				out[j] = row[i]
			}
			if columns[j] == snapshotColumn {
				out[j] = normalizeDate(out[j])
			}
		}
		if err := t.Append(out...); err != nil {
			panic(err)
		}
	}
	return t
}

func normalizeDate(s string) string {
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if ts, err := time.Parse(layout, s); err == nil {
			return metrics.FormatTime(&ts)
		}
	}
	return ""
}
