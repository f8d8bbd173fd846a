package pipeline

import (
	"time"

	"github.com/reillywatson/velocitystats/internal/deploy"
	"github.com/reillywatson/velocitystats/internal/metrics"
	"github.com/reillywatson/velocitystats/internal/store"
)

const (
	rawPrefix     = "raw"
	derivedPrefix = "derived"
)

var (
	rawNames     = store.NewNameBuilder(rawPrefix)
	derivedNames = store.NewNameBuilder(derivedPrefix)
)

// namedTable is a derived table and the name it is written under.
type namedTable struct {
	name  string
	table *store.Table
}

// dataset is the enriched records of every repository.
type dataset struct {
	prs      []metrics.PullRequest
	runs     []metrics.WorkflowRun
	releases []metrics.Release
}

// derive computes every derived table. Each is a pure function of the
// dataset, so the same input always yields the same files.
func derive(d dataset, maxCIDuration time.Duration) []namedTable {
	return []namedTable{
		{metrics.TableReviewOverheadWeekly, metrics.ReviewOverheadWeekly(d.prs)},
		{metrics.TableCIWeekly, metrics.CIWeekly(d.runs, maxCIDuration)},
		{metrics.TableCIFailureVolatility, metrics.CIFailureVolatilityWeekly(d.runs, maxCIDuration)},
		{metrics.TableCIFlakinessWeekly, metrics.CIFlakinessWeekly(d.runs)},
		{metrics.TableMergeFrequencyWeekly, metrics.MergeFrequencyWeekly(d.prs)},
		{deploy.TableReleaseFrequencyMonthly, deploy.ReleaseFrequencyMonthly(d.releases)},
		{deploy.TableCDWorkflowWeekly, deploy.CDWorkflowWeekly(d.runs, maxCIDuration)},
		{deploy.TableTimeToReleaseMonthly, deploy.TimeToReleaseMonthly(d.prs, d.releases)},
	}
}
