package metrics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Median returns the median of values. ok is false for an empty input.
func Median(values []float64) (median float64, ok bool) {
	if len(values) == 0 {
		return 0, false
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	n := len(sorted)
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2, true
	}
	return sorted[n/2], true
}

// Mean returns the arithmetic mean. ok is false for an empty input.
func Mean(values []float64) (mean float64, ok bool) {
	if len(values) == 0 {
		return 0, false
	}
	return stat.Mean(values, nil), true
}

// Quantile returns the q-quantile using linear interpolation between the
// closest ranks. ok is false for an empty input.
func Quantile(values []float64, q float64) (quantile float64, ok bool) {
	if len(values) == 0 {
		return 0, false
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	h := float64(len(sorted)-1) * q
	lo := math.Floor(h)
	i := int(lo)
	if i+1 >= len(sorted) {
		return sorted[len(sorted)-1], true
	}
	return sorted[i] + (h-lo)*(sorted[i+1]-sorted[i]), true
}

// RollingStdDev returns the sample standard deviation over a trailing window
// ending at each position. Positions with fewer than minPeriods values in
// their window are nil.
func RollingStdDev(values []float64, window, minPeriods int) []*float64 {
	out := make([]*float64, len(values))
	for i := range values {
		start := i - window + 1
		if start < 0 {
			start = 0
		}
		w := values[start : i+1]
		if len(w) < minPeriods || len(w) < 2 {
			continue
		}
		sd := stat.StdDev(w, nil)
		out[i] = &sd
	}
	return out
}
