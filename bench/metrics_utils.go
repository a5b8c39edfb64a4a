// bench/metrics_utils.go
package bench

import (
	"fmt"
	"math"
	"sort"
)

type IntOrFloat64 interface {
	int | int64 | float64
}

// neutralSample replaces inputs with fewer than two values so that variance
// and percentiles stay defined.
var neutralSample = []float64{0, 0}

// NearestRankIndex returns clamp(ceil(n*p/100)-1, 0, n-1).
func NearestRankIndex(n int, p float64) int {
	if n <= 0 {
		return 0
	}
	idx := int(math.Ceil(float64(n)*p/100.0)) - 1
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	return idx
}

// CalculatePercentile returns the p-th nearest-rank percentile of sorted data.
// Input must be sorted ascending. Returns 0 for empty input.
func CalculatePercentile[T IntOrFloat64](sorted []T, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	return float64(sorted[NearestRankIndex(len(sorted), p)])
}

// CalculateMean is a util function that calculates the mean of a data list.
func CalculateMean[T IntOrFloat64](numbers []T) float64 {
	if len(numbers) == 0 {
		return 0.0
	}
	sum := 0.0
	for _, number := range numbers {
		sum += float64(number)
	}
	return sum / float64(len(numbers))
}

// CalculateVariance returns the population variance of numbers.
func CalculateVariance[T IntOrFloat64](numbers []T) float64 {
	if len(numbers) == 0 {
		return 0.0
	}
	mean := CalculateMean(numbers)
	sq := 0.0
	for _, number := range numbers {
		d := float64(number) - mean
		sq += d * d
	}
	return sq / float64(len(numbers))
}

// Summary captures the statistical summary of one metric.
// Count is the number of real observations, even when fewer than two
// observations forced the neutral {0,0} sample.
type Summary struct {
	Count    int
	Min      float64
	Max      float64
	Mean     float64
	Variance float64
	P50      float64
	P90      float64
	P95      float64
	P99      float64
}

// NewSummary computes a Summary from raw values. The input is not modified.
func NewSummary(values []float64) Summary {
	sorted := neutralSample
	if len(values) >= 2 {
		sorted = make([]float64, len(values))
		copy(sorted, values)
		sort.Float64s(sorted)
	}
	return Summary{
		Count:    len(values),
		Min:      sorted[0],
		Max:      sorted[len(sorted)-1],
		Mean:     CalculateMean(sorted),
		Variance: CalculateVariance(sorted),
		P50:      CalculatePercentile(sorted, 50),
		P90:      CalculatePercentile(sorted, 90),
		P95:      CalculatePercentile(sorted, 95),
		P99:      CalculatePercentile(sorted, 99),
	}
}

// Line renders the summary as one report line.
func (s Summary) Line(label, unit string) string {
	return fmt.Sprintf("%s: count=%d min=%.2f%s max=%.2f%s mean=%.2f%s var=%.2f p50=%.2f%s p90=%.2f%s p95=%.2f%s p99=%.2f%s",
		label, s.Count, s.Min, unit, s.Max, unit, s.Mean, unit, s.Variance,
		s.P50, unit, s.P90, unit, s.P95, unit, s.P99, unit)
}
