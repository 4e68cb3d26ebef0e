// Package anomaly scores requests against per-identifier behavioral
// baselines: request velocity, familiar source addresses, and action
// mix. Baselines are rebuilt periodically from a trailing window and
// carry no long-term state.
package anomaly

import "math"

// Baseline holds the running statistics for one tracked metric.
type Baseline struct {
	Mean    float64
	StdDev  float64
	Samples int
}

// meanStdDev computes the population mean and standard deviation.
func meanStdDev(values []float64) (mean, stddev float64) {
	if len(values) == 0 {
		return 0, 0
	}
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	var sumSq float64
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	return mean, math.Sqrt(sumSq / float64(len(values)))
}
