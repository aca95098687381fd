// Package stats summarizes request latencies for the probe CLI.
package stats

import (
	"math"
	"sort"
	"time"
)

// Summary holds the tail latencies of one batch of requests.
type Summary struct {
	Count    int
	Failures int
	Mean     time.Duration
	P50      time.Duration
	P95      time.Duration
	P99      time.Duration
	Max      time.Duration
}

// SuccessRate is the share of requests that succeeded, in [0, 1].
func (s Summary) SuccessRate() float64 {
	total := s.Count + s.Failures
	if total == 0 {
		return 0
	}
	return float64(s.Count) / float64(total)
}

// Summarize computes percentiles over the successful samples. samples is not
// modified.
func Summarize(samples []time.Duration, failures int) Summary {
	s := Summary{Count: len(samples), Failures: failures}
	if len(samples) == 0 {
		return s
	}

	sorted := make([]time.Duration, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	s.Mean = total / time.Duration(len(sorted))
	s.P50 = Percentile(sorted, 0.50)
	s.P95 = Percentile(sorted, 0.95)
	s.P99 = Percentile(sorted, 0.99)
	s.Max = sorted[len(sorted)-1]
	return s
}

// Percentile returns the nearest-rank percentile p (0..1) of an ascending
// slice. Small samples make high percentiles equal the maximum.
func Percentile(sorted []time.Duration, p float64) time.Duration {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	index := int(math.Ceil(float64(n)*p)) - 1
	if index >= n {
		index = n - 1
	}
	if index < 0 {
		index = 0
	}
	return sorted[index]
}
