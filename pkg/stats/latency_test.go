package stats_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/distribworks/xk6-substrate/pkg/stats"
)

func ms(vs ...int) []time.Duration {
	out := make([]time.Duration, len(vs))
	for i, v := range vs {
		out[i] = time.Duration(v) * time.Millisecond
	}
	return out
}

func TestPercentile(t *testing.T) {
	sorted := ms(1, 2, 3, 4, 5, 6, 7, 8, 9, 10)
	tests := []struct {
		p    float64
		want time.Duration
	}{
		{0, time.Millisecond},
		{0.5, 5 * time.Millisecond},
		{0.95, 10 * time.Millisecond},
		{0.99, 10 * time.Millisecond},
		{1, 10 * time.Millisecond},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, stats.Percentile(sorted, tt.p), "p=%v", tt.p)
	}
	require.Zero(t, stats.Percentile(nil, 0.5))
}

func TestSummarize(t *testing.T) {
	samples := ms(40, 10, 30, 20)
	s := stats.Summarize(samples, 1)

	require.Equal(t, 4, s.Count)
	require.Equal(t, 1, s.Failures)
	require.Equal(t, 25*time.Millisecond, s.Mean)
	require.Equal(t, 20*time.Millisecond, s.P50)
	require.Equal(t, 40*time.Millisecond, s.P99)
	require.Equal(t, 40*time.Millisecond, s.Max)
	require.InDelta(t, 0.8, s.SuccessRate(), 1e-9)

	// input order is preserved
	require.Equal(t, ms(40, 10, 30, 20), samples)
}

func TestSummarizeAllFailed(t *testing.T) {
	s := stats.Summarize(nil, 3)
	require.Equal(t, stats.Summary{Failures: 3}, s)
	require.Zero(t, s.SuccessRate())
}
