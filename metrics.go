package substrate

import (
	"strconv"
	"time"

	"go.k6.io/k6/metrics"
)

type substrateMetrics struct {
	RequestDuration *metrics.Metric
	Block           *metrics.Metric
}

func registerMetrics(registry *metrics.Registry) (substrateMetrics, error) {
	var err error
	m := substrateMetrics{}

	m.RequestDuration, err = registry.NewMetric("substrate_req_duration", metrics.Trend, metrics.Time)
	if err != nil {
		return m, err
	}
	m.Block, err = registry.NewMetric("substrate_block", metrics.Counter, metrics.Default)
	if err != nil {
		return m, err
	}
	return m, nil
}

func requestSample(m substrateMetrics, tags *metrics.TagSet, call string, d time.Duration, now time.Time) metrics.Sample {
	return metrics.Sample{
		TimeSeries: metrics.TimeSeries{
			Metric: m.RequestDuration,
			Tags:   tags.With("call", call),
		},
		Value: metrics.D(d),
		Time:  now,
	}
}

func blockSample(m substrateMetrics, tags *metrics.TagSet, extrinsics int, now time.Time) metrics.Sample {
	return metrics.Sample{
		TimeSeries: metrics.TimeSeries{
			Metric: m.Block,
			Tags:   tags.With("extrinsics", strconv.Itoa(extrinsics)),
		},
		Value: 1,
		Time:  now,
	}
}

// report pushes samples when running inside an iteration. It is a no-op in
// the init context or with metrics disabled.
func (c *Client) report(build func(tags *metrics.TagSet) metrics.Sample) {
	if !c.opts.MetricsEnabled() {
		return
	}
	state := c.vu.State()
	if state == nil {
		return
	}
	tags := state.Tags.GetCurrentValues().Tags
	metrics.PushIfNotDone(c.vu.Context(), state.Samples, build(tags))
}

func (c *Client) reportCall(call string, start time.Time) {
	now := time.Now()
	c.report(func(tags *metrics.TagSet) metrics.Sample {
		return requestSample(c.metrics, tags, call, now.Sub(start), now)
	})
}

func (c *Client) reportBlock(extrinsics int) {
	c.report(func(tags *metrics.TagSet) metrics.Sample {
		return blockSample(c.metrics, tags, extrinsics, time.Now())
	})
}
