package query

import (
	"context"
	"math"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/xtxerr/hostwatch/internal/storage/types"
)

// MetricSummary holds the distribution of one metric over a window.
// Percentiles come from a DDSketch with 1% relative accuracy.
type MetricSummary struct {
	Count int64
	Avg   float64
	Min   float64
	Max   float64
	P50   float64
	P90   float64
	P95   float64
	P99   float64
}

// GPUSummary summarizes one GPU over the window.
type GPUSummary struct {
	Usage        MetricSummary
	VRAMUsedMB   MetricSummary
	TemperatureC MetricSummary
	PowerDrawW   MetricSummary
}

// Summary is the statistical digest of a query window.
type Summary struct {
	Start       time.Time
	End         time.Time
	SampleCount int

	CPU MetricSummary
	RAM MetricSummary

	GPUs map[int]GPUSummary
}

// metricSketch accumulates one metric's distribution.
type metricSketch struct {
	sketch *ddsketch.DDSketch
	count  int64
	sum    float64
	min    float64
	max    float64
}

func newMetricSketch() *metricSketch {
	// DDSketch with default relative accuracy of 1%
	sk, err := ddsketch.NewDefaultDDSketch(0.01)
	if err != nil {
		sk = nil
	}
	return &metricSketch{
		sketch: sk,
		min:    math.MaxFloat64,
		max:    -math.MaxFloat64,
	}
}

func (m *metricSketch) add(v float64) {
	m.count++
	m.sum += v
	if v < m.min {
		m.min = v
	}
	if v > m.max {
		m.max = v
	}
	if m.sketch != nil {
		m.sketch.Add(v)
	}
}

func (m *metricSketch) result() MetricSummary {
	if m.count == 0 {
		return MetricSummary{}
	}

	res := MetricSummary{
		Count: m.count,
		Avg:   m.sum / float64(m.count),
		Min:   m.min,
		Max:   m.max,
	}

	if m.sketch != nil {
		res.P50, _ = m.sketch.GetValueAtQuantile(0.50)
		res.P90, _ = m.sketch.GetValueAtQuantile(0.90)
		res.P95, _ = m.sketch.GetValueAtQuantile(0.95)
		res.P99, _ = m.sketch.GetValueAtQuantile(0.99)
	}

	return res
}

// Summarize computes the statistical digest of the samples selected by req.
func (s *Service) Summarize(ctx context.Context, req Request) (*Summary, error) {
	samples, err := s.Samples(ctx, req)
	if err != nil {
		return nil, err
	}
	end := req.At
	if end.IsZero() {
		end = time.Now().UTC()
	}
	return Summarize(samples, end.Add(-req.Window.Duration()), end), nil
}

// Summarize builds a Summary from samples in timestamp order.
func Summarize(samples []types.Sample, start, end time.Time) *Summary {
	cpu := newMetricSketch()
	ram := newMetricSketch()

	type gpuSketches struct {
		usage, vram, temp, power *metricSketch
	}
	gpus := make(map[int]*gpuSketches)

	for _, s := range samples {
		cpu.add(s.CPUUsagePct)
		ram.add(s.RAMUsagePct)

		for _, g := range s.GPUs {
			gs, ok := gpus[g.GPUID]
			if !ok {
				gs = &gpuSketches{
					usage: newMetricSketch(),
					vram:  newMetricSketch(),
					temp:  newMetricSketch(),
					power: newMetricSketch(),
				}
				gpus[g.GPUID] = gs
			}
			gs.usage.add(g.UsagePct)
			gs.vram.add(g.VRAMUsedMB)
			gs.temp.add(g.TemperatureC)
			gs.power.add(g.PowerDrawW)
		}
	}

	summary := &Summary{
		Start:       start,
		End:         end,
		SampleCount: len(samples),
		CPU:         cpu.result(),
		RAM:         ram.result(),
		GPUs:        make(map[int]GPUSummary, len(gpus)),
	}

	for id, gs := range gpus {
		summary.GPUs[id] = GPUSummary{
			Usage:        gs.usage.result(),
			VRAMUsedMB:   gs.vram.result(),
			TemperatureC: gs.temp.result(),
			PowerDrawW:   gs.power.result(),
		}
	}

	return summary
}
