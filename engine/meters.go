package engine

import (
	"fmt"
	"sort"
	"strings"
)

// averageMeter tracks the latest value and the running average of a scalar.
type averageMeter struct {
	val   float64
	sum   float64
	count int
	avg   float64
}

func (m *averageMeter) update(v float64) {
	m.val = v
	m.sum += v
	m.count++
	m.avg = m.sum / float64(m.count)
}

// metricMeter tracks one averageMeter per named loss.
type metricMeter struct {
	meters map[string]*averageMeter
}

func newMetricMeter() *metricMeter {
	return &metricMeter{meters: make(map[string]*averageMeter)}
}

func (m *metricMeter) update(summary LossSummary) {
	for name, v := range summary {
		meter := m.meters[name]
		if meter == nil {
			meter = &averageMeter{}
			m.meters[name] = meter
		}
		meter.update(v)
	}
}

// lossAvg returns the running average of the "loss" entry, falling back to
// the mean of all tracked losses when no total was reported.
func (m *metricMeter) lossAvg() float64 {
	if meter, ok := m.meters["loss"]; ok {
		return meter.avg
	}
	if len(m.meters) == 0 {
		return 0
	}
	var sum float64
	for _, meter := range m.meters {
		sum += meter.avg
	}
	return sum / float64(len(m.meters))
}

// String renders "name val (avg)" pairs in deterministic order.
func (m *metricMeter) String() string {
	names := make([]string, 0, len(m.meters))
	for name := range m.meters {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		meter := m.meters[name]
		parts = append(parts, fmt.Sprintf("%s %.4f (%.4f)", name, meter.val, meter.avg))
	}
	return strings.Join(parts, " ")
}
