package training

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/tsawler/go-htr/ctc"
	"github.com/tsawler/go-htr/tensor"
)

// MetricType represents the supported evaluation metrics
type MetricType int

const (
	LabelErrorRate MetricType = iota
)

var metricNames = [...]string{
	LabelErrorRate: "label_error_rate",
}

func (mt MetricType) String() string {
	if mt < 0 || int(mt) >= len(metricNames) {
		return "unknown"
	}
	return metricNames[mt]
}

// MetricFunc scores decoded predictions against true labels.
type MetricFunc func(predicted, truth tensor.SparseTensor) (float64, error)

var metricFuncs = [...]MetricFunc{
	LabelErrorRate: ctc.LabelErrorRate,
}

// Metric is a resolved metric.
type Metric struct {
	Type    MetricType
	Compute MetricFunc
}

// Name returns the configured metric name.
func (m Metric) Name() string {
	return m.Type.String()
}

// ResolveMetric maps a metric name to its implementation. Matching is exact.
func ResolveMetric(name string) (Metric, error) {
	for i, n := range metricNames {
		if n == name {
			return Metric{Type: MetricType(i), Compute: metricFuncs[i]}, nil
		}
	}
	return Metric{}, &UnsupportedMetricError{Name: name}
}

// ResolveMetrics resolves a set of metric names. Duplicates collapse and the
// result is ordered by name.
func ResolveMetrics(names []string) ([]Metric, error) {
	seen := make(map[string]bool, len(names))
	unique := make([]string, 0, len(names))
	for _, name := range names {
		if !seen[name] {
			seen[name] = true
			unique = append(unique, name)
		}
	}
	sort.Strings(unique)

	metrics := make([]Metric, 0, len(unique))
	for _, name := range unique {
		m, err := ResolveMetric(name)
		if err != nil {
			return nil, err
		}
		metrics = append(metrics, m)
	}
	return metrics, nil
}

// SupportedMetrics lists every metric name.
func SupportedMetrics() []string {
	return append([]string(nil), metricNames[:]...)
}

// MetricAccumulator averages per-batch metric values over an evaluation pass.
type MetricAccumulator struct {
	values map[string][]float64
}

// NewMetricAccumulator creates an empty accumulator.
func NewMetricAccumulator() *MetricAccumulator {
	return &MetricAccumulator{values: make(map[string][]float64)}
}

// Add records one batch of metric values.
func (ma *MetricAccumulator) Add(values map[string]float64) {
	for name, v := range values {
		ma.values[name] = append(ma.values[name], v)
	}
}

// Count returns how many values were recorded for name.
func (ma *MetricAccumulator) Count(name string) int {
	return len(ma.values[name])
}

// Means returns the mean of every recorded metric.
func (ma *MetricAccumulator) Means() map[string]float64 {
	out := make(map[string]float64, len(ma.values))
	for name, vs := range ma.values {
		out[name] = stat.Mean(vs, nil)
	}
	return out
}

// FormatMetrics renders metrics as sorted name=value pairs.
func FormatMetrics(metrics map[string]float64) string {
	names := make([]string, 0, len(metrics))
	for name := range metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	s := ""
	for i, name := range names {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("%s=%.4f", name, metrics[name])
	}
	return s
}
