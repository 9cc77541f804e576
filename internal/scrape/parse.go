package scrape

import (
	"fmt"
	"io"
	"sort"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// Sample is one labelled value of a metric family. Histograms and summaries
// are reduced to their sample count.
type Sample struct {
	Labels map[string]string
	Value  float64
}

// Families maps a metric name to its samples.
type Families map[string][]Sample

// Parse reads Prometheus text exposition format.
func Parse(r io.Reader) (Families, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil {
		return nil, fmt.Errorf("parse metrics: %w", err)
	}

	out := make(Families, len(mfs))
	for name, mf := range mfs {
		samples := make([]Sample, 0, len(mf.GetMetric()))
		for _, m := range mf.GetMetric() {
			labels := make(map[string]string, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			samples = append(samples, Sample{Labels: labels, Value: sampleValue(mf.GetType(), m)})
		}
		out[name] = samples
	}
	return out, nil
}

func sampleValue(t dto.MetricType, m *dto.Metric) float64 {
	switch t {
	case dto.MetricType_COUNTER:
		return m.GetCounter().GetValue()
	case dto.MetricType_GAUGE:
		return m.GetGauge().GetValue()
	case dto.MetricType_SUMMARY:
		return float64(m.GetSummary().GetSampleCount())
	case dto.MetricType_HISTOGRAM:
		return float64(m.GetHistogram().GetSampleCount())
	default:
		return m.GetUntyped().GetValue()
	}
}

// Total sums every sample of name.
func (f Families) Total(name string) float64 {
	var sum float64
	for _, s := range f[name] {
		sum += s.Value
	}
	return sum
}

// ByLabel sums the samples of name grouped by one label.
func (f Families) ByLabel(name, label string) map[string]float64 {
	out := map[string]float64{}
	for _, s := range f[name] {
		out[s.Labels[label]] += s.Value
	}
	return out
}

// Names returns the metric names in sorted order.
func (f Families) Names() []string {
	names := make([]string, 0, len(f))
	for n := range f {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
