package observability

import (
	"strings"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/prometheus/common/model"
)

// PrometheusCollector adapts a MetricsCollector's hand-rolled exposition
// text to a real client_golang prometheus.Collector, so a process can serve
// it through promhttp.HandlerFor (content negotiation, gzip, protobuf) while
// the collector itself stays responsible for the exact bucket/le-ordering
// semantics (see DESIGN.md). It re-parses ExportPrometheus()'s own output on
// every Collect call, so it never drifts from what MetricsCollector reports.
type PrometheusCollector struct {
	source *MetricsCollector
}

// NewPrometheusCollector wraps source for exposition via client_golang.
func NewPrometheusCollector(source *MetricsCollector) *PrometheusCollector {
	return &PrometheusCollector{source: source}
}

// Describe implements prometheus.Collector. The metric set is dynamic, so
// no descriptors are pre-declared (this is the documented "unchecked"
// collector pattern).
func (p *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {}

// Collect implements prometheus.Collector by parsing the collector's
// current Prometheus text exposition and re-emitting each sample as a real
// client_golang metric.
func (p *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	text := p.source.ExportPrometheus()
	if text == "" {
		return
	}

	parser := expfmt.NewTextParser(model.LegacyValidation)
	families, err := parser.TextToMetricFamilies(strings.NewReader(text))
	if err != nil {
		return
	}

	for name, family := range families {
		switch family.GetType() {
		case dto.MetricType_COUNTER:
			for _, m := range family.Metric {
				labelNames, labelValues := pairLabels(m.Label)
				desc := prometheus.NewDesc(name, describeMetric(name), labelNames, nil)
				ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, m.GetCounter().GetValue(), labelValues...)
			}
		case dto.MetricType_HISTOGRAM:
			for _, m := range family.Metric {
				labelNames, labelValues := pairLabels(m.Label)
				desc := prometheus.NewDesc(name, describeMetric(name), labelNames, nil)
				buckets := map[float64]uint64{}
				for _, b := range m.GetHistogram().Bucket {
					buckets[b.GetUpperBound()] = b.GetCumulativeCount()
				}
				ch <- prometheus.MustNewConstHistogram(desc, m.GetHistogram().GetSampleCount(), m.GetHistogram().GetSampleSum(), buckets, labelValues...)
			}
		}
	}
}

func pairLabels(pairs []*dto.LabelPair) ([]string, []string) {
	names := make([]string, len(pairs))
	values := make([]string, len(pairs))
	for i, p := range pairs {
		names[i] = p.GetName()
		values[i] = p.GetValue()
	}
	return names, values
}
