package observability

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/apcore/apcore-go/pkg/apcore"
	"github.com/apcore/apcore-go/pkg/middleware"
)

var metricDescriptions = map[string]string{
	"apcore_module_calls_total":      "Total module calls",
	"apcore_module_errors_total":     "Total module errors",
	"apcore_module_duration_seconds": "Module execution duration",
}

// DefaultBuckets are the histogram boundaries MetricsCollector uses when
// none are supplied.
var DefaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0}

type metricKey struct {
	name   string
	labels string // labels joined as "k1=v1,k2=v2" sorted by key
}

type bucketKey struct {
	metricKey
	boundary float64
}

func labelsKey(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + labels[k]
	}
	return strings.Join(parts, ",")
}

// MetricsCollector is a thread-safe, in-memory counter/histogram store with
// Prometheus text exposition. Hand-rolled rather than wrapping
// client_golang's registry — see DESIGN.md for the exact-bucket/`le`-last
// ordering justification this spec's on-the-wire format requires.
type MetricsCollector struct {
	mu              sync.Mutex
	buckets         []float64
	counters        map[metricKey]int64
	histogramSums   map[metricKey]float64
	histogramCounts map[metricKey]int64
	histogramBucket map[bucketKey]int64
	labelsByKey     map[metricKey]map[string]string
}

// NewMetricsCollector constructs a MetricsCollector. buckets defaults to
// DefaultBuckets (sorted) when nil.
func NewMetricsCollector(buckets []float64) *MetricsCollector {
	if buckets == nil {
		buckets = append([]float64(nil), DefaultBuckets...)
	} else {
		buckets = append([]float64(nil), buckets...)
		sort.Float64s(buckets)
	}
	return &MetricsCollector{
		buckets:         buckets,
		counters:        map[metricKey]int64{},
		histogramSums:   map[metricKey]float64{},
		histogramCounts: map[metricKey]int64{},
		histogramBucket: map[bucketKey]int64{},
		labelsByKey:     map[metricKey]map[string]string{},
	}
}

func (c *MetricsCollector) key(name string, labels map[string]string) metricKey {
	k := metricKey{name: name, labels: labelsKey(labels)}
	if _, ok := c.labelsByKey[k]; !ok {
		c.labelsByKey[k] = labels
	}
	return k
}

// Increment adds amount (default semantics: caller passes 1 for a single
// event) to the named counter under labels.
func (c *MetricsCollector) Increment(name string, labels map[string]string, amount int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := c.key(name, labels)
	c.counters[k] += amount
}

// Observe records value into the named histogram under labels.
func (c *MetricsCollector) Observe(name string, labels map[string]string, value float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := c.key(name, labels)
	c.histogramSums[k] += value
	c.histogramCounts[k]++
	for _, b := range c.buckets {
		if value <= b {
			c.histogramBucket[bucketKey{k, b}]++
		}
	}
	c.histogramBucket[bucketKey{k, math.Inf(1)}]++
}

// Snapshot is a point-in-time copy of every counter and histogram.
type Snapshot struct {
	Counters        map[string]int64
	HistogramSums   map[string]float64
	HistogramCounts map[string]int64
}

// Snapshot returns a copy of the collector's current state, keyed by
// "name{labels}" strings.
func (c *MetricsCollector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := Snapshot{
		Counters:        make(map[string]int64, len(c.counters)),
		HistogramSums:   make(map[string]float64, len(c.histogramSums)),
		HistogramCounts: make(map[string]int64, len(c.histogramCounts)),
	}
	for k, v := range c.counters {
		out.Counters[fmt.Sprintf("%s{%s}", k.name, k.labels)] = v
	}
	for k, v := range c.histogramSums {
		out.HistogramSums[fmt.Sprintf("%s{%s}", k.name, k.labels)] = v
	}
	for k, v := range c.histogramCounts {
		out.HistogramCounts[fmt.Sprintf("%s{%s}", k.name, k.labels)] = v
	}
	return out
}

// Reset clears every counter and histogram.
func (c *MetricsCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters = map[metricKey]int64{}
	c.histogramSums = map[metricKey]float64{}
	c.histogramCounts = map[metricKey]int64{}
	c.histogramBucket = map[bucketKey]int64{}
	c.labelsByKey = map[metricKey]map[string]string{}
}

// ExportPrometheus renders the collector's state in the standard
// Prometheus text exposition format: `# HELP`/`# TYPE` once per metric
// name, labels sorted alphabetically except `le`, which is always last.
func (c *MetricsCollector) ExportPrometheus() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var lines []string

	counterKeys := make([]metricKey, 0, len(c.counters))
	for k := range c.counters {
		counterKeys = append(counterKeys, k)
	}
	sort.Slice(counterKeys, func(i, j int) bool { return counterKeyLess(counterKeys[i], counterKeys[j]) })

	seenCounterNames := map[string]bool{}
	for _, k := range counterKeys {
		if !seenCounterNames[k.name] {
			lines = append(lines, fmt.Sprintf("# HELP %s %s", k.name, describeMetric(k.name)))
			lines = append(lines, fmt.Sprintf("# TYPE %s counter", k.name))
			seenCounterNames[k.name] = true
		}
		lines = append(lines, fmt.Sprintf("%s%s %d", k.name, formatLabels(c.labelsByKey[k]), c.counters[k]))
	}

	histKeys := make([]metricKey, 0, len(c.histogramSums))
	for k := range c.histogramSums {
		histKeys = append(histKeys, k)
	}
	sort.Slice(histKeys, func(i, j int) bool { return counterKeyLess(histKeys[i], histKeys[j]) })

	seenHistNames := map[string]bool{}
	for _, k := range histKeys {
		if !seenHistNames[k.name] {
			lines = append(lines, fmt.Sprintf("# HELP %s %s", k.name, describeMetric(k.name)))
			lines = append(lines, fmt.Sprintf("# TYPE %s histogram", k.name))
			seenHistNames[k.name] = true
		}
		labels := c.labelsByKey[k]
		labelsStr := formatLabels(labels)

		for _, b := range c.buckets {
			count := c.histogramBucket[bucketKey{k, b}]
			leLabels := withLabel(labels, "le", formatBoundary(b))
			lines = append(lines, fmt.Sprintf("%s_bucket%s %d", k.name, formatLabels(leLabels), count))
		}
		infCount := c.histogramBucket[bucketKey{k, math.Inf(1)}]
		infLabels := withLabel(labels, "le", "+Inf")
		lines = append(lines, fmt.Sprintf("%s_bucket%s %d", k.name, formatLabels(infLabels), infCount))

		lines = append(lines, fmt.Sprintf("%s_sum%s %s", k.name, labelsStr, formatFloat(c.histogramSums[k])))
		lines = append(lines, fmt.Sprintf("%s_count%s %d", k.name, labelsStr, c.histogramCounts[k]))
	}

	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

func counterKeyLess(a, b metricKey) bool {
	if a.name != b.name {
		return a.name < b.name
	}
	return a.labels < b.labels
}

func describeMetric(name string) string {
	if d, ok := metricDescriptions[name]; ok {
		return d
	}
	return name
}

func withLabel(labels map[string]string, key, value string) map[string]string {
	out := make(map[string]string, len(labels)+1)
	for k, v := range labels {
		out[k] = v
	}
	out[key] = value
	return out
}

func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		iLe, jLe := keys[i] == "le", keys[j] == "le"
		if iLe != jLe {
			return !iLe // le sorts after everything else
		}
		return keys[i] < keys[j]
	})
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf(`%s="%s"`, k, labels[k])
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func formatBoundary(b float64) string {
	return strconv.FormatFloat(b, 'g', -1, 64)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// IncrementCalls records one module call under apcore_module_calls_total.
func (c *MetricsCollector) IncrementCalls(moduleID, status string) {
	c.Increment("apcore_module_calls_total", map[string]string{"module_id": moduleID, "status": status}, 1)
}

// IncrementErrors records one module error under apcore_module_errors_total.
func (c *MetricsCollector) IncrementErrors(moduleID, errorCode string) {
	c.Increment("apcore_module_errors_total", map[string]string{"module_id": moduleID, "error_code": errorCode}, 1)
}

// ObserveDuration records a call's wall-clock duration in seconds under
// apcore_module_duration_seconds.
func (c *MetricsCollector) ObserveDuration(moduleID string, seconds float64) {
	c.Observe("apcore_module_duration_seconds", map[string]string{"module_id": moduleID}, seconds)
}

const metricsStartsKey = "_metrics_starts"

// MetricsMiddleware records call counts, error counts, and durations into a
// MetricsCollector using a per-trace start-time stack.
type MetricsMiddleware struct {
	middleware.BaseMiddleware
	collector *MetricsCollector
}

// NewMetricsMiddleware constructs a MetricsMiddleware bound to collector.
func NewMetricsMiddleware(collector *MetricsCollector) *MetricsMiddleware {
	return &MetricsMiddleware{collector: collector}
}

func (m *MetricsMiddleware) Before(moduleID string, inputs map[string]any, ctx *apcore.Context) (map[string]any, error) {
	apcore.LoadStack(ctx, metricsStartsKey).Push(time.Now())
	return nil, nil
}

func (m *MetricsMiddleware) After(moduleID string, inputs, output map[string]any, ctx *apcore.Context) (map[string]any, error) {
	m.collector.IncrementCalls(moduleID, "success")
	if duration, ok := popDuration(ctx); ok {
		m.collector.ObserveDuration(moduleID, duration)
	}
	return nil, nil
}

func (m *MetricsMiddleware) OnError(moduleID string, inputs map[string]any, err error, ctx *apcore.Context) (map[string]any, error) {
	m.collector.IncrementCalls(moduleID, "error")
	m.collector.IncrementErrors(moduleID, errorCode(err))
	if duration, ok := popDuration(ctx); ok {
		m.collector.ObserveDuration(moduleID, duration)
	}
	return nil, nil
}

// popDuration pops the matching Before timestamp off the per-trace stack. A
// middleware's After/OnError can run without a matching Before having run —
// the before-chain recovery path re-enters the after chain for every
// registered middleware, including ones whose Before was never reached
// (§4.6 step 6) — so a missing entry is a no-op, not a bug.
func popDuration(ctx *apcore.Context) (float64, bool) {
	start, ok := apcore.LoadStack(ctx, metricsStartsKey).Pop()
	if !ok {
		return 0, false
	}
	startTime, ok := start.(time.Time)
	if !ok {
		return 0, false
	}
	return time.Since(startTime).Seconds(), true
}
