package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusCollector_ExposesCountersAndHistograms(t *testing.T) {
	mc := NewMetricsCollector(nil)
	mc.IncrementCalls("mod.a", "success")
	mc.ObserveDuration("mod.a", 0.02)

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(NewPrometheusCollector(mc)))

	srv := httptest.NewServer(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	buf := make([]byte, 4096)
	n, _ := resp.Body.Read(buf)
	body := string(buf[:n])

	assert.Contains(t, body, "apcore_module_calls_total")
	assert.Contains(t, body, "apcore_module_duration_seconds")
	assert.True(t, strings.Contains(body, `module_id="mod.a"`))
}
