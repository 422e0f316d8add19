package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestObserveRequestRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewBridgeCollector(reg)
	if err != nil {
		t.Fatalf("NewBridgeCollector: %v", err)
	}

	collector.ObserveRequest("getFlowAvgLatency", "ok", 5*time.Millisecond)
	collector.ObserveRequest("getFlowAvgLatency", "no_data", time.Millisecond)

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("getFlowAvgLatency", "ok")); got != 1 {
		t.Fatalf("bridge_requests_total{ok} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("getFlowAvgLatency", "no_data")); got != 1 {
		t.Fatalf("bridge_requests_total{no_data} = %v, want 1", got)
	}

	if count := histogramSampleCount(t, reg, "bridge_request_duration_seconds", map[string]string{
		"op": "getFlowAvgLatency",
	}); count != 2 {
		t.Fatalf("bridge_request_duration_seconds sample_count = %d, want 2", count)
	}
}

func TestMetricsHandlerExposesScenarioGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewBridgeCollector(reg)
	if err != nil {
		t.Fatalf("NewBridgeCollector: %v", err)
	}
	collector.SetScenarioCounts(4, 3, 8)
	collector.SetSimClock(12.5)
	collector.ObserveRequest("getTime", "ok", time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"bridge_requests_total",
		"bridge_request_duration_seconds",
		"scenario_vms",
		"scenario_flows",
		"scenario_links",
		"sim_clock_seconds",
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output", metric)
		}
	}
	if !strings.Contains(body, "12.5") {
		t.Fatalf("/metrics output missing sim clock value: %s", body)
	}
}

func TestNewBridgeCollectorToleratesReRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewBridgeCollector(reg); err != nil {
		t.Fatalf("first NewBridgeCollector: %v", err)
	}
	second, err := NewBridgeCollector(reg)
	if err != nil {
		t.Fatalf("second NewBridgeCollector: %v", err)
	}
	second.ObserveRequest("getTime", "ok", time.Millisecond)
	if got := testutil.ToFloat64(second.RPCRequests.WithLabelValues("getTime", "ok")); got != 1 {
		t.Fatalf("re-registered counter = %v, want 1", got)
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) != len(want) {
		return false
	}
	for _, lp := range got {
		if want[lp.GetName()] != lp.GetValue() {
			return false
		}
	}
	return true
}
