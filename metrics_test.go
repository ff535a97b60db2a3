package edgeguard

import (
	"strings"
	"testing"
)

func TestMetricsCounters(t *testing.T) {
	m := NewInMemoryMetricsCollector()
	m.IncrementCounter("edgeguard_requests_total", nil)
	m.IncrementCounter("edgeguard_requests_total", nil)
	m.IncrementCounter("edgeguard_decoy_hits_total", map[string]string{"category": "admin_panel"})

	if got := m.CounterValue("edgeguard_requests_total", nil); got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}
	if got := m.CounterValue("edgeguard_decoy_hits_total", map[string]string{"category": "admin_panel"}); got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
	if got := m.CounterValue("edgeguard_decoy_hits_total", map[string]string{"category": "fake_file"}); got != 0 {
		t.Fatalf("expected 0 for unseen labels, got %d", got)
	}
}

func TestMetricsLabelKeyIsOrderIndependent(t *testing.T) {
	a := labelKey(map[string]string{"b": "2", "a": "1"})
	b := labelKey(map[string]string{"a": "1", "b": "2"})
	if a != b {
		t.Fatalf("expected stable label key, got %q vs %q", a, b)
	}
	if labelKey(nil) != "" {
		t.Fatalf("expected empty key for no labels")
	}
}

func TestMetricsPrometheusExport(t *testing.T) {
	m := NewInMemoryMetricsCollector()
	m.IncrementCounter("edgeguard_bans_total", nil)
	m.IncrementCounter("edgeguard_decoy_hits_total", map[string]string{"category": "fake_file"})
	m.SetGauge("edgeguard_active_bans", 3, nil)
	m.ObserveHistogram("edgeguard_response_ms", 12.5, nil)
	m.ObserveHistogram("edgeguard_response_ms", 7.5, nil)

	out := m.ExportPrometheus()
	for _, want := range []string{
		"# TYPE edgeguard_bans_total counter",
		"edgeguard_bans_total 1",
		`edgeguard_decoy_hits_total{category="fake_file"} 1`,
		"edgeguard_active_bans 3",
		"edgeguard_response_ms_sum 20",
		"edgeguard_response_ms_count 2",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("export missing %q:\n%s", want, out)
		}
	}
}
