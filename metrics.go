package edgeguard

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MetricsCollector is the observability hook the controller reports into.
type MetricsCollector interface {
	IncrementCounter(name string, labels map[string]string)
	ObserveHistogram(name string, value float64, labels map[string]string)
	SetGauge(name string, value float64, labels map[string]string)
	ExportPrometheus() string
}

// InMemoryMetricsCollector implements MetricsCollector with plain maps,
// suitable for single-process deployments and tests.
type InMemoryMetricsCollector struct {
	mu         sync.RWMutex
	counters   map[string]map[string]int64
	gauges     map[string]map[string]float64
	histograms map[string]histogramData
}

type histogramData struct {
	sum   float64
	count int64
}

func NewInMemoryMetricsCollector() *InMemoryMetricsCollector {
	return &InMemoryMetricsCollector{
		counters:   make(map[string]map[string]int64),
		gauges:     make(map[string]map[string]float64),
		histograms: make(map[string]histogramData),
	}
}

func (m *InMemoryMetricsCollector) IncrementCounter(name string, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counters[name] == nil {
		m.counters[name] = make(map[string]int64)
	}
	m.counters[name][labelKey(labels)]++
}

func (m *InMemoryMetricsCollector) ObserveHistogram(name string, value float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := name
	if lk := labelKey(labels); lk != "" {
		key = name + "{" + lk + "}"
	}
	data := m.histograms[key]
	data.sum += value
	data.count++
	m.histograms[key] = data
}

func (m *InMemoryMetricsCollector) SetGauge(name string, value float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gauges[name] == nil {
		m.gauges[name] = make(map[string]float64)
	}
	m.gauges[name][labelKey(labels)] = value
}

// CounterValue returns the current value of a counter, mainly for tests.
func (m *InMemoryMetricsCollector) CounterValue(name string, labels map[string]string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counters[name][labelKey(labels)]
}

func labelKey(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", k, labels[k]))
	}
	return strings.Join(parts, ",")
}

// ExportPrometheus renders the collected metrics in Prometheus text format.
func (m *InMemoryMetricsCollector) ExportPrometheus() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out strings.Builder
	for name, series := range m.counters {
		out.WriteString(fmt.Sprintf("# TYPE %s counter\n", name))
		for labels, value := range series {
			if labels == "" {
				out.WriteString(fmt.Sprintf("%s %d\n", name, value))
			} else {
				out.WriteString(fmt.Sprintf("%s{%s} %d\n", name, labels, value))
			}
		}
	}
	for name, series := range m.gauges {
		out.WriteString(fmt.Sprintf("# TYPE %s gauge\n", name))
		for labels, value := range series {
			if labels == "" {
				out.WriteString(fmt.Sprintf("%s %g\n", name, value))
			} else {
				out.WriteString(fmt.Sprintf("%s{%s} %g\n", name, labels, value))
			}
		}
	}
	for name, data := range m.histograms {
		out.WriteString(fmt.Sprintf("# TYPE %s histogram\n", name))
		out.WriteString(fmt.Sprintf("%s_sum %g\n", name, data.sum))
		out.WriteString(fmt.Sprintf("%s_count %d\n", name, data.count))
	}
	return out.String()
}
