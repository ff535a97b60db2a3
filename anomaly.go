package edgeguard

import (
	"sync"
	"time"

	"github.com/oarkflow/log"
)

// Metric names tracked by the anomaly detector.
const (
	MetricRequestsPerSecond      = "requestsPerSecond"
	MetricErrorRate              = "errorRate"
	MetricResponseTime           = "responseTime"
	MetricUniqueCallersPerMinute = "uniqueCallersPerMinute"
)

// uniqueCallerCap bounds the per-minute caller set, which is keyed by
// attacker-controlled identifiers.
const uniqueCallerCap = 10000

// AnomalyDetector keeps a rolling baseline per request metric and flags
// samples that deviate sharply from it. It is purely observational: it never
// rejects or blocks a request.
type AnomalyDetector struct {
	mu sync.Mutex

	responseTime *RollingStats
	requestRate  *RollingStats
	errorRate    *RollingStats
	callerCounts *RollingStats

	currentSecond  time.Time
	secondRequests int
	secondErrors   int

	currentMinute time.Time
	callers       map[string]struct{}

	anomalies int64

	clock    Clock
	notifier AlertNotifier
	metrics  MetricsCollector
	logger   *log.Logger
}

func newAnomalyDetector(cfg Config, clock Clock, notifier AlertNotifier, metrics MetricsCollector, logger *log.Logger) (*AnomalyDetector, error) {
	opts := []StatsOption{
		WithAnomalyMultiplier(cfg.AnomalyThreshold),
		WithMinSamples(cfg.AnomalyMinSamples),
	}
	responseTime, err := NewRollingStats(cfg.AnomalyWindow, opts...)
	if err != nil {
		return nil, err
	}
	requestRate, err := NewRollingStats(cfg.AnomalyWindow, opts...)
	if err != nil {
		return nil, err
	}
	errorRate, err := NewRollingStats(cfg.AnomalyWindow, opts...)
	if err != nil {
		return nil, err
	}
	callerCounts, err := NewRollingStats(cfg.AnomalyWindow, opts...)
	if err != nil {
		return nil, err
	}
	return &AnomalyDetector{
		responseTime: responseTime,
		requestRate:  requestRate,
		errorRate:    errorRate,
		callerCounts: callerCounts,
		callers:      make(map[string]struct{}),
		clock:        clock,
		notifier:     notifier,
		metrics:      metrics,
		logger:       orDefaultLogger(logger),
	}, nil
}

// RecordRequest folds one completed request into the per-second counters, the
// per-minute unique-caller set, and the response-time baseline. A response
// time that deviates sharply from the established baseline emits an anomaly
// event through the notifier.
func (a *AnomalyDetector) RecordRequest(clientID string, statusCode int, elapsed time.Duration) {
	now := a.clock.Now()
	elapsedMs := float64(elapsed) / float64(time.Millisecond)

	a.mu.Lock()
	a.rollSecondLocked(now)
	a.rollMinuteLocked(now)

	a.secondRequests++
	if statusCode >= 400 {
		a.secondErrors++
	}
	if clientID != "" && len(a.callers) < uniqueCallerCap {
		a.callers[clientID] = struct{}{}
	}
	a.mu.Unlock()

	// Score against the baseline established by prior traffic, then fold the
	// sample in so an outlier cannot mask itself.
	anomalous := a.responseTime.IsAnomaly(elapsedMs)
	baseline := a.responseTime.Snapshot()
	a.responseTime.Add(elapsedMs)

	if a.metrics != nil {
		a.metrics.ObserveHistogram("edgeguard_response_ms", elapsedMs, nil)
	}

	if anomalous {
		a.mu.Lock()
		a.anomalies++
		a.mu.Unlock()
		if a.metrics != nil {
			a.metrics.IncrementCounter("edgeguard_anomalies_total", map[string]string{"metric": "response_time"})
		}
		a.logger.Warn().
			Str("metric", "response_time").
			Float64("observed", elapsedMs).
			Float64("baselineMean", baseline.Mean).
			Float64("baselineStdDev", baseline.StdDev).
			Msg("response time anomaly")
		safeNotify(a.notifier, a.logger, AlertEvent{
			Type:     AlertAnomaly,
			Metric:   "response_time",
			Observed: elapsedMs,
			Baseline: baseline.Mean,
			Time:     now,
		})
	}
}

// rollSecondLocked closes out the previous one-second window, feeding its
// request count and error rate into their baselines.
func (a *AnomalyDetector) rollSecondLocked(now time.Time) {
	second := now.Truncate(time.Second)
	if second.Equal(a.currentSecond) {
		return
	}
	if !a.currentSecond.IsZero() && a.secondRequests > 0 {
		a.requestRate.Add(float64(a.secondRequests))
		a.errorRate.Add(float64(a.secondErrors) / float64(a.secondRequests))
	}
	a.currentSecond = second
	a.secondRequests = 0
	a.secondErrors = 0
}

func (a *AnomalyDetector) rollMinuteLocked(now time.Time) {
	minute := now.Truncate(time.Minute)
	if minute.Equal(a.currentMinute) {
		return
	}
	if !a.currentMinute.IsZero() && len(a.callers) > 0 {
		a.callerCounts.Add(float64(len(a.callers)))
	}
	a.currentMinute = minute
	a.callers = make(map[string]struct{})
}

// Baselines returns a snapshot of every tracked metric, keyed by metric name.
func (a *AnomalyDetector) Baselines() map[string]Baseline {
	return map[string]Baseline{
		MetricRequestsPerSecond:      a.requestRate.Snapshot(),
		MetricErrorRate:              a.errorRate.Snapshot(),
		MetricResponseTime:           a.responseTime.Snapshot(),
		MetricUniqueCallersPerMinute: a.callerCounts.Snapshot(),
	}
}

// AnomalyCount reports how many anomaly events have been emitted.
func (a *AnomalyDetector) AnomalyCount() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.anomalies
}
