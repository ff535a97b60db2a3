package edgeguard

import (
	"fmt"
	"math"
	"sync"
)

const (
	defaultAnomalyMultiplier = 3.0
	defaultMinSamples        = 10
)

// RollingStats tracks the mean and standard deviation of the most recent
// windowSize samples of one metric. The buffer is a fixed-capacity ring: once
// full, each new sample overwrites the oldest one. Statistics are recomputed
// from the buffer contents on every read, so they are always the exact
// statistics of the current window; the window is small enough that no
// incremental shortcut is worth its rounding error.
type RollingStats struct {
	mu         sync.Mutex
	samples    []float64
	next       int
	count      int
	multiplier float64
	minSamples int
}

// StatsOption tunes anomaly scoring on a RollingStats instance.
type StatsOption func(*RollingStats)

// WithAnomalyMultiplier sets how many standard deviations from the mean a
// sample must sit before IsAnomaly reports it.
func WithAnomalyMultiplier(m float64) StatsOption {
	return func(rs *RollingStats) {
		if m > 0 {
			rs.multiplier = m
		}
	}
}

// WithMinSamples sets how many samples must be observed before IsAnomaly can
// report anything, avoiding false positives on a cold baseline.
func WithMinSamples(n int) StatsOption {
	return func(rs *RollingStats) {
		if n > 0 {
			rs.minSamples = n
		}
	}
}

// NewRollingStats creates a tracker over a window of windowSize samples.
func NewRollingStats(windowSize int, opts ...StatsOption) (*RollingStats, error) {
	if windowSize <= 1 {
		return nil, fmt.Errorf("%w: rolling stats window must exceed 1, got %d", ErrInvalidConfig, windowSize)
	}
	rs := &RollingStats{
		samples:    make([]float64, windowSize),
		multiplier: defaultAnomalyMultiplier,
		minSamples: defaultMinSamples,
	}
	for _, opt := range opts {
		opt(rs)
	}
	return rs, nil
}

// Add appends a sample, evicting the oldest one once the window is full.
func (rs *RollingStats) Add(sample float64) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	rs.samples[rs.next] = sample
	rs.next = (rs.next + 1) % len(rs.samples)
	if rs.count < len(rs.samples) {
		rs.count++
	}
}

// Count reports how many samples the window currently holds.
func (rs *RollingStats) Count() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.count
}

// Mean returns the mean of the current window contents.
func (rs *RollingStats) Mean() float64 {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.mean()
}

// StdDev returns the population standard deviation of the current window.
func (rs *RollingStats) StdDev() float64 {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.stdDev()
}

// IsAnomaly reports whether sample deviates from the rolling mean by more
// than multiplier standard deviations. Always false until minSamples
// observations have been made.
func (rs *RollingStats) IsAnomaly(sample float64) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.count < rs.minSamples {
		return false
	}
	return math.Abs(sample-rs.mean()) > rs.multiplier*rs.stdDev()
}

// Snapshot returns mean, stddev, and count atomically.
func (rs *RollingStats) Snapshot() Baseline {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return Baseline{Mean: rs.mean(), StdDev: rs.stdDev(), Count: rs.count}
}

// Until the ring wraps, the occupied slots are samples[0:count]; once full,
// count equals the buffer length, so iterating [0, count) covers exactly the
// live window either way.

func (rs *RollingStats) mean() float64 {
	if rs.count == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < rs.count; i++ {
		sum += rs.samples[i]
	}
	return sum / float64(rs.count)
}

// stdDev uses the two-pass form: summing squared deviations from the mean
// avoids the catastrophic cancellation a sum-of-squares shortcut suffers on
// large-magnitude samples.
func (rs *RollingStats) stdDev() float64 {
	if rs.count == 0 {
		return 0
	}
	mean := rs.mean()
	var squares float64
	for i := 0; i < rs.count; i++ {
		d := rs.samples[i] - mean
		squares += d * d
	}
	return math.Sqrt(squares / float64(rs.count))
}

// Baseline is a read-only snapshot of one metric's rolling statistics.
type Baseline struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	Count  int     `json:"count"`
}
