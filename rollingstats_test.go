package edgeguard

import (
	"math"
	"testing"
)

func TestRollingStatsRejectsDegenerateWindow(t *testing.T) {
	if _, err := NewRollingStats(1); err == nil {
		t.Fatalf("expected error for window of 1")
	}
	if _, err := NewRollingStats(0); err == nil {
		t.Fatalf("expected error for window of 0")
	}
}

func TestRollingStatsMeanAndStdDev(t *testing.T) {
	rs, err := NewRollingStats(8)
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		rs.Add(s)
	}
	if got := rs.Mean(); got != 5 {
		t.Fatalf("expected mean 5, got %v", got)
	}
	if got := rs.StdDev(); math.Abs(got-2) > 1e-9 {
		t.Fatalf("expected stddev 2, got %v", got)
	}
	if rs.Count() != 8 {
		t.Fatalf("expected count 8, got %d", rs.Count())
	}
}

func TestRollingStatsWindowEvictsExactlyOldest(t *testing.T) {
	rs, err := NewRollingStats(3)
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range []float64{100, 1, 2, 3} {
		rs.Add(s)
	}
	// 100 fell out of the window, so the stats describe {1, 2, 3} exactly.
	if got := rs.Mean(); got != 2 {
		t.Fatalf("expected mean 2 after eviction, got %v", got)
	}
	if rs.Count() != 3 {
		t.Fatalf("expected count pinned at window size, got %d", rs.Count())
	}
}

func TestRollingStatsColdBaselineNeverAnomalous(t *testing.T) {
	rs, err := NewRollingStats(100, WithMinSamples(10))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 9; i++ {
		rs.Add(10)
	}
	if rs.IsAnomaly(1e9) {
		t.Fatalf("expected no anomaly below the minimum sample count")
	}
}

func TestRollingStatsDetectsOutlier(t *testing.T) {
	rs, err := NewRollingStats(100, WithMinSamples(10), WithAnomalyMultiplier(3))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		rs.Add(10 + float64(i%2)) // alternates 10, 11
	}
	if rs.IsAnomaly(10.5) {
		t.Fatalf("expected in-band sample to pass")
	}
	if !rs.IsAnomaly(500) {
		t.Fatalf("expected far outlier to be flagged")
	}
}

func TestRollingStatsExactAfterLargeOutlierAgesOut(t *testing.T) {
	rs, err := NewRollingStats(3)
	if err != nil {
		t.Fatal(err)
	}
	// The huge first sample would absorb the small ones under incremental
	// sum tracking; once it leaves the window the stats must describe
	// exactly {1, 1, 1}.
	for _, s := range []float64{1e16, 1, 1, 1} {
		rs.Add(s)
	}
	if got := rs.Mean(); got != 1 {
		t.Fatalf("expected mean 1 over {1,1,1}, got %v", got)
	}
	if got := rs.StdDev(); got != 0 {
		t.Fatalf("expected stddev 0 over {1,1,1}, got %v", got)
	}
	if rs.Count() != 3 {
		t.Fatalf("expected count 3, got %d", rs.Count())
	}
}

func TestRollingStatsStdDevNeverNegative(t *testing.T) {
	rs, err := NewRollingStats(50)
	if err != nil {
		t.Fatal(err)
	}
	// Near-constant large values provoke floating-point cancellation.
	for i := 0; i < 50; i++ {
		rs.Add(1e12)
	}
	if got := rs.StdDev(); got < 0 || math.IsNaN(got) {
		t.Fatalf("expected non-negative stddev, got %v", got)
	}
}

func TestRollingStatsSnapshot(t *testing.T) {
	rs, err := NewRollingStats(4)
	if err != nil {
		t.Fatal(err)
	}
	rs.Add(1)
	rs.Add(3)
	snap := rs.Snapshot()
	if snap.Mean != 2 || snap.Count != 2 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}
