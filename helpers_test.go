package edgeguard

import (
	"sync"
	"time"
)

// manualClock is a deterministic Clock for tests. Tickers it creates never
// fire on their own; background loops are exercised by calling their sweep or
// rotate methods directly.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock(start time.Time) *manualClock {
	return &manualClock{now: start}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *manualClock) NewTicker(time.Duration) Ticker {
	return &manualTicker{ch: make(chan time.Time)}
}

type manualTicker struct {
	ch chan time.Time
}

func (t *manualTicker) C() <-chan time.Time { return t.ch }
func (t *manualTicker) Stop()               {}

// recordingNotifier captures alert events for assertions.
type recordingNotifier struct {
	mu     sync.Mutex
	events []AlertEvent
}

func (r *recordingNotifier) Notify(event AlertEvent) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *recordingNotifier) all() []AlertEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]AlertEvent, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recordingNotifier) byType(t AlertType) []AlertEvent {
	var out []AlertEvent
	for _, e := range r.all() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

var testStart = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
