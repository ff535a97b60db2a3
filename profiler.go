package edgeguard

import (
	"sync"
	"time"
)

// ClientProfiler keeps short-lived per-client request observations so the
// controller can derive lightweight diversity signals without persistent
// storage. The client map is LRU-bounded.
type ClientProfiler struct {
	mu        sync.Mutex
	window    time.Duration
	maxEvents int
	profiles  *boundedMap
}

type profileEvent struct {
	timestamp time.Time
	path      string
	userAgent string
}

type clientProfile struct {
	events []profileEvent
}

// ProfileSnapshot summarizes the recent request history of one client.
type ProfileSnapshot struct {
	Requests         int     `json:"requests"`
	UniquePaths      int     `json:"uniquePaths"`
	UniqueUserAgents int     `json:"uniqueUserAgents"`
	PathDiversity    float64 `json:"pathDiversity"`
}

// NewClientProfiler creates a profiler with the given sliding window,
// per-client retention size, and client-count ceiling.
func NewClientProfiler(window time.Duration, maxEvents, maxClients int) *ClientProfiler {
	if window <= 0 {
		window = time.Minute
	}
	if maxEvents <= 0 {
		maxEvents = 256
	}
	return &ClientProfiler{
		window:    window,
		maxEvents: maxEvents,
		profiles:  newBoundedMap(maxClients),
	}
}

// Track records a single request observation for the client.
func (p *ClientProfiler) Track(clientID, path, userAgent string, now time.Time) {
	if clientID == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	var prof *clientProfile
	if value, ok := p.profiles.Get(clientID); ok {
		prof = value.(*clientProfile)
	} else {
		prof = &clientProfile{}
		p.profiles.Set(clientID, prof)
	}

	prof.events = append(prof.events, profileEvent{timestamp: now, path: path, userAgent: userAgent})
	prof.events = trimProfileEvents(prof.events, now.Add(-p.window))
	if len(prof.events) > p.maxEvents {
		prof.events = prof.events[len(prof.events)-p.maxEvents:]
	}
}

// Snapshot aggregates the recent history for the client.
func (p *ClientProfiler) Snapshot(clientID string, now time.Time) ProfileSnapshot {
	if clientID == "" {
		return ProfileSnapshot{}
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	value, ok := p.profiles.Peek(clientID)
	if !ok {
		return ProfileSnapshot{}
	}
	prof := value.(*clientProfile)
	prof.events = trimProfileEvents(prof.events, now.Add(-p.window))
	if len(prof.events) == 0 {
		return ProfileSnapshot{}
	}

	paths := make(map[string]struct{})
	agents := make(map[string]struct{})
	for _, ev := range prof.events {
		if ev.path != "" {
			paths[ev.path] = struct{}{}
		}
		if ev.userAgent != "" {
			agents[ev.userAgent] = struct{}{}
		}
	}
	return ProfileSnapshot{
		Requests:         len(prof.events),
		UniquePaths:      len(paths),
		UniqueUserAgents: len(agents),
		PathDiversity:    float64(len(paths)) / float64(len(prof.events)),
	}
}

// ProfilerSummary aggregates every live client profile for the dashboard.
type ProfilerSummary struct {
	Clients          int     `json:"clients"`
	Requests         int     `json:"requests"`
	AvgPathDiversity float64 `json:"avgPathDiversity"`
}

// Summary rolls the in-window activity of all tracked clients into one view.
// Clients whose events have all aged out are not counted.
func (p *ClientProfiler) Summary(now time.Time) ProfilerSummary {
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := now.Add(-p.window)
	var summary ProfilerSummary
	var diversity float64
	p.profiles.Range(func(_ string, value any) bool {
		prof := value.(*clientProfile)
		prof.events = trimProfileEvents(prof.events, cutoff)
		if len(prof.events) == 0 {
			return true
		}
		paths := make(map[string]struct{})
		for _, ev := range prof.events {
			if ev.path != "" {
				paths[ev.path] = struct{}{}
			}
		}
		summary.Clients++
		summary.Requests += len(prof.events)
		diversity += float64(len(paths)) / float64(len(prof.events))
		return true
	})
	if summary.Clients > 0 {
		summary.AvgPathDiversity = diversity / float64(summary.Clients)
	}
	return summary
}

func trimProfileEvents(events []profileEvent, cutoff time.Time) []profileEvent {
	idx := 0
	for idx < len(events) && events[idx].timestamp.Before(cutoff) {
		idx++
	}
	if idx > 0 {
		return events[idx:]
	}
	return events
}
