package edgeguard

import (
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/oarkflow/log"
)

// BanEntry describes an active or expired ban for one client.
type BanEntry struct {
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
	Permanent bool      `json:"permanent"`
}

func (b *BanEntry) expired(now time.Time) bool {
	return !b.Permanent && now.After(b.ExpiresAt)
}

// BannedClient pairs a client identifier with its ban entry for dashboards.
type BannedClient struct {
	IP string `json:"ip"`
	BanEntry
}

// RateStatus is the outcome of one CheckRate call.
type RateStatus struct {
	CountThisSecond    int  `json:"countThisSecond"`
	CountThisMinute    int  `json:"countThisMinute"`
	ExceedsSecondLimit bool `json:"exceedsSecondLimit"`
	ExceedsMinuteLimit bool `json:"exceedsMinuteLimit"`
}

// DDoSStats aggregates request interception counters.
type DDoSStats struct {
	TotalRequests   int64 `json:"totalRequests"`
	BlockedRequests int64 `json:"blockedRequests"`
	BannedCount     int   `json:"bannedCount"`
}

// clientRecord tracks one client's rate buckets and violation count. The
// request counters roll over on wall-clock second and minute boundaries.
type clientRecord struct {
	secondBucket time.Time
	secondCount  int
	minuteBucket time.Time
	minuteCount  int
	violations   int
	lastSeen     time.Time
}

// DDoSProtection decides per request whether a client is allowed, rate
// limited, or rejected outright. Client and ban maps are capacity-bounded
// with LRU eviction; a background sweep removes expired bans and idle client
// records.
type DDoSProtection struct {
	mu sync.Mutex

	ratePerSecond    int
	ratePerMinute    int
	autoBanThreshold int
	banDuration      time.Duration
	retention        time.Duration
	trustProxy       bool

	clients  *boundedMap
	bans     *boundedMap
	profiler *ClientProfiler

	totalRequests   int64
	blockedRequests int64

	clock    Clock
	notifier AlertNotifier
	metrics  MetricsCollector
	logger   *log.Logger

	sweepTicker Ticker
	stopOnce    sync.Once
	stopCh      chan struct{}
	done        chan struct{}
}

func newDDoSProtection(cfg Config, clock Clock, notifier AlertNotifier, metrics MetricsCollector, logger *log.Logger) *DDoSProtection {
	d := &DDoSProtection{
		ratePerSecond:    cfg.RateLimitPerSecond,
		ratePerMinute:    cfg.RateLimitPerMinute,
		autoBanThreshold: cfg.AutoBanThreshold,
		banDuration:      cfg.BanDuration.Std(),
		retention:        cfg.ClientRetention.Std(),
		trustProxy:       cfg.TrustProxy,
		clients:          newBoundedMap(cfg.MaxClients),
		bans:             newBoundedMap(cfg.MaxBans),
		profiler:         NewClientProfiler(time.Minute, 256, cfg.MaxClients),
		clock:            clock,
		notifier:         notifier,
		metrics:          metrics,
		logger:           orDefaultLogger(logger),
		stopCh:           make(chan struct{}),
		done:             make(chan struct{}),
	}
	d.sweepTicker = clock.NewTicker(cfg.SweepInterval.Std())
	go d.sweepLoop()
	return d
}

// applyLimits installs reloaded thresholds. Capacity ceilings are fixed at
// construction; only the tunable rates move at runtime.
func (d *DDoSProtection) applyLimits(cfg Config) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ratePerSecond = cfg.RateLimitPerSecond
	d.ratePerMinute = cfg.RateLimitPerMinute
	d.autoBanThreshold = cfg.AutoBanThreshold
	d.banDuration = cfg.BanDuration.Std()
	d.retention = cfg.ClientRetention.Std()
	d.trustProxy = cfg.TrustProxy
}

// ResolveClientID identifies the caller: first hop of X-Forwarded-For, then
// X-Real-IP, then the transport peer address. Malformed header values degrade
// to the peer address rather than failing.
func (d *DDoSProtection) ResolveClientID(c *fiber.Ctx) string {
	d.mu.Lock()
	trustProxy := d.trustProxy
	d.mu.Unlock()

	if trustProxy {
		if xff := c.Get(fiber.HeaderXForwardedFor); xff != "" {
			first := strings.TrimSpace(strings.Split(xff, ",")[0])
			if net.ParseIP(first) != nil {
				return first
			}
		}
		if realIP := strings.TrimSpace(c.Get("X-Real-IP")); realIP != "" {
			if net.ParseIP(realIP) != nil {
				return realIP
			}
		}
	}
	return c.IP()
}

// CheckRate increments the caller's second and minute buckets and reports
// whether either configured limit is exceeded.
func (d *DDoSProtection) CheckRate(clientID string) RateStatus {
	now := d.clock.Now()
	second := now.Truncate(time.Second)
	minute := now.Truncate(time.Minute)

	d.mu.Lock()
	defer d.mu.Unlock()

	record := d.recordLocked(clientID)
	if !second.Equal(record.secondBucket) {
		record.secondBucket = second
		record.secondCount = 0
	}
	if !minute.Equal(record.minuteBucket) {
		record.minuteBucket = minute
		record.minuteCount = 0
	}
	record.secondCount++
	record.minuteCount++
	record.lastSeen = now

	return RateStatus{
		CountThisSecond:    record.secondCount,
		CountThisMinute:    record.minuteCount,
		ExceedsSecondLimit: record.secondCount > d.ratePerSecond,
		ExceedsMinuteLimit: record.minuteCount > d.ratePerMinute,
	}
}

func (d *DDoSProtection) recordLocked(clientID string) *clientRecord {
	if value, ok := d.clients.Get(clientID); ok {
		return value.(*clientRecord)
	}
	record := &clientRecord{lastSeen: d.clock.Now()}
	d.clients.Set(clientID, record)
	return record
}

// RecordViolation bumps the client's violation counter. Reaching the auto-ban
// threshold converts the violations into a temporary ban and resets the
// counter.
func (d *DDoSProtection) RecordViolation(clientID, reason string) {
	now := d.clock.Now()

	d.mu.Lock()
	record := d.recordLocked(clientID)
	record.violations++
	violations := record.violations
	duration := d.banDuration
	shouldBan := record.violations >= d.autoBanThreshold
	if shouldBan {
		record.violations = 0
	}
	d.mu.Unlock()

	profile := d.profiler.Snapshot(clientID, now)
	d.logger.Info().
		Str("clientId", clientID).
		Str("reason", reason).
		Int("violations", violations).
		Int("uniquePaths", profile.UniquePaths).
		Float64("pathDiversity", profile.PathDiversity).
		Msg("violation recorded")

	if shouldBan {
		d.ban(clientID, "auto-ban: "+reason, now, now.Add(duration), false)
	}
}

// BanIP bans a client for the given duration; a non-positive duration makes
// the ban permanent. Explicit administrative bans supersede automatic logic.
func (d *DDoSProtection) BanIP(clientID, reason string, duration time.Duration) {
	now := d.clock.Now()
	if duration <= 0 {
		d.ban(clientID, reason, now, time.Time{}, true)
		return
	}
	d.ban(clientID, reason, now, now.Add(duration), false)
}

func (d *DDoSProtection) ban(clientID, reason string, now, expiresAt time.Time, permanent bool) {
	entry := &BanEntry{
		Reason:    reason,
		CreatedAt: now,
		ExpiresAt: expiresAt,
		Permanent: permanent,
	}
	d.mu.Lock()
	d.bans.Set(clientID, entry)
	d.mu.Unlock()

	if d.metrics != nil {
		d.metrics.IncrementCounter("edgeguard_bans_total", nil)
	}
	d.logger.Warn().
		Str("clientId", clientID).
		Str("reason", reason).
		Bool("permanent", permanent).
		Msg("client banned")
	safeNotify(d.notifier, d.logger, AlertEvent{
		Type:   AlertIPBanned,
		IP:     clientID,
		Reason: reason,
		Time:   now,
	})
}

// Unban lifts a ban and reports whether one existed.
func (d *DDoSProtection) Unban(clientID string) bool {
	d.mu.Lock()
	removed := d.bans.Delete(clientID)
	d.mu.Unlock()
	if removed {
		d.logger.Info().Str("clientId", clientID).Msg("client unbanned")
	}
	return removed
}

// IsBanned reports whether the client has an active ban. Expired bans are
// removed on check.
func (d *DDoSProtection) IsBanned(clientID string) bool {
	now := d.clock.Now()
	d.mu.Lock()
	defer d.mu.Unlock()

	value, ok := d.bans.Peek(clientID)
	if !ok {
		return false
	}
	entry := value.(*BanEntry)
	if entry.expired(now) {
		d.bans.Delete(clientID)
		return false
	}
	return true
}

// BannedClients snapshots all active bans.
func (d *DDoSProtection) BannedClients() []BannedClient {
	now := d.clock.Now()
	d.mu.Lock()
	defer d.mu.Unlock()

	var banned []BannedClient
	d.bans.Range(func(key string, value any) bool {
		entry := value.(*BanEntry)
		if !entry.expired(now) {
			banned = append(banned, BannedClient{IP: key, BanEntry: *entry})
		}
		return true
	})
	return banned
}

// Stats returns interception counters and the live ban count.
func (d *DDoSProtection) Stats() DDoSStats {
	now := d.clock.Now()
	d.mu.Lock()
	defer d.mu.Unlock()

	active := 0
	d.bans.Range(func(_ string, value any) bool {
		if !value.(*BanEntry).expired(now) {
			active++
		}
		return true
	})
	return DDoSStats{
		TotalRequests:   d.totalRequests,
		BlockedRequests: d.blockedRequests,
		BannedCount:     active,
	}
}

// Profile exposes the recent request profile for one client.
func (d *DDoSProtection) Profile(clientID string) ProfileSnapshot {
	return d.profiler.Snapshot(clientID, d.clock.Now())
}

// ProfileSummary aggregates all live client profiles.
func (d *DDoSProtection) ProfileSummary() ProfilerSummary {
	return d.profiler.Summary(d.clock.Now())
}

// Admit counts one request from the client and decides whether it passes.
// It returns ErrBanned for an active ban, ErrRateExceeded when a configured
// limit is hit (recording the violation as a side effect), and nil otherwise.
func (d *DDoSProtection) Admit(clientID string) error {
	d.mu.Lock()
	d.totalRequests++
	d.mu.Unlock()
	if d.metrics != nil {
		d.metrics.IncrementCounter("edgeguard_requests_total", nil)
	}

	if d.IsBanned(clientID) {
		d.countBlocked()
		return ErrBanned
	}

	status := d.CheckRate(clientID)
	if status.ExceedsSecondLimit || status.ExceedsMinuteLimit {
		d.RecordViolation(clientID, "rate limit exceeded")
		d.countBlocked()
		return ErrRateExceeded
	}
	return nil
}

// Middleware intercepts requests before any application logic: banned clients
// are rejected immediately, rate violations are recorded and rejected, and
// everything else passes through.
func (d *DDoSProtection) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		clientID := d.ResolveClientID(c)

		switch err := d.Admit(clientID); {
		case errors.Is(err, ErrBanned):
			return rejectJSON(c, fiber.StatusTooManyRequests, "client banned", "BANNED")
		case errors.Is(err, ErrRateExceeded):
			c.Set("Retry-After", "1")
			return rejectJSON(c, fiber.StatusTooManyRequests, "too many requests", "RATE_EXCEEDED")
		}

		d.profiler.Track(clientID, c.Path(), c.Get(fiber.HeaderUserAgent), d.clock.Now())
		return c.Next()
	}
}

func (d *DDoSProtection) countBlocked() {
	d.mu.Lock()
	d.blockedRequests++
	d.mu.Unlock()
	if d.metrics != nil {
		d.metrics.IncrementCounter("edgeguard_blocked_total", nil)
	}
}

// sweepLoop periodically drops expired bans and idle client records.
func (d *DDoSProtection) sweepLoop() {
	defer close(d.done)
	for {
		select {
		case <-d.stopCh:
			return
		case <-d.sweepTicker.C():
			d.sweep()
		}
	}
}

func (d *DDoSProtection) sweep() {
	now := d.clock.Now()
	d.mu.Lock()
	removedBans := 0
	d.bans.Range(func(key string, value any) bool {
		if value.(*BanEntry).expired(now) {
			d.bans.Delete(key)
			removedBans++
		}
		return true
	})
	removedClients := 0
	retention := d.retention
	d.clients.Range(func(key string, value any) bool {
		if now.Sub(value.(*clientRecord).lastSeen) > retention {
			d.clients.Delete(key)
			removedClients++
		}
		return true
	})
	d.mu.Unlock()

	if removedBans > 0 || removedClients > 0 {
		d.logger.Debug().
			Int("expiredBans", removedBans).
			Int("idleClients", removedClients).
			Msg("sweep completed")
	}
}

// Stop halts the background sweep. Idempotent.
func (d *DDoSProtection) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
		d.sweepTicker.Stop()
		<-d.done
	})
}

// rejectJSON writes the standard rejection body {error, code}.
func rejectJSON(c *fiber.Ctx, status int, message, code string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": message,
		"code":  code,
	})
}
