package edgeguard

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/oarkflow/log"
)

// SecurityController is the composition root: it owns one instance of each
// defense component, chains their request interceptors in front of the
// application, forwards security events to the alert notifier, and aggregates
// a read-only dashboard.
type SecurityController struct {
	cfg Config

	ddos    *DDoSProtection
	decoys  *NetworkDecoys
	keys    *MemorySafeKeyManager
	anomaly *AnomalyDetector

	notifier AlertNotifier
	metrics  MetricsCollector
	logger   *log.Logger
	clock    Clock

	watcher      *ConfigWatcher
	watcherMu    sync.Mutex
	shutdownOnce sync.Once
}

// Option configures a SecurityController.
type Option func(*SecurityController)

// WithNotifier installs the alert notifier that receives ip_banned,
// DECOY_ACCESS, and anomaly events.
func WithNotifier(n AlertNotifier) Option {
	return func(sc *SecurityController) { sc.notifier = n }
}

// WithMetrics installs the metrics collector.
func WithMetrics(m MetricsCollector) Option {
	return func(sc *SecurityController) { sc.metrics = m }
}

// WithLogger installs the structured logger shared by all components.
func WithLogger(l *log.Logger) Option {
	return func(sc *SecurityController) { sc.logger = l }
}

// WithClock injects a clock, letting tests drive sweeps and rotation without
// waiting on wall-clock time.
func WithClock(c Clock) Option {
	return func(sc *SecurityController) { sc.clock = c }
}

// NewSecurityController validates cfg and builds the component graph.
func NewSecurityController(cfg Config, opts ...Option) (*SecurityController, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sc := &SecurityController{
		cfg:   cfg,
		clock: systemClock{},
	}
	for _, opt := range opts {
		opt(sc)
	}
	sc.logger = orDefaultLogger(sc.logger)

	keys, err := NewMemorySafeKeyManager(cfg.MaxStoredKeys, cfg.KeyRotationInterval.Std(), sc.clock, sc.logger)
	if err != nil {
		return nil, err
	}
	anomaly, err := newAnomalyDetector(cfg, sc.clock, sc.notifier, sc.metrics, sc.logger)
	if err != nil {
		keys.Stop()
		return nil, err
	}
	sc.keys = keys
	sc.anomaly = anomaly
	sc.ddos = newDDoSProtection(cfg, sc.clock, sc.notifier, sc.metrics, sc.logger)
	sc.decoys = newNetworkDecoys(cfg, sc.clock, sc.notifier, sc.metrics, sc.logger)
	return sc, nil
}

// DDoS exposes the rate-limiting and ban component.
func (sc *SecurityController) DDoS() *DDoSProtection { return sc.ddos }

// Decoys exposes the honeypot registry.
func (sc *SecurityController) Decoys() *NetworkDecoys { return sc.decoys }

// Keys exposes the memory-safe key manager.
func (sc *SecurityController) Keys() *MemorySafeKeyManager { return sc.keys }

// Anomalies exposes the anomaly detector.
func (sc *SecurityController) Anomalies() *AnomalyDetector { return sc.anomaly }

// Metrics exposes the collector supplied via WithMetrics, or nil.
func (sc *SecurityController) Metrics() MetricsCollector { return sc.metrics }

// Middlewares returns the three request interceptors in enforcement order:
// the DDoS check runs before any other work, the decoy check runs before
// application routing, and the anomaly recorder wraps response completion.
func (sc *SecurityController) Middlewares() []fiber.Handler {
	return []fiber.Handler{
		sc.ddos.Middleware(),
		sc.decoys.Middleware(sc.ddos.ResolveClientID),
		sc.anomalyMiddleware(),
	}
}

func (sc *SecurityController) anomalyMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := sc.clock.Now()
		err := c.Next()
		elapsed := sc.clock.Now().Sub(start)

		status := c.Response().StatusCode()
		if err != nil {
			if fiberErr, ok := err.(*fiber.Error); ok {
				status = fiberErr.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}
		sc.anomaly.RecordRequest(sc.ddos.ResolveClientID(c), status, elapsed)
		return err
	}
}

// StoreKey passes through to the key manager.
func (sc *SecurityController) StoreKey(id string, plaintext []byte) error {
	return sc.keys.StoreKey(id, plaintext)
}

// RetrieveKey passes through to the key manager.
func (sc *SecurityController) RetrieveKey(id string) ([]byte, error) {
	return sc.keys.RetrieveKey(id)
}

// BanIP bans a client; the ip_banned alert fires from the ban path itself, so
// administrative and automatic bans are reported identically.
func (sc *SecurityController) BanIP(clientID, reason string, duration time.Duration) {
	sc.ddos.BanIP(clientID, reason, duration)
}

// UnbanIP lifts a ban.
func (sc *SecurityController) UnbanIP(clientID string) bool {
	return sc.ddos.Unban(clientID)
}

// Dashboard is the aggregated read-only view over all components.
type Dashboard struct {
	GeneratedAt time.Time           `json:"generatedAt"`
	DDoS        DDoSStats           `json:"ddos"`
	BannedIPs   []BannedClient      `json:"bannedIPs"`
	Profiles    ProfilerSummary     `json:"profiles"`
	DecoyAccess []DecoyAccessEvent  `json:"decoyAccess"`
	MemoryKeys  KeyManagerStats     `json:"memoryKeys"`
	Anomalies   int64               `json:"anomalies"`
	Baselines   map[string]Baseline `json:"baselines"`
}

// Dashboard snapshots every component at call time. It is side-effect-free
// and never cached.
func (sc *SecurityController) Dashboard() Dashboard {
	return Dashboard{
		GeneratedAt: sc.clock.Now(),
		DDoS:        sc.ddos.Stats(),
		BannedIPs:   sc.ddos.BannedClients(),
		Profiles:    sc.ddos.ProfileSummary(),
		DecoyAccess: sc.decoys.Events(),
		MemoryKeys:  sc.keys.Stats(),
		Anomalies:   sc.anomaly.AnomalyCount(),
		Baselines:   sc.anomaly.Baselines(),
	}
}

// WatchConfig hot-reloads tunable thresholds from a JSON file until Shutdown.
func (sc *SecurityController) WatchConfig(path string) error {
	watcher, err := NewConfigWatcher(path, sc.applyConfig, sc.logger)
	if err != nil {
		return err
	}
	sc.watcherMu.Lock()
	sc.watcher = watcher
	sc.watcherMu.Unlock()
	return nil
}

func (sc *SecurityController) applyConfig(cfg Config) {
	sc.ddos.applyLimits(cfg)
	sc.logger.Info().
		Int("rateLimitPerSecond", cfg.RateLimitPerSecond).
		Int("autoBanThreshold", cfg.AutoBanThreshold).
		Msg("limits applied")
}

// Shutdown stops every owned background task (ban sweep, key rotation, config
// watcher). Idempotent and safe to call while requests are in flight:
// in-flight requests complete normally, only the timers stop.
func (sc *SecurityController) Shutdown() {
	sc.shutdownOnce.Do(func() {
		sc.ddos.Stop()
		sc.keys.Stop()
		sc.watcherMu.Lock()
		watcher := sc.watcher
		sc.watcherMu.Unlock()
		if watcher != nil {
			watcher.Stop()
		}
		sc.logger.Info().Msg("security controller stopped")
	})
}
