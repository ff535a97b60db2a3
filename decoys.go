package edgeguard

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/oarkflow/log"
)

// DecoyCategory classifies what kind of honeypot a registered path imitates.
type DecoyCategory string

const (
	DecoyAdminPanel  DecoyCategory = "admin_panel"
	DecoyFakeAPI     DecoyCategory = "fake_api"
	DecoyFakeFile    DecoyCategory = "fake_file"
	DecoyFakeService DecoyCategory = "fake_service"
	DecoyCustom      DecoyCategory = "custom"
)

// DecoyAccessEvent records one request against a decoy path. Legitimate
// traffic never requests these paths, so every event is a high-confidence
// attack signal.
type DecoyAccessEvent struct {
	ID            string        `json:"id"`
	Time          time.Time     `json:"time"`
	Path          string        `json:"path"`
	Category      DecoyCategory `json:"category"`
	ClientID      string        `json:"clientId"`
	HeadersDigest string        `json:"headersDigest"`
}

// seedDecoys are paths attackers probe on essentially every internet-facing
// service. None of them exist as real routes.
var seedDecoys = map[string]DecoyCategory{
	"/wp-admin":               DecoyAdminPanel,
	"/wp-login.php":           DecoyAdminPanel,
	"/admin":                  DecoyAdminPanel,
	"/admin/login":            DecoyAdminPanel,
	"/admin.php":              DecoyAdminPanel,
	"/administrator":          DecoyAdminPanel,
	"/phpmyadmin":             DecoyAdminPanel,
	"/pma":                    DecoyAdminPanel,
	"/manager/html":           DecoyAdminPanel,
	"/console":                DecoyAdminPanel,
	"/login.php":              DecoyAdminPanel,
	"/cpanel":                 DecoyAdminPanel,
	"/.env":                   DecoyFakeFile,
	"/.env.local":             DecoyFakeFile,
	"/.env.production":        DecoyFakeFile,
	"/.env.backup":            DecoyFakeFile,
	"/.git/config":            DecoyFakeFile,
	"/.git/HEAD":              DecoyFakeFile,
	"/.aws/credentials":       DecoyFakeFile,
	"/.ssh/id_rsa":            DecoyFakeFile,
	"/.htaccess":              DecoyFakeFile,
	"/.htpasswd":              DecoyFakeFile,
	"/.DS_Store":              DecoyFakeFile,
	"/wp-config.php":          DecoyFakeFile,
	"/config.php":             DecoyFakeFile,
	"/backup.zip":             DecoyFakeFile,
	"/backup.sql":             DecoyFakeFile,
	"/db.sql":                 DecoyFakeFile,
	"/dump.sql":               DecoyFakeFile,
	"/site.tar.gz":            DecoyFakeFile,
	"/id_rsa":                 DecoyFakeFile,
	"/.vscode/sftp.json":      DecoyFakeFile,
	"/etc/passwd":             DecoyFakeFile,
	"/api/internal/users":     DecoyFakeAPI,
	"/api/internal/config":    DecoyFakeAPI,
	"/api/v1/admin/keys":      DecoyFakeAPI,
	"/api/debug":              DecoyFakeAPI,
	"/xmlrpc.php":             DecoyFakeAPI,
	"/debug/pprof":            DecoyFakeAPI,
	"/actuator/env":           DecoyFakeService,
	"/actuator/health":        DecoyFakeService,
	"/server-status":          DecoyFakeService,
	"/jenkins":                DecoyFakeService,
	"/jenkins/login":          DecoyFakeService,
	"/gitlab":                 DecoyFakeService,
	"/grafana/login":          DecoyFakeService,
	"/kibana":                 DecoyFakeService,
	"/solr/admin":             DecoyFakeService,
	"/telescope":              DecoyFakeService,
	"/_profiler":              DecoyFakeService,
	"/cgi-bin/test.cgi":       DecoyFakeService,
	"/vendor/phpunit/phpunit": DecoyFakeService,
}

// NetworkDecoys maintains a registry of honeypot paths, serves believable
// decoy bodies, and records every access. Decoy response bodies embed a
// canary marker token so an exfiltrated copy is identifiable later.
type NetworkDecoys struct {
	mu        sync.RWMutex
	registry  map[string]DecoyCategory
	markers   *boundedMap
	events    []DecoyAccessEvent
	maxEvents int
	hits      int64

	clock    Clock
	notifier AlertNotifier
	metrics  MetricsCollector
	logger   *log.Logger
}

func newNetworkDecoys(cfg Config, clock Clock, notifier AlertNotifier, metrics MetricsCollector, logger *log.Logger) *NetworkDecoys {
	registry := make(map[string]DecoyCategory, len(seedDecoys))
	for path, category := range seedDecoys {
		registry[path] = category
	}
	return &NetworkDecoys{
		registry:  registry,
		markers:   newBoundedMap(cfg.MaxDecoyEvents),
		maxEvents: cfg.MaxDecoyEvents,
		clock:     clock,
		notifier:  notifier,
		metrics:   metrics,
		logger:    orDefaultLogger(logger),
	}
}

// IsDecoy reports whether the exact path is registered as a decoy.
func (n *NetworkDecoys) IsDecoy(path string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := n.registry[path]
	return ok
}

// DecoyType returns the category of a registered decoy path.
func (n *NetworkDecoys) DecoyType(path string) (DecoyCategory, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	category, ok := n.registry[path]
	return category, ok
}

// AddDecoy registers a path at runtime.
func (n *NetworkDecoys) AddDecoy(path string, category DecoyCategory) {
	if path == "" {
		return
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	n.mu.Lock()
	n.registry[path] = category
	n.mu.Unlock()
	n.logger.Debug().Str("path", path).Str("category", string(category)).Msg("decoy registered")
}

// newMarker mints a canary token and remembers it so leaked decoy content can
// be traced back to this instance.
func (n *NetworkDecoys) newMarker() string {
	marker := "egc-" + uuid.NewString()
	n.mu.Lock()
	n.markers.Set(marker, n.clock.Now())
	n.mu.Unlock()
	return marker
}

// SeenMarker reports whether the token was minted by this registry.
func (n *NetworkDecoys) SeenMarker(token string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.markers.Peek(token)
	return ok
}

// GenerateFakeAdminPage produces a plausible admin login page with an
// embedded canary marker.
func (n *NetworkDecoys) GenerateFakeAdminPage() string {
	marker := n.newMarker()
	return fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <title>Administration - Login</title>
</head>
<body>
  <div class="login-box">
    <h1>Admin Console</h1>
    <form method="post" action="/admin/session">
      <input type="hidden" name="csrf_token" value="%s">
      <label>Username <input type="text" name="username"></label>
      <label>Password <input type="password" name="password"></label>
      <button type="submit">Sign in</button>
    </form>
    <p class="version">build 4.2.17-stable</p>
  </div>
</body>
</html>
`, marker)
}

// GenerateFakeEnv produces a believable dotenv file. Every credential in it
// is fabricated; the audit token is the canary marker.
func (n *NetworkDecoys) GenerateFakeEnv() string {
	marker := n.newMarker()
	return fmt.Sprintf(`APP_NAME=billing-api
APP_ENV=production
APP_DEBUG=false
APP_KEY=base64:kW9vO2hNqXJ4uR8tY1cFbA3mSdL6pE0zQiUwVgHxTno=
DB_CONNECTION=mysql
DB_HOST=10.40.2.18
DB_PORT=3306
DB_DATABASE=billing
DB_USERNAME=billing_rw
DB_PASSWORD=N7q!xRw2#mVd9pL
REDIS_HOST=10.40.2.21
REDIS_PASSWORD=Hs4kTbbQe81uZn
MAIL_HOST=smtp.mailgun.org
MAIL_USERNAME=postmaster@mg.example.net
MAIL_PASSWORD=b20c41c9f7e3a8d55a1c
AWS_ACCESS_KEY_ID=AKIA3X7EXAMPLEKEY9Q
AWS_SECRET_ACCESS_KEY=rTf5VqEXAMPLESECRETb83hYpW2zKjLm41nUxScA
INTERNAL_AUDIT_TOKEN=%s
`, marker)
}

// LogAccess records a DecoyAccessEvent and synchronously invokes the alert
// notifier. Notifier absence or failure never propagates; the in-memory log
// always succeeds.
func (n *NetworkDecoys) LogAccess(c *fiber.Ctx, clientID string, category DecoyCategory) DecoyAccessEvent {
	event := DecoyAccessEvent{
		ID:       uuid.NewString(),
		Time:     n.clock.Now(),
		Path:     c.Path(),
		Category: category,
		ClientID: clientID,
		HeadersDigest: fingerprintHeaders(
			c.Get(fiber.HeaderUserAgent),
			c.Get(fiber.HeaderAccept),
			c.Get(fiber.HeaderAcceptLanguage),
		),
	}

	n.mu.Lock()
	n.events = append(n.events, event)
	if len(n.events) > n.maxEvents {
		n.events = n.events[len(n.events)-n.maxEvents:]
	}
	n.hits++
	n.mu.Unlock()

	if n.metrics != nil {
		n.metrics.IncrementCounter("edgeguard_decoy_hits_total", map[string]string{"category": string(category)})
	}
	n.logger.Warn().
		Str("clientId", clientID).
		Str("path", event.Path).
		Str("category", string(category)).
		Str("headersDigest", event.HeadersDigest).
		Msg("decoy access")
	safeNotify(n.notifier, n.logger, AlertEvent{
		Type:      AlertDecoyAccess,
		IP:        clientID,
		Path:      event.Path,
		DecoyType: category,
		Time:      event.Time,
	})
	return event
}

// Events snapshots the recorded access events, newest last.
func (n *NetworkDecoys) Events() []DecoyAccessEvent {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]DecoyAccessEvent, len(n.events))
	copy(out, n.events)
	return out
}

// Hits reports the total number of decoy accesses observed.
func (n *NetworkDecoys) Hits() int64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.hits
}

// Middleware serves decoy responses for registered paths and logs every hit.
// Non-decoy requests pass through untouched.
func (n *NetworkDecoys) Middleware(resolveClientID func(*fiber.Ctx) string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		category, ok := n.DecoyType(c.Path())
		if !ok {
			return c.Next()
		}
		clientID := c.IP()
		if resolveClientID != nil {
			clientID = resolveClientID(c)
		}
		n.LogAccess(c, clientID, category)

		switch category {
		case DecoyAdminPanel:
			c.Type("html")
			return c.Status(fiber.StatusOK).SendString(n.GenerateFakeAdminPage())
		case DecoyFakeFile:
			c.Type("txt")
			return c.Status(fiber.StatusOK).SendString(n.GenerateFakeEnv())
		default:
			// Generic 404 look-alike keeps probes guessing.
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Cannot " + c.Method() + " " + c.Path(),
				"code":  "NOT_FOUND",
			})
		}
	}
}
