package edgeguard

import (
	"io"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func newTestDecoys(t *testing.T, notifier AlertNotifier) *NetworkDecoys {
	t.Helper()
	return newNetworkDecoys(DefaultConfig(), newManualClock(testStart), notifier, NewInMemoryMetricsCollector(), nil)
}

func TestSeededDecoyPaths(t *testing.T) {
	n := newTestDecoys(t, nil)
	for path, want := range seedDecoys {
		category, ok := n.DecoyType(path)
		if !ok {
			t.Fatalf("expected %s to be a decoy", path)
		}
		if category != want {
			t.Fatalf("%s: expected category %s, got %s", path, want, category)
		}
	}
	for _, path := range []string{"/", "/api/v1/orders", "/healthz", "/wp-admin/extra"} {
		if n.IsDecoy(path) {
			t.Fatalf("expected %s to pass through", path)
		}
	}
}

func TestAddDecoyNormalizesPath(t *testing.T) {
	n := newTestDecoys(t, nil)
	n.AddDecoy("secret-backup", DecoyCustom)
	if !n.IsDecoy("/secret-backup") {
		t.Fatalf("expected runtime decoy registered with leading slash")
	}
	n.AddDecoy("", DecoyCustom)
	if n.IsDecoy("/") {
		t.Fatalf("expected empty path ignored")
	}
}

var markerPattern = regexp.MustCompile(`egc-[0-9a-f-]{36}`)

func TestFakeAdminPageCarriesMarker(t *testing.T) {
	n := newTestDecoys(t, nil)
	page := n.GenerateFakeAdminPage()
	if !strings.Contains(page, "csrf_token") {
		t.Fatalf("expected a form token field in the fake admin page")
	}
	marker := markerPattern.FindString(page)
	if marker == "" {
		t.Fatalf("expected a canary marker in the page")
	}
	if !n.SeenMarker(marker) {
		t.Fatalf("expected minted marker to be recognized")
	}
	if n.SeenMarker("egc-00000000-0000-0000-0000-000000000000") {
		t.Fatalf("expected foreign marker to be rejected")
	}
}

func TestFakeEnvCarriesMarker(t *testing.T) {
	n := newTestDecoys(t, nil)
	env := n.GenerateFakeEnv()
	if !strings.Contains(env, "INTERNAL_AUDIT_TOKEN=") {
		t.Fatalf("expected audit token line in fake env")
	}
	marker := markerPattern.FindString(env)
	if marker == "" || !n.SeenMarker(marker) {
		t.Fatalf("expected recognizable canary marker, got %q", marker)
	}
}

func TestMarkersAreUnique(t *testing.T) {
	n := newTestDecoys(t, nil)
	seen := make(map[string]struct{})
	for i := 0; i < 50; i++ {
		m := n.newMarker()
		if _, dup := seen[m]; dup {
			t.Fatalf("duplicate marker %s", m)
		}
		seen[m] = struct{}{}
	}
}

func TestDecoyMiddlewareServesAdminPanel(t *testing.T) {
	notifier := &recordingNotifier{}
	n := newTestDecoys(t, notifier)

	app := fiber.New()
	app.Use(n.Middleware(nil))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("real") })

	req := httptest.NewRequest("GET", "/wp-admin", nil)
	req.Header.Set("User-Agent", "sqlmap/1.7")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected decoy to answer 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/html") {
		t.Fatalf("expected html content type, got %s", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	if !markerPattern.Match(body) {
		t.Fatalf("expected marker in decoy body")
	}

	events := notifier.byType(AlertDecoyAccess)
	if len(events) != 1 {
		t.Fatalf("expected exactly one decoy alert, got %d", len(events))
	}
	if events[0].Path != "/wp-admin" || events[0].DecoyType != DecoyAdminPanel {
		t.Fatalf("unexpected alert %+v", events[0])
	}

	recorded := n.Events()
	if len(recorded) != 1 || recorded[0].Category != DecoyAdminPanel {
		t.Fatalf("unexpected recorded events %+v", recorded)
	}
	if recorded[0].HeadersDigest == "" || recorded[0].ID == "" {
		t.Fatalf("expected populated event metadata, got %+v", recorded[0])
	}
	if n.Hits() != 1 {
		t.Fatalf("expected 1 hit, got %d", n.Hits())
	}
}

func TestDecoyMiddlewareServesFakeFile(t *testing.T) {
	n := newTestDecoys(t, nil)
	app := fiber.New()
	app.Use(n.Middleware(nil))

	resp, err := app.Test(httptest.NewRequest("GET", "/.env", nil))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200 for fake file, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "DB_PASSWORD=") {
		t.Fatalf("expected believable env body, got %q", body)
	}
}

func TestDecoyMiddlewareDefaultsToNotFound(t *testing.T) {
	n := newTestDecoys(t, nil)
	app := fiber.New()
	app.Use(n.Middleware(nil))

	resp, err := app.Test(httptest.NewRequest("GET", "/xmlrpc.php", nil))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404 look-alike, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "Cannot GET /xmlrpc.php") {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestDecoyMiddlewarePassesRealTraffic(t *testing.T) {
	notifier := &recordingNotifier{}
	n := newTestDecoys(t, notifier)
	app := fiber.New()
	app.Use(n.Middleware(nil))
	app.Get("/api/v1/orders", func(c *fiber.Ctx) error { return c.SendString("orders") })

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/orders", nil))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "orders" {
		t.Fatalf("expected real handler to run, got %q", body)
	}
	if len(notifier.all()) != 0 || n.Hits() != 0 {
		t.Fatalf("expected no decoy activity for real traffic")
	}
}

func TestDecoyEventLogIsBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDecoyEvents = 5
	n := newNetworkDecoys(cfg, newManualClock(testStart), nil, nil, nil)

	app := fiber.New()
	app.Use(n.Middleware(nil))
	for i := 0; i < 12; i++ {
		resp, err := app.Test(httptest.NewRequest("GET", "/.env", nil))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
	}
	if got := len(n.Events()); got != 5 {
		t.Fatalf("expected event log capped at 5, got %d", got)
	}
	if n.Hits() != 12 {
		t.Fatalf("expected hit counter unaffected by the cap, got %d", n.Hits())
	}
}

func TestDecoyMiddlewareUsesResolvedClientID(t *testing.T) {
	notifier := &recordingNotifier{}
	n := newTestDecoys(t, notifier)
	app := fiber.New()
	app.Use(n.Middleware(func(*fiber.Ctx) string { return "resolved-client" }))

	resp, err := app.Test(httptest.NewRequest("GET", "/admin", nil))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	events := notifier.byType(AlertDecoyAccess)
	if len(events) != 1 || events[0].IP != "resolved-client" {
		t.Fatalf("expected resolver output in alert, got %+v", events)
	}
}
