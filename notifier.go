package edgeguard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/oarkflow/log"
)

// AlertType discriminates the events forwarded to the alert notifier.
type AlertType string

const (
	AlertIPBanned    AlertType = "ip_banned"
	AlertDecoyAccess AlertType = "DECOY_ACCESS"
	AlertAnomaly     AlertType = "anomaly"
)

// AlertEvent is the structured payload handed to notifiers. Only the fields
// relevant to the event type are populated.
type AlertEvent struct {
	Type      AlertType     `json:"type"`
	IP        string        `json:"ip,omitempty"`
	Path      string        `json:"path,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	DecoyType DecoyCategory `json:"decoyType,omitempty"`
	Metric    string        `json:"metric,omitempty"`
	Observed  float64       `json:"observed,omitempty"`
	Baseline  float64       `json:"baseline,omitempty"`
	Time      time.Time     `json:"time"`
}

// AlertNotifier receives security events (bans, decoy hits, anomalies).
// Implementations own delivery semantics; they are invoked synchronously from
// the request path and must hand slow work to their own goroutines.
type AlertNotifier interface {
	Notify(event AlertEvent)
}

// NotifierFunc adapts a function to the AlertNotifier interface.
type NotifierFunc func(AlertEvent)

func (f NotifierFunc) Notify(event AlertEvent) { f(event) }

// MultiNotifier fans one event out to several notifiers in order.
type MultiNotifier []AlertNotifier

func (m MultiNotifier) Notify(event AlertEvent) {
	for _, n := range m {
		if n != nil {
			n.Notify(event)
		}
	}
}

// safeNotify invokes the notifier and contains any panic. Notifier failures
// never skip or reverse a security decision.
func safeNotify(n AlertNotifier, logger *log.Logger, event AlertEvent) {
	if n == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			orDefaultLogger(logger).Error().
				Str("alertType", string(event.Type)).
				Msgf("alert notifier panicked: %v", r)
		}
	}()
	n.Notify(event)
}

// LogNotifier writes alert events to the structured log.
type LogNotifier struct {
	Logger *log.Logger
}

func (n *LogNotifier) Notify(event AlertEvent) {
	entry := orDefaultLogger(n.Logger).Warn().
		Str("alertType", string(event.Type)).
		Str("ip", event.IP)
	switch event.Type {
	case AlertDecoyAccess:
		entry = entry.Str("path", event.Path).Str("decoyType", string(event.DecoyType))
	case AlertAnomaly:
		entry = entry.Str("metric", event.Metric).
			Float64("observed", event.Observed).
			Float64("baseline", event.Baseline)
	default:
		entry = entry.Str("reason", event.Reason)
	}
	entry.Msg("security alert")
}

// WebhookNotifier POSTs alert events as JSON to a webhook URL. Delivery runs
// on its own goroutine so a slow or failing endpoint never delays the HTTP
// response; failures are logged and swallowed.
type WebhookNotifier struct {
	URL     string
	Client  *http.Client
	Logger  *log.Logger
	Timeout time.Duration
}

func NewWebhookNotifier(url string, logger *log.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		URL:     url,
		Client:  &http.Client{Timeout: 10 * time.Second},
		Logger:  orDefaultLogger(logger),
		Timeout: 15 * time.Second,
	}
}

func (n *WebhookNotifier) Notify(event AlertEvent) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout())
		defer cancel()
		if err := n.send(ctx, event); err != nil {
			orDefaultLogger(n.Logger).Warn().
				Str("url", n.URL).
				Str("alertType", string(event.Type)).
				Err(err).
				Msg("webhook alert delivery failed")
		}
	}()
}

func (n *WebhookNotifier) timeout() time.Duration {
	if n.Timeout > 0 {
		return n.Timeout
	}
	return 15 * time.Second
}

func (n *WebhookNotifier) send(ctx context.Context, event AlertEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "EdgeGuard-Alert/1.0")

	client := n.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned non-2xx status code: %d", resp.StatusCode)
	}
	return nil
}
