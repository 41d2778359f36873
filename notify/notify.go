// Package notify delivers engine events to operators.  Events are advisory
// and delivered at most once: a failed delivery is logged and dropped, never
// retried, so notification trouble can not stall the scheduler or the
// executor.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/GabriWar/vigilant/logger"
)

// Event kinds.
const (
	KindWatcherChanged = "watcher_changed"
	KindCookieExpiring = "cookie_expiring"
)

// Event is one notification payload.
type Event struct {
	Kind       string    `json:"kind"`
	OccurredAt time.Time `json:"occurred_at"`

	// watcher_changed fields.
	WatcherID   int64  `json:"watcher_id,omitempty"`
	WatcherName string `json:"watcher_name,omitempty"`
	ChangeType  string `json:"change_type,omitempty"`
	NewSize     int64  `json:"new_size,omitempty"`

	// cookie_expiring fields.
	CookieCount    int        `json:"cookie_count,omitempty"`
	EarliestExpiry *time.Time `json:"earliest_expiry,omitempty"`
}

// WatcherChanged builds a watcher_changed event.
func WatcherChanged(watcherID int64, name, changeType string, newSize int64) Event {
	return Event{
		Kind:        KindWatcherChanged,
		OccurredAt:  time.Now().UTC(),
		WatcherID:   watcherID,
		WatcherName: name,
		ChangeType:  changeType,
		NewSize:     newSize,
	}
}

// CookieExpiring builds a cookie_expiring event for one watcher's cookie set.
func CookieExpiring(watcherID int64, count int, earliest *time.Time) Event {
	return Event{
		Kind:           KindCookieExpiring,
		OccurredAt:     time.Now().UTC(),
		WatcherID:      watcherID,
		CookieCount:    count,
		EarliestExpiry: earliest,
	}
}

// Notifier delivers events.  Implementations must be safe for concurrent
// use and must never block longer than their own internal timeout.
type Notifier interface {
	Notify(ctx context.Context, e Event)
}

// LogNotifier writes every event to the engine log.
type LogNotifier struct {
	Log *logger.Logger
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(_ context.Context, e Event) {
	switch e.Kind {
	case KindWatcherChanged:
		n.Log.Infof("notify: watcher %d (%s) %s, new size %d", e.WatcherID, e.WatcherName, e.ChangeType, e.NewSize)
	case KindCookieExpiring:
		n.Log.Warnf("notify: watcher %d has %d cookies expiring soon (earliest %v)", e.WatcherID, e.CookieCount, e.EarliestExpiry)
	default:
		n.Log.Infof("notify: %s event for watcher %d", e.Kind, e.WatcherID)
	}
}

// WebhookNotifier POSTs each event as JSON to a configured URL and also logs
// it.  Delivery is at most once; failures are logged at WARN and dropped.
type WebhookNotifier struct {
	URL    string
	Log    *logger.Logger
	Client *http.Client
}

// NewWebhookNotifier builds a WebhookNotifier with a short dedicated client
// timeout so a slow webhook endpoint can not hold up callers.
func NewWebhookNotifier(url string, log *logger.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		URL:    url,
		Log:    log,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Notify implements Notifier.
func (n *WebhookNotifier) Notify(ctx context.Context, e Event) {
	(&LogNotifier{Log: n.Log}).Notify(ctx, e)

	body, err := json.Marshal(e)
	if err != nil {
		n.Log.Warnf("notify: marshal %s event: %v", e.Kind, err)
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		n.Log.Warnf("notify: build webhook request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.Client.Do(req)
	if err != nil {
		n.Log.Warnf("notify: deliver %s event: %v", e.Kind, err)
		return
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode >= 400 {
		n.Log.Warn(fmt.Sprintf("notify: webhook answered %d for %s event", resp.StatusCode, e.Kind))
	}
}
