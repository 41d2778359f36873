package notify_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/GabriWar/vigilant/logger"
	"github.com/GabriWar/vigilant/notify"
)

func TestWebhookNotifierDelivers(t *testing.T) {
	received := make(chan notify.Event, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("Content-Type = %q", got)
		}
		var e notify.Event
		if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
			t.Errorf("decode event: %v", err)
		}
		received <- e
	}))
	defer srv.Close()

	n := notify.NewWebhookNotifier(srv.URL, logger.New(logger.LevelError))
	n.Notify(context.Background(), notify.WatcherChanged(7, "price page", "modified", 1234))

	e := <-received
	if e.Kind != notify.KindWatcherChanged {
		t.Errorf("kind = %q", e.Kind)
	}
	if e.WatcherID != 7 || e.ChangeType != "modified" || e.NewSize != 1234 {
		t.Errorf("event = %+v", e)
	}
	if e.OccurredAt.IsZero() {
		t.Error("occurred_at not set")
	}
}

func TestWebhookNotifierToleratesFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	n := notify.NewWebhookNotifier(srv.URL, logger.New(logger.LevelError))
	// Must not panic or return; delivery is at most once.
	n.Notify(context.Background(), notify.CookieExpiring(3, 2, nil))

	// Unreachable endpoint is likewise tolerated.
	n = notify.NewWebhookNotifier("http://127.0.0.1:1/", logger.New(logger.LevelError))
	n.Notify(context.Background(), notify.CookieExpiring(3, 2, nil))
}

func TestLogNotifier(t *testing.T) {
	n := &notify.LogNotifier{Log: logger.New(logger.LevelError)}
	n.Notify(context.Background(), notify.WatcherChanged(1, "w", "new", 10))
	n.Notify(context.Background(), notify.CookieExpiring(1, 1, nil))
}
