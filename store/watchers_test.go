package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/GabriWar/vigilant/model"
	"github.com/GabriWar/vigilant/store"
)

func TestWatcherRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	cookieOwner := mustCreateWatcher(t, st, "owner")
	w := &model.Watcher{
		Name:   "full",
		URL:    "https://example.com/api",
		Method: "POST",
		Headers: []model.HeaderPair{
			{Name: "Content-Type", Value: "application/json"},
			{Name: "X-Token", Value: "[[token]]"},
		},
		Body:            []byte(`{"q":"[[term]]"}`),
		ExecutionMode:   model.ExecutionBoth,
		WatchInterval:   300,
		IsActive:        true,
		SaveCookies:     true,
		UseCookies:      true,
		CookieWatcherID: &cookieOwner.ID,
		ComparisonMode:  model.CompareContentAware,
		SolveChallenges: true,
	}
	if err := st.CreateWatcher(ctx, w); err != nil {
		t.Fatalf("create: %v", err)
	}
	if w.ID == 0 {
		t.Fatal("create did not assign an id")
	}

	got, err := st.GetWatcher(ctx, w.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "full" || got.Method != "POST" || got.WatchInterval != 300 {
		t.Errorf("got %+v", got)
	}
	if len(got.Headers) != 2 || got.Headers[1].Name != "X-Token" {
		t.Errorf("headers = %+v", got.Headers)
	}
	if string(got.Body) != `{"q":"[[term]]"}` {
		t.Errorf("body = %q", got.Body)
	}
	if got.CookieWatcherID == nil || *got.CookieWatcherID != cookieOwner.ID {
		t.Errorf("cookie_watcher_id = %v", got.CookieWatcherID)
	}
	if got.Status != model.StatusPending {
		t.Errorf("status = %q, want pending", got.Status)
	}

	byName, err := st.GetWatcherByName(ctx, "full")
	if err != nil || byName.ID != w.ID {
		t.Errorf("GetWatcherByName = %v, %v", byName, err)
	}
}

func TestWatcherValidation(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name string
		w    model.Watcher
	}{
		{"missing url", model.Watcher{Name: "a", Method: "GET",
			ExecutionMode: model.ExecutionManual, ComparisonMode: model.CompareHash}},
		{"missing name", model.Watcher{URL: "https://x", Method: "GET",
			ExecutionMode: model.ExecutionManual, ComparisonMode: model.CompareHash}},
		{"bad mode", model.Watcher{Name: "a", URL: "https://x", Method: "GET",
			ExecutionMode: "sometimes", ComparisonMode: model.CompareHash}},
		{"scheduled without interval", model.Watcher{Name: "a", URL: "https://x",
			Method: "GET", ExecutionMode: model.ExecutionScheduled,
			ComparisonMode: model.CompareHash}},
	}
	for _, tt := range tests {
		err := st.CreateWatcher(ctx, &tt.w)
		if !errors.Is(err, model.ErrValidation) {
			t.Errorf("%s: err = %v, want ErrValidation", tt.name, err)
		}
	}
}

func TestWatcherNameConflict(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	mustCreateWatcher(t, st, "taken")
	dup := &model.Watcher{
		Name: "taken", URL: "https://example.com/other", Method: "GET",
		ExecutionMode: model.ExecutionManual, ComparisonMode: model.CompareHash,
	}
	if err := st.CreateWatcher(ctx, dup); !errors.Is(err, model.ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}
}

func TestUpdateWatcherPreservesCounters(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	w := mustCreateWatcher(t, st, "counted")
	log := &model.ChangeLog{WatcherID: w.ID, ChangeType: model.ChangeNew}
	snap := &model.Snapshot{Content: []byte("v1"), ContentHash: "h1", ContentSize: 2}
	if err := st.ApplyDetection(ctx, log, snap); err != nil {
		t.Fatalf("apply detection: %v", err)
	}

	w.URL = "https://example.com/moved"
	if err := st.UpdateWatcher(ctx, w); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := st.GetWatcher(ctx, w.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.URL != "https://example.com/moved" {
		t.Errorf("url = %q", got.URL)
	}
	if got.CheckCount != 1 || got.ChangeCount != 1 {
		t.Errorf("counters = %d/%d, want 1/1", got.CheckCount, got.ChangeCount)
	}
}

func TestDeleteWatcherCascades(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	w := mustCreateWatcher(t, st, "doomed")
	if err := st.ReplaceCookies(ctx, w.ID, []model.Cookie{{Name: "sid", Value: "1"}}); err != nil {
		t.Fatalf("replace cookies: %v", err)
	}
	log := &model.ChangeLog{WatcherID: w.ID, ChangeType: model.ChangeNew}
	snap := &model.Snapshot{Content: []byte("x"), ContentHash: "h", ContentSize: 1}
	if err := st.ApplyDetection(ctx, log, snap); err != nil {
		t.Fatalf("apply detection: %v", err)
	}

	if err := st.DeleteWatcher(ctx, w.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := st.GetWatcher(ctx, w.ID); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("get after delete = %v, want ErrNotFound", err)
	}
	if _, err := st.GetSnapshot(ctx, w.ID); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("snapshot after delete = %v, want ErrNotFound", err)
	}
	cookies, err := st.GetCookies(ctx, w.ID)
	if err != nil || len(cookies) != 0 {
		t.Errorf("cookies after delete = %v, %v", cookies, err)
	}
	logs, err := st.ListChangeLogs(ctx, store.ChangeLogFilter{WatcherID: &w.ID})
	if err != nil || len(logs) != 0 {
		t.Errorf("change logs after delete = %d, %v", len(logs), err)
	}

	if err := st.DeleteWatcher(ctx, w.ID); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("second delete = %v, want ErrNotFound", err)
	}
}

func TestListSchedulableWatchers(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	watchers := []*model.Watcher{
		{Name: "sched", URL: "https://x/1", Method: "GET", IsActive: true,
			ExecutionMode: model.ExecutionScheduled, WatchInterval: 60,
			ComparisonMode: model.CompareHash},
		{Name: "both", URL: "https://x/2", Method: "GET", IsActive: true,
			ExecutionMode: model.ExecutionBoth, WatchInterval: 60,
			ComparisonMode: model.CompareHash},
		{Name: "manual", URL: "https://x/3", Method: "GET", IsActive: true,
			ExecutionMode: model.ExecutionManual, ComparisonMode: model.CompareHash},
		{Name: "paused", URL: "https://x/4", Method: "GET", IsActive: false,
			ExecutionMode: model.ExecutionScheduled, WatchInterval: 60,
			ComparisonMode: model.CompareHash},
	}
	for _, w := range watchers {
		if err := st.CreateWatcher(ctx, w); err != nil {
			t.Fatalf("create %q: %v", w.Name, err)
		}
	}

	got, err := st.ListSchedulableWatchers(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("schedulable = %d, want 2", len(got))
	}
	if got[0].Name != "sched" || got[1].Name != "both" {
		t.Errorf("schedulable = %q, %q", got[0].Name, got[1].Name)
	}
}

func TestSetWatcherStatus(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	w := mustCreateWatcher(t, st, "status")
	if err := st.SetWatcherStatus(ctx, w.ID, model.StatusError, "boom"); err != nil {
		t.Fatalf("set status: %v", err)
	}
	got, _ := st.GetWatcher(ctx, w.ID)
	if got.Status != model.StatusError || got.ErrorMessage != "boom" {
		t.Errorf("status = %q %q", got.Status, got.ErrorMessage)
	}

	if err := st.SetWatcherStatus(ctx, w.ID, model.StatusSuccess, ""); err != nil {
		t.Fatalf("clear status: %v", err)
	}
	got, _ = st.GetWatcher(ctx, w.ID)
	if got.Status != model.StatusSuccess || got.ErrorMessage != "" {
		t.Errorf("cleared status = %q %q", got.Status, got.ErrorMessage)
	}

	if err := st.SetWatcherStatus(ctx, 9999, model.StatusRunning, ""); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("missing watcher = %v, want ErrNotFound", err)
	}
}
