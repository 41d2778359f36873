package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/GabriWar/vigilant/model"
	"github.com/GabriWar/vigilant/store"
)

func applyNew(t *testing.T, st *store.Store, watcherID int64, content string) *model.ChangeLog {
	t.Helper()
	size := int64(len(content))
	log := &model.ChangeLog{
		WatcherID: watcherID, ChangeType: model.ChangeNew,
		NewHash: "hash-" + content, NewSize: &size, NewContent: []byte(content),
	}
	snap := &model.Snapshot{
		Content: []byte(content), ContentHash: "hash-" + content, ContentSize: size,
	}
	if err := st.ApplyDetection(context.Background(), log, snap); err != nil {
		t.Fatalf("apply detection: %v", err)
	}
	return log
}

func TestApplyDetectionAdvancesCounters(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	w := mustCreateWatcher(t, st, "counters")
	applyNew(t, st, w.ID, "v1")

	// An unchanged observation: nil snapshot, check advances, change does not.
	unchanged := &model.ChangeLog{WatcherID: w.ID, ChangeType: model.ChangeUnchanged}
	if err := st.ApplyDetection(ctx, unchanged, nil); err != nil {
		t.Fatalf("apply unchanged: %v", err)
	}

	got, err := st.GetWatcher(ctx, w.ID)
	if err != nil {
		t.Fatalf("get watcher: %v", err)
	}
	if got.CheckCount != 2 || got.ChangeCount != 1 {
		t.Errorf("counters = %d/%d, want 2/1", got.CheckCount, got.ChangeCount)
	}
	if got.Status != model.StatusSuccess {
		t.Errorf("status = %q", got.Status)
	}
	if got.LastCheckedAt == nil || got.LastChangedAt == nil {
		t.Error("timestamps not set")
	}

	// The snapshot still holds the v1 content.
	snap, err := st.GetSnapshot(ctx, w.ID)
	if err != nil {
		t.Fatalf("get snapshot: %v", err)
	}
	if string(snap.Content) != "v1" {
		t.Errorf("snapshot = %q, want v1", snap.Content)
	}
}

func TestRecordErrorRun(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	w := mustCreateWatcher(t, st, "failing")
	applyNew(t, st, w.ID, "good")

	if err := st.RecordErrorRun(ctx, w.ID, "HTTP 502", []byte("bad gateway")); err != nil {
		t.Fatalf("record error: %v", err)
	}

	got, _ := st.GetWatcher(ctx, w.ID)
	if got.Status != model.StatusError || got.ErrorMessage != "HTTP 502" {
		t.Errorf("status = %q %q", got.Status, got.ErrorMessage)
	}
	if got.CheckCount != 2 || got.ChangeCount != 1 {
		t.Errorf("counters = %d/%d, want 2/1", got.CheckCount, got.ChangeCount)
	}

	// The snapshot keeps the last good content.
	snap, err := st.GetSnapshot(ctx, w.ID)
	if err != nil || string(snap.Content) != "good" {
		t.Errorf("snapshot = %v, %v", snap, err)
	}

	errType := model.ChangeError
	logs, err := st.ListChangeLogs(ctx, store.ChangeLogFilter{WatcherID: &w.ID, ChangeType: &errType})
	if err != nil || len(logs) != 1 {
		t.Fatalf("error logs = %d, %v", len(logs), err)
	}
	if string(logs[0].NewContent) != "bad gateway" {
		t.Errorf("error body = %q", logs[0].NewContent)
	}
}

func TestListChangeLogsFilters(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	a := mustCreateWatcher(t, st, "filter-a")
	b := mustCreateWatcher(t, st, "filter-b")
	applyNew(t, st, a.ID, "aaaa")
	applyNew(t, st, b.ID, "bb")

	mod := &model.ChangeLog{
		WatcherID: a.ID, ChangeType: model.ChangeModified,
		Diff: "--- old\n+++ new\n-aaaa\n+cccc\n",
	}
	size := int64(4)
	mod.NewSize = &size
	if err := st.ApplyDetection(ctx, mod, &model.Snapshot{Content: []byte("cccc"), ContentHash: "h", ContentSize: 4}); err != nil {
		t.Fatalf("apply modified: %v", err)
	}

	byWatcher, err := st.ListChangeLogs(ctx, store.ChangeLogFilter{WatcherID: &a.ID})
	if err != nil || len(byWatcher) != 2 {
		t.Errorf("by watcher = %d, %v", len(byWatcher), err)
	}

	modified := model.ChangeModified
	byType, err := st.ListChangeLogs(ctx, store.ChangeLogFilter{ChangeType: &modified})
	if err != nil || len(byType) != 1 {
		t.Errorf("by type = %d, %v", len(byType), err)
	}

	bySearch, err := st.ListChangeLogs(ctx, store.ChangeLogFilter{Search: "+cccc"})
	if err != nil || len(bySearch) != 1 {
		t.Errorf("by search = %d, %v", len(bySearch), err)
	}

	minSize := int64(3)
	bySize, err := st.ListChangeLogs(ctx, store.ChangeLogFilter{MinSize: &minSize})
	if err != nil || len(bySize) != 2 {
		t.Errorf("by min size = %d, %v", len(bySize), err)
	}

	paged, err := st.ListChangeLogs(ctx, store.ChangeLogFilter{Limit: 1, Offset: 1})
	if err != nil || len(paged) != 1 {
		t.Errorf("paged = %d, %v", len(paged), err)
	}

	if _, err := st.ListChangeLogs(ctx, store.ChangeLogFilter{OrderBy: "diff"}); !errors.Is(err, model.ErrValidation) {
		t.Errorf("bad order_by = %v, want ErrValidation", err)
	}
	if _, err := st.ListChangeLogs(ctx, store.ChangeLogFilter{Direction: "sideways"}); !errors.Is(err, model.ErrValidation) {
		t.Errorf("bad direction = %v, want ErrValidation", err)
	}
}

func TestCompareChangeLogs(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	w := mustCreateWatcher(t, st, "compare")
	l1 := applyNew(t, st, w.ID, "one")
	unchanged := &model.ChangeLog{WatcherID: w.ID, ChangeType: model.ChangeUnchanged}
	if err := st.ApplyDetection(ctx, unchanged, nil); err != nil {
		t.Fatalf("apply: %v", err)
	}

	got, err := st.CompareChangeLogs(ctx, []int64{l1.ID, unchanged.ID})
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if len(got) != 2 || got[0].ID != l1.ID {
		t.Errorf("compare order = %+v", got)
	}

	if _, err := st.CompareChangeLogs(ctx, []int64{l1.ID}); !errors.Is(err, model.ErrValidation) {
		t.Errorf("one id = %v, want ErrValidation", err)
	}
	if _, err := st.CompareChangeLogs(ctx, []int64{l1.ID, 9999}); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("missing id = %v, want ErrNotFound", err)
	}
}

func TestChangeLogStatistics(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	busy := mustCreateWatcher(t, st, "busy")
	quiet := mustCreateWatcher(t, st, "quiet")
	applyNew(t, st, busy.ID, "first")
	applyNew(t, st, quiet.ID, "only")

	size := int64(6)
	mod := &model.ChangeLog{WatcherID: busy.ID, ChangeType: model.ChangeModified, NewSize: &size}
	if err := st.ApplyDetection(ctx, mod, &model.Snapshot{Content: []byte("second"), ContentHash: "h2", ContentSize: 6}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	stats, err := st.ChangeLogStatistics(ctx, store.StatisticsQuery{GroupBy: "day"})
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if stats.Total != 3 {
		t.Errorf("total = %d, want 3", stats.Total)
	}
	if stats.ByType["new"] != 2 || stats.ByType["modified"] != 1 {
		t.Errorf("by_type = %v", stats.ByType)
	}
	if len(stats.Frequency) != 1 || stats.Frequency[0].Count != 3 {
		t.Errorf("frequency = %v", stats.Frequency)
	}
	if len(stats.TopWatchers) != 2 || stats.TopWatchers[0].WatcherID != busy.ID {
		t.Errorf("top watchers = %v", stats.TopWatchers)
	}
	if stats.TopWatchers[0].Changes != 2 {
		t.Errorf("busy changes = %d, want 2", stats.TopWatchers[0].Changes)
	}

	if _, err := st.ChangeLogStatistics(ctx, store.StatisticsQuery{GroupBy: "hour"}); !errors.Is(err, model.ErrValidation) {
		t.Errorf("bad group_by = %v, want ErrValidation", err)
	}
}
