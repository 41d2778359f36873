package store_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/GabriWar/vigilant/model"
	"github.com/GabriWar/vigilant/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func mustCreateWatcher(t *testing.T, st *store.Store, name string) *model.Watcher {
	t.Helper()
	w := &model.Watcher{
		Name: name, URL: "https://example.com/" + name, Method: "GET",
		ExecutionMode: model.ExecutionManual, ComparisonMode: model.CompareHash,
	}
	if err := st.CreateWatcher(context.Background(), w); err != nil {
		t.Fatalf("create watcher %q: %v", name, err)
	}
	return w
}
