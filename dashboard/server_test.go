package dashboard_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/GabriWar/vigilant/client"
	"github.com/GabriWar/vigilant/config"
	"github.com/GabriWar/vigilant/dashboard"
	"github.com/GabriWar/vigilant/executor"
	"github.com/GabriWar/vigilant/logger"
	"github.com/GabriWar/vigilant/metrics"
	"github.com/GabriWar/vigilant/model"
	"github.com/GabriWar/vigilant/notify"
	"github.com/GabriWar/vigilant/store"
	"github.com/GabriWar/vigilant/workflow"
)

func newTestServer(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := config.DefaultConfig()
	log := logger.New(logger.LevelError)
	m := metrics.New()
	cl := client.New(cfg, nil)
	ex := executor.New(st, cl, nil, &notify.LogNotifier{Log: log}, m, log)
	runner := workflow.New(st, cl, m, log)

	srv := httptest.NewServer(dashboard.New(cfg, st, ex, runner, m, log).Handler())
	t.Cleanup(srv.Close)
	return srv, st
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func TestWatcherCRUD(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/watchers", model.Watcher{
		Name: "example", URL: "https://example.com", Method: http.MethodGet,
		ExecutionMode: model.ExecutionManual, ComparisonMode: model.CompareHash,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var created model.Watcher
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode created: %v", err)
	}
	resp.Body.Close()
	if created.ID == 0 {
		t.Fatal("created watcher has no id")
	}

	// Get it back.
	resp, err := http.Get(fmt.Sprintf("%s/api/watchers/%d", srv.URL, created.ID))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("get status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	// List contains it.
	resp, err = http.Get(srv.URL + "/api/watchers")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var list []model.Watcher
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	resp.Body.Close()
	if len(list) != 1 || list[0].Name != "example" {
		t.Errorf("list = %+v", list)
	}

	// Delete and confirm 404.
	req, _ := http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/api/watchers/%d", srv.URL, created.ID), nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp, _ = http.Get(fmt.Sprintf("%s/api/watchers/%d", srv.URL, created.ID))
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestCreateWatcherValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	// Missing URL must map to 400.
	resp := postJSON(t, srv.URL+"/api/watchers", model.Watcher{
		Name: "broken", Method: http.MethodGet,
		ExecutionMode: model.ExecutionManual, ComparisonMode: model.CompareHash,
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestDuplicateWatcherNameConflicts(t *testing.T) {
	srv, _ := newTestServer(t)

	w := model.Watcher{
		Name: "dup", URL: "https://example.com", Method: http.MethodGet,
		ExecutionMode: model.ExecutionManual, ComparisonMode: model.CompareHash,
	}
	resp := postJSON(t, srv.URL+"/api/watchers", w)
	resp.Body.Close()
	resp = postJSON(t, srv.URL+"/api/watchers", w)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

func TestRunWatcherEndpoint(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "watched content")
	}))
	defer target.Close()

	srv, st := newTestServer(t)
	resp := postJSON(t, srv.URL+"/api/watchers", model.Watcher{
		Name: "runnable", URL: target.URL, Method: http.MethodGet,
		ExecutionMode: model.ExecutionManual, ComparisonMode: model.CompareHash,
	})
	var created model.Watcher
	json.NewDecoder(resp.Body).Decode(&created) //nolint:errcheck
	resp.Body.Close()

	resp = postJSON(t, fmt.Sprintf("%s/api/watchers/%d/run", srv.URL, created.ID), map[string]bool{})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("run status = %d", resp.StatusCode)
	}
	var result struct {
		ChangeType string `json:"change_type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode run result: %v", err)
	}
	if result.ChangeType != "new" {
		t.Errorf("change_type = %q, want new", result.ChangeType)
	}

	logs, err := st.ListChangeLogs(t.Context(), store.ChangeLogFilter{WatcherID: &created.ID})
	if err != nil || len(logs) != 1 {
		t.Errorf("change logs = %v, %v", logs, err)
	}
}

func TestChangeLogEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/changelogs?change_type=modified&limit=10")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("list status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Invalid filter value maps to 400.
	resp, _ = http.Get(srv.URL + "/api/changelogs?watcher_id=notanumber")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad filter status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Compare needs at least two ids.
	resp, _ = http.Get(srv.URL + "/api/changelogs/compare?ids=1")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("compare status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp, _ = http.Get(srv.URL + "/api/changelogs/statistics?group_by=day")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("statistics status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestMetricsAndCookieStats(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	var m map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		t.Fatalf("decode metrics: %v", err)
	}
	resp.Body.Close()
	for _, key := range []string{"checks", "changes", "errors", "workflow_runs"} {
		if _, ok := m[key]; !ok {
			t.Errorf("metrics missing %q", key)
		}
	}

	resp, err = http.Get(srv.URL + "/api/cookies/stats")
	if err != nil {
		t.Fatalf("cookie stats: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("cookie stats status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestWorkflowEndpoints(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"v":"1"}`)
	}))
	defer target.Close()

	srv, _ := newTestServer(t)
	resp := postJSON(t, srv.URL+"/api/watchers", model.Watcher{
		Name: "step", URL: target.URL, Method: http.MethodGet,
		ExecutionMode: model.ExecutionManual, ComparisonMode: model.CompareHash,
	})
	var w model.Watcher
	json.NewDecoder(resp.Body).Decode(&w) //nolint:errcheck
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/api/workflows", model.Workflow{
		Name:  "single step",
		Steps: []model.WorkflowStep{{Order: 1, WatcherID: w.ID}},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create workflow status = %d", resp.StatusCode)
	}
	var wf model.Workflow
	json.NewDecoder(resp.Body).Decode(&wf) //nolint:errcheck
	resp.Body.Close()

	resp = postJSON(t, fmt.Sprintf("%s/api/workflows/%d/execute", srv.URL, wf.ID), map[string]bool{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("execute status = %d", resp.StatusCode)
	}
	var exec model.WorkflowExecution
	if err := json.NewDecoder(resp.Body).Decode(&exec); err != nil {
		t.Fatalf("decode execution: %v", err)
	}
	resp.Body.Close()
	if exec.Status != model.WorkflowSuccess {
		t.Errorf("execution status = %s", exec.Status)
	}

	resp, err := http.Get(fmt.Sprintf("%s/api/workflows/%d/executions", srv.URL, wf.ID))
	if err != nil {
		t.Fatalf("list executions: %v", err)
	}
	var execs []model.WorkflowExecution
	if err := json.NewDecoder(resp.Body).Decode(&execs); err != nil {
		t.Fatalf("decode executions: %v", err)
	}
	resp.Body.Close()
	if len(execs) != 1 {
		t.Errorf("executions = %d, want 1", len(execs))
	}
}
