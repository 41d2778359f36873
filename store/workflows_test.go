package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/GabriWar/vigilant/model"
	"github.com/GabriWar/vigilant/store"
)

func mustCreateWorkflow(t *testing.T, st *store.Store, name string, steps ...model.WorkflowStep) *model.Workflow {
	t.Helper()
	wf := &model.Workflow{Name: name, Steps: steps}
	if err := st.CreateWorkflow(context.Background(), wf); err != nil {
		t.Fatalf("create workflow %q: %v", name, err)
	}
	return wf
}

func TestWorkflowRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	w := mustCreateWatcher(t, st, "stepped")
	wf := mustCreateWorkflow(t, st, "login-flow",
		model.WorkflowStep{Order: 1, WatcherID: w.ID, ExtractVariables: []string{"token"}},
		model.WorkflowStep{Order: 2, WatcherID: w.ID, ContinueOnError: true},
	)

	got, err := st.GetWorkflow(ctx, wf.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "login-flow" || len(got.Steps) != 2 {
		t.Errorf("got %+v", got)
	}
	if got.Steps[0].ExtractVariables[0] != "token" || !got.Steps[1].ContinueOnError {
		t.Errorf("steps = %+v", got.Steps)
	}

	got.ScheduleEnabled = true
	got.ScheduleInterval = 600
	if err := st.UpdateWorkflow(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	scheduled, err := st.ListScheduledWorkflows(ctx)
	if err != nil || len(scheduled) != 1 {
		t.Errorf("scheduled = %d, %v", len(scheduled), err)
	}

	if err := st.DeleteWorkflow(ctx, wf.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := st.GetWorkflow(ctx, wf.ID); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("get after delete = %v, want ErrNotFound", err)
	}
}

func TestWorkflowValidation(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	w := mustCreateWatcher(t, st, "for-steps")
	tests := []struct {
		name string
		wf   model.Workflow
	}{
		{"no steps", model.Workflow{Name: "empty"}},
		{"duplicate order", model.Workflow{Name: "dup", Steps: []model.WorkflowStep{
			{Order: 1, WatcherID: w.ID}, {Order: 1, WatcherID: w.ID},
		}}},
		{"order gap", model.Workflow{Name: "gap", Steps: []model.WorkflowStep{
			{Order: 1, WatcherID: w.ID}, {Order: 3, WatcherID: w.ID},
		}}},
	}
	for _, tt := range tests {
		if err := st.CreateWorkflow(ctx, &tt.wf); !errors.Is(err, model.ErrValidation) {
			t.Errorf("%s: err = %v, want ErrValidation", tt.name, err)
		}
	}
}

func TestVariableLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	w := mustCreateWatcher(t, st, "var-src")
	wf := mustCreateWorkflow(t, st, "vars", model.WorkflowStep{Order: 1, WatcherID: w.ID})

	v := &model.Variable{
		WorkflowID: wf.ID, Name: "token",
		Source: model.SourceResponseBody, ExtractMethod: model.ExtractJSONPath,
		ExtractPattern: "auth.token",
	}
	if err := st.CreateVariable(ctx, v); err != nil {
		t.Fatalf("create variable: %v", err)
	}

	// Same name in the same workflow conflicts.
	dup := *v
	dup.ID = 0
	if err := st.CreateVariable(ctx, &dup); !errors.Is(err, model.ErrConflict) {
		t.Errorf("duplicate = %v, want ErrConflict", err)
	}

	vars, err := st.ListVariables(ctx, wf.ID)
	if err != nil || len(vars) != 1 || vars[0].Name != "token" {
		t.Errorf("list = %v, %v", vars, err)
	}

	if err := st.DeleteVariable(ctx, v.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := st.DeleteVariable(ctx, v.ID); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("second delete = %v, want ErrNotFound", err)
	}
}

func TestExecutionLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	w := mustCreateWatcher(t, st, "exec-src")
	wf := mustCreateWorkflow(t, st, "exec", model.WorkflowStep{Order: 1, WatcherID: w.ID})
	v := &model.Variable{
		WorkflowID: wf.ID, Name: "token",
		Source: model.SourceResponseBody, ExtractMethod: model.ExtractFullBody,
	}
	if err := st.CreateVariable(ctx, v); err != nil {
		t.Fatalf("create variable: %v", err)
	}

	e := &model.WorkflowExecution{WorkflowID: wf.ID, StepsTotal: 1}
	if err := st.CreateExecution(ctx, e); err != nil {
		t.Fatalf("create execution: %v", err)
	}
	if e.Status != model.WorkflowRunning {
		t.Errorf("status = %q, want running", e.Status)
	}

	running, err := st.HasRunningExecution(ctx, wf.ID)
	if err != nil || !running {
		t.Errorf("HasRunningExecution = %v, %v", running, err)
	}

	e.StepsCompleted = 1
	e.StepResults = []model.StepResult{{
		Order: 1, WatcherID: w.ID, Status: "success", ResponseStatus: 200,
		VariablesExtracted: map[string]string{"token": "tok-1"},
	}}
	if err := st.RecordStepExtractions(ctx, e, map[string]string{"token": "tok-1"}); err != nil {
		t.Fatalf("record step: %v", err)
	}
	vars, _ := st.ListVariables(ctx, wf.ID)
	if vars[0].CurrentValue != "tok-1" || vars[0].LastExtractedAt == nil {
		t.Errorf("variable after step = %+v", vars[0])
	}

	e.Status = model.WorkflowSuccess
	e.VariablesExtracted = map[string]string{"token": "tok-1"}
	e.DurationSeconds = 0.5
	if err := st.CompleteExecution(ctx, e); err != nil {
		t.Fatalf("complete: %v", err)
	}

	running, _ = st.HasRunningExecution(ctx, wf.ID)
	if running {
		t.Error("execution still reported running after completion")
	}

	gotWf, _ := st.GetWorkflow(ctx, wf.ID)
	if gotWf.ExecutionCount != 1 || gotWf.SuccessCount != 1 || gotWf.FailureCount != 0 {
		t.Errorf("counters = %d/%d/%d", gotWf.ExecutionCount, gotWf.SuccessCount, gotWf.FailureCount)
	}
	if gotWf.LastExecutionStatus != model.WorkflowSuccess || gotWf.LastExecutedAt == nil {
		t.Errorf("last execution = %q %v", gotWf.LastExecutionStatus, gotWf.LastExecutedAt)
	}

	execs, err := st.ListExecutions(ctx, wf.ID, 10)
	if err != nil || len(execs) != 1 {
		t.Fatalf("executions = %d, %v", len(execs), err)
	}
	got := execs[0]
	if got.Status != model.WorkflowSuccess || got.StepsCompleted != 1 || got.CompletedAt == nil {
		t.Errorf("execution = %+v", got)
	}
	if got.VariablesExtracted["token"] != "tok-1" {
		t.Errorf("variables = %v", got.VariablesExtracted)
	}
	if len(got.StepResults) != 1 || got.StepResults[0].ResponseStatus != 200 {
		t.Errorf("step results = %+v", got.StepResults)
	}
}
