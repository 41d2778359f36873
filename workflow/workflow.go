// Package workflow executes multi-step workflows: ordered, parameterised
// requests sharing a variable context, where each step can extract values
// from its response for the steps after it.
//
// A step references a watcher only as its request template.  The step issues
// the request directly through the HTTP client; it never runs change
// detection and never touches the watcher's snapshot, counters, or status.
package workflow

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/GabriWar/vigilant/client"
	"github.com/GabriWar/vigilant/logger"
	"github.com/GabriWar/vigilant/metrics"
	"github.com/GabriWar/vigilant/model"
	"github.com/GabriWar/vigilant/store"
	"github.com/GabriWar/vigilant/variable"
)

// Runner executes workflows.  Safe for concurrent use across different
// workflows; the scheduler refuses concurrent executions of the same one.
type Runner struct {
	store   *store.Store
	client  *client.Client
	metrics *metrics.Metrics
	log     *logger.Logger
}

// New builds a Runner on top of the HTTP client.
func New(st *store.Store, cl *client.Client, m *metrics.Metrics, log *logger.Logger) *Runner {
	return &Runner{store: st, client: cl, metrics: m, log: log}
}

// Execute runs every step of wf in order and returns the finished execution
// record.  overrides are caller-supplied variable values layered over the
// workflow's static seeds; extracted values layer over both as steps
// progress.
//
// Status semantics: success when every step succeeded; failed when a step
// without continue_on_error failed (later steps are skipped) or when every
// step failed; partial when some but not all steps failed.
func (r *Runner) Execute(ctx context.Context, wf *model.Workflow, overrides map[string]string) (*model.WorkflowExecution, error) {
	r.metrics.IncrementWorkflowRuns()
	start := time.Now()

	vars, err := r.store.ListVariables(ctx, wf.ID)
	if err != nil {
		return nil, err
	}
	varsByName := make(map[string]*model.Variable, len(vars))
	values := make(map[string]string)
	for _, v := range vars {
		varsByName[v.Name] = v
		// Static variables need no response; they seed the context up front.
		if v.Source == model.SourceStatic {
			values[v.Name] = v.StaticValue
		}
	}
	for name, val := range overrides {
		values[name] = val
	}

	steps := append([]model.WorkflowStep{}, wf.Steps...)
	sort.Slice(steps, func(i, j int) bool { return steps[i].Order < steps[j].Order })

	exec := &model.WorkflowExecution{
		WorkflowID:         wf.ID,
		StepsTotal:         len(steps),
		VariablesExtracted: make(map[string]string),
	}
	if err := r.store.CreateExecution(ctx, exec); err != nil {
		return nil, err
	}
	r.log.Infof("workflow: %q (%d) started, %d steps", wf.Name, wf.ID, len(steps))

	var (
		failed  int
		stopped bool
	)
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			exec.ErrorMessage = fmt.Sprintf("step %d: %v", step.Order, model.ErrCancelled)
			exec.ErrorStep = step.Order
			stopped = true
			break
		}

		result, assigned := r.runStep(ctx, wf, step, varsByName, values)
		exec.StepResults = append(exec.StepResults, result)
		exec.StepsCompleted++
		for name, val := range assigned {
			values[name] = val
			exec.VariablesExtracted[name] = val
		}
		if err := r.store.RecordStepExtractions(ctx, exec, assigned); err != nil {
			r.log.Errorf("workflow: persist step %d of execution %d: %v", step.Order, exec.ID, err)
		}

		if result.Status == "failed" {
			failed++
			if !step.ContinueOnError {
				exec.ErrorMessage = result.Error
				exec.ErrorStep = step.Order
				stopped = true
				break
			}
		}
	}

	switch {
	case stopped:
		exec.Status = model.WorkflowFailed
	case failed == 0:
		exec.Status = model.WorkflowSuccess
	case failed == len(steps):
		exec.Status = model.WorkflowFailed
	default:
		exec.Status = model.WorkflowPartial
	}
	exec.DurationSeconds = time.Since(start).Seconds()

	if err := r.store.CompleteExecution(ctx, exec); err != nil {
		return nil, err
	}
	r.log.Infof("workflow: %q (%d) finished %s in %.2fs", wf.Name, wf.ID, exec.Status, exec.DurationSeconds)
	return exec, nil
}

// runStep resolves the step's request template, issues the request, extracts
// the variables the step names, and classifies the outcome.  Extraction runs
// before classification: a failed response can still carry an error token or
// a fresh cookie that a later step needs.  A variable that cannot be
// extracted is logged and skipped; its previous value (if any) stays in the
// context.
func (r *Runner) runStep(ctx context.Context, wf *model.Workflow, step model.WorkflowStep,
	varsByName map[string]*model.Variable, values map[string]string) (model.StepResult, map[string]string) {

	stepStart := time.Now()
	result := model.StepResult{
		Order:     step.Order,
		WatcherID: step.WatcherID,
		Status:    "success",
	}
	finish := func() model.StepResult {
		result.DurationMS = float64(time.Since(stepStart).Microseconds()) / 1000
		return result
	}

	w, err := r.store.GetWatcher(ctx, step.WatcherID)
	if err != nil {
		result.Status = "failed"
		result.Error = err.Error()
		return finish(), nil
	}

	// The watcher is only the request template here.  The step goes straight
	// to the HTTP client: no snapshot, no change log, no counter advances.
	url, headers, body := variable.ApplyToRequest(w, values)
	resp, err := r.client.Execute(ctx, &client.Request{
		URL:         url,
		Method:      w.Method,
		Headers:     headers,
		Body:        body,
		Impersonate: w.ImpersonateBrowser,
	})
	if err != nil {
		result.Status = "failed"
		result.Error = err.Error()
		return finish(), nil
	}
	result.ResponseStatus = resp.StatusCode

	rc := variable.ResponseContext{
		Body:    resp.Body,
		Headers: resp.Headers,
		Cookies: make(map[string]string, len(resp.Cookies)),
	}
	for _, ck := range resp.Cookies {
		rc.Cookies[ck.Name] = ck.Value
	}

	assigned := make(map[string]string)
	for _, name := range step.ExtractVariables {
		v, ok := varsByName[name]
		if !ok {
			r.log.Warnf("workflow: %q step %d names unknown variable %q", wf.Name, step.Order, name)
			continue
		}
		val, ok, err := variable.Extract(v, rc)
		if !ok {
			r.log.Warnf("workflow: %q step %d: %v", wf.Name, step.Order, err)
			continue
		}
		assigned[name] = val
	}
	result.VariablesExtracted = assigned

	if resp.StatusCode >= http.StatusBadRequest {
		result.Status = "failed"
		result.Error = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return finish(), assigned
}
