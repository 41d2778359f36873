package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/GabriWar/vigilant/model"
)

const workflowCols = `id, name, steps, schedule_enabled, schedule_interval,
	execution_count, success_count, failure_count, last_executed_at,
	last_execution_status, last_execution_error, created_at, updated_at`

// CreateWorkflow validates and inserts a workflow with its embedded steps.
func (s *Store) CreateWorkflow(ctx context.Context, wf *model.Workflow) error {
	if err := wf.Validate(); err != nil {
		return err
	}
	steps, err := marshalJSON(wf.Steps)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	wf.CreatedAt, wf.UpdatedAt = now, now
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO workflows (name, steps, schedule_enabled, schedule_interval, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		wf.Name, steps, wf.ScheduleEnabled, wf.ScheduleInterval,
		formatTime(now), formatTime(now))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("workflow name %q already exists: %w", wf.Name, model.ErrConflict)
		}
		return fmt.Errorf("store: create workflow: %w", err)
	}
	if wf.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("store: create workflow id: %w", err)
	}
	return nil
}

// GetWorkflow returns a workflow by id, or model.ErrNotFound.
func (s *Store) GetWorkflow(ctx context.Context, id int64) (*model.Workflow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+workflowCols+` FROM workflows WHERE id = ?`, id)
	wf, err := scanWorkflow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("workflow %d: %w", id, model.ErrNotFound)
	}
	return wf, err
}

// ListWorkflows returns all workflows ordered by id.
func (s *Store) ListWorkflows(ctx context.Context) ([]*model.Workflow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+workflowCols+` FROM workflows ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: list workflows: %w", err)
	}
	defer rows.Close()

	var out []*model.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}

// ListScheduledWorkflows returns workflows with an enabled schedule and a
// configured interval.
func (s *Store) ListScheduledWorkflows(ctx context.Context) ([]*model.Workflow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+workflowCols+` FROM workflows
		WHERE schedule_enabled = 1 AND schedule_interval > 0 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: list scheduled workflows: %w", err)
	}
	defer rows.Close()

	var out []*model.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}

// UpdateWorkflow rewrites the definition fields (never the counters).
func (s *Store) UpdateWorkflow(ctx context.Context, wf *model.Workflow) error {
	if err := wf.Validate(); err != nil {
		return err
	}
	steps, err := marshalJSON(wf.Steps)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflows SET name = ?, steps = ?, schedule_enabled = ?,
			schedule_interval = ?, updated_at = ?
		WHERE id = ?`,
		wf.Name, steps, wf.ScheduleEnabled, wf.ScheduleInterval,
		formatTime(time.Now()), wf.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("workflow name %q already exists: %w", wf.Name, model.ErrConflict)
		}
		return fmt.Errorf("store: update workflow %d: %w", wf.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("workflow %d: %w", wf.ID, model.ErrNotFound)
	}
	return nil
}

// DeleteWorkflow removes a workflow; variables and executions cascade.
func (s *Store) DeleteWorkflow(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete workflow %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("workflow %d: %w", id, model.ErrNotFound)
	}
	return nil
}

func scanWorkflow(r rowScanner) (*model.Workflow, error) {
	var (
		wf             model.Workflow
		steps          string
		lastExecuted   sql.NullString
		created, updat string
	)
	err := r.Scan(&wf.ID, &wf.Name, &steps, &wf.ScheduleEnabled,
		&wf.ScheduleInterval, &wf.ExecutionCount, &wf.SuccessCount,
		&wf.FailureCount, &lastExecuted, (*string)(&wf.LastExecutionStatus),
		&wf.LastExecutionError, &created, &updat)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("store: scan workflow: %w", err)
	}
	if err := json.Unmarshal([]byte(steps), &wf.Steps); err != nil {
		return nil, fmt.Errorf("store: workflow %d steps: %w", wf.ID, err)
	}
	wf.LastExecutedAt = parseTimePtr(lastExecuted)
	wf.CreatedAt = parseTime(created)
	wf.UpdatedAt = parseTime(updat)
	return &wf, nil
}

// ── variables ──

// CreateVariable validates and inserts a workflow-scoped variable.
func (s *Store) CreateVariable(ctx context.Context, v *model.Variable) error {
	if err := v.Validate(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO variables (workflow_id, name, source, extract_method,
			extract_pattern, random_length, random_format, static_value)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		v.WorkflowID, v.Name, string(v.Source), string(v.ExtractMethod),
		v.ExtractPattern, v.RandomLength, v.RandomFormat, v.StaticValue)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("variable %q already exists in workflow %d: %w",
				v.Name, v.WorkflowID, model.ErrConflict)
		}
		return fmt.Errorf("store: create variable: %w", err)
	}
	if v.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("store: create variable id: %w", err)
	}
	return nil
}

// ListVariables returns all variables of a workflow.
func (s *Store) ListVariables(ctx context.Context, workflowID int64) ([]*model.Variable, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workflow_id, name, source, extract_method, extract_pattern,
			random_length, random_format, static_value, current_value,
			last_extracted_at
		FROM variables WHERE workflow_id = ? ORDER BY name`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("store: list variables: %w", err)
	}
	defer rows.Close()

	var out []*model.Variable
	for rows.Next() {
		var (
			v             model.Variable
			lastExtracted sql.NullString
		)
		if err := rows.Scan(&v.ID, &v.WorkflowID, &v.Name, (*string)(&v.Source),
			(*string)(&v.ExtractMethod), &v.ExtractPattern, &v.RandomLength,
			&v.RandomFormat, &v.StaticValue, &v.CurrentValue, &lastExtracted); err != nil {
			return nil, fmt.Errorf("store: scan variable: %w", err)
		}
		v.LastExtractedAt = parseTimePtr(lastExtracted)
		out = append(out, &v)
	}
	return out, rows.Err()
}

// DeleteVariable removes one variable by id.
func (s *Store) DeleteVariable(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM variables WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete variable %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("variable %d: %w", id, model.ErrNotFound)
	}
	return nil
}

// ── executions ──

// CreateExecution inserts the running execution row at workflow start.
func (s *Store) CreateExecution(ctx context.Context, e *model.WorkflowExecution) error {
	e.StartedAt = time.Now().UTC()
	e.Status = model.WorkflowRunning
	stepResults, err := marshalJSON(e.StepResults)
	if err != nil {
		return err
	}
	vars, err := marshalJSON(e.VariablesExtracted)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_executions (workflow_id, status, started_at,
			steps_completed, steps_total, step_results, variables_extracted)
		VALUES (?, ?, ?, 0, ?, ?, ?)`,
		e.WorkflowID, string(e.Status), formatTime(e.StartedAt),
		e.StepsTotal, stepResults, vars)
	if err != nil {
		return fmt.Errorf("store: create execution: %w", err)
	}
	if e.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("store: create execution id: %w", err)
	}
	return nil
}

// RecordStepExtractions persists one step's outcome: the appended step
// result on the execution row plus the current_value/last_extracted_at of
// every variable the step assigned.  One transaction per step, so a later
// failure never rolls back an earlier step's extractions.
func (s *Store) RecordStepExtractions(ctx context.Context, e *model.WorkflowExecution, assigned map[string]string) error {
	stepResults, err := marshalJSON(e.StepResults)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE workflow_executions SET steps_completed = ?, step_results = ?
			WHERE id = ?`,
			e.StepsCompleted, stepResults, e.ID); err != nil {
			return fmt.Errorf("store: update execution %d steps: %w", e.ID, err)
		}
		for name, value := range assigned {
			if _, err := tx.ExecContext(ctx, `
				UPDATE variables SET current_value = ?, last_extracted_at = ?
				WHERE workflow_id = ? AND name = ?`,
				value, formatTime(now), e.WorkflowID, name); err != nil {
				return fmt.Errorf("store: update variable %q: %w", name, err)
			}
		}
		return nil
	})
}

// CompleteExecution finalises the execution row and advances the workflow's
// counters together, so the workflow record can never disagree with its
// executions.
func (s *Store) CompleteExecution(ctx context.Context, e *model.WorkflowExecution) error {
	now := time.Now().UTC()
	e.CompletedAt = &now
	stepResults, err := marshalJSON(e.StepResults)
	if err != nil {
		return err
	}
	vars, err := marshalJSON(e.VariablesExtracted)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE workflow_executions SET status = ?, completed_at = ?,
				duration_seconds = ?, steps_completed = ?, step_results = ?,
				variables_extracted = ?, error_message = ?, error_step = ?
			WHERE id = ?`,
			string(e.Status), formatTime(now), e.DurationSeconds,
			e.StepsCompleted, stepResults, vars, e.ErrorMessage, e.ErrorStep,
			e.ID); err != nil {
			return fmt.Errorf("store: complete execution %d: %w", e.ID, err)
		}

		success := 0
		failure := 0
		if e.Status == model.WorkflowSuccess {
			success = 1
		} else {
			failure = 1
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE workflows SET execution_count = execution_count + 1,
				success_count = success_count + ?,
				failure_count = failure_count + ?,
				last_executed_at = ?, last_execution_status = ?,
				last_execution_error = ?, updated_at = ?
			WHERE id = ?`,
			success, failure, formatTime(now), string(e.Status),
			e.ErrorMessage, formatTime(now), e.WorkflowID); err != nil {
			return fmt.Errorf("store: advance workflow %d counters: %w", e.WorkflowID, err)
		}
		return nil
	})
}

// HasRunningExecution reports whether an execution of the workflow is still
// marked running.  The scheduler uses this to refuse concurrent executions
// of the same workflow.
func (s *Store) HasRunningExecution(ctx context.Context, workflowID int64) (bool, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM workflow_executions
		WHERE workflow_id = ? AND status = 'running'`, workflowID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("store: running executions for workflow %d: %w", workflowID, err)
	}
	return n > 0, nil
}

// ListExecutions returns a workflow's executions, newest first.
func (s *Store) ListExecutions(ctx context.Context, workflowID int64, limit int) ([]*model.WorkflowExecution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workflow_id, status, started_at, completed_at,
			duration_seconds, steps_completed, steps_total, step_results,
			variables_extracted, error_message, error_step
		FROM workflow_executions
		WHERE workflow_id = ?
		ORDER BY started_at DESC, id DESC
		LIMIT ?`, workflowID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list executions: %w", err)
	}
	defer rows.Close()

	var out []*model.WorkflowExecution
	for rows.Next() {
		var (
			e           model.WorkflowExecution
			started     string
			completed   sql.NullString
			stepResults string
			vars        string
		)
		if err := rows.Scan(&e.ID, &e.WorkflowID, (*string)(&e.Status),
			&started, &completed, &e.DurationSeconds, &e.StepsCompleted,
			&e.StepsTotal, &stepResults, &vars, &e.ErrorMessage, &e.ErrorStep); err != nil {
			return nil, fmt.Errorf("store: scan execution: %w", err)
		}
		e.StartedAt = parseTime(started)
		e.CompletedAt = parseTimePtr(completed)
		if err := json.Unmarshal([]byte(stepResults), &e.StepResults); err != nil {
			return nil, fmt.Errorf("store: execution %d step results: %w", e.ID, err)
		}
		if err := json.Unmarshal([]byte(vars), &e.VariablesExtracted); err != nil {
			return nil, fmt.Errorf("store: execution %d variables: %w", e.ID, err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
