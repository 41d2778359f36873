// Package model defines the persistent entities of the watcher engine and
// the enumerated variants that drive their behaviour.
//
// Entities are plain structs with no behaviour beyond validation; all
// mutation happens through the store package so that invariants (counter
// monotonicity, one snapshot per watcher, replace-set cookie semantics) are
// enforced in exactly one place.
package model

import "time"

// ExecutionMode controls when a watcher may run.
type ExecutionMode string

const (
	ExecutionScheduled ExecutionMode = "scheduled"
	ExecutionManual    ExecutionMode = "manual"
	ExecutionBoth      ExecutionMode = "both"
)

// Schedulable reports whether the mode allows dispatch by the scheduler.
func (m ExecutionMode) Schedulable() bool {
	return m == ExecutionScheduled || m == ExecutionBoth
}

// ComparisonMode is the rule for canonicalizing response bytes before
// hashing and comparing.
type ComparisonMode string

const (
	// CompareHash compares raw bytes.
	CompareHash ComparisonMode = "hash"
	// CompareContentAware collapses whitespace runs before comparing, so
	// re-rendered pages with identical text do not count as changes.
	CompareContentAware ComparisonMode = "content_aware"
	// CompareDisabled still hashes and records observations but suppresses
	// diff generation.
	CompareDisabled ComparisonMode = "disabled"
)

// WatcherStatus is the observable state of a watcher.
type WatcherStatus string

const (
	StatusPending WatcherStatus = "pending"
	StatusRunning WatcherStatus = "running"
	StatusSuccess WatcherStatus = "success"
	StatusError   WatcherStatus = "error"
)

// ChangeType classifies one observation of a watcher's endpoint.
type ChangeType string

const (
	ChangeNew       ChangeType = "new"
	ChangeModified  ChangeType = "modified"
	ChangeUnchanged ChangeType = "unchanged"
	ChangeError     ChangeType = "error"
)

// WorkflowStatus is the aggregate outcome of a workflow execution.
type WorkflowStatus string

const (
	WorkflowRunning WorkflowStatus = "running"
	WorkflowSuccess WorkflowStatus = "success"
	WorkflowFailed  WorkflowStatus = "failed"
	WorkflowPartial WorkflowStatus = "partial"
)

// Source identifies where a variable's value comes from.
type Source string

const (
	SourceResponseBody   Source = "response_body"
	SourceResponseHeader Source = "response_header"
	SourceCookie         Source = "cookie"
	SourceStatic         Source = "static"
	SourceRandom         Source = "random"
)

// ExtractMethod identifies how a variable's value is produced from its source.
type ExtractMethod string

const (
	ExtractJSONPath     ExtractMethod = "json_path"
	ExtractRegex        ExtractMethod = "regex"
	ExtractCookieValue  ExtractMethod = "cookie_value"
	ExtractHeaderValue  ExtractMethod = "header_value"
	ExtractFullBody     ExtractMethod = "full_body"
	ExtractRandomString ExtractMethod = "random_string"
	ExtractRandomNumber ExtractMethod = "random_number"
	ExtractRandomUUID   ExtractMethod = "random_uuid"
)

// HeaderPair is one entry of a watcher's header template.  Watcher headers
// are an ordered list, not a map: anti-bot systems profile header order, and
// substitution must see headers in a deterministic sequence.
type HeaderPair struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Watcher is a monitored endpoint definition plus its observable status.
type Watcher struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`

	// Request template.
	URL     string       `json:"url"`
	Method  string       `json:"method"`
	Headers []HeaderPair `json:"headers"`
	Body    []byte       `json:"body,omitempty"`

	// Execution policy.
	ExecutionMode ExecutionMode `json:"execution_mode"`
	WatchInterval int           `json:"watch_interval"` // seconds; required iff schedulable
	IsActive      bool          `json:"is_active"`

	// Cookie policy.
	SaveCookies     bool   `json:"save_cookies"`
	UseCookies      bool   `json:"use_cookies"`
	CookieWatcherID *int64 `json:"cookie_watcher_id,omitempty"`

	// Change policy.
	ComparisonMode ComparisonMode `json:"comparison_mode"`

	// Supplementary request behaviour.
	ImpersonateBrowser bool `json:"impersonate_browser"`
	SolveChallenges    bool `json:"solve_challenges"`

	// Observable status, written by the executor.
	Status        WatcherStatus `json:"status"`
	ErrorMessage  string        `json:"error_message,omitempty"`
	CheckCount    int64         `json:"check_count"`
	ChangeCount   int64         `json:"change_count"`
	LastCheckedAt *time.Time    `json:"last_checked_at,omitempty"`
	LastChangedAt *time.Time    `json:"last_changed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot is the most recently observed content of a watcher.  At most one
// snapshot exists per watcher.
type Snapshot struct {
	ID          int64     `json:"id"`
	WatcherID   int64     `json:"watcher_id"`
	Content     []byte    `json:"-"`
	ContentHash string    `json:"content_hash"`
	ContentSize int64     `json:"content_size"`
	ContentType string    `json:"content_type,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ChangeLog is an immutable record of one classified observation.
type ChangeLog struct {
	ID         int64      `json:"id"`
	WatcherID  int64      `json:"watcher_id"`
	ChangeType ChangeType `json:"change_type"`
	OldHash    string     `json:"old_hash,omitempty"`
	NewHash    string     `json:"new_hash,omitempty"`
	OldSize    *int64     `json:"old_size,omitempty"`
	NewSize    *int64     `json:"new_size,omitempty"`
	OldContent []byte     `json:"-"`
	NewContent []byte     `json:"-"`
	// Diff is a unified text diff, present only on modified observations
	// where both sides are valid UTF-8.
	Diff string `json:"diff,omitempty"`
	// StructuralSummary is a field-level description of JSON schema changes
	// (added/missing/type-changed paths), present only when both sides of a
	// modified observation parsed as JSON objects.
	StructuralSummary string    `json:"structural_summary,omitempty"`
	DetectedAt        time.Time `json:"detected_at"`
}

// Cookie is one stored cookie owned by a watcher.  Uniqueness is enforced
// per (watcher_id, name) by the store's replace-set write.
type Cookie struct {
	ID        int64      `json:"id"`
	WatcherID int64      `json:"watcher_id"`
	Name      string     `json:"name"`
	Value     string     `json:"value"`
	Domain    string     `json:"domain,omitempty"`
	Path      string     `json:"path,omitempty"`
	Expires   *time.Time `json:"expires,omitempty"` // nil means session cookie
}

// IsExpired reports whether the cookie has expired as of now.  Session
// cookies (nil Expires) never expire.  Expires values are interpreted as UTC.
func (c *Cookie) IsExpired(now time.Time) bool {
	if c.Expires == nil {
		return false
	}
	return c.Expires.Before(now.UTC())
}

// WorkflowStep is one ordered step of a workflow.  Order values are unique
// and cover 1..N.
type WorkflowStep struct {
	Order            int      `json:"order"`
	WatcherID        int64    `json:"watcher_id"`
	ContinueOnError  bool     `json:"continue_on_error"`
	ExtractVariables []string `json:"extract_variables,omitempty"`
}

// Workflow is an ordered sequence of parameterizable requests with a shared
// variable context.
type Workflow struct {
	ID    int64          `json:"id"`
	Name  string         `json:"name"`
	Steps []WorkflowStep `json:"steps"`

	ScheduleEnabled  bool `json:"schedule_enabled"`
	ScheduleInterval int  `json:"schedule_interval"` // seconds

	ExecutionCount      int64          `json:"execution_count"`
	SuccessCount        int64          `json:"success_count"`
	FailureCount        int64          `json:"failure_count"`
	LastExecutedAt      *time.Time     `json:"last_executed_at,omitempty"`
	LastExecutionStatus WorkflowStatus `json:"last_execution_status,omitempty"`
	LastExecutionError  string         `json:"last_execution_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Variable is a named, workflow-scoped extraction/substitution rule.
type Variable struct {
	ID         int64  `json:"id"`
	WorkflowID int64  `json:"workflow_id"`
	Name       string `json:"name"`

	Source         Source        `json:"source"`
	ExtractMethod  ExtractMethod `json:"extract_method"`
	ExtractPattern string        `json:"extract_pattern,omitempty"`
	RandomLength   int           `json:"random_length,omitempty"`
	RandomFormat   string        `json:"random_format,omitempty"`
	StaticValue    string        `json:"static_value,omitempty"`

	CurrentValue    string     `json:"current_value,omitempty"`
	LastExtractedAt *time.Time `json:"last_extracted_at,omitempty"`
}

// StepResult records the outcome of one workflow step.
type StepResult struct {
	Order              int               `json:"order"`
	WatcherID          int64             `json:"watcher_id"`
	Status             string            `json:"status"` // "success" or "failed"
	ResponseStatus     int               `json:"response_status,omitempty"`
	VariablesExtracted map[string]string `json:"variables_extracted,omitempty"`
	Error              string            `json:"error,omitempty"`
	DurationMS         float64           `json:"duration_ms"`
}

// WorkflowExecution is one row per workflow run.
type WorkflowExecution struct {
	ID         int64          `json:"id"`
	WorkflowID int64          `json:"workflow_id"`
	Status     WorkflowStatus `json:"status"`

	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationSeconds float64    `json:"duration_seconds"`

	StepsCompleted int          `json:"steps_completed"`
	StepsTotal     int          `json:"steps_total"`
	StepResults    []StepResult `json:"step_results"`

	VariablesExtracted map[string]string `json:"variables_extracted,omitempty"`
	ErrorMessage       string            `json:"error_message,omitempty"`
	ErrorStep          int               `json:"error_step,omitempty"`
}
