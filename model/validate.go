package model

import (
	"fmt"
	"regexp"
)

// variableNameRe constrains variable names so that substitution placeholders
// ([[name]]) and extracted context keys always round-trip.
var variableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var allowedMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "PATCH": true,
	"DELETE": true, "HEAD": true, "OPTIONS": true,
}

// Validate checks a watcher definition against the rules of the data model:
// non-empty name and URL, a known HTTP method, a watch interval whenever the
// execution mode is schedulable, and no self-referential cookie chain.
func (w *Watcher) Validate() error {
	if w.Name == "" {
		return fmt.Errorf("watcher name must not be empty: %w", ErrValidation)
	}
	if w.URL == "" {
		return fmt.Errorf("watcher %q: url must not be empty: %w", w.Name, ErrValidation)
	}
	if !allowedMethods[w.Method] {
		return fmt.Errorf("watcher %q: unsupported method %q: %w", w.Name, w.Method, ErrValidation)
	}
	switch w.ExecutionMode {
	case ExecutionScheduled, ExecutionManual, ExecutionBoth:
	default:
		return fmt.Errorf("watcher %q: unknown execution mode %q: %w", w.Name, w.ExecutionMode, ErrValidation)
	}
	if w.ExecutionMode.Schedulable() && w.WatchInterval <= 0 {
		return fmt.Errorf("watcher %q: watch_interval required for %s mode: %w", w.Name, w.ExecutionMode, ErrValidation)
	}
	switch w.ComparisonMode {
	case CompareHash, CompareContentAware, CompareDisabled:
	default:
		return fmt.Errorf("watcher %q: unknown comparison mode %q: %w", w.Name, w.ComparisonMode, ErrValidation)
	}
	if w.UseCookies && w.CookieWatcherID == nil {
		return fmt.Errorf("watcher %q: use_cookies requires cookie_watcher_id: %w", w.Name, ErrValidation)
	}
	if w.CookieWatcherID != nil && w.ID != 0 && *w.CookieWatcherID == w.ID {
		return fmt.Errorf("watcher %q: cookie_watcher_id must not reference itself: %w", w.Name, ErrConflict)
	}
	return nil
}

// Validate checks a workflow definition: non-empty unique name (uniqueness is
// enforced by the store) and step orders that are unique and cover 1..N.
func (wf *Workflow) Validate() error {
	if wf.Name == "" {
		return fmt.Errorf("workflow name must not be empty: %w", ErrValidation)
	}
	if wf.ScheduleEnabled && wf.ScheduleInterval <= 0 {
		return fmt.Errorf("workflow %q: schedule_interval required when schedule is enabled: %w", wf.Name, ErrValidation)
	}
	if len(wf.Steps) == 0 {
		return fmt.Errorf("workflow %q: at least one step required: %w", wf.Name, ErrValidation)
	}
	seen := make(map[int]bool, len(wf.Steps))
	for _, s := range wf.Steps {
		if s.Order < 1 || s.Order > len(wf.Steps) {
			return fmt.Errorf("workflow %q: step order %d outside 1..%d: %w", wf.Name, s.Order, len(wf.Steps), ErrValidation)
		}
		if seen[s.Order] {
			return fmt.Errorf("workflow %q: duplicate step order %d: %w", wf.Name, s.Order, ErrValidation)
		}
		seen[s.Order] = true
		if s.WatcherID == 0 {
			return fmt.Errorf("workflow %q: step %d missing watcher_id: %w", wf.Name, s.Order, ErrValidation)
		}
		for _, name := range s.ExtractVariables {
			if !variableNameRe.MatchString(name) {
				return fmt.Errorf("workflow %q: step %d extracts invalid variable name %q: %w", wf.Name, s.Order, name, ErrValidation)
			}
		}
	}
	return nil
}

// Validate checks a variable definition: a legal name and a source/method
// pairing that the extraction engine understands.
func (v *Variable) Validate() error {
	if !variableNameRe.MatchString(v.Name) {
		return fmt.Errorf("variable name %q must match [A-Za-z_][A-Za-z0-9_]*: %w", v.Name, ErrValidation)
	}
	ok := false
	switch v.Source {
	case SourceStatic:
		ok = true // method is ignored for static variables
	case SourceRandom:
		ok = v.ExtractMethod == ExtractRandomString ||
			v.ExtractMethod == ExtractRandomNumber ||
			v.ExtractMethod == ExtractRandomUUID
	case SourceResponseBody:
		ok = v.ExtractMethod == ExtractFullBody ||
			v.ExtractMethod == ExtractJSONPath ||
			v.ExtractMethod == ExtractRegex
	case SourceResponseHeader:
		ok = v.ExtractMethod == ExtractHeaderValue
	case SourceCookie:
		ok = v.ExtractMethod == ExtractCookieValue
	}
	if !ok {
		return fmt.Errorf("variable %q: source %q does not support method %q: %w",
			v.Name, v.Source, v.ExtractMethod, ErrValidation)
	}
	return nil
}
