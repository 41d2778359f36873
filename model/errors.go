package model

import "errors"

// Sentinel errors classifying every failure the engine can surface.  Callers
// wrap them with fmt.Errorf("...: %w", Err...) and test with errors.Is, so a
// storage miss deep inside a transaction still reads as ErrNotFound at the
// control surface.
var (
	// ErrNetwork covers DNS, connect, TLS and read-timeout failures of an
	// outbound HTTP request.
	ErrNetwork = errors.New("network error")

	// ErrTimeout is the scheduler's per-run wall-clock limit.
	ErrTimeout = errors.New("run timeout")

	// ErrValidation is malformed watcher/workflow/variable configuration.
	ErrValidation = errors.New("validation error")

	// ErrNotFound is an id lookup miss.
	ErrNotFound = errors.New("not found")

	// ErrConflict is a unique-name collision or a self-referential cookie
	// chain.
	ErrConflict = errors.New("conflict")

	// ErrExtraction is a JSON path miss, regex no-match, or invalid pattern.
	ErrExtraction = errors.New("extraction error")

	// ErrStorage is a transaction failure; the enclosing transaction is
	// rolled back and the scheduler retries at the next eligible tick.
	ErrStorage = errors.New("storage error")

	// ErrCancelled is shutdown or a manual stop observed at a suspension
	// point.
	ErrCancelled = errors.New("cancelled")
)
