package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/GabriWar/vigilant/model"
)

const watcherCols = `id, name, url, method, headers, body, execution_mode,
	watch_interval, is_active, save_cookies, use_cookies, cookie_watcher_id,
	comparison_mode, impersonate_browser, solve_challenges, status,
	error_message, check_count, change_count, last_checked_at,
	last_changed_at, created_at, updated_at`

// CreateWatcher validates and inserts a watcher, returning it with its
// assigned id.  A name collision surfaces as model.ErrConflict.
func (s *Store) CreateWatcher(ctx context.Context, w *model.Watcher) error {
	if err := w.Validate(); err != nil {
		return err
	}
	headers, err := marshalJSON(w.Headers)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	w.CreatedAt, w.UpdatedAt = now, now
	if w.Status == "" {
		w.Status = model.StatusPending
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO watchers (name, url, method, headers, body, execution_mode,
			watch_interval, is_active, save_cookies, use_cookies,
			cookie_watcher_id, comparison_mode, impersonate_browser,
			solve_challenges, status, error_message, check_count, change_count,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '', 0, 0, ?, ?)`,
		w.Name, w.URL, w.Method, headers, w.Body, string(w.ExecutionMode),
		w.WatchInterval, w.IsActive, w.SaveCookies, w.UseCookies,
		w.CookieWatcherID, string(w.ComparisonMode), w.ImpersonateBrowser,
		w.SolveChallenges, string(w.Status), formatTime(now), formatTime(now))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("watcher name %q already exists: %w", w.Name, model.ErrConflict)
		}
		return fmt.Errorf("store: create watcher: %w", err)
	}
	w.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("store: create watcher id: %w", err)
	}
	return nil
}

// GetWatcher returns the watcher with the given id, or model.ErrNotFound.
func (s *Store) GetWatcher(ctx context.Context, id int64) (*model.Watcher, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+watcherCols+` FROM watchers WHERE id = ?`, id)
	w, err := scanWatcher(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("watcher %d: %w", id, model.ErrNotFound)
	}
	return w, err
}

// GetWatcherByName returns the watcher with the given unique name.
func (s *Store) GetWatcherByName(ctx context.Context, name string) (*model.Watcher, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+watcherCols+` FROM watchers WHERE name = ?`, name)
	w, err := scanWatcher(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("watcher %q: %w", name, model.ErrNotFound)
	}
	return w, err
}

// ListWatchers returns all watchers ordered by id.
func (s *Store) ListWatchers(ctx context.Context) ([]*model.Watcher, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+watcherCols+` FROM watchers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: list watchers: %w", err)
	}
	defer rows.Close()

	var out []*model.Watcher
	for rows.Next() {
		w, err := scanWatcher(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// ListSchedulableWatchers returns active watchers whose execution mode allows
// scheduled dispatch and whose watch interval is set.  Eligibility against
// last_checked_at is decided by the scheduler, which also tracks in-flight
// runs.
func (s *Store) ListSchedulableWatchers(ctx context.Context) ([]*model.Watcher, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+watcherCols+` FROM watchers
		WHERE is_active = 1
		  AND execution_mode IN ('scheduled', 'both')
		  AND watch_interval > 0
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: list schedulable watchers: %w", err)
	}
	defer rows.Close()

	var out []*model.Watcher
	for rows.Next() {
		w, err := scanWatcher(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// UpdateWatcher rewrites the definition fields of a watcher (never the
// executor-owned status and counter fields).
func (s *Store) UpdateWatcher(ctx context.Context, w *model.Watcher) error {
	if err := w.Validate(); err != nil {
		return err
	}
	headers, err := marshalJSON(w.Headers)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE watchers SET name = ?, url = ?, method = ?, headers = ?,
			body = ?, execution_mode = ?, watch_interval = ?, is_active = ?,
			save_cookies = ?, use_cookies = ?, cookie_watcher_id = ?,
			comparison_mode = ?, impersonate_browser = ?, solve_challenges = ?,
			updated_at = ?
		WHERE id = ?`,
		w.Name, w.URL, w.Method, headers, w.Body, string(w.ExecutionMode),
		w.WatchInterval, w.IsActive, w.SaveCookies, w.UseCookies,
		w.CookieWatcherID, string(w.ComparisonMode), w.ImpersonateBrowser,
		w.SolveChallenges, formatTime(now), w.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("watcher name %q already exists: %w", w.Name, model.ErrConflict)
		}
		return fmt.Errorf("store: update watcher %d: %w", w.ID, err)
	}
	return requireRow(res, w.ID)
}

// DeleteWatcher removes a watcher; its cookies, snapshot and change logs go
// with it via foreign-key cascade.
func (s *Store) DeleteWatcher(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM watchers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete watcher %d: %w", id, err)
	}
	return requireRow(res, id)
}

// SetWatcherStatus latches the observable status and error message of a
// watcher.  Passing an empty message clears a previous error.
func (s *Store) SetWatcherStatus(ctx context.Context, id int64, status model.WatcherStatus, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE watchers SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		string(status), errMsg, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("store: set watcher %d status: %w", id, err)
	}
	return requireRow(res, id)
}

func requireRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("watcher %d: %w", id, model.ErrNotFound)
	}
	return nil
}

// isUniqueViolation sniffs the driver's error text for a UNIQUE constraint
// failure.  modernc.org/sqlite reports these as plain errors, so string
// matching is the portable check.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanWatcher(r rowScanner) (*model.Watcher, error) {
	var (
		w              model.Watcher
		headers        string
		cookieWatcher  sql.NullInt64
		lastChecked    sql.NullString
		lastChanged    sql.NullString
		created, updat string
	)
	err := r.Scan(&w.ID, &w.Name, &w.URL, &w.Method, &headers, &w.Body,
		(*string)(&w.ExecutionMode), &w.WatchInterval, &w.IsActive,
		&w.SaveCookies, &w.UseCookies, &cookieWatcher,
		(*string)(&w.ComparisonMode), &w.ImpersonateBrowser,
		&w.SolveChallenges, (*string)(&w.Status), &w.ErrorMessage,
		&w.CheckCount, &w.ChangeCount, &lastChecked, &lastChanged,
		&created, &updat)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("store: scan watcher: %w", err)
	}
	if err := json.Unmarshal([]byte(headers), &w.Headers); err != nil {
		return nil, fmt.Errorf("store: watcher %d headers: %w", w.ID, err)
	}
	if cookieWatcher.Valid {
		w.CookieWatcherID = &cookieWatcher.Int64
	}
	w.LastCheckedAt = parseTimePtr(lastChecked)
	w.LastChangedAt = parseTimePtr(lastChanged)
	w.CreatedAt = parseTime(created)
	w.UpdatedAt = parseTime(updat)
	return &w, nil
}
