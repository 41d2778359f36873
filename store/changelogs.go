package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/GabriWar/vigilant/model"
)

// ApplyDetection persists the outcome of one successful watcher check:
// the change-log row, the snapshot write (or refresh), and the watcher's
// counters, all in a single transaction.
//
// snapshot semantics:
//   - non-nil snapshot: upsert (first observation or modified content);
//   - nil snapshot: the content was unchanged, only updated_at is refreshed
//     so the column reads as "last verified at".
func (s *Store) ApplyDetection(ctx context.Context, log *model.ChangeLog, snapshot *model.Snapshot) error {
	now := time.Now().UTC()
	log.DetectedAt = now
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO change_logs (watcher_id, change_type, old_hash, new_hash,
				old_size, new_size, old_content, new_content, diff,
				structural_summary, detected_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			log.WatcherID, string(log.ChangeType), log.OldHash, log.NewHash,
			log.OldSize, log.NewSize, log.OldContent, log.NewContent, log.Diff,
			log.StructuralSummary, formatTime(now))
		if err != nil {
			return fmt.Errorf("store: insert change log: %w", err)
		}
		if log.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("store: change log id: %w", err)
		}

		if snapshot != nil {
			snapshot.WatcherID = log.WatcherID
			snapshot.UpdatedAt = now
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO snapshots (watcher_id, content, content_hash, content_size, content_type, updated_at)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT(watcher_id) DO UPDATE SET
					content = excluded.content,
					content_hash = excluded.content_hash,
					content_size = excluded.content_size,
					content_type = excluded.content_type,
					updated_at = excluded.updated_at`,
				snapshot.WatcherID, snapshot.Content, snapshot.ContentHash,
				snapshot.ContentSize, snapshot.ContentType, formatTime(now)); err != nil {
				return fmt.Errorf("store: upsert snapshot: %w", err)
			}
		} else {
			if _, err := tx.ExecContext(ctx,
				`UPDATE snapshots SET updated_at = ? WHERE watcher_id = ?`,
				formatTime(now), log.WatcherID); err != nil {
				return fmt.Errorf("store: refresh snapshot: %w", err)
			}
		}

		changed := log.ChangeType == model.ChangeNew || log.ChangeType == model.ChangeModified
		query := `UPDATE watchers SET status = 'success', error_message = '',
			check_count = check_count + 1, last_checked_at = ?, updated_at = ?`
		args := []interface{}{formatTime(now), formatTime(now)}
		if changed {
			query += `, change_count = change_count + 1, last_changed_at = ?`
			args = append(args, formatTime(now))
		}
		query += ` WHERE id = ?`
		args = append(args, log.WatcherID)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("store: advance watcher %d counters: %w", log.WatcherID, err)
		}
		return nil
	})
}

// RecordErrorRun persists a failed watcher check: an error-kind change log
// (carrying the raw error body when the server produced one), the error
// status with its message, and the check counter.  The snapshot is not
// touched and change_count does not advance.
func (s *Store) RecordErrorRun(ctx context.Context, watcherID int64, errMsg string, body []byte) error {
	now := time.Now().UTC()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO change_logs (watcher_id, change_type, new_content, detected_at)
			VALUES (?, ?, ?, ?)`,
			watcherID, string(model.ChangeError), body, formatTime(now)); err != nil {
			return fmt.Errorf("store: insert error change log: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE watchers SET status = 'error', error_message = ?,
				check_count = check_count + 1, last_checked_at = ?, updated_at = ?
			WHERE id = ?`,
			errMsg, formatTime(now), formatTime(now), watcherID); err != nil {
			return fmt.Errorf("store: record error for watcher %d: %w", watcherID, err)
		}
		return nil
	})
}

// GetSnapshot returns the watcher's single snapshot, or model.ErrNotFound if
// the watcher has never been observed.
func (s *Store) GetSnapshot(ctx context.Context, watcherID int64) (*model.Snapshot, error) {
	var (
		snap    model.Snapshot
		updated string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, watcher_id, content, content_hash, content_size, content_type, updated_at
		FROM snapshots WHERE watcher_id = ?`, watcherID).
		Scan(&snap.ID, &snap.WatcherID, &snap.Content, &snap.ContentHash,
			&snap.ContentSize, &snap.ContentType, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snapshot for watcher %d: %w", watcherID, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get snapshot: %w", err)
	}
	snap.UpdatedAt = parseTime(updated)
	return &snap, nil
}

// ChangeLogFilter selects and orders change logs for the list operation.
type ChangeLogFilter struct {
	WatcherID  *int64
	ChangeType *model.ChangeType
	DateFrom   *time.Time
	DateTo     *time.Time
	MinSize    *int64
	MaxSize    *int64
	// Search is matched as a substring of the diff text.
	Search    string
	OrderBy   string // detected_at | new_size | change_type
	Direction string // asc | desc
	Limit     int
	Offset    int
}

const changeLogCols = `id, watcher_id, change_type, old_hash, new_hash,
	old_size, new_size, old_content, new_content, diff, structural_summary,
	detected_at`

// ListChangeLogs returns change logs matching the filter.
func (s *Store) ListChangeLogs(ctx context.Context, f ChangeLogFilter) ([]*model.ChangeLog, error) {
	var (
		conds []string
		args  []interface{}
	)
	if f.WatcherID != nil {
		conds = append(conds, "watcher_id = ?")
		args = append(args, *f.WatcherID)
	}
	if f.ChangeType != nil {
		conds = append(conds, "change_type = ?")
		args = append(args, string(*f.ChangeType))
	}
	if f.DateFrom != nil {
		conds = append(conds, "detected_at >= ?")
		args = append(args, formatTime(*f.DateFrom))
	}
	if f.DateTo != nil {
		conds = append(conds, "detected_at <= ?")
		args = append(args, formatTime(*f.DateTo))
	}
	if f.MinSize != nil {
		conds = append(conds, "new_size >= ?")
		args = append(args, *f.MinSize)
	}
	if f.MaxSize != nil {
		conds = append(conds, "new_size <= ?")
		args = append(args, *f.MaxSize)
	}
	if f.Search != "" {
		conds = append(conds, "diff LIKE ?")
		args = append(args, "%"+f.Search+"%")
	}

	query := `SELECT ` + changeLogCols + ` FROM change_logs`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	orderBy := "detected_at"
	switch f.OrderBy {
	case "", "detected_at":
	case "new_size", "change_type":
		orderBy = f.OrderBy
	default:
		return nil, fmt.Errorf("order_by %q: %w", f.OrderBy, model.ErrValidation)
	}
	dir := "DESC"
	switch strings.ToLower(f.Direction) {
	case "", "desc":
	case "asc":
		dir = "ASC"
	default:
		return nil, fmt.Errorf("direction %q: %w", f.Direction, model.ErrValidation)
	}
	query += fmt.Sprintf(" ORDER BY %s %s, id %s", orderBy, dir, dir)

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list change logs: %w", err)
	}
	defer rows.Close()

	var out []*model.ChangeLog
	for rows.Next() {
		cl, err := scanChangeLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cl)
	}
	return out, rows.Err()
}

// GetChangeLog returns one change log by id.
func (s *Store) GetChangeLog(ctx context.Context, id int64) (*model.ChangeLog, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+changeLogCols+` FROM change_logs WHERE id = ?`, id)
	cl, err := scanChangeLog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("change log %d: %w", id, model.ErrNotFound)
	}
	return cl, err
}

// CompareChangeLogs returns 2–5 selected logs ordered by detected_at, for
// side-by-side inspection in the control surface.
func (s *Store) CompareChangeLogs(ctx context.Context, ids []int64) ([]*model.ChangeLog, error) {
	if len(ids) < 2 || len(ids) > 5 {
		return nil, fmt.Errorf("compare needs 2..5 ids, got %d: %w", len(ids), model.ErrValidation)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+changeLogCols+` FROM change_logs
		WHERE id IN (`+placeholders+`) ORDER BY detected_at, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("store: compare change logs: %w", err)
	}
	defer rows.Close()

	var out []*model.ChangeLog
	for rows.Next() {
		cl, err := scanChangeLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cl)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) != len(ids) {
		return nil, fmt.Errorf("compare: %d of %d ids exist: %w", len(out), len(ids), model.ErrNotFound)
	}
	return out, nil
}

func scanChangeLog(r rowScanner) (*model.ChangeLog, error) {
	var (
		cl       model.ChangeLog
		oldSize  sql.NullInt64
		newSize  sql.NullInt64
		diff     sql.NullString
		detected string
	)
	err := r.Scan(&cl.ID, &cl.WatcherID, (*string)(&cl.ChangeType), &cl.OldHash,
		&cl.NewHash, &oldSize, &newSize, &cl.OldContent, &cl.NewContent,
		&diff, &cl.StructuralSummary, &detected)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("store: scan change log: %w", err)
	}
	if oldSize.Valid {
		cl.OldSize = &oldSize.Int64
	}
	if newSize.Valid {
		cl.NewSize = &newSize.Int64
	}
	cl.Diff = diff.String
	cl.DetectedAt = parseTime(detected)
	return &cl, nil
}
