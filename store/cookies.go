package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/GabriWar/vigilant/model"
)

// Cookie persistence.  The store never injects cookies into a request
// itself; the executor reads them and forwards them to the HTTP client.

// ReplaceCookies is the atomic "replace set" write: it deletes the watcher's
// existing cookies and inserts the new set in one transaction, so a
// concurrent reader sees either the old set or the new set, never a mix.
func (s *Store) ReplaceCookies(ctx context.Context, watcherID int64, cookies []model.Cookie) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM cookies WHERE watcher_id = ?`, watcherID); err != nil {
			return fmt.Errorf("store: clear cookies for watcher %d: %w", watcherID, err)
		}
		for _, c := range cookies {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO cookies (watcher_id, name, value, domain, path, expires)
				VALUES (?, ?, ?, ?, ?, ?)`,
				watcherID, c.Name, c.Value, c.Domain, c.Path, formatTimePtr(c.Expires)); err != nil {
				return fmt.Errorf("store: insert cookie %q for watcher %d: %w", c.Name, watcherID, err)
			}
		}
		return nil
	})
}

// GetCookies returns all cookies owned by the given watcher.
func (s *Store) GetCookies(ctx context.Context, watcherID int64) ([]model.Cookie, error) {
	return s.queryCookies(ctx, `SELECT id, watcher_id, name, value, domain, path, expires
		FROM cookies WHERE watcher_id = ?`, watcherID)
}

// ExpiredCookies returns cookies whose expiry is in the past.  Session
// cookies (null expires) are never returned.
func (s *Store) ExpiredCookies(ctx context.Context) ([]model.Cookie, error) {
	return s.queryCookies(ctx, `SELECT id, watcher_id, name, value, domain, path, expires
		FROM cookies WHERE expires IS NOT NULL AND expires < ?`, formatTime(time.Now()))
}

// CookiesExpiringWithin returns cookies that are not yet expired but will be
// within the given horizon.
func (s *Store) CookiesExpiringWithin(ctx context.Context, horizon time.Duration) ([]model.Cookie, error) {
	now := time.Now().UTC()
	return s.queryCookies(ctx, `SELECT id, watcher_id, name, value, domain, path, expires
		FROM cookies WHERE expires IS NOT NULL AND expires >= ? AND expires < ?
		ORDER BY expires`, formatTime(now), formatTime(now.Add(horizon)))
}

// DeleteExpiredCookies removes every expired cookie and reports how many
// rows went away.
func (s *Store) DeleteExpiredCookies(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cookies WHERE expires IS NOT NULL AND expires < ?`, formatTime(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("store: delete expired cookies: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: delete expired cookies count: %w", err)
	}
	return n, nil
}

// CountCookies returns the total number of stored cookies.
func (s *Store) CountCookies(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cookies`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count cookies: %w", err)
	}
	return n, nil
}

func (s *Store) queryCookies(ctx context.Context, query string, args ...interface{}) ([]model.Cookie, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query cookies: %w", err)
	}
	defer rows.Close()

	var out []model.Cookie
	for rows.Next() {
		var (
			c       model.Cookie
			expires sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.WatcherID, &c.Name, &c.Value, &c.Domain, &c.Path, &expires); err != nil {
			return nil, fmt.Errorf("store: scan cookie: %w", err)
		}
		c.Expires = parseTimePtr(expires)
		out = append(out, c)
	}
	return out, rows.Err()
}
