package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/GabriWar/vigilant/model"
)

// StatisticsQuery scopes the changelog.statistics operation.
type StatisticsQuery struct {
	WatcherID *int64
	DateFrom  *time.Time
	DateTo    *time.Time
	GroupBy   string // day | week | month
}

// FrequencyBucket is one point of the change-frequency series.
type FrequencyBucket struct {
	Bucket string `json:"bucket"`
	Count  int64  `json:"count"`
}

// WatcherChangeCount pairs a watcher with its change count inside the range.
type WatcherChangeCount struct {
	WatcherID   int64  `json:"watcher_id"`
	WatcherName string `json:"watcher_name"`
	Changes     int64  `json:"changes"`
}

// Statistics is the aggregate result of changelog.statistics.
type Statistics struct {
	Total       int64                `json:"total"`
	ByType      map[string]int64     `json:"by_type"`
	AvgNewSize  float64              `json:"avg_new_size"`
	MinNewSize  int64                `json:"min_new_size"`
	MaxNewSize  int64                `json:"max_new_size"`
	SumNewSize  int64                `json:"sum_new_size"`
	Frequency   []FrequencyBucket    `json:"frequency"`
	TopWatchers []WatcherChangeCount `json:"top_watchers"`
}

// ChangeLogStatistics computes totals per change type, size aggregates over
// new_size, a frequency series bucketed by day/week/month, and the top-10
// watchers by change count within the range.
func (s *Store) ChangeLogStatistics(ctx context.Context, q StatisticsQuery) (*Statistics, error) {
	bucketExpr, err := bucketExpression(q.GroupBy)
	if err != nil {
		return nil, err
	}

	var (
		conds []string
		args  []interface{}
	)
	if q.WatcherID != nil {
		conds = append(conds, "watcher_id = ?")
		args = append(args, *q.WatcherID)
	}
	if q.DateFrom != nil {
		conds = append(conds, "detected_at >= ?")
		args = append(args, formatTime(*q.DateFrom))
	}
	if q.DateTo != nil {
		conds = append(conds, "detected_at <= ?")
		args = append(args, formatTime(*q.DateTo))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	stats := &Statistics{ByType: make(map[string]int64)}

	// Totals per change type.
	rows, err := s.db.QueryContext(ctx,
		`SELECT change_type, COUNT(*) FROM change_logs`+where+` GROUP BY change_type`, args...)
	if err != nil {
		return nil, fmt.Errorf("store: statistics by type: %w", err)
	}
	for rows.Next() {
		var (
			ct string
			n  int64
		)
		if err := rows.Scan(&ct, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("store: scan type count: %w", err)
		}
		stats.ByType[ct] = n
		stats.Total += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Size aggregates over rows that carry a new_size.
	var (
		avg sql.NullFloat64
		min sql.NullInt64
		max sql.NullInt64
		sum sql.NullInt64
	)
	if err := s.db.QueryRowContext(ctx,
		`SELECT AVG(new_size), MIN(new_size), MAX(new_size), SUM(new_size)
		 FROM change_logs`+where, args...).Scan(&avg, &min, &max, &sum); err != nil {
		return nil, fmt.Errorf("store: statistics sizes: %w", err)
	}
	stats.AvgNewSize = avg.Float64
	stats.MinNewSize = min.Int64
	stats.MaxNewSize = max.Int64
	stats.SumNewSize = sum.Int64

	// Frequency series.
	rows, err = s.db.QueryContext(ctx,
		`SELECT `+bucketExpr+` AS bucket, COUNT(*) FROM change_logs`+where+
			` GROUP BY bucket ORDER BY bucket`, args...)
	if err != nil {
		return nil, fmt.Errorf("store: statistics frequency: %w", err)
	}
	for rows.Next() {
		var b FrequencyBucket
		if err := rows.Scan(&b.Bucket, &b.Count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("store: scan frequency bucket: %w", err)
		}
		stats.Frequency = append(stats.Frequency, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Top-10 watchers by change count (new + modified) in range.
	topConds := append([]string{"cl.change_type IN ('new','modified')"}, conds...)
	for i, c := range topConds[1:] {
		topConds[i+1] = "cl." + c
	}
	rows, err = s.db.QueryContext(ctx, `
		SELECT cl.watcher_id, w.name, COUNT(*) AS changes
		FROM change_logs cl JOIN watchers w ON w.id = cl.watcher_id
		WHERE `+strings.Join(topConds, " AND ")+`
		GROUP BY cl.watcher_id, w.name
		ORDER BY changes DESC, cl.watcher_id
		LIMIT 10`, args...)
	if err != nil {
		return nil, fmt.Errorf("store: statistics top watchers: %w", err)
	}
	for rows.Next() {
		var wc WatcherChangeCount
		if err := rows.Scan(&wc.WatcherID, &wc.WatcherName, &wc.Changes); err != nil {
			rows.Close()
			return nil, fmt.Errorf("store: scan top watcher: %w", err)
		}
		stats.TopWatchers = append(stats.TopWatchers, wc)
	}
	rows.Close()
	return stats, rows.Err()
}

// bucketExpression maps a group_by keyword to a strftime expression over the
// RFC 3339 detected_at column.
func bucketExpression(groupBy string) (string, error) {
	switch groupBy {
	case "", "day":
		return `strftime('%Y-%m-%d', detected_at)`, nil
	case "week":
		return `strftime('%Y-W%W', detected_at)`, nil
	case "month":
		return `strftime('%Y-%m', detected_at)`, nil
	default:
		return "", fmt.Errorf("group_by %q: %w", groupBy, model.ErrValidation)
	}
}
