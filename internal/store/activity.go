package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ActivityInput is one word-count delta reported by a client monitor.
type ActivityInput struct {
	UserID     int64
	Increment  int
	Duration   int // seconds
	SourceType string
	EndTime    time.Time // client timestamp if supplied, else server now
	ReportDate string    // ISO day for binning; derived from EndTime when empty
}

// ActivityResult describes the side effects of one recorded delta.
type ActivityResult struct {
	SprintGroupID int64 // 0 when the delta did not score into a sprint
	NewScore      int
}

// RecordActivity applies one delta in a single unit of work: append the
// audit record, upsert the daily total, and — when the caller is in a room
// with an active sprint — upsert the room score. The caller is expected to
// have filtered out deltas with nothing to report.
func (s *Store) RecordActivity(ctx context.Context, in ActivityInput) (ActivityResult, error) {
	if in.SourceType == "" {
		in.SourceType = "local"
	}
	if in.ReportDate == "" {
		in.ReportDate = in.EndTime.Format("2006-01-02")
	}

	var result ActivityResult
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO detail_records(user_id, word_increment, duration_seconds, source_type, end_time) VALUES(?, ?, ?, ?, ?)`,
			in.UserID, in.Increment, in.Duration, in.SourceType, in.EndTime.Unix(),
		); err != nil {
			return fmt.Errorf("insert detail record: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
INSERT INTO daily_reports(user_id, report_date, total_words, total_duration)
VALUES(?, ?, ?, ?)
ON CONFLICT(user_id, report_date) DO UPDATE SET
	total_words = total_words + excluded.total_words,
	total_duration = total_duration + excluded.total_duration`,
			in.UserID, in.ReportDate, in.Increment, in.Duration,
		); err != nil {
			return fmt.Errorf("upsert daily report: %w", err)
		}

		if in.Increment <= 0 {
			return nil
		}

		var groupID int64
		err := tx.QueryRowContext(ctx, `
SELECT m.group_id
FROM group_members m
JOIN groups g ON g.id = m.group_id
WHERE m.user_id = ? AND g.sprint_active = 1`, in.UserID).Scan(&groupID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("check active sprint: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
INSERT INTO sprint_scores(group_id, user_id, current_score)
VALUES(?, ?, ?)
ON CONFLICT(group_id, user_id) DO UPDATE SET
	current_score = current_score + excluded.current_score`,
			groupID, in.UserID, in.Increment,
		); err != nil {
			return fmt.Errorf("upsert sprint score: %w", err)
		}

		if err := tx.QueryRowContext(ctx,
			`SELECT current_score FROM sprint_scores WHERE group_id = ? AND user_id = ?`,
			groupID, in.UserID,
		).Scan(&result.NewScore); err != nil {
			return fmt.Errorf("read sprint score: %w", err)
		}
		result.SprintGroupID = groupID
		return nil
	})
	return result, err
}

// DailyTotal returns the user's committed word total for one ISO day.
func (s *Store) DailyTotal(ctx context.Context, userID int64, date string) (int, error) {
	var total int
	err := s.db.QueryRowContext(ctx,
		`SELECT total_words FROM daily_reports WHERE user_id = ? AND report_date = ?`,
		userID, date,
	).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query daily total: %w", err)
	}
	return total, nil
}

// Heatmap returns date → total_words for the caller since fromDate inclusive.
func (s *Store) Heatmap(ctx context.Context, userID int64, fromDate string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT report_date, total_words FROM daily_reports WHERE user_id = ? AND report_date >= ?`,
		userID, fromDate,
	)
	if err != nil {
		return nil, fmt.Errorf("query heatmap: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			date  string
			words int
		)
		if err := rows.Scan(&date, &words); err != nil {
			return nil, fmt.Errorf("scan heatmap row: %w", err)
		}
		out[date] = words
	}
	return out, rows.Err()
}

// DetailRow is one audit-log entry projected for the detail view.
type DetailRow struct {
	EndTime   int64
	Increment int
	Duration  int
}

// RecentDetails returns the caller's most recent detail records, newest first.
func (s *Store) RecentDetails(ctx context.Context, userID int64, limit int) ([]DetailRow, error) {
	if limit <= 0 {
		limit = DetailsLimit
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT end_time, word_increment, duration_seconds
FROM detail_records
WHERE user_id = ?
ORDER BY end_time DESC, id DESC
LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query detail records: %w", err)
	}
	defer rows.Close()

	var out []DetailRow
	for rows.Next() {
		var r DetailRow
		if err := rows.Scan(&r.EndTime, &r.Increment, &r.Duration); err != nil {
			return nil, fmt.Errorf("scan detail record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
