package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/chylli-deriv/supabase-logger/internal/logger"
)

// Delivery is the outcome of one logging call.
type Delivery struct {
	Time        time.Time
	Err         error
	RecordID    string
	Status      string
	BotID       string
	ChannelID   string
	Environment string
	Duration    time.Duration
	Attempts    int
	StatusCode  int
	Delivered   bool
}

// Entry is a stored delivery outcome.
type Entry struct {
	CreatedAt   time.Time
	RecordID    string
	Status      string
	Error       string
	BotID       string
	ChannelID   string
	Environment string
	ID          int64
	DurationMs  int64
	Attempts    int
	StatusCode  int
	Delivered   bool
}

// Stats summarizes deliveries in a time window.
type Stats struct {
	Total        int
	Delivered    int
	Failed       int
	Retried      int
	AvgAttempts  float64
	AvgLatencyMs float64
}

// SuccessRate returns delivered/total as a percentage.
func (s Stats) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Delivered) / float64(s.Total) * 100
}

// HourlyCount is the number of deliveries in one hour bucket.
type HourlyCount struct {
	Hour      time.Time
	Delivered int
	Failed    int
}

// RecordDelivery stores one delivery outcome.
func (j *Journal) RecordDelivery(ctx context.Context, d Delivery) error {
	query := `
		INSERT INTO deliveries (
			record_id, status, delivered, attempts, status_code, error,
			bot_id, channel_id, environment, duration_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	timestamp := d.Time
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	var errText string
	if d.Err != nil {
		errText = d.Err.Error()
	}

	_, err := j.ExecContext(ctx, query,
		d.RecordID,
		d.Status,
		boolToInt(d.Delivered),
		d.Attempts,
		d.StatusCode,
		nullString(errText),
		nullString(d.BotID),
		nullString(d.ChannelID),
		nullString(d.Environment),
		d.Duration.Milliseconds(),
		timestamp.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to insert delivery: %w", err)
	}
	return nil
}

// Recent returns the most recent deliveries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	query := `
		SELECT id, record_id, status, delivered, attempts, status_code, error,
			   bot_id, channel_id, environment, duration_ms, created_at
		FROM deliveries
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`

	rows, err := j.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent deliveries: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			logger.Error("failed to close rows", "error", err)
		}
	}()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var delivered int
		var errStr, botID, channelID, env sql.NullString
		var created string

		err := rows.Scan(
			&e.ID,
			&e.RecordID,
			&e.Status,
			&delivered,
			&e.Attempts,
			&e.StatusCode,
			&errStr,
			&botID,
			&channelID,
			&env,
			&e.DurationMs,
			&created,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan delivery: %w", err)
		}

		e.Delivered = delivered == 1
		e.Error = errStr.String
		e.BotID = botID.String
		e.ChannelID = channelID.String
		e.Environment = env.String
		e.CreatedAt = parseTime(created)
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// Stats summarizes deliveries created at or after since.
func (j *Journal) Stats(ctx context.Context, since time.Time) (Stats, error) {
	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(delivered), 0),
			COALESCE(SUM(CASE WHEN attempts > 1 THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(attempts), 0),
			COALESCE(AVG(duration_ms), 0)
		FROM deliveries
		WHERE created_at >= ?
	`

	var s Stats
	err := j.QueryRowContext(ctx, query, since.UTC().Format(timeLayout)).Scan(
		&s.Total,
		&s.Delivered,
		&s.Retried,
		&s.AvgAttempts,
		&s.AvgLatencyMs,
	)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to query delivery stats: %w", err)
	}
	s.Failed = s.Total - s.Delivered
	return s, nil
}

// HourlyCounts returns per-hour delivered/failed counts since the given
// time, oldest first. Hours without deliveries are omitted.
func (j *Journal) HourlyCounts(ctx context.Context, since time.Time) ([]HourlyCount, error) {
	query := `
		SELECT
			strftime('%Y-%m-%d %H:00:00', created_at) AS hour,
			COALESCE(SUM(delivered), 0),
			COALESCE(SUM(CASE WHEN delivered = 0 THEN 1 ELSE 0 END), 0)
		FROM deliveries
		WHERE created_at >= ?
		GROUP BY hour
		ORDER BY hour ASC
	`

	rows, err := j.QueryContext(ctx, query, since.UTC().Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to query hourly counts: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			logger.Error("failed to close rows", "error", err)
		}
	}()

	var counts []HourlyCount
	for rows.Next() {
		var c HourlyCount
		var hour string
		if err := rows.Scan(&hour, &c.Delivered, &c.Failed); err != nil {
			return nil, fmt.Errorf("failed to scan hourly count: %w", err)
		}
		c.Hour = parseTime(hour)
		counts = append(counts, c)
	}

	return counts, rows.Err()
}

// Prune deletes deliveries older than before and returns how many went.
func (j *Journal) Prune(ctx context.Context, before time.Time) (int64, error) {
	result, err := j.ExecContext(ctx, "DELETE FROM deliveries WHERE created_at < ?", before.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("failed to prune deliveries: %w", err)
	}
	return result.RowsAffected()
}

func parseTime(s string) time.Time {
	t, err := time.ParseInLocation(timeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
