package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const scheduleCols = `id, COALESCE(day_index, 0), send_date, send_at, type, body,
	sent_at, attempts, last_attempt_at, COALESCE(last_error, '')`

func scanSchedule(row interface{ Scan(...any) error }) (*ScheduledMessage, error) {
	var (
		m               ScheduledMessage
		date, due, sent sql.NullString
		lastAttempt     sql.NullString
	)
	if err := row.Scan(&m.ID, &m.DayIndex, &date, &due, &m.Type, &m.Body,
		&sent, &m.Attempts, &lastAttempt, &m.LastError); err != nil {
		return nil, err
	}
	var err error
	if m.SendDate, err = decNullDate(date); err != nil {
		return nil, err
	}
	if m.SendAt, err = decNullTime(due); err != nil {
		return nil, err
	}
	if m.SentAt, err = decNullTime(sent); err != nil {
		return nil, err
	}
	if m.LastAttemptAt, err = decNullTime(lastAttempt); err != nil {
		return nil, err
	}
	return &m, nil
}

// PendingMessageForDate selects the calendar broadcast slotted for the given
// day that has not been sent yet. Returns ErrNoRow when the day has none.
func (q *Queries) PendingMessageForDate(ctx context.Context, day time.Time) (*ScheduledMessage, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+scheduleCols+` FROM schedule_messages
		WHERE send_date = ? AND sent_at IS NULL
		LIMIT 1`, encDate(day))
	m, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRow
	}
	return m, err
}

// DueOutboxMessages selects up to limit unsent deferred messages whose due
// time has passed, in stable (due time, id) order.
func (q *Queries) DueOutboxMessages(ctx context.Context, now time.Time, limit int) ([]ScheduledMessage, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+scheduleCols+` FROM schedule_messages
		WHERE sent_at IS NULL AND send_at IS NOT NULL AND send_at <= ?
		ORDER BY send_at, id
		LIMIT ?`, encTime(now), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScheduledMessage
	for rows.Next() {
		m, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// MarkSent finalizes a message. Terminal: the schedulers never select rows
// with sent_at set again.
func (q *Queries) MarkSent(ctx context.Context, id int64, at time.Time) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE schedule_messages SET sent_at = ?, last_error = NULL WHERE id = ?`,
		encTime(at), id)
	return err
}

// RecordAttempt increments the attempt counter and stamps last_attempt_at.
func (q *Queries) RecordAttempt(ctx context.Context, id int64, at time.Time) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE schedule_messages SET attempts = attempts + 1, last_attempt_at = ? WHERE id = ?`,
		encTime(at), id)
	return err
}

// Reschedule pushes the due time forward and records the failure code.
func (q *Queries) Reschedule(ctx context.Context, id int64, dueAt time.Time, errCode string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE schedule_messages SET send_at = ?, last_error = ? WHERE id = ?`,
		encTime(dueAt), errCode, id)
	return err
}

// EnqueueOutbox inserts a deferred message due at the given instant
// (the manual-override creation path).
func (q *Queries) EnqueueOutbox(ctx context.Context, body, typ string, dueAt time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO schedule_messages(send_at, type, body) VALUES(?,?,?)`,
		encTime(dueAt), typ, body)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListScheduleByDayIndex enumerates the calendar schedule for reporting,
// ordered by day index.
func (q *Queries) ListScheduleByDayIndex(ctx context.Context) ([]ScheduledMessage, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+scheduleCols+` FROM schedule_messages
		WHERE day_index IS NOT NULL
		ORDER BY day_index`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScheduledMessage
	for rows.Next() {
		m, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// RandomScheduleMessage picks any calendar row, for the admin test broadcast.
func (q *Queries) RandomScheduleMessage(ctx context.Context) (*ScheduledMessage, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+scheduleCols+` FROM schedule_messages
		WHERE day_index IS NOT NULL
		ORDER BY RANDOM() LIMIT 1`)
	m, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRow
	}
	return m, err
}

func (q *Queries) CountScheduleMessages(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schedule_messages`).Scan(&n)
	return n, err
}

// UpsertScheduleDay inserts or updates a calendar row by day index (seed import).
func (q *Queries) UpsertScheduleDay(ctx context.Context, dayIndex int64, sendDate time.Time, typ, body string) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO schedule_messages(day_index, send_date, type, body)
		VALUES(?,?,?,?)
		ON CONFLICT(day_index) WHERE day_index IS NOT NULL DO UPDATE SET
			send_date = excluded.send_date,
			type      = excluded.type,
			body      = excluded.body`,
		dayIndex, encDate(sendDate), typ, body)
	return err
}
