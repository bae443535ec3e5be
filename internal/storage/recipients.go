package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ErrNoRow is returned by Get* helpers when the entity does not exist.
var ErrNoRow = errors.New("storage: no row")

const recipientCols = `id, tg_user_id, tg_chat_id, consent, snooze_until,
	last_activity_at, last_expiry_reminder_at, last_inactivity_reminder_at, created_at`

func scanRecipient(row interface{ Scan(...any) error }) (*Recipient, error) {
	var (
		r                      Recipient
		consent                int
		snooze, act, exp, inac sql.NullString
		created                string
	)
	if err := row.Scan(&r.ID, &r.TGUserID, &r.ChatID, &consent, &snooze, &act, &exp, &inac, &created); err != nil {
		return nil, err
	}
	r.Consent = consent != 0
	var err error
	if r.SnoozeUntil, err = decNullTime(snooze); err != nil {
		return nil, err
	}
	if r.LastActivityAt, err = decNullTime(act); err != nil {
		return nil, err
	}
	if r.LastExpiryReminderAt, err = decNullTime(exp); err != nil {
		return nil, err
	}
	if r.LastInactivityReminderAt, err = decNullTime(inac); err != nil {
		return nil, err
	}
	if r.CreatedAt, err = decTime(created); err != nil {
		return nil, err
	}
	return &r, nil
}

func (q *Queries) GetRecipient(ctx context.Context, id int64) (*Recipient, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+recipientCols+` FROM recipients WHERE id = ?`, id)
	r, err := scanRecipient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRow
	}
	return r, err
}

func (q *Queries) GetRecipientByTGUserID(ctx context.Context, tgUserID int64) (*Recipient, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+recipientCols+` FROM recipients WHERE tg_user_id = ?`, tgUserID)
	r, err := scanRecipient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRow
	}
	return r, err
}

// UpsertRecipient creates the recipient row for a Telegram user or refreshes
// its chat id and consent flag. Returns the stored row.
func (q *Queries) UpsertRecipient(ctx context.Context, tgUserID, chatID int64, consent bool, now time.Time) (*Recipient, error) {
	c := 0
	if consent {
		c = 1
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO recipients(tg_user_id, tg_chat_id, consent, created_at)
		VALUES(?,?,?,?)
		ON CONFLICT(tg_user_id) DO UPDATE SET tg_chat_id = excluded.tg_chat_id, consent = excluded.consent`,
		tgUserID, chatID, c, encTime(now))
	if err != nil {
		return nil, err
	}
	return q.GetRecipientByTGUserID(ctx, tgUserID)
}

// ListConsenting returns every recipient with consent set, in stable id order.
func (q *Queries) ListConsenting(ctx context.Context) ([]Recipient, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+recipientCols+` FROM recipients WHERE consent = 1 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Recipient
	for rows.Next() {
		r, err := scanRecipient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// FirstRecipient returns the oldest recipient row, if any. Admin reporting
// surfaces use it (this deployment serves a single subscriber).
func (q *Queries) FirstRecipient(ctx context.Context) (*Recipient, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+recipientCols+` FROM recipients ORDER BY id LIMIT 1`)
	r, err := scanRecipient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRow
	}
	return r, err
}

func (q *Queries) SetSnooze(ctx context.Context, recipientID int64, until *time.Time) error {
	_, err := q.db.ExecContext(ctx, `UPDATE recipients SET snooze_until = ? WHERE id = ?`,
		encNullTime(until), recipientID)
	return err
}

// TouchActivity stamps last_activity_at on inbound traffic.
func (q *Queries) TouchActivity(ctx context.Context, recipientID int64, at time.Time) error {
	_, err := q.db.ExecContext(ctx, `UPDATE recipients SET last_activity_at = ? WHERE id = ?`,
		encTime(at), recipientID)
	return err
}

// StampReminders advances the cooldown timestamps for the reminder kinds that
// actually fired. A nil argument leaves that timestamp untouched.
func (q *Queries) StampReminders(ctx context.Context, recipientID int64, expiryAt, inactivityAt *time.Time) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE recipients SET
			last_expiry_reminder_at     = COALESCE(?, last_expiry_reminder_at),
			last_inactivity_reminder_at = COALESCE(?, last_inactivity_reminder_at)
		WHERE id = ?`,
		encNullTime(expiryAt), encNullTime(inactivityAt), recipientID)
	return err
}
