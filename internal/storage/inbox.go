package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const inboxCols = `id, recipient_id, tg_message_id, COALESCE(body, ''),
	COALESCE(media_type, ''), COALESCE(media_file_id, ''),
	COALESCE(action_status, ''), action_rule_id, action_reviewed_at, raw, created_at`

func scanInbox(row interface{ Scan(...any) error }) (*InboxMessage, error) {
	var (
		m        InboxMessage
		status   string
		ruleID   sql.NullInt64
		reviewed sql.NullString
		created  string
	)
	if err := row.Scan(&m.ID, &m.RecipientID, &m.TGMessageID, &m.Body,
		&m.MediaType, &m.MediaFileID, &status, &ruleID, &reviewed, &m.Raw, &created); err != nil {
		return nil, err
	}
	m.ActionStatus = ActionStatus(status)
	if ruleID.Valid {
		v := ruleID.Int64
		m.ActionRuleID = &v
	}
	var err error
	if m.ActionReviewedAt, err = decNullTime(reviewed); err != nil {
		return nil, err
	}
	if m.CreatedAt, err = decTime(created); err != nil {
		return nil, err
	}
	return &m, nil
}

func (q *Queries) GetInbox(ctx context.Context, id int64) (*InboxMessage, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+inboxCols+` FROM inbox_messages WHERE id = ?`, id)
	m, err := scanInbox(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRow
	}
	return m, err
}

func (q *Queries) InsertInbox(ctx context.Context, m *InboxMessage, now time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO inbox_messages(recipient_id, tg_message_id, body, media_type,
			media_file_id, action_status, raw, created_at)
		VALUES(?,?,?,?,?,?,?,?)`,
		m.RecipientID, m.TGMessageID, nullStr(m.Body), nullStr(m.MediaType),
		nullStr(m.MediaFileID), nullStr(string(m.ActionStatus)), m.Raw, encTime(now))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// SetInboxRule records the chosen rule (self-select path). Status stays
// whatever it was; terminal guards live in the approval machine.
func (q *Queries) SetInboxRule(ctx context.Context, id int64, ruleID int64) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE inbox_messages SET action_rule_id = ? WHERE id = ?`, ruleID, id)
	return err
}

// FinalizeInbox moves a proof into a terminal status, stamping review time and
// (for approvals) the applied rule.
func (q *Queries) FinalizeInbox(ctx context.Context, id int64, status ActionStatus, ruleID *int64, reviewedAt time.Time) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE inbox_messages SET
			action_status      = ?,
			action_rule_id     = COALESCE(?, action_rule_id),
			action_reviewed_at = ?
		WHERE id = ?`,
		string(status), nullInt64(ruleID), encTime(reviewedAt), id)
	return err
}

// RecentProofs lists the newest media-bearing inbox rows for a recipient.
func (q *Queries) RecentProofs(ctx context.Context, recipientID int64, limit int) ([]InboxMessage, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+inboxCols+` FROM inbox_messages
		WHERE recipient_id = ? AND media_file_id IS NOT NULL
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, recipientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []InboxMessage
	for rows.Next() {
		m, err := scanInbox(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (q *Queries) InsertActionEvent(ctx context.Context, e *ActionEvent, now time.Time) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO action_events(recipient_id, rule_id, raw_text, old_expires_at, new_expires_at, created_at)
		VALUES(?,?,?,?,?,?)`,
		e.RecipientID, e.RuleID, nullStr(e.RawText),
		encNullTime(e.OldExpiresAt), encNullTime(e.NewExpiresAt), encTime(now))
	return err
}

// RecentActionEvents returns the audit trail joined with rule titles, newest
// first.
func (q *Queries) RecentActionEvents(ctx context.Context, recipientID int64, limit int) ([]ActionEventWithRule, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT e.id, e.recipient_id, e.rule_id, COALESCE(e.raw_text, ''),
		       e.old_expires_at, e.new_expires_at, e.created_at, r.title
		FROM action_events e
		JOIN action_rules r ON r.id = e.rule_id
		WHERE e.recipient_id = ?
		ORDER BY e.created_at DESC, e.id DESC
		LIMIT ?`, recipientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ActionEventWithRule
	for rows.Next() {
		var (
			e       ActionEventWithRule
			oldExp  sql.NullString
			newExp  sql.NullString
			created string
		)
		if err := rows.Scan(&e.ID, &e.RecipientID, &e.RuleID, &e.RawText,
			&oldExp, &newExp, &created, &e.RuleTitle); err != nil {
			return nil, err
		}
		if e.OldExpiresAt, err = decNullTime(oldExp); err != nil {
			return nil, err
		}
		if e.NewExpiresAt, err = decNullTime(newExp); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = decTime(created); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (q *Queries) CountActionEvents(ctx context.Context, recipientID int64) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM action_events WHERE recipient_id = ?`, recipientID).Scan(&n)
	return n, err
}
