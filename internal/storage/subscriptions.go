package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

func scanSubscription(row interface{ Scan(...any) error }) (*Subscription, error) {
	var (
		s       Subscription
		exp     sql.NullString
		created string
	)
	if err := row.Scan(&s.ID, &s.RecipientID, &exp, &created); err != nil {
		return nil, err
	}
	var err error
	if s.ExpiresAt, err = decNullTime(exp); err != nil {
		return nil, err
	}
	if s.CreatedAt, err = decTime(created); err != nil {
		return nil, err
	}
	return &s, nil
}

func (q *Queries) GetSubscription(ctx context.Context, recipientID int64) (*Subscription, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT id, recipient_id, expires_at, created_at FROM subscriptions WHERE recipient_id = ?`,
		recipientID)
	s, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRow
	}
	return s, err
}

// EnsureSubscription returns the recipient's subscription, creating it with
// the given initial expiry (nil allowed) when missing. At most one active
// subscription per recipient.
func (q *Queries) EnsureSubscription(ctx context.Context, recipientID int64, expiresAt *time.Time, now time.Time) (*Subscription, error) {
	s, err := q.GetSubscription(ctx, recipientID)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, ErrNoRow) {
		return nil, err
	}
	_, err = q.db.ExecContext(ctx,
		`INSERT INTO subscriptions(recipient_id, expires_at, created_at) VALUES(?,?,?)`,
		recipientID, encNullTime(expiresAt), encTime(now))
	if err != nil {
		return nil, err
	}
	return q.GetSubscription(ctx, recipientID)
}

func (q *Queries) SetSubscriptionExpiry(ctx context.Context, id int64, expiresAt time.Time) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE subscriptions SET expires_at = ? WHERE id = ?`, encTime(expiresAt), id)
	return err
}
