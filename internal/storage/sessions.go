package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Operator sessions back multi-step admin dialogs: one row per operator id
// with an explicit state, instead of process-wide "awaiting reply" sets.

func (q *Queries) GetOperatorSession(ctx context.Context, operatorID int64) (*OperatorSession, error) {
	var (
		s       OperatorSession
		updated string
	)
	err := q.db.QueryRowContext(ctx,
		`SELECT operator_id, state, payload, updated_at FROM operator_sessions WHERE operator_id = ?`,
		operatorID).Scan(&s.OperatorID, &s.State, &s.Payload, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRow
	}
	if err != nil {
		return nil, err
	}
	if s.UpdatedAt, err = decTime(updated); err != nil {
		return nil, err
	}
	return &s, nil
}

func (q *Queries) PutOperatorSession(ctx context.Context, operatorID int64, state, payload string, now time.Time) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO operator_sessions(operator_id, state, payload, updated_at)
		VALUES(?,?,?,?)
		ON CONFLICT(operator_id) DO UPDATE SET
			state = excluded.state, payload = excluded.payload, updated_at = excluded.updated_at`,
		operatorID, state, payload, encTime(now))
	return err
}

// ClearOperatorSession is the explicit cancel transition.
func (q *Queries) ClearOperatorSession(ctx context.Context, operatorID int64) error {
	_, err := q.db.ExecContext(ctx,
		`DELETE FROM operator_sessions WHERE operator_id = ?`, operatorID)
	return err
}
