package storage

import (
	"context"
	"database/sql"
	"errors"
)

func scanRule(row interface{ Scan(...any) error }) (*ActionRule, error) {
	var (
		r      ActionRule
		active int
	)
	if err := row.Scan(&r.ID, &r.Key, &r.Title, &r.ExtensionDays, &active); err != nil {
		return nil, err
	}
	r.Active = active != 0
	return &r, nil
}

func (q *Queries) GetRule(ctx context.Context, id int64) (*ActionRule, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT id, key, title, extension_days, active FROM action_rules WHERE id = ?`, id)
	r, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRow
	}
	return r, err
}

// ActiveRules returns the extension policies offered to reviewers and
// submitters, in id order.
func (q *Queries) ActiveRules(ctx context.Context) ([]ActionRule, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, key, title, extension_days, active FROM action_rules WHERE active = 1 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ActionRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// UpsertRule creates or refreshes a rule by key, reactivating it (seed).
func (q *Queries) UpsertRule(ctx context.Context, key, title string, extensionDays int) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO action_rules(key, title, extension_days, active)
		VALUES(?,?,?,1)
		ON CONFLICT(key) DO UPDATE SET
			title          = excluded.title,
			extension_days = excluded.extension_days,
			active         = 1`,
		key, title, extensionDays)
	return err
}
