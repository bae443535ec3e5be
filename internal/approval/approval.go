// Package approval moves a submitted proof through pending -> approved/denied
// and applies the extension rule to the recipient's subscription exactly once.
// The store transaction around each transition is the concurrency guard: of
// two racing decisions on one proof, exactly one commits.
package approval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"presencebot/internal/storage"
	"presencebot/pkg/logx"
)

var (
	// ErrNotFound: the proof, its recipient, or the rule is missing or the
	// rule is inactive. No mutation happened.
	ErrNotFound = errors.New("approval: not found")
	// ErrAlreadyProcessed: the proof already reached a terminal state. Benign
	// race outcome, reported as a no-op rather than a failure.
	ErrAlreadyProcessed = errors.New("approval: already processed")
	// ErrNotOwner: a self-select attempt by someone other than the submitter.
	ErrNotOwner = errors.New("approval: not the submitting recipient")
)

type Machine struct {
	store *storage.Store
	log   logx.Logger

	// now is swappable for tests.
	now func() time.Time
}

func New(store *storage.Store, log logx.Logger) *Machine {
	return &Machine{store: store, log: log, now: time.Now}
}

// ApplyResult carries what downstream notification needs.
type ApplyResult struct {
	OldExpiresAt *time.Time
	NewExpiresAt time.Time
	ChatID       int64
	RuleTitle    string
}

// Apply approves the proof with the given rule and advances the subscription:
// new expiry = max(current expiry, now) + rule extension days. An approval
// never reduces remaining time. Appends an immutable audit record and
// terminally marks the proof.
func (m *Machine) Apply(ctx context.Context, proofID, ruleID int64) (ApplyResult, error) {
	var res ApplyResult
	err := m.store.WithTx(ctx, func(q *storage.Queries) error {
		proof, err := q.GetInbox(ctx, proofID)
		if errors.Is(err, storage.ErrNoRow) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if proof.ActionStatus.Terminal() {
			return ErrAlreadyProcessed
		}

		recipient, err := q.GetRecipient(ctx, proof.RecipientID)
		if errors.Is(err, storage.ErrNoRow) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		rule, err := q.GetRule(ctx, ruleID)
		if errors.Is(err, storage.ErrNoRow) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if !rule.Active {
			return ErrNotFound
		}

		now := m.now()
		sub, err := q.EnsureSubscription(ctx, recipient.ID, &now, now)
		if err != nil {
			return err
		}

		old := sub.ExpiresAt
		base := now
		if old != nil && old.After(now) {
			base = *old
		}
		newExpiry := base.Add(time.Duration(rule.ExtensionDays) * 24 * time.Hour)
		if err := q.SetSubscriptionExpiry(ctx, sub.ID, newExpiry); err != nil {
			return err
		}

		raw := strings.TrimSpace(proof.Body)
		if rule.Title != "" {
			if raw == "" {
				raw = rule.Title
			} else {
				raw = rule.Title + "; " + raw
			}
		}
		if err := q.InsertActionEvent(ctx, &storage.ActionEvent{
			RecipientID:  recipient.ID,
			RuleID:       rule.ID,
			RawText:      raw,
			OldExpiresAt: old,
			NewExpiresAt: &newExpiry,
		}, now); err != nil {
			return err
		}

		// The reviewer's rule wins over any earlier self-select.
		if err := q.FinalizeInbox(ctx, proof.ID, storage.StatusApproved, &rule.ID, now); err != nil {
			return err
		}

		res = ApplyResult{
			OldExpiresAt: old,
			NewExpiresAt: newExpiry,
			ChatID:       recipient.ChatID,
			RuleTitle:    rule.Title,
		}
		return nil
	})
	if err != nil {
		return ApplyResult{}, err
	}
	m.log.Info("proof approved",
		logx.Int64("proof_id", proofID), logx.Int64("rule_id", ruleID),
		logx.Time("new_expires_at", res.NewExpiresAt))
	return res, nil
}

// DenyResult identifies the submitter for downstream notification.
type DenyResult struct {
	ChatID   int64
	TGUserID int64
}

// Deny terminally rejects the proof. No subscription mutation.
func (m *Machine) Deny(ctx context.Context, proofID int64) (DenyResult, error) {
	var res DenyResult
	err := m.store.WithTx(ctx, func(q *storage.Queries) error {
		proof, err := q.GetInbox(ctx, proofID)
		if errors.Is(err, storage.ErrNoRow) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if proof.ActionStatus.Terminal() {
			return ErrAlreadyProcessed
		}

		recipient, err := q.GetRecipient(ctx, proof.RecipientID)
		if errors.Is(err, storage.ErrNoRow) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		if err := q.FinalizeInbox(ctx, proof.ID, storage.StatusDenied, nil, m.now()); err != nil {
			return err
		}
		res = DenyResult{ChatID: recipient.ChatID, TGUserID: recipient.TGUserID}
		return nil
	})
	if err != nil {
		return DenyResult{}, err
	}
	m.log.Info("proof denied", logx.Int64("proof_id", proofID))
	return res, nil
}

// SelfSelect lets the submitting recipient pre-pick a rule before the
// reviewer decides. Permitted only while the proof is not terminal and only
// by its owner; records the rule without touching the subscription. Returns
// the rule title for the confirmation message.
func (m *Machine) SelfSelect(ctx context.Context, proofID, ruleID, actorTGUserID int64) (string, error) {
	var title string
	err := m.store.WithTx(ctx, func(q *storage.Queries) error {
		proof, err := q.GetInbox(ctx, proofID)
		if errors.Is(err, storage.ErrNoRow) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if proof.ActionStatus.Terminal() {
			return ErrAlreadyProcessed
		}

		recipient, err := q.GetRecipient(ctx, proof.RecipientID)
		if errors.Is(err, storage.ErrNoRow) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if recipient.TGUserID != actorTGUserID {
			return ErrNotOwner
		}

		rule, err := q.GetRule(ctx, ruleID)
		if errors.Is(err, storage.ErrNoRow) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if !rule.Active {
			return ErrNotFound
		}

		if err := q.SetInboxRule(ctx, proof.ID, rule.ID); err != nil {
			return err
		}
		title = rule.Title
		return nil
	})
	if err != nil {
		return "", err
	}
	m.log.Info("proof rule self-selected",
		logx.Int64("proof_id", proofID), logx.Int64("rule_id", ruleID))
	return title, nil
}

// FormatExpiry renders an expiry for user-facing confirmations.
func FormatExpiry(t time.Time) string {
	return fmt.Sprintf("%s UTC", t.UTC().Format("2006-01-02 15:04"))
}
