package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"presencebot/internal/storage"
	"presencebot/internal/transport"
	"presencebot/pkg/logx"
)

// RunReminders evaluates every consenting, non-snoozed recipient against the
// expiry and inactivity conditions and sends one combined message per
// recipient covering whichever fired. Cooldown timestamps advance only for
// conditions that fired AND were delivered, so failed reminders retry on the
// next cadence tick with no separate retry path.
//
// Each recipient is its own transaction: one recipient's failure can neither
// block the next recipient nor hold a write lock across N transport calls.
func (s *Scheduler) RunReminders(ctx context.Context) error {
	now := s.now()
	log := s.log.With(logx.String("proc", "reminders"))

	recipients, err := s.store.Queries().ListConsenting(ctx)
	if err != nil {
		return err
	}

	sent := 0
	for i := range recipients {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		ok, err := s.remindOne(ctx, log, recipients[i].ID, now)
		if err != nil {
			log.Error("reminder evaluation failed",
				logx.Int64("recipient_id", recipients[i].ID), logx.Err(err))
			continue
		}
		if ok {
			sent++
		}
	}
	if sent > 0 {
		log.Info("reminder pass complete", logx.Int("sent", sent), logx.Int("evaluated", len(recipients)))
	}
	return nil
}

func (s *Scheduler) remindOne(ctx context.Context, log logx.Logger, recipientID int64, now time.Time) (bool, error) {
	delivered := false
	err := s.store.WithTx(ctx, func(q *storage.Queries) error {
		r, err := q.GetRecipient(ctx, recipientID)
		if err != nil {
			return err
		}
		if !r.Consent || r.Snoozed(now) {
			return nil
		}

		cooldown := s.cfg.ReminderCooldown
		fireExpiry := false
		var expiresAt time.Time
		if cooldownElapsed(r.LastExpiryReminderAt, now, cooldown) {
			sub, err := q.GetSubscription(ctx, r.ID)
			if err != nil && !errors.Is(err, storage.ErrNoRow) {
				return err
			}
			if err == nil && sub.ExpiresAt != nil {
				threshold := time.Duration(s.cfg.ExpiryThresholdDays) * 24 * time.Hour
				if sub.ExpiresAt.Sub(now) <= threshold {
					fireExpiry = true
					expiresAt = *sub.ExpiresAt
				}
			}
		}

		fireInactivity := false
		if cooldownElapsed(r.LastInactivityReminderAt, now, cooldown) &&
			r.LastActivityAt != nil &&
			now.Sub(*r.LastActivityAt) > time.Duration(s.cfg.InactivityDays)*24*time.Hour {
			fireInactivity = true
		}

		if !fireExpiry && !fireInactivity {
			return nil
		}

		text := composeReminder(fireExpiry, fireInactivity, expiresAt, now)
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		out, serr := s.sender.Send(ctx, r.ChatID, transport.TextPayload(text))
		if out != transport.OK {
			// Not stamped: the condition re-fires next tick.
			log.Warn("reminder delivery failed",
				logx.Int64("recipient_id", r.ID),
				logx.String("outcome", out.String()), logx.Err(serr))
			return nil
		}
		delivered = true

		var expStamp, inactStamp *time.Time
		if fireExpiry {
			expStamp = &now
		}
		if fireInactivity {
			inactStamp = &now
		}
		return q.StampReminders(ctx, r.ID, expStamp, inactStamp)
	})
	return delivered, err
}

// cooldownElapsed reports whether a reminder of this kind may be sent again.
func cooldownElapsed(last *time.Time, now time.Time, cooldown time.Duration) bool {
	return last == nil || now.Sub(*last) >= cooldown
}

func composeReminder(expiry, inactivity bool, expiresAt, now time.Time) string {
	var parts []string
	if expiry {
		if expiresAt.Before(now) {
			parts = append(parts, fmt.Sprintf(
				"Your subscription expired on %s. Send a photo or video of a completed task to renew it.",
				expiresAt.Format("2006-01-02")))
		} else {
			parts = append(parts, fmt.Sprintf(
				"Your subscription expires on %s. Send a photo or video of a completed task to extend it.",
				expiresAt.Format("2006-01-02")))
		}
	}
	if inactivity {
		parts = append(parts, "You have been quiet for a while. Write something, I keep the diary going.")
	}
	return strings.Join(parts, "\n\n")
}
