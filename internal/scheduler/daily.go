package scheduler

import (
	"context"
	"errors"

	"presencebot/internal/storage"
	"presencebot/internal/transport"
	"presencebot/pkg/logx"
)

// RunDaily delivers today's calendar message to every consenting recipient.
// The message is marked sent only when at least one recipient received it;
// with zero deliveries it stays pending and the next tick retries the whole
// message. There is no per-recipient retry within a slot: a recipient who
// failed today simply misses this slot.
func (s *Scheduler) RunDaily(ctx context.Context) error {
	now := s.now()
	today := now.In(s.loc)
	log := s.log.With(logx.String("proc", "daily"))

	return s.store.WithTx(ctx, func(q *storage.Queries) error {
		msg, err := q.PendingMessageForDate(ctx, today)
		if errors.Is(err, storage.ErrNoRow) {
			log.Debug("no scheduled message for today", logx.Time("day", today))
			return nil
		}
		if err != nil {
			return err
		}

		recipients, err := q.ListConsenting(ctx)
		if err != nil {
			return err
		}
		if len(recipients) == 0 {
			log.Info("no consenting recipients", logx.Int64("message_id", msg.ID))
			return nil
		}

		delivered := s.deliverAll(ctx, log, recipients, transport.TextPayload(msg.Body))
		if delivered == 0 {
			log.Warn("message delivered to nobody; left pending",
				logx.Int64("message_id", msg.ID), logx.Int("recipients", len(recipients)))
			return nil
		}
		if err := q.MarkSent(ctx, msg.ID, now); err != nil {
			return err
		}
		log.Info("daily message sent",
			logx.Int64("message_id", msg.ID),
			logx.Int("delivered", delivered),
			logx.Int("recipients", len(recipients)))
		return nil
	})
}
