package scheduler

import (
	"context"

	"presencebot/internal/storage"
	"presencebot/internal/transport"
	"presencebot/pkg/logx"
)

// RunOutbox delivers due deferred messages in stable (due time, id) order, at
// most OutboxBatch per tick. Failed rows are rescheduled to now+backoff with
// a distinguishing error code; retry is unbounded and the attempts counter is
// observability only.
func (s *Scheduler) RunOutbox(ctx context.Context) error {
	now := s.now()
	log := s.log.With(logx.String("proc", "outbox"))

	return s.store.WithTx(ctx, func(q *storage.Queries) error {
		msgs, err := q.DueOutboxMessages(ctx, now, s.cfg.OutboxBatch)
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			return nil
		}

		recipients, err := q.ListConsenting(ctx)
		if err != nil {
			return err
		}
		if len(recipients) == 0 {
			// Nothing to deliver to; push every selected row forward without
			// touching the transport.
			for i := range msgs {
				m := &msgs[i]
				if err := q.RecordAttempt(ctx, m.ID, now); err != nil {
					return err
				}
				if err := q.Reschedule(ctx, m.ID, now.Add(s.cfg.OutboxBackoff), errNoUsers); err != nil {
					return err
				}
			}
			log.Warn("no consenting recipients; outbox rescheduled",
				logx.Int("messages", len(msgs)), logx.Duration("backoff", s.cfg.OutboxBackoff))
			return nil
		}

		for i := range msgs {
			m := &msgs[i]
			if ctx.Err() != nil {
				// Stop iterating; the transaction rolls back and the next
				// tick re-selects the remaining rows.
				return ctx.Err()
			}
			if err := q.RecordAttempt(ctx, m.ID, now); err != nil {
				return err
			}

			delivered := s.deliverAll(ctx, log.With(logx.Int64("message_id", m.ID)),
				recipients, transport.TextPayload(m.Body))
			if delivered > 0 {
				if err := q.MarkSent(ctx, m.ID, now); err != nil {
					return err
				}
				log.Info("outbox message sent",
					logx.Int64("message_id", m.ID), logx.Int("delivered", delivered))
				continue
			}
			if err := q.Reschedule(ctx, m.ID, now.Add(s.cfg.OutboxBackoff), errNoDelivery); err != nil {
				return err
			}
			log.Warn("outbox message delivered to nobody; rescheduled",
				logx.Int64("message_id", m.ID), logx.Duration("backoff", s.cfg.OutboxBackoff))
		}
		return nil
	})
}
