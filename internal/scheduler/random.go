package scheduler

import (
	"context"
	"errors"

	"presencebot/internal/storage"
	"presencebot/internal/transport"
	"presencebot/pkg/logx"
)

// RunRandom sends a random calendar message to every consenting recipient
// except the operator who triggered it. Best-effort: no delivery bookkeeping,
// the row stays untouched. Returns the delivered count.
func (s *Scheduler) RunRandom(ctx context.Context, excludeTGUserID int64) (int, error) {
	log := s.log.With(logx.String("proc", "random"))

	q := s.store.Queries()
	msg, err := q.RandomScheduleMessage(ctx)
	if errors.Is(err, storage.ErrNoRow) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	recipients, err := q.ListConsenting(ctx)
	if err != nil {
		return 0, err
	}
	targets := recipients[:0]
	for _, r := range recipients {
		if r.TGUserID != excludeTGUserID {
			targets = append(targets, r)
		}
	}
	if len(targets) == 0 {
		return 0, nil
	}

	delivered := s.deliverAll(ctx, log.With(logx.Int64("message_id", msg.ID)),
		targets, transport.TextPayload(msg.Body))
	log.Info("random message sent", logx.Int64("message_id", msg.ID), logx.Int("delivered", delivered))
	return delivered, nil
}
