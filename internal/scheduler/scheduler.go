// Package scheduler implements the three trigger-driven delivery procedures:
// the daily calendar broadcast, the deferred outbox with backoff retry, and
// the reminder pass. Each run spans one storage transaction so concurrent
// invocations never both finalize the same row.
package scheduler

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"presencebot/internal/storage"
	"presencebot/internal/transport"
	"presencebot/pkg/logx"
)

// Failure codes recorded on outbox rows.
const (
	errNoUsers    = "NO_USERS"
	errNoDelivery = "NO_DELIVERY"
)

type Config struct {
	Timezone     string
	DailyCron    string
	ReminderCron string

	OutboxEvery   time.Duration
	OutboxBatch   int
	OutboxBackoff time.Duration

	SendRatePerSec int

	ExpiryThresholdDays int
	InactivityDays      int
	ReminderCooldown    time.Duration
}

type Scheduler struct {
	store  *storage.Store
	sender transport.Sender
	log    logx.Logger
	cfg    Config
	loc    *time.Location

	limiter *rate.Limiter

	// now is swappable for tests.
	now func() time.Time
}

func New(store *storage.Store, sender transport.Sender, cfg Config, log logx.Logger) (*Scheduler, error) {
	loc := time.UTC
	if cfg.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, err
		}
	}
	rps := cfg.SendRatePerSec
	if rps <= 0 {
		rps = 25
	}
	if cfg.OutboxBatch <= 0 {
		cfg.OutboxBatch = 20
	}
	if cfg.OutboxBackoff <= 0 {
		cfg.OutboxBackoff = time.Minute
	}
	if cfg.ReminderCooldown <= 0 {
		cfg.ReminderCooldown = 24 * time.Hour
	}
	return &Scheduler{
		store:   store,
		sender:  sender,
		log:     log,
		cfg:     cfg,
		loc:     loc,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		now:     time.Now,
	}, nil
}

// deliverAll attempts delivery to every recipient in order. Per-recipient
// failures are classified and logged but never abort the loop; context
// cancellation stops iterating so the surrounding transaction rolls back.
func (s *Scheduler) deliverAll(ctx context.Context, log logx.Logger, recipients []storage.Recipient, p transport.Payload) int {
	delivered := 0
	for i := range recipients {
		r := &recipients[i]
		if ctx.Err() != nil {
			return delivered
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return delivered
		}
		out, err := s.sender.Send(ctx, r.ChatID, p)
		switch out {
		case transport.OK:
			delivered++
		case transport.Blocked:
			log.Warn("recipient blocked delivery",
				logx.Int64("recipient_id", r.ID), logx.Err(err))
		default:
			log.Warn("transient delivery failure",
				logx.Int64("recipient_id", r.ID), logx.Err(err))
		}
	}
	return delivered
}
