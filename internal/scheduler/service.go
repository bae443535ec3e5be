package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"presencebot/pkg/logx"
)

// Service wires the three procedures to their triggers: cron specs for the
// daily broadcast and the reminder pass, a short interval for the outbox
// poll. Manual run-now hooks bypass the cadence.
type Service struct {
	sched *Scheduler
	log   logx.Logger

	c *cron.Cron

	mu      sync.Mutex
	runCtx  context.Context
	stopped chan struct{}
}

func NewService(sched *Scheduler, log logx.Logger) (*Service, error) {
	s := &Service{sched: sched, log: log}

	c := cron.New(cron.WithLocation(sched.loc))
	daily := sched.cfg.DailyCron
	if daily == "" {
		daily = "0 13 * * *"
	}
	reminder := sched.cfg.ReminderCron
	if reminder == "" {
		reminder = "0 10 * * *"
	}
	every := sched.cfg.OutboxEvery
	if every <= 0 {
		every = 10 * time.Second
	}

	if _, err := c.AddFunc(daily, s.job("daily", sched.RunDaily)); err != nil {
		return nil, fmt.Errorf("daily cron spec: %w", err)
	}
	if _, err := c.AddFunc(reminder, s.job("reminders", sched.RunReminders)); err != nil {
		return nil, fmt.Errorf("reminder cron spec: %w", err)
	}
	if _, err := c.AddFunc("@every "+every.String(), s.job("outbox", sched.RunOutbox)); err != nil {
		return nil, fmt.Errorf("outbox interval: %w", err)
	}

	s.c = c
	return s, nil
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped != nil {
		return
	}
	s.runCtx = ctx
	s.stopped = make(chan struct{})
	s.c.Start()
	s.log.Info("trigger service started",
		logx.String("tz", s.sched.loc.String()),
		logx.Duration("outbox_every", s.sched.cfg.OutboxEvery))

	go func() {
		<-ctx.Done()
		st := s.c.Stop()
		// Let an in-flight tick finish its transaction or roll back.
		<-st.Done()
		close(s.stopped)
		s.log.Info("trigger service stopped")
	}()
}

// Stopped returns a channel closed once all cron jobs have drained.
func (s *Service) Stopped() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// job wraps a procedure with a per-invocation run id, panic recovery and
// duration logging. A failed tick changes nothing and is retried on the next
// trigger; nothing here is fatal to the process.
func (s *Service) job(name string, fn func(context.Context) error) func() {
	return func() {
		s.mu.Lock()
		ctx := s.runCtx
		s.mu.Unlock()
		if ctx == nil || ctx.Err() != nil {
			return
		}

		log := s.log.With(logx.String("job", name), logx.String("run_id", uuid.NewString()))
		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				log.Error("tick panic recovered",
					logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			}
		}()

		if err := fn(ctx); err != nil {
			log.Error("tick failed", logx.Err(err), logx.Duration("took", time.Since(start)))
			return
		}
		log.Debug("tick completed", logx.Duration("took", time.Since(start)))
	}
}
