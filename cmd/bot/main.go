package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"presencebot/internal/approval"
	"presencebot/internal/bot"
	"presencebot/internal/config"
	"presencebot/internal/scheduler"
	"presencebot/internal/storage"
	"presencebot/internal/transport"
	"presencebot/pkg/logx"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config file (yaml or json)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Parse(cfgPath)
	if err != nil {
		return err
	}

	logSvc, log := logx.New(logCfg(cfg))
	defer logSvc.Close()
	log = log.With(logx.String("svc", "presencebot"))

	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: cfg.BusyTimeout(),
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return err
	}
	defer store.Close()

	machine := approval.New(store, log.With(logx.String("comp", "approval")))

	b, err := bot.New(bot.Config{
		Token:             cfg.Telegram.Token,
		AdminID:           cfg.Telegram.AdminID,
		PollTimeout:       cfg.PollTimeout(),
		Timezone:          cfg.Scheduler.Timezone,
		StartDays:         cfg.Subscription.StartDays,
		DefaultSnoozeDays: cfg.Reminders.DefaultSnoozeDays,
	}, store, machine, log.With(logx.String("comp", "bot")))
	if err != nil {
		return err
	}

	sender := transport.NewTelegram(b.Telebot(), log.With(logx.String("comp", "transport")))
	sched, err := scheduler.New(store, sender, scheduler.Config{
		Timezone:            cfg.Scheduler.Timezone,
		DailyCron:           cfg.Scheduler.DailyCron,
		ReminderCron:        cfg.Scheduler.ReminderCron,
		OutboxEvery:         cfg.OutboxEvery(),
		OutboxBatch:         cfg.Scheduler.OutboxBatch,
		OutboxBackoff:       cfg.OutboxBackoff(),
		SendRatePerSec:      cfg.Scheduler.SendRatePerSec,
		ExpiryThresholdDays: cfg.Reminders.ExpiryThresholdDays,
		InactivityDays:      cfg.Reminders.InactivityDays,
		ReminderCooldown:    cfg.ReminderCooldown(),
	}, log.With(logx.String("comp", "scheduler")))
	if err != nil {
		return err
	}
	b.AttachScheduler(sched)

	var svc *scheduler.Service
	if cfg.Scheduler.Enabled {
		svc, err = scheduler.NewService(sched, log.With(logx.String("comp", "cron")))
		if err != nil {
			return err
		}
		svc.Start(ctx)
	} else {
		log.Warn("scheduler disabled, no automatic delivery")
	}

	// Live config reload. Only the logging block is hot-swappable; anything
	// else needs a restart.
	go func() {
		err := config.Watch(ctx, cfgPath, log.With(logx.String("comp", "config")), func(next *config.Config) {
			logSvc.Apply(logCfg(next))
			log.Info("logging config reloaded")
		})
		if err != nil && ctx.Err() == nil {
			log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	notifyReady()
	b.Start(ctx) // blocks until ctx is done
	notifyStopping()

	if svc != nil {
		<-svc.Stopped()
	}
	log.Info("shutdown complete")
	return nil
}

func logCfg(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}
