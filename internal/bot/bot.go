// Package bot is the Telegram-facing surface: consent flow, inbox capture,
// proof review keyboards, snooze commands and the admin menu. All scheduling
// and approval decisions are delegated to the scheduler and approval
// packages; this package only renders and routes.
package bot

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"presencebot/internal/approval"
	"presencebot/internal/scheduler"
	"presencebot/internal/storage"
	"presencebot/pkg/logx"
)

type Config struct {
	Token       string
	AdminID     int64
	PollTimeout time.Duration

	Timezone          string
	StartDays         int
	DefaultSnoozeDays int
}

type Bot struct {
	tb      *tele.Bot
	store   *storage.Store
	machine *approval.Machine
	sched   *scheduler.Scheduler
	cfg     Config
	loc     *time.Location
	log     logx.Logger

	// now is swappable for tests.
	now func() time.Time
}

func New(cfg Config, store *storage.Store, machine *approval.Machine, log logx.Logger) (*Bot, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.AdminID == 0 {
		return nil, errors.New("admin id is required")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	tb, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
		// Bounded per-call timeout for every outbound API call.
		Client: &http.Client{Timeout: timeout + 5*time.Second},
	})
	if err != nil {
		return nil, err
	}

	loc := time.UTC
	if cfg.Timezone != "" {
		loc, err = time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, err
		}
	}
	if cfg.StartDays <= 0 {
		cfg.StartDays = 30
	}
	if cfg.DefaultSnoozeDays <= 0 {
		cfg.DefaultSnoozeDays = 7
	}

	b := &Bot{
		tb:      tb,
		store:   store,
		machine: machine,
		cfg:     cfg,
		loc:     loc,
		log:     log,
		now:     time.Now,
	}
	b.register()
	return b, nil
}

// Telebot exposes the underlying bot so the transport adapter can share one
// client and token.
func (b *Bot) Telebot() *tele.Bot { return b.tb }

// AttachScheduler wires the scheduler in after construction. The delivery
// transport is built on top of Telebot(), so the scheduler can only exist
// once the bot does. Must be called before Start.
func (b *Bot) AttachScheduler(s *scheduler.Scheduler) { b.sched = s }

func (b *Bot) register() {
	b.tb.Handle("/start", b.onStart)
	b.tb.Handle("/help", b.onHelp)
	b.tb.Handle("/menu", b.onMenu)
	b.tb.Handle("/rules", b.onRules)
	b.tb.Handle("/my_status", b.onMyStatus)
	b.tb.Handle("/snooze", b.onSnooze)
	b.tb.Handle("/unsnooze", b.onUnsnooze)

	b.tb.Handle("/admin", b.adminOnly(b.onAdminMenu))
	b.tb.Handle("/status", b.adminOnly(b.onAdminStatus))
	b.tb.Handle("/proofs", b.adminOnly(b.onAdminProofs))
	b.tb.Handle("/outbox", b.adminOnly(b.onAdminNext))
	b.tb.Handle("/schedule_all", b.adminOnly(b.onAdminSchedule))
	b.tb.Handle("/send_random", b.adminOnly(b.onAdminRandom))
	b.tb.Handle("/defer", b.adminOnly(b.onAdminDefer))
	b.tb.Handle("/cancel", b.adminOnly(b.onAdminCancel))

	b.tb.Handle(tele.OnText, b.onText)
	b.tb.Handle(tele.OnPhoto, b.onInbound)
	b.tb.Handle(tele.OnVideo, b.onInbound)
	b.tb.Handle(tele.OnVideoNote, b.onInbound)
	b.tb.Handle(tele.OnCallback, b.onCallback)
}

// Start blocks on long polling until ctx is done, then stops the poller.
func (b *Bot) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		b.tb.Stop()
	}()
	b.log.Info("polling started")
	b.tb.Start()
	b.log.Info("polling stopped")
}

// adminOnly silently drops a command from anyone but the reviewer.
func (b *Bot) adminOnly(h tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		if c.Sender() == nil || c.Sender().ID != b.cfg.AdminID {
			return nil
		}
		return h(c)
	}
}

func (b *Bot) isAdmin(c tele.Context) bool {
	return c.Sender() != nil && c.Sender().ID == b.cfg.AdminID
}

// clearKeyboard removes an inline keyboard after a decision; best-effort.
func (b *Bot) clearKeyboard(c tele.Context) {
	if c.Message() == nil {
		return
	}
	if _, err := b.tb.EditReplyMarkup(c.Message(), nil); err != nil {
		b.log.Debug("clear keyboard failed", logx.Err(err))
	}
}
