package config

type Config struct {
	Telegram     TelegramConfig     `json:"telegram"`
	Logging      LoggingConfig      `json:"logging"`
	Storage      StorageConfig      `json:"storage"`
	Scheduler    SchedulerConfig    `json:"scheduler"`
	Reminders    RemindersConfig    `json:"reminders"`
	Subscription SubscriptionConfig `json:"subscription"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// AdminID is the reviewer's Telegram user id. Proofs are forwarded there
	// and admin commands are restricted to it.
	AdminID int64 `json:"admin_id"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type StorageConfig struct {
	Path string `json:"path"`
	// BusyTimeout is a Go duration string (sqlite busy_timeout pragma).
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// SchedulerConfig controls the trigger cadence for the three delivery
// procedures. Cron specs run in Timezone; the outbox poll is a plain interval.
//
// All durations are Go duration strings (e.g. "10s", "1m").
type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"` // default "Europe/Moscow"

	// DailyCron fires the calendar broadcast.
	DailyCron string `json:"daily_cron,omitempty"` // default "0 13 * * *"
	// ReminderCron fires the reminder pass.
	ReminderCron string `json:"reminder_cron,omitempty"` // default "0 10 * * *"

	OutboxEvery   string `json:"outbox_every,omitempty"`   // default "10s"
	OutboxBatch   int    `json:"outbox_batch,omitempty"`   // default 20
	OutboxBackoff string `json:"outbox_backoff,omitempty"` // default "1m"

	// SendRatePerSec paces outbound transport calls in delivery loops.
	SendRatePerSec int `json:"send_rate_per_sec,omitempty"` // default 25
}

type RemindersConfig struct {
	// ExpiryThresholdDays: remind when the subscription expires within this
	// many days (already-expired subscriptions included).
	ExpiryThresholdDays int `json:"expiry_threshold_days,omitempty"` // default 3
	// InactivityDays: remind when the recipient has been silent this long.
	InactivityDays int `json:"inactivity_days,omitempty"` // default 7
	// Cooldown between repeat reminders of the same kind.
	Cooldown string `json:"cooldown,omitempty"` // default "24h"
	// DefaultSnoozeDays is used by /snooze without an argument.
	DefaultSnoozeDays int `json:"default_snooze_days,omitempty"` // default 7
}

type SubscriptionConfig struct {
	// StartDays is the initial subscription length granted on first consent.
	StartDays int `json:"start_days,omitempty"` // default 30
}
