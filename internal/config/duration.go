package config

import (
	"fmt"
	"strings"
	"time"
)

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// Effective values below assume the Config already passed Validate, so a
// malformed duration can only mean a programming error upstream.

func effDur(raw string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func (c *Config) PollTimeout() time.Duration   { return effDur(c.Telegram.PollTimeout, DefaultPollTimeout) }
func (c *Config) BusyTimeout() time.Duration   { return effDur(c.Storage.BusyTimeout, 0) }
func (c *Config) OutboxEvery() time.Duration   { return effDur(c.Scheduler.OutboxEvery, DefaultOutboxEvery) }
func (c *Config) OutboxBackoff() time.Duration { return effDur(c.Scheduler.OutboxBackoff, DefaultOutboxBackoff) }
func (c *Config) ReminderCooldown() time.Duration {
	return effDur(c.Reminders.Cooldown, DefaultCooldown)
}
