package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// Parse reads and strictly decodes the config file at path.
// Unknown keys are rejected so typos surface at startup, not at runtime.
func Parse(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	jb, err := coerceToJSONBytes(path, b)
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("invalid config: trailing data")
		}
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	if c.Telegram.AdminID == 0 {
		return errors.New("telegram.admin_id is required")
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return errors.New("storage.path is required")
	}
	if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("scheduler.outbox_every", c.Scheduler.OutboxEvery); err != nil {
		return err
	}
	if _, err := ParseDurationField("scheduler.outbox_backoff", c.Scheduler.OutboxBackoff); err != nil {
		return err
	}
	if _, err := ParseDurationField("reminders.cooldown", c.Reminders.Cooldown); err != nil {
		return err
	}
	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
	}
	if c.Scheduler.OutboxBatch < 0 {
		return errors.New("scheduler.outbox_batch must be >= 0")
	}
	return nil
}

// Defaults used when optional fields are omitted or zero.
const (
	DefaultTimezone       = "Europe/Moscow"
	DefaultDailyCron      = "0 13 * * *"
	DefaultReminderCron   = "0 10 * * *"
	DefaultOutboxBatch    = 20
	DefaultSendRatePerSec = 25

	DefaultExpiryThresholdDays = 3
	DefaultInactivityDays      = 7
	DefaultSnoozeDays          = 7
	DefaultStartDays           = 30
)

const (
	DefaultPollTimeout   = 10 * time.Second
	DefaultOutboxEvery   = 10 * time.Second
	DefaultOutboxBackoff = time.Minute
	DefaultCooldown      = 24 * time.Hour
)
