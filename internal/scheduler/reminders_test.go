package scheduler

import (
	"context"
	"strings"
	"testing"
	"time"

	"presencebot/internal/transport"
)

func reminderConfig() Config {
	return Config{
		ExpiryThresholdDays: 3,
		InactivityDays:      7,
		ReminderCooldown:    24 * time.Hour,
	}
}

func TestRemindersExpiryFiresAndStamps(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	st := testStore(t)
	r := addRecipient(t, st, 100, 1001, true, now)
	exp := now.Add(2 * 24 * time.Hour) // inside the 3-day threshold
	if _, err := st.Queries().EnsureSubscription(ctx, r.ID, &exp, now); err != nil {
		t.Fatalf("subscription: %v", err)
	}

	sender := &fakeSender{}
	s := testScheduler(t, st, sender, reminderConfig(), now)

	if err := s.RunReminders(ctx); err != nil {
		t.Fatalf("RunReminders: %v", err)
	}
	if len(sender.calls) != 1 {
		t.Fatalf("expected one reminder, got %v", sender.calls)
	}

	got, err := st.Queries().GetRecipient(ctx, r.ID)
	if err != nil {
		t.Fatalf("get recipient: %v", err)
	}
	if got.LastExpiryReminderAt == nil || !got.LastExpiryReminderAt.Equal(now) {
		t.Fatalf("expiry stamp not advanced: %v", got.LastExpiryReminderAt)
	}
	if got.LastInactivityReminderAt != nil {
		t.Fatalf("inactivity stamp must stay untouched: %v", got.LastInactivityReminderAt)
	}

	// Within cooldown nothing fires again.
	s2 := testScheduler(t, st, sender, reminderConfig(), now.Add(time.Hour))
	if err := s2.RunReminders(ctx); err != nil {
		t.Fatalf("second RunReminders: %v", err)
	}
	if len(sender.calls) != 1 {
		t.Fatalf("cooldown violated, got %d calls", len(sender.calls))
	}
}

func TestRemindersExpiryNotYetDue(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	st := testStore(t)
	r := addRecipient(t, st, 100, 1001, true, now)
	exp := now.Add(10 * 24 * time.Hour)
	if _, err := st.Queries().EnsureSubscription(ctx, r.ID, &exp, now); err != nil {
		t.Fatalf("subscription: %v", err)
	}

	sender := &fakeSender{}
	s := testScheduler(t, st, sender, reminderConfig(), now)
	if err := s.RunReminders(ctx); err != nil {
		t.Fatalf("RunReminders: %v", err)
	}
	if len(sender.calls) != 0 {
		t.Fatalf("expiry 10 days out must not fire, got %v", sender.calls)
	}
}

func TestRemindersSnoozedRecipientSkipped(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	st := testStore(t)
	r := addRecipient(t, st, 100, 1001, true, now)
	exp := now.Add(-time.Hour) // already expired, would fire
	if _, err := st.Queries().EnsureSubscription(ctx, r.ID, &exp, now); err != nil {
		t.Fatalf("subscription: %v", err)
	}
	until := now.Add(7 * 24 * time.Hour)
	if err := st.Queries().SetSnooze(ctx, r.ID, &until); err != nil {
		t.Fatalf("snooze: %v", err)
	}

	sender := &fakeSender{}
	s := testScheduler(t, st, sender, reminderConfig(), now)
	if err := s.RunReminders(ctx); err != nil {
		t.Fatalf("RunReminders: %v", err)
	}
	if len(sender.calls) != 0 {
		t.Fatalf("snoozed recipient must be skipped, got %v", sender.calls)
	}

	// After the snooze lapses the condition fires again.
	s2 := testScheduler(t, st, sender, reminderConfig(), until.Add(time.Minute))
	if err := s2.RunReminders(ctx); err != nil {
		t.Fatalf("post-snooze RunReminders: %v", err)
	}
	if len(sender.calls) != 1 {
		t.Fatalf("expected reminder after snooze lapsed, got %d", len(sender.calls))
	}
}

func TestRemindersInactivity(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	st := testStore(t)
	quiet := addRecipient(t, st, 100, 1001, true, now)
	if err := st.Queries().TouchActivity(ctx, quiet.ID, now.Add(-8*24*time.Hour)); err != nil {
		t.Fatalf("touch: %v", err)
	}
	// Never wrote anything: inactivity never fires for this one.
	addRecipient(t, st, 200, 2002, true, now)

	sender := &fakeSender{}
	s := testScheduler(t, st, sender, reminderConfig(), now)
	if err := s.RunReminders(ctx); err != nil {
		t.Fatalf("RunReminders: %v", err)
	}
	if len(sender.calls) != 1 || sender.calls[0] != 1001 {
		t.Fatalf("only the quiet recipient should be reminded, got %v", sender.calls)
	}
}

func TestRemindersFailedDeliveryDoesNotStamp(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	st := testStore(t)
	r := addRecipient(t, st, 100, 1001, true, now)
	exp := now.Add(-time.Hour)
	if _, err := st.Queries().EnsureSubscription(ctx, r.ID, &exp, now); err != nil {
		t.Fatalf("subscription: %v", err)
	}

	sender := &fakeSender{script: []transport.Outcome{transport.Transient}}
	s := testScheduler(t, st, sender, reminderConfig(), now)
	if err := s.RunReminders(ctx); err != nil {
		t.Fatalf("RunReminders: %v", err)
	}

	got, err := st.Queries().GetRecipient(ctx, r.ID)
	if err != nil {
		t.Fatalf("get recipient: %v", err)
	}
	if got.LastExpiryReminderAt != nil {
		t.Fatalf("failed delivery must not advance the stamp: %v", got.LastExpiryReminderAt)
	}

	// Same tick config, script exhausted: the retry goes through and stamps.
	if err := s.RunReminders(ctx); err != nil {
		t.Fatalf("retry RunReminders: %v", err)
	}
	got, err = st.Queries().GetRecipient(ctx, r.ID)
	if err != nil {
		t.Fatalf("get recipient: %v", err)
	}
	if got.LastExpiryReminderAt == nil {
		t.Fatal("expected stamp after successful retry")
	}
}

func TestRemindersCombinedMessage(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	st := testStore(t)
	r := addRecipient(t, st, 100, 1001, true, now)
	exp := now.Add(24 * time.Hour)
	if _, err := st.Queries().EnsureSubscription(ctx, r.ID, &exp, now); err != nil {
		t.Fatalf("subscription: %v", err)
	}
	if err := st.Queries().TouchActivity(ctx, r.ID, now.Add(-10*24*time.Hour)); err != nil {
		t.Fatalf("touch: %v", err)
	}

	sender := &fakeSender{}
	s := testScheduler(t, st, sender, reminderConfig(), now)
	if err := s.RunReminders(ctx); err != nil {
		t.Fatalf("RunReminders: %v", err)
	}
	// Both conditions in one message, not two sends.
	if len(sender.calls) != 1 {
		t.Fatalf("expected a single combined send, got %d", len(sender.calls))
	}

	got, err := st.Queries().GetRecipient(ctx, r.ID)
	if err != nil {
		t.Fatalf("get recipient: %v", err)
	}
	if got.LastExpiryReminderAt == nil || got.LastInactivityReminderAt == nil {
		t.Fatalf("both stamps must advance: %v %v",
			got.LastExpiryReminderAt, got.LastInactivityReminderAt)
	}
}

func TestComposeReminderWording(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	past := composeReminder(true, false, now.Add(-24*time.Hour), now)
	if !strings.Contains(past, "expired") {
		t.Fatalf("past expiry should read as expired: %q", past)
	}
	future := composeReminder(true, false, now.Add(24*time.Hour), now)
	if !strings.Contains(future, "expires") || strings.Contains(future, "expired on") {
		t.Fatalf("future expiry should read as upcoming: %q", future)
	}
	both := composeReminder(true, true, now.Add(24*time.Hour), now)
	if !strings.Contains(both, "\n\n") {
		t.Fatalf("combined reminder should join both parts: %q", both)
	}
}
