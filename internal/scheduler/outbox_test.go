package scheduler

import (
	"context"
	"testing"
	"time"

	"presencebot/internal/transport"
)

func TestRunOutboxNoRecipientsReschedules(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	backoff := time.Minute

	st := testStore(t)
	id, err := st.Queries().EnqueueOutbox(ctx, "deferred hello", "deferred", now.Add(-time.Second))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	sender := &fakeSender{}
	s := testScheduler(t, st, sender, Config{OutboxBackoff: backoff}, now)

	if err := s.RunOutbox(ctx); err != nil {
		t.Fatalf("RunOutbox: %v", err)
	}
	if len(sender.calls) != 0 {
		t.Fatalf("transport must not be touched without recipients, got %v", sender.calls)
	}

	// Not due anymore at now, due again after backoff, failure code recorded.
	msgs, err := st.Queries().DueOutboxMessages(ctx, now, 10)
	if err != nil {
		t.Fatalf("due at now: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("row should be pushed past now, got %d due", len(msgs))
	}
	msgs, err = st.Queries().DueOutboxMessages(ctx, now.Add(backoff), 10)
	if err != nil {
		t.Fatalf("due after backoff: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != id {
		t.Fatalf("expected the row due after backoff, got %v", msgs)
	}
	if msgs[0].LastError != "NO_USERS" {
		t.Fatalf("expected NO_USERS, got %q", msgs[0].LastError)
	}
	if msgs[0].Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", msgs[0].Attempts)
	}
}

func TestRunOutboxDeliversAndFinalizes(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	st := testStore(t)
	addRecipient(t, st, 100, 1001, true, now)
	if _, err := st.Queries().EnqueueOutbox(ctx, "deferred hello", "deferred", now.Add(-time.Second)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	sender := &fakeSender{}
	s := testScheduler(t, st, sender, Config{}, now)

	if err := s.RunOutbox(ctx); err != nil {
		t.Fatalf("RunOutbox: %v", err)
	}
	if len(sender.calls) != 1 || sender.calls[0] != 1001 {
		t.Fatalf("expected one delivery, got %v", sender.calls)
	}
	msgs, err := st.Queries().DueOutboxMessages(ctx, now.Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("sent row must never be selected again, got %d", len(msgs))
	}
}

func TestRunOutboxFailedDeliveryReschedules(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	backoff := 2 * time.Minute

	st := testStore(t)
	addRecipient(t, st, 100, 1001, true, now)
	if _, err := st.Queries().EnqueueOutbox(ctx, "deferred hello", "deferred", now.Add(-time.Second)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	sender := &fakeSender{script: []transport.Outcome{transport.Transient}}
	s := testScheduler(t, st, sender, Config{OutboxBackoff: backoff}, now)

	if err := s.RunOutbox(ctx); err != nil {
		t.Fatalf("RunOutbox: %v", err)
	}
	msgs, err := st.Queries().DueOutboxMessages(ctx, now.Add(backoff), 10)
	if err != nil {
		t.Fatalf("due after backoff: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected the row rescheduled, got %d", len(msgs))
	}
	if msgs[0].LastError != "NO_DELIVERY" {
		t.Fatalf("expected NO_DELIVERY, got %q", msgs[0].LastError)
	}
	if msgs[0].Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", msgs[0].Attempts)
	}

	// Retry is unbounded: the next tick after backoff succeeds and clears
	// the failure code.
	s2 := testScheduler(t, st, sender, Config{OutboxBackoff: backoff}, now.Add(backoff))
	if err := s2.RunOutbox(ctx); err != nil {
		t.Fatalf("retry RunOutbox: %v", err)
	}
	msgs, err = st.Queries().DueOutboxMessages(ctx, now.Add(24*time.Hour), 10)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("row should be sent on retry, got %d due", len(msgs))
	}
}

func TestRunOutboxBatchLimitAndOrder(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	st := testStore(t)
	addRecipient(t, st, 100, 1001, true, now)
	q := st.Queries()
	// Enqueued out of due order on purpose.
	if _, err := q.EnqueueOutbox(ctx, "second", "deferred", now.Add(-time.Minute)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.EnqueueOutbox(ctx, "first", "deferred", now.Add(-time.Hour)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	sender := &fakeSender{}
	s := testScheduler(t, st, sender, Config{OutboxBatch: 1}, now)

	if err := s.RunOutbox(ctx); err != nil {
		t.Fatalf("RunOutbox: %v", err)
	}
	if len(sender.calls) != 1 {
		t.Fatalf("batch of 1 must deliver exactly one message, got %d", len(sender.calls))
	}
	remaining, err := q.DueOutboxMessages(ctx, now, 10)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(remaining) != 1 || remaining[0].Body != "second" {
		t.Fatalf("the earlier-due row must go first; remaining %v", remaining)
	}
}
