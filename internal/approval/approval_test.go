package approval

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"presencebot/internal/storage"
	"presencebot/pkg/logx"
)

type fixture struct {
	store     *storage.Store
	machine   *Machine
	recipient *storage.Recipient
	rule      storage.ActionRule
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)

	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	q := st.Queries()
	r, err := q.UpsertRecipient(ctx, 100, 1001, true, now)
	if err != nil {
		t.Fatalf("recipient: %v", err)
	}
	if err := q.UpsertRule(ctx, "task", "Completed the task", 30); err != nil {
		t.Fatalf("rule: %v", err)
	}
	rules, err := q.ActiveRules(ctx)
	if err != nil || len(rules) != 1 {
		t.Fatalf("active rules: %v %v", rules, err)
	}

	m := New(st, logx.Nop())
	m.now = func() time.Time { return now }
	return &fixture{store: st, machine: m, recipient: r, rule: rules[0], now: now}
}

func (f *fixture) addProof(t *testing.T, body string) int64 {
	t.Helper()
	id, err := f.store.Queries().InsertInbox(context.Background(), &storage.InboxMessage{
		RecipientID:  f.recipient.ID,
		TGMessageID:  42,
		Body:         body,
		MediaType:    "photo",
		MediaFileID:  "file-1",
		ActionStatus: storage.StatusPending,
	}, f.now)
	if err != nil {
		t.Fatalf("insert proof: %v", err)
	}
	return id
}

func (f *fixture) setExpiry(t *testing.T, at time.Time) {
	t.Helper()
	ctx := context.Background()
	sub, err := f.store.Queries().EnsureSubscription(ctx, f.recipient.ID, &at, f.now)
	if err != nil {
		t.Fatalf("subscription: %v", err)
	}
	if err := f.store.Queries().SetSubscriptionExpiry(ctx, sub.ID, at); err != nil {
		t.Fatalf("set expiry: %v", err)
	}
}

func (f *fixture) expiry(t *testing.T) time.Time {
	t.Helper()
	sub, err := f.store.Queries().GetSubscription(context.Background(), f.recipient.ID)
	if err != nil {
		t.Fatalf("get subscription: %v", err)
	}
	if sub.ExpiresAt == nil {
		t.Fatal("expiry not set")
	}
	return *sub.ExpiresAt
}

func TestApplyExtendsFromNowWhenExpired(t *testing.T) {
	f := newFixture(t)
	f.setExpiry(t, f.now.Add(-5*24*time.Hour))
	proofID := f.addProof(t, "done")

	res, err := f.machine.Apply(context.Background(), proofID, f.rule.ID)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	// A lapsed subscription restarts from now, the dead time is not credited.
	want := f.now.Add(30 * 24 * time.Hour)
	if !res.NewExpiresAt.Equal(want) {
		t.Fatalf("new expiry = %v, want %v", res.NewExpiresAt, want)
	}
	if !f.expiry(t).Equal(want) {
		t.Fatalf("stored expiry = %v, want %v", f.expiry(t), want)
	}
	if res.OldExpiresAt == nil || !res.OldExpiresAt.Equal(f.now.Add(-5*24*time.Hour)) {
		t.Fatalf("old expiry = %v", res.OldExpiresAt)
	}
}

func TestApplyExtendsFromFutureExpiry(t *testing.T) {
	f := newFixture(t)
	f.setExpiry(t, f.now.Add(10*24*time.Hour))
	proofID := f.addProof(t, "done")

	res, err := f.machine.Apply(context.Background(), proofID, f.rule.ID)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	// Remaining time is preserved: 10 days left + 30 granted.
	want := f.now.Add(40 * 24 * time.Hour)
	if !res.NewExpiresAt.Equal(want) {
		t.Fatalf("new expiry = %v, want %v", res.NewExpiresAt, want)
	}
}

func TestApplyWithoutSubscriptionCreatesOne(t *testing.T) {
	f := newFixture(t)
	proofID := f.addProof(t, "done")

	res, err := f.machine.Apply(context.Background(), proofID, f.rule.ID)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	want := f.now.Add(30 * 24 * time.Hour)
	if !res.NewExpiresAt.Equal(want) {
		t.Fatalf("new expiry = %v, want %v", res.NewExpiresAt, want)
	}
}

func TestApplyIsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	proofID := f.addProof(t, "done")

	if _, err := f.machine.Apply(ctx, proofID, f.rule.ID); err != nil {
		t.Fatalf("first Apply: %v", err)
	}
	first := f.expiry(t)

	// Second decision on the same proof is a no-op, whichever kind it is.
	if _, err := f.machine.Apply(ctx, proofID, f.rule.ID); !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("second Apply err = %v, want ErrAlreadyProcessed", err)
	}
	if _, err := f.machine.Deny(ctx, proofID); !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("Deny after Apply err = %v, want ErrAlreadyProcessed", err)
	}

	if !f.expiry(t).Equal(first) {
		t.Fatalf("expiry moved after terminal state: %v != %v", f.expiry(t), first)
	}
	n, err := f.store.Queries().CountActionEvents(ctx, f.recipient.ID)
	if err != nil {
		t.Fatalf("count events: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected exactly one audit event, got %d", n)
	}
}

func TestApplyConcurrentSingleWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	proofID := f.addProof(t, "done")

	// Two racing decisions on one pending proof: the store transaction is
	// the only guard, so exactly one may win.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.machine.Apply(ctx, proofID, f.rule.ID)
		}(i)
	}
	wg.Wait()

	var applied, already int
	for _, err := range errs {
		switch {
		case err == nil:
			applied++
		case errors.Is(err, ErrAlreadyProcessed):
			already++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if applied != 1 || already != 1 {
		t.Fatalf("want one winner and one no-op, got %d applied, %d already-processed", applied, already)
	}

	// The subscription advanced exactly once, with exactly one audit record.
	want := f.now.Add(30 * 24 * time.Hour)
	if !f.expiry(t).Equal(want) {
		t.Fatalf("expiry = %v, want %v", f.expiry(t), want)
	}
	n, err := f.store.Queries().CountActionEvents(ctx, f.recipient.ID)
	if err != nil {
		t.Fatalf("count events: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected exactly one audit event, got %d", n)
	}
}

func TestDenyLeavesSubscriptionAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.setExpiry(t, f.now.Add(5*24*time.Hour))
	proofID := f.addProof(t, "done")

	res, err := f.machine.Deny(ctx, proofID)
	if err != nil {
		t.Fatalf("Deny: %v", err)
	}
	if res.ChatID != 1001 {
		t.Fatalf("chat id = %d", res.ChatID)
	}
	if !f.expiry(t).Equal(f.now.Add(5 * 24 * time.Hour)) {
		t.Fatalf("deny must not touch the subscription: %v", f.expiry(t))
	}

	if _, err := f.machine.Apply(ctx, proofID, f.rule.ID); !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("Apply after Deny err = %v, want ErrAlreadyProcessed", err)
	}
	n, err := f.store.Queries().CountActionEvents(ctx, f.recipient.ID)
	if err != nil {
		t.Fatalf("count events: %v", err)
	}
	if n != 0 {
		t.Fatalf("deny must not write audit events, got %d", n)
	}
}

func TestApplyUnknownInputs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	proofID := f.addProof(t, "done")

	if _, err := f.machine.Apply(ctx, 9999, f.rule.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing proof err = %v", err)
	}
	if _, err := f.machine.Apply(ctx, proofID, 9999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing rule err = %v", err)
	}
	// Nothing was mutated on the failed paths.
	got, err := f.store.Queries().GetInbox(ctx, proofID)
	if err != nil {
		t.Fatalf("get proof: %v", err)
	}
	if got.ActionStatus != storage.StatusPending {
		t.Fatalf("proof status = %q, want pending", got.ActionStatus)
	}
}

func TestSelfSelect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	proofID := f.addProof(t, "done")

	if _, err := f.machine.SelfSelect(ctx, proofID, f.rule.ID, 999); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("foreign self-select err = %v, want ErrNotOwner", err)
	}

	title, err := f.machine.SelfSelect(ctx, proofID, f.rule.ID, f.recipient.TGUserID)
	if err != nil {
		t.Fatalf("SelfSelect: %v", err)
	}
	if title != f.rule.Title {
		t.Fatalf("title = %q", title)
	}

	got, err := f.store.Queries().GetInbox(ctx, proofID)
	if err != nil {
		t.Fatalf("get proof: %v", err)
	}
	if got.ActionRuleID == nil || *got.ActionRuleID != f.rule.ID {
		t.Fatalf("rule not recorded: %v", got.ActionRuleID)
	}
	if got.ActionStatus != storage.StatusPending {
		t.Fatalf("self-select must not finalize, status = %q", got.ActionStatus)
	}
	// Subscription untouched until the reviewer approves.
	if _, err := f.store.Queries().GetSubscription(ctx, f.recipient.ID); !errors.Is(err, storage.ErrNoRow) {
		t.Fatalf("self-select must not create a subscription: %v", err)
	}

	// Terminal proofs reject further selection.
	if _, err := f.machine.Apply(ctx, proofID, f.rule.ID); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if _, err := f.machine.SelfSelect(ctx, proofID, f.rule.ID, f.recipient.TGUserID); !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("self-select on terminal proof err = %v", err)
	}
}
