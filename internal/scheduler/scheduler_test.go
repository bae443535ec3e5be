package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"presencebot/internal/storage"
	"presencebot/internal/transport"
	"presencebot/pkg/logx"
)

// fakeSender replays a script of outcomes; once the script is exhausted every
// call succeeds. Chat ids are recorded in call order.
type fakeSender struct {
	script []transport.Outcome
	calls  []int64
}

func (f *fakeSender) Send(_ context.Context, chatID int64, _ transport.Payload) (transport.Outcome, error) {
	f.calls = append(f.calls, chatID)
	if len(f.script) == 0 {
		return transport.OK, nil
	}
	out := f.script[0]
	f.script = f.script[1:]
	if out == transport.OK {
		return out, nil
	}
	return out, errors.New("scripted failure")
}

func testStore(t *testing.T) *storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func testScheduler(t *testing.T, st *storage.Store, sender transport.Sender, cfg Config, now time.Time) *Scheduler {
	t.Helper()
	s, err := New(st, sender, cfg, logx.Nop())
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	s.now = func() time.Time { return now }
	return s
}

func addRecipient(t *testing.T, st *storage.Store, tgUserID, chatID int64, consent bool, now time.Time) *storage.Recipient {
	t.Helper()
	r, err := st.Queries().UpsertRecipient(context.Background(), tgUserID, chatID, consent, now)
	if err != nil {
		t.Fatalf("upsert recipient: %v", err)
	}
	return r
}
