package bot

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"presencebot/internal/storage"
	"presencebot/pkg/logx"
)

// Operator dialog states, stored in operator_sessions.
const sessionAwaitDeferText = "awaiting_defer_text"

// handleAdminSession consumes a text message when the admin is mid-dialog.
// Returns true when the message was handled and must not fall through to the
// regular text routing.
func (b *Bot) handleAdminSession(c tele.Context) (bool, error) {
	ctx := context.Background()
	q := b.store.Queries()

	sess, err := q.GetOperatorSession(ctx, c.Sender().ID)
	if errors.Is(err, storage.ErrNoRow) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	switch sess.State {
	case sessionAwaitDeferText:
		text := strings.TrimSpace(c.Text())
		if text == "" {
			return true, c.Send("The deferred message must have text. Try again or /cancel.")
		}
		now := b.now()
		var id int64
		err := b.store.WithTx(ctx, func(q *storage.Queries) error {
			var err error
			if id, err = q.EnqueueOutbox(ctx, text, "deferred", now); err != nil {
				return err
			}
			return q.ClearOperatorSession(ctx, c.Sender().ID)
		})
		if err != nil {
			return true, err
		}
		b.log.Info("deferred message queued", logx.Int64("message_id", id))
		return true, c.Send("Queued. It will go out with the next delivery pass.")
	default:
		// Unknown leftover state; drop it and let the message fall through.
		if err := q.ClearOperatorSession(ctx, c.Sender().ID); err != nil {
			return false, err
		}
		return false, nil
	}
}

func (b *Bot) onAdminMenu(c tele.Context) error {
	return c.Send("Admin menu:", adminMenuKeyboard())
}

func (b *Bot) onAdminStatus(c tele.Context) error {
	ctx := context.Background()
	q := b.store.Queries()

	r, err := b.subscriberRecipient(ctx)
	if err != nil {
		return err
	}
	if r == nil {
		return c.Send("No recipient yet.")
	}

	expires := "none"
	if sub, err := q.GetSubscription(ctx, r.ID); err == nil && sub.ExpiresAt != nil {
		expires = sub.ExpiresAt.In(b.loc).Format("2006-01-02 15:04")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Subscription active until: %s\n", expires)

	events, err := q.RecentActionEvents(ctx, r.ID, 5)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		sb.WriteString("No approved actions yet.")
	} else {
		sb.WriteString("Recent actions:\n")
		for _, e := range events {
			until := "?"
			if e.NewExpiresAt != nil {
				until = e.NewExpiresAt.In(b.loc).Format("2006-01-02")
			}
			fmt.Fprintf(&sb, "- %s %s → until %s\n",
				e.CreatedAt.In(b.loc).Format("01-02"), e.RuleTitle, until)
		}
	}
	return c.Send(strings.TrimRight(sb.String(), "\n"))
}

func (b *Bot) onAdminUser(c tele.Context) error {
	ctx := context.Background()

	r, err := b.subscriberRecipient(ctx)
	if err != nil {
		return err
	}
	if r == nil {
		return c.Send("No recipient yet.")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Recipient #%d (tg %d)\n", r.ID, r.TGUserID)
	fmt.Fprintf(&sb, "Consent: %v\n", r.Consent)
	if r.Snoozed(b.now()) {
		fmt.Fprintf(&sb, "Snoozed until: %s\n", r.SnoozeUntil.In(b.loc).Format("2006-01-02"))
	}
	if r.LastActivityAt != nil {
		fmt.Fprintf(&sb, "Last activity: %s\n", r.LastActivityAt.In(b.loc).Format("2006-01-02 15:04"))
	} else {
		sb.WriteString("Last activity: never\n")
	}
	fmt.Fprintf(&sb, "Since: %s", r.CreatedAt.In(b.loc).Format("2006-01-02"))
	return c.Send(sb.String())
}

func (b *Bot) onAdminProofs(c tele.Context) error {
	ctx := context.Background()
	q := b.store.Queries()

	r, err := b.subscriberRecipient(ctx)
	if err != nil {
		return err
	}
	if r == nil {
		return c.Send("No recipient yet.")
	}

	proofs, err := q.RecentProofs(ctx, r.ID, 10)
	if err != nil {
		return err
	}
	if len(proofs) == 0 {
		return c.Send("No proofs yet.")
	}

	for _, p := range proofs {
		caption := fmt.Sprintf("#%d %s [%s]", p.ID,
			p.CreatedAt.In(b.loc).Format("2006-01-02 15:04"), proofStatusLabel(p.ActionStatus))
		if p.Body != "" {
			caption += "\n" + p.Body
		}
		var err error
		switch p.MediaType {
		case "photo":
			_, err = b.tb.Send(c.Chat(), &tele.Photo{File: tele.File{FileID: p.MediaFileID}, Caption: caption})
		case "video":
			_, err = b.tb.Send(c.Chat(), &tele.Video{File: tele.File{FileID: p.MediaFileID}, Caption: caption})
		case "video_note":
			_, err = b.tb.Send(c.Chat(), &tele.VideoNote{File: tele.File{FileID: p.MediaFileID}})
		default:
			_, err = b.tb.Send(c.Chat(), caption)
		}
		if err != nil {
			b.log.Warn("proof resend failed", logx.Int64("proof_id", p.ID), logx.Err(err))
		}
	}
	return nil
}

func proofStatusLabel(s storage.ActionStatus) string {
	switch s {
	case storage.StatusPending:
		return "pending"
	case storage.StatusApproved:
		return "approved"
	case storage.StatusDenied:
		return "denied"
	}
	return "note"
}

// onAdminNext previews tomorrow's calendar message.
func (b *Bot) onAdminNext(c tele.Context) error {
	ctx := context.Background()
	tomorrow := b.now().In(b.loc).AddDate(0, 0, 1)

	msg, err := b.store.Queries().PendingMessageForDate(ctx, tomorrow)
	if errors.Is(err, storage.ErrNoRow) {
		return c.Send("Nothing scheduled for tomorrow.")
	}
	if err != nil {
		return err
	}
	return c.Send(fmt.Sprintf("Tomorrow (day %d, %s):\n%s",
		msg.DayIndex, tomorrow.Format("2006-01-02"), msg.Body))
}

// onAdminSchedule exports the whole calendar as a CSV document.
func (b *Bot) onAdminSchedule(c tele.Context) error {
	ctx := context.Background()

	msgs, err := b.store.Queries().ListScheduleByDayIndex(ctx)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return c.Send("The schedule is empty.")
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"day_index", "date", "type", "text", "sent_at"})
	for _, m := range msgs {
		date := ""
		if m.SendDate != nil {
			date = m.SendDate.Format("2006-01-02")
		}
		sent := ""
		if m.SentAt != nil {
			sent = m.SentAt.In(b.loc).Format("2006-01-02 15:04")
		}
		_ = w.Write([]string{
			fmt.Sprint(m.DayIndex), date, m.Type, m.Body, sent,
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	doc := &tele.Document{
		File:     tele.FromReader(&buf),
		FileName: fmt.Sprintf("schedule-%s.csv", b.now().In(b.loc).Format("2006-01-02")),
	}
	return c.Send(doc)
}

// onAdminRandom pushes a random calendar message out of band, skipping the
// admin's own chat.
func (b *Bot) onAdminRandom(c tele.Context) error {
	if b.sched == nil {
		return c.Send("Delivery is disabled.")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := b.sched.RunRandom(ctx, b.cfg.AdminID)
	if err != nil {
		return err
	}
	if n == 0 {
		return c.Send("Nothing sent: empty schedule or no consenting recipients.")
	}
	return c.Send(fmt.Sprintf("Sent to %d recipient(s).", n))
}

func (b *Bot) onAdminDefer(c tele.Context) error {
	if err := b.store.Queries().PutOperatorSession(
		context.Background(), c.Sender().ID, sessionAwaitDeferText, "", b.now()); err != nil {
		return err
	}
	return c.Send("Send the text of the deferred message. /cancel to abort.")
}

func (b *Bot) onAdminCancel(c tele.Context) error {
	if err := b.store.Queries().ClearOperatorSession(context.Background(), c.Sender().ID); err != nil {
		return err
	}
	return c.Send("Cancelled.")
}

// subscriberRecipient resolves the single monitored recipient, nil when the
// recipient has not said /start yet.
func (b *Bot) subscriberRecipient(ctx context.Context) (*storage.Recipient, error) {
	r, err := b.store.Queries().FirstRecipient(ctx)
	if errors.Is(err, storage.ErrNoRow) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}
