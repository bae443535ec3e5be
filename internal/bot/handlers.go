package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"presencebot/internal/storage"
	"presencebot/pkg/logx"
)

const proofHint = "Proofs are photos, videos or video notes."

func (b *Bot) onStart(c tele.Context) error {
	ctx := context.Background()
	now := b.now()

	if b.isAdmin(c) {
		if _, err := b.store.Queries().UpsertRecipient(ctx, c.Sender().ID, c.Chat().ID, true, now); err != nil {
			return err
		}
		return c.Send("Admin mode. Commands: /status, /proofs, /outbox, /schedule_all, /send_random, /defer, /admin",
			adminMenuKeyboard())
	}

	return c.Send("I keep your replies in a diary your reviewer can see. OK?\nReply: yes or no.")
}

func isConsentReply(text string) (consent, ok bool) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "yes", "y", "да", "✅ yes":
		return true, true
	case "no", "n", "нет", "❌ no":
		return false, true
	}
	return false, false
}

// onText routes plain text: admin dialog sessions first, then consent
// replies, then the diary inbox.
func (b *Bot) onText(c tele.Context) error {
	if c.Message() == nil {
		return nil
	}
	if b.isAdmin(c) {
		handled, err := b.handleAdminSession(c)
		if handled || err != nil {
			return err
		}
	}
	if consent, ok := isConsentReply(c.Text()); ok {
		return b.onConsent(c, consent)
	}
	return b.onInbound(c)
}

func (b *Bot) onConsent(c tele.Context, consent bool) error {
	ctx := context.Background()
	now := b.now()

	r, err := b.store.Queries().UpsertRecipient(ctx, c.Sender().ID, c.Chat().ID, consent, now)
	if err != nil {
		return err
	}
	if !consent {
		return c.Send("Alright.")
	}

	// First consent lazily grants the initial subscription.
	start := now.Add(time.Duration(b.cfg.StartDays) * 24 * time.Hour)
	sub, err := b.store.Queries().EnsureSubscription(ctx, r.ID, &start, now)
	if err != nil {
		return err
	}

	if sub.ExpiresAt != nil {
		_ = c.Send(fmt.Sprintf("Subscription active until %s.", sub.ExpiresAt.UTC().Format("2006-01-02 15:04")))
	}
	_ = c.Send("Good. This is your personal diary; I keep every message.\n" +
		"To extend the subscription, send a proof of a completed task. " + proofHint)
	_ = c.Send("Menu:", userMenuKeyboard())

	if !b.isAdmin(c) && sub.ExpiresAt != nil {
		b.notifyAdmin(fmt.Sprintf("Subscription started: until %s",
			sub.ExpiresAt.UTC().Format("2006-01-02 15:04")))
	}
	return nil
}

func (b *Bot) onHelp(c tele.Context) error {
	if b.isAdmin(c) {
		return c.Send("Admin commands:\n" +
			"/status — subscription status and recent actions\n" +
			"/proofs — recent proofs\n" +
			"/outbox — tomorrow's message\n" +
			"/schedule_all — full schedule as CSV\n" +
			"/send_random — random message to recipients\n" +
			"/defer — enqueue a deferred message\n" +
			"/admin — menu")
	}
	return c.Send("What I can do:\n" +
		"- keep your messages in the diary\n" +
		"- extend your subscription for completed tasks\n" +
		"- show the rules: /rules\n" +
		"- show your status: /my_status\n" +
		"- pause reminders: /snooze 7, resume: /unsnooze\n" +
		proofHint)
}

func (b *Bot) onMenu(c tele.Context) error {
	if b.isAdmin(c) {
		return c.Send("Admin menu:", adminMenuKeyboard())
	}
	return c.Send("Menu:", userMenuKeyboard())
}

func (b *Bot) onRules(c tele.Context) error {
	rules, err := b.store.Queries().ActiveRules(context.Background())
	if err != nil {
		return err
	}
	if len(rules) == 0 {
		return c.Send("No rules configured yet.")
	}
	var sb strings.Builder
	sb.WriteString("Extension rules:\n")
	for _, r := range rules {
		fmt.Fprintf(&sb, "- %s: +%d days\n", r.Title, r.ExtensionDays)
	}
	sb.WriteString(proofHint)
	sb.WriteString("\nSend a proof and pick the matching action; the reviewer confirms it.")
	return c.Send(sb.String())
}

func (b *Bot) onMyStatus(c tele.Context) error {
	ctx := context.Background()
	q := b.store.Queries()

	r, err := q.GetRecipientByTGUserID(ctx, c.Sender().ID)
	if errors.Is(err, storage.ErrNoRow) {
		return c.Send("No profile yet. Say /start first.")
	}
	if err != nil {
		return err
	}

	expires := "none"
	if sub, err := q.GetSubscription(ctx, r.ID); err == nil && sub.ExpiresAt != nil {
		expires = sub.ExpiresAt.UTC().Format("2006-01-02 15:04")
	}
	lines := []string{"Subscription active until: " + expires}
	if r.Snoozed(b.now()) {
		lines = append(lines, "Reminders paused until: "+r.SnoozeUntil.UTC().Format("2006-01-02"))
	}
	return c.Send(strings.Join(lines, "\n"))
}

func (b *Bot) onSnooze(c tele.Context) error {
	ctx := context.Background()
	days := b.cfg.DefaultSnoozeDays
	if args := c.Args(); len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return c.Send("Give a number of days, e.g.: /snooze 7")
		}
		days = n
	}

	r, err := b.store.Queries().GetRecipientByTGUserID(ctx, c.Sender().ID)
	if errors.Is(err, storage.ErrNoRow) {
		return c.Send("Say /start first.")
	}
	if err != nil {
		return err
	}
	if !r.Consent {
		return c.Send("Say /start first.")
	}

	until := b.now().Add(time.Duration(days) * 24 * time.Hour)
	if err := b.store.Queries().SetSnooze(ctx, r.ID, &until); err != nil {
		return err
	}
	return c.Send(fmt.Sprintf("OK, reminders paused until %s.", until.UTC().Format("2006-01-02")))
}

func (b *Bot) onUnsnooze(c tele.Context) error {
	ctx := context.Background()
	r, err := b.store.Queries().GetRecipientByTGUserID(ctx, c.Sender().ID)
	if errors.Is(err, storage.ErrNoRow) {
		return c.Send("Say /start first.")
	}
	if err != nil {
		return err
	}
	if !r.Consent {
		return c.Send("Say /start first.")
	}
	if err := b.store.Queries().SetSnooze(ctx, r.ID, nil); err != nil {
		return err
	}
	return c.Send("Reminders are active again.")
}

// extractMedia pulls the proof media reference out of a message.
func extractMedia(m *tele.Message) (mediaType, fileID string) {
	switch {
	case m.Photo != nil:
		return "photo", m.Photo.FileID
	case m.Video != nil:
		return "video", m.Video.FileID
	case m.VideoNote != nil:
		return "video_note", m.VideoNote.FileID
	}
	return "", ""
}

func extractText(m *tele.Message) string {
	if m.Text != "" {
		return m.Text
	}
	return m.Caption
}

// onInbound records any message from a consenting recipient. Media-bearing
// messages become proofs pending review and are forwarded to the reviewer.
func (b *Bot) onInbound(c tele.Context) error {
	m := c.Message()
	if m == nil || c.Sender() == nil {
		return nil
	}
	ctx := context.Background()
	now := b.now()
	q := b.store.Queries()

	r, err := q.GetRecipientByTGUserID(ctx, c.Sender().ID)
	if errors.Is(err, storage.ErrNoRow) {
		return nil
	}
	if err != nil {
		return err
	}
	if !r.Consent {
		return nil
	}

	text := extractText(m)
	mediaType, fileID := extractMedia(m)

	raw, _ := json.Marshal(struct {
		MessageID int    `json:"message_id"`
		ChatID    int64  `json:"chat_id"`
		Unixtime  int64  `json:"unixtime"`
		Text      string `json:"text,omitempty"`
		MediaType string `json:"media_type,omitempty"`
	}{m.ID, m.Chat.ID, m.Unixtime, text, mediaType})

	inbox := &storage.InboxMessage{
		RecipientID: r.ID,
		TGMessageID: int64(m.ID),
		Body:        text,
		MediaType:   mediaType,
		MediaFileID: fileID,
		Raw:         string(raw),
	}
	hasProof := inbox.HasProofMedia()
	if hasProof {
		inbox.ActionStatus = storage.StatusPending
	}

	var (
		proofID int64
		rules   []storage.ActionRule
	)
	err = b.store.WithTx(ctx, func(q *storage.Queries) error {
		var err error
		if proofID, err = q.InsertInbox(ctx, inbox, now); err != nil {
			return err
		}
		if err := q.TouchActivity(ctx, r.ID, now); err != nil {
			return err
		}
		if hasProof {
			rules, err = q.ActiveRules(ctx)
		}
		return err
	})
	if err != nil {
		return err
	}

	if !hasProof {
		b.notifyAdmin(fmt.Sprintf("Message from the recipient:\n%s", orMedia(text)))
		return nil
	}

	b.forwardProof(inbox, proofID, rules, text)
	if len(rules) > 0 {
		return c.Send("Thanks! Pick the action this proof is for:", pickKeyboard(rules, proofID))
	}
	return c.Send("Thanks! I passed the proof on for review.")
}

// forwardProof sends the proof media to the reviewer with the review keyboard.
func (b *Bot) forwardProof(m *storage.InboxMessage, proofID int64, rules []storage.ActionRule, text string) {
	to := tele.ChatID(b.cfg.AdminID)
	caption := strings.TrimSpace("Proof:\n" + text + "\n\nPick an action or deny.")
	kb := reviewKeyboard(rules, proofID)

	var err error
	switch m.MediaType {
	case "photo":
		_, err = b.tb.Send(to, &tele.Photo{File: tele.File{FileID: m.MediaFileID}, Caption: caption}, kb)
	case "video":
		_, err = b.tb.Send(to, &tele.Video{File: tele.File{FileID: m.MediaFileID}, Caption: caption}, kb)
	case "video_note":
		_, err = b.tb.Send(to, &tele.VideoNote{File: tele.File{FileID: m.MediaFileID}}, kb)
	default:
		_, err = b.tb.Send(to, caption, kb)
	}
	if err != nil {
		b.log.Warn("proof forward failed", logx.Int64("proof_id", proofID), logx.Err(err))
	}
}

func (b *Bot) notifyAdmin(text string) {
	if _, err := b.tb.Send(tele.ChatID(b.cfg.AdminID), text); err != nil {
		b.log.Warn("admin notify failed", logx.Err(err))
	}
}

func orMedia(text string) string {
	if strings.TrimSpace(text) == "" {
		return "[media]"
	}
	return text
}
