package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	"presencebot/internal/approval"
	"presencebot/pkg/logx"
)

// reviewAction is a parsed review/pick callback.
type reviewAction struct {
	op      string // "approve", "deny", "pick"
	ruleID  int64
	proofID int64
}

// parseReviewData parses "review:approve:<rule>:<proof>",
// "review:deny:<proof>" and "pick:<rule>:<proof>".
func parseReviewData(data string) (reviewAction, bool) {
	parts := strings.Split(data, ":")
	switch {
	case len(parts) == 4 && parts[0] == "review" && parts[1] == "approve":
		rule, err1 := strconv.ParseInt(parts[2], 10, 64)
		proof, err2 := strconv.ParseInt(parts[3], 10, 64)
		if err1 != nil || err2 != nil {
			return reviewAction{}, false
		}
		return reviewAction{op: "approve", ruleID: rule, proofID: proof}, true
	case len(parts) == 3 && parts[0] == "review" && parts[1] == "deny":
		proof, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			return reviewAction{}, false
		}
		return reviewAction{op: "deny", proofID: proof}, true
	case len(parts) == 3 && parts[0] == "pick":
		rule, err1 := strconv.ParseInt(parts[1], 10, 64)
		proof, err2 := strconv.ParseInt(parts[2], 10, 64)
		if err1 != nil || err2 != nil {
			return reviewAction{}, false
		}
		return reviewAction{op: "pick", ruleID: rule, proofID: proof}, true
	}
	return reviewAction{}, false
}

func (b *Bot) onCallback(c tele.Context) error {
	cb := c.Callback()
	if cb == nil {
		return nil
	}
	data := strings.TrimPrefix(strings.TrimSpace(cb.Data), "\f")

	if act, ok := parseReviewData(data); ok {
		switch act.op {
		case "approve":
			return b.onApprove(c, act)
		case "deny":
			return b.onDeny(c, act)
		case "pick":
			return b.onPick(c, act)
		}
	}
	if rest, ok := strings.CutPrefix(data, "admin:"); ok {
		if !b.isAdmin(c) {
			return c.Respond(&tele.CallbackResponse{Text: "Not available."})
		}
		return b.onAdminAction(c, rest)
	}
	if rest, ok := strings.CutPrefix(data, "menu:"); ok {
		return b.onMenuAction(c, rest)
	}
	return c.Respond(&tele.CallbackResponse{Text: "Unknown action."})
}

func (b *Bot) onApprove(c tele.Context, act reviewAction) error {
	if !b.isAdmin(c) {
		return c.Respond(&tele.CallbackResponse{Text: "Not available."})
	}

	res, err := b.machine.Apply(context.Background(), act.proofID, act.ruleID)
	switch {
	case errors.Is(err, approval.ErrAlreadyProcessed):
		b.clearKeyboard(c)
		return c.Respond(&tele.CallbackResponse{Text: "Already processed."})
	case errors.Is(err, approval.ErrNotFound):
		return c.Respond(&tele.CallbackResponse{Text: "Could not apply the action."})
	case err != nil:
		b.log.Error("apply failed", logx.Int64("proof_id", act.proofID), logx.Err(err))
		return c.Respond(&tele.CallbackResponse{Text: "Something went wrong."})
	}

	b.clearKeyboard(c)
	_ = c.Respond(&tele.CallbackResponse{Text: "Extended."})
	until := approval.FormatExpiry(res.NewExpiresAt)
	_ = c.Send(fmt.Sprintf("Subscription extended until %s.", until))
	if res.ChatID != 0 {
		if _, err := b.tb.Send(tele.ChatID(res.ChatID),
			fmt.Sprintf("Subscription extended until %s. Thanks for the action: %s!", until, res.RuleTitle)); err != nil {
			b.log.Warn("approval notify failed", logx.Err(err))
		}
	}
	return nil
}

func (b *Bot) onDeny(c tele.Context, act reviewAction) error {
	if !b.isAdmin(c) {
		return c.Respond(&tele.CallbackResponse{Text: "Not available."})
	}

	res, err := b.machine.Deny(context.Background(), act.proofID)
	switch {
	case errors.Is(err, approval.ErrAlreadyProcessed):
		b.clearKeyboard(c)
		return c.Respond(&tele.CallbackResponse{Text: "Already processed."})
	case errors.Is(err, approval.ErrNotFound):
		return c.Respond(&tele.CallbackResponse{Text: "Proof not found."})
	case err != nil:
		b.log.Error("deny failed", logx.Int64("proof_id", act.proofID), logx.Err(err))
		return c.Respond(&tele.CallbackResponse{Text: "Something went wrong."})
	}

	b.clearKeyboard(c)
	_ = c.Respond(&tele.CallbackResponse{Text: "Denied."})
	_ = c.Send("Proof denied.")
	if res.ChatID != 0 {
		if _, err := b.tb.Send(tele.ChatID(res.ChatID),
			"Proof denied. If this looks wrong, send it again."); err != nil {
			b.log.Warn("denial notify failed", logx.Err(err))
		}
	}
	return nil
}

func (b *Bot) onPick(c tele.Context, act reviewAction) error {
	title, err := b.machine.SelfSelect(context.Background(), act.proofID, act.ruleID, c.Sender().ID)
	switch {
	case errors.Is(err, approval.ErrAlreadyProcessed):
		b.clearKeyboard(c)
		return c.Respond(&tele.CallbackResponse{Text: "Already processed."})
	case errors.Is(err, approval.ErrNotOwner):
		return c.Respond(&tele.CallbackResponse{Text: "Not available."})
	case errors.Is(err, approval.ErrNotFound):
		return c.Respond(&tele.CallbackResponse{Text: "Rule unavailable."})
	case err != nil:
		b.log.Error("self-select failed", logx.Int64("proof_id", act.proofID), logx.Err(err))
		return c.Respond(&tele.CallbackResponse{Text: "Something went wrong."})
	}

	b.clearKeyboard(c)
	_ = c.Respond(&tele.CallbackResponse{Text: "Selected."})
	_ = c.Send(fmt.Sprintf("Action selected: %s.", title))
	b.notifyAdmin(fmt.Sprintf("Recipient selected action: %s (proof #%d).", title, act.proofID))
	return nil
}

func (b *Bot) onAdminAction(c tele.Context, action string) error {
	defer func() { _ = c.Respond(&tele.CallbackResponse{}) }()
	switch action {
	case "status":
		return b.onAdminStatus(c)
	case "user":
		return b.onAdminUser(c)
	case "proofs":
		return b.onAdminProofs(c)
	case "next":
		return b.onAdminNext(c)
	case "schedule":
		return b.onAdminSchedule(c)
	case "random":
		return b.onAdminRandom(c)
	case "defer":
		return b.onAdminDefer(c)
	default:
		return c.Send("Unknown admin action.")
	}
}

func (b *Bot) onMenuAction(c tele.Context, action string) error {
	defer func() { _ = c.Respond(&tele.CallbackResponse{}) }()
	switch action {
	case "rules":
		return b.onRules(c)
	case "status":
		return b.onMyStatus(c)
	default:
		return nil
	}
}
