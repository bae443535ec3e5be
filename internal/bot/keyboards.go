package bot

import (
	"fmt"

	tele "gopkg.in/telebot.v4"

	"presencebot/internal/storage"
)

func adminMenuKeyboard() *tele.ReplyMarkup {
	return &tele.ReplyMarkup{InlineKeyboard: [][]tele.InlineButton{
		{{Text: "Subscription status", Data: "admin:status"}},
		{{Text: "Recipient info", Data: "admin:user"}},
		{{Text: "Full schedule (CSV)", Data: "admin:schedule"}},
		{{Text: "Recent proofs", Data: "admin:proofs"}},
		{{Text: "Tomorrow's message", Data: "admin:next"}},
		{{Text: "Random message", Data: "admin:random"}},
		{{Text: "Defer a message", Data: "admin:defer"}},
	}}
}

func userMenuKeyboard() *tele.ReplyMarkup {
	return &tele.ReplyMarkup{InlineKeyboard: [][]tele.InlineButton{
		{{Text: "Rules", Data: "menu:rules"}},
		{{Text: "Subscription", Data: "menu:status"}},
	}}
}

// reviewKeyboard offers the reviewer one approve button per active rule plus
// a deny button.
func reviewKeyboard(rules []storage.ActionRule, proofID int64) *tele.ReplyMarkup {
	var rows [][]tele.InlineButton
	for _, r := range rules {
		rows = append(rows, []tele.InlineButton{{
			Text: fmt.Sprintf("%s (+%dd)", r.Title, r.ExtensionDays),
			Data: fmt.Sprintf("review:approve:%d:%d", r.ID, proofID),
		}})
	}
	rows = append(rows, []tele.InlineButton{{
		Text: "Deny",
		Data: fmt.Sprintf("review:deny:%d", proofID),
	}})
	return &tele.ReplyMarkup{InlineKeyboard: rows}
}

// pickKeyboard lets the submitter pre-select a rule for the reviewer.
func pickKeyboard(rules []storage.ActionRule, proofID int64) *tele.ReplyMarkup {
	var rows [][]tele.InlineButton
	for _, r := range rules {
		rows = append(rows, []tele.InlineButton{{
			Text: fmt.Sprintf("%s (+%dd)", r.Title, r.ExtensionDays),
			Data: fmt.Sprintf("pick:%d:%d", r.ID, proofID),
		}})
	}
	return &tele.ReplyMarkup{InlineKeyboard: rows}
}
