package transport

import (
	"context"
	"errors"

	tele "gopkg.in/telebot.v4"

	"presencebot/pkg/logx"
)

// Telegram adapts a telebot instance to the Sender boundary. The bot's HTTP
// client enforces the per-call timeout; ctx is honored between calls.
type Telegram struct {
	bot *tele.Bot
	log logx.Logger
}

func NewTelegram(bot *tele.Bot, log logx.Logger) *Telegram {
	return &Telegram{bot: bot, log: log}
}

func (t *Telegram) Send(ctx context.Context, chatID int64, p Payload) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Transient, err
	}

	to := tele.ChatID(chatID)
	var err error
	switch p.MediaType {
	case "photo":
		_, err = t.bot.Send(to, &tele.Photo{File: tele.File{FileID: p.MediaFileID}, Caption: p.Text})
	case "video":
		_, err = t.bot.Send(to, &tele.Video{File: tele.File{FileID: p.MediaFileID}, Caption: p.Text})
	case "video_note":
		_, err = t.bot.Send(to, &tele.VideoNote{File: tele.File{FileID: p.MediaFileID}})
	default:
		_, err = t.bot.Send(to, p.Text)
	}
	if err != nil {
		return Classify(err), err
	}
	return OK, nil
}

// Classify maps a telebot error onto the boundary's outcome taxonomy.
// 403-class errors are permanent for that recipient; everything else
// (network, 429 flood, 5xx) is worth another cadence tick.
func Classify(err error) Outcome {
	if err == nil {
		return OK
	}
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return Transient
	}
	if errors.Is(err, tele.ErrBlockedByUser) ||
		errors.Is(err, tele.ErrUserIsDeactivated) ||
		errors.Is(err, tele.ErrChatNotFound) ||
		errors.Is(err, tele.ErrNotStartedByUser) {
		return Blocked
	}
	var te *tele.Error
	if errors.As(err, &te) && te.Code == 403 {
		return Blocked
	}
	return Transient
}
