// Package transport defines the outbound delivery boundary. The core treats
// it as send(address, payload) -> Ok | Blocked | TransientFailure and never
// retries inside a call; retry happens via the next cadence tick or the
// outbox backoff.
package transport

import "context"

type Outcome int

const (
	// OK: the recipient received the payload.
	OK Outcome = iota
	// Blocked: permanent per-recipient failure (recipient blocked the bot,
	// chat gone). Never retried.
	Blocked
	// Transient: network or rate-limit trouble. Retryable only via the next
	// natural cadence tick.
	Transient
)

func (o Outcome) String() string {
	switch o {
	case OK:
		return "ok"
	case Blocked:
		return "blocked"
	case Transient:
		return "transient"
	default:
		return "unknown"
	}
}

// Payload is text or a media reference with an optional caption (Text doubles
// as the caption when MediaFileID is set).
type Payload struct {
	Text        string
	MediaType   string // "", "photo", "video", "video_note"
	MediaFileID string
}

func TextPayload(text string) Payload { return Payload{Text: text} }

// Sender delivers one payload to one chat address. Implementations must carry
// a bounded timeout; err carries detail for logging and is nil iff the
// outcome is OK.
type Sender interface {
	Send(ctx context.Context, chatID int64, p Payload) (Outcome, error)
}
