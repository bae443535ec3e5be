package storage

import "time"

// ActionStatus is the proof review status. Approved and Denied are terminal:
// every further transition attempt must be rejected.
type ActionStatus string

const (
	StatusNone     ActionStatus = ""
	StatusPending  ActionStatus = "pending"
	StatusApproved ActionStatus = "approved"
	StatusDenied   ActionStatus = "denied"
)

func (s ActionStatus) Terminal() bool {
	return s == StatusApproved || s == StatusDenied
}

type Recipient struct {
	ID       int64
	TGUserID int64
	ChatID   int64
	Consent  bool

	SnoozeUntil              *time.Time
	LastActivityAt           *time.Time
	LastExpiryReminderAt     *time.Time
	LastInactivityReminderAt *time.Time

	CreatedAt time.Time
}

// Snoozed reports whether reminders are paused at the given instant.
func (r *Recipient) Snoozed(now time.Time) bool {
	return r.SnoozeUntil != nil && r.SnoozeUntil.After(now)
}

type Subscription struct {
	ID          int64
	RecipientID int64
	// ExpiresAt nil means "not yet granted".
	ExpiresAt *time.Time
	CreatedAt time.Time
}

// ScheduledMessage is either a calendar-slotted broadcast (SendDate set) or a
// deferred outbox item (SendAt set). Terminal once SentAt is set.
type ScheduledMessage struct {
	ID       int64
	DayIndex int64
	SendDate *time.Time
	SendAt   *time.Time
	Type     string
	Body     string

	SentAt        *time.Time
	Attempts      int
	LastAttemptAt *time.Time
	LastError     string
}

type ActionRule struct {
	ID            int64
	Key           string
	Title         string
	ExtensionDays int
	Active        bool
}

type InboxMessage struct {
	ID          int64
	RecipientID int64
	TGMessageID int64
	Body        string
	MediaType   string
	MediaFileID string

	ActionStatus     ActionStatus
	ActionRuleID     *int64
	ActionReviewedAt *time.Time

	Raw       string
	CreatedAt time.Time
}

// HasProofMedia reports whether the message carries reviewable media.
func (m *InboxMessage) HasProofMedia() bool { return m.MediaFileID != "" }

type ActionEvent struct {
	ID           int64
	RecipientID  int64
	RuleID       int64
	RawText      string
	OldExpiresAt *time.Time
	NewExpiresAt *time.Time
	CreatedAt    time.Time
}

// ActionEventWithRule is the audit row joined with its rule title for
// reporting surfaces.
type ActionEventWithRule struct {
	ActionEvent
	RuleTitle string
}

type OperatorSession struct {
	OperatorID int64
	State      string
	Payload    string
	UpdatedAt  time.Time
}
