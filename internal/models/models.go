package models

import (
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Kind tags an Update with what it carries
type Kind int

const (
	KindOther Kind = iota
	KindCommand
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindText:
		return "text"
	default:
		return "other"
	}
}

// Update represents one event delivered by Telegram.
// It is classified once at ingestion and never modified afterwards.
type Update struct {
	ID        int64
	SenderID  int64
	ChatID    int64
	Text      string
	Timestamp time.Time

	Kind    Kind
	Command string // set for KindCommand, lowercased, without the leading slash
	Mention string // bot name from "/cmd@botname", as written
	Args    string // set for KindCommand

	Raw *tgbotapi.Update
}

// Reply is the outcome of a handler: either a text message or a photo with caption
type Reply struct {
	ChatID  int64
	Text    string
	Photo   []byte
	Caption string
}

// IsPhoto reports whether the reply carries an image
func (r Reply) IsPhoto() bool {
	return len(r.Photo) > 0
}

// IsEmpty reports whether there is nothing to send
func (r Reply) IsEmpty() bool {
	return r.Text == "" && len(r.Photo) == 0
}

// DispatchEvent is an anonymous record of one dispatched update
type DispatchEvent struct {
	UpdateID int64
	Route    string
	Outcome  string
	Duration time.Duration
	At       time.Time
}

// Outcomes recorded for dispatch events
const (
	OutcomeOK            = "ok"
	OutcomeIgnored       = "ignored"
	OutcomeEmptyText     = "empty_text"
	OutcomeEncodingError = "encoding_error"
	OutcomeHandlerError  = "handler_error"
	OutcomeSendError     = "send_error"
)

// DispatchSummary aggregates dispatch events over a time window
type DispatchSummary struct {
	Since     time.Time
	Total     int
	ByRoute   map[string]int
	ByOutcome map[string]int
}
