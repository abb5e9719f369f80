package models

import (
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// FromTelegram converts a raw Telegram update into a classified Update
func FromTelegram(raw tgbotapi.Update) Update {
	u := Update{
		ID:  int64(raw.UpdateID),
		Raw: &raw,
	}

	msg := raw.Message
	if msg == nil {
		// Channel posts, callbacks, edits and the like are not handled
		return u
	}

	if msg.From != nil {
		u.SenderID = msg.From.ID
	}
	if msg.Chat != nil {
		u.ChatID = msg.Chat.ID
	}
	u.Text = msg.Text
	u.Timestamp = time.Unix(int64(msg.Date), 0)

	Classify(&u)
	return u
}

// Classify sets Kind, Command, Mention and Args from the update text.
//
// A message is a command when its text starts with "/" followed by at least one
// name character; "/cmd@botname args" is accepted. Any other non-empty text,
// whitespace-only included, is plain text. Empty text is KindOther.
func Classify(u *Update) {
	u.Kind, u.Command, u.Mention, u.Args = KindOther, "", "", ""

	if u.Text == "" {
		return
	}

	if cmd, mention, args, ok := ParseCommand(u.Text); ok {
		u.Kind = KindCommand
		u.Command = cmd
		u.Mention = mention
		u.Args = args
		return
	}

	u.Kind = KindText
}

// ParseCommand extracts the command name and arguments from a message.
// It handles "/command", "/command args", and "/command@botname args";
// mention is the botname, empty when the command is not addressed.
func ParseCommand(text string) (cmd, mention, args string, ok bool) {
	if !strings.HasPrefix(text, "/") {
		return "", "", "", false
	}

	rest := text[1:]
	name := rest
	if i := strings.IndexAny(rest, " \t\n"); i >= 0 {
		name = rest[:i]
		args = strings.TrimSpace(rest[i+1:])
	}

	if at := strings.Index(name, "@"); at != -1 {
		name, mention = name[:at], name[at+1:]
		if !isCommandName(mention) {
			return "", "", "", false
		}
	}

	if name == "" || !isCommandName(name) {
		return "", "", "", false
	}

	return strings.ToLower(name), mention, args, true
}

func isCommandName(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		default:
			return false
		}
	}
	return true
}

// NextCursor returns the offset to request after the given batch:
// one past the highest update id, or cursor itself for an empty batch.
func NextCursor(updates []Update, cursor int64) int64 {
	next := cursor
	for _, u := range updates {
		if u.ID+1 > next {
			next = u.ID + 1
		}
	}
	return next
}
