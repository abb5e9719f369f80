package models

import (
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	testCases := []struct {
		name        string
		text        string
		wantKind    Kind
		wantCommand string
		wantMention string
		wantArgs    string
	}{
		{name: "empty text", text: "", wantKind: KindOther},
		{name: "plain text", text: "hello", wantKind: KindText},
		{name: "whitespace only", text: "   ", wantKind: KindText},
		{name: "start command", text: "/start", wantKind: KindCommand, wantCommand: "start"},
		{name: "command with args", text: "/start now please", wantKind: KindCommand, wantCommand: "start", wantArgs: "now please"},
		{name: "command with bot name", text: "/Start@QRBot", wantKind: KindCommand, wantCommand: "start", wantMention: "QRBot"},
		{name: "bot name with args", text: "/start@other_bot hi", wantKind: KindCommand, wantCommand: "start", wantMention: "other_bot", wantArgs: "hi"},
		{name: "dangling at", text: "/start@", wantKind: KindCommand, wantCommand: "start"},
		{name: "bad bot name", text: "/start@a/b", wantKind: KindText},
		{name: "lone slash", text: "/", wantKind: KindText},
		{name: "url-like text", text: "/path/to/file", wantKind: KindText},
		{name: "slash in middle", text: "a/b", wantKind: KindText},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			u := Update{Text: tc.text}
			Classify(&u)

			assert.Equal(t, tc.wantKind, u.Kind)
			assert.Equal(t, tc.wantCommand, u.Command)
			assert.Equal(t, tc.wantMention, u.Mention)
			assert.Equal(t, tc.wantArgs, u.Args)
		})
	}
}

func TestFromTelegram(t *testing.T) {
	raw := tgbotapi.Update{
		UpdateID: 42,
		Message: &tgbotapi.Message{
			From: &tgbotapi.User{ID: 7},
			Chat: &tgbotapi.Chat{ID: 99},
			Date: 1700000000,
			Text: "hello",
		},
	}

	u := FromTelegram(raw)

	assert.Equal(t, int64(42), u.ID)
	assert.Equal(t, int64(7), u.SenderID)
	assert.Equal(t, int64(99), u.ChatID)
	assert.Equal(t, KindText, u.Kind)
	assert.Equal(t, int64(1700000000), u.Timestamp.Unix())
	assert.NotNil(t, u.Raw)
}

func TestFromTelegram_NoMessage(t *testing.T) {
	u := FromTelegram(tgbotapi.Update{UpdateID: 3, CallbackQuery: &tgbotapi.CallbackQuery{ID: "x"}})

	assert.Equal(t, int64(3), u.ID)
	assert.Equal(t, KindOther, u.Kind)
	assert.Zero(t, u.ChatID)
}

func TestNextCursor(t *testing.T) {
	updates := []Update{{ID: 5}, {ID: 6}, {ID: 7}}
	assert.Equal(t, int64(8), NextCursor(updates, 4))
	assert.Equal(t, int64(4), NextCursor(nil, 4))
	assert.Equal(t, int64(10), NextCursor([]Update{{ID: 3}}, 10), "cursor never moves backwards")
}
