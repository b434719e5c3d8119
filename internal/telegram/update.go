// Package telegram adapts the Telegram Bot API to chat events and
// renders instructions as message text.
package telegram

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/MikeSquared-Agency/tenere/internal/dispatcher"
)

// Update is the subset of a Telegram webhook update tenere reads.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from,omitempty"`
	Chat      Chat   `json:"chat"`
	Date      int64  `json:"date"`
	Text      string `json:"text,omitempty"`
}

type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// ParseUpdate decodes a webhook body.
func ParseUpdate(data []byte) (Update, error) {
	var u Update
	if err := json.Unmarshal(data, &u); err != nil {
		return Update{}, fmt.Errorf("parse telegram update: %w", err)
	}
	return u, nil
}

// ToEvent converts u to a chat event. It returns false for updates that
// carry no text message from a person, e.g. edits, stickers or bot posts.
func (u Update) ToEvent() (dispatcher.Event, bool) {
	m := u.Message
	if m == nil || m.From == nil || m.From.IsBot || m.Text == "" {
		return dispatcher.Event{}, false
	}
	return dispatcher.Event{
		ID:        "tg:" + strconv.FormatInt(u.UpdateID, 10),
		OwnerID:   strconv.FormatInt(m.From.ID, 10),
		ChatID:    strconv.FormatInt(m.Chat.ID, 10),
		Channel:   dispatcher.ChannelTelegram,
		Timestamp: time.Unix(m.Date, 0).UTC(),
		Text:      m.Text,
	}, true
}
