package telegram

import (
	"testing"
	"time"

	"github.com/MikeSquared-Agency/tenere/internal/dispatcher"
)

func TestParseUpdate_ToEvent(t *testing.T) {
	raw := `{
		"update_id": 1001,
		"message": {
			"message_id": 7,
			"from": {"id": 4242, "is_bot": false, "first_name": "Ada"},
			"chat": {"id": -100200, "type": "group"},
			"date": 1709294400,
			"text": "1000km 40L 60€"
		}
	}`

	u, err := ParseUpdate([]byte(raw))
	if err != nil {
		t.Fatalf("ParseUpdate failed: %v", err)
	}
	ev, ok := u.ToEvent()
	if !ok {
		t.Fatal("expected an event")
	}

	want := dispatcher.Event{
		ID:        "tg:1001",
		OwnerID:   "4242",
		ChatID:    "-100200",
		Channel:   dispatcher.ChannelTelegram,
		Timestamp: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Text:      "1000km 40L 60€",
	}
	if ev != want {
		t.Errorf("got %+v, want %+v", ev, want)
	}
}

func TestToEvent_Ignored(t *testing.T) {
	tests := []struct {
		name string
		u    Update
	}{
		{"no message", Update{UpdateID: 1}},
		{"no sender", Update{UpdateID: 2, Message: &Message{Text: "hi"}}},
		{"bot sender", Update{UpdateID: 3, Message: &Message{From: &User{ID: 1, IsBot: true}, Text: "hi"}}},
		{"no text", Update{UpdateID: 4, Message: &Message{From: &User{ID: 1}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := tt.u.ToEvent(); ok {
				t.Error("expected update to be ignored")
			}
		})
	}
}

func TestParseUpdate_Invalid(t *testing.T) {
	if _, err := ParseUpdate([]byte(`{"update_id": "x"`)); err == nil {
		t.Error("expected error for malformed update")
	}
}
