package dispatcher

import (
	"time"

	"github.com/MikeSquared-Agency/tenere/internal/conversation"
	"github.com/MikeSquared-Agency/tenere/internal/ledger"
)

// Channels name the transport an event arrived on. Replies go back on the
// same channel.
const (
	ChannelTelegram = "telegram"
	ChannelNATS     = "nats"
	ChannelAPI      = "api"
)

// Event is one inbound chat message. Commands are texts starting with "/".
type Event struct {
	ID        string    `json:"id,omitempty"`
	OwnerID   string    `json:"owner_id"`
	ChatID    string    `json:"chat_id,omitempty"`
	Channel   string    `json:"channel,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
}

// Kind selects the reply the transport renders.
type Kind string

const (
	KindAskOdometer   Kind = "ASK_ODOMETER"
	KindAskFuelVolume Kind = "ASK_FUEL_VOLUME"
	KindAskFuelCost   Kind = "ASK_FUEL_COST"
	KindAskFullTank   Kind = "ASK_FULL_TANK"
	KindAskConfirm    Kind = "ASK_CONFIRM"
	KindRejected      Kind = "REJECTED"
	KindCommitted     Kind = "COMMITTED"
	KindCancelled     Kind = "CANCELLED"
	KindEconomy       Kind = "ECONOMY_RESULT"
	KindFailed        Kind = "FAILED"
	KindHistory       Kind = "HISTORY"
	KindHelp          Kind = "HELP"
)

// Instruction is the outbound reply for one event.
type Instruction struct {
	TargetOwnerID string `json:"target_owner_id"`
	ChatID        string `json:"chat_id,omitempty"`
	Channel       string `json:"channel,omitempty"`
	EventID       string `json:"event_id,omitempty"`
	Kind          Kind   `json:"prompt_kind"`

	// Clarify marks a repeated question after input that was not understood.
	Clarify bool `json:"clarify,omitempty"`

	// Expired is set when an earlier conversation timed out before this event.
	Expired bool `json:"expired,omitempty"`

	// Reason explains REJECTED, FAILED and clarifications.
	Reason string `json:"reason,omitempty"`

	// Retryable is set on FAILED when confirming again may succeed.
	Retryable bool `json:"retryable,omitempty"`

	Draft   *conversation.Fields  `json:"draft,omitempty"`
	Entry   *ledger.Entry         `json:"entry,omitempty"`
	Economy *ledger.EconomyResult `json:"economy,omitempty"`
	History []ledger.Entry        `json:"history,omitempty"`
}

// promptFor maps a waiting state to the question asked in it.
func promptFor(s conversation.State) Kind {
	switch s {
	case conversation.StateAwaitingOdometer:
		return KindAskOdometer
	case conversation.StateAwaitingFuelVolume:
		return KindAskFuelVolume
	case conversation.StateAwaitingFuelCost:
		return KindAskFuelCost
	case conversation.StateAwaitingFullTank:
		return KindAskFullTank
	case conversation.StateConfirming:
		return KindAskConfirm
	case conversation.StateCommitted:
		return KindCommitted
	case conversation.StateCancelled:
		return KindCancelled
	}
	return KindHelp
}
