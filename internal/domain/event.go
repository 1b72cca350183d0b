package domain

import "time"

// Signal bus channels carrying settlement events.
const (
	ChannelSettlements = "arena:settlements"
	StreamSettlements  = "arena:settlements:log"
)

// Event types published on ChannelSettlements.
const (
	EventRoundOpened   = "round_opened"
	EventRoundSettled  = "round_settled"
	EventPayoutsFailed = "payouts_failed"
	EventCycleFailed   = "cycle_failed"
)

// Event is the envelope published for every settlement event.
type Event struct {
	Type      string    `json:"type"`
	RoundID   string    `json:"round_id"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
