package domain

import "time"

// RoundStatus is the lifecycle state of a round. Rounds only move forward:
// created -> predictions_recorded -> resolved.
type RoundStatus string

const (
	RoundStatusCreated             RoundStatus = "created"
	RoundStatusPredictionsRecorded RoundStatus = "predictions_recorded"
	RoundStatusResolved            RoundStatus = "resolved"
)

// rank orders the statuses along the state machine.
func (s RoundStatus) rank() int {
	switch s {
	case RoundStatusCreated:
		return 1
	case RoundStatusPredictionsRecorded:
		return 2
	case RoundStatusResolved:
		return 3
	default:
		return 0
	}
}

// Valid reports whether s is a known status.
func (s RoundStatus) Valid() bool {
	return s.rank() > 0
}

// Next returns the only status a round in s may move to, and false when s is
// terminal or unknown.
func (s RoundStatus) Next() (RoundStatus, bool) {
	switch s {
	case RoundStatusCreated:
		return RoundStatusPredictionsRecorded, true
	case RoundStatusPredictionsRecorded:
		return RoundStatusResolved, true
	default:
		return "", false
	}
}

// Reached reports whether s is at or beyond target in the state machine.
func (s RoundStatus) Reached(target RoundStatus) bool {
	return s.rank() >= target.rank() && target.Valid()
}

// Round is one assessment cycle tied to the close of a single future candle.
type Round struct {
	ID              string      `json:"id"`
	TargetTimestamp time.Time   `json:"target_timestamp"`
	Status          RoundStatus `json:"status"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}
