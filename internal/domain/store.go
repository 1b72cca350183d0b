package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// RoundStore persists rounds. Status changes are conditional on the current
// status so concurrent invocations cannot move a round backwards.
type RoundStore interface {
	// CreateOrGet inserts r unless a round for the same target timestamp
	// exists, in which case the existing round is returned with created=false.
	CreateOrGet(ctx context.Context, r Round) (Round, bool, error)
	GetByID(ctx context.Context, id string) (Round, error)
	// Transition moves a round from one status to the next. It returns
	// ErrConflict when the round already reached to, ErrInvalidTransition
	// when the move is not allowed, and ErrNotFound for unknown ids.
	Transition(ctx context.Context, id string, from, to RoundStatus) error
	// ListPending returns rounds with recorded predictions whose target
	// timestamp is at or before until, oldest first.
	ListPending(ctx context.Context, until time.Time, limit int) ([]Round, error)
	List(ctx context.Context, opts ListOpts) ([]Round, error)
}

// PredictionStore persists prediction records.
type PredictionStore interface {
	// InsertIfAbsent stores rec unless a record for (round, model) exists.
	// An existing record is never overwritten.
	InsertIfAbsent(ctx context.Context, rec PredictionRecord) (bool, error)
	ListByRound(ctx context.Context, roundID string) ([]PredictionRecord, error)
	// Resolve writes the grade only while the record's outcome is unknown
	// and reports whether the write happened.
	Resolve(ctx context.Context, roundID, modelName string, g Grade, at time.Time) (bool, error)
	// ListResolvedByModel returns the model's most recent graded records by
	// target timestamp, newest first.
	ListResolvedByModel(ctx context.Context, modelName string, limit int) ([]PredictionRecord, error)
}

// BidStore reads bids and applies their terminal settlement.
type BidStore interface {
	ListByRound(ctx context.Context, roundID string) ([]Bid, error)
	// Settle moves an open bid to status with payout and reports whether the
	// bid was still open.
	Settle(ctx context.Context, roundID, userID string, status BidStatus, payout decimal.Decimal, at time.Time) (bool, error)
	// RoundsWithOpenBids returns the ids of rounds that still have open bids.
	RoundsWithOpenBids(ctx context.Context) ([]string, error)
}

// DisbursementStore persists per-user payouts and their dispatch state.
type DisbursementStore interface {
	CreateIfAbsent(ctx context.Context, d Disbursement) (bool, error)
	ListByRound(ctx context.Context, roundID string) ([]Disbursement, error)
	// Claim moves a pending disbursement to dispatching and reports whether
	// this caller won the claim.
	Claim(ctx context.Context, roundID, userID string) (bool, error)
	MarkPaid(ctx context.Context, roundID, userID, destination, reference string) error
	MarkFailed(ctx context.Context, roundID, userID, destination, reason string) error
	// ResetFailed moves failed disbursements of a round back to pending.
	ResetFailed(ctx context.Context, roundID string) (int64, error)
	// RoundsWithPending returns the ids of rounds that still have pending
	// disbursements.
	RoundsWithPending(ctx context.Context) ([]string, error)
}

// AccountStore resolves ledger destinations for users.
type AccountStore interface {
	GetDestinations(ctx context.Context, userIDs []string) (map[string]string, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
