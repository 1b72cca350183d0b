package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DisbursementStatus tracks a single payout request to the ledger.
type DisbursementStatus string

const (
	DisbursementPending     DisbursementStatus = "pending"
	DisbursementDispatching DisbursementStatus = "dispatching"
	DisbursementPaid        DisbursementStatus = "paid"
	DisbursementFailed      DisbursementStatus = "failed"
)

// Disbursement is the durable record of what one user is owed for a round.
// There is at most one per (round, user); the dispatcher claims it before it
// calls the ledger, so a second invocation never issues a second payout.
type Disbursement struct {
	RoundID     string             `json:"round_id"`
	UserID      string             `json:"user_id"`
	Destination string             `json:"destination,omitempty"`
	Amount      decimal.Decimal    `json:"amount"`
	Status      DisbursementStatus `json:"status"`
	Attempts    int                `json:"attempts"`
	LastError   string             `json:"last_error,omitempty"`
	Reference   string             `json:"reference,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// Account maps a user to the ledger destination that receives payouts.
type Account struct {
	UserID      string
	Destination string
}

// PayoutRequest is what the ledger receives for one user.
type PayoutRequest struct {
	Destination string
	Amount      decimal.Decimal
	Reference   string
}

// PayoutReceipt is the ledger's acknowledgement of a successful payout.
type PayoutReceipt struct {
	TxID string
}
