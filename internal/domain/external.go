package domain

import "context"

// PredictionSource produces one cycle: the next target candle, the models'
// predictions for it and the candles they were shown.
type PredictionSource interface {
	Fetch(ctx context.Context) (Cycle, error)
}

// Ledger moves funds to a user's destination account.
type Ledger interface {
	Pay(ctx context.Context, req PayoutRequest) (PayoutReceipt, error)
}
