// Package ledger pays winners through the external ledger service.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/modelarena/internal/domain"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const defaultRatePerSec = 10

// Client implements domain.Ledger over HTTP. A payout is posted exactly once
// per call: the client never retries, since a retry after a lost response
// could pay twice.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

var _ domain.Ledger = (*Client)(nil)

// NewClient creates a ledger client. apiKey is sent as a bearer token when
// set.
func NewClient(baseURL, apiKey string, ratePerSec float64, timeout time.Duration) *Client {
	if ratePerSec <= 0 {
		ratePerSec = defaultRatePerSec
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(ratePerSec), 1),
	}
}

type payoutBody struct {
	Destination string          `json:"destination"`
	Amount      decimal.Decimal `json:"amount"`
	Reference   string          `json:"reference"`
}

type payoutResponse struct {
	TxID  string `json:"tx_id"`
	Error string `json:"error"`
}

// Pay posts one payout. Any non-2xx answer is an ErrExternal carrying the
// ledger's error message.
func (c *Client) Pay(ctx context.Context, req domain.PayoutRequest) (domain.PayoutReceipt, error) {
	if req.Destination == "" || !req.Amount.IsPositive() {
		return domain.PayoutReceipt{}, fmt.Errorf("ledger: pay %s: destination and positive amount required: %w",
			req.Reference, domain.ErrValidation)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return domain.PayoutReceipt{}, fmt.Errorf("ledger: pay %s: rate limiter: %w", req.Reference, err)
	}

	body, err := json.Marshal(payoutBody(req))
	if err != nil {
		return domain.PayoutReceipt{}, fmt.Errorf("ledger: pay %s: marshal: %w", req.Reference, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/payouts", bytes.NewReader(body))
	if err != nil {
		return domain.PayoutReceipt{}, fmt.Errorf("ledger: pay %s: build request: %w", req.Reference, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.Reference)
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return domain.PayoutReceipt{}, fmt.Errorf("ledger: pay %s: %v: %w", req.Reference, err, domain.ErrExternal)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var out payoutResponse
	_ = json.Unmarshal(raw, &out)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := out.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return domain.PayoutReceipt{}, fmt.Errorf("ledger: pay %s: status %d: %s: %w",
			req.Reference, resp.StatusCode, msg, domain.ErrExternal)
	}
	return domain.PayoutReceipt{TxID: out.TxID}, nil
}
