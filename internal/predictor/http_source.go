package predictor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"
	"slices"
	"time"

	"github.com/alanyoungcy/modelarena/internal/domain"
	"github.com/shopspring/decimal"
)

// CycleDocument is the JSON contract of a remote prediction service. The
// whole cycle arrives as one document; nothing inside it is re-encoded.
type CycleDocument struct {
	TargetTimestamp time.Time         `json:"target_timestamp"`
	PreviousClose   decimal.Decimal   `json:"previous_close"`
	Predictions     map[string]string `json:"predictions"`
	RecentCandles   []domain.Candle   `json:"recent_candles"`
	Failures        map[string]string `json:"failures,omitempty"`
}

// HTTPSource fetches a cycle from a remote prediction service.
type HTTPSource struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPSource creates an HTTPSource that GETs url.
func NewHTTPSource(url, apiKey string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &HTTPSource{url: url, apiKey: apiKey, httpClient: &http.Client{Timeout: timeout}}
}

// Fetch retrieves and validates one cycle document.
func (s *HTTPSource) Fetch(ctx context.Context) (domain.Cycle, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return domain.Cycle{}, fmt.Errorf("predictor: http source: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("X-API-Key", s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return domain.Cycle{}, fmt.Errorf("predictor: http source: %v: %w", err, domain.ErrExternal)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return domain.Cycle{}, fmt.Errorf("predictor: http source: status %d: %s: %w", resp.StatusCode, body, domain.ErrExternal)
	}

	var doc CycleDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return domain.Cycle{}, fmt.Errorf("predictor: http source: decode: %v: %w", err, domain.ErrExternal)
	}
	return doc.Cycle()
}

// Cycle converts the document, rejecting one without a target.
func (d CycleDocument) Cycle() (domain.Cycle, error) {
	if d.TargetTimestamp.IsZero() {
		return domain.Cycle{}, fmt.Errorf("predictor: cycle document has no target timestamp: %w", domain.ErrExternal)
	}
	c := domain.Cycle{
		TargetTimestamp: d.TargetTimestamp.UTC(),
		PreviousClose:   d.PreviousClose,
		Predictions:     d.Predictions,
		RecentCandles:   d.RecentCandles,
	}
	if c.Predictions == nil {
		c.Predictions = map[string]string{}
	}
	for _, name := range slices.Sorted(maps.Keys(d.Failures)) {
		c.Failures = append(c.Failures, domain.ModelFailure{
			ModelName: name,
			Err:       fmt.Errorf("%s: %w", d.Failures[name], domain.ErrExternal),
		})
	}
	return c, nil
}
