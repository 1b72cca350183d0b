package predictor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/modelarena/internal/domain"
	"github.com/alanyoungcy/modelarena/internal/platform/binance"
	"golang.org/x/sync/errgroup"
)

// KlineReader reads recent bars of a symbol, oldest first.
type KlineReader interface {
	Klines(ctx context.Context, symbol, interval string, limit int) ([]binance.Kline, error)
}

// Invoker sends a request body to a hosted model and returns its response.
type Invoker interface {
	Invoke(ctx context.Context, modelID string, body []byte) ([]byte, error)
}

// Model is one competitor: Name is what rounds and bids refer to, ID is the
// hosted model identifier.
type Model struct {
	Name string
	ID   string
}

// ModelSourceConfig configures a ModelSource.
type ModelSourceConfig struct {
	Symbol        string
	Interval      string
	Limit         int
	PromptCandles int
	Params        Params
	Models        []Model
	Concurrency   int
}

// ModelSource asks every configured model to forecast the close of the
// candle after the latest one. A model that fails is listed in the cycle's
// failures; the cycle itself only fails when market data is unavailable.
type ModelSource struct {
	cfg      ModelSourceConfig
	interval time.Duration
	klines   KlineReader
	invoker  Invoker
	codecs   *Registry
	now      func() time.Time
	logger   *slog.Logger
}

// NewModelSource validates cfg and resolves a codec for every model up
// front, so a misconfigured model id fails at startup.
func NewModelSource(cfg ModelSourceConfig, klines KlineReader, invoker Invoker, codecs *Registry, logger *slog.Logger) (*ModelSource, error) {
	interval, err := ParseInterval(cfg.Interval)
	if err != nil {
		return nil, err
	}
	if cfg.Symbol == "" {
		return nil, fmt.Errorf("predictor: symbol is required: %w", domain.ErrValidation)
	}
	if len(cfg.Models) == 0 {
		return nil, fmt.Errorf("predictor: at least one model is required: %w", domain.ErrValidation)
	}
	if codecs == nil {
		codecs = NewRegistry()
	}
	seen := make(map[string]bool, len(cfg.Models))
	for _, m := range cfg.Models {
		if m.Name == "" || seen[m.Name] {
			return nil, fmt.Errorf("predictor: model name %q is empty or duplicated: %w", m.Name, domain.ErrValidation)
		}
		seen[m.Name] = true
		if _, err := codecs.Lookup(m.ID); err != nil {
			return nil, err
		}
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 20
	}
	if cfg.PromptCandles <= 0 || cfg.PromptCandles > cfg.Limit {
		cfg.PromptCandles = min(10, cfg.Limit)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = len(cfg.Models)
	}
	if cfg.Params == (Params{}) {
		cfg.Params = DefaultParams()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ModelSource{
		cfg:      cfg,
		interval: interval,
		klines:   klines,
		invoker:  invoker,
		codecs:   codecs,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "model_source")),
	}, nil
}

// Fetch reads the latest bars and collects one answer per model. The target
// is the bar after the latest one returned, which may still be forming; only
// bars that have closed are reported as recent candles.
func (s *ModelSource) Fetch(ctx context.Context) (domain.Cycle, error) {
	ks, err := s.klines.Klines(ctx, s.cfg.Symbol, s.cfg.Interval, s.cfg.Limit)
	if err != nil {
		return domain.Cycle{}, fmt.Errorf("predictor: fetch: %w", err)
	}
	if len(ks) == 0 {
		return domain.Cycle{}, fmt.Errorf("predictor: fetch: no candles for %s: %w", s.cfg.Symbol, domain.ErrExternal)
	}

	now := s.now()
	last := ks[len(ks)-1].Candle
	cycle := domain.Cycle{
		TargetTimestamp: last.Timestamp.Add(s.interval),
		PreviousClose:   last.Close,
		Predictions:     make(map[string]string, len(s.cfg.Models)),
	}
	all := make([]domain.Candle, 0, len(ks))
	for _, k := range ks {
		all = append(all, k.Candle)
		if k.Closed(now) {
			cycle.RecentCandles = append(cycle.RecentCandles, k.Candle)
		}
	}

	prompt, err := BuildPrompt(all[len(all)-min(s.cfg.PromptCandles, len(all)):])
	if err != nil {
		return domain.Cycle{}, err
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, m := range s.cfg.Models {
		g.Go(func() error {
			answer, err := s.ask(gctx, m, prompt)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.logger.Warn("model failed",
					slog.String("model", m.Name),
					slog.String("model_id", m.ID),
					slog.String("error", err.Error()),
				)
				cycle.Failures = append(cycle.Failures, domain.ModelFailure{ModelName: m.Name, Err: err})
				return nil
			}
			cycle.Predictions[m.Name] = answer
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return domain.Cycle{}, fmt.Errorf("predictor: fetch: %w", err)
	}

	s.logger.Info("cycle fetched",
		slog.Time("target", cycle.TargetTimestamp),
		slog.String("previous_close", cycle.PreviousClose.String()),
		slog.Int("answers", len(cycle.Predictions)),
		slog.Int("failures", len(cycle.Failures)),
	)
	return cycle, nil
}

func (s *ModelSource) ask(ctx context.Context, m Model, prompt string) (string, error) {
	c, err := s.codecs.Lookup(m.ID)
	if err != nil {
		return "", err
	}
	body, err := c.Encode(prompt, s.cfg.Params)
	if err != nil {
		return "", fmt.Errorf("predictor: encode %s: %w", m.ID, err)
	}
	resp, err := s.invoker.Invoke(ctx, m.ID, body)
	if err != nil {
		return "", err
	}
	answer, err := c.Decode(resp)
	if err != nil {
		return "", fmt.Errorf("predictor: %s: %v: %w", m.ID, err, domain.ErrExternal)
	}
	return answer, nil
}
