package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/modelarena/internal/blob/s3"
	"github.com/alanyoungcy/modelarena/internal/cache/redis"
	"github.com/alanyoungcy/modelarena/internal/config"
	"github.com/alanyoungcy/modelarena/internal/domain"
	"github.com/alanyoungcy/modelarena/internal/metrics"
	"github.com/alanyoungcy/modelarena/internal/notify"
	"github.com/alanyoungcy/modelarena/internal/odds"
	"github.com/alanyoungcy/modelarena/internal/platform/bedrock"
	"github.com/alanyoungcy/modelarena/internal/platform/binance"
	"github.com/alanyoungcy/modelarena/internal/platform/ledger"
	"github.com/alanyoungcy/modelarena/internal/predictor"
	"github.com/alanyoungcy/modelarena/internal/server/handler"
	"github.com/alanyoungcy/modelarena/internal/service"
	"github.com/alanyoungcy/modelarena/internal/store/memory"
	"github.com/alanyoungcy/modelarena/internal/store/postgres"
)

// Dependencies bundles every concrete dependency the application modes
// need. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Stores
	Rounds        domain.RoundStore
	Predictions   domain.PredictionStore
	Bids          domain.BidStore
	Disbursements domain.DisbursementStore
	Accounts      domain.AccountStore
	Audit         domain.AuditStore

	// Caches; SignalBus, RateLimiter and Locks are nil without Redis.
	Candles     domain.CandleCache
	RateLimiter domain.RateLimiter
	SignalBus   domain.SignalBus
	Locks       domain.LockManager

	// Archive is nil when archiving is disabled.
	Archive domain.ReportArchive

	Pricer   *odds.Pricer
	Notifier *notify.Notifier
	Metrics  *metrics.Manager

	// Settlement is nil when no ledger is configured; the operator
	// triggers are then not served.
	Settlement *service.SettlementService

	Health map[string]handler.HealthCheck
}

// Wire constructs all concrete dependency implementations from cfg and
// returns them together with a cleanup function releasing them in reverse
// order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Metrics: metrics.New(),
		Health:  make(map[string]handler.HealthCheck),
	}

	// --- Stores ---
	switch cfg.Store.Driver {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.Rounds = postgres.NewRoundStore(pool)
		deps.Predictions = postgres.NewPredictionStore(pool)
		deps.Bids = postgres.NewBidStore(pool)
		deps.Disbursements = postgres.NewDisbursementStore(pool)
		deps.Accounts = postgres.NewAccountStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Health["postgres"] = pgClient.Ping

	case "memory":
		accounts := make([]domain.Account, 0, len(cfg.Store.Accounts))
		for _, a := range cfg.Store.Accounts {
			accounts = append(accounts, domain.Account{UserID: a.UserID, Destination: a.Destination})
		}
		deps.Rounds = memory.NewRoundStore()
		deps.Predictions = memory.NewPredictionStore()
		deps.Bids = memory.NewBidStore()
		deps.Disbursements = memory.NewDisbursementStore()
		deps.Accounts = memory.NewAccountStore(accounts...)
		deps.Audit = memory.NewAuditStore()
		logger.WarnContext(ctx, "using in-memory stores; state is lost on exit")

	default:
		return nil, nil, fmt.Errorf("wire: unknown store driver %q", cfg.Store.Driver)
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Candles = redis.NewCandleCache(redisClient, redis.DefaultCandleTTL)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Locks = redis.NewLockManager(redisClient)
		if cfg.Server.RateLimitPerMin > 0 {
			deps.RateLimiter = redis.NewRateLimiter(redisClient, cfg.Server.RateLimitPerMin, time.Minute)
		}
		deps.Health["redis"] = redisClient.Ping
	} else {
		deps.Candles = memory.NewCandleCache()
	}

	// --- S3 report archive ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archive = s3blob.NewReportArchive(s3blob.NewWriter(s3Client), s3blob.NewReader(s3Client), cfg.Archive.Prefix)
		deps.Health["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender("", cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Odds ---
	tracker := odds.NewTracker(deps.Predictions, cfg.Odds.Window)
	deps.Pricer = odds.NewPricer(tracker, odds.NewCalculator(cfg.Odds.Margin, cfg.Odds.MaxMultiplier))

	// --- Settlement ---
	settlement, err := wireSettlement(ctx, cfg, deps, logger)
	if err != nil {
		if cfg.RunsCycles() {
			cleanup()
			return nil, nil, err
		}
		logger.WarnContext(ctx, "operator triggers disabled", slog.String("reason", err.Error()))
	}
	deps.Settlement = settlement

	return deps, cleanup, nil
}

// wireSettlement builds the prediction source, the ledger client and the
// services composing a settlement cycle.
func wireSettlement(ctx context.Context, cfg *config.Config, deps *Dependencies, logger *slog.Logger) (*service.SettlementService, error) {
	if cfg.Ledger.URL == "" {
		return nil, fmt.Errorf("wire: ledger url not configured")
	}
	source, err := wireSource(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	payouts := ledger.NewClient(cfg.Ledger.URL, cfg.Ledger.APIKey, cfg.Ledger.RatePerSec, cfg.Ledger.Timeout.Duration)
	rounds := service.NewRoundService(deps.Rounds, deps.Predictions, deps.Pricer, cfg.Odds.AccuracyThreshold, deps.Metrics, logger)
	bids := service.NewBidResolver(deps.Bids, deps.Disbursements, deps.Metrics, logger)
	dispatcher := service.NewDispatcher(deps.Disbursements, deps.Accounts, payouts, cfg.Ledger.Concurrency, deps.Metrics, logger)

	sd := service.SettlementDeps{
		Source:     source,
		Rounds:     rounds,
		Bids:       bids,
		Dispatcher: dispatcher,
		Candles:    deps.Candles,
		Bus:        deps.SignalBus,
		Archive:    deps.Archive,
		Audit:      deps.Audit,
		Alerter:    deps.Notifier,
		Metrics:    deps.Metrics,
		Symbol:     cfg.Source.Symbol,
	}
	return service.NewSettlementService(sd, logger), nil
}

// wireSource builds the configured prediction source: the models asked
// directly over market data, or a finished cycle fetched over HTTP.
func wireSource(ctx context.Context, cfg *config.Config, logger *slog.Logger) (domain.PredictionSource, error) {
	sc := cfg.Source
	if sc.Kind == "http" {
		return predictor.NewHTTPSource(sc.URL, sc.APIKey, sc.Timeout.Duration), nil
	}

	klines := binance.NewClient(cfg.Binance.BaseURL, cfg.Binance.RatePerSec, logger)
	invoker, err := bedrock.New(ctx, bedrock.ClientConfig{
		Region:      cfg.Bedrock.Region,
		Endpoint:    cfg.Bedrock.Endpoint,
		AccessKey:   cfg.Bedrock.AccessKey,
		SecretKey:   cfg.Bedrock.SecretKey,
		Timeout:     cfg.Bedrock.Timeout.Duration,
		MaxAttempts: cfg.Bedrock.MaxAttempts,
		RatePerSec:  cfg.Bedrock.RatePerSec,
	})
	if err != nil {
		return nil, fmt.Errorf("wire: %w", err)
	}

	models := make([]predictor.Model, 0, len(sc.Models))
	for _, m := range sc.Models {
		models = append(models, predictor.Model{Name: m.Name, ID: m.ID})
	}
	source, err := predictor.NewModelSource(predictor.ModelSourceConfig{
		Symbol:        sc.Symbol,
		Interval:      sc.Interval,
		Limit:         sc.Limit,
		PromptCandles: sc.PromptCandles,
		Params: predictor.Params{
			MaxTokens:   sc.MaxTokens,
			Temperature: sc.Temperature,
			TopP:        sc.TopP,
			TopK:        sc.TopK,
		},
		Models:      models,
		Concurrency: sc.Concurrency,
	}, klines, invoker, predictor.NewRegistry(), logger)
	if err != nil {
		return nil, fmt.Errorf("wire: model source: %w", err)
	}
	return source, nil
}
