package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/marketvault/internal/blob/s3"
	"github.com/alanyoungcy/marketvault/internal/cache/redis"
	"github.com/alanyoungcy/marketvault/internal/config"
	"github.com/alanyoungcy/marketvault/internal/crypto"
	"github.com/alanyoungcy/marketvault/internal/domain"
	"github.com/alanyoungcy/marketvault/internal/notify"
	"github.com/alanyoungcy/marketvault/internal/server/handler"
	"github.com/alanyoungcy/marketvault/internal/store/memory"
	"github.com/alanyoungcy/marketvault/internal/store/postgres"
)

const (
	commitLockKey   = "marketd:ledger:commit"
	lockRetryEvery  = 25 * time.Millisecond
	replayCleanupIn = time.Minute
)

// Dependencies bundles the infrastructure the run modes build on. It is
// constructed by Wire and torn down by the returned cleanup function.
// Optional parts are nil when their backend is not configured.
type Dependencies struct {
	// Stores
	Accounts domain.AccountStore
	Events   domain.EventStore
	Audit    domain.AuditStore

	// Caches
	Redis       *redis.Client
	LockManager domain.LockManager
	SignalBus   domain.SignalBus
	RateLimiter domain.RateLimiter
	PriceFeed   domain.PriceOracle
	ViewCache   *redis.MarketCache
	Replay      *redis.ReplayWindow

	// Blob storage
	Archiver domain.Archiver

	// Notifications
	Notifier *notify.Notifier

	Operator *crypto.Signer
	Checks   []handler.Check
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(stage string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", stage, err)
	}

	deps := &Dependencies{}

	// --- Operator key ---
	if cfg.Keys.PrivateKey != "" || cfg.Keys.EncryptedKeyPath != "" {
		op, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Keys.PrivateKey,
			EncryptedKeyPath: cfg.Keys.EncryptedKeyPath,
			KeyPassword:      cfg.Keys.KeyPassword,
		})
		if err != nil {
			return fail("operator key", err)
		}
		deps.Operator = op
	}

	// --- Account and event store ---
	switch cfg.Ledger.Store {
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
			return fail("postgres", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}

		pool := pgClient.Pool()
		deps.Accounts = postgres.NewAccountStore(pool)
		deps.Events = postgres.NewEventStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Checks = append(deps.Checks, handler.Check{Name: "postgres", Probe: pgClient.Ping})
	default:
		store := memory.New()
		deps.Accounts = store
		deps.Events = store
		deps.Audit = store.AuditLog()
	}

	// --- Redis ---
	if cfg.Redis.Addr != "" {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Redis = redisClient
		deps.LockManager = redis.NewLockManager(redisClient, lockRetryEvery)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.PriceFeed = redis.NewPriceFeed(redisClient)
		deps.ViewCache = redis.NewMarketCache(redisClient, cfg.Redis.ViewTTL.Duration, logger)
		deps.Replay = redis.NewReplayWindow(redisClient, cfg.Ledger.ReplayWindow.Duration)
		deps.Checks = append(deps.Checks, handler.Check{Name: "redis", Probe: redisClient.Ping})
	}

	// --- S3 blob storage (only when archiving) ---
	if cfg.Archive.Enabled || cfg.Mode == "archive" {
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
			return fail("s3", err)
		}
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewObjectStore(s3Client),
			deps.Events,
			deps.Audit,
			logger,
		)
		deps.Checks = append(deps.Checks, handler.Check{Name: "s3", Probe: s3Client.Health})
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	var notifyOpts []notify.Option
	if deps.RateLimiter != nil && cfg.Notify.RateLimit > 0 {
		notifyOpts = append(notifyOpts, notify.WithRateLimit(deps.RateLimiter, cfg.Notify.RateLimit, time.Minute))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, cfg.Ledger.CollateralDecimals, logger, notifyOpts...)

	return deps, cleanup, nil
}
