package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketvault/internal/cache/redis"
	"github.com/alanyoungcy/marketvault/internal/domain"
	"github.com/alanyoungcy/marketvault/internal/executor"
	"github.com/alanyoungcy/marketvault/internal/ledger"
	"github.com/alanyoungcy/marketvault/internal/pipeline"
	"github.com/alanyoungcy/marketvault/internal/registry"
	"github.com/alanyoungcy/marketvault/internal/resolution"
	"github.com/alanyoungcy/marketvault/internal/server"
	"github.com/alanyoungcy/marketvault/internal/server/handler"
	"github.com/alanyoungcy/marketvault/internal/server/ws"
	"github.com/alanyoungcy/marketvault/internal/service"
	"github.com/alanyoungcy/marketvault/internal/vault"
)

// node is a running ledger with its programs, services and executor.
type node struct {
	ledger     *ledger.Ledger
	markets    *service.MarketService
	vaults     *service.VaultService
	resolution *service.ResolutionService
	tokens     *service.TokenService
	events     *service.EventService
	exec       *executor.Executor
	collateral common.Address
	replay     *executor.MemoryReplay // nil when replays are tracked in redis
}

// buildNode opens the ledger over deps.Accounts, registers the commit
// observers and makes sure the collateral mint exists with the operator as
// its authority.
func (a *App) buildNode(ctx context.Context, deps *Dependencies, observers ...ledger.Observer) (*node, error) {
	if deps.Operator == nil {
		return nil, fmt.Errorf("app: node mode needs an operator key")
	}

	var opts []ledger.Option
	if a.cfg.Ledger.CommitLock && deps.LockManager != nil {
		opts = append(opts, ledger.WithLock(deps.LockManager, commitLockKey, a.cfg.Ledger.CommitLockTTL.Duration))
	}
	if deps.SignalBus != nil {
		opts = append(opts, ledger.WithObserver(redis.NewEventPublisher(deps.SignalBus, a.logger)))
	}
	if deps.ViewCache != nil {
		opts = append(opts, ledger.WithObserver(deps.ViewCache))
	}
	if deps.Notifier != nil {
		opts = append(opts, ledger.WithObserver(deps.Notifier))
	}
	for _, o := range observers {
		opts = append(opts, ledger.WithObserver(o))
	}

	l, err := ledger.New(ctx, deps.Accounts, ledger.SystemClock{}, a.logger, opts...)
	if err != nil {
		return nil, fmt.Errorf("app: open ledger: %w", err)
	}

	params := a.cfg.Protocol.Params(a.cfg.Ledger.CollateralDecimals)
	reg := registry.New(params)
	v := vault.New(params)
	rp := resolution.New(params, reg)

	n := &node{
		ledger:     l,
		markets:    service.NewMarketService(l, reg, v, rp, a.logger),
		vaults:     service.NewVaultService(l, v, a.logger),
		resolution: service.NewResolutionService(l, rp, deps.PriceFeed, a.logger),
		tokens:     service.NewTokenService(l, a.logger),
		events:     service.NewEventService(deps.Events, a.logger),
	}

	n.collateral, err = n.tokens.EnsureMint(ctx, a.cfg.Ledger.CollateralMint, deps.Operator.Address(), a.cfg.Ledger.CollateralDecimals)
	if err != nil {
		return nil, fmt.Errorf("app: collateral mint: %w", err)
	}

	var guard executor.ReplayGuard
	if deps.Replay != nil {
		guard = deps.Replay
	} else {
		n.replay = executor.NewMemoryReplay(a.cfg.Ledger.ReplayWindow.Duration)
		guard = n.replay
	}
	n.exec = executor.New(executor.Services{
		Markets:     n.markets,
		Vaults:      n.vaults,
		Resolutions: n.resolution,
		Tokens:      n.tokens,
	}, guard, deps.Audit, a.logger)

	a.logger.InfoContext(ctx, "ledger ready",
		slog.String("operator", deps.Operator.Address().Hex()),
		slog.String("collateral_mint", n.collateral.Hex()),
		slog.Uint64("ledger_time", l.Now()),
	)
	return n, nil
}

// NodeMode runs the ledger behind the HTTP API and event stream, plus the
// notifier and, when enabled, the archival job.
func (a *App) NodeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting node mode")
	startedAt := time.Now().UTC()

	// Without a bus the hub is fed straight from the ledger.
	var hubChannel string
	if deps.SignalBus != nil {
		hubChannel = redis.EventsChannel
	}
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Channel:   hubChannel,
		Mode:      a.cfg.Mode,
		StartedAt: startedAt,
	})
	var observers []ledger.Observer
	if deps.SignalBus == nil {
		observers = append(observers, hub)
	}

	n, err := a.buildNode(ctx, deps, observers...)
	if err != nil {
		return err
	}

	jobs := []pipeline.Job{
		{Name: "ws_hub", Run: hub.Run},
		{Name: "notifier", Run: deps.Notifier.Run},
	}

	if a.cfg.Server.Enabled {
		cache := handlerCache(deps)
		srv := server.NewServer(server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			APIKey:      a.cfg.Server.APIKey,
			RateLimit:   a.cfg.Server.RateLimit,
			RateWindow:  a.cfg.Server.RateWindow.Duration,
		}, server.Handlers{
			Health:   handler.NewHealthHandler(a.logger, deps.Checks...),
			Status:   handler.NewStatusHandler(a.cfg.Mode, startedAt, n.ledger.Now),
			Markets:  handler.NewMarketHandler(handler.Readers{MarketService: n.markets, VaultService: n.vaults, ResolutionService: n.resolution}, cache, a.logger),
			Balances: handler.NewBalanceHandler(n.tokens, a.cfg.Ledger.CollateralDecimals, a.logger),
			Events:   handler.NewEventHandler(n.events, a.logger),
			Tx:       handler.NewTxHandler(n.exec, a.logger),
		}, hub, deps.RateLimiter, a.logger)
		jobs = append(jobs, pipeline.Job{Name: "http", Run: srv.Serve})
	}

	if n.replay != nil {
		jobs = append(jobs, pipeline.Every("replay_cleanup", replayCleanupIn, func(context.Context) {
			n.replay.Cleanup()
		}))
	}

	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		archiver := pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.Retention(), lockOrNil(deps), a.logger)
		jobs = append(jobs, pipeline.Job{Name: "archive", Run: func(ctx context.Context) error {
			return archiver.RunCron(ctx, a.cfg.Archive.Cron)
		}})
	}

	return pipeline.NewOrchestrator(a.logger, jobs...).Run(ctx)
}

// ArchiveMode runs one archival pass and exits.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")
	if deps.Archiver == nil {
		return fmt.Errorf("app: archive mode needs s3")
	}
	archiver := pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.Retention(), lockOrNil(deps), a.logger)
	n, err := archiver.Run(ctx)
	if err != nil {
		return fmt.Errorf("app: archive: %w", err)
	}
	a.logger.InfoContext(ctx, "archive pass complete", slog.Int64("events", n))
	return nil
}

// handlerCache keeps a nil *redis.MarketCache from becoming a non-nil
// domain.ViewCache.
func handlerCache(deps *Dependencies) domain.ViewCache {
	if deps.ViewCache == nil {
		return nil
	}
	return deps.ViewCache
}

func lockOrNil(deps *Dependencies) domain.LockManager {
	if deps.LockManager == nil {
		return nil
	}
	return deps.LockManager
}
