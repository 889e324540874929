// Package app assembles the league engine from a configuration: store,
// price source, ledger, ranking engine, statistics and the standings
// archive. The server and the admin CLI share it.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/portfolio-league/league-engine/internal/archive"
	"github.com/portfolio-league/league-engine/internal/basket"
	"github.com/portfolio-league/league-engine/internal/config"
	"github.com/portfolio-league/league-engine/internal/ledger"
	"github.com/portfolio-league/league-engine/internal/model"
	"github.com/portfolio-league/league-engine/internal/period"
	"github.com/portfolio-league/league-engine/internal/price"
	"github.com/portfolio-league/league-engine/internal/ranking"
	"github.com/portfolio-league/league-engine/internal/stats"
	"github.com/portfolio-league/league-engine/internal/store"
)

// devPrice seeds the in-memory price table for assets without a fixed price.
var devPrice = decimal.NewFromInt(100)

// App holds the wired components.
type App struct {
	Config    *config.Config
	Clock     *period.Clock
	Validator *basket.Validator
	Store     store.Store
	Prices    price.Provider
	Ledger    *ledger.Ledger
	Ranking   *ranking.Engine
	Stats     *stats.Service

	// Exporter is nil unless the archive is enabled.
	Exporter *archive.Exporter

	closers []func()
}

// New connects every backing service named by cfg. cfg must be valid.
// Call Close when done, also after an error.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	clock, err := period.NewClock(cfg.League.Anchor, cfg.League.PeriodLength.Duration,
		cfg.League.PrizePool, cfg.League.PayoutFraction)
	if err != nil {
		return a, err
	}
	a.Clock = clock

	assets := make([]model.Asset, 0, len(cfg.League.Assets))
	for _, s := range cfg.League.Assets {
		assets = append(assets, model.Asset(s))
	}
	if a.Validator, err = basket.NewValidator(assets, cfg.League.BasketSize); err != nil {
		return a, err
	}

	if a.Store, err = a.openStore(ctx); err != nil {
		return a, err
	}
	if a.Prices, err = a.openPrices(ctx); err != nil {
		return a, err
	}

	policy, err := ledger.ParsePolicy(cfg.League.ResubmissionPolicy)
	if err != nil {
		return a, err
	}
	a.Ledger = ledger.New(a.Store, clock, a.Validator, a.Prices, ledger.WithPolicy(policy))
	a.Ranking = ranking.New(a.Store, clock, a.Prices)
	a.Stats = stats.New(a.Store, a.Ranking, clock, 0)

	if cfg.Archive.Enabled {
		w, err := archive.NewS3Writer(ctx, archive.S3Config{
			Endpoint:       cfg.Archive.Endpoint,
			Region:         cfg.Archive.Region,
			Bucket:         cfg.Archive.Bucket,
			AccessKey:      cfg.Archive.AccessKey,
			SecretKey:      cfg.Archive.SecretKey,
			ForcePathStyle: cfg.Archive.ForcePathStyle,
		})
		if err != nil {
			return a, err
		}
		a.Exporter = archive.NewExporter(a.Ranking, clock, w, cfg.Archive.Prefix)
		slog.Info("standings archive enabled", "bucket", cfg.Archive.Bucket)
	}

	return a, nil
}

// Close releases connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// openStore picks PostgreSQL (optionally cached in Redis), Redis alone, or
// memory, in that order.
func (a *App) openStore(ctx context.Context) (store.Store, error) {
	cfg := a.Config

	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		rdb = redis.NewClient(opt)
		a.closers = append(a.closers, func() { rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
	}

	if cfg.Database.URL == "" {
		if rdb != nil {
			slog.Info("using Redis store")
			return store.NewRedisStore(rdb), nil
		}
		slog.Warn("no database configured, using in-memory store (data will not persist)")
		return store.NewMemoryStore(), nil
	}

	if cfg.Database.RunMigrations {
		if err := store.RunMigrations(cfg.Database.URL); err != nil {
			return nil, err
		}
		slog.Info("database migrations applied")
	}

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	a.closers = append(a.closers, pool.Close)
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("database ping: %w", err)
	}
	slog.Info("connected to PostgreSQL")

	var st store.Store = store.NewPostgresStore(pool)
	if rdb != nil {
		st = store.NewCachedStore(st, rdb, cfg.Redis.CacheTTL.Duration)
		slog.Info("Redis cache enabled", "ttl", cfg.Redis.CacheTTL.Duration)
	}
	return st, nil
}

// openPrices reads Chainlink feeds when an RPC endpoint is configured and
// falls back to a static in-memory table otherwise.
func (a *App) openPrices(ctx context.Context) (price.Provider, error) {
	cfg := a.Config.Oracle

	fixed := make(map[model.Asset]decimal.Decimal, len(cfg.Fixed))
	for s, v := range cfg.Fixed {
		p, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("oracle fixed price for %s: %w", s, err)
		}
		fixed[basket.Normalize(model.Asset(s))] = p
	}

	guard := price.GuardConfig{
		Timeout:     cfg.Timeout.Duration,
		MaxFailures: uint32(cfg.BreakerFailures),
		OpenTimeout: cfg.BreakerOpenTimeout.Duration,
	}

	if cfg.RPCURL == "" {
		slog.Warn("no oracle rpc configured, using static dev prices")
		table := price.NewTable()
		for _, asset := range a.Validator.Assets() {
			p, ok := fixed[asset]
			if !ok {
				p = devPrice
			}
			table.Set(asset, a.Clock.Anchor(), p)
		}
		return price.NewGuarded("table", table, guard), nil
	}

	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial oracle rpc: %w", err)
	}
	a.closers = append(a.closers, client.Close)

	feeds := make(map[model.Asset]string, len(cfg.Feeds))
	for s, addr := range cfg.Feeds {
		feeds[basket.Normalize(model.Asset(s))] = addr
	}
	chainlink, err := price.NewChainlink(client, price.ChainlinkConfig{
		Feeds:       feeds,
		Fixed:       fixed,
		MaxLookback: cfg.MaxLookback,
	})
	if err != nil {
		return nil, err
	}
	slog.Info("reading prices from chainlink", "feeds", len(feeds))
	return price.NewGuarded("chainlink", chainlink, guard), nil
}
