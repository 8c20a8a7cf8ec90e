package internal

import (
	"context"
	"net/http"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/vadiminshakov/tokenledger/config"
	"github.com/vadiminshakov/tokenledger/internal/services/portfolio"
	"github.com/vadiminshakov/tokenledger/internal/services/pricer"
	"github.com/vadiminshakov/tokenledger/internal/services/trader"
	"github.com/vadiminshakov/tokenledger/internal/storage"
	"github.com/vadiminshakov/tokenledger/internal/storage/sqlstore"
	"github.com/vadiminshakov/tokenledger/internal/storage/walstore"
	"github.com/vadiminshakov/tokenledger/pkg/retrier"
)

const redisPingTimeout = 3 * time.Second

// App is one configured ledger: store, oracle and the services on top of them.
type App struct {
	Store     storage.Ledger
	Oracle    pricer.Oracle
	Engine    *trader.Engine
	Portfolio *portfolio.Aggregator
	// Coins the oracle is expected to price.
	Coins []string

	closers []func() error
}

// NewApp opens the store, builds the oracle chain and the services.
func NewApp(cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	store, err := newStore(cfg.Store, logger)
	if err != nil {
		return nil, err
	}
	app := &App{Store: store, closers: []func() error{store.Close}}

	source, err := newOracle(cfg.Oracle, logger.Named("oracle"))
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	app.Coins = source.coins

	oracle, closeCache, err := withCache(source.oracle, cfg.Cache, logger.Named("cache"))
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	if closeCache != nil {
		app.closers = append(app.closers, closeCache)
	}
	app.Oracle = oracle

	app.Engine, err = trader.NewEngine(store, oracle, logger.Named("engine"),
		trader.WithInitialCash(cfg.Account.InitialCash),
		trader.WithPriceTimeout(cfg.Oracle.Timeout))
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	app.Portfolio = portfolio.NewAggregator(store, oracle, logger.Named("portfolio"))

	return app, nil
}

// Close releases the cache client and the store, last opened first.
func (a *App) Close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i]())
	}
	a.closers = nil
	return err
}

func newStore(cfg config.Store, logger *zap.Logger) (storage.Ledger, error) {
	switch cfg.Driver {
	case config.StoreWAL:
		return walstore.Open(walstore.Options{Dir: cfg.WALDir, Logger: logger.Named("walstore")})
	case config.StorePostgres:
		return sqlstore.Open(sqlstore.DriverPostgres, cfg.DSN, logger)
	case config.StoreSQLite:
		return sqlstore.Open(sqlstore.DriverSQLite, cfg.DSN, logger)
	default:
		return nil, errors.Errorf("unsupported store driver: %s", cfg.Driver)
	}
}

type oracleSource struct {
	oracle pricer.Oracle
	coins  []string
}

func newOracle(cfg config.Oracle, logger *zap.Logger) (oracleSource, error) {
	switch cfg.Provider {
	case config.OracleCoinGecko:
		r := retrier.New(
			retrier.WithMaxRetries(cfg.Retries),
			retrier.WithOnRetry(func(attempt int, err error) {
				logger.Warn("retrying price request", zap.Int("attempt", attempt), zap.Error(err))
			}),
		)
		opts := []pricer.CoinGeckoOption{
			pricer.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
			pricer.WithRetrier(r),
			pricer.WithVsCurrency(cfg.VsCurrency),
			pricer.WithLogger(logger),
		}
		if cfg.APIKey != "" {
			opts = append(opts, pricer.WithAPIKey(cfg.APIKey))
		}
		if len(cfg.Coins) > 0 {
			opts = append(opts, pricer.WithCoins(cfg.Coins))
		}
		gecko := pricer.NewCoinGecko(cfg.BaseURL, opts...)
		return oracleSource{oracle: gecko, coins: gecko.Coins()}, nil

	case config.OracleBinance:
		b := pricer.NewBinance(binance.NewClient("", ""), cfg.Symbols)
		return oracleSource{oracle: b, coins: b.Coins()}, nil

	case config.OracleStatic:
		s := pricer.NewStatic(cfg.Prices)
		return oracleSource{oracle: s, coins: s.Coins()}, nil

	default:
		return oracleSource{}, errors.Errorf("unsupported oracle provider: %s", cfg.Provider)
	}
}

func withCache(next pricer.Oracle, cfg config.Cache, logger *zap.Logger) (pricer.Oracle, func() error, error) {
	switch cfg.Backend {
	case config.CacheNone:
		return next, nil, nil

	case config.CacheMemory:
		return pricer.NewCached(next, pricer.NewMemoryCache(), cfg.TTL, logger), nil, nil

	case config.CacheRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, errors.Wrapf(err, "connect redis %s", cfg.RedisAddr)
		}
		cache := pricer.NewRedisCache(client, cfg.RedisPrefix)
		return pricer.NewCached(next, cache, cfg.TTL, logger), client.Close, nil

	default:
		return nil, nil, errors.Errorf("unsupported cache backend: %s", cfg.Backend)
	}
}
