package trader

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/tokenledger/internal/domain"
	"github.com/vadiminshakov/tokenledger/internal/storage"
	"go.uber.org/zap"
)

const defaultPriceTimeout = 5 * time.Second

type ledgerStore interface {
	CreateWallet(ctx context.Context, wallet domain.Wallet) error
	Update(ctx context.Context, ownerID string, fn storage.TxFunc) error
	Wallet(ctx context.Context, ownerID string) (domain.Wallet, error)
	Holding(ctx context.Context, ownerID, coin string) (domain.Holding, bool, error)
}

// Pricer resolves the execution price of a coin.
type Pricer interface {
	GetPrice(ctx context.Context, coin string) (decimal.Decimal, error)
}

// Engine executes buys and sells against owners' wallets. Each trade commits the
// cash change, the holding change and the ledger entry as one unit.
type Engine struct {
	store        ledgerStore
	pricer       Pricer
	logger       *zap.Logger
	locks        *ownerLocks
	now          func() time.Time
	initialCash  decimal.Decimal
	priceTimeout time.Duration
}

// Option configures the Engine.
type Option func(*Engine)

// WithClock sets the time source for entry timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithInitialCash sets the cash credited by OpenAccount.
func WithInitialCash(cash decimal.Decimal) Option {
	return func(e *Engine) { e.initialCash = cash }
}

// WithPriceTimeout bounds each oracle lookup.
func WithPriceTimeout(d time.Duration) Option {
	return func(e *Engine) { e.priceTimeout = d }
}

// NewEngine creates a trading engine.
func NewEngine(store ledgerStore, pricer Pricer, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, errors.New("ledger store is required")
	}
	if pricer == nil {
		return nil, errors.New("pricer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		store:        store,
		pricer:       pricer,
		logger:       logger,
		locks:        newOwnerLocks(),
		now:          time.Now,
		initialCash:  domain.DefaultInitialCash,
		priceTimeout: defaultPriceTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.initialCash.IsNegative() {
		return nil, errors.Errorf("initial cash must not be negative, got %s", e.initialCash)
	}

	return e, nil
}

// TradeRequest inbound buy or sell from an authenticated owner.
type TradeRequest struct {
	OwnerID  string
	Coin     string
	Quantity int64
}

func (r TradeRequest) normalize() (TradeRequest, error) {
	r.OwnerID = strings.TrimSpace(r.OwnerID)
	r.Coin = domain.NormalizeCoin(r.Coin)

	switch {
	case r.OwnerID == "":
		return r, errors.Wrap(domain.ErrInvalidRequest, "owner id is required")
	case r.Coin == "":
		return r, errors.Wrap(domain.ErrInvalidRequest, "coin is required")
	case r.Quantity <= 0:
		return r, errors.Wrapf(domain.ErrInvalidRequest, "quantity must be positive, got %d", r.Quantity)
	}

	return r, nil
}

// TradeResult state left behind by a committed trade.
type TradeResult struct {
	Entry           domain.LedgerEntry `json:"entry"`
	Cash            decimal.Decimal    `json:"cash"`
	HoldingQuantity int64              `json:"holding_quantity"`
}

// OpenAccount creates ownerID's wallet funded with the initial cash.
func (e *Engine) OpenAccount(ctx context.Context, ownerID string) (domain.Wallet, error) {
	wallet, err := domain.NewWallet(ownerID, e.initialCash, e.now())
	if err != nil {
		return domain.Wallet{}, err
	}

	unlock := e.locks.lock(wallet.OwnerID)
	defer unlock()

	if err := e.store.CreateWallet(ctx, wallet); err != nil {
		return domain.Wallet{}, err
	}
	e.logger.Info("account opened",
		zap.String("owner", wallet.OwnerID),
		zap.String("cash", wallet.Cash.StringFixed(2)))

	return wallet, nil
}

// Buy prices req at execution time and buys.
func (e *Engine) Buy(ctx context.Context, req TradeRequest) (TradeResult, error) {
	req, err := req.normalize()
	if err != nil {
		return TradeResult{}, err
	}
	if _, err := e.store.Wallet(ctx, req.OwnerID); err != nil {
		return TradeResult{}, err
	}

	price, err := e.quote(ctx, req.Coin)
	if err != nil {
		return TradeResult{}, err
	}

	return e.ExecuteBuy(ctx, req.OwnerID, req.Coin, req.Quantity, price)
}

// Sell checks the holding, prices req at execution time and sells.
func (e *Engine) Sell(ctx context.Context, req TradeRequest) (TradeResult, error) {
	req, err := req.normalize()
	if err != nil {
		return TradeResult{}, err
	}

	holding, ok, err := e.store.Holding(ctx, req.OwnerID, req.Coin)
	if err != nil {
		return TradeResult{}, err
	}
	if !ok {
		return TradeResult{}, errors.Wrapf(domain.ErrNoSuchHolding, "%s holds no %s", req.OwnerID, req.Coin)
	}
	if holding.Quantity < req.Quantity {
		return TradeResult{}, errors.Wrapf(domain.ErrInsufficientHoldings, "have %d %s need %d", holding.Quantity, req.Coin, req.Quantity)
	}

	price, err := e.quote(ctx, req.Coin)
	if err != nil {
		return TradeResult{}, err
	}

	return e.ExecuteSell(ctx, req.OwnerID, req.Coin, req.Quantity, price)
}

// ExecuteBuy debits quantity*pricePerUnit, increments the holding and appends a buy entry.
func (e *Engine) ExecuteBuy(ctx context.Context, ownerID, coin string, quantity int64, pricePerUnit decimal.Decimal) (TradeResult, error) {
	return e.execute(ctx, domain.EntryKindBuy, TradeRequest{OwnerID: ownerID, Coin: coin, Quantity: quantity}, pricePerUnit)
}

// ExecuteSell credits quantity*pricePerUnit, decrements the holding and appends a sell entry.
func (e *Engine) ExecuteSell(ctx context.Context, ownerID, coin string, quantity int64, pricePerUnit decimal.Decimal) (TradeResult, error) {
	return e.execute(ctx, domain.EntryKindSell, TradeRequest{OwnerID: ownerID, Coin: coin, Quantity: quantity}, pricePerUnit)
}

// quote asks the pricer outside any owner lock. Trades never run on a missing or zero price.
func (e *Engine) quote(ctx context.Context, coin string) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, e.priceTimeout)
	defer cancel()

	price, err := e.pricer.GetPrice(ctx, coin)
	if err != nil {
		if errors.Is(err, domain.ErrPriceUnavailable) {
			return decimal.Zero, err
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return decimal.Zero, errors.Wrapf(domain.ErrPriceUnavailable, "price of %s timed out", coin)
		}
		return decimal.Zero, errors.Wrapf(domain.ErrPriceUnavailable, "price of %s: %v", coin, err)
	}
	if !price.IsPositive() {
		return decimal.Zero, errors.Wrapf(domain.ErrPriceUnavailable, "price of %s is %s", coin, price)
	}

	return price, nil
}

func (e *Engine) execute(ctx context.Context, kind domain.EntryKind, req TradeRequest, price decimal.Decimal) (TradeResult, error) {
	req, err := req.normalize()
	if err != nil {
		return TradeResult{}, err
	}
	if price.IsNegative() {
		return TradeResult{}, errors.Wrapf(domain.ErrInvalidRequest, "price must not be negative, got %s", price)
	}

	unlock := e.locks.lock(req.OwnerID)
	defer unlock()

	var result TradeResult
	err = e.store.Update(ctx, req.OwnerID, func(tx storage.Tx) error {
		wallet, err := tx.Wallet(ctx)
		if err != nil {
			return err
		}
		holding, exists, err := tx.Holding(ctx, req.Coin)
		if err != nil {
			return err
		}
		if kind == domain.EntryKindSell && !exists {
			return errors.Wrapf(domain.ErrNoSuchHolding, "%s holds no %s", req.OwnerID, req.Coin)
		}

		entry, err := domain.NewLedgerEntry(req.OwnerID, req.Coin, kind, req.Quantity, price, e.now())
		if err != nil {
			return err
		}
		cash, quantity, err := entry.Apply(wallet.Cash, holding.Quantity)
		if err != nil {
			return err
		}

		fill := domain.Fill{
			Entry:   entry,
			Cash:    cash,
			Holding: domain.Holding{OwnerID: req.OwnerID, Coin: entry.Coin, Quantity: quantity},
		}
		if err := tx.Commit(ctx, fill); err != nil {
			return err
		}

		result = TradeResult{Entry: entry, Cash: cash, HoldingQuantity: quantity}
		return nil
	})
	if err != nil {
		e.logger.Debug("trade rejected",
			zap.String("owner", req.OwnerID),
			zap.String("coin", req.Coin),
			zap.String("kind", string(kind)),
			zap.Int64("quantity", req.Quantity),
			zap.Error(err))
		return TradeResult{}, err
	}

	e.logger.Info("trade executed",
		zap.String("id", result.Entry.ID.String()),
		zap.String("owner", req.OwnerID),
		zap.String("coin", req.Coin),
		zap.String("kind", string(kind)),
		zap.Int64("quantity", req.Quantity),
		zap.String("price", price.String()),
		zap.String("total", result.Entry.TotalPrice.StringFixed(2)),
		zap.String("cash", result.Cash.StringFixed(2)))

	return result, nil
}
