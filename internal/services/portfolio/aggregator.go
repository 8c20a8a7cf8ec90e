// Package portfolio derives read-side views from the ledger: profit/loss snapshots,
// purchase summaries, balances and history.
package portfolio

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/tokenledger/internal/domain"
	"go.uber.org/zap"
)

type ledgerReader interface {
	Wallet(ctx context.Context, ownerID string) (domain.Wallet, error)
	Holdings(ctx context.Context, ownerID string) ([]domain.Holding, error)
	Entries(ctx context.Context, ownerID string) ([]domain.LedgerEntry, error)
	SaveSnapshots(ctx context.Context, ownerID string, snapshots []domain.PortfolioSnapshot) error
}

type priceSource interface {
	GetPrices(ctx context.Context, coins []string) (map[string]decimal.Decimal, error)
}

// Aggregator computes portfolio views for one owner at a time.
type Aggregator struct {
	store  ledgerReader
	prices priceSource
	logger *zap.Logger
	now    func() time.Time
}

// Option configures the Aggregator.
type Option func(*Aggregator)

// WithClock sets the time source for snapshot timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// NewAggregator creates an aggregator over store and prices.
func NewAggregator(store ledgerReader, prices priceSource, logger *zap.Logger, opts ...Option) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Aggregator{store: store, prices: prices, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type coinTotals struct {
	invested  decimal.Decimal
	earned    decimal.Decimal
	purchased int64
	sold      int64
}

// Recompute rebuilds every PortfolioSnapshot of ownerID from the ledger and current prices,
// upserts them and returns them ordered by coin, case-insensitively.
// Coins without a price are valued at zero.
func (a *Aggregator) Recompute(ctx context.Context, ownerID string) ([]domain.PortfolioSnapshot, error) {
	entries, err := a.store.Entries(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	totals := make(map[string]*coinTotals)
	coins := make([]string, 0)
	for _, e := range entries {
		t, ok := totals[e.Coin]
		if !ok {
			t = &coinTotals{}
			totals[e.Coin] = t
			coins = append(coins, e.Coin)
		}
		switch e.Kind {
		case domain.EntryKindBuy:
			t.purchased += e.Quantity
			t.invested = t.invested.Add(e.TotalPrice)
		case domain.EntryKindSell:
			t.sold += e.Quantity
			t.earned = t.earned.Add(e.TotalPrice)
		}
	}
	if len(coins) == 0 {
		return []domain.PortfolioSnapshot{}, nil
	}
	sort.Slice(coins, func(i, j int) bool { return domain.CoinLess(coins[i], coins[j]) })

	prices := a.currentPrices(ctx, coins)
	computedAt := a.now().UTC()

	snapshots := make([]domain.PortfolioSnapshot, 0, len(coins))
	for _, coin := range coins {
		t := totals[coin]
		price := prices[coin]
		holdingQty := t.purchased - t.sold
		holdingValue := price.Mul(decimal.NewFromInt(holdingQty))

		snapshots = append(snapshots, domain.PortfolioSnapshot{
			ComputedAt:        computedAt,
			TotalInvested:     t.invested,
			TotalEarned:       t.earned,
			CurrentPrice:      price,
			HoldingValue:      holdingValue,
			NetProfitLoss:     domain.SnapToCent(t.earned.Add(holdingValue).Sub(t.invested)),
			OwnerID:           ownerID,
			Coin:              coin,
			TotalPurchasedQty: t.purchased,
			TotalSoldQty:      t.sold,
			HoldingQty:        holdingQty,
		})
	}

	if err := a.store.SaveSnapshots(ctx, ownerID, snapshots); err != nil {
		return nil, err
	}

	return snapshots, nil
}

// currentPrices asks for all coins in one batch. Missing or failed lookups stay at zero.
func (a *Aggregator) currentPrices(ctx context.Context, coins []string) map[string]decimal.Decimal {
	prices, err := a.prices.GetPrices(ctx, coins)
	if err != nil {
		a.logger.Warn("pricing portfolio with partial prices", zap.Strings("coins", coins), zap.Error(err))
	}
	if prices == nil {
		prices = map[string]decimal.Decimal{}
	}

	out := make(map[string]decimal.Decimal, len(coins))
	for _, coin := range coins {
		if p, ok := prices[coin]; ok && !p.IsNegative() {
			out[coin] = p
			continue
		}
		out[coin] = decimal.Zero
	}
	return out
}

// SummarizePurchases totals buy entries per coin, ascending by coin.
func (a *Aggregator) SummarizePurchases(ctx context.Context, ownerID string) ([]domain.PurchaseSummary, error) {
	entries, err := a.store.Entries(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	byCoin := make(map[string]*domain.PurchaseSummary)
	for _, e := range entries {
		if e.Kind != domain.EntryKindBuy {
			continue
		}
		s, ok := byCoin[e.Coin]
		if !ok {
			s = &domain.PurchaseSummary{Coin: e.Coin}
			byCoin[e.Coin] = s
		}
		s.TotalQuantity += e.Quantity
		s.TotalValue = s.TotalValue.Add(e.TotalPrice)
	}

	out := make([]domain.PurchaseSummary, 0, len(byCoin))
	for _, s := range byCoin {
		if s.TotalQuantity <= 0 {
			continue
		}
		s.TotalValue = domain.Round2(s.TotalValue)
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Coin < out[j].Coin })

	return out, nil
}
