package portfolio

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/tokenledger/internal/domain"
	"go.uber.org/zap"
)

// Wallet returns ownerID's current cash.
func (a *Aggregator) Wallet(ctx context.Context, ownerID string) (domain.Wallet, error) {
	return a.store.Wallet(ctx, ownerID)
}

// TokenBalances lists ownerID's holdings ordered by coin with their summed quantity.
func (a *Aggregator) TokenBalances(ctx context.Context, ownerID string) (domain.BalanceSheet, error) {
	holdings, err := a.store.Holdings(ctx, ownerID)
	if err != nil {
		return domain.BalanceSheet{}, err
	}

	sheet := domain.BalanceSheet{Balances: holdings}
	for _, h := range holdings {
		sheet.TotalQuantity += h.Quantity
	}

	return sheet, nil
}

// HistoryFilter narrows Transactions. A zero Kind keeps every entry.
type HistoryFilter struct {
	Kind  domain.EntryKind
	Coin  string
	Limit int
}

// Transactions returns ownerID's ledger entries newest first.
func (a *Aggregator) Transactions(ctx context.Context, ownerID string, filter HistoryFilter) ([]domain.LedgerEntry, error) {
	if filter.Kind != "" {
		if _, err := domain.ParseEntryKind(string(filter.Kind)); err != nil {
			return nil, err
		}
	}
	if filter.Limit < 0 {
		return nil, errors.Wrapf(domain.ErrInvalidRequest, "limit must not be negative, got %d", filter.Limit)
	}
	coin := domain.NormalizeCoin(filter.Coin)

	entries, err := a.store.Entries(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	out := make([]domain.LedgerEntry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if filter.Kind != "" && e.Kind != filter.Kind {
			continue
		}
		if coin != "" && e.Coin != coin {
			continue
		}
		out = append(out, e)
	}
	// equal timestamps keep reverse append order.
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}

	return out, nil
}

// LivePrices returns current prices for coins, omitting the ones the oracle cannot price.
func (a *Aggregator) LivePrices(ctx context.Context, coins []string) (map[string]decimal.Decimal, error) {
	prices, err := a.prices.GetPrices(ctx, coins)
	if err != nil && len(prices) == 0 {
		return nil, err
	}
	if err != nil {
		a.logger.Warn("live prices are partial", zap.Error(err))
	}
	return prices, nil
}
