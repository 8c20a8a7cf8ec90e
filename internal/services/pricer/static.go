package pricer

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/tokenledger/internal/domain"
)

// Static fixed price book. Used in offline mode and tests.
type Static struct {
	prices map[string]decimal.Decimal
	mu     sync.RWMutex
}

// NewStatic creates a price book from prices keyed by coin.
func NewStatic(prices map[string]decimal.Decimal) *Static {
	s := &Static{prices: make(map[string]decimal.Decimal, len(prices))}
	for coin, price := range prices {
		s.prices[domain.NormalizeCoin(coin)] = price
	}
	return s
}

// Set changes the price of coin.
func (s *Static) Set(coin string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[domain.NormalizeCoin(coin)] = price
}

// Delete removes coin from the book.
func (s *Static) Delete(coin string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.prices, domain.NormalizeCoin(coin))
}

func (s *Static) GetPrice(ctx context.Context, coin string) (decimal.Decimal, error) {
	return priceOf(ctx, s.GetPrices, coin)
}

func (s *Static) GetPrices(_ context.Context, coins []string) (map[string]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]decimal.Decimal, len(coins))
	for _, coin := range normalizeCoins(coins) {
		if price, ok := s.prices[coin]; ok {
			out[coin] = price
		}
	}
	return out, nil
}

// Coins lists the coins with a price, sorted.
func (s *Static) Coins() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := make(coinSet, len(s.prices))
	for coin := range s.prices {
		set[coin] = struct{}{}
	}
	return set.list()
}
