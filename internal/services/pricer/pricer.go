// Package pricer resolves current USD prices for coins.
package pricer

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/tokenledger/internal/domain"
)

// Oracle source of current prices keyed by normalized coin symbol.
// GetPrices omits coins it cannot price instead of failing.
type Oracle interface {
	GetPrice(ctx context.Context, coin string) (decimal.Decimal, error)
	GetPrices(ctx context.Context, coins []string) (map[string]decimal.Decimal, error)
}

// DefaultCoins coin ids priced out of the box.
var DefaultCoins = []string{"bitcoin", "ethereum", "tether", "dogecoin", "solana", "cardano"}

type coinSet map[string]struct{}

func newCoinSet(coins []string) coinSet {
	set := make(coinSet, len(coins))
	for _, c := range coins {
		if c = domain.NormalizeCoin(c); c != "" {
			set[c] = struct{}{}
		}
	}
	return set
}

func (s coinSet) contains(coin string) bool {
	_, ok := s[coin]
	return ok
}

// known normalizes and dedups coins, keeping only members of s.
func (s coinSet) known(coins []string) []string {
	out := normalizeCoins(coins)
	filtered := out[:0]
	for _, c := range out {
		if s.contains(c) {
			filtered = append(filtered, c)
		}
	}
	return filtered
}

func (s coinSet) list() []string {
	out := make([]string, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// normalizeCoins returns coins normalized, deduplicated and sorted.
func normalizeCoins(coins []string) []string {
	seen := make(map[string]struct{}, len(coins))
	out := make([]string, 0, len(coins))
	for _, c := range coins {
		c = domain.NormalizeCoin(c)
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// priceOf looks coin up through a batch fetch. A coin missing from the batch is unknown.
func priceOf(ctx context.Context, fetch func(ctx context.Context, coins []string) (map[string]decimal.Decimal, error), coin string) (decimal.Decimal, error) {
	coin = domain.NormalizeCoin(coin)
	if coin == "" {
		return decimal.Zero, errors.Wrap(domain.ErrInvalidRequest, "coin is required")
	}

	prices, err := fetch(ctx, []string{coin})
	if price, ok := prices[coin]; ok {
		return price, nil
	}
	if err != nil {
		return decimal.Zero, err
	}

	return decimal.Zero, errors.Wrapf(domain.ErrUnknownCoin, "coin %s", coin)
}

func unavailable(err error, source string) error {
	if errors.Is(err, domain.ErrPriceUnavailable) {
		return err
	}
	return errors.Wrapf(domain.ErrPriceUnavailable, "%s: %v", source, err)
}
