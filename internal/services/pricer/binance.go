package pricer

import (
	"context"
	"strings"

	"github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/tokenledger/internal/domain"
)

// DefaultBinanceSymbols maps coin ids to Binance spot tickers quoted in USDT.
var DefaultBinanceSymbols = map[string]string{
	"bitcoin":  "BTCUSDT",
	"ethereum": "ETHUSDT",
	"dogecoin": "DOGEUSDT",
	"solana":   "SOLUSDT",
	"cardano":  "ADAUSDT",
}

// Binance prices coins from the Binance public ticker API. No credentials are needed.
type Binance struct {
	client  *binance.Client
	symbols map[string]string
	coins   map[string]string
}

// NewBinance creates an oracle over client. symbols maps coin ids to tickers; nil uses DefaultBinanceSymbols.
func NewBinance(client *binance.Client, symbols map[string]string) *Binance {
	if client == nil {
		client = binance.NewClient("", "")
	}
	if len(symbols) == 0 {
		symbols = DefaultBinanceSymbols
	}

	b := &Binance{
		client:  client,
		symbols: make(map[string]string, len(symbols)),
		coins:   make(map[string]string, len(symbols)),
	}
	for coin, ticker := range symbols {
		coin = domain.NormalizeCoin(coin)
		ticker = strings.ToUpper(strings.TrimSpace(ticker))
		b.symbols[coin] = ticker
		b.coins[ticker] = coin
	}

	return b
}

// Coins lists the mapped coin ids, sorted.
func (b *Binance) Coins() []string {
	set := make(coinSet, len(b.symbols))
	for coin := range b.symbols {
		set[coin] = struct{}{}
	}
	return set.list()
}

func (b *Binance) GetPrice(ctx context.Context, coin string) (decimal.Decimal, error) {
	return priceOf(ctx, b.GetPrices, coin)
}

// GetPrices fetches every mapped coin among coins in one ticker request.
func (b *Binance) GetPrices(ctx context.Context, coins []string) (map[string]decimal.Decimal, error) {
	tickers := make([]string, 0, len(coins))
	for _, coin := range normalizeCoins(coins) {
		if ticker, ok := b.symbols[coin]; ok {
			tickers = append(tickers, ticker)
		}
	}
	if len(tickers) == 0 {
		return map[string]decimal.Decimal{}, nil
	}

	svc := b.client.NewListPricesService()
	if len(tickers) == 1 {
		svc = svc.Symbol(tickers[0])
	} else {
		svc = svc.Symbols(tickers)
	}
	list, err := svc.Do(ctx)
	if err != nil {
		return nil, unavailable(err, "binance")
	}

	prices := make(map[string]decimal.Decimal, len(list))
	for _, p := range list {
		coin, ok := b.coins[p.Symbol]
		if !ok {
			continue
		}
		price, err := decimal.NewFromString(p.Price)
		if err != nil {
			return nil, unavailable(errors.Wrapf(err, "parse %s price", p.Symbol), "binance")
		}
		prices[coin] = price
	}

	return prices, nil
}
