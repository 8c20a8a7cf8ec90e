package pricer

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"github.com/vadiminshakov/tokenledger/pkg/retrier"
	"go.uber.org/zap"
)

const (
	DefaultCoinGeckoURL = "https://api.coingecko.com/api/v3"

	defaultVsCurrency  = "usd"
	defaultHTTPTimeout = 10 * time.Second
	maxResponseBytes   = 1 << 20
	apiKeyHeader       = "x-cg-demo-api-key"
)

// CoinGecko prices coins through the /simple/price endpoint.
type CoinGecko struct {
	client     *http.Client
	retrier    *retrier.Retrier
	logger     *zap.Logger
	known      coinSet
	baseURL    string
	apiKey     string
	vsCurrency string
}

// CoinGeckoOption configures CoinGecko.
type CoinGeckoOption func(*CoinGecko)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) CoinGeckoOption {
	return func(g *CoinGecko) { g.client = c }
}

// WithAPIKey sends key in the demo API key header.
func WithAPIKey(key string) CoinGeckoOption {
	return func(g *CoinGecko) { g.apiKey = key }
}

// WithRetrier replaces the retry policy.
func WithRetrier(r *retrier.Retrier) CoinGeckoOption {
	return func(g *CoinGecko) { g.retrier = r }
}

// WithCoins restricts the oracle to the given coin ids.
func WithCoins(coins []string) CoinGeckoOption {
	return func(g *CoinGecko) { g.known = newCoinSet(coins) }
}

// WithVsCurrency sets the quote currency.
func WithVsCurrency(currency string) CoinGeckoOption {
	return func(g *CoinGecko) { g.vsCurrency = strings.ToLower(currency) }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) CoinGeckoOption {
	return func(g *CoinGecko) { g.logger = l }
}

// NewCoinGecko creates a CoinGecko oracle rooted at baseURL.
func NewCoinGecko(baseURL string, opts ...CoinGeckoOption) *CoinGecko {
	if baseURL == "" {
		baseURL = DefaultCoinGeckoURL
	}
	g := &CoinGecko{
		client:     &http.Client{Timeout: defaultHTTPTimeout},
		known:      newCoinSet(DefaultCoins),
		baseURL:    strings.TrimRight(baseURL, "/"),
		vsCurrency: defaultVsCurrency,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.retrier == nil {
		g.retrier = retrier.New(retrier.WithOnRetry(func(attempt int, err error) {
			g.logger.Warn("retrying coingecko request", zap.Int("attempt", attempt), zap.Error(err))
		}))
	}

	return g
}

// Coins lists the coin ids the oracle resolves.
func (g *CoinGecko) Coins() []string {
	return g.known.list()
}

func (g *CoinGecko) GetPrice(ctx context.Context, coin string) (decimal.Decimal, error) {
	return priceOf(ctx, g.GetPrices, coin)
}

// GetPrices fetches all known coins among coins in one request.
func (g *CoinGecko) GetPrices(ctx context.Context, coins []string) (map[string]decimal.Decimal, error) {
	ids := g.known.known(coins)
	if len(ids) == 0 {
		return map[string]decimal.Decimal{}, nil
	}

	body, err := retrier.DoWithData(g.retrier, ctx, func(ctx context.Context) ([]byte, error) {
		return g.fetch(ctx, ids)
	})
	if err != nil {
		return nil, unavailable(err, "coingecko")
	}

	prices := make(map[string]decimal.Decimal, len(ids))
	var parseErr error
	gjson.ParseBytes(body).ForEach(func(key, value gjson.Result) bool {
		quote := value.Get(g.vsCurrency)
		if !quote.Exists() || quote.Type != gjson.Number {
			return true
		}
		price, err := decimal.NewFromString(quote.Raw)
		if err != nil {
			parseErr = errors.Wrapf(err, "parse %s price %q", key.String(), quote.Raw)
			return false
		}
		if g.known.contains(key.String()) {
			prices[key.String()] = price
		}
		return true
	})
	if parseErr != nil {
		return nil, unavailable(parseErr, "coingecko")
	}

	return prices, nil
}

func (g *CoinGecko) fetch(ctx context.Context, ids []string) ([]byte, error) {
	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	q.Set("vs_currencies", g.vsCurrency)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/simple/price?"+q.Encode(), nil)
	if err != nil {
		return nil, retrier.Permanent(errors.Wrap(err, "build coingecko request"))
	}
	req.Header.Set("Accept", "application/json")
	if g.apiKey != "" {
		req.Header.Set(apiKeyHeader, g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "coingecko request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, errors.Wrap(err, "read coingecko response")
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return nil, errors.Errorf("coingecko status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, retrier.Permanent(errors.Errorf("coingecko status %d: %s", resp.StatusCode, truncate(body, 200)))
	case !gjson.ValidBytes(body):
		return nil, retrier.Permanent(errors.New("coingecko returned malformed json"))
	}

	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
