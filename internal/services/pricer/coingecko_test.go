package pricer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/tokenledger/internal/domain"
	"github.com/vadiminshakov/tokenledger/pkg/retrier"
)

func fastRetrier(retries int) *retrier.Retrier {
	return retrier.New(retrier.WithMaxRetries(retries), retrier.WithInitialInterval(time.Millisecond))
}

func TestCoinGecko_GetPrices(t *testing.T) {
	var gotQuery, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/simple/price", r.URL.Path)
		gotQuery = r.URL.Query().Get("ids")
		gotKey = r.Header.Get(apiKeyHeader)
		_, _ = w.Write([]byte(`{"bitcoin":{"usd":50000},"cardano":{"usd":0.2345},"dogecoin":{"usd":1.2e-05}}`))
	}))
	defer srv.Close()

	g := NewCoinGecko(srv.URL, WithAPIKey("demo"), WithRetrier(fastRetrier(0)))

	prices, err := g.GetPrices(context.Background(), []string{"Bitcoin", "cardano", "dogecoin", "ripple", "bitcoin"})
	require.NoError(t, err)
	assert.Equal(t, "bitcoin,cardano,dogecoin", gotQuery)
	assert.Equal(t, "demo", gotKey)
	require.Len(t, prices, 3)
	assert.True(t, prices["bitcoin"].Equal(decimal.NewFromInt(50000)))
	assert.True(t, prices["cardano"].Equal(decimal.RequireFromString("0.2345")))
	assert.True(t, prices["dogecoin"].Equal(decimal.RequireFromString("0.000012")))
}

func TestCoinGecko_GetPriceUnknownCoin(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	g := NewCoinGecko(srv.URL, WithRetrier(fastRetrier(0)))

	_, err := g.GetPrice(context.Background(), "ripple")
	assert.True(t, errors.Is(err, domain.ErrUnknownCoin))
	assert.Equal(t, int32(0), calls.Load(), "coins outside the known set never reach the api")

	_, err = g.GetPrice(context.Background(), "solana")
	assert.True(t, errors.Is(err, domain.ErrUnknownCoin))
	assert.True(t, errors.Is(err, domain.ErrPriceUnavailable))
	assert.Equal(t, int32(1), calls.Load())
}

func TestCoinGecko_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"ethereum":{"usd":3000.5},"solana":{"usd":"n/a"}}`))
	}))
	defer srv.Close()

	g := NewCoinGecko(srv.URL, WithRetrier(fastRetrier(3)))

	price, err := g.GetPrice(context.Background(), "ethereum")
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("3000.5")))
	assert.Equal(t, int32(3), calls.Load())

	_, err = g.GetPrice(context.Background(), "solana")
	assert.True(t, errors.Is(err, domain.ErrUnknownCoin), "non-numeric quotes are skipped")
}

func TestCoinGecko_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	g := NewCoinGecko(srv.URL, WithRetrier(fastRetrier(5)))

	_, err := g.GetPrices(context.Background(), []string{"bitcoin"})
	assert.True(t, errors.Is(err, domain.ErrPriceUnavailable))
	assert.Equal(t, int32(1), calls.Load())
}

func TestCoinGecko_TimeoutIsPriceUnavailable(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	g := NewCoinGecko(srv.URL, WithRetrier(fastRetrier(0)))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := g.GetPrice(ctx, "bitcoin")
	assert.True(t, errors.Is(err, domain.ErrPriceUnavailable))
	assert.False(t, errors.Is(err, domain.ErrUnknownCoin))
}

func TestCoinGecko_Coins(t *testing.T) {
	g := NewCoinGecko("", WithCoins([]string{"Solana", "bitcoin"}))
	assert.Equal(t, []string{"bitcoin", "solana"}, g.Coins())
	assert.Equal(t, DefaultCoinGeckoURL, g.baseURL)
}
