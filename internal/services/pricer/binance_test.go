package pricer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/tokenledger/internal/domain"
)

func newTestBinance(t *testing.T, handler http.HandlerFunc) *Binance {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := binance.NewClient("", "")
	client.BaseURL = srv.URL

	return NewBinance(client, nil)
}

func TestBinance_GetPrices(t *testing.T) {
	b := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/ticker/price", r.URL.Path)
		_, _ = w.Write([]byte(`[{"symbol":"BTCUSDT","price":"50000.10"},{"symbol":"SOLUSDT","price":"150.00"}]`))
	})

	prices, err := b.GetPrices(context.Background(), []string{"bitcoin", "solana", "tether"})
	require.NoError(t, err)
	require.Len(t, prices, 2)
	assert.True(t, prices["bitcoin"].Equal(decimal.RequireFromString("50000.10")))
	assert.True(t, prices["solana"].Equal(decimal.NewFromInt(150)))
}

func TestBinance_Coins(t *testing.T) {
	b := NewBinance(nil, map[string]string{" Bitcoin ": "btcusdt", "ripple": "XRPUSDT"})
	assert.Equal(t, []string{"bitcoin", "ripple"}, b.Coins())
}

func TestBinance_GetPrice(t *testing.T) {
	b := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ETHUSDT", r.URL.Query().Get("symbol"))
		_, _ = w.Write([]byte(`[{"symbol":"ETHUSDT","price":"3000"}]`))
	})

	price, err := b.GetPrice(context.Background(), "Ethereum")
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromInt(3000)))

	_, err = b.GetPrice(context.Background(), "tether")
	assert.True(t, errors.Is(err, domain.ErrUnknownCoin))
}

func TestBinance_ErrorIsPriceUnavailable(t *testing.T) {
	b := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"code":-1000,"msg":"boom"}`))
	})

	_, err := b.GetPrice(context.Background(), "bitcoin")
	assert.True(t, errors.Is(err, domain.ErrPriceUnavailable))
}
