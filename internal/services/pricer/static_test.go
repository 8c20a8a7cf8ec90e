package pricer

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/tokenledger/internal/domain"
)

func TestStatic(t *testing.T) {
	ctx := context.Background()
	s := NewStatic(map[string]decimal.Decimal{"Bitcoin": decimal.NewFromInt(50000)})

	price, err := s.GetPrice(ctx, "BITCOIN")
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromInt(50000)))

	s.Set("bitcoin", decimal.NewFromInt(60000))
	prices, err := s.GetPrices(ctx, []string{"bitcoin", "ripple"})
	require.NoError(t, err)
	assert.Len(t, prices, 1)
	assert.True(t, prices["bitcoin"].Equal(decimal.NewFromInt(60000)))

	s.Set("Solana", decimal.NewFromInt(150))
	assert.Equal(t, []string{"bitcoin", "solana"}, s.Coins())

	s.Delete("bitcoin")
	_, err = s.GetPrice(ctx, "bitcoin")
	assert.True(t, errors.Is(err, domain.ErrUnknownCoin))

	_, err = s.GetPrice(ctx, "  ")
	assert.True(t, errors.Is(err, domain.ErrInvalidRequest))
}
