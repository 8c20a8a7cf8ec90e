// Package domain defines the ledger data structures shared by the engine, aggregators and stores.
package domain

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// DefaultInitialCash cash credited to a freshly opened wallet.
var DefaultInitialCash = decimal.RequireFromString("10000000.00")

// Wallet cash account of one owner.
type Wallet struct {
	CreatedAt time.Time       `json:"created_at"`
	OwnerID   string          `json:"owner_id"`
	Cash      decimal.Decimal `json:"cash"`
}

// NewWallet opens a wallet for ownerID funded with cash.
func NewWallet(ownerID string, cash decimal.Decimal, at time.Time) (Wallet, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return Wallet{}, errors.Wrap(ErrInvalidRequest, "owner id is required")
	}
	if cash.IsNegative() {
		return Wallet{}, errors.Wrapf(ErrInvalidRequest, "initial cash must not be negative, got %s", cash)
	}

	return Wallet{
		CreatedAt: at.UTC(),
		OwnerID:   ownerID,
		Cash:      Round2(cash),
	}, nil
}

// Holding quantity of one coin owned by one owner.
type Holding struct {
	OwnerID  string `json:"owner_id"`
	Coin     string `json:"coin"`
	Quantity int64  `json:"quantity"`
}
