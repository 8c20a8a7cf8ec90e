package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// EntryKind side of a ledger entry.
type EntryKind string

const (
	EntryKindBuy  EntryKind = "buy"
	EntryKindSell EntryKind = "sell"
)

// ParseEntryKind accepts "buy" or "sell" in any case.
func ParseEntryKind(s string) (EntryKind, error) {
	switch kind := EntryKind(strings.ToLower(strings.TrimSpace(s))); kind {
	case EntryKindBuy, EntryKindSell:
		return kind, nil
	default:
		return "", errors.Wrapf(ErrInvalidRequest, "unknown entry kind %q", s)
	}
}

// LedgerEntry immutable record of one buy or sell.
type LedgerEntry struct {
	Timestamp    time.Time       `json:"ts"`
	PricePerUnit decimal.Decimal `json:"price_per_unit"`
	TotalPrice   decimal.Decimal `json:"total_price"`
	OwnerID      string          `json:"owner_id"`
	Coin         string          `json:"coin"`
	Kind         EntryKind       `json:"kind"`
	Quantity     int64           `json:"quantity"`
	ID           uuid.UUID       `json:"id"`
}

// NewLedgerEntry builds an entry for a trade of quantity units at pricePerUnit.
// The coin is normalized and the total is settled to cents against the trader.
func NewLedgerEntry(ownerID, coin string, kind EntryKind, quantity int64, pricePerUnit decimal.Decimal, at time.Time) (LedgerEntry, error) {
	entry := LedgerEntry{
		Timestamp:    at.UTC(),
		PricePerUnit: pricePerUnit,
		TotalPrice:   TradeTotal(kind, pricePerUnit, quantity),
		OwnerID:      strings.TrimSpace(ownerID),
		Coin:         NormalizeCoin(coin),
		Kind:         kind,
		Quantity:     quantity,
		ID:           uuid.New(),
	}
	if err := entry.Validate(); err != nil {
		return LedgerEntry{}, err
	}

	return entry, nil
}

// Validate checks the entry invariants.
func (e LedgerEntry) Validate() error {
	switch {
	case e.OwnerID == "":
		return errors.Wrap(ErrInvalidRequest, "owner id is required")
	case e.Coin == "":
		return errors.Wrap(ErrInvalidRequest, "coin is required")
	case e.Quantity <= 0:
		return errors.Wrapf(ErrInvalidRequest, "quantity must be positive, got %d", e.Quantity)
	case e.PricePerUnit.IsNegative():
		return errors.Wrapf(ErrInvalidRequest, "price must not be negative, got %s", e.PricePerUnit)
	case e.Kind != EntryKindBuy && e.Kind != EntryKindSell:
		return errors.Wrapf(ErrInvalidRequest, "unknown entry kind %q", e.Kind)
	}
	return nil
}

// Apply folds the entry into a cash balance and holding quantity.
// It rejects folds that would drive either negative.
func (e LedgerEntry) Apply(cash decimal.Decimal, quantity int64) (decimal.Decimal, int64, error) {
	switch e.Kind {
	case EntryKindBuy:
		if cash.LessThan(e.TotalPrice) {
			return cash, quantity, errors.Wrapf(ErrInsufficientFunds, "have %s need %s", cash, e.TotalPrice)
		}
		return cash.Sub(e.TotalPrice), quantity + e.Quantity, nil
	case EntryKindSell:
		if quantity < e.Quantity {
			return cash, quantity, errors.Wrapf(ErrInsufficientHoldings, "have %d %s need %d", quantity, e.Coin, e.Quantity)
		}
		return cash.Add(e.TotalPrice), quantity - e.Quantity, nil
	default:
		return cash, quantity, errors.Wrapf(ErrInvalidRequest, "unknown entry kind %q", e.Kind)
	}
}

// Fill outcome of one trade: the entry plus the wallet and holding it leaves behind.
// Stores commit a fill as a single unit.
type Fill struct {
	Entry   LedgerEntry     `json:"entry"`
	Cash    decimal.Decimal `json:"cash"`
	Holding Holding         `json:"holding"`
}

// LedgerRecord entry with its position in the store's append order.
type LedgerRecord struct {
	Entry LedgerEntry
	Seq   uint64
}
