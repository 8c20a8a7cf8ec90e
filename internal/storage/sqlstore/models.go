package sqlstore

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/tokenledger/internal/domain"
)

// Amounts are stored as decimal strings so every dialect round-trips them exactly.

type walletRow struct {
	CreatedAt time.Time
	OwnerID   string `gorm:"primaryKey;size:191"`
	Cash      string `gorm:"not null"`
}

func (walletRow) TableName() string {
	return "wallets"
}

type holdingRow struct {
	OwnerID  string `gorm:"primaryKey;size:191"`
	Coin     string `gorm:"primaryKey;size:64"`
	Quantity int64  `gorm:"not null"`
}

func (holdingRow) TableName() string {
	return "holdings"
}

type entryRow struct {
	Timestamp    time.Time `gorm:"not null"`
	ID           string    `gorm:"uniqueIndex;size:36;not null"`
	OwnerID      string    `gorm:"index:idx_ledger_owner;size:191;not null"`
	Coin         string    `gorm:"size:64;not null"`
	Kind         string    `gorm:"size:8;not null"`
	PricePerUnit string    `gorm:"not null"`
	TotalPrice   string    `gorm:"not null"`
	Quantity     int64     `gorm:"not null"`
	Seq          uint64    `gorm:"primaryKey;autoIncrement"`
}

func (entryRow) TableName() string {
	return "ledger_entries"
}

type snapshotRow struct {
	ComputedAt        time.Time
	OwnerID           string `gorm:"primaryKey;size:191"`
	Coin              string `gorm:"primaryKey;size:64"`
	TotalInvested     string `gorm:"not null"`
	TotalEarned       string `gorm:"not null"`
	CurrentPrice      string `gorm:"not null"`
	HoldingValue      string `gorm:"not null"`
	NetProfitLoss     string `gorm:"not null"`
	TotalPurchasedQty int64  `gorm:"not null"`
	TotalSoldQty      int64  `gorm:"not null"`
	HoldingQty        int64  `gorm:"not null"`
}

func (snapshotRow) TableName() string {
	return "portfolio_snapshots"
}

func (r walletRow) toDomain() (domain.Wallet, error) {
	cash, err := decimal.NewFromString(r.Cash)
	if err != nil {
		return domain.Wallet{}, errors.Wrapf(err, "decode cash of %s", r.OwnerID)
	}

	return domain.Wallet{CreatedAt: r.CreatedAt.UTC(), OwnerID: r.OwnerID, Cash: cash}, nil
}

func (r holdingRow) toDomain() domain.Holding {
	return domain.Holding{OwnerID: r.OwnerID, Coin: r.Coin, Quantity: r.Quantity}
}

func newEntryRow(e domain.LedgerEntry) entryRow {
	return entryRow{
		Timestamp:    e.Timestamp,
		ID:           e.ID.String(),
		OwnerID:      e.OwnerID,
		Coin:         e.Coin,
		Kind:         string(e.Kind),
		PricePerUnit: e.PricePerUnit.String(),
		TotalPrice:   e.TotalPrice.String(),
		Quantity:     e.Quantity,
	}
}

func (r entryRow) toDomain() (domain.LedgerEntry, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return domain.LedgerEntry{}, errors.Wrapf(err, "decode entry id %q", r.ID)
	}
	price, err := decimal.NewFromString(r.PricePerUnit)
	if err != nil {
		return domain.LedgerEntry{}, errors.Wrapf(err, "decode price of entry %s", r.ID)
	}
	total, err := decimal.NewFromString(r.TotalPrice)
	if err != nil {
		return domain.LedgerEntry{}, errors.Wrapf(err, "decode total of entry %s", r.ID)
	}

	return domain.LedgerEntry{
		Timestamp:    r.Timestamp.UTC(),
		PricePerUnit: price,
		TotalPrice:   total,
		OwnerID:      r.OwnerID,
		Coin:         r.Coin,
		Kind:         domain.EntryKind(r.Kind),
		Quantity:     r.Quantity,
		ID:           id,
	}, nil
}

func newSnapshotRow(s domain.PortfolioSnapshot) snapshotRow {
	return snapshotRow{
		ComputedAt:        s.ComputedAt,
		OwnerID:           s.OwnerID,
		Coin:              s.Coin,
		TotalInvested:     s.TotalInvested.String(),
		TotalEarned:       s.TotalEarned.String(),
		CurrentPrice:      s.CurrentPrice.String(),
		HoldingValue:      s.HoldingValue.String(),
		NetProfitLoss:     s.NetProfitLoss.String(),
		TotalPurchasedQty: s.TotalPurchasedQty,
		TotalSoldQty:      s.TotalSoldQty,
		HoldingQty:        s.HoldingQty,
	}
}

func (r snapshotRow) toDomain() (domain.PortfolioSnapshot, error) {
	fields := []struct {
		raw string
		dst *decimal.Decimal
	}{
		{r.TotalInvested, new(decimal.Decimal)},
		{r.TotalEarned, new(decimal.Decimal)},
		{r.CurrentPrice, new(decimal.Decimal)},
		{r.HoldingValue, new(decimal.Decimal)},
		{r.NetProfitLoss, new(decimal.Decimal)},
	}
	for _, f := range fields {
		d, err := decimal.NewFromString(f.raw)
		if err != nil {
			return domain.PortfolioSnapshot{}, errors.Wrapf(err, "decode snapshot %s/%s", r.OwnerID, r.Coin)
		}
		*f.dst = d
	}

	return domain.PortfolioSnapshot{
		ComputedAt:        r.ComputedAt.UTC(),
		TotalInvested:     *fields[0].dst,
		TotalEarned:       *fields[1].dst,
		CurrentPrice:      *fields[2].dst,
		HoldingValue:      *fields[3].dst,
		NetProfitLoss:     *fields[4].dst,
		OwnerID:           r.OwnerID,
		Coin:              r.Coin,
		TotalPurchasedQty: r.TotalPurchasedQty,
		TotalSoldQty:      r.TotalSoldQty,
		HoldingQty:        r.HoldingQty,
	}, nil
}
