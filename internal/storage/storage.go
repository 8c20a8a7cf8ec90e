// Package storage declares the contract shared by the ledger stores.
package storage

import (
	"context"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/tokenledger/internal/domain"
)

// Tx view of one owner's wallet and holdings inside a store transaction.
// Commit stages the fill; it is persisted only if the transaction callback returns nil.
type Tx interface {
	Wallet(ctx context.Context) (domain.Wallet, error)
	Holding(ctx context.Context, coin string) (domain.Holding, bool, error)
	Commit(ctx context.Context, fill domain.Fill) error
}

// TxFunc transaction callback. Returning an error discards everything staged.
type TxFunc func(tx Tx) error

// CheckFill verifies that fill is the exact fold of its entry over the given wallet and holding.
// Stores call it before persisting so that cached balances never drift from the ledger.
func CheckFill(ownerID string, wallet domain.Wallet, holding domain.Holding, fill domain.Fill) error {
	entry := fill.Entry
	if err := entry.Validate(); err != nil {
		return err
	}
	if entry.OwnerID != ownerID || wallet.OwnerID != ownerID {
		return errors.Errorf("fill owner %q does not match transaction owner %q", entry.OwnerID, ownerID)
	}
	if fill.Holding.OwnerID != ownerID || fill.Holding.Coin != entry.Coin {
		return errors.Errorf("fill holding %s/%s does not match entry %s/%s",
			fill.Holding.OwnerID, fill.Holding.Coin, ownerID, entry.Coin)
	}

	cash, quantity, err := entry.Apply(wallet.Cash, holding.Quantity)
	if err != nil {
		return err
	}
	if !cash.Equal(fill.Cash) || quantity != fill.Holding.Quantity {
		return errors.Errorf("fill does not match ledger fold: cash %s/%s quantity %d/%d",
			fill.Cash, cash, fill.Holding.Quantity, quantity)
	}

	return nil
}

// Ledger the full store surface the services run on.
type Ledger interface {
	CreateWallet(ctx context.Context, wallet domain.Wallet) error
	Update(ctx context.Context, ownerID string, fn TxFunc) error
	Wallet(ctx context.Context, ownerID string) (domain.Wallet, error)
	Holding(ctx context.Context, ownerID, coin string) (domain.Holding, bool, error)
	Holdings(ctx context.Context, ownerID string) ([]domain.Holding, error)
	Entries(ctx context.Context, ownerID string) ([]domain.LedgerEntry, error)
	SaveSnapshots(ctx context.Context, ownerID string, snapshots []domain.PortfolioSnapshot) error
	Snapshots(ctx context.Context, ownerID string) ([]domain.PortfolioSnapshot, error)
	EntriesAfter(ctx context.Context, seq uint64) ([]domain.LedgerRecord, error)
	LastSeq(ctx context.Context) (uint64, error)
	Close() error
}
