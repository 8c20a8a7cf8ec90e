// Package storagetest holds the behaviour every ledger store must share.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/tokenledger/internal/domain"
	"github.com/vadiminshakov/tokenledger/internal/storage"
)

// Store methods exercised by the suite.
type Store interface {
	CreateWallet(ctx context.Context, wallet domain.Wallet) error
	Update(ctx context.Context, ownerID string, fn storage.TxFunc) error
	Wallet(ctx context.Context, ownerID string) (domain.Wallet, error)
	Holding(ctx context.Context, ownerID, coin string) (domain.Holding, bool, error)
	Holdings(ctx context.Context, ownerID string) ([]domain.Holding, error)
	Entries(ctx context.Context, ownerID string) ([]domain.LedgerEntry, error)
	SaveSnapshots(ctx context.Context, ownerID string, snapshots []domain.PortfolioSnapshot) error
	Snapshots(ctx context.Context, ownerID string) ([]domain.PortfolioSnapshot, error)
	EntriesAfter(ctx context.Context, seq uint64) ([]domain.LedgerRecord, error)
	LastSeq(ctx context.Context) (uint64, error)
}

var testTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// OpenWallet creates a wallet with the default initial cash and fails the test on error.
func OpenWallet(t *testing.T, s Store, owner string) domain.Wallet {
	t.Helper()

	wallet, err := domain.NewWallet(owner, domain.DefaultInitialCash, testTime)
	require.NoError(t, err)
	require.NoError(t, s.CreateWallet(context.Background(), wallet))

	return wallet
}

// Trade commits one trade through Update the same way the engine does.
func Trade(ctx context.Context, s Store, owner, coin string, kind domain.EntryKind, qty int64, price decimal.Decimal) (domain.Fill, error) {
	var fill domain.Fill
	err := s.Update(ctx, owner, func(tx storage.Tx) error {
		wallet, err := tx.Wallet(ctx)
		if err != nil {
			return err
		}
		holding, _, err := tx.Holding(ctx, coin)
		if err != nil {
			return err
		}
		entry, err := domain.NewLedgerEntry(owner, coin, kind, qty, price, testTime)
		if err != nil {
			return err
		}
		cash, newQty, err := entry.Apply(wallet.Cash, holding.Quantity)
		if err != nil {
			return err
		}
		fill = domain.Fill{
			Entry:   entry,
			Cash:    cash,
			Holding: domain.Holding{OwnerID: owner, Coin: entry.Coin, Quantity: newQty},
		}
		return tx.Commit(ctx, fill)
	})

	return fill, err
}

// Run executes the shared store suite. open must return an empty store.
func Run(t *testing.T, open func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("create wallet twice", func(t *testing.T) {
		s := open(t)
		wallet := OpenWallet(t, s, "alice")

		got, err := s.Wallet(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, got.Cash.Equal(wallet.Cash))

		err = s.CreateWallet(ctx, wallet)
		assert.True(t, errors.Is(err, domain.ErrAccountExists), "got %v", err)
	})

	t.Run("unknown owner", func(t *testing.T) {
		s := open(t)

		_, err := s.Wallet(ctx, "ghost")
		assert.True(t, errors.Is(err, domain.ErrUnknownUser))

		err = s.Update(ctx, "ghost", func(storage.Tx) error { return nil })
		assert.True(t, errors.Is(err, domain.ErrUnknownUser))

		_, err = s.Entries(ctx, "ghost")
		assert.True(t, errors.Is(err, domain.ErrUnknownUser))
	})

	t.Run("commit buy and sell", func(t *testing.T) {
		s := open(t)
		OpenWallet(t, s, "alice")

		_, err := Trade(ctx, s, "alice", "Bitcoin", domain.EntryKindBuy, 5, decimal.NewFromInt(50000))
		require.NoError(t, err)
		_, err = Trade(ctx, s, "alice", "bitcoin", domain.EntryKindSell, 2, decimal.NewFromInt(60000))
		require.NoError(t, err)

		wallet, err := s.Wallet(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, "9870000.00", wallet.Cash.StringFixed(2))

		holding, ok, err := s.Holding(ctx, "alice", "BITCOIN")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, int64(3), holding.Quantity)

		entries, err := s.Entries(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, domain.EntryKindBuy, entries[0].Kind)
		assert.Equal(t, "250000.00", entries[0].TotalPrice.StringFixed(2))
		assert.Equal(t, domain.EntryKindSell, entries[1].Kind)
		assert.Equal(t, "120000.00", entries[1].TotalPrice.StringFixed(2))
	})

	t.Run("callback error discards staged fill", func(t *testing.T) {
		s := open(t)
		OpenWallet(t, s, "alice")

		boom := errors.New("boom")
		err := s.Update(ctx, "alice", func(tx storage.Tx) error {
			entry, err := domain.NewLedgerEntry("alice", "solana", domain.EntryKindBuy, 1, decimal.NewFromInt(100), testTime)
			require.NoError(t, err)
			fill := domain.Fill{
				Entry:   entry,
				Cash:    domain.DefaultInitialCash.Sub(entry.TotalPrice),
				Holding: domain.Holding{OwnerID: "alice", Coin: "solana", Quantity: 1},
			}
			require.NoError(t, tx.Commit(ctx, fill))
			return boom
		})
		assert.True(t, errors.Is(err, boom))

		wallet, err := s.Wallet(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, wallet.Cash.Equal(domain.DefaultInitialCash))

		_, ok, err := s.Holding(ctx, "alice", "solana")
		require.NoError(t, err)
		assert.False(t, ok)

		entries, err := s.Entries(ctx, "alice")
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("inconsistent fill is rejected", func(t *testing.T) {
		s := open(t)
		OpenWallet(t, s, "alice")

		err := s.Update(ctx, "alice", func(tx storage.Tx) error {
			entry, err := domain.NewLedgerEntry("alice", "solana", domain.EntryKindBuy, 1, decimal.NewFromInt(100), testTime)
			require.NoError(t, err)
			return tx.Commit(ctx, domain.Fill{
				Entry:   entry,
				Cash:    domain.DefaultInitialCash,
				Holding: domain.Holding{OwnerID: "alice", Coin: "solana", Quantity: 1},
			})
		})
		require.Error(t, err)

		entries, err := s.Entries(ctx, "alice")
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("holdings ordered by coin", func(t *testing.T) {
		s := open(t)
		OpenWallet(t, s, "alice")

		for _, coin := range []string{"solana", "bitcoin", "ethereum"} {
			_, err := Trade(ctx, s, "alice", coin, domain.EntryKindBuy, 1, decimal.NewFromInt(10))
			require.NoError(t, err)
		}

		holdings, err := s.Holdings(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, holdings, 3)
		assert.Equal(t, "bitcoin", holdings[0].Coin)
		assert.Equal(t, "ethereum", holdings[1].Coin)
		assert.Equal(t, "solana", holdings[2].Coin)
	})

	t.Run("snapshots upsert", func(t *testing.T) {
		s := open(t)
		OpenWallet(t, s, "alice")

		snap := domain.PortfolioSnapshot{
			ComputedAt:        testTime,
			TotalInvested:     decimal.NewFromInt(250000),
			TotalEarned:       decimal.Zero,
			CurrentPrice:      decimal.NewFromInt(50000),
			HoldingValue:      decimal.NewFromInt(250000),
			NetProfitLoss:     decimal.Zero,
			OwnerID:           "alice",
			Coin:              "bitcoin",
			TotalPurchasedQty: 5,
			HoldingQty:        5,
		}
		require.NoError(t, s.SaveSnapshots(ctx, "alice", []domain.PortfolioSnapshot{snap}))

		snap.CurrentPrice = decimal.NewFromInt(60000)
		snap.HoldingValue = decimal.NewFromInt(300000)
		snap.NetProfitLoss = decimal.NewFromInt(50000)
		require.NoError(t, s.SaveSnapshots(ctx, "alice", []domain.PortfolioSnapshot{snap}))

		got, err := s.Snapshots(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "50000.00", got[0].NetProfitLoss.StringFixed(2))
		assert.Equal(t, "60000.00", got[0].CurrentPrice.StringFixed(2))
	})

	t.Run("entries after sequence", func(t *testing.T) {
		s := open(t)
		OpenWallet(t, s, "alice")
		OpenWallet(t, s, "bob")

		last, err := s.LastSeq(ctx)
		require.NoError(t, err)
		assert.Zero(t, last)

		_, err = Trade(ctx, s, "alice", "bitcoin", domain.EntryKindBuy, 1, decimal.NewFromInt(10))
		require.NoError(t, err)
		_, err = Trade(ctx, s, "bob", "dogecoin", domain.EntryKindBuy, 3, decimal.NewFromInt(1))
		require.NoError(t, err)

		all, err := s.EntriesAfter(ctx, 0)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "alice", all[0].Entry.OwnerID)
		assert.Equal(t, "bob", all[1].Entry.OwnerID)
		assert.Less(t, all[0].Seq, all[1].Seq)

		rest, err := s.EntriesAfter(ctx, all[0].Seq)
		require.NoError(t, err)
		require.Len(t, rest, 1)
		assert.Equal(t, "dogecoin", rest[0].Entry.Coin)

		last, err = s.LastSeq(ctx)
		require.NoError(t, err)
		assert.Equal(t, all[1].Seq, last)

		none, err := s.EntriesAfter(ctx, last)
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}
