package portfolio

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/tokenledger/internal/domain"
	"github.com/vadiminshakov/tokenledger/internal/services/pricer"
	"github.com/vadiminshakov/tokenledger/internal/services/trader"
	"github.com/vadiminshakov/tokenledger/internal/storage/walstore"
	"go.uber.org/zap"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// fakeLedger in-memory ledgerReader.
type fakeLedger struct {
	wallets   map[string]domain.Wallet
	entries   map[string][]domain.LedgerEntry
	snapshots map[string]map[string]domain.PortfolioSnapshot
	saves     int
}

func newFakeLedger(owners ...string) *fakeLedger {
	f := &fakeLedger{
		wallets:   make(map[string]domain.Wallet),
		entries:   make(map[string][]domain.LedgerEntry),
		snapshots: make(map[string]map[string]domain.PortfolioSnapshot),
	}
	for _, o := range owners {
		f.wallets[o] = domain.Wallet{OwnerID: o, Cash: domain.DefaultInitialCash}
		f.snapshots[o] = make(map[string]domain.PortfolioSnapshot)
	}
	return f
}

func (f *fakeLedger) add(t *testing.T, owner, coin string, kind domain.EntryKind, qty int64, price string) {
	t.Helper()
	e, err := domain.NewLedgerEntry(owner, coin, kind, qty, dec(price), fixedNow.Add(time.Duration(len(f.entries[owner]))*time.Second))
	require.NoError(t, err)
	// keep the coin as written to exercise case-insensitive ordering
	e.Coin = coin
	f.entries[owner] = append(f.entries[owner], e)
}

func (f *fakeLedger) Wallet(_ context.Context, owner string) (domain.Wallet, error) {
	w, ok := f.wallets[owner]
	if !ok {
		return domain.Wallet{}, domain.ErrUnknownUser
	}
	return w, nil
}

func (f *fakeLedger) Holdings(_ context.Context, owner string) ([]domain.Holding, error) {
	if _, ok := f.wallets[owner]; !ok {
		return nil, domain.ErrUnknownUser
	}
	return nil, nil
}

func (f *fakeLedger) Entries(_ context.Context, owner string) ([]domain.LedgerEntry, error) {
	if _, ok := f.wallets[owner]; !ok {
		return nil, domain.ErrUnknownUser
	}
	return f.entries[owner], nil
}

func (f *fakeLedger) SaveSnapshots(_ context.Context, owner string, snapshots []domain.PortfolioSnapshot) error {
	f.saves++
	for _, s := range snapshots {
		f.snapshots[owner][s.Coin] = s
	}
	return nil
}

// failingPrices returns what it has together with an error.
type failingPrices struct {
	partial map[string]decimal.Decimal
}

func (f failingPrices) GetPrices(context.Context, []string) (map[string]decimal.Decimal, error) {
	return f.partial, errors.Wrap(domain.ErrPriceUnavailable, "upstream down")
}

func newTestAggregator(store ledgerReader, prices priceSource) *Aggregator {
	return NewAggregator(store, prices, zap.NewNop(), WithClock(func() time.Time { return fixedNow }))
}

func TestRecompute_ProfitAndLoss(t *testing.T) {
	ledger := newFakeLedger("alice")
	ledger.add(t, "alice", "bitcoin", domain.EntryKindBuy, 5, "50000.00")
	ledger.add(t, "alice", "bitcoin", domain.EntryKindSell, 2, "60000.00")

	a := newTestAggregator(ledger, pricer.NewStatic(map[string]decimal.Decimal{"bitcoin": dec("60000.00")}))

	snapshots, err := a.Recompute(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, snapshots, 1)

	s := snapshots[0]
	assert.Equal(t, "bitcoin", s.Coin)
	assert.Equal(t, "alice", s.OwnerID)
	assert.Equal(t, int64(5), s.TotalPurchasedQty)
	assert.Equal(t, "250000.00", s.TotalInvested.StringFixed(2))
	assert.Equal(t, int64(2), s.TotalSoldQty)
	assert.Equal(t, "120000.00", s.TotalEarned.StringFixed(2))
	assert.Equal(t, int64(3), s.HoldingQty)
	assert.Equal(t, "60000.00", s.CurrentPrice.StringFixed(2))
	assert.Equal(t, "180000.00", s.HoldingValue.StringFixed(2))
	assert.Equal(t, "50000.00", s.NetProfitLoss.StringFixed(2))
	assert.Equal(t, fixedNow, s.ComputedAt)

	assert.Equal(t, s, ledger.snapshots["alice"]["bitcoin"])
}

func TestRecompute_SubCentNetSnapsToZero(t *testing.T) {
	ledger := newFakeLedger("alice")
	ledger.add(t, "alice", "dogecoin", domain.EntryKindBuy, 1, "0.01")

	a := newTestAggregator(ledger, pricer.NewStatic(map[string]decimal.Decimal{"dogecoin": dec("0.014")}))

	snapshots, err := a.Recompute(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	assert.True(t, snapshots[0].NetProfitLoss.IsZero())
	assert.Equal(t, "0.00", snapshots[0].NetProfitLoss.StringFixed(2))
	assert.Equal(t, "0.014", snapshots[0].HoldingValue.String())
}

func TestRecompute_HalfCentRoundsToEven(t *testing.T) {
	tests := []struct {
		name  string
		price string
		want  string
	}{
		{"half cent gain rounds to zero", "1.005", "0.00"},
		{"one and a half cents rounds up to even", "1.015", "0.02"},
		{"two and a half cents rounds down to even", "1.025", "0.02"},
		{"half cent loss rounds to zero", "0.995", "0.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := newFakeLedger("alice")
			ledger.add(t, "alice", "tether", domain.EntryKindBuy, 1, "1.00")

			a := newTestAggregator(ledger, pricer.NewStatic(map[string]decimal.Decimal{"tether": dec(tt.price)}))

			snapshots, err := a.Recompute(context.Background(), "alice")
			require.NoError(t, err)
			require.Len(t, snapshots, 1)
			assert.Equal(t, tt.want, snapshots[0].NetProfitLoss.StringFixed(2))
		})
	}
}

func TestRecompute_OrderingAndMissingPrices(t *testing.T) {
	ledger := newFakeLedger("alice")
	ledger.add(t, "alice", "solana", domain.EntryKindBuy, 2, "100")
	ledger.add(t, "alice", "Cardano", domain.EntryKindBuy, 10, "0.5")
	ledger.add(t, "alice", "bitcoin", domain.EntryKindBuy, 1, "40000")
	ledger.add(t, "alice", "ripple", domain.EntryKindBuy, 4, "0.5")

	a := newTestAggregator(ledger, pricer.NewStatic(map[string]decimal.Decimal{
		"bitcoin": dec("41000"),
		"solana":  dec("90"),
	}))

	snapshots, err := a.Recompute(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, snapshots, 4)

	coins := make([]string, len(snapshots))
	for i, s := range snapshots {
		coins[i] = s.Coin
	}
	assert.Equal(t, []string{"bitcoin", "Cardano", "ripple", "solana"}, coins)

	ripple := snapshots[2]
	assert.True(t, ripple.CurrentPrice.IsZero())
	assert.True(t, ripple.HoldingValue.IsZero())
	assert.Equal(t, "-2.00", ripple.NetProfitLoss.StringFixed(2))

	assert.Equal(t, "1000.00", snapshots[0].NetProfitLoss.StringFixed(2))
	assert.Equal(t, "-20.00", snapshots[3].NetProfitLoss.StringFixed(2))
}

func TestRecompute_OracleFailureDegradesToZero(t *testing.T) {
	ledger := newFakeLedger("alice")
	ledger.add(t, "alice", "bitcoin", domain.EntryKindBuy, 1, "100")
	ledger.add(t, "alice", "ethereum", domain.EntryKindBuy, 1, "10")

	a := newTestAggregator(ledger, failingPrices{partial: map[string]decimal.Decimal{"ethereum": dec("12")}})

	snapshots, err := a.Recompute(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, snapshots, 2)
	assert.Equal(t, "-100.00", snapshots[0].NetProfitLoss.StringFixed(2))
	assert.Equal(t, "2.00", snapshots[1].NetProfitLoss.StringFixed(2))

	a = newTestAggregator(ledger, failingPrices{})
	snapshots, err = a.Recompute(context.Background(), "alice")
	require.NoError(t, err)
	for _, s := range snapshots {
		assert.True(t, s.CurrentPrice.IsZero())
	}
}

func TestRecompute_IsIdempotent(t *testing.T) {
	ledger := newFakeLedger("alice")
	ledger.add(t, "alice", "bitcoin", domain.EntryKindBuy, 3, "123.45")
	ledger.add(t, "alice", "cardano", domain.EntryKindBuy, 7, "0.2345")
	ledger.add(t, "alice", "bitcoin", domain.EntryKindSell, 1, "130")

	a := newTestAggregator(ledger, pricer.NewStatic(map[string]decimal.Decimal{
		"bitcoin": dec("125.5"),
		"cardano": dec("0.25"),
	}))

	first, err := a.Recompute(context.Background(), "alice")
	require.NoError(t, err)
	stored := ledger.snapshots["alice"]["bitcoin"]

	second, err := a.Recompute(context.Background(), "alice")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, stored, ledger.snapshots["alice"]["bitcoin"])
	assert.Equal(t, 2, ledger.saves)
}

func TestRecompute_EmptyAndUnknownOwner(t *testing.T) {
	ledger := newFakeLedger("alice")
	a := newTestAggregator(ledger, pricer.NewStatic(nil))

	snapshots, err := a.Recompute(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, snapshots)
	assert.Zero(t, ledger.saves)

	_, err = a.Recompute(context.Background(), "ghost")
	assert.True(t, errors.Is(err, domain.ErrUnknownUser))
}

func TestSummarizePurchases(t *testing.T) {
	ledger := newFakeLedger("alice")
	ledger.add(t, "alice", "solana", domain.EntryKindBuy, 2, "100.125")
	ledger.add(t, "alice", "bitcoin", domain.EntryKindBuy, 1, "40000")
	ledger.add(t, "alice", "solana", domain.EntryKindBuy, 3, "99.99")
	ledger.add(t, "alice", "solana", domain.EntryKindSell, 5, "120")
	ledger.add(t, "alice", "ethereum", domain.EntryKindBuy, 1, "0.004")

	a := newTestAggregator(ledger, nil)

	summary, err := a.SummarizePurchases(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, summary, 3)

	assert.Equal(t, "bitcoin", summary[0].Coin)
	assert.Equal(t, int64(1), summary[0].TotalQuantity)
	assert.Equal(t, "40000.00", summary[0].TotalValue.StringFixed(2))

	assert.Equal(t, "ethereum", summary[1].Coin)
	assert.Equal(t, "0.01", summary[1].TotalValue.StringFixed(2), "sub cent buys cost a full cent")

	assert.Equal(t, "solana", summary[2].Coin)
	assert.Equal(t, int64(5), summary[2].TotalQuantity, "sells do not reduce purchased totals")
	assert.Equal(t, "500.22", summary[2].TotalValue.StringFixed(2))
}

func TestSummarizePurchases_SellOnlyAndUnknown(t *testing.T) {
	ledger := newFakeLedger("alice")
	a := newTestAggregator(ledger, nil)

	summary, err := a.SummarizePurchases(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, summary)

	_, err = a.SummarizePurchases(context.Background(), "ghost")
	assert.True(t, errors.Is(err, domain.ErrUnknownUser))
}

func TestAggregator_WithEngineAndWALStore(t *testing.T) {
	ctx := context.Background()
	store, err := walstore.Open(walstore.Options{Dir: t.TempDir()})
	require.NoError(t, err)
	defer store.Close()

	oracle := pricer.NewStatic(map[string]decimal.Decimal{"bitcoin": dec("50000"), "ethereum": dec("3000")})
	engine, err := trader.NewEngine(store, oracle, zap.NewNop())
	require.NoError(t, err)
	a := newTestAggregator(store, oracle)

	_, err = engine.OpenAccount(ctx, "alice")
	require.NoError(t, err)
	_, err = engine.Buy(ctx, trader.TradeRequest{OwnerID: "alice", Coin: "bitcoin", Quantity: 5})
	require.NoError(t, err)
	_, err = engine.Buy(ctx, trader.TradeRequest{OwnerID: "alice", Coin: "ethereum", Quantity: 10})
	require.NoError(t, err)
	oracle.Set("bitcoin", dec("60000"))
	_, err = engine.Sell(ctx, trader.TradeRequest{OwnerID: "alice", Coin: "bitcoin", Quantity: 2})
	require.NoError(t, err)

	snapshots, err := a.Recompute(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, snapshots, 2)
	assert.Equal(t, "50000.00", snapshots[0].NetProfitLoss.StringFixed(2))
	assert.Equal(t, "0.00", snapshots[1].NetProfitLoss.StringFixed(2))

	stored, err := store.Snapshots(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "bitcoin", stored[0].Coin)

	sheet, err := a.TokenBalances(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, sheet.Balances, 2)
	assert.Equal(t, int64(13), sheet.TotalQuantity)

	history, err := a.Transactions(ctx, "alice", HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, domain.EntryKindSell, history[0].Kind)
	assert.Equal(t, "ethereum", history[1].Coin)

	sells, err := a.Transactions(ctx, "alice", HistoryFilter{Kind: domain.EntryKindSell})
	require.NoError(t, err)
	require.Len(t, sells, 1)
	assert.Equal(t, "120000.00", sells[0].TotalPrice.StringFixed(2))

	limited, err := a.Transactions(ctx, "alice", HistoryFilter{Coin: "BITCOIN", Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, domain.EntryKindSell, limited[0].Kind)

	_, err = a.Transactions(ctx, "alice", HistoryFilter{Kind: "short"})
	assert.True(t, errors.Is(err, domain.ErrInvalidRequest))

	wallet, err := a.Wallet(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "9840000.00", wallet.Cash.StringFixed(2))

	prices, err := a.LivePrices(ctx, []string{"bitcoin", "ripple"})
	require.NoError(t, err)
	assert.Len(t, prices, 1)
}

func TestTransactions_LimitKeepsNewestByTimestamp(t *testing.T) {
	ledger := newFakeLedger("alice")
	ledger.add(t, "alice", "bitcoin", domain.EntryKindBuy, 1, "100")
	ledger.add(t, "alice", "bitcoin", domain.EntryKindBuy, 2, "100")
	ledger.add(t, "alice", "bitcoin", domain.EntryKindBuy, 3, "100")
	// appended last but stamped first
	ledger.entries["alice"][2].Timestamp = fixedNow.Add(-time.Hour)

	a := newTestAggregator(ledger, nil)

	got, err := a.Transactions(context.Background(), "alice", HistoryFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[0].Quantity)
	assert.Equal(t, int64(1), got[1].Quantity)

	all, err := a.Transactions(context.Background(), "alice", HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, int64(3), all[2].Quantity)

	_, err = a.Transactions(context.Background(), "alice", HistoryFilter{Limit: -1})
	assert.True(t, errors.Is(err, domain.ErrInvalidRequest))
}
