package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/tokenledger/internal/domain"
)

func writeConfig(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "tokenledger.yaml")
	data := fmt.Sprintf(`
store:
  driver: wal
  wal_dir: %s
oracle:
  provider: static
  prices:
    bitcoin: "50000"
    solana: "100.125"
cache:
  backend: none
log:
  level: error
`, filepath.Join(dir, "wal"))
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))
	return path
}

func run(t *testing.T, cfgPath string, args ...string) (string, error) {
	t.Helper()

	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", cfgPath}, args...))

	err := cmd.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, cfgPath string, args ...string) string {
	t.Helper()

	out, err := run(t, cfgPath, args...)
	require.NoError(t, err, out)
	return out
}

func TestCLI_TradeFlow(t *testing.T) {
	cfg := writeConfig(t)

	out := mustRun(t, cfg, "open", "alice")
	assert.Contains(t, out, "10000000.00")

	mustRun(t, cfg, "buy", "alice", "bitcoin", "2")
	mustRun(t, cfg, "buy", "alice", "Solana", "2")
	out = mustRun(t, cfg, "sell", "alice", "bitcoin", "1")
	assert.Contains(t, out, "sell")

	var wallet domain.Wallet
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, cfg, "--json", "wallet", "alice")), &wallet))
	// 10,000,000 - 100,000 - 200.25 + 50,000
	assert.Equal(t, "9949799.75", wallet.Cash.StringFixed(2))

	var sheet domain.BalanceSheet
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, cfg, "--json", "balances", "alice")), &sheet))
	assert.Equal(t, int64(3), sheet.TotalQuantity)

	var snapshots []domain.PortfolioSnapshot
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, cfg, "--json", "portfolio", "alice")), &snapshots))
	require.Len(t, snapshots, 2)
	assert.Equal(t, "bitcoin", snapshots[0].Coin)
	assert.Equal(t, "0.00", snapshots[0].NetProfitLoss.StringFixed(2))

	var summaries []domain.PurchaseSummary
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, cfg, "--json", "purchases", "alice")), &summaries))
	require.Len(t, summaries, 2)
	assert.Equal(t, "200.25", summaries[1].TotalValue.StringFixed(2))

	var entries []domain.LedgerEntry
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, cfg, "--json", "history", "alice", "--kind", "sell")), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, domain.EntryKindSell, entries[0].Kind)

	out = mustRun(t, cfg, "portfolio", "alice")
	assert.Contains(t, out, "Net P/L")
	assert.Contains(t, out, "solana")

	out = mustRun(t, cfg, "prices")
	assert.Contains(t, out, "bitcoin")
	assert.Contains(t, out, "100.125")
}

func TestCLI_Errors(t *testing.T) {
	cfg := writeConfig(t)

	_, err := run(t, cfg, "wallet", "nobody")
	assert.True(t, errors.Is(err, domain.ErrUnknownUser))

	mustRun(t, cfg, "open", "bob")
	_, err = run(t, cfg, "open", "bob")
	assert.True(t, errors.Is(err, domain.ErrAccountExists))

	_, err = run(t, cfg, "buy", "bob", "bitcoin", "two")
	assert.True(t, errors.Is(err, domain.ErrInvalidRequest))

	_, err = run(t, cfg, "buy", "bob", "bitcoin", "1000")
	assert.True(t, errors.Is(err, domain.ErrInsufficientFunds))

	_, err = run(t, cfg, "sell", "bob", "bitcoin", "1")
	assert.True(t, errors.Is(err, domain.ErrNoSuchHolding))

	_, err = run(t, cfg, "buy", "bob", "ripple", "1")
	assert.True(t, errors.Is(err, domain.ErrPriceUnavailable))

	_, err = run(t, cfg, "history", "bob", "--kind", "gift")
	assert.True(t, errors.Is(err, domain.ErrInvalidRequest))

	_, err = run(t, filepath.Join(t.TempDir(), "missing.yaml"), "wallet", "bob")
	assert.Error(t, err)
}
