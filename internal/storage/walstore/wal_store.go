package walstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"
	"github.com/vadiminshakov/tokenledger/internal/domain"
	"github.com/vadiminshakov/tokenledger/internal/storage"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	defaultLedgerDir   = "./wal/ledger"
	ledgerSegmentLimit = 1000
	// DefaultMaxSegments bounds the WAL to ledgerSegmentLimit*DefaultMaxSegments records.
	DefaultMaxSegments = 100000

	// Snapshots are derived from the ledger and live in their own short WAL,
	// so retention there never evicts account or trade records.
	snapshotDir          = "snapshots"
	snapshotSegmentLimit = 1000
	snapshotMaxSegments  = 8

	accountKeyPrefix  = "account_"
	tradeKeyPrefix    = "trade_"
	snapshotKeyPrefix = "snapshot_"

	walDirPermissions = 0o755
)

type tradeRecord struct {
	Fill domain.Fill `json:"fill"`
	Seq  uint64      `json:"seq"`
}

type snapshotRecord struct {
	Snapshots []domain.PortfolioSnapshot `json:"snapshots"`
}

type account struct {
	holdings  map[string]domain.Holding
	snapshots map[string]domain.PortfolioSnapshot
	wallet    domain.Wallet
	entries   []domain.LedgerEntry
}

// Store keeps the ledger in a WAL. Every trade is a single record, so a crash either
// keeps the whole fill or none of it. Wallets and holdings are rebuilt by replay on open.
type Store struct {
	wal       *gowal.Wal
	snapshots *gowal.Wal
	logger    *zap.Logger
	accounts  map[string]*account
	log       []domain.LedgerRecord
	mu        sync.RWMutex
}

// Options tune the underlying WAL.
type Options struct {
	Logger      *zap.Logger
	Dir         string
	MaxSegments int
}

// Open initializes a WAL-backed store under opts.Dir and replays it.
func Open(opts Options) (*Store, error) {
	if opts.Dir == "" {
		opts.Dir = defaultLedgerDir
	}
	if opts.MaxSegments <= 0 {
		opts.MaxSegments = DefaultMaxSegments
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if err := os.MkdirAll(opts.Dir, walDirPermissions); err != nil {
		return nil, errors.Wrapf(err, "ensure ledger WAL directory %s", opts.Dir)
	}

	cfg := gowal.Config{
		Dir:              opts.Dir,
		Prefix:           "ledger_",
		SegmentThreshold: ledgerSegmentLimit,
		MaxSegments:      opts.MaxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init ledger WAL")
	}

	snapshots, err := gowal.NewWAL(gowal.Config{
		Dir:              filepath.Join(opts.Dir, snapshotDir),
		Prefix:           "snapshot_",
		SegmentThreshold: snapshotSegmentLimit,
		MaxSegments:      snapshotMaxSegments,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		_ = wal.Close()
		return nil, errors.Wrap(err, "init snapshot WAL")
	}

	s := &Store{wal: wal, snapshots: snapshots, logger: opts.Logger, accounts: make(map[string]*account)}
	if err := s.replay(); err != nil {
		_ = s.closeWALs()
		return nil, err
	}
	s.logger.Debug("ledger replayed",
		zap.Int("accounts", len(s.accounts)),
		zap.Int("entries", len(s.log)))

	return s, nil
}

func (s *Store) replay() error {
	for msg := range s.wal.Iterator() {
		switch {
		case strings.HasPrefix(msg.Key, accountKeyPrefix):
			var wallet domain.Wallet
			if err := json.Unmarshal(msg.Value, &wallet); err != nil {
				return errors.Wrapf(err, "decode account record %s", msg.Key)
			}
			s.accounts[wallet.OwnerID] = newAccount(wallet)

		case strings.HasPrefix(msg.Key, tradeKeyPrefix):
			var rec tradeRecord
			if err := json.Unmarshal(msg.Value, &rec); err != nil {
				return errors.Wrapf(err, "decode trade record %s", msg.Key)
			}
			acc, ok := s.accounts[rec.Fill.Entry.OwnerID]
			if !ok {
				return errors.Errorf("trade %s references unknown owner %q", rec.Fill.Entry.ID, rec.Fill.Entry.OwnerID)
			}
			holding := acc.holding(rec.Fill.Entry.Coin)
			if err := storage.CheckFill(acc.wallet.OwnerID, acc.wallet, holding, rec.Fill); err != nil {
				return errors.Wrapf(err, "replay trade %s", rec.Fill.Entry.ID)
			}
			s.apply(acc, rec.Seq, rec.Fill)

		default:
			s.logger.Warn("skipping unknown ledger record", zap.String("key", msg.Key), zap.Uint64("index", msg.Index))
		}
	}

	for msg := range s.snapshots.Iterator() {
		owner := strings.TrimPrefix(msg.Key, snapshotKeyPrefix)
		acc, ok := s.accounts[owner]
		if !ok {
			s.logger.Warn("dropping snapshots of unknown owner", zap.String("owner", owner))
			continue
		}
		var rec snapshotRecord
		if err := json.Unmarshal(msg.Value, &rec); err != nil {
			// derived data, the next recompute rewrites it
			s.logger.Warn("skipping undecodable snapshot record", zap.String("key", msg.Key), zap.Error(err))
			continue
		}
		acc.upsertSnapshots(rec.Snapshots)
	}

	return nil
}

func newAccount(wallet domain.Wallet) *account {
	return &account{
		holdings:  make(map[string]domain.Holding),
		snapshots: make(map[string]domain.PortfolioSnapshot),
		wallet:    wallet,
	}
}

func (a *account) holding(coin string) domain.Holding {
	if h, ok := a.holdings[coin]; ok {
		return h
	}
	return domain.Holding{OwnerID: a.wallet.OwnerID, Coin: coin}
}

func (a *account) upsertSnapshots(snapshots []domain.PortfolioSnapshot) {
	for _, snap := range snapshots {
		a.snapshots[snap.Coin] = snap
	}
}

func (s *Store) apply(acc *account, seq uint64, fill domain.Fill) {
	acc.wallet.Cash = fill.Cash
	acc.holdings[fill.Holding.Coin] = fill.Holding
	acc.entries = append(acc.entries, fill.Entry)
	s.log = append(s.log, domain.LedgerRecord{Entry: fill.Entry, Seq: seq})
}

func (s *Store) write(key string, payload any) (uint64, error) {
	return writeRecord(s.wal, key, payload)
}

func writeRecord(wal *gowal.Wal, key string, payload any) (uint64, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, errors.Wrapf(err, "marshal %s", key)
	}

	nextIndex := wal.CurrentIndex() + 1
	if err := wal.Write(nextIndex, key, data); err != nil {
		return 0, errors.Wrapf(err, "write %s", key)
	}

	return nextIndex, nil
}

// CreateWallet persists a freshly opened wallet.
func (s *Store) CreateWallet(_ context.Context, wallet domain.Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[wallet.OwnerID]; ok {
		return errors.Wrapf(domain.ErrAccountExists, "owner %s", wallet.OwnerID)
	}
	if _, err := s.write(accountKeyPrefix+wallet.OwnerID, wallet); err != nil {
		return err
	}
	s.accounts[wallet.OwnerID] = newAccount(wallet)

	return nil
}

// Update runs fn against ownerID's state. A fill staged by fn is written as one WAL record
// and applied to memory only after the write succeeds.
func (s *Store) Update(ctx context.Context, ownerID string, fn storage.TxFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[ownerID]
	if !ok {
		return errors.Wrapf(domain.ErrUnknownUser, "owner %s", ownerID)
	}

	tx := &walTx{owner: ownerID, acc: acc}
	if err := fn(tx); err != nil {
		return err
	}
	if tx.staged == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "commit trade")
	}

	seq := s.wal.CurrentIndex() + 1
	if _, err := s.write(tradeKeyPrefix+ownerID, tradeRecord{Fill: *tx.staged, Seq: seq}); err != nil {
		return err
	}
	s.apply(acc, seq, *tx.staged)

	return nil
}

type walTx struct {
	acc    *account
	staged *domain.Fill
	owner  string
}

func (t *walTx) Wallet(context.Context) (domain.Wallet, error) {
	return t.acc.wallet, nil
}

func (t *walTx) Holding(_ context.Context, coin string) (domain.Holding, bool, error) {
	h, ok := t.acc.holdings[domain.NormalizeCoin(coin)]
	return h, ok, nil
}

func (t *walTx) Commit(_ context.Context, fill domain.Fill) error {
	if t.staged != nil {
		return errors.New("transaction already committed a fill")
	}
	if err := storage.CheckFill(t.owner, t.acc.wallet, t.acc.holding(fill.Entry.Coin), fill); err != nil {
		return err
	}
	t.staged = &fill

	return nil
}

// Wallet returns ownerID's wallet.
func (s *Store) Wallet(_ context.Context, ownerID string) (domain.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, ok := s.accounts[ownerID]
	if !ok {
		return domain.Wallet{}, errors.Wrapf(domain.ErrUnknownUser, "owner %s", ownerID)
	}

	return acc.wallet, nil
}

// Holding returns the holding for (ownerID, coin) and whether it exists.
func (s *Store) Holding(_ context.Context, ownerID, coin string) (domain.Holding, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, ok := s.accounts[ownerID]
	if !ok {
		return domain.Holding{}, false, errors.Wrapf(domain.ErrUnknownUser, "owner %s", ownerID)
	}
	h, ok := acc.holdings[domain.NormalizeCoin(coin)]

	return h, ok, nil
}

// Holdings returns every holding of ownerID ordered by coin.
func (s *Store) Holdings(_ context.Context, ownerID string) ([]domain.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, ok := s.accounts[ownerID]
	if !ok {
		return nil, errors.Wrapf(domain.ErrUnknownUser, "owner %s", ownerID)
	}

	holdings := make([]domain.Holding, 0, len(acc.holdings))
	for _, h := range acc.holdings {
		holdings = append(holdings, h)
	}
	sort.Slice(holdings, func(i, j int) bool { return holdings[i].Coin < holdings[j].Coin })

	return holdings, nil
}

// Entries returns ownerID's ledger in append order.
func (s *Store) Entries(_ context.Context, ownerID string) ([]domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, ok := s.accounts[ownerID]
	if !ok {
		return nil, errors.Wrapf(domain.ErrUnknownUser, "owner %s", ownerID)
	}

	return append([]domain.LedgerEntry(nil), acc.entries...), nil
}

// SaveSnapshots upserts ownerID's portfolio snapshots.
func (s *Store) SaveSnapshots(_ context.Context, ownerID string, snapshots []domain.PortfolioSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[ownerID]
	if !ok {
		return errors.Wrapf(domain.ErrUnknownUser, "owner %s", ownerID)
	}
	if _, err := writeRecord(s.snapshots, snapshotKeyPrefix+ownerID, snapshotRecord{Snapshots: snapshots}); err != nil {
		return err
	}
	acc.upsertSnapshots(snapshots)

	return nil
}

// Snapshots returns the persisted snapshots of ownerID ordered by coin.
func (s *Store) Snapshots(_ context.Context, ownerID string) ([]domain.PortfolioSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, ok := s.accounts[ownerID]
	if !ok {
		return nil, errors.Wrapf(domain.ErrUnknownUser, "owner %s", ownerID)
	}

	snapshots := make([]domain.PortfolioSnapshot, 0, len(acc.snapshots))
	for _, snap := range acc.snapshots {
		snapshots = append(snapshots, snap)
	}
	sort.Slice(snapshots, func(i, j int) bool { return domain.CoinLess(snapshots[i].Coin, snapshots[j].Coin) })

	return snapshots, nil
}

// EntriesAfter returns all ledger entries appended after seq, across owners.
func (s *Store) EntriesAfter(_ context.Context, seq uint64) ([]domain.LedgerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := sort.Search(len(s.log), func(i int) bool { return s.log[i].Seq > seq })
	if start == len(s.log) {
		return nil, nil
	}

	return append([]domain.LedgerRecord(nil), s.log[start:]...), nil
}

// LastSeq returns the sequence of the latest ledger entry.
func (s *Store) LastSeq(context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.log) == 0 {
		return 0, nil
	}

	return s.log[len(s.log)-1].Seq, nil
}

// Close closes the ledger and snapshot WALs.
func (s *Store) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("ledger store is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closeWALs()
}

func (s *Store) closeWALs() error {
	return multierr.Combine(
		errors.Wrap(s.wal.Close(), "close ledger WAL"),
		errors.Wrap(s.snapshots.Close(), "close snapshot WAL"),
	)
}
