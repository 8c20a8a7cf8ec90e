// Package sqlstore keeps the ledger in Postgres or SQLite through gorm.
package sqlstore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/tokenledger/internal/domain"
	"github.com/vadiminshakov/tokenledger/internal/storage"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	slowQueryThreshold = 200 * time.Millisecond
)

// Store gorm-backed ledger. Trades run inside one database transaction with the
// wallet row locked, so cash, holding and entry commit or roll back together.
type Store struct {
	db     *gorm.DB
	driver string
}

// Open connects to the database, migrates the schema and returns a store.
func Open(driver, dsn string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dsn == "" {
		return nil, errors.New("sql store dsn is required")
	}

	var dialector gorm.Dialector
	switch driver {
	case DriverPostgres:
		pgxCfg, err := pgx.ParseConfig(dsn)
		if err != nil {
			return nil, errors.Wrap(err, "parse postgres dsn")
		}
		dialector = postgres.New(postgres.Config{Conn: stdlib.OpenDB(*pgxCfg)})
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, errors.Errorf("unsupported sql driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger: gormlogger.New(zap.NewStdLog(logger.Named("gorm")), gormlogger.Config{
			SlowThreshold:             slowQueryThreshold,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", driver)
	}

	if driver == DriverSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, errors.Wrap(err, "sqlite handle")
		}
		// sqlite has a single writer; one connection avoids "database is locked".
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&walletRow{}, &holdingRow{}, &entryRow{}, &snapshotRow{}); err != nil {
		return nil, errors.Wrap(err, "migrate ledger schema")
	}

	return &Store{db: db, driver: driver}, nil
}

// CreateWallet inserts a freshly opened wallet.
func (s *Store) CreateWallet(ctx context.Context, wallet domain.Wallet) error {
	row := walletRow{CreatedAt: wallet.CreatedAt, OwnerID: wallet.OwnerID, Cash: wallet.Cash.String()}

	err := s.db.WithContext(ctx).Create(&row).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return errors.Wrapf(domain.ErrAccountExists, "owner %s", wallet.OwnerID)
	}

	return errors.Wrap(err, "insert wallet")
}

// Update runs fn inside a database transaction holding the owner's wallet row lock.
func (s *Store) Update(ctx context.Context, ownerID string, fn storage.TxFunc) error {
	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		q := db
		if s.driver == DriverPostgres {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}

		var row walletRow
		if err := q.Where("owner_id = ?", ownerID).Take(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errors.Wrapf(domain.ErrUnknownUser, "owner %s", ownerID)
			}
			return errors.Wrap(err, "lock wallet")
		}
		wallet, err := row.toDomain()
		if err != nil {
			return err
		}

		tx := &sqlTx{db: db, owner: ownerID, wallet: wallet}
		if err := fn(tx); err != nil {
			return err
		}
		if tx.staged == nil {
			return nil
		}

		return tx.persist()
	})
}

type sqlTx struct {
	db     *gorm.DB
	staged *domain.Fill
	owner  string
	wallet domain.Wallet
}

func (t *sqlTx) Wallet(context.Context) (domain.Wallet, error) {
	return t.wallet, nil
}

func (t *sqlTx) Holding(_ context.Context, coin string) (domain.Holding, bool, error) {
	return findHolding(t.db, t.owner, coin)
}

func (t *sqlTx) Commit(ctx context.Context, fill domain.Fill) error {
	if t.staged != nil {
		return errors.New("transaction already committed a fill")
	}

	holding, _, err := t.Holding(ctx, fill.Entry.Coin)
	if err != nil {
		return err
	}
	if err := storage.CheckFill(t.owner, t.wallet, holding, fill); err != nil {
		return err
	}
	t.staged = &fill

	return nil
}

func (t *sqlTx) persist() error {
	fill := *t.staged

	res := t.db.Model(&walletRow{}).Where("owner_id = ?", t.owner).Update("cash", fill.Cash.String())
	if res.Error != nil {
		return errors.Wrap(res.Error, "update wallet cash")
	}

	holding := holdingRow{OwnerID: fill.Holding.OwnerID, Coin: fill.Holding.Coin, Quantity: fill.Holding.Quantity}
	err := t.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner_id"}, {Name: "coin"}},
		DoUpdates: clause.AssignmentColumns([]string{"quantity"}),
	}).Create(&holding).Error
	if err != nil {
		return errors.Wrap(err, "upsert holding")
	}

	entry := newEntryRow(fill.Entry)
	if err := t.db.Create(&entry).Error; err != nil {
		return errors.Wrap(err, "append ledger entry")
	}

	return nil
}

func findHolding(db *gorm.DB, ownerID, coin string) (domain.Holding, bool, error) {
	coin = domain.NormalizeCoin(coin)

	var row holdingRow
	err := db.Where("owner_id = ? AND coin = ?", ownerID, coin).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Holding{OwnerID: ownerID, Coin: coin}, false, nil
	}
	if err != nil {
		return domain.Holding{}, false, errors.Wrap(err, "select holding")
	}

	return row.toDomain(), true, nil
}

// Wallet returns ownerID's wallet.
func (s *Store) Wallet(ctx context.Context, ownerID string) (domain.Wallet, error) {
	var row walletRow
	err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Wallet{}, errors.Wrapf(domain.ErrUnknownUser, "owner %s", ownerID)
	}
	if err != nil {
		return domain.Wallet{}, errors.Wrap(err, "select wallet")
	}

	return row.toDomain()
}

// Holding returns the holding for (ownerID, coin) and whether it exists.
func (s *Store) Holding(ctx context.Context, ownerID, coin string) (domain.Holding, bool, error) {
	if _, err := s.Wallet(ctx, ownerID); err != nil {
		return domain.Holding{}, false, err
	}

	return findHolding(s.db.WithContext(ctx), ownerID, coin)
}

// Holdings returns every holding of ownerID ordered by coin.
func (s *Store) Holdings(ctx context.Context, ownerID string) ([]domain.Holding, error) {
	if _, err := s.Wallet(ctx, ownerID); err != nil {
		return nil, err
	}

	var rows []holdingRow
	if err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("coin").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "select holdings")
	}

	holdings := make([]domain.Holding, 0, len(rows))
	for _, row := range rows {
		holdings = append(holdings, row.toDomain())
	}

	return holdings, nil
}

// Entries returns ownerID's ledger in append order.
func (s *Store) Entries(ctx context.Context, ownerID string) ([]domain.LedgerEntry, error) {
	if _, err := s.Wallet(ctx, ownerID); err != nil {
		return nil, err
	}

	var rows []entryRow
	if err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("seq").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "select ledger entries")
	}

	entries := make([]domain.LedgerEntry, 0, len(rows))
	for _, row := range rows {
		entry, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// SaveSnapshots upserts ownerID's portfolio snapshots in one transaction.
func (s *Store) SaveSnapshots(ctx context.Context, ownerID string, snapshots []domain.PortfolioSnapshot) error {
	if _, err := s.Wallet(ctx, ownerID); err != nil {
		return err
	}
	if len(snapshots) == 0 {
		return nil
	}

	rows := make([]snapshotRow, 0, len(snapshots))
	for _, snap := range snapshots {
		rows = append(rows, newSnapshotRow(snap))
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner_id"}, {Name: "coin"}},
		UpdateAll: true,
	}).Create(&rows).Error

	return errors.Wrap(err, "upsert portfolio snapshots")
}

// Snapshots returns the persisted snapshots of ownerID ordered by coin.
func (s *Store) Snapshots(ctx context.Context, ownerID string) ([]domain.PortfolioSnapshot, error) {
	if _, err := s.Wallet(ctx, ownerID); err != nil {
		return nil, err
	}

	var rows []snapshotRow
	if err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("LOWER(coin), coin").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "select portfolio snapshots")
	}

	snapshots := make([]domain.PortfolioSnapshot, 0, len(rows))
	for _, row := range rows {
		snap, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snap)
	}

	return snapshots, nil
}

// EntriesAfter returns all ledger entries appended after seq, across owners.
func (s *Store) EntriesAfter(ctx context.Context, seq uint64) ([]domain.LedgerRecord, error) {
	var rows []entryRow
	if err := s.db.WithContext(ctx).Where("seq > ?", seq).Order("seq").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "select ledger entries")
	}

	records := make([]domain.LedgerRecord, 0, len(rows))
	for _, row := range rows {
		entry, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		records = append(records, domain.LedgerRecord{Entry: entry, Seq: row.Seq})
	}

	return records, nil
}

// LastSeq returns the sequence of the latest ledger entry.
func (s *Store) LastSeq(ctx context.Context) (uint64, error) {
	var seq uint64
	err := s.db.WithContext(ctx).Model(&entryRow{}).Select("COALESCE(MAX(seq), 0)").Scan(&seq).Error

	return seq, errors.Wrap(err, "select last ledger seq")
}

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return errors.Wrap(err, "sql handle")
	}

	return sqlDB.Close()
}
