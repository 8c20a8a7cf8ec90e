// Package config loads the tokenledger YAML configuration.
package config

import (
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kr/pretty"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gopkg.in/validator.v2"
	"gopkg.in/yaml.v3"
)

// DefaultPath is read when no --config is given and the file exists.
const DefaultPath = "tokenledger.yaml"

const (
	StoreWAL      = "wal"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"

	OracleCoinGecko = "coingecko"
	OracleBinance   = "binance"
	OracleStatic    = "static"

	CacheMemory = "memory"
	CacheRedis  = "redis"
	CacheNone   = "none"
)

// Environment overrides, applied after the file is parsed.
const (
	EnvStoreDSN      = "TOKENLEDGER_STORE_DSN"
	EnvOracleAPIKey  = "TOKENLEDGER_ORACLE_API_KEY"
	EnvRedisAddr     = "TOKENLEDGER_REDIS_ADDR"
	EnvRedisPassword = "TOKENLEDGER_REDIS_PASSWORD"
)

const redacted = "***"

type Config struct {
	Store   Store
	Account Account
	Oracle  Oracle
	Cache   Cache
	Log     Log
	Web     Web
}

type Store struct {
	Driver string `validate:"nonzero"`
	DSN    string
	WALDir string
}

type Account struct {
	InitialCash decimal.Decimal
}

type Oracle struct {
	Provider   string `validate:"nonzero"`
	BaseURL    string
	APIKey     string
	VsCurrency string `validate:"nonzero"`
	Coins      []string
	// Prices seeds the static oracle.
	Prices map[string]decimal.Decimal
	// Symbols maps coin ids to Binance tickers; empty uses the built-in set.
	Symbols map[string]string
	Timeout time.Duration `validate:"min=1"`
	Retries int           `validate:"min=0"`
}

type Cache struct {
	Backend       string `validate:"nonzero"`
	RedisAddr     string
	RedisPassword string
	RedisPrefix   string
	RedisDB       int `validate:"min=0"`
	TTL           time.Duration
}

type Log struct {
	Level      string `validate:"nonzero"`
	File       string
	MaxSizeMB  int `validate:"min=0"`
	MaxBackups int `validate:"min=0"`
	MaxAgeDays int `validate:"min=0"`
	Compress   bool
}

type Web struct {
	Addr            string `validate:"nonzero"`
	AutocertDomains []string
	CertCacheDir    string
}

// ConfigTmp is the on-disk shape. Numbers that need exact parsing stay strings.
type ConfigTmp struct {
	Store   StoreTmp   `yaml:"store"`
	Account AccountTmp `yaml:"account"`
	Oracle  OracleTmp  `yaml:"oracle"`
	Cache   CacheTmp   `yaml:"cache"`
	Log     LogTmp     `yaml:"log"`
	Web     WebTmp     `yaml:"web"`
}

type StoreTmp struct {
	Driver string `yaml:"driver,omitempty"`
	DSN    string `yaml:"dsn,omitempty"`
	WALDir string `yaml:"wal_dir,omitempty"`
}

type AccountTmp struct {
	InitialCashStr string `yaml:"initial_cash,omitempty"`
}

type OracleTmp struct {
	Provider   string            `yaml:"provider,omitempty"`
	BaseURL    string            `yaml:"base_url,omitempty"`
	APIKey     string            `yaml:"api_key,omitempty"`
	VsCurrency string            `yaml:"vs_currency,omitempty"`
	Coins      []string          `yaml:"coins,omitempty"`
	PricesStr  map[string]string `yaml:"prices,omitempty"`
	Symbols    map[string]string `yaml:"symbols,omitempty"`
	Timeout    time.Duration     `yaml:"timeout,omitempty"`
	RetriesStr string            `yaml:"retries,omitempty"`
}

type CacheTmp struct {
	Backend string        `yaml:"backend,omitempty"`
	TTL     time.Duration `yaml:"ttl,omitempty"`
	Redis   RedisTmp      `yaml:"redis,omitempty"`
}

type RedisTmp struct {
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

type LogTmp struct {
	Level      string `yaml:"level,omitempty"`
	File       string `yaml:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty"`
	MaxAgeDays int    `yaml:"max_age_days,omitempty"`
	Compress   bool   `yaml:"compress,omitempty"`
}

type WebTmp struct {
	Addr            string   `yaml:"addr,omitempty"`
	AutocertDomains []string `yaml:"autocert_domains,omitempty"`
	CertCacheDir    string   `yaml:"cert_cache_dir,omitempty"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Store:   Store{Driver: StoreWAL, WALDir: "./wal/ledger"},
		Account: Account{InitialCash: decimal.RequireFromString("10000000.00")},
		Oracle: Oracle{
			Provider:   OracleCoinGecko,
			BaseURL:    "https://api.coingecko.com/api/v3",
			VsCurrency: "usd",
			Timeout:    5 * time.Second,
			Retries:    2,
		},
		Cache: Cache{Backend: CacheMemory, TTL: 120 * time.Second, RedisPrefix: "tokenledger:price:"},
		Log:   Log{Level: "info", MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 30},
		Web:   Web{Addr: ":8080", CertCacheDir: "cert-cache"},
	}
}

// Load reads .env, then the YAML file at path, then applies environment overrides.
// An empty path falls back to DefaultPath and, when that is absent, to Default.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, errors.Wrap(err, "load .env")
	}

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
	case !explicit && errors.Is(err, fs.ErrNotExist):
		data = nil
	default:
		return Config{}, errors.Wrapf(err, "read config %s", path)
	}

	return Parse(data)
}

// Parse builds a Config from YAML bytes, filling defaults and applying environment overrides.
func Parse(data []byte) (Config, error) {
	var tmp ConfigTmp
	if err := yaml.Unmarshal(data, &tmp); err != nil {
		return Config{}, errors.Wrap(err, "parse yaml config")
	}

	cfg, err := tmp.toConfig()
	if err != nil {
		return Config{}, err
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c ConfigTmp) toConfig() (Config, error) {
	cfg := Default()

	if c.Store.Driver != "" {
		cfg.Store.Driver = strings.ToLower(c.Store.Driver)
	}
	cfg.Store.DSN = c.Store.DSN
	if c.Store.WALDir != "" {
		cfg.Store.WALDir = c.Store.WALDir
	}

	if c.Account.InitialCashStr != "" {
		cash, err := decimal.NewFromString(c.Account.InitialCashStr)
		if err != nil {
			return Config{}, errors.Wrapf(err, "incorrect 'initial_cash' param in yaml config (must be a decimal)")
		}
		cfg.Account.InitialCash = cash
	}

	if c.Oracle.Provider != "" {
		cfg.Oracle.Provider = strings.ToLower(c.Oracle.Provider)
	}
	if c.Oracle.BaseURL != "" {
		cfg.Oracle.BaseURL = c.Oracle.BaseURL
	}
	cfg.Oracle.APIKey = c.Oracle.APIKey
	if c.Oracle.VsCurrency != "" {
		cfg.Oracle.VsCurrency = c.Oracle.VsCurrency
	}
	cfg.Oracle.Coins = c.Oracle.Coins
	cfg.Oracle.Symbols = c.Oracle.Symbols
	if c.Oracle.Timeout != 0 {
		cfg.Oracle.Timeout = c.Oracle.Timeout
	}
	if c.Oracle.RetriesStr != "" {
		retries, err := strconv.Atoi(c.Oracle.RetriesStr)
		if err != nil {
			return Config{}, errors.Wrapf(err, "incorrect 'retries' param in yaml config (must be an integer)")
		}
		cfg.Oracle.Retries = retries
	}
	if len(c.Oracle.PricesStr) > 0 {
		cfg.Oracle.Prices = make(map[string]decimal.Decimal, len(c.Oracle.PricesStr))
		for coin, raw := range c.Oracle.PricesStr {
			price, err := decimal.NewFromString(raw)
			if err != nil {
				return Config{}, errors.Wrapf(err, "incorrect price for %q in yaml config (must be a decimal)", coin)
			}
			cfg.Oracle.Prices[coin] = price
		}
	}

	if c.Cache.Backend != "" {
		cfg.Cache.Backend = strings.ToLower(c.Cache.Backend)
	}
	if c.Cache.TTL != 0 {
		cfg.Cache.TTL = c.Cache.TTL
	}
	cfg.Cache.RedisAddr = c.Cache.Redis.Addr
	cfg.Cache.RedisPassword = c.Cache.Redis.Password
	cfg.Cache.RedisDB = c.Cache.Redis.DB
	if c.Cache.Redis.Prefix != "" {
		cfg.Cache.RedisPrefix = c.Cache.Redis.Prefix
	}

	if c.Log.Level != "" {
		cfg.Log.Level = strings.ToLower(c.Log.Level)
	}
	cfg.Log.File = c.Log.File
	if c.Log.MaxSizeMB != 0 {
		cfg.Log.MaxSizeMB = c.Log.MaxSizeMB
	}
	if c.Log.MaxBackups != 0 {
		cfg.Log.MaxBackups = c.Log.MaxBackups
	}
	if c.Log.MaxAgeDays != 0 {
		cfg.Log.MaxAgeDays = c.Log.MaxAgeDays
	}
	cfg.Log.Compress = c.Log.Compress

	if c.Web.Addr != "" {
		cfg.Web.Addr = c.Web.Addr
	}
	cfg.Web.AutocertDomains = c.Web.AutocertDomains
	if c.Web.CertCacheDir != "" {
		cfg.Web.CertCacheDir = c.Web.CertCacheDir
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvStoreDSN); v != "" {
		c.Store.DSN = v
	}
	if v := os.Getenv(EnvOracleAPIKey); v != "" {
		c.Oracle.APIKey = v
	}
	if v := os.Getenv(EnvRedisAddr); v != "" {
		c.Cache.RedisAddr = v
	}
	if v := os.Getenv(EnvRedisPassword); v != "" {
		c.Cache.RedisPassword = v
	}
}

// Validate checks field constraints and the combinations between sections.
func (c Config) Validate() error {
	if err := validator.Validate(c); err != nil {
		return errors.Wrap(err, "validate config")
	}

	switch c.Store.Driver {
	case StoreWAL:
		if c.Store.WALDir == "" {
			return errors.New("store.wal_dir is required for the wal driver")
		}
	case StorePostgres, StoreSQLite:
		if c.Store.DSN == "" {
			return errors.Errorf("store.dsn is required for the %s driver", c.Store.Driver)
		}
	default:
		return errors.Errorf("unsupported store driver %q", c.Store.Driver)
	}

	if c.Account.InitialCash.IsNegative() {
		return errors.Errorf("account.initial_cash must not be negative, got %s", c.Account.InitialCash)
	}

	switch c.Oracle.Provider {
	case OracleCoinGecko:
		if c.Oracle.BaseURL == "" {
			return errors.New("oracle.base_url is required for coingecko")
		}
	case OracleBinance, OracleStatic:
	default:
		return errors.Errorf("unsupported oracle provider %q", c.Oracle.Provider)
	}

	switch c.Cache.Backend {
	case CacheMemory, CacheNone:
	case CacheRedis:
		if c.Cache.RedisAddr == "" {
			return errors.New("cache.redis.addr is required for the redis cache")
		}
	default:
		return errors.Errorf("unsupported cache backend %q", c.Cache.Backend)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.Errorf("unsupported log level %q", c.Log.Level)
	}

	return nil
}

// Redacted returns a copy with secrets masked.
func (c Config) Redacted() Config {
	if c.Store.DSN != "" {
		c.Store.DSN = redacted
	}
	if c.Oracle.APIKey != "" {
		c.Oracle.APIKey = redacted
	}
	if c.Cache.RedisPassword != "" {
		c.Cache.RedisPassword = redacted
	}
	return c
}

// Dump logs the effective configuration at debug level.
func (c Config) Dump(logger *zap.Logger) {
	logger.Debug("effective config", zap.String("config", pretty.Sprint(c.Redacted())))
}

// ToTmp converts c back to its on-disk shape.
func (c Config) ToTmp() ConfigTmp {
	tmp := ConfigTmp{
		Store:   StoreTmp{Driver: c.Store.Driver, DSN: c.Store.DSN, WALDir: c.Store.WALDir},
		Account: AccountTmp{InitialCashStr: c.Account.InitialCash.StringFixed(2)},
		Oracle: OracleTmp{
			Provider:   c.Oracle.Provider,
			BaseURL:    c.Oracle.BaseURL,
			APIKey:     c.Oracle.APIKey,
			VsCurrency: c.Oracle.VsCurrency,
			Coins:      c.Oracle.Coins,
			Symbols:    c.Oracle.Symbols,
			Timeout:    c.Oracle.Timeout,
			RetriesStr: strconv.Itoa(c.Oracle.Retries),
		},
		Cache: CacheTmp{
			Backend: c.Cache.Backend,
			TTL:     c.Cache.TTL,
			Redis: RedisTmp{
				Addr:     c.Cache.RedisAddr,
				Password: c.Cache.RedisPassword,
				Prefix:   c.Cache.RedisPrefix,
				DB:       c.Cache.RedisDB,
			},
		},
		Log: LogTmp{
			Level:      c.Log.Level,
			File:       c.Log.File,
			MaxSizeMB:  c.Log.MaxSizeMB,
			MaxBackups: c.Log.MaxBackups,
			MaxAgeDays: c.Log.MaxAgeDays,
			Compress:   c.Log.Compress,
		},
		Web: WebTmp{Addr: c.Web.Addr, AutocertDomains: c.Web.AutocertDomains, CertCacheDir: c.Web.CertCacheDir},
	}
	if len(c.Oracle.Prices) > 0 {
		tmp.Oracle.PricesStr = make(map[string]string, len(c.Oracle.Prices))
		for coin, price := range c.Oracle.Prices {
			tmp.Oracle.PricesStr[coin] = price.String()
		}
	}
	return tmp
}

// Save writes c to path as YAML.
func (c Config) Save(path string) error {
	data, err := yaml.Marshal(c.ToTmp())
	if err != nil {
		return errors.Wrap(err, "failed to generate yaml")
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.Wrapf(err, "failed to save config file %s", path)
	}
	return nil
}
