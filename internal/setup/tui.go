package setup

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/tokenledger/config"
)

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

const title = "TOKENLEDGER SETUP"

// answers raw wizard input.
type answers struct {
	driver      string
	location    string
	provider    string
	apiKey      string
	cache       string
	redisAddr   string
	ttl         string
	initialCash string
	addr        string
}

func defaultAnswers() answers {
	d := config.Default()
	return answers{
		driver:      d.Store.Driver,
		location:    d.Store.WALDir,
		provider:    d.Oracle.Provider,
		cache:       d.Cache.Backend,
		redisAddr:   "localhost:6379",
		ttl:         d.Cache.TTL.String(),
		initialCash: d.Account.InitialCash.StringFixed(2),
		addr:        d.Web.Addr,
	}
}

// RunTUI launches the terminal configuration wizard and writes the result to path.
func RunTUI(path string) error {
	a := defaultAnswers()

	step := func(name string) {
		fmt.Print("\033[H\033[2J")
		fmt.Println(headerStyle.Render(title))
		fmt.Println(stepStyle.Render(name))
	}

	step("STEP 1: STORAGE")
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Where the ledger lives.\n"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Store driver").
				Options(
					huh.NewOption("Write-ahead log (embedded)", config.StoreWAL),
					huh.NewOption("SQLite", config.StoreSQLite),
					huh.NewOption("Postgres", config.StorePostgres),
				).
				Value(&a.driver),
		),
	).Run()
	if err != nil {
		return err
	}

	locationTitle := "WAL directory"
	if a.driver != config.StoreWAL {
		locationTitle = "Database DSN"
		a.location = ""
	}
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title(locationTitle).
				Value(&a.location).
				Validate(notEmpty),
		),
	).Run()
	if err != nil {
		return err
	}

	step("STEP 2: PRICES")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Price oracle").
				Options(
					huh.NewOption("CoinGecko", config.OracleCoinGecko),
					huh.NewOption("Binance", config.OracleBinance),
				).
				Value(&a.provider),
			huh.NewInput().
				Title("CoinGecko API key").
				Description("Optional, leave empty for the public tier").
				Value(&a.apiKey).
				EchoMode(huh.EchoModePassword),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Price cache").
				Options(
					huh.NewOption("In memory", config.CacheMemory),
					huh.NewOption("Redis", config.CacheRedis),
					huh.NewOption("None", config.CacheNone),
				).
				Value(&a.cache),
			huh.NewInput().
				Title("Cache TTL").
				Description("Duration string (e.g. 120s, 2m)").
				Value(&a.ttl).
				Validate(validateDuration),
		),
	).Run()
	if err != nil {
		return err
	}

	if a.cache == config.CacheRedis {
		err = huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Redis address").
					Value(&a.redisAddr).
					Validate(notEmpty),
			),
		).Run()
		if err != nil {
			return err
		}
	}

	step("STEP 3: ACCOUNTS")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Initial cash").
				Description("Credited to every new account").
				Value(&a.initialCash).
				Validate(validateCash),
			huh.NewInput().
				Title("Stream listen address").
				Value(&a.addr).
				Validate(notEmpty),
		),
	).Run()
	if err != nil {
		return err
	}

	cfg, err := a.config()
	if err != nil {
		return err
	}

	step("FINAL CONFIRMATION")
	summary := fmt.Sprintf(
		"Store: %s\nOracle: %s\nCache: %s (%s)\nInitial cash: %s\nListen: %s\n",
		cfg.Store.Driver, cfg.Oracle.Provider, cfg.Cache.Backend, cfg.Cache.TTL,
		cfg.Account.InitialCash.StringFixed(2), cfg.Web.Addr,
	)
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary))

	var confirm bool
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return err
	}
	if !confirm {
		return errors.New("setup cancelled by user")
	}

	if err := cfg.Save(path); err != nil {
		return err
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf("\n✓ Configuration saved to %s", path)))
	return nil
}

// config turns the answers into a validated Config.
func (a answers) config() (config.Config, error) {
	cfg := config.Default()

	cfg.Store.Driver = a.driver
	if a.driver == config.StoreWAL {
		cfg.Store.WALDir = strings.TrimSpace(a.location)
	} else {
		cfg.Store.DSN = strings.TrimSpace(a.location)
	}

	cfg.Oracle.Provider = a.provider
	cfg.Oracle.APIKey = strings.TrimSpace(a.apiKey)

	cfg.Cache.Backend = a.cache
	ttl, err := time.ParseDuration(a.ttl)
	if err != nil {
		return config.Config{}, errors.Wrap(err, "cache ttl")
	}
	cfg.Cache.TTL = ttl
	if a.cache == config.CacheRedis {
		cfg.Cache.RedisAddr = strings.TrimSpace(a.redisAddr)
	}

	cash, err := decimal.NewFromString(a.initialCash)
	if err != nil {
		return config.Config{}, errors.Wrap(err, "initial cash")
	}
	cfg.Account.InitialCash = cash
	cfg.Web.Addr = a.addr

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func notEmpty(s string) error {
	if strings.TrimSpace(s) == "" {
		return errors.New("cannot be empty")
	}
	return nil
}

func validateDuration(s string) error {
	d, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	if d <= 0 {
		return errors.New("must be positive")
	}
	return nil
}

func validateCash(s string) error {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return errors.New("must be a valid number")
	}
	if d.IsNegative() {
		return errors.New("must not be negative")
	}
	return nil
}
