package cli

import (
	"context"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/vadiminshakov/tokenledger/config"
	"github.com/vadiminshakov/tokenledger/internal/domain"
	"github.com/vadiminshakov/tokenledger/internal/services/portfolio"
	"github.com/vadiminshakov/tokenledger/internal/services/trader"
	"github.com/vadiminshakov/tokenledger/internal/setup"
	"github.com/vadiminshakov/tokenledger/internal/web"
)

type tradeSide string

const (
	tradeBuy  tradeSide = "buy"
	tradeSell tradeSide = "sell"
)

func newSetupCmd(rc *rootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive configuration wizard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := rc.configPath
			if path == "" {
				path = config.DefaultPath
			}
			return setup.RunTUI(path)
		},
	}
}

func newOpenCmd(rc *rootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "open <owner>",
		Short: "Open an account funded with the initial cash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rc.withApp(cmd, func(ctx context.Context, e *env) error {
				wallet, err := e.app.Engine.OpenAccount(ctx, args[0])
				if err != nil {
					return err
				}
				return e.printWallet(wallet)
			})
		},
	}
}

func newTradeCmd(rc *rootConfig, side tradeSide) *cobra.Command {
	short := "Buy quantity units of coin at the current price"
	if side == tradeSell {
		short = "Sell quantity units of coin at the current price"
	}

	return &cobra.Command{
		Use:   string(side) + " <owner> <coin> <quantity>",
		Short: short,
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			qty, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil {
				return errors.Wrapf(domain.ErrInvalidRequest, "quantity %q is not an integer", args[2])
			}
			req := trader.TradeRequest{OwnerID: args[0], Coin: args[1], Quantity: qty}

			return rc.withApp(cmd, func(ctx context.Context, e *env) error {
				var res trader.TradeResult
				if side == tradeBuy {
					res, err = e.app.Engine.Buy(ctx, req)
				} else {
					res, err = e.app.Engine.Sell(ctx, req)
				}
				if err != nil {
					return err
				}
				return e.printTrade(res)
			})
		},
	}
}

func newWalletCmd(rc *rootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "wallet <owner>",
		Short: "Show the cash balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rc.withApp(cmd, func(ctx context.Context, e *env) error {
				wallet, err := e.app.Portfolio.Wallet(ctx, args[0])
				if err != nil {
					return err
				}
				return e.printWallet(wallet)
			})
		},
	}
}

func newBalancesCmd(rc *rootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "balances <owner>",
		Short: "List coin holdings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rc.withApp(cmd, func(ctx context.Context, e *env) error {
				sheet, err := e.app.Portfolio.TokenBalances(ctx, args[0])
				if err != nil {
					return err
				}
				return e.printBalances(sheet)
			})
		},
	}
}

func newPortfolioCmd(rc *rootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "portfolio <owner>",
		Short: "Recompute and show profit/loss per coin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rc.withApp(cmd, func(ctx context.Context, e *env) error {
				snapshots, err := e.app.Portfolio.Recompute(ctx, args[0])
				if err != nil {
					return err
				}
				return e.printPortfolio(snapshots)
			})
		},
	}
}

func newPurchasesCmd(rc *rootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "purchases <owner>",
		Short: "Summarize buys per coin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rc.withApp(cmd, func(ctx context.Context, e *env) error {
				summaries, err := e.app.Portfolio.SummarizePurchases(ctx, args[0])
				if err != nil {
					return err
				}
				return e.printPurchases(summaries)
			})
		},
	}
}

func newHistoryCmd(rc *rootConfig) *cobra.Command {
	var (
		kind  string
		coin  string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "history <owner>",
		Short: "List ledger entries, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := portfolio.HistoryFilter{Coin: coin, Limit: limit}
			if kind != "" {
				k, err := domain.ParseEntryKind(kind)
				if err != nil {
					return err
				}
				filter.Kind = k
			}

			return rc.withApp(cmd, func(ctx context.Context, e *env) error {
				entries, err := e.app.Portfolio.Transactions(ctx, args[0], filter)
				if err != nil {
					return err
				}
				return e.printHistory(entries)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "only buy or sell entries")
	cmd.Flags().StringVar(&coin, "coin", "", "only entries for this coin")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of entries (0 for all)")

	return cmd
}

func newPricesCmd(rc *rootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "prices [coins...]",
		Short: "Show current prices",
		RunE: func(cmd *cobra.Command, args []string) error {
			return rc.withApp(cmd, func(ctx context.Context, e *env) error {
				coins := args
				if len(coins) == 0 {
					coins = e.app.Coins
				}
				prices, err := e.app.Portfolio.LivePrices(ctx, coins)
				if err != nil {
					return err
				}
				return e.printPrices(prices)
			})
		},
	}
}

func newServeCmd(rc *rootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Stream ledger entries over server-sent events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return rc.withApp(cmd, func(ctx context.Context, e *env) error {
				ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
				defer stop()

				srv := web.NewServer(e.cfg.Web.Addr, e.app.Store, e.logger.Named("web"))
				if len(e.cfg.Web.AutocertDomains) > 0 {
					return srv.StartWithAutoTLS(ctx, e.cfg.Web.AutocertDomains, e.cfg.Web.CertCacheDir)
				}
				return srv.Start(ctx)
			})
		},
	}
}
