// Package cli implements the tokenledger command tree.
package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vadiminshakov/tokenledger/config"
	"github.com/vadiminshakov/tokenledger/internal"
	"github.com/vadiminshakov/tokenledger/internal/logging"
)

// rootConfig holds the global flags shared by every command.
type rootConfig struct {
	configPath string
	jsonOut    bool
}

// NewRootCmd builds the tokenledger command.
func NewRootCmd() *cobra.Command {
	rc := &rootConfig{}

	cmd := &cobra.Command{
		Use:   "tokenledger",
		Short: "Per-user token trading ledger",
		Long: `tokenledger keeps a cash wallet, coin holdings and an append-only
trade ledger per owner. Trades settle at the oracle price at execution time.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&rc.configPath, "config", "c", "", "path to yaml config (default "+config.DefaultPath+" if present)")
	cmd.PersistentFlags().BoolVar(&rc.jsonOut, "json", false, "print JSON instead of tables")

	cmd.AddCommand(
		newSetupCmd(rc),
		newOpenCmd(rc),
		newTradeCmd(rc, tradeBuy),
		newTradeCmd(rc, tradeSell),
		newWalletCmd(rc),
		newBalancesCmd(rc),
		newPortfolioCmd(rc),
		newPurchasesCmd(rc),
		newHistoryCmd(rc),
		newPricesCmd(rc),
		newServeCmd(rc),
	)

	return cmd
}

// env is what a command runs against.
type env struct {
	cfg    config.Config
	logger *zap.Logger
	app    *internal.App
	out    io.Writer
	json   bool
}

// withApp loads the config, builds the app, runs fn and releases everything.
func (rc *rootConfig) withApp(cmd *cobra.Command, fn func(ctx context.Context, e *env) error) error {
	cfg, err := config.Load(rc.configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	cfg.Dump(logger)

	app, err := internal.NewApp(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Warn("close ledger", zap.Error(err))
		}
	}()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return fn(ctx, &env{cfg: cfg, logger: logger, app: app, out: cmd.OutOrStdout(), json: rc.jsonOut})
}
