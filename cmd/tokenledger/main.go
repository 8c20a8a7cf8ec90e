// Command tokenledger manages per-owner token trading ledgers.
//
// Usage:
//
//	tokenledger setup
//	tokenledger open alice
//	tokenledger buy alice bitcoin 2
//	tokenledger portfolio alice --json
//	tokenledger serve
//
// Configuration is read from --config or ./tokenledger.yaml. Secrets may come from
// .env or TOKENLEDGER_STORE_DSN, TOKENLEDGER_ORACLE_API_KEY, TOKENLEDGER_REDIS_ADDR
// and TOKENLEDGER_REDIS_PASSWORD.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/vadiminshakov/tokenledger/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
