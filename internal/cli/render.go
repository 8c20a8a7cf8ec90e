package cli

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/tokenledger/internal/domain"
	"github.com/vadiminshakov/tokenledger/internal/services/trader"
)

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var cellStyle = lipgloss.NewStyle().Padding(0, 1)

func (e *env) printJSON(v any) error {
	enc := json.NewEncoder(e.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (e *env) printTable(headers []string, rows [][]string) error {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...).
		Rows(rows...)

	_, err := fmt.Fprintln(e.out, t.String())
	return err
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func qty(n int64) string {
	return strconv.FormatInt(n, 10)
}

func (e *env) printWallet(w domain.Wallet) error {
	if e.json {
		return e.printJSON(w)
	}
	return e.printTable([]string{"Owner", "Cash"}, [][]string{{w.OwnerID, money(w.Cash)}})
}

func (e *env) printTrade(res trader.TradeResult) error {
	if e.json {
		return e.printJSON(res)
	}
	en := res.Entry
	return e.printTable(
		[]string{"ID", "Kind", "Coin", "Qty", "Price", "Total", "Cash", "Holding"},
		[][]string{{
			en.ID.String(), string(en.Kind), en.Coin, qty(en.Quantity),
			en.PricePerUnit.String(), money(en.TotalPrice), money(res.Cash), qty(res.HoldingQuantity),
		}},
	)
}

func (e *env) printBalances(sheet domain.BalanceSheet) error {
	if e.json {
		return e.printJSON(sheet)
	}
	rows := make([][]string, 0, len(sheet.Balances)+1)
	for _, h := range sheet.Balances {
		rows = append(rows, []string{h.Coin, qty(h.Quantity)})
	}
	rows = append(rows, []string{"total", qty(sheet.TotalQuantity)})
	return e.printTable([]string{"Coin", "Quantity"}, rows)
}

func (e *env) printPortfolio(snapshots []domain.PortfolioSnapshot) error {
	if e.json {
		return e.printJSON(snapshots)
	}
	rows := make([][]string, 0, len(snapshots))
	for _, s := range snapshots {
		rows = append(rows, []string{
			s.Coin,
			qty(s.TotalPurchasedQty), money(s.TotalInvested),
			qty(s.TotalSoldQty), money(s.TotalEarned),
			qty(s.HoldingQty), s.CurrentPrice.String(), money(s.HoldingValue),
			money(s.NetProfitLoss),
		})
	}
	return e.printTable([]string{"Coin", "Bought", "Invested", "Sold", "Earned", "Holding", "Price", "Value", "Net P/L"}, rows)
}

func (e *env) printPurchases(summaries []domain.PurchaseSummary) error {
	if e.json {
		return e.printJSON(summaries)
	}
	rows := make([][]string, 0, len(summaries))
	for _, s := range summaries {
		rows = append(rows, []string{s.Coin, qty(s.TotalQuantity), money(s.TotalValue)})
	}
	return e.printTable([]string{"Coin", "Quantity", "Value"}, rows)
}

func (e *env) printHistory(entries []domain.LedgerEntry) error {
	if e.json {
		return e.printJSON(entries)
	}
	rows := make([][]string, 0, len(entries))
	for _, en := range entries {
		rows = append(rows, []string{
			en.Timestamp.Format("2006-01-02 15:04:05"), string(en.Kind), en.Coin,
			qty(en.Quantity), en.PricePerUnit.String(), money(en.TotalPrice),
		})
	}
	return e.printTable([]string{"Time", "Kind", "Coin", "Qty", "Price", "Total"}, rows)
}

func (e *env) printPrices(prices map[string]decimal.Decimal) error {
	if e.json {
		return e.printJSON(prices)
	}
	coins := make([]string, 0, len(prices))
	for c := range prices {
		coins = append(coins, c)
	}
	sort.Strings(coins)

	rows := make([][]string, 0, len(coins))
	for _, c := range coins {
		rows = append(rows, []string{c, prices[c].String()})
	}
	return e.printTable([]string{"Coin", "Price"}, rows)
}
