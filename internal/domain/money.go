package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// moneyPlaces decimal places used for every settled amount.
const moneyPlaces = 2

var cent = decimal.New(1, -moneyPlaces)

// Round2 rounds to cents, half to even.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(moneyPlaces)
}

// TradeTotal settled amount of quantity units at pricePerUnit.
// The same value moves the cash and is written to the ledger.
// Buy costs round up and sell proceeds round down, so settled cash never
// exceeds what exact prices would leave.
func TradeTotal(kind EntryKind, pricePerUnit decimal.Decimal, quantity int64) decimal.Decimal {
	exact := pricePerUnit.Mul(decimal.NewFromInt(quantity))
	if kind == EntryKindSell {
		return exact.RoundFloor(moneyPlaces)
	}
	return exact.RoundCeil(moneyPlaces)
}

// SnapToCent rounds d to cents and collapses anything below one cent to exactly zero.
func SnapToCent(d decimal.Decimal) decimal.Decimal {
	rounded := Round2(d)
	if rounded.Abs().LessThan(cent) {
		return decimal.Zero
	}
	return rounded
}

// NormalizeCoin canonical form of a coin symbol: trimmed, lower case.
func NormalizeCoin(coin string) string {
	return strings.ToLower(strings.TrimSpace(coin))
}

// CoinLess orders coin symbols case-insensitively, falling back to a byte comparison on ties.
func CoinLess(a, b string) bool {
	la, lb := strings.ToLower(a), strings.ToLower(b)
	if la != lb {
		return la < lb
	}
	return a < b
}
