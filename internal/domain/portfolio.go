package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PortfolioSnapshot derived profit/loss view of one coin for one owner.
type PortfolioSnapshot struct {
	ComputedAt        time.Time       `json:"computed_at"`
	TotalInvested     decimal.Decimal `json:"total_invested"`
	TotalEarned       decimal.Decimal `json:"total_earned"`
	CurrentPrice      decimal.Decimal `json:"current_price"`
	HoldingValue      decimal.Decimal `json:"holding_value"`
	NetProfitLoss     decimal.Decimal `json:"net_profit_loss"`
	OwnerID           string          `json:"owner_id"`
	Coin              string          `json:"coin"`
	TotalPurchasedQty int64           `json:"total_purchased_quantity"`
	TotalSoldQty      int64           `json:"total_sold_quantity"`
	HoldingQty        int64           `json:"holding_quantity"`
}

// PurchaseSummary total bought per coin.
type PurchaseSummary struct {
	TotalValue    decimal.Decimal `json:"total_value"`
	Coin          string          `json:"coin"`
	TotalQuantity int64           `json:"total_quantity"`
}

// BalanceSheet holdings of one owner ordered by coin.
type BalanceSheet struct {
	Balances      []Holding `json:"balances"`
	TotalQuantity int64     `json:"total_quantity"`
}
