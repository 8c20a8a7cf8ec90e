package domain

import "github.com/pkg/errors"

// Trade and query rejections. Call sites wrap them with context; match with errors.Is.
var (
	// ErrInvalidRequest non-positive quantity, blank owner/coin or negative price.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrUnknownUser owner has no wallet.
	ErrUnknownUser = errors.New("unknown user")
	// ErrAccountExists owner already has a wallet.
	ErrAccountExists = errors.New("account already exists")
	// ErrNoSuchHolding owner never bought the coin.
	ErrNoSuchHolding = errors.New("no such holding")
	// ErrInsufficientFunds wallet cash does not cover the trade total.
	ErrInsufficientFunds = errors.New("insufficient wallet balance")
	// ErrInsufficientHoldings holding quantity does not cover the sell.
	ErrInsufficientHoldings = errors.New("insufficient holdings")
	// ErrPriceUnavailable oracle failed, timed out or returned nothing usable.
	ErrPriceUnavailable = errors.New("price unavailable")
	// ErrUnknownCoin oracle does not recognize the coin. Matches ErrPriceUnavailable.
	ErrUnknownCoin = errors.WithMessage(ErrPriceUnavailable, "unknown coin")
)
