package orderbook

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	BUY  Side = "Buy"
	SELL Side = "Sell"
)

// Opposite returns the side an order of s matches against.
func (s Side) Opposite() Side {
	if s == BUY {
		return SELL
	}
	return BUY
}

func (s Side) Valid() bool {
	return s == BUY || s == SELL
}

// ARPrecision is the number of decimal places of the native currency (winston).
const ARPrecision int32 = 12

// Order is a trade intent, resting or incoming.
//
// Quantity, Remaining are AR for a Buy order and whole token units for a Sell order.
// Received is the counter asset delivered so far. Rate is tokens per AR and may be
// absent (market order).
type Order struct {
	ID        string
	Account   string
	Asset     string
	Side      Side
	Quantity  decimal.Decimal
	Rate      decimal.NullDecimal
	Remaining decimal.Decimal
	Received  decimal.Decimal
	CreatedAt time.Time

	// set when a settlement touching this order failed half way
	Flagged    bool
	FlagReason string
}

// HasRate reports whether the order carries a usable limit rate.
func (o *Order) HasRate() bool {
	return o.Rate.Valid && o.Rate.Decimal.IsPositive()
}

// Exhausted reports whether nothing is left to match.
func (o *Order) Exhausted() bool {
	return !o.Remaining.IsPositive()
}

