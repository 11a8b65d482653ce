package orderbook

import (
	"github.com/shopspring/decimal"
)

// Fill is one match between the taker and a single resting order.
// Remaining and Received values are the absolute values after the fill.
type Fill struct {
	ID          string
	Asset       string
	TakerID     string
	MakerID     string
	TakerSide   Side
	Buyer       string
	Seller      string
	BuyOrderID  string
	SellOrderID string
	Rate        decimal.Decimal

	ARAmount    decimal.Decimal
	TokenAmount decimal.Decimal

	MakerRemaining decimal.Decimal
	MakerReceived  decimal.Decimal
	TakerRemaining decimal.Decimal
	TakerReceived  decimal.Decimal

	MakerFullyFilled bool
	TakerFullyFilled bool
}

// MatchResult is the output of matching one taker against a book snapshot.
type MatchResult struct {
	Fills []Fill
	// Residual is the unfilled part of the taker, nil when fully filled.
	Residual *Order
}

// ReceivedBy returns the cumulative counter amount received by the order with id.
func (f Fill) ReceivedBy(id string) decimal.Decimal {
	if id == f.TakerID {
		return f.TakerReceived
	}
	return f.MakerReceived
}

// FullyFilled reports whether the order with id was consumed by this fill.
func (f Fill) FullyFilled(id string) bool {
	if id == f.TakerID {
		return f.TakerFullyFilled
	}
	return f.MakerFullyFilled
}
