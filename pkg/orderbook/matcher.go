package orderbook

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// FillID is the deterministic identifier of the fill between a taker and a maker.
func FillID(takerID, makerID string) string {
	return fmt.Sprintf("%s:%s", takerID, makerID)
}

// Match runs price-time priority matching of taker against resting, a snapshot of
// the opposite side of the book. Neither argument is modified.
//
// Every fill executes at the maker's rate. Token amounts are whole units and AR
// amounts are truncated to ARPrecision, so no side is ever credited more than the
// other side holds.
func Match(taker Order, resting []Order) MatchResult {
	var result MatchResult

	book := SortResting(taker.Side.Opposite(), resting)
	remaining := taker.Remaining
	received := taker.Received

	for i := range book {
		if !remaining.IsPositive() {
			break
		}

		maker := book[i]
		if maker.Side != taker.Side.Opposite() || maker.Flagged || maker.Exhausted() {
			continue
		}
		if !maker.HasRate() {
			// nothing to price against, leave it resting
			continue
		}
		if !crosses(&taker, &maker) {
			break
		}

		rate := maker.Rate.Decimal
		tokens, ar := crossable(taker.Side, remaining, maker.Remaining, rate)
		if !tokens.IsPositive() || !ar.IsPositive() {
			if taker.Side == BUY {
				// later sells only give fewer tokens per AR
				break
			}
			// dust buy order, try the next one
			continue
		}

		fill := Fill{
			ID:        FillID(taker.ID, maker.ID),
			Asset:     taker.Asset,
			TakerID:   taker.ID,
			MakerID:   maker.ID,
			TakerSide: taker.Side,
			Rate:      rate,

			ARAmount:    ar,
			TokenAmount: tokens,
		}

		if taker.Side == BUY {
			remaining = remaining.Sub(ar)
			received = received.Add(tokens)
			fill.MakerRemaining = maker.Remaining.Sub(tokens)
			fill.MakerReceived = maker.Received.Add(ar)
			fill.Buyer, fill.BuyOrderID = taker.Account, taker.ID
			fill.Seller, fill.SellOrderID = maker.Account, maker.ID
		} else {
			remaining = remaining.Sub(tokens)
			received = received.Add(ar)
			fill.MakerRemaining = maker.Remaining.Sub(ar)
			fill.MakerReceived = maker.Received.Add(tokens)
			fill.Buyer, fill.BuyOrderID = maker.Account, maker.ID
			fill.Seller, fill.SellOrderID = taker.Account, taker.ID
		}

		fill.TakerRemaining = remaining
		fill.TakerReceived = received
		fill.MakerFullyFilled = fill.MakerRemaining.IsZero()
		fill.TakerFullyFilled = remaining.IsZero()

		result.Fills = append(result.Fills, fill)
	}

	if remaining.IsPositive() {
		residual := taker
		residual.Remaining = remaining
		residual.Received = received
		result.Residual = &residual
	}

	return result
}

// crossable returns the whole tokens and AR that can change hands between the taker
// holding takerRemaining and a maker holding makerRemaining at rate tokens per AR.
func crossable(takerSide Side, takerRemaining, makerRemaining, rate decimal.Decimal) (tokens, ar decimal.Decimal) {
	if takerSide == BUY {
		tokens = decimal.Min(takerRemaining.Mul(rate).Floor(), makerRemaining.Floor())
	} else {
		tokens = decimal.Min(takerRemaining.Floor(), makerRemaining.Mul(rate).Floor())
	}
	if !tokens.IsPositive() {
		return decimal.Zero, decimal.Zero
	}
	return tokens, ARForTokens(tokens, rate)
}

// ARForTokens is the AR paid for tokens at rate tokens per AR, truncated to winston.
func ARForTokens(tokens, rate decimal.Decimal) decimal.Decimal {
	q, _ := tokens.QuoRem(rate, ARPrecision)
	return q
}
