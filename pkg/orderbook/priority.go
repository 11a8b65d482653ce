package orderbook

import (
	"slices"
	"strings"
)

// comparePriority orders two resting orders of the same side by crossing priority:
// rated orders first, then best price, then earliest CreatedAt, then ID.
//
// Rates are tokens per AR, so the best Sell carries the highest rate (cheapest AR
// price per token) and the best Buy carries the lowest rate (highest AR price).
func comparePriority(side Side, a, b *Order) int {
	aRated, bRated := a.HasRate(), b.HasRate()
	switch {
	case aRated && !bRated:
		return -1
	case !aRated && bRated:
		return 1
	case aRated && bRated:
		c := a.Rate.Decimal.Cmp(b.Rate.Decimal)
		if side == SELL {
			c = -c
		}
		if c != 0 {
			return c
		}
	}

	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

// SortResting returns a copy of orders sorted by crossing priority for side.
func SortResting(side Side, orders []Order) []Order {
	sorted := slices.Clone(orders)
	slices.SortStableFunc(sorted, func(a, b Order) int {
		return comparePriority(side, &a, &b)
	})
	return sorted
}

// crosses reports whether taker accepts trading at maker's rate.
func crosses(taker, maker *Order) bool {
	if !maker.HasRate() {
		return false
	}
	if !taker.HasRate() {
		return true
	}
	if taker.Side == BUY {
		// buyer wants at least its rate in tokens per AR
		return maker.Rate.Decimal.GreaterThanOrEqual(taker.Rate.Decimal)
	}
	// seller gives at most its rate in tokens per AR
	return maker.Rate.Decimal.LessThanOrEqual(taker.Rate.Decimal)
}
