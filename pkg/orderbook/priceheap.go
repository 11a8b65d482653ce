package orderbook

import (
	"container/heap"

	"github.com/shopspring/decimal"
)

// RateHeap implements heap.Interface over distinct rate levels.
type RateHeap struct {
	rates []decimal.Decimal
	less  func(i, j decimal.Decimal) bool
	index map[string]bool
}

func NewRateHeap(less func(i, j decimal.Decimal) bool) *RateHeap {
	return &RateHeap{
		rates: []decimal.Decimal{},
		less:  less,
		index: make(map[string]bool),
	}
}

func (h RateHeap) Len() int {
	return len(h.rates)
}

func (h RateHeap) Less(i, j int) bool {
	return h.less(h.rates[i], h.rates[j])
}

func (h RateHeap) Swap(i, j int) {
	h.rates[i], h.rates[j] = h.rates[j], h.rates[i]
}

func (h *RateHeap) Push(x any) {
	rate := x.(decimal.Decimal)
	key := levelKey(rate)
	if !h.index[key] {
		h.index[key] = true
		h.rates = append(h.rates, rate)
	}
}

func (h *RateHeap) Pop() any {
	n := len(h.rates)
	rate := h.rates[n-1]
	h.rates = h.rates[:n-1]
	delete(h.index, levelKey(rate))
	return rate
}

// Delete drops rate from the heap if present.
func (h *RateHeap) Delete(rate decimal.Decimal) {
	key := levelKey(rate)
	if !h.index[key] {
		return
	}
	for i, r := range h.rates {
		if levelKey(r) == key {
			heap.Remove(h, i)
			return
		}
	}
}

// Sorted returns the rates from best to worst without modifying h.
func (h *RateHeap) Sorted() []decimal.Decimal {
	clone := &RateHeap{
		rates: append([]decimal.Decimal(nil), h.rates...),
		less:  h.less,
		index: make(map[string]bool, len(h.index)),
	}
	for k, v := range h.index {
		clone.index[k] = v
	}

	out := make([]decimal.Decimal, 0, clone.Len())
	for clone.Len() > 0 {
		out = append(out, heap.Pop(clone).(decimal.Decimal))
	}
	return out
}

// levelKey normalizes a rate so 2 and 2.00 share one level.
func levelKey(rate decimal.Decimal) string {
	return rate.String()
}
