// file: pkg/orderbook/orderbook.go

package orderbook

import (
	"container/heap"
	"sync"

	"github.com/gammazero/deque"
	"github.com/shopspring/decimal"
)

// bookSide holds one side of an asset's book: a FIFO per rate level plus a heap
// keeping the levels in crossing priority. Unrated orders queue after all levels.
type bookSide struct {
	levels  map[string]*deque.Deque[*Order]
	rates   *RateHeap
	unrated *deque.Deque[*Order]
}

func newBookSide(side Side) *bookSide {
	less := func(i, j decimal.Decimal) bool { return i.LessThan(j) } // Buy: lowest rate first
	if side == SELL {
		less = func(i, j decimal.Decimal) bool { return i.GreaterThan(j) } // Sell: highest rate first
	}

	return &bookSide{
		levels:  make(map[string]*deque.Deque[*Order]),
		rates:   NewRateHeap(less),
		unrated: &deque.Deque[*Order]{},
	}
}

func (bs *bookSide) queueFor(order *Order, create bool) *deque.Deque[*Order] {
	if !order.HasRate() {
		return bs.unrated
	}

	key := levelKey(order.Rate.Decimal)
	q := bs.levels[key]
	if q == nil && create {
		q = &deque.Deque[*Order]{}
		bs.levels[key] = q
		heap.Push(bs.rates, order.Rate.Decimal)
	}
	return q
}

// orderBook is the in-memory book of a single asset.
type orderBook struct {
	asset string

	sides      map[Side]*bookSide
	ordersByID map[string]*Order

	mu sync.Mutex
}

func newOrderBook(asset string) *orderBook {
	return &orderBook{
		asset: asset,
		sides: map[Side]*bookSide{
			BUY:  newBookSide(BUY),
			SELL: newBookSide(SELL),
		},
		ordersByID: make(map[string]*Order),
	}
}

func (ob *orderBook) addOrder(order Order) error {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	if order.ID == "" {
		return errInvalidOrderID
	}
	if !order.Side.Valid() || !order.Remaining.IsPositive() {
		return errInvalidQuantity
	}
	if _, ok := ob.ordersByID[order.ID]; ok {
		return ErrDuplicateOrder
	}

	o := order
	q := ob.sides[o.Side].queueFor(&o, true)

	// keep each level in CreatedAt order even if inserts arrive out of order
	at := q.Len()
	for at > 0 && q.At(at-1).CreatedAt.After(o.CreatedAt) {
		at--
	}
	q.Insert(at, &o)

	ob.ordersByID[o.ID] = &o
	return nil
}

// opposite returns copies of the unflagged orders resting against side, best first.
func (ob *orderBook) opposite(side Side) []Order {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	bs := ob.sides[side.Opposite()]
	var out []Order
	collect := func(q *deque.Deque[*Order]) {
		for i := 0; i < q.Len(); i++ {
			if o := q.At(i); !o.Flagged {
				out = append(out, *o)
			}
		}
	}

	for _, rate := range bs.rates.Sorted() {
		collect(bs.levels[levelKey(rate)])
	}
	collect(bs.unrated)

	return out
}

func (ob *orderBook) getOrder(orderID string) (Order, error) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	o, ok := ob.ordersByID[orderID]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return *o, nil
}

func (ob *orderBook) reduceOrder(orderID string, newRemaining, addReceived decimal.Decimal) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	o, ok := ob.ordersByID[orderID]
	if !ok {
		return
	}
	if !newRemaining.IsPositive() {
		ob.removeLocked(o)
		return
	}
	if newRemaining.GreaterThan(o.Quantity) {
		newRemaining = o.Quantity
	}
	o.Remaining = newRemaining
	o.Received = o.Received.Add(addReceived)
}

func (ob *orderBook) cancelOrder(orderID string) bool {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	o, ok := ob.ordersByID[orderID]
	if !ok {
		return false
	}
	ob.removeLocked(o)
	return true
}

func (ob *orderBook) flagOrder(orderID, reason string) bool {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	o, ok := ob.ordersByID[orderID]
	if !ok {
		return false
	}
	o.Flagged = true
	o.FlagReason = reason
	return true
}

func (ob *orderBook) removeLocked(o *Order) {
	bs := ob.sides[o.Side]
	q := bs.queueFor(o, false)
	if q != nil {
		if i := q.Index(func(item *Order) bool { return item.ID == o.ID }); i >= 0 {
			q.Remove(i)
		}
		if q.Len() == 0 && o.HasRate() {
			delete(bs.levels, levelKey(o.Rate.Decimal))
			bs.rates.Delete(o.Rate.Decimal)
		}
	}
	delete(ob.ordersByID, o.ID)
}

func (ob *orderBook) len() int {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	return len(ob.ordersByID)
}
