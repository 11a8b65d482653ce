package orderbook

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
)

// MemoryStore keeps one in-memory book per asset. It satisfies repo.IOrderBook and
// is used for development runs and tests; state does not survive a restart.
type MemoryStore struct {
	books sync.Map
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		books: sync.Map{},
	}
}

func (s *MemoryStore) Insert(_ context.Context, asset string, order Order) error {
	book := s.getOrCreateBook(asset)
	return book.addOrder(order)
}

func (s *MemoryStore) BestOpposite(_ context.Context, asset string, side Side) ([]Order, error) {
	book, ok := s.getBook(asset)
	if !ok {
		return nil, nil
	}
	return book.opposite(side), nil
}

func (s *MemoryStore) Reduce(_ context.Context, asset, orderID string, newRemaining, addReceived decimal.Decimal) error {
	if book, ok := s.getBook(asset); ok {
		book.reduceOrder(orderID, newRemaining, addReceived)
	}
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, asset, orderID string) error {
	if book, ok := s.getBook(asset); ok {
		book.cancelOrder(orderID)
	}
	return nil
}

func (s *MemoryStore) Flag(_ context.Context, asset, orderID, reason string) error {
	if book, ok := s.getBook(asset); ok {
		book.flagOrder(orderID, reason)
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, asset, orderID string) (Order, error) {
	book, ok := s.getBook(asset)
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return book.getOrder(orderID)
}

// Len returns the number of orders resting for asset, flagged ones included.
func (s *MemoryStore) Len(asset string) int {
	book, ok := s.getBook(asset)
	if !ok {
		return 0
	}
	return book.len()
}

func (s *MemoryStore) getBook(asset string) (*orderBook, bool) {
	val, ok := s.books.Load(asset)
	if !ok {
		return nil, false
	}
	return val.(*orderBook), true
}

func (s *MemoryStore) getOrCreateBook(asset string) *orderBook {
	if val, ok := s.books.Load(asset); ok {
		return val.(*orderBook)
	}

	book := newOrderBook(asset)
	actual, _ := s.books.LoadOrStore(asset, book)
	return actual.(*orderBook)
}
