package repo

import (
	"gorm.io/gorm"
)

type IRepo interface {
	OrderBook() IOrderBook
	Settlement() ISettlement
}

type Repo struct {
	matcherDB *gorm.DB
	orderBook *OrderBookSQLRepo
}

func NewRepo(matcherDB *gorm.DB) IRepo {
	return &Repo{
		matcherDB: matcherDB,
		// the book repo caches known asset tables, keep a single instance
		orderBook: NewOrderBookSQLRepo(matcherDB),
	}
}

func (r *Repo) OrderBook() IOrderBook {
	return r.orderBook
}

func (r *Repo) Settlement() ISettlement {
	return NewSettlementSQLRepo(r.matcherDB)
}

// MemoryRepo backs both stores with process memory.
type MemoryRepo struct {
	orderBook  IOrderBook
	settlement ISettlement
}

func NewMemoryRepo(orderBook IOrderBook) IRepo {
	return &MemoryRepo{
		orderBook:  orderBook,
		settlement: NewInMemorySettlementRepo(),
	}
}

func (r *MemoryRepo) OrderBook() IOrderBook {
	return r.orderBook
}

func (r *MemoryRepo) Settlement() ISettlement {
	return r.settlement
}
