package model

import (
	"time"

	"github.com/joripage/dex-matcher/pkg/orderbook"
	"github.com/shopspring/decimal"
)

// BookOrder is a row of an asset's order table. Amnt holds the remaining quantity.
type BookOrder struct {
	TxID       string              `gorm:"column:tx_id;primaryKey"`
	Amnt       decimal.Decimal     `gorm:"column:amnt;type:numeric;not null"`
	Quantity   decimal.Decimal     `gorm:"column:quantity;type:numeric;not null"`
	Rate       decimal.NullDecimal `gorm:"column:rate;type:numeric"`
	Addr       string              `gorm:"column:addr;not null"`
	Type       string              `gorm:"column:type;not null"`
	Received   decimal.Decimal     `gorm:"column:received;type:numeric;not null"`
	CreatedAt  time.Time           `gorm:"column:created_at;not null"`
	Flagged    bool                `gorm:"column:flagged;not null;default:false"`
	FlagReason string              `gorm:"column:flag_reason"`
}

func NewBookOrder(order orderbook.Order) *BookOrder {
	return &BookOrder{
		TxID:       order.ID,
		Amnt:       order.Remaining,
		Quantity:   order.Quantity,
		Rate:       order.Rate,
		Addr:       order.Account,
		Type:       string(order.Side),
		Received:   order.Received,
		CreatedAt:  order.CreatedAt,
		Flagged:    order.Flagged,
		FlagReason: order.FlagReason,
	}
}

func (r *BookOrder) ToOrder(asset string) orderbook.Order {
	return orderbook.Order{
		ID:         r.TxID,
		Account:    r.Addr,
		Asset:      asset,
		Side:       orderbook.Side(r.Type),
		Quantity:   r.Quantity,
		Rate:       r.Rate,
		Remaining:  r.Amnt,
		Received:   r.Received,
		CreatedAt:  r.CreatedAt,
		Flagged:    r.Flagged,
		FlagReason: r.FlagReason,
	}
}

// Asset registers the order table owned by one traded token.
type Asset struct {
	ID        string    `gorm:"column:id;primaryKey"`
	BookTable string    `gorm:"column:book_table;not null;uniqueIndex"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (Asset) TableName() string {
	return "assets"
}
