package repo

import (
	"context"

	"github.com/joripage/dex-matcher/pkg/model"
	"github.com/joripage/dex-matcher/pkg/orderbook"
	"github.com/shopspring/decimal"
)

// IOrderBook is the per-asset persistent collection of resting orders.
// Reduce, Remove and Flag are no-ops when the order no longer exists.
type IOrderBook interface {
	Insert(ctx context.Context, asset string, order orderbook.Order) error
	BestOpposite(ctx context.Context, asset string, side orderbook.Side) ([]orderbook.Order, error)
	Reduce(ctx context.Context, asset, orderID string, newRemaining, addReceived decimal.Decimal) error
	Remove(ctx context.Context, asset, orderID string) error
	Flag(ctx context.Context, asset, orderID, reason string) error
	Get(ctx context.Context, asset, orderID string) (orderbook.Order, error)
}

// ISettlement is the settlement journal.
type ISettlement interface {
	// Create stores record unless an entry with the same ID exists, in which case the
	// stored entry is returned with created=false.
	Create(ctx context.Context, record *model.Settlement) (stored *model.Settlement, created bool, err error)
	Update(ctx context.Context, record *model.Settlement) error
	Get(ctx context.Context, id string) (*model.Settlement, error)
	ListUnfinished(ctx context.Context) ([]*model.Settlement, error)
	// ListUnfinishedByAsset is ListUnfinished restricted to one asset.
	ListUnfinishedByAsset(ctx context.Context, asset string) ([]*model.Settlement, error)
}
