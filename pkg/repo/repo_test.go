package repo

import (
	"context"
	"testing"
	"time"

	"github.com/joripage/dex-matcher/pkg/model"
	"github.com/joripage/dex-matcher/pkg/orderbook"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBookTableName(t *testing.T) {
	a := BookTableName("usjm4PCxUd5mtaon7zc97-dt-3qf67yPyqgzLnLqk5A")
	b := BookTableName("usjm4PCxUd5mtaon7zc97-dt-3qf67yPyqgzLnLqk5a")

	assert.Equal(t, a, BookTableName("usjm4PCxUd5mtaon7zc97-dt-3qf67yPyqgzLnLqk5A"))
	assert.NotEqual(t, a, b, "asset ids differing only in case must not share a table")
	assert.Regexp(t, `^book_[0-9a-f]{24}$`, a)
	assert.LessOrEqual(t, len(a), 63)
}

func TestPriorityOrder(t *testing.T) {
	assert.Equal(t, "rate DESC NULLS LAST, created_at ASC, tx_id ASC", priorityOrder(orderbook.SELL))
	assert.Equal(t, "rate ASC NULLS LAST, created_at ASC, tx_id ASC", priorityOrder(orderbook.BUY))
}

func TestBookOrderMapping(t *testing.T) {
	order := orderbook.Order{
		ID:        "tx1",
		Account:   "owner",
		Asset:     "PST",
		Side:      orderbook.SELL,
		Quantity:  decimal.NewFromInt(10),
		Rate:      decimal.NewNullDecimal(decimal.NewFromInt(2)),
		Remaining: decimal.NewFromInt(4),
		Received:  decimal.NewFromInt(3),
		CreatedAt: time.Unix(1614600000, 0).UTC(),
	}

	row := model.NewBookOrder(order)
	assert.Equal(t, "tx1", row.TxID)
	assert.Equal(t, "Sell", row.Type)
	assert.True(t, row.Amnt.Equal(order.Remaining), "amnt holds the remaining quantity")
	assert.Equal(t, order, row.ToOrder("PST"))
}

func TestInMemorySettlementRepo(t *testing.T) {
	ctx := context.Background()
	r := NewInMemorySettlementRepo()

	rec := model.NewSettlement(orderbook.Fill{ID: "T:M", Asset: "PST", TakerID: "T", MakerID: "M"})
	_, created, err := r.Create(ctx, rec)
	require.NoError(t, err)
	require.True(t, created)

	dup := model.NewSettlement(orderbook.Fill{ID: "T:M"})
	stored, created, err := r.Create(ctx, dup)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "PST", stored.Asset)

	rec.Status = model.SettlementARSent
	rec.ARTxID = "ar-tx"
	require.NoError(t, r.Update(ctx, rec))

	unfinished, err := r.ListUnfinished(ctx)
	require.NoError(t, err)
	require.Len(t, unfinished, 1)
	assert.Equal(t, "ar-tx", unfinished[0].ARTxID)

	other := model.NewSettlement(orderbook.Fill{ID: "X:Y", Asset: "VRT", TakerID: "X", MakerID: "Y"})
	_, _, err = r.Create(ctx, other)
	require.NoError(t, err)
	byAsset, err := r.ListUnfinishedByAsset(ctx, "PST")
	require.NoError(t, err)
	require.Len(t, byAsset, 1)
	assert.Equal(t, "T:M", byAsset[0].ID)
	unfinished, err = r.ListUnfinished(ctx)
	require.NoError(t, err)
	assert.Len(t, unfinished, 2)
	other.Status = model.SettlementDone
	require.NoError(t, r.Update(ctx, other))

	rec.Status = model.SettlementDone
	require.NoError(t, r.Update(ctx, rec))
	unfinished, err = r.ListUnfinished(ctx)
	require.NoError(t, err)
	assert.Empty(t, unfinished)

	_, err = r.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrSettlementNotFound)
}
