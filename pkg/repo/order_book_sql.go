package repo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/joripage/dex-matcher/pkg/model"
	"github.com/joripage/dex-matcher/pkg/orderbook"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/plugin/dbresolver"
)

// OrderBookSQLRepo keeps every asset in its own table. Table names are derived
// from the asset id, never interpolated from it.
type OrderBookSQLRepo struct {
	db     *gorm.DB
	tables sync.Map // asset -> table name
}

func NewOrderBookSQLRepo(db *gorm.DB) *OrderBookSQLRepo {
	return &OrderBookSQLRepo{
		db: db,
	}
}

func (r *OrderBookSQLRepo) dbWithContext(ctx context.Context) *gorm.DB {
	// matching must never see a lagging replica
	return r.db.WithContext(ctx).Clauses(dbresolver.Write)
}

// BookTableName returns the order table of asset.
func BookTableName(asset string) string {
	sum := sha256.Sum256([]byte(asset))
	return "book_" + hex.EncodeToString(sum[:])[:24]
}

// priorityOrder is the ORDER BY clause listing side by crossing priority.
func priorityOrder(side orderbook.Side) string {
	if side == orderbook.SELL {
		return "rate DESC NULLS LAST, created_at ASC, tx_id ASC"
	}
	return "rate ASC NULLS LAST, created_at ASC, tx_id ASC"
}

func (r *OrderBookSQLRepo) ensureTable(ctx context.Context, asset string) (string, error) {
	if v, ok := r.tables.Load(asset); ok {
		return v.(string), nil
	}

	name := BookTableName(asset)
	db := r.dbWithContext(ctx)

	if !db.Migrator().HasTable(name) {
		zap.S().Infow("create order table", "asset", asset, "table", name)
		if err := db.Table(name).AutoMigrate(&model.BookOrder{}); err != nil {
			return "", fmt.Errorf("create table for asset %s: %w", asset, err)
		}
		idx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %q ON %q (type, flagged, rate, created_at)`, name+"_priority_idx", name)
		if err := db.Exec(idx).Error; err != nil {
			return "", fmt.Errorf("create index for asset %s: %w", asset, err)
		}
	}

	err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&model.Asset{
		ID:        asset,
		BookTable: name,
	}).Error
	if err != nil {
		return "", fmt.Errorf("register asset %s: %w", asset, err)
	}

	r.tables.Store(asset, name)
	return name, nil
}

func (r *OrderBookSQLRepo) Insert(ctx context.Context, asset string, order orderbook.Order) error {
	table, err := r.ensureTable(ctx, asset)
	if err != nil {
		return err
	}

	res := r.dbWithContext(ctx).Table(table).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(model.NewBookOrder(order))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return orderbook.ErrDuplicateOrder
	}
	return nil
}

func (r *OrderBookSQLRepo) BestOpposite(ctx context.Context, asset string, side orderbook.Side) ([]orderbook.Order, error) {
	table, err := r.ensureTable(ctx, asset)
	if err != nil {
		return nil, err
	}

	opposite := side.Opposite()
	var rows []model.BookOrder
	err = r.dbWithContext(ctx).Table(table).
		Where("type = ? AND flagged = ? AND amnt > 0", string(opposite), false).
		Order(priorityOrder(opposite)).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	orders := make([]orderbook.Order, 0, len(rows))
	for i := range rows {
		orders = append(orders, rows[i].ToOrder(asset))
	}
	return orders, nil
}

func (r *OrderBookSQLRepo) Reduce(ctx context.Context, asset, orderID string, newRemaining, addReceived decimal.Decimal) error {
	if !newRemaining.IsPositive() {
		return r.Remove(ctx, asset, orderID)
	}

	table, err := r.ensureTable(ctx, asset)
	if err != nil {
		return err
	}

	return r.dbWithContext(ctx).Table(table).
		Where("tx_id = ?", orderID).
		Updates(map[string]any{
			"amnt":     newRemaining,
			"received": gorm.Expr("received + ?", addReceived),
		}).Error
}

func (r *OrderBookSQLRepo) Remove(ctx context.Context, asset, orderID string) error {
	table, err := r.ensureTable(ctx, asset)
	if err != nil {
		return err
	}

	return r.dbWithContext(ctx).Table(table).
		Where("tx_id = ?", orderID).
		Delete(&model.BookOrder{}).Error
}

func (r *OrderBookSQLRepo) Flag(ctx context.Context, asset, orderID, reason string) error {
	table, err := r.ensureTable(ctx, asset)
	if err != nil {
		return err
	}

	return r.dbWithContext(ctx).Table(table).
		Where("tx_id = ?", orderID).
		Updates(map[string]any{
			"flagged":     true,
			"flag_reason": reason,
		}).Error
}

func (r *OrderBookSQLRepo) Get(ctx context.Context, asset, orderID string) (orderbook.Order, error) {
	table, err := r.ensureTable(ctx, asset)
	if err != nil {
		return orderbook.Order{}, err
	}

	var row model.BookOrder
	err = r.dbWithContext(ctx).Table(table).Where("tx_id = ?", orderID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return orderbook.Order{}, orderbook.ErrOrderNotFound
	}
	if err != nil {
		return orderbook.Order{}, err
	}
	return row.ToOrder(asset), nil
}
