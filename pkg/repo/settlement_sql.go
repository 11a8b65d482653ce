package repo

import (
	"context"
	"errors"

	"github.com/joripage/dex-matcher/pkg/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/plugin/dbresolver"
)

var ErrSettlementNotFound = errors.New("settlement not found")

type SettlementSQLRepo struct {
	db *gorm.DB
}

func NewSettlementSQLRepo(db *gorm.DB) *SettlementSQLRepo {
	return &SettlementSQLRepo{
		db: db,
	}
}

func (s *SettlementSQLRepo) dbWithContext(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Clauses(dbresolver.Write)
}

func (r *SettlementSQLRepo) Create(ctx context.Context, record *model.Settlement) (*model.Settlement, bool, error) {
	res := r.dbWithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(record)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 1 {
		return record, true, nil
	}

	stored, err := r.Get(ctx, record.ID)
	if err != nil {
		return nil, false, err
	}
	return stored, false, nil
}

func (r *SettlementSQLRepo) Update(ctx context.Context, record *model.Settlement) error {
	return r.dbWithContext(ctx).Save(record).Error
}

func (r *SettlementSQLRepo) Get(ctx context.Context, id string) (*model.Settlement, error) {
	var record model.Settlement
	err := r.dbWithContext(ctx).Where("id = ?", id).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSettlementNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *SettlementSQLRepo) ListUnfinished(ctx context.Context) ([]*model.Settlement, error) {
	var records []*model.Settlement
	err := r.dbWithContext(ctx).
		Where("status IN ?", model.UnfinishedStatuses).
		Order("created_at ASC").
		Find(&records).Error
	return records, err
}

func (r *SettlementSQLRepo) ListUnfinishedByAsset(ctx context.Context, asset string) ([]*model.Settlement, error) {
	var records []*model.Settlement
	err := r.dbWithContext(ctx).
		Where("asset = ? AND status IN ?", asset, model.UnfinishedStatuses).
		Order("created_at ASC").
		Find(&records).Error
	return records, err
}
