package repo

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/joripage/dex-matcher/pkg/model"
)

type InMemorySettlementRepo struct {
	mu      sync.RWMutex
	records map[string]*model.Settlement
	order   []string // insertion order, mirrors created_at ordering
}

func NewInMemorySettlementRepo() *InMemorySettlementRepo {
	return &InMemorySettlementRepo{
		records: make(map[string]*model.Settlement),
	}
}

func (s *InMemorySettlementRepo) Create(_ context.Context, record *model.Settlement) (*model.Settlement, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if stored, ok := s.records[record.ID]; ok {
		cp := *stored
		return &cp, false, nil
	}

	now := time.Now()
	record.CreatedAt, record.UpdatedAt = now, now
	cp := *record
	s.records[record.ID] = &cp
	s.order = append(s.order, record.ID)
	return record, true, nil
}

func (s *InMemorySettlementRepo) Update(_ context.Context, record *model.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[record.ID]; !ok {
		s.order = append(s.order, record.ID)
	}
	record.UpdatedAt = time.Now()
	cp := *record
	s.records[record.ID] = &cp
	return nil
}

func (s *InMemorySettlementRepo) Get(_ context.Context, id string) (*model.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.records[id]
	if !ok {
		return nil, ErrSettlementNotFound
	}
	cp := *stored
	return &cp, nil
}

func (s *InMemorySettlementRepo) ListUnfinished(_ context.Context) ([]*model.Settlement, error) {
	return s.unfinished(func(*model.Settlement) bool { return true }), nil
}

func (s *InMemorySettlementRepo) ListUnfinishedByAsset(_ context.Context, asset string) ([]*model.Settlement, error) {
	return s.unfinished(func(rec *model.Settlement) bool { return rec.Asset == asset }), nil
}

func (s *InMemorySettlementRepo) unfinished(match func(*model.Settlement) bool) []*model.Settlement {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Settlement
	for _, id := range s.order {
		stored := s.records[id]
		if match(stored) && slices.Contains(model.UnfinishedStatuses, stored.Status) {
			cp := *stored
			out = append(out, &cp)
		}
	}
	return out
}
