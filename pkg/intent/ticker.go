package intent

import (
	"context"
	"errors"
	"time"

	"github.com/joripage/dex-matcher/pkg/ledger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const tickerKeyPrefix = "ticker:"

// TickerCache is the subset of the redis client the resolver needs.
type TickerCache interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// TickerResolver maps a token contract id to the ticker from its init state.
type TickerResolver struct {
	querier ledger.Querier
	cache   TickerCache
	ttl     time.Duration
}

func NewTickerResolver(querier ledger.Querier, cache TickerCache, ttl time.Duration) *TickerResolver {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TickerResolver{querier: querier, cache: cache, ttl: ttl}
}

// Ticker never fails: when the contract state cannot be read it returns asset.
func (t *TickerResolver) Ticker(ctx context.Context, asset string) string {
	key := tickerKeyPrefix + asset

	if t.cache != nil {
		v, err := t.cache.Get(ctx, key).Result()
		if err == nil && v != "" {
			return v
		}
		if err != nil && !errors.Is(err, redis.Nil) {
			zap.S().Debugf("ticker cache get %s fail: %v", key, err)
		}
	}

	data, err := t.querier.GetData(ctx, asset)
	if err != nil {
		zap.S().Debugf("read contract %s fail: %v", asset, err)
		return asset
	}
	state, err := ledger.ParseContractState(data)
	if err != nil || state.Ticker == "" {
		return asset
	}

	if t.cache != nil {
		if err := t.cache.Set(ctx, key, state.Ticker, t.ttl).Err(); err != nil {
			zap.S().Debugf("ticker cache set %s fail: %v", key, err)
		}
	}
	return state.Ticker
}
