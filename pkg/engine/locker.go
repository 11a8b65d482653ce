package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`
	renewScript   = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("pexpire", KEYS[1], ARGV[2]) else return 0 end`
)

type LockConfig struct {
	// RedisLease shares the per-asset section between processes using one database.
	RedisLease    bool          `yaml:"redis_lease"`
	KeyPrefix     string        `yaml:"key_prefix"`
	LeaseTTL      time.Duration `yaml:"lease_ttl"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

func (c *LockConfig) setDefaults() {
	if c.KeyPrefix == "" {
		c.KeyPrefix = "matcher:lock:"
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 30 * time.Second
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 50 * time.Millisecond
	}
}

// LeaseClient is the subset of the redis client used for leases.
type LeaseClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// AssetLocker serializes work per asset. Inside a process a one-slot semaphore per
// asset is enough; with a lease client the holder also owns a redis key, renewed
// while held.
type AssetLocker struct {
	locks sync.Map // asset -> chan struct{}
	lease LeaseClient
	cfg   LockConfig
}

// NewAssetLocker returns a process-local locker when lease is nil.
func NewAssetLocker(cfg LockConfig, lease LeaseClient) *AssetLocker {
	cfg.setDefaults()
	return &AssetLocker{lease: lease, cfg: cfg}
}

// Lock blocks until the caller owns asset or ctx is done. The returned func
// releases it.
func (l *AssetLocker) Lock(ctx context.Context, asset string) (func(), error) {
	sem := l.getOrCreate(asset)
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	release := func() { <-sem }

	if l.lease == nil {
		return release, nil
	}

	key := l.cfg.KeyPrefix + asset
	token := uuid.NewString()
	if err := l.acquire(ctx, key, token); err != nil {
		release()
		return nil, err
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.keepAlive(key, token, stop)
	}()

	return func() {
		close(stop)
		wg.Wait()
		// released on a fresh context, the caller's may already be done
		if err := l.lease.Eval(context.Background(), releaseScript, []string{key}, token).Err(); err != nil {
			zap.S().Warnf("release lease %s fail: %v", key, err)
		}
		release()
	}, nil
}

func (l *AssetLocker) acquire(ctx context.Context, key, token string) error {
	for {
		ok, err := l.lease.SetNX(ctx, key, token, l.cfg.LeaseTTL).Result()
		if err != nil {
			return fmt.Errorf("acquire lease %s: %w", key, err)
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.cfg.RetryInterval):
		}
	}
}

func (l *AssetLocker) keepAlive(key, token string, stop <-chan struct{}) {
	ticker := time.NewTicker(l.cfg.LeaseTTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			n, err := l.lease.Eval(context.Background(), renewScript, []string{key}, token, l.cfg.LeaseTTL.Milliseconds()).Int64()
			if err != nil {
				zap.S().Warnf("renew lease %s fail: %v", key, err)
				continue
			}
			if n == 0 {
				zap.S().Errorf("lease %s lost while held", key)
			}
		}
	}
}

func (l *AssetLocker) getOrCreate(asset string) chan struct{} {
	if v, ok := l.locks.Load(asset); ok {
		return v.(chan struct{})
	}
	actual, _ := l.locks.LoadOrStore(asset, make(chan struct{}, 1))
	return actual.(chan struct{})
}
