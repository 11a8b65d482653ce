package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joripage/dex-matcher/config"
	"github.com/joripage/dex-matcher/pkg/engine"
	kafka_wrapper "github.com/joripage/dex-matcher/pkg/infra/kafka"
	postgres_wrapper "github.com/joripage/dex-matcher/pkg/infra/postgres"
	redis_wrapper "github.com/joripage/dex-matcher/pkg/infra/redis"
	"github.com/joripage/dex-matcher/pkg/intent"
	"github.com/joripage/dex-matcher/pkg/ledger"
	"github.com/joripage/dex-matcher/pkg/logging"
	"github.com/joripage/dex-matcher/pkg/orderbook"
	"github.com/joripage/dex-matcher/pkg/repo"
	"github.com/joripage/dex-matcher/pkg/settlement"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	var configFile string
	flag.StringVar(&configFile, "config-file", "", "Specify config file path")
	flag.Parse()

	cfg, err := config.Load(configFile)
	if err != nil {
		panic(err)
	}

	logger := logging.NewLogger(logging.ParseLevel(cfg.LogLevel))
	defer logger.Sync() // nolint
	zap.ReplaceGlobals(logger.Zap())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// store
	var store repo.IRepo
	switch cfg.StoreBackend {
	case config.StorePostgres:
		db, err := postgres_wrapper.InitPostgresWithBackoff(ctx, cfg.MatcherDB)
		if err != nil {
			logger.Fatal(ctx, "init db fail", zap.Error(err))
		}
		store = repo.NewRepo(db)
	default:
		logger.Warn(ctx, "using the in-memory store, the book is lost on restart")
		store = repo.NewMemoryRepo(orderbook.NewMemoryStore())
	}

	// redis: ticker cache and per-asset lease
	var redisClient *redis.Client
	if cfg.Redis != nil {
		redisClient, err = redis_wrapper.InitRedis(ctx, cfg.Redis)
		if err != nil {
			logger.Fatal(ctx, "init redis fail", zap.Error(err))
		}
		defer redisClient.Close()
	}

	gateway := ledger.NewGatewayClient(cfg.Ledger.Gateway)
	signer := ledger.NewSignerClient(cfg.Ledger.Signer)
	if addr, balance, err := signer.Wallet(ctx); err != nil {
		logger.Warn(ctx, "signer wallet unavailable", zap.Error(err))
	} else {
		logger.Info(ctx, "exchange wallet", zap.String("address", addr), zap.String("balance_ar", balance.StringFixed(3)))
	}

	var (
		tickerCache intent.TickerCache
		lease       engine.LeaseClient
		tickerTTL   time.Duration
	)
	if redisClient != nil {
		tickerCache = redisClient
		tickerTTL = cfg.Redis.TickerTTL()
		if cfg.Lock.RedisLease {
			lease = redisClient
		}
	}

	producer := kafka_wrapper.NewProducer(kafka_wrapper.ProducerConfig{Brokers: cfg.Kafka.Brokers})
	defer producer.Close()

	executor := settlement.NewExecutor(cfg.Settlement, settlement.Deps{
		Wallet:    signer,
		Contracts: signer,
		Confirmer: signer,
		Journal:   store.Settlement(),
		Publisher: producer,
		Tickers:   intent.NewTickerResolver(gateway, tickerCache, tickerTTL),
		Logger:    logger,
	})
	orch := engine.NewOrchestrator(
		intent.NewResolver(gateway, nil),
		store,
		executor,
		engine.NewAssetLocker(cfg.Lock, lease),
		logger,
	)

	// metrics
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "metrics server stopped", zap.Error(err))
		}
	}()

	if n, err := orch.Recover(ctx); err != nil {
		logger.Error(ctx, "settlement recovery incomplete", zap.Int("recovered", n), zap.Error(err))
	}

	consumer := kafka_wrapper.NewConsumerGroup(kafka_wrapper.ConsumerConfig{
		Brokers:     cfg.Kafka.Brokers,
		GroupID:     cfg.Kafka.GroupID,
		Topic:       cfg.Kafka.TradesTopic,
		WorkerCount: cfg.Kafka.WorkerCount,
		MaxRetries:  cfg.Kafka.MaxRetries,
		DLQTopic:    cfg.Kafka.DLQTopic,
	})
	defer consumer.Close()

	logger.Info(ctx, "matcher started", zap.String("store", cfg.StoreBackend), zap.String("topic", cfg.Kafka.TradesTopic))
	err = consumer.Run(ctx, func(ctx context.Context, msg kafka_wrapper.Message) error {
		return handleTrade(ctx, orch, msg)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error(ctx, "consumer stopped", zap.Error(err))
		os.Exit(1)
	}
	logger.Info(context.Background(), "matcher stopped")
}

// handleTrade maps a pipeline result onto the consumer's retry policy: rejected
// intents and partial settlements are never retried.
func handleTrade(ctx context.Context, orch *engine.Orchestrator, msg kafka_wrapper.Message) error {
	txID := strings.TrimSpace(string(msg.Value))
	if txID == "" {
		return kafka_wrapper.ErrSkipRetry
	}

	out, err := orch.Process(ctx, txID)
	switch {
	case err == nil:
		return nil
	case out.State == engine.StateRejected:
		return nil
	case errors.Is(err, settlement.ErrPartialSettlement):
		return errors.Join(kafka_wrapper.ErrSkipRetry, err)
	}
	return err
}
