package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/joripage/dex-matcher/pkg/orderbook"
	"github.com/shopspring/decimal"
)

const (
	asset   = "BENCH"
	minRate = 50 // tokens per AR
	maxRate = 150
	maxQty  = 100
)

func randomOrder(rng *rand.Rand, id int, at time.Time) orderbook.Order {
	side := orderbook.BUY
	if rng.Intn(2) == 0 {
		side = orderbook.SELL
	}
	rate := decimal.NewFromInt(int64(minRate + rng.Intn(maxRate-minRate+1)))
	qty := decimal.NewFromInt(int64(rng.Intn(maxQty) + 1))
	if side == orderbook.BUY {
		// AR amounts with a few decimals
		qty = qty.Div(decimal.NewFromInt(10))
	}

	return orderbook.Order{
		ID:        fmt.Sprintf("ORD-%07d", id),
		Account:   fmt.Sprintf("acct-%d", rng.Intn(1000)),
		Asset:     asset,
		Side:      side,
		Quantity:  qty,
		Rate:      decimal.NewNullDecimal(rate),
		Remaining: qty,
		Received:  decimal.Zero,
		CreatedAt: at,
	}
}

// apply mirrors what the orchestrator writes after a fill settles.
func apply(ctx context.Context, store *orderbook.MemoryStore, fill orderbook.Fill) {
	makerDelta, takerDelta := fill.ARAmount, fill.TokenAmount
	if fill.MakerID == fill.BuyOrderID {
		makerDelta, takerDelta = fill.TokenAmount, fill.ARAmount
	}
	_ = store.Reduce(ctx, fill.Asset, fill.MakerID, fill.MakerRemaining, makerDelta)
	_ = store.Reduce(ctx, fill.Asset, fill.TakerID, fill.TakerRemaining, takerDelta)
}

func main() {
	var numOrders int
	var seed int64
	flag.IntVar(&numOrders, "orders", 200_000, "number of random orders")
	flag.Int64Var(&seed, "seed", time.Now().UnixNano(), "random seed")
	flag.Parse()

	ctx := context.Background()
	rng := rand.New(rand.NewSource(seed))
	store := orderbook.NewMemoryStore()

	totalFills := 0
	totalTokens := decimal.Zero
	totalAR := decimal.Zero
	base := time.Now()

	start := time.Now()
	for i := 0; i < numOrders; i++ {
		order := randomOrder(rng, i+1, base.Add(time.Duration(i)*time.Microsecond))
		if err := store.Insert(ctx, asset, order); err != nil {
			log.Fatalf("insert %s: %v", order.ID, err)
		}
		resting, _ := store.BestOpposite(ctx, asset, order.Side)
		result := orderbook.Match(order, resting)
		for _, fill := range result.Fills {
			apply(ctx, store, fill)
			totalFills++
			totalTokens = totalTokens.Add(fill.TokenAmount)
			totalAR = totalAR.Add(fill.ARAmount)
			if totalFills <= 5 {
				log.Printf("fill %s: %s tokens for %s AR @ %s", fill.ID, fill.TokenAmount, fill.ARAmount, fill.Rate)
			}
		}
	}
	elapsed := time.Since(start)

	fmt.Println("--------")
	fmt.Printf("Seed            : %d\n", seed)
	fmt.Printf("Total Orders    : %d\n", numOrders)
	fmt.Printf("Total Fills     : %d\n", totalFills)
	fmt.Printf("Tokens Matched  : %s\n", totalTokens)
	fmt.Printf("AR Matched      : %s\n", totalAR)
	fmt.Printf("Resting Orders  : %d\n", store.Len(asset))
	fmt.Printf("Time Taken      : %s (%.0f orders/s)\n", elapsed, float64(numOrders)/elapsed.Seconds())
}
