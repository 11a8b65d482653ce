package intent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joripage/dex-matcher/pkg/ledger"
	"github.com/joripage/dex-matcher/pkg/orderbook"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidIntent = errors.New("invalid trade intent")
	ErrInvalidOpcode = fmt.Errorf("%w: unknown opcode", ErrInvalidIntent)
)

const (
	TagType     = "Type"
	TagToken    = "Token"
	TagContract = "Contract"
	TagInput    = "Input"
	TagRate     = "Rate"
)

// Clock returns the arrival time stamped on resolved orders.
type Clock func() time.Time

// Resolver turns a trade transaction into an order.
type Resolver struct {
	querier ledger.Querier
	clock   Clock
}

func NewResolver(querier ledger.Querier, clock Clock) *Resolver {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Resolver{querier: querier, clock: clock}
}

// Resolve fetches txID and validates its tags. Validation failures wrap
// ErrInvalidIntent; query failures are returned as they are.
func (r *Resolver) Resolve(ctx context.Context, txID string) (orderbook.Order, error) {
	tx, err := r.querier.GetTransaction(ctx, txID)
	if err != nil {
		return orderbook.Order{}, err
	}
	return r.FromTransaction(tx)
}

// FromTransaction builds the order carried by an already fetched transaction.
func (r *Resolver) FromTransaction(tx *ledger.Transaction) (orderbook.Order, error) {
	opcode, _ := tx.Tag(TagType)
	side := orderbook.Side(opcode)
	if !side.Valid() {
		return orderbook.Order{}, fmt.Errorf("%w: %q in %s", ErrInvalidOpcode, opcode, tx.ID)
	}

	var (
		qty   decimal.Decimal
		asset string
		err   error
	)
	switch side {
	case orderbook.BUY:
		qty = tx.Quantity.Truncate(orderbook.ARPrecision)
		asset, _ = tx.Tag(TagToken)
	case orderbook.SELL:
		qty, err = sellQuantity(tx)
		if err != nil {
			return orderbook.Order{}, err
		}
		asset, _ = tx.Tag(TagContract)
	}

	if !qty.IsPositive() {
		return orderbook.Order{}, fmt.Errorf("%w: non-positive quantity %s in %s", ErrInvalidIntent, qty, tx.ID)
	}
	if strings.TrimSpace(asset) == "" {
		return orderbook.Order{}, fmt.Errorf("%w: missing asset tag in %s", ErrInvalidIntent, tx.ID)
	}

	rate, err := parseRate(tx)
	if err != nil {
		return orderbook.Order{}, err
	}

	return orderbook.Order{
		ID:        tx.ID,
		Account:   tx.Owner,
		Asset:     asset,
		Side:      side,
		Quantity:  qty,
		Rate:      rate,
		Remaining: qty,
		Received:  decimal.Zero,
		CreatedAt: r.clock(),
	}, nil
}

func sellQuantity(tx *ledger.Transaction) (decimal.Decimal, error) {
	raw, ok := tx.Tag(TagInput)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: missing %s tag in %s", ErrInvalidIntent, TagInput, tx.ID)
	}

	var input struct {
		Qty json.Number `json:"qty"`
	}
	if err := json.Unmarshal([]byte(raw), &input); err != nil {
		return decimal.Zero, fmt.Errorf("%w: malformed input in %s: %v", ErrInvalidIntent, tx.ID, err)
	}
	if input.Qty == "" {
		return decimal.Zero, fmt.Errorf("%w: missing qty in %s", ErrInvalidIntent, tx.ID)
	}

	qty, err := decimal.NewFromString(input.Qty.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: qty %q in %s", ErrInvalidIntent, input.Qty, tx.ID)
	}
	// tokens are indivisible
	return qty.Floor(), nil
}

func parseRate(tx *ledger.Transaction) (decimal.NullDecimal, error) {
	raw, ok := tx.Tag(TagRate)
	if !ok || strings.TrimSpace(raw) == "" {
		return decimal.NullDecimal{}, nil
	}

	rate, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("%w: rate %q in %s", ErrInvalidIntent, raw, tx.ID)
	}
	if !rate.IsPositive() {
		return decimal.NullDecimal{}, fmt.Errorf("%w: non-positive rate %s in %s", ErrInvalidIntent, rate, tx.ID)
	}
	return decimal.NewNullDecimal(rate), nil
}
