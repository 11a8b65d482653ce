package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/joripage/dex-matcher/pkg/intent"
	"github.com/joripage/dex-matcher/pkg/logging"
	"github.com/joripage/dex-matcher/pkg/model"
	"github.com/joripage/dex-matcher/pkg/orderbook"
	"github.com/joripage/dex-matcher/pkg/repo"
	"github.com/joripage/dex-matcher/pkg/settlement"
	"github.com/joripage/dex-matcher/pkg/telemetry"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// State is the phase of one Process run. BookUpdated is entered once every fill is
// reflected in the book; receipts are posted from there.
type State string

const (
	StateResolving   State = "resolving"
	StateMatching    State = "matching"
	StateSettling    State = "settling"
	StateBookUpdated State = "book_updated"
	StateDone        State = "done"
	StateRejected    State = "rejected"
	StateFailed      State = "failed"
)

// Outcome describes one Process run. State is the state the run ended in.
type Outcome struct {
	TxID      string
	State     State
	Order     orderbook.Order
	Fills     []orderbook.Fill
	Receipts  []settlement.Receipt
	Residual  *orderbook.Order
	Duplicate bool // the transaction was already in the book
}

// ErrSettlementInFlight is returned for a redelivered order that still has a
// settlement waiting for recovery.
var ErrSettlementInFlight = errors.New("order has an unfinished settlement")

type Resolver interface {
	Resolve(ctx context.Context, txID string) (orderbook.Order, error)
}

type Settler interface {
	Settle(ctx context.Context, fill orderbook.Fill) (settlement.Receipt, error)
	Resume(ctx context.Context, rec *model.Settlement) (settlement.Receipt, error)
	MarkBookApplied(ctx context.Context, fillID string) error
	Confirm(ctx context.Context, fill orderbook.Fill) (settlement.Receipt, error)
}

type Locker interface {
	Lock(ctx context.Context, asset string) (func(), error)
}

// Orchestrator runs the resolve, match, settle and book update pipeline for one
// trade transaction at a time per asset.
type Orchestrator struct {
	resolver Resolver
	book     repo.IOrderBook
	journal  repo.ISettlement
	settler  Settler
	locker   Locker
	log      *logging.Logger
}

func NewOrchestrator(resolver Resolver, r repo.IRepo, settler Settler, locker Locker, log *logging.Logger) *Orchestrator {
	if log == nil {
		log = logging.NewNop()
	}
	return &Orchestrator{
		resolver: resolver,
		book:     r.OrderBook(),
		journal:  r.Settlement(),
		settler:  settler,
		locker:   locker,
		log:      log,
	}
}

// Process handles trade transaction txID. Invalid intents end in StateRejected with
// an error wrapping intent.ErrInvalidIntent; callers should not retry those.
// A transaction already in the book is matched again from its stored remaining,
// so a redelivery after a failed run picks up where it stopped and is a no-op
// otherwise.
func (o *Orchestrator) Process(ctx context.Context, txID string) (out Outcome, err error) {
	start := time.Now()
	ctx = logging.WithTxID(ctx, txID)
	out = Outcome{TxID: txID, State: StateResolving}

	telemetry.IntentsReceivedCounter.Inc()
	defer func() {
		telemetry.ProcessDurationHistogram.WithLabelValues(string(out.State)).Observe(time.Since(start).Seconds())
	}()

	order, err := o.resolver.Resolve(ctx, txID)
	if err != nil {
		if errors.Is(err, intent.ErrInvalidIntent) {
			reason := "invalid_intent"
			if errors.Is(err, intent.ErrInvalidOpcode) {
				reason = "invalid_opcode"
			}
			telemetry.RejectedIntentsCounter.WithLabelValues(reason).Inc()
			o.log.Warn(ctx, "trade rejected", zap.String("reason", reason), zap.Error(err))
			out.State = StateRejected
			return out, err
		}
		out.State = StateFailed
		return out, fmt.Errorf("resolve %s: %w", txID, err)
	}
	out.Order = order
	ctx = logging.WithAsset(ctx, order.Asset)

	unlock, err := o.locker.Lock(ctx, order.Asset)
	if err != nil {
		out.State = StateFailed
		return out, fmt.Errorf("lock %s: %w", order.Asset, err)
	}
	defer unlock()

	blocked, err := o.settleBacklog(ctx, order.Asset)
	if err != nil {
		out.State = StateFailed
		return out, err
	}

	if err := o.book.Insert(ctx, order.Asset, order); err != nil {
		if !errors.Is(err, orderbook.ErrDuplicateOrder) {
			out.State = StateFailed
			return out, fmt.Errorf("insert %s: %w", txID, err)
		}

		// redelivery: continue from what the book holds, if anything
		out.Duplicate = true
		stored, err := o.book.Get(ctx, order.Asset, order.ID)
		if errors.Is(err, orderbook.ErrOrderNotFound) || (err == nil && stored.Flagged) {
			o.log.Info(ctx, "trade already processed")
			out.State = StateDone
			return out, nil
		}
		if err != nil {
			out.State = StateFailed
			return out, fmt.Errorf("load %s: %w", txID, err)
		}
		if blocked[stored.ID] {
			out.State = StateFailed
			return out, fmt.Errorf("%w: %s", ErrSettlementInFlight, txID)
		}
		order = stored
		out.Order = stored
	}

	out.State = StateMatching
	resting, err := o.book.BestOpposite(ctx, order.Asset, order.Side)
	if err != nil {
		out.State = StateFailed
		return out, fmt.Errorf("load book %s: %w", order.Asset, err)
	}
	resting = slices.DeleteFunc(resting, func(m orderbook.Order) bool { return blocked[m.ID] })
	result := orderbook.Match(order, resting)
	out.Fills = result.Fills
	out.Residual = result.Residual
	o.log.Info(ctx, "trade received",
		zap.String("side", string(order.Side)),
		zap.String("quantity", order.Quantity.String()),
		zap.Int("fills", len(result.Fills)))

	out.State = StateSettling
	for _, fill := range result.Fills {
		rc, err := o.settleFill(ctx, fill)
		if err != nil {
			out.State = StateFailed
			return out, err
		}
		out.Receipts = append(out.Receipts, rc)
	}

	out.State = StateBookUpdated
	if out.Residual != nil {
		o.log.Info(ctx, "order resting", zap.String("remaining", out.Residual.Remaining.String()))
	}
	for i, fill := range result.Fills {
		if rc, ok := o.confirm(ctx, fill); ok {
			out.Receipts[i] = rc
		}
	}

	out.State = StateDone
	return out, nil
}

// settleFill moves the funds of one fill and applies it to the book. A book write
// that fails after the transfers freezes both orders, since the stored remaining
// no longer matches what was paid.
func (o *Orchestrator) settleFill(ctx context.Context, fill orderbook.Fill) (settlement.Receipt, error) {
	rc, err := o.settler.Settle(ctx, fill)
	if err != nil {
		if pe, ok := settlement.AsPartial(err); ok && pe.BlocksBook() {
			o.flag(ctx, fill, pe)
		}
		return rc, err
	}

	if err := o.applyFill(ctx, fill); err != nil {
		pe := &settlement.PartialSettlementError{
			Stage:     settlement.StageBookUpdate,
			FillID:    fill.ID,
			TakerID:   fill.TakerID,
			MakerID:   fill.MakerID,
			ARTxID:    rc.ARTxID,
			TokenTxID: rc.TokenTxID,
			Err:       err,
		}
		telemetry.PartialSettlementsCounter.WithLabelValues(string(pe.Stage)).Inc()
		o.log.Error(ctx, "apply fill to book fail", zap.String("fill_id", fill.ID), zap.Error(err))
		o.flag(ctx, fill, pe)
		return rc, pe
	}
	if err := o.settler.MarkBookApplied(ctx, fill.ID); err != nil {
		o.log.Warn(ctx, "journal book_applied fail", zap.String("fill_id", fill.ID), zap.Error(err))
	}
	return rc, nil
}

// confirm posts the receipts of fill. Failures are logged; the journal entry stays
// open and the receipts are sent again later.
func (o *Orchestrator) confirm(ctx context.Context, fill orderbook.Fill) (settlement.Receipt, bool) {
	rc, err := o.settler.Confirm(ctx, fill)
	if err != nil {
		o.log.Warn(ctx, "confirmation incomplete", zap.String("fill_id", fill.ID), zap.Error(err))
		return rc, false
	}
	return rc, true
}

// settleBacklog finishes journal entries of asset whose transfers went out but
// whose book update or receipts are missing. It returns the orders of entries it
// could not finish; those stay out of matching until recovery.
func (o *Orchestrator) settleBacklog(ctx context.Context, asset string) (map[string]bool, error) {
	recs, err := o.journal.ListUnfinishedByAsset(ctx, asset)
	if err != nil {
		return nil, fmt.Errorf("list unfinished settlements of %s: %w", asset, err)
	}

	blocked := map[string]bool{}
	for _, rec := range recs {
		fill := rec.Fill()
		switch rec.Status {
		case model.SettlementTokenSent:
			if err := o.applyFill(ctx, fill); err != nil {
				o.log.Warn(ctx, "replay book update fail", zap.String("fill_id", rec.ID), zap.Error(err))
				break
			}
			if err := o.settler.MarkBookApplied(ctx, rec.ID); err != nil {
				o.log.Warn(ctx, "journal book_applied fail", zap.String("fill_id", rec.ID), zap.Error(err))
			}
			fallthrough
		case model.SettlementBookApplied:
			o.confirm(ctx, fill)
			continue
		}
		blocked[rec.MakerID] = true
		blocked[rec.TakerID] = true
	}
	return blocked, nil
}

// applyFill writes the post-fill state of both orders. Orders already at or below
// the target remaining are left alone so replays do not count twice.
func (o *Orchestrator) applyFill(ctx context.Context, fill orderbook.Fill) error {
	makerDelta, takerDelta := fill.ARAmount, fill.TokenAmount
	if fill.MakerID == fill.BuyOrderID {
		makerDelta, takerDelta = fill.TokenAmount, fill.ARAmount
	}
	if err := o.applyOrder(ctx, fill.Asset, fill.MakerID, fill.MakerRemaining, makerDelta); err != nil {
		return err
	}
	return o.applyOrder(ctx, fill.Asset, fill.TakerID, fill.TakerRemaining, takerDelta)
}

func (o *Orchestrator) applyOrder(ctx context.Context, asset, orderID string, remaining, received decimal.Decimal) error {
	current, err := o.book.Get(ctx, asset, orderID)
	if errors.Is(err, orderbook.ErrOrderNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if current.Remaining.LessThanOrEqual(remaining) {
		return nil
	}
	return o.book.Reduce(ctx, asset, orderID, remaining, received)
}

func (o *Orchestrator) flag(ctx context.Context, fill orderbook.Fill, pe *settlement.PartialSettlementError) {
	reason := fmt.Sprintf("partial settlement %s at %s", fill.ID, pe.Stage)
	for _, id := range []string{fill.MakerID, fill.TakerID} {
		if err := o.book.Flag(ctx, fill.Asset, id, reason); err != nil {
			o.log.Error(ctx, "flag order fail", zap.String("order_id", id), zap.Error(err))
		}
	}
}

// Recover replays journal entries a previous run left unfinished. It returns the
// number of entries brought to done and the errors of the others.
func (o *Orchestrator) Recover(ctx context.Context) (int, error) {
	recs, err := o.journal.ListUnfinished(ctx)
	if err != nil {
		return 0, fmt.Errorf("list unfinished settlements: %w", err)
	}

	var (
		done int
		errs []error
	)
	for _, rec := range recs {
		if err := o.recoverOne(ctx, rec); err != nil {
			errs = append(errs, fmt.Errorf("recover %s: %w", rec.ID, err))
			continue
		}
		done++
	}
	if len(recs) > 0 {
		o.log.Info(ctx, "settlement recovery finished", zap.Int("entries", len(recs)), zap.Int("done", done))
	}
	return done, errors.Join(errs...)
}

func (o *Orchestrator) recoverOne(ctx context.Context, rec *model.Settlement) error {
	ctx = logging.WithAsset(logging.WithTxID(ctx, rec.TakerID), rec.Asset)
	unlock, err := o.locker.Lock(ctx, rec.Asset)
	if err != nil {
		return err
	}
	defer unlock()

	fill := rec.Fill()
	switch rec.Status {
	case model.SettlementPending, model.SettlementARSent:
		if _, err := o.settler.Resume(ctx, rec); err != nil {
			if pe, ok := settlement.AsPartial(err); ok && pe.BlocksBook() {
				o.flag(ctx, fill, pe)
			}
			return err
		}
		fallthrough
	case model.SettlementTokenSent:
		if err := o.applyFill(ctx, fill); err != nil {
			return err
		}
		if err := o.settler.MarkBookApplied(ctx, fill.ID); err != nil {
			return err
		}
		fallthrough
	case model.SettlementBookApplied:
		_, err := o.settler.Confirm(ctx, fill)
		return err
	}
	return nil
}
