package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"github.com/joripage/dex-matcher/pkg/ledger"
	"github.com/joripage/dex-matcher/pkg/logging"
	"github.com/joripage/dex-matcher/pkg/model"
	"github.com/joripage/dex-matcher/pkg/orderbook"
	"github.com/joripage/dex-matcher/pkg/repo"
	"github.com/joripage/dex-matcher/pkg/telemetry"
	"go.uber.org/zap"
)

type Config struct {
	ExchangeName    string        `yaml:"exchange_name"`
	EventsTopic     string        `yaml:"events_topic"`
	MaxRetries      uint64        `yaml:"max_retries"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

func (c *Config) setDefaults() {
	if c.ExchangeName == "" {
		c.ExchangeName = "Verto"
	}
	// zero would mean unlimited retries
	if c.MaxRetries == 0 {
		c.MaxRetries = 5
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = 500 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 10 * time.Second
	}
}

// Tickers names the token unit used in confirmation receipts.
type Tickers interface {
	Ticker(ctx context.Context, asset string) string
}

type Deps struct {
	Wallet    ledger.Wallet
	Contracts ledger.ContractCaller
	Confirmer ledger.Confirmer
	Journal   repo.ISettlement
	Publisher Publisher // optional
	Tickers   Tickers   // optional
	Logger    *logging.Logger
}

type Receipt struct {
	FillID            string
	ARTxID            string
	TokenTxID         string
	ConfirmationTxIDs map[string]string // order id -> confirmation tx
}

// Executor moves the funds of a fill: AR from the exchange wallet to the seller,
// tokens to the buyer, then confirmation receipts. Every step is journaled before
// the next one starts.
type Executor struct {
	cfg  Config
	deps Deps
	log  *logging.Logger
}

func NewExecutor(cfg Config, deps Deps) *Executor {
	cfg.setDefaults()
	log := deps.Logger
	if log == nil {
		log = logging.NewNop()
	}
	return &Executor{cfg: cfg, deps: deps, log: log.With(zap.String("component", "settlement"))}
}

// Settle broadcasts the AR and token transfers of fill. A fill already in the
// journal is resumed from its recorded status rather than paid twice.
func (e *Executor) Settle(ctx context.Context, fill orderbook.Fill) (Receipt, error) {
	rec, created, err := e.deps.Journal.Create(ctx, model.NewSettlement(fill))
	if err != nil {
		return Receipt{FillID: fill.ID}, fmt.Errorf("%w: journal %s: %w", ErrTransientIO, fill.ID, err)
	}
	if !created {
		if rec.Status != model.SettlementAborted {
			return e.Resume(ctx, rec)
		}
		// nothing moved last time, start over with the current figures
		fresh := model.NewSettlement(fill)
		fresh.CreatedAt = rec.CreatedAt
		rec = fresh
		if err := e.deps.Journal.Update(ctx, rec); err != nil {
			return Receipt{FillID: fill.ID}, fmt.Errorf("%w: journal %s: %w", ErrTransientIO, fill.ID, err)
		}
	}
	return e.transferAR(ctx, rec)
}

// Resume continues a journal entry left unfinished by an earlier run.
func (e *Executor) Resume(ctx context.Context, rec *model.Settlement) (Receipt, error) {
	switch rec.Status {
	case model.SettlementPending:
		// the AR transfer may or may not have been broadcast
		return e.fail(ctx, rec, StageARTransfer, ErrOutcomeUnknown)
	case model.SettlementARSent:
		return e.transferTokens(ctx, rec)
	case model.SettlementPartial:
		return receipt(rec), e.partialErr(rec, partialStage(rec), errors.New(rec.Error))
	case model.SettlementAborted:
		return receipt(rec), fmt.Errorf("%w: %s: %s", ErrTransientIO, rec.ID, rec.Error)
	}
	return receipt(rec), nil
}

func (e *Executor) transferAR(ctx context.Context, rec *model.Settlement) (Receipt, error) {
	fill := rec.Fill()

	if fill.ARAmount.IsPositive() {
		txID, err := e.broadcast(ctx, StageARTransfer, func() (string, error) {
			return e.deps.Wallet.Transfer(ctx, legKey(fill.ID, "ar"), fill.Seller, fill.ARAmount, e.transferTags(fill))
		})
		if errors.Is(err, ledger.ErrUnconfirmed) {
			// the transfer may be on its way, nothing here may pay this fill again
			return e.fail(ctx, rec, StageARTransfer, fmt.Errorf("%w: %w", ErrOutcomeUnknown, err))
		}
		if err != nil {
			rec.Status = model.SettlementAborted
			rec.Error = err.Error()
			e.save(ctx, rec)

			telemetry.AbortedSettlementsCounter.Inc()
			e.log.Warn(ctx, "settlement aborted, no funds moved", zap.String("fill_id", fill.ID), zap.Error(err))
			e.publish(ctx, newEvent(EventSettlementAborted, fill, "", ""), err)
			return receipt(rec), fmt.Errorf("%w: %s: %w", ErrTransientIO, fill.ID, err)
		}
		rec.ARTxID = txID
	}

	rec.Status = model.SettlementARSent
	e.save(ctx, rec)
	return e.transferTokens(ctx, rec)
}

func (e *Executor) transferTokens(ctx context.Context, rec *model.Settlement) (Receipt, error) {
	fill := rec.Fill()

	txID, err := e.broadcast(ctx, StageTokenTransfer, func() (string, error) {
		return e.deps.Contracts.InvokeTransfer(ctx, legKey(fill.ID, "token"), fill.Asset, fill.Buyer, fill.TokenAmount)
	})
	if errors.Is(err, ledger.ErrUnconfirmed) {
		err = fmt.Errorf("%w: %w", ErrOutcomeUnknown, err)
	}
	if err != nil {
		return e.fail(ctx, rec, StageTokenTransfer, err)
	}

	rec.TokenTxID = txID
	rec.Status = model.SettlementTokenSent
	e.save(ctx, rec)
	return receipt(rec), nil
}

// fail marks rec partial after funds moved for one side only.
func (e *Executor) fail(ctx context.Context, rec *model.Settlement, stage Stage, cause error) (Receipt, error) {
	rec.Status = model.SettlementPartial
	rec.Error = cause.Error()
	e.save(ctx, rec)

	pe := e.partialErr(rec, stage, cause)
	e.alert(ctx, rec, pe)
	return receipt(rec), pe
}

// MarkBookApplied records that the order book reflects the fill.
func (e *Executor) MarkBookApplied(ctx context.Context, fillID string) error {
	rec, err := e.deps.Journal.Get(ctx, fillID)
	if err != nil {
		return err
	}
	if rec.Status == model.SettlementBookApplied || rec.Status == model.SettlementDone {
		return nil
	}
	rec.Status = model.SettlementBookApplied
	return e.deps.Journal.Update(ctx, rec)
}

// Confirm posts a confirmation for each order the fill consumed and closes the
// journal entry. Confirmations already sent are not repeated.
func (e *Executor) Confirm(ctx context.Context, fill orderbook.Fill) (Receipt, error) {
	rec, err := e.deps.Journal.Get(ctx, fill.ID)
	if err != nil {
		return Receipt{FillID: fill.ID}, &PartialSettlementError{
			Stage: StageConfirmation, FillID: fill.ID, TakerID: fill.TakerID, MakerID: fill.MakerID, Err: err,
		}
	}
	if rec.Status == model.SettlementDone {
		return receipt(rec), nil
	}

	sent := rec.Confirmations()
	var confirmErr error
	for _, orderID := range []string{fill.MakerID, fill.TakerID} {
		if !fill.FullyFilled(orderID) {
			continue
		}
		if _, ok := sent[orderID]; ok {
			continue
		}

		tags := e.confirmationTags(ctx, fill, orderID)
		txID, err := e.broadcast(ctx, StageConfirmation, func() (string, error) {
			return e.deps.Confirmer.PostData(ctx, legKey(fill.ID, "confirm/"+orderID), tags, nonce())
		})
		if err != nil {
			confirmErr = errors.Join(confirmErr, fmt.Errorf("confirm %s: %w", orderID, err))
			continue
		}
		rec.AddConfirmation(orderID, txID)
	}

	if confirmErr != nil {
		// stays book_applied so recovery resends the missing ones
		rec.Error = confirmErr.Error()
		e.save(ctx, rec)

		pe := e.partialErr(rec, StageConfirmation, confirmErr)
		e.alert(ctx, rec, pe)
		return receipt(rec), pe
	}

	rec.Status = model.SettlementDone
	rec.Error = ""
	e.save(ctx, rec)

	telemetry.FillsCounter.WithLabelValues(string(fill.TakerSide)).Inc()
	e.publish(ctx, newEvent(EventFillSettled, fill, rec.ARTxID, rec.TokenTxID), nil)
	return receipt(rec), nil
}

// broadcast runs op with bounded exponential backoff. Only ledger.ErrTransient is
// retried: those failures happened before the request left, so a retry cannot
// double a transfer.
func (e *Executor) broadcast(ctx context.Context, stage Stage, op func() (string, error)) (string, error) {
	boff := backoff.NewExponentialBackOff()
	boff.InitialInterval = e.cfg.InitialInterval
	boff.MaxInterval = e.cfg.MaxInterval
	boff.MaxElapsedTime = 0

	var txID string
	err := backoff.RetryNotify(func() error {
		id, err := op()
		if err != nil {
			if !ledger.IsTransient(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		txID = id
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(boff, e.cfg.MaxRetries), ctx), func(err error, next time.Duration) {
		telemetry.SettlementRetriesCounter.WithLabelValues(string(stage)).Inc()
		e.log.Debug(ctx, "retry ledger broadcast", zap.String("step", string(stage)), zap.Duration("next", next), zap.Error(err))
	})
	return txID, err
}

func (e *Executor) transferTags(fill orderbook.Fill) []ledger.Tag {
	return []ledger.Tag{
		{Name: "Exchange", Value: e.cfg.ExchangeName},
		{Name: "Type", Value: "Transfer"},
		{Name: "Match", Value: fill.SellOrderID},
	}
}

func (e *Executor) confirmationTags(ctx context.Context, fill orderbook.Fill, orderID string) []ledger.Tag {
	unit := "AR"
	if orderID == fill.BuyOrderID {
		unit = fill.Asset
		if e.deps.Tickers != nil {
			unit = e.deps.Tickers.Ticker(ctx, fill.Asset)
		}
	}
	return []ledger.Tag{
		{Name: "Exchange", Value: e.cfg.ExchangeName},
		{Name: "Type", Value: "Confirmation"},
		{Name: "Match", Value: orderID},
		{Name: "Received", Value: fmt.Sprintf("%s %s", fill.ReceivedBy(orderID).String(), unit)},
	}
}

func (e *Executor) partialErr(rec *model.Settlement, stage Stage, cause error) *PartialSettlementError {
	return &PartialSettlementError{
		Stage:     stage,
		FillID:    rec.ID,
		TakerID:   rec.TakerID,
		MakerID:   rec.MakerID,
		ARTxID:    rec.ARTxID,
		TokenTxID: rec.TokenTxID,
		Err:       cause,
	}
}

func (e *Executor) alert(ctx context.Context, rec *model.Settlement, pe *PartialSettlementError) {
	telemetry.PartialSettlementsCounter.WithLabelValues(string(pe.Stage)).Inc()
	e.log.Error(ctx, "partial settlement",
		zap.String("fill_id", pe.FillID),
		zap.String("stage", string(pe.Stage)),
		zap.String("taker_id", pe.TakerID),
		zap.String("maker_id", pe.MakerID),
		zap.String("ar_tx_id", pe.ARTxID),
		zap.String("token_tx_id", pe.TokenTxID),
		zap.Error(pe.Err),
	)
	ev := newEvent(EventSettlementPartial, rec.Fill(), rec.ARTxID, rec.TokenTxID)
	ev.Stage = pe.Stage
	e.publish(ctx, ev, pe.Err)
}

func (e *Executor) publish(ctx context.Context, ev Event, cause error) {
	if e.deps.Publisher == nil || e.cfg.EventsTopic == "" {
		return
	}
	if cause != nil {
		ev.Error = cause.Error()
	}
	if err := e.deps.Publisher.PublishJSON(ctx, e.cfg.EventsTopic, ev.FillID, ev, map[string]string{"type": string(ev.Type)}); err != nil {
		e.log.Warn(ctx, "publish settlement event fail", zap.String("fill_id", ev.FillID), zap.Error(err))
	}
}

// save persists rec. A failed journal write is logged, not returned: the ledger
// side effects already happened and recovery works from the last stored state.
func (e *Executor) save(ctx context.Context, rec *model.Settlement) {
	if err := e.deps.Journal.Update(ctx, rec); err != nil {
		e.log.Error(ctx, "journal update fail",
			zap.String("fill_id", rec.ID),
			zap.String("status", string(rec.Status)),
			zap.Error(err))
	}
}

// legKey is the idempotency key of one broadcast of a fill.
func legKey(fillID, leg string) string {
	return fillID + "/" + leg
}

// partialStage tells which broadcast a partial entry stopped at.
func partialStage(rec *model.Settlement) Stage {
	if rec.ARTxID == "" && rec.ARAmount.IsPositive() {
		return StageARTransfer
	}
	return StageTokenTransfer
}

func receipt(rec *model.Settlement) Receipt {
	return Receipt{
		FillID:            rec.ID,
		ARTxID:            rec.ARTxID,
		TokenTxID:         rec.TokenTxID,
		ConfirmationTxIDs: rec.Confirmations(),
	}
}

func nonce() []byte {
	return []byte(uuid.NewString()[:4])
}
