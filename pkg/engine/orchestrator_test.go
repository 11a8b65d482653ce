package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/joripage/dex-matcher/pkg/intent"
	"github.com/joripage/dex-matcher/pkg/ledger"
	"github.com/joripage/dex-matcher/pkg/model"
	"github.com/joripage/dex-matcher/pkg/orderbook"
	"github.com/joripage/dex-matcher/pkg/repo"
	"github.com/joripage/dex-matcher/pkg/settlement"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChain struct {
	mu  sync.Mutex
	txs map[string]*ledger.Transaction

	transferErr error
	invokeErr   error

	transferTries int
	transfers     []string // "target amount"
	invokes   []string // "target qty"
	posts     [][]ledger.Tag
}

func newFakeChain() *fakeChain {
	return &fakeChain{txs: map[string]*ledger.Transaction{}}
}

func (c *fakeChain) GetTransaction(_ context.Context, id string) (*ledger.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tx, ok := c.txs[id]
	if !ok {
		return nil, ledger.ErrTxNotFound
	}
	return tx, nil
}

func (c *fakeChain) GetData(context.Context, string) ([]byte, error) {
	return []byte(`{"ticker":"VRT"}`), nil
}

func (c *fakeChain) Transfer(_ context.Context, _, target string, amount decimal.Decimal, _ []ledger.Tag) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transferTries++
	if c.transferErr != nil {
		return "", c.transferErr
	}
	c.transfers = append(c.transfers, target+" "+amount.String())
	return fmt.Sprintf("ar-%d", len(c.transfers)), nil
}

func (c *fakeChain) InvokeTransfer(_ context.Context, _, _, target string, qty decimal.Decimal) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.invokeErr != nil {
		return "", c.invokeErr
	}
	c.invokes = append(c.invokes, target+" "+qty.String())
	return fmt.Sprintf("token-%d", len(c.invokes)), nil
}

func (c *fakeChain) PostData(_ context.Context, _ string, tags []ledger.Tag, _ []byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.posts = append(c.posts, tags)
	return fmt.Sprintf("conf-%d", len(c.posts)), nil
}

func (c *fakeChain) buy(id, owner, ar string, rate string) {
	tags := []ledger.Tag{{Name: "Type", Value: "Buy"}, {Name: "Token", Value: "PST"}}
	if rate != "" {
		tags = append(tags, ledger.Tag{Name: "Rate", Value: rate})
	}
	c.txs[id] = &ledger.Transaction{ID: id, Owner: owner, Quantity: decimal.RequireFromString(ar), Tags: tags}
}

func (c *fakeChain) sell(id, owner, qty string, rate string) {
	tags := []ledger.Tag{
		{Name: "Type", Value: "Sell"},
		{Name: "Contract", Value: "PST"},
		{Name: "Input", Value: fmt.Sprintf(`{"function":"transfer","qty":%s}`, qty)},
	}
	if rate != "" {
		tags = append(tags, ledger.Tag{Name: "Rate", Value: rate})
	}
	c.txs[id] = &ledger.Transaction{ID: id, Owner: owner, Tags: tags}
}

// flakyBook fails the first reduceFailures reductions and flagFailures flags.
type flakyBook struct {
	repo.IOrderBook
	mu             sync.Mutex
	reduceFailures int
	flagFailures   int
}

func (b *flakyBook) Reduce(ctx context.Context, asset, orderID string, newRemaining, addReceived decimal.Decimal) error {
	b.mu.Lock()
	fail := b.reduceFailures > 0
	if fail {
		b.reduceFailures--
	}
	b.mu.Unlock()
	if fail {
		return errors.New("book write timeout")
	}
	return b.IOrderBook.Reduce(ctx, asset, orderID, newRemaining, addReceived)
}

func (b *flakyBook) Flag(ctx context.Context, asset, orderID, reason string) error {
	b.mu.Lock()
	fail := b.flagFailures > 0
	if fail {
		b.flagFailures--
	}
	b.mu.Unlock()
	if fail {
		return errors.New("book write timeout")
	}
	return b.IOrderBook.Flag(ctx, asset, orderID, reason)
}

// flakyJournal fails the first createFailures journal inserts.
type flakyJournal struct {
	repo.ISettlement
	createFailures int
}

func (j *flakyJournal) Create(ctx context.Context, rec *model.Settlement) (*model.Settlement, bool, error) {
	if j.createFailures > 0 {
		j.createFailures--
		return nil, false, errors.New("connection reset")
	}
	return j.ISettlement.Create(ctx, rec)
}

type testRepo struct {
	book    repo.IOrderBook
	journal repo.ISettlement
}

func (r testRepo) OrderBook() repo.IOrderBook { return r.book }
func (r testRepo) Settlement() repo.ISettlement { return r.journal }

type harness struct {
	chain *fakeChain
	store *orderbook.MemoryStore
	repo  repo.IRepo
	exec  *settlement.Executor
	orch  *Orchestrator
}

type harnessOption func(book *repo.IOrderBook, journal *repo.ISettlement)

func newHarness(opts ...harnessOption) *harness {
	h := &harness{chain: newFakeChain(), store: orderbook.NewMemoryStore()}
	mem := repo.NewMemoryRepo(h.store)
	book, journal := mem.OrderBook(), mem.Settlement()
	for _, opt := range opts {
		opt(&book, &journal)
	}
	h.repo = testRepo{book: book, journal: journal}

	var mu sync.Mutex
	now := time.Unix(1614600000, 0).UTC()
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}

	h.exec = settlement.NewExecutor(settlement.Config{
		MaxRetries:      1,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
	}, settlement.Deps{
		Wallet:    h.chain,
		Contracts: h.chain,
		Confirmer: h.chain,
		Journal:   h.repo.Settlement(),
		Tickers:   intent.NewTickerResolver(h.chain, nil, 0),
	})
	h.orch = NewOrchestrator(
		intent.NewResolver(h.chain, clock),
		h.repo,
		h.exec,
		NewAssetLocker(LockConfig{}, nil),
		nil,
	)
	return h
}

func (h *harness) process(t *testing.T, txID string) Outcome {
	t.Helper()
	out, err := h.orch.Process(context.Background(), txID)
	require.NoError(t, err)
	require.Equal(t, StateDone, out.State)
	return out
}

func (h *harness) order(t *testing.T, id string) orderbook.Order {
	t.Helper()
	o, err := h.store.Get(context.Background(), "PST", id)
	require.NoError(t, err)
	return o
}

func (h *harness) gone(t *testing.T, id string) {
	t.Helper()
	_, err := h.store.Get(context.Background(), "PST", id)
	assert.ErrorIs(t, err, orderbook.ErrOrderNotFound, "order %s should be removed", id)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestProcessEmptyBookRests(t *testing.T) {
	h := newHarness()
	h.chain.buy("T", "bob", "100", "2")

	out := h.process(t, "T")
	assert.Empty(t, out.Fills)
	require.NotNil(t, out.Residual)
	assert.True(t, out.Residual.Remaining.Equal(dec("100")))
	assert.True(t, h.order(t, "T").Remaining.Equal(dec("100")))
	assert.Empty(t, h.chain.transfers)
}

func TestProcessPartialFillLeavesResidual(t *testing.T) {
	h := newHarness()
	h.chain.sell("M", "alice", "50", "2")
	h.chain.buy("T", "bob", "100", "2")

	h.process(t, "M")
	out := h.process(t, "T")

	require.Len(t, out.Fills, 1)
	fill := out.Fills[0]
	assert.True(t, fill.TokenAmount.Equal(dec("50")))
	assert.True(t, fill.ARAmount.Equal(dec("25")))
	require.NotNil(t, out.Residual)
	assert.True(t, out.Residual.Remaining.Equal(dec("75")))

	h.gone(t, "M")
	taker := h.order(t, "T")
	assert.True(t, taker.Remaining.Equal(dec("75")))
	assert.True(t, taker.Received.Equal(dec("50")))
	assert.True(t, taker.Quantity.Equal(dec("100")))

	assert.Equal(t, []string{"alice 25"}, h.chain.transfers)
	assert.Equal(t, []string{"bob 50"}, h.chain.invokes)
	require.Len(t, h.chain.posts, 1, "only the consumed maker is confirmed")
	assert.Contains(t, h.chain.posts[0], ledger.Tag{Name: "Match", Value: "M"})

	rec, err := h.repo.Settlement().Get(context.Background(), fill.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SettlementDone, rec.Status)
}

func TestProcessTimePriority(t *testing.T) {
	h := newHarness()
	h.chain.sell("A", "alice", "30", "1")
	h.chain.sell("B", "carol", "30", "1")
	h.chain.buy("T", "bob", "30", "1")

	h.process(t, "A")
	h.process(t, "B")
	out := h.process(t, "T")

	require.Len(t, out.Fills, 1)
	assert.Equal(t, "A", out.Fills[0].MakerID)
	assert.Nil(t, out.Residual)
	h.gone(t, "A")
	h.gone(t, "T")
	assert.True(t, h.order(t, "B").Remaining.Equal(dec("30")), "newer order untouched")
}

func TestProcessExactMatch(t *testing.T) {
	h := newHarness()
	h.chain.sell("M", "alice", "20", "1")
	h.chain.buy("T", "bob", "20", "1")

	h.process(t, "M")
	out := h.process(t, "T")

	require.Len(t, out.Fills, 1)
	assert.Nil(t, out.Residual)
	h.gone(t, "M")
	h.gone(t, "T")
	assert.Equal(t, 0, h.store.Len("PST"))

	assert.Len(t, h.chain.transfers, 1)
	assert.Len(t, h.chain.invokes, 1)
	assert.Len(t, h.chain.posts, 2, "both consumed orders are confirmed")
	require.Len(t, out.Receipts, 1)
	assert.Len(t, out.Receipts[0].ConfirmationTxIDs, 2)

	out = h.process(t, "T")
	assert.True(t, out.Duplicate)
	assert.Empty(t, out.Fills)
	assert.Len(t, h.chain.transfers, 1)
}

func TestProcessSellTakerAcrossBuys(t *testing.T) {
	h := newHarness()
	h.chain.buy("B1", "bob", "10", "2")  // up to 20 tokens
	h.chain.buy("B2", "dave", "10", "4") // lower price, worse for the seller
	h.chain.sell("S", "alice", "30", "4")

	h.process(t, "B1")
	h.process(t, "B2")
	out := h.process(t, "S")

	require.Len(t, out.Fills, 2)
	assert.Equal(t, "B1", out.Fills[0].MakerID)
	assert.Equal(t, "B2", out.Fills[1].MakerID)
	assert.Nil(t, out.Residual)
	h.gone(t, "B1")
	h.gone(t, "S")
	b2 := h.order(t, "B2")
	assert.True(t, b2.Remaining.Equal(dec("7.5")), "10 tokens at 4 per AR cost 2.5 AR")
	assert.True(t, b2.Received.Equal(dec("10")))
}

func TestProcessTokenTransferFailureFlagsRows(t *testing.T) {
	h := newHarness()
	h.chain.sell("M", "alice", "50", "2")
	h.chain.buy("T", "bob", "100", "2")
	h.process(t, "M")

	h.chain.invokeErr = ledger.ErrRejected
	out, err := h.orch.Process(context.Background(), "T")
	require.Error(t, err)
	assert.ErrorIs(t, err, settlement.ErrPartialSettlement)
	assert.Equal(t, StateFailed, out.State)

	maker := h.order(t, "M")
	taker := h.order(t, "T")
	assert.True(t, maker.Flagged)
	assert.True(t, taker.Flagged)
	assert.Contains(t, maker.FlagReason, "token_transfer")
	assert.True(t, maker.Remaining.Equal(dec("50")), "book left unmutated for the failed leg")
	assert.True(t, taker.Remaining.Equal(dec("100")))

	assert.Equal(t, []string{"alice 25"}, h.chain.transfers)

	// flagged rows no longer match
	h.chain.invokeErr = nil
	h.chain.buy("T2", "carol", "10", "")
	out = h.process(t, "T2")
	assert.Empty(t, out.Fills)
}

func TestProcessTransferFailureAborts(t *testing.T) {
	h := newHarness()
	h.chain.sell("M", "alice", "50", "2")
	h.chain.buy("T", "bob", "100", "2")
	h.process(t, "M")

	h.chain.transferErr = fmt.Errorf("%w: gateway down", ledger.ErrTransient)
	out, err := h.orch.Process(context.Background(), "T")
	assert.ErrorIs(t, err, settlement.ErrTransientIO)
	assert.NotErrorIs(t, err, settlement.ErrPartialSettlement)
	assert.Equal(t, StateFailed, out.State)

	maker := h.order(t, "M")
	assert.False(t, maker.Flagged)
	assert.True(t, maker.Remaining.Equal(dec("50")))
	assert.True(t, h.order(t, "T").Remaining.Equal(dec("100")), "taker keeps resting")
	assert.Empty(t, h.chain.invokes)

	// the redelivered transaction resumes matching once the gateway is back
	h.chain.transferErr = nil
	out = h.process(t, "T")
	assert.True(t, out.Duplicate)
	require.Len(t, out.Fills, 1)
	h.gone(t, "M")
	assert.True(t, h.order(t, "T").Remaining.Equal(dec("75")))
	assert.Equal(t, []string{"alice 25"}, h.chain.transfers)
}

func TestProcessRejectsInvalidIntent(t *testing.T) {
	h := newHarness()
	h.chain.txs["X"] = &ledger.Transaction{ID: "X", Tags: []ledger.Tag{{Name: "Type", Value: "Swap"}}}
	h.chain.txs["Y"] = &ledger.Transaction{ID: "Y", Tags: []ledger.Tag{{Name: "Type", Value: "Buy"}}}

	out, err := h.orch.Process(context.Background(), "X")
	assert.ErrorIs(t, err, intent.ErrInvalidOpcode)
	assert.Equal(t, StateRejected, out.State)

	out, err = h.orch.Process(context.Background(), "Y")
	assert.ErrorIs(t, err, intent.ErrInvalidIntent)
	assert.Equal(t, StateRejected, out.State)
	assert.Equal(t, 0, h.store.Len("PST"))
}

func TestProcessUnknownTransactionFails(t *testing.T) {
	h := newHarness()
	out, err := h.orch.Process(context.Background(), "nope")
	assert.ErrorIs(t, err, ledger.ErrTxNotFound)
	assert.NotErrorIs(t, err, intent.ErrInvalidIntent)
	assert.Equal(t, StateFailed, out.State)
}

func TestProcessRedeliveryIsIdempotent(t *testing.T) {
	h := newHarness()
	h.chain.sell("M", "alice", "50", "2")
	h.chain.buy("T", "bob", "100", "2")
	h.process(t, "M")
	h.process(t, "T")

	out := h.process(t, "T")
	assert.True(t, out.Duplicate)
	assert.Empty(t, out.Fills)
	assert.Len(t, h.chain.transfers, 1)
	assert.True(t, h.order(t, "T").Remaining.Equal(dec("75")))
}

func TestProcessConcurrentNoOverfill(t *testing.T) {
	h := newHarness()
	h.chain.sell("M", "alice", "100", "1")
	h.process(t, "M")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("T%02d", i)
		h.chain.buy(id, "bob", "10", "1")
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.orch.Process(context.Background(), id)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	h.gone(t, "M")
	total := decimal.Zero
	for _, s := range h.chain.invokes {
		var target string
		var qty float64
		_, err := fmt.Sscanf(s, "%s %g", &target, &qty)
		require.NoError(t, err)
		total = total.Add(decimal.NewFromFloat(qty))
	}
	assert.True(t, total.Equal(dec("100")), "exactly the maker quantity was delivered, got %s", total)
	assert.Equal(t, 10, h.store.Len("PST"), "ten buyers are left resting")
}

func TestRecover(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.chain.sell("M", "alice", "50", "2")
	h.chain.buy("T", "bob", "100", "2")
	h.process(t, "M")

	// simulate a crash after both transfers went out but before the book update
	taker, err := intent.NewResolver(h.chain, nil).Resolve(ctx, "T")
	require.NoError(t, err)
	require.NoError(t, h.store.Insert(ctx, "PST", taker))
	resting, err := h.store.BestOpposite(ctx, "PST", taker.Side)
	require.NoError(t, err)
	fill := orderbook.Match(taker, resting).Fills[0]

	rec := model.NewSettlement(fill)
	rec.Status = model.SettlementTokenSent
	rec.ARTxID, rec.TokenTxID = "ar-x", "token-x"
	_, _, err = h.repo.Settlement().Create(ctx, rec)
	require.NoError(t, err)

	done, err := h.orch.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, done)
	h.gone(t, "M")
	assert.True(t, h.order(t, "T").Remaining.Equal(dec("75")))
	assert.Empty(t, h.chain.transfers, "nothing is paid twice")
	assert.Len(t, h.chain.posts, 1)

	stored, err := h.repo.Settlement().Get(ctx, fill.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SettlementDone, stored.Status)

	// a second pass finds nothing to do and the book update is not applied twice
	done, err = h.orch.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, done)
	assert.True(t, h.order(t, "T").Remaining.Equal(dec("75")))
}

func TestRecoverPendingFlags(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.chain.sell("M", "alice", "50", "2")
	h.chain.buy("T", "bob", "100", "2")
	h.process(t, "M")

	taker, err := intent.NewResolver(h.chain, nil).Resolve(ctx, "T")
	require.NoError(t, err)
	require.NoError(t, h.store.Insert(ctx, "PST", taker))
	resting, err := h.store.BestOpposite(ctx, "PST", taker.Side)
	require.NoError(t, err)
	fill := orderbook.Match(taker, resting).Fills[0]
	_, _, err = h.repo.Settlement().Create(ctx, model.NewSettlement(fill))
	require.NoError(t, err)

	done, err := h.orch.Recover(ctx)
	assert.Equal(t, 0, done)
	assert.ErrorIs(t, err, settlement.ErrOutcomeUnknown)
	assert.True(t, h.order(t, "M").Flagged)
	assert.True(t, h.order(t, "T").Flagged)
	assert.Empty(t, h.chain.transfers)
}

func TestProcessBookWriteFailureFreezesOrders(t *testing.T) {
	ctx := context.Background()
	book := &flakyBook{}
	h := newHarness(func(b *repo.IOrderBook, _ *repo.ISettlement) {
		book.IOrderBook = *b
		*b = book
	})
	h.chain.sell("M", "alice", "50", "2")
	h.chain.buy("T1", "bob", "100", "2")
	h.chain.buy("T2", "carol", "100", "2")
	h.process(t, "M")

	book.reduceFailures = 1
	out, err := h.orch.Process(ctx, "T1")
	assert.ErrorIs(t, err, settlement.ErrPartialSettlement)
	assert.Equal(t, StateFailed, out.State)
	pe, ok := settlement.AsPartial(err)
	require.True(t, ok)
	assert.Equal(t, settlement.StageBookUpdate, pe.Stage)
	assert.Equal(t, "ar-1", pe.ARTxID)
	assert.Equal(t, "token-1", pe.TokenTxID)

	maker := h.order(t, "M")
	assert.True(t, maker.Flagged)
	assert.Contains(t, maker.FlagReason, "book_update")
	assert.True(t, h.order(t, "T1").Flagged)

	fillID := out.Fills[0].ID
	rec, err := h.repo.Settlement().Get(ctx, fillID)
	require.NoError(t, err)
	assert.Equal(t, model.SettlementTokenSent, rec.Status)

	// the next trade on the asset finishes the stalled book update first
	out = h.process(t, "T2")
	assert.Empty(t, out.Fills)
	assert.Equal(t, []string{"bob 50"}, h.chain.invokes, "maker tokens are delivered once")
	assert.Equal(t, []string{"alice 25"}, h.chain.transfers)
	h.gone(t, "M")
	assert.True(t, h.order(t, "T1").Remaining.Equal(dec("75")))
	assert.True(t, h.order(t, "T2").Remaining.Equal(dec("100")))

	rec, err = h.repo.Settlement().Get(ctx, fillID)
	require.NoError(t, err)
	assert.Equal(t, model.SettlementDone, rec.Status)
}

func TestProcessSkipsMakersOfStalledSettlement(t *testing.T) {
	ctx := context.Background()
	book := &flakyBook{}
	h := newHarness(func(b *repo.IOrderBook, _ *repo.ISettlement) {
		book.IOrderBook = *b
		*b = book
	})
	h.chain.sell("M", "alice", "50", "2")
	h.chain.buy("T1", "bob", "100", "2")
	h.chain.buy("T2", "carol", "100", "2")
	h.process(t, "M")

	// neither the book update nor the flags can be written
	book.reduceFailures, book.flagFailures = 3, 2
	_, err := h.orch.Process(ctx, "T1")
	assert.ErrorIs(t, err, settlement.ErrPartialSettlement)
	assert.False(t, h.order(t, "M").Flagged)

	out := h.process(t, "T2")
	assert.Empty(t, out.Fills, "a maker with an unfinished settlement is not matched")
	assert.Equal(t, []string{"bob 50"}, h.chain.invokes)
	assert.True(t, h.order(t, "M").Remaining.Equal(dec("50")))

	out, err = h.orch.Process(ctx, "T1")
	assert.ErrorIs(t, err, ErrSettlementInFlight)
	assert.Equal(t, StateFailed, out.State)
	assert.Empty(t, out.Fills)

	done, err := h.orch.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, done)
	h.gone(t, "M")
	assert.True(t, h.order(t, "T1").Remaining.Equal(dec("75")))
	assert.Equal(t, []string{"bob 50"}, h.chain.invokes)
	assert.Equal(t, []string{"alice 25"}, h.chain.transfers)
}

func TestProcessJournalFailureMovesNothing(t *testing.T) {
	journal := &flakyJournal{}
	h := newHarness(func(_ *repo.IOrderBook, j *repo.ISettlement) {
		journal.ISettlement = *j
		*j = journal
	})
	h.chain.sell("M", "alice", "50", "2")
	h.chain.buy("T", "bob", "100", "2")
	h.process(t, "M")

	journal.createFailures = 1
	out, err := h.orch.Process(context.Background(), "T")
	assert.ErrorIs(t, err, settlement.ErrTransientIO)
	assert.NotErrorIs(t, err, settlement.ErrPartialSettlement)
	assert.Equal(t, StateFailed, out.State)
	assert.Zero(t, h.chain.transferTries)
	assert.False(t, h.order(t, "M").Flagged)
	assert.True(t, h.order(t, "M").Remaining.Equal(dec("50")))

	out = h.process(t, "T")
	require.Len(t, out.Fills, 1)
	h.gone(t, "M")
	assert.Equal(t, []string{"alice 25"}, h.chain.transfers)
}

func TestProcessAmbiguousTransferIsNotRetried(t *testing.T) {
	h := newHarness()
	h.chain.sell("M", "alice", "50", "2")
	h.chain.buy("T", "bob", "100", "2")
	h.process(t, "M")

	h.chain.transferErr = fmt.Errorf("%w: read timeout", ledger.ErrUnconfirmed)
	out, err := h.orch.Process(context.Background(), "T")
	assert.ErrorIs(t, err, settlement.ErrPartialSettlement)
	assert.ErrorIs(t, err, settlement.ErrOutcomeUnknown)
	assert.NotErrorIs(t, err, settlement.ErrTransientIO)
	assert.Equal(t, StateFailed, out.State)
	assert.Equal(t, 1, h.chain.transferTries)
	assert.True(t, h.order(t, "M").Flagged)
	assert.True(t, h.order(t, "T").Flagged)

	h.chain.transferErr = nil
	out = h.process(t, "T")
	assert.True(t, out.Duplicate)
	assert.Empty(t, out.Fills)
	assert.Equal(t, 1, h.chain.transferTries, "the transfer is never sent again")
	assert.Empty(t, h.chain.invokes)
}
