// Package engine applies ordered transactions against the perpetual
// exchange state. Application is single-threaded: the sequencing layer
// orders transactions, the engine applies them one at a time, and every
// transaction either commits in full or leaves no trace.
package engine

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"perpcore/internal/book"
	"perpcore/internal/event"
	"perpcore/internal/observability"
	"perpcore/internal/state"
	"perpcore/internal/tx"
)

// Engine is the deterministic state-transition core. Not safe for
// concurrent use; callers serialize Apply/Commit.
type Engine struct {
	store   *state.Store
	books   map[state.MarketID]*book.Book
	sink    event.Sink
	log     zerolog.Logger
	metrics *observability.Metrics

	blockHeight uint64
	blockTime   uint64

	// Events staged by the current transaction; emitted only after the
	// transaction overlay commits.
	pending []event.Event
}

// New creates an engine over the given store. Call Recover before
// applying transactions so the books reflect persisted orders.
func New(store *state.Store, sink event.Sink, metrics *observability.Metrics) *Engine {
	if sink == nil {
		sink = event.Discard{}
	}
	if metrics == nil {
		metrics = observability.NopMetrics()
	}
	return &Engine{
		store:   store,
		books:   make(map[state.MarketID]*book.Book),
		sink:    sink,
		log:     observability.NewLogger("engine"),
		metrics: metrics,
	}
}

// BeginBlock sets the block context used for order timestamps and
// funding intervals.
func (e *Engine) BeginBlock(height, unixTime uint64) {
	e.blockHeight = height
	e.blockTime = unixTime
}

// Apply runs one transaction. On error nothing changed; on success all
// of the transaction's writes are in the working tree and its events
// have been published.
func (e *Engine) Apply(t tx.Tx) error {
	start := time.Now()
	txn := e.store.Begin()
	e.pending = e.pending[:0]

	err := e.dispatch(txn, t)
	if err != nil {
		txn.Discard()
		e.pending = e.pending[:0]
		e.metrics.TxRejected.WithLabelValues(t.Kind()).Inc()
		e.log.Debug().Str("kind", t.Kind()).Err(err).Msg("tx rejected")
		return err
	}
	if err := txn.Commit(); err != nil {
		// A failing tree write means the backing store is broken;
		// continuing would fork replicas.
		e.log.Error().Err(err).Msg("FATAL: state commit failed")
		panic(fmt.Sprintf("FATAL: state commit failed: %v", err))
	}

	for _, ev := range e.pending {
		e.sink.Publish(ev)
	}
	e.pending = e.pending[:0]
	e.metrics.TxProcessed.WithLabelValues(t.Kind()).Inc()
	e.metrics.TxDuration.WithLabelValues(t.Kind()).Observe(time.Since(start).Seconds())
	return nil
}

func (e *Engine) dispatch(txn *state.Txn, t tx.Tx) error {
	switch p := t.(type) {
	case tx.Deposit:
		return e.applyDeposit(txn, p)
	case tx.Withdraw:
		return e.applyWithdraw(txn, p)
	case tx.Transfer:
		return e.applyTransfer(txn, p)
	case tx.BridgeDeposit:
		return e.applyBridgeDeposit(txn, p)
	case tx.BridgeWithdraw:
		return e.applyBridgeWithdraw(txn, p)
	case tx.SetBridgeOperator:
		return e.applySetBridgeOperator(txn, p)
	case tx.RegisterAsset:
		return e.applyRegisterAsset(txn, p)
	case tx.CreateMarket:
		return e.applyCreateMarket(txn, p)
	case tx.PlaceOrder:
		return e.applyPlaceOrder(txn, p)
	case tx.CancelOrder:
		return e.applyCancelOrder(txn, p)
	case tx.ClosePosition:
		return e.applyClosePosition(txn, p)
	case tx.Liquidate:
		return e.applyLiquidate(txn, p)
	case tx.UpdateFunding:
		return e.applyUpdateFunding(txn, p)
	default:
		return fmt.Errorf("%w: unknown tx %T", ErrValidation, t)
	}
}

// Commit persists the working state as a new version and returns its
// authenticated root.
func (e *Engine) Commit() ([]byte, int64, error) {
	root, version, err := e.store.Commit()
	if err != nil {
		return nil, 0, err
	}
	e.metrics.CommittedVersion.Set(float64(version))
	return root, version, nil
}

func (e *Engine) emit(ev event.Event) {
	e.pending = append(e.pending, ev)
}

func (e *Engine) bookFor(id state.MarketID) *book.Book {
	b, ok := e.books[id]
	if !ok {
		b = book.New(id)
		e.books[id] = b
	}
	return b
}

// markPrice resolves the price used for margin, liquidation and
// synthetic closes: book midpoint when both sides are present,
// otherwise the last oracle-fed mark, tick-normalized.
func (e *Engine) markPrice(txn *state.Txn, m *state.Market) (uint64, error) {
	if mid, ok := e.bookFor(m.ID).MidPrice(); ok {
		return m.NormalizePrice(mid), nil
	}
	fs, err := txn.FundingState(m.ID)
	if err != nil {
		return 0, err
	}
	if fs != nil && fs.MarkPrice > 0 {
		return m.NormalizePrice(fs.MarkPrice), nil
	}
	return 0, fmt.Errorf("%w: no mark price for market %d", ErrValidation, m.ID)
}
