package engine

import (
	"fmt"
	"strconv"

	"perpcore/internal/book"
	"perpcore/internal/event"
	"perpcore/internal/state"
)

// Recover rebuilds every market's in-memory book from the persisted
// order records. The active-orders index bounds the work; entries that
// no longer describe a live order (filled or cancelled but still
// indexed) are stripped from the index and logged rather than treated
// as fatal. Idempotent: running it again with no intervening
// transactions yields an identical book.
func (e *Engine) Recover() error {
	txn := e.store.Begin()
	markets, err := txn.Markets()
	if err != nil {
		return fmt.Errorf("recover: list markets: %w", err)
	}

	books := make(map[state.MarketID]*book.Book, len(markets))
	for _, id := range markets {
		b := book.New(id)
		ids, err := txn.ActiveOrders(id)
		if err != nil {
			return fmt.Errorf("recover market %d: %w", id, err)
		}
		restored, dropped := 0, 0
		for _, orderID := range ids {
			order, err := txn.Order(orderID)
			if err != nil {
				return fmt.Errorf("recover order %d: %w", orderID, err)
			}
			if order == nil || order.Status != state.OrderActive || order.Remaining == 0 {
				// Self-heal: the index drifted from the records.
				if err := txn.RemoveActiveOrder(id, orderID); err != nil {
					return err
				}
				dropped++
				e.log.Warn().
					Uint64("order_id", orderID).
					Uint32("market_id", uint32(id)).
					Err(ErrStateInconsistency).
					Msg("dropped stale active-index entry")
				continue
			}
			// Ids are allocated in arrival order, and the index is
			// id-sorted, so insertion restores price-time priority.
			b.Insert(order)
			restored++
		}
		books[id] = b

		label := strconv.FormatUint(uint64(id), 10)
		e.metrics.RecoveryRestored.WithLabelValues(label).Add(float64(restored))
		e.metrics.RecoveryDropped.WithLabelValues(label).Add(float64(dropped))
		e.metrics.OrdersResting.WithLabelValues(label).Set(float64(b.Len()))
		e.sink.Publish(event.BookRebuilt{MarketID: id, Restored: restored, Dropped: dropped})
		e.log.Info().
			Uint32("market_id", uint32(id)).
			Int("restored", restored).
			Int("dropped", dropped).
			Msg("order book rebuilt")
	}

	if err := txn.Commit(); err != nil {
		return fmt.Errorf("recover: commit heals: %w", err)
	}
	e.books = books
	return nil
}
