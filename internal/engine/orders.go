package engine

import (
	"fmt"
	"strconv"

	"perpcore/internal/event"
	"perpcore/internal/state"
	"perpcore/internal/tx"
)

func (e *Engine) applyPlaceOrder(txn *state.Txn, p tx.PlaceOrder) error {
	m, err := txn.Market(p.MarketID)
	if err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("%w: market %d", ErrNotFound, p.MarketID)
	}
	if err := e.validateOrder(txn, m, p); err != nil {
		return err
	}
	b := e.bookFor(m.ID)

	// Post-only must never take liquidity; reject before matching.
	if p.TIF == state.PostOnly && b.WouldMatch(p.Side, p.Price, p.Owner) {
		return fmt.Errorf("%w: post-only order would cross", ErrValidation)
	}

	id, err := txn.NextOrderID()
	if err != nil {
		return err
	}
	order := &state.Order{
		ID:         id,
		Owner:      p.Owner,
		MarketID:   p.MarketID,
		Side:       p.Side,
		Type:       p.Type,
		Price:      p.Price,
		Size:       p.Size,
		Remaining:  p.Size,
		TIF:        p.TIF,
		ReduceOnly: p.ReduceOnly,
		Status:     state.OrderActive,
		CreatedAt:  e.blockTime,
		Seq:        id,
	}

	plan := b.Match(order)

	// Fill-or-kill with a shortfall records a cancelled order and
	// nothing else; the matching pass leaves no trace.
	if p.TIF == state.FOK && plan.Remaining > 0 {
		order.Status = state.OrderCancelled
		txn.SetOrder(order)
		e.emit(event.OrderCancelled{Order: *order, Reason: "unfillable"})
		return nil
	}

	// Settle every fill in the transaction overlay before mutating the
	// book, so a failing balance or margin step rejects the whole
	// transaction with the book untouched.
	for _, f := range plan.Fills {
		if err := e.settleFill(txn, m, order.Owner, order.Side, f.Price, f.Size, m.TakerFeeBps); err != nil {
			return err
		}
		maker := b.Order(f.MakerOrderID)
		if maker == nil {
			return fmt.Errorf("%w: maker order %d missing from book", ErrStateInconsistency, f.MakerOrderID)
		}
		if err := e.settleFill(txn, m, maker.Owner, maker.Side, f.Price, f.Size, m.MakerFeeBps); err != nil {
			return err
		}

		updated := *maker
		updated.Remaining -= f.Size
		if updated.Remaining == 0 {
			updated.Status = state.OrderFilled
			if err := txn.RemoveActiveOrder(m.ID, updated.ID); err != nil {
				return err
			}
		}
		txn.SetOrder(&updated)
		e.emit(event.TradeExecuted{
			MarketID:     m.ID,
			TakerOrderID: order.ID,
			MakerOrderID: maker.ID,
			Taker:        order.Owner,
			Maker:        maker.Owner,
			TakerSide:    order.Side,
			Price:        f.Price,
			Size:         f.Size,
		})
	}

	order.Remaining = plan.Remaining
	rest := false
	switch {
	case plan.Remaining == 0:
		order.Status = state.OrderFilled
	case p.Type == state.MarketOrder || p.TIF == state.IOC:
		// Residual of a sweep never rests.
		order.Status = state.OrderCancelled
	default: // GTC, PostOnly
		rest = true
	}
	txn.SetOrder(order)
	if rest {
		if err := txn.AddActiveOrder(m.ID, order.ID); err != nil {
			return err
		}
	}

	// All overlay writes succeeded; book mutations cannot fail.
	b.Apply(plan)
	if rest {
		b.Insert(order)
		e.emit(event.OrderPlaced{Order: *order})
	} else if order.Status == state.OrderCancelled {
		e.emit(event.OrderCancelled{Order: *order, Reason: "residual"})
	}

	market := strconv.FormatUint(uint64(m.ID), 10)
	e.metrics.TradesExecuted.WithLabelValues(market).Add(float64(len(plan.Fills)))
	e.metrics.VolumeTraded.WithLabelValues(market).Add(float64(plan.Filled))
	e.metrics.OrdersResting.WithLabelValues(market).Set(float64(b.Len()))
	return nil
}

func (e *Engine) validateOrder(txn *state.Txn, m *state.Market, p tx.PlaceOrder) error {
	switch p.Type {
	case state.Limit:
		if !m.ValidatePrice(p.Price) {
			return fmt.Errorf("%w: price %d not a multiple of tick %d", ErrValidation, p.Price, m.TickSize)
		}
	case state.MarketOrder:
		if p.Price != 0 {
			return fmt.Errorf("%w: market order must carry zero price", ErrValidation)
		}
		if p.TIF == state.PostOnly {
			return fmt.Errorf("%w: market order cannot be post-only", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown order type", ErrValidation)
	}
	if !m.ValidateSize(p.Size) {
		return fmt.Errorf("%w: size %d outside [%d, %d]", ErrValidation, p.Size, m.MinOrderSize, m.MaxOrderSize)
	}

	if p.ReduceOnly {
		pos, err := txn.Position(p.Owner, m.ID)
		if err != nil {
			return err
		}
		if pos == nil || pos.Size == 0 {
			return fmt.Errorf("%w: reduce-only without a position", ErrValidation)
		}
		closing := state.Sell
		if !pos.IsLong {
			closing = state.Buy
		}
		if p.Side != closing {
			return fmt.Errorf("%w: reduce-only on the wrong side", ErrValidation)
		}
		if p.Size > pos.Size {
			return fmt.Errorf("%w: reduce-only size exceeds position", ErrValidation)
		}
		return nil
	}

	// Admission uses initial margin on the full order notional so a
	// freshly opened position is never immediately liquidatable.
	if p.Type == state.Limit {
		required, err := marginRequirement(p.Size, p.Price, m.InitialMarginBps)
		if err != nil {
			return err
		}
		bal, err := txn.Balance(p.Owner, m.QuoteAssetID)
		if err != nil {
			return err
		}
		if bal < required {
			return fmt.Errorf("%w: initial margin %d exceeds balance %d", ErrInsufficientBalance, required, bal)
		}
	}
	return nil
}

func (e *Engine) applyCancelOrder(txn *state.Txn, p tx.CancelOrder) error {
	order, err := txn.Order(p.OrderID)
	if err != nil {
		return err
	}
	if order == nil {
		return fmt.Errorf("%w: order %d", ErrNotFound, p.OrderID)
	}
	if order.Owner != p.Owner {
		return fmt.Errorf("%w: order %d belongs to another owner", ErrUnauthorized, p.OrderID)
	}
	if order.Status != state.OrderActive {
		return fmt.Errorf("%w: order %d is %s", ErrValidation, p.OrderID, order.Status)
	}

	order.Status = state.OrderCancelled
	txn.SetOrder(order)
	if err := txn.RemoveActiveOrder(order.MarketID, order.ID); err != nil {
		return err
	}

	b := e.bookFor(order.MarketID)
	b.Remove(order.ID)
	e.emit(event.OrderCancelled{Order: *order, Reason: "user"})
	e.metrics.OrdersResting.WithLabelValues(strconv.FormatUint(uint64(order.MarketID), 10)).Set(float64(b.Len()))
	return nil
}
