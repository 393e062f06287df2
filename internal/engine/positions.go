package engine

import (
	"fmt"

	"github.com/google/uuid"

	"perpcore/internal/event"
	"perpcore/internal/fpmath"
	"perpcore/internal/state"
	"perpcore/internal/tx"
)

// settleFill applies one fill of size at price to owner's position in
// market m: opening, increasing, reducing, closing, or flipping it.
// Margin moves between free balance and the position; realized PnL
// nets against the quote asset's settlement account so the per-asset
// balance sum is conserved. feeBps is charged on the fill notional and
// accrues to the fee collector.
func (e *Engine) settleFill(txn *state.Txn, m *state.Market, owner uuid.UUID, side state.Side, price, size uint64, feeBps uint32) error {
	if size == 0 {
		return nil
	}
	asset := m.QuoteAssetID
	notional, ok := fpmath.Notional(size, price)
	if !ok {
		return fmt.Errorf("%w: fill notional", ErrOverflow)
	}
	fee, ok := fpmath.FeeOf(notional, feeBps)
	if !ok {
		return fmt.Errorf("%w: fee", ErrOverflow)
	}

	pos, err := txn.Position(owner, m.ID)
	if err != nil {
		return err
	}
	isBuy := side == state.Buy

	var realized int64
	switch {
	case pos == nil:
		pos, err = e.openPosition(txn, m, owner, isBuy, price, size)
	case pos.IsLong == isBuy:
		err = e.increasePosition(txn, m, pos, price, size)
	case size <= pos.Size:
		realized, err = e.reducePosition(txn, m, pos, price, size)
		if err == nil && pos.Size == 0 {
			pos = nil
		}
	default:
		// Flip: close the whole position, open the remainder the
		// other way.
		flipOpen := size - pos.Size
		realized, err = e.reducePosition(txn, m, pos, price, pos.Size)
		if err == nil {
			pos, err = e.openPosition(txn, m, owner, isBuy, price, flipOpen)
		}
	}
	if err != nil {
		return err
	}

	if fee > 0 {
		if err := e.debit(txn, owner, asset, fee, "trade_fee"); err != nil {
			return err
		}
		collected, err := txn.FeeCollector(asset)
		if err != nil {
			return err
		}
		next, ok := fpmath.AddU64(collected, fee)
		if !ok {
			return fmt.Errorf("%w: fee collector", ErrOverflow)
		}
		txn.SetFeeCollector(asset, next)
	}

	ev := event.PositionChanged{Owner: owner, MarketID: m.ID, RealizedPnL: realized}
	if pos != nil {
		ev.Size = pos.Size
		ev.EntryPrice = pos.EntryPrice
		ev.Margin = pos.Margin
		ev.IsLong = pos.IsLong
	}
	e.emit(ev)
	return nil
}

// openPosition locks initial margin out of free balance and creates the
// position.
func (e *Engine) openPosition(txn *state.Txn, m *state.Market, owner uuid.UUID, isLong bool, price, size uint64) (*state.Position, error) {
	margin, err := marginRequirement(size, price, m.InitialMarginBps)
	if err != nil {
		return nil, err
	}
	if err := e.debit(txn, owner, m.QuoteAssetID, margin, "margin_lock"); err != nil {
		return nil, err
	}
	pos := &state.Position{
		Owner:      owner,
		MarketID:   m.ID,
		Size:       size,
		EntryPrice: price,
		Margin:     margin,
		IsLong:     isLong,
	}
	txn.SetPosition(pos)
	if err := txn.AddPositionOwner(m.ID, owner); err != nil {
		return nil, err
	}
	return pos, nil
}

// increasePosition adds size at price, locking additional initial
// margin and re-averaging the entry price.
func (e *Engine) increasePosition(txn *state.Txn, m *state.Market, pos *state.Position, price, size uint64) error {
	addMargin, err := marginRequirement(size, price, m.InitialMarginBps)
	if err != nil {
		return err
	}
	newEntry, ok := fpmath.WeightedAvgPrice(pos.Size, pos.EntryPrice, size, price)
	if !ok {
		return fmt.Errorf("%w: entry price", ErrOverflow)
	}
	newSize, ok := fpmath.AddU64(pos.Size, size)
	if !ok {
		return fmt.Errorf("%w: position size", ErrOverflow)
	}
	newMargin, ok := fpmath.AddU64(pos.Margin, addMargin)
	if !ok {
		return fmt.Errorf("%w: position margin", ErrOverflow)
	}
	if err := e.debit(txn, pos.Owner, m.QuoteAssetID, addMargin, "margin_lock"); err != nil {
		return err
	}
	pos.Size = newSize
	pos.EntryPrice = newEntry
	pos.Margin = newMargin
	txn.SetPosition(pos)
	return nil
}

// reducePosition closes size of the position at price. Proportional
// margin is released and realized PnL, capped below at the released
// margin, settles against the settlement account. Returns the realized
// PnL actually settled.
func (e *Engine) reducePosition(txn *state.Txn, m *state.Market, pos *state.Position, price, size uint64) (int64, error) {
	if size > pos.Size {
		return 0, fmt.Errorf("%w: reduce size exceeds position", ErrValidation)
	}
	released := pos.Margin
	if size < pos.Size {
		var ok bool
		released, ok = fpmath.ProportionalShare(pos.Margin, size, pos.Size)
		if !ok {
			return 0, fmt.Errorf("%w: margin release", ErrOverflow)
		}
	}
	realized, ok := fpmath.SignedPnL(pos.IsLong, pos.EntryPrice, price, size)
	if !ok {
		return 0, fmt.Errorf("%w: realized pnl", ErrOverflow)
	}
	// A loss can consume at most the released margin; anything beyond
	// is bad debt handled by the liquidation path.
	if realized < -int64(released) {
		realized = -int64(released)
	}

	credit := uint64(int64(released) + realized)
	if credit > 0 {
		if err := e.credit(txn, pos.Owner, m.QuoteAssetID, credit, "position_close"); err != nil {
			return 0, err
		}
	}
	settle, err := txn.Settlement(m.QuoteAssetID)
	if err != nil {
		return 0, err
	}
	txn.SetSettlement(m.QuoteAssetID, settle-realized)

	pos.Size -= size
	pos.Margin -= released
	if pos.Size == 0 {
		txn.DeletePosition(pos.Owner, pos.MarketID)
		if err := txn.RemovePositionOwner(pos.MarketID, pos.Owner); err != nil {
			return 0, err
		}
	} else {
		txn.SetPosition(pos)
	}
	return realized, nil
}

// applyClosePosition closes up to the requested size at the mark price
// without touching the book. A zero size closes the whole position.
func (e *Engine) applyClosePosition(txn *state.Txn, p tx.ClosePosition) error {
	m, err := txn.Market(p.MarketID)
	if err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("%w: market %d", ErrNotFound, p.MarketID)
	}
	pos, err := txn.Position(p.Owner, p.MarketID)
	if err != nil {
		return err
	}
	if pos == nil || pos.Size == 0 {
		return fmt.Errorf("%w: no position in market %d", ErrNotFound, p.MarketID)
	}
	size := p.Size
	if size == 0 || size > pos.Size {
		size = pos.Size
	}
	mark, err := e.markPrice(txn, m)
	if err != nil {
		return err
	}
	side := state.Sell
	if !pos.IsLong {
		side = state.Buy
	}
	return e.settleFill(txn, m, p.Owner, side, mark, size, m.TakerFeeBps)
}
