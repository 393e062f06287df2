package engine

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"

	"github.com/google/uuid"

	"perpcore/internal/event"
	"perpcore/internal/fpmath"
	"perpcore/internal/state"
	"perpcore/internal/tx"
)

// Liquidation fee split and partial-close tuning.
const (
	liquidatorFeeShareBps = 5_000 // remainder accrues to the insurance fund
	marginBufferBps       = 200   // partial close targets maintenance + buffer
	minLiquidationDivisor = 10    // never close less than 1/10 of the position
)

// applyLiquidate runs the liquidation state machine: evaluate the
// target at the tick-normalized mark, cancel its resting orders, close
// enough size to restore health, settle fees, draw the insurance fund
// for any shortfall, and escalate to auto-deleveraging when the fund is
// exhausted. All bookkeeping commits together or not at all.
func (e *Engine) applyLiquidate(txn *state.Txn, p tx.Liquidate) error {
	m, err := txn.Market(p.MarketID)
	if err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("%w: market %d", ErrNotFound, p.MarketID)
	}
	pos, err := txn.Position(p.Target, p.MarketID)
	if err != nil {
		return err
	}
	if pos == nil || pos.Size == 0 {
		return fmt.Errorf("%w: no position for target", ErrNotFound)
	}
	mark, err := e.markPrice(txn, m)
	if err != nil {
		return err
	}

	status, err := assess(pos, m, mark)
	if err != nil {
		return err
	}
	if status != Liquidatable {
		return fmt.Errorf("%w: position is %s at mark %d", ErrValidation, status, mark)
	}

	// Cancel the target's resting orders before touching the position.
	// Overlay writes happen now; the in-memory book is mutated only
	// once the whole liquidation has succeeded.
	b := e.bookFor(m.ID)
	cancelled := b.OrdersOwnedBy(p.Target)
	for _, id := range cancelled {
		order, err := txn.Order(id)
		if err != nil {
			return err
		}
		if order == nil || order.Status != state.OrderActive {
			continue
		}
		order.Status = state.OrderCancelled
		txn.SetOrder(order)
		if err := txn.RemoveActiveOrder(m.ID, id); err != nil {
			return err
		}
		e.emit(event.OrderCancelled{Order: *order, Reason: "liquidation"})
	}

	bankruptcy := bankruptcyPrice(pos)
	closeSize, err := partialLiquidationSize(pos, m, mark)
	if err != nil {
		return err
	}
	fullClose := closeSize >= pos.Size
	if fullClose {
		closeSize = pos.Size
	}

	outcome, err := e.closeLiquidated(txn, m, pos, p.Liquidator, mark, closeSize, fullClose)
	if err != nil {
		return err
	}

	adlCount := 0
	if outcome.uncovered > 0 {
		adlCount, err = e.autoDeleverage(txn, m, pos.IsLong, mark, bankruptcy, outcome.uncovered)
		if err != nil {
			return err
		}
		e.metrics.ADLTriggered.Inc()
	}

	// Overlay writes all succeeded, mutate the book.
	for _, id := range cancelled {
		b.Remove(id)
	}

	marketLabel := strconv.FormatUint(uint64(m.ID), 10)
	outcomeLabel := "resolved"
	if outcome.deficit > 0 {
		outcomeLabel = "fund_draw"
	}
	if adlCount > 0 {
		outcomeLabel = "adl"
	}
	e.metrics.Liquidations.WithLabelValues(marketLabel, outcomeLabel).Inc()
	e.metrics.OrdersResting.WithLabelValues(marketLabel).Set(float64(b.Len()))

	e.emit(event.Liquidation{
		Target:     p.Target,
		Liquidator: p.Liquidator,
		MarketID:   m.ID,
		ClosedSize: closeSize,
		MarkPrice:  mark,
		Deficit:    outcome.deficit,
		ADLCount:   adlCount,
		FullClose:  fullClose,
	})
	e.log.Info().
		Stringer("target", p.Target).
		Uint64("closed_size", closeSize).
		Uint64("mark", mark).
		Uint64("deficit", outcome.deficit).
		Int("adl_count", adlCount).
		Msg("liquidation settled")
	return nil
}

type liquidationOutcome struct {
	deficit   uint64 // loss + fee not covered by seized margin
	uncovered uint64 // deficit remaining after the insurance fund
}

// closeLiquidated closes closeSize of the target position at mark. The
// whole position margin backs the settlement: the realized loss pays
// into the settlement account first, then the liquidation fee (split
// liquidator/fund). On a full close any remaining equity returns to
// the target; on a partial close it stays as margin for the remainder,
// which is what restores the equity ratio. Shortfalls draw the
// insurance fund.
func (e *Engine) closeLiquidated(txn *state.Txn, m *state.Market, pos *state.Position, liquidator uuid.UUID, mark, closeSize uint64, fullClose bool) (liquidationOutcome, error) {
	var out liquidationOutcome
	asset := m.QuoteAssetID

	realized, ok := fpmath.SignedPnL(pos.IsLong, pos.EntryPrice, mark, closeSize)
	if !ok {
		return out, fmt.Errorf("%w: realized pnl", ErrOverflow)
	}
	notional, ok := fpmath.Notional(closeSize, mark)
	if !ok {
		return out, fmt.Errorf("%w: close notional", ErrOverflow)
	}
	fee, ok := fpmath.FeeOf(notional, m.LiquidationFeeBps)
	if !ok {
		return out, fmt.Errorf("%w: liquidation fee", ErrOverflow)
	}

	fund, err := txn.InsuranceFund(asset)
	if err != nil {
		return out, err
	}
	settle, err := txn.Settlement(asset)
	if err != nil {
		return out, err
	}

	// The full position margin is the cash at hand. The realized loss
	// is paid into the settlement account from cash, then the fund; a
	// profit (possible when margin was drained by funding) draws from
	// settlement into cash.
	cash := pos.Margin
	if realized >= 0 {
		settle -= realized
		next, ok := fpmath.AddU64(cash, uint64(realized))
		if !ok {
			return out, fmt.Errorf("%w: liquidation proceeds", ErrOverflow)
		}
		cash = next
	} else {
		loss := uint64(-realized)
		paid := loss
		if paid > cash {
			paid = cash
		}
		cash -= paid
		settle += int64(paid)
		if shortfall := loss - paid; shortfall > 0 {
			fromFund := shortfall
			if fromFund > fund.Balance {
				fromFund = fund.Balance
			}
			fund.Balance -= fromFund
			fund.TotalPayouts += fromFund
			settle += int64(fromFund)
			out.deficit += shortfall
			out.uncovered += shortfall - fromFund
		}
	}

	// Liquidation fee, from remaining cash then the fund. Whatever is
	// actually collected splits between the liquidator and the fund.
	feeFromCash := fee
	if feeFromCash > cash {
		feeFromCash = cash
	}
	cash -= feeFromCash
	feeFromFund := fee - feeFromCash
	if feeFromFund > fund.Balance {
		feeFromFund = fund.Balance
	}
	fund.Balance -= feeFromFund
	fund.TotalPayouts += feeFromFund
	feePaid := feeFromCash + feeFromFund
	if short := fee - feePaid; short > 0 {
		out.deficit += short
		out.uncovered += short
	}

	reward, _ := fpmath.MulDivU64(feePaid, liquidatorFeeShareBps, fpmath.BasisPoints, fpmath.RoundDown)
	contribution := feePaid - reward
	if reward > 0 {
		if err := e.credit(txn, liquidator, asset, reward, "liquidation_reward"); err != nil {
			return out, err
		}
	}
	fund.Balance += contribution
	fund.TotalContributions += contribution

	txn.SetInsuranceFund(fund)
	txn.SetSettlement(asset, settle)
	e.metrics.InsuranceBalance.WithLabelValues(strconv.FormatUint(uint64(asset), 10)).Set(float64(fund.Balance))

	pos.Size -= closeSize
	if fullClose {
		// Remaining equity goes back to the target.
		if cash > 0 {
			if err := e.credit(txn, pos.Owner, asset, cash, "liquidation_remainder"); err != nil {
				return out, err
			}
		}
		pos.Margin = 0
		txn.DeletePosition(pos.Owner, pos.MarketID)
		if err := txn.RemovePositionOwner(pos.MarketID, pos.Owner); err != nil {
			return out, err
		}
	} else {
		pos.Margin = cash
		txn.SetPosition(pos)
	}
	e.emit(event.PositionChanged{
		Owner: pos.Owner, MarketID: m.ID, Size: pos.Size,
		EntryPrice: pos.EntryPrice, Margin: pos.Margin, IsLong: pos.IsLong,
		RealizedPnL: realized,
	})
	return out, nil
}

// partialLiquidationSize returns how much of the position to close so
// the remainder sits above maintenance plus a buffer. Closing s units
// charges only the fee against equity while the requirement shrinks by
// the per-unit target requirement, so the smallest restoring size is
// ceil(deficit / (targetPerUnit - feePerUnit)). Bounds: at least a
// tenth of the position (and the market's minimum order size), full
// close when the remainder would be dust or equity is already gone.
func partialLiquidationSize(pos *state.Position, m *state.Market, mark uint64) (uint64, error) {
	eq, err := equity(pos, mark)
	if err != nil {
		return 0, err
	}
	if eq <= 0 {
		return pos.Size, nil
	}
	targetBps := uint32(marginBufferBps) + m.MaintenanceMarginBps
	required, err := marginRequirement(pos.Size, mark, targetBps)
	if err != nil {
		return 0, err
	}
	if uint64(eq) >= required {
		return 0, nil
	}
	deficit := required - uint64(eq)

	targetPerUnit, ok := fpmath.MulDivU64(mark, uint64(targetBps), fpmath.BasisPoints, fpmath.RoundDown)
	if !ok {
		return 0, fmt.Errorf("%w: liquidation size", ErrOverflow)
	}
	feePerUnit, ok := fpmath.MulDivU64(mark, uint64(m.LiquidationFeeBps), fpmath.BasisPoints, fpmath.RoundHalfEven)
	if !ok {
		return 0, fmt.Errorf("%w: liquidation size", ErrOverflow)
	}
	if targetPerUnit <= feePerUnit {
		// The fee eats the requirement relief; no partial size helps.
		return pos.Size, nil
	}
	perUnit := targetPerUnit - feePerUnit
	size := (deficit + perUnit - 1) / perUnit

	minClose := pos.Size / minLiquidationDivisor
	if minClose < m.MinOrderSize {
		minClose = m.MinOrderSize
	}
	if size < minClose {
		size = minClose
	}
	if size > pos.Size {
		size = pos.Size
	}
	if rem := pos.Size - size; rem > 0 && rem < m.MinOrderSize {
		return pos.Size, nil
	}
	return size, nil
}

type adlCandidate struct {
	owner uuid.UUID
	pos   *state.Position
	score int64 // unrealized pnl scaled by leverage
}

// autoDeleverage forcibly closes profitable positions opposing the
// liquidated side at the bankruptcy price, highest profit-to-margin
// ratio first, until their forfeited profit covers the uncovered loss.
// Never skipped when bad debt exceeds fund capacity; running out of
// candidates is logged and the residue stays visible in the settlement
// account.
func (e *Engine) autoDeleverage(txn *state.Txn, m *state.Market, targetWasLong bool, mark, bankruptcy, uncovered uint64) (int, error) {
	// Profit forfeited per closed unit is the gap between mark and the
	// target's bankruptcy price.
	var perUnit uint64
	if bankruptcy > mark {
		perUnit = bankruptcy - mark
	} else {
		perUnit = mark - bankruptcy
	}
	if perUnit == 0 {
		e.log.Warn().Uint64("uncovered", uncovered).Msg("adl cannot recover at zero price gap")
		return 0, nil
	}

	owners, err := txn.PositionOwners(m.ID)
	if err != nil {
		return 0, err
	}
	var candidates []adlCandidate
	for _, owner := range owners {
		pos, err := txn.Position(owner, m.ID)
		if err != nil {
			return 0, err
		}
		if pos == nil || pos.Size == 0 || pos.IsLong == targetWasLong {
			continue
		}
		upnl, ok := fpmath.SignedPnL(pos.IsLong, pos.EntryPrice, mark, pos.Size)
		if !ok || upnl <= 0 {
			continue
		}
		eq, err := equity(pos, mark)
		if err != nil || eq <= 0 {
			continue
		}
		notional, ok := fpmath.Notional(pos.Size, mark)
		if !ok {
			continue
		}
		leverage, ok := fpmath.MulDivU64(notional, fpmath.BasisPoints, uint64(eq), fpmath.RoundDown)
		if !ok {
			continue
		}
		score, ok := fpmath.MulDivU64(uint64(upnl), leverage, fpmath.BasisPoints, fpmath.RoundDown)
		if !ok {
			score = ^uint64(0) >> 1
		}
		candidates = append(candidates, adlCandidate{owner: owner, pos: pos, score: int64(score)})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return bytes.Compare(candidates[i].owner[:], candidates[j].owner[:]) < 0
	})

	count := 0
	remaining := uncovered
	for _, c := range candidates {
		if remaining == 0 {
			break
		}
		need := (remaining + perUnit - 1) / perUnit
		closeSize := need
		if closeSize > c.pos.Size {
			closeSize = c.pos.Size
		}
		if _, err := e.reducePosition(txn, m, c.pos, bankruptcy, closeSize); err != nil {
			return count, err
		}
		e.emit(event.PositionChanged{
			Owner: c.owner, MarketID: m.ID, Size: c.pos.Size,
			EntryPrice: c.pos.EntryPrice, Margin: c.pos.Margin, IsLong: c.pos.IsLong,
		})
		forfeited, _ := fpmath.MulU64(closeSize, perUnit)
		if forfeited >= remaining {
			remaining = 0
		} else {
			remaining -= forfeited
		}
		count++
	}
	if remaining > 0 {
		e.log.Warn().Uint64("uncovered", remaining).Msg("adl exhausted candidates with bad debt remaining")
	}
	return count, nil
}
