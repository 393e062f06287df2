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

// applyUpdateFunding feeds a fresh oracle price and settles funding for
// the elapsed fraction of the interval. The rate is the mark/oracle
// premium in basis points, clamped to the market cap. A positive rate
// (mark above oracle) has longs pay shorts; negative, the reverse.
// Settlement is zero-sum: payments collect into a pool debited from
// payers' position margin and the pool distributes pro rata to the
// other side, residual to the last receiver in owner order.
func (e *Engine) applyUpdateFunding(txn *state.Txn, p tx.UpdateFunding) error {
	m, err := txn.Market(p.MarketID)
	if err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("%w: market %d", ErrNotFound, p.MarketID)
	}
	if p.OraclePrice == 0 {
		return fmt.Errorf("%w: zero oracle price", ErrValidation)
	}
	fs, err := txn.FundingState(m.ID)
	if err != nil {
		return err
	}
	if fs == nil {
		fs = &state.FundingState{MarketID: m.ID, LastUpdate: e.blockTime}
	}

	oracle := m.NormalizePrice(p.OraclePrice)
	mark := oracle
	if mid, ok := e.bookFor(m.ID).MidPrice(); ok {
		mark = m.NormalizePrice(mid)
	}

	rate := fundingRateBps(mark, oracle, m.MaxFundingRateBps)
	var elapsed uint64
	if e.blockTime > fs.LastUpdate {
		elapsed = e.blockTime - fs.LastUpdate
	}
	if elapsed > m.FundingIntervalSecs {
		elapsed = m.FundingIntervalSecs
	}
	// Scale by the elapsed fraction of the interval.
	applied := rate * int64(elapsed) / int64(m.FundingIntervalSecs)

	settled := 0
	if applied != 0 {
		settled, err = e.settleFunding(txn, m, mark, applied)
		if err != nil {
			return err
		}
	}
	if applied != 0 || fs.LastUpdate == 0 {
		fs.LastUpdate = e.blockTime
	}
	fs.RateBps = applied
	fs.CumulativeIndex += applied
	fs.MarkPrice = mark
	fs.OraclePrice = oracle
	txn.SetFundingState(fs)

	e.metrics.FundingRateBps.WithLabelValues(strconv.FormatUint(uint64(m.ID), 10)).Set(float64(applied))
	e.emit(event.FundingApplied{
		MarketID:        m.ID,
		RateBps:         applied,
		CumulativeIndex: fs.CumulativeIndex,
		MarkPrice:       mark,
		OraclePrice:     oracle,
		Positions:       settled,
	})
	return nil
}

// fundingRateBps returns the mark/oracle premium in signed basis
// points, clamped to +/- cap.
func fundingRateBps(mark, oracle uint64, capBps uint32) int64 {
	var premium int64
	if mark >= oracle {
		diff, ok := fpmath.MulDivU64(mark-oracle, fpmath.BasisPoints, oracle, fpmath.RoundHalfEven)
		if !ok {
			diff = uint64(capBps)
		}
		premium = int64(diff)
	} else {
		diff, ok := fpmath.MulDivU64(oracle-mark, fpmath.BasisPoints, oracle, fpmath.RoundHalfEven)
		if !ok {
			diff = uint64(capBps)
		}
		premium = -int64(diff)
	}
	if premium > int64(capBps) {
		premium = int64(capBps)
	}
	if premium < -int64(capBps) {
		premium = -int64(capBps)
	}
	return premium
}

type fundingLeg struct {
	owner   uuid.UUID
	pos     *state.Position
	payment uint64
}

// settleFunding moves one funding payment between the two sides of the
// market. Returns the number of positions touched.
func (e *Engine) settleFunding(txn *state.Txn, m *state.Market, mark uint64, rate int64) (int, error) {
	owners, err := txn.PositionOwners(m.ID)
	if err != nil {
		return 0, err
	}
	longsPay := rate > 0
	magnitude := uint64(rate)
	if rate < 0 {
		magnitude = uint64(-rate)
	}

	var payers, receivers []fundingLeg
	for _, owner := range owners {
		pos, err := txn.Position(owner, m.ID)
		if err != nil {
			return 0, err
		}
		if pos == nil || pos.Size == 0 {
			continue
		}
		notional, ok := fpmath.Notional(pos.Size, mark)
		if !ok {
			return 0, fmt.Errorf("%w: funding notional", ErrOverflow)
		}
		payment, ok := fpmath.MulDivU64(notional, magnitude, fpmath.BasisPoints, fpmath.RoundDown)
		if !ok {
			return 0, fmt.Errorf("%w: funding payment", ErrOverflow)
		}
		leg := fundingLeg{owner: owner, pos: pos, payment: payment}
		if pos.IsLong == longsPay {
			payers = append(payers, leg)
		} else {
			receivers = append(receivers, leg)
		}
	}
	// One-sided markets exchange nothing; the rate is still recorded.
	if len(payers) == 0 || len(receivers) == 0 {
		return 0, nil
	}

	// Collect from payers, capped at their margin.
	var pool, receiverWeight uint64
	for i := range payers {
		pay := payers[i].payment
		if pay > payers[i].pos.Margin {
			pay = payers[i].pos.Margin
		}
		payers[i].pos.Margin -= pay
		pool += pay
		txn.SetPosition(payers[i].pos)
	}
	for _, r := range receivers {
		receiverWeight += r.payment
	}
	if pool == 0 || receiverWeight == 0 {
		return len(payers), nil
	}

	// Distribute pro rata; the rounding residual lands on the last
	// receiver in sorted owner order so the transfer is exactly
	// zero-sum.
	sort.Slice(receivers, func(i, j int) bool {
		return bytes.Compare(receivers[i].owner[:], receivers[j].owner[:]) < 0
	})
	var distributed uint64
	for i := range receivers {
		var share uint64
		if i == len(receivers)-1 {
			share = pool - distributed
		} else {
			var ok bool
			share, ok = fpmath.MulDivU64(pool, receivers[i].payment, receiverWeight, fpmath.RoundDown)
			if !ok {
				return 0, fmt.Errorf("%w: funding share", ErrOverflow)
			}
		}
		next, ok := fpmath.AddU64(receivers[i].pos.Margin, share)
		if !ok {
			return 0, fmt.Errorf("%w: funding credit", ErrOverflow)
		}
		receivers[i].pos.Margin = next
		distributed += share
		txn.SetPosition(receivers[i].pos)
	}
	return len(payers) + len(receivers), nil
}
