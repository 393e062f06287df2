package engine

import (
	"fmt"
	"math"

	"perpcore/internal/fpmath"
	"perpcore/internal/state"
)

// MarginStatus classifies a position against its margin requirements.
type MarginStatus int

const (
	Healthy MarginStatus = iota
	AtRisk
	Liquidatable
)

func (s MarginStatus) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case AtRisk:
		return "at_risk"
	case Liquidatable:
		return "liquidatable"
	}
	return "unknown"
}

// equity returns margin + unrealized PnL at the mark price. May be
// negative when losses exceed margin.
func equity(p *state.Position, mark uint64) (int64, error) {
	upnl, ok := fpmath.SignedPnL(p.IsLong, p.EntryPrice, mark, p.Size)
	if !ok {
		return 0, fmt.Errorf("%w: unrealized pnl", ErrOverflow)
	}
	if p.Margin > math.MaxInt64 {
		return 0, fmt.Errorf("%w: margin", ErrOverflow)
	}
	eq := int64(p.Margin) + upnl
	if upnl > 0 && eq < int64(p.Margin) {
		return 0, fmt.Errorf("%w: equity", ErrOverflow)
	}
	return eq, nil
}

// marginRequirement returns notional(size, mark) * ratioBps / 10000.
func marginRequirement(size, mark uint64, ratioBps uint32) (uint64, error) {
	notional, ok := fpmath.Notional(size, mark)
	if !ok {
		return 0, fmt.Errorf("%w: notional", ErrOverflow)
	}
	req, ok := fpmath.MulDivU64(notional, uint64(ratioBps), fpmath.BasisPoints, fpmath.RoundHalfEven)
	if !ok {
		return 0, fmt.Errorf("%w: margin requirement", ErrOverflow)
	}
	return req, nil
}

// assess returns the position's margin status at the mark price.
// Liquidatable when equity < maintenance requirement; AtRisk when below
// the initial requirement.
func assess(p *state.Position, m *state.Market, mark uint64) (MarginStatus, error) {
	if p == nil || p.Size == 0 {
		return Healthy, nil
	}
	eq, err := equity(p, mark)
	if err != nil {
		return Healthy, err
	}
	maint, err := marginRequirement(p.Size, mark, m.MaintenanceMarginBps)
	if err != nil {
		return Healthy, err
	}
	if eq < 0 || uint64(eq) < maint {
		return Liquidatable, nil
	}
	initial, err := marginRequirement(p.Size, mark, m.InitialMarginBps)
	if err != nil {
		return Healthy, err
	}
	if uint64(eq) < initial {
		return AtRisk, nil
	}
	return Healthy, nil
}

// bankruptcyPrice returns the price at which the position's equity hits
// zero: entry -/+ margin per unit for long/short. Used by ADL.
func bankruptcyPrice(p *state.Position) uint64 {
	if p.Size == 0 {
		return p.EntryPrice
	}
	perUnit := p.Margin / p.Size
	if p.IsLong {
		if p.EntryPrice < perUnit {
			return 0
		}
		return p.EntryPrice - perUnit
	}
	return p.EntryPrice + perUnit
}
