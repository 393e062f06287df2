package engine

import (
	"errors"
	"testing"

	"perpcore/internal/event"
	"perpcore/internal/state"
	"perpcore/internal/tx"
)

func TestFundingRateBps(t *testing.T) {
	cases := []struct {
		mark, oracle uint64
		cap          uint32
		want         int64
	}{
		{51_000, 50_000, 1_000, 200},
		{49_000, 50_000, 1_000, -200},
		{50_000, 50_000, 1_000, 0},
		{60_000, 50_000, 1_000, 1_000},
		{10_000, 50_000, 1_000, -1_000},
		{51_000, 52_000, 1_000, -192},
	}
	for _, c := range cases {
		if got := fundingRateBps(c.mark, c.oracle, c.cap); got != c.want {
			t.Errorf("rate(%d, %d, %d) = %d, want %d", c.mark, c.oracle, c.cap, got, c.want)
		}
	}
}

func TestFundingTransfersLongToShort(t *testing.T) {
	e, rec := newTestEngine(t)
	deposit(t, e, alice, 1_000_000)
	deposit(t, e, bob, 1_000_000)
	deposit(t, e, carol, 10_000)
	deposit(t, e, dave, 10_000)
	openPair(t, e, 50_000, 10)

	// Resting 50000 bid / 52000 ask put the mid at 51000, a 200 bps
	// premium over the oracle.
	mustApply(t, e, limitOrder(carol, state.Buy, 50_000, 1))
	mustApply(t, e, limitOrder(dave, state.Sell, 52_000, 1))

	e.BeginBlock(2, genesisTime+3_600)
	mustApply(t, e, tx.UpdateFunding{MarketID: btcPerp, OraclePrice: 50_000})

	// Alice pays 510000 * 200 / 10000 out of position margin.
	ap := position(t, e, alice)
	if ap.Margin != 39_800 {
		t.Errorf("payer margin = %d", ap.Margin)
	}
	bp := position(t, e, bob)
	if bp.Margin != 60_200 {
		t.Errorf("receiver margin = %d", bp.Margin)
	}
	if ap.Margin+bp.Margin != 100_000 {
		t.Errorf("funding not zero-sum: %d + %d", ap.Margin, bp.Margin)
	}

	fs, err := e.QueryFunding(btcPerp)
	if err != nil {
		t.Fatal(err)
	}
	if fs.RateBps != 200 || fs.CumulativeIndex != 200 || fs.MarkPrice != 51_000 || fs.OraclePrice != 50_000 {
		t.Errorf("funding state = %+v", fs)
	}
	if fs.LastUpdate != genesisTime+3_600 {
		t.Errorf("last update = %d", fs.LastUpdate)
	}

	evs := rec.OfType("funding_applied")
	fa := evs[len(evs)-1].(event.FundingApplied)
	if fa.RateBps != 200 || fa.Positions != 2 {
		t.Errorf("event = %+v", fa)
	}
	checkConserved(t, e, 2_020_000)

	// Zero elapsed time accrues nothing.
	mustApply(t, e, tx.UpdateFunding{MarketID: btcPerp, OraclePrice: 50_000})
	fs, _ = e.QueryFunding(btcPerp)
	if fs.RateBps != 0 || fs.CumulativeIndex != 200 {
		t.Errorf("repeat state = %+v", fs)
	}
	if got := position(t, e, alice).Margin; got != 39_800 {
		t.Errorf("margin moved with zero elapsed: %d", got)
	}
}

func TestFundingNegativeRateProRata(t *testing.T) {
	e, _ := newTestEngine(t)
	deposit(t, e, alice, 1_000_000)
	deposit(t, e, bob, 1_000_000)
	deposit(t, e, carol, 1_000_000)
	deposit(t, e, dave, 10_000)

	// Two longs against one short.
	mustApply(t, e, limitOrder(alice, state.Buy, 50_000, 5))
	mustApply(t, e, limitOrder(carol, state.Buy, 50_000, 4))
	mustApply(t, e, limitOrder(bob, state.Sell, 50_000, 9))

	mustApply(t, e, limitOrder(alice, state.Buy, 50_000, 1))
	mustApply(t, e, limitOrder(dave, state.Sell, 52_000, 1))

	// Mark 51000 under a 52000 oracle: shorts pay longs 192 bps.
	e.BeginBlock(2, genesisTime+3_600)
	mustApply(t, e, tx.UpdateFunding{MarketID: btcPerp, OraclePrice: 52_000})

	bp := position(t, e, bob)
	if bp.Margin != 22_500-8_812 {
		t.Errorf("payer margin = %d", bp.Margin)
	}
	ap := position(t, e, alice)
	cp := position(t, e, carol)
	if ap.Margin != 25_000+4_896 {
		t.Errorf("alice margin = %d", ap.Margin)
	}
	if cp.Margin != 20_000+3_916 {
		t.Errorf("carol margin = %d", cp.Margin)
	}
	if ap.Margin+cp.Margin+bp.Margin != 67_500 {
		t.Error("funding not zero-sum")
	}
	checkConserved(t, e, 3_010_000)
}

func TestFundingOneSidedMarketMovesNothing(t *testing.T) {
	e, _ := newTestEngine(t)
	deposit(t, e, alice, 1_000_000)
	deposit(t, e, bob, 1_000_000)
	deposit(t, e, carol, 10_000)
	deposit(t, e, dave, 10_000)
	openPair(t, e, 50_000, 10)

	// Bob's synthetic close leaves alice alone on the long side.
	setMark(t, e, 50_000)
	mustApply(t, e, tx.ClosePosition{Owner: bob, MarketID: btcPerp})

	mustApply(t, e, limitOrder(carol, state.Buy, 50_000, 1))
	mustApply(t, e, limitOrder(dave, state.Sell, 52_000, 1))
	e.BeginBlock(2, genesisTime+3_600)
	mustApply(t, e, tx.UpdateFunding{MarketID: btcPerp, OraclePrice: 50_000})

	if got := position(t, e, alice).Margin; got != 50_000 {
		t.Errorf("one-sided funding moved margin: %d", got)
	}
	fs, _ := e.QueryFunding(btcPerp)
	if fs.RateBps != 200 {
		t.Errorf("rate not recorded: %+v", fs)
	}
}

func TestFundingPaymentCappedAtMargin(t *testing.T) {
	e, _ := newTestEngine(t)
	deposit(t, e, alice, 1_000_000)
	deposit(t, e, bob, 1_000_000)
	deposit(t, e, carol, 10_000)
	deposit(t, e, dave, 10_000)
	openPair(t, e, 50_000, 10)

	// Drain most of alice's margin through repeated max-rate intervals;
	// the debit never exceeds what remains.
	mustApply(t, e, limitOrder(carol, state.Buy, 50_000, 1))
	mustApply(t, e, limitOrder(dave, state.Sell, 70_000, 1))

	deposited := uint64(2_020_000)
	for i := uint64(1); i <= 12; i++ {
		e.BeginBlock(1+i, genesisTime+i*3_600)
		mustApply(t, e, tx.UpdateFunding{MarketID: btcPerp, OraclePrice: 50_000})
	}
	ap := position(t, e, alice)
	bp := position(t, e, bob)
	if ap.Margin+bp.Margin != 100_000 {
		t.Errorf("margins diverged: %d + %d", ap.Margin, bp.Margin)
	}
	checkConserved(t, e, int64(deposited))
}

func TestFundingValidation(t *testing.T) {
	e, _ := newTestEngine(t)
	if err := e.Apply(tx.UpdateFunding{MarketID: 9, OraclePrice: 50_000}); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown market: %v", err)
	}
	if err := e.Apply(tx.UpdateFunding{MarketID: btcPerp, OraclePrice: 0}); !errors.Is(err, ErrValidation) {
		t.Errorf("zero oracle: %v", err)
	}
}
