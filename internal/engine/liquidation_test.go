package engine

import (
	"errors"
	"testing"

	"perpcore/internal/event"
	"perpcore/internal/state"
	"perpcore/internal/tx"
)

// openPair puts alice long and bob short `size` at `price` via a
// matched pair of limit orders.
func openPair(t *testing.T, e *Engine, price, size uint64) {
	t.Helper()
	mustApply(t, e, limitOrder(alice, state.Buy, price, size))
	mustApply(t, e, limitOrder(bob, state.Sell, price, size))
}

// setMark feeds the oracle through a funding update. The book is empty
// in these scenarios, so the mark tracks the oracle directly.
func setMark(t *testing.T, e *Engine, price uint64) {
	t.Helper()
	mustApply(t, e, tx.UpdateFunding{MarketID: btcPerp, OraclePrice: price})
}

func TestAssessMarginStatus(t *testing.T) {
	m := testMarket()
	pos := &state.Position{Size: 10, EntryPrice: 10_000, Margin: 4_000, IsLong: true}

	// Equity 4000, initial 10000, maintenance 5000 at entry mark.
	got, err := assess(pos, &m, 10_000)
	if err != nil {
		t.Fatal(err)
	}
	if got != Liquidatable {
		t.Errorf("at entry: %s", got)
	}

	pos.Margin = 8_000
	if got, _ = assess(pos, &m, 10_000); got != AtRisk {
		t.Errorf("below initial: %s", got)
	}
	pos.Margin = 12_000
	if got, _ = assess(pos, &m, 10_000); got != Healthy {
		t.Errorf("above initial: %s", got)
	}

	// A 600-per-unit drop erases 6000 of equity.
	pos.Margin = 10_000
	if got, _ = assess(pos, &m, 9_400); got != Liquidatable {
		t.Errorf("after drop: %s", got)
	}
}

func TestBankruptcyPrice(t *testing.T) {
	long := &state.Position{Size: 10, EntryPrice: 50_000, Margin: 50_000, IsLong: true}
	if got := bankruptcyPrice(long); got != 45_000 {
		t.Errorf("long bankruptcy = %d", got)
	}
	short := &state.Position{Size: 10, EntryPrice: 50_000, Margin: 50_000, IsLong: false}
	if got := bankruptcyPrice(short); got != 55_000 {
		t.Errorf("short bankruptcy = %d", got)
	}
	deep := &state.Position{Size: 1, EntryPrice: 100, Margin: 500, IsLong: true}
	if got := bankruptcyPrice(deep); got != 0 {
		t.Errorf("overcollateralized long bankruptcy = %d", got)
	}
}

func TestLiquidateRejectsHealthyPosition(t *testing.T) {
	e, _ := newTestEngine(t)
	deposit(t, e, alice, 1_000_000)
	deposit(t, e, bob, 1_000_000)
	openPair(t, e, 50_000, 10)
	setMark(t, e, 49_000)

	err := e.Apply(tx.Liquidate{Liquidator: carol, Target: alice, MarketID: btcPerp})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("healthy target: %v", err)
	}
	err = e.Apply(tx.Liquidate{Liquidator: carol, Target: dave, MarketID: btcPerp})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("no position: %v", err)
	}
}

func TestPartialLiquidationRestoresHealth(t *testing.T) {
	e, rec := newTestEngine(t)
	deposit(t, e, alice, 1_000_000)
	deposit(t, e, bob, 1_000_000)
	openPair(t, e, 50_000, 10)

	// Equity 10000, maintenance 23000 at mark 46000.
	setMark(t, e, 46_000)
	mustApply(t, e, tx.Liquidate{Liquidator: carol, Target: alice, MarketID: btcPerp})

	// Close size 9: the retained margin absorbs the 36000 realized loss
	// and the 4140 fee, leaving 9860 behind the remaining unit.
	pos := position(t, e, alice)
	if pos == nil || pos.Size != 1 || pos.Margin != 9_860 || pos.EntryPrice != 50_000 {
		t.Fatalf("position after partial = %+v", pos)
	}
	m := testMarket()
	if got, _ := assess(pos, &m, 46_000); got != Healthy {
		t.Errorf("post-liquidation status = %s", got)
	}

	// Fee 4140 split evenly between liquidator and fund.
	if got := balance(t, e, carol); got != 2_070 {
		t.Errorf("liquidator reward = %d", got)
	}
	fund, err := e.QueryInsuranceFund(quoteAsset)
	if err != nil {
		t.Fatal(err)
	}
	if fund.Balance != 2_070 || fund.TotalContributions != 2_070 || fund.TotalPayouts != 0 {
		t.Errorf("fund = %+v", fund)
	}

	evs := rec.OfType("liquidation")
	if len(evs) != 1 {
		t.Fatalf("liquidation events = %d", len(evs))
	}
	liq := evs[0].(event.Liquidation)
	if liq.Target != alice || liq.ClosedSize != 9 || liq.FullClose || liq.ADLCount != 0 || liq.Deficit != 0 {
		t.Errorf("event = %+v", liq)
	}
	checkConserved(t, e, 2_000_000)

	if err := e.Apply(tx.Liquidate{Liquidator: carol, Target: alice, MarketID: btcPerp}); !errors.Is(err, ErrValidation) {
		t.Errorf("re-liquidation of healthy remainder: %v", err)
	}
}

func TestFullLiquidationReturnsRemainder(t *testing.T) {
	e, _ := newTestEngine(t)
	deposit(t, e, alice, 1_000_000)
	deposit(t, e, bob, 1_000_000)
	openPair(t, e, 50_000, 10)
	setMark(t, e, 46_000)
	mustApply(t, e, tx.Liquidate{Liquidator: carol, Target: alice, MarketID: btcPerp})

	// Mark 42000: the remaining 1-lot has equity 1860 against a 2100
	// maintenance requirement and closes in full.
	setMark(t, e, 42_000)
	mustApply(t, e, tx.Liquidate{Liquidator: carol, Target: alice, MarketID: btcPerp})

	if position(t, e, alice) != nil {
		t.Fatal("position survived full liquidation")
	}
	// 9860 margin - 8000 loss - 420 fee returns 1440 to the target.
	if got := balance(t, e, alice); got != 951_440 {
		t.Errorf("alice balance = %d", got)
	}
	if got := balance(t, e, carol); got != 2_280 {
		t.Errorf("liquidator total = %d", got)
	}
	fund, _ := e.QueryInsuranceFund(quoteAsset)
	if fund.Balance != 2_280 {
		t.Errorf("fund = %+v", fund)
	}
	checkConserved(t, e, 2_000_000)
}

func TestLiquidationCancelsRestingOrders(t *testing.T) {
	e, _ := newTestEngine(t)
	deposit(t, e, alice, 1_000_000)
	deposit(t, e, bob, 1_000_000)
	openPair(t, e, 50_000, 10)
	mustApply(t, e, limitOrder(alice, state.Buy, 40_000, 2))
	setMark(t, e, 46_000)

	mustApply(t, e, tx.Liquidate{Liquidator: carol, Target: alice, MarketID: btcPerp})

	o, _ := e.QueryOrder(3)
	if o.Status != state.OrderCancelled {
		t.Errorf("resting order = %+v", o)
	}
	if d := e.QueryDepth(btcPerp); d.Resting != 0 {
		t.Errorf("book = %+v", d)
	}
}

func TestBadDebtEscalatesToADL(t *testing.T) {
	e, rec := newTestEngine(t)
	deposit(t, e, alice, 1_000_000)
	deposit(t, e, bob, 1_000_000)
	openPair(t, e, 50_000, 10)

	// Equity -10000 at mark 44000: the fund is empty, so the loss and
	// the fee go uncovered and bob's profitable short is deleveraged at
	// alice's bankruptcy price of 45000.
	setMark(t, e, 44_000)
	mustApply(t, e, tx.Liquidate{Liquidator: carol, Target: alice, MarketID: btcPerp})

	if position(t, e, alice) != nil {
		t.Fatal("target survived bankruptcy")
	}
	if position(t, e, bob) != nil {
		t.Fatal("adl left the counterparty open")
	}
	// Bob realizes 5000 per unit instead of 6000: the gap funds the
	// shortfall.
	if got := balance(t, e, bob); got != 1_050_000 {
		t.Errorf("bob balance = %d", got)
	}
	if got := balance(t, e, carol); got != 0 {
		t.Errorf("liquidator paid from nothing: %d", got)
	}

	evs := rec.OfType("liquidation")
	liq := evs[len(evs)-1].(event.Liquidation)
	if !liq.FullClose || liq.ADLCount != 1 || liq.Deficit != 14_400 {
		t.Errorf("event = %+v", liq)
	}
	checkConserved(t, e, 2_000_000)
}

func TestCloseLiquidatedDrawsFund(t *testing.T) {
	e, _ := newTestEngine(t)
	deposit(t, e, alice, 1_000_000)

	m, err := e.QueryMarket(btcPerp)
	if err != nil {
		t.Fatal(err)
	}
	txn := e.store.Begin()
	txn.SetInsuranceFund(&state.InsuranceFund{AssetID: quoteAsset, Balance: 5_000})
	pos := &state.Position{Owner: alice, MarketID: btcPerp, Size: 10, EntryPrice: 50_000, Margin: 30_000, IsLong: true}
	txn.SetPosition(pos)
	if err := txn.AddPositionOwner(btcPerp, alice); err != nil {
		t.Fatal(err)
	}

	// Loss 60000 against 30000 margin: the fund covers 5000 of the
	// 30000 shortfall and nothing is left for the 4400 fee.
	out, err := e.closeLiquidated(txn, m, pos, carol, 44_000, 10, true)
	if err != nil {
		t.Fatal(err)
	}
	if out.deficit != 34_400 || out.uncovered != 29_400 {
		t.Errorf("outcome = %+v", out)
	}

	fund, err := txn.InsuranceFund(quoteAsset)
	if err != nil {
		t.Fatal(err)
	}
	if fund.Balance != 0 || fund.TotalPayouts != 5_000 {
		t.Errorf("fund = %+v", fund)
	}
	settle, _ := txn.Settlement(quoteAsset)
	if settle != 35_000 {
		t.Errorf("settlement = %d", settle)
	}
	if p, _ := txn.Position(alice, btcPerp); p != nil {
		t.Errorf("position = %+v", p)
	}
}

func TestPartialLiquidationSizeBounds(t *testing.T) {
	m := testMarket()

	// Negative equity closes everything.
	pos := &state.Position{Size: 10, EntryPrice: 50_000, Margin: 50_000, IsLong: true}
	if got, _ := partialLiquidationSize(pos, &m, 44_000); got != 10 {
		t.Errorf("negative equity close = %d", got)
	}

	// Worked case: deficit 22200 over 2760 per unit.
	if got, _ := partialLiquidationSize(pos, &m, 46_000); got != 9 {
		t.Errorf("partial close = %d", got)
	}

	// Computed size caps at the position size.
	small := &state.Position{Size: 2, EntryPrice: 50_000, Margin: 4_800, IsLong: true}
	if got, _ := partialLiquidationSize(small, &m, 48_000); got != 2 {
		t.Errorf("capped close = %d", got)
	}

	// A remainder under the market minimum forces a full close.
	coarse := m
	coarse.MinOrderSize = 4
	if got, _ := partialLiquidationSize(pos, &coarse, 46_000); got != 10 {
		t.Errorf("dust remainder close = %d", got)
	}
}
