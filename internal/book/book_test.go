package book

import (
	"testing"

	"github.com/google/uuid"

	"perpcore/internal/state"
)

var nextSeq uint64

func resting(id uint64, owner uuid.UUID, side state.Side, price, size uint64) *state.Order {
	nextSeq++
	return &state.Order{
		ID:        id,
		Owner:     owner,
		Side:      side,
		Type:      state.Limit,
		Price:     price,
		Size:      size,
		Remaining: size,
		Status:    state.OrderActive,
		Seq:       nextSeq,
	}
}

func TestMatchMakerPriceFIFO(t *testing.T) {
	b := New(1)
	alice := uuid.New()
	bob := uuid.New()
	carol := uuid.New()

	b.Insert(resting(1, alice, state.Sell, 50_000, 3))
	b.Insert(resting(2, bob, state.Sell, 50_000, 5))
	b.Insert(resting(3, carol, state.Sell, 51_000, 4))

	taker := resting(10, uuid.New(), state.Buy, 51_000, 10)
	plan := b.Match(taker)

	if plan.Filled != 10 || plan.Remaining != 0 {
		t.Fatalf("filled = %d remaining = %d", plan.Filled, plan.Remaining)
	}
	if len(plan.Fills) != 3 {
		t.Fatalf("fills = %d", len(plan.Fills))
	}
	// Best price first, then FIFO within the level, at maker prices.
	if plan.Fills[0].MakerOrderID != 1 || plan.Fills[0].Price != 50_000 || plan.Fills[0].Size != 3 {
		t.Errorf("fill 0 = %+v", plan.Fills[0])
	}
	if plan.Fills[1].MakerOrderID != 2 || plan.Fills[1].Price != 50_000 || plan.Fills[1].Size != 5 {
		t.Errorf("fill 1 = %+v", plan.Fills[1])
	}
	if plan.Fills[2].MakerOrderID != 3 || plan.Fills[2].Price != 51_000 || plan.Fills[2].Size != 2 {
		t.Errorf("fill 2 = %+v", plan.Fills[2])
	}
}

func TestMatchStopsAtLimit(t *testing.T) {
	b := New(1)
	b.Insert(resting(1, uuid.New(), state.Sell, 50_000, 4))
	b.Insert(resting(2, uuid.New(), state.Sell, 52_000, 4))

	plan := b.Match(resting(10, uuid.New(), state.Buy, 50_000, 10))
	if plan.Filled != 4 || plan.Remaining != 6 {
		t.Errorf("filled = %d remaining = %d", plan.Filled, plan.Remaining)
	}
	if len(plan.Fills) != 1 || plan.Fills[0].Price != 50_000 {
		t.Errorf("fills = %+v", plan.Fills)
	}
}

func TestMarketOrderSweepsAllLevels(t *testing.T) {
	b := New(1)
	b.Insert(resting(1, uuid.New(), state.Sell, 50_000, 2))
	b.Insert(resting(2, uuid.New(), state.Sell, 55_000, 2))

	taker := resting(10, uuid.New(), state.Buy, 0, 5)
	taker.Type = state.MarketOrder
	plan := b.Match(taker)
	if plan.Filled != 4 || plan.Remaining != 1 {
		t.Errorf("filled = %d remaining = %d", plan.Filled, plan.Remaining)
	}
	if len(plan.Fills) != 2 || plan.Fills[1].Price != 55_000 {
		t.Errorf("fills = %+v", plan.Fills)
	}
}

func TestMatchDoesNotMutate(t *testing.T) {
	b := New(1)
	maker := resting(1, uuid.New(), state.Sell, 50_000, 4)
	b.Insert(maker)

	_ = b.Match(resting(10, uuid.New(), state.Buy, 50_000, 10))
	if maker.Remaining != 4 || b.Len() != 1 {
		t.Error("Match mutated the book")
	}

	bid, _ := b.BestAsk()
	if bid != 50_000 {
		t.Errorf("best ask = %d", bid)
	}
}

func TestApplyConsumesFills(t *testing.T) {
	b := New(1)
	m1 := resting(1, uuid.New(), state.Sell, 50_000, 4)
	m2 := resting(2, uuid.New(), state.Sell, 50_000, 6)
	b.Insert(m1)
	b.Insert(m2)

	plan := b.Match(resting(10, uuid.New(), state.Buy, 50_000, 7))
	b.Apply(plan)

	if b.Order(1) != nil {
		t.Error("fully filled maker still resting")
	}
	if m1.Status != state.OrderFilled {
		t.Errorf("m1 status = %v", m1.Status)
	}
	if m2.Remaining != 3 || m2.Status != state.OrderActive {
		t.Errorf("m2 remaining = %d status = %v", m2.Remaining, m2.Status)
	}
	if got := b.DepthAt(state.Sell, 50_000); got != 3 {
		t.Errorf("depth = %d", got)
	}
}

func TestSelfTradeSkipped(t *testing.T) {
	b := New(1)
	owner := uuid.New()
	other := uuid.New()
	b.Insert(resting(1, owner, state.Sell, 50_000, 5))
	b.Insert(resting(2, other, state.Sell, 50_000, 5))

	plan := b.Match(resting(10, owner, state.Buy, 50_000, 8))
	if len(plan.Fills) != 1 || plan.Fills[0].MakerOrderID != 2 {
		t.Fatalf("fills = %+v", plan.Fills)
	}
	if plan.Filled != 5 || plan.Remaining != 3 {
		t.Errorf("filled = %d remaining = %d", plan.Filled, plan.Remaining)
	}
}

func TestWouldMatch(t *testing.T) {
	b := New(1)
	owner := uuid.New()
	b.Insert(resting(1, owner, state.Sell, 50_000, 5))

	if b.WouldMatch(state.Buy, 49_000, uuid.New()) {
		t.Error("non-crossing price reported as matching")
	}
	if !b.WouldMatch(state.Buy, 50_000, uuid.New()) {
		t.Error("crossing price not reported")
	}
	// A book holding only the owner's orders does not cross.
	if b.WouldMatch(state.Buy, 50_000, owner) {
		t.Error("self order treated as crossing")
	}
}

func TestRemoveAndBestPrices(t *testing.T) {
	b := New(1)
	b.Insert(resting(1, uuid.New(), state.Buy, 49_000, 5))
	b.Insert(resting(2, uuid.New(), state.Buy, 48_000, 5))
	b.Insert(resting(3, uuid.New(), state.Sell, 51_000, 5))

	if bid, _ := b.BestBid(); bid != 49_000 {
		t.Errorf("best bid = %d", bid)
	}
	if mid, ok := b.MidPrice(); !ok || mid != 50_000 {
		t.Errorf("mid = %d, %v", mid, ok)
	}

	if o := b.Remove(1); o == nil || o.ID != 1 {
		t.Fatal("remove failed")
	}
	if o := b.Remove(1); o != nil {
		t.Error("double remove returned an order")
	}
	if bid, _ := b.BestBid(); bid != 48_000 {
		t.Errorf("best bid after remove = %d", bid)
	}
}

func TestOrdersOwnedBy(t *testing.T) {
	b := New(1)
	owner := uuid.New()
	b.Insert(resting(5, owner, state.Buy, 49_000, 1))
	b.Insert(resting(2, owner, state.Sell, 51_000, 1))
	b.Insert(resting(3, uuid.New(), state.Sell, 51_000, 1))

	ids := b.OrdersOwnedBy(owner)
	if len(ids) != 2 || ids[0] != 2 || ids[1] != 5 {
		t.Errorf("ids = %v", ids)
	}
}
