package fpmath

import "testing"

func TestCheckedArithmetic(t *testing.T) {
	if v, ok := AddU64(1, 2); !ok || v != 3 {
		t.Errorf("AddU64(1,2) = %d, %v", v, ok)
	}
	if _, ok := AddU64(^uint64(0), 1); ok {
		t.Error("AddU64 overflow not detected")
	}
	if v, ok := SubU64(5, 3); !ok || v != 2 {
		t.Errorf("SubU64(5,3) = %d, %v", v, ok)
	}
	if _, ok := SubU64(3, 5); ok {
		t.Error("SubU64 underflow not detected")
	}
	if v, ok := MulU64(1_000_000, 1_000_000); !ok || v != 1_000_000_000_000 {
		t.Errorf("MulU64 = %d, %v", v, ok)
	}
	if _, ok := MulU64(1<<33, 1<<33); ok {
		t.Error("MulU64 overflow not detected")
	}
}

func TestMulDivRounding(t *testing.T) {
	cases := []struct {
		a, b, denom uint64
		mode        RoundingMode
		want        uint64
	}{
		{10, 10, 3, RoundDown, 33},
		{10, 10, 3, RoundHalfEven, 33},
		{5, 1, 2, RoundHalfEven, 2},  // 2.5 rounds to even 2
		{7, 1, 2, RoundHalfEven, 4},  // 3.5 rounds to even 4
		{5, 1, 2, RoundDown, 2},
		{1 << 40, 1 << 40, 1 << 40, RoundHalfEven, 1 << 40},
	}
	for _, c := range cases {
		got, ok := MulDivU64(c.a, c.b, c.denom, c.mode)
		if !ok || got != c.want {
			t.Errorf("MulDivU64(%d,%d,%d,%v) = %d, %v; want %d", c.a, c.b, c.denom, c.mode, got, ok, c.want)
		}
	}
	if _, ok := MulDivU64(1, 1, 0, RoundDown); ok {
		t.Error("division by zero not detected")
	}
	if _, ok := MulDivU64(^uint64(0), ^uint64(0), 1, RoundDown); ok {
		t.Error("quotient overflow not detected")
	}
}

func TestFeeOf(t *testing.T) {
	// 5 bps taker fee on 200000 notional = 100.
	if fee, ok := FeeOf(200_000, 5); !ok || fee != 100 {
		t.Errorf("FeeOf = %d, %v", fee, ok)
	}
	if fee, ok := FeeOf(0, 30); !ok || fee != 0 {
		t.Errorf("FeeOf zero amount = %d, %v", fee, ok)
	}
}

func TestSignedPnL(t *testing.T) {
	cases := []struct {
		isLong      bool
		entry, exit uint64
		size        uint64
		want        int64
	}{
		{true, 50_000, 55_000, 10, 50_000},
		{true, 50_000, 45_000, 10, -50_000},
		{false, 50_000, 45_000, 10, 50_000},
		{false, 50_000, 55_000, 10, -50_000},
		{true, 50_000, 50_000, 10, 0},
	}
	for _, c := range cases {
		got, ok := SignedPnL(c.isLong, c.entry, c.exit, c.size)
		if !ok || got != c.want {
			t.Errorf("SignedPnL(%v,%d,%d,%d) = %d, %v; want %d", c.isLong, c.entry, c.exit, c.size, got, ok, c.want)
		}
	}
}

func TestSignedPnLOverflow(t *testing.T) {
	if _, ok := SignedPnL(true, 0, ^uint64(0), ^uint64(0)); ok {
		t.Error("PnL magnitude overflow not detected")
	}
}

func TestWeightedAvgPrice(t *testing.T) {
	got, ok := WeightedAvgPrice(10, 50_000, 10, 60_000)
	if !ok || got != 55_000 {
		t.Errorf("WeightedAvgPrice = %d, %v", got, ok)
	}
	got, ok = WeightedAvgPrice(0, 0, 5, 42_000)
	if !ok || got != 42_000 {
		t.Errorf("WeightedAvgPrice fresh position = %d, %v", got, ok)
	}
	// 3@100 + 1@101 = 401/4 = 100.25 rounds down to 100.
	got, ok = WeightedAvgPrice(3, 100, 1, 101)
	if !ok || got != 100 {
		t.Errorf("WeightedAvgPrice = %d, %v", got, ok)
	}
}

func TestProportionalShare(t *testing.T) {
	// Releasing margin for closing 4 of 10: 4000 * 4 / 10 = 1600.
	got, ok := ProportionalShare(4_000, 4, 10)
	if !ok || got != 1_600 {
		t.Errorf("ProportionalShare = %d, %v", got, ok)
	}
	if _, ok := ProportionalShare(1, 1, 0); ok {
		t.Error("zero whole not detected")
	}
	// Rounds down so partial releases never over-release.
	got, ok = ProportionalShare(100, 1, 3)
	if !ok || got != 33 {
		t.Errorf("ProportionalShare = %d, %v", got, ok)
	}
}
