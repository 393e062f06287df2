package fpmath

import (
	"math/big"
	"math/bits"
	"sync"
)

// BasisPoints is the fixed-point denominator for all ratio parameters
// (margin fractions, fees, funding rates). 10000 bps = 100%.
const BasisPoints = 10_000

// RoundingMode selects how division results are rounded.
type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // banker's rounding (default)
	RoundDown
)

// Pooled big.Int for 128-bit intermediates.
var intPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt() *big.Int {
	return intPool.Get().(*big.Int)
}

func putInt(v *big.Int) {
	v.SetInt64(0)
	intPool.Put(v)
}

// AddU64 returns a + b, failing on overflow.
func AddU64(a, b uint64) (uint64, bool) {
	sum, carry := bits.Add64(a, b, 0)
	return sum, carry == 0
}

// SubU64 returns a - b, failing on underflow.
func SubU64(a, b uint64) (uint64, bool) {
	diff, borrow := bits.Sub64(a, b, 0)
	return diff, borrow == 0
}

// MulU64 returns a * b, failing on overflow.
func MulU64(a, b uint64) (uint64, bool) {
	hi, lo := bits.Mul64(a, b)
	return lo, hi == 0
}

// MulDivU64 computes a * b / denom with a 128-bit intermediate.
// Fails only when denom is 0 or the quotient exceeds uint64.
func MulDivU64(a, b, denom uint64, mode RoundingMode) (uint64, bool) {
	if denom == 0 {
		return 0, false
	}

	num := getInt()
	num.SetUint64(a)
	bb := getInt()
	bb.SetUint64(b)
	num.Mul(num, bb)
	putInt(bb)

	q, ok := divBig(num, denom, mode)
	putInt(num)

	if !ok || !q.IsUint64() {
		if ok {
			putInt(q)
		}
		return 0, false
	}
	out := q.Uint64()
	putInt(q)
	return out, true
}

// divBig divides num by denom applying the rounding mode. The returned
// big.Int must be released with putInt by the caller.
func divBig(num *big.Int, denom uint64, mode RoundingMode) (*big.Int, bool) {
	if denom == 0 {
		return nil, false
	}

	d := getInt()
	d.SetUint64(denom)
	q := getInt()
	r := getInt()
	q.QuoRem(num, d, r)

	if mode == RoundHalfEven && r.Sign() != 0 {
		// Compare |2r| against denom: round away from zero on a clear
		// majority, to even on an exact half.
		r.Abs(r)
		r.Lsh(r, 1)
		switch r.Cmp(d) {
		case 1:
			roundAway(q, num.Sign())
		case 0:
			if q.Bit(0) == 1 {
				roundAway(q, num.Sign())
			}
		}
	}

	putInt(d)
	putInt(r)
	return q, true
}

func roundAway(q *big.Int, sign int) {
	one := getInt()
	one.SetInt64(1)
	if sign >= 0 {
		q.Add(q, one)
	} else {
		q.Sub(q, one)
	}
	putInt(one)
}

// Notional returns size * price in quote units, failing on overflow.
func Notional(size, price uint64) (uint64, bool) {
	return MulU64(size, price)
}

// FeeOf returns amount * feeBps / 10000, rounded half-even.
func FeeOf(amount uint64, feeBps uint32) (uint64, bool) {
	return MulDivU64(amount, uint64(feeBps), BasisPoints, RoundHalfEven)
}

// SignedPnL computes (exit - entry) * size for a long, negated for a
// short. The second return is false if the magnitude exceeds int64.
func SignedPnL(isLong bool, entryPrice, exitPrice, size uint64) (int64, bool) {
	diff := getInt()
	diff.SetUint64(exitPrice)
	e := getInt()
	e.SetUint64(entryPrice)
	diff.Sub(diff, e)
	putInt(e)

	s := getInt()
	s.SetUint64(size)
	diff.Mul(diff, s)
	putInt(s)

	if !isLong {
		diff.Neg(diff)
	}

	if !diff.IsInt64() {
		putInt(diff)
		return 0, false
	}
	out := diff.Int64()
	putInt(diff)
	return out, true
}

// WeightedAvgPrice computes the volume-weighted entry price after adding
// fillSize at fillPrice to an existing position of oldSize at oldPrice.
// Rounds half-even.
func WeightedAvgPrice(oldSize, oldPrice, fillSize, fillPrice uint64) (uint64, bool) {
	if oldSize == 0 {
		return fillPrice, true
	}

	num := getInt()
	num.SetUint64(oldSize)
	t := getInt()
	t.SetUint64(oldPrice)
	num.Mul(num, t)

	t.SetUint64(fillSize)
	u := getInt()
	u.SetUint64(fillPrice)
	t.Mul(t, u)
	putInt(u)
	num.Add(num, t)
	putInt(t)

	totalSize, ok := AddU64(oldSize, fillSize)
	if !ok {
		putInt(num)
		return 0, false
	}

	q, ok := divBig(num, totalSize, RoundHalfEven)
	putInt(num)
	if !ok || !q.IsUint64() {
		if ok {
			putInt(q)
		}
		return 0, false
	}
	out := q.Uint64()
	putInt(q)
	return out, true
}

// ProportionalShare returns total * part / whole rounded down, used for
// releasing margin proportionally to a partial close.
func ProportionalShare(total, part, whole uint64) (uint64, bool) {
	if whole == 0 {
		return 0, false
	}
	return MulDivU64(total, part, whole, RoundDown)
}
