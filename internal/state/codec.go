package state

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Canonical binary encoding for stored records. Little-endian fixed
// width fields, length-prefixed strings. Every byte of a record is
// significant so two encodings of equal records are byte-equal and the
// store root commits to record contents exactly.

var errTruncated = errors.New("truncated record")

type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) u8() uint8 {
	if r.err != nil {
		return 0
	}
	if r.off+1 > len(r.buf) {
		r.err = errTruncated
		return 0
	}
	v := r.buf[r.off]
	r.off++
	return v
}

func (r *reader) u32() uint32 {
	if r.err != nil {
		return 0
	}
	if r.off+4 > len(r.buf) {
		r.err = errTruncated
		return 0
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}

func (r *reader) u64() uint64 {
	if r.err != nil {
		return 0
	}
	if r.off+8 > len(r.buf) {
		r.err = errTruncated
		return 0
	}
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v
}

func (r *reader) i64() int64 {
	return int64(r.u64())
}

func (r *reader) uuid() uuid.UUID {
	var id uuid.UUID
	if r.err != nil {
		return id
	}
	if r.off+16 > len(r.buf) {
		r.err = errTruncated
		return id
	}
	copy(id[:], r.buf[r.off:r.off+16])
	r.off += 16
	return id
}

func (r *reader) str() string {
	n := r.u32()
	if r.err != nil {
		return ""
	}
	if r.off+int(n) > len(r.buf) {
		r.err = errTruncated
		return ""
	}
	s := string(r.buf[r.off : r.off+int(n)])
	r.off += int(n)
	return s
}

func (r *reader) finish(kind string) error {
	if r.err != nil {
		return fmt.Errorf("decode %s: %w", kind, r.err)
	}
	if r.off != len(r.buf) {
		return fmt.Errorf("decode %s: %d trailing bytes", kind, len(r.buf)-r.off)
	}
	return nil
}

func appendU32(b []byte, v uint32) []byte {
	return binary.LittleEndian.AppendUint32(b, v)
}

func appendU64(b []byte, v uint64) []byte {
	return binary.LittleEndian.AppendUint64(b, v)
}

func appendI64(b []byte, v int64) []byte {
	return binary.LittleEndian.AppendUint64(b, uint64(v))
}

func appendStr(b []byte, s string) []byte {
	b = appendU32(b, uint32(len(s)))
	return append(b, s...)
}

// EncodeMarket serializes a market record.
func EncodeMarket(m *Market) []byte {
	b := make([]byte, 0, 96)
	b = appendU32(b, uint32(m.ID))
	b = appendStr(b, m.Symbol)
	b = appendU32(b, uint32(m.BaseAssetID))
	b = appendU32(b, uint32(m.QuoteAssetID))
	b = appendU64(b, m.TickSize)
	b = appendU64(b, m.MinOrderSize)
	b = appendU64(b, m.MaxOrderSize)
	b = appendU32(b, m.MaxLeverage)
	b = appendU32(b, m.InitialMarginBps)
	b = appendU32(b, m.MaintenanceMarginBps)
	b = appendU32(b, m.LiquidationFeeBps)
	b = appendU32(b, m.TakerFeeBps)
	b = appendU32(b, m.MakerFeeBps)
	b = appendU32(b, m.MaxFundingRateBps)
	b = appendU64(b, m.FundingIntervalSecs)
	return b
}

// DecodeMarket parses a market record.
func DecodeMarket(buf []byte) (*Market, error) {
	r := &reader{buf: buf}
	m := &Market{}
	m.ID = MarketID(r.u32())
	m.Symbol = r.str()
	m.BaseAssetID = AssetID(r.u32())
	m.QuoteAssetID = AssetID(r.u32())
	m.TickSize = r.u64()
	m.MinOrderSize = r.u64()
	m.MaxOrderSize = r.u64()
	m.MaxLeverage = r.u32()
	m.InitialMarginBps = r.u32()
	m.MaintenanceMarginBps = r.u32()
	m.LiquidationFeeBps = r.u32()
	m.TakerFeeBps = r.u32()
	m.MakerFeeBps = r.u32()
	m.MaxFundingRateBps = r.u32()
	m.FundingIntervalSecs = r.u64()
	if err := r.finish("market"); err != nil {
		return nil, err
	}
	return m, nil
}

// EncodeAsset serializes an asset record.
func EncodeAsset(a *Asset) []byte {
	b := make([]byte, 0, 16)
	b = appendU32(b, uint32(a.ID))
	b = appendStr(b, a.Symbol)
	b = append(b, a.Decimals)
	return b
}

// DecodeAsset parses an asset record.
func DecodeAsset(buf []byte) (*Asset, error) {
	r := &reader{buf: buf}
	a := &Asset{}
	a.ID = AssetID(r.u32())
	a.Symbol = r.str()
	a.Decimals = r.u8()
	if err := r.finish("asset"); err != nil {
		return nil, err
	}
	return a, nil
}

// EncodeOrder serializes an order record.
func EncodeOrder(o *Order) []byte {
	b := make([]byte, 0, 80)
	b = appendU64(b, o.ID)
	b = append(b, o.Owner[:]...)
	b = appendU32(b, uint32(o.MarketID))
	b = append(b, byte(o.Side))
	b = append(b, byte(o.Type))
	b = appendU64(b, o.Price)
	b = appendU64(b, o.Size)
	b = appendU64(b, o.Remaining)
	b = append(b, byte(o.TIF))
	if o.ReduceOnly {
		b = append(b, 1)
	} else {
		b = append(b, 0)
	}
	b = append(b, byte(o.Status))
	b = appendU64(b, o.CreatedAt)
	b = appendU64(b, o.Seq)
	return b
}

// DecodeOrder parses an order record.
func DecodeOrder(buf []byte) (*Order, error) {
	r := &reader{buf: buf}
	o := &Order{}
	o.ID = r.u64()
	o.Owner = r.uuid()
	o.MarketID = MarketID(r.u32())
	o.Side = Side(r.u8())
	o.Type = OrderType(r.u8())
	o.Price = r.u64()
	o.Size = r.u64()
	o.Remaining = r.u64()
	o.TIF = TimeInForce(r.u8())
	o.ReduceOnly = r.u8() == 1
	o.Status = OrderStatus(r.u8())
	o.CreatedAt = r.u64()
	o.Seq = r.u64()
	if err := r.finish("order"); err != nil {
		return nil, err
	}
	return o, nil
}

// EncodePosition serializes a position record.
func EncodePosition(p *Position) []byte {
	b := make([]byte, 0, 48)
	b = append(b, p.Owner[:]...)
	b = appendU32(b, uint32(p.MarketID))
	b = appendU64(b, p.Size)
	b = appendU64(b, p.EntryPrice)
	b = appendU64(b, p.Margin)
	if p.IsLong {
		b = append(b, 1)
	} else {
		b = append(b, 0)
	}
	return b
}

// DecodePosition parses a position record.
func DecodePosition(buf []byte) (*Position, error) {
	r := &reader{buf: buf}
	p := &Position{}
	p.Owner = r.uuid()
	p.MarketID = MarketID(r.u32())
	p.Size = r.u64()
	p.EntryPrice = r.u64()
	p.Margin = r.u64()
	p.IsLong = r.u8() == 1
	if err := r.finish("position"); err != nil {
		return nil, err
	}
	return p, nil
}

// EncodeFundingState serializes a funding record.
func EncodeFundingState(f *FundingState) []byte {
	b := make([]byte, 0, 48)
	b = appendU32(b, uint32(f.MarketID))
	b = appendI64(b, f.RateBps)
	b = appendI64(b, f.CumulativeIndex)
	b = appendU64(b, f.LastUpdate)
	b = appendU64(b, f.MarkPrice)
	b = appendU64(b, f.OraclePrice)
	return b
}

// DecodeFundingState parses a funding record.
func DecodeFundingState(buf []byte) (*FundingState, error) {
	r := &reader{buf: buf}
	f := &FundingState{}
	f.MarketID = MarketID(r.u32())
	f.RateBps = r.i64()
	f.CumulativeIndex = r.i64()
	f.LastUpdate = r.u64()
	f.MarkPrice = r.u64()
	f.OraclePrice = r.u64()
	if err := r.finish("funding"); err != nil {
		return nil, err
	}
	return f, nil
}

// EncodeInsuranceFund serializes an insurance fund record.
func EncodeInsuranceFund(f *InsuranceFund) []byte {
	b := make([]byte, 0, 32)
	b = appendU32(b, uint32(f.AssetID))
	b = appendU64(b, f.Balance)
	b = appendU64(b, f.TotalContributions)
	b = appendU64(b, f.TotalPayouts)
	return b
}

// DecodeInsuranceFund parses an insurance fund record.
func DecodeInsuranceFund(buf []byte) (*InsuranceFund, error) {
	r := &reader{buf: buf}
	f := &InsuranceFund{}
	f.AssetID = AssetID(r.u32())
	f.Balance = r.u64()
	f.TotalContributions = r.u64()
	f.TotalPayouts = r.u64()
	if err := r.finish("insurance"); err != nil {
		return nil, err
	}
	return f, nil
}

// EncodeU64Set serializes a sorted uint64 set.
func EncodeU64Set(ids []uint64) []byte {
	b := make([]byte, 0, 4+8*len(ids))
	b = appendU32(b, uint32(len(ids)))
	for _, id := range ids {
		b = appendU64(b, id)
	}
	return b
}

// DecodeU64Set parses a sorted uint64 set.
func DecodeU64Set(buf []byte) ([]uint64, error) {
	r := &reader{buf: buf}
	n := r.u32()
	if r.err == nil && int(n)*8 != len(buf)-4 {
		return nil, fmt.Errorf("decode u64 set: length mismatch")
	}
	ids := make([]uint64, 0, n)
	for i := uint32(0); i < n; i++ {
		ids = append(ids, r.u64())
	}
	if err := r.finish("u64 set"); err != nil {
		return nil, err
	}
	return ids, nil
}

// EncodeOwnerSet serializes a sorted owner set.
func EncodeOwnerSet(owners []uuid.UUID) []byte {
	b := make([]byte, 0, 4+16*len(owners))
	b = appendU32(b, uint32(len(owners)))
	for _, o := range owners {
		b = append(b, o[:]...)
	}
	return b
}

// DecodeOwnerSet parses a sorted owner set.
func DecodeOwnerSet(buf []byte) ([]uuid.UUID, error) {
	r := &reader{buf: buf}
	n := r.u32()
	if r.err == nil && int(n)*16 != len(buf)-4 {
		return nil, fmt.Errorf("decode owner set: length mismatch")
	}
	owners := make([]uuid.UUID, 0, n)
	for i := uint32(0); i < n; i++ {
		owners = append(owners, r.uuid())
	}
	if err := r.finish("owner set"); err != nil {
		return nil, err
	}
	return owners, nil
}

// EncodeU64 serializes a bare counter value.
func EncodeU64(v uint64) []byte {
	return appendU64(nil, v)
}

// DecodeU64 parses a bare counter value.
func DecodeU64(buf []byte) (uint64, error) {
	if len(buf) != 8 {
		return 0, fmt.Errorf("decode u64: want 8 bytes, got %d", len(buf))
	}
	return binary.LittleEndian.Uint64(buf), nil
}

// EncodeI64 serializes a signed accumulator value.
func EncodeI64(v int64) []byte {
	return appendI64(nil, v)
}

// DecodeI64 parses a signed accumulator value.
func DecodeI64(buf []byte) (int64, error) {
	v, err := DecodeU64(buf)
	return int64(v), err
}
