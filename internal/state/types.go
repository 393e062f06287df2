package state

import "github.com/google/uuid"

// MarketID identifies a perpetual market.
type MarketID uint32

// AssetID identifies a collateral or settlement asset.
type AssetID uint32

// Side is the taker-facing direction of an order.
type Side uint8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// TimeInForce controls how unfilled remainder is handled.
type TimeInForce uint8

const (
	GTC TimeInForce = iota
	IOC
	FOK
	PostOnly
)

func (t TimeInForce) String() string {
	switch t {
	case GTC:
		return "gtc"
	case IOC:
		return "ioc"
	case FOK:
		return "fok"
	case PostOnly:
		return "post_only"
	}
	return "unknown"
}

// OrderType distinguishes priced orders from sweep orders.
type OrderType uint8

const (
	Limit OrderType = iota
	MarketOrder
)

func (t OrderType) String() string {
	if t == Limit {
		return "limit"
	}
	return "market"
}

// OrderStatus tracks the lifecycle of an order. A partially filled
// resting order stays Active; once Filled or Cancelled the record is
// immutable history.
type OrderStatus uint8

const (
	OrderActive OrderStatus = iota
	OrderFilled
	OrderCancelled
)

func (s OrderStatus) String() string {
	switch s {
	case OrderActive:
		return "active"
	case OrderFilled:
		return "filled"
	case OrderCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Market holds the static parameters of a perpetual market. Prices are
// integer quote units, sizes integer base units; all ratios are basis
// points.
type Market struct {
	ID                   MarketID
	Symbol               string
	BaseAssetID          AssetID
	QuoteAssetID         AssetID
	TickSize             uint64
	MinOrderSize         uint64
	MaxOrderSize         uint64
	MaxLeverage          uint32
	InitialMarginBps     uint32
	MaintenanceMarginBps uint32
	LiquidationFeeBps    uint32
	TakerFeeBps          uint32
	MakerFeeBps          uint32
	MaxFundingRateBps    uint32
	FundingIntervalSecs  uint64
}

// ValidatePrice reports whether p is a positive multiple of the tick.
func (m *Market) ValidatePrice(p uint64) bool {
	return p > 0 && m.TickSize > 0 && p%m.TickSize == 0
}

// NormalizePrice snaps p to the nearest tick, half away from zero.
func (m *Market) NormalizePrice(p uint64) uint64 {
	if m.TickSize == 0 {
		return p
	}
	return (p + m.TickSize/2) / m.TickSize * m.TickSize
}

// ValidateSize reports whether sz is within the market's size bounds.
func (m *Market) ValidateSize(sz uint64) bool {
	return sz >= m.MinOrderSize && sz <= m.MaxOrderSize
}

// Asset describes a registered asset.
type Asset struct {
	ID       AssetID
	Symbol   string
	Decimals uint8
}

// Order is a resting or incoming order. Price is 0 for market orders.
type Order struct {
	ID         uint64
	Owner      uuid.UUID
	MarketID   MarketID
	Side       Side
	Type       OrderType
	Price      uint64
	Size       uint64
	Remaining  uint64
	TIF        TimeInForce
	ReduceOnly bool
	Status     OrderStatus
	CreatedAt  uint64 // block time, unix seconds
	Seq        uint64 // arrival sequence, FIFO tiebreak within a level
}

// Position is an isolated-margin position. Margin is collateral carved
// out of the owner's free balance and held by the position.
type Position struct {
	Owner      uuid.UUID
	MarketID   MarketID
	Size       uint64
	EntryPrice uint64
	Margin     uint64
	IsLong     bool
}

// FundingState carries a market's funding accumulator and last marks.
type FundingState struct {
	MarketID        MarketID
	RateBps         int64 // last applied rate, signed basis points
	CumulativeIndex int64 // running sum of applied rates, bps
	LastUpdate      uint64
	MarkPrice       uint64
	OraclePrice     uint64
}

// InsuranceFund backstops liquidation shortfall for one quote asset.
type InsuranceFund struct {
	AssetID            AssetID
	Balance            uint64
	TotalContributions uint64
	TotalPayouts       uint64
}
