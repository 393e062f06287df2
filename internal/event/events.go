// Package event defines the notifications the engine emits after a
// transaction commits. Events describe state that has already been
// persisted; consumers can never observe an event for a rolled-back
// transaction.
package event

import (
	"github.com/google/uuid"

	"perpcore/internal/state"
)

// Event is a committed-state notification.
type Event interface {
	// Type is a stable lowercase name used as a routing subject suffix.
	Type() string
}

// OrderPlaced fires when an order rests on the book.
type OrderPlaced struct {
	Order state.Order
}

func (OrderPlaced) Type() string { return "order_placed" }

// OrderCancelled fires when a resting order is removed without fully
// filling. Reason distinguishes user cancels from engine cancels.
type OrderCancelled struct {
	Order  state.Order
	Reason string
}

func (OrderCancelled) Type() string { return "order_cancelled" }

// TradeExecuted fires once per maker fill.
type TradeExecuted struct {
	MarketID     state.MarketID
	TakerOrderID uint64
	MakerOrderID uint64
	Taker        uuid.UUID
	Maker        uuid.UUID
	TakerSide    state.Side
	Price        uint64
	Size         uint64
}

func (TradeExecuted) Type() string { return "trade_executed" }

// PositionChanged fires whenever a position opens, changes size, or
// closes. A closed position has Size zero.
type PositionChanged struct {
	Owner       uuid.UUID
	MarketID    state.MarketID
	Size        uint64
	EntryPrice  uint64
	Margin      uint64
	IsLong      bool
	RealizedPnL int64
}

func (PositionChanged) Type() string { return "position_changed" }

// BalanceChanged fires on any free-balance movement.
type BalanceChanged struct {
	Owner   uuid.UUID
	AssetID state.AssetID
	Balance uint64
	Delta   int64
	Reason  string
}

func (BalanceChanged) Type() string { return "balance_changed" }

// Liquidation fires when a liquidation settles. Deficit is the
// shortfall covered by the insurance fund; ADLCount is the number of
// counterparty positions deleveraged after the fund was exhausted.
type Liquidation struct {
	Target     uuid.UUID
	Liquidator uuid.UUID
	MarketID   state.MarketID
	ClosedSize uint64
	MarkPrice  uint64
	Deficit    uint64
	ADLCount   int
	FullClose  bool
}

func (Liquidation) Type() string { return "liquidation" }

// FundingApplied fires when a funding interval settles.
type FundingApplied struct {
	MarketID        state.MarketID
	RateBps         int64
	CumulativeIndex int64
	MarkPrice       uint64
	OraclePrice     uint64
	Positions       int
}

func (FundingApplied) Type() string { return "funding_applied" }

// BookRebuilt fires after recovery reconstructs a market's book.
type BookRebuilt struct {
	MarketID state.MarketID
	Restored int
	Dropped  int
}

func (BookRebuilt) Type() string { return "book_rebuilt" }
