// Package tx defines the closed set of state transitions the engine
// accepts. Each variant carries exactly the fields its handler needs;
// anything derivable from state (entry prices, margins, order ids) is
// never taken from the wire.
package tx

import (
	"github.com/google/uuid"

	"perpcore/internal/state"
)

// Tx is a sealed state-transition payload.
type Tx interface {
	isTx()
	// Kind is a stable lowercase name used in logs, events and metrics.
	Kind() string
}

// Deposit credits free balance from an external source.
type Deposit struct {
	Owner   uuid.UUID
	AssetID state.AssetID
	Amount  uint64
}

func (Deposit) isTx()        {}
func (Deposit) Kind() string { return "deposit" }

// Withdraw debits free balance to an external destination.
type Withdraw struct {
	Owner   uuid.UUID
	AssetID state.AssetID
	Amount  uint64
}

func (Withdraw) isTx()        {}
func (Withdraw) Kind() string { return "withdraw" }

// Transfer moves free balance between two owners.
type Transfer struct {
	From    uuid.UUID
	To      uuid.UUID
	AssetID state.AssetID
	Amount  uint64
}

func (Transfer) isTx()        {}
func (Transfer) Kind() string { return "transfer" }

// BridgeDeposit credits balance on behalf of a cross-chain bridge.
// Only registered bridge operators may submit it.
type BridgeDeposit struct {
	Operator  uuid.UUID
	Recipient uuid.UUID
	AssetID   state.AssetID
	Amount    uint64
}

func (BridgeDeposit) isTx()        {}
func (BridgeDeposit) Kind() string { return "bridge_deposit" }

// BridgeWithdraw debits balance for a bridge-out on behalf of an owner.
type BridgeWithdraw struct {
	Operator uuid.UUID
	Owner    uuid.UUID
	AssetID  state.AssetID
	Amount   uint64
}

func (BridgeWithdraw) isTx()        {}
func (BridgeWithdraw) Kind() string { return "bridge_withdraw" }

// SetBridgeOperator grants or revokes bridge authority for an owner.
type SetBridgeOperator struct {
	Operator uuid.UUID
	Enabled  bool
}

func (SetBridgeOperator) isTx()        {}
func (SetBridgeOperator) Kind() string { return "set_bridge_operator" }

// RegisterAsset introduces a new asset.
type RegisterAsset struct {
	Asset state.Asset
}

func (RegisterAsset) isTx()        {}
func (RegisterAsset) Kind() string { return "register_asset" }

// CreateMarket introduces a new perpetual market.
type CreateMarket struct {
	Market state.Market
}

func (CreateMarket) isTx()        {}
func (CreateMarket) Kind() string { return "create_market" }

// PlaceOrder submits an order. Price must be 0 for market orders and a
// tick multiple for limit orders.
type PlaceOrder struct {
	Owner      uuid.UUID
	MarketID   state.MarketID
	Side       state.Side
	Type       state.OrderType
	Price      uint64
	Size       uint64
	TIF        state.TimeInForce
	ReduceOnly bool
}

func (PlaceOrder) isTx()        {}
func (PlaceOrder) Kind() string { return "place_order" }

// CancelOrder removes a resting order owned by the sender.
type CancelOrder struct {
	Owner   uuid.UUID
	OrderID uint64
}

func (CancelOrder) isTx()        {}
func (CancelOrder) Kind() string { return "cancel_order" }

// ClosePosition closes up to Size of the sender's position at the mark
// price. Size zero means the full position.
type ClosePosition struct {
	Owner    uuid.UUID
	MarketID state.MarketID
	Size     uint64
}

func (ClosePosition) isTx()        {}
func (ClosePosition) Kind() string { return "close_position" }

// Liquidate asks the engine to evaluate and, if the position is below
// maintenance, liquidate the target's position.
type Liquidate struct {
	Liquidator uuid.UUID
	Target     uuid.UUID
	MarketID   state.MarketID
}

func (Liquidate) isTx()        {}
func (Liquidate) Kind() string { return "liquidate" }

// UpdateFunding feeds a new oracle price and, when the interval has
// elapsed, applies a funding payment across open positions.
type UpdateFunding struct {
	MarketID    state.MarketID
	OraclePrice uint64
}

func (UpdateFunding) isTx()        {}
func (UpdateFunding) Kind() string { return "update_funding" }
