package engine

import (
	"github.com/google/uuid"

	"perpcore/internal/state"
)

// Read-only accessors for the RPC layer. They see committed-plus-staged
// working state, never a transaction's intermediate effects, because
// Apply commits or discards its overlay before returning.

// QueryBalance returns the free balance of owner in asset.
func (e *Engine) QueryBalance(owner uuid.UUID, asset state.AssetID) (uint64, error) {
	return e.store.Begin().Balance(owner, asset)
}

// QueryPosition returns owner's position in market, or nil.
func (e *Engine) QueryPosition(owner uuid.UUID, market state.MarketID) (*state.Position, error) {
	return e.store.Begin().Position(owner, market)
}

// QueryOrder returns the order record with the given id, or nil.
func (e *Engine) QueryOrder(id uint64) (*state.Order, error) {
	return e.store.Begin().Order(id)
}

// QueryMarket returns the market with the given id, or nil.
func (e *Engine) QueryMarket(id state.MarketID) (*state.Market, error) {
	return e.store.Begin().Market(id)
}

// QueryMarkets returns the ids of all markets.
func (e *Engine) QueryMarkets() ([]state.MarketID, error) {
	return e.store.Begin().Markets()
}

// QueryAsset returns the asset with the given id, or nil.
func (e *Engine) QueryAsset(id state.AssetID) (*state.Asset, error) {
	return e.store.Begin().Asset(id)
}

// QueryFunding returns the funding state of market, or nil.
func (e *Engine) QueryFunding(market state.MarketID) (*state.FundingState, error) {
	return e.store.Begin().FundingState(market)
}

// QueryInsuranceFund returns the insurance fund for asset.
func (e *Engine) QueryInsuranceFund(asset state.AssetID) (*state.InsuranceFund, error) {
	return e.store.Begin().InsuranceFund(asset)
}

// BookDepth is a point-in-time top-of-book snapshot.
type BookDepth struct {
	MarketID state.MarketID
	BestBid  uint64
	BidSize  uint64
	BestAsk  uint64
	AskSize  uint64
	Resting  int
}

// QueryDepth returns the current top of book for market.
func (e *Engine) QueryDepth(market state.MarketID) BookDepth {
	b := e.bookFor(market)
	d := BookDepth{MarketID: market, Resting: b.Len()}
	if bid, ok := b.BestBid(); ok {
		d.BestBid = bid
		d.BidSize = b.DepthAt(state.Buy, bid)
	}
	if ask, ok := b.BestAsk(); ok {
		d.BestAsk = ask
		d.AskSize = b.DepthAt(state.Sell, ask)
	}
	return d
}
