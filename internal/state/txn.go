package state

import (
	"bytes"
	"sort"

	"github.com/google/uuid"
)

// Txn is a write-buffered view over the store. Reads see the overlay
// first, then the underlying tree; writes and deletes stay in the
// overlay until Commit, so discarding a rejected transaction never
// touches persistent state.
type Txn struct {
	store   *Store
	writes  map[string][]byte
	deletes map[string]struct{}
}

func (t *Txn) get(key []byte) ([]byte, error) {
	k := string(key)
	if v, ok := t.writes[k]; ok {
		return v, nil
	}
	if _, ok := t.deletes[k]; ok {
		return nil, nil
	}
	return t.store.get(key)
}

func (t *Txn) set(key, value []byte) {
	k := string(key)
	delete(t.deletes, k)
	t.writes[k] = value
}

func (t *Txn) del(key []byte) {
	k := string(key)
	delete(t.writes, k)
	t.deletes[k] = struct{}{}
}

// Commit applies the overlay to the working tree in key order.
func (t *Txn) Commit() error {
	keys := make([]string, 0, len(t.writes)+len(t.deletes))
	for k := range t.writes {
		keys = append(keys, k)
	}
	for k := range t.deletes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v, ok := t.writes[k]; ok {
			if err := t.store.set([]byte(k), v); err != nil {
				return err
			}
		} else if err := t.store.remove([]byte(k)); err != nil {
			return err
		}
	}
	t.writes = make(map[string][]byte)
	t.deletes = make(map[string]struct{})
	return nil
}

// Discard drops all buffered changes.
func (t *Txn) Discard() {
	t.writes = make(map[string][]byte)
	t.deletes = make(map[string]struct{})
}

// Balance returns the free balance of owner in asset; missing means 0.
func (t *Txn) Balance(owner uuid.UUID, asset AssetID) (uint64, error) {
	buf, err := t.get(keyBalance(owner, asset))
	if err != nil || buf == nil {
		return 0, err
	}
	return DecodeU64(buf)
}

// SetBalance writes the free balance; a zero balance keeps its record
// so deposit history remains provable under the root.
func (t *Txn) SetBalance(owner uuid.UUID, asset AssetID, amount uint64) {
	t.set(keyBalance(owner, asset), EncodeU64(amount))
}

// Position returns the position of owner in market, or nil if absent.
func (t *Txn) Position(owner uuid.UUID, market MarketID) (*Position, error) {
	buf, err := t.get(keyPosition(owner, market))
	if err != nil || buf == nil {
		return nil, err
	}
	return DecodePosition(buf)
}

// SetPosition writes a position record.
func (t *Txn) SetPosition(p *Position) {
	t.set(keyPosition(p.Owner, p.MarketID), EncodePosition(p))
}

// DeletePosition removes a closed position record.
func (t *Txn) DeletePosition(owner uuid.UUID, market MarketID) {
	t.del(keyPosition(owner, market))
}

// Order returns the order with the given id, or nil if absent.
func (t *Txn) Order(id uint64) (*Order, error) {
	buf, err := t.get(keyOrder(id))
	if err != nil || buf == nil {
		return nil, err
	}
	return DecodeOrder(buf)
}

// SetOrder writes an order record. Filled and cancelled orders keep
// their records as immutable history; only the active index shrinks.
func (t *Txn) SetOrder(o *Order) {
	t.set(keyOrder(o.ID), EncodeOrder(o))
}

// Market returns the market with the given id, or nil if absent.
func (t *Txn) Market(id MarketID) (*Market, error) {
	buf, err := t.get(keyMarket(id))
	if err != nil || buf == nil {
		return nil, err
	}
	return DecodeMarket(buf)
}

// SetMarket writes a market record.
func (t *Txn) SetMarket(m *Market) {
	t.set(keyMarket(m.ID), EncodeMarket(m))
}

// Asset returns the asset with the given id, or nil if absent.
func (t *Txn) Asset(id AssetID) (*Asset, error) {
	buf, err := t.get(keyAsset(id))
	if err != nil || buf == nil {
		return nil, err
	}
	return DecodeAsset(buf)
}

// SetAsset writes an asset record.
func (t *Txn) SetAsset(a *Asset) {
	t.set(keyAsset(a.ID), EncodeAsset(a))
}

// ActiveOrders returns the sorted ids of resting orders in market.
func (t *Txn) ActiveOrders(market MarketID) ([]uint64, error) {
	buf, err := t.get(keyActiveOrders(market))
	if err != nil || buf == nil {
		return nil, err
	}
	return DecodeU64Set(buf)
}

// AddActiveOrder inserts id into the market's active order index.
func (t *Txn) AddActiveOrder(market MarketID, id uint64) error {
	ids, err := t.ActiveOrders(market)
	if err != nil {
		return err
	}
	i := sort.Search(len(ids), func(i int) bool { return ids[i] >= id })
	if i < len(ids) && ids[i] == id {
		return nil
	}
	ids = append(ids, 0)
	copy(ids[i+1:], ids[i:])
	ids[i] = id
	t.set(keyActiveOrders(market), EncodeU64Set(ids))
	return nil
}

// RemoveActiveOrder removes id from the market's active order index.
func (t *Txn) RemoveActiveOrder(market MarketID, id uint64) error {
	ids, err := t.ActiveOrders(market)
	if err != nil {
		return err
	}
	i := sort.Search(len(ids), func(i int) bool { return ids[i] >= id })
	if i >= len(ids) || ids[i] != id {
		return nil
	}
	ids = append(ids[:i], ids[i+1:]...)
	t.set(keyActiveOrders(market), EncodeU64Set(ids))
	return nil
}

// InsuranceFund returns the fund for asset, zero-valued if absent.
func (t *Txn) InsuranceFund(asset AssetID) (*InsuranceFund, error) {
	buf, err := t.get(keyInsuranceFund(asset))
	if err != nil {
		return nil, err
	}
	if buf == nil {
		return &InsuranceFund{AssetID: asset}, nil
	}
	return DecodeInsuranceFund(buf)
}

// SetInsuranceFund writes an insurance fund record.
func (t *Txn) SetInsuranceFund(f *InsuranceFund) {
	t.set(keyInsuranceFund(f.AssetID), EncodeInsuranceFund(f))
}

// NextOrderID allocates the next monotonic order id.
func (t *Txn) NextOrderID() (uint64, error) {
	buf, err := t.get(keyNextOrderID())
	if err != nil {
		return 0, err
	}
	next := uint64(1)
	if buf != nil {
		if next, err = DecodeU64(buf); err != nil {
			return 0, err
		}
	}
	t.set(keyNextOrderID(), EncodeU64(next+1))
	return next, nil
}

// Markets returns the sorted list of market ids.
func (t *Txn) Markets() ([]MarketID, error) {
	buf, err := t.get(keyMarketList())
	if err != nil || buf == nil {
		return nil, err
	}
	ids, err := DecodeU64Set(buf)
	if err != nil {
		return nil, err
	}
	out := make([]MarketID, len(ids))
	for i, id := range ids {
		out[i] = MarketID(id)
	}
	return out, nil
}

// AddMarket inserts id into the market list.
func (t *Txn) AddMarket(id MarketID) error {
	return t.addToList(keyMarketList(), uint64(id))
}

// Assets returns the sorted list of asset ids.
func (t *Txn) Assets() ([]AssetID, error) {
	buf, err := t.get(keyAssetList())
	if err != nil || buf == nil {
		return nil, err
	}
	ids, err := DecodeU64Set(buf)
	if err != nil {
		return nil, err
	}
	out := make([]AssetID, len(ids))
	for i, id := range ids {
		out[i] = AssetID(id)
	}
	return out, nil
}

// AddAsset inserts id into the asset list.
func (t *Txn) AddAsset(id AssetID) error {
	return t.addToList(keyAssetList(), uint64(id))
}

func (t *Txn) addToList(key []byte, id uint64) error {
	buf, err := t.get(key)
	if err != nil {
		return err
	}
	var ids []uint64
	if buf != nil {
		if ids, err = DecodeU64Set(buf); err != nil {
			return err
		}
	}
	i := sort.Search(len(ids), func(i int) bool { return ids[i] >= id })
	if i < len(ids) && ids[i] == id {
		return nil
	}
	ids = append(ids, 0)
	copy(ids[i+1:], ids[i:])
	ids[i] = id
	t.set(key, EncodeU64Set(ids))
	return nil
}

// IsBridgeOperator reports whether owner is an authorized bridge
// operator.
func (t *Txn) IsBridgeOperator(owner uuid.UUID) (bool, error) {
	buf, err := t.get(keyBridgeOperator(owner))
	if err != nil {
		return false, err
	}
	return len(buf) == 1 && buf[0] == 1, nil
}

// SetBridgeOperator grants or revokes bridge operator authority.
func (t *Txn) SetBridgeOperator(owner uuid.UUID, enabled bool) {
	if enabled {
		t.set(keyBridgeOperator(owner), []byte{1})
	} else {
		t.del(keyBridgeOperator(owner))
	}
}

// FundingState returns the funding record for market, or nil if absent.
func (t *Txn) FundingState(market MarketID) (*FundingState, error) {
	buf, err := t.get(keyFunding(market))
	if err != nil || buf == nil {
		return nil, err
	}
	return DecodeFundingState(buf)
}

// SetFundingState writes a funding record.
func (t *Txn) SetFundingState(f *FundingState) {
	t.set(keyFunding(f.MarketID), EncodeFundingState(f))
}

// PositionOwners returns the sorted owners holding positions in market.
func (t *Txn) PositionOwners(market MarketID) ([]uuid.UUID, error) {
	buf, err := t.get(keyPositionIndex(market))
	if err != nil || buf == nil {
		return nil, err
	}
	return DecodeOwnerSet(buf)
}

// AddPositionOwner inserts owner into the market's position index.
func (t *Txn) AddPositionOwner(market MarketID, owner uuid.UUID) error {
	owners, err := t.PositionOwners(market)
	if err != nil {
		return err
	}
	i := sort.Search(len(owners), func(i int) bool {
		return bytes.Compare(owners[i][:], owner[:]) >= 0
	})
	if i < len(owners) && owners[i] == owner {
		return nil
	}
	owners = append(owners, uuid.UUID{})
	copy(owners[i+1:], owners[i:])
	owners[i] = owner
	t.set(keyPositionIndex(market), EncodeOwnerSet(owners))
	return nil
}

// RemovePositionOwner removes owner from the market's position index.
func (t *Txn) RemovePositionOwner(market MarketID, owner uuid.UUID) error {
	owners, err := t.PositionOwners(market)
	if err != nil {
		return err
	}
	i := sort.Search(len(owners), func(i int) bool {
		return bytes.Compare(owners[i][:], owner[:]) >= 0
	})
	if i >= len(owners) || owners[i] != owner {
		return nil
	}
	owners = append(owners[:i], owners[i+1:]...)
	t.set(keyPositionIndex(market), EncodeOwnerSet(owners))
	return nil
}

// Settlement returns the signed settlement account for asset. Realized
// PnL nets against this account so the ledger stays conserved.
func (t *Txn) Settlement(asset AssetID) (int64, error) {
	buf, err := t.get(keySettlement(asset))
	if err != nil || buf == nil {
		return 0, err
	}
	return DecodeI64(buf)
}

// SetSettlement writes the settlement account balance.
func (t *Txn) SetSettlement(asset AssetID, v int64) {
	t.set(keySettlement(asset), EncodeI64(v))
}

// FeeCollector returns accumulated protocol fees in asset.
func (t *Txn) FeeCollector(asset AssetID) (uint64, error) {
	buf, err := t.get(keyFeeCollector(asset))
	if err != nil || buf == nil {
		return 0, err
	}
	return DecodeU64(buf)
}

// SetFeeCollector writes the fee collector balance.
func (t *Txn) SetFeeCollector(asset AssetID, v uint64) {
	t.set(keyFeeCollector(asset), EncodeU64(v))
}
