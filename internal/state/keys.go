package state

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// Key prefixes. Every stored record lives under exactly one prefix so
// the authenticated root commits to the full keyspace and range scans
// stay disjoint.
const (
	prefixBalance        = 0x01 // owner(16) | asset(4)
	prefixPosition       = 0x02 // owner(16) | market(4)
	prefixOrder          = 0x03 // order id(8), big-endian for ordered scans
	prefixMarket         = 0x04 // market(4)
	prefixAsset          = 0x05 // asset(4)
	prefixActiveOrders   = 0x06 // market(4)
	prefixInsuranceFund  = 0x07 // asset(4)
	prefixNextOrderID    = 0x08
	prefixMarketList     = 0x09
	prefixAssetList      = 0x0a
	prefixBridgeOperator = 0x0b // owner(16)
	prefixFunding        = 0x0c // market(4)
	prefixPositionIndex  = 0x0d // market(4)
	prefixSettlement     = 0x0e // asset(4)
	prefixFeeCollector   = 0x0f // asset(4)
)

func keyBalance(owner uuid.UUID, asset AssetID) []byte {
	b := make([]byte, 0, 21)
	b = append(b, prefixBalance)
	b = append(b, owner[:]...)
	return binary.BigEndian.AppendUint32(b, uint32(asset))
}

func keyPosition(owner uuid.UUID, market MarketID) []byte {
	b := make([]byte, 0, 21)
	b = append(b, prefixPosition)
	b = append(b, owner[:]...)
	return binary.BigEndian.AppendUint32(b, uint32(market))
}

func keyOrder(id uint64) []byte {
	b := make([]byte, 0, 9)
	b = append(b, prefixOrder)
	return binary.BigEndian.AppendUint64(b, id)
}

func keyMarket(id MarketID) []byte {
	b := make([]byte, 0, 5)
	b = append(b, prefixMarket)
	return binary.BigEndian.AppendUint32(b, uint32(id))
}

func keyAsset(id AssetID) []byte {
	b := make([]byte, 0, 5)
	b = append(b, prefixAsset)
	return binary.BigEndian.AppendUint32(b, uint32(id))
}

func keyActiveOrders(market MarketID) []byte {
	b := make([]byte, 0, 5)
	b = append(b, prefixActiveOrders)
	return binary.BigEndian.AppendUint32(b, uint32(market))
}

func keyInsuranceFund(asset AssetID) []byte {
	b := make([]byte, 0, 5)
	b = append(b, prefixInsuranceFund)
	return binary.BigEndian.AppendUint32(b, uint32(asset))
}

func keyNextOrderID() []byte {
	return []byte{prefixNextOrderID}
}

func keyMarketList() []byte {
	return []byte{prefixMarketList}
}

func keyAssetList() []byte {
	return []byte{prefixAssetList}
}

func keyBridgeOperator(owner uuid.UUID) []byte {
	b := make([]byte, 0, 17)
	b = append(b, prefixBridgeOperator)
	return append(b, owner[:]...)
}

func keyFunding(market MarketID) []byte {
	b := make([]byte, 0, 5)
	b = append(b, prefixFunding)
	return binary.BigEndian.AppendUint32(b, uint32(market))
}

func keyPositionIndex(market MarketID) []byte {
	b := make([]byte, 0, 5)
	b = append(b, prefixPositionIndex)
	return binary.BigEndian.AppendUint32(b, uint32(market))
}

func keySettlement(asset AssetID) []byte {
	b := make([]byte, 0, 5)
	b = append(b, prefixSettlement)
	return binary.BigEndian.AppendUint32(b, uint32(asset))
}

func keyFeeCollector(asset AssetID) []byte {
	b := make([]byte, 0, 5)
	b = append(b, prefixFeeCollector)
	return binary.BigEndian.AppendUint32(b, uint32(asset))
}
