package ingestion

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"perpcore/internal/state"
	"perpcore/internal/tx"
)

// ParseRawTx converts a RawTx into a typed transaction for the engine.
// Payloads are JSON with snake_case fields, matching upstream
// producers. Validation here is purely structural; the engine enforces
// the business rules.
func ParseRawTx(raw RawTx) (tx.Tx, error) {
	switch raw.Kind {
	case "deposit":
		return parseDeposit(raw.Data)
	case "withdraw":
		return parseWithdraw(raw.Data)
	case "transfer":
		return parseTransfer(raw.Data)
	case "bridge_deposit":
		return parseBridgeDeposit(raw.Data)
	case "bridge_withdraw":
		return parseBridgeWithdraw(raw.Data)
	case "place_order":
		return parsePlaceOrder(raw.Data)
	case "cancel_order":
		return parseCancelOrder(raw.Data)
	case "close_position":
		return parseClosePosition(raw.Data)
	case "liquidate":
		return parseLiquidate(raw.Data)
	case "update_funding":
		return parseUpdateFunding(raw.Data)
	case "admin":
		return parseAdmin(raw.Data)
	default:
		return nil, fmt.Errorf("unknown tx kind: %s", raw.Kind)
	}
}

type fundsJSON struct {
	Owner   string `json:"owner"`
	AssetID uint32 `json:"asset_id"`
	Amount  uint64 `json:"amount"`
}

func parseDeposit(data []byte) (tx.Tx, error) {
	var j fundsJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse deposit: %w", err)
	}
	owner, err := uuid.Parse(j.Owner)
	if err != nil {
		return nil, fmt.Errorf("parse owner: %w", err)
	}
	return tx.Deposit{Owner: owner, AssetID: state.AssetID(j.AssetID), Amount: j.Amount}, nil
}

func parseWithdraw(data []byte) (tx.Tx, error) {
	var j fundsJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse withdraw: %w", err)
	}
	owner, err := uuid.Parse(j.Owner)
	if err != nil {
		return nil, fmt.Errorf("parse owner: %w", err)
	}
	return tx.Withdraw{Owner: owner, AssetID: state.AssetID(j.AssetID), Amount: j.Amount}, nil
}

type transferJSON struct {
	From    string `json:"from"`
	To      string `json:"to"`
	AssetID uint32 `json:"asset_id"`
	Amount  uint64 `json:"amount"`
}

func parseTransfer(data []byte) (tx.Tx, error) {
	var j transferJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse transfer: %w", err)
	}
	from, err := uuid.Parse(j.From)
	if err != nil {
		return nil, fmt.Errorf("parse from: %w", err)
	}
	to, err := uuid.Parse(j.To)
	if err != nil {
		return nil, fmt.Errorf("parse to: %w", err)
	}
	return tx.Transfer{From: from, To: to, AssetID: state.AssetID(j.AssetID), Amount: j.Amount}, nil
}

type bridgeJSON struct {
	Operator  string `json:"operator"`
	Recipient string `json:"recipient,omitempty"`
	Owner     string `json:"owner,omitempty"`
	AssetID   uint32 `json:"asset_id"`
	Amount    uint64 `json:"amount"`
}

func parseBridgeDeposit(data []byte) (tx.Tx, error) {
	var j bridgeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse bridge_deposit: %w", err)
	}
	operator, err := uuid.Parse(j.Operator)
	if err != nil {
		return nil, fmt.Errorf("parse operator: %w", err)
	}
	recipient, err := uuid.Parse(j.Recipient)
	if err != nil {
		return nil, fmt.Errorf("parse recipient: %w", err)
	}
	return tx.BridgeDeposit{Operator: operator, Recipient: recipient, AssetID: state.AssetID(j.AssetID), Amount: j.Amount}, nil
}

func parseBridgeWithdraw(data []byte) (tx.Tx, error) {
	var j bridgeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse bridge_withdraw: %w", err)
	}
	operator, err := uuid.Parse(j.Operator)
	if err != nil {
		return nil, fmt.Errorf("parse operator: %w", err)
	}
	owner, err := uuid.Parse(j.Owner)
	if err != nil {
		return nil, fmt.Errorf("parse owner: %w", err)
	}
	return tx.BridgeWithdraw{Operator: operator, Owner: owner, AssetID: state.AssetID(j.AssetID), Amount: j.Amount}, nil
}

type placeOrderJSON struct {
	Owner       string `json:"owner"`
	MarketID    uint32 `json:"market_id"`
	Side        string `json:"side"`
	OrderType   string `json:"order_type"`
	Price       uint64 `json:"price"`
	Size        uint64 `json:"size"`
	TimeInForce string `json:"time_in_force"`
	ReduceOnly  bool   `json:"reduce_only"`
}

func parsePlaceOrder(data []byte) (tx.Tx, error) {
	var j placeOrderJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse place_order: %w", err)
	}
	owner, err := uuid.Parse(j.Owner)
	if err != nil {
		return nil, fmt.Errorf("parse owner: %w", err)
	}
	side, err := parseSide(j.Side)
	if err != nil {
		return nil, err
	}
	typ, err := parseOrderType(j.OrderType)
	if err != nil {
		return nil, err
	}
	tif, err := parseTimeInForce(j.TimeInForce)
	if err != nil {
		return nil, err
	}
	return tx.PlaceOrder{
		Owner:      owner,
		MarketID:   state.MarketID(j.MarketID),
		Side:       side,
		Type:       typ,
		Price:      j.Price,
		Size:       j.Size,
		TIF:        tif,
		ReduceOnly: j.ReduceOnly,
	}, nil
}

func parseSide(s string) (state.Side, error) {
	switch s {
	case "buy":
		return state.Buy, nil
	case "sell":
		return state.Sell, nil
	}
	return 0, fmt.Errorf("unknown side: %q", s)
}

func parseOrderType(s string) (state.OrderType, error) {
	switch s {
	case "limit", "":
		return state.Limit, nil
	case "market":
		return state.MarketOrder, nil
	}
	return 0, fmt.Errorf("unknown order type: %q", s)
}

func parseTimeInForce(s string) (state.TimeInForce, error) {
	switch s {
	case "gtc", "":
		return state.GTC, nil
	case "ioc":
		return state.IOC, nil
	case "fok":
		return state.FOK, nil
	case "post_only":
		return state.PostOnly, nil
	}
	return 0, fmt.Errorf("unknown time in force: %q", s)
}

type cancelOrderJSON struct {
	Owner   string `json:"owner"`
	OrderID uint64 `json:"order_id"`
}

func parseCancelOrder(data []byte) (tx.Tx, error) {
	var j cancelOrderJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse cancel_order: %w", err)
	}
	owner, err := uuid.Parse(j.Owner)
	if err != nil {
		return nil, fmt.Errorf("parse owner: %w", err)
	}
	return tx.CancelOrder{Owner: owner, OrderID: j.OrderID}, nil
}

type closePositionJSON struct {
	Owner    string `json:"owner"`
	MarketID uint32 `json:"market_id"`
	Size     uint64 `json:"size"`
}

func parseClosePosition(data []byte) (tx.Tx, error) {
	var j closePositionJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse close_position: %w", err)
	}
	owner, err := uuid.Parse(j.Owner)
	if err != nil {
		return nil, fmt.Errorf("parse owner: %w", err)
	}
	return tx.ClosePosition{Owner: owner, MarketID: state.MarketID(j.MarketID), Size: j.Size}, nil
}

type liquidateJSON struct {
	Liquidator string `json:"liquidator"`
	Target     string `json:"target"`
	MarketID   uint32 `json:"market_id"`
}

func parseLiquidate(data []byte) (tx.Tx, error) {
	var j liquidateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse liquidate: %w", err)
	}
	liquidator, err := uuid.Parse(j.Liquidator)
	if err != nil {
		return nil, fmt.Errorf("parse liquidator: %w", err)
	}
	target, err := uuid.Parse(j.Target)
	if err != nil {
		return nil, fmt.Errorf("parse target: %w", err)
	}
	return tx.Liquidate{Liquidator: liquidator, Target: target, MarketID: state.MarketID(j.MarketID)}, nil
}

type updateFundingJSON struct {
	MarketID    uint32 `json:"market_id"`
	OraclePrice uint64 `json:"oracle_price"`
}

func parseUpdateFunding(data []byte) (tx.Tx, error) {
	var j updateFundingJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse update_funding: %w", err)
	}
	return tx.UpdateFunding{MarketID: state.MarketID(j.MarketID), OraclePrice: j.OraclePrice}, nil
}

// Admin payloads multiplex the low-volume governance operations on one
// subject, discriminated by "op".
type adminJSON struct {
	Op       string      `json:"op"`
	Asset    *assetJSON  `json:"asset,omitempty"`
	Market   *marketJSON `json:"market,omitempty"`
	Operator string      `json:"operator,omitempty"`
	Enabled  bool        `json:"enabled,omitempty"`
}

type assetJSON struct {
	ID       uint32 `json:"id"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

type marketJSON struct {
	ID                   uint32 `json:"id"`
	Symbol               string `json:"symbol"`
	BaseAssetID          uint32 `json:"base_asset_id"`
	QuoteAssetID         uint32 `json:"quote_asset_id"`
	TickSize             uint64 `json:"tick_size"`
	MinOrderSize         uint64 `json:"min_order_size"`
	MaxOrderSize         uint64 `json:"max_order_size"`
	MaxLeverage          uint32 `json:"max_leverage"`
	InitialMarginBps     uint32 `json:"initial_margin_bps"`
	MaintenanceMarginBps uint32 `json:"maintenance_margin_bps"`
	LiquidationFeeBps    uint32 `json:"liquidation_fee_bps"`
	TakerFeeBps          uint32 `json:"taker_fee_bps"`
	MakerFeeBps          uint32 `json:"maker_fee_bps"`
	MaxFundingRateBps    uint32 `json:"max_funding_rate_bps"`
	FundingIntervalSecs  uint64 `json:"funding_interval_secs"`
}

func parseAdmin(data []byte) (tx.Tx, error) {
	var j adminJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse admin: %w", err)
	}
	switch j.Op {
	case "register_asset":
		if j.Asset == nil {
			return nil, fmt.Errorf("register_asset: missing asset")
		}
		return tx.RegisterAsset{Asset: state.Asset{
			ID:       state.AssetID(j.Asset.ID),
			Symbol:   j.Asset.Symbol,
			Decimals: j.Asset.Decimals,
		}}, nil
	case "create_market":
		if j.Market == nil {
			return nil, fmt.Errorf("create_market: missing market")
		}
		m := j.Market
		return tx.CreateMarket{Market: state.Market{
			ID:                   state.MarketID(m.ID),
			Symbol:               m.Symbol,
			BaseAssetID:          state.AssetID(m.BaseAssetID),
			QuoteAssetID:         state.AssetID(m.QuoteAssetID),
			TickSize:             m.TickSize,
			MinOrderSize:         m.MinOrderSize,
			MaxOrderSize:         m.MaxOrderSize,
			MaxLeverage:          m.MaxLeverage,
			InitialMarginBps:     m.InitialMarginBps,
			MaintenanceMarginBps: m.MaintenanceMarginBps,
			LiquidationFeeBps:    m.LiquidationFeeBps,
			TakerFeeBps:          m.TakerFeeBps,
			MakerFeeBps:          m.MakerFeeBps,
			MaxFundingRateBps:    m.MaxFundingRateBps,
			FundingIntervalSecs:  m.FundingIntervalSecs,
		}}, nil
	case "set_bridge_operator":
		operator, err := uuid.Parse(j.Operator)
		if err != nil {
			return nil, fmt.Errorf("parse operator: %w", err)
		}
		return tx.SetBridgeOperator{Operator: operator, Enabled: j.Enabled}, nil
	}
	return nil, fmt.Errorf("unknown admin op: %q", j.Op)
}
