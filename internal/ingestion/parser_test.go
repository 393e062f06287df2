package ingestion_test

import (
	"encoding/json"
	"testing"
	"time"

	"perpcore/internal/ingestion"
	"perpcore/internal/state"
	"perpcore/internal/tx"
)

func rawFromJSON(t *testing.T, kind string, v interface{}) ingestion.RawTx {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawTx{
		Subject:  "test",
		Kind:     kind,
		Data:     data,
		Received: time.Now(),
		Ack:      func() {},
		Nak:      func() {},
	}
}

func TestParsePlaceOrder(t *testing.T) {
	payload := map[string]interface{}{
		"owner":         "550e8400-e29b-41d4-a716-446655440000",
		"market_id":     uint32(1),
		"side":          "buy",
		"order_type":    "limit",
		"price":         uint64(50_000),
		"size":          uint64(10),
		"time_in_force": "gtc",
		"reduce_only":   false,
	}

	parsed, err := ingestion.ParseRawTx(rawFromJSON(t, "place_order", payload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	po, ok := parsed.(tx.PlaceOrder)
	if !ok {
		t.Fatalf("expected tx.PlaceOrder, got %T", parsed)
	}
	if po.MarketID != 1 || po.Side != state.Buy || po.Type != state.Limit {
		t.Errorf("order = %+v", po)
	}
	if po.Price != 50_000 || po.Size != 10 || po.TIF != state.GTC {
		t.Errorf("order = %+v", po)
	}
	if po.Owner.String() != "550e8400-e29b-41d4-a716-446655440000" {
		t.Errorf("owner = %s", po.Owner)
	}
}

func TestParsePlaceOrderDefaults(t *testing.T) {
	payload := map[string]interface{}{
		"owner":     "550e8400-e29b-41d4-a716-446655440000",
		"market_id": uint32(1),
		"side":      "sell",
		"price":     uint64(50_000),
		"size":      uint64(1),
	}
	parsed, err := ingestion.ParseRawTx(rawFromJSON(t, "place_order", payload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	po := parsed.(tx.PlaceOrder)
	if po.Type != state.Limit || po.TIF != state.GTC {
		t.Errorf("defaults = %+v", po)
	}
}

func TestParsePlaceOrderRejectsBadEnums(t *testing.T) {
	base := map[string]interface{}{
		"owner":     "550e8400-e29b-41d4-a716-446655440000",
		"market_id": uint32(1),
		"price":     uint64(50_000),
		"size":      uint64(1),
	}
	cases := []struct {
		field, value string
	}{
		{"side", "long"},
		{"order_type", "stop"},
		{"time_in_force", "day"},
	}
	for _, c := range cases {
		payload := map[string]interface{}{"side": "buy"}
		for k, v := range base {
			payload[k] = v
		}
		payload[c.field] = c.value
		if _, err := ingestion.ParseRawTx(rawFromJSON(t, "place_order", payload)); err == nil {
			t.Errorf("%s=%q accepted", c.field, c.value)
		}
	}
}

func TestParseDeposit(t *testing.T) {
	payload := map[string]interface{}{
		"owner":    "550e8400-e29b-41d4-a716-446655440000",
		"asset_id": uint32(1),
		"amount":   uint64(1_000_000),
	}
	parsed, err := ingestion.ParseRawTx(rawFromJSON(t, "deposit", payload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	d := parsed.(tx.Deposit)
	if d.AssetID != 1 || d.Amount != 1_000_000 {
		t.Errorf("deposit = %+v", d)
	}

	payload["owner"] = "not-a-uuid"
	if _, err := ingestion.ParseRawTx(rawFromJSON(t, "deposit", payload)); err == nil {
		t.Error("bad owner accepted")
	}
}

func TestParseLiquidate(t *testing.T) {
	payload := map[string]interface{}{
		"liquidator": "550e8400-e29b-41d4-a716-446655440000",
		"target":     "660e8400-e29b-41d4-a716-446655440001",
		"market_id":  uint32(1),
	}
	parsed, err := ingestion.ParseRawTx(rawFromJSON(t, "liquidate", payload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	l := parsed.(tx.Liquidate)
	if l.MarketID != 1 || l.Liquidator == l.Target {
		t.Errorf("liquidate = %+v", l)
	}
}

func TestParseAdminOps(t *testing.T) {
	asset := map[string]interface{}{
		"op":    "register_asset",
		"asset": map[string]interface{}{"id": uint32(1), "symbol": "USD", "decimals": uint8(6)},
	}
	parsed, err := ingestion.ParseRawTx(rawFromJSON(t, "admin", asset))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	ra := parsed.(tx.RegisterAsset)
	if ra.Asset.ID != 1 || ra.Asset.Symbol != "USD" || ra.Asset.Decimals != 6 {
		t.Errorf("asset = %+v", ra.Asset)
	}

	market := map[string]interface{}{
		"op": "create_market",
		"market": map[string]interface{}{
			"id": uint32(1), "symbol": "BTC-PERP",
			"base_asset_id": uint32(2), "quote_asset_id": uint32(1),
			"tick_size": uint64(1_000), "min_order_size": uint64(1), "max_order_size": uint64(1_000_000),
			"max_leverage": uint32(20), "initial_margin_bps": uint32(1_000),
			"maintenance_margin_bps": uint32(500), "liquidation_fee_bps": uint32(100),
			"max_funding_rate_bps": uint32(1_000), "funding_interval_secs": uint64(3_600),
		},
	}
	parsed, err = ingestion.ParseRawTx(rawFromJSON(t, "admin", market))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	cm := parsed.(tx.CreateMarket)
	if cm.Market.Symbol != "BTC-PERP" || cm.Market.TickSize != 1_000 || cm.Market.InitialMarginBps != 1_000 {
		t.Errorf("market = %+v", cm.Market)
	}

	operator := map[string]interface{}{
		"op":       "set_bridge_operator",
		"operator": "550e8400-e29b-41d4-a716-446655440000",
		"enabled":  true,
	}
	parsed, err = ingestion.ParseRawTx(rawFromJSON(t, "admin", operator))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if op := parsed.(tx.SetBridgeOperator); !op.Enabled {
		t.Errorf("operator = %+v", op)
	}

	if _, err := ingestion.ParseRawTx(rawFromJSON(t, "admin", map[string]interface{}{"op": "halt"})); err == nil {
		t.Error("unknown op accepted")
	}
}

func TestParseUnknownKind(t *testing.T) {
	if _, err := ingestion.ParseRawTx(rawFromJSON(t, "mystery", map[string]interface{}{})); err == nil {
		t.Error("unknown kind accepted")
	}
}
