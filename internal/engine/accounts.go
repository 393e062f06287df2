package engine

import (
	"fmt"

	"github.com/google/uuid"

	"perpcore/internal/event"
	"perpcore/internal/fpmath"
	"perpcore/internal/state"
	"perpcore/internal/tx"
)

func (e *Engine) credit(txn *state.Txn, owner uuid.UUID, asset state.AssetID, amount uint64, reason string) error {
	bal, err := txn.Balance(owner, asset)
	if err != nil {
		return err
	}
	next, ok := fpmath.AddU64(bal, amount)
	if !ok {
		return fmt.Errorf("%w: balance credit", ErrOverflow)
	}
	txn.SetBalance(owner, asset, next)
	e.emit(event.BalanceChanged{
		Owner: owner, AssetID: asset, Balance: next,
		Delta: int64(amount), Reason: reason,
	})
	return nil
}

func (e *Engine) debit(txn *state.Txn, owner uuid.UUID, asset state.AssetID, amount uint64, reason string) error {
	bal, err := txn.Balance(owner, asset)
	if err != nil {
		return err
	}
	next, ok := fpmath.SubU64(bal, amount)
	if !ok {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientBalance, bal, amount)
	}
	txn.SetBalance(owner, asset, next)
	e.emit(event.BalanceChanged{
		Owner: owner, AssetID: asset, Balance: next,
		Delta: -int64(amount), Reason: reason,
	})
	return nil
}

func (e *Engine) requireAsset(txn *state.Txn, id state.AssetID) error {
	a, err := txn.Asset(id)
	if err != nil {
		return err
	}
	if a == nil {
		return fmt.Errorf("%w: asset %d", ErrNotFound, id)
	}
	return nil
}

func (e *Engine) applyDeposit(txn *state.Txn, p tx.Deposit) error {
	if p.Amount == 0 {
		return fmt.Errorf("%w: zero amount", ErrValidation)
	}
	if err := e.requireAsset(txn, p.AssetID); err != nil {
		return err
	}
	return e.credit(txn, p.Owner, p.AssetID, p.Amount, "deposit")
}

func (e *Engine) applyWithdraw(txn *state.Txn, p tx.Withdraw) error {
	if p.Amount == 0 {
		return fmt.Errorf("%w: zero amount", ErrValidation)
	}
	if err := e.requireAsset(txn, p.AssetID); err != nil {
		return err
	}
	return e.debit(txn, p.Owner, p.AssetID, p.Amount, "withdraw")
}

func (e *Engine) applyTransfer(txn *state.Txn, p tx.Transfer) error {
	if p.Amount == 0 {
		return fmt.Errorf("%w: zero amount", ErrValidation)
	}
	if p.From == p.To {
		return fmt.Errorf("%w: self transfer", ErrValidation)
	}
	if err := e.requireAsset(txn, p.AssetID); err != nil {
		return err
	}
	if err := e.debit(txn, p.From, p.AssetID, p.Amount, "transfer_out"); err != nil {
		return err
	}
	return e.credit(txn, p.To, p.AssetID, p.Amount, "transfer_in")
}

func (e *Engine) requireBridgeOperator(txn *state.Txn, operator uuid.UUID) error {
	ok, err := txn.IsBridgeOperator(operator)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s is not a bridge operator", ErrUnauthorized, operator)
	}
	return nil
}

func (e *Engine) applyBridgeDeposit(txn *state.Txn, p tx.BridgeDeposit) error {
	if err := e.requireBridgeOperator(txn, p.Operator); err != nil {
		return err
	}
	if p.Amount == 0 {
		return fmt.Errorf("%w: zero amount", ErrValidation)
	}
	if err := e.requireAsset(txn, p.AssetID); err != nil {
		return err
	}
	return e.credit(txn, p.Recipient, p.AssetID, p.Amount, "bridge_deposit")
}

func (e *Engine) applyBridgeWithdraw(txn *state.Txn, p tx.BridgeWithdraw) error {
	if err := e.requireBridgeOperator(txn, p.Operator); err != nil {
		return err
	}
	if p.Amount == 0 {
		return fmt.Errorf("%w: zero amount", ErrValidation)
	}
	if err := e.requireAsset(txn, p.AssetID); err != nil {
		return err
	}
	return e.debit(txn, p.Owner, p.AssetID, p.Amount, "bridge_withdraw")
}

func (e *Engine) applySetBridgeOperator(txn *state.Txn, p tx.SetBridgeOperator) error {
	txn.SetBridgeOperator(p.Operator, p.Enabled)
	return nil
}

func (e *Engine) applyRegisterAsset(txn *state.Txn, p tx.RegisterAsset) error {
	if p.Asset.Symbol == "" {
		return fmt.Errorf("%w: empty asset symbol", ErrValidation)
	}
	existing, err := txn.Asset(p.Asset.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("%w: asset %d already registered", ErrValidation, p.Asset.ID)
	}
	a := p.Asset
	txn.SetAsset(&a)
	return txn.AddAsset(a.ID)
}

func (e *Engine) applyCreateMarket(txn *state.Txn, p tx.CreateMarket) error {
	m := p.Market
	switch {
	case m.Symbol == "":
		return fmt.Errorf("%w: empty market symbol", ErrValidation)
	case m.TickSize == 0:
		return fmt.Errorf("%w: zero tick size", ErrValidation)
	case m.MinOrderSize == 0 || m.MinOrderSize > m.MaxOrderSize:
		return fmt.Errorf("%w: bad order size bounds", ErrValidation)
	case m.MaxLeverage == 0:
		return fmt.Errorf("%w: zero max leverage", ErrValidation)
	case m.InitialMarginBps == 0 || m.InitialMarginBps >= fpmath.BasisPoints:
		return fmt.Errorf("%w: bad initial margin", ErrValidation)
	case m.MaintenanceMarginBps == 0 || m.MaintenanceMarginBps >= m.InitialMarginBps:
		return fmt.Errorf("%w: maintenance margin must be below initial", ErrValidation)
	case m.LiquidationFeeBps >= fpmath.BasisPoints:
		return fmt.Errorf("%w: bad liquidation fee", ErrValidation)
	case m.FundingIntervalSecs == 0:
		return fmt.Errorf("%w: zero funding interval", ErrValidation)
	}
	if err := e.requireAsset(txn, m.BaseAssetID); err != nil {
		return err
	}
	if err := e.requireAsset(txn, m.QuoteAssetID); err != nil {
		return err
	}
	existing, err := txn.Market(m.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("%w: market %d already exists", ErrValidation, m.ID)
	}
	txn.SetMarket(&m)
	txn.SetFundingState(&state.FundingState{
		MarketID:   m.ID,
		LastUpdate: e.blockTime,
	})
	return txn.AddMarket(m.ID)
}
