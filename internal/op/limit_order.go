package op

import (
	"BitLedger/internal/chain"
	"BitLedger/internal/rules"
)

func (a *Applier) applyLimitOrderCreate(v *LimitOrderCreate, rs rules.RuleSet) error {
	if _, ok := a.db.Account(v.Seller); !ok {
		return rejectf("seller %d does not exist", v.Seller)
	}
	if v.AmountToSell.Amount <= 0 || v.MinToReceive.Amount <= 0 {
		return rejectf("order amounts must be positive")
	}
	if v.AmountToSell.Asset == v.MinToReceive.Asset {
		return rejectf("cannot trade an asset against itself")
	}
	if _, ok := a.db.Asset(v.AmountToSell.Asset); !ok {
		return rejectf("sell asset %d does not exist", v.AmountToSell.Asset)
	}
	if _, ok := a.db.Asset(v.MinToReceive.Asset); !ok {
		return rejectf("receive asset %d does not exist", v.MinToReceive.Asset)
	}
	if !v.Expiration.IsZero() && !v.Expiration.After(a.db.Now()) {
		return rejectf("order already expired")
	}
	if v.Fee.Amount < 0 {
		return rejectf("negative fee")
	}
	need := v.AmountToSell.Amount
	if v.Fee.Asset == v.AmountToSell.Asset {
		need += v.Fee.Amount
	} else if v.Fee.Amount > 0 && a.db.Balance(v.Seller, v.Fee.Asset) < v.Fee.Amount {
		return rejectf("insufficient balance for fee")
	}
	if a.db.Balance(v.Seller, v.AmountToSell.Asset) < need {
		return rejectf("insufficient balance: have %d of asset %d, need %d",
			a.db.Balance(v.Seller, v.AmountToSell.Asset), v.AmountToSell.Asset, need)
	}

	if err := a.db.AdjustBalance(v.Seller, chain.AssetAmount{Amount: -v.AmountToSell.Amount, Asset: v.AmountToSell.Asset}); err != nil {
		return err
	}
	order := &chain.LimitOrder{
		Seller:  v.Seller,
		ForSale: v.AmountToSell.Amount,
		SellPrice: chain.Price{
			Base:  v.AmountToSell,
			Quote: v.MinToReceive,
		},
		Expiration: v.Expiration,
	}
	if v.Fee.Amount > 0 {
		if err := a.db.AdjustBalance(v.Seller, chain.AssetAmount{Amount: -v.Fee.Amount, Asset: v.Fee.Asset}); err != nil {
			return err
		}
		if v.Fee.Asset == chain.CoreAsset {
			order.DeferredFee = v.Fee.Amount
		} else {
			order.DeferredPaidFee = v.Fee
		}
	}

	_, err := a.engine.ApplyOrder(order, rs)
	return err
}

func (a *Applier) applyLimitOrderCancel(v *LimitOrderCancel, rs rules.RuleSet) error {
	order, ok := a.db.LimitOrder(v.OrderID)
	if !ok {
		return rejectf("limit order %d does not exist", v.OrderID)
	}
	if order.Seller != v.Account {
		return rejectf("order %d belongs to account %d, not %d", v.OrderID, order.Seller, v.Account)
	}
	a.engine.CancelLimitOrder(order, true)
	return nil
}
