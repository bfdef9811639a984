package op

import (
	"BitLedger/internal/chain"
	"BitLedger/internal/rules"
)

func (a *Applier) applyCallOrderUpdate(v *CallOrderUpdate, rs rules.RuleSet) error {
	if _, ok := a.db.Account(v.Borrower); !ok {
		return rejectf("borrower %d does not exist", v.Borrower)
	}
	asset, ok := a.db.Asset(v.DeltaDebt.Asset)
	if !ok || !asset.IsBitasset() {
		return rejectf("asset %d is not a bitasset", v.DeltaDebt.Asset)
	}
	ba := asset.Bitasset
	if v.DeltaCollateral.Asset != ba.Options.BackingAsset {
		return rejectf("collateral must be the backing asset %d", ba.Options.BackingAsset)
	}
	if ba.HasSettlement() {
		return rejectf("asset %s is globally settled; cannot adjust margin positions", asset.Symbol)
	}
	if ba.IsPredictionMarket {
		return rejectf("prediction markets take no margin positions")
	}
	if v.DeltaDebt.Amount > 0 && !ba.HasValidFeed() {
		return rejectf("asset %s has no price feed; cannot borrow", asset.Symbol)
	}
	if v.DeltaDebt.Amount == 0 && v.DeltaCollateral.Amount == 0 {
		return rejectf("update changes nothing")
	}
	if v.TargetCollateralRatio != nil && *v.TargetCollateralRatio == 0 {
		return rejectf("target collateral ratio must be positive")
	}

	call := a.db.FindCallOrder(v.Borrower, asset.ID)
	newDebt := v.DeltaDebt.Amount
	newCollateral := v.DeltaCollateral.Amount
	oldCollateralization := chain.Price{}
	if call != nil {
		newDebt += call.Debt
		newCollateral += call.Collateral
		oldCollateralization = call.Collateralization()
	} else if v.DeltaDebt.Amount <= 0 || v.DeltaCollateral.Amount <= 0 {
		return rejectf("no open position; a new one needs positive debt and collateral")
	}
	if newDebt < 0 {
		return rejectf("cannot repay more debt than owed")
	}
	if newCollateral < 0 {
		return rejectf("cannot withdraw more collateral than posted")
	}
	if newDebt == 0 && newCollateral != 0 {
		return rejectf("closing the position must withdraw all remaining collateral")
	}
	if newDebt > 0 && newCollateral == 0 {
		return rejectf("open debt needs collateral")
	}
	if asset.CurrentSupply+v.DeltaDebt.Amount > asset.Options.MaxSupply {
		return rejectf("supply cap %d exceeded", asset.Options.MaxSupply)
	}
	if v.DeltaCollateral.Amount > 0 && a.db.Balance(v.Borrower, v.DeltaCollateral.Asset) < v.DeltaCollateral.Amount {
		return rejectf("insufficient collateral balance")
	}
	if v.DeltaDebt.Amount < 0 && a.db.Balance(v.Borrower, asset.ID) < -v.DeltaDebt.Amount {
		return rejectf("insufficient debt balance to repay")
	}

	// A position with open debt must be adequately collateralized at the
	// current feed, against the initial ratio when the asset sets one. A
	// position already in call territory may still reduce risk.
	if newDebt > 0 && ba.HasValidFeed() {
		ratio := ba.CurrentFeed.MaintenanceCollateralRatio
		if ba.Options.InitialCollateralRatio != nil && *ba.Options.InitialCollateralRatio > ratio {
			ratio = *ba.Options.InitialCollateralRatio
		}
		required := ba.CurrentFeed.SettlementPrice.Invert().MulRatio(int64(ratio), chain.CollateralRatioDenom)
		after := chain.Price{
			Base:  chain.AssetAmount{Amount: newCollateral, Asset: v.DeltaCollateral.Asset},
			Quote: chain.AssetAmount{Amount: newDebt, Asset: asset.ID},
		}
		if after.Less(required) {
			improving := call != nil && v.DeltaDebt.Amount <= 0 && after.Greater(oldCollateralization)
			if !improving {
				return rejectf("position would be undercollateralized: needs %d%% of feed", int(ratio)/10)
			}
		}
	}

	// Validation done; move balances and mutate the position.
	if v.DeltaCollateral.Amount > 0 {
		if err := a.db.AdjustBalance(v.Borrower, chain.AssetAmount{Amount: -v.DeltaCollateral.Amount, Asset: v.DeltaCollateral.Asset}); err != nil {
			return err
		}
	}
	if v.DeltaDebt.Amount > 0 {
		if err := a.db.AdjustBalance(v.Borrower, v.DeltaDebt); err != nil {
			return err
		}
	} else if v.DeltaDebt.Amount < 0 {
		if err := a.db.AdjustBalance(v.Borrower, v.DeltaDebt); err != nil {
			return err
		}
	}
	asset.CurrentSupply += v.DeltaDebt.Amount

	switch {
	case call == nil:
		call = &chain.CallOrder{
			Borrower:              v.Borrower,
			Collateral:            newCollateral,
			Debt:                  newDebt,
			CollateralAsset:       v.DeltaCollateral.Asset,
			DebtAsset:             asset.ID,
			TargetCollateralRatio: v.TargetCollateralRatio,
		}
		if rs.CallPriceCached && ba.HasValidFeed() {
			call.CachedCallPrice = chain.CallPrice(call.DebtAmount(), call.CollateralAmount(), ba.CurrentFeed.MaintenanceCollateralRatio)
		}
		a.db.InsertCallOrder(call)
	case newDebt == 0:
		if v.DeltaCollateral.Amount < 0 {
			a.engine.Credit(v.Borrower, chain.AssetAmount{Amount: -v.DeltaCollateral.Amount, Asset: v.DeltaCollateral.Asset})
		}
		a.db.RemoveCallOrder(call)
	default:
		if v.DeltaCollateral.Amount < 0 {
			a.engine.Credit(v.Borrower, chain.AssetAmount{Amount: -v.DeltaCollateral.Amount, Asset: v.DeltaCollateral.Asset})
		}
		a.db.ModifyCallOrder(call, func(c *chain.CallOrder) {
			c.Debt = newDebt
			c.Collateral = newCollateral
			if v.TargetCollateralRatio != nil {
				c.TargetCollateralRatio = v.TargetCollateralRatio
			}
			if rs.CallPriceCached && ba.HasValidFeed() {
				c.CachedCallPrice = chain.CallPrice(c.DebtAmount(), c.CollateralAmount(), ba.CurrentFeed.MaintenanceCollateralRatio)
			}
		})
	}

	_, err := a.engine.CheckCallOrders(asset, true, false, rs)
	return err
}
