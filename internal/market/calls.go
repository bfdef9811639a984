package market

import (
	"math/big"

	"BitLedger/internal/chain"
	"BitLedger/internal/rules"
)

// GetMaxDebtToCover computes how much debt a margin call will buy back at
// matchPrice (the price the call pays, debt/collateral): just enough to
// restore the position to its target collateral ratio, or the maintenance
// ratio when no target is set. Zero means the position is feed protected.
// Under the legacy rule variant margin calls always covered the whole debt.
func (e *Engine) GetMaxDebtToCover(call *chain.CallOrder, matchPrice chain.Price, feed chain.PriceFeed, rs rules.RuleSet) int64 {
	if rs.CallPriceCached {
		if call.CachedCallPrice.Invert().LessEq(feed.SettlementPrice) {
			return 0
		}
		return call.Debt
	}
	if call.Collateralization().GreaterEq(feed.MaintenanceCollateralization()) {
		return 0
	}

	targetRatio := int64(feed.MaintenanceCollateralRatio)
	if call.TargetCollateralRatio != nil && int64(*call.TargetCollateralRatio) > targetRatio {
		targetRatio = int64(*call.TargetCollateralRatio)
	}

	// Solve for the smallest x with
	//   (collateral - x*mpColl/mpDebt) * fpDebt * denom >= (debt - x) * targetRatio * fpColl
	// where the feed and match prices are both quoted debt/collateral.
	debt := big.NewInt(call.Debt)
	collateral := big.NewInt(call.Collateral)
	fpDebt := big.NewInt(feed.SettlementPrice.Base.Amount)
	fpColl := big.NewInt(feed.SettlementPrice.Quote.Amount)
	mpDebt := big.NewInt(matchPrice.Base.Amount)
	mpColl := big.NewInt(matchPrice.Quote.Amount)
	trat := big.NewInt(targetRatio)
	denom := big.NewInt(chain.CollateralRatioDenom)

	// numerator = mpDebt * (debt*trat*fpColl - collateral*fpDebt*denom)
	num := new(big.Int).Mul(debt, trat)
	num.Mul(num, fpColl)
	t := new(big.Int).Mul(collateral, fpDebt)
	t.Mul(t, denom)
	num.Sub(num, t)
	num.Mul(num, mpDebt)
	if num.Sign() <= 0 {
		return 0
	}

	// denominator = trat*fpColl*mpDebt - mpColl*fpDebt*denom
	den := new(big.Int).Mul(trat, fpColl)
	den.Mul(den, mpDebt)
	t = new(big.Int).Mul(mpColl, fpDebt)
	t.Mul(t, denom)
	den.Sub(den, t)
	if den.Sign() <= 0 {
		// Covering at this price cannot restore the ratio; sell everything.
		return call.Debt
	}

	x := new(big.Int)
	r := new(big.Int)
	x.QuoRem(num, den, r)
	if r.Sign() != 0 {
		x.Add(x, big.NewInt(1))
	}
	if x.Cmp(debt) >= 0 {
		return call.Debt
	}

	// Integer collateral actually paid rounds up against the call, which can
	// leave the result one short of the target. Nudge until it holds.
	for x.Cmp(debt) < 0 {
		y := mulDivCeilBig(x, mpColl, mpDebt)
		if y.Cmp(collateral) > 0 {
			return call.Debt
		}
		// (collateral-y)*fpDebt*denom >= (debt-x)*trat*fpColl
		lhs := new(big.Int).Sub(collateral, y)
		lhs.Mul(lhs, fpDebt)
		lhs.Mul(lhs, denom)
		rhs := new(big.Int).Sub(debt, x)
		rhs.Mul(rhs, trat)
		rhs.Mul(rhs, fpColl)
		if lhs.Cmp(rhs) >= 0 {
			break
		}
		x.Add(x, big.NewInt(1))
	}
	return x.Int64()
}

func mulDivCeilBig(a, b, d *big.Int) *big.Int {
	num := new(big.Int).Mul(a, b)
	q, r := new(big.Int).QuoRem(num, d, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

// CheckForBlackSwan detects the undercollateralization of the worst margin
// position against the current feed and dispatches the asset's configured
// response. Returns true when matching for the asset must stop (the asset is
// or just became globally settled, or the response method suspends trading).
// When the caller does not permit a swan, ErrBlackSwanNotAllowed is returned
// and nothing is mutated.
func (e *Engine) CheckForBlackSwan(asset *chain.Asset, allowBlackSwan bool, rs rules.RuleSet) (bool, error) {
	if !asset.IsBitasset() {
		return false, nil
	}
	ba := asset.Bitasset
	if ba.HasSettlement() {
		return true, nil
	}
	if ba.IsPredictionMarket || !ba.HasValidFeed() {
		return false, nil
	}
	call := e.db.LeastCollateralizedCall(asset.ID, rs.CallPriceCached)
	if call == nil {
		return false, nil
	}

	// The worst position's own debt/collateral ratio. Margin calls pay up to
	// the max short squeeze price, so a position that cannot cover at that
	// price is already unfillable and the swan is on. Waiting for the raw
	// feed would let a call in the squeeze band overdraw its collateral.
	swanPrice := chain.Price{
		Base:  call.DebtAmount(),
		Quote: call.CollateralAmount(),
	}
	if !swanPrice.Greater(ba.CurrentFeed.MaxShortSqueezePrice()) {
		return false, nil
	}
	if !allowBlackSwan {
		return false, ErrBlackSwanNotAllowed
	}

	method := chain.BSRMGlobalSettlement
	if rs.IndividualSettlement {
		method = ba.Options.BlackSwanResponseMethod
	}
	switch method {
	case chain.BSRMNoSettlement:
		// Positions stay open; matching halts until feeds recover.
		e.log.Warn().Str("asset", asset.Symbol).Msg("black swan: trading suspended, no settlement")
		return true, nil
	case chain.BSRMIndividualSettlementToFund:
		e.settleCallToFund(asset, call)
		return false, nil
	default:
		e.log.Warn().Str("asset", asset.Symbol).Stringer("swan_price", swanPrice).Msg("black swan: globally settling")
		e.GloballySettleAsset(asset, swanPrice, rs)
		return true, nil
	}
}

// settleCallToFund moves an undercollateralized position into the asset's
// individual settlement pool. The borrower keeps nothing; the pool absorbs
// the whole collateral and owes the whole debt. Supply is unchanged — the
// debt is still outstanding, now backed by the pool.
func (e *Engine) settleCallToFund(asset *chain.Asset, call *chain.CallOrder) {
	ba := asset.Bitasset
	ba.IndividualSettlementDebt += call.Debt
	ba.IndividualSettlementFund += call.Collateral

	e.emitFill(chain.FillRecord{
		OrderID:   call.ID,
		Account:   call.Borrower,
		Pays:      call.CollateralAmount(),
		Receives:  call.DebtAmount(),
		Fee:       chain.AssetAmount{Asset: call.CollateralAsset},
		FillPrice: chain.Price{Base: call.DebtAmount(), Quote: call.CollateralAmount()},
		IsMaker:   true,
	})
	e.db.RemoveCallOrder(call)
	e.emitRemoval(chain.RemovedCallOrder, call.ID, call.Borrower)

	e.log.Info().Str("asset", asset.Symbol).
		Int64("debt", ba.IndividualSettlementDebt).
		Int64("fund", ba.IndividualSettlementFund).
		Msg("position individually settled to fund")

	e.DeriveCurrentFeed(asset)
}

// CheckCallOrders runs the margin-call scanner for a bitasset: repeatedly
// matches the least-collateralized unprotected position against the best
// eligible limit order selling the debt asset. Returns whether any margin
// call filled.
func (e *Engine) CheckCallOrders(asset *chain.Asset, allowBlackSwan, forNewLimitOrder bool, rs rules.RuleSet) (bool, error) {
	if !asset.IsBitasset() {
		return false, nil
	}
	ba := asset.Bitasset
	if ba.IsPredictionMarket || !ba.HasValidFeed() || ba.HasSettlement() {
		return false, nil
	}

	marginCalled := false
	for {
		stop, err := e.CheckForBlackSwan(asset, allowBlackSwan, rs)
		if err != nil || stop {
			return marginCalled, err
		}

		feed := ba.CurrentFeed
		var mcfr *uint16
		if rs.MarginCallFeeEnabled {
			mcfr = ba.Options.MarginCallFeeRatio
		}
		callOrderPrice := feed.MarginCallOrderPrice(mcfr)

		call := e.db.LeastCollateralizedCall(asset.ID, rs.CallPriceCached)
		if call == nil {
			return marginCalled, nil
		}
		if rs.CallPriceCached {
			if call.CachedCallPrice.Invert().LessEq(feed.SettlementPrice) {
				return marginCalled, nil
			}
		} else if call.Collateralization().GreaterEq(feed.MaintenanceCollateralization()) {
			return marginCalled, nil
		}

		limit := e.db.BestLimitOrder(asset.ID, ba.Options.BackingAsset)
		if limit == nil {
			return marginCalled, nil
		}
		// Eligibility: the order must ask no more collateral per debt than the
		// margin-call order price allows.
		if limit.SellPrice.Less(callOrderPrice) {
			return marginCalled, nil
		}

		matchPrice := limit.SellPrice
		callPaysPrice := matchPrice
		if mcfr != nil && *mcfr > 0 {
			mssr := int64(feed.MaximumShortSqueezeRatio)
			callPaysPrice = matchPrice.MulRatio(mssr-int64(*mcfr), mssr)
		}

		debtBefore := call.Debt
		res := e.MatchLimitCall(limit, call, matchPrice, callPaysPrice, feed, forNewLimitOrder, rs)
		if res == 0 {
			// A target collateral ratio can stop the fill with neither side
			// fully consumed. The position covered what it needed and is now
			// protected; anything it did cover still counts as a call.
			if call.Debt < debtBefore {
				marginCalled = true
			}
			return marginCalled, nil
		}
		marginCalled = true
	}
}
