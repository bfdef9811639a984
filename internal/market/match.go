package market

import (
	"fmt"

	"BitLedger/internal/chain"
	"BitLedger/internal/rules"
)

// MatchLimitLimit fills two crossing limit orders at the maker's price. The
// smaller remaining side is consumed completely; under the rounding fix it
// recomputes its own payment rounded up so neither side pays something for
// nothing.
func (e *Engine) MatchLimitLimit(taker, maker *chain.LimitOrder, matchPrice chain.Price, rs rules.RuleSet) int {
	takerForSale := taker.AmountForSale()
	makerForSale := maker.AmountForSale()

	var takerPays, takerReceives chain.AssetAmount
	cullTaker := false

	makerValue := matchPrice.Mul(makerForSale, chain.RoundDown)
	if takerForSale.Amount <= makerValue.Amount {
		// Taker is the smaller side.
		takerReceives = matchPrice.Mul(takerForSale, chain.RoundDown)
		if rs.RoundUpSmallerSide {
			if takerReceives.Amount == 0 {
				// Too small to buy anything at this price; sweep it.
				e.CancelLimitOrder(taker, false)
				return TakerFilled
			}
			takerPays = matchPrice.Mul(takerReceives, chain.RoundUp)
			cullTaker = true
		} else {
			takerPays = takerForSale
		}
	} else {
		// Maker is the smaller side.
		takerReceives = makerForSale
		if rs.RoundUpSmallerSide {
			takerPays = matchPrice.Mul(makerForSale, chain.RoundUp)
		} else {
			takerPays = makerValue
		}
	}
	makerPays, makerReceives := takerReceives, takerPays

	result := 0
	if e.fillLimitOrder(taker, takerPays, takerReceives, cullTaker, matchPrice, false, rs) {
		result |= TakerFilled
	}
	if e.fillLimitOrder(maker, makerPays, makerReceives, true, matchPrice, true, rs) {
		result |= MakerFilled
	}
	if result == 0 {
		panic("FATAL: limit/limit match filled neither side")
	}
	return result
}

// MatchLimitCall fills a limit order selling the debt asset against a margin
// call. The fill happens at the order's price; the call pays at callPaysPrice,
// which is at most MarginCallFeeRatio worse, and the difference accrues as
// the margin-call fee. The call covers no more debt than needed to restore
// its target ratio, so a zero result (nothing filled) is possible.
// callIsMaker records which side was standing: a fresh limit order takes
// against resting calls, while a feed move sends the calls taking into the
// resting book.
func (e *Engine) MatchLimitCall(order *chain.LimitOrder, call *chain.CallOrder,
	matchPrice, callPaysPrice chain.Price, feed chain.PriceFeed, callIsMaker bool, rs rules.RuleSet) int {

	maxDebt := e.GetMaxDebtToCover(call, callPaysPrice, feed, rs)
	if maxDebt == 0 {
		return 0
	}
	usdForSale := order.AmountForSale()
	usdToBuy := chain.AssetAmount{Amount: maxDebt, Asset: call.DebtAsset}

	var callReceives, orderReceives chain.AssetAmount
	cullTaker := false
	if usdToBuy.Amount > usdForSale.Amount {
		// The limit order is the smaller side and will be consumed.
		orderReceives = matchPrice.Mul(usdForSale, chain.RoundDown)
		if orderReceives.Amount == 0 {
			// Dust order; selling it all buys no collateral.
			e.CancelLimitOrder(order, false)
			return TakerFilled
		}
		callReceives = matchPrice.Mul(orderReceives, chain.RoundUp)
		cullTaker = true
	} else {
		// The call side is the smaller side.
		callReceives = usdToBuy
		orderReceives = matchPrice.Mul(usdToBuy, chain.RoundUp)
	}

	// What the call relinquishes, at its own (worse) price. Never less than
	// the matched order receives.
	callPays := callPaysPrice.Mul(callReceives, chain.RoundUp)
	if callPays.Amount < orderReceives.Amount {
		callPays = orderReceives
	}
	if callPays.Amount > call.Collateral {
		callPays.Amount = call.Collateral
	}
	marginCallFee := chain.AssetAmount{Amount: callPays.Amount - orderReceives.Amount, Asset: callPays.Asset}

	orderPays := callReceives
	result := 0
	if e.fillLimitOrder(order, orderPays, orderReceives, cullTaker, matchPrice, !callIsMaker, rs) {
		result |= TakerFilled
	}
	if e.fillCallOrder(call, callPays, callReceives, matchPrice, callIsMaker, marginCallFee, rs) {
		result |= MakerFilled
	}
	return result
}

// MatchCallSettle fills a margin call against a matured force settlement at
// matchPrice, capped by maxSettlement (the remaining volume allowance).
// Returns the amount of debt settled, zero when nothing could fill.
func (e *Engine) MatchCallSettle(call *chain.CallOrder, settle *chain.ForceSettlement,
	matchPrice chain.Price, maxSettlement chain.AssetAmount, fillPrice chain.Price, rs rules.RuleSet) chain.AssetAmount {

	none := chain.AssetAmount{Amount: 0, Asset: settle.Balance.Asset}

	settleForSale := settle.Balance
	if maxSettlement.Amount < settleForSale.Amount {
		settleForSale = maxSettlement
	}
	if settleForSale.Amount == 0 {
		return none
	}
	callDebt := call.DebtAmount()
	callReceives := settleForSale
	if callDebt.Amount < callReceives.Amount {
		callReceives = callDebt
	}

	callPays := matchPrice.Mul(callReceives, chain.RoundDown)
	cullSettle := false
	if callPays.Amount == 0 {
		if !rs.SettleRoundsFavorFund {
			// Legacy rounding let the call pay nothing here.
		} else if callReceives.Amount == callDebt.Amount {
			// Closing the whole position must pay at least something.
			callPays.Amount = 1
		} else if callReceives.Amount == settle.Balance.Amount {
			// The settlement remainder is dust; cancel it.
			e.CancelSettlement(settle)
			return none
		} else {
			return none
		}
	} else if rs.SettleRoundsFavorFund {
		if callReceives.Amount == callDebt.Amount {
			// Position fully closed; round up in favor of the settlement.
			callPays = matchPrice.Mul(callReceives, chain.RoundUp)
			if callPays.Amount > call.Collateral {
				callPays.Amount = call.Collateral
			}
		} else if callReceives.Amount == settle.Balance.Amount {
			cullSettle = true
		} else {
			// Both sides partially fill (volume cap); re-derive the debt so
			// the rounding loss lands on the call.
			callReceives = matchPrice.Mul(callPays, chain.RoundUp)
		}
	}

	settlePays, settleReceives := callReceives, callPays
	e.fillCallOrder(call, callPays, callReceives, fillPrice, true, chain.AssetAmount{Asset: callPays.Asset}, rs)
	e.fillSettleOrder(settle, settlePays, settleReceives, cullSettle, fillPrice, rs)
	return callReceives
}

// fillLimitOrder pays out a fill on a limit order: charges market fees on the
// receipt, credits the seller, emits the fill, and removes or culls the
// order. Returns true when the order left the book.
func (e *Engine) fillLimitOrder(order *chain.LimitOrder, pays, receives chain.AssetAmount,
	cullIfSmall bool, fillPrice chain.Price, isMaker bool, rs rules.RuleSet) bool {

	if pays.Asset != order.SellAsset() {
		panic(fmt.Sprintf("FATAL: order %d pays foreign asset %d", order.ID, pays.Asset))
	}
	if pays.Amount > order.ForSale {
		panic(fmt.Sprintf("FATAL: order %d overfilled: pays %d of %d", order.ID, pays.Amount, order.ForSale))
	}
	if rs.CullSmallAlways {
		cullIfSmall = true
	}

	seller := e.account(order.Seller)
	recvAsset := e.db.MustAsset(receives.Asset)
	issuerFee := e.fees.PayMarketFees(seller, recvAsset, receives, isMaker, rs)
	e.mustCredit(order.Seller, chain.AssetAmount{Amount: receives.Amount - issuerFee.Amount, Asset: receives.Asset})

	e.emitFill(chain.FillRecord{
		OrderID:   order.ID,
		Account:   order.Seller,
		Pays:      pays,
		Receives:  receives,
		Fee:       issuerFee,
		FillPrice: fillPrice,
		IsMaker:   isMaker,
	})

	// The creation fee is earned on the first fill: the core part goes to
	// the network, a prepaid non-core part to that asset's fee pool.
	if order.DeferredFee > 0 {
		e.db.DepositVesting(chain.NetworkAccount, chain.AssetAmount{Amount: order.DeferredFee, Asset: chain.CoreAsset})
		order.DeferredFee = 0
	}
	if order.DeferredPaidFee.Amount > 0 {
		e.db.MustAsset(order.DeferredPaidFee.Asset).AccumulatedFees += order.DeferredPaidFee.Amount
		order.DeferredPaidFee.Amount = 0
	}

	if pays.Amount == order.ForSale {
		e.db.RemoveLimitOrder(order)
		e.emitRemoval(chain.RemovedLimitOrder, order.ID, order.Seller)
		return true
	}
	order.ForSale -= pays.Amount
	if cullIfSmall && order.AmountToReceive().Amount == 0 {
		e.CancelLimitOrder(order, true)
		return true
	}
	return false
}

// fillCallOrder reduces a margin position by receives debt against pays
// collateral (margin-call fee included in pays). Burns the covered debt,
// accrues the fee, refunds freed collateral when the position closes.
// Returns true when the position closed.
func (e *Engine) fillCallOrder(call *chain.CallOrder, pays, receives chain.AssetAmount,
	fillPrice chain.Price, isMaker bool, marginCallFee chain.AssetAmount, rs rules.RuleSet) bool {

	if receives.Asset != call.DebtAsset || pays.Asset != call.CollateralAsset {
		panic(fmt.Sprintf("FATAL: call %d filled with foreign assets", call.ID))
	}
	if pays.Amount > call.Collateral || receives.Amount > call.Debt {
		panic(fmt.Sprintf("FATAL: call %d overfilled", call.ID))
	}

	debtAsset := e.db.MustAsset(call.DebtAsset)

	collateralFreed := int64(-1)
	e.db.ModifyCallOrder(call, func(c *chain.CallOrder) {
		c.Debt -= receives.Amount
		c.Collateral -= pays.Amount
		if c.Debt == 0 {
			collateralFreed = c.Collateral
			c.Collateral = 0
		} else if rs.CallPriceCached {
			feed := debtAsset.Bitasset.CurrentFeed
			c.CachedCallPrice = chain.CallPrice(c.DebtAmount(), c.CollateralAmount(), feed.MaintenanceCollateralRatio)
		}
	})

	debtAsset.CurrentSupply -= receives.Amount
	e.fees.PayMarginCallFee(debtAsset, marginCallFee)

	e.emitFill(chain.FillRecord{
		OrderID:   call.ID,
		Account:   call.Borrower,
		Pays:      pays,
		Receives:  receives,
		Fee:       marginCallFee,
		FillPrice: fillPrice,
		IsMaker:   isMaker,
	})

	if collateralFreed >= 0 {
		if collateralFreed > 0 {
			e.mustCredit(call.Borrower, chain.AssetAmount{Amount: collateralFreed, Asset: call.CollateralAsset})
		}
		e.db.RemoveCallOrder(call)
		e.emitRemoval(chain.RemovedCallOrder, call.ID, call.Borrower)
		return true
	}
	return false
}

// fillSettleOrder pays out a force-settlement fill: the settled debt was
// burned by the matching call fill, so only the collateral receipt (minus
// the force-settle fee and the collateral asset's market fee) moves here.
// Returns true when the settlement is fully consumed.
func (e *Engine) fillSettleOrder(settle *chain.ForceSettlement, pays, receives chain.AssetAmount,
	cullIfSmall bool, fillPrice chain.Price, rs rules.RuleSet) bool {

	if pays.Asset != settle.Balance.Asset || pays.Amount > settle.Balance.Amount {
		panic(fmt.Sprintf("FATAL: settlement %d overfilled", settle.ID))
	}

	debtAsset := e.db.MustAsset(settle.Balance.Asset)
	settleFee := e.fees.PayForceSettleFees(debtAsset, receives)
	net := chain.AssetAmount{Amount: receives.Amount - settleFee.Amount, Asset: receives.Asset}

	owner := e.account(settle.Owner)
	recvAsset := e.db.MustAsset(receives.Asset)
	marketFee := e.fees.PayMarketFees(owner, recvAsset, net, false, rs)
	net.Amount -= marketFee.Amount
	e.mustCredit(settle.Owner, net)

	e.emitFill(chain.FillRecord{
		OrderID:   settle.ID,
		Account:   settle.Owner,
		Pays:      pays,
		Receives:  receives,
		Fee:       chain.AssetAmount{Amount: settleFee.Amount + marketFee.Amount, Asset: receives.Asset},
		FillPrice: fillPrice,
		IsMaker:   false,
	})

	settle.Balance.Amount -= pays.Amount
	if settle.Balance.Amount == 0 {
		e.db.RemoveSettlement(settle)
		e.emitRemoval(chain.RemovedSettlement, settle.ID, settle.Owner)
		return true
	}
	if cullIfSmall && settle.Balance.Amount > 0 {
		// A remainder that can no longer buy collateral is refunded.
		if fillPrice.Mul(settle.Balance, chain.RoundDown).Amount == 0 {
			e.CancelSettlement(settle)
			return true
		}
	}
	return false
}
