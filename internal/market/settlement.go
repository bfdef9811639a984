package market

import (
	"errors"
	"fmt"

	"BitLedger/internal/chain"
	"BitLedger/internal/rules"
)

// ErrSettlementTooSmall reports a settlement request whose payout rounds to
// zero collateral.
var ErrSettlementTooSmall = errors.New("settlement amount too small to yield any collateral")

// GloballySettleAsset closes every margin position of a bitasset at
// settlePrice (debt/collateral), gathering the collateral owed into the
// settlement fund and refunding each borrower the excess. Supply is not
// reduced; holders redeem against the frozen fund afterwards.
func (e *Engine) GloballySettleAsset(asset *chain.Asset, settlePrice chain.Price, rs rules.RuleSet) {
	ba := asset.Bitasset
	if ba.HasSettlement() {
		panic(fmt.Sprintf("FATAL: asset %s is already globally settled", asset.Symbol))
	}

	round := chain.RoundDown
	if rs.RoundUpSmallerSide {
		round = chain.RoundUp
	}

	originalSupply := asset.CurrentSupply
	gathered := int64(0)
	collateralAsset := ba.Options.BackingAsset

	for _, call := range e.db.CallOrdersFor(asset.ID) {
		pays := settlePrice.Mul(call.DebtAmount(), round)
		if pays.Amount > call.Collateral {
			pays.Amount = call.Collateral
		}
		gathered += pays.Amount
		if refund := call.Collateral - pays.Amount; refund > 0 {
			e.mustCredit(call.Borrower, chain.AssetAmount{Amount: refund, Asset: collateralAsset})
		}
		e.emitFill(chain.FillRecord{
			OrderID:   call.ID,
			Account:   call.Borrower,
			Pays:      pays,
			Receives:  call.DebtAmount(),
			Fee:       chain.AssetAmount{Asset: collateralAsset},
			FillPrice: settlePrice,
			IsMaker:   true,
		})
		e.db.RemoveCallOrder(call)
		e.emitRemoval(chain.RemovedCallOrder, call.ID, call.Borrower)
	}

	if gathered > 0 && originalSupply > 0 {
		ba.SettlementPrice = chain.Price{
			Base:  chain.AssetAmount{Amount: originalSupply, Asset: asset.ID},
			Quote: chain.AssetAmount{Amount: gathered, Asset: collateralAsset},
		}
	} else {
		ba.SettlementPrice = settlePrice
	}
	ba.SettlementFund = gathered

	e.log.Warn().Str("asset", asset.Symbol).
		Int64("supply", originalSupply).
		Int64("fund", gathered).
		Msg("asset globally settled")
}

// gsFundPayout redeems amount of a globally settled asset against its fund:
// burns the supply, shrinks the fund, charges the force-settle and market
// fees, and emits the fill. The caller moves the debt tokens and the net
// collateral. orderID tags the fill record (zero for direct settles).
func (e *Engine) gsFundPayout(asset *chain.Asset, account *chain.Account, amount chain.AssetAmount,
	orderID chain.ObjectID, rs rules.RuleSet) (chain.AssetAmount, error) {

	ba := asset.Bitasset
	gross := ba.SettlementPrice.Mul(amount, chain.RoundDown)
	if amount.Amount == asset.CurrentSupply {
		// The last redemption takes whatever the fund still holds.
		gross.Amount = ba.SettlementFund
	}
	if gross.Amount > ba.SettlementFund {
		panic(fmt.Sprintf("FATAL: settlement payout %d exceeds fund %d", gross.Amount, ba.SettlementFund))
	}
	if gross.Amount == 0 {
		return gross, ErrSettlementTooSmall
	}

	settleFee := e.fees.PayForceSettleFees(asset, gross)
	net := chain.AssetAmount{Amount: gross.Amount - settleFee.Amount, Asset: gross.Asset}
	marketFee := e.fees.PayMarketFees(account, e.db.MustAsset(gross.Asset), net, false, rs)
	net.Amount -= marketFee.Amount

	asset.CurrentSupply -= amount.Amount
	ba.SettlementFund -= gross.Amount
	if asset.CurrentSupply == 0 && ba.SettlementFund > 0 {
		// Rounding dust with nobody left to redeem it.
		asset.AccumulatedCollateralFees += ba.SettlementFund
		ba.SettlementFund = 0
	}

	e.emitFill(chain.FillRecord{
		OrderID:   orderID,
		Account:   account.ID,
		Pays:      amount,
		Receives:  gross,
		Fee:       chain.AssetAmount{Amount: settleFee.Amount + marketFee.Amount, Asset: gross.Asset},
		FillPrice: ba.SettlementPrice,
		IsMaker:   false,
	})
	return net, nil
}

// SettleAgainstFund redeems a holder's balance of a globally settled asset
// directly against the settlement fund. Returns the net collateral paid out.
func (e *Engine) SettleAgainstFund(asset *chain.Asset, account chain.AccountID,
	amount chain.AssetAmount, rs rules.RuleSet) (chain.AssetAmount, error) {

	acct := e.account(account)
	if err := e.db.AdjustBalance(account, chain.AssetAmount{Amount: -amount.Amount, Asset: amount.Asset}); err != nil {
		return chain.AssetAmount{}, err
	}
	net, err := e.gsFundPayout(asset, acct, amount, 0, rs)
	if err != nil {
		e.mustCredit(account, amount)
		return chain.AssetAmount{}, err
	}
	e.mustCredit(account, net)
	return net, nil
}

// SettleAgainstIndividualPool redeems debt against the individual settlement
// pool at the pool's own price, up to the pool's outstanding debt. Returns
// how much debt was taken and the net collateral paid.
func (e *Engine) SettleAgainstIndividualPool(asset *chain.Asset, account chain.AccountID,
	amount chain.AssetAmount, rs rules.RuleSet) (chain.AssetAmount, chain.AssetAmount, error) {

	ba := asset.Bitasset
	take := amount
	if ba.IndividualSettlementDebt < take.Amount {
		take.Amount = ba.IndividualSettlementDebt
	}
	if take.Amount == 0 {
		return chain.AssetAmount{}, chain.AssetAmount{}, ErrSettlementTooSmall
	}
	poolPrice := chain.Price{
		Base:  chain.AssetAmount{Amount: ba.IndividualSettlementDebt, Asset: asset.ID},
		Quote: chain.AssetAmount{Amount: ba.IndividualSettlementFund, Asset: ba.Options.BackingAsset},
	}
	gross := poolPrice.Mul(take, chain.RoundDown)
	if take.Amount == ba.IndividualSettlementDebt {
		gross.Amount = ba.IndividualSettlementFund
	}
	if gross.Amount == 0 {
		return chain.AssetAmount{}, chain.AssetAmount{}, ErrSettlementTooSmall
	}

	if err := e.db.AdjustBalance(account, chain.AssetAmount{Amount: -take.Amount, Asset: take.Asset}); err != nil {
		return chain.AssetAmount{}, chain.AssetAmount{}, err
	}

	settleFee := e.fees.PayForceSettleFees(asset, gross)
	net := chain.AssetAmount{Amount: gross.Amount - settleFee.Amount, Asset: gross.Asset}

	ba.IndividualSettlementDebt -= take.Amount
	ba.IndividualSettlementFund -= gross.Amount
	asset.CurrentSupply -= take.Amount
	e.mustCredit(account, net)

	e.emitFill(chain.FillRecord{
		OrderID:   0,
		Account:   account,
		Pays:      take,
		Receives:  gross,
		Fee:       settleFee,
		FillPrice: poolPrice,
		IsMaker:   false,
	})
	e.DeriveCurrentFeed(asset)
	return take, net, nil
}

// ProcessSettlements works through matured force settlements of one asset:
// paid instantly from the fund when the asset is globally settled, otherwise
// matched against the least-collateralized positions at the offset settlement
// price, bounded by the per-window volume allowance.
func (e *Engine) ProcessSettlements(asset *chain.Asset, rs rules.RuleSet) {
	if !asset.IsBitasset() {
		return
	}
	ba := asset.Bitasset
	matured := e.db.MaturedSettlements(asset.ID, e.db.Now())
	if len(matured) == 0 {
		return
	}

	if ba.HasSettlement() {
		for _, s := range matured {
			net, err := e.gsFundPayout(asset, e.account(s.Owner), s.Balance, s.ID, rs)
			if err != nil {
				e.CancelSettlement(s)
				continue
			}
			e.mustCredit(s.Owner, net)
			e.db.RemoveSettlement(s)
			e.emitRemoval(chain.RemovedSettlement, s.ID, s.Owner)
		}
		return
	}
	if !ba.HasValidFeed() {
		return
	}

	maxVolume := ba.MaxForceSettlementVolume(asset.CurrentSupply)
	offsetPrice := ba.CurrentFeed.SettlementPrice
	if off := ba.Options.ForceSettlementOffsetPercent; off > 0 {
		offsetPrice = offsetPrice.MulRatio(chain.Percent100, chain.Percent100-int64(off))
	}

	for _, s := range matured {
		for {
			if _, live := e.db.Settlement(s.ID); !live {
				break
			}
			remaining := maxVolume - ba.ForceSettledVolume
			if remaining <= 0 {
				// Volume window exhausted; the rest waits for the next window.
				return
			}
			call := e.db.LeastCollateralizedCall(asset.ID, rs.CallPriceCached)
			if call == nil {
				return
			}
			settled := e.MatchCallSettle(call, s,
				offsetPrice, chain.AssetAmount{Amount: remaining, Asset: asset.ID},
				ba.CurrentFeed.SettlementPrice, rs)
			if settled.Amount == 0 {
				break
			}
			ba.ForceSettledVolume += settled.Amount
		}
	}
}

// canRevive reports whether a globally settled asset's fund is well enough
// collateralized at the current feed to return to normal operation.
func (e *Engine) canRevive(asset *chain.Asset, rs rules.RuleSet) bool {
	ba := asset.Bitasset
	if !ba.HasSettlement() || ba.IsPredictionMarket || !ba.HasValidFeed() {
		return false
	}
	if asset.CurrentSupply == 0 {
		return true
	}
	ratio := ba.CurrentFeed.MaintenanceCollateralRatio
	if rs.ReviveUsesInitialRatio && ba.Options.InitialCollateralRatio != nil {
		ratio = *ba.Options.InitialCollateralRatio
	}
	cp := chain.CallPrice(
		chain.AssetAmount{Amount: asset.CurrentSupply, Asset: asset.ID},
		chain.AssetAmount{Amount: ba.SettlementFund, Asset: ba.Options.BackingAsset},
		ratio,
	)
	return cp.Invert().Less(ba.CurrentFeed.SettlementPrice)
}

// ReviveBitasset returns a globally settled asset to normal operation. Any
// remaining supply becomes a margin position of the issuer, opened with the
// whole settlement fund as collateral via a zero-collateral pseudo-bid; then
// all standing bids are cancelled and the settlement state cleared.
func (e *Engine) ReviveBitasset(asset *chain.Asset, rs rules.RuleSet) {
	ba := asset.Bitasset
	if asset.CurrentSupply > 0 {
		pseudo := e.db.InsertBid(&chain.CollateralBid{
			Bidder: asset.Issuer,
			InvSwanPrice: chain.Price{
				Base:  chain.AssetAmount{Amount: 0, Asset: ba.Options.BackingAsset},
				Quote: chain.AssetAmount{Amount: asset.CurrentSupply, Asset: asset.ID},
			},
		})
		e.ExecuteBid(pseudo, asset.CurrentSupply, ba.SettlementFund, ba.CurrentFeed, rs)
		ba.SettlementFund = 0
	}
	e.cancelBidsAndRevive(asset)
	e.log.Info().Str("asset", asset.Symbol).Msg("asset revived from global settlement")
}

// cancelBidsAndRevive refunds every standing collateral bid and clears the
// settlement state.
func (e *Engine) cancelBidsAndRevive(asset *chain.Asset) {
	ba := asset.Bitasset
	for _, bid := range e.db.BidsFor(asset.ID) {
		e.CancelBid(bid)
	}
	ba.SettlementPrice = chain.Price{}
	ba.SettlementFund = 0
}

// ExecuteBid converts a collateral bid into a live margin position covering
// debtCovered, collateralized by the bidder's own collateral plus
// collateralFromFund out of the settlement fund.
func (e *Engine) ExecuteBid(bid *chain.CollateralBid, debtCovered, collateralFromFund int64,
	feed chain.PriceFeed, rs rules.RuleSet) {

	call := &chain.CallOrder{
		Borrower:        bid.Bidder,
		Collateral:      bid.AdditionalCollateral().Amount + collateralFromFund,
		Debt:            debtCovered,
		CollateralAsset: bid.AdditionalCollateral().Asset,
		DebtAsset:       bid.DebtCovered().Asset,
	}
	if rs.CallPriceCached {
		call.CachedCallPrice = chain.CallPrice(call.DebtAmount(), call.CollateralAmount(), feed.MaintenanceCollateralRatio)
	}
	e.db.InsertCallOrder(call)

	e.emitFill(chain.FillRecord{
		OrderID:  bid.ID,
		Account:  bid.Bidder,
		Pays:     bid.AdditionalCollateral(),
		Receives: chain.AssetAmount{Amount: debtCovered, Asset: bid.DebtCovered().Asset},
		Fee:      chain.AssetAmount{Asset: bid.AdditionalCollateral().Asset},
		FillPrice: chain.Price{
			Base:  chain.AssetAmount{Amount: debtCovered, Asset: bid.DebtCovered().Asset},
			Quote: call.CollateralAmount(),
		},
		IsMaker: true,
	})
	e.db.RemoveBid(bid)
	e.emitRemoval(chain.RemovedCollateralBid, bid.ID, bid.Bidder)
}

// ProcessBids runs the collateral-bid auction for a globally settled asset.
// Bids are considered best collateral ratio first; only when the considered
// prefix covers the whole remaining supply at an adequately collateralized
// price does the auction execute, the last bid taking whatever debt and fund
// remain. Partial coverage leaves everything standing for the next window.
func (e *Engine) ProcessBids(asset *chain.Asset, rs rules.RuleSet) {
	ba := asset.Bitasset
	if !ba.HasSettlement() || ba.IsPredictionMarket || !ba.HasValidFeed() {
		return
	}
	if asset.CurrentSupply == 0 {
		e.cancelBidsAndRevive(asset)
		return
	}

	bids := e.db.BidsFor(asset.ID)
	covered := int64(0)
	accepted := 0
	for _, bid := range bids {
		debtInBid := bid.DebtCovered().Amount
		if debtInBid > asset.CurrentSupply {
			debtInBid = asset.CurrentSupply
		}
		fundShare := ba.SettlementPrice.Mul(chain.AssetAmount{Amount: debtInBid, Asset: asset.ID}, chain.RoundDown)
		totalCollateral := fundShare.Amount + bid.AdditionalCollateral().Amount
		cp := chain.CallPrice(
			chain.AssetAmount{Amount: debtInBid, Asset: asset.ID},
			chain.AssetAmount{Amount: totalCollateral, Asset: ba.Options.BackingAsset},
			ba.CurrentFeed.MaintenanceCollateralRatio,
		)
		// An undercollateralized bid would be margin called on arrival; bids
		// are sorted, so nothing after it can do better.
		if cp.Invert().GreaterEq(ba.CurrentFeed.SettlementPrice) {
			break
		}
		covered += debtInBid
		accepted++
		if covered >= asset.CurrentSupply {
			break
		}
	}
	if covered < asset.CurrentSupply {
		return
	}

	toCover := asset.CurrentSupply
	remainingFund := ba.SettlementFund
	for i := 0; i < accepted; i++ {
		bid := bids[i]
		debt := bid.DebtCovered().Amount
		if debt > asset.CurrentSupply {
			debt = asset.CurrentSupply
		}
		collateral := ba.SettlementPrice.Mul(chain.AssetAmount{Amount: debt, Asset: asset.ID}, chain.RoundDown).Amount
		if debt >= toCover {
			debt = toCover
			collateral = remainingFund
		}
		toCover -= debt
		remainingFund -= collateral
		e.ExecuteBid(bid, debt, collateral, ba.CurrentFeed, rs)
	}
	if toCover != 0 || remainingFund != 0 {
		panic(fmt.Sprintf("FATAL: bid auction left debt %d fund %d unassigned", toCover, remainingFund))
	}
	ba.SettlementFund = 0
	e.cancelBidsAndRevive(asset)
	e.log.Info().Str("asset", asset.Symbol).Int("bids", accepted).Msg("collateral auction revived asset")
}
