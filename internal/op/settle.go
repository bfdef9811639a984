package op

import (
	"errors"

	"BitLedger/internal/chain"
	"BitLedger/internal/market"
	"BitLedger/internal/rules"
)

func (a *Applier) applyAssetSettle(v *AssetSettle, rs rules.RuleSet) error {
	if _, ok := a.db.Account(v.Account); !ok {
		return rejectf("account %d does not exist", v.Account)
	}
	asset, ok := a.db.Asset(v.Amount.Asset)
	if !ok || !asset.IsBitasset() {
		return rejectf("asset %d is not a bitasset", v.Amount.Asset)
	}
	ba := asset.Bitasset
	if v.Amount.Amount <= 0 {
		return rejectf("settlement amount must be positive")
	}
	if a.db.Balance(v.Account, asset.ID) < v.Amount.Amount {
		return rejectf("insufficient balance to settle")
	}
	// Once globally settled, redemption is always open; before that the
	// asset may opt out of force settlement entirely.
	if !ba.HasSettlement() {
		if asset.Options.Flags.DisableForceSettle {
			return rejectf("asset %s has force settlement disabled", asset.Symbol)
		}
		if ba.IsPredictionMarket {
			return rejectf("prediction market %s is not resolved yet", asset.Symbol)
		}
		if !ba.HasValidFeed() && !ba.HasIndividualSettlement() {
			return rejectf("asset %s has no price feed", asset.Symbol)
		}
	}

	if ba.HasSettlement() {
		_, err := a.engine.SettleAgainstFund(asset, v.Account, v.Amount, rs)
		if errors.Is(err, market.ErrSettlementTooSmall) {
			return rejectf("amount settles to zero collateral")
		}
		return err
	}

	remaining := v.Amount
	if rs.IndividualSettlement && ba.HasIndividualSettlement() {
		take, _, err := a.engine.SettleAgainstIndividualPool(asset, v.Account, remaining, rs)
		if err != nil && !errors.Is(err, market.ErrSettlementTooSmall) {
			return err
		}
		if err == nil {
			remaining.Amount -= take.Amount
		}
		if remaining.Amount == 0 {
			return nil
		}
		if !ba.HasValidFeed() {
			// Pool drained and no feed to queue against.
			return nil
		}
	}

	// Queue the remainder: the balance is escrowed in the settlement object
	// until it matures and matches against margin positions.
	if err := a.db.AdjustBalance(v.Account, chain.AssetAmount{Amount: -remaining.Amount, Asset: remaining.Asset}); err != nil {
		return err
	}
	a.db.InsertSettlement(&chain.ForceSettlement{
		Owner:          v.Account,
		Balance:        remaining,
		SettlementDate: a.db.Now().Add(ba.Options.ForceSettlementDelay),
	})
	return nil
}

func (a *Applier) applyBidCollateral(v *BidCollateral, rs rules.RuleSet) error {
	if _, ok := a.db.Account(v.Bidder); !ok {
		return rejectf("bidder %d does not exist", v.Bidder)
	}
	asset, ok := a.db.Asset(v.DebtCovered.Asset)
	if !ok || !asset.IsBitasset() {
		return rejectf("asset %d is not a bitasset", v.DebtCovered.Asset)
	}
	ba := asset.Bitasset
	if !ba.HasSettlement() {
		return rejectf("asset %s is not globally settled; nothing to bid on", asset.Symbol)
	}
	if ba.IsPredictionMarket {
		return rejectf("prediction markets cannot be revived by bids")
	}
	if v.AdditionalCollateral.Asset != ba.Options.BackingAsset {
		return rejectf("bid collateral must be the backing asset %d", ba.Options.BackingAsset)
	}
	if v.DebtCovered.Amount < 0 || v.AdditionalCollateral.Amount < 0 {
		return rejectf("bid amounts cannot be negative")
	}
	if v.DebtCovered.Amount > 0 && v.AdditionalCollateral.Amount == 0 {
		return rejectf("a bid must add collateral")
	}

	existing := a.db.FindBid(v.Bidder, asset.ID)
	available := a.db.Balance(v.Bidder, v.AdditionalCollateral.Asset)
	if existing != nil {
		available += existing.AdditionalCollateral().Amount
	}
	if available < v.AdditionalCollateral.Amount {
		return rejectf("insufficient balance for bid collateral")
	}

	if existing != nil {
		a.engine.CancelBid(existing)
	}
	if v.DebtCovered.Amount == 0 {
		return nil
	}
	if err := a.db.AdjustBalance(v.Bidder, chain.AssetAmount{Amount: -v.AdditionalCollateral.Amount, Asset: v.AdditionalCollateral.Asset}); err != nil {
		return err
	}
	a.db.InsertBid(&chain.CollateralBid{
		Bidder: v.Bidder,
		InvSwanPrice: chain.Price{
			Base:  v.AdditionalCollateral,
			Quote: v.DebtCovered,
		},
	})
	return nil
}
