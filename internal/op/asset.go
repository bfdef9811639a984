package op

import (
	"BitLedger/internal/chain"
	"BitLedger/internal/rules"
)

func (a *Applier) applyAssetPublishFeed(v *AssetPublishFeed, rs rules.RuleSet) error {
	asset, ok := a.db.Asset(v.Asset)
	if !ok || !asset.IsBitasset() {
		return rejectf("asset %d is not a bitasset", v.Asset)
	}
	ba := asset.Bitasset
	if !a.isAuthorizedProducer(ba, v.Publisher) {
		return rejectf("account %d is not a feed producer for %s", v.Publisher, asset.Symbol)
	}
	if !v.Feed.SettlementPrice.IsNull() {
		if !v.Feed.SettlementPrice.Valid() {
			return rejectf("invalid settlement price")
		}
		if v.Feed.SettlementPrice.Base.Asset != asset.ID || v.Feed.SettlementPrice.Quote.Asset != ba.Options.BackingAsset {
			return rejectf("feed must quote %s against its backing asset", asset.Symbol)
		}
		if v.Feed.MaintenanceCollateralRatio <= chain.CollateralRatioDenom {
			return rejectf("maintenance collateral ratio must exceed 100%%")
		}
		if v.Feed.MaximumShortSqueezeRatio < chain.CollateralRatioDenom {
			return rejectf("maximum short squeeze ratio must be at least 100%%")
		}
	}

	ba.Feeds[v.Publisher] = chain.TimestampedFeed{Time: a.db.Now(), Feed: v.Feed}
	if a.engine.UpdateMedianFeeds(asset, rs) {
		return a.engine.OnFeedChanged(asset, rs)
	}
	return nil
}

// isAuthorizedProducer checks the feed producer whitelist. Witness- and
// committee-fed assets manage their producer sets through the same list;
// the governance module keeps it in sync with the active set.
func (a *Applier) isAuthorizedProducer(ba *chain.BitassetData, publisher chain.AccountID) bool {
	for _, p := range ba.FeedProducers {
		if p == publisher {
			return true
		}
	}
	return false
}

func (a *Applier) applyAssetUpdateFeedProducers(v *AssetUpdateFeedProducers, rs rules.RuleSet) error {
	asset, ok := a.db.Asset(v.Asset)
	if !ok || !asset.IsBitasset() {
		return rejectf("asset %d is not a bitasset", v.Asset)
	}
	if asset.Issuer != v.Issuer {
		return rejectf("only the issuer may change feed producers")
	}
	ba := asset.Bitasset
	if asset.Options.Flags.WitnessFedAsset || asset.Options.Flags.CommitteeFedAsset {
		return rejectf("producer set of a witness- or committee-fed asset is managed by governance")
	}
	for _, p := range v.Producers {
		if _, ok := a.db.Account(p); !ok {
			return rejectf("producer %d does not exist", p)
		}
	}

	keep := make(map[chain.AccountID]bool, len(v.Producers))
	for _, p := range v.Producers {
		keep[p] = true
	}
	for p := range ba.Feeds {
		if !keep[p] {
			delete(ba.Feeds, p)
		}
	}
	ba.FeedProducers = append([]chain.AccountID(nil), v.Producers...)

	if a.engine.UpdateMedianFeeds(asset, rs) {
		return a.engine.OnFeedChanged(asset, rs)
	}
	return nil
}

func (a *Applier) applyAssetUpdateBitasset(v *AssetUpdateBitasset, rs rules.RuleSet) error {
	asset, ok := a.db.Asset(v.Asset)
	if !ok || !asset.IsBitasset() {
		return rejectf("asset %d is not a bitasset", v.Asset)
	}
	if asset.Issuer != v.Issuer {
		return rejectf("only the issuer may update bitasset options")
	}
	ba := asset.Bitasset
	old := ba.Options
	next := v.NewOptions

	if !asset.Options.Permissions.UpdateRiskParams {
		if !eqUint16Ptr(next.InitialCollateralRatio, old.InitialCollateralRatio) ||
			!eqUint16Ptr(next.MarginCallFeeRatio, old.MarginCallFeeRatio) ||
			next.BlackSwanResponseMethod != old.BlackSwanResponseMethod {
			return rejectf("asset %s lacks the risk-parameter update permission", asset.Symbol)
		}
	}

	if next.BackingAsset != old.BackingAsset {
		if asset.CurrentSupply > 0 {
			return rejectf("cannot change backing asset while supply exists")
		}
		if ba.HasSettlement() || ba.HasIndividualSettlement() {
			return rejectf("cannot change backing asset of a settled asset")
		}
		if asset.AccumulatedCollateralFees > 0 {
			return rejectf("cannot change backing asset with collateral fees unclaimed")
		}
		if err := a.checkBackingChain(asset, next.BackingAsset); err != nil {
			return err
		}
	}
	if next.ForceSettlementOffsetPercent >= chain.Percent100 {
		return rejectf("force settlement offset must stay below 100%%")
	}

	feedParamsChanged := next.FeedLifetime != old.FeedLifetime || next.MinimumFeeds != old.MinimumFeeds
	ba.Options = next

	if feedParamsChanged || !eqUint16Ptr(next.MarginCallFeeRatio, old.MarginCallFeeRatio) {
		if a.engine.UpdateMedianFeeds(asset, rs) {
			return a.engine.OnFeedChanged(asset, rs)
		}
		if ba.HasValidFeed() && !ba.HasSettlement() {
			_, err := a.engine.CheckCallOrders(asset, true, false, rs)
			return err
		}
	}
	return nil
}

// checkBackingChain rejects a backing asset whose own backing chain loops
// back to the asset, and requires committee-fed chains to bottom out at the
// core asset.
func (a *Applier) checkBackingChain(asset *chain.Asset, backing chain.AssetID) error {
	seen := map[chain.AssetID]bool{asset.ID: true}
	cur := backing
	for {
		if seen[cur] {
			return rejectf("backing chain of asset %d loops", backing)
		}
		seen[cur] = true
		b, ok := a.db.Asset(cur)
		if !ok {
			return rejectf("backing asset %d does not exist", cur)
		}
		if !b.IsBitasset() {
			if asset.Options.Flags.CommitteeFedAsset && b.ID != chain.CoreAsset {
				return rejectf("committee-fed assets must be backed by the core asset chain")
			}
			return nil
		}
		cur = b.Bitasset.Options.BackingAsset
	}
}

func (a *Applier) applyAssetGlobalSettle(v *AssetGlobalSettle, rs rules.RuleSet) error {
	asset, ok := a.db.Asset(v.Asset)
	if !ok || !asset.IsBitasset() {
		return rejectf("asset %d is not a bitasset", v.Asset)
	}
	if asset.Issuer != v.Issuer {
		return rejectf("only the issuer may globally settle")
	}
	if !asset.Options.Permissions.GlobalSettle {
		return rejectf("asset %s was created without the global-settle permission", asset.Symbol)
	}
	ba := asset.Bitasset
	if ba.HasSettlement() {
		return rejectf("asset %s is already globally settled", asset.Symbol)
	}
	if asset.CurrentSupply <= 0 {
		return rejectf("nothing to settle")
	}
	if !v.SettlePrice.Valid() || v.SettlePrice.Base.Asset != asset.ID || v.SettlePrice.Quote.Asset != ba.Options.BackingAsset {
		return rejectf("settle price must quote %s against its backing asset", asset.Symbol)
	}

	a.engine.GloballySettleAsset(asset, v.SettlePrice, rs)
	return nil
}

func eqUint16Ptr(a, b *uint16) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
