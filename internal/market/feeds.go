package market

import (
	"sort"

	"BitLedger/internal/chain"
	"BitLedger/internal/rules"
)

// UpdateMedianFeeds recomputes a bitasset's median feed from its unexpired
// producer feeds: each field takes the median of the published values
// independently. Fewer than MinimumFeeds live feeds clears the feed entirely.
// Returns whether the effective current feed changed.
func (e *Engine) UpdateMedianFeeds(asset *chain.Asset, rs rules.RuleSet) bool {
	ba := asset.Bitasset
	now := e.db.Now()
	before := ba.CurrentFeed

	live := make([]chain.PriceFeed, 0, len(ba.Feeds))
	producers := make([]chain.AccountID, 0, len(ba.Feeds))
	for producer := range ba.Feeds {
		producers = append(producers, producer)
	}
	sort.Slice(producers, func(i, j int) bool { return producers[i] < producers[j] })
	for _, producer := range producers {
		f := ba.Feeds[producer]
		if ba.Options.FeedLifetime > 0 && !f.Time.Add(ba.Options.FeedLifetime).After(now) {
			continue
		}
		if f.Feed.SettlementPrice.IsNull() {
			continue
		}
		live = append(live, f.Feed)
	}

	var median chain.PriceFeed
	if len(live) > 0 && len(live) >= int(ba.Options.MinimumFeeds) {
		n := len(live)
		prices := make([]chain.Price, n)
		mcrs := make([]uint16, n)
		mssrs := make([]uint16, n)
		for i, f := range live {
			prices[i] = f.SettlementPrice
			mcrs[i] = f.MaintenanceCollateralRatio
			mssrs[i] = f.MaximumShortSqueezeRatio
		}
		sort.SliceStable(prices, func(i, j int) bool { return prices[i].Less(prices[j]) })
		sort.Slice(mcrs, func(i, j int) bool { return mcrs[i] < mcrs[j] })
		sort.Slice(mssrs, func(i, j int) bool { return mssrs[i] < mssrs[j] })
		median = chain.PriceFeed{
			SettlementPrice:            prices[n/2],
			MaintenanceCollateralRatio: mcrs[n/2],
			MaximumShortSqueezeRatio:   mssrs[n/2],
		}
	}

	ba.MedianFeed = median
	ba.CurrentFeedTime = now
	e.DeriveCurrentFeed(asset)
	return ba.CurrentFeed != before
}

// DeriveCurrentFeed computes the effective feed from the median. While an
// individual settlement pool exists, the settlement price is capped at the
// pool's own debt/collateral ratio so remaining margin calls cannot execute
// at a better price than the settled positions got.
func (e *Engine) DeriveCurrentFeed(asset *chain.Asset) {
	ba := asset.Bitasset
	feed := ba.MedianFeed
	if ba.HasIndividualSettlement() && ba.IndividualSettlementFund > 0 && !feed.SettlementPrice.IsNull() {
		fundPrice := chain.Price{
			Base:  chain.AssetAmount{Amount: ba.IndividualSettlementDebt, Asset: asset.ID},
			Quote: chain.AssetAmount{Amount: ba.IndividualSettlementFund, Asset: ba.Options.BackingAsset},
		}
		if fundPrice.Greater(feed.SettlementPrice) {
			feed.SettlementPrice = fundPrice
		}
	}
	ba.CurrentFeed = feed
	ba.CurrentMaintenanceCollateralization = feed.MaintenanceCollateralization()
}

// OnFeedChanged reacts to a new effective feed: a globally settled asset is
// revived when its fund collateralization allows, a live asset gets its
// margin calls re-checked at the new price.
func (e *Engine) OnFeedChanged(asset *chain.Asset, rs rules.RuleSet) error {
	ba := asset.Bitasset
	if ba.HasSettlement() {
		if e.canRevive(asset, rs) {
			e.ReviveBitasset(asset, rs)
		}
		return nil
	}
	_, err := e.CheckCallOrders(asset, true, false, rs)
	return err
}

// OnMaintenance runs the per-window housekeeping: expired orders swept,
// settlement volume windows reset, stale feeds expired, bid auctions and
// revival checks run, matured settlements executed.
func (e *Engine) OnMaintenance(rs rules.RuleSet) error {
	e.ProcessExpiredOrders()
	for _, asset := range e.db.Bitassets() {
		ba := asset.Bitasset
		ba.ForceSettledVolume = 0
		e.UpdateMedianFeeds(asset, rs)
		if ba.HasSettlement() {
			e.ProcessBids(asset, rs)
			if ba.HasSettlement() && e.canRevive(asset, rs) {
				e.ReviveBitasset(asset, rs)
			}
		} else if _, err := e.CheckCallOrders(asset, true, false, rs); err != nil {
			return err
		}
		e.ProcessSettlements(asset, rs)
	}
	return nil
}
