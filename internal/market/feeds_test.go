package market_test

import (
	"testing"
	"time"

	"BitLedger/internal/chain"
	"BitLedger/internal/rules"
	"BitLedger/internal/testutil"
)

func publishAs(f *testutil.Fixture, producer chain.AccountID, at time.Time, sp chain.Price, mcr, mssr uint16) {
	f.Bitasset.Bitasset.Feeds[producer] = chain.TimestampedFeed{
		Time: at,
		Feed: chain.PriceFeed{
			SettlementPrice:            sp,
			MaintenanceCollateralRatio: mcr,
			MaximumShortSqueezeRatio:   mssr,
		},
	}
}

func TestUpdateMedianFeeds_PerFieldMedian(t *testing.T) {
	eng, f := newEngine(t)
	ba := f.Bitasset.Bitasset
	now := f.DB.Now()

	p2 := f.DB.CreateAccount("producer2", chain.NetworkAccount, chain.NetworkAccount, 0)
	p3 := f.DB.CreateAccount("producer3", chain.NetworkAccount, chain.NetworkAccount, 0)
	ba.FeedProducers = append(ba.FeedProducers, p2.ID, p3.ID)

	// Each field takes its own median: the middle price comes from one
	// producer, the middle ratios from others.
	publishAs(f, f.Producer.ID, now, f.FeedPrice(1, 4), 1750, 1100)
	publishAs(f, p2.ID, now, f.FeedPrice(1, 5), 1600, 1200)
	publishAs(f, p3.ID, now, f.FeedPrice(1, 6), 2000, 1050)

	changed := eng.UpdateMedianFeeds(f.Bitasset, rules.Latest())
	if !changed {
		t.Fatal("first median should report a change")
	}

	feed := ba.CurrentFeed
	if !feed.SettlementPrice.Equal(f.FeedPrice(1, 5)) {
		t.Errorf("median price: got %v, want 1/5", feed.SettlementPrice)
	}
	if feed.MaintenanceCollateralRatio != 1750 {
		t.Errorf("median MCR: got %d, want 1750", feed.MaintenanceCollateralRatio)
	}
	if feed.MaximumShortSqueezeRatio != 1100 {
		t.Errorf("median MSSR: got %d, want 1100", feed.MaximumShortSqueezeRatio)
	}
	if ba.CurrentMaintenanceCollateralization.IsNull() {
		t.Error("maintenance collateralization cache should be derived")
	}
}

func TestUpdateMedianFeeds_ExpiredFeedsDropOut(t *testing.T) {
	eng, f := newEngine(t)
	ba := f.Bitasset.Bitasset
	now := f.DB.Now()

	// One live feed satisfies MinimumFeeds=1; once it ages past the
	// 24h lifetime the current feed clears.
	publishAs(f, f.Producer.ID, now, f.FeedPrice(1, 5), 1750, 1100)
	eng.UpdateMedianFeeds(f.Bitasset, rules.Latest())
	if !ba.HasValidFeed() {
		t.Fatal("live feed should produce a valid current feed")
	}

	f.DB.SetTime(now.Add(25 * time.Hour))
	changed := eng.UpdateMedianFeeds(f.Bitasset, rules.Latest())
	if !changed {
		t.Error("expiry should report a change")
	}
	if ba.HasValidFeed() {
		t.Error("expired feed must clear the current feed")
	}
}

func TestUpdateMedianFeeds_BelowMinimumClears(t *testing.T) {
	eng, f := newEngine(t)
	ba := f.Bitasset.Bitasset
	ba.Options.MinimumFeeds = 2
	now := f.DB.Now()

	publishAs(f, f.Producer.ID, now, f.FeedPrice(1, 5), 1750, 1100)
	eng.UpdateMedianFeeds(f.Bitasset, rules.Latest())

	if ba.HasValidFeed() {
		t.Error("one feed of a required two must not produce a median")
	}
}

func TestUpdateMedianFeeds_NullFeedIgnored(t *testing.T) {
	eng, f := newEngine(t)
	ba := f.Bitasset.Bitasset
	now := f.DB.Now()

	// Publishing a null price is how a producer withdraws its feed.
	publishAs(f, f.Producer.ID, now, chain.Price{}, 0, 0)
	eng.UpdateMedianFeeds(f.Bitasset, rules.Latest())

	if ba.HasValidFeed() {
		t.Error("a withdrawn feed must not count toward the median")
	}
}
