package market_test

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"BitLedger/internal/chain"
	"BitLedger/internal/fees"
	"BitLedger/internal/market"
	"BitLedger/internal/rules"
	"BitLedger/internal/testutil"
)

func newEngine(t *testing.T) (*market.Engine, *testutil.Fixture) {
	t.Helper()
	f := testutil.NewFixture(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	eng := market.NewEngine(f.DB, fees.NewEngine(f.DB), zerolog.Nop())
	return eng, f
}

// sellOrder builds an unindexed limit order selling forSale of sellAsset for
// at least minReceive of receiveAsset.
func sellOrder(seller chain.AccountID, forSale int64, sellAsset chain.AssetID, minReceive int64, receiveAsset chain.AssetID) *chain.LimitOrder {
	return &chain.LimitOrder{
		Seller:  seller,
		ForSale: forSale,
		SellPrice: chain.Price{
			Base:  chain.AssetAmount{Amount: forSale, Asset: sellAsset},
			Quote: chain.AssetAmount{Amount: minReceive, Asset: receiveAsset},
		},
	}
}

// ============================================================================
// Test: limit/limit matching
// ============================================================================

func TestApplyOrder_ExactCross(t *testing.T) {
	eng, f := newEngine(t)
	usd := f.Bitasset.ID
	rs := rules.Latest()

	// Maker: bob sells 1000 core for at least 500 usd.
	maker := sellOrder(f.Bob.ID, 1000, chain.CoreAsset, 500, usd)
	filled, err := eng.ApplyOrder(maker, rs)
	if err != nil {
		t.Fatalf("maker: %v", err)
	}
	if filled {
		t.Fatal("maker should rest on the empty book")
	}

	// Taker: alice sells 500 usd for at least 1000 core — an exact cross.
	taker := sellOrder(f.Alice.ID, 500, usd, 1000, chain.CoreAsset)
	filled, err = eng.ApplyOrder(taker, rs)
	if err != nil {
		t.Fatalf("taker: %v", err)
	}
	if !filled {
		t.Fatal("taker should be fully consumed")
	}

	if got := f.DB.Balance(f.Alice.ID, chain.CoreAsset); got != 10_000_000+1000 {
		t.Errorf("alice core: got %d, want %d", got, 10_000_000+1000)
	}
	if got := f.DB.Balance(f.Bob.ID, usd); got != 500 {
		t.Errorf("bob usd: got %d, want 500", got)
	}
	if f.DB.BestLimitOrder(chain.CoreAsset, usd) != nil {
		t.Error("maker should have left the book")
	}

	fills, removals := eng.DrainEvents()
	if len(fills) != 2 {
		t.Errorf("fills: got %d, want 2", len(fills))
	}
	if len(removals) != 2 {
		t.Errorf("removals: got %d, want 2", len(removals))
	}
}

func TestApplyOrder_NoOverlapRests(t *testing.T) {
	eng, f := newEngine(t)
	usd := f.Bitasset.ID
	rs := rules.Latest()

	// Maker offers 1000 core per 500 usd; taker demands 2000 core for
	// 500 usd. No overlap — both must rest.
	eng.ApplyOrder(sellOrder(f.Bob.ID, 1000, chain.CoreAsset, 500, usd), rs)
	filled, err := eng.ApplyOrder(sellOrder(f.Alice.ID, 500, usd, 2000, chain.CoreAsset), rs)
	if err != nil {
		t.Fatalf("taker: %v", err)
	}
	if filled {
		t.Fatal("non-crossing order must not fill")
	}
	if f.DB.BestLimitOrder(chain.CoreAsset, usd) == nil || f.DB.BestLimitOrder(usd, chain.CoreAsset) == nil {
		t.Error("both orders should be on their books")
	}
}

func TestApplyOrder_SmallerTakerRoundsUpAgainstItself(t *testing.T) {
	eng, f := newEngine(t)
	usd := f.Bitasset.ID
	rs := rules.Latest()

	// Maker sells 10 core for at least 3 usd. Taker sells 2 usd for at
	// least 6 core: at the maker's price the taker receives
	// floor(2*10/3) = 6 core and pays ceil(6*3/10) = 2 usd.
	eng.ApplyOrder(sellOrder(f.Bob.ID, 10, chain.CoreAsset, 3, usd), rs)
	filled, err := eng.ApplyOrder(sellOrder(f.Alice.ID, 2, usd, 6, chain.CoreAsset), rs)
	if err != nil {
		t.Fatalf("taker: %v", err)
	}
	if !filled {
		t.Fatal("taker should be fully consumed")
	}

	if got := f.DB.Balance(f.Alice.ID, chain.CoreAsset); got != 10_000_000+6 {
		t.Errorf("alice core: got %d, want %d", got, 10_000_000+6)
	}
	if got := f.DB.Balance(f.Bob.ID, usd); got != 2 {
		t.Errorf("bob usd: got %d, want 2", got)
	}

	maker := f.DB.BestLimitOrder(chain.CoreAsset, usd)
	if maker == nil {
		t.Fatal("maker should remain with a partial fill")
	}
	if maker.ForSale != 4 {
		t.Errorf("maker remainder: got %d, want 4", maker.ForSale)
	}
}

func TestMatchLimitLimit_DustTakerSweptOff(t *testing.T) {
	eng, f := newEngine(t)
	usd := f.Bitasset.ID
	rs := rules.Latest()

	// At the maker's price 2 usd buys floor(2*1/3) = 0 core: the taker is
	// dust and is cancelled with a refund instead of paying for nothing.
	maker := f.DB.InsertLimitOrder(sellOrder(f.Bob.ID, 1, chain.CoreAsset, 3, usd))
	taker := f.DB.InsertLimitOrder(sellOrder(f.Alice.ID, 2, usd, 1, chain.CoreAsset))

	res := eng.MatchLimitLimit(taker, maker, maker.SellPrice, rs)
	if res != market.TakerFilled {
		t.Fatalf("result: got %d, want TakerFilled", res)
	}
	if _, live := f.DB.LimitOrder(taker.ID); live {
		t.Error("dust taker should be off the book")
	}
	if got := f.DB.Balance(f.Alice.ID, usd); got != 2 {
		t.Errorf("dust refund: got %d usd, want 2", got)
	}
	if maker.ForSale != 1 {
		t.Errorf("maker must be untouched, ForSale %d", maker.ForSale)
	}
}

func TestMatchLimitLimit_SmallerSideRoundingVariants(t *testing.T) {
	// A partially filled maker (5 of 10 core left at 10core/3usd) is the
	// smaller side and its value no longer divides evenly: 5 core is worth
	// 1.5 usd. The original rounding paid the maker floor(1.5)=1 usd; the
	// fix rounds the smaller side's proceeds up to 2.
	for _, tc := range []struct {
		name       string
		rs         rules.RuleSet
		wantBobUsd int64
	}{
		{"legacy", rules.Genesis(), 1},
		{"fixed", rules.Latest(), 2},
	} {
		t.Run(tc.name, func(t *testing.T) {
			eng, f := newEngine(t)
			usd := f.Bitasset.ID

			maker := sellOrder(f.Bob.ID, 10, chain.CoreAsset, 3, usd)
			maker.ForSale = 5
			f.DB.InsertLimitOrder(maker)
			taker := f.DB.InsertLimitOrder(sellOrder(f.Alice.ID, 4, usd, 10, chain.CoreAsset))

			res := eng.MatchLimitLimit(taker, maker, maker.SellPrice, tc.rs)
			if res != market.MakerFilled {
				t.Fatalf("result: got %d, want MakerFilled", res)
			}
			if got := f.DB.Balance(f.Bob.ID, usd); got != tc.wantBobUsd {
				t.Errorf("bob usd: got %d, want %d", got, tc.wantBobUsd)
			}
			if got := f.DB.Balance(f.Alice.ID, chain.CoreAsset); got != 10_000_000+5 {
				t.Errorf("alice core: got %d, want %d", got, 10_000_000+5)
			}
			if taker.ForSale != 4-tc.wantBobUsd {
				t.Errorf("taker remainder: got %d, want %d", taker.ForSale, 4-tc.wantBobUsd)
			}
		})
	}
}

func TestProcessExpiredOrders(t *testing.T) {
	eng, f := newEngine(t)
	usd := f.Bitasset.ID
	now := f.DB.Now()

	o := sellOrder(f.Bob.ID, 1000, chain.CoreAsset, 500, usd)
	o.Expiration = now.Add(time.Hour)
	o.DeferredFee = 10
	f.DB.InsertLimitOrder(o)

	f.DB.SetTime(now.Add(2 * time.Hour))
	eng.ProcessExpiredOrders()

	if _, live := f.DB.LimitOrder(o.ID); live {
		t.Fatal("expired order should be cancelled")
	}
	if got := f.DB.Balance(f.Bob.ID, chain.CoreAsset); got != 10_000_000+1000+10 {
		t.Errorf("refund with deferred fee: got %d, want %d", got, 10_000_000+1000+10)
	}
}
