package chain_test

import (
	"testing"
	"time"

	"BitLedger/internal/chain"
)

func newTestDB(t *testing.T) (*chain.DB, *chain.Account, *chain.Asset) {
	t.Helper()
	db := chain.NewDB()
	db.SetTime(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	acct := db.CreateAccount("trader", chain.NetworkAccount, chain.NetworkAccount, 0)
	asset := db.CreateAsset("BITUSD", acct.ID, 4, chain.AssetOptions{MaxSupply: chain.MaxShareSupply},
		&chain.BitassetData{Options: chain.BitassetOptions{BackingAsset: chain.CoreAsset}})
	return db, acct, asset
}

// ============================================================================
// Test: Balances
// ============================================================================

func TestAdjustBalance_CreditAndDebit(t *testing.T) {
	db, acct, _ := newTestDB(t)

	if err := db.AdjustBalance(acct.ID, chain.AssetAmount{Amount: 1000, Asset: chain.CoreAsset}); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := db.AdjustBalance(acct.ID, chain.AssetAmount{Amount: -400, Asset: chain.CoreAsset}); err != nil {
		t.Fatalf("debit: %v", err)
	}
	if got := db.Balance(acct.ID, chain.CoreAsset); got != 600 {
		t.Errorf("balance: got %d, want 600", got)
	}
}

func TestAdjustBalance_OverdraftRejectedWithoutMutation(t *testing.T) {
	db, acct, _ := newTestDB(t)
	db.AdjustBalance(acct.ID, chain.AssetAmount{Amount: 100, Asset: chain.CoreAsset})

	if err := db.AdjustBalance(acct.ID, chain.AssetAmount{Amount: -101, Asset: chain.CoreAsset}); err == nil {
		t.Fatal("overdraft should be rejected")
	}
	if got := db.Balance(acct.ID, chain.CoreAsset); got != 100 {
		t.Errorf("failed debit must not mutate: got %d, want 100", got)
	}
}

func TestDepositVesting(t *testing.T) {
	db, acct, _ := newTestDB(t)

	db.DepositVesting(acct.ID, chain.AssetAmount{Amount: 50, Asset: chain.CoreAsset})
	db.DepositVesting(acct.ID, chain.AssetAmount{Amount: 25, Asset: chain.CoreAsset})
	db.DepositVesting(acct.ID, chain.AssetAmount{Amount: 0, Asset: chain.CoreAsset})

	if got := db.VestingBalance(acct.ID, chain.CoreAsset); got != 75 {
		t.Errorf("vesting: got %d, want 75", got)
	}
}

// ============================================================================
// Test: Limit order book
// ============================================================================

func TestLimitOrderBook_BestPriceFirst(t *testing.T) {
	db, acct, asset := newTestDB(t)

	mkOrder := func(sell, receive int64) *chain.LimitOrder {
		return &chain.LimitOrder{
			Seller:  acct.ID,
			ForSale: sell,
			SellPrice: chain.Price{
				Base:  chain.AssetAmount{Amount: sell, Asset: asset.ID},
				Quote: chain.AssetAmount{Amount: receive, Asset: chain.CoreAsset},
			},
		}
	}

	// Demanding less per unit sold means a higher sell price and a better
	// spot in the book.
	cheap := db.InsertLimitOrder(mkOrder(100, 200))
	expensive := db.InsertLimitOrder(mkOrder(100, 500))
	mid := db.InsertLimitOrder(mkOrder(100, 300))

	best := db.BestLimitOrder(asset.ID, chain.CoreAsset)
	if best.ID != cheap.ID {
		t.Errorf("best order: got %d, want %d", best.ID, cheap.ID)
	}

	book := db.LimitOrders(asset.ID, chain.CoreAsset)
	if len(book) != 3 {
		t.Fatalf("book size: got %d, want 3", len(book))
	}
	if book[0].ID != cheap.ID || book[1].ID != mid.ID || book[2].ID != expensive.ID {
		t.Errorf("book order: got %d,%d,%d", book[0].ID, book[1].ID, book[2].ID)
	}
}

func TestLimitOrderBook_EqualPriceOldestFirst(t *testing.T) {
	db, acct, asset := newTestDB(t)

	p := chain.Price{
		Base:  chain.AssetAmount{Amount: 100, Asset: asset.ID},
		Quote: chain.AssetAmount{Amount: 300, Asset: chain.CoreAsset},
	}
	first := db.InsertLimitOrder(&chain.LimitOrder{Seller: acct.ID, ForSale: 100, SellPrice: p})
	db.InsertLimitOrder(&chain.LimitOrder{Seller: acct.ID, ForSale: 100, SellPrice: p})

	if best := db.BestLimitOrder(asset.ID, chain.CoreAsset); best.ID != first.ID {
		t.Errorf("ties break by age: got %d, want %d", best.ID, first.ID)
	}
}

func TestRemoveLimitOrder(t *testing.T) {
	db, acct, asset := newTestDB(t)
	o := db.InsertLimitOrder(&chain.LimitOrder{
		Seller:  acct.ID,
		ForSale: 100,
		SellPrice: chain.Price{
			Base:  chain.AssetAmount{Amount: 100, Asset: asset.ID},
			Quote: chain.AssetAmount{Amount: 300, Asset: chain.CoreAsset},
		},
	})

	db.RemoveLimitOrder(o)
	if _, ok := db.LimitOrder(o.ID); ok {
		t.Error("removed order still in the object table")
	}
	if db.BestLimitOrder(asset.ID, chain.CoreAsset) != nil {
		t.Error("removed order still in the book")
	}
}

func TestExpiredLimitOrders(t *testing.T) {
	db, acct, asset := newTestDB(t)
	now := db.Now()
	p := chain.Price{
		Base:  chain.AssetAmount{Amount: 100, Asset: asset.ID},
		Quote: chain.AssetAmount{Amount: 300, Asset: chain.CoreAsset},
	}

	expired := db.InsertLimitOrder(&chain.LimitOrder{Seller: acct.ID, ForSale: 100, SellPrice: p, Expiration: now.Add(-time.Minute)})
	db.InsertLimitOrder(&chain.LimitOrder{Seller: acct.ID, ForSale: 100, SellPrice: p, Expiration: now.Add(time.Hour)})
	db.InsertLimitOrder(&chain.LimitOrder{Seller: acct.ID, ForSale: 100, SellPrice: p}) // no expiration

	got := db.ExpiredLimitOrders(now)
	if len(got) != 1 || got[0].ID != expired.ID {
		t.Errorf("expired orders: got %d entries, want exactly order %d", len(got), expired.ID)
	}
}

// ============================================================================
// Test: Call order index
// ============================================================================

func TestCallIndex_LeastCollateralizedFirst(t *testing.T) {
	db, acct, asset := newTestDB(t)

	mkCall := func(debt, collateral int64) *chain.CallOrder {
		return db.InsertCallOrder(&chain.CallOrder{
			Borrower:        acct.ID,
			Debt:            debt,
			Collateral:      collateral,
			DebtAsset:       asset.ID,
			CollateralAsset: chain.CoreAsset,
		})
	}

	safe := mkCall(1000, 9000)  // 9.0
	risky := mkCall(1000, 3000) // 3.0
	mid := mkCall(1000, 5000)   // 5.0

	if got := db.LeastCollateralizedCall(asset.ID, false); got.ID != risky.ID {
		t.Errorf("least collateralized: got %d, want %d", got.ID, risky.ID)
	}

	idx := db.CallOrdersFor(asset.ID)
	if idx[0].ID != risky.ID || idx[1].ID != mid.ID || idx[2].ID != safe.ID {
		t.Errorf("index order: got %d,%d,%d", idx[0].ID, idx[1].ID, idx[2].ID)
	}
}

func TestCallIndex_ByCachedPrice(t *testing.T) {
	db, acct, asset := newTestDB(t)

	a := db.InsertCallOrder(&chain.CallOrder{
		Borrower: acct.ID, Debt: 1000, Collateral: 3000,
		DebtAsset: asset.ID, CollateralAsset: chain.CoreAsset,
		CachedCallPrice: chain.Price{
			Base:  chain.AssetAmount{Amount: 5, Asset: chain.CoreAsset},
			Quote: chain.AssetAmount{Amount: 1, Asset: asset.ID},
		},
	})
	b := db.InsertCallOrder(&chain.CallOrder{
		Borrower: acct.ID, Debt: 1000, Collateral: 9000,
		DebtAsset: asset.ID, CollateralAsset: chain.CoreAsset,
		CachedCallPrice: chain.Price{
			Base:  chain.AssetAmount{Amount: 2, Asset: chain.CoreAsset},
			Quote: chain.AssetAmount{Amount: 1, Asset: asset.ID},
		},
	})

	// The legacy scan picks the lowest cached trigger price, regardless of
	// live collateralization.
	if got := db.LeastCollateralizedCall(asset.ID, true); got.ID != b.ID {
		t.Errorf("cached-price scan: got %d, want %d", got.ID, b.ID)
	}
	if got := db.LeastCollateralizedCall(asset.ID, false); got.ID != a.ID {
		t.Errorf("live scan: got %d, want %d", got.ID, a.ID)
	}
}

func TestModifyCallOrder_Reindexes(t *testing.T) {
	db, acct, asset := newTestDB(t)

	a := db.InsertCallOrder(&chain.CallOrder{
		Borrower: acct.ID, Debt: 1000, Collateral: 3000,
		DebtAsset: asset.ID, CollateralAsset: chain.CoreAsset,
	})
	b := db.InsertCallOrder(&chain.CallOrder{
		Borrower: acct.ID, Debt: 1000, Collateral: 5000,
		DebtAsset: asset.ID, CollateralAsset: chain.CoreAsset,
	})

	// Top up the riskiest position past the other one.
	db.ModifyCallOrder(a, func(c *chain.CallOrder) { c.Collateral = 8000 })

	if got := db.LeastCollateralizedCall(asset.ID, false); got.ID != b.ID {
		t.Errorf("after reindex: got %d, want %d", got.ID, b.ID)
	}
}

func TestFindCallOrder(t *testing.T) {
	db, acct, asset := newTestDB(t)
	other := db.CreateAccount("other", chain.NetworkAccount, chain.NetworkAccount, 0)

	c := db.InsertCallOrder(&chain.CallOrder{
		Borrower: acct.ID, Debt: 1000, Collateral: 5000,
		DebtAsset: asset.ID, CollateralAsset: chain.CoreAsset,
	})

	if got := db.FindCallOrder(acct.ID, asset.ID); got == nil || got.ID != c.ID {
		t.Error("borrower's position not found")
	}
	if db.FindCallOrder(other.ID, asset.ID) != nil {
		t.Error("found a position for a borrower without one")
	}
}

// ============================================================================
// Test: Settlement queue
// ============================================================================

func TestSettlementQueue_MaturityOrder(t *testing.T) {
	db, acct, asset := newTestDB(t)
	now := db.Now()

	late := db.InsertSettlement(&chain.ForceSettlement{
		Owner:          acct.ID,
		Balance:        chain.AssetAmount{Amount: 100, Asset: asset.ID},
		SettlementDate: now.Add(2 * time.Hour),
	})
	early := db.InsertSettlement(&chain.ForceSettlement{
		Owner:          acct.ID,
		Balance:        chain.AssetAmount{Amount: 100, Asset: asset.ID},
		SettlementDate: now.Add(-time.Hour),
	})

	matured := db.MaturedSettlements(asset.ID, now)
	if len(matured) != 1 || matured[0].ID != early.ID {
		t.Fatalf("matured: got %d entries, want exactly settlement %d", len(matured), early.ID)
	}

	all := db.SettlementsFor(asset.ID)
	if len(all) != 2 || all[0].ID != early.ID || all[1].ID != late.ID {
		t.Errorf("queue must be ordered by maturity")
	}
}

// ============================================================================
// Test: Collateral bid index
// ============================================================================

func TestBidIndex_BestRatioFirst(t *testing.T) {
	db, acct, asset := newTestDB(t)

	mkBid := func(collateral, debt int64) *chain.CollateralBid {
		return db.InsertBid(&chain.CollateralBid{
			Bidder: acct.ID,
			InvSwanPrice: chain.Price{
				Base:  chain.AssetAmount{Amount: collateral, Asset: chain.CoreAsset},
				Quote: chain.AssetAmount{Amount: debt, Asset: asset.ID},
			},
		})
	}

	weak := mkBid(1000, 1000)
	strong := mkBid(5000, 1000)

	bids := db.BidsFor(asset.ID)
	if len(bids) != 2 || bids[0].ID != strong.ID || bids[1].ID != weak.ID {
		t.Errorf("bids must rank best collateral ratio first")
	}

	if got := db.FindBid(acct.ID, asset.ID); got == nil {
		t.Error("bidder's standing bid not found")
	}
	db.RemoveBid(strong)
	db.RemoveBid(weak)
	if db.FindBid(acct.ID, asset.ID) != nil {
		t.Error("removed bids still findable")
	}
}
