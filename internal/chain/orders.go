package chain

import (
	"time"
)

// LimitOrder is an open offer to sell ForSale of the sell asset at
// SellPrice or better. The price never changes after creation; only ForSale
// shrinks on partial fills.
type LimitOrder struct {
	ID         ObjectID
	Seller     AccountID
	ForSale    int64
	SellPrice  Price
	Expiration time.Time

	// DeferredFee is the order-creation fee held in the core asset,
	// refunded if the order is cancelled unfilled.
	DeferredFee int64
	// DeferredPaidFee is a creation fee prepaid in a non-core asset; on
	// fill it is forfeited to that asset's fee pool, on cancel refunded.
	DeferredPaidFee AssetAmount
}

// SellAsset is the asset being sold.
func (o *LimitOrder) SellAsset() AssetID { return o.SellPrice.Base.Asset }

// ReceiveAsset is the asset being bought.
func (o *LimitOrder) ReceiveAsset() AssetID { return o.SellPrice.Quote.Asset }

// AmountForSale is the remaining unsold amount.
func (o *LimitOrder) AmountForSale() AssetAmount {
	return AssetAmount{Amount: o.ForSale, Asset: o.SellAsset()}
}

// AmountToReceive is what the remainder would bring at the order's own
// price, rounded down. Zero here means the order is too small to fill.
func (o *LimitOrder) AmountToReceive() AssetAmount {
	return o.SellPrice.Mul(o.AmountForSale(), RoundDown)
}

// CallOrder is an open margin position: Debt of the debt asset owed against
// Collateral of the backing asset.
type CallOrder struct {
	ID              ObjectID
	Borrower        AccountID
	Collateral      int64
	Debt            int64
	CollateralAsset AssetID
	DebtAsset       AssetID

	// CachedCallPrice is only maintained under the legacy price-ordered
	// rule variant; modern variants order by collateralization instead.
	CachedCallPrice Price

	// TargetCollateralRatio, when set, caps how much debt a margin call
	// covers: just enough to restore this ratio instead of the maintenance
	// ratio (CollateralRatioDenom units).
	TargetCollateralRatio *uint16
}

// DebtAmount returns the debt as an AssetAmount.
func (c *CallOrder) DebtAmount() AssetAmount {
	return AssetAmount{Amount: c.Debt, Asset: c.DebtAsset}
}

// CollateralAmount returns the collateral as an AssetAmount.
func (c *CallOrder) CollateralAmount() AssetAmount {
	return AssetAmount{Amount: c.Collateral, Asset: c.CollateralAsset}
}

// Collateralization is collateral/debt as an exact price. Positions compare
// by it: lower means closer to a margin call.
func (c *CallOrder) Collateralization() Price {
	return Price{
		Base:  AssetAmount{Amount: c.Collateral, Asset: c.CollateralAsset},
		Quote: AssetAmount{Amount: c.Debt, Asset: c.DebtAsset},
	}
}

// ForceSettlement is a pending request to settle Balance of a bitasset
// against margin positions once SettlementDate is reached.
type ForceSettlement struct {
	ID             ObjectID
	Owner          AccountID
	Balance        AssetAmount
	SettlementDate time.Time
}

// CollateralBid offers to take over part of a globally settled asset's debt.
// InvSwanPrice is additional-collateral/debt-covered; the bid's collateral
// is held by the ledger until the bid executes or is cancelled.
type CollateralBid struct {
	ID           ObjectID
	Bidder       AccountID
	InvSwanPrice Price
}

// DebtCovered is the amount of debt the bid offers to take over.
func (b *CollateralBid) DebtCovered() AssetAmount { return b.InvSwanPrice.Quote }

// AdditionalCollateral is the bidder's own collateral locked in the bid.
func (b *CollateralBid) AdditionalCollateral() AssetAmount { return b.InvSwanPrice.Base }
