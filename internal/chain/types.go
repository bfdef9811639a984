package chain

import (
	"time"
)

// Object identifiers. All ledger objects carry a stable integer id allocated
// sequentially by the DB so every node derives the same ids from the same
// operation stream.
type (
	AccountID int64
	AssetID   int64
	ObjectID  int64
)

// CoreAsset is the network's base asset (asset id 0).
const CoreAsset AssetID = 0

// NetworkAccount receives the network's share of market fees.
const NetworkAccount AccountID = 0

// Percent100 is the fixed-point denominator for percentage fields
// (a value of 100 means 1%).
const Percent100 = 10000

// CollateralRatioDenom is the fixed-point denominator for collateral ratios
// (a maintenance ratio of 1750 means 175%).
const CollateralRatioDenom = 1000

// MaxShareSupply bounds every amount field; price components are reduced to
// stay below it so cross multiplication fits in 128 bits.
const MaxShareSupply = int64(1000000000000000)

// AssetAmount is an amount of a specific asset.
type AssetAmount struct {
	Amount int64   `json:"amount"`
	Asset  AssetID `json:"asset"`
}

// Account carries the referral fields the fee engine needs. Authority and
// key data live outside the engine.
type Account struct {
	ID        AccountID
	Name      string
	Registrar AccountID
	Referrer  AccountID
	// ReferrerRewardsPercentage is the referrer's share of the fee reward,
	// in Percent100 units.
	ReferrerRewardsPercentage uint16
}

// AssetFlags gate optional asset behavior.
type AssetFlags struct {
	ChargesMarketFees  bool
	DisableForceSettle bool
	WitnessFedAsset    bool
	CommitteeFedAsset  bool
}

// AssetPermissions are the fixed grants an asset was created with. Unlike
// flags they cannot be toggled later; an operation needing a grant the asset
// never received is rejected.
type AssetPermissions struct {
	// GlobalSettle lets the issuer force-settle the whole asset.
	GlobalSettle bool
	// UpdateRiskParams lets the issuer change the risk-sensitive bitasset
	// options: initial collateral ratio, margin-call fee ratio, and the
	// black-swan response method.
	UpdateRiskParams bool
}

// AssetOptions is the fee and issuance configuration of an asset.
type AssetOptions struct {
	MaxSupply        int64
	MarketFeePercent uint16
	// TakerFeePercent, when set, overrides MarketFeePercent for taker fills.
	TakerFeePercent *uint16
	MaxMarketFee    int64
	// RewardPercent is the share of the issuer fee paid out to the
	// registrar/referrer pair, in Percent100 units.
	RewardPercent uint16
	// WhitelistMarketFeeSharing restricts fee rewards to the listed
	// registrars. Empty means every registrar is eligible.
	WhitelistMarketFeeSharing []AccountID
	Flags                     AssetFlags
	Permissions               AssetPermissions
}

// Asset is an issued asset, possibly bitasset-backed. Dynamic supply and fee
// pools are kept inline; the DB owns the record.
type Asset struct {
	ID        AssetID
	Symbol    string
	Issuer    AccountID
	Precision uint8
	Options   AssetOptions

	// Bitasset is non-nil exactly when the asset is a bitasset.
	Bitasset *BitassetData

	CurrentSupply   int64
	AccumulatedFees int64
	// AccumulatedCollateralFees collects margin-call and force-settle fees,
	// denominated in the backing asset.
	AccumulatedCollateralFees int64
}

// IsBitasset reports whether the asset's supply is collateral backed.
func (a *Asset) IsBitasset() bool { return a.Bitasset != nil }

// Amount wraps a raw amount with this asset's id.
func (a *Asset) Amount(v int64) AssetAmount { return AssetAmount{Amount: v, Asset: a.ID} }

// BlackSwanResponse selects how an undercollateralized position is unwound.
type BlackSwanResponse uint8

const (
	BSRMGlobalSettlement BlackSwanResponse = iota
	BSRMNoSettlement
	BSRMIndividualSettlementToFund
)

func (m BlackSwanResponse) String() string {
	switch m {
	case BSRMGlobalSettlement:
		return "global_settlement"
	case BSRMNoSettlement:
		return "no_settlement"
	case BSRMIndividualSettlementToFund:
		return "individual_settlement_to_fund"
	default:
		return "unknown"
	}
}

// BitassetOptions is the owner-configurable part of a bitasset.
type BitassetOptions struct {
	FeedLifetime                 time.Duration
	MinimumFeeds                 uint8
	ForceSettlementDelay         time.Duration
	ForceSettlementOffsetPercent uint16
	// MaximumForceSettlementVolume caps settlements per volume window, in
	// Percent100 units of current supply.
	MaximumForceSettlementVolume uint16
	BackingAsset                 AssetID

	// MarginCallFeeRatio, when set, skims the difference between the
	// margin-call pays price and the match price as an issuer fee
	// (CollateralRatioDenom units).
	MarginCallFeeRatio *uint16
	// ForceSettleFeePercent, when set, charges a fee on force-settled
	// collateral (Percent100 units).
	ForceSettleFeePercent *uint16
	// InitialCollateralRatio, when set, overrides the feed's maintenance
	// ratio for opening positions and for post-switch revival checks.
	InitialCollateralRatio *uint16
	BlackSwanResponseMethod BlackSwanResponse
}

// TimestampedFeed is one producer's published feed.
type TimestampedFeed struct {
	Time time.Time
	Feed PriceFeed
}

// BitassetData is the bitasset-specific state attached to an asset.
type BitassetData struct {
	AssetID AssetID
	Options BitassetOptions

	Feeds map[AccountID]TimestampedFeed
	// FeedProducers is the explicit producer whitelist used when the asset
	// is neither witness- nor committee-fed.
	FeedProducers []AccountID

	CurrentFeed     PriceFeed
	CurrentFeedTime time.Time
	MedianFeed      PriceFeed
	// CurrentMaintenanceCollateralization caches the feed price scaled by
	// the maintenance ratio, in collateral/debt terms. Only maintained when
	// the active rule set orders calls by collateralization.
	CurrentMaintenanceCollateralization Price

	IsPredictionMarket bool

	// Global settlement state. SettlementFund > 0 implies SettlementPrice
	// is non-null; cleared on revival.
	SettlementPrice Price
	SettlementFund  int64

	// Individual settlement pool (BSRMIndividualSettlementToFund).
	IndividualSettlementDebt int64
	IndividualSettlementFund int64

	// ForceSettledVolume tracks settlements in the current volume window.
	ForceSettledVolume int64
}

// HasSettlement reports whether the asset is globally settled.
func (b *BitassetData) HasSettlement() bool { return !b.SettlementPrice.IsNull() }

// HasIndividualSettlement reports whether the individual settlement pool is
// active.
func (b *BitassetData) HasIndividualSettlement() bool { return b.IndividualSettlementDebt > 0 }

// HasValidFeed reports whether the current feed carries a usable price.
func (b *BitassetData) HasValidFeed() bool { return !b.CurrentFeed.SettlementPrice.IsNull() }

// MaxForceSettlementVolume returns the settlement volume allowed per window
// for the given current supply.
func (b *BitassetData) MaxForceSettlementVolume(currentSupply int64) int64 {
	if b.Options.MaximumForceSettlementVolume == 0 {
		return 0
	}
	if b.Options.MaximumForceSettlementVolume >= Percent100 {
		return currentSupply
	}
	return mulDivFloor(currentSupply, int64(b.Options.MaximumForceSettlementVolume), Percent100)
}

// PriceFeed is the published feed content: a settlement price quoted in
// debt/collateral plus the ratios derived risk limits use.
type PriceFeed struct {
	SettlementPrice Price `json:"settlement_price"`
	// MaintenanceCollateralRatio in CollateralRatioDenom units.
	MaintenanceCollateralRatio uint16 `json:"maintenance_collateral_ratio"`
	// MaximumShortSqueezeRatio in CollateralRatioDenom units.
	MaximumShortSqueezeRatio uint16 `json:"maximum_short_squeeze_ratio"`
}

// MaxShortSqueezePrice is the worst price a margin call may pay,
// settlement_price / (MSSR/1000), in debt/collateral terms.
func (f PriceFeed) MaxShortSqueezePrice() Price {
	return f.SettlementPrice.MulRatio(CollateralRatioDenom, int64(f.MaximumShortSqueezeRatio))
}

// MarginCallOrderPrice is the price a margin call offers to the book:
// settlement_price / ((MSSR-MCFR)/1000). With a zero fee ratio it equals
// MaxShortSqueezePrice; with a fee the book side receives less collateral
// than the call relinquishes and the difference is the margin-call fee.
func (f PriceFeed) MarginCallOrderPrice(marginCallFeeRatio *uint16) Price {
	ratio := int64(f.MaximumShortSqueezeRatio)
	if marginCallFeeRatio != nil {
		ratio -= int64(*marginCallFeeRatio)
	}
	if ratio < 1 {
		ratio = 1
	}
	return f.SettlementPrice.MulRatio(CollateralRatioDenom, ratio)
}

// MaintenanceCollateralization is the feed price scaled by the maintenance
// ratio, in collateral/debt terms. A position whose collateralization is at
// or above it is feed protected.
func (f PriceFeed) MaintenanceCollateralization() Price {
	if f.SettlementPrice.IsNull() {
		return Price{}
	}
	return f.SettlementPrice.Invert().MulRatio(int64(f.MaintenanceCollateralRatio), CollateralRatioDenom)
}

// FillRecord is the immutable trade record emitted for every fill. It is a
// pure output: history and notification fan-out consume it, the engine never
// reads it back.
type FillRecord struct {
	OrderID   ObjectID
	Account   AccountID
	Pays      AssetAmount
	Receives  AssetAmount
	Fee       AssetAmount
	FillPrice Price
	IsMaker   bool
}

// RemovalKind tags an object-removal event.
type RemovalKind uint8

const (
	RemovedLimitOrder RemovalKind = iota
	RemovedCallOrder
	RemovedSettlement
	RemovedCollateralBid
)

// RemovalRecord is emitted whenever an order-like object leaves the ledger.
type RemovalRecord struct {
	Kind    RemovalKind
	ID      ObjectID
	Account AccountID
}
