// Package op defines the ledger operations and the evaluators that validate
// and apply them. Every operation goes through a validation pass that cannot
// mutate state followed by an apply pass; a rejected operation leaves the
// ledger untouched.
package op

import (
	"time"

	"BitLedger/internal/chain"
)

// Kind identifies an operation type.
type Kind uint8

const (
	KindLimitOrderCreate Kind = iota
	KindLimitOrderCancel
	KindCallOrderUpdate
	KindAssetPublishFeed
	KindAssetUpdateFeedProducers
	KindAssetUpdateBitasset
	KindAssetGlobalSettle
	KindAssetSettle
	KindBidCollateral
)

func (k Kind) String() string {
	switch k {
	case KindLimitOrderCreate:
		return "limit_order_create"
	case KindLimitOrderCancel:
		return "limit_order_cancel"
	case KindCallOrderUpdate:
		return "call_order_update"
	case KindAssetPublishFeed:
		return "asset_publish_feed"
	case KindAssetUpdateFeedProducers:
		return "asset_update_feed_producers"
	case KindAssetUpdateBitasset:
		return "asset_update_bitasset"
	case KindAssetGlobalSettle:
		return "asset_global_settle"
	case KindAssetSettle:
		return "asset_settle"
	case KindBidCollateral:
		return "bid_collateral"
	default:
		return "unknown"
	}
}

// Operation is one ledger mutation request.
type Operation interface {
	Kind() Kind
}

// LimitOrderCreate places an offer to sell AmountToSell for at least
// MinToReceive. Fee is the creation fee, deferred: earned by the network on
// the first fill, refunded on an unfilled cancel.
type LimitOrderCreate struct {
	Seller       chain.AccountID   `json:"seller"`
	AmountToSell chain.AssetAmount `json:"amount_to_sell"`
	MinToReceive chain.AssetAmount `json:"min_to_receive"`
	Expiration   time.Time         `json:"expiration,omitempty"`
	Fee          chain.AssetAmount `json:"fee"`
}

func (LimitOrderCreate) Kind() Kind { return KindLimitOrderCreate }

// LimitOrderCancel cancels the account's own open order, refunding the
// remainder and the deferred fee.
type LimitOrderCancel struct {
	Account chain.AccountID `json:"account"`
	OrderID chain.ObjectID  `json:"order_id"`
}

func (LimitOrderCancel) Kind() Kind { return KindLimitOrderCancel }

// CallOrderUpdate opens, adjusts, or closes the account's margin position in
// DeltaDebt.Asset. Positive deltas add collateral or borrow more debt;
// negative deltas withdraw collateral or repay.
type CallOrderUpdate struct {
	Borrower        chain.AccountID   `json:"borrower"`
	DeltaCollateral chain.AssetAmount `json:"delta_collateral"`
	DeltaDebt       chain.AssetAmount `json:"delta_debt"`
	// TargetCollateralRatio, when set, is stored on the position and caps
	// future margin calls (CollateralRatioDenom units).
	TargetCollateralRatio *uint16 `json:"target_collateral_ratio,omitempty"`
}

func (CallOrderUpdate) Kind() Kind { return KindCallOrderUpdate }

// AssetPublishFeed records one producer's price feed for a bitasset.
type AssetPublishFeed struct {
	Publisher chain.AccountID `json:"publisher"`
	Asset     chain.AssetID   `json:"asset"`
	Feed      chain.PriceFeed `json:"feed"`
}

func (AssetPublishFeed) Kind() Kind { return KindAssetPublishFeed }

// AssetUpdateFeedProducers replaces a bitasset's feed producer whitelist.
// Feeds of removed producers are dropped immediately.
type AssetUpdateFeedProducers struct {
	Issuer    chain.AccountID   `json:"issuer"`
	Asset     chain.AssetID     `json:"asset"`
	Producers []chain.AccountID `json:"producers"`
}

func (AssetUpdateFeedProducers) Kind() Kind { return KindAssetUpdateFeedProducers }

// AssetUpdateBitasset replaces a bitasset's options.
type AssetUpdateBitasset struct {
	Issuer     chain.AccountID       `json:"issuer"`
	Asset      chain.AssetID         `json:"asset"`
	NewOptions chain.BitassetOptions `json:"new_options"`
}

func (AssetUpdateBitasset) Kind() Kind { return KindAssetUpdateBitasset }

// AssetGlobalSettle force-settles every margin position of a bitasset at
// SettlePrice (debt/collateral). Requires the asset's global-settle
// permission.
type AssetGlobalSettle struct {
	Issuer      chain.AccountID `json:"issuer"`
	Asset       chain.AssetID   `json:"asset"`
	SettlePrice chain.Price     `json:"settle_price"`
}

func (AssetGlobalSettle) Kind() Kind { return KindAssetGlobalSettle }

// AssetSettle redeems Amount of a bitasset for collateral: instantly against
// a settlement fund or pool when one exists, otherwise queued against margin
// positions after the settlement delay.
type AssetSettle struct {
	Account chain.AccountID   `json:"account"`
	Amount  chain.AssetAmount `json:"amount"`
}

func (AssetSettle) Kind() Kind { return KindAssetSettle }

// BidCollateral places (or with a zero DebtCovered cancels) a bid to take
// over part of a globally settled asset's debt. A new bid replaces the
// bidder's standing one.
type BidCollateral struct {
	Bidder               chain.AccountID   `json:"bidder"`
	AdditionalCollateral chain.AssetAmount `json:"additional_collateral"`
	DebtCovered          chain.AssetAmount `json:"debt_covered"`
}

func (BidCollateral) Kind() Kind { return KindBidCollateral }
