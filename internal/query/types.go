package query

import "time"

// OrderBookLevel is one resting order in a book response.
type OrderBookLevel struct {
	OrderID    int64 `json:"order_id"`
	Seller     int64 `json:"seller"`
	ForSale    int64 `json:"for_sale"`
	PriceBase  int64 `json:"price_base"`
	PriceQuote int64 `json:"price_quote"`
}

// OrderBookResponse is one side of a market's book, best price first.
type OrderBookResponse struct {
	SellAsset    int64            `json:"sell_asset"`
	ReceiveAsset int64            `json:"receive_asset"`
	Orders       []OrderBookLevel `json:"orders"`
}

// BalanceResponse is one account's holdings in one asset.
type BalanceResponse struct {
	Account int64 `json:"account"`
	Asset   int64 `json:"asset"`
	Balance int64 `json:"balance"`
	// Vesting is the accumulated market-fee reward balance.
	Vesting int64 `json:"vesting"`
}

// PositionResponse is one open margin position.
type PositionResponse struct {
	OrderID    int64 `json:"order_id"`
	Borrower   int64 `json:"borrower"`
	DebtAsset  int64 `json:"debt_asset"`
	Debt       int64 `json:"debt"`
	Collateral int64 `json:"collateral"`
	// CollateralizationBase/Quote is collateral/debt as an exact ratio.
	CollateralizationBase  int64   `json:"collateralization_base"`
	CollateralizationQuote int64   `json:"collateralization_quote"`
	TargetCollateralRatio  *uint16 `json:"target_collateral_ratio,omitempty"`
}

// BitassetResponse is the lifecycle state of one bitasset.
type BitassetResponse struct {
	Asset              int64  `json:"asset"`
	Symbol             string `json:"symbol"`
	BackingAsset       int64  `json:"backing_asset"`
	CurrentSupply      int64  `json:"current_supply"`
	HasValidFeed       bool   `json:"has_valid_feed"`
	FeedPriceBase      int64  `json:"feed_price_base,omitempty"`
	FeedPriceQuote     int64  `json:"feed_price_quote,omitempty"`
	MaintenanceRatio   uint16 `json:"maintenance_collateral_ratio,omitempty"`
	ShortSqueezeRatio  uint16 `json:"maximum_short_squeeze_ratio,omitempty"`
	GloballySettled    bool   `json:"globally_settled"`
	SettlementFund     int64  `json:"settlement_fund,omitempty"`
	SettlePriceBase    int64  `json:"settlement_price_base,omitempty"`
	SettlePriceQuote   int64  `json:"settlement_price_quote,omitempty"`
	IndividualDebt     int64  `json:"individual_settlement_debt,omitempty"`
	IndividualFund     int64  `json:"individual_settlement_fund,omitempty"`
	ForceSettledVolume int64  `json:"force_settled_volume"`
}

// SettlementResponse is one queued force settlement.
type SettlementResponse struct {
	OrderID        int64     `json:"order_id"`
	Owner          int64     `json:"owner"`
	Asset          int64     `json:"asset"`
	Balance        int64     `json:"balance"`
	SettlementDate time.Time `json:"settlement_date"`
}

// BidResponse is one standing collateral bid.
type BidResponse struct {
	OrderID              int64 `json:"order_id"`
	Bidder               int64 `json:"bidder"`
	AdditionalCollateral int64 `json:"additional_collateral"`
	DebtCovered          int64 `json:"debt_covered"`
}

// FillResponse is one historical fill from Postgres.
type FillResponse struct {
	Sequence       int64     `json:"sequence"`
	OrderID        int64     `json:"order_id"`
	Account        int64     `json:"account"`
	PaysAmount     int64     `json:"pays_amount"`
	PaysAsset      int64     `json:"pays_asset"`
	ReceivesAmount int64     `json:"receives_amount"`
	ReceivesAsset  int64     `json:"receives_asset"`
	FeeAmount      int64     `json:"fee_amount"`
	FeeAsset       int64     `json:"fee_asset"`
	IsMaker        bool      `json:"is_maker"`
	Timestamp      time.Time `json:"timestamp"`
}
