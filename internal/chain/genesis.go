package chain

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Genesis is the JSON bootstrap state: the accounts, assets, and balances
// the ledger starts from. Ids are assigned in file order, so every node
// loading the same file derives the same object ids.
type Genesis struct {
	Time     time.Time        `json:"time"`
	Accounts []GenesisAccount `json:"accounts"`
	Assets   []GenesisAsset   `json:"assets"`
	Balances []GenesisBalance `json:"balances"`
	// MarketFeeNetworkPercent is the network's cut of market fees, in
	// Percent100 units.
	MarketFeeNetworkPercent uint16 `json:"market_fee_network_percent"`
}

type GenesisAccount struct {
	Name                      string    `json:"name"`
	Registrar                 AccountID `json:"registrar"`
	Referrer                  AccountID `json:"referrer"`
	ReferrerRewardsPercentage uint16    `json:"referrer_rewards_percentage"`
}

type GenesisAsset struct {
	Symbol    string          `json:"symbol"`
	Issuer    AccountID       `json:"issuer"`
	Precision uint8           `json:"precision"`
	MaxSupply int64           `json:"max_supply"`
	Options   GenesisOptions  `json:"options"`
	Bitasset  *GenesisBitasset `json:"bitasset,omitempty"`
}

type GenesisOptions struct {
	MarketFeePercent uint16  `json:"market_fee_percent"`
	TakerFeePercent  *uint16 `json:"taker_fee_percent,omitempty"`
	MaxMarketFee     int64   `json:"max_market_fee"`
	RewardPercent    uint16  `json:"reward_percent"`
	ChargesMarketFees  bool  `json:"charges_market_fees"`
	DisableForceSettle bool  `json:"disable_force_settle"`
	WitnessFed         bool  `json:"witness_fed"`
	CommitteeFed       bool  `json:"committee_fed"`
	AllowGlobalSettle  bool  `json:"allow_global_settle"`
	AllowRiskUpdate    bool  `json:"allow_risk_update"`
}

type GenesisBitasset struct {
	BackingAsset                 AssetID   `json:"backing_asset"`
	FeedLifetimeSec              int64     `json:"feed_lifetime_sec"`
	MinimumFeeds                 uint8     `json:"minimum_feeds"`
	ForceSettlementDelaySec      int64     `json:"force_settlement_delay_sec"`
	ForceSettlementOffsetPercent uint16    `json:"force_settlement_offset_percent"`
	MaximumForceSettlementVolume uint16    `json:"maximum_force_settlement_volume"`
	FeedProducers                []AccountID `json:"feed_producers,omitempty"`
	IsPredictionMarket           bool      `json:"is_prediction_market"`
}

type GenesisBalance struct {
	Account AccountID `json:"account"`
	Asset   AssetID   `json:"asset"`
	Amount  int64     `json:"amount"`
}

// LoadGenesis reads and decodes a genesis file.
func LoadGenesis(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis: %w", err)
	}
	var g Genesis
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parse genesis: %w", err)
	}
	return &g, nil
}

// Apply seeds a fresh DB from the genesis state. Must be called on an empty
// ledger; credits here bypass supply accounting because genesis balances are
// the initial supply.
func (g *Genesis) Apply(db *DB) error {
	db.SetTime(g.Time)
	db.MarketFeeNetworkPercent = g.MarketFeeNetworkPercent

	for _, ga := range g.Accounts {
		db.CreateAccount(ga.Name, ga.Registrar, ga.Referrer, ga.ReferrerRewardsPercentage)
	}

	for _, as := range g.Assets {
		opts := AssetOptions{
			MaxSupply:        as.MaxSupply,
			MarketFeePercent: as.Options.MarketFeePercent,
			TakerFeePercent:  as.Options.TakerFeePercent,
			MaxMarketFee:     as.Options.MaxMarketFee,
			RewardPercent:    as.Options.RewardPercent,
			Flags: AssetFlags{
				ChargesMarketFees:  as.Options.ChargesMarketFees,
				DisableForceSettle: as.Options.DisableForceSettle,
				WitnessFedAsset:    as.Options.WitnessFed,
				CommitteeFedAsset:  as.Options.CommitteeFed,
			},
			Permissions: AssetPermissions{
				GlobalSettle:     as.Options.AllowGlobalSettle,
				UpdateRiskParams: as.Options.AllowRiskUpdate,
			},
		}
		var ba *BitassetData
		if as.Bitasset != nil {
			gb := as.Bitasset
			ba = &BitassetData{
				Options: BitassetOptions{
					FeedLifetime:                 time.Duration(gb.FeedLifetimeSec) * time.Second,
					MinimumFeeds:                 gb.MinimumFeeds,
					ForceSettlementDelay:         time.Duration(gb.ForceSettlementDelaySec) * time.Second,
					ForceSettlementOffsetPercent: gb.ForceSettlementOffsetPercent,
					MaximumForceSettlementVolume: gb.MaximumForceSettlementVolume,
					BackingAsset:                 gb.BackingAsset,
				},
				FeedProducers:      gb.FeedProducers,
				IsPredictionMarket: gb.IsPredictionMarket,
				Feeds:              make(map[AccountID]TimestampedFeed),
			}
		}
		db.CreateAsset(as.Symbol, as.Issuer, as.Precision, opts, ba)
	}

	for _, gb := range g.Balances {
		asset, ok := db.Asset(gb.Asset)
		if !ok {
			return fmt.Errorf("genesis balance references unknown asset %d", gb.Asset)
		}
		if _, ok := db.Account(gb.Account); !ok {
			return fmt.Errorf("genesis balance references unknown account %d", gb.Account)
		}
		if err := db.AdjustBalance(gb.Account, AssetAmount{Amount: gb.Amount, Asset: gb.Asset}); err != nil {
			return err
		}
		asset.CurrentSupply += gb.Amount
	}
	return nil
}
