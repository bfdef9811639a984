// Package fees computes every fee a fill can incur: market fees with their
// network and referral splits, force-settlement fees, and margin-call fees.
// All splits round down; dust stays with the asset's accumulated fee pool.
package fees

import (
	"math/big"

	"BitLedger/internal/chain"
	"BitLedger/internal/rules"
)

// Engine applies fee policy against the ledger. It mutates only fee pools,
// vesting balances and nothing else.
type Engine struct {
	db *chain.DB
}

// NewEngine creates a fee engine over the ledger.
func NewEngine(db *chain.DB) *Engine {
	return &Engine{db: db}
}

// CalculatePercent returns floor(amount * percent / 100%) using a 128-bit
// intermediate.
func CalculatePercent(amount int64, percent uint16) int64 {
	if amount == 0 || percent == 0 {
		return 0
	}
	r := new(big.Int).Mul(big.NewInt(amount), big.NewInt(int64(percent)))
	r.Quo(r, big.NewInt(chain.Percent100))
	return r.Int64()
}

// CalculateMarketFee computes the market fee on a trade receipt. Zero when
// the asset charges no market fees or the side's percent is explicitly zero;
// otherwise floored and capped by the asset's maximum fee.
func (e *Engine) CalculateMarketFee(asset *chain.Asset, amount int64, isMaker bool) int64 {
	if !asset.Options.Flags.ChargesMarketFees {
		return 0
	}
	percent := asset.Options.MarketFeePercent
	if !isMaker && asset.Options.TakerFeePercent != nil {
		percent = *asset.Options.TakerFeePercent
	}
	if percent == 0 {
		return 0
	}
	fee := CalculatePercent(amount, percent)
	if asset.Options.MaxMarketFee > 0 && fee > asset.Options.MaxMarketFee {
		fee = asset.Options.MaxMarketFee
	}
	return fee
}

// PayMarketFees charges the market fee on receives, splits out the network
// share and the registrar/referrer reward, and credits what is left to the
// asset's accumulated fees. It returns the total fee charged; the caller
// deducts it from the trader's receipt. payer may be nil (virtual fills
// such as global settlement), which skips the reward path.
func (e *Engine) PayMarketFees(payer *chain.Account, asset *chain.Asset, receives chain.AssetAmount, isMaker bool, rs rules.RuleSet) chain.AssetAmount {
	fee := e.CalculateMarketFee(asset, receives.Amount, isMaker)
	out := chain.AssetAmount{Amount: fee, Asset: receives.Asset}
	if fee == 0 {
		return out
	}
	if fee > receives.Amount {
		panic("FATAL: market fee exceeds trade receipt")
	}

	issuerFee := fee

	// Network share first, deposited as a protocol vesting balance.
	if np := e.db.MarketFeeNetworkPercent; np > 0 {
		networkCut := CalculatePercent(issuerFee, np)
		if networkCut > 0 {
			e.db.DepositVesting(chain.NetworkAccount, chain.AssetAmount{Amount: networkCut, Asset: receives.Asset})
			issuerFee -= networkCut
		}
	}

	// Referral reward out of the remaining issuer fee.
	reward := int64(0)
	if payer != nil && e.rewardAllowed(payer, asset) && asset.Options.RewardPercent > 0 {
		reward = CalculatePercent(issuerFee, asset.Options.RewardPercent)
		if rs.RewardCapInclusive {
			if reward > issuerFee {
				reward = issuerFee
			}
		} else if reward >= issuerFee && issuerFee > 0 {
			reward = issuerFee - 1
		}
		if reward > 0 {
			registrarReward := reward
			if payer.Referrer != payer.Registrar {
				referrerCut := CalculatePercent(reward, payer.ReferrerRewardsPercentage)
				if referrerCut > 0 {
					registrarReward -= referrerCut
					e.db.DepositVesting(payer.Referrer, chain.AssetAmount{Amount: referrerCut, Asset: receives.Asset})
				}
			}
			if registrarReward > 0 {
				e.db.DepositVesting(payer.Registrar, chain.AssetAmount{Amount: registrarReward, Asset: receives.Asset})
			}
			issuerFee -= reward
		}
	}

	asset.AccumulatedFees += issuerFee
	return out
}

// rewardAllowed checks the asset's fee-sharing whitelist against the
// payer's registrar. An empty whitelist allows every registrar.
func (e *Engine) rewardAllowed(payer *chain.Account, asset *chain.Asset) bool {
	wl := asset.Options.WhitelistMarketFeeSharing
	if len(wl) == 0 {
		return true
	}
	for _, id := range wl {
		if id == payer.Registrar {
			return true
		}
	}
	return false
}

// PayForceSettleFees charges the configured force-settle fee on settled
// collateral, accumulating it into the bitasset's collateral fee pool.
// Returns the fee amount (zero when no percent is configured).
func (e *Engine) PayForceSettleFees(bitassetAsset *chain.Asset, collateral chain.AssetAmount) chain.AssetAmount {
	out := chain.AssetAmount{Amount: 0, Asset: collateral.Asset}
	ba := bitassetAsset.Bitasset
	if ba == nil || ba.Options.ForceSettleFeePercent == nil || *ba.Options.ForceSettleFeePercent == 0 {
		return out
	}
	fee := CalculatePercent(collateral.Amount, *ba.Options.ForceSettleFeePercent)
	if fee > 0 {
		bitassetAsset.AccumulatedCollateralFees += fee
		out.Amount = fee
	}
	return out
}

// PayMarginCallFee accumulates a margin-call fee — the collateral the call
// relinquished beyond what the matched order received — into the debt
// asset's collateral fee pool. Never distributed as a reward.
func (e *Engine) PayMarginCallFee(debtAsset *chain.Asset, fee chain.AssetAmount) {
	if fee.Amount < 0 {
		panic("FATAL: negative margin call fee")
	}
	if fee.Amount > 0 {
		debtAsset.AccumulatedCollateralFees += fee.Amount
	}
}
