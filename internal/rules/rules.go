// Package rules enumerates the effective-date behavior switches of the
// matching and settlement engine. Consensus behavior changed several times
// over the chain's history; replaying old blocks must reproduce the old
// behavior exactly, so every variant stays selectable. The switches are
// resolved once per operation from ledger time and threaded explicitly into
// the functions whose behavior they change — never read from globals inside
// the engine.
package rules

import "time"

// RuleSet is the closed set of behavior flags active at a point in ledger
// time.
type RuleSet struct {
	// RoundUpSmallerSide enables the fill-rounding fix: the smaller side of
	// a match recomputes its payment rounded up against itself, instead of
	// both sides rounding down in favor of the bigger order. Prevents an
	// order from paying a positive amount for zero proceeds.
	RoundUpSmallerSide bool

	// CullSmallAlways sweeps dust remainders of every partially filled
	// order, not only when the fill logic requests it.
	CullSmallAlways bool

	// CallPriceCached selects the legacy margin-call scan: positions are
	// picked by their cached call price rather than by live
	// collateralization, and the cache is maintained on every fill.
	CallPriceCached bool

	// RewardCapInclusive allows the fee-sharing reward to equal the whole
	// issuer fee; before the switch the reward had to be strictly smaller.
	RewardCapInclusive bool

	// SettleRoundsFavorFund rounds call-vs-settlement fills in favor of
	// the settlement side; before the switch rounding favored the call.
	SettleRoundsFavorFund bool

	// ReviveUsesInitialRatio checks revival collateralization against the
	// initial collateral ratio instead of the maintenance ratio.
	ReviveUsesInitialRatio bool

	// MarginCallFeeEnabled honors a configured margin-call fee ratio when
	// pricing margin calls.
	MarginCallFeeEnabled bool

	// IndividualSettlement honors the individual-settlement black-swan
	// response methods instead of always settling globally.
	IndividualSettlement bool
}

// Effective dates of each switch. Exposed as variables so a deployment (or a
// test) can pin its own schedule; the zero value of Schedule activates
// everything from genesis.
type Schedule struct {
	RoundUpSmallerSide     time.Time
	CullSmallAlways        time.Time
	CallPriceRetired       time.Time // CallPriceCached is true BEFORE this instant
	RewardCapInclusive     time.Time
	SettleRoundsFavorFund  time.Time
	ReviveUsesInitialRatio time.Time
	MarginCallFeeEnabled   time.Time
	IndividualSettlement   time.Time
}

// Resolve computes the rule set active at the given ledger time.
func (s Schedule) Resolve(at time.Time) RuleSet {
	return RuleSet{
		RoundUpSmallerSide:     !at.Before(s.RoundUpSmallerSide),
		CullSmallAlways:        at.Before(s.CullSmallAlways), // legacy behavior culled unconditionally
		CallPriceCached:        at.Before(s.CallPriceRetired),
		RewardCapInclusive:     !at.Before(s.RewardCapInclusive),
		SettleRoundsFavorFund:  !at.Before(s.SettleRoundsFavorFund),
		ReviveUsesInitialRatio: !at.Before(s.ReviveUsesInitialRatio),
		MarginCallFeeEnabled:   !at.Before(s.MarginCallFeeEnabled),
		IndividualSettlement:   !at.Before(s.IndividualSettlement),
	}
}

// Latest is the rule set with every fix active. New chains start here.
func Latest() RuleSet {
	return RuleSet{
		RoundUpSmallerSide:     true,
		CullSmallAlways:        false,
		CallPriceCached:        false,
		RewardCapInclusive:     true,
		SettleRoundsFavorFund:  true,
		ReviveUsesInitialRatio: true,
		MarginCallFeeEnabled:   true,
		IndividualSettlement:   true,
	}
}

// Genesis is the rule set with every switch in its original state, used when
// replaying the earliest history.
func Genesis() RuleSet {
	return RuleSet{
		CullSmallAlways: true,
		CallPriceCached: true,
	}
}
