package rules_test

import (
	"testing"
	"time"

	"BitLedger/internal/rules"
)

func TestZeroScheduleResolvesToLatest(t *testing.T) {
	var s rules.Schedule
	got := s.Resolve(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	if got != rules.Latest() {
		t.Errorf("zero schedule: got %+v, want %+v", got, rules.Latest())
	}
}

func TestPinnedScheduleSelectsLegacyBeforeTheDate(t *testing.T) {
	cut := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
	s := rules.Schedule{
		RoundUpSmallerSide:     cut,
		CullSmallAlways:        cut,
		CallPriceRetired:       cut,
		RewardCapInclusive:     cut,
		SettleRoundsFavorFund:  cut,
		ReviveUsesInitialRatio: cut,
		MarginCallFeeEnabled:   cut,
		IndividualSettlement:   cut,
	}

	before := s.Resolve(cut.Add(-time.Second))
	if before != rules.Genesis() {
		t.Errorf("before every date: got %+v, want %+v", before, rules.Genesis())
	}

	// The switch flips at the instant itself, not after it.
	at := s.Resolve(cut)
	if at != rules.Latest() {
		t.Errorf("at the date: got %+v, want %+v", at, rules.Latest())
	}
}

func TestSwitchesFlipIndependently(t *testing.T) {
	cut := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
	s := rules.Schedule{CallPriceRetired: cut}

	rs := s.Resolve(cut.Add(-time.Second))
	if !rs.CallPriceCached {
		t.Error("cached call prices should still be in force before retirement")
	}
	if !rs.RoundUpSmallerSide {
		t.Error("an unpinned switch must stay active")
	}

	rs = s.Resolve(cut)
	if rs.CallPriceCached {
		t.Error("cached call prices should be retired at the date")
	}
}
