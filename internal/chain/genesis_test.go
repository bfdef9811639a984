package chain_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"BitLedger/internal/chain"
)

const genesisJSON = `{
  "time": "2026-01-01T00:00:00Z",
  "market_fee_network_percent": 2000,
  "accounts": [
    {"name": "issuer", "registrar": 0, "referrer": 0, "referrer_rewards_percentage": 0},
    {"name": "alice", "registrar": 1, "referrer": 1, "referrer_rewards_percentage": 5000}
  ],
  "assets": [
    {
      "symbol": "BITUSD",
      "issuer": 1,
      "precision": 4,
      "max_supply": 1000000000000000,
      "options": {
        "market_fee_percent": 1000,
        "max_market_fee": 100000000,
        "reward_percent": 5000,
        "charges_market_fees": true,
        "allow_global_settle": true,
        "allow_risk_update": true
      },
      "bitasset": {
        "backing_asset": 0,
        "feed_lifetime_sec": 86400,
        "minimum_feeds": 1,
        "force_settlement_delay_sec": 86400,
        "force_settlement_offset_percent": 100,
        "maximum_force_settlement_volume": 2000,
        "feed_producers": [1]
      }
    }
  ],
  "balances": [
    {"account": 2, "asset": 0, "amount": 1000000}
  ]
}`

func writeGenesis(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "genesis.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write genesis: %v", err)
	}
	return path
}

func TestGenesisApply(t *testing.T) {
	g, err := chain.LoadGenesis(writeGenesis(t, genesisJSON))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	db := chain.NewDB()
	if err := g.Apply(db); err != nil {
		t.Fatalf("apply: %v", err)
	}

	want := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if !db.Now().Equal(want) {
		t.Errorf("ledger time: got %v, want %v", db.Now(), want)
	}
	if db.MarketFeeNetworkPercent != 2000 {
		t.Errorf("network percent: got %d, want 2000", db.MarketFeeNetworkPercent)
	}

	// Ids follow file order, after the pre-registered network account and
	// core asset.
	alice, ok := db.Account(2)
	if !ok || alice.Name != "alice" {
		t.Fatalf("account 2: got %+v", alice)
	}
	if alice.Registrar != 1 || alice.ReferrerRewardsPercentage != 5000 {
		t.Errorf("alice referral config: got %+v", alice)
	}

	bitusd, ok := db.Asset(1)
	if !ok || bitusd.Symbol != "BITUSD" {
		t.Fatalf("asset 1: got %+v", bitusd)
	}
	if !bitusd.IsBitasset() {
		t.Fatal("BITUSD should carry bitasset data")
	}
	if bitusd.Bitasset.Options.FeedLifetime != 24*time.Hour {
		t.Errorf("feed lifetime: got %v, want 24h", bitusd.Bitasset.Options.FeedLifetime)
	}
	if !bitusd.Options.Permissions.GlobalSettle || !bitusd.Options.Flags.ChargesMarketFees {
		t.Errorf("options: got %+v", bitusd.Options)
	}

	if got := db.Balance(2, chain.CoreAsset); got != 1_000_000 {
		t.Errorf("alice core: got %d, want 1000000", got)
	}
	core, _ := db.Asset(chain.CoreAsset)
	if core.CurrentSupply != 1_000_000 {
		t.Errorf("core supply: got %d, want 1000000", core.CurrentSupply)
	}
}

func TestGenesisApply_UnknownReferences(t *testing.T) {
	cases := []struct {
		name    string
		balance string
	}{
		{"unknown asset", `{"account": 2, "asset": 9, "amount": 1}`},
		{"unknown account", `{"account": 9, "asset": 0, "amount": 1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g, err := chain.LoadGenesis(writeGenesis(t, `{
				"time": "2026-01-01T00:00:00Z",
				"accounts": [
					{"name": "issuer", "registrar": 0, "referrer": 0},
					{"name": "alice", "registrar": 1, "referrer": 1}
				],
				"assets": [],
				"balances": [`+tc.balance+`]
			}`))
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if err := g.Apply(chain.NewDB()); err == nil {
				t.Fatal("expected a reference error")
			}
		})
	}
}

func TestLoadGenesis_Errors(t *testing.T) {
	if _, err := chain.LoadGenesis(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("missing file should error")
	}
	if _, err := chain.LoadGenesis(writeGenesis(t, `{broken`)); err == nil {
		t.Error("malformed json should error")
	}
}
