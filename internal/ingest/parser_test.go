package ingest_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"BitLedger/internal/chain"
	"BitLedger/internal/ingest"
	"BitLedger/internal/op"
)

func rawOp(data string) ingest.RawOp {
	return ingest.RawOp{Subject: "ops.test", Data: []byte(data)}
}

func envelope(opType, payload string) ingest.RawOp {
	return rawOp(`{
		"op_id": "a3bb189e-8bf9-3888-9912-ace4e6543002",
		"type": "` + opType + `",
		"timestamp_us": 1,
		"payload": ` + payload + `
	}`)
}

// ============================================================================
// Test: envelope decoding
// ============================================================================

func TestParseRawOp_Envelope(t *testing.T) {
	raw := rawOp(`{
		"op_id": "a3bb189e-8bf9-3888-9912-ace4e6543002",
		"type": "asset_settle",
		"timestamp_us": 1767225600000000,
		"payload": {"account": 7, "amount": {"amount": 100, "asset": 3}}
	}`)

	parsed, err := ingest.ParseRawOp(raw)
	require.NoError(t, err)
	require.Equal(t, "a3bb189e-8bf9-3888-9912-ace4e6543002", parsed.OpID.String())
	require.True(t, parsed.Timestamp.Equal(time.UnixMicro(1767225600000000)))
	require.Equal(t, &op.AssetSettle{
		Account: 7,
		Amount:  chain.AssetAmount{Amount: 100, Asset: 3},
	}, parsed.Operation)
}

func TestParseRawOp_Errors(t *testing.T) {
	cases := []struct {
		name    string
		raw     ingest.RawOp
		wantErr string
	}{
		{"malformed json", rawOp(`{`), "parse envelope"},
		{"bad uuid", rawOp(`{"op_id": "not-a-uuid", "type": "asset_settle", "payload": {}}`), "parse op_id"},
		{"unknown type", envelope("transfer", `{}`), "unknown operation type"},
		{"bad payload", envelope("asset_settle", `{"amount": "oops"}`), "parse asset_settle"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ingest.ParseRawOp(tc.raw)
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}

// ============================================================================
// Test: per-type payload decoding
// ============================================================================

func TestParseRawOp_PayloadTypes(t *testing.T) {
	tcr := uint16(1800)
	cases := []struct {
		opType  string
		payload string
		want    op.Operation
	}{
		{
			"limit_order_cancel",
			`{"account": 5, "order_id": 42}`,
			&op.LimitOrderCancel{Account: 5, OrderID: 42},
		},
		{
			"call_order_update",
			`{"borrower": 5, "delta_collateral": {"amount": 9000, "asset": 0}, "delta_debt": {"amount": 1000, "asset": 3}, "target_collateral_ratio": 1800}`,
			&op.CallOrderUpdate{
				Borrower:              5,
				DeltaCollateral:       chain.AssetAmount{Amount: 9000, Asset: 0},
				DeltaDebt:             chain.AssetAmount{Amount: 1000, Asset: 3},
				TargetCollateralRatio: &tcr,
			},
		},
		{
			"asset_publish_feed",
			`{"publisher": 9, "asset": 3, "feed": {
				"settlement_price": {"base": {"amount": 1, "asset": 3}, "quote": {"amount": 5, "asset": 0}},
				"maintenance_collateral_ratio": 1750,
				"maximum_short_squeeze_ratio": 1100
			}}`,
			&op.AssetPublishFeed{
				Publisher: 9,
				Asset:     3,
				Feed: chain.PriceFeed{
					SettlementPrice: chain.Price{
						Base:  chain.AssetAmount{Amount: 1, Asset: 3},
						Quote: chain.AssetAmount{Amount: 5, Asset: 0},
					},
					MaintenanceCollateralRatio: 1750,
					MaximumShortSqueezeRatio:   1100,
				},
			},
		},
		{
			"asset_update_feed_producers",
			`{"issuer": 1, "asset": 3, "producers": [9, 10]}`,
			&op.AssetUpdateFeedProducers{Issuer: 1, Asset: 3, Producers: []chain.AccountID{9, 10}},
		},
		{
			"asset_global_settle",
			`{"issuer": 1, "asset": 3, "settle_price": {"base": {"amount": 2, "asset": 3}, "quote": {"amount": 1, "asset": 0}}}`,
			&op.AssetGlobalSettle{
				Issuer: 1,
				Asset:  3,
				SettlePrice: chain.Price{
					Base:  chain.AssetAmount{Amount: 2, Asset: 3},
					Quote: chain.AssetAmount{Amount: 1, Asset: 0},
				},
			},
		},
		{
			"bid_collateral",
			`{"bidder": 5, "additional_collateral": {"amount": 1000, "asset": 0}, "debt_covered": {"amount": 100, "asset": 3}}`,
			&op.BidCollateral{
				Bidder:               5,
				AdditionalCollateral: chain.AssetAmount{Amount: 1000, Asset: 0},
				DebtCovered:          chain.AssetAmount{Amount: 100, Asset: 3},
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.opType, func(t *testing.T) {
			parsed, err := ingest.ParseRawOp(envelope(tc.opType, tc.payload))
			require.NoError(t, err)
			require.Equal(t, tc.want, parsed.Operation)
		})
	}
}

func TestParseRawOp_LimitOrderCreateExpiration(t *testing.T) {
	parsed, err := ingest.ParseRawOp(envelope("limit_order_create", `{
		"seller": 5,
		"amount_to_sell": {"amount": 1000, "asset": 0},
		"min_to_receive": {"amount": 500, "asset": 3},
		"expiration_us": 1767312000000000,
		"fee": {"amount": 10, "asset": 0}
	}`))
	require.NoError(t, err)
	create := parsed.Operation.(*op.LimitOrderCreate)
	require.True(t, create.Expiration.Equal(time.UnixMicro(1767312000000000)))
	require.Equal(t, int64(10), create.Fee.Amount)

	// Omitted expiration means good-till-cancelled, not the epoch.
	parsed, err = ingest.ParseRawOp(envelope("limit_order_create", `{
		"seller": 5,
		"amount_to_sell": {"amount": 1000, "asset": 0},
		"min_to_receive": {"amount": 500, "asset": 3},
		"fee": {"amount": 0, "asset": 0}
	}`))
	require.NoError(t, err)
	require.True(t, parsed.Operation.(*op.LimitOrderCreate).Expiration.IsZero())
}

func TestParseRawOp_AssetUpdateBitasset(t *testing.T) {
	parsed, err := ingest.ParseRawOp(envelope("asset_update_bitasset", `{
		"issuer": 1,
		"asset": 3,
		"new_options": {
			"feed_lifetime_sec": 86400,
			"minimum_feeds": 3,
			"force_settlement_delay_sec": 3600,
			"force_settlement_offset_percent": 100,
			"maximum_force_settlement_volume": 2000,
			"backing_asset": 0,
			"margin_call_fee_ratio": 50,
			"black_swan_response_method": 2
		}
	}`))
	require.NoError(t, err)

	opts := parsed.Operation.(*op.AssetUpdateBitasset).NewOptions
	require.Equal(t, 24*time.Hour, opts.FeedLifetime)
	require.Equal(t, time.Hour, opts.ForceSettlementDelay)
	require.Equal(t, uint8(3), opts.MinimumFeeds)
	require.Equal(t, uint16(2000), opts.MaximumForceSettlementVolume)
	require.NotNil(t, opts.MarginCallFeeRatio)
	require.Equal(t, uint16(50), *opts.MarginCallFeeRatio)
	require.Equal(t, chain.BSRMIndividualSettlementToFund, opts.BlackSwanResponseMethod)
}

func TestParseRawOp_BadBlackSwanResponseMethod(t *testing.T) {
	_, err := ingest.ParseRawOp(envelope("asset_update_bitasset", `{
		"issuer": 1,
		"asset": 3,
		"new_options": {"backing_asset": 0, "black_swan_response_method": 3}
	}`))
	require.ErrorContains(t, err, "black_swan_response_method")
}
