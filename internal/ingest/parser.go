package ingest

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"BitLedger/internal/chain"
	"BitLedger/internal/op"
)

// Envelope is the outer wire format every operation subject carries. OpID is
// the producer-assigned idempotency key; Payload is the type-specific body.
type Envelope struct {
	OpID    string          `json:"op_id"`
	Type    string          `json:"type"`
	TimeUs  int64           `json:"timestamp_us"`
	Payload json.RawMessage `json:"payload"`
}

// ParsedOp is a decoded operation ready for the applier.
type ParsedOp struct {
	OpID      uuid.UUID
	Operation op.Operation
	Timestamp time.Time
}

// ParseRawOp decodes an envelope and its payload into a typed operation.
func ParseRawOp(raw RawOp) (*ParsedOp, error) {
	var env Envelope
	if err := json.Unmarshal(raw.Data, &env); err != nil {
		return nil, fmt.Errorf("parse envelope: %w", err)
	}
	opID, err := uuid.Parse(env.OpID)
	if err != nil {
		return nil, fmt.Errorf("parse op_id: %w", err)
	}
	operation, err := parsePayload(env.Type, env.Payload)
	if err != nil {
		return nil, err
	}
	return &ParsedOp{
		OpID:      opID,
		Operation: operation,
		Timestamp: time.UnixMicro(env.TimeUs),
	}, nil
}

// parsePayload decodes the type-specific body. Most operations' wire form
// matches their struct tags one to one; the exceptions carry durations or
// timestamps that need converting.
func parsePayload(opType string, payload []byte) (op.Operation, error) {
	var target op.Operation
	switch opType {
	case "limit_order_create":
		return parseLimitOrderCreate(payload)
	case "limit_order_cancel":
		target = &op.LimitOrderCancel{}
	case "call_order_update":
		target = &op.CallOrderUpdate{}
	case "asset_publish_feed":
		target = &op.AssetPublishFeed{}
	case "asset_update_feed_producers":
		target = &op.AssetUpdateFeedProducers{}
	case "asset_update_bitasset":
		return parseAssetUpdateBitasset(payload)
	case "asset_global_settle":
		target = &op.AssetGlobalSettle{}
	case "asset_settle":
		target = &op.AssetSettle{}
	case "bid_collateral":
		target = &op.BidCollateral{}
	default:
		return nil, fmt.Errorf("unknown operation type: %s", opType)
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return nil, fmt.Errorf("parse %s: %w", opType, err)
	}
	return target, nil
}

type limitOrderCreateJSON struct {
	Seller       chain.AccountID   `json:"seller"`
	AmountToSell chain.AssetAmount `json:"amount_to_sell"`
	MinToReceive chain.AssetAmount `json:"min_to_receive"`
	ExpirationUs int64             `json:"expiration_us,omitempty"`
	Fee          chain.AssetAmount `json:"fee"`
}

func parseLimitOrderCreate(payload []byte) (op.Operation, error) {
	var j limitOrderCreateJSON
	if err := json.Unmarshal(payload, &j); err != nil {
		return nil, fmt.Errorf("parse limit_order_create: %w", err)
	}
	o := &op.LimitOrderCreate{
		Seller:       j.Seller,
		AmountToSell: j.AmountToSell,
		MinToReceive: j.MinToReceive,
		Fee:          j.Fee,
	}
	if j.ExpirationUs != 0 {
		o.Expiration = time.UnixMicro(j.ExpirationUs)
	}
	return o, nil
}

// bitassetOptionsJSON spells durations in seconds; everything else maps
// straight across.
type bitassetOptionsJSON struct {
	FeedLifetimeSec              int64         `json:"feed_lifetime_sec"`
	MinimumFeeds                 uint8         `json:"minimum_feeds"`
	ForceSettlementDelaySec      int64         `json:"force_settlement_delay_sec"`
	ForceSettlementOffsetPercent uint16        `json:"force_settlement_offset_percent"`
	MaximumForceSettlementVolume uint16        `json:"maximum_force_settlement_volume"`
	BackingAsset                 chain.AssetID `json:"backing_asset"`
	MarginCallFeeRatio           *uint16       `json:"margin_call_fee_ratio,omitempty"`
	ForceSettleFeePercent        *uint16       `json:"force_settle_fee_percent,omitempty"`
	InitialCollateralRatio       *uint16       `json:"initial_collateral_ratio,omitempty"`
	BlackSwanResponseMethod      uint8         `json:"black_swan_response_method"`
}

type assetUpdateBitassetJSON struct {
	Issuer     chain.AccountID     `json:"issuer"`
	Asset      chain.AssetID       `json:"asset"`
	NewOptions bitassetOptionsJSON `json:"new_options"`
}

func parseAssetUpdateBitasset(payload []byte) (op.Operation, error) {
	var j assetUpdateBitassetJSON
	if err := json.Unmarshal(payload, &j); err != nil {
		return nil, fmt.Errorf("parse asset_update_bitasset: %w", err)
	}
	if j.NewOptions.BlackSwanResponseMethod > uint8(chain.BSRMIndividualSettlementToFund) {
		return nil, fmt.Errorf("parse asset_update_bitasset: bad black_swan_response_method %d", j.NewOptions.BlackSwanResponseMethod)
	}
	return &op.AssetUpdateBitasset{
		Issuer: j.Issuer,
		Asset:  j.Asset,
		NewOptions: chain.BitassetOptions{
			FeedLifetime:                 time.Duration(j.NewOptions.FeedLifetimeSec) * time.Second,
			MinimumFeeds:                 j.NewOptions.MinimumFeeds,
			ForceSettlementDelay:         time.Duration(j.NewOptions.ForceSettlementDelaySec) * time.Second,
			ForceSettlementOffsetPercent: j.NewOptions.ForceSettlementOffsetPercent,
			MaximumForceSettlementVolume: j.NewOptions.MaximumForceSettlementVolume,
			BackingAsset:                 j.NewOptions.BackingAsset,
			MarginCallFeeRatio:           j.NewOptions.MarginCallFeeRatio,
			ForceSettleFeePercent:        j.NewOptions.ForceSettleFeePercent,
			InitialCollateralRatio:       j.NewOptions.InitialCollateralRatio,
			BlackSwanResponseMethod:      chain.BlackSwanResponse(j.NewOptions.BlackSwanResponseMethod),
		},
	}, nil
}
