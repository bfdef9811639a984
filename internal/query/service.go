// Package query is the read side: live ledger state served from the
// in-memory object tables plus trade history served from Postgres. Ledger
// reads take the orchestrator's read lock; operation application holds the
// write lock, so responses are always a consistent point-in-time view.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"BitLedger/internal/chain"
)

// Service answers read requests over the ledger and the history tables.
type Service struct {
	mu     *sync.RWMutex
	ledger *chain.DB
	hist   *sql.DB
}

// NewService wires a query service. mu is the lock the orchestrator holds
// for writes; hist may be nil when history queries are not needed (tests).
func NewService(mu *sync.RWMutex, ledger *chain.DB, hist *sql.DB) *Service {
	return &Service{mu: mu, ledger: ledger, hist: hist}
}

// OrderBook returns the book selling sell for receive, best price first,
// capped at limit orders.
func (s *Service) OrderBook(sell, receive chain.AssetID, limit int) *OrderBookResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orders := s.ledger.LimitOrders(sell, receive)
	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	resp := &OrderBookResponse{
		SellAsset:    int64(sell),
		ReceiveAsset: int64(receive),
		Orders:       make([]OrderBookLevel, 0, len(orders)),
	}
	for _, o := range orders {
		resp.Orders = append(resp.Orders, OrderBookLevel{
			OrderID:    int64(o.ID),
			Seller:     int64(o.Seller),
			ForSale:    o.ForSale,
			PriceBase:  o.SellPrice.Base.Amount,
			PriceQuote: o.SellPrice.Quote.Amount,
		})
	}
	return resp
}

// Balance returns an account's balance and vesting reward in an asset.
func (s *Service) Balance(account chain.AccountID, asset chain.AssetID) *BalanceResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return &BalanceResponse{
		Account: int64(account),
		Asset:   int64(asset),
		Balance: s.ledger.Balance(account, asset),
		Vesting: s.ledger.VestingBalance(account, asset),
	}
}

// Positions returns the open margin positions in a debt asset, least
// collateralized first.
func (s *Service) Positions(debt chain.AssetID) []PositionResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	calls := s.ledger.CallOrdersFor(debt)
	out := make([]PositionResponse, 0, len(calls))
	for _, c := range calls {
		cr := c.Collateralization()
		out = append(out, PositionResponse{
			OrderID:                int64(c.ID),
			Borrower:               int64(c.Borrower),
			DebtAsset:              int64(c.DebtAsset),
			Debt:                   c.Debt,
			Collateral:             c.Collateral,
			CollateralizationBase:  cr.Base.Amount,
			CollateralizationQuote: cr.Quote.Amount,
			TargetCollateralRatio:  c.TargetCollateralRatio,
		})
	}
	return out
}

// Bitasset returns the lifecycle state of a bitasset.
func (s *Service) Bitasset(id chain.AssetID) (*BitassetResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	asset, ok := s.ledger.Asset(id)
	if !ok {
		return nil, fmt.Errorf("asset %d does not exist", id)
	}
	if !asset.IsBitasset() {
		return nil, fmt.Errorf("asset %d is not a bitasset", id)
	}
	ba := asset.Bitasset
	resp := &BitassetResponse{
		Asset:              int64(asset.ID),
		Symbol:             asset.Symbol,
		BackingAsset:       int64(ba.Options.BackingAsset),
		CurrentSupply:      asset.CurrentSupply,
		HasValidFeed:       ba.HasValidFeed(),
		GloballySettled:    ba.HasSettlement(),
		IndividualDebt:     ba.IndividualSettlementDebt,
		IndividualFund:     ba.IndividualSettlementFund,
		ForceSettledVolume: ba.ForceSettledVolume,
	}
	if ba.HasValidFeed() {
		resp.FeedPriceBase = ba.CurrentFeed.SettlementPrice.Base.Amount
		resp.FeedPriceQuote = ba.CurrentFeed.SettlementPrice.Quote.Amount
		resp.MaintenanceRatio = ba.CurrentFeed.MaintenanceCollateralRatio
		resp.ShortSqueezeRatio = ba.CurrentFeed.MaximumShortSqueezeRatio
	}
	if ba.HasSettlement() {
		resp.SettlementFund = ba.SettlementFund
		resp.SettlePriceBase = ba.SettlementPrice.Base.Amount
		resp.SettlePriceQuote = ba.SettlementPrice.Quote.Amount
	}
	return resp, nil
}

// Settlements returns the pending force settlements for an asset, oldest
// maturity first.
func (s *Service) Settlements(asset chain.AssetID) []SettlementResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pending := s.ledger.SettlementsFor(asset)
	out := make([]SettlementResponse, 0, len(pending))
	for _, fs := range pending {
		out = append(out, SettlementResponse{
			OrderID:        int64(fs.ID),
			Owner:          int64(fs.Owner),
			Asset:          int64(fs.Balance.Asset),
			Balance:        fs.Balance.Amount,
			SettlementDate: fs.SettlementDate,
		})
	}
	return out
}

// Bids returns the standing collateral bids on a settled asset, best ratio
// first.
func (s *Service) Bids(asset chain.AssetID) []BidResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bids := s.ledger.BidsFor(asset)
	out := make([]BidResponse, 0, len(bids))
	for _, b := range bids {
		out = append(out, BidResponse{
			OrderID:              int64(b.ID),
			Bidder:               int64(b.Bidder),
			AdditionalCollateral: b.AdditionalCollateral().Amount,
			DebtCovered:          b.DebtCovered().Amount,
		})
	}
	return out
}

// FillHistory returns an account's fills from Postgres, newest first, with
// cursor pagination on sequence.
func (s *Service) FillHistory(ctx context.Context, account chain.AccountID, limit int, beforeSequence *int64) ([]FillResponse, error) {
	if s.hist == nil {
		return nil, fmt.Errorf("history store not configured")
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	q := `
		SELECT sequence, order_id, account, pays_amount, pays_asset,
		       receives_amount, receives_asset, fee_amount, fee_asset, is_maker, ts
		FROM history.fills
		WHERE account = $1
	`
	args := []interface{}{int64(account)}
	argIdx := 2
	if beforeSequence != nil {
		q += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}
	q += " ORDER BY sequence DESC, fill_index ASC"
	q += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.hist.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fills []FillResponse
	for rows.Next() {
		var f FillResponse
		if err := rows.Scan(
			&f.Sequence, &f.OrderID, &f.Account, &f.PaysAmount, &f.PaysAsset,
			&f.ReceivesAmount, &f.ReceivesAsset, &f.FeeAmount, &f.FeeAsset,
			&f.IsMaker, &f.Timestamp,
		); err != nil {
			return nil, err
		}
		fills = append(fills, f)
	}
	return fills, rows.Err()
}
