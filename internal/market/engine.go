// Package market implements the matching and settlement engine: limit and
// margin-call matching, the margin-call scanner, global and individual
// settlement, and the collateral-bid auction. Fill routines are the only
// places balances are mutated; everything observable leaves through emitted
// fill and removal records.
package market

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"BitLedger/internal/chain"
	"BitLedger/internal/fees"
	"BitLedger/internal/rules"
)

// Match results. Bit 0 set means the taker was fully consumed, bit 1 the
// maker. Zero is possible only when a target collateral ratio stops a
// margin call early.
const (
	TakerFilled = 1
	MakerFilled = 2
)

// ErrBlackSwanNotAllowed reports that a black swan was detected in a context
// whose caller did not permit the transition; the enclosing operation is
// rejected without mutation.
var ErrBlackSwanNotAllowed = errors.New("black swan detected but not permitted in this context")

// Engine drives all order matching and settlement against the ledger. It is
// single-threaded like the rest of the evaluation pipeline; emitted events
// are buffered and drained by the caller after the mutating call returns.
type Engine struct {
	db   *chain.DB
	fees *fees.Engine
	log  zerolog.Logger

	fills    []chain.FillRecord
	removals []chain.RemovalRecord
}

// NewEngine creates an engine over the ledger.
func NewEngine(db *chain.DB, feeEngine *fees.Engine, log zerolog.Logger) *Engine {
	return &Engine{db: db, fees: feeEngine, log: log}
}

// DB exposes the underlying ledger, mainly for evaluators and tests.
func (e *Engine) DB() *chain.DB { return e.db }

// DrainEvents returns and clears the buffered fill and removal records.
// Called after each operation fully applies; the notification collaborator
// dispatches them asynchronously.
func (e *Engine) DrainEvents() ([]chain.FillRecord, []chain.RemovalRecord) {
	fills, removals := e.fills, e.removals
	e.fills = nil
	e.removals = nil
	return fills, removals
}

func (e *Engine) emitFill(rec chain.FillRecord) {
	e.fills = append(e.fills, rec)
}

func (e *Engine) emitRemoval(kind chain.RemovalKind, id chain.ObjectID, account chain.AccountID) {
	e.removals = append(e.removals, chain.RemovalRecord{Kind: kind, ID: id, Account: account})
}

func (e *Engine) account(id chain.AccountID) *chain.Account {
	a, ok := e.db.Account(id)
	if !ok {
		panic(fmt.Sprintf("FATAL: dangling account id %d", id))
	}
	return a
}

func (e *Engine) mustCredit(account chain.AccountID, amount chain.AssetAmount) {
	if amount.Amount < 0 {
		panic(fmt.Sprintf("FATAL: negative credit %d of asset %d", amount.Amount, amount.Asset))
	}
	if err := e.db.AdjustBalance(account, amount); err != nil {
		panic(fmt.Sprintf("FATAL: credit failed: %v", err))
	}
}

// Credit adds to an account balance. Evaluators use it for refund paths that
// must not fail; an impossible failure panics.
func (e *Engine) Credit(account chain.AccountID, amount chain.AssetAmount) {
	e.mustCredit(account, amount)
}

// ApplyOrder inserts a new limit order and runs the taker matching loop:
// first against the opposing book at maker prices, then — when the sold
// asset is a bitasset — against any margin calls it can feed. Returns
// whether the order was completely consumed.
func (e *Engine) ApplyOrder(order *chain.LimitOrder, rs rules.RuleSet) (bool, error) {
	e.db.InsertLimitOrder(order)
	orderID := order.ID

	for {
		if _, live := e.db.LimitOrder(orderID); !live {
			break
		}
		maker := e.db.BestLimitOrder(order.ReceiveAsset(), order.SellAsset())
		if maker == nil {
			break
		}
		// Overlap: the maker must offer at least the rate the taker demands.
		if order.SellPrice.Less(maker.SellPrice.Invert()) {
			break
		}
		res := e.MatchLimitLimit(order, maker, maker.SellPrice, rs)
		if res&TakerFilled != 0 || res == 0 {
			break
		}
	}

	// A new order selling the debt asset may satisfy standing margin calls.
	if sellAsset := e.db.MustAsset(order.SellAsset()); sellAsset.IsBitasset() {
		if _, err := e.CheckCallOrders(sellAsset, true, true, rs); err != nil {
			return false, err
		}
	}
	if recvAsset := e.db.MustAsset(order.ReceiveAsset()); recvAsset.IsBitasset() {
		if _, err := e.CheckCallOrders(recvAsset, true, false, rs); err != nil {
			return false, err
		}
	}

	_, live := e.db.LimitOrder(orderID)
	return !live, nil
}

// CancelLimitOrder removes an order, refunding the unsold remainder and any
// unearned deferred fee.
func (e *Engine) CancelLimitOrder(order *chain.LimitOrder, refundFee bool) {
	e.mustCredit(order.Seller, order.AmountForSale())
	if refundFee {
		if order.DeferredFee > 0 {
			e.mustCredit(order.Seller, chain.AssetAmount{Amount: order.DeferredFee, Asset: chain.CoreAsset})
		}
		if order.DeferredPaidFee.Amount > 0 {
			e.mustCredit(order.Seller, order.DeferredPaidFee)
		}
	}
	e.db.RemoveLimitOrder(order)
	e.emitRemoval(chain.RemovedLimitOrder, order.ID, order.Seller)
}

// CancelSettlement removes a pending force settlement, refunding its
// remaining balance.
func (e *Engine) CancelSettlement(s *chain.ForceSettlement) {
	e.mustCredit(s.Owner, s.Balance)
	e.db.RemoveSettlement(s)
	e.emitRemoval(chain.RemovedSettlement, s.ID, s.Owner)
}

// CancelBid removes a collateral bid, refunding the bidder's locked
// collateral.
func (e *Engine) CancelBid(b *chain.CollateralBid) {
	e.mustCredit(b.Bidder, b.AdditionalCollateral())
	e.db.RemoveBid(b)
	e.emitRemoval(chain.RemovedCollateralBid, b.ID, b.Bidder)
}

// ProcessExpiredOrders cancels every limit order whose expiration has
// passed, refunding remainder and deferred fees.
func (e *Engine) ProcessExpiredOrders() {
	for _, o := range e.db.ExpiredLimitOrders(e.db.Now()) {
		e.log.Debug().Int64("order", int64(o.ID)).Msg("limit order expired")
		e.CancelLimitOrder(o, true)
	}
}
