package op

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"BitLedger/internal/chain"
	"BitLedger/internal/market"
	"BitLedger/internal/observability"
	"BitLedger/internal/rules"
)

// ErrRejected is the base of every validation rejection. The ledger is
// untouched when an operation fails with it.
var ErrRejected = errors.New("operation rejected")

func rejectf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrRejected, fmt.Sprintf(format, args...))
}

// Result carries everything an applied operation emitted.
type Result struct {
	Fills    []chain.FillRecord
	Removals []chain.RemovalRecord
}

// Applier is the single-threaded operation processor: it resolves the rule
// set for the current ledger time, validates the operation, applies it
// through the matching engine, and drains the emitted events.
type Applier struct {
	db       *chain.DB
	engine   *market.Engine
	schedule rules.Schedule
	log      zerolog.Logger
	metrics  *observability.Metrics
}

// NewApplier wires an applier over the ledger and engine. metrics may be nil.
func NewApplier(db *chain.DB, engine *market.Engine, schedule rules.Schedule,
	log zerolog.Logger, metrics *observability.Metrics) *Applier {
	return &Applier{db: db, engine: engine, schedule: schedule, log: log, metrics: metrics}
}

// DB exposes the ledger, mainly for servers and tests.
func (a *Applier) DB() *chain.DB { return a.db }

// Engine exposes the matching engine.
func (a *Applier) Engine() *market.Engine { return a.engine }

// SetTime advances the ledger clock. Operations applied afterwards resolve
// their rule set at the new time.
func (a *Applier) SetTime(t time.Time) { a.db.SetTime(t) }

// Apply validates and applies one operation. On rejection the ledger is
// unchanged and the error wraps ErrRejected.
func (a *Applier) Apply(operation Operation) (*Result, error) {
	start := time.Now()
	kind := operation.Kind().String()
	rs := a.schedule.Resolve(a.db.Now())

	var err error
	switch v := operation.(type) {
	case *LimitOrderCreate:
		err = a.applyLimitOrderCreate(v, rs)
	case *LimitOrderCancel:
		err = a.applyLimitOrderCancel(v, rs)
	case *CallOrderUpdate:
		err = a.applyCallOrderUpdate(v, rs)
	case *AssetPublishFeed:
		err = a.applyAssetPublishFeed(v, rs)
	case *AssetUpdateFeedProducers:
		err = a.applyAssetUpdateFeedProducers(v, rs)
	case *AssetUpdateBitasset:
		err = a.applyAssetUpdateBitasset(v, rs)
	case *AssetGlobalSettle:
		err = a.applyAssetGlobalSettle(v, rs)
	case *AssetSettle:
		err = a.applyAssetSettle(v, rs)
	case *BidCollateral:
		err = a.applyBidCollateral(v, rs)
	default:
		err = rejectf("unknown operation type %T", operation)
	}

	fills, removals := a.engine.DrainEvents()
	res := &Result{Fills: fills, Removals: removals}

	if err != nil {
		if a.metrics != nil {
			a.metrics.OpsRejected.WithLabelValues(kind).Inc()
		}
		a.log.Debug().Str("op", kind).Err(err).Msg("operation rejected")
		return res, err
	}
	if a.metrics != nil {
		a.metrics.OpsApplied.WithLabelValues(kind).Inc()
		a.metrics.OpApplyDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
		a.metrics.FillsEmitted.Add(float64(len(fills)))
		a.metrics.RemovalsEmitted.Add(float64(len(removals)))
	}
	return res, nil
}

// RunMaintenance executes the per-window housekeeping at the current ledger
// time and returns the emitted events.
func (a *Applier) RunMaintenance() (*Result, error) {
	rs := a.schedule.Resolve(a.db.Now())
	err := a.engine.OnMaintenance(rs)
	fills, removals := a.engine.DrainEvents()
	if a.metrics != nil {
		a.metrics.FillsEmitted.Add(float64(len(fills)))
		a.metrics.RemovalsEmitted.Add(float64(len(removals)))
	}
	return &Result{Fills: fills, Removals: removals}, err
}
