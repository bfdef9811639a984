// Package history persists the engine's fill and removal records to Postgres.
// The in-memory ledger is authoritative; these tables are the queryable trade
// history and survive restarts.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// FillRow is a row in history.fills.
type FillRow struct {
	Sequence       int64
	FillIndex      int
	OrderID        int64
	Account        int64
	PaysAmount     int64
	PaysAsset      int64
	ReceivesAmount int64
	ReceivesAsset  int64
	FeeAmount      int64
	FeeAsset       int64
	PriceBase      int64
	PriceQuote     int64
	IsMaker        bool
	Timestamp      time.Time
}

// RemovalRow is a row in history.removals.
type RemovalRow struct {
	Sequence     int64
	RemovalIndex int
	Kind         int16
	ObjectID     int64
	Account      int64
	Timestamp    time.Time
}

// Writer batch-inserts history rows. Multi-row INSERT with ON CONFLICT DO
// NOTHING keeps replays idempotent: the (sequence, index) key identifies a
// row regardless of how many times the same operation stream is processed.
type Writer struct {
	db *sql.DB
}

func NewWriter(db *sql.DB) *Writer {
	return &Writer{db: db}
}

// WriteFills inserts a batch of fill rows inside tx.
func (w *Writer) WriteFills(ctx context.Context, tx *sql.Tx, fills []FillRow) error {
	if len(fills) == 0 {
		return nil
	}

	query := `INSERT INTO history.fills
		(sequence, fill_index, order_id, account, pays_amount, pays_asset,
		 receives_amount, receives_asset, fee_amount, fee_asset,
		 price_base, price_quote, is_maker, ts)
		VALUES `

	values := make([]string, 0, len(fills))
	args := make([]interface{}, 0, len(fills)*14)
	for i, f := range fills {
		base := i * 14
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7,
			base+8, base+9, base+10, base+11, base+12, base+13, base+14,
		))
		args = append(args,
			f.Sequence, f.FillIndex, f.OrderID, f.Account,
			f.PaysAmount, f.PaysAsset, f.ReceivesAmount, f.ReceivesAsset,
			f.FeeAmount, f.FeeAsset, f.PriceBase, f.PriceQuote,
			f.IsMaker, f.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence, fill_index) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteRemovals inserts a batch of removal rows inside tx.
func (w *Writer) WriteRemovals(ctx context.Context, tx *sql.Tx, removals []RemovalRow) error {
	if len(removals) == 0 {
		return nil
	}

	query := `INSERT INTO history.removals
		(sequence, removal_index, kind, object_id, account, ts)
		VALUES `

	values := make([]string, 0, len(removals))
	args := make([]interface{}, 0, len(removals)*6)
	for i, r := range removals {
		base := i * 6
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6,
		))
		args = append(args, r.Sequence, r.RemovalIndex, r.Kind, r.ObjectID, r.Account, r.Timestamp)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence, removal_index) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}
