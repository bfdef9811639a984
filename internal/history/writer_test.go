package history_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"BitLedger/internal/history"
	"BitLedger/internal/testutil"
)

func TestWriterRoundTrip(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	migrator := history.NewMigrator(db, "../../migrations", zerolog.Nop())
	if err := migrator.Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	w := history.NewWriter(db)
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fills := []history.FillRow{
		{Sequence: 1, FillIndex: 0, OrderID: 10, Account: 5, PaysAmount: 500, PaysAsset: 3,
			ReceivesAmount: 1000, ReceivesAsset: 0, PriceBase: 1000, PriceQuote: 500, IsMaker: false, Timestamp: ts},
		{Sequence: 1, FillIndex: 1, OrderID: 11, Account: 6, PaysAmount: 1000, PaysAsset: 0,
			ReceivesAmount: 500, ReceivesAsset: 3, FeeAmount: 50, FeeAsset: 3, PriceBase: 1000, PriceQuote: 500, IsMaker: true, Timestamp: ts},
	}
	removals := []history.RemovalRow{
		{Sequence: 1, RemovalIndex: 0, Kind: 0, ObjectID: 11, Account: 6, Timestamp: ts},
	}

	write := func() {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		if err := w.WriteFills(ctx, tx, fills); err != nil {
			t.Fatalf("write fills: %v", err)
		}
		if err := w.WriteRemovals(ctx, tx, removals); err != nil {
			t.Fatalf("write removals: %v", err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("commit: %v", err)
		}
	}

	// Writing the same batch twice must be a no-op: replays are identified
	// by the (sequence, index) key.
	write()
	write()

	var fillCount, removalCount int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM history.fills WHERE sequence = 1`).Scan(&fillCount); err != nil {
		t.Fatalf("count fills: %v", err)
	}
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM history.removals WHERE sequence = 1`).Scan(&removalCount); err != nil {
		t.Fatalf("count removals: %v", err)
	}
	if fillCount != 2 {
		t.Errorf("fills: got %d, want 2", fillCount)
	}
	if removalCount != 1 {
		t.Errorf("removals: got %d, want 1", removalCount)
	}

	var pays int64
	var isMaker bool
	err := db.QueryRowContext(ctx,
		`SELECT pays_amount, is_maker FROM history.fills WHERE sequence = 1 AND fill_index = 1`,
	).Scan(&pays, &isMaker)
	if err != nil {
		t.Fatalf("read fill: %v", err)
	}
	if pays != 1000 || !isMaker {
		t.Errorf("fill row: got pays %d maker %v, want 1000 true", pays, isMaker)
	}
}
