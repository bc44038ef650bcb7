package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/frahmantamala/spotpay-billing/internal/ledger"
)

const (
	recentEntriesQuery = `
SELECT amount, kind, reason, reference, balance_after, created_at
FROM ledger_entries
WHERE vendor_id = ?
ORDER BY id DESC
LIMIT ?
`
	sumEntriesQuery = `SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE vendor_id = ?`
)

// StatementReader reads ledger entries through sqlx, bypassing the gorm models.
type StatementReader struct {
	db *sqlx.DB
}

func NewStatementReader(db *sqlx.DB) ledger.StatementReader {
	return &StatementReader{db: db}
}

func (r *StatementReader) Recent(ctx context.Context, vendorID string, limit int) ([]ledger.StatementLine, error) {
	lines := []ledger.StatementLine{}
	if err := r.db.SelectContext(ctx, &lines, r.db.Rebind(recentEntriesQuery), vendorID, limit); err != nil {
		return nil, fmt.Errorf("recent ledger entries: %w", err)
	}
	return lines, nil
}

func (r *StatementReader) SumEntries(ctx context.Context, vendorID string) (decimal.Decimal, error) {
	var sum decimal.Decimal
	if err := r.db.GetContext(ctx, &sum, r.db.Rebind(sumEntriesQuery), vendorID); err != nil {
		return decimal.Zero, fmt.Errorf("sum ledger entries: %w", err)
	}
	return sum.Round(2), nil
}
