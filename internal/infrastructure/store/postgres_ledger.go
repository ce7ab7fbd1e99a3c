package store

import (
	"context"
	"database/sql"
	"fmt"
)

type PostgresLedger struct {
	db *sql.DB
}

func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

func (l *PostgresLedger) Claim(ctx context.Context, eventID, productID string) (bool, error) {
	res, err := l.db.ExecContext(ctx, `
		INSERT INTO stock_adjustment_ledger (event_id, product_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, eventID, productID)
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", ledgerKey(eventID, productID), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (l *PostgresLedger) Release(ctx context.Context, eventID, productID string) error {
	_, err := l.db.ExecContext(ctx, `
		DELETE FROM stock_adjustment_ledger WHERE event_id = $1 AND product_id = $2
	`, eventID, productID)
	if err != nil {
		return fmt.Errorf("release %s: %w", ledgerKey(eventID, productID), err)
	}
	return nil
}
