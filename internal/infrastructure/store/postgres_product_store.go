package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/example/ec-consistency/internal/readmodel"
)

type PostgresProductStore struct {
	db *sql.DB
}

func NewPostgresProductStore(db *sql.DB) *PostgresProductStore {
	return &PostgresProductStore{db: db}
}

func (s *PostgresProductStore) Put(ctx context.Context, p *readmodel.Product) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, category, unit_price, quantity_in_stock, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			category = EXCLUDED.category,
			unit_price = EXCLUDED.unit_price,
			quantity_in_stock = EXCLUDED.quantity_in_stock,
			updated_at = EXCLUDED.updated_at
	`, p.ID, p.Name, p.Category, p.UnitPrice, nullableInt(p.QuantityInStock))
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

func (s *PostgresProductStore) Get(ctx context.Context, id string) (*readmodel.Product, error) {
	var p readmodel.Product
	var qty sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, category, unit_price, quantity_in_stock FROM products WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Category, &p.UnitPrice, &qty)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	if qty.Valid {
		n := int(qty.Int64)
		p.QuantityInStock = &n
	}
	return &p, nil
}

// AdjustStock locks the product row for the duration of the read-modify-write
// so concurrent adjustments to one product serialize.
func (s *PostgresProductStore) AdjustStock(ctx context.Context, productID string, delta int) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var qty sql.NullInt64
	err = tx.QueryRowContext(ctx, `SELECT quantity_in_stock FROM products WHERE id = $1 FOR UPDATE`, productID).Scan(&qty)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("product %s: %w", productID, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("read stock: %w", err)
	}

	current := int(qty.Int64)
	next := current + delta
	if next < 0 {
		return current, &InsufficientStockError{Available: current, Requested: -delta}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE products SET quantity_in_stock = $2, updated_at = now() WHERE id = $1
	`, productID, next); err != nil {
		return 0, fmt.Errorf("write stock: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit stock: %w", err)
	}
	return next, nil
}

func (s *PostgresProductStore) Rename(ctx context.Context, productID, name string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE products SET name = $2, updated_at = now() WHERE id = $1`, productID, name)
	if err != nil {
		return fmt.Errorf("rename product: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("product %s: %w", productID, ErrNotFound)
	}
	return nil
}

func (s *PostgresProductStore) Delete(ctx context.Context, productID string) (*readmodel.Product, error) {
	var p readmodel.Product
	var qty sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		DELETE FROM products WHERE id = $1
		RETURNING id, name, category, unit_price, quantity_in_stock
	`, productID).Scan(&p.ID, &p.Name, &p.Category, &p.UnitPrice, &qty)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %s: %w", productID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("delete product: %w", err)
	}
	if qty.Valid {
		n := int(qty.Int64)
		p.QuantityInStock = &n
	}
	return &p, nil
}

func nullableInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
