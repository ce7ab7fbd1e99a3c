package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/example/ec-consistency/internal/readmodel"
)

const orderColumns = `id, user_id, order_date, total_bill, items, version, created_at, updated_at`

// PostgresOrderStore keeps line items as a JSONB array on the order row.
type PostgresOrderStore struct {
	db *sql.DB
}

func NewPostgresOrderStore(db *sql.DB) *PostgresOrderStore {
	return &PostgresOrderStore{db: db}
}

func (s *PostgresOrderStore) Add(ctx context.Context, o *readmodel.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, o.ID, o.UserID, o.OrderDate, o.TotalBill, items, o.Version, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("order %s: %w", o.ID, ErrAlreadyExists)
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (s *PostgresOrderStore) Get(ctx context.Context, id string) (*readmodel.Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

func (s *PostgresOrderStore) Replace(ctx context.Context, o *readmodel.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return err
	}
	var version int64
	err = s.db.QueryRowContext(ctx, `
		UPDATE orders SET user_id = $2, order_date = $3, total_bill = $4, items = $5, updated_at = $6,
			version = version + 1
		WHERE id = $1 AND version = $7
		RETURNING version
	`, o.ID, o.UserID, o.OrderDate, o.TotalBill, items, o.UpdatedAt, o.Version).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return s.replaceMissed(ctx, o)
	}
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	o.Version = version
	return nil
}

// replaceMissed tells a deleted order apart from a stale version.
func (s *PostgresOrderStore) replaceMissed(ctx context.Context, o *readmodel.Order) error {
	var stored int64
	err := s.db.QueryRowContext(ctx, `SELECT version FROM orders WHERE id = $1`, o.ID).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("order %s: %w", o.ID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("read order version: %w", err)
	}
	return fmt.Errorf("order %s at version %d, stored %d: %w", o.ID, o.Version, stored, ErrConflict)
}

// SyncProductName rewrites matching line names inside the JSONB array in a
// single statement, so concurrent writes to other fields are never undone.
func (s *PostgresOrderStore) SyncProductName(ctx context.Context, productID, name string, limit int) (int, int, error) {
	match, err := json.Marshal([]map[string]string{{"productId": productID}})
	if err != nil {
		return 0, 0, err
	}
	var updated, matched int
	err = s.db.QueryRowContext(ctx, `
		WITH target AS (
			SELECT id FROM orders WHERE items @> $1::jsonb
			ORDER BY order_date DESC, id
			LIMIT $3
		), renamed AS (
			UPDATE orders o SET
				items = (
					SELECT jsonb_agg(
						CASE WHEN e->>'productId' = $2 THEN jsonb_set(e, '{productName}', to_jsonb($4::text)) ELSE e END
						ORDER BY n)
					FROM jsonb_array_elements(o.items) WITH ORDINALITY AS t(e, n)
				),
				version = o.version + 1
			FROM target
			WHERE o.id = target.id
			  AND EXISTS (
				SELECT 1 FROM jsonb_array_elements(o.items) AS l(e)
				WHERE e->>'productId' = $2 AND e->>'productName' IS DISTINCT FROM $4
			  )
			RETURNING o.id
		)
		SELECT (SELECT COUNT(*) FROM renamed), (SELECT COUNT(*) FROM orders WHERE items @> $1::jsonb)
	`, string(match), productID, limit, name).Scan(&updated, &matched)
	if err != nil {
		return 0, 0, fmt.Errorf("sync product name: %w", err)
	}
	return updated, matched, nil
}

func (s *PostgresOrderStore) Delete(ctx context.Context, id string) (*readmodel.Order, error) {
	row := s.db.QueryRowContext(ctx, `DELETE FROM orders WHERE id = $1 RETURNING `+orderColumns, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("delete order: %w", err)
	}
	return o, nil
}

func (s *PostgresOrderStore) List(ctx context.Context, page, size int) ([]readmodel.Order, int, error) {
	return s.listWhere(ctx, "TRUE", nil, page, size)
}

func (s *PostgresOrderStore) ListByUser(ctx context.Context, userID string, page, size int) ([]readmodel.Order, int, error) {
	return s.listWhere(ctx, "user_id = $1", []any{userID}, page, size)
}

func (s *PostgresOrderStore) ListByProduct(ctx context.Context, productID string, page, size int) ([]readmodel.Order, int, error) {
	match, err := json.Marshal([]map[string]string{{"productId": productID}})
	if err != nil {
		return nil, 0, err
	}
	return s.listWhere(ctx, "items @> $1::jsonb", []any{string(match)}, page, size)
}

// listWhere runs a count and a page query sharing one filter. The filter
// uses placeholders starting at $1.
func (s *PostgresOrderStore) listWhere(ctx context.Context, where string, args []any, page, size int) ([]readmodel.Order, int, error) {
	page, size = readmodel.NormalizePaging(page, size)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	n := len(args)
	query := fmt.Sprintf(`SELECT %s FROM orders WHERE %s ORDER BY order_date DESC, id LIMIT $%d OFFSET $%d`,
		orderColumns, where, n+1, n+2)
	rows, err := s.db.QueryContext(ctx, query, append(args, size, (page-1)*size)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []readmodel.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	return orders, total, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(r rowScanner) (*readmodel.Order, error) {
	var o readmodel.Order
	var items []byte
	if err := r.Scan(&o.ID, &o.UserID, &o.OrderDate, &o.TotalBill, &items, &o.Version, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("decode items of order %s: %w", o.ID, err)
	}
	return &o, nil
}
