package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ec-consistency/internal/readmodel"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return db, mock
}

func q(query string) string { return regexp.QuoteMeta(query) }

// ============================================================================
// PostgresProductStore
// ============================================================================

func TestPostgresProductStore_AdjustStock(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPostgresProductStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery(q(`SELECT quantity_in_stock FROM products WHERE id = $1 FOR UPDATE`)).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"quantity_in_stock"}).AddRow(10))
	mock.ExpectExec(q(`UPDATE products SET quantity_in_stock = $2`)).
		WithArgs("p1", 7).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	got, err := s.AdjustStock(context.Background(), "p1", -3)

	require.NoError(t, err)
	assert.Equal(t, 7, got)
}

func TestPostgresProductStore_AdjustStock_RejectsNegative(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPostgresProductStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery(q(`FOR UPDATE`)).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"quantity_in_stock"}).AddRow(2))
	mock.ExpectRollback()

	got, err := s.AdjustStock(context.Background(), "p1", -3)

	require.ErrorIs(t, err, ErrInsufficientStock)
	var ise *InsufficientStockError
	require.ErrorAs(t, err, &ise)
	assert.Equal(t, 2, ise.Available)
	assert.Equal(t, 3, ise.Requested)
	assert.Equal(t, 2, got)
}

func TestPostgresProductStore_AdjustStock_NullQuantityIsZero(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPostgresProductStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery(q(`FOR UPDATE`)).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"quantity_in_stock"}).AddRow(nil))
	mock.ExpectRollback()

	_, err := s.AdjustStock(context.Background(), "p1", -1)

	assert.ErrorIs(t, err, ErrInsufficientStock)
}

func TestPostgresProductStore_AdjustStock_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPostgresProductStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery(q(`FOR UPDATE`)).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"quantity_in_stock"}))
	mock.ExpectRollback()

	_, err := s.AdjustStock(context.Background(), "missing", 1)

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresProductStore_RenameNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPostgresProductStore(db)

	mock.ExpectExec(q(`UPDATE products SET name = $2`)).
		WithArgs("missing", "Quill").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, s.Rename(context.Background(), "missing", "Quill"), ErrNotFound)
}

// ============================================================================
// PostgresLedger
// ============================================================================

func TestPostgresLedger_Claim(t *testing.T) {
	db, mock := newMockDB(t)
	l := NewPostgresLedger(db)
	ctx := context.Background()

	mock.ExpectExec(q(`INSERT INTO stock_adjustment_ledger`)).
		WithArgs("e1", "p1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q(`ON CONFLICT DO NOTHING`)).
		WithArgs("e1", "p1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	first, err := l.Claim(ctx, "e1", "p1")
	require.NoError(t, err)
	assert.True(t, first)

	again, err := l.Claim(ctx, "e1", "p1")
	require.NoError(t, err)
	assert.False(t, again)
}

func TestPostgresLedger_ClaimAndReleaseErrors(t *testing.T) {
	db, mock := newMockDB(t)
	l := NewPostgresLedger(db)
	ctx := context.Background()
	down := errors.New("connection refused")

	mock.ExpectExec(q(`INSERT INTO stock_adjustment_ledger`)).WithArgs("e1", "p1").WillReturnError(down)
	mock.ExpectExec(q(`DELETE FROM stock_adjustment_ledger`)).WithArgs("e1", "p1").WillReturnError(down)

	_, err := l.Claim(ctx, "e1", "p1")
	assert.ErrorIs(t, err, down)
	assert.ErrorIs(t, l.Release(ctx, "e1", "p1"), down)
}

// ============================================================================
// PostgresOrderStore
// ============================================================================

var orderRowColumns = []string{"id", "user_id", "order_date", "total_bill", "items", "version", "created_at", "updated_at"}

func TestPostgresOrderStore_AddDuplicate(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPostgresOrderStore(db)

	mock.ExpectExec(q(`INSERT INTO orders`)).WillReturnError(&pq.Error{Code: "23505"})

	err := s.Add(context.Background(), &readmodel.Order{ID: "o1"})

	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestPostgresOrderStore_Get(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPostgresOrderStore(db)
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(q(`FROM orders WHERE id = $1`)).
		WithArgs("o1").
		WillReturnRows(sqlmock.NewRows(orderRowColumns).
			AddRow("o1", "u1", at, 20.0, []byte(`[{"productId":"p1","productName":"Pen","quantity":2,"unitPrice":10,"totalPrice":20}]`), 4, at, at))
	mock.ExpectQuery(q(`FROM orders WHERE id = $1`)).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(orderRowColumns))

	o, err := s.Get(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), o.Version)
	assert.Equal(t, []readmodel.OrderItem{{ProductID: "p1", ProductName: "Pen", Quantity: 2, UnitPrice: 10, TotalPrice: 20}}, o.Items)

	_, err = s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresOrderStore_Replace(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPostgresOrderStore(db)
	o := &readmodel.Order{ID: "o1", UserID: "u1", Version: 2}

	mock.ExpectQuery(q(`WHERE id = $1 AND version = $7`)).
		WithArgs("o1", "u1", sqlmock.AnyArg(), 0.0, sqlmock.AnyArg(), sqlmock.AnyArg(), 2).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(3))

	require.NoError(t, s.Replace(context.Background(), o))
	assert.Equal(t, int64(3), o.Version)
}

func TestPostgresOrderStore_ReplaceStaleVersion(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPostgresOrderStore(db)
	o := &readmodel.Order{ID: "o1", Version: 2}

	mock.ExpectQuery(q(`WHERE id = $1 AND version = $7`)).
		WillReturnRows(sqlmock.NewRows([]string{"version"}))
	mock.ExpectQuery(q(`SELECT version FROM orders WHERE id = $1`)).
		WithArgs("o1").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(3))

	err := s.Replace(context.Background(), o)

	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, int64(2), o.Version)
}

func TestPostgresOrderStore_ReplaceDeleted(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPostgresOrderStore(db)

	mock.ExpectQuery(q(`WHERE id = $1 AND version = $7`)).
		WillReturnRows(sqlmock.NewRows([]string{"version"}))
	mock.ExpectQuery(q(`SELECT version FROM orders WHERE id = $1`)).
		WithArgs("o1").
		WillReturnRows(sqlmock.NewRows([]string{"version"}))

	assert.ErrorIs(t, s.Replace(context.Background(), &readmodel.Order{ID: "o1"}), ErrNotFound)
}

func TestPostgresOrderStore_SyncProductName(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPostgresOrderStore(db)

	mock.ExpectQuery(q(`jsonb_set(e, '{productName}', to_jsonb($4::text))`)).
		WithArgs(`[{"productId":"p1"}]`, "p1", 1500, "Quill").
		WillReturnRows(sqlmock.NewRows([]string{"updated", "matched"}).AddRow(2, 1700))

	updated, matched, err := s.SyncProductName(context.Background(), "p1", "Quill", 1500)

	require.NoError(t, err)
	assert.Equal(t, 2, updated)
	assert.Equal(t, 1700, matched)
}

func TestPostgresOrderStore_DeleteNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPostgresOrderStore(db)

	mock.ExpectQuery(q(`DELETE FROM orders WHERE id = $1 RETURNING`)).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(orderRowColumns))

	_, err := s.Delete(context.Background(), "missing")

	assert.ErrorIs(t, err, ErrNotFound)
}
