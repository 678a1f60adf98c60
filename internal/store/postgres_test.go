package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"marketplace-catalog-service/internal/domain"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Helper function to create a mock DB and PostgresStore for testing
func newMockDBAndStore(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PostgresStore) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err, "Failed to create sqlmock")

	store := NewPostgresStore(db)
	require.NotNil(t, store, "Store should not be nil")

	return db, mock, store
}

// Helper function to get a pointer (useful for optional fields in domain structs)
func PtrTo[T any](v T) *T {
	return &v
}

var productRowColumns = []string{
	"id", "upc", "title", "slug", "description",
	"product_class_id", "condition", "is_public", "created_at",
}

func TestPostgresStore_GetProductByID_Found(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	now := time.Now().Truncate(time.Millisecond)
	query := regexp.QuoteMeta(`SELECT p.id, p.upc, p.title, p.slug, p.description, p.product_class_id, p.condition, p.is_public, p.created_at FROM catalog.products p WHERE p.id = $1;`)

	rows := sqlmock.NewRows(productRowColumns).
		AddRow(int64(1), PtrTo("X1"), "Widget", "widget", PtrTo("A widget"), int64(2), "new", true, now)

	mock.ExpectQuery(query).WithArgs(int64(1)).WillReturnRows(rows)

	product, err := store.GetProductByID(context.Background(), 1)

	require.NoError(t, err)
	require.NotNil(t, product)
	assert.Equal(t, int64(1), product.ID)
	require.NotNil(t, product.UPC)
	assert.Equal(t, "X1", *product.UPC)
	assert.Equal(t, "Widget", product.Title)
	assert.Equal(t, domain.ConditionNew, product.Condition)
	assert.True(t, product.IsPublic)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetProductByID_NotFound(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT .+ FROM catalog\.products p WHERE p\.id = \$1`).
		WithArgs(int64(99)).
		WillReturnError(sql.ErrNoRows)

	product, err := store.GetProductByID(context.Background(), 99)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProductNotFound), "Error should be ErrProductNotFound")
	assert.Nil(t, product)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_OwnsProduct(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	query := regexp.QuoteMeta(`SELECT EXISTS(SELECT 1 FROM catalog.stockrecords WHERE product_id = $1 AND partner_id = $2);`)
	mock.ExpectQuery(query).WithArgs(int64(100), int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(query).WithArgs(int64(100), int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	owns, err := store.OwnsProduct(context.Background(), 1, 100)
	require.NoError(t, err)
	assert.True(t, owns)

	owns, err = store.OwnsProduct(context.Background(), 2, 100)
	require.NoError(t, err)
	assert.False(t, owns)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListProducts_PriceBounds(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	now := time.Now().Truncate(time.Millisecond)
	params := ListProductsParams{
		Limit:      24,
		Offset:     0,
		OnlyPublic: true,
		MinPrice:   PtrTo(10.0),
	}

	// Price bounds run against the aggregated minimum price, so both the
	// count and data queries carry a HAVING clause.
	countPattern := `(?s)SELECT COUNT\(\*\) FROM \(SELECT p\.id FROM catalog\.products p.+WHERE p\.is_public = TRUE GROUP BY p\.id HAVING MIN\(sr\.price\) >= \$1\) AS filtered`
	dataPattern := `(?s)SELECT p\.id, .+ FROM catalog\.products p.+GROUP BY p\.id HAVING MIN\(sr\.price\) >= \$1 ORDER BY p\.created_at DESC, p\.id ASC LIMIT \$2 OFFSET \$3`

	mock.ExpectQuery(countPattern).WithArgs(10.0).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	dataRows := sqlmock.NewRows(productRowColumns).
		AddRow(int64(1), nil, "Widget", "widget", nil, int64(2), "new", true, now)
	mock.ExpectQuery(dataPattern).WithArgs(10.0, 24, 0).WillReturnRows(dataRows)

	products, totalCount, err := store.ListProducts(context.Background(), params)

	require.NoError(t, err)
	assert.Equal(t, 1, totalCount)
	require.Len(t, products, 1)
	assert.Equal(t, "Widget", products[0].Title)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListProducts_EmptyResultSkipsDataQuery(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM \(SELECT p\.id FROM catalog\.products p`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	products, totalCount, err := store.ListProducts(context.Background(), ListProductsParams{Limit: 24})

	require.NoError(t, err)
	assert.Zero(t, totalCount)
	assert.Empty(t, products)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListStockLocations(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"product_id", "lat", "lon"}).
		AddRow(int64(1), 52.52, 13.405).
		AddRow(int64(2), 48.1374, 11.5755)

	mock.ExpectQuery(`SELECT sr\.product_id,\s+COALESCE\(w\.lat, pt\.default_lat\) AS lat`).
		WillReturnRows(rows)

	locations, err := store.ListStockLocations(context.Background())

	require.NoError(t, err)
	require.Len(t, locations, 2)
	assert.Equal(t, int64(1), locations[0].ProductID)
	assert.Equal(t, domain.Point{Lat: 52.52, Lon: 13.405}, locations[0].Location)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetPartnerByID_NotFound(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT id, name, verification_status, default_lat, default_lon\s+FROM catalog\.partners`).
		WithArgs(int64(99)).
		WillReturnError(sql.ErrNoRows)

	partner, err := store.GetPartnerByID(context.Background(), 99)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPartnerNotFound), "Error should be ErrPartnerNotFound")
	assert.Nil(t, partner)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_WithTx_CommitsOnSuccess(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, name, slug FROM catalog\.product_classes WHERE slug = \$1`).
		WithArgs("books").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "slug"}).AddRow(int64(1), "Books", "books"))
	mock.ExpectCommit()

	err := store.WithTx(context.Background(), func(tx SyncTx) error {
		class, err := tx.ProductClassBySlug(context.Background(), "books")
		if err != nil {
			return err
		}
		assert.Equal(t, int64(1), class.ID)
		return nil
	})

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_WithTx_RollsBackOnError(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	pqErr := &pq.Error{Code: "23505", Constraint: "products_upc_key"}

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO catalog\.products`).
		WillReturnError(pqErr)
	mock.ExpectRollback()

	err := store.WithTx(context.Background(), func(tx SyncTx) error {
		_, err := tx.CreateProduct(context.Background(), &domain.Product{
			UPC: PtrTo("X1"), Title: "Widget", Slug: "widget", ProductClassID: 1,
			Condition: domain.ConditionNew, IsPublic: true,
		})
		return err
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProductUPCExists), "Error should be ErrProductUPCExists")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncTx_CreateStockRecord_DuplicatePartner(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	pqErr := &pq.Error{Code: "23505", Constraint: "stockrecords_product_partner_key"}

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO catalog\.stockrecords`).
		WillReturnError(pqErr)
	mock.ExpectRollback()

	err := store.WithTx(context.Background(), func(tx SyncTx) error {
		_, err := tx.CreateStockRecord(context.Background(), &domain.StockRecord{
			ProductID: 100, PartnerID: 1, PartnerSKU: "X1", PriceCurrency: "EUR",
		})
		return err
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStockRecordExists), "Error should be ErrStockRecordExists")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncTx_UpdateProduct_NotFound(t *testing.T) {
	db, mock, store := newMockDBAndStore(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE catalog\.products`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.WithTx(context.Background(), func(tx SyncTx) error {
		return tx.UpdateProduct(context.Background(), &domain.Product{ID: 99, Title: "Ghost"})
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProductNotFound), "Error should be ErrProductNotFound")
	require.NoError(t, mock.ExpectationsWereMet())
}
