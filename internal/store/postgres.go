package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/lib/pq"

	"marketplace-catalog-service/internal/domain"
)

// Predefined errors for store operations
var (
	ErrProductNotFound      = errors.New("store: product not found")
	ErrProductUPCExists     = errors.New("store: product UPC already exists")
	ErrProductClassNotFound = errors.New("store: product class not found")
	ErrStockRecordNotFound  = errors.New("store: stock record not found")
	ErrStockRecordExists    = errors.New("store: stock record already exists for this partner")
	ErrWarehouseNotFound    = errors.New("store: warehouse not found")
	ErrPartnerNotFound      = errors.New("store: partner not found")
	ErrCategoryNotFound     = errors.New("store: category not found")
	ErrImageNotFound        = errors.New("store: product image not found")
	ErrUpdateFailed         = errors.New("store: update failed, 0 rows affected")
)

// PostgresStore implements the CatalogStorer, LocationStorer, PartnerStorer
// and SyncStorer interfaces using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgresStore instance.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// dbtx is the subset of *sql.DB and *sql.Tx the queries need.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != "23505" {
		return false
	}
	return strings.Contains(pqErr.Constraint, constraint) || strings.Contains(pqErr.Detail, constraint)
}

func isForeignKeyViolation(err error, table string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != "23503" {
		return false
	}
	return strings.Contains(pqErr.Constraint, table) || strings.Contains(pqErr.Detail, table)
}

// --- CatalogStorer implementation ---

const productColumns = `p.id, p.upc, p.title, p.slug, p.description, p.product_class_id, p.condition, p.is_public, p.created_at`

func scanProduct(row interface{ Scan(...interface{}) error }) (*domain.Product, error) {
	var p domain.Product
	err := row.Scan(
		&p.ID, &p.UPC, &p.Title, &p.Slug, &p.Description,
		&p.ProductClassID, &p.Condition, &p.IsPublic, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) ListProducts(ctx context.Context, params ListProductsParams) ([]domain.Product, int, error) {
	var queryArgs []interface{}
	var whereClauses []string
	var havingClauses []string
	argID := 1

	joins := `
		LEFT JOIN catalog.stockrecords sr ON sr.product_id = p.id`
	if params.CategorySlug != nil {
		joins += `
		JOIN catalog.product_categories pc ON pc.product_id = p.id
		JOIN catalog.categories c ON c.id = pc.category_id`
		whereClauses = append(whereClauses, fmt.Sprintf("lower(c.slug) = lower($%d)", argID))
		queryArgs = append(queryArgs, *params.CategorySlug)
		argID++
	}
	if params.PartnerID != nil {
		whereClauses = append(whereClauses, fmt.Sprintf("sr.partner_id = $%d", argID))
		queryArgs = append(queryArgs, *params.PartnerID)
		argID++
	}
	if params.Condition != nil {
		whereClauses = append(whereClauses, fmt.Sprintf("p.condition = $%d", argID))
		queryArgs = append(queryArgs, string(*params.Condition))
		argID++
	}
	if params.OnlyPublic {
		whereClauses = append(whereClauses, "p.is_public = TRUE")
	}
	if len(params.ProductIDs) > 0 {
		placeholders := make([]string, len(params.ProductIDs))
		for i, pid := range params.ProductIDs {
			placeholders[i] = fmt.Sprintf("$%d", argID+i)
			queryArgs = append(queryArgs, pid)
		}
		whereClauses = append(whereClauses, fmt.Sprintf("p.id IN (%s)", strings.Join(placeholders, ",")))
		argID += len(params.ProductIDs)
	}
	// Price bounds apply to the lowest price across the product's stock
	// records, so they live in HAVING rather than WHERE.
	if params.MinPrice != nil {
		havingClauses = append(havingClauses, fmt.Sprintf("MIN(sr.price) >= $%d", argID))
		queryArgs = append(queryArgs, *params.MinPrice)
		argID++
	}
	if params.MaxPrice != nil {
		havingClauses = append(havingClauses, fmt.Sprintf("MIN(sr.price) <= $%d", argID))
		queryArgs = append(queryArgs, *params.MaxPrice)
		argID++
	}

	whereCondition := ""
	if len(whereClauses) > 0 {
		whereCondition = " WHERE " + strings.Join(whereClauses, " AND ")
	}
	havingCondition := ""
	if len(havingClauses) > 0 {
		havingCondition = " HAVING " + strings.Join(havingClauses, " AND ")
	}

	countQuery := fmt.Sprintf(
		"SELECT COUNT(*) FROM (SELECT p.id FROM catalog.products p%s%s GROUP BY p.id%s) AS filtered",
		joins, whereCondition, havingCondition)
	var totalCount int
	if err := s.db.QueryRowContext(ctx, countQuery, queryArgs...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("store: ListProducts failed to count products: %w", err)
	}
	if totalCount == 0 {
		return []domain.Product{}, 0, nil
	}

	sortColumn := "p.created_at"
	allowedSortColumns := map[string]string{
		"title":      "p.title",
		"created_at": "p.created_at",
		"price":      "MIN(sr.price)",
	}
	if col, ok := allowedSortColumns[strings.ToLower(params.SortBy)]; ok {
		sortColumn = col
	}
	sortOrder := "DESC" // newest first by default
	if strings.ToUpper(params.SortOrder) == "ASC" {
		sortOrder = "ASC"
	}

	dataQuery := fmt.Sprintf(
		"SELECT %s FROM catalog.products p%s%s GROUP BY p.id%s ORDER BY %s %s, p.id ASC LIMIT $%d OFFSET $%d",
		productColumns, joins, whereCondition, havingCondition, sortColumn, sortOrder, argID, argID+1)
	finalQueryArgs := append(queryArgs, params.Limit, params.Offset)

	rows, err := s.db.QueryContext(ctx, dataQuery, finalQueryArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("store: ListProducts failed to query products: %w", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0, params.Limit)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("store: ListProducts failed to scan product row: %w", err)
		}
		products = append(products, *p)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("store: ListProducts iteration error: %w", err)
	}

	return products, totalCount, nil
}

func (s *PostgresStore) GetProductByID(ctx context.Context, id int64) (*domain.Product, error) {
	return getProductByID(ctx, s.db, id)
}

func getProductByID(ctx context.Context, q dbtx, id int64) (*domain.Product, error) {
	query := fmt.Sprintf(`SELECT %s FROM catalog.products p WHERE p.id = $1;`, productColumns)
	p, err := scanProduct(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("store: GetProductByID failed to scan row: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) OwnsProduct(ctx context.Context, partnerID, productID int64) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM catalog.stockrecords WHERE product_id = $1 AND partner_id = $2);`
	var exists bool
	if err := s.db.QueryRowContext(ctx, query, productID, partnerID).Scan(&exists); err != nil {
		return false, fmt.Errorf("store: OwnsProduct failed to scan row: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) GetAggregate(ctx context.Context, productID int64) (*domain.Aggregate, error) {
	var agg domain.Aggregate

	productQuery := fmt.Sprintf(`
		SELECT %s, cl.id, cl.name, cl.slug
		FROM catalog.products p
		JOIN catalog.product_classes cl ON cl.id = p.product_class_id
		WHERE p.id = $1;
	`, productColumns)
	err := s.db.QueryRowContext(ctx, productQuery, productID).Scan(
		&agg.Product.ID, &agg.Product.UPC, &agg.Product.Title, &agg.Product.Slug, &agg.Product.Description,
		&agg.Product.ProductClassID, &agg.Product.Condition, &agg.Product.IsPublic, &agg.Product.CreatedAt,
		&agg.Class.ID, &agg.Class.Name, &agg.Class.Slug,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("store: GetAggregate failed to scan product row: %w", err)
	}

	stockQuery := `
		SELECT sr.id, sr.product_id, sr.partner_id, sr.warehouse_id, sr.partner_sku,
		       sr.price_currency, sr.price, sr.num_in_stock, sr.num_allocated, sr.low_stock_threshold,
		       pt.id, pt.name, pt.verification_status, pt.default_lat, pt.default_lon,
		       w.id, w.partner_id, w.name, w.city, w.lat, w.lon, w.is_active
		FROM catalog.stockrecords sr
		JOIN catalog.partners pt ON pt.id = sr.partner_id
		LEFT JOIN catalog.warehouses w ON w.id = sr.warehouse_id
		WHERE sr.product_id = $1
		ORDER BY sr.id ASC;
	`
	rows, err := s.db.QueryContext(ctx, stockQuery, productID)
	if err != nil {
		return nil, fmt.Errorf("store: GetAggregate failed to query stock records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var info domain.StockInfo
		var partnerLat, partnerLon sql.NullFloat64
		var whID, whPartnerID sql.NullInt64
		var whName, whCity sql.NullString
		var whLat, whLon sql.NullFloat64
		var whActive sql.NullBool
		if err := rows.Scan(
			&info.Record.ID, &info.Record.ProductID, &info.Record.PartnerID, &info.Record.WarehouseID,
			&info.Record.PartnerSKU, &info.Record.PriceCurrency, &info.Record.Price,
			&info.Record.NumInStock, &info.Record.NumAllocated, &info.Record.LowStockThreshold,
			&info.Partner.ID, &info.Partner.Name, &info.Partner.VerificationStatus, &partnerLat, &partnerLon,
			&whID, &whPartnerID, &whName, &whCity, &whLat, &whLon, &whActive,
		); err != nil {
			return nil, fmt.Errorf("store: GetAggregate failed to scan stock row: %w", err)
		}
		if partnerLat.Valid && partnerLon.Valid {
			info.Partner.DefaultLocation = &domain.Point{Lat: partnerLat.Float64, Lon: partnerLon.Float64}
		}
		if whID.Valid {
			wh := domain.Warehouse{
				ID:        whID.Int64,
				PartnerID: whPartnerID.Int64,
				Name:      whName.String,
				City:      whCity.String,
				IsActive:  whActive.Bool,
			}
			if whLat.Valid && whLon.Valid {
				wh.Location = &domain.Point{Lat: whLat.Float64, Lon: whLon.Float64}
			}
			info.Warehouse = &wh
		}
		agg.Stock = append(agg.Stock, info)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("store: GetAggregate stock iteration error: %w", err)
	}

	categoryQuery := `
		SELECT c.id, c.name, c.slug
		FROM catalog.categories c
		JOIN catalog.product_categories pc ON pc.category_id = c.id
		WHERE pc.product_id = $1
		ORDER BY c.id ASC;
	`
	catRows, err := s.db.QueryContext(ctx, categoryQuery, productID)
	if err != nil {
		return nil, fmt.Errorf("store: GetAggregate failed to query categories: %w", err)
	}
	defer catRows.Close()
	for catRows.Next() {
		var c domain.Category
		if err := catRows.Scan(&c.ID, &c.Name, &c.Slug); err != nil {
			return nil, fmt.Errorf("store: GetAggregate failed to scan category row: %w", err)
		}
		agg.Categories = append(agg.Categories, c)
	}
	if err = catRows.Err(); err != nil {
		return nil, fmt.Errorf("store: GetAggregate category iteration error: %w", err)
	}

	imgs, err := listImages(ctx, s.db, productID)
	if err != nil {
		return nil, err
	}
	agg.Images = imgs

	return &agg, nil
}

// --- LocationStorer implementation ---

func (s *PostgresStore) ListStockLocations(ctx context.Context) ([]StockLocation, error) {
	// Effective location resolves warehouse coordinates first, then the
	// partner default. Rows without either are excluded here, not in Go.
	query := `
		SELECT sr.product_id,
		       COALESCE(w.lat, pt.default_lat) AS lat,
		       COALESCE(w.lon, pt.default_lon) AS lon
		FROM catalog.stockrecords sr
		JOIN catalog.products p ON p.id = sr.product_id
		JOIN catalog.partners pt ON pt.id = sr.partner_id
		LEFT JOIN catalog.warehouses w ON w.id = sr.warehouse_id
		WHERE p.is_public = TRUE
		  AND sr.num_in_stock > 0
		  AND COALESCE(w.lat, pt.default_lat) IS NOT NULL
		  AND COALESCE(w.lon, pt.default_lon) IS NOT NULL;
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: ListStockLocations failed to query: %w", err)
	}
	defer rows.Close()

	var locations []StockLocation
	for rows.Next() {
		var loc StockLocation
		if err := rows.Scan(&loc.ProductID, &loc.Location.Lat, &loc.Location.Lon); err != nil {
			return nil, fmt.Errorf("store: ListStockLocations failed to scan row: %w", err)
		}
		locations = append(locations, loc)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("store: ListStockLocations iteration error: %w", err)
	}
	return locations, nil
}

// --- PartnerStorer implementation ---

func (s *PostgresStore) GetPartnerByID(ctx context.Context, id int64) (*domain.Partner, error) {
	query := `
		SELECT id, name, verification_status, default_lat, default_lon
		FROM catalog.partners
		WHERE id = $1;
	`
	var p domain.Partner
	var lat, lon sql.NullFloat64
	err := s.db.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.Name, &p.VerificationStatus, &lat, &lon)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPartnerNotFound
		}
		return nil, fmt.Errorf("store: GetPartnerByID failed to scan row: %w", err)
	}
	if lat.Valid && lon.Valid {
		p.DefaultLocation = &domain.Point{Lat: lat.Float64, Lon: lon.Float64}
	}
	return &p, nil
}

// --- SyncStorer implementation ---

// WithTx runs fn inside a single transaction. Any error from fn rolls the
// whole unit of work back, so a failed synchronization leaves no partial
// aggregate behind.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx SyncTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: failed to begin transaction: %w", err)
	}
	if err := fn(&syncTx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Printf("WARN: store: transaction rollback failed: %v", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: failed to commit transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	if s.db != nil {
		log.Println("INFO: Closing database connection pool...")
		if err := s.db.Close(); err != nil {
			log.Printf("ERROR: Failed to close database connection pool: %v", err)
			return err
		}
	}
	return nil
}
