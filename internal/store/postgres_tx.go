package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"marketplace-catalog-service/internal/domain"
)

// syncTx implements SyncTx on top of an open *sql.Tx. All statements share
// the transaction, so WithTx's rollback undoes everything at once.
type syncTx struct {
	tx *sql.Tx
}

func (t *syncTx) ProductByID(ctx context.Context, id int64) (*domain.Product, error) {
	return getProductByID(ctx, t.tx, id)
}

func (t *syncTx) ProductByUPC(ctx context.Context, upc string) (*domain.Product, error) {
	query := fmt.Sprintf(`SELECT %s FROM catalog.products p WHERE p.upc = $1;`, productColumns)
	p, err := scanProduct(t.tx.QueryRowContext(ctx, query, upc))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("store: ProductByUPC failed to scan row: %w", err)
	}
	return p, nil
}

func (t *syncTx) CreateProduct(ctx context.Context, p *domain.Product) (*domain.Product, error) {
	query := `
		INSERT INTO catalog.products (upc, title, slug, description, product_class_id, condition, is_public)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, upc, title, slug, description, product_class_id, condition, is_public, created_at;
	`
	created, err := scanProduct(t.tx.QueryRowContext(ctx, query,
		p.UPC, p.Title, p.Slug, p.Description, p.ProductClassID, string(p.Condition), p.IsPublic,
	))
	if err != nil {
		if isUniqueViolation(err, "products_upc_key") {
			return nil, ErrProductUPCExists
		}
		return nil, fmt.Errorf("store: CreateProduct failed to scan row: %w", err)
	}
	return created, nil
}

func (t *syncTx) UpdateProduct(ctx context.Context, p *domain.Product) error {
	query := `
		UPDATE catalog.products
		SET upc = $1, title = $2, description = $3, condition = $4, is_public = $5
		WHERE id = $6;
	`
	result, err := t.tx.ExecContext(ctx, query,
		p.UPC, p.Title, p.Description, string(p.Condition), p.IsPublic, p.ID,
	)
	if err != nil {
		if isUniqueViolation(err, "products_upc_key") {
			return ErrProductUPCExists
		}
		return fmt.Errorf("store: UpdateProduct failed to execute update: %w", err)
	}
	return requireRowsAffected(result, ErrProductNotFound, "UpdateProduct")
}

func (t *syncTx) DeleteProduct(ctx context.Context, id int64) error {
	result, err := t.tx.ExecContext(ctx, `DELETE FROM catalog.products WHERE id = $1;`, id)
	if err != nil {
		return fmt.Errorf("store: DeleteProduct failed to execute delete: %w", err)
	}
	return requireRowsAffected(result, ErrProductNotFound, "DeleteProduct")
}

func (t *syncTx) ProductClassBySlug(ctx context.Context, slug string) (*domain.ProductClass, error) {
	query := `SELECT id, name, slug FROM catalog.product_classes WHERE slug = $1;`
	var pc domain.ProductClass
	err := t.tx.QueryRowContext(ctx, query, slug).Scan(&pc.ID, &pc.Name, &pc.Slug)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProductClassNotFound
		}
		return nil, fmt.Errorf("store: ProductClassBySlug failed to scan row: %w", err)
	}
	return &pc, nil
}

const stockColumns = `id, product_id, partner_id, warehouse_id, partner_sku, price_currency, price, num_in_stock, num_allocated, low_stock_threshold`

func scanStockRecord(row interface{ Scan(...interface{}) error }) (*domain.StockRecord, error) {
	var sr domain.StockRecord
	err := row.Scan(
		&sr.ID, &sr.ProductID, &sr.PartnerID, &sr.WarehouseID, &sr.PartnerSKU,
		&sr.PriceCurrency, &sr.Price, &sr.NumInStock, &sr.NumAllocated, &sr.LowStockThreshold,
	)
	if err != nil {
		return nil, err
	}
	return &sr, nil
}

func (t *syncTx) StockRecordFor(ctx context.Context, productID, partnerID int64) (*domain.StockRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM catalog.stockrecords
		WHERE product_id = $1 AND partner_id = $2;
	`, stockColumns)
	sr, err := scanStockRecord(t.tx.QueryRowContext(ctx, query, productID, partnerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStockRecordNotFound
		}
		return nil, fmt.Errorf("store: StockRecordFor failed to scan row: %w", err)
	}
	return sr, nil
}

func (t *syncTx) CreateStockRecord(ctx context.Context, sr *domain.StockRecord) (*domain.StockRecord, error) {
	query := fmt.Sprintf(`
		INSERT INTO catalog.stockrecords
			(product_id, partner_id, warehouse_id, partner_sku, price_currency, price, num_in_stock, num_allocated, low_stock_threshold)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING %s;
	`, stockColumns)
	created, err := scanStockRecord(t.tx.QueryRowContext(ctx, query,
		sr.ProductID, sr.PartnerID, sr.WarehouseID, sr.PartnerSKU,
		sr.PriceCurrency, sr.Price, sr.NumInStock, sr.NumAllocated, sr.LowStockThreshold,
	))
	if err != nil {
		if isUniqueViolation(err, "stockrecords_product_partner_key") {
			return nil, ErrStockRecordExists
		}
		return nil, fmt.Errorf("store: CreateStockRecord failed to scan row: %w", err)
	}
	return created, nil
}

func (t *syncTx) UpdateStockRecord(ctx context.Context, sr *domain.StockRecord) error {
	query := `
		UPDATE catalog.stockrecords
		SET warehouse_id = $1, partner_sku = $2, price_currency = $3, price = $4,
		    num_in_stock = $5, num_allocated = $6, low_stock_threshold = $7
		WHERE id = $8;
	`
	result, err := t.tx.ExecContext(ctx, query,
		sr.WarehouseID, sr.PartnerSKU, sr.PriceCurrency, sr.Price,
		sr.NumInStock, sr.NumAllocated, sr.LowStockThreshold, sr.ID,
	)
	if err != nil {
		return fmt.Errorf("store: UpdateStockRecord failed to execute update: %w", err)
	}
	return requireRowsAffected(result, ErrStockRecordNotFound, "UpdateStockRecord")
}

func (t *syncTx) WarehouseByID(ctx context.Context, id int64) (*domain.Warehouse, error) {
	query := `SELECT id, partner_id, name, city, lat, lon, is_active FROM catalog.warehouses WHERE id = $1;`
	var w domain.Warehouse
	var lat, lon sql.NullFloat64
	err := t.tx.QueryRowContext(ctx, query, id).Scan(&w.ID, &w.PartnerID, &w.Name, &w.City, &lat, &lon, &w.IsActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrWarehouseNotFound
		}
		return nil, fmt.Errorf("store: WarehouseByID failed to scan row: %w", err)
	}
	if lat.Valid && lon.Valid {
		w.Location = &domain.Point{Lat: lat.Float64, Lon: lon.Float64}
	}
	return &w, nil
}

func (t *syncTx) AttributesForClass(ctx context.Context, productClassID int64) ([]domain.ProductAttribute, error) {
	query := `
		SELECT id, product_class_id, code, name, type, options
		FROM catalog.product_attributes
		WHERE product_class_id = $1
		ORDER BY code ASC;
	`
	rows, err := t.tx.QueryContext(ctx, query, productClassID)
	if err != nil {
		return nil, fmt.Errorf("store: AttributesForClass failed to query: %w", err)
	}
	defer rows.Close()

	var defs []domain.ProductAttribute
	for rows.Next() {
		var def domain.ProductAttribute
		if err := rows.Scan(&def.ID, &def.ProductClassID, &def.Code, &def.Name, &def.Type, pq.Array(&def.Options)); err != nil {
			return nil, fmt.Errorf("store: AttributesForClass failed to scan row: %w", err)
		}
		defs = append(defs, def)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("store: AttributesForClass iteration error: %w", err)
	}
	return defs, nil
}

func (t *syncTx) AttributeValues(ctx context.Context, productID int64) ([]domain.AttributeValue, error) {
	query := `
		SELECT av.product_id, av.attribute_id, pa.code, av.value
		FROM catalog.attribute_values av
		JOIN catalog.product_attributes pa ON pa.id = av.attribute_id
		WHERE av.product_id = $1
		ORDER BY pa.code ASC;
	`
	rows, err := t.tx.QueryContext(ctx, query, productID)
	if err != nil {
		return nil, fmt.Errorf("store: AttributeValues failed to query: %w", err)
	}
	defer rows.Close()

	var values []domain.AttributeValue
	for rows.Next() {
		var v domain.AttributeValue
		if err := rows.Scan(&v.ProductID, &v.AttributeID, &v.Code, &v.Value); err != nil {
			return nil, fmt.Errorf("store: AttributeValues failed to scan row: %w", err)
		}
		values = append(values, v)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("store: AttributeValues iteration error: %w", err)
	}
	return values, nil
}

func (t *syncTx) UpsertAttributeValue(ctx context.Context, v *domain.AttributeValue) error {
	query := `
		INSERT INTO catalog.attribute_values (product_id, attribute_id, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (product_id, attribute_id) DO UPDATE SET value = EXCLUDED.value;
	`
	if _, err := t.tx.ExecContext(ctx, query, v.ProductID, v.AttributeID, v.Value); err != nil {
		return fmt.Errorf("store: UpsertAttributeValue failed to execute upsert: %w", err)
	}
	return nil
}

func (t *syncTx) DeleteAttributeValue(ctx context.Context, productID, attributeID int64) error {
	query := `DELETE FROM catalog.attribute_values WHERE product_id = $1 AND attribute_id = $2;`
	if _, err := t.tx.ExecContext(ctx, query, productID, attributeID); err != nil {
		return fmt.Errorf("store: DeleteAttributeValue failed to execute delete: %w", err)
	}
	return nil
}

func (t *syncTx) Images(ctx context.Context, productID int64) ([]domain.ProductImage, error) {
	return listImages(ctx, t.tx, productID)
}

func listImages(ctx context.Context, q dbtx, productID int64) ([]domain.ProductImage, error) {
	query := `
		SELECT id, product_id, file_ref, caption, display_order
		FROM catalog.product_images
		WHERE product_id = $1
		ORDER BY display_order ASC, id ASC;
	`
	rows, err := q.QueryContext(ctx, query, productID)
	if err != nil {
		return nil, fmt.Errorf("store: Images failed to query: %w", err)
	}
	defer rows.Close()

	var images []domain.ProductImage
	for rows.Next() {
		var img domain.ProductImage
		if err := rows.Scan(&img.ID, &img.ProductID, &img.FileRef, &img.Caption, &img.DisplayOrder); err != nil {
			return nil, fmt.Errorf("store: Images failed to scan row: %w", err)
		}
		images = append(images, img)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("store: Images iteration error: %w", err)
	}
	return images, nil
}

func (t *syncTx) CreateImage(ctx context.Context, img *domain.ProductImage) (*domain.ProductImage, error) {
	query := `
		INSERT INTO catalog.product_images (product_id, file_ref, caption, display_order)
		VALUES ($1, $2, $3, $4)
		RETURNING id, product_id, file_ref, caption, display_order;
	`
	var created domain.ProductImage
	err := t.tx.QueryRowContext(ctx, query, img.ProductID, img.FileRef, img.Caption, img.DisplayOrder).Scan(
		&created.ID, &created.ProductID, &created.FileRef, &created.Caption, &created.DisplayOrder,
	)
	if err != nil {
		return nil, fmt.Errorf("store: CreateImage failed to scan row: %w", err)
	}
	return &created, nil
}

func (t *syncTx) UpdateImage(ctx context.Context, img *domain.ProductImage) error {
	query := `
		UPDATE catalog.product_images
		SET file_ref = $1, caption = $2, display_order = $3
		WHERE id = $4;
	`
	result, err := t.tx.ExecContext(ctx, query, img.FileRef, img.Caption, img.DisplayOrder, img.ID)
	if err != nil {
		return fmt.Errorf("store: UpdateImage failed to execute update: %w", err)
	}
	return requireRowsAffected(result, ErrImageNotFound, "UpdateImage")
}

func (t *syncTx) DeleteImage(ctx context.Context, id int64) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM catalog.product_images WHERE id = $1;`, id); err != nil {
		return fmt.Errorf("store: DeleteImage failed to execute delete: %w", err)
	}
	return nil
}

func (t *syncTx) AddProductCategories(ctx context.Context, productID int64, categoryIDs []int64) error {
	query := `
		INSERT INTO catalog.product_categories (product_id, category_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING;
	`
	for _, categoryID := range categoryIDs {
		if _, err := t.tx.ExecContext(ctx, query, productID, categoryID); err != nil {
			if isForeignKeyViolation(err, "category") {
				return fmt.Errorf("%w: category %d", ErrCategoryNotFound, categoryID)
			}
			return fmt.Errorf("store: AddProductCategories failed for category %d: %w", categoryID, err)
		}
	}
	return nil
}

func (t *syncTx) ReplaceProductCategories(ctx context.Context, productID int64, categoryIDs []int64) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM catalog.product_categories WHERE product_id = $1;`, productID); err != nil {
		return fmt.Errorf("store: ReplaceProductCategories failed to clear associations: %w", err)
	}
	return t.AddProductCategories(ctx, productID, categoryIDs)
}

func requireRowsAffected(result sql.Result, missing error, op string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: %s failed to get rows affected: %w", op, err)
	}
	if rowsAffected == 0 {
		return missing
	}
	return nil
}
