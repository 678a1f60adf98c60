package store

import (
	"context"

	"marketplace-catalog-service/internal/domain"
)

// ListProductsParams holds parameters for listing products (pagination,
// filtering, sorting). Price filters and price sorting apply to the
// minimum price across a product's stock records.
type ListProductsParams struct {
	Limit        int
	Offset       int
	CategorySlug *string
	MinPrice     *float64
	MaxPrice     *float64
	PartnerID    *int64 // only products the partner has stock for
	Condition    *domain.Condition
	OnlyPublic   bool
	SortBy       string // "title", "created_at" or "price"
	SortOrder    string // "asc" or "desc"
	ProductIDs   []int64
}

// StockLocation is one stock record's effective location: the warehouse
// point when present, else the partner's default location.
type StockLocation struct {
	ProductID int64
	Location  domain.Point
}

// CatalogStorer defines the committed-state read operations.
type CatalogStorer interface {
	ListProducts(ctx context.Context, params ListProductsParams) ([]domain.Product, int, error)
	GetProductByID(ctx context.Context, id int64) (*domain.Product, error)
	GetAggregate(ctx context.Context, productID int64) (*domain.Aggregate, error)
	// OwnsProduct reports whether the partner holds a stock record for the product.
	OwnsProduct(ctx context.Context, partnerID, productID int64) (bool, error)
}

// LocationStorer feeds the proximity resolver. Rows are limited to public,
// in-stock records that have a resolvable effective location.
type LocationStorer interface {
	ListStockLocations(ctx context.Context) ([]StockLocation, error)
}

// PartnerStorer resolves tenant identities.
type PartnerStorer interface {
	GetPartnerByID(ctx context.Context, id int64) (*domain.Partner, error)
}

// SyncStorer runs a synchronization unit of work inside one transaction.
// fn's changes are committed only if it returns nil.
type SyncStorer interface {
	WithTx(ctx context.Context, fn func(tx SyncTx) error) error
}

// SyncTx is the transactional surface of the synchronization engine.
type SyncTx interface {
	ProductByID(ctx context.Context, id int64) (*domain.Product, error)
	ProductByUPC(ctx context.Context, upc string) (*domain.Product, error)
	CreateProduct(ctx context.Context, p *domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, p *domain.Product) error
	DeleteProduct(ctx context.Context, id int64) error

	ProductClassBySlug(ctx context.Context, slug string) (*domain.ProductClass, error)

	StockRecordFor(ctx context.Context, productID, partnerID int64) (*domain.StockRecord, error)
	CreateStockRecord(ctx context.Context, sr *domain.StockRecord) (*domain.StockRecord, error)
	UpdateStockRecord(ctx context.Context, sr *domain.StockRecord) error

	WarehouseByID(ctx context.Context, id int64) (*domain.Warehouse, error)

	AttributesForClass(ctx context.Context, productClassID int64) ([]domain.ProductAttribute, error)
	AttributeValues(ctx context.Context, productID int64) ([]domain.AttributeValue, error)
	UpsertAttributeValue(ctx context.Context, v *domain.AttributeValue) error
	DeleteAttributeValue(ctx context.Context, productID, attributeID int64) error

	Images(ctx context.Context, productID int64) ([]domain.ProductImage, error)
	CreateImage(ctx context.Context, img *domain.ProductImage) (*domain.ProductImage, error)
	UpdateImage(ctx context.Context, img *domain.ProductImage) error
	DeleteImage(ctx context.Context, id int64) error

	AddProductCategories(ctx context.Context, productID int64, categoryIDs []int64) error
	ReplaceProductCategories(ctx context.Context, productID int64, categoryIDs []int64) error
}
