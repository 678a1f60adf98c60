package domain

import (
	"time"
)

// Condition describes the physical state a partner declares for a product.
type Condition string

const (
	ConditionNew             Condition = "new"
	ConditionUsed            Condition = "used"
	ConditionSlightlyDamaged Condition = "slightly_damaged"
	ConditionDamaged         Condition = "damaged"
)

// Valid reports whether c is one of the known condition values.
func (c Condition) Valid() bool {
	switch c {
	case ConditionNew, ConditionUsed, ConditionSlightlyDamaged, ConditionDamaged:
		return true
	}
	return false
}

// AttributeType is the declared type of a product-class attribute.
type AttributeType string

const (
	AttributeText        AttributeType = "text"
	AttributeInteger     AttributeType = "integer"
	AttributeFloat       AttributeType = "float"
	AttributeBoolean     AttributeType = "boolean"
	AttributeOption      AttributeType = "option"
	AttributeMultiOption AttributeType = "multi_option"
)

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// ProductClass defines which attributes are legal for its products.
type ProductClass struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// ProductAttribute is an attribute definition owned by a product class.
// Options is only populated for option/multi_option attributes.
type ProductAttribute struct {
	ID             int64         `json:"id"`
	ProductClassID int64         `json:"product_class_id"`
	Code           string        `json:"code"`
	Name           string        `json:"name"`
	Type           AttributeType `json:"type"`
	Options        []string      `json:"options,omitempty"`
}

// Product is a shared catalog entry. It is not owned by any single partner;
// per-partner availability lives in StockRecord.
type Product struct {
	ID             int64     `json:"id"`
	UPC            *string   `json:"upc,omitempty"` // unique across the catalog when present
	Title          string    `json:"title"`
	Slug           string    `json:"slug"`
	Description    *string   `json:"description,omitempty"`
	ProductClassID int64     `json:"product_class_id"`
	Condition      Condition `json:"condition"`
	IsPublic       bool      `json:"is_public"`
	CreatedAt      time.Time `json:"created_at"`
}

// AttributeValue is the typed value of one attribute for one product,
// stored in its canonical string form. Unique per (product, attribute).
type AttributeValue struct {
	ProductID   int64  `json:"product_id"`
	AttributeID int64  `json:"attribute_id"`
	Code        string `json:"code"`
	Value       string `json:"value"`
}

// ProductImage is an ordered image owned by a product.
type ProductImage struct {
	ID           int64  `json:"id"`
	ProductID    int64  `json:"product_id"`
	FileRef      string `json:"file_ref"`
	Caption      string `json:"caption"`
	DisplayOrder int    `json:"display_order"`
}

// Category is an independent taxonomy node; products hold a many-to-many
// association with categories.
type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// VerificationStatus is a partner's review state.
type VerificationStatus string

const (
	PartnerPending  VerificationStatus = "pending"
	PartnerVerified VerificationStatus = "verified"
	PartnerRejected VerificationStatus = "rejected"
)

// Partner is a tenant: an independent seller owning stock records and
// warehouses. DefaultLocation is the fallback point for stock whose
// warehouse has no coordinates.
type Partner struct {
	ID                 int64              `json:"id"`
	Name               string             `json:"name"`
	VerificationStatus VerificationStatus `json:"verification_status"`
	DefaultLocation    *Point             `json:"default_location,omitempty"`
}

// IsVerified reports whether the partner passed review.
func (p Partner) IsVerified() bool {
	return p.VerificationStatus == PartnerVerified
}

// Warehouse is a partner-owned physical location.
type Warehouse struct {
	ID        int64  `json:"id"`
	PartnerID int64  `json:"partner_id"`
	Name      string `json:"name"`
	City      string `json:"city"`
	Location  *Point `json:"location,omitempty"`
	IsActive  bool   `json:"is_active"`
}

// StockRecord is one partner's availability of one product. At most one
// record exists per (product, partner) pair.
type StockRecord struct {
	ID                int64   `json:"id"`
	ProductID         int64   `json:"product_id"`
	PartnerID         int64   `json:"partner_id"`
	WarehouseID       *int64  `json:"warehouse_id,omitempty"`
	PartnerSKU        string  `json:"partner_sku"`
	PriceCurrency     string  `json:"price_currency"`
	Price             float64 `json:"price"`
	NumInStock        int     `json:"num_in_stock"`
	NumAllocated      int     `json:"num_allocated"`
	LowStockThreshold *int    `json:"low_stock_threshold,omitempty"`
}

// StockInfo pairs a stock record with its owning partner and, when set,
// its warehouse. Used by the read paths that need effective locations.
type StockInfo struct {
	Record    StockRecord `json:"record"`
	Partner   Partner     `json:"partner"`
	Warehouse *Warehouse  `json:"warehouse,omitempty"`
}

// EffectiveLocation is the warehouse point when present, else the
// partner's default location, else nil.
func (s StockInfo) EffectiveLocation() *Point {
	if s.Warehouse != nil && s.Warehouse.Location != nil {
		return s.Warehouse.Location
	}
	return s.Partner.DefaultLocation
}

// Aggregate is a product together with the child collections the write
// path reconciles and the read paths flatten.
type Aggregate struct {
	Product    Product        `json:"product"`
	Class      ProductClass   `json:"class"`
	Stock      []StockInfo    `json:"stock"`
	Categories []Category     `json:"categories"`
	Images     []ProductImage `json:"images"`
}
