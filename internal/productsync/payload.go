package productsync

import (
	"fmt"

	"marketplace-catalog-service/internal/domain"
)

// StockPayload is a field-level patch for a partner's stock record. Nil
// fields leave the current value untouched.
type StockPayload struct {
	WarehouseID       *int64
	ClearWarehouse    bool // detach the warehouse instead of changing it
	PartnerSKU        *string
	Price             *float64
	NumInStock        *int
	NumAllocated      *int
	LowStockThreshold *int
}

// AttributePayload is one attribute entry as supplied by the caller.
// Value carries the JSON-decoded raw value.
type AttributePayload struct {
	Code  string
	Value interface{}
}

// ImagePayload is one image entry. An entry with an ID updates the
// matching image (replacing the file only when FileRef is set); an entry
// without an ID creates a new image. Ordering comes from DisplayOrder,
// never from list position.
type ImagePayload struct {
	ID           *int64
	FileRef      *string
	Caption      string
	DisplayOrder int
}

// Payload is a partner-supplied candidate product. Child collections are
// pointers to slices because their presence, not their emptiness, decides
// whether they are reconciled: a nil slice means "leave alone", an empty
// one means "remove all".
type Payload struct {
	// UPC: an empty string counts as absent on create and clears the
	// stored value on update.
	UPC              *string
	Title            *string
	Description      *string
	ProductClassSlug string
	Condition        *domain.Condition
	IsPublic         *bool

	Stock      *StockPayload
	Attributes *[]AttributePayload
	Categories *[]int64
	Images     *[]ImagePayload
}

// AttributeResult reports the outcome of one attribute entry. Err is nil
// when the entry was applied.
type AttributeResult struct {
	Code string `json:"code"`
	Err  error  `json:"-"`
}

// Applied reports whether the entry made it into the aggregate.
func (r AttributeResult) Applied() bool { return r.Err == nil }

// Result is the structured partial-success report of one synchronize
// call: the product, per-attribute outcomes and non-fatal warnings.
type Result struct {
	Product    *domain.Product
	Attributes []AttributeResult
	Warnings   []string
}

func (r *Result) warnf(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}
